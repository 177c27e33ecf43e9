package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/suriaral/core"
	"github.com/trezcool/suriaral/core/access"
	"github.com/trezcool/suriaral/core/accesscode"
	"github.com/trezcool/suriaral/core/faculty"
	"github.com/trezcool/suriaral/core/identity"
	"github.com/trezcool/suriaral/core/profile"
	"github.com/trezcool/suriaral/storage/kv"
)

// NewConfig returns the default configuration in test mode.
func NewConfig() *core.Config {
	conf := core.NewConfig()
	conf.TestMode = true
	conf.Access.RoleResolveTimeout = time.Second
	conf.RateLimit.Enabled = false
	conf.AMQP.Enabled = false
	return conf
}

// NewValidator returns a validator with every custom tag registered.
func NewValidator() *validator.Validate {
	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	access.InitValidators(validate, translator)
	identity.InitValidators(validate, translator)
	accesscode.InitValidators(validate, translator)
	return validate
}

// Entry is a message recorded by Logger.
type Entry struct {
	Level string
	Msg   string
	Args  []interface{}
}

// Logger records what it is asked to log.
type Logger struct {
	mu      sync.Mutex
	entries []Entry
}

var _ core.Logger = (*Logger)(nil)

func NewLogger() *Logger { return new(Logger) }

func (l *Logger) log(level, msg string, args []interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, Entry{Level: level, Msg: msg, Args: args})
}

func (l *Logger) Debug(msg string, args ...interface{}) { l.log("debug", msg, args) }
func (l *Logger) Info(msg string, args ...interface{})  { l.log("info", msg, args) }
func (l *Logger) Warn(msg string, args ...interface{})  { l.log("warn", msg, args) }
func (l *Logger) Error(msg string, args ...interface{}) { l.log("error", msg, args) }
func (l *Logger) Fatal(msg string, args ...interface{}) { l.log("fatal", msg, args) }

func (l *Logger) Entries(level string) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	res := make([]Entry, 0)
	for _, e := range l.entries {
		if e.Level == level {
			res = append(res, e)
		}
	}
	return res
}

// Logged tells whether a message containing substr was logged at level.
func (l *Logger) Logged(level, substr string) bool {
	for _, e := range l.Entries(level) {
		if strings.Contains(e.Msg, substr) {
			return true
		}
	}
	return false
}

// Publisher records published events.
type Publisher struct {
	mu     sync.Mutex
	events []core.Event
	Err    error
}

var _ core.EventPublisher = (*Publisher)(nil)

func (p *Publisher) Publish(_ context.Context, evt core.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.events = append(p.events, evt)
	return nil
}

// Types returns the types of the published events, in order.
func (p *Publisher) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	res := make([]string, 0, len(p.events))
	for _, evt := range p.events {
		res = append(res, evt.Type)
	}
	return res
}

func (p *Publisher) Events() []core.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	res := make([]core.Event, len(p.events))
	copy(res, p.events)
	return res
}

// FaultyStore wraps a kv.Store and fails the operations it is told to.
type FaultyStore struct {
	kv.Store
	mu     sync.Mutex
	faults map[string]string // op -> path prefix
}

func NewFaultyStore(store kv.Store) *FaultyStore {
	return &FaultyStore{Store: store, faults: make(map[string]string)}
}

// Fail makes op (get, set, update, patch, increment, remove, list, subscribe) fail on every path under prefix
// ("" = all paths).
func (s *FaultyStore) Fail(op, prefix string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = prefix
}

func (s *FaultyStore) Heal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = make(map[string]string)
}

func (s *FaultyStore) fault(op, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix, ok := s.faults[op]
	if !ok {
		return nil
	}
	if prefix == "" || path == prefix || kv.UnderPrefix(path, prefix) {
		return kv.NewStoreError(op, path, fmt.Errorf("permission denied"))
	}
	return nil
}

func (s *FaultyStore) Get(ctx context.Context, path string) ([]byte, error) {
	if err := s.fault("get", path); err != nil {
		return nil, err
	}
	return s.Store.Get(ctx, path)
}

func (s *FaultyStore) Set(ctx context.Context, path string, doc interface{}) error {
	if err := s.fault("set", path); err != nil {
		return err
	}
	return s.Store.Set(ctx, path, doc)
}

func (s *FaultyStore) Update(ctx context.Context, path string, fields map[string]interface{}) error {
	if err := s.fault("update", path); err != nil {
		return err
	}
	return s.Store.Update(ctx, path, fields)
}

func (s *FaultyStore) Patch(ctx context.Context, path string, fields map[string]interface{}) error {
	if err := s.fault("patch", path); err != nil {
		return err
	}
	return s.Store.Patch(ctx, path, fields)
}

func (s *FaultyStore) Increment(ctx context.Context, path, field string, delta int64) (int64, error) {
	if err := s.fault("increment", path); err != nil {
		return 0, err
	}
	return s.Store.Increment(ctx, path, field, delta)
}

func (s *FaultyStore) Remove(ctx context.Context, path string) error {
	if err := s.fault("remove", path); err != nil {
		return err
	}
	return s.Store.Remove(ctx, path)
}

func (s *FaultyStore) List(ctx context.Context, prefix string) ([]kv.Document, error) {
	if err := s.fault("list", prefix); err != nil {
		return nil, err
	}
	return s.Store.List(ctx, prefix)
}

func (s *FaultyStore) Subscribe(ctx context.Context, path string, fn func(kv.Snapshot)) (kv.Unsubscribe, error) {
	if err := s.fault("subscribe", path); err != nil {
		return nil, err
	}
	return s.Store.Subscribe(ctx, path, fn)
}

func CreateProfile(
	t *testing.T,
	store *profile.Store,
	uid, email string,
	role access.Role,
	schoolID string,
	createdAt ...time.Time,
) profile.Profile {
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	p := profile.Profile{
		UID:         uid,
		Email:       email,
		DisplayName: strings.Split(email, "@")[0],
		Role:        role,
		CreatedAt:   tstamp,
	}
	if schoolID != "" {
		p.SchoolID = null.StringFrom(schoolID)
	}
	if err := store.Set(context.Background(), p); err != nil {
		t.Fatalf("createProfile() failed: %v", err)
	}
	return p
}

func CreateFaculty(t *testing.T, repo *faculty.Repository, rec faculty.Record) faculty.Record {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec, err := repo.Create(context.Background(), rec)
	if err != nil {
		t.Fatalf("createFaculty() failed: %v", err)
	}
	return rec
}

func CreateAccessCode(
	t *testing.T,
	gate *accesscode.Gate,
	code string,
	role access.Role,
	schoolID string,
	expiresAt ...time.Time,
) accesscode.AccessCode {
	nc := accesscode.NewAccessCode{Code: code, Role: role, Label: "test code"}
	if schoolID != "" {
		nc.SchoolID = null.StringFrom(schoolID)
	}
	if len(expiresAt) > 0 {
		nc.ExpiresAt = null.TimeFrom(expiresAt[0].UTC())
	}
	ac, err := gate.Create(context.Background(), nc, "tester")
	if err != nil {
		t.Fatalf("createAccessCode() failed: %v", err)
	}
	return ac
}

// Eventually polls cond until it holds or a second elapsed.
func Eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met: %s", msg)
}

package authz

import (
	"context"
	"sync"
	"time"

	"github.com/trezcool/suriaral/core"
	"github.com/trezcool/suriaral/core/access"
	"github.com/trezcool/suriaral/core/identity"
)

type sessionEntry struct {
	watcher  *Watcher
	err      error
	done     chan struct{}
	lastUsed time.Time // guarded by Sessions.mu
}

func (e *sessionEntry) close() {
	<-e.done
	if e.watcher != nil {
		e.watcher.Close()
	}
}

// Sessions shares one Watcher per signed-in identity across requests.
type Sessions struct {
	ctx     context.Context
	cancel  context.CancelFunc
	store   ProfileSubscriber
	timeout time.Duration
	logger  core.Logger

	mu      sync.Mutex
	entries map[string]*sessionEntry

	NowFunc func() time.Time // mockable
}

func NewSessions(store ProfileSubscriber, timeout time.Duration, logger core.Logger) *Sessions {
	ctx, cancel := context.WithCancel(context.Background())
	return &Sessions{
		ctx:     ctx,
		cancel:  cancel,
		store:   store,
		timeout: timeout,
		logger:  logger,
		entries: make(map[string]*sessionEntry),
		NowFunc: time.Now,
	}
}

// Get returns the live session of ident, subscribing to its profile on first use.
func (s *Sessions) Get(ctx context.Context, ident identity.Identity) (CurrentSession, error) {
	w, err := s.watcher(ctx, ident)
	if err != nil {
		return CurrentSession{Identity: ident, Loading: true}, err
	}
	sess := w.Session()
	sess.Identity = ident
	return sess, nil
}

// ResolveRole returns the role of uid, nil when unknown.
func (s *Sessions) ResolveRole(ctx context.Context, uid string) (*access.Role, error) {
	sess, err := s.Get(ctx, identity.Identity{UID: uid})
	if err != nil {
		return nil, err
	}
	return sess.Role(), nil
}

func (s *Sessions) watcher(ctx context.Context, ident identity.Identity) (*Watcher, error) {
	s.mu.Lock()
	if err := s.ctx.Err(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	now := s.NowFunc()
	e, ok := s.entries[ident.UID]
	if !ok {
		e = &sessionEntry{done: make(chan struct{}), lastUsed: now}
		s.entries[ident.UID] = e
		s.mu.Unlock()

		e.watcher, e.err = Watch(s.ctx, s.store, ident, s.timeout, s.logger)
		close(e.done)
		if e.err != nil {
			s.mu.Lock()
			if s.entries[ident.UID] == e {
				delete(s.entries, ident.UID)
			}
			s.mu.Unlock()
		}
		return e.watcher, e.err
	}
	e.lastUsed = now
	s.mu.Unlock()

	select {
	case <-e.done:
		return e.watcher, e.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Drop stops watching uid (sign-out, account deletion).
func (s *Sessions) Drop(uid string) {
	s.mu.Lock()
	e, ok := s.entries[uid]
	delete(s.entries, uid)
	s.mu.Unlock()
	if !ok {
		return
	}
	select {
	case <-e.done:
		e.close()
	default:
		go e.close() // still resolving
	}
}

// EvictIdle stops watching the identities not seen for longer than maxIdle and returns how many went.
// Sessions still resolving are kept. An evicted identity is watched again on its next request.
func (s *Sessions) EvictIdle(maxIdle time.Duration) int {
	now := s.NowFunc()
	var idle []*sessionEntry

	s.mu.Lock()
	for uid, e := range s.entries {
		if now.Sub(e.lastUsed) <= maxIdle {
			continue
		}
		select {
		case <-e.done:
			idle = append(idle, e)
			delete(s.entries, uid)
		default:
		}
	}
	s.mu.Unlock()

	for _, e := range idle {
		e.close()
	}
	return len(idle)
}

// Len returns the number of watched identities.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Sessions) Close() {
	s.cancel()
	s.mu.Lock()
	entries := s.entries
	s.entries = make(map[string]*sessionEntry)
	s.mu.Unlock()
	for _, e := range entries {
		e.close()
	}
}

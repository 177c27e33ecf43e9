// Package pgstore keeps documents in a single JSONB table. A trigger notifies `document_changes`
// with the changed path; subscribers re-read the row on every notification.
package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/suriaral/core"
	"github.com/trezcool/suriaral/storage/kv"
)

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// storeError wraps err as a *kv.StoreError. Corruption reports and a missing documents table
// mean the store can no longer be trusted and ask the API to shut down.
func storeError(op, path string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && (pqErr.Code.Class() == "XX" || pqErr.Code == "42P01") {
		err = core.NewShutdownError(fmt.Sprintf("document store integrity: %s (%s)", pqErr.Message, pqErr.Code.Name()))
	}
	return kv.NewStoreError(op, path, err)
}

type (
	Store struct {
		db       *sqlx.DB
		listener *pq.Listener
		logger   core.Logger

		mu     sync.Mutex
		subs   map[string]map[int]*subscriber
		nextID int
		done   chan struct{}
	}

	subscriber struct {
		dirty chan struct{}
	}

	row struct {
		Path string `db:"path"`
		Data []byte `db:"data"`
	}
)

var _ kv.Store = (*Store)(nil) // interface compliance check

// New returns a Store on db. Subscriptions are served by a pq.Listener connected with dsn.
func New(db *sqlx.DB, dsn string, logger core.Logger) (*Store, error) {
	s := &Store{
		db:     db,
		logger: logger,
		subs:   make(map[string]map[int]*subscriber),
		done:   make(chan struct{}),
	}
	s.listener = pq.NewListener(dsn, time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.Warn("document listener event", err, map[string]interface{}{"event": ev})
		}
	})
	if err := s.listener.Listen(notifyChannel); err != nil {
		_ = s.listener.Close()
		return nil, errors.Wrap(err, "listening to document changes")
	}
	go s.dispatch()
	return s, nil
}

// Close stops the listener; the *sqlx.DB is left open.
func (s *Store) Close() error {
	close(s.done)
	return s.listener.Close()
}

func (s *Store) Get(ctx context.Context, path string) ([]byte, error) {
	var data []byte
	err := s.db.GetContext(ctx, &data, `SELECT data FROM documents WHERE path = $1`, path)
	if err == sql.ErrNoRows {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, storeError("get", path, err)
	}
	return data, nil
}

func (s *Store) Set(ctx context.Context, path string, doc interface{}) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "encoding document")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (path, data) VALUES ($1, $2)
		ON CONFLICT (path) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`,
		path, string(data),
	)
	return storeError("set", path, err)
}

func (s *Store) Update(ctx context.Context, path string, fields map[string]interface{}) error {
	data, err := json.Marshal(fields)
	if err != nil {
		return errors.Wrap(err, "encoding fields")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (path, data) VALUES ($1, $2)
		ON CONFLICT (path) DO UPDATE SET data = documents.data || EXCLUDED.data, updated_at = now()`,
		path, string(data),
	)
	return storeError("update", path, err)
}

func (s *Store) Patch(ctx context.Context, path string, fields map[string]interface{}) error {
	data, err := json.Marshal(fields)
	if err != nil {
		return errors.Wrap(err, "encoding fields")
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET data = data || $2::jsonb, updated_at = now() WHERE path = $1`,
		path, string(data),
	)
	if err != nil {
		return storeError("patch", path, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeError("patch", path, err)
	}
	if n == 0 {
		return kv.ErrNotFound
	}
	return nil
}

func (s *Store) Increment(ctx context.Context, path, field string, delta int64) (int64, error) {
	var val int64
	err := s.db.GetContext(ctx, &val, `
		UPDATE documents
		SET data = jsonb_set(data, ARRAY[$2::text], to_jsonb(COALESCE((data->>$2::text)::bigint, 0) + $3::bigint)),
		    updated_at = now()
		WHERE path = $1
		RETURNING (data->>$2::text)::bigint`,
		path, field, delta,
	)
	if err == sql.ErrNoRows {
		return 0, kv.ErrNotFound
	}
	if err != nil {
		return 0, storeError("increment", path, err)
	}
	return val, nil
}

func (s *Store) Remove(ctx context.Context, path string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE path = $1`, path)
	return storeError("remove", path, err)
}

func (s *Store) List(ctx context.Context, prefix string) ([]kv.Document, error) {
	rows := make([]row, 0)
	pattern := likeEscaper.Replace(strings.Trim(prefix, "/")) + "/%"
	if strings.Trim(prefix, "/") == "" {
		pattern = "%"
	}
	if err := s.db.SelectContext(ctx, &rows, `SELECT path, data FROM documents WHERE path LIKE $1 ORDER BY path`, pattern); err != nil {
		return nil, storeError("list", prefix, err)
	}

	docs := make([]kv.Document, 0, len(rows))
	for _, r := range rows {
		docs = append(docs, kv.Document{Path: r.Path, Data: r.Data})
	}
	return docs, nil
}

func (s *Store) Subscribe(ctx context.Context, path string, fn func(kv.Snapshot)) (kv.Unsubscribe, error) {
	sub := &subscriber{dirty: make(chan struct{}, 1)}
	sub.dirty <- struct{}{} // current state

	s.mu.Lock()
	s.nextID++
	id := s.nextID
	if s.subs[path] == nil {
		s.subs[path] = make(map[int]*subscriber)
	}
	s.subs[path][id] = sub
	s.mu.Unlock()

	subCtx, cancel := context.WithCancel(context.Background())
	stop := context.AfterFunc(ctx, cancel)

	go func() {
		for {
			select {
			case <-subCtx.Done():
				return
			case <-sub.dirty:
				snap := s.snapshot(subCtx, path)
				if subCtx.Err() != nil {
					return
				}
				fn(snap)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			stop()
			cancel()
			s.mu.Lock()
			delete(s.subs[path], id)
			if len(s.subs[path]) == 0 {
				delete(s.subs, path)
			}
			s.mu.Unlock()
		})
	}, nil
}

// dispatch marks the subscribers of every notified path as dirty.
// A nil notification means the connection was re-established: every subscriber re-reads.
func (s *Store) dispatch() {
	for {
		select {
		case <-s.done:
			return
		case n := <-s.listener.Notify:
			s.mu.Lock()
			if n == nil {
				for _, subs := range s.subs {
					markDirty(subs)
				}
			} else {
				markDirty(s.subs[n.Extra])
			}
			s.mu.Unlock()
		case <-time.After(90 * time.Second):
			go func() { _ = s.listener.Ping() }()
		}
	}
}

func markDirty(subs map[int]*subscriber) {
	for _, sub := range subs {
		select {
		case sub.dirty <- struct{}{}:
		default: // a re-read is already pending
		}
	}
}

func (s *Store) snapshot(ctx context.Context, path string) kv.Snapshot {
	data, err := s.Get(ctx, path)
	switch {
	case err == nil:
		return kv.Snapshot{Path: path, Data: data, Exists: true}
	case errors.Is(err, kv.ErrNotFound):
		return kv.Snapshot{Path: path}
	default:
		return kv.Snapshot{Path: path, Err: err}
	}
}

// Package memstore is an in-process kv.Store. Subscribers are served by their own goroutine
// so a slow callback never blocks writers, and each one sees the writes of a path in order.
package memstore

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/trezcool/suriaral/storage/kv"
)

type (
	Store struct {
		sync.RWMutex
		docs   map[string][]byte
		subs   map[string]map[int]*subscriber
		nextID int
	}

	subscriber struct {
		mu    sync.Mutex
		cond  *sync.Cond
		queue []kv.Snapshot
		fn    func(kv.Snapshot)
		done  bool
	}
)

var _ kv.Store = (*Store)(nil) // interface compliance check

func New() *Store {
	return &Store{
		docs: make(map[string][]byte),
		subs: make(map[string]map[int]*subscriber),
	}
}

func (s *Store) Get(_ context.Context, path string) ([]byte, error) {
	s.RLock()
	defer s.RUnlock()

	doc, ok := s.docs[path]
	if !ok {
		return nil, kv.ErrNotFound
	}
	return copyBytes(doc), nil
}

func (s *Store) Set(_ context.Context, path string, doc interface{}) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "encoding document")
	}

	s.Lock()
	defer s.Unlock()

	s.write(path, data)
	return nil
}

func (s *Store) Update(_ context.Context, path string, fields map[string]interface{}) error {
	s.Lock()
	defer s.Unlock()

	data, err := kv.Merge(s.docs[path], fields)
	if err != nil {
		return err
	}
	s.write(path, data)
	return nil
}

func (s *Store) Patch(_ context.Context, path string, fields map[string]interface{}) error {
	s.Lock()
	defer s.Unlock()

	doc, ok := s.docs[path]
	if !ok {
		return kv.ErrNotFound
	}
	data, err := kv.Merge(doc, fields)
	if err != nil {
		return err
	}
	s.write(path, data)
	return nil
}

func (s *Store) Increment(_ context.Context, path, field string, delta int64) (int64, error) {
	s.Lock()
	defer s.Unlock()

	doc, ok := s.docs[path]
	if !ok {
		return 0, kv.ErrNotFound
	}
	data, val, err := kv.AddInt(doc, field, delta)
	if err != nil {
		return 0, err
	}
	s.write(path, data)
	return val, nil
}

func (s *Store) Remove(_ context.Context, path string) error {
	s.Lock()
	defer s.Unlock()

	if _, ok := s.docs[path]; !ok {
		return nil
	}
	delete(s.docs, path)
	s.notify(kv.Snapshot{Path: path})
	return nil
}

func (s *Store) List(_ context.Context, prefix string) ([]kv.Document, error) {
	s.RLock()
	defer s.RUnlock()

	docs := make([]kv.Document, 0)
	for path, data := range s.docs {
		if kv.UnderPrefix(path, prefix) {
			docs = append(docs, kv.Document{Path: path, Data: copyBytes(data)})
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Path < docs[j].Path })
	return docs, nil
}

func (s *Store) Subscribe(ctx context.Context, path string, fn func(kv.Snapshot)) (kv.Unsubscribe, error) {
	sub := &subscriber{fn: fn}
	sub.cond = sync.NewCond(&sub.mu)

	s.Lock()
	s.nextID++
	id := s.nextID
	if s.subs[path] == nil {
		s.subs[path] = make(map[int]*subscriber)
	}
	s.subs[path][id] = sub
	// the current state is queued under the same lock as writes: nothing can slip in between
	if doc, ok := s.docs[path]; ok {
		sub.push(kv.Snapshot{Path: path, Data: copyBytes(doc), Exists: true})
	} else {
		sub.push(kv.Snapshot{Path: path})
	}
	s.Unlock()

	go sub.run()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			s.Lock()
			delete(s.subs[path], id)
			if len(s.subs[path]) == 0 {
				delete(s.subs, path)
			}
			s.Unlock()
			sub.stop()
		})
	}
	stop := context.AfterFunc(ctx, unsubscribe)
	return func() {
		stop()
		unsubscribe()
	}, nil
}

// Subscribers returns the number of live subscriptions on path.
func (s *Store) Subscribers(path string) int {
	s.RLock()
	defer s.RUnlock()
	return len(s.subs[path])
}

// write must be called with the lock held.
func (s *Store) write(path string, data []byte) {
	s.docs[path] = data
	s.notify(kv.Snapshot{Path: path, Data: copyBytes(data), Exists: true})
}

// notify must be called with the lock held.
func (s *Store) notify(snap kv.Snapshot) {
	for _, sub := range s.subs[snap.Path] {
		sub.push(snap)
	}
}

func (sub *subscriber) push(snap kv.Snapshot) {
	sub.mu.Lock()
	sub.queue = append(sub.queue, snap)
	sub.mu.Unlock()
	sub.cond.Signal()
}

func (sub *subscriber) stop() {
	sub.mu.Lock()
	sub.done = true
	sub.queue = nil
	sub.mu.Unlock()
	sub.cond.Signal()
}

func (sub *subscriber) run() {
	for {
		sub.mu.Lock()
		for len(sub.queue) == 0 && !sub.done {
			sub.cond.Wait()
		}
		if sub.done {
			sub.mu.Unlock()
			return
		}
		snap := sub.queue[0]
		sub.queue = sub.queue[1:]
		sub.mu.Unlock()

		sub.fn(snap)
	}
}

func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	c := make([]byte, len(b))
	copy(c, b)
	return c
}

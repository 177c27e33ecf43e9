// Package redisstore keeps every document as a JSON string under `<prefix><path>`.
// Each write publishes a notification on `<prefix>changes:<path>` inside the same MULTI block,
// so notifications follow the order in which Redis applied the writes.
package redisstore

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/trezcool/suriaral/core"
	"github.com/trezcool/suriaral/storage/kv"
)

const maxTxRetries = 50

type Store struct {
	rdb    *redis.Client
	prefix string
}

var _ kv.Store = (*Store)(nil) // interface compliance check

func New(rdb *redis.Client, prefix string) *Store {
	return &Store{rdb: rdb, prefix: prefix}
}

// Open connects to the configured Redis server and pings it.
func Open(ctx context.Context, conf *core.Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     conf.Redis.Addr,
		Password: conf.Redis.Password,
		DB:       conf.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrap(err, "pinging redis")
	}
	return rdb, nil
}

func (s *Store) key(path string) string     { return s.prefix + path }
func (s *Store) channel(path string) string { return s.prefix + "changes:" + path }

func (s *Store) Get(ctx context.Context, path string) ([]byte, error) {
	data, err := s.rdb.Get(ctx, s.key(path)).Bytes()
	if err == redis.Nil {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, kv.NewStoreError("get", path, err)
	}
	return data, nil
}

func (s *Store) Set(ctx context.Context, path string, doc interface{}) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "encoding document")
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(path), data, 0)
		pipe.Publish(ctx, s.channel(path), "set")
		return nil
	})
	return kv.NewStoreError("set", path, err)
}

func (s *Store) Update(ctx context.Context, path string, fields map[string]interface{}) error {
	err := s.readModifyWrite(ctx, path, func(curr []byte) ([]byte, error) {
		return kv.Merge(curr, fields)
	})
	return kv.NewStoreError("update", path, err)
}

func (s *Store) Patch(ctx context.Context, path string, fields map[string]interface{}) error {
	err := s.readModifyWrite(ctx, path, func(curr []byte) ([]byte, error) {
		if curr == nil {
			return nil, kv.ErrNotFound
		}
		return kv.Merge(curr, fields)
	})
	return kv.NewStoreError("patch", path, err)
}

func (s *Store) Increment(ctx context.Context, path, field string, delta int64) (int64, error) {
	var val int64
	err := s.readModifyWrite(ctx, path, func(curr []byte) ([]byte, error) {
		if curr == nil {
			return nil, kv.ErrNotFound
		}
		data, v, err := kv.AddInt(curr, field, delta)
		val = v
		return data, err
	})
	if err != nil {
		return 0, kv.NewStoreError("increment", path, err)
	}
	return val, nil
}

// readModifyWrite applies modify under WATCH; concurrent writers make the transaction fail and retry.
func (s *Store) readModifyWrite(ctx context.Context, path string, modify func(curr []byte) ([]byte, error)) error {
	key := s.key(path)
	txf := func(tx *redis.Tx) error {
		curr, err := tx.Get(ctx, key).Bytes()
		if err != nil && err != redis.Nil {
			return err
		}
		data, err := modify(curr)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.Publish(ctx, s.channel(path), "set")
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.rdb.Watch(ctx, txf, key)
		if err != redis.TxFailedErr {
			return err
		}
	}
	return errors.Errorf("too many concurrent writes on %q", path)
}

func (s *Store) Remove(ctx context.Context, path string) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key(path))
		pipe.Publish(ctx, s.channel(path), "del")
		return nil
	})
	return kv.NewStoreError("remove", path, err)
}

func (s *Store) List(ctx context.Context, prefix string) ([]kv.Document, error) {
	pattern := s.key(strings.Trim(prefix, "/")) + "/*"
	if strings.Trim(prefix, "/") == "" {
		pattern = s.prefix + "*"
	}

	keys := make([]string, 0)
	iter := s.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if k := iter.Val(); !strings.HasPrefix(k, s.prefix+"changes:") {
			keys = append(keys, k)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, kv.NewStoreError("list", prefix, err)
	}
	sort.Strings(keys)

	docs := make([]kv.Document, 0, len(keys))
	if len(keys) == 0 {
		return docs, nil
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, kv.NewStoreError("list", prefix, err)
	}
	for i, v := range vals {
		str, ok := v.(string)
		if !ok { // removed in between
			continue
		}
		docs = append(docs, kv.Document{Path: strings.TrimPrefix(keys[i], s.prefix), Data: []byte(str)})
	}
	return docs, nil
}

// Subscribe re-reads the document on every notification, so a subscriber never observes
// an older state after a newer one (intermediate states may be coalesced).
func (s *Store) Subscribe(ctx context.Context, path string, fn func(kv.Snapshot)) (kv.Unsubscribe, error) {
	ps := s.rdb.Subscribe(ctx, s.channel(path))
	if _, err := ps.Receive(ctx); err != nil { // wait for the subscription to be active
		_ = ps.Close()
		return nil, kv.NewStoreError("subscribe", path, err)
	}

	subCtx, cancel := context.WithCancel(context.Background())
	stop := context.AfterFunc(ctx, cancel)
	msgs := ps.Channel()

	go func() {
		fn(s.snapshot(subCtx, path)) // current state
		for {
			select {
			case <-subCtx.Done():
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
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
			_ = ps.Close()
		})
	}, nil
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

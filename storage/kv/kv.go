// Package kv defines the hierarchical key-path document store every record lives in
// (`users/{uid}/profile`, `teachers/{id}`, `access_codes/{id}`...).
package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

var ErrNotFound = errors.New("document not found")

type (
	// Snapshot is the state of a single path as seen by a subscriber.
	// Exists is false when the document is absent or was removed.
	// Err is set (and Data empty) when the store failed to observe the path.
	Snapshot struct {
		Path   string
		Data   []byte
		Exists bool
		Err    error
	}

	// Document is a decoded child of a List call.
	Document struct {
		Path string
		Data []byte
	}

	// Unsubscribe stops a subscription; it is safe to call more than once.
	Unsubscribe func()

	Store interface {
		// Get returns the JSON document at path or ErrNotFound.
		Get(ctx context.Context, path string) ([]byte, error)
		// Set overwrites the document at path.
		Set(ctx context.Context, path string, doc interface{}) error
		// Update merges fields into the top level of the document at path, creating it when absent.
		// A nil value stores a JSON null.
		Update(ctx context.Context, path string, fields map[string]interface{}) error
		// Patch merges fields like Update but only into an existing document: it returns
		// ErrNotFound, and writes nothing, when path is absent.
		Patch(ctx context.Context, path string, fields map[string]interface{}) error
		// Increment atomically adds delta to the integer field of the document at path
		// and returns the new value. The document must exist.
		Increment(ctx context.Context, path, field string, delta int64) (int64, error)
		// Remove deletes the document at path. Removing an absent document is not an error.
		Remove(ctx context.Context, path string) error
		// List returns every document stored under prefix (any depth), ordered by path.
		List(ctx context.Context, prefix string) ([]Document, error)
		// Subscribe calls fn with the current state of path, then on every change, in write order.
		Subscribe(ctx context.Context, path string, fn func(Snapshot)) (Unsubscribe, error)
	}
)

// StoreError is a transport or permission failure of the underlying store.
type StoreError struct {
	Op   string
	Path string
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("kv %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// NewStoreError wraps err as a *StoreError unless it is already one (or nil, or ErrNotFound).
func NewStoreError(op, path string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) {
		return err
	}
	var sErr *StoreError
	if errors.As(err, &sErr) {
		return err
	}
	return &StoreError{Op: op, Path: path, Err: err}
}

func IsStoreError(err error) bool {
	var sErr *StoreError
	return errors.As(err, &sErr)
}

// Join builds a key path from its segments.
func Join(segments ...string) string {
	cleaned := make([]string, 0, len(segments))
	for _, s := range segments {
		if s = strings.Trim(s, "/"); s != "" {
			cleaned = append(cleaned, s)
		}
	}
	return strings.Join(cleaned, "/")
}

// Base returns the last segment of path.
func Base(path string) string {
	path = strings.TrimRight(path, "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}

// UnderPrefix reports whether path is stored below prefix.
func UnderPrefix(path, prefix string) bool {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return true
	}
	return strings.HasPrefix(path, prefix+"/")
}

// Decode unmarshals a document fetched from the store into v.
func Decode(data []byte, v interface{}) error {
	return errors.Wrap(json.Unmarshal(data, v), "decoding document")
}

// Merge applies a shallow merge of fields onto the JSON object doc (nil doc = empty object).
func Merge(doc []byte, fields map[string]interface{}) ([]byte, error) {
	obj := make(map[string]json.RawMessage)
	if len(doc) > 0 {
		if err := json.Unmarshal(doc, &obj); err != nil {
			return nil, errors.Wrap(err, "decoding document")
		}
	}
	for k, v := range fields {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, errors.Wrapf(err, "encoding field %q", k)
		}
		obj[k] = raw
	}
	return json.Marshal(obj)
}

// AddInt adds delta to the integer field of the JSON object doc.
func AddInt(doc []byte, field string, delta int64) ([]byte, int64, error) {
	obj := make(map[string]json.RawMessage)
	if err := json.Unmarshal(doc, &obj); err != nil {
		return nil, 0, errors.Wrap(err, "decoding document")
	}
	var curr int64
	if raw, ok := obj[field]; ok && string(raw) != "null" {
		if err := json.Unmarshal(raw, &curr); err != nil {
			return nil, 0, errors.Wrapf(err, "field %q is not an integer", field)
		}
	}
	curr += delta
	raw, _ := json.Marshal(curr)
	obj[field] = raw
	out, err := json.Marshal(obj)
	return out, curr, err
}

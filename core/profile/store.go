// Package profile reads, writes and watches user profiles in the key-path store.
package profile

import (
	"context"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/suriaral/core"
	"github.com/trezcool/suriaral/core/access"
	"github.com/trezcool/suriaral/storage/kv"
)

const (
	collection = "users"
	docName    = "profile"
)

var ErrNotFound = errors.New("profile not found")

// Path is the key path of uid's profile.
func Path(uid string) string {
	return kv.Join(collection, uid, docName)
}

type Store struct {
	kv       kv.Store
	validate *validator.Validate
}

func NewStore(store kv.Store, validate *validator.Validate) *Store {
	return &Store{kv: store, validate: validate}
}

func (s *Store) Get(ctx context.Context, uid string) (Profile, error) {
	data, err := s.kv.Get(ctx, Path(uid))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, errors.Wrap(err, "getting profile")
	}
	var p Profile
	if err := kv.Decode(data, &p); err != nil {
		return Profile{}, err
	}
	if p.UID == "" {
		p.UID = uid
	}
	return p, nil
}

// Set overwrites the whole profile (creation).
func (s *Store) Set(ctx context.Context, p Profile) error {
	p.Email = strings.ToLower(strings.TrimSpace(p.Email))
	if err := s.validate.Struct(p); err != nil {
		return err
	}
	return errors.Wrap(s.kv.Set(ctx, Path(p.UID), p), "setting profile")
}

// Update merges fields into an existing profile; fields left nil are never overwritten.
func (s *Store) Update(ctx context.Context, uid string, fields Fields) error {
	if fields.Role != nil && !fields.Role.IsValid() {
		return core.NewFieldError("role", access.ErrInvalidRole.Error())
	}
	if fields.IsEmpty() {
		return nil
	}
	if err := s.kv.Patch(ctx, Path(uid), fields.toMap()); err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return ErrNotFound
		}
		return errors.Wrap(err, "updating profile")
	}
	return nil
}

// Remove deletes the profile; removing an absent profile is a no-op.
func (s *Store) Remove(ctx context.Context, uid string) error {
	return errors.Wrap(s.kv.Remove(ctx, Path(uid)), "removing profile")
}

// List returns every readable profile. Undecodable documents are skipped.
func (s *Store) List(ctx context.Context) ([]Profile, error) {
	docs, err := s.kv.List(ctx, collection)
	if err != nil {
		return nil, errors.Wrap(err, "listing profiles")
	}
	profiles := make([]Profile, 0, len(docs))
	for _, doc := range docs {
		if kv.Base(doc.Path) != docName {
			continue
		}
		var p Profile
		if err := kv.Decode(doc.Data, &p); err != nil {
			continue
		}
		profiles = append(profiles, p)
	}
	return profiles, nil
}

// Subscribe calls onChange with the current profile of uid right away, then on every change.
func (s *Store) Subscribe(ctx context.Context, uid string, onChange func(Snapshot)) (kv.Unsubscribe, error) {
	unsub, err := s.kv.Subscribe(ctx, Path(uid), func(snap kv.Snapshot) {
		onChange(toSnapshot(uid, snap))
	})
	return unsub, errors.Wrap(err, "subscribing to profile")
}

func toSnapshot(uid string, snap kv.Snapshot) Snapshot {
	res := Snapshot{UID: uid}
	switch {
	case snap.Err != nil:
		res.Err = snap.Err
	case snap.Exists:
		var p Profile
		if err := kv.Decode(snap.Data, &p); err != nil {
			res.Err = err
			break
		}
		if p.UID == "" {
			p.UID = uid
		}
		res.Profile = &p
	}
	return res
}

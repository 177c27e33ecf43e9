// Package faculty stores the employment records of teachers and admins.
package faculty

import (
	"context"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/suriaral/storage/kv"
)

const collection = "teachers"

var ErrNotFound = errors.New("faculty record not found")

// Path is the key path of record id.
func Path(id string) string {
	return kv.Join(collection, id)
}

type Repository struct {
	kv       kv.Store
	validate *validator.Validate
}

func NewRepository(store kv.Store, validate *validator.Validate) *Repository {
	return &Repository{kv: store, validate: validate}
}

func (repo *Repository) Get(ctx context.Context, id string) (Record, error) {
	data, err := repo.kv.Get(ctx, Path(id))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return Record{}, ErrNotFound
		}
		return Record{}, errors.Wrap(err, "getting faculty record")
	}
	var rec Record
	if err := kv.Decode(data, &rec); err != nil {
		return Record{}, err
	}
	rec.ID = id
	return rec, nil
}

// List returns all records (deleted ones included) ordered by creation date.
func (repo *Repository) List(ctx context.Context) ([]Record, error) {
	docs, err := repo.kv.List(ctx, collection)
	if err != nil {
		return nil, errors.Wrap(err, "listing faculty records")
	}
	recs := make([]Record, 0, len(docs))
	for _, doc := range docs {
		var rec Record
		if err := kv.Decode(doc.Data, &rec); err != nil {
			continue
		}
		rec.ID = kv.Base(doc.Path)
		recs = append(recs, rec)
	}
	SortCanonical(recs)
	return recs, nil
}

// Create stores a new record; an empty ID gets a random UUID.
func (repo *Repository) Create(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.Email = strings.ToLower(strings.TrimSpace(rec.Email))
	if err := repo.validate.Struct(rec); err != nil {
		return Record{}, err
	}
	if err := repo.kv.Set(ctx, Path(rec.ID), rec); err != nil {
		return Record{}, errors.Wrap(err, "creating faculty record")
	}
	return rec, nil
}

// Update merges fields into an existing record.
func (repo *Repository) Update(ctx context.Context, id string, fields Fields) error {
	if err := repo.kv.Patch(ctx, Path(id), fields.toMap()); err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return ErrNotFound
		}
		return errors.Wrap(err, "updating faculty record")
	}
	return nil
}

func (repo *Repository) Remove(ctx context.Context, id string) error {
	return errors.Wrap(repo.kv.Remove(ctx, Path(id)), "removing faculty record")
}

// FindLinked returns the records linked to account uid, canonical first.
func (repo *Repository) FindLinked(ctx context.Context, uid string) ([]Record, error) {
	return repo.find(ctx, func(rec Record) bool { return rec.IsLinkedTo(uid) })
}

// FindByEmail returns the records with the given email, canonical first.
func (repo *Repository) FindByEmail(ctx context.Context, email string) ([]Record, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return []Record{}, nil
	}
	return repo.find(ctx, func(rec Record) bool { return rec.Email == email })
}

func (repo *Repository) find(ctx context.Context, match func(Record) bool) ([]Record, error) {
	recs, err := repo.List(ctx)
	if err != nil {
		return nil, err
	}
	res := make([]Record, 0)
	for _, rec := range recs {
		if match(rec) {
			res = append(res, rec)
		}
	}
	return res, nil
}

// SortCanonical orders records oldest first (ties by id): the first one is the canonical record.
func SortCanonical(recs []Record) {
	sort.SliceStable(recs, func(i, j int) bool {
		if !recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].CreatedAt.Before(recs[j].CreatedAt)
		}
		return recs[i].ID < recs[j].ID
	})
}

package accesscode

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/suriaral/core"
	"github.com/trezcool/suriaral/storage/kv"
)

const (
	collection = "access_codes"

	generatedLen      = 6
	generatedAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789" // no 0/O, 1/I
	maxGenerateTries  = 5
)

var (
	ErrNotFound  = errors.New("access code not found")
	ErrCodeInUse = errors.New("access code already in use")
)

// Path is the key path of code id.
func Path(id string) string {
	return kv.Join(collection, id)
}

// Gate validates and administers access codes.
type Gate struct {
	kv        kv.Store
	validate  *validator.Validate
	publisher core.EventPublisher
	logger    core.Logger
	NowFunc   func() time.Time // mockable
}

func NewGate(store kv.Store, validate *validator.Validate, publisher core.EventPublisher, logger core.Logger) *Gate {
	return &Gate{
		kv:        store,
		validate:  validate,
		publisher: publisher,
		logger:    logger,
		NowFunc:   time.Now,
	}
}

// Redeem checks code and returns what it grants, or a *Rejection. It never counts a usage:
// call ConfirmRedemption once the account actually exists.
func (g *Gate) Redeem(ctx context.Context, code string) (Redemption, error) {
	code = strings.TrimSpace(code)
	if !IsWellFormed(code) {
		return Redemption{}, &Rejection{Reason: Malformed}
	}

	ac, err := g.findByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Redemption{}, &Rejection{Reason: NotFound}
		}
		return Redemption{}, err
	}

	switch {
	case ac.IsExpired(g.NowFunc()):
		return Redemption{}, &Rejection{Reason: Expired}
	case !ac.Active:
		return Redemption{}, &Rejection{Reason: Inactive}
	case ac.Role.RequiresSchool() && (!ac.SchoolID.Valid || ac.SchoolID.String == ""):
		return Redemption{}, &Rejection{Reason: MissingSchoolBinding}
	}
	return Redemption{CodeID: ac.ID, Role: ac.Role, SchoolID: ac.SchoolID}, nil
}

// ConfirmRedemption atomically counts one usage of code id and returns the new count.
// Callers must not undo the redeemed account when it fails.
func (g *Gate) ConfirmRedemption(ctx context.Context, id string) (int64, error) {
	count, err := g.kv.Increment(ctx, Path(id), "usageCount", 1)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return 0, ErrNotFound
		}
		return 0, errors.Wrap(err, "incrementing usage count")
	}
	return count, nil
}

func (g *Gate) Get(ctx context.Context, id string) (AccessCode, error) {
	data, err := g.kv.Get(ctx, Path(id))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return AccessCode{}, ErrNotFound
		}
		return AccessCode{}, errors.Wrap(err, "getting access code")
	}
	var ac AccessCode
	if err := kv.Decode(data, &ac); err != nil {
		return AccessCode{}, err
	}
	ac.ID = id
	return ac, nil
}

// List returns every access code, oldest first.
func (g *Gate) List(ctx context.Context) ([]AccessCode, error) {
	docs, err := g.kv.List(ctx, collection)
	if err != nil {
		return nil, errors.Wrap(err, "listing access codes")
	}
	codes := make([]AccessCode, 0, len(docs))
	for _, doc := range docs {
		var ac AccessCode
		if err := kv.Decode(doc.Data, &ac); err != nil {
			continue
		}
		ac.ID = kv.Base(doc.Path)
		codes = append(codes, ac)
	}
	sort.SliceStable(codes, func(i, j int) bool {
		if !codes[i].CreatedAt.Equal(codes[j].CreatedAt) {
			return codes[i].CreatedAt.Before(codes[j].CreatedAt)
		}
		return codes[i].ID < codes[j].ID
	})
	return codes, nil
}

// Create stores a new active code on behalf of actor.
func (g *Gate) Create(ctx context.Context, nc NewAccessCode, actor string) (AccessCode, error) {
	nc.Clean()
	if err := g.validate.Struct(nc); err != nil {
		return AccessCode{}, err
	}

	code := nc.Code
	if code == "" {
		var err error
		if code, err = g.uniqueCode(ctx); err != nil {
			return AccessCode{}, err
		}
	} else if _, err := g.findByCode(ctx, code); err == nil {
		return AccessCode{}, core.NewFieldError("code", ErrCodeInUse.Error())
	} else if !errors.Is(err, ErrNotFound) {
		return AccessCode{}, err
	}

	ac := AccessCode{
		ID:        uuid.NewString(),
		Code:      code,
		Role:      nc.Role,
		Label:     nc.Label,
		Active:    true,
		ExpiresAt: nc.ExpiresAt,
		SchoolID:  nc.SchoolID,
		CreatedAt: g.NowFunc().UTC(),
		CreatedBy: actor,
	}
	if err := g.validate.Struct(ac); err != nil {
		return AccessCode{}, err
	}
	if err := g.kv.Set(ctx, Path(ac.ID), ac); err != nil {
		return AccessCode{}, errors.Wrap(err, "creating access code")
	}
	return ac, nil
}

// Revoke deactivates code id. Accounts already created with it are not affected.
func (g *Gate) Revoke(ctx context.Context, id, actor string) (core.Outcome, error) {
	ac, err := g.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	if !ac.Active {
		return core.Unchanged, nil
	}
	if err := g.kv.Patch(ctx, Path(id), map[string]interface{}{"active": false}); err != nil {
		return 0, notFoundOr(err, "revoking access code")
	}
	g.publish(ctx, core.EventAccessCodeRevoked, ac, actor, nil)
	return core.Applied, nil
}

// Reactivate sets code id back to active and records who did it.
func (g *Gate) Reactivate(ctx context.Context, id, actor string) (core.Outcome, error) {
	ac, err := g.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	if ac.Active {
		return core.Unchanged, nil
	}
	now := g.NowFunc().UTC()
	err = g.kv.Patch(ctx, Path(id), map[string]interface{}{
		"active":        true,
		"reactivatedAt": null.TimeFrom(now),
		"reactivatedBy": null.StringFrom(actor),
	})
	if err != nil {
		return 0, notFoundOr(err, "reactivating access code")
	}
	data := map[string]interface{}{}
	if ac.IsExpired(now) {
		data["expired"] = true // still unusable until its expiry is lifted
	}
	g.publish(ctx, core.EventAccessCodeReactivate, ac, actor, data)
	return core.Applied, nil
}

func (g *Gate) Delete(ctx context.Context, id string) error {
	if _, err := g.Get(ctx, id); err != nil {
		return err
	}
	return errors.Wrap(g.kv.Remove(ctx, Path(id)), "deleting access code")
}

func (g *Gate) findByCode(ctx context.Context, code string) (AccessCode, error) {
	codes, err := g.List(ctx)
	if err != nil {
		return AccessCode{}, err
	}
	for _, ac := range codes {
		if ac.Code == code {
			return ac, nil
		}
	}
	return AccessCode{}, ErrNotFound
}

func (g *Gate) uniqueCode(ctx context.Context) (string, error) {
	for i := 0; i < maxGenerateTries; i++ {
		code, err := generateCode()
		if err != nil {
			return "", err
		}
		if _, err := g.findByCode(ctx, code); errors.Is(err, ErrNotFound) {
			return code, nil
		} else if err != nil {
			return "", err
		}
	}
	return "", errors.New("could not generate a unique access code")
}

func generateCode() (string, error) {
	var sb strings.Builder
	size := big.NewInt(int64(len(generatedAlphabet)))
	for i := 0; i < generatedLen; i++ {
		n, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", errors.Wrap(err, "generating access code")
		}
		sb.WriteByte(generatedAlphabet[n.Int64()])
	}
	return sb.String(), nil
}

func (g *Gate) publish(ctx context.Context, typ string, ac AccessCode, actor string, data map[string]interface{}) {
	if g.publisher == nil {
		return
	}
	if data == nil {
		data = map[string]interface{}{}
	}
	data["code"] = ac.Code
	data["role"] = ac.Role
	evt := core.Event{Type: typ, Subject: ac.ID, Actor: actor, Data: data, OccurredAt: g.NowFunc().UTC()}
	if err := g.publisher.Publish(ctx, evt); err != nil {
		g.logger.Warn(fmt.Sprintf("publishing %s: %v", typ, err), err)
	}
}

func notFoundOr(err error, msg string) error {
	if errors.Is(err, kv.ErrNotFound) {
		return ErrNotFound
	}
	return errors.Wrap(err, msg)
}

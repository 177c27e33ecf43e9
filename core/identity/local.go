package identity

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"

	"github.com/trezcool/suriaral/storage/kv"
)

const (
	credentialsCollection = "auth"
	attemptsCollection    = "auth_attempts"

	// MaxFailedAttempts failed sign-ins within AttemptsWindow lock an email out until the window ends.
	MaxFailedAttempts = 5
	AttemptsWindow    = 15 * time.Minute
)

var emailNamespace = uuid.MustParse("0b6b8a34-5c1f-4f0e-9a52-4f3c3b7f2d10")

type credentials struct {
	UID          string    `json:"uid"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"displayName"`
	PasswordHash []byte    `json:"passwordHash"`
	Disabled     bool      `json:"disabled"`
	CreatedAt    time.Time `json:"createdAt"`
	// tokens issued before this instant (second precision) are revoked
	TokensValidAfter time.Time `json:"tokensValidAfter"`
}

func (c credentials) identity() Identity {
	return Identity{UID: c.UID, Email: c.Email, DisplayName: c.DisplayName}
}

type attempts struct {
	Count       int64     `json:"count"`
	WindowStart time.Time `json:"windowStart"`
}

func credentialsPath(uid string) string { return kv.Join(credentialsCollection, uid) }

func attemptsPath(email string) string {
	return kv.Join(attemptsCollection, uuid.NewSHA1(emailNamespace, []byte(email)).String())
}

// LocalProvider is a Provider keeping bcrypt credentials in the key-path store.
type LocalProvider struct {
	kv       kv.Store
	validate *validator.Validate
	NowFunc  func() time.Time // mockable
}

var _ Provider = (*LocalProvider)(nil) // interface compliance check

func NewLocalProvider(store kv.Store, validate *validator.Validate) *LocalProvider {
	return &LocalProvider{kv: store, validate: validate, NowFunc: time.Now}
}

func (lp *LocalProvider) Create(ctx context.Context, na NewAccount) (Identity, error) {
	na.Clean()
	if err := lp.validate.Struct(na); err != nil {
		return Identity{}, err
	}
	if _, err := lp.findByEmail(ctx, na.Email); err == nil {
		return Identity{}, newAuthError(EmailInUse)
	} else if !errors.Is(err, ErrNotFound) {
		return Identity{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(na.Password), bcrypt.DefaultCost)
	if err != nil {
		return Identity{}, errors.Wrap(err, "hashing password")
	}
	creds := credentials{
		UID:          uuid.NewString(),
		Email:        na.Email,
		DisplayName:  na.DisplayName,
		PasswordHash: hash,
		CreatedAt:    lp.NowFunc().UTC(),
	}
	if err := lp.kv.Set(ctx, credentialsPath(creds.UID), creds); err != nil {
		return Identity{}, errors.Wrap(err, "storing credentials")
	}
	return creds.identity(), nil
}

func (lp *LocalProvider) Get(ctx context.Context, uid string) (Identity, error) {
	creds, err := lp.get(ctx, uid)
	if err != nil {
		return Identity{}, err
	}
	return creds.identity(), nil
}

func (lp *LocalProvider) GetByEmail(ctx context.Context, email string) (Identity, error) {
	creds, err := lp.findByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return Identity{}, err
	}
	return creds.identity(), nil
}

func (lp *LocalProvider) Authenticate(ctx context.Context, email, password string) (Identity, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := lp.checkThrottle(ctx, email); err != nil {
		return Identity{}, err
	}

	creds, err := lp.findByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Identity{}, lp.recordFailure(ctx, email)
		}
		return Identity{}, err
	}
	if bcrypt.CompareHashAndPassword(creds.PasswordHash, []byte(password)) != nil {
		return Identity{}, lp.recordFailure(ctx, email)
	}
	if creds.Disabled {
		return Identity{}, newAuthError(UserDisabled)
	}
	if err := lp.kv.Remove(ctx, attemptsPath(email)); err != nil {
		return Identity{}, errors.Wrap(err, "resetting failed attempts")
	}
	return creds.identity(), nil
}

func (lp *LocalProvider) Reauthenticate(ctx context.Context, uid, password string) error {
	creds, err := lp.get(ctx, uid)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return newAuthError(InvalidCredential)
		}
		return err
	}
	if err := lp.checkThrottle(ctx, creds.Email); err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword(creds.PasswordHash, []byte(password)) != nil {
		return lp.recordFailure(ctx, creds.Email)
	}
	if creds.Disabled {
		return newAuthError(UserDisabled)
	}
	return nil
}

func (lp *LocalProvider) ChangePassword(ctx context.Context, uid string, pc PasswordChange) error {
	if err := lp.validate.Struct(pc); err != nil {
		return err
	}
	if err := lp.Reauthenticate(ctx, uid, pc.CurrentPassword); err != nil {
		return err
	}
	return lp.SetPassword(ctx, uid, pc.NewPassword)
}

func (lp *LocalProvider) SetPassword(ctx context.Context, uid, password string) error {
	creds, err := lp.get(ctx, uid)
	if err != nil {
		return err
	}
	if err := ValidatePassword(password, creds.DisplayName, creds.Email); err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return errors.Wrap(err, "hashing password")
	}
	return lp.patch(ctx, uid, map[string]interface{}{"passwordHash": hash}, "updating password")
}

func (lp *LocalProvider) SignOut(ctx context.Context, uid string) error {
	if _, err := lp.get(ctx, uid); err != nil {
		return err
	}
	return lp.patch(ctx, uid, map[string]interface{}{
		"tokensValidAfter": lp.NowFunc().UTC().Truncate(time.Second),
	}, "revoking tokens")
}

func (lp *LocalProvider) CheckToken(ctx context.Context, uid string, issuedAt time.Time) error {
	creds, err := lp.get(ctx, uid)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return newAuthError(TokenRevoked)
		}
		return err
	}
	if creds.Disabled {
		return newAuthError(UserDisabled)
	}
	if issuedAt.Before(creds.TokensValidAfter) {
		return newAuthError(TokenRevoked)
	}
	return nil
}

func (lp *LocalProvider) Disable(ctx context.Context, uid string, disabled bool) error {
	if _, err := lp.get(ctx, uid); err != nil {
		return err
	}
	return lp.patch(ctx, uid, map[string]interface{}{"disabled": disabled}, "updating credentials")
}

func (lp *LocalProvider) Delete(ctx context.Context, uid string) error {
	if _, err := lp.get(ctx, uid); err != nil {
		return err
	}
	return errors.Wrap(lp.kv.Remove(ctx, credentialsPath(uid)), "removing credentials")
}

// patch merges fields into the credentials of uid, which must still exist.
func (lp *LocalProvider) patch(ctx context.Context, uid string, fields map[string]interface{}, what string) error {
	if err := lp.kv.Patch(ctx, credentialsPath(uid), fields); err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return ErrNotFound
		}
		return errors.Wrap(err, what)
	}
	return nil
}

func (lp *LocalProvider) get(ctx context.Context, uid string) (credentials, error) {
	if uid == "" {
		return credentials{}, ErrNotFound
	}
	data, err := lp.kv.Get(ctx, credentialsPath(uid))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return credentials{}, ErrNotFound
		}
		return credentials{}, errors.Wrap(err, "getting credentials")
	}
	var creds credentials
	err = kv.Decode(data, &creds)
	return creds, err
}

func (lp *LocalProvider) findByEmail(ctx context.Context, email string) (credentials, error) {
	if email == "" {
		return credentials{}, ErrNotFound
	}
	docs, err := lp.kv.List(ctx, credentialsCollection)
	if err != nil {
		return credentials{}, errors.Wrap(err, "listing credentials")
	}
	for _, doc := range docs {
		var creds credentials
		if err := kv.Decode(doc.Data, &creds); err != nil {
			continue
		}
		if creds.Email == email {
			return creds, nil
		}
	}
	return credentials{}, ErrNotFound
}

func (lp *LocalProvider) loadAttempts(ctx context.Context, email string) (attempts, bool, error) {
	data, err := lp.kv.Get(ctx, attemptsPath(email))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return attempts{}, false, nil
		}
		return attempts{}, false, errors.Wrap(err, "getting failed attempts")
	}
	var att attempts
	if err := kv.Decode(data, &att); err != nil {
		return attempts{}, false, nil
	}
	return att, lp.NowFunc().Sub(att.WindowStart) < AttemptsWindow, nil
}

func (lp *LocalProvider) checkThrottle(ctx context.Context, email string) error {
	att, live, err := lp.loadAttempts(ctx, email)
	if err != nil {
		return err
	}
	if live && att.Count >= MaxFailedAttempts {
		return newAuthError(TooManyRequests)
	}
	return nil
}

// recordFailure counts a failed attempt and returns the error to report for it.
func (lp *LocalProvider) recordFailure(ctx context.Context, email string) error {
	_, live, err := lp.loadAttempts(ctx, email)
	if err != nil {
		return err
	}
	if !live {
		err = lp.kv.Set(ctx, attemptsPath(email), attempts{Count: 1, WindowStart: lp.NowFunc().UTC()})
		if err != nil {
			return errors.Wrap(err, "counting failed attempt")
		}
		return newAuthError(InvalidCredential)
	}
	if _, err := lp.kv.Increment(ctx, attemptsPath(email), "count", 1); err != nil {
		return errors.Wrap(err, "counting failed attempt")
	}
	return newAuthError(InvalidCredential)
}

// Package identity authenticates principals and issues their tokens.
// The rest of the code only depends on the Provider interface; LocalProvider keeps the
// credentials in the key-path store.
package identity

import (
	"context"
	"strings"
	"time"
)

// Identity is an authenticated principal.
type Identity struct {
	UID         string `json:"uid"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName,omitempty"`
}

// NewAccount is the input of Provider.Create.
type NewAccount struct {
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required"`
	DisplayName string `json:"displayName" validate:"required,max=120"`
}

func (na *NewAccount) Clean() {
	na.Email = strings.ToLower(strings.TrimSpace(na.Email))
	na.DisplayName = strings.Join(strings.Fields(na.DisplayName), " ")
}

// PasswordChange is the input of Provider.ChangePassword.
type PasswordChange struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required"`
}

// Provider is the identity provider consumed by the account lifecycle and the API.
type Provider interface {
	Create(ctx context.Context, na NewAccount) (Identity, error)
	Get(ctx context.Context, uid string) (Identity, error)
	GetByEmail(ctx context.Context, email string) (Identity, error)

	// Authenticate fails with an *AuthError (invalid_credential, too_many_requests, user_disabled).
	Authenticate(ctx context.Context, email, password string) (Identity, error)
	// Reauthenticate confirms the password of uid before a sensitive mutation.
	Reauthenticate(ctx context.Context, uid, password string) error
	ChangePassword(ctx context.Context, uid string, pc PasswordChange) error
	// SetPassword is the administrative reset: no reauthentication, no policy on the old password.
	SetPassword(ctx context.Context, uid, password string) error

	// SignOut revokes every token issued to uid so far.
	SignOut(ctx context.Context, uid string) error
	// CheckToken fails when a token issued at issuedAt for uid is no longer acceptable.
	CheckToken(ctx context.Context, uid string, issuedAt time.Time) error

	Disable(ctx context.Context, uid string, disabled bool) error
	Delete(ctx context.Context, uid string) error
}

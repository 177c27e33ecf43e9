package identity

import (
	"github.com/pkg/errors"
)

var ErrNotFound = errors.New("identity not found")

type AuthErrorKind string

const (
	InvalidCredential AuthErrorKind = "invalid_credential"
	TooManyRequests   AuthErrorKind = "too_many_requests"
	UserDisabled      AuthErrorKind = "user_disabled"
	EmailInUse        AuthErrorKind = "email_already_in_use"
	TokenRevoked      AuthErrorKind = "token_revoked"
)

var authMessages = map[AuthErrorKind]string{
	InvalidCredential: "invalid email or password",
	TooManyRequests:   "too many failed attempts, try again later",
	UserDisabled:      "this account has been disabled",
	EmailInUse:        "an account already exists with this email",
	TokenRevoked:      "session expired, sign in again",
}

// AuthError is an identity provider failure; its message can be shown to the user.
type AuthError struct {
	Kind AuthErrorKind
}

func newAuthError(kind AuthErrorKind) error {
	return &AuthError{Kind: kind}
}

func (e *AuthError) Error() string {
	if msg, ok := authMessages[e.Kind]; ok {
		return msg
	}
	return string(e.Kind)
}

// IsAuthError tells whether err is an *AuthError of one of the given kinds (any kind if none).
func IsAuthError(err error, kinds ...AuthErrorKind) bool {
	var aErr *AuthError
	if !errors.As(err, &aErr) {
		return false
	}
	if len(kinds) == 0 {
		return true
	}
	for _, k := range kinds {
		if aErr.Kind == k {
			return true
		}
	}
	return false
}

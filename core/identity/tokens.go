package identity

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"

	"github.com/trezcool/suriaral/core"
)

var (
	ErrInvalidToken   = errors.New("invalid token")
	ErrRefreshExpired = errors.New("refresh has expired")
)

// Claims represents the authorization claims transmitted via a JWT.
type Claims struct {
	jwt.RegisteredClaims
	OrigIssuedAt int64  `json:"oriat,omitempty"`
	Email        string `json:"email,omitempty"`
}

// Identity returns the principal the token was issued to.
func (c Claims) Identity() Identity {
	return Identity{UID: c.Subject, Email: c.Email}
}

func (c Claims) IssuedAtTime() time.Time {
	if c.IssuedAt == nil {
		return time.Time{}
	}
	return c.IssuedAt.Time
}

// Tokens signs and parses HS256 session tokens.
type Tokens struct {
	key           []byte
	issuer        string
	expiry        time.Duration
	refreshExpiry time.Duration
	nowFunc       func() time.Time
}

func NewTokens(conf *core.Config) *Tokens {
	return &Tokens{
		key:           []byte(conf.SecretKey),
		issuer:        conf.AppName,
		expiry:        conf.Server.JWTExpirationDelta,
		refreshExpiry: conf.Server.JWTRefreshExpirationDelta,
		nowFunc:       time.Now,
	}
}

// Issue signs a token for ident. origIat is the issue time of the first token of a refresh chain.
func (t *Tokens) Issue(ident Identity, origIat ...int64) (string, error) {
	now := t.nowFunc()
	oriat := now.Unix()
	if len(origIat) > 0 && origIat[0] > 0 {
		oriat = origIat[0]
	}
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   ident.UID,
			ExpiresAt: jwt.NewNumericDate(now.Add(t.expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		OrigIssuedAt: oriat,
		Email:        ident.Email,
	}
	ss, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.key)
	if err != nil {
		return "", errors.Wrap(err, "signing token")
	}
	return ss, nil
}

// Parse verifies the signature and expiry of raw.
func (t *Tokens) Parse(raw string) (*Claims, error) {
	claims := new(Claims)
	tok, err := jwt.ParseWithClaims(raw, claims, func(tok *jwt.Token) (interface{}, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return t.key, nil
	}, jwt.WithIssuer(t.issuer), jwt.WithTimeFunc(t.nowFunc))
	if err != nil || !tok.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Refresh issues a new token in the chain of claims, unless the chain is older than the refresh expiry.
func (t *Tokens) Refresh(claims *Claims) (string, error) {
	expTime := time.Unix(claims.OrigIssuedAt, 0).Add(t.refreshExpiry)
	if t.nowFunc().After(expTime) {
		return "", ErrRefreshExpired
	}
	return t.Issue(claims.Identity(), claims.OrigIssuedAt)
}

package echoapi

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/suriaral/core/access"
	"github.com/trezcool/suriaral/core/authz"
	"github.com/trezcool/suriaral/core/identity"
)

const (
	contextClaimsKey  = "claims"
	contextSessionKey = "session"
)

// authMiddleware authenticates bearer tokens and loads the live session of their owner.
// Revoked tokens and disabled accounts are refused; the latter are signed out first.
func (s *server) authMiddleware() echo.MiddlewareFunc {
	return middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
		KeyLookup:  "header:" + echo.HeaderAuthorization,
		AuthScheme: "Bearer",
		Validator: func(raw string, ctx echo.Context) (bool, error) {
			claims, err := s.deps.Tokens.Parse(raw)
			if err != nil {
				return false, errUnauthorized
			}
			reqCtx := ctx.Request().Context()
			ident := claims.Identity()
			if err := s.deps.Identity.CheckToken(reqCtx, ident.UID, claims.IssuedAtTime()); err != nil {
				return false, err
			}

			sess, err := s.deps.Sessions.Get(reqCtx, ident)
			if err != nil {
				return false, &sessionError{err: errors.Wrap(err, "loading session")}
			}
			if sess.Disabled() {
				if err := s.deps.Identity.SignOut(reqCtx, ident.UID); err != nil {
					s.deps.Logger.Warn("signing out disabled account", err, ident)
				}
				s.deps.Sessions.Drop(ident.UID)
				return false, &identity.AuthError{Kind: identity.UserDisabled}
			}

			ctx.Set(contextClaimsKey, claims)
			ctx.Set(contextSessionKey, sess)
			return true, nil
		},
		ErrorHandler: func(err error, ctx echo.Context) error {
			var (
				authErr *identity.AuthError
				sessErr *sessionError
			)
			switch {
			case errors.As(err, &authErr):
				return err
			case errors.As(err, &sessErr):
				return sessErr.err
			default: // missing header, malformed or expired token
				return errUnauthorized
			}
		},
	})
}

// sessionError is a server-side failure while loading the session of a valid token.
type sessionError struct {
	err error
}

func (e *sessionError) Error() string { return e.err.Error() }

// authorize lets the request through when the session of the caller grants perm.
func (s *server) authorize(perm access.Permission) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			sess, ok := contextSession(ctx)
			allowed := ok && sess.Can(perm)
			s.metrics.observeDecision(perm, allowed)
			if !allowed {
				return errHttpForbidden
			}
			return next(ctx)
		}
	}
}

func contextClaims(ctx echo.Context) (*identity.Claims, error) {
	if claims, ok := ctx.Get(contextClaimsKey).(*identity.Claims); ok {
		return claims, nil
	}
	return nil, errUnauthorized
}

func contextSession(ctx echo.Context) (authz.CurrentSession, bool) {
	sess, ok := ctx.Get(contextSessionKey).(authz.CurrentSession)
	return sess, ok
}

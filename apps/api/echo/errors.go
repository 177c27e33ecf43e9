package echoapi

import (
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/suriaral/core"
	"github.com/trezcool/suriaral/core/accesscode"
	"github.com/trezcool/suriaral/core/account"
	"github.com/trezcool/suriaral/core/faculty"
	"github.com/trezcool/suriaral/core/identity"
	"github.com/trezcool/suriaral/core/profile"
)

var (
	errUnauthorized   = echo.NewHTTPError(http.StatusUnauthorized, "missing or malformed token")
	errRefreshExpired = echo.NewHTTPError(http.StatusForbidden, "refresh has expired")
	errHttpForbidden  = echo.NewHTTPError(http.StatusForbidden, "permission denied")
	errHttpNotFound   = echo.NewHTTPError(http.StatusNotFound, "not found")
)

var authErrorCodes = map[identity.AuthErrorKind]int{
	identity.InvalidCredential: http.StatusUnauthorized,
	identity.TokenRevoked:      http.StatusUnauthorized,
	identity.UserDisabled:      http.StatusForbidden,
	identity.TooManyRequests:   http.StatusTooManyRequests,
	identity.EmailInUse:        http.StatusConflict,
}

func isNotFound(err error) bool {
	for _, target := range []error{profile.ErrNotFound, faculty.ErrNotFound, accesscode.ErrNotFound, identity.ErrNotFound} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// newAppHTTPErrorHandler returns a custom echo.HTTPErrorHandler that knows how to handle our errors.
// signalShutdown is called in order to gracefully shutdown the Server whenever a core.shutdown error is caught.
func newAppHTTPErrorHandler(logger core.Logger, translator ut.Translator, signalShutdown func()) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		var (
			code    int
			message interface{}
			vErrs   validator.ValidationErrors
			valErr  *core.ValidationError
			rej     *accesscode.Rejection
			authErr *identity.AuthError
			httpErr *echo.HTTPError
		)

		switch {
		case errors.As(err, &httpErr):
			if herr, ok := httpErr.Internal.(*echo.HTTPError); ok {
				httpErr = herr
			}
			code = httpErr.Code
			message = httpErr.Message
		case errors.As(err, &vErrs):
			code = http.StatusBadRequest
			message = core.TranslateErrors(vErrs, translator)
		case errors.As(err, &valErr):
			if valErr.Fields != nil {
				fldErrs := make(map[string]string, len(valErr.Fields))
				for _, fErr := range valErr.Fields {
					fldErrs[fErr.Field] = fErr.Error
				}
				message = fldErrs
			} else {
				message = valErr.Error()
			}
			code = http.StatusBadRequest
		case errors.As(err, &rej):
			code = http.StatusUnprocessableEntity
			message = echo.Map{"error": rej.Error(), "reason": rej.Reason}
		case errors.As(err, &authErr):
			code = authErrorCodes[authErr.Kind]
			if code == 0 {
				code = http.StatusUnauthorized
			}
			message = echo.Map{"error": authErr.Error(), "code": authErr.Kind}
		case errors.Is(err, account.ErrRestoreWindowElapsed):
			code = http.StatusConflict
			message = err.Error()
		case isNotFound(err):
			code = http.StatusNotFound
			message = errHttpNotFound.Message
		default: // any other error is a server error
			code = http.StatusInternalServerError
			msg := http.StatusText(http.StatusInternalServerError)
			message = msg

			args := []interface{}{errors.Wrap(err, msg)}
			if sess, ok := contextSession(ctx); ok {
				args = append(args, sess.Identity)
			}
			logger.Error(msg, args...)

			// shutting down...
			if core.IsShutdown(err) {
				signalShutdown()
			}
		}

		if ctx.Echo().Debug {
			message = err.Error()
		} else if m, ok := message.(string); ok {
			message = echo.Map{"error": m}
		}

		// Send response
		if !ctx.Response().Committed {
			if ctx.Request().Method == http.MethodHead { // Issue #608
				err = ctx.NoContent(code)
			} else {
				err = ctx.JSON(code, message)
			}
			if err != nil {
				ctx.Echo().Logger.Error(err)
			}
		}
	}
}

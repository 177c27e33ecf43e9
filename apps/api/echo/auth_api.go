package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/suriaral/core"
	"github.com/trezcool/suriaral/core/access"
	"github.com/trezcool/suriaral/core/account"
	"github.com/trezcool/suriaral/core/authz"
	"github.com/trezcool/suriaral/core/identity"
	"github.com/trezcool/suriaral/core/profile"
)

type authApi struct {
	deps    *Deps
	metrics *metrics
}

func registerAuthAPI(g *echo.Group, authed, limiter echo.MiddlewareFunc, deps *Deps, m *metrics) {
	api := authApi{deps: deps, metrics: m}

	// un-authed endpoints
	ag := g.Group("/auth")
	ag.POST("/login", api.login, limiter)
	ag.POST("/register", api.register, limiter)
	g.GET("/access-codes/:code/verify", api.verifyCode, limiter)

	// authed endpoints
	ag.POST("/refresh", api.refreshToken, authed)
	ag.POST("/password", api.changePassword, authed)
	ag.POST("/logout", api.logout, authed)

	mg := g.Group("/me", authed)
	mg.GET("", api.me)
	mg.GET("/can/:permission", api.can)
}

type (
	LoginRequest struct {
		Email    string `json:"email" validate:"required,email"`
		Password string `json:"password" validate:"required"`
	}

	LoginResponse struct {
		Token   string           `json:"token"`
		Profile *profile.Profile `json:"profile,omitempty"`
	}

	MeResponse struct {
		UID         string              `json:"uid"`
		Email       string              `json:"email"`
		Loading     bool                `json:"loading"`
		Profile     *profile.Profile    `json:"profile"`
		Permissions []access.Permission `json:"permissions"`
	}

	CanResponse struct {
		Permission access.Permission `json:"permission"`
		Allowed    bool              `json:"allowed"`
	}

	VerifyResponse struct {
		Valid    bool        `json:"valid"`
		Role     access.Role `json:"role"`
		SchoolID null.String `json:"schoolId"`
	}
)

func (lr *LoginRequest) Validate(validate *validator.Validate) error {
	lr.Email = core.CleanString(lr.Email, true /* lower */)
	return validate.Struct(lr)
}

// Handlers

func (api *authApi) login(ctx echo.Context) error {
	var data LoginRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to LoginRequest")
	}
	if err := data.Validate(api.deps.Validate); err != nil {
		return err
	}

	reqCtx := ctx.Request().Context()
	ident, err := api.deps.Identity.Authenticate(reqCtx, data.Email, data.Password)
	if err != nil {
		api.metrics.observeLogin("refused")
		return errors.Wrap(err, "authenticating")
	}
	p, err := api.deps.AccountSvc.SignIn(reqCtx, ident)
	if err != nil {
		api.metrics.observeLogin("refused")
		return errors.Wrap(err, "signing in")
	}
	api.metrics.observeLogin("ok")
	return api.respondWithToken(ctx, http.StatusOK, ident, &p)
}

func (api *authApi) register(ctx echo.Context) error {
	var data account.RegisterInput
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to RegisterInput")
	}
	p, err := api.deps.AccountSvc.Register(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "registering")
	}
	ident := identity.Identity{UID: p.UID, Email: p.Email, DisplayName: p.DisplayName}
	return api.respondWithToken(ctx, http.StatusCreated, ident, &p)
}

func (api *authApi) respondWithToken(ctx echo.Context, code int, ident identity.Identity, p *profile.Profile) error {
	token, err := api.deps.Tokens.Issue(ident)
	if err != nil {
		return errors.Wrap(err, "issuing token")
	}
	return ctx.JSON(code, LoginResponse{Token: token, Profile: p})
}

func (api *authApi) verifyCode(ctx echo.Context) error {
	red, err := api.deps.CodeGate.Redeem(ctx.Request().Context(), ctx.Param("code"))
	if err != nil {
		return errors.Wrap(err, "verifying access code")
	}
	return ctx.JSON(http.StatusOK, VerifyResponse{Valid: true, Role: red.Role, SchoolID: red.SchoolID})
}

func (api *authApi) refreshToken(ctx echo.Context) error {
	claims, err := contextClaims(ctx)
	if err != nil {
		return err
	}
	token, err := api.deps.Tokens.Refresh(claims)
	if err != nil {
		if errors.Is(err, identity.ErrRefreshExpired) {
			return errRefreshExpired
		}
		return errors.Wrap(err, "refreshing token")
	}
	return ctx.JSON(http.StatusOK, LoginResponse{Token: token})
}

func (api *authApi) changePassword(ctx echo.Context) error {
	sess, ok := contextSession(ctx)
	if !ok {
		return errUnauthorized
	}
	var data identity.PasswordChange
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to PasswordChange")
	}

	reqCtx := ctx.Request().Context()
	uid := sess.Identity.UID
	if err := api.deps.Identity.ChangePassword(reqCtx, uid, data); err != nil {
		return errors.Wrap(err, "changing password")
	}
	// other devices must sign in again
	if err := api.deps.Identity.SignOut(reqCtx, uid); err != nil {
		return errors.Wrap(err, "revoking sessions")
	}
	return api.respondWithToken(ctx, http.StatusOK, sess.Identity, nil)
}

func (api *authApi) logout(ctx echo.Context) error {
	sess, ok := contextSession(ctx)
	if !ok {
		return errUnauthorized
	}
	if err := api.deps.Identity.SignOut(ctx.Request().Context(), sess.Identity.UID); err != nil {
		return errors.Wrap(err, "signing out")
	}
	api.deps.Sessions.Drop(sess.Identity.UID)
	return ctx.NoContent(http.StatusNoContent)
}

func (api *authApi) me(ctx echo.Context) error {
	sess, ok := contextSession(ctx)
	if !ok {
		return errUnauthorized
	}
	return ctx.JSON(http.StatusOK, MeResponse{
		UID:         sess.Identity.UID,
		Email:       sess.Identity.Email,
		Loading:     sess.Loading,
		Profile:     sess.Profile,
		Permissions: authz.Permissions(sess.Profile).Sorted(),
	})
}

func (api *authApi) can(ctx echo.Context) error {
	sess, ok := contextSession(ctx)
	if !ok {
		return errUnauthorized
	}
	perm, err := access.ParsePermission(ctx.Param("permission"))
	if err != nil {
		return core.NewFieldError("permission", access.ErrInvalidPermission.Error())
	}
	return ctx.JSON(http.StatusOK, CanResponse{Permission: perm, Allowed: sess.Can(perm)})
}

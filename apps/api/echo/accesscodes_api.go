package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/suriaral/core"
	"github.com/trezcool/suriaral/core/access"
	"github.com/trezcool/suriaral/core/accesscode"
)

type accessCodeApi struct {
	deps *Deps
}

func registerAccessCodeAPI(g *echo.Group, authed echo.MiddlewareFunc, authorize func(access.Permission) echo.MiddlewareFunc, deps *Deps) {
	api := accessCodeApi{deps: deps}

	cg := g.Group("/access-codes", authed, authorize(access.ManageAccessCodes))
	cg.GET("", api.query)
	cg.POST("", api.create)
	cg.GET("/:id", api.retrieve)
	cg.POST("/:id/revoke", api.revoke)
	cg.POST("/:id/reactivate", api.reactivate)
	cg.DELETE("/:id", api.destroy)
}

// Handlers

func (api *accessCodeApi) query(ctx echo.Context) error {
	codes, err := api.deps.CodeGate.List(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "listing access codes")
	}
	return ctx.JSON(http.StatusOK, codes)
}

func (api *accessCodeApi) create(ctx echo.Context) error {
	sess, ok := contextSession(ctx)
	if !ok {
		return errUnauthorized
	}
	var data accesscode.NewAccessCode
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewAccessCode")
	}
	if data.Role.IsValid() && !canGrant(sess, data.Role) {
		return core.NewFieldError("role", errNoRightsForRole)
	}

	ac, err := api.deps.CodeGate.Create(ctx.Request().Context(), data, sess.Identity.UID)
	if err != nil {
		return errors.Wrap(err, "creating access code")
	}
	return ctx.JSON(http.StatusCreated, ac)
}

func (api *accessCodeApi) retrieve(ctx echo.Context) error {
	ac, err := api.deps.CodeGate.Get(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting access code")
	}
	return ctx.JSON(http.StatusOK, ac)
}

func (api *accessCodeApi) revoke(ctx echo.Context) error {
	sess, ok := contextSession(ctx)
	if !ok {
		return errUnauthorized
	}
	outcome, err := api.deps.CodeGate.Revoke(ctx.Request().Context(), ctx.Param("id"), sess.Identity.UID)
	if err != nil {
		return errors.Wrap(err, "revoking access code")
	}
	return ctx.JSON(http.StatusOK, OutcomeResponse{Outcome: outcome})
}

func (api *accessCodeApi) reactivate(ctx echo.Context) error {
	sess, ok := contextSession(ctx)
	if !ok {
		return errUnauthorized
	}
	outcome, err := api.deps.CodeGate.Reactivate(ctx.Request().Context(), ctx.Param("id"), sess.Identity.UID)
	if err != nil {
		return errors.Wrap(err, "reactivating access code")
	}
	return ctx.JSON(http.StatusOK, OutcomeResponse{Outcome: outcome})
}

func (api *accessCodeApi) destroy(ctx echo.Context) error {
	if err := api.deps.CodeGate.Delete(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting access code")
	}
	return ctx.NoContent(http.StatusNoContent)
}

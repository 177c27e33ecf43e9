package echoapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/suriaral/core"
	"github.com/trezcool/suriaral/core/access"
	"github.com/trezcool/suriaral/core/faculty"
)

type facultyApi struct {
	deps *Deps
}

func registerFacultyAPI(g *echo.Group, authed echo.MiddlewareFunc, authorize func(access.Permission) echo.MiddlewareFunc, deps *Deps) {
	api := facultyApi{deps: deps}

	fg := g.Group("/faculty", authed, authorize(access.ManageTeachers))
	fg.GET("", api.query)
	fg.POST("/purge", api.purge)
	fg.POST("/reconcile", api.reconcile)
	fg.GET("/:id", api.retrieve)
	fg.DELETE("/:id", api.softDelete)
	fg.POST("/:id/restore", api.restore)
}

type PurgeResponse struct {
	Purged int `json:"purged"`
}

// Handlers

func (api *facultyApi) query(ctx echo.Context) error {
	view := faculty.ViewActive
	for param, v := range map[string]faculty.View{"trash": faculty.ViewTrash, "all": faculty.ViewAll} {
		if raw := ctx.QueryParam(param); raw != "" {
			on, err := strconv.ParseBool(raw)
			if err != nil {
				return core.NewFieldError(param, "must be a boolean")
			}
			if on {
				view = v
			}
		}
	}

	recs, err := api.deps.Faculty.List(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "listing faculty records")
	}
	return ctx.JSON(http.StatusOK, faculty.Filter(recs, view, api.now()))
}

func (api *facultyApi) retrieve(ctx echo.Context) error {
	rec, err := api.deps.Faculty.Get(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting faculty record")
	}
	if faculty.IsPurgeable(rec, api.now()) {
		return errHttpNotFound
	}
	return ctx.JSON(http.StatusOK, rec)
}

func (api *facultyApi) softDelete(ctx echo.Context) error {
	sess, ok := contextSession(ctx)
	if !ok {
		return errUnauthorized
	}
	outcome, err := api.deps.AccountSvc.SoftDeleteFaculty(ctx.Request().Context(), ctx.Param("id"), sess.Identity.UID)
	if err != nil {
		return errors.Wrap(err, "soft-deleting faculty record")
	}
	return ctx.JSON(http.StatusOK, OutcomeResponse{Outcome: outcome})
}

func (api *facultyApi) restore(ctx echo.Context) error {
	sess, ok := contextSession(ctx)
	if !ok {
		return errUnauthorized
	}
	outcome, err := api.deps.AccountSvc.RestoreFaculty(ctx.Request().Context(), ctx.Param("id"), sess.Identity.UID)
	if err != nil {
		return errors.Wrap(err, "restoring faculty record")
	}
	return ctx.JSON(http.StatusOK, OutcomeResponse{Outcome: outcome})
}

func (api *facultyApi) purge(ctx echo.Context) error {
	n, err := api.deps.AccountSvc.PurgeExpiredFaculty(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "purging faculty records")
	}
	return ctx.JSON(http.StatusOK, PurgeResponse{Purged: n})
}

func (api *facultyApi) reconcile(ctx echo.Context) error {
	report, err := api.deps.AccountSvc.Reconcile(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "reconciling faculty records")
	}
	return ctx.JSON(http.StatusOK, report)
}

func (api *facultyApi) now() time.Time {
	return api.deps.AccountSvc.NowFunc().UTC()
}

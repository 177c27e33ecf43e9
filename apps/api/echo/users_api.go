package echoapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/suriaral/core"
	"github.com/trezcool/suriaral/core/access"
	"github.com/trezcool/suriaral/core/account"
	"github.com/trezcool/suriaral/core/authz"
	"github.com/trezcool/suriaral/core/profile"
)

const (
	errNoRightsForRole = "not enough rights to grant this role"
	errNoRightsForPerm = "not enough rights to grant "
)

type userApi struct {
	deps *Deps
}

func registerUserAPI(g *echo.Group, authed echo.MiddlewareFunc, authorize func(access.Permission) echo.MiddlewareFunc, deps *Deps) {
	api := userApi{deps: deps}

	ug := g.Group("/users", authed, authorize(access.ManageUsers))
	ug.GET("", api.query)
	ug.POST("", api.provision)
	ug.GET("/:uid", api.retrieve)
	ug.PUT("/:uid/role", api.setRole)
	ug.PUT("/:uid/disabled", api.setDisabled)
	ug.DELETE("/:uid", api.destroy)
}

type (
	RoleUpdate struct {
		Role        access.Role       `json:"role" validate:"required,role"`
		Permissions *access.Overrides `json:"permissions"`
	}

	DisabledUpdate struct {
		Disabled bool `json:"disabled"`
	}

	OutcomeResponse struct {
		Outcome core.Outcome `json:"outcome"`
	}
)

// Handlers

func (api *userApi) query(ctx echo.Context) error {
	profiles, err := api.deps.Profiles.List(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "listing profiles")
	}

	var role *access.Role
	if r := ctx.QueryParam("role"); r != "" {
		parsed, err := access.ParseRole(r)
		if err != nil {
			return core.NewFieldError("role", access.ErrInvalidRole.Error())
		}
		role = &parsed
	}
	var disabled *bool
	if d := ctx.QueryParam("disabled"); d != "" {
		parsed, err := strconv.ParseBool(d)
		if err != nil {
			return core.NewFieldError("disabled", "must be a boolean")
		}
		disabled = &parsed
	}
	search := core.CleanString(ctx.QueryParam("search"), true /* lower */)

	res := make([]profile.Profile, 0, len(profiles))
	for _, p := range profiles {
		if role != nil && p.Role != *role {
			continue
		}
		if disabled != nil && p.Disabled != *disabled {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(p.Email), search) &&
			!strings.Contains(strings.ToLower(p.DisplayName), search) {
			continue
		}
		res = append(res, p)
	}
	var ord Ordering
	ord.Bind(ctx)
	if err := ord.SortProfiles(res); err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *userApi) retrieve(ctx echo.Context) error {
	p, err := api.deps.Profiles.Get(ctx.Request().Context(), ctx.Param("uid"))
	if err != nil {
		return errors.Wrap(err, "getting profile")
	}
	return ctx.JSON(http.StatusOK, p)
}

func (api *userApi) provision(ctx echo.Context) error {
	sess, ok := contextSession(ctx)
	if !ok {
		return errUnauthorized
	}
	var data account.NewUser
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewUser")
	}
	if !canGrant(sess, data.Role) {
		return core.NewFieldError("role", errNoRightsForRole)
	}

	p, err := api.deps.AccountSvc.Provision(ctx.Request().Context(), data, sess.Identity.UID)
	if err != nil {
		return errors.Wrap(err, "provisioning account")
	}
	return ctx.JSON(http.StatusCreated, p)
}

func (api *userApi) setRole(ctx echo.Context) error {
	sess, ok := contextSession(ctx)
	if !ok {
		return errUnauthorized
	}
	var data RoleUpdate
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to RoleUpdate")
	}
	if err := api.deps.Validate.Struct(data); err != nil {
		return err
	}
	uid := ctx.Param("uid")
	if uid == sess.Identity.UID {
		return core.NewFieldError("uid", "you cannot change your own role")
	}
	if !canGrant(sess, data.Role) {
		return core.NewFieldError("role", errNoRightsForRole)
	}
	if data.Permissions != nil {
		if err := checkOverrides(sess, *data.Permissions); err != nil {
			return err
		}
	}
	if err := api.checkTarget(ctx, sess, uid); err != nil {
		return err
	}

	outcome, err := api.deps.AccountSvc.SetRole(ctx.Request().Context(), uid, data.Role, data.Permissions, sess.Identity.UID)
	if err != nil {
		return errors.Wrap(err, "setting role")
	}
	return ctx.JSON(http.StatusOK, OutcomeResponse{Outcome: outcome})
}

func (api *userApi) setDisabled(ctx echo.Context) error {
	sess, ok := contextSession(ctx)
	if !ok {
		return errUnauthorized
	}
	var data DisabledUpdate
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to DisabledUpdate")
	}
	uid := ctx.Param("uid")
	if data.Disabled && uid == sess.Identity.UID {
		return core.NewFieldError("disabled", "you cannot disable your own account")
	}
	if err := api.checkTarget(ctx, sess, uid); err != nil {
		return err
	}

	outcome, err := api.deps.AccountSvc.SetDisabled(ctx.Request().Context(), uid, data.Disabled, sess.Identity.UID)
	if err != nil {
		return errors.Wrap(err, "setting disabled flag")
	}
	return ctx.JSON(http.StatusOK, OutcomeResponse{Outcome: outcome})
}

func (api *userApi) destroy(ctx echo.Context) error {
	sess, ok := contextSession(ctx)
	if !ok {
		return errUnauthorized
	}
	uid := ctx.Param("uid")
	if uid == sess.Identity.UID {
		return core.NewFieldError("uid", "you cannot delete your own account")
	}
	if err := api.checkTarget(ctx, sess, uid); err != nil {
		return err
	}

	outcome, err := api.deps.AccountSvc.DeleteAccount(ctx.Request().Context(), uid, sess.Identity.UID)
	if err != nil {
		return errors.Wrap(err, "deleting account")
	}
	if outcome == core.Unchanged {
		return errHttpNotFound
	}
	return ctx.NoContent(http.StatusNoContent)
}

// canGrant tells whether the caller may hand out role: nobody grants above their own rank.
func canGrant(sess authz.CurrentSession, role access.Role) bool {
	if sess.Profile == nil {
		return false
	}
	if sess.Profile.IsSuperAdmin {
		return true
	}
	return role.Priority() <= sess.Profile.Role.Priority()
}

// checkTarget refuses changes to accounts ranked above the caller, and to super admins,
// unless the caller is a super admin. Accounts without a profile carry no rank.
func (api *userApi) checkTarget(ctx echo.Context, sess authz.CurrentSession, uid string) error {
	if sess.Profile == nil {
		return errUnauthorized
	}
	if sess.Profile.IsSuperAdmin {
		return nil
	}
	target, err := api.deps.Profiles.Get(ctx.Request().Context(), uid)
	switch {
	case errors.Is(err, profile.ErrNotFound):
		return nil
	case err != nil:
		return errors.Wrap(err, "getting target profile")
	}
	if target.IsSuperAdmin || target.Role.Priority() > sess.Profile.Role.Priority() {
		return errHttpForbidden
	}
	return nil
}

// checkOverrides refuses explicit grants of permissions the caller does not hold itself.
func checkOverrides(sess authz.CurrentSession, overrides access.Overrides) error {
	for _, perm := range access.AllPermissions {
		if overrides.Lookup(perm) == access.Allow && !sess.Can(perm) {
			return core.NewFieldError("permissions", errNoRightsForPerm+perm.String())
		}
	}
	return nil
}

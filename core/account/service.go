// Package account manages the lifecycle of accounts: registration, role changes,
// disabling, deletion and the faculty records tied to them.
package account

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/suriaral/core"
	"github.com/trezcool/suriaral/core/access"
	"github.com/trezcool/suriaral/core/accesscode"
	"github.com/trezcool/suriaral/core/faculty"
	"github.com/trezcool/suriaral/core/identity"
	"github.com/trezcool/suriaral/core/profile"
	"github.com/trezcool/suriaral/storage/kv"
)

type Service struct {
	profiles  *profile.Store
	faculty   *faculty.Repository
	codes     *accesscode.Gate
	idp       identity.Provider
	validate  *validator.Validate
	publisher core.EventPublisher
	mailer    core.EmailService
	logger    core.Logger
	NowFunc   func() time.Time // mockable
}

func NewService(
	profiles *profile.Store,
	facultyRepo *faculty.Repository,
	codes *accesscode.Gate,
	idp identity.Provider,
	validate *validator.Validate,
	publisher core.EventPublisher,
	mailer core.EmailService,
	logger core.Logger,
) *Service {
	return &Service{
		profiles:  profiles,
		faculty:   facultyRepo,
		codes:     codes,
		idp:       idp,
		validate:  validate,
		publisher: publisher,
		mailer:    mailer,
		logger:    logger,
		NowFunc:   time.Now,
	}
}

func (svc *Service) now() time.Time {
	return svc.NowFunc().UTC()
}

// SetRole writes role (and overrides, when not nil) to the profile of uid. Faculty roles
// also get their faculty record reconciled, even when the profile already had the role,
// so that retrying after a partial failure converges.
func (svc *Service) SetRole(ctx context.Context, uid string, role access.Role, overrides *access.Overrides, actor string) (core.Outcome, error) {
	if !role.IsValid() {
		return 0, core.NewFieldError("role", access.ErrInvalidRole.Error())
	}
	p, err := svc.profiles.Get(ctx, uid)
	if err != nil {
		return 0, svc.fail("getting profile", err)
	}

	outcome := core.Unchanged
	prevRole := p.Role
	if p.Role != role || (overrides != nil && !p.Overrides.Equal(*overrides)) {
		fields := profile.Fields{Role: &role}
		if overrides != nil {
			cleaned := overrides.Clone()
			fields.Overrides = &cleaned
		}
		if err := svc.profiles.Update(ctx, uid, fields); err != nil {
			return 0, svc.fail("updating role", err)
		}
		outcome = core.Applied
	}

	if role.IsFaculty() {
		// reconcile against what the store now holds
		p, err = svc.profiles.Get(ctx, uid)
		if err != nil {
			return 0, svc.fail("re-reading profile", err)
		}
		linked, err := svc.reconcileFaculty(ctx, p, false)
		if err != nil {
			return 0, svc.fail("reconciling faculty record", err)
		}
		if linked == core.Applied {
			outcome = core.Applied
		}
	}

	if prevRole != role {
		svc.publish(ctx, core.Event{
			Type:    core.EventRoleChanged,
			Subject: uid,
			Actor:   actor,
			Data:    map[string]interface{}{"from": prevRole, "to": role},
		})
		svc.sendMail(p, "role_changed", "Your role has changed", map[string]interface{}{
			"Name": p.DisplayName,
			"From": prevRole,
			"To":   role,
		})
	}
	return outcome, nil
}

// SetDisabled flips the disabled flag of the profile of uid, nothing else. Signing the
// account out is left to whoever next checks its session.
func (svc *Service) SetDisabled(ctx context.Context, uid string, disabled bool, actor string) (core.Outcome, error) {
	p, err := svc.profiles.Get(ctx, uid)
	if err != nil {
		return 0, svc.fail("getting profile", err)
	}
	if p.Disabled == disabled {
		return core.Unchanged, nil
	}
	if err := svc.profiles.Update(ctx, uid, profile.Fields{Disabled: &disabled}); err != nil {
		return 0, svc.fail("updating disabled flag", err)
	}

	evtType := core.EventAccountEnabled
	if disabled {
		evtType = core.EventAccountDisabled
		svc.sendMail(p, "account_disabled", "Your account has been disabled", map[string]interface{}{
			"Name": p.DisplayName,
		})
	}
	svc.publish(ctx, core.Event{Type: evtType, Subject: uid, Actor: actor})
	return core.Applied, nil
}

// DeleteAccount revokes the identity (best effort), removes the profile and unlinks the
// faculty records of uid. Faculty records themselves are kept.
func (svc *Service) DeleteAccount(ctx context.Context, uid, actor string) (core.Outcome, error) {
	changed := false

	_, err := svc.profiles.Get(ctx, uid)
	switch {
	case err == nil:
		changed = true
	case !errors.Is(err, profile.ErrNotFound):
		return 0, svc.fail("getting profile", err)
	}

	if err := svc.idp.Delete(ctx, uid); err == nil {
		changed = true
	} else if !errors.Is(err, identity.ErrNotFound) {
		svc.logger.Warn(fmt.Sprintf("revoking identity %s: %v", uid, err), err)
	}

	if err := svc.profiles.Remove(ctx, uid); err != nil {
		return 0, svc.fail("removing profile", err)
	}

	linked, err := svc.faculty.FindLinked(ctx, uid)
	if err != nil {
		return 0, svc.fail("finding linked faculty records", err)
	}
	for _, rec := range linked {
		if err := svc.faculty.Update(ctx, rec.ID, faculty.Unlinked()); err != nil {
			return 0, svc.fail("unlinking faculty record", err)
		}
		changed = true
	}

	if !changed {
		return core.Unchanged, nil
	}
	svc.publish(ctx, core.Event{Type: core.EventAccountDeleted, Subject: uid, Actor: actor})
	return core.Applied, nil
}

// SignIn is the post-login hook: it refuses disabled accounts and repairs the faculty
// record of faculty roles. Repair failures are logged, never fatal to the sign-in.
func (svc *Service) SignIn(ctx context.Context, ident identity.Identity) (profile.Profile, error) {
	p, err := svc.profiles.Get(ctx, ident.UID)
	if err != nil {
		return profile.Profile{}, svc.fail("getting profile", err)
	}
	if p.Disabled {
		if err := svc.idp.SignOut(ctx, ident.UID); err != nil {
			svc.logger.Warn(fmt.Sprintf("signing out %s: %v", ident.UID, err), err, ident)
		}
		return profile.Profile{}, &identity.AuthError{Kind: identity.UserDisabled}
	}
	if p.Role.IsFaculty() {
		if _, err := svc.EnsureFacultyRecord(ctx, ident, p.Role); err != nil {
			svc.logger.Error(fmt.Sprintf("ensuring faculty record of %s: %v", ident.UID, err), err, ident)
		}
	}
	return p, nil
}

// fail logs store errors (the caller still gets them) and passes everything else through.
func (svc *Service) fail(op string, err error) error {
	if kv.IsStoreError(err) {
		svc.logger.Error(fmt.Sprintf("%s: %v", op, err), err)
	}
	return err
}

func (svc *Service) publish(ctx context.Context, evt core.Event) {
	if svc.publisher == nil {
		return
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = svc.now()
	}
	if err := svc.publisher.Publish(ctx, evt); err != nil {
		svc.logger.Warn(fmt.Sprintf("publishing %s: %v", evt.Type, err), err)
	}
}

func (svc *Service) sendMail(p profile.Profile, tmpl, subject string, data map[string]interface{}) {
	if svc.mailer == nil || p.Email == "" {
		return
	}
	svc.mailer.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: p.DisplayName, Address: p.Email}},
		Subject:      subject,
		AccountUID:   p.UID,
		TemplateName: tmpl,
		TemplateData: data,
	})
}

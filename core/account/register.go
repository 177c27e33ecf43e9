package account

import (
	"context"
	"fmt"
	"strings"

	"github.com/volatiletech/null/v8"

	"github.com/trezcool/suriaral/core"
	"github.com/trezcool/suriaral/core/access"
	"github.com/trezcool/suriaral/core/identity"
	"github.com/trezcool/suriaral/core/profile"
)

// RegisterInput is a self-registration: the access code decides the role and school.
type RegisterInput struct {
	Code string `json:"code" validate:"required"`
	identity.NewAccount
}

// NewUser is an account provisioned by an administrator.
type NewUser struct {
	identity.NewAccount
	Role     access.Role `json:"role" validate:"required,role"`
	SchoolID null.String `json:"schoolId"`
}

func (nu *NewUser) Clean() {
	nu.NewAccount.Clean()
	nu.SchoolID.String = strings.TrimSpace(nu.SchoolID.String)
	nu.SchoolID.Valid = nu.SchoolID.Valid && nu.SchoolID.String != ""
}

// Register creates an account from an access code. The code's usage is only counted once
// the account exists, and a failure to count it does not undo the registration.
func (svc *Service) Register(ctx context.Context, in RegisterInput) (profile.Profile, error) {
	in.NewAccount.Clean()
	if err := svc.validate.Struct(in); err != nil {
		return profile.Profile{}, err
	}
	red, err := svc.codes.Redeem(ctx, in.Code)
	if err != nil {
		return profile.Profile{}, svc.fail("redeeming access code", err)
	}

	p, err := svc.create(ctx, in.NewAccount, red.Role, red.SchoolID)
	if err != nil {
		return profile.Profile{}, err
	}

	if count, err := svc.codes.ConfirmRedemption(ctx, red.CodeID); err != nil {
		svc.logger.Warn(fmt.Sprintf("counting redemption of access code %s: %v", red.CodeID, err), err)
	} else {
		svc.publish(ctx, core.Event{
			Type:    core.EventAccessCodeRedeemed,
			Subject: red.CodeID,
			Actor:   p.UID,
			Data:    map[string]interface{}{"usageCount": count},
		})
	}
	svc.publish(ctx, core.Event{
		Type:    core.EventAccountRegistered,
		Subject: p.UID,
		Actor:   p.UID,
		Data:    map[string]interface{}{"role": p.Role, "accessCode": red.CodeID},
	})
	return p, nil
}

// Provision creates an account with an explicit role, on behalf of actor.
func (svc *Service) Provision(ctx context.Context, nu NewUser, actor string) (profile.Profile, error) {
	nu.Clean()
	if err := svc.validate.Struct(nu); err != nil {
		return profile.Profile{}, err
	}
	if nu.Role.RequiresSchool() && !nu.SchoolID.Valid {
		return profile.Profile{}, core.NewFieldError("schoolId", "this role requires a school")
	}
	p, err := svc.create(ctx, nu.NewAccount, nu.Role, nu.SchoolID)
	if err != nil {
		return profile.Profile{}, err
	}
	svc.publish(ctx, core.Event{
		Type:    core.EventAccountRegistered,
		Subject: p.UID,
		Actor:   actor,
		Data:    map[string]interface{}{"role": p.Role},
	})
	return p, nil
}

// create makes the identity and its profile. The identity is removed again when the profile
// cannot be written, so the email stays available for a retry.
func (svc *Service) create(ctx context.Context, na identity.NewAccount, role access.Role, schoolID null.String) (profile.Profile, error) {
	ident, err := svc.idp.Create(ctx, na)
	if err != nil {
		return profile.Profile{}, svc.fail("creating identity", err)
	}

	p := profile.Profile{
		UID:         ident.UID,
		Email:       ident.Email,
		DisplayName: ident.DisplayName,
		Role:        role,
		CreatedAt:   svc.now(),
		SchoolID:    schoolID,
	}
	if err := svc.profiles.Set(ctx, p); err != nil {
		if delErr := svc.idp.Delete(ctx, ident.UID); delErr != nil {
			svc.logger.Error(fmt.Sprintf("rolling back identity %s: %v", ident.UID, delErr), delErr, ident)
		}
		return profile.Profile{}, svc.fail("writing profile", err)
	}

	if role.IsFaculty() {
		if _, err := svc.reconcileFaculty(ctx, p, true); err != nil {
			// repaired at next sign-in
			svc.logger.Error(fmt.Sprintf("creating faculty record of %s: %v", p.UID, err), err, ident)
		}
	}
	svc.sendMail(p, "welcome", "Welcome to SURI-ARAL", map[string]interface{}{
		"Name":  p.DisplayName,
		"Email": p.Email,
		"Role":  p.Role,
	})
	return p, nil
}

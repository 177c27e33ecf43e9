package account

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/suriaral/core"
	"github.com/trezcool/suriaral/core/access"
	"github.com/trezcool/suriaral/core/faculty"
	"github.com/trezcool/suriaral/core/identity"
	"github.com/trezcool/suriaral/core/profile"
)

// facultyNamespace seeds the ids of synthesized records: one account always maps to the same id,
// so concurrent syntheses for an account write the same document.
var facultyNamespace = uuid.MustParse("0b1f7a52-5c1e-4f6e-9a43-3d8f2e6c9b10")

// FacultyID is the id of the record synthesized for account uid.
func FacultyID(uid string) string {
	return uuid.NewSHA1(facultyNamespace, []byte(uid)).String()
}

func PositionFor(role access.Role) string {
	switch role {
	case access.RoleAdmin:
		return "School Administrator"
	case access.RoleTeacher:
		return "Teacher I"
	default:
		return ""
	}
}

// SplitName splits a display name into first and last names: the last token is the last name.
// An empty name falls back to the local part of email.
func SplitName(displayName, email string) (string, string) {
	tokens := strings.Fields(displayName)
	switch len(tokens) {
	case 0:
		local := strings.SplitN(email, "@", 2)[0]
		if local == "" {
			local = "Unknown"
		}
		return local, ""
	case 1:
		return tokens[0], ""
	default:
		return strings.Join(tokens[:len(tokens)-1], " "), tokens[len(tokens)-1]
	}
}

func (svc *Service) synthesize(p profile.Profile) faculty.Record {
	first, last := SplitName(p.DisplayName, p.Email)
	return faculty.Record{
		ID:              FacultyID(p.UID),
		FirstName:       first,
		LastName:        last,
		Email:           p.Email,
		EmployeeID:      faculty.PendingEmployeeID,
		Position:        PositionFor(p.Role),
		Status:          faculty.StatusPermanent,
		Role:            p.Role,
		SchoolID:        p.SchoolID,
		LinkedAccountID: null.StringFrom(p.UID),
		HasAccount:      true,
		CreatedAt:       svc.now(),
	}
}

// EnsureFacultyRecord makes sure a faculty account owns exactly one live faculty record.
// Unlinked records with the same email are adopted before a new one is synthesized.
func (svc *Service) EnsureFacultyRecord(ctx context.Context, ident identity.Identity, role access.Role) (core.Outcome, error) {
	if !role.IsFaculty() {
		return core.Unchanged, nil
	}
	p, err := svc.profiles.Get(ctx, ident.UID)
	switch {
	case errors.Is(err, profile.ErrNotFound):
		p = profile.Profile{UID: ident.UID, Email: ident.Email, DisplayName: ident.DisplayName}
	case err != nil:
		return 0, svc.fail("getting profile", err)
	}
	p.Role = role
	if p.Email == "" {
		p.Email = ident.Email
	}
	if p.DisplayName == "" {
		p.DisplayName = ident.DisplayName
	}
	outcome, err := svc.reconcileFaculty(ctx, p, true)
	return outcome, svc.fail("ensuring faculty record", err)
}

// reconcileFaculty converges the faculty records of p: the canonical candidate is linked and
// carries the role, live duplicates linked to the same account are retired and, when nothing
// usable exists, a record is synthesized. A record of the account itself is restored even past
// the restore window, as long as it was not purged. byEmail also considers unlinked records with p's email.
func (svc *Service) reconcileFaculty(ctx context.Context, p profile.Profile, byEmail bool) (core.Outcome, error) {
	now := svc.now()
	candidates, err := svc.faculty.FindLinked(ctx, p.UID)
	if err != nil {
		return 0, err
	}
	if byEmail {
		matched, err := svc.faculty.FindByEmail(ctx, p.Email)
		if err != nil {
			return 0, err
		}
		for _, rec := range matched {
			if !rec.LinkedAccountID.Valid {
				candidates = append(candidates, rec)
			}
		}
	}

	// expired holds the account's own records that are past the restore window but not purged yet
	var live, trashed, expired []faculty.Record
	for _, rec := range candidates {
		switch {
		case !rec.IsDeleted():
			live = append(live, rec)
		case faculty.InTrash(rec, now):
			trashed = append(trashed, rec)
		case rec.IsLinkedTo(p.UID):
			expired = append(expired, rec)
		}
	}
	faculty.SortCanonical(live)
	faculty.SortCanonical(trashed)
	faculty.SortCanonical(expired)

	switch {
	case len(live) > 0:
		outcome, err := svc.linkRecord(ctx, live[0], p, false)
		if err != nil {
			return 0, err
		}
		retired, err := svc.retireDuplicates(ctx, p.UID, live[0], live[1:])
		if err != nil {
			return 0, err
		}
		if retired {
			outcome = core.Applied
		}
		return outcome, nil
	case len(trashed) > 0:
		return svc.linkRecord(ctx, trashed[0], p, true)
	case len(expired) > 0:
		svc.logger.Info(fmt.Sprintf("restoring expired faculty record %s of %s", expired[0].ID, p.UID))
		return svc.linkRecord(ctx, expired[0], p, true)
	default:
		rec := svc.synthesize(p)
		if _, err := svc.faculty.Create(ctx, rec); err != nil {
			return 0, err
		}
		svc.logger.Info(fmt.Sprintf("synthesized faculty record %s for %s", rec.ID, p.UID))
		return core.Applied, nil
	}
}

func (svc *Service) linkRecord(ctx context.Context, rec faculty.Record, p profile.Profile, restore bool) (core.Outcome, error) {
	var fields faculty.Fields
	if !rec.IsLinkedTo(p.UID) {
		link := null.StringFrom(p.UID)
		fields.LinkedAccountID = &link
	}
	if !rec.HasAccount {
		hasAccount := true
		fields.HasAccount = &hasAccount
	}
	if rec.Role != p.Role {
		role := p.Role
		fields.Role = &role
	}
	if restore {
		fields.DeletedAt = &null.Time{}
	}
	if fields == (faculty.Fields{}) {
		return core.Unchanged, nil
	}
	if err := svc.faculty.Update(ctx, rec.ID, fields); err != nil {
		return 0, err
	}
	return core.Applied, nil
}

// retireDuplicates unlinks and soft-deletes the live duplicates of canonical that are linked to uid.
// Email-only matches are left alone.
func (svc *Service) retireDuplicates(ctx context.Context, uid string, canonical faculty.Record, dups []faculty.Record) (bool, error) {
	conflict := &ReconciliationConflict{UID: uid, Canonical: canonical.ID}
	deletedAt := null.TimeFrom(svc.now())
	for _, rec := range dups {
		if !rec.IsLinkedTo(uid) {
			continue
		}
		fields := faculty.Unlinked()
		fields.DeletedAt = &deletedAt
		if err := svc.faculty.Update(ctx, rec.ID, fields); err != nil {
			return false, err
		}
		conflict.Duplicates = append(conflict.Duplicates, rec.ID)
	}
	if len(conflict.Duplicates) == 0 {
		return false, nil
	}
	svc.logger.Warn(conflict.Error(), conflict)
	return true, nil
}

// SoftDeleteFaculty moves record id to the trash.
func (svc *Service) SoftDeleteFaculty(ctx context.Context, id, actor string) (core.Outcome, error) {
	rec, err := svc.faculty.Get(ctx, id)
	if err != nil {
		return 0, svc.fail("getting faculty record", err)
	}
	if rec.IsDeleted() {
		return core.Unchanged, nil
	}
	deletedAt := null.TimeFrom(svc.now())
	if err := svc.faculty.Update(ctx, id, faculty.Fields{DeletedAt: &deletedAt}); err != nil {
		return 0, svc.fail("soft-deleting faculty record", err)
	}
	svc.logger.Info(fmt.Sprintf("faculty record %s moved to trash by %s", id, actor))
	return core.Applied, nil
}

// RestoreFaculty takes record id out of the trash, as long as it is still restorable.
func (svc *Service) RestoreFaculty(ctx context.Context, id, actor string) (core.Outcome, error) {
	rec, err := svc.faculty.Get(ctx, id)
	if err != nil {
		return 0, svc.fail("getting faculty record", err)
	}
	if !rec.IsDeleted() {
		return core.Unchanged, nil
	}
	if faculty.IsPurgeable(rec, svc.now()) {
		return 0, ErrRestoreWindowElapsed
	}
	if err := svc.faculty.Update(ctx, id, faculty.Fields{DeletedAt: &null.Time{}}); err != nil {
		return 0, svc.fail("restoring faculty record", err)
	}
	svc.logger.Info(fmt.Sprintf("faculty record %s restored by %s", id, actor))
	return core.Applied, nil
}

// PurgeExpiredFaculty hard-deletes every purgeable record and returns how many went.
// A failed removal does not stop the others; the first failure is returned.
func (svc *Service) PurgeExpiredFaculty(ctx context.Context) (int, error) {
	recs, err := svc.faculty.List(ctx)
	if err != nil {
		return 0, svc.fail("listing faculty records", err)
	}
	now := svc.now()
	var (
		purged   int
		firstErr error
	)
	for _, rec := range recs {
		if !faculty.IsPurgeable(rec, now) {
			continue
		}
		if err := svc.faculty.Remove(ctx, rec.ID); err != nil {
			svc.logger.Error(fmt.Sprintf("purging faculty record %s: %v", rec.ID, err), err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		purged++
		svc.publish(ctx, core.Event{
			Type:    core.EventFacultyPurged,
			Subject: rec.ID,
			Data:    map[string]interface{}{"deletedAt": rec.DeletedAt.Time},
		})
	}
	return purged, firstErr
}

type ReconcileReport struct {
	Checked  int `json:"checked"`
	Repaired int `json:"repaired"`
	Failed   int `json:"failed"`
}

// Reconcile runs the faculty record repair over every faculty profile.
func (svc *Service) Reconcile(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport
	profiles, err := svc.profiles.List(ctx)
	if err != nil {
		return report, svc.fail("listing profiles", err)
	}
	for _, p := range profiles {
		if !p.Role.IsFaculty() {
			continue
		}
		report.Checked++
		outcome, err := svc.reconcileFaculty(ctx, p, true)
		switch {
		case err != nil:
			report.Failed++
			svc.logger.Error(fmt.Sprintf("reconciling faculty record of %s: %v", p.UID, err), err)
		case outcome == core.Applied:
			report.Repaired++
		}
	}
	return report, nil
}

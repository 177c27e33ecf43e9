package account_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/suriaral/core"
	"github.com/trezcool/suriaral/core/access"
	"github.com/trezcool/suriaral/core/account"
	"github.com/trezcool/suriaral/core/accesscode"
	"github.com/trezcool/suriaral/core/faculty"
	"github.com/trezcool/suriaral/core/identity"
	"github.com/trezcool/suriaral/core/profile"
	emailsvc "github.com/trezcool/suriaral/services/email"
	"github.com/trezcool/suriaral/storage/kv"
	"github.com/trezcool/suriaral/storage/kv/memstore"
	testutil "github.com/trezcool/suriaral/tests"
)

const pwd = "Tr0ub4dor&3"

type fixture struct {
	svc      *account.Service
	store    *testutil.FaultyStore
	profiles *profile.Store
	faculty  *faculty.Repository
	gate     *accesscode.Gate
	idp      *identity.LocalProvider
	pub      *testutil.Publisher
	mailer   *emailsvc.ConsoleServiceMock
	logger   *testutil.Logger
	clock    *time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)
	validate := testutil.NewValidator()
	store := testutil.NewFaultyStore(memstore.New())
	f := &fixture{
		store:    store,
		profiles: profile.NewStore(store, validate),
		faculty:  faculty.NewRepository(store, validate),
		idp:      identity.NewLocalProvider(store, validate),
		pub:      new(testutil.Publisher),
		mailer:   emailsvc.NewConsoleServiceMock(testutil.NewConfig()),
		logger:   testutil.NewLogger(),
		clock:    &clock,
	}
	f.gate = accesscode.NewGate(store, validate, f.pub, f.logger)
	f.svc = account.NewService(f.profiles, f.faculty, f.gate, f.idp, validate, f.pub, f.mailer, f.logger)
	f.svc.NowFunc = func() time.Time { return *f.clock }
	return f
}

func (f *fixture) advance(d time.Duration) {
	*f.clock = f.clock.Add(d)
}

func (f *fixture) linked(t *testing.T, uid string) []faculty.Record {
	t.Helper()
	recs, err := f.faculty.FindLinked(context.Background(), uid)
	require.NoError(t, err)
	return recs
}

func (f *fixture) live(t *testing.T, uid string) []faculty.Record {
	t.Helper()
	return faculty.Filter(f.linked(t, uid), faculty.ViewActive, *f.clock)
}

func TestService_SetRole(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	testutil.CreateProfile(t, f.profiles, "u1", "maria.santos@school.test", access.RoleStudent, "SCH-1")

	outcome, err := f.svc.SetRole(ctx, "u1", access.RoleAdmin, nil, "boss")
	require.NoError(t, err)
	assert.Equal(t, core.Applied, outcome)

	p, err := f.profiles.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, access.RoleAdmin, p.Role)

	recs := f.live(t, "u1")
	require.Len(t, recs, 1, "exactly one faculty record")
	rec := recs[0]
	assert.Equal(t, account.FacultyID("u1"), rec.ID)
	assert.Equal(t, "maria.santos", rec.FirstName)
	assert.Equal(t, access.RoleAdmin, rec.Role)
	assert.Equal(t, "School Administrator", rec.Position)
	assert.Equal(t, faculty.PendingEmployeeID, rec.EmployeeID)
	assert.Equal(t, faculty.StatusPermanent, rec.Status)
	assert.Equal(t, "SCH-1", rec.SchoolID.String)
	assert.True(t, rec.HasAccount)

	outcome, err = f.svc.SetRole(ctx, "u1", access.RoleAdmin, nil, "boss")
	require.NoError(t, err)
	assert.Equal(t, core.Unchanged, outcome)
	assert.Len(t, f.live(t, "u1"), 1)

	outcome, err = f.svc.SetRole(ctx, "u1", access.RoleTeacher, nil, "boss")
	require.NoError(t, err)
	assert.Equal(t, core.Applied, outcome)
	recs = f.live(t, "u1")
	require.Len(t, recs, 1)
	assert.Equal(t, access.RoleTeacher, recs[0].Role, "only the role of the existing record changes")
	assert.Equal(t, "School Administrator", recs[0].Position)

	assert.Equal(t, []string{core.EventRoleChanged, core.EventRoleChanged}, f.pub.Types())
	sent := f.mailer.SentMessages()
	require.Len(t, sent, 2)
	assert.Contains(t, sent[1].TextContent, "teacher")
}

func TestService_SetRoleOverrides(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	testutil.CreateProfile(t, f.profiles, "u1", "ana@school.test", access.RoleStudent, "SCH-1")

	overrides := access.Overrides{access.UseAITools: access.Deny}
	outcome, err := f.svc.SetRole(ctx, "u1", access.RoleStudent, &overrides, "boss")
	require.NoError(t, err)
	assert.Equal(t, core.Applied, outcome)
	assert.Empty(t, f.pub.Types(), "the role did not change")
	assert.Empty(t, f.linked(t, "u1"), "students have no faculty record")

	p, _ := f.profiles.Get(ctx, "u1")
	assert.Equal(t, access.Deny, p.Overrides.Lookup(access.UseAITools))

	outcome, err = f.svc.SetRole(ctx, "u1", access.RoleStudent, &overrides, "boss")
	require.NoError(t, err)
	assert.Equal(t, core.Unchanged, outcome)
}

func TestService_SetRoleErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	testutil.CreateProfile(t, f.profiles, "u1", "ana@school.test", access.RoleStudent, "SCH-1")

	_, err := f.svc.SetRole(ctx, "u1", access.Role("janitor"), nil, "boss")
	assert.True(t, core.IsValidationError(err))

	_, err = f.svc.SetRole(ctx, "ghost", access.RoleTeacher, nil, "boss")
	assert.Equal(t, profile.ErrNotFound, err)

	// the profile is written but the faculty record is not
	f.store.Fail("set", "teachers")
	outcome, err := f.svc.SetRole(ctx, "u1", access.RoleTeacher, nil, "boss")
	require.Error(t, err)
	assert.True(t, kv.IsStoreError(err))
	assert.Equal(t, core.Outcome(0), outcome)
	assert.True(t, f.logger.Logged("error", "reconciling faculty record"))
	p, _ := f.profiles.Get(ctx, "u1")
	assert.Equal(t, access.RoleTeacher, p.Role)
	assert.Empty(t, f.linked(t, "u1"))

	// retrying converges
	f.store.Heal()
	outcome, err = f.svc.SetRole(ctx, "u1", access.RoleTeacher, nil, "boss")
	require.NoError(t, err)
	assert.Equal(t, core.Applied, outcome)
	assert.Len(t, f.live(t, "u1"), 1)
}

func TestService_EnsureFacultyRecord(t *testing.T) {
	ctx := context.Background()

	t.Run("idempotent", func(t *testing.T) {
		f := newFixture(t)
		ident := identity.Identity{UID: "u1", Email: "juan.dela.cruz@school.test", DisplayName: "Juan Dela Cruz"}

		outcome, err := f.svc.EnsureFacultyRecord(ctx, ident, access.RoleTeacher)
		require.NoError(t, err)
		assert.Equal(t, core.Applied, outcome)
		outcome, err = f.svc.EnsureFacultyRecord(ctx, ident, access.RoleTeacher)
		require.NoError(t, err)
		assert.Equal(t, core.Unchanged, outcome)

		recs := f.live(t, "u1")
		require.Len(t, recs, 1)
		assert.Equal(t, "Juan Dela", recs[0].FirstName)
		assert.Equal(t, "Cruz", recs[0].LastName)
		assert.Equal(t, "Teacher I", recs[0].Position)
	})

	t.Run("students are left alone", func(t *testing.T) {
		f := newFixture(t)
		outcome, err := f.svc.EnsureFacultyRecord(ctx, identity.Identity{UID: "u1"}, access.RoleStudent)
		require.NoError(t, err)
		assert.Equal(t, core.Unchanged, outcome)
	})

	t.Run("adopts an unlinked record with the same email", func(t *testing.T) {
		f := newFixture(t)
		existing := testutil.CreateFaculty(t, f.faculty, faculty.Record{
			FirstName:  "Juan",
			LastName:   "Cruz",
			Email:      "juan@school.test",
			EmployeeID: "EMP-42",
			CreatedAt:  f.clock.Add(-time.Hour),
		})
		testutil.CreateFaculty(t, f.faculty, faculty.Record{
			FirstName:       "Someone",
			Email:           "juan@school.test",
			LinkedAccountID: null.StringFrom("another-account"),
			CreatedAt:       f.clock.Add(-2 * time.Hour),
		})

		outcome, err := f.svc.EnsureFacultyRecord(ctx, identity.Identity{UID: "u1", Email: "juan@school.test"}, access.RoleTeacher)
		require.NoError(t, err)
		assert.Equal(t, core.Applied, outcome)

		recs := f.live(t, "u1")
		require.Len(t, recs, 1)
		assert.Equal(t, existing.ID, recs[0].ID)
		assert.Equal(t, "EMP-42", recs[0].EmployeeID)
		assert.Equal(t, access.RoleTeacher, recs[0].Role)
		assert.Len(t, f.linked(t, "another-account"), 1, "records of other accounts are not taken")
	})

	t.Run("restores a trashed record", func(t *testing.T) {
		f := newFixture(t)
		trashed := testutil.CreateFaculty(t, f.faculty, faculty.Record{
			FirstName:       "Juan",
			LinkedAccountID: null.StringFrom("u1"),
			Role:            access.RoleTeacher,
			HasAccount:      true,
			CreatedAt:       f.clock.Add(-time.Hour),
			DeletedAt:       null.TimeFrom(f.clock.Add(-time.Minute)),
		})

		_, err := f.svc.EnsureFacultyRecord(ctx, identity.Identity{UID: "u1", Email: "juan@school.test"}, access.RoleTeacher)
		require.NoError(t, err)
		recs := f.live(t, "u1")
		require.Len(t, recs, 1)
		assert.Equal(t, trashed.ID, recs[0].ID)
	})

	t.Run("restores an expired record that was not purged yet", func(t *testing.T) {
		f := newFixture(t)
		expired := testutil.CreateFaculty(t, f.faculty, faculty.Record{
			FirstName:       "Juan",
			EmployeeID:      "EMP-7",
			LinkedAccountID: null.StringFrom("u1"),
			Role:            access.RoleTeacher,
			HasAccount:      true,
			CreatedAt:       f.clock.Add(-30 * 24 * time.Hour),
			DeletedAt:       null.TimeFrom(f.clock.Add(-8 * 24 * time.Hour)),
		})
		testutil.CreateFaculty(t, f.faculty, faculty.Record{
			FirstName: "Juan",
			Email:     "juan@school.test",
			CreatedAt: f.clock.Add(-30 * 24 * time.Hour),
			DeletedAt: null.TimeFrom(f.clock.Add(-9 * 24 * time.Hour)),
		})

		outcome, err := f.svc.EnsureFacultyRecord(ctx, identity.Identity{UID: "u1", Email: "juan@school.test"}, access.RoleTeacher)
		require.NoError(t, err)
		assert.Equal(t, core.Applied, outcome)

		recs := f.linked(t, "u1")
		require.Len(t, recs, 1, "no record is synthesized next to the expired one")
		assert.Equal(t, expired.ID, recs[0].ID)
		assert.False(t, recs[0].IsDeleted())
		assert.Equal(t, "EMP-7", recs[0].EmployeeID)
	})

	t.Run("retires duplicates", func(t *testing.T) {
		f := newFixture(t)
		canonical := testutil.CreateFaculty(t, f.faculty, faculty.Record{
			FirstName:       "Juan",
			LinkedAccountID: null.StringFrom("u1"),
			Role:            access.RoleTeacher,
			HasAccount:      true,
			CreatedAt:       f.clock.Add(-2 * time.Hour),
		})
		dup := testutil.CreateFaculty(t, f.faculty, faculty.Record{
			FirstName:       "Juan",
			LinkedAccountID: null.StringFrom("u1"),
			Role:            access.RoleTeacher,
			HasAccount:      true,
			CreatedAt:       f.clock.Add(-time.Hour),
		})

		outcome, err := f.svc.EnsureFacultyRecord(ctx, identity.Identity{UID: "u1", Email: "juan@school.test"}, access.RoleTeacher)
		require.NoError(t, err, "conflicts are repaired, not returned")
		assert.Equal(t, core.Applied, outcome)

		recs := f.live(t, "u1")
		require.Len(t, recs, 1)
		assert.Equal(t, canonical.ID, recs[0].ID, "the oldest record wins")

		got, err := f.faculty.Get(ctx, dup.ID)
		require.NoError(t, err)
		assert.True(t, got.IsDeleted())
		assert.False(t, got.LinkedAccountID.Valid)

		warns := f.logger.Entries("warn")
		require.Len(t, warns, 1)
		var conflict *account.ReconciliationConflict
		require.IsType(t, conflict, warns[0].Args[0])
		conflict = warns[0].Args[0].(*account.ReconciliationConflict)
		assert.Equal(t, []string{dup.ID}, conflict.Duplicates)
	})
}

func TestService_SetDisabled(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	testutil.CreateProfile(t, f.profiles, "u1", "ana@school.test", access.RoleTeacher, "SCH-1")

	outcome, err := f.svc.SetDisabled(ctx, "u1", true, "boss")
	require.NoError(t, err)
	assert.Equal(t, core.Applied, outcome)
	outcome, err = f.svc.SetDisabled(ctx, "u1", true, "boss")
	require.NoError(t, err)
	assert.Equal(t, core.Unchanged, outcome)

	p, _ := f.profiles.Get(ctx, "u1")
	assert.True(t, p.Disabled)
	assert.Equal(t, access.RoleTeacher, p.Role, "only the flag changes")

	outcome, err = f.svc.SetDisabled(ctx, "u1", false, "boss")
	require.NoError(t, err)
	assert.Equal(t, core.Applied, outcome)

	assert.Equal(t, []string{core.EventAccountDisabled, core.EventAccountEnabled}, f.pub.Types())
	sent := f.mailer.SentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, "account_disabled", sent[0].TemplateName)

	_, err = f.svc.SetDisabled(ctx, "ghost", true, "boss")
	assert.Equal(t, profile.ErrNotFound, err)
}

func TestService_DeleteAccount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p, err := f.svc.Provision(ctx, account.NewUser{
		NewAccount: identity.NewAccount{Email: "ana@school.test", Password: pwd, DisplayName: "Ana Lima"},
		Role:       access.RoleTeacher,
		SchoolID:   null.StringFrom("SCH-1"),
	}, "boss")
	require.NoError(t, err)
	require.Len(t, f.live(t, p.UID), 1)

	outcome, err := f.svc.DeleteAccount(ctx, p.UID, "boss")
	require.NoError(t, err)
	assert.Equal(t, core.Applied, outcome)

	_, err = f.profiles.Get(ctx, p.UID)
	assert.Equal(t, profile.ErrNotFound, err)
	_, err = f.idp.Get(ctx, p.UID)
	assert.Equal(t, identity.ErrNotFound, err)
	assert.Empty(t, f.linked(t, p.UID))

	recs, err := f.faculty.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1, "the faculty record is kept")
	assert.False(t, recs[0].HasAccount)
	assert.False(t, recs[0].IsDeleted())

	outcome, err = f.svc.DeleteAccount(ctx, p.UID, "boss")
	require.NoError(t, err)
	assert.Equal(t, core.Unchanged, outcome)
}

func TestService_DeleteAccountIdentityFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p, err := f.svc.Provision(ctx, account.NewUser{
		NewAccount: identity.NewAccount{Email: "ana@school.test", Password: pwd, DisplayName: "Ana Lima"},
		Role:       access.RoleStudent,
		SchoolID:   null.StringFrom("SCH-1"),
	}, "boss")
	require.NoError(t, err)

	f.store.Fail("remove", "auth")
	outcome, err := f.svc.DeleteAccount(ctx, p.UID, "boss")
	require.NoError(t, err, "revoking the identity is best effort")
	assert.Equal(t, core.Applied, outcome)
	assert.True(t, f.logger.Logged("warn", "revoking identity"))
	_, err = f.profiles.Get(ctx, p.UID)
	assert.Equal(t, profile.ErrNotFound, err)
}

func TestService_SoftDeleteRestorePurge(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rec := testutil.CreateFaculty(t, f.faculty, faculty.Record{FirstName: "Ana", CreatedAt: *f.clock})
	other := testutil.CreateFaculty(t, f.faculty, faculty.Record{FirstName: "Bo", CreatedAt: *f.clock})

	outcome, err := f.svc.SoftDeleteFaculty(ctx, rec.ID, "boss")
	require.NoError(t, err)
	assert.Equal(t, core.Applied, outcome)
	outcome, err = f.svc.SoftDeleteFaculty(ctx, rec.ID, "boss")
	require.NoError(t, err)
	assert.Equal(t, core.Unchanged, outcome)

	f.advance(3 * 24 * time.Hour)
	outcome, err = f.svc.RestoreFaculty(ctx, rec.ID, "boss")
	require.NoError(t, err)
	assert.Equal(t, core.Applied, outcome)
	outcome, err = f.svc.RestoreFaculty(ctx, rec.ID, "boss")
	require.NoError(t, err)
	assert.Equal(t, core.Unchanged, outcome)

	_, err = f.svc.SoftDeleteFaculty(ctx, rec.ID, "boss")
	require.NoError(t, err)
	_, err = f.svc.SoftDeleteFaculty(ctx, other.ID, "boss")
	require.NoError(t, err)

	f.advance(faculty.RetentionWindow)
	purged, err := f.svc.PurgeExpiredFaculty(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, purged, "exactly at the window, still restorable")

	f.advance(time.Second)
	_, err = f.svc.RestoreFaculty(ctx, rec.ID, "boss")
	assert.Equal(t, account.ErrRestoreWindowElapsed, err)

	purged, err = f.svc.PurgeExpiredFaculty(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, purged)
	assert.Equal(t, []string{core.EventFacultyPurged, core.EventFacultyPurged}, f.pub.Types())

	_, err = f.svc.RestoreFaculty(ctx, rec.ID, "boss")
	assert.Equal(t, faculty.ErrNotFound, err, "nothing left to restore")

	purged, err = f.svc.PurgeExpiredFaculty(ctx)
	require.NoError(t, err)
	assert.Zero(t, purged)
}

func TestService_PurgeContinuesAfterFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	old := null.TimeFrom(f.clock.Add(-30 * 24 * time.Hour))
	testutil.CreateFaculty(t, f.faculty, faculty.Record{ID: "a", FirstName: "A", DeletedAt: old})
	testutil.CreateFaculty(t, f.faculty, faculty.Record{ID: "b", FirstName: "B", DeletedAt: old})

	f.store.Fail("remove", faculty.Path("a"))
	purged, err := f.svc.PurgeExpiredFaculty(ctx)
	assert.Error(t, err)
	assert.Equal(t, 1, purged)
	_, err = f.faculty.Get(ctx, "b")
	assert.Equal(t, faculty.ErrNotFound, err)
}

func TestService_Reconcile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	testutil.CreateProfile(t, f.profiles, "t1", "t1@school.test", access.RoleTeacher, "SCH-1")
	testutil.CreateProfile(t, f.profiles, "t2", "t2@school.test", access.RoleAdmin, "SCH-1")
	testutil.CreateProfile(t, f.profiles, "s1", "s1@school.test", access.RoleStudent, "SCH-1")
	_, err := f.svc.EnsureFacultyRecord(ctx, identity.Identity{UID: "t2", Email: "t2@school.test"}, access.RoleAdmin)
	require.NoError(t, err)

	report, err := f.svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, account.ReconcileReport{Checked: 2, Repaired: 1}, report)

	report, err = f.svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, account.ReconcileReport{Checked: 2}, report)
}

func TestService_Register(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ac := testutil.CreateAccessCode(t, f.gate, "ABC123", access.RoleTeacher, "SCH-1")

	in := account.RegisterInput{
		Code:       "ABC123",
		NewAccount: identity.NewAccount{Email: "ana@school.test", Password: pwd, DisplayName: "Ana Lima"},
	}
	p, err := f.svc.Register(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, access.RoleTeacher, p.Role)
	assert.Equal(t, "SCH-1", p.SchoolID.String)

	stored, err := f.profiles.Get(ctx, p.UID)
	require.NoError(t, err)
	assert.Equal(t, p.Email, stored.Email)
	assert.Len(t, f.live(t, p.UID), 1)

	got, err := f.gate.Get(ctx, ac.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.UsageCount)

	assert.Contains(t, f.pub.Types(), core.EventAccountRegistered)
	sent := f.mailer.SentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, "welcome", sent[0].TemplateName)
	assert.Contains(t, sent[0].TextContent, "Ana Lima")

	_, err = f.svc.Register(ctx, account.RegisterInput{
		Code:       "XYZ999",
		NewAccount: identity.NewAccount{Email: "bo@school.test", Password: pwd, DisplayName: "Bo"},
	})
	var rej *accesscode.Rejection
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, accesscode.NotFound, rej.Reason)
	_, err = f.idp.GetByEmail(ctx, "bo@school.test")
	assert.Equal(t, identity.ErrNotFound, err, "no identity for a refused code")
}

func TestService_RegisterPartialFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("counting the code", func(t *testing.T) {
		f := newFixture(t)
		ac := testutil.CreateAccessCode(t, f.gate, "ABC123", access.RoleStudent, "SCH-1")
		f.store.Fail("increment", "access_codes")

		p, err := f.svc.Register(ctx, account.RegisterInput{
			Code:       "ABC123",
			NewAccount: identity.NewAccount{Email: "ana@school.test", Password: pwd, DisplayName: "Ana Lima"},
		})
		require.NoError(t, err, "the account still gets created")
		assert.NotEmpty(t, p.UID)
		assert.True(t, f.logger.Logged("warn", "counting redemption"))

		f.store.Heal()
		got, _ := f.gate.Get(ctx, ac.ID)
		assert.Zero(t, got.UsageCount)
	})

	t.Run("writing the profile", func(t *testing.T) {
		f := newFixture(t)
		testutil.CreateAccessCode(t, f.gate, "ABC123", access.RoleStudent, "SCH-1")
		f.store.Fail("set", "users")

		_, err := f.svc.Register(ctx, account.RegisterInput{
			Code:       "ABC123",
			NewAccount: identity.NewAccount{Email: "ana@school.test", Password: pwd, DisplayName: "Ana Lima"},
		})
		assert.True(t, kv.IsStoreError(err))
		_, err = f.idp.GetByEmail(ctx, "ana@school.test")
		assert.Equal(t, identity.ErrNotFound, err, "the identity is rolled back")
	})
}

func TestService_Provision(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.Provision(ctx, account.NewUser{
		NewAccount: identity.NewAccount{Email: "ana@school.test", Password: pwd, DisplayName: "Ana Lima"},
		Role:       access.RoleStudent,
	}, "boss")
	assert.True(t, core.IsValidationError(err), "students need a school")

	p, err := f.svc.Provision(ctx, account.NewUser{
		NewAccount: identity.NewAccount{Email: "root@school.test", Password: pwd, DisplayName: "Root"},
		Role:       access.RoleAdmin,
	}, "boss")
	require.NoError(t, err)
	assert.Equal(t, access.RoleAdmin, p.Role)
	assert.False(t, p.SchoolID.Valid)
}

func TestService_SignIn(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ident, err := f.idp.Create(ctx, identity.NewAccount{Email: "ana@school.test", Password: pwd, DisplayName: "Ana Lima"})
	require.NoError(t, err)
	require.NoError(t, f.profiles.Set(ctx, profile.Profile{
		UID: ident.UID, Email: ident.Email, DisplayName: ident.DisplayName, Role: access.RoleTeacher, CreatedAt: *f.clock,
	}))

	p, err := f.svc.SignIn(ctx, ident)
	require.NoError(t, err)
	assert.Equal(t, access.RoleTeacher, p.Role)
	assert.Len(t, f.live(t, ident.UID), 1, "repaired at sign-in")

	_, err = f.svc.SetDisabled(ctx, ident.UID, true, "boss")
	require.NoError(t, err)
	_, err = f.svc.SignIn(ctx, ident)
	assert.True(t, identity.IsAuthError(err, identity.UserDisabled))

	f.store.Fail("list", "teachers")
	_, err = f.svc.SetDisabled(ctx, ident.UID, false, "boss")
	require.NoError(t, err)
	_, err = f.svc.SignIn(ctx, ident)
	assert.NoError(t, err, "a failed repair does not block the sign-in")
	assert.True(t, f.logger.Logged("error", "ensuring faculty record"))
}

func TestSplitName(t *testing.T) {
	tests := []struct {
		name, display, email string
		first, last          string
	}{
		{"full", "Maria Clara Santos", "m@x.test", "Maria Clara", "Santos"},
		{"single", "Maria", "m@x.test", "Maria", ""},
		{"blank", "  ", "maria.s@x.test", "maria.s", ""},
		{"nothing", "", "", "Unknown", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			first, last := account.SplitName(tc.display, tc.email)
			assert.Equal(t, tc.first, first)
			assert.Equal(t, tc.last, last)
		})
	}
}

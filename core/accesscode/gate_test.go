package accesscode_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/suriaral/core"
	"github.com/trezcool/suriaral/core/access"
	"github.com/trezcool/suriaral/core/accesscode"
	"github.com/trezcool/suriaral/storage/kv/memstore"
	testutil "github.com/trezcool/suriaral/tests"
)

var now = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newGate(t *testing.T) (*accesscode.Gate, *testutil.FaultyStore, *testutil.Publisher) {
	t.Helper()
	store := testutil.NewFaultyStore(memstore.New())
	pub := new(testutil.Publisher)
	gate := accesscode.NewGate(store, testutil.NewValidator(), pub, testutil.NewLogger())
	gate.NowFunc = func() time.Time { return now }
	return gate, store, pub
}

func rejection(t *testing.T, err error) accesscode.Reason {
	t.Helper()
	var rej *accesscode.Rejection
	require.ErrorAs(t, err, &rej)
	return rej.Reason
}

func TestGate_Redeem(t *testing.T) {
	ctx := context.Background()
	gate, _, _ := newGate(t)

	testutil.CreateAccessCode(t, gate, "ABC123", access.RoleStudent, "SCH-1", now.Add(24*time.Hour))
	testutil.CreateAccessCode(t, gate, "XYZ999", access.RoleTeacher, "")
	testutil.CreateAccessCode(t, gate, "PRIN-01", access.RolePrincipal, "")
	testutil.CreateAccessCode(t, gate, "OLD-777", access.RoleStudent, "SCH-1", now.Add(-time.Minute))
	revoked := testutil.CreateAccessCode(t, gate, "GONE-01", access.RoleStudent, "SCH-1")
	_, err := gate.Revoke(ctx, revoked.ID, "admin")
	require.NoError(t, err)
	expiredAndRevoked := testutil.CreateAccessCode(t, gate, "OLD-888", access.RoleStudent, "SCH-1", now.Add(-time.Hour))
	_, err = gate.Revoke(ctx, expiredAndRevoked.ID, "admin")
	require.NoError(t, err)
	testutil.CreateAccessCode(t, gate, "EDGE-01", access.RoleStudent, "SCH-2", now)

	tests := []struct {
		name       string
		code       string
		wantRole   access.Role
		wantSchool null.String
		wantReason accesscode.Reason
	}{
		{name: "student code", code: "ABC123", wantRole: access.RoleStudent, wantSchool: null.StringFrom("SCH-1")},
		{name: "surrounding spaces", code: "  ABC123 ", wantRole: access.RoleStudent, wantSchool: null.StringFrom("SCH-1")},
		{name: "principal needs no school", code: "PRIN-01", wantRole: access.RolePrincipal},
		{name: "expires right now", code: "EDGE-01", wantRole: access.RoleStudent, wantSchool: null.StringFrom("SCH-2")},
		{name: "teacher without school", code: "XYZ999", wantReason: accesscode.MissingSchoolBinding},
		{name: "expired", code: "OLD-777", wantReason: accesscode.Expired},
		{name: "expired wins over inactive", code: "OLD-888", wantReason: accesscode.Expired},
		{name: "revoked", code: "GONE-01", wantReason: accesscode.Inactive},
		{name: "unknown", code: "NOPE-42", wantReason: accesscode.NotFound},
		{name: "case sensitive", code: "abc123", wantReason: accesscode.NotFound},
		{name: "empty", code: "   ", wantReason: accesscode.Malformed},
		{name: "bad characters", code: "ABC/123", wantReason: accesscode.Malformed},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := gate.Redeem(ctx, tc.code)
			if tc.wantReason != "" {
				assert.Equal(t, tc.wantReason, rejection(t, err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantRole, got.Role)
			assert.Equal(t, tc.wantSchool, got.SchoolID)
			assert.NotEmpty(t, got.CodeID)
		})
	}
}

func TestGate_RedeemDoesNotCountUsage(t *testing.T) {
	ctx := context.Background()
	gate, _, _ := newGate(t)
	ac := testutil.CreateAccessCode(t, gate, "ABC123", access.RoleStudent, "SCH-1")

	for i := 0; i < 3; i++ {
		_, err := gate.Redeem(ctx, "ABC123")
		require.NoError(t, err)
	}
	got, err := gate.Get(ctx, ac.ID)
	require.NoError(t, err)
	assert.Zero(t, got.UsageCount)
}

func TestGate_ConfirmRedemption(t *testing.T) {
	ctx := context.Background()
	gate, store, _ := newGate(t)
	ac := testutil.CreateAccessCode(t, gate, "ABC123", access.RoleStudent, "SCH-1")

	for i := 1; i <= 2; i++ {
		red, err := gate.Redeem(ctx, "ABC123")
		require.NoError(t, err)
		count, err := gate.ConfirmRedemption(ctx, red.CodeID)
		require.NoError(t, err)
		assert.EqualValues(t, i, count)
	}
	got, err := gate.Get(ctx, ac.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, got.UsageCount)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = gate.ConfirmRedemption(ctx, ac.ID)
		}()
	}
	wg.Wait()
	got, _ = gate.Get(ctx, ac.ID)
	assert.EqualValues(t, 22, got.UsageCount, "no lost update")

	_, err = gate.ConfirmRedemption(ctx, "missing")
	assert.Equal(t, accesscode.ErrNotFound, err)

	store.Fail("increment", "")
	_, err = gate.ConfirmRedemption(ctx, ac.ID)
	assert.Error(t, err)
}

func TestGate_Create(t *testing.T) {
	ctx := context.Background()
	gate, _, _ := newGate(t)

	ac, err := gate.Create(ctx, accesscode.NewAccessCode{Role: access.RoleTeacher, SchoolID: null.StringFrom(" SCH-9 ")}, "coordinator")
	require.NoError(t, err)
	assert.Len(t, ac.Code, 6)
	assert.True(t, accesscode.IsWellFormed(ac.Code))
	assert.True(t, ac.Active)
	assert.Equal(t, "SCH-9", ac.SchoolID.String)
	assert.Equal(t, "coordinator", ac.CreatedBy)
	assert.Equal(t, now, ac.CreatedAt)

	_, err = gate.Create(ctx, accesscode.NewAccessCode{Code: ac.Code, Role: access.RoleStudent}, "coordinator")
	assert.True(t, core.IsValidationError(err), "code strings are unique")

	_, err = gate.Create(ctx, accesscode.NewAccessCode{Code: "A B", Role: access.RoleStudent}, "coordinator")
	assert.Error(t, err)
	_, err = gate.Create(ctx, accesscode.NewAccessCode{Code: "GOOD-1", Role: "janitor"}, "coordinator")
	assert.Error(t, err)

	codes, err := gate.List(ctx)
	require.NoError(t, err)
	assert.Len(t, codes, 1)
}

func TestGate_RevokeReactivate(t *testing.T) {
	ctx := context.Background()
	gate, _, pub := newGate(t)
	ac := testutil.CreateAccessCode(t, gate, "ABC123", access.RoleStudent, "SCH-1")

	out, err := gate.Revoke(ctx, ac.ID, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, core.Applied, out)
	out, err = gate.Revoke(ctx, ac.ID, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, core.Unchanged, out)

	_, err = gate.Redeem(ctx, "ABC123")
	assert.Equal(t, accesscode.Inactive, rejection(t, err))

	out, err = gate.Reactivate(ctx, ac.ID, "admin-2")
	require.NoError(t, err)
	assert.Equal(t, core.Applied, out)
	out, err = gate.Reactivate(ctx, ac.ID, "admin-2")
	require.NoError(t, err)
	assert.Equal(t, core.Unchanged, out)

	got, err := gate.Get(ctx, ac.ID)
	require.NoError(t, err)
	assert.True(t, got.Active)
	assert.Equal(t, null.StringFrom("admin-2"), got.ReactivatedBy)
	assert.True(t, got.ReactivatedAt.Valid)

	_, err = gate.Redeem(ctx, "ABC123")
	assert.NoError(t, err)

	assert.Equal(t, []string{core.EventAccessCodeRevoked, core.EventAccessCodeReactivate}, pub.Types())
	assert.Equal(t, "admin-2", pub.Events()[1].Actor)

	_, err = gate.Revoke(ctx, "missing", "admin-1")
	assert.Equal(t, accesscode.ErrNotFound, err)
}

func TestGate_Delete(t *testing.T) {
	ctx := context.Background()
	gate, _, _ := newGate(t)
	ac := testutil.CreateAccessCode(t, gate, "ABC123", access.RoleStudent, "SCH-1")

	require.NoError(t, gate.Delete(ctx, ac.ID))
	_, err := gate.Redeem(ctx, "ABC123")
	assert.Equal(t, accesscode.NotFound, rejection(t, err))
	assert.Equal(t, accesscode.ErrNotFound, gate.Delete(ctx, ac.ID))
}

func TestGate_StoreErrorIsNotARejection(t *testing.T) {
	ctx := context.Background()
	gate, store, _ := newGate(t)
	testutil.CreateAccessCode(t, gate, "ABC123", access.RoleStudent, "SCH-1")

	store.Fail("list", "")
	_, err := gate.Redeem(ctx, "ABC123")
	require.Error(t, err)
	var rej *accesscode.Rejection
	assert.False(t, errors.As(err, &rej))
}

package access

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsFor(t *testing.T) {
	tests := []struct {
		role    Role
		perm    Permission
		granted bool
	}{
		{RoleTeacher, EditGrades, true},
		{RoleTeacher, ManageUsers, false},
		{RoleStudent, ViewGrades, true},
		{RoleStudent, EditGrades, false},
		{RolePrincipal, ManageTeachers, true},
		{RolePrincipal, EditGrades, false},
		{RoleICTCoordinator, ManageAccessCodes, true},
		{RoleICTCoordinator, ManageSchools, false},
		{Role("janitor"), ViewResources, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.role)+"/"+string(tt.perm), func(t *testing.T) {
			if got := DefaultsFor(tt.role).Has(tt.perm); got != tt.granted {
				t.Errorf("DefaultsFor(%s).Has(%s) = %v, want %v", tt.role, tt.perm, got, tt.granted)
			}
		})
	}
}

func TestDefaultsFor_coversEveryRole(t *testing.T) {
	for _, role := range AllRoles {
		_, ok := matrix[role]
		assert.True(t, ok, "no matrix row for %s", role)
	}
	for _, p := range AllPermissions {
		assert.True(t, DefaultsFor(RoleAdmin).Has(p), "admin must be granted %s", p)
	}
}

func TestDefaultsFor_returnsCopy(t *testing.T) {
	set := DefaultsFor(RoleStudent)
	set[ManageUsers] = struct{}{}
	assert.False(t, DefaultsFor(RoleStudent).Has(ManageUsers))
}

func TestParseRoleAndPermission(t *testing.T) {
	r, err := ParseRole("ict_coordinator")
	require.NoError(t, err)
	assert.Equal(t, RoleICTCoordinator, r)

	_, err = ParseRole("superuser")
	assert.ErrorIs(t, err, ErrInvalidRole)

	p, err := ParsePermission("edit_grades")
	require.NoError(t, err)
	assert.Equal(t, EditGrades, p)

	_, err = ParsePermission("launch_missiles")
	assert.ErrorIs(t, err, ErrInvalidPermission)
}

func TestRole_traits(t *testing.T) {
	assert.True(t, RoleTeacher.IsFaculty())
	assert.True(t, RoleAdmin.IsFaculty())
	assert.False(t, RolePrincipal.IsFaculty())
	assert.True(t, RoleStudent.RequiresSchool())
	assert.True(t, RoleTeacher.RequiresSchool())
	assert.False(t, RoleAdmin.RequiresSchool())
	assert.Greater(t, RoleAdmin.Priority(), RolePrincipal.Priority())
}

func TestOverrides_JSON(t *testing.T) {
	o := Overrides{EditGrades: Deny, UploadResources: Allow, ViewReports: Inherit}

	data, err := json.Marshal(o)
	require.NoError(t, err)
	assert.JSONEq(t, `{"edit_grades": false, "upload_resources": true}`, string(data))

	var decoded Overrides
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, Deny, decoded.Lookup(EditGrades))
	assert.Equal(t, Allow, decoded.Lookup(UploadResources))
	assert.Equal(t, Inherit, decoded.Lookup(ViewReports))
	assert.True(t, o.Equal(decoded))

	assert.Error(t, json.Unmarshal([]byte(`{"fly": true}`), &decoded))
}

func TestOverrides_Set(t *testing.T) {
	var nilOverrides Overrides
	assert.Equal(t, Inherit, nilOverrides.Lookup(EditGrades))

	o := make(Overrides)
	o.Set(EditGrades, Deny)
	assert.Equal(t, Deny, o.Lookup(EditGrades))
	o.Set(EditGrades, Inherit)
	_, present := o[EditGrades]
	assert.False(t, present)
}

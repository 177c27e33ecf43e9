// Package access holds the closed sets of roles and permissions and the static table
// of which permissions each role grants by default.
package access

import (
	"sort"

	"github.com/pkg/errors"
)

type Permission string

const (
	ManageUsers       Permission = "manage_users"
	ManageAccessCodes Permission = "manage_access_codes"
	ManageSchools     Permission = "manage_schools"
	ManageTeachers    Permission = "manage_teachers"
	ManageStudents    Permission = "manage_students"
	ManageClasses     Permission = "manage_classes"
	ManageSubjects    Permission = "manage_subjects"
	EditGrades        Permission = "edit_grades"
	ViewGrades        Permission = "view_grades"
	ViewReports       Permission = "view_reports"
	ViewResources     Permission = "view_resources"
	UploadResources   Permission = "upload_resources"
	SendNotifications Permission = "send_notifications"
	UseAITools        Permission = "use_ai_tools"
)

var (
	ErrInvalidPermission = errors.New("invalid permission")

	AllPermissions = []Permission{
		ManageUsers, ManageAccessCodes, ManageSchools, ManageTeachers, ManageStudents,
		ManageClasses, ManageSubjects, EditGrades, ViewGrades, ViewReports,
		ViewResources, UploadResources, SendNotifications, UseAITools,
	}

	knownPermissions = NewPermissionSet(AllPermissions...)
)

func ParsePermission(s string) (Permission, error) {
	p := Permission(s)
	if !p.IsValid() {
		return "", errors.Wrapf(ErrInvalidPermission, "%q", s)
	}
	return p, nil
}

func (p Permission) IsValid() bool {
	return knownPermissions.Has(p)
}

func (p Permission) String() string { return string(p) }

// PermissionSet is an immutable-by-convention set of permissions.
type PermissionSet map[Permission]struct{}

func NewPermissionSet(perms ...Permission) PermissionSet {
	set := make(PermissionSet, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return set
}

func (set PermissionSet) Has(p Permission) bool {
	_, ok := set[p]
	return ok
}

// Sorted lists the set in a stable order (JSON responses, logs).
func (set PermissionSet) Sorted() []Permission {
	perms := make([]Permission, 0, len(set))
	for p := range set {
		perms = append(perms, p)
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i] < perms[j] })
	return perms
}

package access

// matrix is the default grant table. Anything not listed for a role is denied.
var matrix = map[Role]PermissionSet{
	RoleAdmin: NewPermissionSet(AllPermissions...),
	RolePrincipal: NewPermissionSet(
		ManageTeachers, ManageStudents, ManageClasses, ManageSubjects,
		ViewGrades, ViewReports, ViewResources, SendNotifications, UseAITools,
	),
	RoleICTCoordinator: NewPermissionSet(
		ManageUsers, ManageAccessCodes, ManageStudents,
		ViewReports, ViewResources, UploadResources, SendNotifications,
	),
	RoleTeacher: NewPermissionSet(
		ManageClasses, EditGrades, ViewGrades, ViewReports,
		ViewResources, UploadResources, UseAITools,
	),
	RoleStudent: NewPermissionSet(
		ViewGrades, ViewResources, UseAITools,
	),
}

// DefaultsFor returns the permissions granted by default to role.
// Unknown roles get the empty set.
func DefaultsFor(role Role) PermissionSet {
	defaults, ok := matrix[role]
	if !ok {
		return PermissionSet{}
	}
	// copy: callers must not be able to alter the table
	set := make(PermissionSet, len(defaults))
	for p := range defaults {
		set[p] = struct{}{}
	}
	return set
}

// Grants tells whether role is granted perm by default.
func Grants(role Role, perm Permission) bool {
	return matrix[role].Has(perm)
}

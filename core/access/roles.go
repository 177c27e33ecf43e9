package access

import (
	"github.com/pkg/errors"
)

type Role string

// Roles
const (
	RoleAdmin          Role = "admin"
	RolePrincipal      Role = "principal"
	RoleICTCoordinator Role = "ict_coordinator"
	RoleTeacher        Role = "teacher"
	RoleStudent        Role = "student"
)

var (
	ErrInvalidRole = errors.New("invalid role")

	AllRoles = []Role{RoleAdmin, RolePrincipal, RoleICTCoordinator, RoleTeacher, RoleStudent}

	rolePriorities = map[Role]int{
		RoleAdmin:          30,
		RolePrincipal:      25,
		RoleICTCoordinator: 21,
		RoleTeacher:        11,
		RoleStudent:        1,
	}

	Roles = []RoleInfo{
		{Name: "Student", Value: RoleStudent},
		{Name: "Teacher", Value: RoleTeacher},
		{Name: "ICT Coordinator", Value: RoleICTCoordinator},
		{Name: "Principal", Value: RolePrincipal},
		{Name: "Admin", Value: RoleAdmin},
	}
)

type RoleInfo struct {
	Name  string `json:"name"`
	Value Role   `json:"value"`
}

func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.IsValid() {
		return "", errors.Wrapf(ErrInvalidRole, "%q", s)
	}
	return r, nil
}

func (r Role) IsValid() bool {
	_, ok := rolePriorities[r]
	return ok
}

// IsFaculty tells whether the role must be backed by a linked FacultyRecord.
func (r Role) IsFaculty() bool {
	return r == RoleTeacher || r == RoleAdmin
}

// RequiresSchool tells whether accounts with this role must be bound to a school.
func (r Role) RequiresSchool() bool {
	return r == RoleTeacher || r == RoleStudent
}

// Priority orders roles; an actor may only grant roles up to their own priority.
func (r Role) Priority() int {
	return rolePriorities[r]
}

func (r Role) String() string { return string(r) }

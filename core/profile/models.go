package profile

import (
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/trezcool/suriaral/core/access"
)

// Profile is the application-level record of an identity, stored at `users/{uid}/profile`.
type Profile struct {
	UID          string           `json:"uid" validate:"required"`
	Email        string           `json:"email" validate:"required,email"`
	DisplayName  string           `json:"displayName"`
	Role         access.Role      `json:"role" validate:"required,role"`
	CreatedAt    time.Time        `json:"createdAt"`
	Disabled     bool             `json:"disabled"`
	SchoolID     null.String      `json:"schoolId"`
	IsSuperAdmin bool             `json:"isSuperAdmin,omitempty"`
	Overrides    access.Overrides `json:"permissions,omitempty"`
}

// Clone returns a deep copy of p.
func (p Profile) Clone() Profile {
	p.Overrides = p.Overrides.Clone()
	return p
}

// Fields is a partial Profile for merge writes: nil fields are left untouched.
// SchoolID set to an invalid null.String clears the affiliation.
type Fields struct {
	DisplayName  *string
	Role         *access.Role
	Disabled     *bool
	SchoolID     *null.String
	IsSuperAdmin *bool
	Overrides    *access.Overrides
}

func (f Fields) IsEmpty() bool {
	return len(f.toMap()) == 0
}

func (f Fields) toMap() map[string]interface{} {
	m := make(map[string]interface{})
	if f.DisplayName != nil {
		m["displayName"] = *f.DisplayName
	}
	if f.Role != nil {
		m["role"] = *f.Role
	}
	if f.Disabled != nil {
		m["disabled"] = *f.Disabled
	}
	if f.SchoolID != nil {
		m["schoolId"] = *f.SchoolID
	}
	if f.IsSuperAdmin != nil {
		m["isSuperAdmin"] = *f.IsSuperAdmin
	}
	if f.Overrides != nil {
		m["permissions"] = *f.Overrides
	}
	return m
}

// Apply returns a copy of p with the fields set.
func (f Fields) Apply(p Profile) Profile {
	if f.DisplayName != nil {
		p.DisplayName = *f.DisplayName
	}
	if f.Role != nil {
		p.Role = *f.Role
	}
	if f.Disabled != nil {
		p.Disabled = *f.Disabled
	}
	if f.SchoolID != nil {
		p.SchoolID = *f.SchoolID
	}
	if f.IsSuperAdmin != nil {
		p.IsSuperAdmin = *f.IsSuperAdmin
	}
	if f.Overrides != nil {
		p.Overrides = *f.Overrides
	}
	return p
}

// Snapshot is what a subscriber sees: Profile is nil when the record is absent or removed,
// Err is set when the store could not be read.
type Snapshot struct {
	UID     string
	Profile *Profile
	Err     error
}

// Package authz answers authorization queries against live profiles.
package authz

import (
	"github.com/trezcool/suriaral/core/access"
	"github.com/trezcool/suriaral/core/profile"
)

// Can tells whether p may perform perm. First match wins:
//  1. unknown profile or permission: deny
//  2. disabled: deny, whatever the role, overrides or super-admin flag
//  3. admin role or super-admin: allow
//  4. explicit override: its value
//  5. role default
//
// Can never fetches and never fails: anything it cannot decide is denied.
func Can(p *profile.Profile, perm access.Permission) bool {
	if p == nil || !perm.IsValid() {
		return false
	}
	if p.Disabled {
		return false
	}
	if p.Role == access.RoleAdmin || p.IsSuperAdmin {
		return true
	}
	switch p.Overrides.Lookup(perm) {
	case access.Allow:
		return true
	case access.Deny:
		return false
	}
	return access.Grants(p.Role, perm)
}

// Permissions returns the effective permission set of p.
func Permissions(p *profile.Profile) access.PermissionSet {
	set := access.NewPermissionSet()
	for _, perm := range access.AllPermissions {
		if Can(p, perm) {
			set[perm] = struct{}{}
		}
	}
	return set
}

package access

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Grant is the per-permission override of a profile.
type Grant int8

const (
	Inherit Grant = iota // fall through to the role default
	Allow
	Deny
)

func (g Grant) String() string {
	switch g {
	case Allow:
		return "allow"
	case Deny:
		return "deny"
	default:
		return "inherit"
	}
}

// GrantOf maps an explicit boolean to Allow or Deny.
func GrantOf(allowed bool) Grant {
	if allowed {
		return Allow
	}
	return Deny
}

// Overrides is a sparse map of explicit grants. Inherit entries carry no information and are
// never persisted: the JSON form is `{"edit_grades": false, ...}`.
type Overrides map[Permission]Grant

// Lookup returns the explicit grant for p, or Inherit.
func (o Overrides) Lookup(p Permission) Grant {
	if o == nil {
		return Inherit
	}
	return o[p]
}

// Set records an explicit grant; Inherit removes the entry.
func (o Overrides) Set(p Permission, g Grant) {
	if g == Inherit {
		delete(o, p)
		return
	}
	o[p] = g
}

func (o Overrides) Equal(other Overrides) bool {
	for _, p := range AllPermissions {
		if o.Lookup(p) != other.Lookup(p) {
			return false
		}
	}
	return true
}

func (o Overrides) MarshalJSON() ([]byte, error) {
	m := make(map[Permission]bool, len(o))
	for p, g := range o {
		switch g {
		case Allow:
			m[p] = true
		case Deny:
			m[p] = false
		}
	}
	return json.Marshal(m)
}

// UnmarshalJSON rejects unknown permission names: the override map has a closed domain.
func (o *Overrides) UnmarshalJSON(data []byte) error {
	var m map[string]*bool
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	res := make(Overrides, len(m))
	for name, allowed := range m {
		p, err := ParsePermission(name)
		if err != nil {
			return errors.Wrap(err, "decoding overrides")
		}
		if allowed != nil {
			res[p] = GrantOf(*allowed)
		}
	}
	*o = res
	return nil
}

func (o Overrides) Clone() Overrides {
	if o == nil {
		return nil
	}
	res := make(Overrides, len(o))
	for p, g := range o {
		res[p] = g
	}
	return res
}

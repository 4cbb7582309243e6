package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
)

// Role is an authorization tier. Higher values outrank lower ones:
// super_admin > clinic_admin > agent.
type Role uint8

const (
	RoleUnknown Role = iota
	RoleAgent
	RoleClinicAdmin
	RoleSuperAdmin
)

var roleNames = map[Role]string{
	RoleAgent:       "agent",
	RoleClinicAdmin: "clinic_admin",
	RoleSuperAdmin:  "super_admin",
}

// ParseRole converts the wire/storage name of a role into a Role
func ParseRole(s string) (Role, error) {
	for r, name := range roleNames {
		if name == s {
			return r, nil
		}
	}
	return RoleUnknown, fmt.Errorf("unknown role %q", s)
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return "unknown"
}

// Valid reports whether r is one of the defined tiers
func (r Role) Valid() bool {
	_, ok := roleNames[r]
	return ok
}

// AtLeast reports whether r is min or any higher tier.
func (r Role) AtLeast(min Role) bool {
	if !r.Valid() || !min.Valid() {
		return false
	}
	return r >= min
}

func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("cannot marshal role %d", uint8(r))
	}
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(b []byte) error {
	parsed, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Value stores the role by name.
func (r Role) Value() (driver.Value, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("cannot store role %d", uint8(r))
	}
	return r.String(), nil
}

func (r *Role) Scan(src interface{}) error {
	switch v := src.(type) {
	case string:
		return r.UnmarshalText([]byte(v))
	case []byte:
		return r.UnmarshalText(v)
	default:
		return fmt.Errorf("cannot scan %T into Role", src)
	}
}

// PermissionSet is an open set of capability tokens. The recognised
// permissions are owned by clinic administrators, so no closed list exists.
type PermissionSet map[string]struct{}

// NewPermissionSet builds a set, ignoring blank entries
func NewPermissionSet(perms ...string) PermissionSet {
	set := make(PermissionSet, len(perms))
	for _, p := range perms {
		if p != "" {
			set[p] = struct{}{}
		}
	}
	return set
}

func (p PermissionSet) Has(perm string) bool {
	_, ok := p[perm]
	return ok
}

// Slice returns the permissions sorted. Never nil.
func (p PermissionSet) Slice() []string {
	out := make([]string, 0, len(p))
	for perm := range p {
		out = append(out, perm)
	}
	sort.Strings(out)
	return out
}

func (p PermissionSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Slice())
}

func (p *PermissionSet) UnmarshalJSON(b []byte) error {
	var perms []string
	if err := json.Unmarshal(b, &perms); err != nil {
		return fmt.Errorf("permissions must be an array of strings: %w", err)
	}
	*p = NewPermissionSet(perms...)
	return nil
}

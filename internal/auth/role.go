package auth

import "strings"

// Role is the closed set of authorisation tiers a principal can hold.
type Role string

const (
	// RoleFarmer operates devices on their own land. Default signup role.
	RoleFarmer Role = "FARMER"

	// RoleTechnician installs and maintains devices in the field.
	RoleTechnician Role = "TECHNICIAN"

	// RoleAdmin manages devices, principals and the audit trail.
	RoleAdmin Role = "ADMIN"

	// RoleCustomer owns devices and sees only those assigned to them.
	RoleCustomer Role = "CUSTOMER"
)

// AllRoles lists every role in display order.
var AllRoles = []Role{RoleFarmer, RoleTechnician, RoleAdmin, RoleCustomer}

// roleSpellings maps every accepted input spelling (already trimmed and
// upper-cased) to its role. Nothing outside this table is recognised.
var roleSpellings = map[string]Role{
	"FARMER":          RoleFarmer,
	"ROLE_FARMER":     RoleFarmer,
	"GROWER":          RoleFarmer,
	"TECHNICIAN":      RoleTechnician,
	"ROLE_TECHNICIAN": RoleTechnician,
	"TECH":            RoleTechnician,
	"ADMIN":           RoleAdmin,
	"ROLE_ADMIN":      RoleAdmin,
	"ADMINISTRATOR":   RoleAdmin,
	"CUSTOMER":        RoleCustomer,
	"ROLE_CUSTOMER":   RoleCustomer,
	"CLIENT":          RoleCustomer,
}

// ParseRole resolves a role name. Matching ignores case and surrounding
// whitespace but is otherwise exact.
func ParseRole(name string) (Role, bool) {
	r, ok := roleSpellings[strings.ToUpper(strings.TrimSpace(name))]
	return r, ok
}

// NormalizeRole resolves a role name for self-service signup. Unknown or
// empty names become RoleFarmer; fellBack reports that this happened so
// the caller can log it.
func NormalizeRole(name string) (role Role, fellBack bool) {
	if r, ok := ParseRole(name); ok {
		return r, false
	}
	return RoleFarmer, true
}

// Valid reports whether r is one of the four canonical roles.
func (r Role) Valid() bool {
	switch r {
	case RoleFarmer, RoleTechnician, RoleAdmin, RoleCustomer:
		return true
	}
	return false
}

func (r Role) String() string { return string(r) }

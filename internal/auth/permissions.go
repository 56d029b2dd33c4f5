package auth

// Permission represents a named capability in the system.
type Permission string

// Permission constants.
const (
	PermDeviceRead      Permission = "device:read"
	PermDeviceReadAll   Permission = "device:read:all"
	PermDeviceWrite     Permission = "device:write"
	PermDeviceLifecycle Permission = "device:lifecycle"
	PermDeviceAssign    Permission = "device:assign"
	PermDeviceDelete    Permission = "device:delete"
	PermTelemetryIngest Permission = "telemetry:ingest"
	PermUserManage      Permission = "user:manage"
	PermAuditRead       Permission = "audit:read"
)

// rolePermissions maps each role to its granted permissions.
// This is the single source of truth for the authorisation model.
var rolePermissions = map[Role][]Permission{
	RoleFarmer: {
		PermDeviceRead,
	},
	RoleCustomer: {
		PermDeviceRead, // own devices only, see IsCustomerScoped
	},
	RoleTechnician: {
		PermDeviceRead,
		PermDeviceReadAll,
		PermDeviceWrite,
		PermDeviceLifecycle,
		PermTelemetryIngest,
	},
	RoleAdmin: {
		PermDeviceRead,
		PermDeviceReadAll,
		PermDeviceWrite,
		PermDeviceLifecycle,
		PermDeviceAssign,
		PermDeviceDelete,
		PermTelemetryIngest,
		PermUserManage,
		PermAuditRead,
	},
}

// HasPermission returns true if the given role has the specified permission.
func HasPermission(role Role, perm Permission) bool {
	for _, p := range rolePermissions[role] {
		if p == perm {
			return true
		}
	}
	return false
}

// RolesWith returns the roles granted perm, in AllRoles order.
// The router uses it to build per-route allow-sets.
func RolesWith(perm Permission) []Role {
	var roles []Role
	for _, r := range AllRoles {
		if HasPermission(r, perm) {
			roles = append(roles, r)
		}
	}
	return roles
}

// IsCustomerScoped reports whether reads for role are limited to the
// devices whose owning customer is the principal itself.
func IsCustomerScoped(role Role) bool {
	return role == RoleCustomer
}

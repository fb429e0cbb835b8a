package auth

// Role represents an operator role.
type Role string

const (
	RoleViewer   Role = "viewer"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
	// RoleSuperAdmin has global scope: no tenant of its own, sees every tenant.
	RoleSuperAdmin Role = "superadmin"
)

// NormalizeRole validates and normalizes a role string.
func NormalizeRole(value string) (Role, bool) {
	switch Role(value) {
	case RoleViewer, RoleOperator, RoleAdmin, RoleSuperAdmin:
		return Role(value), true
	default:
		return "", false
	}
}

// RoleAtLeast returns true when role satisfies required role.
func RoleAtLeast(role Role, required Role) bool {
	return roleRank(role) >= roleRank(required)
}

// GlobalScope reports whether the role may cross tenant boundaries.
func GlobalScope(role Role) bool {
	return role == RoleSuperAdmin
}

func roleRank(role Role) int {
	switch role {
	case RoleViewer:
		return 1
	case RoleOperator:
		return 2
	case RoleAdmin:
		return 3
	case RoleSuperAdmin:
		return 4
	default:
		return 0
	}
}

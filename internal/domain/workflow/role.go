package workflow

import "strings"

// Role is the role of an acting user
type Role string

const (
	RoleEmployee Role = "EMPLOYEE"
	RoleManager  Role = "MANAGER"
	RoleCFO      Role = "CFO"
	RoleCEO      Role = "CEO"
)

// RoleAny matches every role in a transition rule
const RoleAny Role = "*"

// ParseRole normalizes a role name. FINANCE is accepted as an alias of CFO.
func ParseRole(v string) (Role, bool) {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "EMPLOYEE":
		return RoleEmployee, true
	case "MANAGER":
		return RoleManager, true
	case "CFO", "FINANCE":
		return RoleCFO, true
	case "CEO":
		return RoleCEO, true
	default:
		return "", false
	}
}

// IsReviewer reports whether the role takes part in any review stage
func (r Role) IsReviewer() bool {
	return r == RoleManager || r == RoleCFO || r == RoleCEO
}

// String returns the string representation of the role
func (r Role) String() string {
	return string(r)
}

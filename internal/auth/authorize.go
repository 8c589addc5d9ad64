package auth

// Identity is the authenticated caller as carried in a session token. It is a
// closed shape: every authorization decision switches on Role and Status.
type Identity struct {
	ID     string `json:"id"`
	Role   Role   `json:"role"`
	Name   string `json:"name"`
	Status Status `json:"status"`
}

// HasRole reports whether the identity's role is one of roles.
func (id Identity) HasRole(roles ...Role) bool {
	for _, r := range roles {
		if id.Role == r {
			return true
		}
	}
	return false
}

// Approved reports whether the identity may use endpoints gated on approval.
// Admin accounts are always treated as approved.
func (id Identity) Approved() bool {
	switch id.Role {
	case RoleAdmin:
		return true
	case RoleStudent, RoleCR, RoleTeacher, RoleFaculty, RoleStaff:
		return id.Status == StatusApproved
	default:
		return false
	}
}

// CanActOn reports whether the identity owns the resource or holds one of roles.
func (id Identity) CanActOn(ownerID string, roles ...Role) bool {
	if ownerID != "" && ownerID == id.ID {
		return true
	}
	return id.HasRole(roles...)
}

// Role groups used when registering routes.
var (
	Editors    = []Role{RoleAdmin, RoleTeacher, RoleStaff, RoleCR}
	Auditors   = []Role{RoleAdmin, RoleStaff}
	AdminsOnly = []Role{RoleAdmin}
)

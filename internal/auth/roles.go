package auth

// Route role sets. Each protected route declares exactly one of these.
var (
	// AdminRoles may manage users, settings and all sessions.
	AdminRoles = []Role{RoleAdmin}

	// EditorRoles may create and modify their own content.
	EditorRoles = []Role{RoleAdmin, RoleEditor}

	// AnyRole is every assignable role, used for authenticated read access.
	AnyRole = []Role{RoleAdmin, RoleEditor, RoleViewer}
)

// RoleAllowed reports whether role is a member of allowed. There is no
// hierarchy: membership is the only test.
func RoleAllowed(role Role, allowed []Role) bool {
	for _, r := range allowed {
		if r == role {
			return true
		}
	}
	return false
}

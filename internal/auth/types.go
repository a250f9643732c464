package auth

import (
	"errors"
	"regexp"
	"time"
)

// usernamePattern allows alphanumerics, dots, hyphens and underscores, 1-64 characters.
var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,64}$`)

const maxUsernameLength = 64

// IsValidUsername checks if a username meets format requirements.
func IsValidUsername(username string) bool {
	return len(username) <= maxUsernameLength && usernamePattern.MatchString(username)
}

// Role is a flat authorisation tier. Roles do not inherit from each other:
// an admin is not implicitly an editor, every route lists its exact set.
type Role string

const (
	// RoleAdmin manages users, sessions of any user, settings and the audit
	// log, and bypasses ownership checks and maintenance mode.
	RoleAdmin Role = "admin"

	// RoleEditor creates and modifies their own decks and collections.
	RoleEditor Role = "editor"

	// RoleViewer has read-only access to their own data.
	RoleViewer Role = "viewer"
)

// ValidRoles is the set of assignable roles.
var ValidRoles = []Role{RoleAdmin, RoleEditor, RoleViewer}

// IsValidRole returns true if r is an assignable role.
func IsValidRole(r Role) bool {
	for _, v := range ValidRoles {
		if r == v {
			return true
		}
	}
	return false
}

// User represents an account.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"` // never serialised
	Role         Role      `json:"role"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Identity is the authenticated principal of a request. It is resolved per
// request from the access token and the backing user row, never persisted.
type Identity struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email,omitempty"`
	Username  string `json:"username,omitempty"`
	Role      Role   `json:"role"`
	IsActive  bool   `json:"is_active"`
	SessionID string `json:"session_id,omitempty"`
}

// IsAdmin reports whether the identity holds the admin role.
func (id *Identity) IsAdmin() bool {
	return id != nil && id.Role == RoleAdmin
}

// IdentityFor builds the identity for a user and session.
func IdentityFor(u *User, sessionID string) Identity {
	return Identity{
		UserID:    u.ID,
		Email:     u.Email,
		Username:  u.Username,
		Role:      u.Role,
		IsActive:  u.IsActive,
		SessionID: sessionID,
	}
}

// LocalAdminID is the user id every request acts as when multi-user mode is off.
const LocalAdminID = "local-admin"

// LocalAdmin returns the implicit identity used in single-user deployments.
func LocalAdmin() *Identity {
	return &Identity{
		UserID:   LocalAdminID,
		Username: "local",
		Role:     RoleAdmin,
		IsActive: true,
	}
}

// Sentinel errors for auth operations.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
	ErrUsernameExists     = errors.New("username or email already exists")
	ErrTokenInvalid       = errors.New("invalid token")
	ErrLastAdmin          = errors.New("at least one active admin must remain")
	ErrInvalidRole        = errors.New("invalid role")
)

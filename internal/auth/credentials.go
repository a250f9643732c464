package auth

import (
	"context"
	"errors"
	"fmt"
)

// Authenticate checks an identifier (username or email) and password.
//
// Unknown identifiers, wrong passwords and inactive accounts all return
// ErrInvalidCredentials so callers cannot enumerate accounts. A dummy hash is
// verified for unknown identifiers to keep timing uniform. Other errors are
// storage failures. A hash made with weaker parameters than HashPassword
// uses is replaced after a successful check.
func Authenticate(ctx context.Context, users UserRepository, identifier, password string) (*User, error) {
	user, err := users.GetByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			VerifyPassword(password, dummyHash) //nolint:errcheck // timing only
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("looking up user: %w", err)
	}

	ok, err := VerifyPassword(password, user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("verifying password: %w", err)
	}
	if !ok || !user.IsActive {
		return nil, ErrInvalidCredentials
	}

	if NeedsRehash(user.PasswordHash) {
		// The old hash keeps working if the upgrade fails, so it is retried on the next login.
		if hash, hashErr := HashPassword(password); hashErr == nil {
			if users.UpdatePassword(ctx, user.ID, hash) == nil {
				user.PasswordHash = hash
			}
		}
	}

	return user, nil
}

// UserChange describes an administrative change to a user's role or active flag.
// Nil fields are left unchanged.
type UserChange struct {
	Role     *Role
	IsActive *bool
}

// CheckAdminRemains rejects a change that would leave no active admin. It
// must be called before the mutation. remove is true for deletions.
// SQLiteUserRepository repeats the check inside Update and Delete, so two
// concurrent demotions cannot both succeed.
func CheckAdminRemains(ctx context.Context, users UserRepository, target *User, change UserChange, remove bool) error {
	if target.Role != RoleAdmin || !target.IsActive {
		return nil
	}

	stillAdmin := !remove
	if change.Role != nil && *change.Role != RoleAdmin {
		stillAdmin = false
	}
	if change.IsActive != nil && !*change.IsActive {
		stillAdmin = false
	}
	if stillAdmin {
		return nil
	}

	count, err := users.CountActiveAdmins(ctx)
	if err != nil {
		return fmt.Errorf("counting admins: %w", err)
	}
	if count <= 1 {
		return ErrLastAdmin
	}
	return nil
}

package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
)

const seedPasswordBytes = 16

// AdminSeed holds the credentials for the first administrator.
type AdminSeed struct {
	Username string
	Email    string
	Password string // generated when empty
}

// SeedAdmin creates the initial admin account on first boot if no users
// exist. When no password is supplied one is generated and logged once; it
// must be changed immediately. Returns the password used, or "" if seeding
// was skipped.
func SeedAdmin(ctx context.Context, users UserRepository, seed AdminSeed, logger *slog.Logger) (string, error) {
	count, err := users.Count(ctx)
	if err != nil {
		return "", fmt.Errorf("checking user count: %w", err)
	}
	if count > 0 {
		logger.Debug("users exist, skipping admin seed")
		return "", nil
	}

	if seed.Username == "" {
		seed.Username = "admin"
	}
	if seed.Email == "" {
		seed.Email = "admin@localhost"
	}

	password := seed.Password
	generated := password == ""
	if generated {
		b := make([]byte, seedPasswordBytes)
		if _, err := rand.Read(b); err != nil {
			return "", fmt.Errorf("generating seed password: %w", err)
		}
		password = hex.EncodeToString(b)
	} else if err := ValidatePassword(password); err != nil {
		return "", fmt.Errorf("seed password: %w", err)
	}

	hash, err := HashPassword(password)
	if err != nil {
		return "", fmt.Errorf("hashing seed password: %w", err)
	}

	admin := &User{
		Username:     seed.Username,
		Email:        seed.Email,
		PasswordHash: hash,
		Role:         RoleAdmin,
		IsActive:     true,
	}
	if err := users.Create(ctx, admin); err != nil {
		return "", fmt.Errorf("creating seed admin: %w", err)
	}

	if generated {
		logger.Warn("seed admin account created",
			"username", admin.Username,
			"password", password,
			"action_required", "change this password immediately",
		)
	} else {
		logger.Info("seed admin account created", "username", admin.Username)
	}

	return password, nil
}

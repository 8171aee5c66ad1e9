package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// seedPasswordBytes is the number of random bytes for a generated password.
const seedPasswordBytes = 16

// AdminUsername is the account created by SeedAdmin.
const AdminUsername = "admin"

// SeedAdmin creates the admin account on first start if no users exist.
// An empty password is replaced by a random one, which is logged once and
// must be changed.
//
// Returns:
//   - string: the password used, or "" if seeding was skipped
//   - error: repository or hashing failure
func SeedAdmin(ctx context.Context, users UserRepository, password string, logger Logger) (string, error) {
	if logger == nil {
		logger = noopLogger{}
	}

	count, err := users.Count(ctx)
	if err != nil {
		return "", fmt.Errorf("checking user count: %w", err)
	}
	if count > 0 {
		return "", nil
	}

	generated := password == ""
	if generated {
		b := make([]byte, seedPasswordBytes)
		if _, err := rand.Read(b); err != nil { //nolint:govet // shadow: err re-declared in nested scope
			return "", fmt.Errorf("generating admin password: %w", err)
		}
		password = hex.EncodeToString(b)
	}

	hash, err := HashPassword(password)
	if err != nil {
		return "", fmt.Errorf("hashing admin password: %w", err)
	}

	admin := &User{
		Username:     AdminUsername,
		DisplayName:  "Administrator",
		PasswordHash: hash,
		Role:         RoleAdmin,
		IsActive:     true,
	}
	if err := users.Create(ctx, admin); err != nil {
		return "", fmt.Errorf("creating admin account: %w", err)
	}

	if generated {
		logger.Warn("admin account created",
			"username", AdminUsername,
			"password", password,
			"action_required", "change this password immediately",
		)
	} else {
		logger.Info("admin account created", "username", AdminUsername)
	}
	return password, nil
}

// NewUser builds an active account with a hashed password.
func NewUser(username, displayName, password string, role Role) (*User, error) {
	if !IsValidUsername(username) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidUsername, username)
	}
	if !IsValidRole(role) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	return &User{
		Username:     username,
		DisplayName:  displayName,
		PasswordHash: hash,
		Role:         role,
		IsActive:     true,
	}, nil
}

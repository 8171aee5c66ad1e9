package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Authorizer.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}
func (noopLogger) Warn(string, ...any) {}

// Config holds the Authorizer settings.
type Config struct {
	// Secret signs access tokens.
	Secret string

	// TokenTTL is the access token lifetime.
	TokenTTL time.Duration

	// Now is the time source for token issue and expiry. Defaults to time.Now.
	Now func() time.Time
}

// Authorizer authenticates users and decides device access.
//
// A device with no requirements is open to every principal holding the
// base permission for the operation. A device with requirements also needs
// at least one of them. Admins pass every check.
type Authorizer struct {
	users  UserRepository
	logger Logger
	secret string
	ttl    time.Duration
	now    func() time.Time

	mu      sync.RWMutex
	devices map[string][]Permission
}

// NewAuthorizer creates an Authorizer backed by users.
func NewAuthorizer(cfg Config, users UserRepository, logger Logger) *Authorizer {
	if logger == nil {
		logger = noopLogger{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 15 * time.Minute //nolint:mnd // default 15-minute access token TTL
	}
	return &Authorizer{
		users:   users,
		logger:  logger,
		secret:  cfg.Secret,
		ttl:     cfg.TokenTTL,
		now:     cfg.Now,
		devices: make(map[string][]Permission),
	}
}

// TokenTTL returns the lifetime of issued tokens.
func (a *Authorizer) TokenTTL() time.Duration { return a.ttl }

// RequireForDevice replaces the permissions a device requires. Calling it
// with no permissions opens the device again.
func (a *Authorizer) RequireForDevice(deviceID string, perms ...Permission) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(perms) == 0 {
		delete(a.devices, deviceID)
		return
	}
	a.devices[deviceID] = slices.Clone(perms)
}

// DeviceRequirements returns the permissions a device requires, if any.
func (a *Authorizer) DeviceRequirements(deviceID string) []Permission {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return slices.Clone(a.devices[deviceID])
}

// Authenticate checks a username and password and loads the user's grants.
//
// Returns:
//   - *Principal: the authenticated caller
//   - error: ErrInvalidCredentials for an unknown user or wrong password,
//     ErrUserInactive for a disabled account
func (a *Authorizer) Authenticate(ctx context.Context, username, password string) (*Principal, error) {
	u, err := a.users.GetByUsername(ctx, username)
	if errors.Is(err, ErrUserNotFound) {
		a.logger.Warn("failed login attempt", "username", username, "reason", "unknown user")
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("loading user: %w", err)
	}

	ok, err := VerifyPassword(password, u.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("verifying password for %s: %w", username, err)
	}
	if !ok {
		a.logger.Warn("failed login attempt", "username", username, "reason", "wrong password")
		return nil, ErrInvalidCredentials
	}
	if !u.IsActive {
		a.logger.Warn("failed login attempt", "username", username, "reason", "inactive")
		return nil, ErrUserInactive
	}

	grants, err := a.users.Permissions(ctx, u.ID)
	if err != nil {
		return nil, err
	}

	a.logger.Info("user logged in", "username", username, "role", string(u.Role))
	return &Principal{
		UserID:      u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		Role:        u.Role,
		Grants:      grants,
	}, nil
}

// Login authenticates and issues an access token.
func (a *Authorizer) Login(ctx context.Context, username, password string) (string, *Principal, error) {
	p, err := a.Authenticate(ctx, username, password)
	if err != nil {
		return "", nil, err
	}
	token, err := a.IssueToken(p)
	if err != nil {
		return "", nil, err
	}
	return token, p, nil
}

// IssueToken signs an access token for p.
func (a *Authorizer) IssueToken(p *Principal) (string, error) {
	return GenerateAccessToken(p, a.secret, a.ttl, a.now())
}

// Verify validates a token and returns its principal. Grants revoked after
// the token was issued stay in effect until it expires.
func (a *Authorizer) Verify(token string) (*Principal, error) {
	if token == "" {
		return nil, ErrUnauthenticated
	}
	claims, err := ParseToken(token, a.secret, a.now())
	if err != nil {
		return nil, err
	}
	return claims.Principal(), nil
}

// CanAccessDevice reports whether p may perform an operation needing base
// on the device.
func (a *Authorizer) CanAccessDevice(p *Principal, deviceID string, base Permission) bool {
	if p == nil {
		return false
	}
	if p.Role == RoleAdmin {
		return true
	}
	if !p.Has(base) {
		return false
	}

	a.mu.RLock()
	required := a.devices[deviceID]
	a.mu.RUnlock()

	if len(required) == 0 {
		return true
	}
	return slices.ContainsFunc(required, p.Has)
}

// CheckDevice checks the principal carried by ctx against a device.
//
// Returns:
//   - error: nil if allowed, ErrUnauthenticated without a principal,
//     ErrForbidden if the principal lacks the permission
func (a *Authorizer) CheckDevice(ctx context.Context, deviceID string, base Permission) error {
	p := PrincipalFromContext(ctx)
	if p == nil {
		return ErrUnauthenticated
	}
	if !a.CanAccessDevice(p, deviceID, base) {
		a.logger.Warn("device access denied", "username", p.Username, "device_id", deviceID, "permission", string(base))
		return fmt.Errorf("%w: %s on %s", ErrForbidden, base, deviceID)
	}
	return nil
}

// Check verifies the principal carried by ctx holds perm.
func (a *Authorizer) Check(ctx context.Context, perm Permission) error {
	p := PrincipalFromContext(ctx)
	if p == nil {
		return ErrUnauthenticated
	}
	if !p.Has(perm) {
		return fmt.Errorf("%w: %s", ErrForbidden, perm)
	}
	return nil
}

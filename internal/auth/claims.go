package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims extends the JWT registered claims with the caller's identity.
type Claims struct {
	jwt.RegisteredClaims
	Username    string       `json:"username"`
	DisplayName string       `json:"name,omitempty"`
	Role        Role         `json:"role"`
	Grants      []Permission `json:"grants,omitempty"`
}

// Principal returns the identity carried by the claims.
func (c *Claims) Principal() *Principal {
	return &Principal{
		UserID:      c.Subject,
		Username:    c.Username,
		DisplayName: c.DisplayName,
		Role:        c.Role,
		Grants:      c.Grants,
	}
}

// GenerateAccessToken creates a signed HS256 token for p, valid for ttl
// from now.
func GenerateAccessToken(p *Principal, secret string, ttl time.Duration, now time.Time) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		Username:    p.Username,
		DisplayName: p.DisplayName,
		Role:        p.Role,
		Grants:      p.Grants,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing access token: %w", err)
	}
	return signed, nil
}

// ParseToken validates the signature and expiry of a token and returns its
// claims. Only HS256 is accepted.
func ParseToken(tokenString, secret string, now time.Time) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	if !IsValidRole(claims.Role) {
		return nil, fmt.Errorf("%w: role %q", ErrTokenInvalid, claims.Role)
	}
	return claims, nil
}

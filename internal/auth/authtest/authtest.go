// Package authtest mints tokens that auth.ParseToken accepts, for tests of
// handlers that sit behind bearer authentication.
package authtest

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"ideaboard/api/internal/access"
	"ideaboard/api/internal/auth"
)

// IssueToken signs a token for actor valid for ttl from now.
func IssueToken(secret []byte, actor access.Actor, ttl time.Duration, now time.Time) (string, error) {
	if strings.TrimSpace(actor.ID) == "" {
		return "", fmt.Errorf("issue token: subject is required")
	}
	claims := auth.Claims{
		Email: actor.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

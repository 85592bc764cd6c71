// Package auth turns bearer tokens into actors. Tokens are HS256 JWTs minted
// by whichever identity service shares the secret.
package auth

import (
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"ideaboard/api/internal/access"
)

type Claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

// ParseToken verifies an HS256 token and returns the actor it names. The
// subject and expiry claims are required.
func ParseToken(secret []byte, token string) (access.Actor, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return access.Actor{}, ErrExpiredToken
		}
		return access.Actor{}, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return access.Actor{}, ErrInvalidToken
	}
	return access.Actor{ID: claims.Subject, Email: claims.Email}, nil
}

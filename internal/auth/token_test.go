package auth_test

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"ideaboard/api/internal/access"
	"ideaboard/api/internal/auth"
	"ideaboard/api/internal/auth/authtest"
)

func TestIssueAndParseToken(t *testing.T) {
	secret := []byte("secret")
	issued, err := authtest.IssueToken(secret, access.Actor{ID: "user-1", Email: "avery@example.com"}, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	actor, err := auth.ParseToken(secret, issued)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if actor.ID != "user-1" || actor.Email != "avery@example.com" {
		t.Fatalf("unexpected actor: %+v", actor)
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	secret := []byte("secret")
	issued, err := authtest.IssueToken(secret, access.Actor{ID: "user-1"}, time.Minute, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if _, err := auth.ParseToken(secret, issued); !errors.Is(err, auth.ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestParseTokenRejectsTampering(t *testing.T) {
	issued, err := authtest.IssueToken([]byte("secret"), access.Actor{ID: "user-1"}, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if _, err := auth.ParseToken([]byte("other"), issued); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for wrong secret, got %v", err)
	}
	if _, err := auth.ParseToken([]byte("secret"), "not-a-token"); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for garbage, got %v", err)
	}
}

func TestParseTokenRequiresSubjectAndExpiry(t *testing.T) {
	secret := []byte("secret")
	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString(secret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := auth.ParseToken(secret, noSubject); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken without subject, got %v", err)
	}

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"},
	}).SignedString(secret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := auth.ParseToken(secret, noExpiry); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken without expiry, got %v", err)
	}

	if _, err := authtest.IssueToken(secret, access.Actor{}, time.Hour, time.Now()); err == nil {
		t.Fatal("expected IssueToken() to require a subject")
	}
}

func TestParseTokenRejectsOtherAlgorithms(t *testing.T) {
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := auth.ParseToken([]byte("secret"), unsigned); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for alg none, got %v", err)
	}
}

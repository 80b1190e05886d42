package auth

import (
	"testing"
	"time"
)

func TestGenerateAndVerify(t *testing.T) {
	svc, err := NewTokenService("test-secret", "affidblock")
	if err != nil {
		t.Fatal(err)
	}
	token, err := svc.Generate("u-1", "Sajid@Example.com", []string{"Seller", "seller", ""})
	if err != nil {
		t.Fatal(err)
	}
	claims, err := svc.Verify(token)
	if err != nil {
		t.Fatal(err)
	}
	if claims.Subject != "u-1" {
		t.Fatalf("subject: %s", claims.Subject)
	}
	if claims.Email != "sajid@example.com" {
		t.Fatalf("email not normalized: %s", claims.Email)
	}
	if len(claims.Roles) != 1 || claims.Roles[0] != "seller" {
		t.Fatalf("roles not deduplicated: %v", claims.Roles)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	a, _ := NewTokenService("secret-a", "affidblock")
	b, _ := NewTokenService("secret-b", "affidblock")
	token, err := a.Generate("u-1", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.Verify(token); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := base
	svc, _ := NewTokenService("test-secret", "affidblock",
		WithTTL(time.Minute),
		WithClock(func() time.Time { return clock }),
	)
	token, err := svc.Generate("u-1", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	clock = base.Add(2 * time.Minute)
	if _, err := svc.Verify(token); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestVerifyRejectsWrongIssuer(t *testing.T) {
	a, _ := NewTokenService("test-secret", "other-service")
	b, _ := NewTokenService("test-secret", "affidblock")
	token, err := a.Generate("u-1", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.Verify(token); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken for wrong issuer, got %v", err)
	}
}

package identity

import (
	"context"
	"errors"
	"testing"

	"affidblock.io/internal/auth"
)

func newTestService(t *testing.T) (*Service, *Memory) {
	t.Helper()
	tokens, err := auth.NewTokenService("test-secret", "affidblock")
	if err != nil {
		t.Fatal(err)
	}
	store := NewMemory()
	return NewService(store, tokens), store
}

func TestRegisterAndLogin(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	u, err := svc.Register(ctx, RegisterInput{
		Email:    "Sajid@Example.com",
		Password: "correct horse battery",
		Name:     "Sajid Ali",
		CNIC:     "35202-1111111-1",
		Roles:    []string{"Seller", "buyer"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if u.Email != "sajid@example.com" {
		t.Fatalf("email not normalized: %s", u.Email)
	}
	if u.PasswordHash == "correct horse battery" {
		t.Fatal("password stored in plaintext")
	}

	got, token, err := svc.Login(ctx, "sajid@example.com", "correct horse battery")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != u.ID || token == "" {
		t.Fatalf("login returned wrong user or empty token")
	}

	if _, _, err := svc.Login(ctx, "sajid@example.com", "wrong"); !errors.Is(err, ErrBadCredential) {
		t.Fatalf("expected ErrBadCredential, got %v", err)
	}
}

func TestRegisterRejectsUnknownRole(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Register(context.Background(), RegisterInput{
		Email:    "a@b.com",
		Password: "longenough",
		Name:     "A",
		CNIC:     "1",
		Roles:    []string{"notary"},
	})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	in := RegisterInput{Email: "a@b.com", Password: "longenough", Name: "A", CNIC: "1", Roles: []string{"seller"}}
	if _, err := svc.Register(ctx, in); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Register(ctx, in); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestLookupPartyReadsWallet(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	u, err := svc.Register(ctx, RegisterInput{
		Email: "w@b.com", Password: "longenough", Name: "W", CNIC: "2",
		WalletAddress: "0xabc", Roles: []string{"witness"},
	})
	if err != nil {
		t.Fatal(err)
	}
	p, err := store.LookupParty(ctx, u.ID)
	if err != nil {
		t.Fatal(err)
	}
	if p.WalletAddress != "0xabc" || p.Name != "W" {
		t.Fatalf("party view incomplete: %+v", p)
	}
}

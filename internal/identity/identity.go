// Package identity holds the user records the affidavit workflow reads
// when snapshotting parties, plus the minimal register/login surface the
// API needs. The workflow itself treats users as a read-only lookup.
package identity

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound      = errors.New("identity: user not found")
	ErrAlreadyExists = errors.New("identity: email already registered")
	ErrInvalidInput  = errors.New("identity: invalid input")
	ErrBadCredential = errors.New("identity: bad credentials")
)

// Known user roles. Roles are a closed set checked at registration.
const (
	RoleIssuer  = "issuer"
	RoleSeller  = "seller"
	RoleBuyer   = "buyer"
	RoleWitness = "witness"
)

// User is an account that may occupy party slots on affidavit requests.
type User struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	Name          string    `json:"name"`
	CNIC          string    `json:"cnic"`
	WalletAddress string    `json:"wallet_address,omitempty"`
	Roles         []string  `json:"roles"`
	PasswordHash  string    `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
}

// HasRole reports whether the user carries the given role.
func (u *User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Store persists users.
type Store interface {
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	ListUsersByRole(ctx context.Context, role string) ([]*User, error)
	UpdateWallet(ctx context.Context, id, walletAddress string) (*User, error)
}

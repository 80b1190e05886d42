package identity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"affidblock.io/internal/auth"
	"affidblock.io/internal/ids"
)

var validRoles = map[string]struct{}{
	RoleIssuer:  {},
	RoleSeller:  {},
	RoleBuyer:   {},
	RoleWitness: {},
}

// RegisterInput is the payload for account creation.
type RegisterInput struct {
	Email         string
	Password      string
	Name          string
	CNIC          string
	WalletAddress string
	Roles         []string
}

// Service implements registration and login on top of a Store.
type Service struct {
	store  Store
	tokens *auth.TokenService
	now    func() time.Time
}

// NewService wires the user store to the token signer.
func NewService(store Store, tokens *auth.TokenService) *Service {
	return &Service{
		store:  store,
		tokens: tokens,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Register creates a user with a bcrypt password hash.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*User, error) {
	email := strings.TrimSpace(strings.ToLower(in.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	if strings.TrimSpace(in.Name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if strings.TrimSpace(in.CNIC) == "" {
		return nil, fmt.Errorf("%w: cnic is required", ErrInvalidInput)
	}
	roles, err := normalizeRoles(in.Roles)
	if err != nil {
		return nil, err
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	u := &User{
		ID:            ids.New(),
		Email:         email,
		Name:          strings.TrimSpace(in.Name),
		CNIC:          strings.TrimSpace(in.CNIC),
		WalletAddress: strings.TrimSpace(in.WalletAddress),
		Roles:         roles,
		PasswordHash:  hash,
		CreatedAt:     s.now(),
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Login verifies credentials and issues a bearer token.
func (s *Service) Login(ctx context.Context, email, password string) (*User, string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return nil, "", ErrBadCredential
	}
	u, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, "", ErrBadCredential
	}
	if err := auth.VerifyPassword(u.PasswordHash, password); err != nil {
		return nil, "", ErrBadCredential
	}
	token, err := s.tokens.Generate(u.ID, u.Email, u.Roles)
	if err != nil {
		return nil, "", err
	}
	return u, token, nil
}

// Get returns a user by id.
func (s *Service) Get(ctx context.Context, id string) (*User, error) {
	return s.store.GetUser(ctx, id)
}

// ListByRole returns users carrying the given role, e.g. the issuers a
// request can nominate.
func (s *Service) ListByRole(ctx context.Context, role string) ([]*User, error) {
	role = strings.TrimSpace(strings.ToLower(role))
	if _, ok := validRoles[role]; !ok {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	}
	return s.store.ListUsersByRole(ctx, role)
}

// ConnectWallet attaches a wallet address to the account.
func (s *Service) ConnectWallet(ctx context.Context, id, walletAddress string) (*User, error) {
	walletAddress = strings.TrimSpace(walletAddress)
	if walletAddress == "" {
		return nil, fmt.Errorf("%w: wallet address is required", ErrInvalidInput)
	}
	return s.store.UpdateWallet(ctx, id, walletAddress)
}

func normalizeRoles(roles []string) ([]string, error) {
	if len(roles) == 0 {
		return nil, fmt.Errorf("%w: at least one role is required", ErrInvalidInput)
	}
	seen := make(map[string]struct{}, len(roles))
	var out []string
	for _, role := range roles {
		role = strings.TrimSpace(strings.ToLower(role))
		if role == "" {
			continue
		}
		if _, ok := validRoles[role]; !ok {
			return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
		}
		if _, dup := seen[role]; dup {
			continue
		}
		seen[role] = struct{}{}
		out = append(out, role)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: at least one role is required", ErrInvalidInput)
	}
	return out, nil
}

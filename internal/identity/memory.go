package identity

import (
	"context"
	"strings"
	"sync"

	"affidblock.io/internal/affidavit"
)

// Memory is an in-process Store. It also serves as the workflow's party
// directory.
type Memory struct {
	mu      sync.RWMutex
	users   map[string]*User
	byEmail map[string]string
}

// NewMemory creates an empty user store.
func NewMemory() *Memory {
	return &Memory{
		users:   make(map[string]*User),
		byEmail: make(map[string]string),
	}
}

func (m *Memory) CreateUser(ctx context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byEmail[u.Email]; ok {
		return ErrAlreadyExists
	}
	cp := cloneUser(u)
	m.users[cp.ID] = cp
	m.byEmail[cp.Email] = cp.ID
	return nil
}

func (m *Memory) GetUser(ctx context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneUser(u), nil
}

func (m *Memory) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byEmail[strings.TrimSpace(strings.ToLower(email))]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneUser(m.users[id]), nil
}

func (m *Memory) ListUsersByRole(ctx context.Context, role string) ([]*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*User
	for _, u := range m.users {
		if u.HasRole(role) {
			out = append(out, cloneUser(u))
		}
	}
	return out, nil
}

func (m *Memory) UpdateWallet(ctx context.Context, id, walletAddress string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	u.WalletAddress = walletAddress
	return cloneUser(u), nil
}

// LookupParty implements affidavit.Directory.
func (m *Memory) LookupParty(ctx context.Context, userID string) (affidavit.Party, error) {
	u, err := m.GetUser(ctx, userID)
	if err != nil {
		return affidavit.Party{}, err
	}
	return affidavit.Party{
		ID:            u.ID,
		Name:          u.Name,
		CNIC:          u.CNIC,
		WalletAddress: u.WalletAddress,
	}, nil
}

func cloneUser(u *User) *User {
	cp := *u
	cp.Roles = append([]string(nil), u.Roles...)
	return &cp
}

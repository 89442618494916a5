package auth

import (
	"context"
	"strings"
	"sync"
	"time"
)

var _ CredentialStore = (*MemoryStore)(nil)

// MemoryStore implements CredentialStore with in-process concurrency safety.
type MemoryStore struct {
	mu      sync.RWMutex
	users   map[int64]*User
	byEmail map[string]int64
	roles   map[int64]string
	nextID  int64
	now     func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:   make(map[int64]*User),
		byEmail: make(map[string]int64),
		roles:   make(map[int64]string),
		now:     time.Now,
	}
}

// AddRole registers a role name for RoleName lookups.
func (s *MemoryStore) AddRole(id int64, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[id] = name
}

func (s *MemoryStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[email]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneUser(s.users[id]), nil
}

func (s *MemoryStore) FindByID(ctx context.Context, id int64) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneUser(u), nil
}

func (s *MemoryStore) EmailExists(ctx context.Context, email string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byEmail[email]
	return ok, nil
}

func (s *MemoryStore) Insert(ctx context.Context, nu NewUser, passwordHash string) (*User, error) {
	if passwordHash == "" {
		return nil, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[nu.Email]; ok {
		return nil, ErrConflict
	}
	s.nextID++
	u := &User{
		ID:             s.nextID,
		OrganizationID: nu.OrganizationID,
		RoleID:         nu.RoleID,
		Email:          nu.Email,
		PasswordHash:   passwordHash,
		Active:         nu.Active,
		CreatedAt:      s.now().UTC(),
	}
	if nu.Phone != nil {
		if phone := strings.TrimSpace(*nu.Phone); phone != "" {
			u.Phone = &phone
		}
	}
	s.users[u.ID] = u
	s.byEmail[u.Email] = u.ID
	return cloneUser(u), nil
}

func (s *MemoryStore) UpdatePasswordHash(ctx context.Context, id int64, passwordHash string) error {
	if passwordHash == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = passwordHash
	return nil
}

func (s *MemoryStore) UpdateLastLogin(ctx context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	at = at.UTC()
	u.LastLoginAt = &at
	return nil
}

func (s *MemoryStore) RoleName(ctx context.Context, roleID int64) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	name, ok := s.roles[roleID]
	if !ok {
		return "", ErrNotFound
	}
	return name, nil
}

// SetActive toggles the active flag of a user.
func (s *MemoryStore) SetActive(id int64, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	u.Active = active
	return nil
}

func cloneUser(u *User) *User {
	out := *u
	if u.Phone != nil {
		phone := *u.Phone
		out.Phone = &phone
	}
	if u.LastLoginAt != nil {
		at := *u.LastLoginAt
		out.LastLoginAt = &at
	}
	return &out
}

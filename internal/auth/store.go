package auth

import (
	"context"
	"time"
)

// CredentialStore persists users and resolves role names. Implementations return
// ErrNotFound for unknown records and ErrConflict for duplicate emails.
type CredentialStore interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id int64) (*User, error)
	EmailExists(ctx context.Context, email string) (bool, error)
	Insert(ctx context.Context, u NewUser, passwordHash string) (*User, error)
	UpdatePasswordHash(ctx context.Context, id int64, passwordHash string) error
	UpdateLastLogin(ctx context.Context, id int64, at time.Time) error
	RoleName(ctx context.Context, roleID int64) (string, error)
}

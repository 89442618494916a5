package auth

import "time"

// User is an identity record owned by the credential store.
type User struct {
	ID             int64      `json:"user_id"`
	OrganizationID int64      `json:"organization_id"`
	RoleID         int64      `json:"role_id"`
	Email          string     `json:"email"`
	Phone          *string    `json:"phone,omitempty"`
	PasswordHash   string     `json:"-"`
	Active         bool       `json:"active"`
	CreatedAt      time.Time  `json:"created_at"`
	LastLoginAt    *time.Time `json:"last_login_at,omitempty"`
}

// NewUser carries the fields an operator supplies when creating an account.
// The password is always generated server side.
type NewUser struct {
	OrganizationID int64
	RoleID         int64
	Email          string
	Phone          *string
	Active         bool
}

// Identity is the claims bundle exposed to route handlers.
type Identity struct {
	UserID         int64  `json:"user_id"`
	Email          string `json:"email"`
	OrganizationID int64  `json:"organization_id"`
	RoleID         int64  `json:"role_id"`
	RoleName       string `json:"role_name,omitempty"`
}

func (u *User) identity(roleName string) Identity {
	return Identity{
		UserID:         u.ID,
		Email:          u.Email,
		OrganizationID: u.OrganizationID,
		RoleID:         u.RoleID,
		RoleName:       roleName,
	}
}

// LoginResult is returned by a successful Login.
type LoginResult struct {
	AccessToken string
	TokenType   string
	ExpiresIn   time.Duration
	ExpiresAt   time.Time
	UserID      int64
	Email       string
}

// ResetResult is returned by ForgotPassword. TemporaryPassword never leaves the process
// except through the notifier.
type ResetResult struct {
	Email             string
	TemporaryPassword string
}

// CreatedUser is returned by CreateUser.
type CreatedUser struct {
	UserID            int64
	Email             string
	TemporaryPassword string
}

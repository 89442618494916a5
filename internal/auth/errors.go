package auth

import "errors"

var (
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrAccountInactive    = errors.New("auth: account is inactive")
	ErrNotFound           = errors.New("auth: not found")
	ErrWeakPassword       = errors.New("auth: weak password")
	ErrConflict           = errors.New("auth: already exists")
	ErrInvalidInput       = errors.New("auth: invalid input")

	// Token verification outcomes.
	ErrTokenExpired   = errors.New("auth: token has expired")
	ErrTokenMalformed = errors.New("auth: invalid token")
	ErrTokenRevoked   = errors.New("auth: token has been revoked")
)

package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
)

// Notifier delivers account emails. Implementations should not block for long;
// a returned error is logged and otherwise ignored.
type Notifier interface {
	Welcome(ctx context.Context, email, temporaryPassword string) error
	PasswordChanged(ctx context.Context, email string) error
	PasswordReset(ctx context.Context, email, temporaryPassword string) error
}

type nopNotifier struct{}

func (nopNotifier) Welcome(context.Context, string, string) error       { return nil }
func (nopNotifier) PasswordChanged(context.Context, string) error       { return nil }
func (nopNotifier) PasswordReset(context.Context, string, string) error { return nil }

// Service orchestrates login and the password lifecycle.
type Service struct {
	store     CredentialStore
	passwords *PasswordManager
	tokens    *TokenService
	notifier  Notifier
	log       *slog.Logger
	now       func() time.Time
	minLength int
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithNotifier sets the account email collaborator.
func WithNotifier(n Notifier) ServiceOption {
	return func(s *Service) error {
		if n != nil {
			s.notifier = n
		}
		return nil
	}
}

// WithLogger sets the logger used for best-effort failures.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) error {
		if l != nil {
			s.log = l
		}
		return nil
	}
}

// WithClock overrides the time source used for last-login timestamps.
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithMinPasswordLength raises the minimum length of user-chosen passwords.
func WithMinPasswordLength(n int) ServiceOption {
	return func(s *Service) error {
		if n < MinPasswordLength {
			return fmt.Errorf("auth: minimum password length must be at least %d", MinPasswordLength)
		}
		s.minLength = n
		return nil
	}
}

// NewService constructs the authentication service.
func NewService(store CredentialStore, passwords *PasswordManager, tokens *TokenService, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: credential store is required")
	}
	if passwords == nil {
		return nil, errors.New("auth: password manager is required")
	}
	if tokens == nil {
		return nil, errors.New("auth: token service is required")
	}
	s := &Service{
		store:     store,
		passwords: passwords,
		tokens:    tokens,
		notifier:  nopNotifier{},
		log:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:       time.Now,
		minLength: MinPasswordLength,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Tokens exposes the token service used by the request gate.
func (s *Service) Tokens() *TokenService {
	return s.tokens
}

// Login authenticates email and password and issues a session token.
func (s *Service) Login(ctx context.Context, email, password string) (LoginResult, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		s.passwords.EqualizeTiming(password)
		return LoginResult{}, ErrInvalidCredentials
	}
	user, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.passwords.EqualizeTiming(password)
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, fmt.Errorf("auth: find user: %w", err)
	}
	if !s.passwords.Verify(password, user.PasswordHash) {
		return LoginResult{}, ErrInvalidCredentials
	}
	if !user.Active {
		return LoginResult{}, ErrAccountInactive
	}

	roleName, err := s.store.RoleName(ctx, user.RoleID)
	if err != nil {
		s.log.WarnContext(ctx, "role lookup failed", "user_id", user.ID, "role_id", user.RoleID, "error", err)
		roleName = ""
	}
	token, expiresAt, err := s.tokens.Issue(user.identity(roleName))
	if err != nil {
		return LoginResult{}, err
	}

	if err := s.store.UpdateLastLogin(ctx, user.ID, s.now().UTC()); err != nil {
		s.log.WarnContext(ctx, "update last login failed", "user_id", user.ID, "error", err)
	}
	if s.passwords.NeedsUpgrade(user.PasswordHash) {
		s.upgradeDigest(ctx, user.ID, password)
	}

	return LoginResult{
		AccessToken: token,
		TokenType:   TokenType,
		ExpiresIn:   s.tokens.TTL(),
		ExpiresAt:   expiresAt,
		UserID:      user.ID,
		Email:       user.Email,
	}, nil
}

func (s *Service) upgradeDigest(ctx context.Context, userID int64, password string) {
	digest, err := s.passwords.Hash(password)
	if err != nil {
		s.log.WarnContext(ctx, "password digest upgrade failed", "user_id", userID, "error", err)
		return
	}
	if err := s.store.UpdatePasswordHash(ctx, userID, digest); err != nil {
		s.log.WarnContext(ctx, "password digest upgrade failed", "user_id", userID, "error", err)
		return
	}
	s.log.InfoContext(ctx, "password digest upgraded", "user_id", userID)
}

// ChangePassword replaces the password of email after checking the old one.
func (s *Service) ChangePassword(ctx context.Context, email, oldPassword, newPassword string) error {
	email = strings.TrimSpace(email)
	user, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("auth: find user: %w", err)
	}
	if !s.passwords.Verify(oldPassword, user.PasswordHash) {
		return ErrInvalidCredentials
	}
	if len(newPassword) < s.minLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrWeakPassword, s.minLength)
	}
	digest, err := s.passwords.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := s.store.UpdatePasswordHash(ctx, user.ID, digest); err != nil {
		return fmt.Errorf("auth: update password: %w", err)
	}
	if err := s.notifier.PasswordChanged(ctx, user.Email); err != nil {
		s.log.WarnContext(ctx, "password changed notification failed", "email", user.Email, "error", err)
	}
	return nil
}

// ForgotPassword replaces the password of email with a generated one and mails it.
// Unknown emails yield ErrNotFound.
func (s *Service) ForgotPassword(ctx context.Context, email string) (ResetResult, error) {
	email = strings.TrimSpace(email)
	user, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ResetResult{}, ErrNotFound
		}
		return ResetResult{}, fmt.Errorf("auth: find user: %w", err)
	}
	plain, digest, err := s.passwords.GenerateAndHash(DefaultPasswordLength)
	if err != nil {
		return ResetResult{}, err
	}
	if err := s.store.UpdatePasswordHash(ctx, user.ID, digest); err != nil {
		return ResetResult{}, fmt.Errorf("auth: update password: %w", err)
	}
	if err := s.notifier.PasswordReset(ctx, user.Email, plain); err != nil {
		s.log.WarnContext(ctx, "password reset notification failed", "email", user.Email, "error", err)
	}
	return ResetResult{Email: user.Email, TemporaryPassword: plain}, nil
}

// EnsureUser creates nu unless its email is already registered and reports
// whether it did. A non-empty password is used as is; otherwise a generated one
// is mailed through CreateUser.
func (s *Service) EnsureUser(ctx context.Context, nu NewUser, password string) (bool, error) {
	nu.Email = strings.TrimSpace(nu.Email)
	if err := ValidateNewUser(nu); err != nil {
		return false, err
	}
	exists, err := s.store.EmailExists(ctx, nu.Email)
	if err != nil {
		return false, fmt.Errorf("auth: check email: %w", err)
	}
	if exists {
		return false, nil
	}
	if password == "" {
		if _, err := s.CreateUser(ctx, nu); err != nil {
			return false, err
		}
		return true, nil
	}
	if len(password) < s.minLength {
		return false, fmt.Errorf("%w: password must be at least %d characters", ErrWeakPassword, s.minLength)
	}
	digest, err := s.passwords.Hash(password)
	if err != nil {
		return false, err
	}
	user, err := s.store.Insert(ctx, nu, digest)
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return false, nil
		}
		return false, fmt.Errorf("auth: insert user: %w", err)
	}
	s.log.InfoContext(ctx, "user provisioned", "user_id", user.ID, "email", user.Email)
	return true, nil
}

// CreateUser registers a new account with a generated password and mails it.
func (s *Service) CreateUser(ctx context.Context, nu NewUser) (CreatedUser, error) {
	nu.Email = strings.TrimSpace(nu.Email)
	if err := ValidateNewUser(nu); err != nil {
		return CreatedUser{}, err
	}
	exists, err := s.store.EmailExists(ctx, nu.Email)
	if err != nil {
		return CreatedUser{}, fmt.Errorf("auth: check email: %w", err)
	}
	if exists {
		return CreatedUser{}, fmt.Errorf("%w: email already registered", ErrConflict)
	}
	plain, digest, err := s.passwords.GenerateAndHash(DefaultPasswordLength)
	if err != nil {
		return CreatedUser{}, err
	}
	user, err := s.store.Insert(ctx, nu, digest)
	if err != nil {
		if errors.Is(err, ErrConflict) || errors.Is(err, ErrInvalidInput) {
			return CreatedUser{}, err
		}
		return CreatedUser{}, fmt.Errorf("auth: insert user: %w", err)
	}
	if err := s.notifier.Welcome(ctx, user.Email, plain); err != nil {
		s.log.WarnContext(ctx, "welcome notification failed", "email", user.Email, "error", err)
	}
	return CreatedUser{UserID: user.ID, Email: user.Email, TemporaryPassword: plain}, nil
}

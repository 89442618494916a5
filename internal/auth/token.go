package auth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultTokenTTL is used when TokenConfig.TTL is zero.
const DefaultTokenTTL = 30 * time.Minute

// TokenType is the scheme clients present the access token with.
const TokenType = "bearer"

// Claims represents the signed session claims.
type Claims struct {
	UserID         int64  `json:"user_id"`
	Email          string `json:"email"`
	OrganizationID int64  `json:"organization_id"`
	RoleID         int64  `json:"role_id"`
	RoleName       string `json:"role_name,omitempty"`
	jwt.RegisteredClaims
}

// Identity returns the claims bundle exposed to handlers.
func (c *Claims) Identity() Identity {
	return Identity{
		UserID:         c.UserID,
		Email:          c.Email,
		OrganizationID: c.OrganizationID,
		RoleID:         c.RoleID,
		RoleName:       c.RoleName,
	}
}

// TokenConfig is built once from configuration and handed to NewTokenService.
type TokenConfig struct {
	Secret []byte
	TTL    time.Duration
	Issuer string
}

// Denylist holds revoked token ids until their natural expiry.
type Denylist interface {
	Revoke(jti string, until time.Time)
	Revoked(jti string) bool
}

// TokenService issues and verifies HS256 session tokens.
type TokenService struct {
	secret   []byte
	ttl      time.Duration
	issuer   string
	now      func() time.Time
	denylist Denylist
	parser   *jwt.Parser
}

// TokenOption configures a TokenService.
type TokenOption func(*TokenService)

// WithTokenClock overrides the time source.
func WithTokenClock(now func() time.Time) TokenOption {
	return func(ts *TokenService) {
		if now != nil {
			ts.now = now
		}
	}
}

// WithDenylist enables revocation checks in Verify.
func WithDenylist(d Denylist) TokenOption {
	return func(ts *TokenService) {
		ts.denylist = d
	}
}

// NewTokenService validates cfg and returns a TokenService.
func NewTokenService(cfg TokenConfig, opts ...TokenOption) (*TokenService, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("auth: token secret is not configured")
	}
	if cfg.TTL < 0 {
		return nil, errors.New("auth: token ttl must not be negative")
	}
	ts := &TokenService{
		secret: append([]byte(nil), cfg.Secret...),
		ttl:    cfg.TTL,
		issuer: strings.TrimSpace(cfg.Issuer),
		now:    time.Now,
	}
	if ts.ttl == 0 {
		ts.ttl = DefaultTokenTTL
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ts)
		}
	}
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithStrictDecoding(),
		jwt.WithTimeFunc(func() time.Time { return ts.now() }),
	}
	if ts.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(ts.issuer))
	}
	ts.parser = jwt.NewParser(parserOpts...)
	return ts, nil
}

// TTL returns the configured token lifetime.
func (ts *TokenService) TTL() time.Duration {
	return ts.ttl
}

// Issue signs a token for id with the configured TTL.
func (ts *TokenService) Issue(id Identity) (string, time.Time, error) {
	return ts.IssueWithTTL(id, ts.ttl)
}

// IssueWithTTL signs a token for id that expires ttl from now. A non-positive ttl
// yields a token that is already expired.
func (ts *TokenService) IssueWithTTL(id Identity, ttl time.Duration) (string, time.Time, error) {
	if id.UserID == 0 || strings.TrimSpace(id.Email) == "" {
		return "", time.Time{}, fmt.Errorf("%w: user_id and email are required", ErrInvalidInput)
	}
	now := ts.now().UTC()
	expiresAt := now.Add(ttl)
	claims := Claims{
		UserID:         id.UserID,
		Email:          id.Email,
		OrganizationID: id.OrganizationID,
		RoleID:         id.RoleID,
		RoleName:       id.RoleName,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ts.issuer,
			Subject:   strconv.FormatInt(id.UserID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ts.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, claims.ExpiresAt.Time, nil
}

// Verify checks the signature and expiry of token and returns its claims.
func (ts *TokenService) Verify(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrTokenMalformed
	}
	claims := &Claims{}
	parsed, err := ts.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return ts.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenMalformed
	}
	if !parsed.Valid {
		return nil, ErrTokenMalformed
	}
	if claims.UserID == 0 || strings.TrimSpace(claims.Email) == "" {
		return nil, ErrTokenMalformed
	}
	if ts.denylist != nil && claims.ID != "" && ts.denylist.Revoked(claims.ID) {
		return nil, ErrTokenRevoked
	}
	return claims, nil
}

// Revoke places the token's id on the denylist until it expires.
func (ts *TokenService) Revoke(claims *Claims) error {
	if ts.denylist == nil {
		return errors.New("auth: revocation is not enabled")
	}
	if claims == nil || claims.ID == "" || claims.ExpiresAt == nil {
		return ErrTokenMalformed
	}
	ts.denylist.Revoke(claims.ID, claims.ExpiresAt.Time)
	return nil
}

// RevocationEnabled reports whether a denylist is configured.
func (ts *TokenService) RevocationEnabled() bool {
	return ts.denylist != nil
}

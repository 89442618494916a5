package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"

	"golang.org/x/crypto/bcrypt"
)

const (
	// DefaultPasswordLength is the length of generated temporary passwords.
	DefaultPasswordLength = 12
	// MinPasswordLength is the shortest password a user may choose.
	MinPasswordLength = 8

	minGeneratedLength = 4
	legacyDigestLength = sha256.Size * 2
)

const (
	upperChars   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	lowerChars   = "abcdefghijklmnopqrstuvwxyz"
	digitChars   = "0123456789"
	specialChars = "!@#$%^&*-_=+"
	allChars     = upperChars + lowerChars + digitChars + specialChars
)

// SpecialChars is the symbol class a generated password always draws from.
const SpecialChars = specialChars

// PasswordManager owns all plaintext password handling.
type PasswordManager struct {
	cost int
	// dummy is compared against when no user exists so lookups take the same time.
	dummy []byte
}

// PasswordOption configures a PasswordManager.
type PasswordOption func(*PasswordManager) error

// WithBcryptCost overrides the bcrypt work factor. Zero keeps the default.
func WithBcryptCost(cost int) PasswordOption {
	return func(pm *PasswordManager) error {
		if cost == 0 {
			return nil
		}
		if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
			return fmt.Errorf("auth: bcrypt cost %d out of range [%d, %d]", cost, bcrypt.MinCost, bcrypt.MaxCost)
		}
		pm.cost = cost
		return nil
	}
}

// NewPasswordManager builds a PasswordManager.
func NewPasswordManager(opts ...PasswordOption) (*PasswordManager, error) {
	pm := &PasswordManager{cost: bcrypt.DefaultCost}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(pm); err != nil {
			return nil, err
		}
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("timing-equalizer"), pm.cost)
	if err != nil {
		return nil, fmt.Errorf("auth: prepare dummy digest: %w", err)
	}
	pm.dummy = dummy
	return pm, nil
}

// GenerateRandomPassword returns a password of the given length with at least one
// upper, lower, digit and special character, in a uniformly shuffled order.
func (pm *PasswordManager) GenerateRandomPassword(length int) (string, error) {
	if length < minGeneratedLength {
		return "", fmt.Errorf("%w: password length must be at least %d", ErrInvalidInput, minGeneratedLength)
	}
	out := make([]byte, 0, length)
	for _, class := range []string{upperChars, lowerChars, digitChars, specialChars} {
		c, err := pick(class)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}
	for len(out) < length {
		c, err := pick(allChars)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}
	for i := len(out) - 1; i > 0; i-- {
		j, err := randIntn(i + 1)
		if err != nil {
			return "", err
		}
		out[i], out[j] = out[j], out[i]
	}
	return string(out), nil
}

// Hash returns a salted bcrypt digest of plaintext.
func (pm *PasswordManager) Hash(plaintext string) (string, error) {
	if plaintext == "" {
		return "", fmt.Errorf("%w: password is empty", ErrInvalidInput)
	}
	digest, err := bcrypt.GenerateFromPassword([]byte(plaintext), pm.cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", fmt.Errorf("%w: password is too long", ErrInvalidInput)
		}
		return "", fmt.Errorf("auth: hash password: %w", err)
	}
	return string(digest), nil
}

// Verify reports whether plaintext matches digest. Legacy unsalted SHA-256 hex
// digests are still accepted.
func (pm *PasswordManager) Verify(plaintext, digest string) bool {
	if digest == "" {
		return false
	}
	if isLegacyDigest(digest) {
		sum := sha256.Sum256([]byte(plaintext))
		want := hex.EncodeToString(sum[:])
		return subtle.ConstantTimeCompare([]byte(want), []byte(digest)) == 1
	}
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(plaintext)) == nil
}

// NeedsUpgrade reports whether digest should be replaced by a fresh Hash.
func (pm *PasswordManager) NeedsUpgrade(digest string) bool {
	if isLegacyDigest(digest) {
		return true
	}
	cost, err := bcrypt.Cost([]byte(digest))
	if err != nil {
		return false
	}
	return cost < pm.cost
}

// GenerateAndHash mints a fresh credential.
func (pm *PasswordManager) GenerateAndHash(length int) (plaintext, digest string, err error) {
	plaintext, err = pm.GenerateRandomPassword(length)
	if err != nil {
		return "", "", err
	}
	digest, err = pm.Hash(plaintext)
	if err != nil {
		return "", "", err
	}
	return plaintext, digest, nil
}

// EqualizeTiming burns one bcrypt comparison.
func (pm *PasswordManager) EqualizeTiming(plaintext string) {
	_ = bcrypt.CompareHashAndPassword(pm.dummy, []byte(plaintext))
}

func isLegacyDigest(digest string) bool {
	if len(digest) != legacyDigestLength {
		return false
	}
	_, err := hex.DecodeString(digest)
	return err == nil
}

func pick(alphabet string) (byte, error) {
	i, err := randIntn(len(alphabet))
	if err != nil {
		return 0, err
	}
	return alphabet[i], nil
}

func randIntn(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("auth: read random: %w", err)
	}
	return int(v.Int64()), nil
}

// Package password provides one-way adaptive password hashing.
package password

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

const (
	// MaxPasswordLength is bcrypt's hard input limit. GenerateFromPassword
	// rejects anything longer, so the registration policy caps here too
	// rather than letting validation accept input the hasher cannot take.
	MaxPasswordLength = 72

	minCost     = bcrypt.MinCost
	defaultCost = 12
)

var (
	// ErrEmptyPassword is returned by Hash for an empty input. Hashing an
	// empty credential is always a caller bug, never a user error.
	ErrEmptyPassword = errors.New("password must not be empty")
	// ErrPasswordTooLong is returned by Hash when the input exceeds
	// MaxPasswordLength bytes.
	ErrPasswordTooLong = errors.New("password exceeds maximum length")
)

// Hasher wraps bcrypt with a configured cost factor.
//
// Hasher instances are intended to be configured during initialization and
// then treated as immutable.
type Hasher struct {
	cost int
}

// NewHasher creates a Hasher with the given cost. Costs below bcrypt's
// minimum fall back to the default of 12.
func NewHasher(cost int) *Hasher {
	if cost < minCost {
		cost = defaultCost
	}
	return &Hasher{cost: cost}
}

// Hash derives a salted one-way hash of plaintext. Empty and oversized
// inputs are precondition failures and return an error.
func (h *Hasher) Hash(plaintext string) (string, error) {
	if plaintext == "" {
		return "", ErrEmptyPassword
	}
	if len(plaintext) > MaxPasswordLength {
		return "", ErrPasswordTooLong
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// Verify reports whether plaintext matches the stored hash. Malformed or
// empty hashes verify as false; Verify never returns an error to callers
// because every failure mode means "these credentials do not match".
// Constant-time comparison is delegated to bcrypt.
func (h *Hasher) Verify(plaintext, hash string) bool {
	if plaintext == "" || hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}

// Cost returns the configured cost factor.
func (h *Hasher) Cost() int {
	return h.cost
}

package model

import (
	"time"

	"github.com/google/uuid"
)

// PasswordResetToken is a persisted single-use reset token row. Only the
// SHA-256 hash of the secret is stored; the plaintext leaves the process
// exactly once, inside the reset email.
type PasswordResetToken struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	TokenHash string
	ExpiresAt time.Time
	Used      bool
	CreatedAt time.Time
}

// Expired reports whether the token's validity window has passed.
func (t *PasswordResetToken) Expired() bool {
	return time.Now().After(t.ExpiresAt)
}

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tradingapp/authd/internal/model"
)

// ResetTokenStore defines the interface for password reset token operations.
//
// Tokens are stored by hash only. At most one live token exists per user:
// creating a new one retires any earlier unused tokens in the same
// transaction.
type ResetTokenStore interface {
	Create(ctx context.Context, token *model.PasswordResetToken) error
	FindValid(ctx context.Context, tokenHash string) (*model.PasswordResetToken, error)
	Consume(ctx context.Context, id uuid.UUID) (bool, error)
	DeleteExpired(ctx context.Context) (int64, error)
}

type resetTokenStore struct {
	pool *pgxpool.Pool
}

// NewResetTokenStore creates a new reset token store.
func NewResetTokenStore(pool *pgxpool.Pool) ResetTokenStore {
	return &resetTokenStore{pool: pool}
}

// Create invalidates the user's outstanding unused tokens and inserts the
// new one atomically, so a second forgot-password request always supersedes
// the first.
func (s *resetTokenStore) Create(ctx context.Context, token *model.PasswordResetToken) error {
	if token.ID == uuid.Nil {
		token.ID = uuid.New()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	invalidate := `UPDATE password_reset_tokens SET used = TRUE WHERE user_id = $1 AND used = FALSE`
	if _, err := tx.Exec(ctx, invalidate, token.UserID); err != nil {
		return err
	}

	insert := `
		INSERT INTO password_reset_tokens (id, user_id, token_hash, expires_at, used)
		VALUES ($1, $2, $3, $4, FALSE)
		RETURNING created_at`
	if err := tx.QueryRow(ctx, insert,
		token.ID,
		token.UserID,
		token.TokenHash,
		token.ExpiresAt,
	).Scan(&token.CreatedAt); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// FindValid looks up an unused, unexpired token by its hash. Returns
// (nil, nil) when no such token exists.
func (s *resetTokenStore) FindValid(ctx context.Context, tokenHash string) (*model.PasswordResetToken, error) {
	query := `
		SELECT id, user_id, token_hash, expires_at, used, created_at
		FROM password_reset_tokens
		WHERE token_hash = $1 AND used = FALSE AND expires_at > NOW()`

	var token model.PasswordResetToken
	err := s.pool.QueryRow(ctx, query, tokenHash).Scan(
		&token.ID,
		&token.UserID,
		&token.TokenHash,
		&token.ExpiresAt,
		&token.Used,
		&token.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &token, nil
}

// Consume marks a token used. The WHERE clause repeats the validity checks,
// so concurrent consumers race on the row update and exactly one wins.
func (s *resetTokenStore) Consume(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE password_reset_tokens
		SET used = TRUE
		WHERE id = $1 AND used = FALSE AND expires_at > NOW()`

	result, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() == 1, nil
}

// DeleteExpired removes tokens that are used or past expiry and returns the
// number of rows deleted.
func (s *resetTokenStore) DeleteExpired(ctx context.Context) (int64, error) {
	query := `DELETE FROM password_reset_tokens WHERE used = TRUE OR expires_at <= $1`
	result, err := s.pool.Exec(ctx, query, time.Now())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

// Compile-time check to ensure resetTokenStore implements ResetTokenStore.
var _ ResetTokenStore = (*resetTokenStore)(nil)

// Package store provides data access layer implementations.
package store

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tradingapp/authd/internal/model"
)

// ErrDuplicateEmail is returned by Create when the email is already taken.
var ErrDuplicateEmail = errors.New("email already registered")

// uniqueViolation is the PostgreSQL SQLSTATE for unique constraint errors.
const uniqueViolation = "23505"

// UserStore defines the interface for user account data operations.
//
// Lookups return (nil, nil) when no row matches; callers translate that into
// their own not-found semantics.
type UserStore interface {
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error
	UpdateName(ctx context.Context, id uuid.UUID, firstName, lastName string) error
	UpdateTheme(ctx context.Context, id uuid.UUID, theme model.Theme) error
	Deactivate(ctx context.Context, id uuid.UUID) error
}

type userStore struct {
	pool *pgxpool.Pool
}

// NewUserStore creates a new user store backed by a connection pool.
func NewUserStore(pool *pgxpool.Pool) UserStore {
	return &userStore{pool: pool}
}

const userColumns = `id, first_name, last_name, email, password_hash, theme, is_active, created_at, updated_at`

// Create inserts a new user. Email is stored lowercased so the unique index
// enforces case-insensitive uniqueness.
func (s *userStore) Create(ctx context.Context, user *model.User) error {
	query := `
		INSERT INTO users (id, first_name, last_name, email, password_hash, theme, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`

	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	if user.Theme == "" {
		user.Theme = model.ThemeLight
	}
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))

	err := s.pool.QueryRow(ctx, query,
		user.ID,
		user.FirstName,
		user.LastName,
		user.Email,
		user.PasswordHash,
		user.Theme,
		user.IsActive,
	).Scan(&user.CreatedAt, &user.UpdatedAt)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicateEmail
	}
	return err
}

// GetByID retrieves a user by primary key.
func (s *userStore) GetByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return s.scanOne(s.pool.QueryRow(ctx, query, id))
}

// GetByEmail retrieves a user by email, case-insensitively.
func (s *userStore) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return s.scanOne(s.pool.QueryRow(ctx, query, strings.ToLower(strings.TrimSpace(email))))
}

// UpdatePassword replaces a user's password hash.
func (s *userStore) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	query := `UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`
	result, err := s.pool.Exec(ctx, query, id, passwordHash)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// UpdateName changes the user's display names. Email and password never
// move through this path.
func (s *userStore) UpdateName(ctx context.Context, id uuid.UUID, firstName, lastName string) error {
	query := `UPDATE users SET first_name = $2, last_name = $3, updated_at = NOW() WHERE id = $1`
	result, err := s.pool.Exec(ctx, query, id, firstName, lastName)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// UpdateTheme changes a user's stored theme preference.
func (s *userStore) UpdateTheme(ctx context.Context, id uuid.UUID, theme model.Theme) error {
	query := `UPDATE users SET theme = $2, updated_at = NOW() WHERE id = $1`
	result, err := s.pool.Exec(ctx, query, id, theme)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// Deactivate soft-disables an account. The row is kept; only is_active flips.
func (s *userStore) Deactivate(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE users SET is_active = FALSE, updated_at = NOW() WHERE id = $1`
	result, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (s *userStore) scanOne(row pgx.Row) (*model.User, error) {
	var user model.User
	err := row.Scan(
		&user.ID,
		&user.FirstName,
		&user.LastName,
		&user.Email,
		&user.PasswordHash,
		&user.Theme,
		&user.IsActive,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Compile-time check to ensure userStore implements UserStore.
var _ UserStore = (*userStore)(nil)

// Package auth implements the account lifecycle: registration, login,
// password reset, and profile management.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tradingapp/authd/internal/mail"
	"github.com/tradingapp/authd/internal/model"
	"github.com/tradingapp/authd/internal/password"
	"github.com/tradingapp/authd/internal/store"
	"github.com/tradingapp/authd/internal/token"
)

const resetSecretBytes = 32

// Config holds the service's behavioral knobs.
type Config struct {
	ResetTokenTTL time.Duration
}

// Service wires the credential store, hasher, token manager, and mailer
// into the account operations exposed over HTTP.
type Service struct {
	users  store.UserStore
	resets store.ResetTokenStore
	hasher *password.Hasher
	tokens *token.Manager
	mailer *mail.Dispatcher
	tmpl   mail.Templates
	cfg    Config
	logger *slog.Logger

	// dummyHash is verified against when the email is unknown, so both
	// login failure paths cost one bcrypt comparison.
	dummyHash string
}

// NewService constructs a Service. The mailer may be nil in tests; email
// side effects are then skipped.
func NewService(
	users store.UserStore,
	resets store.ResetTokenStore,
	hasher *password.Hasher,
	tokens *token.Manager,
	mailer *mail.Dispatcher,
	tmpl mail.Templates,
	cfg Config,
	logger *slog.Logger,
) *Service {
	if cfg.ResetTokenTTL <= 0 {
		cfg.ResetTokenTTL = 30 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	dummyHash, _ := hasher.Hash("timing-equalizer-not-a-real-password")
	return &Service{
		users:     users,
		resets:    resets,
		hasher:    hasher,
		tokens:    tokens,
		mailer:    mailer,
		tmpl:      tmpl,
		cfg:       cfg,
		logger:    logger,
		dummyHash: dummyHash,
	}
}

// RegisterInput carries validated registration fields.
type RegisterInput struct {
	FirstName string
	LastName  string
	Email     string
	Password  string
}

// Register creates an account and returns the new user with a token pair,
// logging them in immediately.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*model.User, token.Pair, error) {
	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, token.Pair{}, fmt.Errorf("hash password: %w", err)
	}

	user := &model.User{
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		Email:        in.Email,
		PasswordHash: hash,
		Theme:        model.ThemeLight,
		IsActive:     true,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if err == store.ErrDuplicateEmail {
			return nil, token.Pair{}, ErrEmailTaken
		}
		return nil, token.Pair{}, fmt.Errorf("create user: %w", err)
	}

	pair, err := s.tokens.IssuePair(user.ID.String(), user.Email)
	if err != nil {
		return nil, token.Pair{}, fmt.Errorf("issue tokens: %w", err)
	}

	s.enqueue(s.tmpl.Welcome(user.Email, user.FirstName))
	s.logger.Info("user registered", "user_id", user.ID)

	return user, pair, nil
}

// Login verifies credentials and issues a token pair. Unknown emails and
// wrong passwords return the same error; a deactivated account is reported
// as such before the password is checked.
func (s *Service) Login(ctx context.Context, email, plaintext string) (*model.User, token.Pair, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, token.Pair{}, fmt.Errorf("lookup user: %w", err)
	}
	if user == nil {
		// Burn a comparison anyway so response timing doesn't reveal
		// whether the email exists.
		s.hasher.Verify(plaintext, s.dummyHash)
		return nil, token.Pair{}, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, token.Pair{}, ErrAccountDeactivated
	}
	if !s.hasher.Verify(plaintext, user.PasswordHash) {
		return nil, token.Pair{}, ErrInvalidCredentials
	}

	pair, err := s.tokens.IssuePair(user.ID.String(), user.Email)
	if err != nil {
		return nil, token.Pair{}, fmt.Errorf("issue tokens: %w", err)
	}

	s.logger.Info("user logged in", "user_id", user.ID)
	return user, pair, nil
}

// Refresh exchanges a valid refresh token for a fresh pair. The user is
// re-fetched so a deactivated or deleted account cannot keep minting tokens.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (token.Pair, error) {
	claims, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return token.Pair{}, err
	}
	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return token.Pair{}, token.ErrTokenInvalid
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return token.Pair{}, fmt.Errorf("lookup user: %w", err)
	}
	if user == nil {
		return token.Pair{}, ErrUserNotFound
	}
	if !user.IsActive {
		return token.Pair{}, ErrAccountDeactivated
	}

	return s.tokens.IssuePair(user.ID.String(), user.Email)
}

// ForgotPassword starts a reset flow. Unknown emails succeed silently so
// the endpoint cannot be used to enumerate accounts; deactivated accounts
// are refused explicitly so their owners learn why no email arrives.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("lookup user: %w", err)
	}
	if user == nil {
		return sleepEnumerationDelay(ctx)
	}
	if !user.IsActive {
		return ErrAccountDeactivated
	}

	secret, err := newResetSecret()
	if err != nil {
		return fmt.Errorf("generate reset token: %w", err)
	}

	record := &model.PasswordResetToken{
		UserID:    user.ID,
		TokenHash: hashResetSecret(secret),
		ExpiresAt: time.Now().Add(s.cfg.ResetTokenTTL),
	}
	if err := s.resets.Create(ctx, record); err != nil {
		return fmt.Errorf("store reset token: %w", err)
	}

	s.enqueue(s.tmpl.PasswordReset(user.Email, user.FirstName, secret))
	s.logger.Info("password reset requested", "user_id", user.ID)
	return nil
}

// ResetPassword consumes a reset token and sets the new password. The
// consume happens before the password write, so two concurrent calls with
// the same token can't both succeed.
func (s *Service) ResetPassword(ctx context.Context, plainToken, newPassword string) error {
	record, err := s.resets.FindValid(ctx, hashResetSecret(plainToken))
	if err != nil {
		return fmt.Errorf("lookup reset token: %w", err)
	}
	if record == nil {
		return ErrResetTokenInvalid
	}

	user, err := s.users.GetByID(ctx, record.UserID)
	if err != nil {
		return fmt.Errorf("lookup user: %w", err)
	}
	if user == nil || !user.IsActive {
		return ErrResetTokenInvalid
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	consumed, err := s.resets.Consume(ctx, record.ID)
	if err != nil {
		return fmt.Errorf("consume reset token: %w", err)
	}
	if !consumed {
		return ErrResetTokenInvalid
	}

	if err := s.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	s.enqueue(s.tmpl.PasswordChanged(user.Email, user.FirstName))
	s.logger.Info("password reset completed", "user_id", user.ID)
	return nil
}

// ChangePassword updates an authenticated user's password after verifying
// the current one. Existing sessions stay valid; tokens are stateless.
func (s *Service) ChangePassword(ctx context.Context, userID uuid.UUID, current, next string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("lookup user: %w", err)
	}
	if user == nil {
		return ErrUserNotFound
	}
	if !s.hasher.Verify(current, user.PasswordHash) {
		return ErrWrongPassword
	}
	if current == next {
		return ErrPasswordReuse
	}

	hash, err := s.hasher.Hash(next)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.users.UpdatePassword(ctx, userID, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	s.enqueue(s.tmpl.PasswordChanged(user.Email, user.FirstName))
	s.logger.Info("password changed", "user_id", userID)
	return nil
}

// Deactivate disables an account. The record is kept; only is_active flips.
// Already-issued tokens stay cryptographically valid, but the per-request
// user re-fetch locks the account out immediately.
func (s *Service) Deactivate(ctx context.Context, userID uuid.UUID) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("lookup user: %w", err)
	}
	if user == nil {
		return ErrUserNotFound
	}

	if err := s.users.Deactivate(ctx, userID); err != nil {
		return fmt.Errorf("deactivate user: %w", err)
	}

	s.logger.Info("account deactivated", "user_id", userID)
	return nil
}

// UpdateProfile changes the caller's display names. Nil fields are left
// untouched; email and password are never mutated through this path.
func (s *Service) UpdateProfile(ctx context.Context, userID uuid.UUID, firstName, lastName *string) (*model.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}

	first := user.FirstName
	last := user.LastName
	if firstName != nil {
		first = strings.TrimSpace(*firstName)
	}
	if lastName != nil {
		last = strings.TrimSpace(*lastName)
	}
	if err := s.users.UpdateName(ctx, userID, first, last); err != nil {
		return nil, fmt.Errorf("update name: %w", err)
	}
	return s.Profile(ctx, userID)
}

// Profile returns the user record for an authenticated caller.
func (s *Service) Profile(ctx context.Context, userID uuid.UUID) (*model.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// UpdateTheme stores a new theme preference and returns the updated user.
func (s *Service) UpdateTheme(ctx context.Context, userID uuid.UUID, theme model.Theme) (*model.User, error) {
	if !theme.Valid() {
		return nil, ErrInvalidTheme
	}
	if err := s.users.UpdateTheme(ctx, userID, theme); err != nil {
		return nil, fmt.Errorf("update theme: %w", err)
	}
	return s.Profile(ctx, userID)
}

// CleanupExpiredResetTokens removes used and expired reset tokens. Meant to
// run periodically from the server's maintenance loop.
func (s *Service) CleanupExpiredResetTokens(ctx context.Context) (int64, error) {
	n, err := s.resets.DeleteExpired(ctx)
	if err != nil {
		return 0, fmt.Errorf("delete expired reset tokens: %w", err)
	}
	if n > 0 {
		s.logger.Info("cleaned up reset tokens", "deleted", n)
	}
	return n, nil
}

func (s *Service) enqueue(msg mail.Message) {
	if s.mailer != nil {
		s.mailer.Enqueue(msg)
	}
}

func newResetSecret() (string, error) {
	buf := make([]byte, resetSecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func hashResetSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// sleepEnumerationDelay pauses for a short random interval so the
// unknown-email path of ForgotPassword takes comparable time to the path
// that stores a token and queues an email.
func sleepEnumerationDelay(ctx context.Context) error {
	minMs := int64(20)
	maxMs := int64(40)

	n, err := rand.Int(rand.Reader, big.NewInt(maxMs-minMs+1))
	if err != nil {
		return err
	}

	timer := time.NewTimer(time.Duration(minMs+n.Int64()) * time.Millisecond)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Package token issues and verifies the signed access/refresh token pair.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const refreshTokenType = "refresh"

var (
	// ErrTokenExpired is returned when a structurally valid token is past
	// its expiry (including configured leeway).
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid covers every other verification failure: bad
	// signature, wrong issuer, malformed claims, wrong token type.
	ErrTokenInvalid = errors.New("token invalid")
)

// Config holds the signing parameters for a Manager.
//
// Config instances are intended to be configured during initialization and
// then treated as immutable.
type Config struct {
	Secret     []byte
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Leeway     time.Duration
}

// AccessClaims are carried by short-lived tokens that authenticate requests.
type AccessClaims struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// RefreshClaims are carried by long-lived tokens whose only purpose is
// minting a fresh pair. TokenType distinguishes them from access tokens so
// one can never be presented where the other is expected.
type RefreshClaims struct {
	UserID    string `json:"userId"`
	TokenType string `json:"type"`
	jwt.RegisteredClaims
}

// Pair bundles the two tokens returned to a client on login or refresh.
type Pair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Manager signs and verifies HS256 tokens.
//
// Manager is safe for concurrent use.
type Manager struct {
	config Config
}

// NewManager validates cfg and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("hs256 requires a signing secret")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	return &Manager{config: cfg}, nil
}

// IssueAccess creates a signed access token for the given user.
func (m *Manager) IssueAccess(userID, email string) (string, error) {
	claims := AccessClaims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(m.config.AccessTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    m.config.Issuer,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.config.Secret)
}

// IssueRefresh creates a signed refresh token for the given user.
func (m *Manager) IssueRefresh(userID string) (string, error) {
	claims := RefreshClaims{
		UserID:    userID,
		TokenType: refreshTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(m.config.RefreshTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    m.config.Issuer,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.config.Secret)
}

// IssuePair creates an access/refresh pair in one call.
func (m *Manager) IssuePair(userID, email string) (Pair, error) {
	access, err := m.IssueAccess(userID, email)
	if err != nil {
		return Pair{}, err
	}
	refresh, err := m.IssueRefresh(userID)
	if err != nil {
		return Pair{}, err
	}
	return Pair{AccessToken: access, RefreshToken: refresh}, nil
}

// VerifyAccess parses and validates an access token. Refresh tokens are
// rejected with ErrTokenInvalid even though they share the signing key.
func (m *Manager) VerifyAccess(tokenStr string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := m.parse(tokenStr, claims); err != nil {
		return nil, err
	}
	if claims.UserID == "" {
		return nil, ErrTokenInvalid
	}
	// A refresh token unmarshals cleanly into AccessClaims, so probe the
	// type claim separately.
	probe := &RefreshClaims{}
	if err := m.parse(tokenStr, probe); err == nil && probe.TokenType == refreshTokenType {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// VerifyRefresh parses and validates a refresh token, enforcing the type
// claim so access tokens cannot be replayed through the refresh endpoint.
func (m *Manager) VerifyRefresh(tokenStr string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := m.parse(tokenStr, claims); err != nil {
		return nil, err
	}
	if claims.UserID == "" || claims.TokenType != refreshTokenType {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

func (m *Manager) parse(tokenStr string, claims jwt.Claims) error {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return m.config.Secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrTokenExpired
		}
		return ErrTokenInvalid
	}
	if !token.Valid {
		return ErrTokenInvalid
	}
	return nil
}

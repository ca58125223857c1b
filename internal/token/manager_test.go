package token

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func testManager(t *testing.T, mutate func(*Config)) *Manager {
	t.Helper()
	cfg := Config{
		Secret:     []byte("0123456789abcdef0123456789abcdef"),
		Issuer:     "trading-app",
		AccessTTL:  24 * time.Hour,
		RefreshTTL: 7 * 24 * time.Hour,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	m, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return m
}

func TestNewManagerValidation(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{"missing secret", Config{AccessTTL: time.Hour, RefreshTTL: time.Hour}},
		{"zero access ttl", Config{Secret: []byte("k"), RefreshTTL: time.Hour}},
		{"zero refresh ttl", Config{Secret: []byte("k"), AccessTTL: time.Hour}},
		{"excessive leeway", Config{Secret: []byte("k"), AccessTTL: time.Hour, RefreshTTL: time.Hour, Leeway: 5 * time.Minute}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewManager(tc.cfg); err == nil {
				t.Fatal("expected configuration error")
			}
		})
	}
}

func TestAccessTokenRoundTrip(t *testing.T) {
	m := testManager(t, nil)

	signed, err := m.IssueAccess("user-1", "a@b.test")
	if err != nil {
		t.Fatalf("IssueAccess failed: %v", err)
	}

	claims, err := m.VerifyAccess(signed)
	if err != nil {
		t.Fatalf("VerifyAccess failed: %v", err)
	}
	if claims.UserID != "user-1" || claims.Email != "a@b.test" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.Issuer != "trading-app" {
		t.Fatalf("unexpected issuer %q", claims.Issuer)
	}
}

func TestRefreshTokenRoundTrip(t *testing.T) {
	m := testManager(t, nil)

	signed, err := m.IssueRefresh("user-1")
	if err != nil {
		t.Fatalf("IssueRefresh failed: %v", err)
	}

	claims, err := m.VerifyRefresh(signed)
	if err != nil {
		t.Fatalf("VerifyRefresh failed: %v", err)
	}
	if claims.UserID != "user-1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestTokensCarrySubjectClaim(t *testing.T) {
	m := testManager(t, nil)

	access, err := m.IssueAccess("user-1", "a@b.test")
	if err != nil {
		t.Fatalf("IssueAccess failed: %v", err)
	}
	accessClaims, err := m.VerifyAccess(access)
	if err != nil {
		t.Fatalf("VerifyAccess failed: %v", err)
	}
	if accessClaims.Subject != "user-1" {
		t.Fatalf("expected sub to carry the user id, got %q", accessClaims.Subject)
	}

	refresh, err := m.IssueRefresh("user-1")
	if err != nil {
		t.Fatalf("IssueRefresh failed: %v", err)
	}
	refreshClaims, err := m.VerifyRefresh(refresh)
	if err != nil {
		t.Fatalf("VerifyRefresh failed: %v", err)
	}
	if refreshClaims.Subject != "user-1" {
		t.Fatalf("expected sub to carry the user id, got %q", refreshClaims.Subject)
	}
}

func TestIssuePairReturnsDistinctTokens(t *testing.T) {
	m := testManager(t, nil)

	pair, err := m.IssuePair("user-1", "a@b.test")
	if err != nil {
		t.Fatalf("IssuePair failed: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("expected both tokens populated")
	}
	if pair.AccessToken == pair.RefreshToken {
		t.Fatal("access and refresh tokens must differ")
	}
}

func TestTokenTypesAreNotInterchangeable(t *testing.T) {
	m := testManager(t, nil)

	access, err := m.IssueAccess("user-1", "a@b.test")
	if err != nil {
		t.Fatalf("IssueAccess failed: %v", err)
	}
	refresh, err := m.IssueRefresh("user-1")
	if err != nil {
		t.Fatalf("IssueRefresh failed: %v", err)
	}

	if _, err := m.VerifyRefresh(access); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for access token on refresh path, got %v", err)
	}
	if _, err := m.VerifyAccess(refresh); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for refresh token on access path, got %v", err)
	}
}

func TestExpiredTokenIsDistinguished(t *testing.T) {
	m := testManager(t, func(cfg *Config) {
		cfg.AccessTTL = time.Nanosecond
	})

	signed, err := m.IssueAccess("user-1", "a@b.test")
	if err != nil {
		t.Fatalf("IssueAccess failed: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	if _, err := m.VerifyAccess(signed); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestTamperedTokenIsRejected(t *testing.T) {
	m := testManager(t, nil)

	signed, err := m.IssueAccess("user-1", "a@b.test")
	if err != nil {
		t.Fatalf("IssueAccess failed: %v", err)
	}
	tampered := signed[:len(signed)-2] + "xx"

	if _, err := m.VerifyAccess(tampered); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestWrongIssuerIsRejected(t *testing.T) {
	other := testManager(t, func(cfg *Config) {
		cfg.Issuer = "someone-else"
	})
	m := testManager(t, nil)

	signed, err := other.IssueAccess("user-1", "a@b.test")
	if err != nil {
		t.Fatalf("IssueAccess failed: %v", err)
	}
	if _, err := m.VerifyAccess(signed); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestUnexpectedAlgorithmIsRejected(t *testing.T) {
	m := testManager(t, nil)

	// "none" must never pass verification regardless of claims content.
	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, AccessClaims{
		UserID: "user-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			Issuer:    "trading-app",
		},
	})
	signed, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("signing with none failed: %v", err)
	}

	if _, err := m.VerifyAccess(signed); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

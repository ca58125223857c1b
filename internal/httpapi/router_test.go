package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/tradingapp/authd/internal/auth"
	"github.com/tradingapp/authd/internal/config"
	"github.com/tradingapp/authd/internal/database"
	"github.com/tradingapp/authd/internal/mail"
	"github.com/tradingapp/authd/internal/model"
	"github.com/tradingapp/authd/internal/password"
	"github.com/tradingapp/authd/internal/store"
	"github.com/tradingapp/authd/internal/token"
)

type memUserStore struct {
	mu    sync.Mutex
	users map[uuid.UUID]*model.User
}

func newMemUserStore() *memUserStore {
	return &memUserStore{users: make(map[uuid.UUID]*model.User)}
}

func (m *memUserStore) Create(_ context.Context, user *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	for _, u := range m.users {
		if u.Email == user.Email {
			return store.ErrDuplicateEmail
		}
	}
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	clone := *user
	m.users[user.ID] = &clone
	return nil
}

func (m *memUserStore) GetByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		clone := *u
		return &clone, nil
	}
	return nil, nil
}

func (m *memUserStore) GetByEmail(_ context.Context, email string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	email = strings.ToLower(strings.TrimSpace(email))
	for _, u := range m.users {
		if u.Email == email {
			clone := *u
			return &clone, nil
		}
	}
	return nil, nil
}

func (m *memUserStore) UpdatePassword(_ context.Context, id uuid.UUID, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		u.PasswordHash = hash
		return nil
	}
	return errors.New("no rows")
}

func (m *memUserStore) UpdateName(_ context.Context, id uuid.UUID, firstName, lastName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		u.FirstName = firstName
		u.LastName = lastName
		return nil
	}
	return errors.New("no rows")
}

func (m *memUserStore) UpdateTheme(_ context.Context, id uuid.UUID, theme model.Theme) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		u.Theme = theme
		return nil
	}
	return errors.New("no rows")
}

func (m *memUserStore) Deactivate(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		u.IsActive = false
		return nil
	}
	return errors.New("no rows")
}

type memResetStore struct {
	mu     sync.Mutex
	tokens map[uuid.UUID]*model.PasswordResetToken
}

func newMemResetStore() *memResetStore {
	return &memResetStore{tokens: make(map[uuid.UUID]*model.PasswordResetToken)}
}

func (m *memResetStore) Create(_ context.Context, tok *model.PasswordResetToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tokens {
		if t.UserID == tok.UserID && !t.Used {
			t.Used = true
		}
	}
	if tok.ID == uuid.Nil {
		tok.ID = uuid.New()
	}
	tok.CreatedAt = time.Now()
	clone := *tok
	m.tokens[tok.ID] = &clone
	return nil
}

func (m *memResetStore) FindValid(_ context.Context, hash string) (*model.PasswordResetToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tokens {
		if t.TokenHash == hash && !t.Used && time.Now().Before(t.ExpiresAt) {
			clone := *t
			return &clone, nil
		}
	}
	return nil, nil
}

func (m *memResetStore) Consume(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[id]
	if !ok || t.Used || time.Now().After(t.ExpiresAt) {
		return false, nil
	}
	t.Used = true
	return true, nil
}

func (m *memResetStore) DeleteExpired(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, t := range m.tokens {
		if t.Used || !time.Now().Before(t.ExpiresAt) {
			delete(m.tokens, id)
			n++
		}
	}
	return n, nil
}

type apiEnv struct {
	server *httptest.Server
	users  *memUserStore
	redis  *miniredis.Miniredis
	tokens *token.Manager
}

func rateLimitConfig() config.RateLimitConfig {
	return config.RateLimitConfig{
		Enabled:        true,
		RegisterLimit:  5, RegisterWindow: time.Hour,
		LoginLimit:     5, LoginWindow: 15 * time.Minute,
		ForgotLimit:    10, ForgotWindow: time.Hour,
		AuthLimit:      10, AuthWindow: 15 * time.Minute,
		APILimit:       100, APIWindow: 15 * time.Minute,
	}
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	redisWrap := database.NewRedisFromClient(client)

	tokens, err := token.NewManager(token.Config{
		Secret:     []byte("0123456789abcdef0123456789abcdef"),
		Issuer:     "trading-app",
		AccessTTL:  time.Hour,
		RefreshTTL: 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	users := newMemUserStore()
	svc := auth.NewService(
		users,
		newMemResetStore(),
		password.NewHasher(4),
		tokens,
		nil,
		mail.Templates{FromName: "Trading App", FrontendURL: "https://app.test"},
		auth.Config{ResetTokenTTL: 30 * time.Minute},
		nil,
	)

	router := NewRouter(RouterDeps{
		Handler:     NewHandler(svc, nil),
		Tokens:      tokens,
		Users:       users,
		RateLimiter: NewRateLimiter(redisWrap, rateLimitConfig(), nil),
		CORSOrigins: []string{"https://app.test"},
		Cache:       redisWrap,
	})

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &apiEnv{server: server, users: users, redis: mr, tokens: tokens}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Error   struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Details map[string]string `json:"details"`
	} `json:"error"`
}

func (e *apiEnv) do(t *testing.T, method, path, bearer string, body any) (*http.Response, envelope) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, e.server.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := e.server.Client().Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return resp, env
}

func registerBody(email string) map[string]string {
	return map[string]string{
		"firstName":       "Ada",
		"lastName":        "Lovelace",
		"email":           email,
		"password":        "Valid1!pass",
		"confirmPassword": "Valid1!pass",
	}
}

func (e *apiEnv) registerAndLogin(t *testing.T, email string) (string, string) {
	t.Helper()
	resp, env := e.do(t, http.MethodPost, "/api/auth/register", "", registerBody(email))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register returned %d: %+v", resp.StatusCode, env)
	}
	var payload struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	return payload.AccessToken, payload.RefreshToken
}

func TestRegisterAndLoginFlow(t *testing.T) {
	env := newAPIEnv(t)

	resp, body := env.do(t, http.MethodPost, "/api/auth/register", "", registerBody("a@b.test"))
	if resp.StatusCode != http.StatusCreated || !body.Success {
		t.Fatalf("register: %d %+v", resp.StatusCode, body)
	}

	resp, body = env.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "a@b.test", "password": "Valid1!pass",
	})
	if resp.StatusCode != http.StatusOK || !body.Success {
		t.Fatalf("login: %d %+v", resp.StatusCode, body)
	}
}

func TestRegisterValidationErrors(t *testing.T) {
	env := newAPIEnv(t)

	resp, body := env.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"firstName":       "A",
		"lastName":        "L0velace!",
		"email":           "not-an-email",
		"password":        "weak",
		"confirmPassword": "different",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if body.Error.Code != "validation_error" {
		t.Fatalf("expected validation_error, got %q", body.Error.Code)
	}
	for _, field := range []string{"firstName", "lastName", "email", "password", "confirmPassword"} {
		if _, ok := body.Error.Details[field]; !ok {
			t.Fatalf("missing validation detail for %s: %+v", field, body.Error.Details)
		}
	}
}

func TestRegisterRejectsPasswordBeyondBcryptLimit(t *testing.T) {
	env := newAPIEnv(t)

	// 100 characters: beyond bcrypt's 72-byte input limit. Validation must
	// reject it as a field error instead of letting the hasher fail with a
	// 500 later.
	long := "Aa1!" + strings.Repeat("a", 96)
	body := registerBody("a@b.test")
	body["password"] = long
	body["confirmPassword"] = long

	resp, got := env.do(t, http.MethodPost, "/api/auth/register", "", body)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if _, ok := got.Error.Details["password"]; !ok {
		t.Fatalf("expected a password validation detail, got %+v", got.Error.Details)
	}
}

func TestDuplicateRegistrationConflicts(t *testing.T) {
	env := newAPIEnv(t)
	env.registerAndLogin(t, "a@b.test")

	resp, body := env.do(t, http.MethodPost, "/api/auth/register", "", registerBody("a@b.test"))
	if resp.StatusCode != http.StatusConflict || body.Error.Code != "conflict" {
		t.Fatalf("expected 409 conflict, got %d %+v", resp.StatusCode, body)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	env := newAPIEnv(t)
	env.registerAndLogin(t, "a@b.test")

	resp, body := env.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "a@b.test", "password": "Wrong1!pass",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	if body.Error.Message != "Invalid email or password" {
		t.Fatalf("unexpected message %q", body.Error.Message)
	}
}

func TestProfileRequiresAuth(t *testing.T) {
	env := newAPIEnv(t)

	resp, _ := env.do(t, http.MethodGet, "/api/auth/profile", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}

	access, _ := env.registerAndLogin(t, "a@b.test")
	resp, body := env.do(t, http.MethodGet, "/api/auth/profile", access, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d %+v", resp.StatusCode, body)
	}

	var user model.User
	if err := json.Unmarshal(body.Data, &user); err != nil {
		t.Fatalf("decode user: %v", err)
	}
	if user.Email != "a@b.test" {
		t.Fatalf("unexpected profile %+v", user)
	}
}

func TestDeactivationTakesEffectImmediately(t *testing.T) {
	env := newAPIEnv(t)
	access, _ := env.registerAndLogin(t, "a@b.test")

	resp, _ := env.do(t, http.MethodDelete, "/api/auth/account", access, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("deactivate returned %d", resp.StatusCode)
	}

	// The token is still cryptographically valid; the per-request re-fetch
	// is what locks the account out.
	resp, body := env.do(t, http.MethodGet, "/api/auth/profile", access, nil)
	if resp.StatusCode != http.StatusUnauthorized || body.Error.Code != "account_deactivated" {
		t.Fatalf("expected 401 account_deactivated, got %d %+v", resp.StatusCode, body)
	}
}

func TestProfileUpdateChangesNamesOnly(t *testing.T) {
	env := newAPIEnv(t)
	access, _ := env.registerAndLogin(t, "a@b.test")

	resp, body := env.do(t, http.MethodPut, "/api/auth/profile", access, map[string]string{
		"firstName": "Grace",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("profile update returned %d %+v", resp.StatusCode, body)
	}
	var user model.User
	if err := json.Unmarshal(body.Data, &user); err != nil {
		t.Fatalf("decode user: %v", err)
	}
	if user.FirstName != "Grace" || user.LastName != "Lovelace" || user.Email != "a@b.test" {
		t.Fatalf("unexpected profile after update: %+v", user)
	}

	resp, _ = env.do(t, http.MethodPut, "/api/auth/profile", access, map[string]string{
		"firstName": "G",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for too-short name, got %d", resp.StatusCode)
	}
}

func TestGuestOnlyRejectsAuthenticatedLogin(t *testing.T) {
	env := newAPIEnv(t)
	access, _ := env.registerAndLogin(t, "a@b.test")

	resp, body := env.do(t, http.MethodPost, "/api/auth/login", access, map[string]string{
		"email": "a@b.test", "password": "Valid1!pass",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for authenticated login, got %d %+v", resp.StatusCode, body)
	}
}

func TestRefreshFlow(t *testing.T) {
	env := newAPIEnv(t)
	access, refresh := env.registerAndLogin(t, "a@b.test")

	resp, body := env.do(t, http.MethodPost, "/api/auth/refresh", "", map[string]string{
		"refreshToken": refresh,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refresh returned %d %+v", resp.StatusCode, body)
	}

	// An access token must not pass as a refresh token.
	resp, _ = env.do(t, http.MethodPost, "/api/auth/refresh", "", map[string]string{
		"refreshToken": access,
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for access token on refresh, got %d", resp.StatusCode)
	}
}

func TestThemeUpdate(t *testing.T) {
	env := newAPIEnv(t)
	access, _ := env.registerAndLogin(t, "a@b.test")

	resp, body := env.do(t, http.MethodPut, "/api/user/theme", access, map[string]string{
		"theme": "glass",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("theme update returned %d %+v", resp.StatusCode, body)
	}

	resp, _ = env.do(t, http.MethodPut, "/api/user/theme", access, map[string]string{
		"theme": "neon",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad theme, got %d", resp.StatusCode)
	}
}

func TestRegisterRateLimit(t *testing.T) {
	env := newAPIEnv(t)

	// Limit is 5 per hour per IP; duplicate-email failures still count.
	for i := 0; i < 5; i++ {
		env.do(t, http.MethodPost, "/api/auth/register", "", registerBody(fmt.Sprintf("u%d@b.test", i)))
	}
	resp, body := env.do(t, http.MethodPost, "/api/auth/register", "", registerBody("u9@b.test"))
	if resp.StatusCode != http.StatusTooManyRequests || body.Error.Code != "rate_limited" {
		t.Fatalf("expected 429 rate_limited, got %d %+v", resp.StatusCode, body)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
	if resp.Header.Get("X-RateLimit-Limit") != "5" {
		t.Fatalf("unexpected X-RateLimit-Limit %q", resp.Header.Get("X-RateLimit-Limit"))
	}
}

func TestLoginRateLimitRefundsSuccesses(t *testing.T) {
	env := newAPIEnv(t)
	env.registerAndLogin(t, "a@b.test")

	// Successful logins refund their slot, so more than the limit succeed.
	for i := 0; i < 8; i++ {
		resp, _ := env.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
			"email": "a@b.test", "password": "Valid1!pass",
		})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("login %d returned %d", i, resp.StatusCode)
		}
	}

	// Failures stick: after five, the sixth attempt is limited.
	for i := 0; i < 5; i++ {
		env.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
			"email": "a@b.test", "password": "Wrong1!pass",
		})
	}
	resp, _ := env.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "a@b.test", "password": "Valid1!pass",
	})
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after repeated failures, got %d", resp.StatusCode)
	}
}

func TestRateLimiterFailsOpen(t *testing.T) {
	env := newAPIEnv(t)
	env.redis.Close()

	resp, _ := env.do(t, http.MethodPost, "/api/auth/register", "", registerBody("a@b.test"))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected registration to succeed with redis down, got %d", resp.StatusCode)
	}
}

func TestHealthAndReady(t *testing.T) {
	env := newAPIEnv(t)

	resp, _ := env.do(t, http.MethodGet, "/health", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health returned %d", resp.StatusCode)
	}

	resp, _ = env.do(t, http.MethodGet, "/ready", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ready returned %d", resp.StatusCode)
	}

	env.redis.Close()
	resp, _ = env.do(t, http.MethodGet, "/ready", "", nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 with cache down, got %d", resp.StatusCode)
	}
}

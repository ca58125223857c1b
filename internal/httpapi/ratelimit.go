package httpapi

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/tradingapp/authd/internal/config"
	"github.com/tradingapp/authd/internal/database"
	"github.com/tradingapp/authd/internal/pkg/apierrors"
	"github.com/tradingapp/authd/internal/pkg/response"
)

// RateLimiter applies fixed-window request limits counted in Redis, keyed
// by endpoint scope and client IP. When Redis is down the limiter fails
// open: availability of login beats strictness of the limit.
type RateLimiter struct {
	redis  *database.Redis
	cfg    config.RateLimitConfig
	logger *slog.Logger
}

// NewRateLimiter creates a rate limiter. A nil redis disables limiting.
func NewRateLimiter(redis *database.Redis, cfg config.RateLimitConfig, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &RateLimiter{redis: redis, cfg: cfg, logger: logger}
}

// Limit returns middleware enforcing `limit` requests per `window` for the
// given scope. With skipSuccessful set, requests that complete below 400
// refund their slot, so only failures count against the limit.
func (rl *RateLimiter) Limit(scope string, limit int, window time.Duration, skipSuccessful bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.cfg.Enabled || rl.redis == nil {
				next.ServeHTTP(w, r)
				return
			}

			// RemoteAddr is the key; chi's RealIP middleware runs upstream
			// and rewrites it when a trusted proxy header is present.
			// Reading forwarded headers here would let clients pick their
			// own bucket.
			ctx := r.Context()
			key := fmt.Sprintf("ratelimit:%s:%s", scope, r.RemoteAddr)

			count, err := rl.redis.IncrWithExpire(ctx, key, window)
			if err != nil {
				rl.logger.Warn("rate limiter unavailable, allowing request",
					"scope", scope, "error", err)
				next.ServeHTTP(w, r)
				return
			}

			remaining := limit - int(count)
			if remaining < 0 {
				remaining = 0
			}
			resetTime := time.Now().Add(window).Unix()
			if ttl, err := rl.redis.TTL(ctx, key); err == nil && ttl > 0 {
				resetTime = time.Now().Add(ttl).Unix()
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetTime, 10))

			if int(count) > limit {
				w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
				response.Error(w, apierrors.ErrRateLimited)
				return
			}

			if !skipSuccessful {
				next.ServeHTTP(w, r)
				return
			}

			wrapped := wrapResponseWriter(w)
			next.ServeHTTP(wrapped, r)
			if wrapped.status < http.StatusBadRequest {
				if _, err := rl.redis.Decr(ctx, key); err != nil {
					rl.logger.Warn("rate limit refund failed", "scope", scope, "error", err)
				}
			}
		})
	}
}

// Register limits account creation attempts per IP.
func (rl *RateLimiter) Register() func(http.Handler) http.Handler {
	return rl.Limit("register", rl.cfg.RegisterLimit, rl.cfg.RegisterWindow, false)
}

// Login limits failed login attempts per IP; successes are refunded.
func (rl *RateLimiter) Login() func(http.Handler) http.Handler {
	return rl.Limit("login", rl.cfg.LoginLimit, rl.cfg.LoginWindow, true)
}

// ForgotPassword limits reset requests per IP.
func (rl *RateLimiter) ForgotPassword() func(http.Handler) http.Handler {
	return rl.Limit("forgot", rl.cfg.ForgotLimit, rl.cfg.ForgotWindow, false)
}

// Auth limits sensitive authenticated operations per IP.
func (rl *RateLimiter) Auth() func(http.Handler) http.Handler {
	return rl.Limit("auth", rl.cfg.AuthLimit, rl.cfg.AuthWindow, false)
}

// API is the general per-IP limit applied to the whole surface.
func (rl *RateLimiter) API() func(http.Handler) http.Handler {
	return rl.Limit("api", rl.cfg.APILimit, rl.cfg.APIWindow, false)
}

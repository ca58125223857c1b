package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/tradingapp/authd/internal/pkg/apierrors"
	"github.com/tradingapp/authd/internal/pkg/response"
	"github.com/tradingapp/authd/internal/store"
	"github.com/tradingapp/authd/internal/token"
)

// Pinger reports backend liveness for the readiness endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterDeps bundles everything the router needs.
type RouterDeps struct {
	Handler     *Handler
	Tokens      *token.Manager
	Users       store.UserStore
	RateLimiter *RateLimiter
	Logger      *slog.Logger
	CORSOrigins []string

	// Optional backends checked by /ready.
	DB    Pinger
	Cache Pinger
}

// NewRouter builds the full route tree with its middleware chain. Order per
// route is rate limit, then guest/auth guard, then body validation inside
// the handler.
func NewRouter(deps RouterDeps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(Logging(deps.Logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", healthHandler)
	r.Get("/ready", readyHandler(deps.DB, deps.Cache))

	rl := deps.RateLimiter
	requireAuth := RequireAuth(deps.Tokens, deps.Users)
	guestOnly := GuestOnly(deps.Tokens)
	h := deps.Handler

	r.Route("/api", func(r chi.Router) {
		r.Use(rl.API())

		r.Route("/auth", func(r chi.Router) {
			r.With(rl.Register(), guestOnly).Post("/register", h.register)
			r.With(rl.Login(), guestOnly).Post("/login", h.login)
			r.Post("/refresh", h.refresh)
			r.With(rl.ForgotPassword()).Post("/forgot-password", h.forgotPassword)
			r.With(rl.ForgotPassword()).Post("/reset-password", h.resetPassword)

			r.Group(func(r chi.Router) {
				r.Use(requireAuth)
				r.Get("/profile", h.profile)
				r.Put("/profile", h.updateProfile)
				r.With(rl.Auth()).Post("/change-password", h.changePassword)
				r.With(rl.Auth()).Delete("/account", h.deactivate)
			})
		})

		r.Route("/user", func(r chi.Router) {
			r.Use(requireAuth)
			r.Put("/theme", h.updateTheme)
		})
	})

	return r
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	response.OK(w, map[string]string{"status": "ok"})
}

// readyHandler checks backing stores; a failing dependency returns 503 so
// load balancers stop routing here.
func readyHandler(db, cache Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		checks := map[string]string{}
		healthy := true
		for name, p := range map[string]Pinger{"database": db, "cache": cache} {
			if p == nil {
				continue
			}
			if err := p.Ping(ctx); err != nil {
				checks[name] = "down"
				healthy = false
			} else {
				checks[name] = "up"
			}
		}

		if !healthy {
			response.Error(w, apierrors.ErrServiceUnavailable.WithDetails(checks))
			return
		}
		response.OK(w, checks)
	}
}

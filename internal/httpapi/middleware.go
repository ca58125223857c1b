package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/tradingapp/authd/internal/model"
	"github.com/tradingapp/authd/internal/pkg/apierrors"
	"github.com/tradingapp/authd/internal/pkg/response"
	"github.com/tradingapp/authd/internal/store"
	"github.com/tradingapp/authd/internal/token"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const userContextKey contextKey = "user"

// UserFromContext retrieves the authenticated user injected by RequireAuth.
func UserFromContext(ctx context.Context) *model.User {
	if u, ok := ctx.Value(userContextKey).(*model.User); ok {
		return u
	}
	return nil
}

// bearerToken extracts the credential from an Authorization header. Returns
// the empty string when the header is missing or not a bearer scheme.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// RequireAuth verifies the access token and re-fetches the user on every
// request. Tokens are stateless, so the fetch is what makes deactivation
// and deletion take effect immediately instead of at token expiry.
func RequireAuth(tokens *token.Manager, users store.UserStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				response.Error(w, apierrors.ErrUnauthorized.WithMessage("No token provided"))
				return
			}

			claims, err := tokens.VerifyAccess(raw)
			if err != nil {
				// Expired gets 401 (re-authenticate); a bad signature is
				// tampering and gets 403 (never retry).
				if errors.Is(err, token.ErrTokenExpired) {
					response.Error(w, apierrors.ErrTokenExpired)
					return
				}
				response.Error(w, apierrors.ErrForbidden.WithMessage("Invalid token"))
				return
			}

			userID, err := uuid.Parse(claims.UserID)
			if err != nil {
				response.Error(w, apierrors.ErrForbidden.WithMessage("Invalid token"))
				return
			}

			user, err := users.GetByID(r.Context(), userID)
			if err != nil {
				response.InternalError(w)
				return
			}
			if user == nil {
				response.Error(w, apierrors.ErrUnauthorized.WithMessage("User no longer exists"))
				return
			}
			if !user.IsActive {
				response.Error(w, apierrors.ErrAccountDeactivated)
				return
			}

			ctx := context.WithValue(r.Context(), userContextKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalAuth attaches the user when a valid token is presented but never
// fails the request. For endpoints with mixed public/private behavior.
func OptionalAuth(tokens *token.Manager, users store.UserStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}
			claims, err := tokens.VerifyAccess(raw)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			userID, err := uuid.Parse(claims.UserID)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			user, err := users.GetByID(r.Context(), userID)
			if err != nil || user == nil || !user.IsActive {
				next.ServeHTTP(w, r)
				return
			}
			ctx := context.WithValue(r.Context(), userContextKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GuestOnly rejects requests that carry a valid access token. Login and
// registration are for unauthenticated clients; an authenticated caller
// hitting them is a client bug worth surfacing.
func GuestOnly(tokens *token.Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if raw := bearerToken(r); raw != "" {
				if _, err := tokens.VerifyAccess(raw); err == nil {
					response.Error(w, apierrors.ErrBadRequest.WithMessage("Already authenticated"))
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

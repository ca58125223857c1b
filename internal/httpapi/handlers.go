package httpapi

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/tradingapp/authd/internal/auth"
	"github.com/tradingapp/authd/internal/model"
	"github.com/tradingapp/authd/internal/pkg/apierrors"
	"github.com/tradingapp/authd/internal/pkg/response"
	"github.com/tradingapp/authd/internal/token"
)

// Handler holds the dependencies shared by all endpoint handlers.
type Handler struct {
	svc    *auth.Service
	logger *slog.Logger
}

// NewHandler creates the endpoint handler set.
func NewHandler(svc *auth.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

// authPayload is the login/register/refresh response body.
type authPayload struct {
	User         *model.User `json:"user,omitempty"`
	AccessToken  string      `json:"accessToken"`
	RefreshToken string      `json:"refreshToken"`
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !h.bind(w, r, &req) {
		return
	}

	user, pair, err := h.svc.Register(r.Context(), auth.RegisterInput{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Password:  req.Password,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	response.Created(w, authPayload{
		User:         user,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	})
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.bind(w, r, &req) {
		return
	}

	user, pair, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(w, err)
		return
	}

	response.OK(w, authPayload{
		User:         user,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	})
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !h.bind(w, r, &req) {
		return
	}

	pair, err := h.svc.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.writeError(w, err)
		return
	}

	response.OK(w, authPayload{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	})
}

func (h *Handler) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if !h.bind(w, r, &req) {
		return
	}

	if err := h.svc.ForgotPassword(r.Context(), req.Email); err != nil {
		h.writeError(w, err)
		return
	}

	// Same message whether or not the account exists.
	response.Message(w, http.StatusOK,
		"If an account exists for that email, a password reset link has been sent")
}

func (h *Handler) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !h.bind(w, r, &req) {
		return
	}

	if err := h.svc.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		h.writeError(w, err)
		return
	}

	response.Message(w, http.StatusOK, "Password has been reset successfully")
}

func (h *Handler) profile(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		response.Unauthorized(w)
		return
	}
	response.OK(w, user)
}

func (h *Handler) updateTheme(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		response.Unauthorized(w)
		return
	}

	var req updateThemeRequest
	if !h.bind(w, r, &req) {
		return
	}

	updated, err := h.svc.UpdateTheme(r.Context(), user.ID, model.Theme(req.Theme))
	if err != nil {
		h.writeError(w, err)
		return
	}
	response.OK(w, updated)
}

func (h *Handler) changePassword(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		response.Unauthorized(w)
		return
	}

	var req changePasswordRequest
	if !h.bind(w, r, &req) {
		return
	}

	if err := h.svc.ChangePassword(r.Context(), user.ID, req.CurrentPassword, req.NewPassword); err != nil {
		h.writeError(w, err)
		return
	}

	response.Message(w, http.StatusOK, "Password changed successfully")
}

func (h *Handler) updateProfile(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		response.Unauthorized(w)
		return
	}

	var req updateProfileRequest
	if !h.bind(w, r, &req) {
		return
	}

	updated, err := h.svc.UpdateProfile(r.Context(), user.ID, req.FirstName, req.LastName)
	if err != nil {
		h.writeError(w, err)
		return
	}
	response.OK(w, updated)
}

func (h *Handler) deactivate(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		response.Unauthorized(w)
		return
	}

	if err := h.svc.Deactivate(r.Context(), user.ID); err != nil {
		h.writeError(w, err)
		return
	}

	response.Message(w, http.StatusOK, "Account deactivated successfully")
}

// bind decodes and validates the request body, writing the error response
// itself when the body is unusable.
func (h *Handler) bind(w http.ResponseWriter, r *http.Request, dst any) bool {
	fields, err := decodeAndValidate(r, dst)
	if err != nil {
		response.Error(w, apierrors.ErrBadRequest.WithMessage(err.Error()))
		return false
	}
	if fields != nil {
		response.ValidationErrors(w, fields)
		return false
	}
	return true
}

// writeError maps service errors onto the API error taxonomy. Anything
// unmapped is logged and surfaced as an opaque 500.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrEmailTaken):
		response.Error(w, apierrors.NewConflictError("An account with this email already exists"))
	case errors.Is(err, auth.ErrInvalidCredentials):
		response.Error(w, apierrors.ErrInvalidCredentials)
	case errors.Is(err, auth.ErrAccountDeactivated):
		response.Error(w, apierrors.ErrAccountDeactivated)
	case errors.Is(err, auth.ErrUserNotFound):
		response.Error(w, apierrors.NewNotFoundError("User"))
	case errors.Is(err, auth.ErrResetTokenInvalid):
		response.Error(w, apierrors.ErrBadRequest.WithMessage("Invalid or expired reset token"))
	case errors.Is(err, auth.ErrWrongPassword):
		response.Error(w, apierrors.ErrBadRequest.WithMessage("Current password is incorrect"))
	case errors.Is(err, auth.ErrPasswordReuse):
		response.Error(w, apierrors.ErrBadRequest.WithMessage("New password must be different from current password"))
	case errors.Is(err, auth.ErrInvalidTheme):
		response.Error(w, apierrors.ErrBadRequest.WithMessage("Invalid theme"))
	case errors.Is(err, token.ErrTokenExpired):
		response.Error(w, apierrors.ErrTokenExpired)
	case errors.Is(err, token.ErrTokenInvalid):
		response.Unauthorized(w)
	default:
		h.logger.Error("unhandled service error", "error", err)
		response.InternalError(w)
	}
}

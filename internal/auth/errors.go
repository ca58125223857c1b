package auth

import "errors"

var (
	// ErrInvalidCredentials covers both unknown email and wrong password on
	// login, so the two are indistinguishable to a caller.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrEmailTaken is returned by Register when the email is in use.
	ErrEmailTaken = errors.New("email already registered")
	// ErrAccountDeactivated is returned when the account exists but has
	// been deactivated.
	ErrAccountDeactivated = errors.New("account deactivated")
	// ErrUserNotFound is returned when an authenticated user's record has
	// disappeared between token issuance and the current request.
	ErrUserNotFound = errors.New("user not found")
	// ErrResetTokenInvalid covers unknown, expired, and already-used reset
	// tokens; the caller cannot tell which.
	ErrResetTokenInvalid = errors.New("password reset token invalid or expired")
	// ErrPasswordReuse is returned by ChangePassword when the new password
	// matches the current one.
	ErrPasswordReuse = errors.New("new password must be different from current password")
	// ErrWrongPassword is returned by ChangePassword when the current
	// password does not verify.
	ErrWrongPassword = errors.New("current password is incorrect")
	// ErrInvalidTheme is returned by UpdateTheme for an unrecognized theme.
	ErrInvalidTheme = errors.New("invalid theme")
)

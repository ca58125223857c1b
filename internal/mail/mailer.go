// Package mail delivers transactional email for account flows.
package mail

import (
	"context"
	"fmt"
	"log/slog"
)

// Message is a single outbound email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Sender delivers a single message. Implementations must be safe for
// concurrent use; the dispatcher calls Send from its own goroutine.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender writes outbound mail to the structured log instead of an SMTP
// relay. It is the default in development and test environments.
type LogSender struct {
	Logger *slog.Logger
}

// Send logs the message and always succeeds.
func (s LogSender) Send(_ context.Context, msg Message) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("outbound email",
		"to", msg.To,
		"subject", msg.Subject,
		"body_bytes", len(msg.Body),
	)
	return nil
}

// Templates renders the account-flow emails.
type Templates struct {
	FromName    string
	FrontendURL string
}

// PasswordReset builds the reset email. The plaintext token appears only
// here; everywhere else the service handles its hash.
func (t Templates) PasswordReset(to, firstName, token string) Message {
	link := fmt.Sprintf("%s/reset-password?token=%s", t.FrontendURL, token)
	body := fmt.Sprintf(
		"Hi %s,\n\n"+
			"We received a request to reset your password. Use the link below within 30 minutes:\n\n"+
			"%s\n\n"+
			"If you didn't request this, you can safely ignore this email.\n\n"+
			"— %s",
		firstName, link, t.FromName,
	)
	return Message{To: to, Subject: "Reset your password", Body: body}
}

// Welcome builds the post-registration email.
func (t Templates) Welcome(to, firstName string) Message {
	body := fmt.Sprintf(
		"Hi %s,\n\n"+
			"Your account is ready. Log in at %s to get started.\n\n"+
			"— %s",
		firstName, t.FrontendURL, t.FromName,
	)
	return Message{To: to, Subject: "Welcome!", Body: body}
}

// PasswordChanged builds the change-notification email sent after a
// successful password reset or change.
func (t Templates) PasswordChanged(to, firstName string) Message {
	body := fmt.Sprintf(
		"Hi %s,\n\n"+
			"Your password was just changed. If this wasn't you, reset it immediately at %s/forgot-password.\n\n"+
			"— %s",
		firstName, t.FrontendURL, t.FromName,
	)
	return Message{To: to, Subject: "Your password was changed", Body: body}
}

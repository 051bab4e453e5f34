package email

import (
	"context"
	"log/slog"
	"time"
)

// LoggingMailer writes outbound mail to the log instead of a provider. It is
// the default in development and test environments; production wires a real
// provider behind the same port. The link itself is never logged, only its
// presence, since a logged magic link is a logged credential.
type LoggingMailer struct {
	logger *slog.Logger
}

func NewLoggingMailer(logger *slog.Logger) *LoggingMailer {
	return &LoggingMailer{logger: logger}
}

func (m *LoggingMailer) SendMagicLink(ctx context.Context, email, link string, expiresAt time.Time) error {
	m.logger.InfoContext(ctx, "magic link issued",
		"module", "email",
		"layer", "adapter",
		"operation", "send_magic_link",
		"outcome", "success",
		"email", email,
		"link_bytes", len(link),
		"expires_at", expiresAt,
	)
	return nil
}

func (m *LoggingMailer) SendVerificationLink(ctx context.Context, email, link string, expiresAt time.Time) error {
	m.logger.InfoContext(ctx, "verification link issued",
		"module", "email",
		"layer", "adapter",
		"operation", "send_verification_link",
		"outcome", "success",
		"email", email,
		"link_bytes", len(link),
		"expires_at", expiresAt,
	)
	return nil
}

package ports

import (
	"context"
	"time"
)

// Mailer delivers outbound credential mail. Delivery is an external
// collaborator; this core only hands it fully-formed links.
type Mailer interface {
	SendMagicLink(ctx context.Context, email, link string, expiresAt time.Time) error
	SendVerificationLink(ctx context.Context, email, link string, expiresAt time.Time) error
}

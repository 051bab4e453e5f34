package ports

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/latchkey/auth-service/internal/domain"
)

// AccountRepository defines persistence operations for account identities.
// GetOrCreate exists so magic-link issuance never has to reveal whether an
// address was already registered.
type AccountRepository interface {
	GetOrCreateByEmail(ctx context.Context, email string, now time.Time) (domain.Account, error)
	GetByEmail(ctx context.Context, email string) (domain.Account, error)
	GetByID(ctx context.Context, accountID uuid.UUID) (domain.Account, error)
	MarkEmailVerified(ctx context.Context, accountID uuid.UUID, verifiedAt time.Time) error
}

// SessionCreateParams captures everything required to persist a session row.
// Network fields are stored for auditability and inherited across rotation.
type SessionCreateParams struct {
	AccountID   uuid.UUID
	Fingerprint string
	IPAddress   string
	UserAgent   string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// SessionRepository manages durable session lifecycle. All methods are atomic
// single-row operations; the rotate swap is two single-row writes whose
// ordering (mark-old-rotated, then insert-new) the application layer preserves.
type SessionRepository interface {
	Create(ctx context.Context, params SessionCreateParams) (domain.Session, error)
	GetByID(ctx context.Context, sessionID uuid.UUID) (domain.Session, error)
	FindByFingerprint(ctx context.Context, fingerprint string) (domain.Session, error)
	ListByAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]domain.Session, error)
	// MarkRotated sets rotated_at iff it is still null. The boolean result is
	// how concurrent rotation attempts converge on exactly one winner.
	MarkRotated(ctx context.Context, sessionID uuid.UUID, rotatedAt time.Time) (bool, error)
	MarkRevoked(ctx context.Context, sessionID uuid.UUID, revokedAt time.Time) error
	RevokeAllByAccount(ctx context.Context, accountID uuid.UUID, revokedAt time.Time) error
	// DeleteExpiredAndOldRotated removes expired sessions and rotated sessions
	// whose rotation is older than the retention horizon. Never called on the
	// hot authentication path.
	DeleteExpiredAndOldRotated(ctx context.Context, now time.Time, retention time.Duration) (int64, error)
}

// TokenCreateParams captures a new single-use ephemeral token row.
type TokenCreateParams struct {
	AccountID   uuid.UUID
	Fingerprint string
	Purpose     domain.TokenPurpose
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// TokenRepository owns ephemeral single-use token lifecycle. Consume keeps the
// one-time invariant explicit: it atomically marks the row used and returns
// the owning account, or domain.ErrNotFound for used/expired/wrong-purpose
// fingerprints.
type TokenRepository interface {
	Create(ctx context.Context, params TokenCreateParams) error
	Consume(ctx context.Context, fingerprint string, purpose domain.TokenPurpose, usedAt time.Time) (uuid.UUID, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// PasskeyRepository stores public-key credentials and their sign counters.
type PasskeyRepository interface {
	ListByAccount(ctx context.Context, accountID uuid.UUID) ([]domain.PasskeyCredential, error)
	GetByCredentialID(ctx context.Context, credentialID string) (domain.PasskeyCredential, error)
	Upsert(ctx context.Context, credential domain.PasskeyCredential) error
}

// AuthAttemptRepository records authentication outcomes used by audit
// reporting and forensics. Insert-only from this core's perspective.
type AuthAttemptRepository interface {
	Insert(ctx context.Context, attempt domain.AuthAttempt) error
}

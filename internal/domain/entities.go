package domain

import (
	"time"

	"github.com/google/uuid"
)

// Account is the owning identity for every credential this service issues.
// It is created lazily on the first magic-link request for an address, so
// issuance never reveals whether an address was already known.
type Account struct {
	AccountID       uuid.UUID
	Email           string
	EmailVerifiedAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Session is one issued session token. Only the token fingerprint is stored;
// the raw token exists solely in the client's cookie.
// RotatedAt and RevokedAt are set once and never cleared. A session with
// either set, or with ExpiresAt in the past, must not authenticate a request.
type Session struct {
	SessionID   uuid.UUID
	AccountID   uuid.UUID
	Fingerprint string
	IPAddress   string
	UserAgent   string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	RotatedAt   *time.Time
	RevokedAt   *time.Time
}

// TokenPurpose discriminates ephemeral single-use tokens sharing one table.
// Purpose is checked on every consume; a mismatch reads as "invalid".
type TokenPurpose string

const (
	TokenPurposeLogin             TokenPurpose = "login"
	TokenPurposeEmailVerification TokenPurpose = "email_verification"
)

// EphemeralToken is a single-purpose bearer secret (magic link or email
// verification). A token with UsedAt set, or expired, is permanently invalid.
type EphemeralToken struct {
	TokenID     uuid.UUID
	AccountID   uuid.UUID
	Fingerprint string
	Purpose     TokenPurpose
	CreatedAt   time.Time
	ExpiresAt   time.Time
	UsedAt      *time.Time
}

// ChallengeKind separates registration and authentication ceremonies so a
// challenge issued for one can never complete the other.
type ChallengeKind string

const (
	ChallengeKindRegistration   ChallengeKind = "registration"
	ChallengeKindAuthentication ChallengeKind = "authentication"
)

// PasskeyCredential is the stored public-key credential plus the sign-counter
// bookkeeping this core owns. CredentialJSON is the verifier library's full
// credential record; SignCount is duplicated as a column for audit queries.
type PasskeyCredential struct {
	CredentialID   string
	AccountID      uuid.UUID
	CredentialJSON []byte
	SignCount      uint32
	CreatedAt      time.Time
	LastUsedAt     *time.Time
}

// AuthAttempt records authentication outcomes for audit and forensics.
type AuthAttempt struct {
	ID            int64
	AccountID     *uuid.UUID
	AttemptAt     time.Time
	IPAddress     string
	UserAgent     string
	Status        string
	FailureReason string
}

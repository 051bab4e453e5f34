package application

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/latchkey/auth-service/internal/domain"
)

type Config struct {
	MagicLinkBaseURL     string
	EmailVerifyBaseURL   string
	MagicLinkTTL         time.Duration
	EmailVerificationTTL time.Duration
	SessionLifetime      time.Duration
	RotationAge          time.Duration
	RotatedRetention     time.Duration
	ChallengeTTL         time.Duration
	LockoutThreshold     int
	LockoutWindow        time.Duration
	LockoutDuration      time.Duration
}

// RequestMeta carries the caller's network context for audit rows and for
// stamping new sessions.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

type MagicLinkRequest struct {
	Email string `json:"email"`

	Meta RequestMeta `json:"-"`
}

type VerifyMagicLinkRequest struct {
	Token string `json:"token"`

	Meta RequestMeta `json:"-"`
}

type VerifyEmailRequest struct {
	Token string `json:"token"`
}

// SessionGrant is a freshly issued session plus the one-time view of its raw
// token. The raw token leaves the process only inside the response cookie.
type SessionGrant struct {
	Token   string
	Session domain.Session
	Account domain.Account
}

// ResolveResult is a validated session. Rotated is non-nil when the resolve
// transparently rotated the session; the caller then re-issues the cookie with
// Rotated.Token and treats Rotated.Session as current.
type ResolveResult struct {
	Session domain.Session
	Account domain.Account
	Rotated *SessionGrant
}

// PasskeyCeremony is one half-open registration or login handshake. The
// challenge id is the client's claim ticket for the finish call; options are
// the verifier's public ceremony options, passed through verbatim.
type PasskeyCeremony struct {
	ChallengeID string          `json:"challenge_id"`
	Options     json.RawMessage `json:"options"`
}

type FinishPasskeyRequest struct {
	ChallengeID string          `json:"challenge_id"`
	Response    json.RawMessage `json:"response"`

	Meta RequestMeta `json:"-"`
}

type SessionItem struct {
	SessionID uuid.UUID  `json:"session_id"`
	IPAddress string     `json:"ip_address"`
	UserAgent string     `json:"user_agent"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
	IsCurrent bool       `json:"is_current"`
}

func toSessionItem(s domain.Session, currentSessionID uuid.UUID) SessionItem {
	return SessionItem{
		SessionID: s.SessionID,
		IPAddress: s.IPAddress,
		UserAgent: s.UserAgent,
		CreatedAt: s.CreatedAt,
		ExpiresAt: s.ExpiresAt,
		RevokedAt: s.RevokedAt,
		IsCurrent: s.SessionID == currentSessionID,
	}
}

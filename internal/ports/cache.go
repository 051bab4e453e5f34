package ports

import (
	"context"
	"time"

	"github.com/latchkey/auth-service/internal/domain"
)

// RateLimitDecision is one admit/deny verdict from the sliding-window limiter.
// Remaining and ResetAt are reported on both outcomes so the transport layer
// can mirror them as response headers.
type RateLimitDecision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// RateLimitStore is a sliding-window request counter over the shared
// low-latency store. Check prunes entries older than the window, counts the
// remainder and conditionally records the current request as one atomic
// operation; separate read-then-write calls would let concurrent callers both
// observe room and both admit.
//
// Errors mean the store is unreachable. Callers must fail closed.
type RateLimitStore interface {
	Check(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (RateLimitDecision, error)
}

// LockoutStore is the failure-counter and lockout-timer state machine keyed by
// account identity. RecordFailure's increment-then-compare is atomic per
// account; once the threshold is reached the counter resets and the lockout
// timer takes over.
//
// Errors mean the store is unreachable. Callers must fail closed.
type LockoutStore interface {
	// RecordFailure increments the windowed failure counter. When the
	// post-increment count reaches threshold it sets the lockout timer,
	// clears the counter and reports locked=true.
	RecordFailure(ctx context.Context, accountID string, now time.Time, threshold int, window, lockoutFor time.Duration) (locked bool, failures int, err error)
	// CheckLocked reports whether the account is inside a lockout window and
	// how long remains. Expired records are cleared lazily by TTL.
	CheckLocked(ctx context.Context, accountID string) (locked bool, remaining time.Duration, err error)
	// Reset clears the failure counter after successful authentication. It
	// never touches an active lockout; a triggered lockout runs its course.
	Reset(ctx context.Context, accountID string) error
}

// Challenge is a single-use nonce bound to one public-key-credential ceremony.
// Nonce carries the verifier library's opaque session payload.
type Challenge struct {
	Identity  string               `json:"identity"`
	Nonce     []byte               `json:"nonce"`
	Kind      domain.ChallengeKind `json:"kind"`
	ExpiresAt time.Time            `json:"expires_at"`
}

// ChallengeStore holds challenges in the shared low-latency store under a
// fresh opaque id with a short TTL. RetrieveAndInvalidate is a destructive
// read: fetch and delete happen in one atomic step, so a challenge id
// resolves at most once. Missing, expired and kind-mismatched ids all yield
// domain.ErrChallengeNotFound; store failures surface as
// domain.ErrStoreUnavailable and must never be mistaken for NotFound.
type ChallengeStore interface {
	Store(ctx context.Context, challenge Challenge, ttl time.Duration) (challengeID string, err error)
	RetrieveAndInvalidate(ctx context.Context, challengeID string, kind domain.ChallengeKind) (Challenge, error)
}

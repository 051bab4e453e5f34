package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when the requested resource does not exist.
	// Keeping this sentinel in domain allows adapters to map it consistently to 404/NOT_FOUND.
	ErrNotFound = errors.New("resource not found")
	// ErrInvalidCredential covers bad, expired, used and wrong-purpose tokens,
	// unknown session fingerprints and failed challenge lookups uniformly.
	// The reason is to prevent account-enumeration side channels; the precise
	// cause is only visible in audit logging.
	ErrInvalidCredential = errors.New("invalid credential")
	// ErrAccountLocked signals a lockout window after repeated failed attempts.
	// It is reported distinctly from ErrInvalidCredential because the account's
	// existence is already established at the point it is raised.
	ErrAccountLocked = errors.New("account locked")
	// ErrRateLimited is raised by the sliding-window limiter with a retry-after.
	ErrRateLimited = errors.New("rate limited")
	// ErrChallengeNotFound means a challenge id resolved to nothing: expired,
	// already consumed, wrong kind, or never issued. Callers must treat all of
	// those identically.
	ErrChallengeNotFound = errors.New("challenge not found")
	// ErrStoreUnavailable marks infrastructure failure on a shared-state call.
	// Rate limiting and lockout fail closed on this error; treating it as
	// "allowed" would defeat the control.
	ErrStoreUnavailable = errors.New("shared store unavailable")
	ErrInvalidInput     = errors.New("invalid input")
	ErrConflict         = errors.New("conflict")
)

// LockedError carries the remaining lockout window alongside ErrAccountLocked
// so the boundary can tell the caller when to come back.
type LockedError struct {
	RetryAfter time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account locked, retry after %s", e.RetryAfter)
}

func (e *LockedError) Unwrap() error { return ErrAccountLocked }

// RateLimitedError carries the limiter's retry-after alongside ErrRateLimited.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

func (e *RateLimitedError) Unwrap() error { return ErrRateLimited }

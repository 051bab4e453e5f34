package ports

import (
	"context"

	"github.com/latchkey/auth-service/internal/domain"
)

// TokenCodec generates opaque bearer tokens and computes the one-way
// fingerprint used as their storage key. Raw tokens are never persisted.
// All methods are pure; empty-string rejection belongs to callers.
type TokenCodec interface {
	// NewOpaqueToken returns a URL-safe random string with at least 256 bits
	// of entropy.
	NewOpaqueToken() (string, error)
	// Fingerprint returns a deterministic fixed-size digest of the token.
	Fingerprint(token string) string
	// VerifyFingerprint recomputes and compares in constant time.
	VerifyFingerprint(token, digest string) bool
}

// PasskeyAccountResolver loads the account and credentials named by a
// user handle during a discoverable login ceremony.
type PasskeyAccountResolver interface {
	ResolveAccount(ctx context.Context, userHandle []byte) (domain.Account, []domain.PasskeyCredential, error)
}

// PasskeyVerifier performs the cryptographic half of the public-key-credential
// handshake: attestation and assertion checking. This core owns only the
// challenge lifecycle and sign-counter bookkeeping around it. The opaque
// sessionData payload is produced by Begin* and must be returned, via the
// challenge store, to the matching Finish* call.
type PasskeyVerifier interface {
	BeginRegistration(account domain.Account, existing []domain.PasskeyCredential) (optionsJSON, sessionData []byte, err error)
	FinishRegistration(account domain.Account, existing []domain.PasskeyCredential, sessionData, responseJSON []byte) (domain.PasskeyCredential, error)
	// BeginLogin starts a discoverable (client-side account selection) login.
	BeginLogin() (optionsJSON, sessionData []byte, err error)
	// FinishLogin validates the assertion, resolving the account through the
	// supplied resolver. cloneWarning reports a non-increasing sign counter,
	// which callers treat as a failed authentication.
	FinishLogin(ctx context.Context, resolver PasskeyAccountResolver, sessionData, responseJSON []byte) (account domain.Account, credential domain.PasskeyCredential, cloneWarning bool, err error)
}

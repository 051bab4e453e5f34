package application

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/latchkey/auth-service/internal/domain"
	"github.com/latchkey/auth-service/internal/ports"
)

// BeginPasskeyRegistration opens a registration ceremony for the authenticated
// account. The verifier's session payload rides in the challenge store under a
// fresh single-use id with a short TTL; only the id and the public options go
// back to the client.
func (s *Service) BeginPasskeyRegistration(ctx context.Context, accountID uuid.UUID) (PasskeyCeremony, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return PasskeyCeremony{}, err
	}
	existing, err := s.passkeys.ListByAccount(ctx, accountID)
	if err != nil {
		return PasskeyCeremony{}, err
	}

	optionsJSON, sessionData, err := s.verifier.BeginRegistration(account, existing)
	if err != nil {
		return PasskeyCeremony{}, err
	}

	challengeID, err := s.challenges.Store(ctx, ports.Challenge{
		Identity:  accountID.String(),
		Nonce:     sessionData,
		Kind:      domain.ChallengeKindRegistration,
		ExpiresAt: s.nowFn().Add(s.cfg.ChallengeTTL),
	}, s.cfg.ChallengeTTL)
	if err != nil {
		return PasskeyCeremony{}, err
	}
	return PasskeyCeremony{ChallengeID: challengeID, Options: optionsJSON}, nil
}

// FinishPasskeyRegistration retrieves-and-invalidates the challenge, validates
// the attestation and stores the credential. The challenge is bound to the
// account that opened it; a different authenticated account presenting the id
// reads as an invalid credential.
func (s *Service) FinishPasskeyRegistration(ctx context.Context, accountID uuid.UUID, req FinishPasskeyRequest) (domain.PasskeyCredential, error) {
	challenge, err := s.challenges.RetrieveAndInvalidate(ctx, req.ChallengeID, domain.ChallengeKindRegistration)
	if err != nil {
		if errors.Is(err, domain.ErrChallengeNotFound) {
			return domain.PasskeyCredential{}, domain.ErrInvalidCredential
		}
		return domain.PasskeyCredential{}, err
	}
	if challenge.Identity != accountID.String() {
		return domain.PasskeyCredential{}, domain.ErrInvalidCredential
	}

	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return domain.PasskeyCredential{}, err
	}
	existing, err := s.passkeys.ListByAccount(ctx, accountID)
	if err != nil {
		return domain.PasskeyCredential{}, err
	}

	credential, err := s.verifier.FinishRegistration(account, existing, challenge.Nonce, req.Response)
	if err != nil {
		s.recordAttempt(ctx, &accountID, req.Meta, "FAILED", "PASSKEY_ATTESTATION_REJECTED")
		return domain.PasskeyCredential{}, err
	}

	credential.CreatedAt = s.nowFn()
	if err := s.passkeys.Upsert(ctx, credential); err != nil {
		return domain.PasskeyCredential{}, err
	}
	s.recordAttempt(ctx, &accountID, req.Meta, "SUCCESS", "PASSKEY_REGISTERED")
	return credential, nil
}

// BeginPasskeyLogin opens a discoverable login ceremony. No account is named
// yet; the authenticator picks the credential client-side and the finish call
// resolves the account from the asserted user handle.
func (s *Service) BeginPasskeyLogin(ctx context.Context) (PasskeyCeremony, error) {
	optionsJSON, sessionData, err := s.verifier.BeginLogin()
	if err != nil {
		return PasskeyCeremony{}, err
	}
	challengeID, err := s.challenges.Store(ctx, ports.Challenge{
		Nonce:     sessionData,
		Kind:      domain.ChallengeKindAuthentication,
		ExpiresAt: s.nowFn().Add(s.cfg.ChallengeTTL),
	}, s.cfg.ChallengeTTL)
	if err != nil {
		return PasskeyCeremony{}, err
	}
	return PasskeyCeremony{ChallengeID: challengeID, Options: optionsJSON}, nil
}

// FinishPasskeyLogin validates a discoverable assertion and opens a session.
// Lockout is enforced twice: inside the resolver before any signature work,
// and again on failed verification, where the failure feeds the counter. A
// non-increasing sign counter (possible credential clone) is treated as a
// failed authentication, never silently accepted.
func (s *Service) FinishPasskeyLogin(ctx context.Context, req FinishPasskeyRequest) (SessionGrant, error) {
	challenge, err := s.challenges.RetrieveAndInvalidate(ctx, req.ChallengeID, domain.ChallengeKindAuthentication)
	if err != nil {
		if errors.Is(err, domain.ErrChallengeNotFound) {
			return SessionGrant{}, domain.ErrInvalidCredential
		}
		return SessionGrant{}, err
	}

	resolver := &lockoutCheckedResolver{svc: s}
	account, credential, cloneWarning, err := s.verifier.FinishLogin(ctx, resolver, challenge.Nonce, req.Response)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrAccountLocked):
			s.recordAttempt(ctx, resolver.accountID(), req.Meta, "FAILED", "ACCOUNT_LOCKED")
			return SessionGrant{}, err
		case errors.Is(err, domain.ErrStoreUnavailable):
			return SessionGrant{}, err
		default:
			s.registerFailure(ctx, resolver.accountID(), req.Meta, "PASSKEY_ASSERTION_REJECTED")
			return SessionGrant{}, domain.ErrInvalidCredential
		}
	}
	if cloneWarning {
		s.registerFailure(ctx, &account.AccountID, req.Meta, "SIGN_COUNT_NOT_INCREASED")
		return SessionGrant{}, domain.ErrInvalidCredential
	}

	// Post-resolution check closes the race where the lockout landed between
	// the resolver running and the assertion validating.
	locked, remaining, err := s.lockouts.CheckLocked(ctx, account.AccountID.String())
	if err != nil {
		return SessionGrant{}, err
	}
	if locked {
		s.recordAttempt(ctx, &account.AccountID, req.Meta, "FAILED", "ACCOUNT_LOCKED")
		return SessionGrant{}, &domain.LockedError{RetryAfter: remaining}
	}

	_ = s.lockouts.Reset(ctx, account.AccountID.String())

	now := s.nowFn()
	credential.LastUsedAt = &now
	if err := s.passkeys.Upsert(ctx, credential); err != nil {
		return SessionGrant{}, err
	}

	grant, err := s.issueSession(ctx, account, req.Meta)
	if err != nil {
		return SessionGrant{}, err
	}
	s.recordAttempt(ctx, &account.AccountID, req.Meta, "SUCCESS", "")
	return grant, nil
}

// registerFailure writes the audit row and feeds the lockout counter when the
// failing attempt named a real account.
func (s *Service) registerFailure(ctx context.Context, accountID *uuid.UUID, meta RequestMeta, reason string) {
	s.recordAttempt(ctx, accountID, meta, "FAILED", reason)
	if accountID == nil {
		return
	}
	_, _, _ = s.lockouts.RecordFailure(ctx, accountID.String(), s.nowFn(),
		s.cfg.LockoutThreshold, s.cfg.LockoutWindow, s.cfg.LockoutDuration)
}

// lockoutCheckedResolver resolves the asserted user handle to an account and
// its credentials, rejecting before any signature verification when the
// account is inside a lockout window.
type lockoutCheckedResolver struct {
	svc      *Service
	resolved *domain.Account
}

func (r *lockoutCheckedResolver) ResolveAccount(ctx context.Context, userHandle []byte) (domain.Account, []domain.PasskeyCredential, error) {
	accountID, err := uuid.FromBytes(userHandle)
	if err != nil {
		return domain.Account{}, nil, domain.ErrInvalidCredential
	}

	locked, remaining, err := r.svc.lockouts.CheckLocked(ctx, accountID.String())
	if err != nil {
		return domain.Account{}, nil, err
	}
	if locked {
		return domain.Account{}, nil, &domain.LockedError{RetryAfter: remaining}
	}

	account, err := r.svc.accounts.GetByID(ctx, accountID)
	if err != nil {
		return domain.Account{}, nil, domain.ErrInvalidCredential
	}
	credentials, err := r.svc.passkeys.ListByAccount(ctx, accountID)
	if err != nil {
		return domain.Account{}, nil, err
	}
	r.resolved = &account
	return account, credentials, nil
}

func (r *lockoutCheckedResolver) accountID() *uuid.UUID {
	if r.resolved == nil {
		return nil
	}
	return &r.resolved.AccountID
}

package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/latchkey/auth-service/internal/domain"
	"github.com/latchkey/auth-service/internal/ports"
)

// RequestMagicLink issues a single-use login token for the address and mails
// the link. The response is identical whether or not the address was already
// known; the account row is created lazily on first request.
func (s *Service) RequestMagicLink(ctx context.Context, req MagicLinkRequest) error {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return err
	}

	now := s.nowFn()
	account, err := s.accounts.GetOrCreateByEmail(ctx, email, now)
	if err != nil {
		return fmt.Errorf("resolve account: %w", err)
	}

	rawToken, err := s.codec.NewOpaqueToken()
	if err != nil {
		return fmt.Errorf("mint login token: %w", err)
	}
	expiresAt := now.Add(s.cfg.MagicLinkTTL)
	if err := s.tokens.Create(ctx, ports.TokenCreateParams{
		AccountID:   account.AccountID,
		Fingerprint: s.codec.Fingerprint(rawToken),
		Purpose:     domain.TokenPurposeLogin,
		CreatedAt:   now,
		ExpiresAt:   expiresAt,
	}); err != nil {
		return fmt.Errorf("store login token: %w", err)
	}

	link := buildTokenLink(s.cfg.MagicLinkBaseURL, rawToken)
	if err := s.mailer.SendMagicLink(ctx, email, link, expiresAt); err != nil {
		return fmt.Errorf("send magic link: %w", err)
	}
	return nil
}

// VerifyMagicLink consumes a login token and opens a session. The token is
// burned before the lockout check: a rejected-by-lockout attempt still spends
// the token, so a locked attacker cannot stockpile working links.
func (s *Service) VerifyMagicLink(ctx context.Context, req VerifyMagicLinkRequest) (SessionGrant, error) {
	rawToken := strings.TrimSpace(req.Token)
	if rawToken == "" {
		return SessionGrant{}, fmt.Errorf("%w: token is required", domain.ErrInvalidInput)
	}

	now := s.nowFn()
	accountID, err := s.tokens.Consume(ctx, s.codec.Fingerprint(rawToken), domain.TokenPurposeLogin, now)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.recordAttempt(ctx, nil, req.Meta, "FAILED", "INVALID_LOGIN_TOKEN")
			return SessionGrant{}, domain.ErrInvalidCredential
		}
		return SessionGrant{}, err
	}

	// The token itself names the account, so the lockout check can only run
	// after consumption.
	locked, remaining, err := s.lockouts.CheckLocked(ctx, accountID.String())
	if err != nil {
		return SessionGrant{}, err
	}
	if locked {
		s.recordAttempt(ctx, &accountID, req.Meta, "FAILED", "ACCOUNT_LOCKED")
		return SessionGrant{}, &domain.LockedError{RetryAfter: remaining}
	}

	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return SessionGrant{}, err
	}

	_ = s.lockouts.Reset(ctx, accountID.String())

	grant, err := s.issueSession(ctx, account, req.Meta)
	if err != nil {
		return SessionGrant{}, err
	}
	s.recordAttempt(ctx, &accountID, req.Meta, "SUCCESS", "")
	return grant, nil
}

// RequestEmailVerification issues an email_verification purpose token for the
// authenticated account and mails the link.
func (s *Service) RequestEmailVerification(ctx context.Context, accountID uuid.UUID) error {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return err
	}

	rawToken, err := s.codec.NewOpaqueToken()
	if err != nil {
		return fmt.Errorf("mint verification token: %w", err)
	}
	now := s.nowFn()
	expiresAt := now.Add(s.cfg.EmailVerificationTTL)
	if err := s.tokens.Create(ctx, ports.TokenCreateParams{
		AccountID:   account.AccountID,
		Fingerprint: s.codec.Fingerprint(rawToken),
		Purpose:     domain.TokenPurposeEmailVerification,
		CreatedAt:   now,
		ExpiresAt:   expiresAt,
	}); err != nil {
		return fmt.Errorf("store verification token: %w", err)
	}

	link := buildTokenLink(s.cfg.EmailVerifyBaseURL, rawToken)
	if err := s.mailer.SendVerificationLink(ctx, account.Email, link, expiresAt); err != nil {
		return fmt.Errorf("send verification link: %w", err)
	}
	return nil
}

// VerifyEmail consumes an email_verification token and marks the owning
// account verified. Consuming checks purpose, so a login token can never
// verify an address and vice versa.
func (s *Service) VerifyEmail(ctx context.Context, req VerifyEmailRequest) error {
	rawToken := strings.TrimSpace(req.Token)
	if rawToken == "" {
		return fmt.Errorf("%w: token is required", domain.ErrInvalidInput)
	}

	now := s.nowFn()
	accountID, err := s.tokens.Consume(ctx, s.codec.Fingerprint(rawToken), domain.TokenPurposeEmailVerification, now)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrInvalidCredential
		}
		return err
	}
	return s.accounts.MarkEmailVerified(ctx, accountID, now)
}

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

// issueSession mints a raw token, persists its fingerprint and returns both.
// The raw token is never stored; losing the grant means the session is
// unreachable and will age out.
func (s *Service) issueSession(ctx context.Context, account domain.Account, meta RequestMeta) (SessionGrant, error) {
	rawToken, err := s.codec.NewOpaqueToken()
	if err != nil {
		return SessionGrant{}, fmt.Errorf("mint session token: %w", err)
	}
	now := s.nowFn()
	session, err := s.sessions.Create(ctx, ports.SessionCreateParams{
		AccountID:   account.AccountID,
		Fingerprint: s.codec.Fingerprint(rawToken),
		IPAddress:   meta.IPAddress,
		UserAgent:   meta.UserAgent,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.cfg.SessionLifetime),
	})
	if err != nil {
		return SessionGrant{}, fmt.Errorf("create session: %w", err)
	}
	return SessionGrant{Token: rawToken, Session: session, Account: account}, nil
}

// ResolveSession authenticates a raw bearer token. All invalid shapes of the
// token (unknown, expired, revoked, already rotated) collapse into
// ErrInvalidCredential. A valid session past the rotation age is transparently
// rotated; if rotation cannot complete for any reason the original session
// still answers this request and no new token is issued.
func (s *Service) ResolveSession(ctx context.Context, rawToken string) (ResolveResult, error) {
	return s.resolveSession(ctx, rawToken, true)
}

// IntrospectSession validates a token without rotating. Used by callers that
// cannot deliver a replacement token to the client, such as the internal gRPC
// surface.
func (s *Service) IntrospectSession(ctx context.Context, rawToken string) (ResolveResult, error) {
	return s.resolveSession(ctx, rawToken, false)
}

func (s *Service) resolveSession(ctx context.Context, rawToken string, allowRotate bool) (ResolveResult, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return ResolveResult{}, domain.ErrInvalidCredential
	}

	session, err := s.sessions.FindByFingerprint(ctx, s.codec.Fingerprint(rawToken))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return ResolveResult{}, domain.ErrInvalidCredential
		}
		return ResolveResult{}, err
	}

	now := s.nowFn()
	if session.RevokedAt != nil || session.RotatedAt != nil || !session.ExpiresAt.After(now) {
		return ResolveResult{}, domain.ErrInvalidCredential
	}

	account, err := s.accounts.GetByID(ctx, session.AccountID)
	if err != nil {
		return ResolveResult{}, domain.ErrInvalidCredential
	}

	result := ResolveResult{Session: session, Account: account}
	if allowRotate && s.shouldRotate(session) {
		if grant, ok := s.rotate(ctx, session, account); ok {
			result.Rotated = &grant
		}
	}
	return result, nil
}

func (s *Service) shouldRotate(session domain.Session) bool {
	return s.nowFn().Sub(session.CreatedAt) >= s.cfg.RotationAge
}

// rotate performs the mark-then-create swap. Marking first means a session is
// never valid under two tokens; racing resolvers call MarkRotated and exactly
// one wins. Any failure is reported as "no rotation" and the caller carries on
// with the original session.
func (s *Service) rotate(ctx context.Context, session domain.Session, account domain.Account) (SessionGrant, bool) {
	won, err := s.sessions.MarkRotated(ctx, session.SessionID, s.nowFn())
	if err != nil || !won {
		return SessionGrant{}, false
	}
	grant, err := s.issueSession(ctx, account, RequestMeta{
		IPAddress: session.IPAddress,
		UserAgent: session.UserAgent,
	})
	if err != nil {
		return SessionGrant{}, false
	}
	return grant, true
}

// ForceRotate swaps the session regardless of age. Used after credential
// changes such as adding a passkey.
func (s *Service) ForceRotate(ctx context.Context, session domain.Session) (SessionGrant, error) {
	account, err := s.accounts.GetByID(ctx, session.AccountID)
	if err != nil {
		return SessionGrant{}, err
	}
	won, err := s.sessions.MarkRotated(ctx, session.SessionID, s.nowFn())
	if err != nil {
		return SessionGrant{}, err
	}
	if !won {
		return SessionGrant{}, domain.ErrConflict
	}
	return s.issueSession(ctx, account, RequestMeta{
		IPAddress: session.IPAddress,
		UserAgent: session.UserAgent,
	})
}

func (s *Service) ListSessions(ctx context.Context, accountID, currentSessionID uuid.UUID) ([]SessionItem, error) {
	sessions, err := s.sessions.ListByAccount(ctx, accountID, 100, 0)
	if err != nil {
		return nil, err
	}
	result := make([]SessionItem, 0, len(sessions))
	for _, it := range sessions {
		result = append(result, toSessionItem(it, currentSessionID))
	}
	return result, nil
}

// RevokeSession revokes one session owned by accountID. Sessions belonging to
// other accounts read as not found.
func (s *Service) RevokeSession(ctx context.Context, accountID, sessionID uuid.UUID) error {
	target, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if target.AccountID != accountID {
		return domain.ErrNotFound
	}
	return s.sessions.MarkRevoked(ctx, sessionID, s.nowFn())
}

func (s *Service) RevokeAllSessions(ctx context.Context, accountID uuid.UUID) error {
	return s.sessions.RevokeAllByAccount(ctx, accountID, s.nowFn())
}

func (s *Service) Logout(ctx context.Context, sessionID uuid.UUID) error {
	return s.sessions.MarkRevoked(ctx, sessionID, s.nowFn())
}

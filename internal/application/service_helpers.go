package application

import (
	"context"
	"fmt"
	"net/mail"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/latchkey/auth-service/internal/domain"
)

func normalizeEmail(email string) (string, error) {
	trimmed := strings.ToLower(strings.TrimSpace(email))
	if trimmed == "" {
		return "", fmt.Errorf("%w: email is required", domain.ErrInvalidInput)
	}
	if _, err := mail.ParseAddress(trimmed); err != nil {
		return "", fmt.Errorf("%w: invalid email", domain.ErrInvalidInput)
	}
	return trimmed, nil
}

func buildTokenLink(baseURL, rawToken string) string {
	u, err := url.Parse(baseURL)
	if err != nil {
		return baseURL
	}
	q := u.Query()
	q.Set("token", rawToken)
	u.RawQuery = q.Encode()
	return u.String()
}

// recordAttempt writes one audit row. Audit is best-effort; it never fails the
// operation that produced it.
func (s *Service) recordAttempt(ctx context.Context, accountID *uuid.UUID, meta RequestMeta, status, reason string) {
	_ = s.attempts.Insert(ctx, domain.AuthAttempt{
		AccountID:     accountID,
		AttemptAt:     s.nowFn(),
		IPAddress:     meta.IPAddress,
		UserAgent:     meta.UserAgent,
		Status:        status,
		FailureReason: reason,
	})
}

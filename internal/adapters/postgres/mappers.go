package postgres

import (
	"errors"
	"strings"

	"github.com/latchkey/auth-service/internal/domain"
	"gorm.io/gorm"
)

func toDomainAccount(row accountModel) domain.Account {
	return domain.Account{
		AccountID:       row.AccountID,
		Email:           row.Email,
		EmailVerifiedAt: row.EmailVerifiedAt,
		CreatedAt:       row.CreatedAt,
		UpdatedAt:       row.UpdatedAt,
	}
}

func toDomainSession(row sessionModel) domain.Session {
	ip := ""
	if row.IPAddress != nil {
		ip = *row.IPAddress
	}
	return domain.Session{
		SessionID:   row.SessionID,
		AccountID:   row.AccountID,
		Fingerprint: row.Fingerprint,
		IPAddress:   ip,
		UserAgent:   row.UserAgent,
		CreatedAt:   row.CreatedAt,
		ExpiresAt:   row.ExpiresAt,
		RotatedAt:   row.RotatedAt,
		RevokedAt:   row.RevokedAt,
	}
}

func toDomainPasskeyCredential(row passkeyCredentialModel) domain.PasskeyCredential {
	return domain.PasskeyCredential{
		CredentialID:   row.CredentialID,
		AccountID:      row.AccountID,
		CredentialJSON: []byte(row.CredentialJSON),
		SignCount:      uint32(row.SignCount),
		CreatedAt:      row.CreatedAt,
		LastUsedAt:     row.LastUsedAt,
	}
}

func nullableString(v string) *string {
	trimmed := strings.TrimSpace(v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func isUniqueViolation(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

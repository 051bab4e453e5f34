package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/latchkey/auth-service/internal/domain"
	"github.com/latchkey/auth-service/internal/ports"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repositories struct {
	Accounts     ports.AccountRepository
	Sessions     ports.SessionRepository
	Tokens       ports.TokenRepository
	Passkeys     ports.PasskeyRepository
	AuthAttempts ports.AuthAttemptRepository
}

func NewRepositories(db *gorm.DB) Repositories {
	return Repositories{
		Accounts:     &accountRepository{db: db},
		Sessions:     &sessionRepository{db: db},
		Tokens:       &tokenRepository{db: db},
		Passkeys:     &passkeyRepository{db: db},
		AuthAttempts: &authAttemptRepository{db: db},
	}
}

type accountRepository struct {
	db *gorm.DB
}

func (r *accountRepository) GetOrCreateByEmail(ctx context.Context, email string, now time.Time) (domain.Account, error) {
	rec := accountModel{
		Email:     email,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "email"}},
		DoNothing: true,
	}).Create(&rec).Error; err != nil {
		return domain.Account{}, err
	}
	// On conflict nothing is returned, so the generated id stays zero and the
	// existing row has to be re-read.
	if rec.AccountID == uuid.Nil {
		return r.GetByEmail(ctx, email)
	}
	return toDomainAccount(rec), nil
}

func (r *accountRepository) GetByEmail(ctx context.Context, email string) (domain.Account, error) {
	var rec accountModel
	if err := r.db.WithContext(ctx).Where("email = ?", email).Take(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Account{}, domain.ErrNotFound
		}
		return domain.Account{}, err
	}
	return toDomainAccount(rec), nil
}

func (r *accountRepository) GetByID(ctx context.Context, accountID uuid.UUID) (domain.Account, error) {
	var rec accountModel
	if err := r.db.WithContext(ctx).Where("account_id = ?", accountID).Take(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Account{}, domain.ErrNotFound
		}
		return domain.Account{}, err
	}
	return toDomainAccount(rec), nil
}

func (r *accountRepository) MarkEmailVerified(ctx context.Context, accountID uuid.UUID, verifiedAt time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&accountModel{}).
		Where("account_id = ?", accountID).
		Where("email_verified_at IS NULL").
		Updates(map[string]any{
			"email_verified_at": verifiedAt,
			"updated_at":        verifiedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var exists int64
		if err := r.db.WithContext(ctx).Model(&accountModel{}).Where("account_id = ?", accountID).Count(&exists).Error; err != nil {
			return err
		}
		if exists == 0 {
			return domain.ErrNotFound
		}
		// Already verified. Repeat verification is a no-op.
	}
	return nil
}

type tokenRepository struct {
	db *gorm.DB
}

func (r *tokenRepository) Create(ctx context.Context, params ports.TokenCreateParams) error {
	rec := ephemeralTokenModel{
		AccountID:   params.AccountID,
		Fingerprint: params.Fingerprint,
		Purpose:     string(params.Purpose),
		CreatedAt:   params.CreatedAt,
		ExpiresAt:   params.ExpiresAt,
	}
	return r.db.WithContext(ctx).Create(&rec).Error
}

func (r *tokenRepository) Consume(ctx context.Context, fingerprint string, purpose domain.TokenPurpose, usedAt time.Time) (uuid.UUID, error) {
	var rec ephemeralTokenModel
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("fingerprint = ?", fingerprint).
			Where("purpose = ?", string(purpose)).
			Where("used_at IS NULL").
			Where("expires_at > ?", usedAt).
			Take(&rec).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrNotFound
			}
			return err
		}
		return tx.Model(&ephemeralTokenModel{}).
			Where("token_id = ?", rec.TokenID).
			Update("used_at", usedAt).Error
	})
	if err != nil {
		return uuid.Nil, err
	}
	return rec.AccountID, nil
}

func (r *tokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("expires_at <= ? OR used_at IS NOT NULL", now).
		Delete(&ephemeralTokenModel{})
	return res.RowsAffected, res.Error
}

type passkeyRepository struct {
	db *gorm.DB
}

func (r *passkeyRepository) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]domain.PasskeyCredential, error) {
	var rows []passkeyCredentialModel
	if err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	result := make([]domain.PasskeyCredential, 0, len(rows))
	for _, row := range rows {
		result = append(result, toDomainPasskeyCredential(row))
	}
	return result, nil
}

func (r *passkeyRepository) GetByCredentialID(ctx context.Context, credentialID string) (domain.PasskeyCredential, error) {
	var rec passkeyCredentialModel
	if err := r.db.WithContext(ctx).Where("credential_id = ?", credentialID).Take(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.PasskeyCredential{}, domain.ErrNotFound
		}
		return domain.PasskeyCredential{}, err
	}
	return toDomainPasskeyCredential(rec), nil
}

func (r *passkeyRepository) Upsert(ctx context.Context, credential domain.PasskeyCredential) error {
	rec := passkeyCredentialModel{
		CredentialID:   credential.CredentialID,
		AccountID:      credential.AccountID,
		CredentialJSON: string(credential.CredentialJSON),
		SignCount:      int64(credential.SignCount),
		CreatedAt:      credential.CreatedAt,
		LastUsedAt:     credential.LastUsedAt,
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "credential_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"credential_json": rec.CredentialJSON,
			"sign_count":      rec.SignCount,
			"last_used_at":    rec.LastUsedAt,
		}),
	}).Create(&rec).Error
}

type authAttemptRepository struct {
	db *gorm.DB
}

func (r *authAttemptRepository) Insert(ctx context.Context, attempt domain.AuthAttempt) error {
	rec := authAttemptModel{
		AccountID:     attempt.AccountID,
		AttemptAt:     attempt.AttemptAt,
		IPAddress:     nullableString(attempt.IPAddress),
		UserAgent:     attempt.UserAgent,
		Status:        attempt.Status,
		FailureReason: attempt.FailureReason,
	}
	return r.db.WithContext(ctx).Create(&rec).Error
}

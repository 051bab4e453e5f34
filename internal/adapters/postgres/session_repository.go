package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/latchkey/auth-service/internal/domain"
	"github.com/latchkey/auth-service/internal/ports"
	"gorm.io/gorm"
)

type sessionRepository struct {
	db *gorm.DB
}

func (r *sessionRepository) Create(ctx context.Context, params ports.SessionCreateParams) (domain.Session, error) {
	rec := sessionModel{
		AccountID:   params.AccountID,
		Fingerprint: params.Fingerprint,
		IPAddress:   nullableString(params.IPAddress),
		UserAgent:   params.UserAgent,
		CreatedAt:   params.CreatedAt,
		ExpiresAt:   params.ExpiresAt,
	}
	if err := r.db.WithContext(ctx).Create(&rec).Error; err != nil {
		if isUniqueViolation(err) {
			return domain.Session{}, domain.ErrConflict
		}
		return domain.Session{}, err
	}
	return toDomainSession(rec), nil
}

func (r *sessionRepository) GetByID(ctx context.Context, sessionID uuid.UUID) (domain.Session, error) {
	var rec sessionModel
	if err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).Take(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Session{}, domain.ErrNotFound
		}
		return domain.Session{}, err
	}
	return toDomainSession(rec), nil
}

func (r *sessionRepository) FindByFingerprint(ctx context.Context, fingerprint string) (domain.Session, error) {
	var rec sessionModel
	if err := r.db.WithContext(ctx).Where("fingerprint = ?", fingerprint).Take(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Session{}, domain.ErrNotFound
		}
		return domain.Session{}, err
	}
	return toDomainSession(rec), nil
}

func (r *sessionRepository) ListByAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]domain.Session, error) {
	var rows []sessionModel
	query := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset)
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	result := make([]domain.Session, 0, len(rows))
	for _, item := range rows {
		result = append(result, toDomainSession(item))
	}
	return result, nil
}

// MarkRotated claims the session for rotation. The rotated_at IS NULL guard
// means racing rotations of the same session produce exactly one winner; the
// losers read back false and keep the session as-is.
func (r *sessionRepository) MarkRotated(ctx context.Context, sessionID uuid.UUID, rotatedAt time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&sessionModel{}).
		Where("session_id = ?", sessionID).
		Where("rotated_at IS NULL").
		Where("revoked_at IS NULL").
		Update("rotated_at", rotatedAt)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *sessionRepository) MarkRevoked(ctx context.Context, sessionID uuid.UUID, revokedAt time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&sessionModel{}).
		Where("session_id = ?", sessionID).
		Where("revoked_at IS NULL").
		Update("revoked_at", revokedAt)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var exists int64
		if err := r.db.WithContext(ctx).Model(&sessionModel{}).Where("session_id = ?", sessionID).Count(&exists).Error; err != nil {
			return err
		}
		if exists == 0 {
			return domain.ErrNotFound
		}
	}
	return nil
}

func (r *sessionRepository) RevokeAllByAccount(ctx context.Context, accountID uuid.UUID, revokedAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&sessionModel{}).
		Where("account_id = ?", accountID).
		Where("revoked_at IS NULL").
		Update("revoked_at", revokedAt).Error
}

func (r *sessionRepository) DeleteExpiredAndOldRotated(ctx context.Context, now time.Time, retention time.Duration) (int64, error) {
	horizon := now.Add(-retention)
	res := r.db.WithContext(ctx).
		Where("expires_at <= ? OR (rotated_at IS NOT NULL AND rotated_at < ?)", now, horizon).
		Delete(&sessionModel{})
	return res.RowsAffected, res.Error
}

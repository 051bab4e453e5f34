package postgres

import (
	"time"

	"github.com/google/uuid"
)

type accountModel struct {
	AccountID       uuid.UUID  `gorm:"column:account_id;type:uuid;default:gen_random_uuid();primaryKey"`
	Email           string     `gorm:"column:email"`
	EmailVerifiedAt *time.Time `gorm:"column:email_verified_at"`
	CreatedAt       time.Time  `gorm:"column:created_at"`
	UpdatedAt       time.Time  `gorm:"column:updated_at"`
}

func (accountModel) TableName() string { return "accounts" }

type sessionModel struct {
	SessionID   uuid.UUID  `gorm:"column:session_id;type:uuid;default:gen_random_uuid();primaryKey"`
	AccountID   uuid.UUID  `gorm:"column:account_id"`
	Fingerprint string     `gorm:"column:fingerprint"`
	IPAddress   *string    `gorm:"column:ip_address"`
	UserAgent   string     `gorm:"column:user_agent"`
	CreatedAt   time.Time  `gorm:"column:created_at"`
	ExpiresAt   time.Time  `gorm:"column:expires_at"`
	RotatedAt   *time.Time `gorm:"column:rotated_at"`
	RevokedAt   *time.Time `gorm:"column:revoked_at"`
}

func (sessionModel) TableName() string { return "sessions" }

type ephemeralTokenModel struct {
	TokenID     uuid.UUID  `gorm:"column:token_id;type:uuid;default:gen_random_uuid();primaryKey"`
	AccountID   uuid.UUID  `gorm:"column:account_id"`
	Fingerprint string     `gorm:"column:fingerprint"`
	Purpose     string     `gorm:"column:purpose"`
	CreatedAt   time.Time  `gorm:"column:created_at"`
	ExpiresAt   time.Time  `gorm:"column:expires_at"`
	UsedAt      *time.Time `gorm:"column:used_at"`
}

func (ephemeralTokenModel) TableName() string { return "ephemeral_tokens" }

type passkeyCredentialModel struct {
	CredentialID   string     `gorm:"column:credential_id;primaryKey"`
	AccountID      uuid.UUID  `gorm:"column:account_id"`
	CredentialJSON string     `gorm:"column:credential_json;type:jsonb"`
	SignCount      int64      `gorm:"column:sign_count"`
	CreatedAt      time.Time  `gorm:"column:created_at"`
	LastUsedAt     *time.Time `gorm:"column:last_used_at"`
}

func (passkeyCredentialModel) TableName() string { return "passkey_credentials" }

type authAttemptModel struct {
	ID            int64      `gorm:"column:id;primaryKey"`
	AccountID     *uuid.UUID `gorm:"column:account_id"`
	AttemptAt     time.Time  `gorm:"column:attempt_at"`
	IPAddress     *string    `gorm:"column:ip_address"`
	UserAgent     string     `gorm:"column:user_agent"`
	Status        string     `gorm:"column:status"`
	FailureReason string     `gorm:"column:failure_reason"`
}

func (authAttemptModel) TableName() string { return "auth_attempts" }

package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Wallet tracks a user's earnings. One wallet per user, created on first credit.
type Wallet struct {
	ID             uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID         uuid.UUID       `gorm:"column:user_id;type:uuid;not null;uniqueIndex"`
	Balance        decimal.Decimal `gorm:"column:balance;type:numeric(14,2);not null;default:0"`
	PendingBalance decimal.Decimal `gorm:"column:pending_balance;type:numeric(14,2);not null;default:0"`
	TotalEarned    decimal.Decimal `gorm:"column:total_earned;type:numeric(14,2);not null;default:0"`
	TotalWithdrawn decimal.Decimal `gorm:"column:total_withdrawn;type:numeric(14,2);not null;default:0"`
	CreatedAt      time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

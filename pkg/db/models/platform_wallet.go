package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PlatformWalletID is the primary key of the single platform wallet row.
const PlatformWalletID = 1

// PlatformWallet holds the platform-wide escrow and commission balances.
type PlatformWallet struct {
	ID                int             `gorm:"column:id;primaryKey"`
	EscrowBalance     decimal.Decimal `gorm:"column:escrow_balance;type:numeric(14,2);not null;default:0"`
	CommissionBalance decimal.Decimal `gorm:"column:commission_balance;type:numeric(14,2);not null;default:0"`
	TotalReceived     decimal.Decimal `gorm:"column:total_received;type:numeric(14,2);not null;default:0"`
	TotalTransferred  decimal.Decimal `gorm:"column:total_transferred;type:numeric(14,2);not null;default:0"`
	TotalCommissions  decimal.Decimal `gorm:"column:total_commissions;type:numeric(14,2);not null;default:0"`
	Version           int64           `gorm:"column:version;not null;default:0"`
	CreatedAt         time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

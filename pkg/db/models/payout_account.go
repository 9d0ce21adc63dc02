package models

import (
	"time"

	"github.com/google/uuid"
)

// PayoutAccount links a tester to their connected payout account at the processor.
type PayoutAccount struct {
	ID              uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID          uuid.UUID `gorm:"column:user_id;type:uuid;not null;uniqueIndex"`
	AccountRef      string    `gorm:"column:account_ref;not null;uniqueIndex"`
	PayoutsEnabled  bool      `gorm:"column:payouts_enabled;not null;default:false"`
	ChargesEnabled  bool      `gorm:"column:charges_enabled;not null;default:false"`
	DetailsComplete bool      `gorm:"column:details_complete;not null;default:false"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

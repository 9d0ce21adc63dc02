package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/trialhub/trialhub-backend/pkg/enums"
)

// TestSession is one tester's participation in a campaign.
type TestSession struct {
	ID                  uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	CampaignID          uuid.UUID           `gorm:"column:campaign_id;type:uuid;not null"`
	TesterID            uuid.UUID           `gorm:"column:tester_id;type:uuid;not null"`
	Status              enums.SessionStatus `gorm:"column:status;type:session_status_enum;not null"`
	ProductPrice        decimal.NullDecimal `gorm:"column:product_price;type:numeric(14,2)"`
	ShippingCost        decimal.NullDecimal `gorm:"column:shipping_cost;type:numeric(14,2)"`
	CompletedAt         *time.Time          `gorm:"column:completed_at"`
	RewardPaidAt        *time.Time          `gorm:"column:reward_paid_at"`
	RewardTransactionID *uuid.UUID          `gorm:"column:reward_transaction_id;type:uuid"`
	CreatedAt           time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

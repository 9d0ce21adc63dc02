package models

import "time"

// ProcessedWebhookEvent records a gateway event id once its effects are committed.
type ProcessedWebhookEvent struct {
	EventID     string    `gorm:"column:event_id;primaryKey"`
	EventType   string    `gorm:"column:event_type;not null"`
	ProcessedAt time.Time `gorm:"column:processed_at;not null"`
}

package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SyncLog is one persisted audit event, written by the worker from the
// sync-events topic.
type SyncLog struct {
	ID          string    `json:"id" gorm:"type:uuid;primary_key"`
	Event       string    `json:"event" gorm:"not null;index"`
	Direction   string    `json:"direction"`
	SKU         string    `json:"sku" gorm:"index"`
	VariationID string    `json:"variation_id"`
	Quantity    *int      `json:"quantity"`
	Detail      string    `json:"detail"`
	OccurredAt  time.Time `json:"occurred_at"`
	CreatedAt   time.Time `json:"created_at"`
}

func (s *SyncLog) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	return nil
}

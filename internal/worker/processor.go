package worker

import (
	"encoding/json"

	"squaresync/internal/audit"
	"squaresync/internal/database"
	"squaresync/internal/logger"
	"squaresync/internal/models"
)

type Processor struct {
	db     *database.Database
	logger *logger.Logger
}

func NewProcessor(db *database.Database, logger *logger.Logger) *Processor {
	return &Processor{db: db, logger: logger}
}

func (p *Processor) Process(event audit.Event) error {
	detail := ""
	if len(event.Detail) > 0 {
		if raw, err := json.Marshal(event.Detail); err == nil {
			detail = string(raw)
		}
	}

	record := &models.SyncLog{
		ID:          event.ID,
		Event:       event.Event,
		Direction:   event.Direction,
		SKU:         event.SKU,
		VariationID: event.VariationID,
		Quantity:    event.Quantity,
		Detail:      detail,
		OccurredAt:  event.At,
	}
	return p.db.DB.Create(record).Error
}

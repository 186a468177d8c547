package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"squaresync/internal/audit"
	"squaresync/internal/config"
	"squaresync/internal/database"
	"squaresync/internal/logger"

	"github.com/segmentio/kafka-go"
)

// Worker consumes audit events from the sync-events topic and persists them
// as sync log rows.
type Worker struct {
	config    *config.Config
	logger    *logger.Logger
	reader    *kafka.Reader
	processor *Processor
}

func New(cfg *config.Config, logger *logger.Logger, db *database.Database) *Worker {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        []string{cfg.KafkaBrokers},
		GroupID:        "squaresync-worker",
		Topic:          audit.Topic,
		MinBytes:       10e3, // 10KB
		MaxBytes:       10e6, // 10MB
		CommitInterval: time.Second,
	})

	return &Worker{
		config:    cfg,
		logger:    logger,
		reader:    reader,
		processor: NewProcessor(db, logger),
	}
}

func (w *Worker) Start() {
	w.logger.Info("Worker started, listening for sync events...")

	for {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		message, err := w.reader.ReadMessage(ctx)
		cancel()

		if err != nil {
			if !idleTimeout(err) {
				w.logger.Error("Failed to read message: %v", err)
			}
			continue
		}

		var event audit.Event
		if err := json.Unmarshal(message.Value, &event); err != nil {
			w.logger.Error("Failed to parse sync event: %v", err)
			continue
		}

		if err := w.processor.Process(event); err != nil {
			w.logger.Error("Failed to persist sync event %s: %v", event.Event, err)
			continue
		}

		w.logger.Debug("Persisted sync event %s for sku %s", event.Event, event.SKU)
	}
}

// idleTimeout reports whether a read error is just the poll deadline firing
// on an idle topic, as opposed to a broker failure worth logging.
func idleTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	w.reader.Close()
}

package outbox

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"gorm.io/gorm"

	"github.com/medbook/order-service/internal/models"
)

// Publisher is the broker side of the relay. *mykafka.Producer satisfies it.
type Publisher interface {
	PublishEvent(ctx context.Context, topic, key string, event interface{}) error
}

type Dispatcher struct {
	DB        *gorm.DB
	Publisher Publisher
	Log       *slog.Logger

	Interval  time.Duration
	BatchSize int
}

const (
	defaultInterval  = time.Second
	defaultBatchSize = 100
)

// Start polls the outbox until ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	interval := d.Interval
	if interval <= 0 {
		interval = defaultInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.DispatchOnce(ctx); err != nil {
				d.Log.Error("outbox dispatch failed", "error", err)
			}
		}
	}
}

// DispatchOnce relays one batch of pending events in insertion order and
// returns how many were sent. A row that fails to publish is left PENDING
// and retried on the next tick; rows after it are still attempted.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (int, error) {
	batch := d.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}

	var rows []models.OutboxEvent
	err := d.DB.WithContext(ctx).
		Where("status = ?", models.OutboxStatusPending).
		Order("id").
		Limit(batch).
		Find(&rows).Error
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, row := range rows {
		key := strconv.FormatUint(uint64(row.ID), 10)
		if err := d.Publisher.PublishEvent(ctx, row.EventType, key, json.RawMessage(row.Payload)); err != nil {
			d.Log.Error("outbox publish failed", "id", row.ID, "event_type", row.EventType, "error", err)
			continue
		}

		err := d.DB.WithContext(ctx).
			Model(&models.OutboxEvent{}).
			Where("id = ?", row.ID).
			Update("status", models.OutboxStatusSent).Error
		if err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}

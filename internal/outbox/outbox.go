// Package outbox implements the transactional outbox: handlers append
// events to the outbox table inside their own transaction, and the
// Dispatcher relays pending rows to the broker afterwards.
package outbox

import (
	"encoding/json"
	"fmt"

	"gorm.io/gorm"

	"github.com/medbook/order-service/internal/models"
)

// Publish serializes event and stages it in the outbox table. It must be
// called with the transaction handle of the business write so the event
// and the data change commit or roll back together.
func Publish(tx *gorm.DB, eventType string, event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("outbox: marshal %s: %w", eventType, err)
	}

	row := models.OutboxEvent{
		EventType: eventType,
		Payload:   string(data),
		Status:    models.OutboxStatusPending,
	}
	if err := tx.Create(&row).Error; err != nil {
		return fmt.Errorf("outbox: insert %s: %w", eventType, err)
	}
	return nil
}

package consumers

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"

	"github.com/medbook/order-service/internal/events"
	"github.com/medbook/order-service/internal/models"
)

// OrderHandlers maps each lifecycle topic to its handler.
func OrderHandlers() map[string]HandlerFunc {
	return map[string]HandlerFunc{
		events.TopicOrderReserved:   OrderReserved,
		events.TopicOrderRejected:   OrderRejected,
		events.TopicOrderCancelled:  OrderCancelSuccess,
		events.TopicDeliveryCreated: DeliveryCreated,
		events.TopicDeliverySuccess: DeliverySuccess,
	}
}

func OrderReserved(ctx context.Context, db *gorm.DB, payload []byte) error {
	var evt events.OrderReservedEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return fmt.Errorf("consumers: decode order_reserved: %w", err)
	}
	return setOrderStatus(ctx, db, evt.OrderID, models.OrderStatusReserved)
}

func OrderRejected(ctx context.Context, db *gorm.DB, payload []byte) error {
	var evt events.OrderRejectedEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return fmt.Errorf("consumers: decode order_rejected: %w", err)
	}
	return setOrderStatus(ctx, db, evt.OrderID, models.OrderStatusRejected)
}

func OrderCancelSuccess(ctx context.Context, db *gorm.DB, payload []byte) error {
	var evt events.OrderCancelSuccessEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return fmt.Errorf("consumers: decode order_cancelled: %w", err)
	}
	return setOrderStatus(ctx, db, evt.OrderID, models.OrderStatusCancelled)
}

func DeliveryCreated(ctx context.Context, db *gorm.DB, payload []byte) error {
	var evt events.DeliveryCreatedEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return fmt.Errorf("consumers: decode delivery_created: %w", err)
	}
	return db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", evt.OrderID).
		Update("delivery_id", evt.DeliveryID).Error
}

func DeliverySuccess(ctx context.Context, db *gorm.DB, payload []byte) error {
	var evt events.DeliverySuccessEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return fmt.Errorf("consumers: decode delivery_success: %w", err)
	}
	return setOrderStatus(ctx, db, evt.OrderID, models.OrderStatusDelivered)
}

func setOrderStatus(ctx context.Context, db *gorm.DB, orderID uint, status string) error {
	return db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", orderID).
		Update("status", status).Error
}

// Package events holds the message contracts shared with the inventory
// and delivery services. Topic names double as outbox event types.
package events

import (
	"encoding/json"

	"github.com/google/uuid"
)

const (
	TopicReserveOrder         = "inventory.reserve_order"
	TopicCancelOrder          = "inventory.cancel_order"
	TopicDeliveryOrderRequest = "delivery.order_request"

	TopicOrderReserved   = "orders.order_reserved"
	TopicOrderRejected   = "orders.order_rejected"
	TopicOrderCancelled  = "orders.order_cancelled"
	TopicDeliveryCreated = "orders.delivery_created"
	TopicDeliverySuccess = "orders.delivery_success"
)

type OrderItem struct {
	ProductID uint `json:"product_id"`
	Quantity  uint `json:"quantity"`
}

type OrderRequestedEvent struct {
	OrderID    uint        `json:"order_id"`
	OrderItems []OrderItem `json:"order_items"`
}

type OrderCancelledEvent struct {
	OrderID    uint        `json:"order_id"`
	OrderItems []OrderItem `json:"order_items"`
}

type DeliveryOrderRequestEvent struct {
	OrderID         uint            `json:"order_id"`
	OrderType       string          `json:"order_type"`
	DeliveryAddress json.RawMessage `json:"delivery_address"`
}

type OrderReservedEvent struct {
	OrderID uint `json:"order_id"`
}

type OrderRejectedEvent struct {
	OrderID uint   `json:"order_id"`
	Reason  string `json:"reason,omitempty"`
}

type OrderCancelSuccessEvent struct {
	OrderID uint `json:"order_id"`
}

type DeliveryCreatedEvent struct {
	OrderID    uint      `json:"order_id"`
	DeliveryID uuid.UUID `json:"delivery_id"`
}

type DeliverySuccessEvent struct {
	OrderID uint `json:"order_id"`
}

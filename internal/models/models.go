package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	OrderStatusPending         = "PENDING"
	OrderStatusReserved        = "RESERVED"
	OrderStatusRejected        = "REJECTED"
	OrderStatusPaymentPending  = "PAYMENT_PENDING"
	OrderStatusDeliveryPending = "DELIVERY_PENDING"
	OrderStatusDelivered       = "DELIVERED"
	OrderStatusCancelPending   = "CANCEL_PENDING"
	OrderStatusCancelled       = "CANCELLED"
)

const (
	OrderTypePickup   = "PICKUP"
	OrderTypeDelivery = "DELIVERY"
)

const (
	PaymentStatusPending = "PENDING"
	PaymentStatusPaid    = "PAID"
	PaymentStatusFailed  = "FAILED"

	PaymentProviderInternal = "internal"
)

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

type Cart struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	PatientID uint      `gorm:"index;not null"           json:"patient_id"`
	CreatedAt time.Time `gorm:"not null"                 json:"created_at"`
	UpdatedAt time.Time `gorm:"not null"                 json:"updated_at"`
}

type CartItem struct {
	CartID    uint      `gorm:"primaryKey"         json:"cart_id"`
	ProductID uint      `gorm:"primaryKey"         json:"product_id"`
	Quantity  uint      `gorm:"not null;default:1" json:"quantity"`
	CreatedAt time.Time `gorm:"not null"           json:"created_at"`
	UpdatedAt time.Time `gorm:"not null"           json:"updated_at"`

	Cart *Cart `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

type Order struct {
	ID              uint            `gorm:"primaryKey;autoIncrement" json:"id"`
	CartID          uint            `gorm:"not null"                 json:"cart_id"`
	PatientID       uint            `gorm:"index;not null"           json:"patient_id"`
	Status          string          `gorm:"not null;default:PENDING" json:"status"`
	OrderType       string          `gorm:"not null;default:PICKUP"  json:"order_type"`
	DeliveryID      *uuid.UUID      `gorm:"type:uuid"                json:"delivery_id"`
	DeliveryAddress json.RawMessage `gorm:"type:jsonb"               json:"delivery_address"`
	CreatedAt       time.Time       `gorm:"not null"                 json:"created_at"`
	UpdatedAt       time.Time       `gorm:"not null"                 json:"updated_at"`
	DeletedAt       *time.Time      `json:"deleted_at"`

	Cart *Cart `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

type Payment struct {
	ID            uuid.UUID  `gorm:"type:uuid;primaryKey"              json:"id"`
	OrderID       uint       `gorm:"index;not null"                    json:"order_id"`
	Amount        float64    `gorm:"not null"                          json:"amount"`
	Status        string     `gorm:"size:32;not null;default:PENDING"  json:"status"`
	Provider      string     `gorm:"size:64;not null;default:internal" json:"provider"`
	ProviderRef   *string    `gorm:"size:128"                          json:"provider_ref"`
	FailureReason *string    `json:"failure_reason"`
	CreatedAt     time.Time  `gorm:"not null"                          json:"created_at"`
	UpdatedAt     time.Time  `gorm:"not null"                          json:"updated_at"`

	Order *Order `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

// In postgres the id column has a gen_random_uuid() default; the hook keeps
// inserts working on databases without it.
func (p *Payment) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

type OutboxEvent struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	EventType string    `gorm:"not null"                 json:"event_type"`
	Payload   string    `gorm:"not null"                 json:"payload"`
	Status    string    `gorm:"not null;default:PENDING" json:"status"`
	CreatedAt time.Time `gorm:"not null"                 json:"created_at"`
	UpdatedAt time.Time `gorm:"not null"                 json:"updated_at"`
}

func (OutboxEvent) TableName() string { return "outbox" }

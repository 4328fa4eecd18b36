package models

import (
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	EventTypeOrderCreated   = "ORDER_CREATED"
	EventTypeOrderConfirmed = "ORDER_CONFIRMED"
	EventTypeOrderCancelled = "ORDER_CANCELLED"
	EventTypeOrderShipped   = "ORDER_SHIPPED"
	EventTypePaymentFailed  = "PAYMENT_FAILED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCreatedEvent published when a checkout creates an order
type OrderCreatedEvent struct {
	BaseEvent
	OrderID       uuid.UUID       `json:"order_id"`
	UserID        uuid.UUID       `json:"user_id"`
	Total         int64           `json:"total"`
	PaymentMethod string          `json:"payment_method"`
	Items         []OrderItemData `json:"items"`
}

// OrderConfirmedEvent published when payment is confirmed (or COD placed)
type OrderConfirmedEvent struct {
	BaseEvent
	OrderID       uuid.UUID `json:"order_id"`
	UserID        uuid.UUID `json:"user_id"`
	Total         int64     `json:"total"`
	PaymentMethod string    `json:"payment_method"`
	GatewayTxnID  string    `json:"gateway_txn_id,omitempty"`
}

// OrderCancelledEvent published when a pending order is cancelled
type OrderCancelledEvent struct {
	BaseEvent
	OrderID uuid.UUID `json:"order_id"`
	UserID  uuid.UUID `json:"user_id"`
	Reason  string    `json:"reason"`
}

// OrderShippedEvent published when a shipment is created for an order
type OrderShippedEvent struct {
	BaseEvent
	OrderID      uuid.UUID `json:"order_id"`
	Carrier      string    `json:"carrier"`
	TrackingCode string    `json:"tracking_code"`
}

// PaymentFailedEvent published when the gateway reports a failed payment
type PaymentFailedEvent struct {
	BaseEvent
	OrderID      uuid.UUID `json:"order_id"`
	ResponseCode string    `json:"response_code"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	ProductID uuid.UUID `json:"product_id"`
	Quantity  int       `json:"quantity"`
}

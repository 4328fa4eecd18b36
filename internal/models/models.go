package models

import (
	"time"

	"github.com/google/uuid"
)

// OrderStatus is the closed set of order states.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusShipping  OrderStatus = "shipping"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// orderTransitions is the forward-only graph enforced for payment-driven
// transitions. Operator updates only require Valid(), not CanTransitionTo.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:   {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed: {OrderStatusShipping},
	OrderStatusShipping:  {OrderStatusDelivered},
	OrderStatusDelivered: {},
	OrderStatusCancelled: {},
}

// Valid reports whether s is one of the five known order states.
func (s OrderStatus) Valid() bool {
	_, ok := orderTransitions[s]
	return ok
}

// Terminal reports whether no further transition is possible.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// CanTransitionTo reports whether the automatic path allows s -> next.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, t := range orderTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// PaymentStatus is the closed set of payment states.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// Valid reports whether s is a known payment state.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusPaid, PaymentStatusFailed, PaymentStatusRefunded:
		return true
	}
	return false
}

// Payment providers accepted at checkout.
const (
	PaymentMethodVNPay = "vnpay"
	PaymentMethodCOD   = "cod"
)

// User is the structured user record returned by the user lookup.
type User struct {
	ID       uuid.UUID `db:"id" json:"id"`
	Username string    `db:"username" json:"username"`
	Email    string    `db:"email" json:"email"`
}

// Product represents a catalog product. Price is the catalog's decimal
// string; it is parsed at checkout time, not frozen into the cart.
type Product struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Price     string    `db:"price" json:"price"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Cart holds a user's running item count. One cart per user.
type Cart struct {
	ID        uuid.UUID `db:"id" json:"id"`
	UserID    uuid.UUID `db:"user_id" json:"user_id"`
	Total     int       `db:"total" json:"total"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// CartItem is one line in a cart.
type CartItem struct {
	ID        uuid.UUID `db:"id" json:"id"`
	CartID    uuid.UUID `db:"cart_id" json:"cart_id"`
	ProductID uuid.UUID `db:"product_id" json:"product_id"`
	Quantity  int       `db:"quantity" json:"quantity"`
}

// Address is a user's shipping address with GoShip region identifiers.
type Address struct {
	ID          uuid.UUID `db:"id" json:"id"`
	UserID      uuid.UUID `db:"user_id" json:"user_id"`
	Title       string    `db:"title" json:"title"`
	Address     string    `db:"address" json:"address"`
	PhoneNumber string    `db:"phone_number" json:"phone_number"`
	CityID      int       `db:"city_id" json:"city_id"`
	DistrictID  int       `db:"district_id" json:"district_id"`
	WardID      int       `db:"ward_id" json:"ward_id"`
}

// Order is a customer order. Total is in VND (base unit, no decimals) and is
// fixed once payment is confirmed. Shipping fields are settable later by the
// fulfillment flow without touching payment state.
type Order struct {
	ID           uuid.UUID   `db:"id" json:"id"`
	UserID       uuid.UUID   `db:"user_id" json:"user_id"`
	PaymentID    *uuid.UUID  `db:"payment_id" json:"payment_id,omitempty"`
	Total        int64       `db:"total" json:"total"`
	Status       OrderStatus `db:"status" json:"status"`
	ShippingFee  int64       `db:"shipping_fee" json:"shipping_fee"`
	RateID       string      `db:"rate_id" json:"rate_id,omitempty"`
	ShippingCode string      `db:"shipping_code" json:"shipping_code,omitempty"`
	TrackingCode string      `db:"tracking_code" json:"tracking_code,omitempty"`
	Carrier      string      `db:"carrier" json:"carrier,omitempty"`
	CreatedAt    time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time   `db:"updated_at" json:"updated_at"`
}

// OrderItem is one line of an order, snapshotted from the cart at checkout.
// Quantity must be positive. Price is not stored per item; Order.Total is the
// captured amount.
type OrderItem struct {
	ID        uuid.UUID `db:"id" json:"id"`
	OrderID   uuid.UUID `db:"order_id" json:"order_id"`
	ProductID uuid.UUID `db:"product_id" json:"product_id"`
	Quantity  int       `db:"quantity" json:"quantity"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// PaymentDetail records the payment attempt for an order. Amount equals the
// order total at creation and never changes afterwards.
type PaymentDetail struct {
	ID        uuid.UUID     `db:"id" json:"id"`
	Amount    int64         `db:"amount" json:"amount"`
	Provider  string        `db:"provider" json:"provider"`
	Status    PaymentStatus `db:"status" json:"status"`
	CreatedAt time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt time.Time     `db:"updated_at" json:"updated_at"`
}

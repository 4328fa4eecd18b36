package service

import (
	"context"

	"checkout-service/internal/models"
	"checkout-service/internal/store"

	"github.com/google/uuid"
)

// Store is the persistence surface the services need. *store.Store satisfies
// it; tests substitute an in-memory fake.
type Store interface {
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetProductByID(ctx context.Context, id uuid.UUID) (*models.Product, error)
	GetCartByUserID(ctx context.Context, userID uuid.UUID) (*models.Cart, error)
	GetCartItems(ctx context.Context, cartID uuid.UUID) ([]models.CartItem, error)
	GetAddressesByUserID(ctx context.Context, userID uuid.UUID) ([]models.Address, error)

	CreateCheckoutTx(ctx context.Context, order *models.Order, payment *models.PaymentDetail, items []models.OrderItem, confirm bool) error
	ConfirmPaymentTx(ctx context.Context, orderID uuid.UUID) (bool, error)
	FailPaymentTx(ctx context.Context, orderID uuid.UUID) error
	CancelOrderTx(ctx context.Context, orderID, userID uuid.UUID) error

	GetOrderByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	GetOrdersByUserID(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Order, error)
	GetAllOrders(ctx context.Context, status models.OrderStatus, limit, offset int) ([]models.Order, error)
	GetOrderItems(ctx context.Context, orderID uuid.UUID) ([]models.OrderItem, error)
	GetPaymentByID(ctx context.Context, id uuid.UUID) (*models.PaymentDetail, error)
	UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, status models.OrderStatus) error
	SetOrderShipment(ctx context.Context, orderID uuid.UUID, carrier, shippingCode, trackingCode, rateID string) error
}

var _ Store = (*store.Store)(nil)

// Publisher emits order lifecycle events. Publishing is best-effort: a broker
// failure is logged, never propagated into the money path.
type Publisher interface {
	PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
	PublishOrderConfirmed(ctx context.Context, event *models.OrderConfirmedEvent) error
	PublishOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error
	PublishOrderShipped(ctx context.Context, event *models.OrderShippedEvent) error
	PublishPaymentFailed(ctx context.Context, event *models.PaymentFailedEvent) error
}

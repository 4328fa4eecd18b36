package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrInvalidStatus is returned when an operator submits an unknown order
// status.
var ErrInvalidStatus = errors.New("invalid order status")

// OrderService covers order browsing, cancellation and operator updates.
type OrderService struct {
	store     Store
	publisher Publisher
	logger    *zap.Logger
}

// NewOrderService creates a new order service. publisher may be nil.
func NewOrderService(st Store, publisher Publisher) *OrderService {
	return &OrderService{
		store:     st,
		publisher: publisher,
		logger:    util.GetLogger(),
	}
}

// OrderItemDetail is one order line joined with its product.
type OrderItemDetail struct {
	ProductID   uuid.UUID `json:"product_id"`
	ProductName string    `json:"product_name"`
	Quantity    int       `json:"quantity"`
}

// OrderDetail is an order with its lines and payment state.
type OrderDetail struct {
	Order   *models.Order         `json:"order"`
	Items   []OrderItemDetail     `json:"items"`
	Payment *models.PaymentDetail `json:"payment,omitempty"`
}

// ListOrders returns the user's orders, newest first.
func (s *OrderService) ListOrders(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ListOrders")
	defer span.End()

	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.GetOrdersByUserID(ctx, userID, limit, offset)
}

// GetOrderDetail returns one of the user's orders with items and payment.
// Orders belonging to other users are reported as not found.
func (s *OrderService) GetOrderDetail(ctx context.Context, orderID, userID uuid.UUID) (*OrderDetail, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetOrderDetail")
	defer span.End()

	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		// Do not reveal that the order exists for someone else.
		return nil, store.ErrOrderNotFound
	}

	items, err := s.store.GetOrderItems(ctx, orderID)
	if err != nil {
		return nil, err
	}

	detail := &OrderDetail{
		Order: order,
		Items: make([]OrderItemDetail, 0, len(items)),
	}
	for _, item := range items {
		line := OrderItemDetail{ProductID: item.ProductID, Quantity: item.Quantity}
		if product, err := s.store.GetProductByID(ctx, item.ProductID); err == nil {
			line.ProductName = product.Name
		}
		detail.Items = append(detail.Items, line)
	}

	if order.PaymentID != nil {
		payment, err := s.store.GetPaymentByID(ctx, *order.PaymentID)
		if err == nil {
			detail.Payment = payment
		}
	}

	return detail, nil
}

// CancelOrder cancels one of the user's pending orders. Orders past pending
// cannot be cancelled through this path.
func (s *OrderService) CancelOrder(ctx context.Context, orderID, userID uuid.UUID, reason string) error {
	ctx, span := util.StartSpan(ctx, "OrderService.CancelOrder")
	defer span.End()

	if err := s.store.CancelOrderTx(ctx, orderID, userID); err != nil {
		return err
	}

	util.OrdersCancelledTotal.Inc()
	s.logger.Info("Order cancelled",
		zap.String("order_id", orderID.String()),
		zap.String("user_id", userID.String()))

	if s.publisher != nil {
		event := &models.OrderCancelledEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypeOrderCancelled,
				Timestamp: time.Now(),
			},
			OrderID: orderID,
			UserID:  userID,
			Reason:  reason,
		}
		if err := s.publisher.PublishOrderCancelled(ctx, event); err != nil {
			s.logger.Error("Failed to publish OrderCancelled event", zap.Error(err))
		}
	}

	return nil
}

// ListAllOrders returns orders across all users, optionally filtered by
// status. Operator endpoint.
func (s *OrderService) ListAllOrders(ctx context.Context, status string, limit, offset int) ([]models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ListAllOrders")
	defer span.End()

	var filter models.OrderStatus
	if status != "" {
		filter = models.OrderStatus(status)
		if !filter.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
		}
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.GetAllOrders(ctx, filter, limit, offset)
}

// UpdateOrderStatus sets an order's status on behalf of an operator. Only
// enum membership is checked; operators may move an order to any known
// status, including backwards.
func (s *OrderService) UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, status string) error {
	ctx, span := util.StartSpan(ctx, "OrderService.UpdateOrderStatus")
	defer span.End()

	next := models.OrderStatus(status)
	if !next.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	if err := s.store.UpdateOrderStatus(ctx, orderID, next); err != nil {
		return err
	}

	s.logger.Info("Order status updated by operator",
		zap.String("order_id", orderID.String()),
		zap.String("status", status))
	return nil
}

package store

import (
	"context"
	"database/sql"
	"fmt"

	"checkout-service/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// CreateCheckoutTx persists the payment detail, the order, and one order item
// per cart line as a single transaction. When confirm is true (cash on
// delivery) the order is flipped to confirmed and the user's cart is cleared
// in the same transaction; otherwise the cart is left untouched for the
// gateway flow.
func (s *Store) CreateCheckoutTx(ctx context.Context, order *models.Order, payment *models.PaymentDetail, items []models.OrderItem, confirm bool) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	err = tx.GetContext(ctx, payment, `
		INSERT INTO payment_details (id, amount, provider, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id, amount, provider, status, created_at, updated_at`,
		payment.ID, payment.Amount, payment.Provider, payment.Status)
	if err != nil {
		return fmt.Errorf("failed to create payment detail: %w", err)
	}

	if confirm {
		order.Status = models.OrderStatusConfirmed
	}
	err = tx.GetContext(ctx, order, `
		INSERT INTO orders (id, user_id, payment_id, total, status, shipping_fee, rate_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, user_id, payment_id, total, status, shipping_fee,
		          COALESCE(rate_id, '') AS rate_id,
		          COALESCE(shipping_code, '') AS shipping_code,
		          COALESCE(tracking_code, '') AS tracking_code,
		          COALESCE(carrier, '') AS carrier,
		          created_at, updated_at`,
		order.ID, order.UserID, order.PaymentID, order.Total, order.Status, order.ShippingFee, order.RateID)
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}

	for i := range items {
		items[i].OrderID = order.ID
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, product_id, quantity)
			VALUES ($1, $2, $3, $4)`,
			items[i].ID, items[i].OrderID, items[i].ProductID, items[i].Quantity)
		if err != nil {
			return fmt.Errorf("failed to create order item: %w", err)
		}
	}

	if confirm {
		if err := clearCartTx(ctx, tx, order.UserID); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// lockOrderTx loads an order under a row lock so status checks and writes
// form one atomic check-and-set against concurrent callbacks.
func lockOrderTx(ctx context.Context, tx *sqlx.Tx, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := tx.GetContext(ctx, &order, `
		SELECT id, user_id, payment_id, total, status, shipping_fee,
		       COALESCE(rate_id, '') AS rate_id,
		       COALESCE(shipping_code, '') AS shipping_code,
		       COALESCE(tracking_code, '') AS tracking_code,
		       COALESCE(carrier, '') AS carrier,
		       created_at, updated_at
		FROM orders WHERE id = $1 FOR UPDATE`, orderID)
	if err == sql.ErrNoRows {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock order: %w", err)
	}
	return &order, nil
}

// ConfirmPaymentTx applies the payment-success transition: order pending ->
// confirmed, payment -> paid, cart cleared, all or nothing. When the order
// has already left pending the call is an idempotent no-op and applied is
// false — gateway callbacks are retried by design and must not re-apply side
// effects.
func (s *Store) ConfirmPaymentTx(ctx context.Context, orderID uuid.UUID) (applied bool, err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	order, err := lockOrderTx(ctx, tx, orderID)
	if err != nil {
		return false, err
	}

	if order.Status != models.OrderStatusPending {
		return false, nil
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2",
		models.OrderStatusConfirmed, orderID)
	if err != nil {
		return false, fmt.Errorf("failed to confirm order: %w", err)
	}

	if order.PaymentID != nil {
		_, err = tx.ExecContext(ctx,
			"UPDATE payment_details SET status = $1, updated_at = NOW() WHERE id = $2",
			models.PaymentStatusPaid, *order.PaymentID)
		if err != nil {
			return false, fmt.Errorf("failed to mark payment paid: %w", err)
		}
	}

	if err := clearCartTx(ctx, tx, order.UserID); err != nil {
		return false, err
	}

	return true, tx.Commit()
}

// FailPaymentTx applies the payment-failure transition: the payment detail
// moves to failed while the order stays pending so the user can retry, and
// the cart is untouched. A payment already paid is never demoted.
func (s *Store) FailPaymentTx(ctx context.Context, orderID uuid.UUID) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	order, err := lockOrderTx(ctx, tx, orderID)
	if err != nil {
		return err
	}

	if order.PaymentID == nil {
		return tx.Commit()
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE payment_details SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status <> $3`,
		models.PaymentStatusFailed, *order.PaymentID, models.PaymentStatusPaid)
	if err != nil {
		return fmt.Errorf("failed to mark payment failed: %w", err)
	}

	return tx.Commit()
}

// CancelOrderTx cancels a user's order. Only pending orders can be
// cancelled; cancellation is a status change, never a deletion.
func (s *Store) CancelOrderTx(ctx context.Context, orderID, userID uuid.UUID) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	order, err := lockOrderTx(ctx, tx, orderID)
	if err != nil {
		return err
	}
	if order.UserID != userID {
		return ErrOrderNotFound
	}
	if order.Status != models.OrderStatusPending {
		return ErrCannotCancel
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2",
		models.OrderStatusCancelled, orderID)
	if err != nil {
		return fmt.Errorf("failed to cancel order: %w", err)
	}

	return tx.Commit()
}

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, `
		SELECT id, user_id, payment_id, total, status, shipping_fee,
		       COALESCE(rate_id, '') AS rate_id,
		       COALESCE(shipping_code, '') AS shipping_code,
		       COALESCE(tracking_code, '') AS tracking_code,
		       COALESCE(carrier, '') AS carrier,
		       created_at, updated_at
		FROM orders WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrdersByUserID retrieves a page of a user's orders, newest first
func (s *Store) GetOrdersByUserID(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders, `
		SELECT id, user_id, payment_id, total, status, shipping_fee,
		       COALESCE(rate_id, '') AS rate_id,
		       COALESCE(shipping_code, '') AS shipping_code,
		       COALESCE(tracking_code, '') AS tracking_code,
		       COALESCE(carrier, '') AS carrier,
		       created_at, updated_at
		FROM orders WHERE user_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, userID, limit, offset)
	return orders, err
}

// GetAllOrders retrieves a page of all orders, optionally filtered by status
func (s *Store) GetAllOrders(ctx context.Context, status models.OrderStatus, limit, offset int) ([]models.Order, error) {
	query := `
		SELECT id, user_id, payment_id, total, status, shipping_fee,
		       COALESCE(rate_id, '') AS rate_id,
		       COALESCE(shipping_code, '') AS shipping_code,
		       COALESCE(tracking_code, '') AS tracking_code,
		       COALESCE(carrier, '') AS carrier,
		       created_at, updated_at
		FROM orders`
	args := []interface{}{}
	if status != "" {
		query += " WHERE status = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3"
		args = append(args, status, limit, offset)
	} else {
		query += " ORDER BY created_at DESC LIMIT $1 OFFSET $2"
		args = append(args, limit, offset)
	}

	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders, query, args...)
	return orders, err
}

// GetOrderItems retrieves all items for an order
func (s *Store) GetOrderItems(ctx context.Context, orderID uuid.UUID) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT id, order_id, product_id, quantity, created_at FROM order_items WHERE order_id = $1", orderID)
	return items, err
}

// GetPaymentByID retrieves a payment detail by ID
func (s *Store) GetPaymentByID(ctx context.Context, id uuid.UUID) (*models.PaymentDetail, error) {
	var payment models.PaymentDetail
	err := s.db.GetContext(ctx, &payment,
		"SELECT id, amount, provider, status, created_at, updated_at FROM payment_details WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// UpdateOrderStatus updates an order's status. This is the operator path: the
// caller validates enum membership, the forward-only graph is not enforced.
func (s *Store) UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, status models.OrderStatus) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2",
		status, orderID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// SetOrderShipment records shipment identifiers returned by the shipping
// gateway and moves the order to shipping. Fails when a shipment already
// exists so an order is never shipped twice.
func (s *Store) SetOrderShipment(ctx context.Context, orderID uuid.UUID, carrier, shippingCode, trackingCode, rateID string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	order, err := lockOrderTx(ctx, tx, orderID)
	if err != nil {
		return err
	}
	if order.ShippingCode != "" {
		return ErrShipmentExists
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE orders
		SET carrier = $1, shipping_code = $2, tracking_code = $3, rate_id = $4,
		    status = $5, updated_at = NOW()
		WHERE id = $6`,
		carrier, shippingCode, trackingCode, rateID, models.OrderStatusShipping, orderID)
	if err != nil {
		return fmt.Errorf("failed to set shipment: %w", err)
	}

	return tx.Commit()
}

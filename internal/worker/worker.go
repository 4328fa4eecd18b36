package worker

import (
	"context"

	"checkout-service/internal/broker"
	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"go.uber.org/zap"
)

// AuditWorker consumes order lifecycle events and writes an audit trail to
// the logs. It is the read side of the event stream; the HTTP path never
// waits for it.
type AuditWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewAuditWorker creates a new audit worker
func NewAuditWorker(consumer *broker.Consumer) *AuditWorker {
	w := &AuditWorker{
		consumer: consumer,
		logger:   util.GetLogger(),
	}

	eventHandler := broker.NewEventHandler()
	eventHandler.OnOrderConfirmed(w.handleOrderConfirmed)
	eventHandler.OnOrderCancelled(w.handleOrderCancelled)
	eventHandler.OnPaymentFailed(w.handlePaymentFailed)
	w.eventHandler = eventHandler

	return w
}

// Start starts the worker
func (w *AuditWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting audit worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *AuditWorker) Stop() error {
	w.logger.Info("Stopping audit worker")
	return w.consumer.Close()
}

func (w *AuditWorker) handleOrderConfirmed(_ context.Context, event *models.OrderConfirmedEvent) error {
	w.logger.Info("Order confirmed",
		zap.String("event_id", event.EventID),
		zap.String("order_id", event.OrderID.String()),
		zap.String("user_id", event.UserID.String()),
		zap.Int64("total", event.Total),
		zap.String("payment_method", event.PaymentMethod),
		zap.String("gateway_txn_id", event.GatewayTxnID))
	return nil
}

func (w *AuditWorker) handleOrderCancelled(_ context.Context, event *models.OrderCancelledEvent) error {
	w.logger.Info("Order cancelled",
		zap.String("event_id", event.EventID),
		zap.String("order_id", event.OrderID.String()),
		zap.String("user_id", event.UserID.String()),
		zap.String("reason", event.Reason))
	return nil
}

func (w *AuditWorker) handlePaymentFailed(_ context.Context, event *models.PaymentFailedEvent) error {
	w.logger.Warn("Payment failed",
		zap.String("event_id", event.EventID),
		zap.String("order_id", event.OrderID.String()),
		zap.String("response_code", event.ResponseCode))
	return nil
}

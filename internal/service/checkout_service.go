package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/redisclient"
	"checkout-service/internal/store"
	"checkout-service/internal/util"
	"checkout-service/internal/vnpay"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Validation errors surfaced before any mutation.
var (
	ErrInvalidPaymentMethod = errors.New("invalid payment method: choose 'vnpay' or 'cod'")
	ErrCartEmpty            = errors.New("cart is empty")
)

// IPN acknowledgement codes. The gateway retries the IPN until it receives
// AckConfirmed, so every other code must be stable and side-effect free.
const (
	AckConfirmed        = "00"
	AckOrderNotFound    = "01"
	AckAlreadyProcessed = "02"
	AckInvalidAmount    = "04"
	AckInvalidSignature = "97"
)

// callbackLockTTL bounds the advisory lock held while a callback is applied.
const callbackLockTTL = 10 * time.Second

// CheckoutService turns a cart into an order plus payment record and applies
// the gateway's callbacks to the order ledger.
type CheckoutService struct {
	store     Store
	vnpay     *vnpay.Client
	redis     *redisclient.Client
	publisher Publisher
	logger    *zap.Logger
}

// NewCheckoutService creates a new checkout service. redis and publisher may
// be nil; both are best-effort collaborators.
func NewCheckoutService(st Store, vnp *vnpay.Client, redis *redisclient.Client, publisher Publisher) *CheckoutService {
	return &CheckoutService{
		store:     st,
		vnpay:     vnp,
		redis:     redis,
		publisher: publisher,
		logger:    util.GetLogger(),
	}
}

// CreateCheckoutRequest is the input for CreateCheckout.
type CreateCheckoutRequest struct {
	UserID        uuid.UUID `json:"user_id" binding:"required"`
	PaymentMethod string    `json:"payment_method" binding:"required"`
	AddressID     string    `json:"address_id,omitempty"`
	RateID        string    `json:"rate_id,omitempty"`
	ShippingFee   int64     `json:"shipping_fee"`
	Note          string    `json:"note,omitempty"`
	ClientIP      string    `json:"-"`
}

// CreateCheckoutResponse is returned after a checkout is created.
type CreateCheckoutResponse struct {
	OrderID       uuid.UUID `json:"order_id"`
	PaymentMethod string    `json:"payment_method"`
	Total         int64     `json:"total"`
	PaymentURL    string    `json:"payment_url,omitempty"`
	Message       string    `json:"message"`
}

// CreateCheckout creates the order, its payment detail and its items from the
// user's cart. For VNPay it returns a redirect URL and leaves the cart
// intact; for COD it confirms the order and clears the cart immediately.
func (s *CheckoutService) CreateCheckout(ctx context.Context, req *CreateCheckoutRequest) (*CreateCheckoutResponse, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.CreateCheckout")
	defer span.End()

	if req.PaymentMethod != models.PaymentMethodVNPay && req.PaymentMethod != models.PaymentMethodCOD {
		util.CheckoutsFailedTotal.WithLabelValues("invalid_method").Inc()
		return nil, ErrInvalidPaymentMethod
	}

	cartItems, err := s.loadCartItems(ctx, req.UserID)
	if err != nil {
		util.CheckoutsFailedTotal.WithLabelValues("empty_cart").Inc()
		return nil, err
	}

	// Prices come from the catalog at call time. All lookups finish before
	// the order-creation transaction begins.
	total, err := s.computeTotal(ctx, cartItems)
	if err != nil {
		util.CheckoutsFailedTotal.WithLabelValues("price_lookup").Inc()
		return nil, err
	}
	total += req.ShippingFee

	payment := &models.PaymentDetail{
		ID:       uuid.New(),
		Amount:   total,
		Provider: req.PaymentMethod,
		Status:   models.PaymentStatusPending,
	}
	order := &models.Order{
		ID:          uuid.New(),
		UserID:      req.UserID,
		PaymentID:   &payment.ID,
		Total:       total,
		Status:      models.OrderStatusPending,
		ShippingFee: req.ShippingFee,
		RateID:      req.RateID,
	}

	items := make([]models.OrderItem, 0, len(cartItems))
	eventItems := make([]models.OrderItemData, 0, len(cartItems))
	for _, ci := range cartItems {
		items = append(items, models.OrderItem{
			ID:        uuid.New(),
			ProductID: ci.ProductID,
			Quantity:  ci.Quantity,
		})
		eventItems = append(eventItems, models.OrderItemData{
			ProductID: ci.ProductID,
			Quantity:  ci.Quantity,
		})
	}

	confirmImmediately := req.PaymentMethod == models.PaymentMethodCOD
	if err := s.store.CreateCheckoutTx(ctx, order, payment, items, confirmImmediately); err != nil {
		util.CheckoutsFailedTotal.WithLabelValues("db_error").Inc()
		return nil, fmt.Errorf("failed to create checkout: %w", err)
	}

	util.CheckoutsCreatedTotal.WithLabelValues(req.PaymentMethod).Inc()
	s.logger.Info("Checkout created",
		zap.String("order_id", order.ID.String()),
		zap.String("payment_method", req.PaymentMethod),
		zap.Int64("total", total))

	s.publishOrderCreated(ctx, order, req.PaymentMethod, eventItems)

	resp := &CreateCheckoutResponse{
		OrderID:       order.ID,
		PaymentMethod: req.PaymentMethod,
		Total:         total,
	}

	if confirmImmediately {
		util.OrdersConfirmedTotal.Inc()
		s.publishOrderConfirmed(ctx, order, req.PaymentMethod, "")
		resp.Message = "Order placed. Pay on delivery."
		return resp, nil
	}

	resp.PaymentURL = s.vnpay.BuildPaymentURL(
		order.ID.String(),
		total,
		"Thanh toan don hang "+shortID(order.ID),
		req.ClientIP,
		"",
	)
	resp.Message = "Order created. Complete the payment via VNPay."
	return resp, nil
}

// PreviewItem is one cart line priced for the order preview.
type PreviewItem struct {
	ProductID   uuid.UUID `json:"product_id"`
	ProductName string    `json:"product_name"`
	Price       int64     `json:"price"`
	Quantity    int       `json:"quantity"`
	ItemTotal   int64     `json:"item_total"`
}

// OrderPreview is the read-only view of what a checkout would produce.
type OrderPreview struct {
	Items       []PreviewItem   `json:"items"`
	Subtotal    int64           `json:"subtotal"`
	ShippingFee int64           `json:"shipping_fee"`
	Total       int64           `json:"total"`
	Address     *models.Address `json:"address,omitempty"`
}

// GetOrderPreview prices the current cart without creating anything.
func (s *CheckoutService) GetOrderPreview(ctx context.Context, userID uuid.UUID) (*OrderPreview, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.GetOrderPreview")
	defer span.End()

	cartItems, err := s.loadCartItems(ctx, userID)
	if err != nil {
		return nil, err
	}

	preview := &OrderPreview{Items: make([]PreviewItem, 0, len(cartItems))}
	var subtotal float64
	for _, ci := range cartItems {
		product, err := s.store.GetProductByID(ctx, ci.ProductID)
		if err != nil {
			return nil, err
		}
		price, err := parsePrice(product.Price)
		if err != nil {
			return nil, err
		}
		itemTotal := price * float64(ci.Quantity)
		subtotal += itemTotal
		preview.Items = append(preview.Items, PreviewItem{
			ProductID:   ci.ProductID,
			ProductName: product.Name,
			Price:       int64(price),
			Quantity:    ci.Quantity,
			ItemTotal:   int64(itemTotal),
		})
	}
	preview.Subtotal = int64(subtotal)
	preview.Total = preview.Subtotal

	addresses, err := s.store.GetAddressesByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(addresses) > 0 {
		preview.Address = &addresses[0]
	}

	return preview, nil
}

// ReturnResult describes the outcome of the browser return callback. It is
// informational for the user; the IPN remains the financial source of truth.
type ReturnResult struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	OrderID       string `json:"order_id,omitempty"`
	Amount        int64  `json:"amount,omitempty"`
	TransactionNo string `json:"transaction_no,omitempty"`
	ResponseCode  string `json:"response_code,omitempty"`
}

// ProcessReturn applies the gateway's browser redirect. Safe to call again
// after the IPN already confirmed the order.
func (s *CheckoutService) ProcessReturn(ctx context.Context, params map[string]string) (*ReturnResult, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.ProcessReturn")
	defer span.End()

	valid := s.vnpay.VerifySignature(params)
	if !valid {
		util.SignatureFailuresTotal.Inc()
	}

	txnRef := params["vnp_TxnRef"]
	if txnRef == "" {
		return &ReturnResult{Success: false, Message: "Order reference missing"}, nil
	}
	orderID, err := uuid.Parse(txnRef)
	if err != nil {
		return &ReturnResult{Success: false, Message: "Invalid order reference"}, nil
	}

	order, err := s.store.GetOrderByID(ctx, orderID)
	if errors.Is(err, store.ErrOrderNotFound) {
		return &ReturnResult{Success: false, Message: "Order not found"}, nil
	}
	if err != nil {
		return nil, err
	}

	responseCode := params["vnp_ResponseCode"]

	if !valid {
		util.PaymentCallbacksTotal.WithLabelValues("return", "rejected").Inc()
		return &ReturnResult{Success: false, Message: "Payment verification failed", OrderID: txnRef}, nil
	}

	if !vnpay.AmountMatches(params["vnp_Amount"], order.Total) {
		util.AmountMismatchesTotal.Inc()
		util.PaymentCallbacksTotal.WithLabelValues("return", "rejected").Inc()
		return &ReturnResult{Success: false, Message: "Payment verification failed", OrderID: txnRef}, nil
	}

	unlock := s.lockCallback(ctx, txnRef)
	defer unlock()

	if vnpay.IsSuccess(responseCode) {
		applied, err := s.store.ConfirmPaymentTx(ctx, orderID)
		if err != nil {
			return nil, err
		}
		if applied {
			util.OrdersConfirmedTotal.Inc()
			util.PaymentCallbacksTotal.WithLabelValues("return", "confirmed").Inc()
			s.publishOrderConfirmed(ctx, order, models.PaymentMethodVNPay, params["vnp_TransactionNo"])
			s.logger.Info("Payment confirmed via return callback",
				zap.String("order_id", txnRef))
		} else {
			util.CallbackReplaysTotal.Inc()
			util.PaymentCallbacksTotal.WithLabelValues("return", "replay").Inc()
		}
		return &ReturnResult{
			Success:       true,
			Message:       "Payment successful",
			OrderID:       txnRef,
			Amount:        order.Total,
			TransactionNo: params["vnp_TransactionNo"],
		}, nil
	}

	// Payment declined: the payment detail moves to failed, the order stays
	// pending and the cart is untouched so the user can retry.
	if err := s.store.FailPaymentTx(ctx, orderID); err != nil {
		return nil, err
	}
	util.PaymentCallbacksTotal.WithLabelValues("return", "failed").Inc()
	s.publishPaymentFailed(ctx, order, responseCode)
	s.logger.Warn("Payment failed via return callback",
		zap.String("order_id", txnRef),
		zap.String("response_code", responseCode))

	return &ReturnResult{
		Success:      false,
		Message:      "Payment failed",
		OrderID:      txnRef,
		ResponseCode: responseCode,
	}, nil
}

// IPNResult is the acknowledgement returned to the gateway's server-to-server
// callback, in the gateway's own status vocabulary.
type IPNResult struct {
	RspCode string `json:"RspCode"`
	Message string `json:"Message"`
}

// ProcessIPN applies the gateway's server-to-server callback. This is the
// authoritative confirmation channel and must be idempotent: the gateway
// keeps retrying until it receives AckConfirmed.
func (s *CheckoutService) ProcessIPN(ctx context.Context, params map[string]string) (*IPNResult, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.ProcessIPN")
	defer span.End()

	if !s.vnpay.VerifySignature(params) {
		util.SignatureFailuresTotal.Inc()
		util.PaymentCallbacksTotal.WithLabelValues("ipn", "rejected").Inc()
		return &IPNResult{RspCode: AckInvalidSignature, Message: "Invalid Checksum"}, nil
	}

	orderID, err := uuid.Parse(params["vnp_TxnRef"])
	if err != nil {
		return &IPNResult{RspCode: AckOrderNotFound, Message: "Order not found"}, nil
	}

	order, err := s.store.GetOrderByID(ctx, orderID)
	if errors.Is(err, store.ErrOrderNotFound) {
		return &IPNResult{RspCode: AckOrderNotFound, Message: "Order not found"}, nil
	}
	if err != nil {
		return nil, err
	}

	if !vnpay.AmountMatches(params["vnp_Amount"], order.Total) {
		util.AmountMismatchesTotal.Inc()
		util.PaymentCallbacksTotal.WithLabelValues("ipn", "rejected").Inc()
		return &IPNResult{RspCode: AckInvalidAmount, Message: "Invalid amount"}, nil
	}

	if order.Status != models.OrderStatusPending {
		util.CallbackReplaysTotal.Inc()
		util.PaymentCallbacksTotal.WithLabelValues("ipn", "replay").Inc()
		return &IPNResult{RspCode: AckAlreadyProcessed, Message: "Order already confirmed"}, nil
	}

	unlock := s.lockCallback(ctx, orderID.String())
	defer unlock()

	responseCode := params["vnp_ResponseCode"]
	if vnpay.IsSuccess(responseCode) {
		applied, err := s.store.ConfirmPaymentTx(ctx, orderID)
		if err != nil {
			return nil, err
		}
		if !applied {
			// Lost the race against the return callback.
			util.CallbackReplaysTotal.Inc()
			util.PaymentCallbacksTotal.WithLabelValues("ipn", "replay").Inc()
			return &IPNResult{RspCode: AckAlreadyProcessed, Message: "Order already confirmed"}, nil
		}
		util.OrdersConfirmedTotal.Inc()
		util.PaymentCallbacksTotal.WithLabelValues("ipn", "confirmed").Inc()
		s.publishOrderConfirmed(ctx, order, models.PaymentMethodVNPay, params["vnp_TransactionNo"])
		s.logger.Info("Payment confirmed via IPN", zap.String("order_id", orderID.String()))
	} else {
		if err := s.store.FailPaymentTx(ctx, orderID); err != nil {
			return nil, err
		}
		util.PaymentCallbacksTotal.WithLabelValues("ipn", "failed").Inc()
		s.publishPaymentFailed(ctx, order, responseCode)
		s.logger.Warn("Payment failed via IPN",
			zap.String("order_id", orderID.String()),
			zap.String("response_code", responseCode))
	}

	return &IPNResult{RspCode: AckConfirmed, Message: "Confirm Success"}, nil
}

// loadCartItems returns the user's cart lines with positive quantities, or
// ErrCartEmpty when there is nothing to check out.
func (s *CheckoutService) loadCartItems(ctx context.Context, userID uuid.UUID) ([]models.CartItem, error) {
	cart, err := s.store.GetCartByUserID(ctx, userID)
	if errors.Is(err, store.ErrCartNotFound) {
		return nil, ErrCartEmpty
	}
	if err != nil {
		return nil, err
	}

	cartItems, err := s.store.GetCartItems(ctx, cart.ID)
	if err != nil {
		return nil, err
	}

	valid := cartItems[:0]
	for _, ci := range cartItems {
		if ci.Quantity > 0 {
			valid = append(valid, ci)
		}
	}
	if len(valid) == 0 {
		return nil, ErrCartEmpty
	}
	return valid, nil
}

// computeTotal sums the cart at the catalog's decimal prices and truncates
// once at the end, so fractional prices do not lose a unit per line.
func (s *CheckoutService) computeTotal(ctx context.Context, items []models.CartItem) (int64, error) {
	var total float64
	for _, ci := range items {
		product, err := s.store.GetProductByID(ctx, ci.ProductID)
		if err != nil {
			return 0, err
		}
		price, err := parsePrice(product.Price)
		if err != nil {
			return 0, fmt.Errorf("invalid price for product %s: %w", ci.ProductID, err)
		}
		total += price * float64(ci.Quantity)
	}
	return int64(total), nil
}

// parsePrice parses the catalog's decimal price string.
func parsePrice(raw string) (float64, error) {
	return strconv.ParseFloat(raw, 64)
}

// lockCallback takes a best-effort advisory lock for the order while a
// callback is applied. The database row lock stays authoritative, so a redis
// failure only loses the optimization.
func (s *CheckoutService) lockCallback(ctx context.Context, orderID string) func() {
	if s.redis == nil {
		return func() {}
	}
	ok, err := s.redis.AcquireCallbackLock(ctx, orderID, callbackLockTTL)
	if err != nil || !ok {
		return func() {}
	}
	return func() {
		if err := s.redis.ReleaseCallbackLock(ctx, orderID); err != nil {
			s.logger.Warn("Failed to release callback lock",
				zap.String("order_id", orderID), zap.Error(err))
		}
	}
}

func (s *CheckoutService) publishOrderCreated(ctx context.Context, order *models.Order, method string, items []models.OrderItemData) {
	if s.publisher == nil {
		return
	}
	event := &models.OrderCreatedEvent{
		BaseEvent:     newBaseEvent(models.EventTypeOrderCreated),
		OrderID:       order.ID,
		UserID:        order.UserID,
		Total:         order.Total,
		PaymentMethod: method,
		Items:         items,
	}
	if err := s.publisher.PublishOrderCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderCreated event", zap.Error(err))
	}
}

func (s *CheckoutService) publishOrderConfirmed(ctx context.Context, order *models.Order, method, gatewayTxnID string) {
	if s.publisher == nil {
		return
	}
	event := &models.OrderConfirmedEvent{
		BaseEvent:     newBaseEvent(models.EventTypeOrderConfirmed),
		OrderID:       order.ID,
		UserID:        order.UserID,
		Total:         order.Total,
		PaymentMethod: method,
		GatewayTxnID:  gatewayTxnID,
	}
	if err := s.publisher.PublishOrderConfirmed(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderConfirmed event", zap.Error(err))
	}
}

func (s *CheckoutService) publishPaymentFailed(ctx context.Context, order *models.Order, responseCode string) {
	if s.publisher == nil {
		return
	}
	event := &models.PaymentFailedEvent{
		BaseEvent:    newBaseEvent(models.EventTypePaymentFailed),
		OrderID:      order.ID,
		ResponseCode: responseCode,
	}
	if err := s.publisher.PublishPaymentFailed(ctx, event); err != nil {
		s.logger.Error("Failed to publish PaymentFailed event", zap.Error(err))
	}
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}

func shortID(id uuid.UUID) string {
	return id.String()[:8]
}

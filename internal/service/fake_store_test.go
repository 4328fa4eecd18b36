package service

import (
	"context"
	"sync"

	"checkout-service/internal/models"
	"checkout-service/internal/store"

	"github.com/google/uuid"
)

// fakeStore is an in-memory Store used by the service tests. It mirrors the
// transactional semantics of the SQL store: confirm is an idempotent
// check-and-set, COD checkout clears the cart, cancel only works on pending
// orders.
type fakeStore struct {
	mu sync.Mutex

	users     map[uuid.UUID]*models.User
	products  map[uuid.UUID]*models.Product
	carts     map[uuid.UUID]*models.Cart
	cartItems map[uuid.UUID][]models.CartItem
	addresses map[uuid.UUID][]models.Address

	orders     map[uuid.UUID]*models.Order
	orderItems map[uuid.UUID][]models.OrderItem
	payments   map[uuid.UUID]*models.PaymentDetail
}

var _ Store = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:      make(map[uuid.UUID]*models.User),
		products:   make(map[uuid.UUID]*models.Product),
		carts:      make(map[uuid.UUID]*models.Cart),
		cartItems:  make(map[uuid.UUID][]models.CartItem),
		addresses:  make(map[uuid.UUID][]models.Address),
		orders:     make(map[uuid.UUID]*models.Order),
		orderItems: make(map[uuid.UUID][]models.OrderItem),
		payments:   make(map[uuid.UUID]*models.PaymentDetail),
	}
}

func (f *fakeStore) addProduct(name, price string) uuid.UUID {
	id := uuid.New()
	f.products[id] = &models.Product{ID: id, Name: name, Price: price}
	return id
}

func (f *fakeStore) addCart(userID uuid.UUID, items ...models.CartItem) {
	cartID := uuid.New()
	f.carts[userID] = &models.Cart{ID: cartID, UserID: userID}
	for i := range items {
		items[i].ID = uuid.New()
		items[i].CartID = cartID
	}
	f.cartItems[cartID] = items
}

func (f *fakeStore) GetUserByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	return u, nil
}

func (f *fakeStore) GetProductByID(_ context.Context, id uuid.UUID) (*models.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.products[id]
	if !ok {
		return nil, store.ErrProductNotFound
	}
	return p, nil
}

func (f *fakeStore) GetCartByUserID(_ context.Context, userID uuid.UUID) (*models.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.carts[userID]
	if !ok {
		return nil, store.ErrCartNotFound
	}
	return c, nil
}

func (f *fakeStore) GetCartItems(_ context.Context, cartID uuid.UUID) ([]models.CartItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.CartItem(nil), f.cartItems[cartID]...), nil
}

func (f *fakeStore) GetAddressesByUserID(_ context.Context, userID uuid.UUID) ([]models.Address, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Address(nil), f.addresses[userID]...), nil
}

func (f *fakeStore) CreateCheckoutTx(_ context.Context, order *models.Order, payment *models.PaymentDetail, items []models.OrderItem, confirm bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	o := *order
	p := *payment
	if confirm {
		// Cash on delivery: the order confirms but the payment stays
		// pending until the courier collects.
		o.Status = models.OrderStatusConfirmed
	}
	f.orders[o.ID] = &o
	f.payments[p.ID] = &p
	for i := range items {
		items[i].OrderID = o.ID
	}
	f.orderItems[o.ID] = append([]models.OrderItem(nil), items...)

	if confirm {
		f.clearCartLocked(o.UserID)
	}
	return nil
}

func (f *fakeStore) clearCartLocked(userID uuid.UUID) {
	if cart, ok := f.carts[userID]; ok {
		f.cartItems[cart.ID] = nil
		cart.Total = 0
	}
}

func (f *fakeStore) ConfirmPaymentTx(_ context.Context, orderID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	order, ok := f.orders[orderID]
	if !ok {
		return false, store.ErrOrderNotFound
	}
	if order.Status != models.OrderStatusPending {
		return false, nil
	}
	order.Status = models.OrderStatusConfirmed
	if order.PaymentID != nil {
		if p, ok := f.payments[*order.PaymentID]; ok {
			p.Status = models.PaymentStatusPaid
		}
	}
	f.clearCartLocked(order.UserID)
	return true, nil
}

func (f *fakeStore) FailPaymentTx(_ context.Context, orderID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	order, ok := f.orders[orderID]
	if !ok {
		return store.ErrOrderNotFound
	}
	if order.PaymentID != nil {
		if p, ok := f.payments[*order.PaymentID]; ok && p.Status != models.PaymentStatusPaid {
			p.Status = models.PaymentStatusFailed
		}
	}
	return nil
}

func (f *fakeStore) CancelOrderTx(_ context.Context, orderID, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	order, ok := f.orders[orderID]
	if !ok || order.UserID != userID {
		return store.ErrOrderNotFound
	}
	if order.Status != models.OrderStatusPending {
		return store.ErrCannotCancel
	}
	order.Status = models.OrderStatusCancelled
	return nil
}

func (f *fakeStore) GetOrderByID(_ context.Context, id uuid.UUID) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.orders[id]
	if !ok {
		return nil, store.ErrOrderNotFound
	}
	o := *order
	return &o, nil
}

func (f *fakeStore) GetOrdersByUserID(_ context.Context, userID uuid.UUID, limit, offset int) ([]models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Order
	for _, o := range f.orders {
		if o.UserID == userID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (f *fakeStore) GetAllOrders(_ context.Context, status models.OrderStatus, limit, offset int) ([]models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Order
	for _, o := range f.orders {
		if status == "" || o.Status == status {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (f *fakeStore) GetOrderItems(_ context.Context, orderID uuid.UUID) ([]models.OrderItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.OrderItem(nil), f.orderItems[orderID]...), nil
}

func (f *fakeStore) GetPaymentByID(_ context.Context, id uuid.UUID) (*models.PaymentDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[id]
	if !ok {
		return nil, store.ErrPaymentNotFound
	}
	out := *p
	return &out, nil
}

func (f *fakeStore) UpdateOrderStatus(_ context.Context, orderID uuid.UUID, status models.OrderStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.orders[orderID]
	if !ok {
		return store.ErrOrderNotFound
	}
	order.Status = status
	return nil
}

func (f *fakeStore) SetOrderShipment(_ context.Context, orderID uuid.UUID, carrier, shippingCode, trackingCode, rateID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.orders[orderID]
	if !ok {
		return store.ErrOrderNotFound
	}
	if order.ShippingCode != "" {
		return store.ErrShipmentExists
	}
	order.Carrier = carrier
	order.ShippingCode = shippingCode
	order.TrackingCode = trackingCode
	order.RateID = rateID
	order.Status = models.OrderStatusShipping
	return nil
}

// fakePublisher records published events by type.
type fakePublisher struct {
	mu     sync.Mutex
	events []string
}

var _ Publisher = (*fakePublisher)(nil)

func (f *fakePublisher) record(eventType string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, eventType)
}

func (f *fakePublisher) count(eventType string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e == eventType {
			n++
		}
	}
	return n
}

func (f *fakePublisher) PublishOrderCreated(_ context.Context, event *models.OrderCreatedEvent) error {
	f.record(event.EventType)
	return nil
}

func (f *fakePublisher) PublishOrderConfirmed(_ context.Context, event *models.OrderConfirmedEvent) error {
	f.record(event.EventType)
	return nil
}

func (f *fakePublisher) PublishOrderCancelled(_ context.Context, event *models.OrderCancelledEvent) error {
	f.record(event.EventType)
	return nil
}

func (f *fakePublisher) PublishOrderShipped(_ context.Context, event *models.OrderShippedEvent) error {
	f.record(event.EventType)
	return nil
}

func (f *fakePublisher) PublishPaymentFailed(_ context.Context, event *models.PaymentFailedEvent) error {
	f.record(event.EventType)
	return nil
}

package service

import (
	"context"
	"errors"
	"testing"

	"checkout-service/config"
	"checkout-service/internal/goship"
	"checkout-service/internal/models"
	"checkout-service/internal/store"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGateway struct {
	ratesErr    error
	rates       []goship.Rate
	created     []goship.Parcel
	cancelled   []string
	shipment    *goship.Shipment
	shipmentErr error
}

var _ ShippingGateway = (*fakeGateway)(nil)

func (f *fakeGateway) GetRates(_ context.Context, _, _ goship.RegionAddress, _ goship.Parcel) ([]goship.Rate, error) {
	return f.rates, f.ratesErr
}

func (f *fakeGateway) CreateShipment(_ context.Context, rateID string, _, _ goship.ShipmentAddress, parcel goship.Parcel) (*goship.Shipment, error) {
	if f.shipmentErr != nil {
		return nil, f.shipmentErr
	}
	f.created = append(f.created, parcel)
	if f.shipment != nil {
		return f.shipment, nil
	}
	return &goship.Shipment{ID: "SHIP1", TrackingNumber: "TRACK1", Carrier: "ghn"}, nil
}

func (f *fakeGateway) GetShipment(_ context.Context, shipmentID string) (*goship.Shipment, error) {
	if f.shipment == nil {
		return nil, errors.New("not found")
	}
	return f.shipment, nil
}

func (f *fakeGateway) CancelShipment(_ context.Context, shipmentID string) error {
	f.cancelled = append(f.cancelled, shipmentID)
	return nil
}

func (f *fakeGateway) GetCities(_ context.Context) ([]goship.Location, error) {
	return []goship.Location{{ID: 1, Name: "Ha Noi"}}, nil
}

func (f *fakeGateway) GetDistricts(_ context.Context, _ int) ([]goship.Location, error) {
	return []goship.Location{{ID: 10, Name: "Cau Giay"}}, nil
}

func (f *fakeGateway) GetWards(_ context.Context, _ int) ([]goship.Location, error) {
	return []goship.Location{{ID: 100, Name: "Dich Vong"}}, nil
}

func senderConfig() config.GoShipConfig {
	return config.GoShipConfig{
		FromName:     "Shop",
		FromPhone:    "0900000000",
		FromStreet:   "1 Hang Bong",
		FromWard:     100,
		FromDistrict: 10,
		FromCity:     1,
	}
}

func addAddress(fs *fakeStore, userID uuid.UUID) uuid.UUID {
	addr := models.Address{
		ID:          uuid.New(),
		UserID:      userID,
		Title:       "Home",
		Address:     "2 Trang Tien",
		PhoneNumber: "0911111111",
		CityID:      1,
		DistrictID:  10,
		WardID:      100,
	}
	fs.addresses[userID] = append(fs.addresses[userID], addr)
	return addr.ID
}

func TestGetRatesFallsBackWhenGatewayDown(t *testing.T) {
	gw := &fakeGateway{ratesErr: errors.New("connection refused")}
	svc := NewShippingService(newFakeStore(), gw, nil, nil, senderConfig())

	rates, err := svc.GetRates(context.Background(), &RatesRequest{ToCity: 79, ToDistrict: 760})
	require.NoError(t, err)
	require.Len(t, rates, 2)
	assert.Equal(t, int64(30000), rates[0].TotalFee)
	assert.Equal(t, int64(50000), rates[1].TotalFee)

	// An empty quote list falls back too.
	gw.ratesErr = nil
	rates, err = svc.GetRates(context.Background(), &RatesRequest{ToCity: 79, ToDistrict: 760})
	require.NoError(t, err)
	assert.Len(t, rates, 2)
}

func TestCreateShipmentCODForUnpaidOrder(t *testing.T) {
	fs := newFakeStore()
	userID := uuid.New()
	seedCart(fs, userID)
	addressID := addAddress(fs, userID)

	checkout := newTestCheckoutService(fs, nil)
	resp, err := checkout.CreateCheckout(context.Background(), &CreateCheckoutRequest{
		UserID:        userID,
		PaymentMethod: models.PaymentMethodCOD,
	})
	require.NoError(t, err)

	gw := &fakeGateway{}
	svc := NewShippingService(fs, gw, nil, nil, senderConfig())

	shipment, err := svc.CreateShipment(context.Background(), &CreateShipmentRequest{
		OrderID:   resp.OrderID,
		AddressID: addressID,
		RateID:    "rate-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "TRACK1", shipment.TrackingNumber)

	// The payment is still outstanding, so the courier collects the full
	// order amount at the door.
	require.Len(t, gw.created, 1)
	assert.Equal(t, resp.Total, gw.created[0].COD)

	order, _ := fs.GetOrderByID(context.Background(), resp.OrderID)
	assert.Equal(t, models.OrderStatusShipping, order.Status)
	assert.Equal(t, "SHIP1", order.ShippingCode)

	// A second booking for the same order is refused.
	_, err = svc.CreateShipment(context.Background(), &CreateShipmentRequest{
		OrderID:   resp.OrderID,
		AddressID: addressID,
		RateID:    "rate-1",
	})
	assert.ErrorIs(t, err, store.ErrShipmentExists)
}

func TestCreateShipmentRequiresRegionIDs(t *testing.T) {
	fs := newFakeStore()
	userID := uuid.New()
	seedCart(fs, userID)

	addr := models.Address{ID: uuid.New(), UserID: userID, Title: "Home", Address: "2 Trang Tien"}
	fs.addresses[userID] = append(fs.addresses[userID], addr)

	checkout := newTestCheckoutService(fs, nil)
	resp, err := checkout.CreateCheckout(context.Background(), &CreateCheckoutRequest{
		UserID:        userID,
		PaymentMethod: models.PaymentMethodCOD,
	})
	require.NoError(t, err)

	svc := NewShippingService(fs, &fakeGateway{}, nil, nil, senderConfig())
	_, err = svc.CreateShipment(context.Background(), &CreateShipmentRequest{
		OrderID:   resp.OrderID,
		AddressID: addr.ID,
		RateID:    "rate-1",
	})
	assert.ErrorIs(t, err, ErrAddressIncomplete)
}

func TestTrackShipment(t *testing.T) {
	fs := newFakeStore()
	userID := uuid.New()
	seedCart(fs, userID)
	addressID := addAddress(fs, userID)

	checkout := newTestCheckoutService(fs, nil)
	resp, err := checkout.CreateCheckout(context.Background(), &CreateCheckoutRequest{
		UserID:        userID,
		PaymentMethod: models.PaymentMethodCOD,
	})
	require.NoError(t, err)

	gw := &fakeGateway{shipment: &goship.Shipment{ID: "SHIP1", TrackingNumber: "TRACK1", Carrier: "ghn", Status: "in_transit"}}
	svc := NewShippingService(fs, gw, nil, nil, senderConfig())

	// No shipment booked yet.
	_, err = svc.TrackShipment(context.Background(), resp.OrderID)
	assert.ErrorIs(t, err, store.ErrShipmentNotFound)

	_, err = svc.CreateShipment(context.Background(), &CreateShipmentRequest{
		OrderID:   resp.OrderID,
		AddressID: addressID,
		RateID:    "rate-1",
	})
	require.NoError(t, err)

	tracked, err := svc.TrackShipment(context.Background(), resp.OrderID)
	require.NoError(t, err)
	assert.Equal(t, "in_transit", tracked.Status)
}

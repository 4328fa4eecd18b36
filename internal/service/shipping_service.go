package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"checkout-service/config"
	"checkout-service/internal/goship"
	"checkout-service/internal/models"
	"checkout-service/internal/redisclient"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrAddressIncomplete is returned when the delivery address is missing the
// region ids the carrier needs.
var ErrAddressIncomplete = errors.New("address is missing city/district/ward")

const (
	locationCacheTTL = 24 * time.Hour
	defaultWeightG   = 500

	fallbackStandardFee = 30000
	fallbackExpressFee  = 50000
)

// ShippingGateway is the carrier surface the service needs. *goship.Client
// satisfies it; tests substitute a fake.
type ShippingGateway interface {
	GetRates(ctx context.Context, from, to goship.RegionAddress, parcel goship.Parcel) ([]goship.Rate, error)
	CreateShipment(ctx context.Context, rateID string, from, to goship.ShipmentAddress, parcel goship.Parcel) (*goship.Shipment, error)
	GetShipment(ctx context.Context, shipmentID string) (*goship.Shipment, error)
	CancelShipment(ctx context.Context, shipmentID string) error
	GetCities(ctx context.Context) ([]goship.Location, error)
	GetDistricts(ctx context.Context, cityID int) ([]goship.Location, error)
	GetWards(ctx context.Context, districtID int) ([]goship.Location, error)
}

var _ ShippingGateway = (*goship.Client)(nil)

// ShippingService quotes rates, books shipments and serves region lookups.
type ShippingService struct {
	store     Store
	gateway   ShippingGateway
	redis     *redisclient.Client
	publisher Publisher
	from      config.GoShipConfig
	logger    *zap.Logger
}

// NewShippingService creates a new shipping service. redis and publisher may
// be nil.
func NewShippingService(st Store, gateway ShippingGateway, redis *redisclient.Client, publisher Publisher, from config.GoShipConfig) *ShippingService {
	return &ShippingService{
		store:     st,
		gateway:   gateway,
		redis:     redis,
		publisher: publisher,
		from:      from,
		logger:    util.GetLogger(),
	}
}

// RatesRequest asks for quotes to one delivery region.
type RatesRequest struct {
	ToCity     int   `json:"to_city" binding:"required"`
	ToDistrict int   `json:"to_district" binding:"required"`
	COD        int64 `json:"cod"`
	Amount     int64 `json:"amount"`
	Weight     int   `json:"weight"`
}

// GetRates quotes shipping prices for a delivery region. When the carrier
// gateway is unreachable it falls back to flat rates so checkout keeps
// working.
func (s *ShippingService) GetRates(ctx context.Context, req *RatesRequest) ([]goship.Rate, error) {
	ctx, span := util.StartSpan(ctx, "ShippingService.GetRates")
	defer span.End()

	weight := req.Weight
	if weight <= 0 {
		weight = defaultWeightG
	}

	start := time.Now()
	rates, err := s.gateway.GetRates(ctx,
		goship.RegionAddress{City: s.from.FromCity, District: s.from.FromDistrict},
		goship.RegionAddress{City: req.ToCity, District: req.ToDistrict},
		goship.Parcel{COD: req.COD, Amount: req.Amount, Weight: weight},
	)
	util.GatewayRequestLatency.WithLabelValues("goship", "rates").Observe(time.Since(start).Seconds())
	if err != nil {
		util.GatewayErrorsTotal.WithLabelValues("goship").Inc()
		s.logger.Warn("Rate quote failed, serving fallback rates", zap.Error(err))
		return fallbackRates(), nil
	}
	if len(rates) == 0 {
		return fallbackRates(), nil
	}
	return rates, nil
}

func fallbackRates() []goship.Rate {
	return []goship.Rate{
		{ID: "fallback-standard", CarrierName: "Standard Delivery", Service: "standard", Expected: "3-5 days", TotalFee: fallbackStandardFee},
		{ID: "fallback-express", CarrierName: "Express Delivery", Service: "express", Expected: "1-2 days", TotalFee: fallbackExpressFee},
	}
}

// CreateShipmentRequest books a shipment for a confirmed order.
type CreateShipmentRequest struct {
	OrderID   uuid.UUID `json:"order_id" binding:"required"`
	AddressID uuid.UUID `json:"address_id" binding:"required"`
	RateID    string    `json:"rate_id" binding:"required"`
}

// CreateShipment books a shipment with the carrier and moves the order to
// shipping. An order can have at most one shipment.
func (s *ShippingService) CreateShipment(ctx context.Context, req *CreateShipmentRequest) (*goship.Shipment, error) {
	ctx, span := util.StartSpan(ctx, "ShippingService.CreateShipment")
	defer span.End()

	order, err := s.store.GetOrderByID(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if order.ShippingCode != "" {
		return nil, store.ErrShipmentExists
	}

	address, err := s.findAddress(ctx, order.UserID, req.AddressID)
	if err != nil {
		return nil, err
	}
	if address.CityID == 0 || address.DistrictID == 0 || address.WardID == 0 {
		return nil, ErrAddressIncomplete
	}

	// Cash is collected on delivery only while the payment is outstanding.
	cod, err := s.codAmount(ctx, order)
	if err != nil {
		return nil, err
	}

	from := goship.ShipmentAddress{
		Name:     s.from.FromName,
		Phone:    s.from.FromPhone,
		Street:   s.from.FromStreet,
		Ward:     s.from.FromWard,
		District: s.from.FromDistrict,
		City:     s.from.FromCity,
	}
	to := goship.ShipmentAddress{
		Name:     address.Title,
		Phone:    address.PhoneNumber,
		Street:   address.Address,
		Ward:     address.WardID,
		District: address.DistrictID,
		City:     address.CityID,
	}
	parcel := goship.Parcel{
		COD:      cod,
		Amount:   order.Total,
		Weight:   defaultWeightG,
		Metadata: "Order " + shortID(order.ID),
	}

	start := time.Now()
	shipment, err := s.gateway.CreateShipment(ctx, req.RateID, from, to, parcel)
	util.GatewayRequestLatency.WithLabelValues("goship", "create_shipment").Observe(time.Since(start).Seconds())
	if err != nil {
		util.GatewayErrorsTotal.WithLabelValues("goship").Inc()
		return nil, fmt.Errorf("failed to create shipment: %w", err)
	}

	if err := s.store.SetOrderShipment(ctx, order.ID, shipment.Carrier, shipment.ID, shipment.TrackingNumber, req.RateID); err != nil {
		// The carrier booking exists but the order does not reference it.
		// Cancel it so the two systems do not drift apart.
		if cancelErr := s.gateway.CancelShipment(ctx, shipment.ID); cancelErr != nil {
			s.logger.Error("Failed to cancel orphaned shipment",
				zap.String("shipment_id", shipment.ID), zap.Error(cancelErr))
		}
		return nil, err
	}

	util.ShipmentsCreatedTotal.Inc()
	s.logger.Info("Shipment created",
		zap.String("order_id", order.ID.String()),
		zap.String("shipment_id", shipment.ID),
		zap.String("carrier", shipment.Carrier))

	if s.publisher != nil {
		event := &models.OrderShippedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypeOrderShipped,
				Timestamp: time.Now(),
			},
			OrderID:      order.ID,
			Carrier:      shipment.Carrier,
			TrackingCode: shipment.TrackingNumber,
		}
		if err := s.publisher.PublishOrderShipped(ctx, event); err != nil {
			s.logger.Error("Failed to publish OrderShipped event", zap.Error(err))
		}
	}

	return shipment, nil
}

// TrackShipment fetches the carrier's view of an order's shipment.
func (s *ShippingService) TrackShipment(ctx context.Context, orderID uuid.UUID) (*goship.Shipment, error) {
	ctx, span := util.StartSpan(ctx, "ShippingService.TrackShipment")
	defer span.End()

	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.ShippingCode == "" {
		return nil, store.ErrShipmentNotFound
	}

	start := time.Now()
	shipment, err := s.gateway.GetShipment(ctx, order.ShippingCode)
	util.GatewayRequestLatency.WithLabelValues("goship", "get_shipment").Observe(time.Since(start).Seconds())
	if err != nil {
		util.GatewayErrorsTotal.WithLabelValues("goship").Inc()
		return nil, err
	}
	return shipment, nil
}

// GetCities lists provinces, served from cache when possible.
func (s *ShippingService) GetCities(ctx context.Context) ([]goship.Location, error) {
	return s.cachedLocations(ctx, "cities", func() ([]goship.Location, error) {
		return s.gateway.GetCities(ctx)
	})
}

// GetDistricts lists the districts of a province.
func (s *ShippingService) GetDistricts(ctx context.Context, cityID int) ([]goship.Location, error) {
	return s.cachedLocations(ctx, "districts:"+strconv.Itoa(cityID), func() ([]goship.Location, error) {
		return s.gateway.GetDistricts(ctx, cityID)
	})
}

// GetWards lists the wards of a district.
func (s *ShippingService) GetWards(ctx context.Context, districtID int) ([]goship.Location, error) {
	return s.cachedLocations(ctx, "wards:"+strconv.Itoa(districtID), func() ([]goship.Location, error) {
		return s.gateway.GetWards(ctx, districtID)
	})
}

func (s *ShippingService) cachedLocations(ctx context.Context, key string, fetch func() ([]goship.Location, error)) ([]goship.Location, error) {
	if s.redis != nil {
		if raw, err := s.redis.GetCachedLocations(ctx, key); err == nil && raw != nil {
			var locations []goship.Location
			if err := json.Unmarshal(raw, &locations); err == nil {
				return locations, nil
			}
		}
	}

	locations, err := fetch()
	if err != nil {
		util.GatewayErrorsTotal.WithLabelValues("provinces").Inc()
		return nil, err
	}

	if s.redis != nil {
		if raw, err := json.Marshal(locations); err == nil {
			if err := s.redis.CacheLocations(ctx, key, raw, locationCacheTTL); err != nil {
				s.logger.Warn("Failed to cache locations", zap.String("key", key), zap.Error(err))
			}
		}
	}
	return locations, nil
}

func (s *ShippingService) findAddress(ctx context.Context, userID, addressID uuid.UUID) (*models.Address, error) {
	addresses, err := s.store.GetAddressesByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range addresses {
		if addresses[i].ID == addressID {
			return &addresses[i], nil
		}
	}
	return nil, store.ErrAddressNotFound
}

func (s *ShippingService) codAmount(ctx context.Context, order *models.Order) (int64, error) {
	if order.PaymentID == nil {
		return order.Total, nil
	}
	payment, err := s.store.GetPaymentByID(ctx, *order.PaymentID)
	if err != nil {
		return 0, err
	}
	if payment.Status == models.PaymentStatusPaid {
		return 0, nil
	}
	return order.Total, nil
}

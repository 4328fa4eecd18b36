// Package goship is a client for the GoShip v2 shipping API plus the Vietnam
// provinces API used for region lookups.
package goship

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ProvincesAPI serves province/district/ward lists; GoShip's own location
// endpoints are unreliable on the sandbox.
const ProvincesAPI = "https://provinces.open-api.vn/api"

// Client calls the GoShip API. Construct with NewClient.
type Client struct {
	baseURL      string
	clientID     int
	clientSecret string
	tokens       *TokenCache
	http         *http.Client
	locationHTTP *http.Client
}

// NewClient creates a GoShip client with its own token cache.
func NewClient(baseURL string, clientID int, clientSecret string) *Client {
	c := &Client{
		baseURL:      baseURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		http:         &http.Client{Timeout: 10 * time.Second},
		locationHTTP: &http.Client{Timeout: 15 * time.Second},
	}
	c.tokens = NewTokenCache(c.login)
	return c
}

// SetTokenCache replaces the token cache, mainly for tests.
func (c *Client) SetTokenCache(tc *TokenCache) {
	c.tokens = tc
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

func (c *Client) login(ctx context.Context) (string, time.Duration, error) {
	body, err := json.Marshal(map[string]interface{}{
		"client_id":     c.clientID,
		"client_secret": c.clientSecret,
	})
	if err != nil {
		return "", 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/login", bytes.NewReader(body))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("goship login failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", 0, fmt.Errorf("goship login failed: status %d", resp.StatusCode)
	}

	var out loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", 0, err
	}
	if out.AccessToken == "" {
		return "", 0, fmt.Errorf("goship login returned empty token")
	}

	expiresIn := out.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 3600
	}
	return out.AccessToken, time.Duration(expiresIn) * time.Second, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload interface{}, out interface{}) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}

	token, err := c.tokens.Get(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("goship request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("goship error: status %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Rate is one shipping quote from a carrier.
type Rate struct {
	ID          string `json:"id"`
	CarrierName string `json:"carrier_name"`
	CarrierLogo string `json:"carrier_logo"`
	Service     string `json:"service"`
	Expected    string `json:"expected"`
	TotalFee    int64  `json:"total_fee"`
}

// RegionAddress identifies a pickup or delivery region.
type RegionAddress struct {
	City     int `json:"city"`
	District int `json:"district"`
}

// Parcel describes the package being quoted or shipped.
type Parcel struct {
	COD      int64  `json:"cod"`
	Amount   int64  `json:"amount"`
	Weight   int    `json:"weight"`
	Metadata string `json:"metadata,omitempty"`
}

type ratesRequest struct {
	Shipment ratesShipment `json:"shipment"`
}

type ratesShipment struct {
	AddressFrom RegionAddress `json:"address_from"`
	AddressTo   RegionAddress `json:"address_to"`
	Parcel      Parcel        `json:"parcel"`
}

type ratesResponse struct {
	Data []Rate `json:"data"`
}

// GetRates quotes shipping prices between two regions.
func (c *Client) GetRates(ctx context.Context, from, to RegionAddress, parcel Parcel) ([]Rate, error) {
	var out ratesResponse
	err := c.doJSON(ctx, http.MethodPost, "/rates", ratesRequest{
		Shipment: ratesShipment{AddressFrom: from, AddressTo: to, Parcel: parcel},
	}, &out)
	if err != nil {
		return nil, err
	}
	return out.Data, nil
}

// ShipmentAddress is a full sender or recipient address.
type ShipmentAddress struct {
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Street   string `json:"street"`
	Ward     int    `json:"ward"`
	District int    `json:"district"`
	City     int    `json:"city"`
}

type shipmentRequest struct {
	Shipment shipmentPayload `json:"shipment"`
}

type shipmentPayload struct {
	Rate        string          `json:"rate"`
	AddressFrom ShipmentAddress `json:"address_from"`
	AddressTo   ShipmentAddress `json:"address_to"`
	Parcel      Parcel          `json:"parcel"`
}

// Shipment is a created or tracked GoShip shipment.
type Shipment struct {
	ID             string `json:"id"`
	TrackingNumber string `json:"tracking_number"`
	Carrier        string `json:"carrier"`
	Status         string `json:"status"`
}

type shipmentResponse struct {
	Data Shipment `json:"data"`
}

// CreateShipment books a shipment for the chosen rate.
func (c *Client) CreateShipment(ctx context.Context, rateID string, from, to ShipmentAddress, parcel Parcel) (*Shipment, error) {
	var out shipmentResponse
	err := c.doJSON(ctx, http.MethodPost, "/shipments", shipmentRequest{
		Shipment: shipmentPayload{Rate: rateID, AddressFrom: from, AddressTo: to, Parcel: parcel},
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// GetShipment fetches shipment details and tracking state.
func (c *Client) GetShipment(ctx context.Context, shipmentID string) (*Shipment, error) {
	var out shipmentResponse
	if err := c.doJSON(ctx, http.MethodGet, "/shipments/"+shipmentID, nil, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// CancelShipment cancels a shipment on GoShip.
func (c *Client) CancelShipment(ctx context.Context, shipmentID string) error {
	return c.doJSON(ctx, http.MethodPatch, "/shipments/"+shipmentID+"/cancel", nil, nil)
}

// Location is a province, district, or ward.
type Location struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

func (c *Client) getLocations(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.locationHTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provinces api request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provinces api error: status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

type province struct {
	Code      int        `json:"code"`
	Name      string     `json:"name"`
	Districts []province `json:"districts"`
	Wards     []province `json:"wards"`
}

// GetCities lists all provinces.
func (c *Client) GetCities(ctx context.Context) ([]Location, error) {
	raw, err := c.getLocations(ctx, ProvincesAPI+"/")
	if err != nil {
		return nil, err
	}
	var provinces []province
	if err := json.Unmarshal(raw, &provinces); err != nil {
		return nil, err
	}
	locations := make([]Location, 0, len(provinces))
	for _, p := range provinces {
		locations = append(locations, Location{ID: p.Code, Name: p.Name})
	}
	return locations, nil
}

// GetDistricts lists the districts of a province.
func (c *Client) GetDistricts(ctx context.Context, cityID int) ([]Location, error) {
	raw, err := c.getLocations(ctx, fmt.Sprintf("%s/p/%d?depth=2", ProvincesAPI, cityID))
	if err != nil {
		return nil, err
	}
	var p province
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	locations := make([]Location, 0, len(p.Districts))
	for _, d := range p.Districts {
		locations = append(locations, Location{ID: d.Code, Name: d.Name})
	}
	return locations, nil
}

// GetWards lists the wards of a district.
func (c *Client) GetWards(ctx context.Context, districtID int) ([]Location, error) {
	raw, err := c.getLocations(ctx, fmt.Sprintf("%s/d/%d?depth=2", ProvincesAPI, districtID))
	if err != nil {
		return nil, err
	}
	var d province
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, err
	}
	locations := make([]Location, 0, len(d.Wards))
	for _, w := range d.Wards {
		locations = append(locations, Location{ID: w.Code, Name: w.Name})
	}
	return locations, nil
}

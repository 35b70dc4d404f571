package shipping

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hanko-field/orderflow/internal/domain"
)

const (
	carrierName           = "ghn"
	defaultCarrierTimeout = 8 * time.Second
	maxCarrierResponse    = 1 << 20
	feePath               = "/shipping-order/fee"
	createPath            = "/shipping-order/create"
	standardServiceType   = 2
)

var (
	// ErrTimeout is returned when the carrier does not answer within the configured bound.
	ErrTimeout = errors.New("shipping: carrier timeout")
	// ErrTransport wraps network and decoding failures talking to the carrier.
	ErrTransport = errors.New("shipping: transport failure")
)

// Error reports a non-success carrier answer.
type Error struct {
	StatusCode int
	Code       int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := "shipping: " + carrierName
	if e.StatusCode > 0 {
		msg += fmt.Sprintf(": status %d", e.StatusCode)
	}
	if e.Code > 0 && e.Code != e.StatusCode {
		msg += fmt.Sprintf(": code %d", e.Code)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// QuoteRequest describes one fee quote.
type QuoteRequest struct {
	Origin         domain.Address
	Destination    domain.Address
	Packages       []domain.Package
	InsuranceValue int64
}

// ShipmentRequest hands a paid order to the carrier.
type ShipmentRequest struct {
	Order    domain.Order
	Packages []domain.Package
}

// ShipmentLabel is the carrier answer for a created shipment.
type ShipmentLabel struct {
	TrackingCode string
	ETA          *time.Time
	Fee          domain.FeeBreakdown
}

// Logger is the structured logging hook used by the carrier client.
type Logger func(ctx context.Context, event string, fields map[string]any)

// HTTPCarrierConfig configures the carrier HTTP client.
type HTTPCarrierConfig struct {
	Endpoint          string
	Token             string
	ShopID            string
	Origin            domain.Address
	DefaultDimensions domain.Dimensions
	Timeout           time.Duration
	HTTPClient        *http.Client
	Logger            Logger
}

// HTTPCarrier talks to a GHN-style shipping API.
type HTTPCarrier struct {
	endpoint string
	token    string
	shopID   string
	origin   domain.Address
	defaults domain.Dimensions
	timeout  time.Duration
	client   *http.Client
	logger   Logger
}

// NewHTTPCarrier validates configuration and returns a carrier client.
func NewHTTPCarrier(cfg HTTPCarrierConfig) (*HTTPCarrier, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		return nil, errors.New("shipping: endpoint is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultCarrierTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &HTTPCarrier{
		endpoint: endpoint,
		token:    strings.TrimSpace(cfg.Token),
		shopID:   strings.TrimSpace(cfg.ShopID),
		origin:   cfg.Origin,
		defaults: cfg.DefaultDimensions,
		timeout:  timeout,
		client:   client,
		logger:   logger,
	}, nil
}

// Origin returns the configured pickup address.
func (c *HTTPCarrier) Origin() domain.Address {
	return c.origin
}

// Aggregate folds packages into one parcel. Missing per-unit dimensions fall back to defaults.
// Weight and height stack per unit; length and width take the largest unit.
func Aggregate(packages []domain.Package, defaults domain.Dimensions) domain.Dimensions {
	var out domain.Dimensions
	for _, pkg := range packages {
		qty := pkg.Quantity
		if qty <= 0 {
			continue
		}
		dims := withDefaults(pkg.Dimensions, defaults)
		out.WeightGrams += dims.WeightGrams * qty
		out.HeightCM += dims.HeightCM * qty
		out.LengthCM = max(out.LengthCM, dims.LengthCM)
		out.WidthCM = max(out.WidthCM, dims.WidthCM)
	}
	return out
}

func withDefaults(dims, defaults domain.Dimensions) domain.Dimensions {
	if dims.WeightGrams <= 0 {
		dims.WeightGrams = defaults.WeightGrams
	}
	if dims.LengthCM <= 0 {
		dims.LengthCM = defaults.LengthCM
	}
	if dims.WidthCM <= 0 {
		dims.WidthCM = defaults.WidthCM
	}
	if dims.HeightCM <= 0 {
		dims.HeightCM = defaults.HeightCM
	}
	return dims
}

type parcel struct {
	FromDistrictID int    `json:"from_district_id,omitempty"`
	FromWardCode   string `json:"from_ward_code,omitempty"`
	ToDistrictID   int    `json:"to_district_id"`
	ToWardCode     string `json:"to_ward_code"`
	Weight         int    `json:"weight"`
	Length         int    `json:"length"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	InsuranceValue int64  `json:"insurance_value"`
	ServiceTypeID  int    `json:"service_type_id"`
}

type feeResponseData struct {
	Total        int64 `json:"total"`
	ServiceFee   int64 `json:"service_fee"`
	InsuranceFee int64 `json:"insurance_fee"`
}

type createRequest struct {
	parcel
	ClientOrderCode string `json:"client_order_code"`
	ToName          string `json:"to_name"`
	ToPhone         string `json:"to_phone"`
	ToAddress       string `json:"to_address"`
	CODAmount       int64  `json:"cod_amount"`
	PaymentTypeID   int    `json:"payment_type_id"`
	RequiredNote    string `json:"required_note"`
}

type createResponseData struct {
	OrderCode            string    `json:"order_code"`
	ExpectedDeliveryTime time.Time `json:"expected_delivery_time"`
	TotalFee             int64     `json:"total_fee"`
	Fee                  struct {
		MainService int64 `json:"main_service"`
		Insurance   int64 `json:"insurance"`
	} `json:"fee"`
}

type envelope[T any] struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

// QuoteFee asks the carrier for the delivery fee of the aggregated parcel.
func (c *HTTPCarrier) QuoteFee(ctx context.Context, req QuoteRequest) (domain.FeeBreakdown, error) {
	origin := req.Origin
	if origin == (domain.Address{}) {
		origin = c.origin
	}
	body := c.parcelFor(origin, req.Destination, req.Packages, req.InsuranceValue)

	var data feeResponseData
	if err := c.post(ctx, feePath, body, &data); err != nil {
		return domain.FeeBreakdown{}, err
	}
	fee := domain.FeeBreakdown{
		ServiceFee:   data.ServiceFee,
		InsuranceFee: data.InsuranceFee,
		Total:        data.Total,
		Carrier:      carrierName,
	}
	if fee.Total == 0 {
		fee.Total = fee.ServiceFee + fee.InsuranceFee
	}
	return fee, nil
}

// CreateShipment registers the order with the carrier and returns the tracking code.
func (c *HTTPCarrier) CreateShipment(ctx context.Context, req ShipmentRequest) (ShipmentLabel, error) {
	order := req.Order
	if strings.TrimSpace(order.ID) == "" {
		return ShipmentLabel{}, errors.New("shipping: order id is required")
	}
	dest := order.ShippingAddress
	body := createRequest{
		parcel:          c.parcelFor(c.origin, dest, req.Packages, order.TotalAmount),
		ClientOrderCode: order.ID,
		ToName:          dest.Recipient,
		ToPhone:         dest.Phone,
		ToAddress:       joinAddress(dest),
		PaymentTypeID:   1,
		RequiredNote:    "CHOXEMHANGKHONGTHU",
	}
	if !order.Paid && order.PaymentMethod == domain.PaymentMethodCOD {
		body.CODAmount = order.TotalAmount
	}

	var data createResponseData
	if err := c.post(ctx, createPath, body, &data); err != nil {
		return ShipmentLabel{}, err
	}
	if strings.TrimSpace(data.OrderCode) == "" {
		return ShipmentLabel{}, &Error{Message: "missing order code"}
	}
	label := ShipmentLabel{
		TrackingCode: data.OrderCode,
		Fee: domain.FeeBreakdown{
			ServiceFee:   data.Fee.MainService,
			InsuranceFee: data.Fee.Insurance,
			Total:        data.TotalFee,
			Carrier:      carrierName,
		},
	}
	if !data.ExpectedDeliveryTime.IsZero() {
		eta := data.ExpectedDeliveryTime.UTC()
		label.ETA = &eta
	}
	c.logger(ctx, "shipping.shipment.created", map[string]any{
		"orderId":      order.ID,
		"trackingCode": label.TrackingCode,
	})
	return label, nil
}

func (c *HTTPCarrier) parcelFor(origin, dest domain.Address, packages []domain.Package, insurance int64) parcel {
	dims := Aggregate(packages, c.defaults)
	return parcel{
		FromDistrictID: atoi(origin.DistrictCode),
		FromWardCode:   origin.WardCode,
		ToDistrictID:   atoi(dest.DistrictCode),
		ToWardCode:     dest.WardCode,
		Weight:         dims.WeightGrams,
		Length:         dims.LengthCM,
		Width:          dims.WidthCM,
		Height:         dims.HeightCM,
		InsuranceValue: max(insurance, 0),
		ServiceTypeID:  standardServiceType,
	}
}

func (c *HTTPCarrier) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("shipping: encode request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("shipping: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Token", c.token)
	}
	if c.shopID != "" {
		req.Header.Set("ShopId", c.shopID)
	}

	started := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger(ctx, "shipping.request.failed", map[string]any{"path": path, "error": err.Error()})
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &Error{Message: "request timed out", Err: errors.Join(ErrTimeout, err)}
		}
		return &Error{Message: "request failed", Err: errors.Join(ErrTransport, err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxCarrierResponse))
	if err != nil {
		return &Error{StatusCode: resp.StatusCode, Message: "read response", Err: errors.Join(ErrTransport, err)}
	}

	var decoded envelope[json.RawMessage]
	decodeErr := json.Unmarshal(raw, &decoded)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(decoded.Message)
		if decodeErr != nil || msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return &Error{StatusCode: resp.StatusCode, Code: decoded.Code, Message: msg}
	}
	if decodeErr != nil {
		return &Error{StatusCode: resp.StatusCode, Message: "malformed response", Err: errors.Join(ErrTransport, decodeErr)}
	}
	if decoded.Code != 0 && decoded.Code != http.StatusOK {
		return &Error{StatusCode: resp.StatusCode, Code: decoded.Code, Message: decoded.Message}
	}
	if err := json.Unmarshal(decoded.Data, out); err != nil {
		return &Error{StatusCode: resp.StatusCode, Message: "malformed data", Err: errors.Join(ErrTransport, err)}
	}

	c.logger(ctx, "shipping.request.succeeded", map[string]any{
		"path":      path,
		"latencyMs": time.Since(started).Milliseconds(),
	})
	return nil
}

func joinAddress(a domain.Address) string {
	parts := make([]string, 0, 5)
	for _, p := range []string{a.Line1, a.Line2, a.Ward, a.District, a.Province} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

func atoi(v string) int {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0
	}
	return n
}

package shipping

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hanko-field/orderflow/internal/domain"
)

var testDefaults = domain.Dimensions{WeightGrams: 500, LengthCM: 20, WidthCM: 15, HeightCM: 10}

func TestAggregateFallsBackToDefaults(t *testing.T) {
	got := Aggregate([]domain.Package{
		{ProductID: "a", Quantity: 2, Dimensions: domain.Dimensions{WeightGrams: 300, LengthCM: 30, WidthCM: 10, HeightCM: 5}},
		{ProductID: "b", Quantity: 1},
		{ProductID: "c", Quantity: 0, Dimensions: domain.Dimensions{WeightGrams: 9999}},
	}, testDefaults)

	want := domain.Dimensions{WeightGrams: 1100, LengthCM: 30, WidthCM: 15, HeightCM: 20}
	if got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
}

func TestQuoteFee(t *testing.T) {
	var captured parcel
	var token string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != feePath {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		token = r.Header.Get("Token")
		_ = json.NewDecoder(r.Body).Decode(&captured)
		_, _ = w.Write([]byte(`{"code":200,"message":"Success","data":{"total":30000,"service_fee":28000,"insurance_fee":2000}}`))
	}))
	defer server.Close()

	carrier, err := NewHTTPCarrier(HTTPCarrierConfig{
		Endpoint:          server.URL,
		Token:             "tok",
		Origin:            domain.Address{DistrictCode: "1442", WardCode: "20109"},
		DefaultDimensions: testDefaults,
	})
	if err != nil {
		t.Fatalf("new carrier: %v", err)
	}

	fee, err := carrier.QuoteFee(context.Background(), QuoteRequest{
		Destination: domain.Address{DistrictCode: "1452", WardCode: "21012"},
		Packages:    []domain.Package{{ProductID: "a", Quantity: 3}},
	})
	if err != nil {
		t.Fatalf("quote fee: %v", err)
	}
	if fee.Total != 30000 || fee.ServiceFee != 28000 || fee.InsuranceFee != 2000 || fee.Carrier != carrierName {
		t.Fatalf("unexpected fee %+v", fee)
	}
	if token != "tok" {
		t.Fatalf("expected token header, got %q", token)
	}
	if captured.FromDistrictID != 1442 || captured.ToDistrictID != 1452 || captured.Weight != 1500 {
		t.Fatalf("unexpected parcel %+v", captured)
	}
}

func TestQuoteFeeCarrierRejects(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":400,"message":"invalid district"}`))
	}))
	defer server.Close()

	carrier, _ := NewHTTPCarrier(HTTPCarrierConfig{Endpoint: server.URL})
	_, err := carrier.QuoteFee(context.Background(), QuoteRequest{})
	var carrierErr *Error
	if !errors.As(err, &carrierErr) {
		t.Fatalf("expected carrier error, got %v", err)
	}
	if carrierErr.StatusCode != http.StatusBadRequest || carrierErr.Message != "invalid district" {
		t.Fatalf("unexpected error %+v", carrierErr)
	}
}

func TestQuoteFeeTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	carrier, _ := NewHTTPCarrier(HTTPCarrierConfig{Endpoint: server.URL, Timeout: 50 * time.Millisecond})
	_, err := carrier.QuoteFee(context.Background(), QuoteRequest{})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestCreateShipment(t *testing.T) {
	var captured createRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != createPath {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&captured)
		_, _ = w.Write([]byte(`{"code":200,"data":{"order_code":"GHN123","expected_delivery_time":"2026-10-20T10:00:00Z","total_fee":30000,"fee":{"main_service":30000}}}`))
	}))
	defer server.Close()

	carrier, _ := NewHTTPCarrier(HTTPCarrierConfig{Endpoint: server.URL, DefaultDimensions: testDefaults})
	label, err := carrier.CreateShipment(context.Background(), ShipmentRequest{
		Order: domain.Order{
			ID:              "ord_1",
			TotalAmount:     490000,
			Paid:            true,
			PaymentMethod:   domain.PaymentMethodOnline,
			ShippingAddress: domain.Address{Recipient: "Lan", Phone: "0900", Line1: "1 Le Loi", District: "Q1", Province: "HCM"},
		},
		Packages: []domain.Package{{ProductID: "a", Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("create shipment: %v", err)
	}
	if label.TrackingCode != "GHN123" || label.ETA == nil || label.Fee.Total != 30000 {
		t.Fatalf("unexpected label %+v", label)
	}
	if captured.ClientOrderCode != "ord_1" || captured.CODAmount != 0 {
		t.Fatalf("unexpected request %+v", captured)
	}
	if captured.ToAddress != "1 Le Loi, Q1, HCM" {
		t.Fatalf("unexpected address %q", captured.ToAddress)
	}
}

func TestCreateShipmentCollectsCOD(t *testing.T) {
	var captured createRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&captured)
		_, _ = w.Write([]byte(`{"code":200,"data":{"order_code":"GHN9"}}`))
	}))
	defer server.Close()

	carrier, _ := NewHTTPCarrier(HTTPCarrierConfig{Endpoint: server.URL})
	_, err := carrier.CreateShipment(context.Background(), ShipmentRequest{
		Order: domain.Order{ID: "ord_2", TotalAmount: 120000, PaymentMethod: domain.PaymentMethodCOD},
	})
	if err != nil {
		t.Fatalf("create shipment: %v", err)
	}
	if captured.CODAmount != 120000 {
		t.Fatalf("expected cod amount 120000, got %d", captured.CODAmount)
	}
}

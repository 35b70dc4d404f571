package payments

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v78"
)

func TestSignerVerifyNotification(t *testing.T) {
	signer, err := NewSigner("shared-secret")
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	n := Notification{OrderID: "ord_1", TransID: "txn-1", Amount: 490000, ResultCode: 0, Message: "Successful."}
	n.Signature = signer.SignNotification(n)

	if !signer.Verify(n) {
		t.Fatalf("expected signature to verify")
	}

	tampered := n
	tampered.Amount = 1
	if signer.Verify(tampered) {
		t.Fatalf("expected tampered amount to fail verification")
	}

	other, _ := NewSigner("other-secret")
	if other.Verify(n) {
		t.Fatalf("expected verification with a different secret to fail")
	}

	garbage := n
	garbage.Signature = "not-hex"
	if signer.Verify(garbage) {
		t.Fatalf("expected non-hex signature to fail")
	}
}

func TestSignerCoversResponseTime(t *testing.T) {
	signer, _ := NewSigner("shared-secret")
	n := Notification{TransID: "txn-2", Amount: 1000, ResponseTime: 1_760_000_000_000}
	n.Signature = signer.SignNotification(n)
	if !signer.Verify(n) {
		t.Fatalf("expected signature to verify")
	}
	shifted := n
	shifted.ResponseTime += 60_000
	if signer.Verify(shifted) {
		t.Fatalf("expected shifted response time to fail verification")
	}
	if got := n.CompletedAt().UnixMilli(); got != n.ResponseTime {
		t.Fatalf("expected completion time %d, got %d", n.ResponseTime, got)
	}
	if !(Notification{}).CompletedAt().IsZero() {
		t.Fatalf("expected zero completion time when unset")
	}
}

func TestCanonicalStringSortsKeys(t *testing.T) {
	got := CanonicalString(map[string]string{"b": "2", "a": "1", "c": ""})
	if got != "a=1&b=2&c=" {
		t.Fatalf("unexpected canonical string %q", got)
	}
}

func TestNewSignerRequiresSecret(t *testing.T) {
	if _, err := NewSigner("  "); err == nil {
		t.Fatalf("expected error for empty secret")
	}
}

func TestWalletProviderCreatePayment(t *testing.T) {
	signer, _ := NewSigner("secret")
	var received walletCreateRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(walletCreateResponse{ResultCode: 0, PayURL: "https://pay.example/abc", OrderID: received.OrderID})
	}))
	defer server.Close()

	provider, err := NewWalletProvider(WalletProviderConfig{
		Endpoint:    server.URL,
		PartnerCode: "PARTNER",
		AccessKey:   "ACCESS",
		Signer:      signer,
		IPNURL:      "https://api.example/webhooks/payments/ipn",
		RequestID:   func() string { return "req-1" },
	})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	session, err := provider.CreatePayment(context.Background(), PaymentRequest{OrderID: "ord_1", Amount: 490000, ReturnURL: "https://shop.example/return"})
	if err != nil {
		t.Fatalf("create payment: %v", err)
	}
	if session.PayURL != "https://pay.example/abc" {
		t.Fatalf("unexpected pay url %s", session.PayURL)
	}
	if session.ProviderTxnID != "req-1" {
		t.Fatalf("expected provider txn id req-1, got %s", session.ProviderTxnID)
	}
	if received.Signature == "" || received.OrderID != "ord_1" || received.Amount != 490000 {
		t.Fatalf("unexpected request %+v", received)
	}
}

func TestWalletProviderNon2xx(t *testing.T) {
	signer, _ := NewSigner("secret")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer server.Close()

	provider, _ := NewWalletProvider(WalletProviderConfig{Endpoint: server.URL, Signer: signer})
	_, err := provider.CreatePayment(context.Background(), PaymentRequest{OrderID: "ord_1", Amount: 1})
	var providerErr *ProviderError
	if !errors.As(err, &providerErr) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if providerErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected status 502, got %d", providerErr.StatusCode)
	}
}

func TestWalletProviderRejectedResultCode(t *testing.T) {
	signer, _ := NewSigner("secret")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(walletCreateResponse{ResultCode: 41, Message: "duplicate order"})
	}))
	defer server.Close()

	provider, _ := NewWalletProvider(WalletProviderConfig{Endpoint: server.URL, Signer: signer})
	_, err := provider.CreatePayment(context.Background(), PaymentRequest{OrderID: "ord_1", Amount: 1})
	var providerErr *ProviderError
	if !errors.As(err, &providerErr) || providerErr.Code != "41" {
		t.Fatalf("expected provider error with code 41, got %v", err)
	}
}

func TestWalletProviderTimeout(t *testing.T) {
	signer, _ := NewSigner("secret")
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	provider, _ := NewWalletProvider(WalletProviderConfig{Endpoint: server.URL, Signer: signer, Timeout: 50 * time.Millisecond})
	_, err := provider.CreatePayment(context.Background(), PaymentRequest{OrderID: "ord_1", Amount: 1})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

type fakeStripeSessions struct {
	params *stripe.CheckoutSessionParams
	err    error
}

func (f *fakeStripeSessions) New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	f.params = params
	if f.err != nil {
		return nil, f.err
	}
	return &stripe.CheckoutSession{ID: "cs_test_1", URL: "https://checkout.stripe.test/cs_test_1"}, nil
}

func TestStripeProviderCreatePayment(t *testing.T) {
	sessions := &fakeStripeSessions{}
	provider, err := NewStripeProvider(StripeProviderConfig{Sessions: sessions})
	if err != nil {
		t.Fatalf("new stripe provider: %v", err)
	}

	session, err := provider.CreatePayment(context.Background(), PaymentRequest{OrderID: "ord_9", Amount: 120000, ReturnURL: "https://shop.example/done"})
	if err != nil {
		t.Fatalf("create payment: %v", err)
	}
	if session.ProviderTxnID != "cs_test_1" || session.PayURL == "" {
		t.Fatalf("unexpected session %+v", session)
	}
	if got := sessions.params.Metadata["orderId"]; got != "ord_9" {
		t.Fatalf("expected order id metadata, got %q", got)
	}
	if got := *sessions.params.LineItems[0].PriceData.UnitAmount; got != 120000 {
		t.Fatalf("expected unit amount 120000, got %d", got)
	}
	if got := *sessions.params.LineItems[0].PriceData.Currency; got != "vnd" {
		t.Fatalf("expected default currency vnd, got %s", got)
	}
}

func TestStripeProviderWrapsAPIError(t *testing.T) {
	sessions := &fakeStripeSessions{err: &stripe.Error{HTTPStatusCode: 402, Code: stripe.ErrorCodeCardDeclined, Msg: "declined"}}
	provider, _ := NewStripeProvider(StripeProviderConfig{Sessions: sessions})

	_, err := provider.CreatePayment(context.Background(), PaymentRequest{OrderID: "ord_9", Amount: 1})
	var providerErr *ProviderError
	if !errors.As(err, &providerErr) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if providerErr.StatusCode != 402 {
		t.Fatalf("expected status 402, got %d", providerErr.StatusCode)
	}
}

func TestStripeParseWebhookRejectsBadSignature(t *testing.T) {
	provider, _ := NewStripeProvider(StripeProviderConfig{Sessions: &fakeStripeSessions{}, WebhookSecret: "whsec_test"})
	if _, err := provider.ParseWebhook([]byte(`{"id":"evt_1"}`), "t=1,v1=deadbeef"); err == nil {
		t.Fatalf("expected signature verification failure")
	}
}

package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"
)

const (
	stripeProviderName   = "stripe"
	defaultStripeTimeout = 10 * time.Second
	stripeOrderIDKey     = "orderId"
)

// StripeLogger defines the logging contract for Stripe provider operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey        string
	AccountID     string
	Currency      string
	WebhookSecret string
	Timeout       time.Duration
	Logger        StripeLogger
	Sessions      stripeSessionAPI
}

// StripeProvider creates Stripe Checkout sessions for orders.
type StripeProvider struct {
	sessions      stripeSessionAPI
	account       string
	currency      string
	webhookSecret string
	timeout       time.Duration
	logger        StripeLogger
}

var _ Provider = (*StripeProvider)(nil)

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Sessions == nil {
		return nil, errors.New("stripe: api key is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultStripeTimeout
	}

	sessions := cfg.Sessions
	if sessions == nil {
		backends := &stripe.Backends{
			API: stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
				HTTPClient: &http.Client{Timeout: timeout},
			}),
		}
		sessions = client.New(apiKey, backends).CheckoutSessions
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	currency := strings.ToLower(strings.TrimSpace(cfg.Currency))
	if currency == "" {
		currency = "vnd"
	}

	return &StripeProvider{
		sessions:      sessions,
		account:       strings.TrimSpace(cfg.AccountID),
		currency:      currency,
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		timeout:       timeout,
		logger:        logger,
	}, nil
}

// Name implements Provider.
func (p *StripeProvider) Name() string { return stripeProviderName }

// CreatePayment creates a Stripe Checkout session carrying the order id in metadata.
func (p *StripeProvider) CreatePayment(ctx context.Context, req PaymentRequest) (PaymentSession, error) {
	if p == nil {
		return PaymentSession{}, errors.New("stripe: provider is nil")
	}
	if strings.TrimSpace(req.OrderID) == "" || req.Amount <= 0 {
		return PaymentSession{}, errors.New("stripe: order id and positive amount are required")
	}

	ctx, cancel := withTimeout(ctx, p.timeout)
	defer cancel()

	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = p.currency
	}
	description := req.Description
	if description == "" {
		description = "Order " + req.OrderID
	}

	metadata := map[string]string{stripeOrderIDKey: req.OrderID}
	for k, v := range req.Metadata {
		metadata[k] = v
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(req.ReturnURL),
		CancelURL:         stripe.String(req.ReturnURL),
		ClientReferenceID: stripe.String(req.OrderID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(currency),
				UnitAmount: stripe.Int64(req.Amount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(description),
				},
			},
		}},
		Metadata: metadata,
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: metadata,
		},
	}
	params.Context = ctx
	params.SetIdempotencyKey("checkout-" + req.OrderID)
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}

	session, err := p.sessions.New(params)
	if err != nil {
		return PaymentSession{}, p.wrapError(ctx, err)
	}

	p.logger(ctx, "payments.stripe.session.created", map[string]any{
		"sessionId": session.ID,
		"orderId":   req.OrderID,
	})

	out := PaymentSession{
		Provider:      stripeProviderName,
		PayURL:        session.URL,
		ProviderTxnID: session.ID,
	}
	if session.ExpiresAt > 0 {
		out.ExpiresAt = time.Unix(session.ExpiresAt, 0).UTC()
	}
	return out, nil
}

func (p *StripeProvider) wrapError(ctx context.Context, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return &ProviderError{
			Provider:   stripeProviderName,
			StatusCode: stripeErr.HTTPStatusCode,
			Code:       string(stripeErr.Code),
			Message:    stripeErr.Msg,
			Err:        err,
		}
	}
	return classifyTransportError(ctx, stripeProviderName, err)
}

// ErrStripeEventIgnored marks verified Stripe events that carry no payment outcome.
var ErrStripeEventIgnored = errors.New("stripe: event ignored")

// ParseWebhook verifies the Stripe-Signature header and converts checkout session events
// into a Notification. The returned notification has no Signature; it is already verified.
func (p *StripeProvider) ParseWebhook(payload []byte, signatureHeader string) (Notification, error) {
	if p == nil || p.webhookSecret == "" {
		return Notification{}, errors.New("stripe: webhook secret not configured")
	}
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, p.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return Notification{}, fmt.Errorf("stripe: verify webhook: %w", err)
	}

	var resultCode int
	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		resultCode = 0
	case "checkout.session.async_payment_failed", "checkout.session.expired":
		resultCode = 1
	default:
		return Notification{}, ErrStripeEventIgnored
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return Notification{}, fmt.Errorf("stripe: decode checkout session: %w", err)
	}
	if resultCode == 0 && session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		return Notification{}, ErrStripeEventIgnored
	}

	orderID := session.Metadata[stripeOrderIDKey]
	if orderID == "" {
		orderID = session.ClientReferenceID
	}
	transID := session.ID
	if session.PaymentIntent != nil && session.PaymentIntent.ID != "" {
		transID = session.PaymentIntent.ID
	}
	return Notification{
		OrderID:    orderID,
		TransID:    transID,
		Amount:     session.AmountTotal,
		ResultCode: resultCode,
		Message:    string(event.Type),
	}, nil
}

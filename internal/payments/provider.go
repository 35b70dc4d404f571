package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status enumerates the normalised payment states shared across providers.
type Status string

const (
	// StatusPending indicates the payment is awaiting customer action or PSP confirmation.
	StatusPending Status = "pending"
	// StatusSucceeded indicates the PSP reports the payment as successfully captured.
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates the PSP reports a failure and no further action is possible.
	StatusFailed Status = "failed"
)

var (
	// ErrTimeout is returned when the provider does not answer within the configured bound.
	ErrTimeout = errors.New("payments: provider timeout")
	// ErrTransport wraps network and decoding errors on outgoing provider calls.
	ErrTransport = errors.New("payments: transport failure")
)

// PaymentRequest is the createPayment input for one order.
type PaymentRequest struct {
	OrderID     string
	Amount      int64
	Currency    string
	Description string
	ReturnURL   string
	CustomerID  string
	Metadata    map[string]string
}

// PaymentSession is what the customer needs to complete payment.
type PaymentSession struct {
	Provider      string
	PayURL        string
	ProviderTxnID string
	ExpiresAt     time.Time
}

// Provider is the single outgoing payment collaborator configured per deployment.
type Provider interface {
	Name() string
	CreatePayment(ctx context.Context, req PaymentRequest) (PaymentSession, error)
}

// ProviderError reports a non-success answer from the provider.
type ProviderError struct {
	Provider   string
	StatusCode int
	Code       string
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e == nil {
		return ""
	}
	parts := []string{e.Provider}
	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status %d", e.StatusCode))
	}
	if e.Code != "" {
		parts = append(parts, "code "+e.Code)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	return "payments: " + strings.Join(parts, ": ")
}

// Unwrap exposes the underlying error, if any.
func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func classifyTransportError(ctx context.Context, provider string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &ProviderError{Provider: provider, Message: "request timed out", Err: errors.Join(ErrTimeout, err)}
	}
	return &ProviderError{Provider: provider, Message: "request failed", Err: errors.Join(ErrTransport, err)}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= d {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

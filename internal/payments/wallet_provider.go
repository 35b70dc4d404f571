package payments

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

	"github.com/oklog/ulid/v2"
)

const (
	walletProviderName    = "wallet"
	defaultWalletTimeout  = 10 * time.Second
	walletRequestType     = "captureWallet"
	maxWalletResponseBody = 1 << 20
)

// WalletLogger defines the logging contract for wallet gateway operations.
type WalletLogger func(ctx context.Context, event string, fields map[string]any)

// WalletProviderConfig configures the e-wallet gateway client.
type WalletProviderConfig struct {
	Endpoint    string
	PartnerCode string
	AccessKey   string
	Signer      *Signer
	IPNURL      string
	Timeout     time.Duration
	HTTPClient  *http.Client
	Logger      WalletLogger
	RequestID   func() string
}

// WalletProvider creates payments on an e-wallet gateway that confirms through signed IPNs.
type WalletProvider struct {
	endpoint    string
	partnerCode string
	accessKey   string
	signer      *Signer
	ipnURL      string
	timeout     time.Duration
	client      *http.Client
	logger      WalletLogger
	requestID   func() string
}

var _ Provider = (*WalletProvider)(nil)

// NewWalletProvider validates the configuration and constructs the client.
func NewWalletProvider(cfg WalletProviderConfig) (*WalletProvider, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, errors.New("wallet: endpoint is required")
	}
	if cfg.Signer == nil {
		return nil, errors.New("wallet: signer is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultWalletTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	requestID := cfg.RequestID
	if requestID == nil {
		requestID = func() string { return ulid.Make().String() }
	}
	return &WalletProvider{
		endpoint:    endpoint,
		partnerCode: strings.TrimSpace(cfg.PartnerCode),
		accessKey:   strings.TrimSpace(cfg.AccessKey),
		signer:      cfg.Signer,
		ipnURL:      strings.TrimSpace(cfg.IPNURL),
		timeout:     timeout,
		client:      client,
		logger:      logger,
		requestID:   requestID,
	}, nil
}

// Name implements Provider.
func (p *WalletProvider) Name() string { return walletProviderName }

type walletCreateRequest struct {
	PartnerCode string `json:"partnerCode"`
	AccessKey   string `json:"accessKey"`
	RequestID   string `json:"requestId"`
	Amount      int64  `json:"amount"`
	OrderID     string `json:"orderId"`
	OrderInfo   string `json:"orderInfo"`
	RedirectURL string `json:"redirectUrl"`
	IPNURL      string `json:"ipnUrl"`
	RequestType string `json:"requestType"`
	ExtraData   string `json:"extraData"`
	Signature   string `json:"signature"`
}

type walletCreateResponse struct {
	PartnerCode string `json:"partnerCode"`
	RequestID   string `json:"requestId"`
	OrderID     string `json:"orderId"`
	Amount      int64  `json:"amount"`
	ResultCode  int    `json:"resultCode"`
	Message     string `json:"message"`
	PayURL      string `json:"payUrl"`
}

// CreatePayment registers the order with the gateway and returns the pay URL.
func (p *WalletProvider) CreatePayment(ctx context.Context, req PaymentRequest) (PaymentSession, error) {
	if p == nil {
		return PaymentSession{}, errors.New("wallet: provider is nil")
	}
	if strings.TrimSpace(req.OrderID) == "" || req.Amount <= 0 {
		return PaymentSession{}, errors.New("wallet: order id and positive amount are required")
	}

	body := walletCreateRequest{
		PartnerCode: p.partnerCode,
		AccessKey:   p.accessKey,
		RequestID:   p.requestID(),
		Amount:      req.Amount,
		OrderID:     req.OrderID,
		OrderInfo:   req.Description,
		RedirectURL: req.ReturnURL,
		IPNURL:      p.ipnURL,
		RequestType: walletRequestType,
	}
	body.Signature = p.signer.Sign(map[string]string{
		"accessKey":   body.AccessKey,
		"amount":      strconv.FormatInt(body.Amount, 10),
		"extraData":   body.ExtraData,
		"ipnUrl":      body.IPNURL,
		"orderId":     body.OrderID,
		"orderInfo":   body.OrderInfo,
		"partnerCode": body.PartnerCode,
		"redirectUrl": body.RedirectURL,
		"requestId":   body.RequestID,
		"requestType": body.RequestType,
	})

	payload, err := json.Marshal(body)
	if err != nil {
		return PaymentSession{}, fmt.Errorf("wallet: encode request: %w", err)
	}

	ctx, cancel := withTimeout(ctx, p.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		return PaymentSession{}, fmt.Errorf("wallet: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		p.logger(ctx, "payments.wallet.create.failed", map[string]any{"orderId": req.OrderID, "error": err.Error()})
		return PaymentSession{}, classifyTransportError(ctx, walletProviderName, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxWalletResponseBody))
	if err != nil {
		return PaymentSession{}, classifyTransportError(ctx, walletProviderName, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return PaymentSession{}, &ProviderError{Provider: walletProviderName, StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	}

	var decoded walletCreateResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return PaymentSession{}, &ProviderError{Provider: walletProviderName, StatusCode: resp.StatusCode, Message: "malformed response", Err: errors.Join(ErrTransport, err)}
	}
	if decoded.ResultCode != 0 || decoded.PayURL == "" {
		return PaymentSession{}, &ProviderError{
			Provider:   walletProviderName,
			StatusCode: resp.StatusCode,
			Code:       strconv.Itoa(decoded.ResultCode),
			Message:    decoded.Message,
		}
	}

	p.logger(ctx, "payments.wallet.create.succeeded", map[string]any{
		"orderId":   req.OrderID,
		"requestId": body.RequestID,
		"latencyMs": time.Since(started).Milliseconds(),
	})

	return PaymentSession{
		Provider:      walletProviderName,
		PayURL:        decoded.PayURL,
		ProviderTxnID: body.RequestID,
	}, nil
}

package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
)

const (
	defaultGatewayTimeout = 10 * time.Second
	defaultRetryBase      = 500 * time.Millisecond
	maxGatewayResponse    = 1 << 20
)

// WalletConfig carries the partner credentials and endpoints for the wallet gateway.
type WalletConfig struct {
	Endpoint    string
	PartnerCode string
	AccessKey   string
	SecretKey   string
	IPNURL      string
	RedirectURL string
	Timeout     time.Duration
	MaxRetries  int
}

// WalletClient implements GatewayClient against the HMAC-signed wallet gateway
// protocol. Creation requests are safe to retry because no order or stock
// state exists until the IPN callback arrives.
type WalletClient struct {
	cfg        WalletConfig
	httpClient *http.Client
	requestID  func() string
}

// WalletOption customises WalletClient construction.
type WalletOption func(*WalletClient)

// WithHTTPClient overrides the HTTP client used for gateway calls.
func WithHTTPClient(client *http.Client) WalletOption {
	return func(w *WalletClient) {
		if client != nil {
			w.httpClient = client
		}
	}
}

// WithRequestIDGenerator overrides the request id source, primarily for tests.
func WithRequestIDGenerator(gen func() string) WalletOption {
	return func(w *WalletClient) {
		if gen != nil {
			w.requestID = gen
		}
	}
}

// NewWalletClient constructs a WalletClient from the supplied configuration.
func NewWalletClient(cfg WalletConfig, opts ...WalletOption) (*WalletClient, error) {
	switch {
	case strings.TrimSpace(cfg.Endpoint) == "":
		return nil, errors.New("payments: wallet endpoint is required")
	case strings.TrimSpace(cfg.PartnerCode) == "":
		return nil, errors.New("payments: wallet partner code is required")
	case strings.TrimSpace(cfg.AccessKey) == "":
		return nil, errors.New("payments: wallet access key is required")
	case strings.TrimSpace(cfg.SecretKey) == "":
		return nil, errors.New("payments: wallet secret key is required")
	case strings.TrimSpace(cfg.IPNURL) == "":
		return nil, errors.New("payments: wallet ipn url is required")
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultGatewayTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	client := &WalletClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		requestID:  uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

type walletCreateRequest struct {
	PartnerCode string `json:"partnerCode"`
	AccessKey   string `json:"accessKey"`
	RequestID   string `json:"requestId"`
	Amount      int64  `json:"amount"`
	OrderID     string `json:"orderId"`
	OrderInfo   string `json:"orderInfo"`
	RedirectURL string `json:"redirectUrl"`
	IPNURL      string `json:"ipnUrl"`
	ExtraData   string `json:"extraData"`
	RequestType string `json:"requestType"`
	Signature   string `json:"signature"`
	Lang        string `json:"lang"`
}

type walletCreateResponse struct {
	PayURL     string `json:"payUrl"`
	Deeplink   string `json:"deeplink"`
	RequestID  string `json:"requestId"`
	ResultCode int    `json:"resultCode"`
	Message    string `json:"message"`
}

// CreatePayment signs and posts a payment creation request, returning the
// redirect URL on success. Transport failures and gateway 5xx responses are
// retried with backoff inside the configured timeout budget.
func (w *WalletClient) CreatePayment(ctx context.Context, req PaymentRequest) (PaymentSession, error) {
	if w == nil {
		return PaymentSession{}, errors.New("payments: wallet client is nil")
	}
	if req.Amount <= 0 {
		return PaymentSession{}, errors.New("payments: amount must be positive")
	}
	if strings.TrimSpace(req.OrderID) == "" {
		return PaymentSession{}, errors.New("payments: order id is required")
	}

	requestID := strings.TrimSpace(req.RequestID)
	if requestID == "" {
		requestID = w.requestID()
	}

	payload := requestSignaturePayload(
		w.cfg.AccessKey, req.Amount, req.ExtraData, w.cfg.IPNURL,
		req.OrderID, req.OrderInfo, w.cfg.PartnerCode, w.cfg.RedirectURL,
		requestID, RequestTypeCaptureWallet,
	)

	body, err := json.Marshal(walletCreateRequest{
		PartnerCode: w.cfg.PartnerCode,
		AccessKey:   w.cfg.AccessKey,
		RequestID:   requestID,
		Amount:      req.Amount,
		OrderID:     req.OrderID,
		OrderInfo:   req.OrderInfo,
		RedirectURL: w.cfg.RedirectURL,
		IPNURL:      w.cfg.IPNURL,
		ExtraData:   req.ExtraData,
		RequestType: RequestTypeCaptureWallet,
		Signature:   signPayload(w.cfg.SecretKey, payload),
		Lang:        "vi",
	})
	if err != nil {
		return PaymentSession{}, fmt.Errorf("payments: encode create request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
	defer cancel()

	var response walletCreateResponse
	backoff := retry.WithMaxRetries(uint64(w.cfg.MaxRetries), retry.NewFibonacci(defaultRetryBase))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.Endpoint, bytes.NewReader(body))
		if err != nil {
			return err
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := w.httpClient.Do(httpReq)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= http.StatusInternalServerError {
			return retry.RetryableError(fmt.Errorf("gateway status %d", resp.StatusCode))
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("%w: status %d", ErrGatewayRejected, resp.StatusCode)
		}

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxGatewayResponse))
		if err != nil {
			return retry.RetryableError(err)
		}
		if err := json.Unmarshal(data, &response); err != nil {
			return fmt.Errorf("%w: decode response: %v", ErrGatewayRejected, err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrGatewayRejected) {
			return PaymentSession{}, err
		}
		return PaymentSession{}, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	if response.ResultCode != ResultCodeSuccess {
		return PaymentSession{}, fmt.Errorf("%w: result code %d (%s)", ErrGatewayRejected, response.ResultCode, response.Message)
	}
	if strings.TrimSpace(response.PayURL) == "" {
		return PaymentSession{}, fmt.Errorf("%w: missing pay url", ErrGatewayRejected)
	}

	return PaymentSession{
		PayURL:     response.PayURL,
		Deeplink:   response.Deeplink,
		RequestID:  requestID,
		ResultCode: response.ResultCode,
		Message:    response.Message,
	}, nil
}

// VerifyCallback recomputes the IPN signature and compares it in constant time.
func (w *WalletClient) VerifyCallback(payload CallbackPayload) error {
	if w == nil {
		return errors.New("payments: wallet client is nil")
	}
	if strings.TrimSpace(payload.Signature) == "" {
		return ErrSignatureMismatch
	}

	expected := signPayload(w.cfg.SecretKey, callbackSignaturePayload(w.cfg.AccessKey, payload))
	if !signatureEqual(expected, payload.Signature) {
		return ErrSignatureMismatch
	}
	return nil
}

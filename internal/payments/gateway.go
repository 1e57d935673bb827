package payments

import (
	"context"
	"errors"
)

const (
	// ResultCodeSuccess is the gateway result code for a captured payment.
	ResultCodeSuccess = 0

	// RequestTypeCaptureWallet identifies the wallet capture flow on the gateway API.
	RequestTypeCaptureWallet = "captureWallet"
)

var (
	// ErrGatewayUnavailable indicates the outbound gateway call failed or timed
	// out before any state changed. Callers may retry the whole checkout.
	ErrGatewayUnavailable = errors.New("payments: gateway unavailable")
	// ErrSignatureMismatch indicates a callback whose signature does not match
	// the recomputed HMAC. Fatal, never retried.
	ErrSignatureMismatch = errors.New("payments: signature mismatch")
	// ErrGatewayRejected indicates the gateway refused the payment request.
	ErrGatewayRejected = errors.New("payments: gateway rejected request")
)

// PaymentRequest captures the payload required to open a wallet payment.
// ExtraData is an opaque base64 token carried through the gateway round trip
// unchanged.
type PaymentRequest struct {
	OrderID   string
	RequestID string
	Amount    int64
	OrderInfo string
	ExtraData string
}

// PaymentSession is the gateway's answer to a payment request: the URL the
// buyer is redirected to for approval.
type PaymentSession struct {
	PayURL     string
	Deeplink   string
	RequestID  string
	ResultCode int
	Message    string
}

// CallbackPayload is the IPN body the gateway posts after the buyer resolves
// the payment. Field names follow the gateway wire format.
type CallbackPayload struct {
	PartnerCode  string `json:"partnerCode"`
	OrderID      string `json:"orderId"`
	RequestID    string `json:"requestId"`
	Amount       int64  `json:"amount"`
	OrderInfo    string `json:"orderInfo"`
	OrderType    string `json:"orderType"`
	TransID      int64  `json:"transId"`
	ResultCode   int    `json:"resultCode"`
	Message      string `json:"message"`
	PayType      string `json:"payType"`
	ResponseTime int64  `json:"responseTime"`
	ExtraData    string `json:"extraData"`
	Signature    string `json:"signature"`
}

// Succeeded reports whether the callback confirms a captured payment.
func (p CallbackPayload) Succeeded() bool {
	return p.ResultCode == ResultCodeSuccess
}

// GatewayClient is the adapter over the external wallet gateway.
type GatewayClient interface {
	// CreatePayment opens a payment session. No order or stock state may
	// change as a result of this call.
	CreatePayment(ctx context.Context, req PaymentRequest) (PaymentSession, error)
	// VerifyCallback recomputes the callback signature and returns
	// ErrSignatureMismatch when it does not match.
	VerifyCallback(payload CallbackPayload) error
}

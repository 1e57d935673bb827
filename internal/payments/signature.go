package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// signPayload computes the hex-encoded HMAC-SHA256 of payload under secret.
func signPayload(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// signatureEqual compares two hex signatures in constant time.
func signatureEqual(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}

// requestSignaturePayload builds the fixed, ordered field concatenation the
// gateway signs on payment creation. Field order is part of the protocol and
// must not change.
func requestSignaturePayload(accessKey string, amount int64, extraData, ipnURL, orderID, orderInfo, partnerCode, redirectURL, requestID, requestType string) string {
	return fmt.Sprintf(
		"accessKey=%s&amount=%d&extraData=%s&ipnUrl=%s&orderId=%s&orderInfo=%s&partnerCode=%s&redirectUrl=%s&requestId=%s&requestType=%s",
		accessKey, amount, extraData, ipnURL, orderID, orderInfo, partnerCode, redirectURL, requestID, requestType,
	)
}

// callbackSignaturePayload builds the ordered field concatenation signed on
// the IPN callback.
func callbackSignaturePayload(accessKey string, p CallbackPayload) string {
	return fmt.Sprintf(
		"accessKey=%s&amount=%d&extraData=%s&message=%s&orderId=%s&orderInfo=%s&orderType=%s&partnerCode=%s&payType=%s&requestId=%s&responseTime=%d&resultCode=%d&transId=%d",
		accessKey, p.Amount, p.ExtraData, p.Message, p.OrderID, p.OrderInfo, p.OrderType, p.PartnerCode, p.PayType, p.RequestID, p.ResponseTime, p.ResultCode, p.TransID,
	)
}

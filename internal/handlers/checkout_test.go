package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	domain "github.com/mekongeats/api/internal/domain"
	"github.com/mekongeats/api/internal/services"
)

func checkoutRequestBody() map[string]any {
	return map[string]any{
		"items": []map[string]any{
			{"productId": "pho-bo", "qty": 2},
			{"productId": "banh-mi", "qty": 1},
		},
		"address": map[string]any{
			"recipient": "Linh Tran",
			"phone":     "0901234567",
			"line":      "12 Nguyen Hue",
			"city":      "Ho Chi Minh",
		},
		"paymentMethod": "cod",
	}
}

func TestCheckoutEndpointPlacesCODOrder(t *testing.T) {
	fx := newRouterFixture()
	var captured services.CheckoutCommand
	fx.checkout.checkoutFn = func(_ context.Context, cmd services.CheckoutCommand) (services.CheckoutResult, error) {
		captured = cmd
		order := handlerOrder()
		return services.CheckoutResult{Order: &order}, nil
	}

	rec := doRequest(t, fx.router(), http.MethodPost, "/api/v1/checkout/",
		bearer("buyer-1", "buyer"), checkoutRequestBody())
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d with body %s", rec.Code, rec.Body.String())
	}

	if captured.BuyerID != "buyer-1" {
		t.Fatalf("expected buyer id from the token, got %q", captured.BuyerID)
	}
	if captured.PaymentMethod != domain.PaymentMethodCOD {
		t.Fatalf("unexpected payment method %q", captured.PaymentMethod)
	}
	if len(captured.Lines) != 2 || captured.Lines[0].ProductID != "pho-bo" || captured.Lines[0].Quantity != 2 {
		t.Fatalf("unexpected cart lines %+v", captured.Lines)
	}
	if captured.Address.Phone != "0901234567" {
		t.Fatalf("unexpected address %+v", captured.Address)
	}

	var resp checkoutResponse
	decodeBody(t, rec, &resp)
	if resp.Order == nil || resp.Order.ID != "order-1" {
		t.Fatalf("expected materialized order in response, got %+v", resp)
	}
	if resp.PayURL != "" {
		t.Fatalf("cod checkout must not return a pay url, got %q", resp.PayURL)
	}
}

func TestCheckoutEndpointReturnsPayURL(t *testing.T) {
	fx := newRouterFixture()
	fx.checkout.checkoutFn = func(context.Context, services.CheckoutCommand) (services.CheckoutResult, error) {
		return services.CheckoutResult{PayURL: "https://pay.example/session", Deeplink: "wallet://pay/session"}, nil
	}

	body := checkoutRequestBody()
	body["paymentMethod"] = "wallet"
	rec := doRequest(t, fx.router(), http.MethodPost, "/api/v1/checkout/", bearer("buyer-1", "buyer"), body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d with body %s", rec.Code, rec.Body.String())
	}

	var resp checkoutResponse
	decodeBody(t, rec, &resp)
	if resp.Order != nil {
		t.Fatalf("wallet checkout must not return an order yet, got %+v", resp.Order)
	}
	if resp.PayURL != "https://pay.example/session" || resp.Deeplink != "wallet://pay/session" {
		t.Fatalf("unexpected payment redirect %+v", resp)
	}
}

func TestCheckoutEndpointRejectsUnknownFields(t *testing.T) {
	fx := newRouterFixture()
	body := checkoutRequestBody()
	body["totalOverride"] = 1

	rec := doRequest(t, fx.router(), http.MethodPost, "/api/v1/checkout/", bearer("buyer-1", "buyer"), body)
	assertErrorCode(t, rec, http.StatusBadRequest, "invalid_request")
}

func TestCheckoutEndpointValidatesBody(t *testing.T) {
	fx := newRouterFixture()

	body := checkoutRequestBody()
	body["address"] = map[string]any{"recipient": "Linh Tran", "line": "12 Nguyen Hue"}
	rec := doRequest(t, fx.router(), http.MethodPost, "/api/v1/checkout/", bearer("buyer-1", "buyer"), body)
	assertErrorCode(t, rec, http.StatusBadRequest, "invalid_request")

	var envelope map[string]any
	decodeBody(t, rec, &envelope)
	message, _ := envelope["message"].(string)
	if !strings.Contains(message, "Phone") {
		t.Fatalf("expected the missing field named, got %q", message)
	}

	body = checkoutRequestBody()
	body["paymentMethod"] = "crypto"
	rec = doRequest(t, fx.router(), http.MethodPost, "/api/v1/checkout/", bearer("buyer-1", "buyer"), body)
	assertErrorCode(t, rec, http.StatusBadRequest, "invalid_request")

	body = checkoutRequestBody()
	body["items"] = []map[string]any{}
	rec = doRequest(t, fx.router(), http.MethodPost, "/api/v1/checkout/", bearer("buyer-1", "buyer"), body)
	assertErrorCode(t, rec, http.StatusBadRequest, "invalid_request")
}

func TestCheckoutEndpointResolvesVoucherCode(t *testing.T) {
	fx := newRouterFixture()
	fx.vouchers.getByCodeFn = func(_ context.Context, code string) (domain.Voucher, error) {
		if code != "SAVE10" {
			t.Fatalf("unexpected code %q", code)
		}
		return domain.Voucher{ID: "voucher-1", Code: "SAVE10"}, nil
	}
	var captured services.CheckoutCommand
	fx.checkout.checkoutFn = func(_ context.Context, cmd services.CheckoutCommand) (services.CheckoutResult, error) {
		captured = cmd
		order := handlerOrder()
		return services.CheckoutResult{Order: &order}, nil
	}

	body := checkoutRequestBody()
	body["voucherCode"] = "SAVE10"
	rec := doRequest(t, fx.router(), http.MethodPost, "/api/v1/checkout/", bearer("buyer-1", "buyer"), body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d with body %s", rec.Code, rec.Body.String())
	}
	if captured.VoucherID != "voucher-1" {
		t.Fatalf("expected voucher id resolved from code, got %q", captured.VoucherID)
	}
}

func TestCheckoutEndpointDropsUnresolvableVoucher(t *testing.T) {
	fx := newRouterFixture()
	fx.vouchers.getByCodeFn = func(context.Context, string) (domain.Voucher, error) {
		return domain.Voucher{}, services.ErrVoucherNotFound
	}
	var captured services.CheckoutCommand
	fx.checkout.checkoutFn = func(_ context.Context, cmd services.CheckoutCommand) (services.CheckoutResult, error) {
		captured = cmd
		order := handlerOrder()
		return services.CheckoutResult{Order: &order}, nil
	}

	body := checkoutRequestBody()
	body["voucherCode"] = "EXPIRED"
	rec := doRequest(t, fx.router(), http.MethodPost, "/api/v1/checkout/", bearer("buyer-1", "buyer"), body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected checkout to proceed without the voucher, got %d", rec.Code)
	}
	if captured.VoucherID != "" {
		t.Fatalf("expected voucher dropped, got %q", captured.VoucherID)
	}
}

func TestCheckoutEndpointSurfacesOutOfStock(t *testing.T) {
	fx := newRouterFixture()
	fx.checkout.checkoutFn = func(context.Context, services.CheckoutCommand) (services.CheckoutResult, error) {
		return services.CheckoutResult{}, &services.OutOfStockError{ProductIDs: []string{"pho-bo"}}
	}

	rec := doRequest(t, fx.router(), http.MethodPost, "/api/v1/checkout/", bearer("buyer-1", "buyer"), checkoutRequestBody())
	assertErrorCode(t, rec, http.StatusConflict, "out_of_stock")

	var envelope map[string]any
	decodeBody(t, rec, &envelope)
	ids, ok := envelope["productIds"].([]any)
	if !ok || len(ids) != 1 || ids[0] != "pho-bo" {
		t.Fatalf("expected offending products in the envelope, got %v", envelope)
	}
}

func TestCheckoutEndpointSurfacesGatewayRejection(t *testing.T) {
	fx := newRouterFixture()
	fx.checkout.checkoutFn = func(context.Context, services.CheckoutCommand) (services.CheckoutResult, error) {
		return services.CheckoutResult{}, errors.New("boom")
	}

	rec := doRequest(t, fx.router(), http.MethodPost, "/api/v1/checkout/", bearer("buyer-1", "buyer"), checkoutRequestBody())
	assertErrorCode(t, rec, http.StatusInternalServerError, "internal_error")
}

func TestCheckoutEndpointRequiresBuyerRole(t *testing.T) {
	fx := newRouterFixture()
	rec := doRequest(t, fx.router(), http.MethodPost, "/api/v1/checkout/", bearer("seller-1", "seller"), checkoutRequestBody())
	assertErrorCode(t, rec, http.StatusForbidden, "insufficient_role")
}

package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	domain "github.com/mekongeats/api/internal/domain"
	"github.com/mekongeats/api/internal/payments"
	"github.com/mekongeats/api/internal/platform/idempotency"
	"github.com/mekongeats/api/internal/repositories"
)

type stubGateway struct {
	createFn func(context.Context, payments.PaymentRequest) (payments.PaymentSession, error)
	verifyFn func(payments.CallbackPayload) error
}

func (s *stubGateway) CreatePayment(ctx context.Context, req payments.PaymentRequest) (payments.PaymentSession, error) {
	if s.createFn != nil {
		return s.createFn(ctx, req)
	}
	return payments.PaymentSession{}, errors.New("not implemented")
}

func (s *stubGateway) VerifyCallback(payload payments.CallbackPayload) error {
	if s.verifyFn != nil {
		return s.verifyFn(payload)
	}
	return nil
}

type stubPricingEngine struct {
	priceFn func(context.Context, PriceCartCommand) (PricingQuote, error)
}

func (s *stubPricingEngine) PriceCart(ctx context.Context, cmd PriceCartCommand) (PricingQuote, error) {
	if s.priceFn != nil {
		return s.priceFn(ctx, cmd)
	}
	return PricingQuote{}, errors.New("not implemented")
}

// fixedQuote mirrors the worked pricing example used across the service tests.
func fixedQuote() PricingQuote {
	return PricingQuote{
		PricingBreakdown: domain.PricingBreakdown{
			Items: []domain.OrderItem{
				{ProductID: "pho-bo", Name: "Pho bo", UnitPrice: 30000, Quantity: 2, ShopID: "shop-1"},
				{ProductID: "banh-mi", Name: "Banh mi", UnitPrice: 40000, Quantity: 1, ShopID: "shop-1"},
			},
			Subtotal:    100000,
			DeliveryFee: 15000,
			Total:       115000,
		},
		EstimatedMinutes: 15,
	}
}

func checkoutAddress() domain.Address {
	return domain.Address{
		Recipient: "Nguyen Van A",
		Phone:     "0901234567",
		Line:      "12 Le Loi",
		District:  "Quan 1",
		City:      "Ho Chi Minh",
	}
}

type checkoutFixture struct {
	service  CheckoutService
	orders   *stubOrderRepo
	gateway  *stubGateway
	dedupe   *idempotency.MemoryStore
	notifier *recordingNotifier
	events   *captureOrderEvents
	placed   []repositories.PlaceOrderRequest
}

func newCheckoutFixture(t *testing.T) *checkoutFixture {
	t.Helper()
	fx := &checkoutFixture{
		orders:   &stubOrderRepo{},
		gateway:  &stubGateway{},
		dedupe:   idempotency.NewMemoryStore(),
		notifier: &recordingNotifier{},
		events:   &captureOrderEvents{},
	}
	fx.orders.placeFn = func(_ context.Context, req repositories.PlaceOrderRequest) (repositories.PlaceOrderResult, error) {
		fx.placed = append(fx.placed, req)
		placed := req.Order
		placed.Number = "MK-000042"
		return repositories.PlaceOrderResult{Order: placed}, nil
	}

	seq := 0
	service, err := NewCheckoutService(CheckoutServiceDeps{
		Orders:   fx.orders,
		Shops:    shopDirectory(),
		Pricing:  &stubPricingEngine{priceFn: func(context.Context, PriceCartCommand) (PricingQuote, error) { return fixedQuote(), nil }},
		Gateway:  fx.gateway,
		Dedupe:   fx.dedupe,
		Notifier: fx.notifier,
		Events:   fx.events,
		Clock:    func() time.Time { return time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC) },
		IDGenerator: func() string {
			seq++
			return fmt.Sprintf("order-%d", seq)
		},
	})
	if err != nil {
		t.Fatalf("NewCheckoutService: %v", err)
	}
	fx.service = service
	return fx
}

func codCommand() CheckoutCommand {
	return CheckoutCommand{
		BuyerID: "buyer-1",
		Lines: []CartLine{
			{ProductID: "pho-bo", Quantity: 2},
			{ProductID: "banh-mi", Quantity: 1},
		},
		Address:       checkoutAddress(),
		PaymentMethod: domain.PaymentMethodCOD,
	}
}

func TestCheckoutCODMaterializesImmediately(t *testing.T) {
	fx := newCheckoutFixture(t)

	result, err := fx.service.Checkout(context.Background(), codCommand())
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if result.Order == nil {
		t.Fatalf("expected a materialized order")
	}
	if result.PayURL != "" {
		t.Fatalf("expected no pay url for cash on delivery, got %q", result.PayURL)
	}
	if result.Order.Total != 115000 {
		t.Fatalf("expected total 115000, got %d", result.Order.Total)
	}
	if result.Order.Status != domain.OrderStatusProcessing {
		t.Fatalf("expected processing, got %s", result.Order.Status)
	}
	if len(fx.placed) != 1 {
		t.Fatalf("expected one placement, got %d", len(fx.placed))
	}

	// Buyer confirmation plus seller fan-out.
	if len(fx.notifier.sent) != 2 {
		t.Fatalf("expected 2 notifications, got %+v", fx.notifier.sent)
	}
	if len(fx.events.events) != 1 || fx.events.events[0].Name != "order.created" {
		t.Fatalf("expected order.created event, got %+v", fx.events.events)
	}
}

func TestCheckoutWalletDefersToGateway(t *testing.T) {
	fx := newCheckoutFixture(t)
	var captured payments.PaymentRequest
	fx.gateway.createFn = func(_ context.Context, req payments.PaymentRequest) (payments.PaymentSession, error) {
		captured = req
		return payments.PaymentSession{PayURL: "https://pay.example/session", Deeplink: "wallet://pay"}, nil
	}

	cmd := codCommand()
	cmd.PaymentMethod = domain.PaymentMethodWallet

	result, err := fx.service.Checkout(context.Background(), cmd)
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if result.Order != nil {
		t.Fatalf("expected no order before the callback, got %+v", result.Order)
	}
	if result.PayURL != "https://pay.example/session" {
		t.Fatalf("unexpected pay url %q", result.PayURL)
	}
	if len(fx.placed) != 0 {
		t.Fatalf("expected no placement before the callback, got %d", len(fx.placed))
	}

	if captured.Amount != 115000 {
		t.Fatalf("expected amount 115000, got %d", captured.Amount)
	}
	raw, err := base64.StdEncoding.DecodeString(captured.ExtraData)
	if err != nil {
		t.Fatalf("decode extra data: %v", err)
	}
	var token struct {
		BuyerID string `json:"buyerId"`
		Total   int64  `json:"total"`
	}
	if err := json.Unmarshal(raw, &token); err != nil {
		t.Fatalf("parse extra data: %v", err)
	}
	if token.BuyerID != "buyer-1" || token.Total != 115000 {
		t.Fatalf("unexpected token %+v", token)
	}
}

func TestCheckoutRejectsBadInput(t *testing.T) {
	fx := newCheckoutFixture(t)

	cmd := codCommand()
	cmd.PaymentMethod = "bank_transfer"
	if _, err := fx.service.Checkout(context.Background(), cmd); !errors.Is(err, ErrCheckoutInvalidInput) {
		t.Fatalf("expected ErrCheckoutInvalidInput for unknown method, got %v", err)
	}

	cmd = codCommand()
	cmd.Address.Phone = ""
	if _, err := fx.service.Checkout(context.Background(), cmd); !errors.Is(err, ErrCheckoutInvalidInput) {
		t.Fatalf("expected ErrCheckoutInvalidInput for missing phone, got %v", err)
	}

	cmd = codCommand()
	cmd.BuyerID = "  "
	if _, err := fx.service.Checkout(context.Background(), cmd); !errors.Is(err, ErrCheckoutInvalidInput) {
		t.Fatalf("expected ErrCheckoutInvalidInput for blank buyer, got %v", err)
	}
}

func TestCheckoutSurfacesOutOfStock(t *testing.T) {
	fx := newCheckoutFixture(t)
	fx.orders.placeFn = func(context.Context, repositories.PlaceOrderRequest) (repositories.PlaceOrderResult, error) {
		return repositories.PlaceOrderResult{}, repositories.NewStockError(
			repositories.StockErrorInsufficient, "stock too low", []string{"pho-bo"}, nil)
	}

	_, err := fx.service.Checkout(context.Background(), codCommand())

	var outOfStock *OutOfStockError
	if !errors.As(err, &outOfStock) {
		t.Fatalf("expected OutOfStockError, got %v", err)
	}
	if len(outOfStock.ProductIDs) != 1 || outOfStock.ProductIDs[0] != "pho-bo" {
		t.Fatalf("unexpected products %v", outOfStock.ProductIDs)
	}
}

// walletCallback builds a successful IPN payload wrapping the given token order.
func walletCallback(t *testing.T, orderID string, amount int64) payments.CallbackPayload {
	t.Helper()
	token, err := json.Marshal(map[string]any{
		"buyerId": "buyer-1",
		"items": []map[string]any{
			{"ProductID": "pho-bo", "Name": "Pho bo", "UnitPrice": 30000, "Quantity": 2, "ShopID": "shop-1"},
		},
		"subtotal":    amount - 15000,
		"deliveryFee": 15000,
		"total":       amount,
		"address":     checkoutAddress(),
	})
	if err != nil {
		t.Fatalf("marshal token: %v", err)
	}
	return payments.CallbackPayload{
		PartnerCode: "MEKONG",
		OrderID:     orderID,
		RequestID:   "req-1",
		Amount:      amount,
		TransID:     987654321,
		ResultCode:  0,
		ExtraData:   base64.StdEncoding.EncodeToString(token),
		Signature:   "stubbed",
	}
}

func TestCallbackMaterializesOrderOnce(t *testing.T) {
	fx := newCheckoutFixture(t)
	payload := walletCallback(t, "order-wallet-1", 115000)

	outcome, err := fx.service.HandleGatewayCallback(context.Background(), payload)
	if err != nil {
		t.Fatalf("HandleGatewayCallback: %v", err)
	}
	if outcome.OrderID != "order-wallet-1" || outcome.Duplicate || outcome.Ignored {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if len(fx.placed) != 1 {
		t.Fatalf("expected one placement, got %d", len(fx.placed))
	}
	if fx.placed[0].Order.PaymentMethod != domain.PaymentMethodWallet {
		t.Fatalf("expected wallet payment method, got %s", fx.placed[0].Order.PaymentMethod)
	}

	replay, err := fx.service.HandleGatewayCallback(context.Background(), payload)
	if err != nil {
		t.Fatalf("replayed callback: %v", err)
	}
	if !replay.Duplicate || replay.OrderID != "order-wallet-1" {
		t.Fatalf("expected duplicate outcome, got %+v", replay)
	}
	if len(fx.placed) != 1 {
		t.Fatalf("expected replay to skip placement, got %d", len(fx.placed))
	}
}

func TestCallbackRejectsBadSignature(t *testing.T) {
	fx := newCheckoutFixture(t)
	fx.gateway.verifyFn = func(payments.CallbackPayload) error {
		return payments.ErrSignatureMismatch
	}

	_, err := fx.service.HandleGatewayCallback(context.Background(), walletCallback(t, "order-wallet-1", 115000))
	if !errors.Is(err, payments.ErrSignatureMismatch) {
		t.Fatalf("expected ErrSignatureMismatch, got %v", err)
	}
	if len(fx.placed) != 0 {
		t.Fatalf("expected no placement, got %d", len(fx.placed))
	}
}

func TestCallbackIgnoresFailedPayment(t *testing.T) {
	fx := newCheckoutFixture(t)
	payload := walletCallback(t, "order-wallet-1", 115000)
	payload.ResultCode = 1006

	outcome, err := fx.service.HandleGatewayCallback(context.Background(), payload)
	if err != nil {
		t.Fatalf("HandleGatewayCallback: %v", err)
	}
	if !outcome.Ignored {
		t.Fatalf("expected ignored outcome, got %+v", outcome)
	}
	if len(fx.placed) != 0 {
		t.Fatalf("expected no placement, got %d", len(fx.placed))
	}
}

func TestCallbackAmountMismatchReleasesReservation(t *testing.T) {
	fx := newCheckoutFixture(t)
	payload := walletCallback(t, "order-wallet-1", 115000)
	payload.Amount = 999999

	_, err := fx.service.HandleGatewayCallback(context.Background(), payload)
	if !errors.Is(err, ErrCallbackInvalid) {
		t.Fatalf("expected ErrCallbackInvalid, got %v", err)
	}

	// The reservation must not linger: a corrected retry for the same
	// transaction settles normally instead of reporting in-flight.
	payload.Amount = 115000
	outcome, err := fx.service.HandleGatewayCallback(context.Background(), payload)
	if err != nil {
		t.Fatalf("corrected callback: %v", err)
	}
	if outcome.OrderID != "order-wallet-1" {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
}

func TestCallbackPlacementFailureReleasesReservation(t *testing.T) {
	fx := newCheckoutFixture(t)
	attempts := 0
	fx.orders.placeFn = func(_ context.Context, req repositories.PlaceOrderRequest) (repositories.PlaceOrderResult, error) {
		attempts++
		if attempts == 1 {
			return repositories.PlaceOrderResult{}, errors.New("deadline exceeded")
		}
		return repositories.PlaceOrderResult{Order: req.Order}, nil
	}
	payload := walletCallback(t, "order-wallet-1", 115000)

	if _, err := fx.service.HandleGatewayCallback(context.Background(), payload); !errors.Is(err, ErrCheckoutUnavailable) {
		t.Fatalf("expected ErrCheckoutUnavailable, got %v", err)
	}

	outcome, err := fx.service.HandleGatewayCallback(context.Background(), payload)
	if err != nil {
		t.Fatalf("retried callback: %v", err)
	}
	if outcome.OrderID != "order-wallet-1" || outcome.Duplicate {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 placement attempts, got %d", attempts)
	}
}

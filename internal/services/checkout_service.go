package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/mekongeats/api/internal/domain"
	"github.com/mekongeats/api/internal/payments"
	"github.com/mekongeats/api/internal/platform/idempotency"
	"github.com/mekongeats/api/internal/repositories"
)

const orderEventCreated = "order.created"

var (
	// ErrCheckoutInvalidInput signals the caller provided an unusable checkout request.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutUnavailable indicates a backend needed to place the order could not be reached.
	ErrCheckoutUnavailable = errors.New("checkout: backend unavailable")
	// ErrCallbackInvalid indicates an authentic callback carrying an unusable or
	// tampered payload. Fatal, never retried.
	ErrCallbackInvalid = errors.New("checkout: invalid callback payload")
	// ErrCallbackInFlight indicates another worker is settling the same gateway
	// transaction. The gateway should retry later.
	ErrCallbackInFlight = errors.New("checkout: callback already in flight")
)

// CheckoutServiceDeps bundles collaborators required to construct the checkout service.
type CheckoutServiceDeps struct {
	Orders      repositories.OrderRepository
	Shops       repositories.ShopRepository
	Pricing     PricingEngine
	Gateway     payments.GatewayClient
	Dedupe      idempotency.Store
	Notifier    NotificationDispatcher
	Events      EventPublisher
	CallbackTTL time.Duration
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	orders      repositories.OrderRepository
	shops       repositories.ShopRepository
	pricing     PricingEngine
	gateway     payments.GatewayClient
	dedupe      idempotency.Store
	notifier    NotificationDispatcher
	events      EventPublisher
	callbackTTL time.Duration
	clock       func() time.Time
	newID       func() string
	logger      func(context.Context, string, map[string]any)
	strategies  map[PaymentMethod]settlementStrategy
}

// NewCheckoutService wires dependencies into a concrete CheckoutService implementation.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order repository is required")
	}
	if deps.Shops == nil {
		return nil, errors.New("checkout service: shop repository is required")
	}
	if deps.Pricing == nil {
		return nil, errors.New("checkout service: pricing engine is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("checkout service: payment gateway is required")
	}
	if deps.Dedupe == nil {
		return nil, errors.New("checkout service: idempotency store is required")
	}

	ttl := deps.CallbackTTL
	if ttl <= 0 {
		ttl = idempotency.DefaultTTL
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	svc := &checkoutService{
		orders:      deps.Orders,
		shops:       deps.Shops,
		pricing:     deps.Pricing,
		gateway:     deps.Gateway,
		dedupe:      deps.Dedupe,
		notifier:    deps.Notifier,
		events:      deps.Events,
		callbackTTL: ttl,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}
	svc.strategies = map[PaymentMethod]settlementStrategy{
		domain.PaymentMethodCOD:    codSettlement{svc: svc},
		domain.PaymentMethodWallet: walletSettlement{svc: svc},
	}
	return svc, nil
}

// settlementStrategy turns a priced order into a checkout result. Cash on
// delivery materializes immediately; wallet defers to the gateway callback.
type settlementStrategy interface {
	settle(ctx context.Context, order domain.Order) (CheckoutResult, error)
}

func (s *checkoutService) Checkout(ctx context.Context, cmd CheckoutCommand) (CheckoutResult, error) {
	if strings.TrimSpace(cmd.BuyerID) == "" {
		return CheckoutResult{}, fmt.Errorf("%w: buyer id is required", ErrCheckoutInvalidInput)
	}
	if err := validateCheckoutAddress(cmd.Address); err != nil {
		return CheckoutResult{}, err
	}
	strategy, ok := s.strategies[cmd.PaymentMethod]
	if !ok {
		return CheckoutResult{}, fmt.Errorf("%w: unsupported payment method %q", ErrCheckoutInvalidInput, cmd.PaymentMethod)
	}

	quote, err := s.pricing.PriceCart(ctx, PriceCartCommand{
		BuyerID:   cmd.BuyerID,
		Lines:     cmd.Lines,
		VoucherID: cmd.VoucherID,
	})
	if err != nil {
		return CheckoutResult{}, err
	}

	return strategy.settle(ctx, s.buildOrder(cmd, quote))
}

// buildOrder assembles the order aggregate from the priced quote. The order id
// is allocated here so the wallet flow can reference it before any state exists.
func (s *checkoutService) buildOrder(cmd CheckoutCommand, quote PricingQuote) domain.Order {
	now := s.clock()
	return domain.Order{
		ID:               s.newID(),
		UserID:           cmd.BuyerID,
		Items:            quote.Items,
		Subtotal:         quote.Subtotal,
		Discount:         quote.Discount,
		DeliveryFee:      quote.DeliveryFee,
		Total:            quote.Total,
		VoucherID:        quote.VoucherID,
		Address:          cmd.Address,
		PaymentMethod:    cmd.PaymentMethod,
		NoteForShop:      strings.TrimSpace(cmd.NoteForShop),
		NoteForShipper:   strings.TrimSpace(cmd.NoteForShipper),
		Status:           domain.OrderStatusProcessing,
		EstimatedMinutes: quote.EstimatedMinutes,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

type codSettlement struct {
	svc *checkoutService
}

func (c codSettlement) settle(ctx context.Context, order domain.Order) (CheckoutResult, error) {
	placed, err := c.svc.materializeOrder(ctx, order)
	if err != nil {
		return CheckoutResult{}, err
	}
	return CheckoutResult{Order: &placed}, nil
}

type walletSettlement struct {
	svc *checkoutService
}

func (w walletSettlement) settle(ctx context.Context, order domain.Order) (CheckoutResult, error) {
	token, err := encodeCheckoutToken(order)
	if err != nil {
		return CheckoutResult{}, fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
	}

	session, err := w.svc.gateway.CreatePayment(ctx, payments.PaymentRequest{
		OrderID:   order.ID,
		Amount:    order.Total,
		OrderInfo: fmt.Sprintf("MekongEats order %s", order.ID),
		ExtraData: token,
	})
	if err != nil {
		return CheckoutResult{}, err
	}

	w.svc.logger(ctx, "checkout.wallet.session_created", map[string]any{
		"order_id":   order.ID,
		"request_id": session.RequestID,
		"amount":     order.Total,
	})
	return CheckoutResult{PayURL: session.PayURL, Deeplink: session.Deeplink}, nil
}

func (s *checkoutService) HandleGatewayCallback(ctx context.Context, payload payments.CallbackPayload) (CallbackOutcome, error) {
	if err := s.gateway.VerifyCallback(payload); err != nil {
		s.logger(ctx, "checkout.callback.signature_mismatch", map[string]any{
			"order_id": payload.OrderID,
			"trans_id": payload.TransID,
		})
		return CallbackOutcome{}, err
	}

	if !payload.Succeeded() {
		s.logger(ctx, "checkout.callback.payment_failed", map[string]any{
			"order_id":    payload.OrderID,
			"trans_id":    payload.TransID,
			"result_code": payload.ResultCode,
		})
		return CallbackOutcome{Ignored: true}, nil
	}

	now := s.clock()
	key := fmt.Sprintf("wallet:trans:%d", payload.TransID)
	reservation, err := s.dedupe.Reserve(ctx, key, now, s.callbackTTL)
	if err != nil {
		return CallbackOutcome{}, fmt.Errorf("%w: reserve callback: %v", ErrCheckoutUnavailable, err)
	}
	switch reservation.State {
	case idempotency.ReservationStateCompleted:
		s.logger(ctx, "checkout.callback.duplicate", map[string]any{
			"trans_id": payload.TransID,
			"order_id": reservation.Record.Result,
		})
		return CallbackOutcome{OrderID: reservation.Record.Result, Duplicate: true}, nil
	case idempotency.ReservationStatePending:
		return CallbackOutcome{}, ErrCallbackInFlight
	}

	order, err := orderFromCallback(payload, now)
	if err != nil {
		s.releaseReservation(ctx, key)
		return CallbackOutcome{}, err
	}

	placed, err := s.materializeOrder(ctx, order)
	if err != nil {
		s.releaseReservation(ctx, key)
		return CallbackOutcome{}, err
	}

	if err := s.dedupe.Complete(ctx, key, placed.ID, s.clock(), s.callbackTTL); err != nil {
		// The order exists; a failed completion only risks a duplicate
		// attempt that the order id conflict will reject.
		s.logger(ctx, "checkout.callback.complete_failed", map[string]any{
			"trans_id": payload.TransID,
			"order_id": placed.ID,
			"error":    err.Error(),
		})
	}

	return CallbackOutcome{OrderID: placed.ID}, nil
}

// materializeOrder persists the order. The repository applies the stock debit,
// the voucher redemption, the order number allocation, and the insert in one
// transaction, so a failure here leaves no partial state behind.
func (s *checkoutService) materializeOrder(ctx context.Context, order domain.Order) (domain.Order, error) {
	result, err := s.orders.Place(ctx, repositories.PlaceOrderRequest{
		Order:           order,
		RedeemVoucherID: order.VoucherID,
		Now:             s.clock(),
	})
	if err != nil {
		return domain.Order{}, translateCheckoutError(err)
	}
	placed := result.Order

	s.logger(ctx, "checkout.order.placed", map[string]any{
		"order_id":       placed.ID,
		"order_number":   placed.Number,
		"user_id":        placed.UserID,
		"payment_method": string(placed.PaymentMethod),
		"total":          placed.Total,
	})
	s.publishEvent(ctx, OrderEvent{
		Name:       orderEventCreated,
		OrderID:    placed.ID,
		UserID:     placed.UserID,
		Status:     string(placed.Status),
		OccurredAt: placed.CreatedAt,
		Metadata:   map[string]any{"paymentMethod": string(placed.PaymentMethod), "total": placed.Total},
	})

	if s.notifier != nil {
		s.notifier.Notify(ctx, placed.UserID, NotificationInput{
			Kind:     domain.NotificationKindOrder,
			Message:  fmt.Sprintf("Order %s confirmed, estimated preparation %d minutes", placed.Number, placed.EstimatedMinutes),
			Metadata: map[string]any{"orderId": placed.ID},
		})
		fanOutToShopSellers(ctx, s.shops, s.notifier, s.logger, placed, NotificationInput{
			SenderID: placed.UserID,
			Kind:     domain.NotificationKindOrder,
			Message:  fmt.Sprintf("New order %s received", placed.Number),
			Metadata: map[string]any{"orderId": placed.ID},
		})
	}

	return placed, nil
}

func (s *checkoutService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if _, err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "checkout.event.publish_failed", map[string]any{
			"event":    event.Name,
			"order_id": event.OrderID,
			"error":    err.Error(),
		})
	}
}

func (s *checkoutService) releaseReservation(ctx context.Context, key string) {
	if err := s.dedupe.Release(ctx, key); err != nil {
		s.logger(ctx, "checkout.callback.release_failed", map[string]any{
			"key":   key,
			"error": err.Error(),
		})
	}
}

// checkoutToken is the self-contained order payload carried through the
// gateway round trip as base64 JSON. The callback rebuilds the order from it
// without trusting any other callback field except the amount, which must match.
type checkoutToken struct {
	BuyerID          string             `json:"buyerId"`
	Items            []domain.OrderItem `json:"items"`
	Subtotal         int64              `json:"subtotal"`
	Discount         int64              `json:"discount"`
	DeliveryFee      int64              `json:"deliveryFee"`
	Total            int64              `json:"total"`
	VoucherID        string             `json:"voucherId,omitempty"`
	Address          domain.Address     `json:"address"`
	NoteForShop      string             `json:"noteForShop,omitempty"`
	NoteForShipper   string             `json:"noteForShipper,omitempty"`
	EstimatedMinutes int                `json:"estimatedMinutes"`
}

func encodeCheckoutToken(order domain.Order) (string, error) {
	data, err := json.Marshal(checkoutToken{
		BuyerID:          order.UserID,
		Items:            order.Items,
		Subtotal:         order.Subtotal,
		Discount:         order.Discount,
		DeliveryFee:      order.DeliveryFee,
		Total:            order.Total,
		VoucherID:        order.VoucherID,
		Address:          order.Address,
		NoteForShop:      order.NoteForShop,
		NoteForShipper:   order.NoteForShipper,
		EstimatedMinutes: order.EstimatedMinutes,
	})
	if err != nil {
		return "", fmt.Errorf("encode checkout token: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// orderFromCallback decodes the checkout token and validates it against the
// callback before rebuilding the order for placement.
func orderFromCallback(payload payments.CallbackPayload, now time.Time) (domain.Order, error) {
	raw, err := base64.StdEncoding.DecodeString(payload.ExtraData)
	if err != nil {
		return domain.Order{}, fmt.Errorf("%w: decode extra data: %v", ErrCallbackInvalid, err)
	}
	var token checkoutToken
	if err := json.Unmarshal(raw, &token); err != nil {
		return domain.Order{}, fmt.Errorf("%w: parse extra data: %v", ErrCallbackInvalid, err)
	}
	if strings.TrimSpace(payload.OrderID) == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrCallbackInvalid)
	}
	if strings.TrimSpace(token.BuyerID) == "" || len(token.Items) == 0 {
		return domain.Order{}, fmt.Errorf("%w: incomplete checkout token", ErrCallbackInvalid)
	}
	if token.Total != payload.Amount {
		return domain.Order{}, fmt.Errorf("%w: amount %d does not match quoted total %d", ErrCallbackInvalid, payload.Amount, token.Total)
	}

	return domain.Order{
		ID:               payload.OrderID,
		UserID:           token.BuyerID,
		Items:            token.Items,
		Subtotal:         token.Subtotal,
		Discount:         token.Discount,
		DeliveryFee:      token.DeliveryFee,
		Total:            token.Total,
		VoucherID:        token.VoucherID,
		Address:          token.Address,
		PaymentMethod:    domain.PaymentMethodWallet,
		NoteForShop:      token.NoteForShop,
		NoteForShipper:   token.NoteForShipper,
		Status:           domain.OrderStatusProcessing,
		EstimatedMinutes: token.EstimatedMinutes,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

func validateCheckoutAddress(addr Address) error {
	switch {
	case strings.TrimSpace(addr.Recipient) == "":
		return fmt.Errorf("%w: address recipient is required", ErrCheckoutInvalidInput)
	case strings.TrimSpace(addr.Phone) == "":
		return fmt.Errorf("%w: address phone is required", ErrCheckoutInvalidInput)
	case strings.TrimSpace(addr.Line) == "":
		return fmt.Errorf("%w: address line is required", ErrCheckoutInvalidInput)
	}
	return nil
}

func translateCheckoutError(err error) error {
	if err == nil {
		return nil
	}
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		switch stockErr.Code {
		case repositories.StockErrorInsufficient, repositories.StockErrorProductNotFound:
			return &OutOfStockError{ProductIDs: stockErr.ProductIDs}
		}
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
}

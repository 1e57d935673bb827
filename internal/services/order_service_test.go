package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/mekongeats/api/internal/domain"
	"github.com/mekongeats/api/internal/repositories"
)

type stubOrderRepo struct {
	placeFn     func(context.Context, repositories.PlaceOrderRequest) (repositories.PlaceOrderResult, error)
	findFn      func(context.Context, string) (domain.Order, error)
	mutateFn    func(context.Context, string, func(*domain.Order) error) (domain.Order, error)
	deleteFn    func(context.Context, string) error
	listBuyerFn func(context.Context, string, repositories.OrderListFilter) (domain.CursorPage[domain.Order], error)
	listShopFn  func(context.Context, string, repositories.OrderListFilter) (domain.CursorPage[domain.Order], error)
}

func (s *stubOrderRepo) Place(ctx context.Context, req repositories.PlaceOrderRequest) (repositories.PlaceOrderResult, error) {
	if s.placeFn != nil {
		return s.placeFn(ctx, req)
	}
	return repositories.PlaceOrderResult{Order: req.Order}, nil
}

func (s *stubOrderRepo) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if s.findFn != nil {
		return s.findFn(ctx, orderID)
	}
	return domain.Order{}, errors.New("not implemented")
}

func (s *stubOrderRepo) Mutate(ctx context.Context, orderID string, fn func(*domain.Order) error) (domain.Order, error) {
	if s.mutateFn != nil {
		return s.mutateFn(ctx, orderID, fn)
	}
	return domain.Order{}, errors.New("not implemented")
}

func (s *stubOrderRepo) Delete(ctx context.Context, orderID string) error {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, orderID)
	}
	return nil
}

func (s *stubOrderRepo) ListByBuyer(ctx context.Context, userID string, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if s.listBuyerFn != nil {
		return s.listBuyerFn(ctx, userID, filter)
	}
	return domain.CursorPage[domain.Order]{}, nil
}

func (s *stubOrderRepo) ListByShop(ctx context.Context, shopID string, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if s.listShopFn != nil {
		return s.listShopFn(ctx, shopID, filter)
	}
	return domain.CursorPage[domain.Order]{}, nil
}

// mutatingOrderRepo keeps a single order in memory and applies Mutate against it.
type mutatingOrderRepo struct {
	stubOrderRepo
	order domain.Order
}

func newMutatingOrderRepo(order domain.Order) *mutatingOrderRepo {
	repo := &mutatingOrderRepo{order: order}
	repo.mutateFn = func(_ context.Context, orderID string, fn func(*domain.Order) error) (domain.Order, error) {
		if orderID != repo.order.ID {
			return domain.Order{}, errors.New("order not found")
		}
		copied := repo.order
		if err := fn(&copied); err != nil {
			return domain.Order{}, err
		}
		repo.order = copied
		return copied, nil
	}
	repo.findFn = func(_ context.Context, orderID string) (domain.Order, error) {
		if orderID != repo.order.ID {
			return domain.Order{}, errors.New("order not found")
		}
		return repo.order, nil
	}
	return repo
}

type stubShopRepo struct {
	findFn func(context.Context, string) (domain.Shop, error)
	listFn func(context.Context, string) ([]domain.Shop, error)
}

func (s *stubShopRepo) FindByID(ctx context.Context, shopID string) (domain.Shop, error) {
	if s.findFn != nil {
		return s.findFn(ctx, shopID)
	}
	return domain.Shop{}, errors.New("not implemented")
}

func (s *stubShopRepo) ListBySeller(ctx context.Context, sellerID string) ([]domain.Shop, error) {
	if s.listFn != nil {
		return s.listFn(ctx, sellerID)
	}
	return nil, nil
}

// shopDirectory returns a stub resolving the fixed test shops.
func shopDirectory() *stubShopRepo {
	shops := map[string]domain.Shop{
		"shop-1": {ID: "shop-1", Name: "Quan Pho Ha Noi", SellerID: "seller-1"},
		"shop-2": {ID: "shop-2", Name: "Com Tam Saigon", SellerID: "seller-2"},
	}
	return &stubShopRepo{
		findFn: func(_ context.Context, shopID string) (domain.Shop, error) {
			shop, ok := shops[shopID]
			if !ok {
				return domain.Shop{}, errors.New("shop not found")
			}
			return shop, nil
		},
		listFn: func(_ context.Context, sellerID string) ([]domain.Shop, error) {
			out := make([]domain.Shop, 0, 1)
			for _, shop := range shops {
				if shop.SellerID == sellerID {
					out = append(out, shop)
				}
			}
			return out, nil
		},
	}
}

type stubStockLedger struct {
	debitFn  func(context.Context, []StockLine) (map[string]int64, error)
	creditFn func(context.Context, []StockLine) error
	credits  [][]StockLine
}

func (s *stubStockLedger) Debit(ctx context.Context, lines []StockLine) (map[string]int64, error) {
	if s.debitFn != nil {
		return s.debitFn(ctx, lines)
	}
	return map[string]int64{}, nil
}

func (s *stubStockLedger) Credit(ctx context.Context, lines []StockLine) error {
	s.credits = append(s.credits, lines)
	if s.creditFn != nil {
		return s.creditFn(ctx, lines)
	}
	return nil
}

type sentNotification struct {
	recipients []string
	input      NotificationInput
}

type recordingNotifier struct {
	sent []sentNotification
}

func (r *recordingNotifier) Notify(_ context.Context, recipientID string, input NotificationInput) {
	r.sent = append(r.sent, sentNotification{recipients: []string{recipientID}, input: input})
}

func (r *recordingNotifier) NotifyMany(_ context.Context, recipientIDs []string, input NotificationInput) {
	r.sent = append(r.sent, sentNotification{recipients: recipientIDs, input: input})
}

type captureOrderEvents struct {
	events []OrderEvent
	err    error
}

func (c *captureOrderEvents) PublishOrderEvent(_ context.Context, event OrderEvent) (string, error) {
	c.events = append(c.events, event)
	if c.err != nil {
		return "", c.err
	}
	return "msg-1", nil
}

func testOrder(status domain.OrderStatus) domain.Order {
	return domain.Order{
		ID:     "order-1",
		Number: "MK-000042",
		UserID: "buyer-1",
		Items: []domain.OrderItem{
			{ProductID: "pho-bo", Name: "Pho bo", UnitPrice: 30000, Quantity: 2, ShopID: "shop-1"},
			{ProductID: "banh-mi", Name: "Banh mi", UnitPrice: 40000, Quantity: 1, ShopID: "shop-1"},
		},
		Subtotal:      100000,
		DeliveryFee:   15000,
		Total:         115000,
		PaymentMethod: domain.PaymentMethodCOD,
		Status:        status,
		CreatedAt:     time.Date(2025, 3, 10, 11, 0, 0, 0, time.UTC),
		UpdatedAt:     time.Date(2025, 3, 10, 11, 0, 0, 0, time.UTC),
	}
}

type orderServiceFixture struct {
	service  OrderService
	repo     *mutatingOrderRepo
	stock    *stubStockLedger
	notifier *recordingNotifier
	events   *captureOrderEvents
}

func newOrderServiceFixture(t *testing.T, order domain.Order) orderServiceFixture {
	t.Helper()
	repo := newMutatingOrderRepo(order)
	stock := &stubStockLedger{}
	notifier := &recordingNotifier{}
	events := &captureOrderEvents{}

	service, err := NewOrderService(OrderServiceDeps{
		Orders:   repo,
		Shops:    shopDirectory(),
		Stock:    stock,
		Notifier: notifier,
		Events:   events,
		Clock:    func() time.Time { return time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	return orderServiceFixture{service: service, repo: repo, stock: stock, notifier: notifier, events: events}
}

func TestTransitionStatusSellerAdvancesOrder(t *testing.T) {
	fx := newOrderServiceFixture(t, testOrder(domain.OrderStatusProcessing))
	seller := Actor{UserID: "seller-1", Roles: []string{RoleSeller}}

	order, err := fx.service.TransitionStatus(context.Background(), seller, "order-1", domain.OrderStatusDelivering)
	if err != nil {
		t.Fatalf("TransitionStatus: %v", err)
	}
	if order.Status != domain.OrderStatusDelivering {
		t.Fatalf("expected delivering, got %s", order.Status)
	}

	if len(fx.events.events) != 1 || fx.events.events[0].Name != "order.status.changed" {
		t.Fatalf("expected order.status.changed event, got %+v", fx.events.events)
	}
	if len(fx.notifier.sent) != 1 || fx.notifier.sent[0].recipients[0] != "buyer-1" {
		t.Fatalf("expected buyer notification, got %+v", fx.notifier.sent)
	}
	if len(fx.stock.credits) != 0 {
		t.Fatalf("expected no restock, got %v", fx.stock.credits)
	}
}

func TestTransitionStatusRejectsIllegalJump(t *testing.T) {
	fx := newOrderServiceFixture(t, testOrder(domain.OrderStatusDelivered))
	admin := Actor{UserID: "ops-1", Roles: []string{RoleAdmin}}

	_, err := fx.service.TransitionStatus(context.Background(), admin, "order-1", domain.OrderStatusProcessing)
	if !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected ErrOrderInvalidState, got %v", err)
	}
}

func TestTransitionStatusForeignSellerForbidden(t *testing.T) {
	fx := newOrderServiceFixture(t, testOrder(domain.OrderStatusProcessing))
	rival := Actor{UserID: "seller-2", Roles: []string{RoleSeller}}

	_, err := fx.service.TransitionStatus(context.Background(), rival, "order-1", domain.OrderStatusDelivering)
	if !errors.Is(err, ErrOrderForbidden) {
		t.Fatalf("expected ErrOrderForbidden, got %v", err)
	}
}

func TestBuyerMayOnlyCancelEarly(t *testing.T) {
	buyer := Actor{UserID: "buyer-1", Roles: []string{RoleBuyer}}

	fx := newOrderServiceFixture(t, testOrder(domain.OrderStatusProcessing))
	if _, err := fx.service.TransitionStatus(context.Background(), buyer, "order-1", domain.OrderStatusDelivering); !errors.Is(err, ErrOrderForbidden) {
		t.Fatalf("expected ErrOrderForbidden for buyer advancing, got %v", err)
	}

	fx = newOrderServiceFixture(t, testOrder(domain.OrderStatusDelivering))
	if _, err := fx.service.Cancel(context.Background(), buyer, "order-1"); !errors.Is(err, ErrOrderForbidden) {
		t.Fatalf("expected ErrOrderForbidden for late cancel, got %v", err)
	}
}

func TestCancelRestocksAndNotifiesSellers(t *testing.T) {
	fx := newOrderServiceFixture(t, testOrder(domain.OrderStatusProcessing))
	buyer := Actor{UserID: "buyer-1", Roles: []string{RoleBuyer}}

	order, err := fx.service.Cancel(context.Background(), buyer, "order-1")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if order.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled, got %s", order.Status)
	}

	if len(fx.stock.credits) != 1 {
		t.Fatalf("expected one stock credit, got %d", len(fx.stock.credits))
	}
	if len(fx.stock.credits[0]) != 2 {
		t.Fatalf("expected both lines credited, got %v", fx.stock.credits[0])
	}
	if len(fx.notifier.sent) != 1 || fx.notifier.sent[0].recipients[0] != "seller-1" {
		t.Fatalf("expected seller notification, got %+v", fx.notifier.sent)
	}
}

func TestCancelSurfacesRestockFailure(t *testing.T) {
	fx := newOrderServiceFixture(t, testOrder(domain.OrderStatusProcessing))
	fx.stock.creditFn = func(context.Context, []StockLine) error {
		return errors.New("firestore unavailable")
	}
	buyer := Actor{UserID: "buyer-1", Roles: []string{RoleBuyer}}

	_, err := fx.service.Cancel(context.Background(), buyer, "order-1")
	if !errors.Is(err, ErrOrderRestockFailed) {
		t.Fatalf("expected ErrOrderRestockFailed, got %v", err)
	}
	// The cancellation itself stays committed; only the credit is retried later.
	if fx.repo.order.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected order to remain cancelled, got %s", fx.repo.order.Status)
	}
}

func TestDeleteRequiresPendingAndOwnership(t *testing.T) {
	buyer := Actor{UserID: "buyer-1", Roles: []string{RoleBuyer}}

	fx := newOrderServiceFixture(t, testOrder(domain.OrderStatusProcessing))
	if err := fx.service.Delete(context.Background(), buyer, "order-1"); !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected ErrOrderInvalidState for non-pending delete, got %v", err)
	}

	fx = newOrderServiceFixture(t, testOrder(domain.OrderStatusPending))
	stranger := Actor{UserID: "buyer-2", Roles: []string{RoleBuyer}}
	if err := fx.service.Delete(context.Background(), stranger, "order-1"); !errors.Is(err, ErrOrderForbidden) {
		t.Fatalf("expected ErrOrderForbidden for foreign delete, got %v", err)
	}

	deleted := false
	fx = newOrderServiceFixture(t, testOrder(domain.OrderStatusPending))
	fx.repo.deleteFn = func(context.Context, string) error {
		deleted = true
		return nil
	}
	if err := fx.service.Delete(context.Background(), buyer, "order-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !deleted {
		t.Fatalf("expected repository delete to run")
	}
}

func TestRequestRefundFlow(t *testing.T) {
	buyer := Actor{UserID: "buyer-1", Roles: []string{RoleBuyer}}

	fx := newOrderServiceFixture(t, testOrder(domain.OrderStatusProcessing))
	if _, err := fx.service.RequestRefund(context.Background(), buyer, "order-1", "cold food"); !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected ErrOrderInvalidState before delivery, got %v", err)
	}

	fx = newOrderServiceFixture(t, testOrder(domain.OrderStatusDelivered))
	order, err := fx.service.RequestRefund(context.Background(), buyer, "order-1", "cold food")
	if err != nil {
		t.Fatalf("RequestRefund: %v", err)
	}
	if order.RefundRequest == nil || order.RefundRequest.Status != domain.RefundStatusPending {
		t.Fatalf("expected pending refund request, got %+v", order.RefundRequest)
	}
	if order.RefundRequest.Reason != "cold food" {
		t.Fatalf("unexpected refund reason %q", order.RefundRequest.Reason)
	}
	if len(fx.notifier.sent) != 1 || fx.notifier.sent[0].recipients[0] != "seller-1" {
		t.Fatalf("expected seller notification, got %+v", fx.notifier.sent)
	}

	if _, err := fx.service.RequestRefund(context.Background(), buyer, "order-1", "still cold"); !errors.Is(err, ErrOrderConflict) {
		t.Fatalf("expected ErrOrderConflict for duplicate request, got %v", err)
	}
}

func TestResolveRefundAcceptCreditsStock(t *testing.T) {
	order := testOrder(domain.OrderStatusDelivered)
	order.RefundRequest = &domain.RefundRequest{
		Status:      domain.RefundStatusPending,
		Reason:      "cold food",
		RequestedAt: time.Date(2025, 3, 10, 11, 30, 0, 0, time.UTC),
	}
	fx := newOrderServiceFixture(t, order)
	seller := Actor{UserID: "seller-1", Roles: []string{RoleSeller}}

	resolved, err := fx.service.ResolveRefund(context.Background(), seller, "order-1", true)
	if err != nil {
		t.Fatalf("ResolveRefund: %v", err)
	}
	if resolved.RefundRequest.Status != domain.RefundStatusAccepted {
		t.Fatalf("expected accepted, got %s", resolved.RefundRequest.Status)
	}
	if resolved.RefundRequest.RespondedAt == nil {
		t.Fatalf("expected responded timestamp")
	}
	if len(fx.stock.credits) != 1 {
		t.Fatalf("expected stock credited once, got %d", len(fx.stock.credits))
	}
	if len(fx.notifier.sent) != 1 || fx.notifier.sent[0].recipients[0] != "buyer-1" {
		t.Fatalf("expected buyer notification, got %+v", fx.notifier.sent)
	}
	if !strings.Contains(fx.notifier.sent[0].input.Message, "accepted") {
		t.Fatalf("expected decision in message, got %q", fx.notifier.sent[0].input.Message)
	}
}

func TestResolveRefundRejectKeepsStock(t *testing.T) {
	order := testOrder(domain.OrderStatusDelivered)
	order.RefundRequest = &domain.RefundRequest{Status: domain.RefundStatusPending, Reason: "cold food"}
	fx := newOrderServiceFixture(t, order)
	seller := Actor{UserID: "seller-1", Roles: []string{RoleSeller}}

	resolved, err := fx.service.ResolveRefund(context.Background(), seller, "order-1", false)
	if err != nil {
		t.Fatalf("ResolveRefund: %v", err)
	}
	if resolved.RefundRequest.Status != domain.RefundStatusRejected {
		t.Fatalf("expected rejected, got %s", resolved.RefundRequest.Status)
	}
	if len(fx.stock.credits) != 0 {
		t.Fatalf("expected no stock credit, got %v", fx.stock.credits)
	}
}

func TestResolveRefundRequiresPendingRequest(t *testing.T) {
	fx := newOrderServiceFixture(t, testOrder(domain.OrderStatusDelivered))
	seller := Actor{UserID: "seller-1", Roles: []string{RoleSeller}}

	_, err := fx.service.ResolveRefund(context.Background(), seller, "order-1", true)
	if !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected ErrOrderInvalidState, got %v", err)
	}
}

func TestGetEnforcesVisibility(t *testing.T) {
	fx := newOrderServiceFixture(t, testOrder(domain.OrderStatusProcessing))

	if _, err := fx.service.Get(context.Background(), Actor{UserID: "buyer-1", Roles: []string{RoleBuyer}}, "order-1"); err != nil {
		t.Fatalf("owner read: %v", err)
	}
	if _, err := fx.service.Get(context.Background(), Actor{UserID: "seller-1", Roles: []string{RoleSeller}}, "order-1"); err != nil {
		t.Fatalf("owning seller read: %v", err)
	}
	if _, err := fx.service.Get(context.Background(), Actor{UserID: "seller-2", Roles: []string{RoleSeller}}, "order-1"); !errors.Is(err, ErrOrderForbidden) {
		t.Fatalf("expected ErrOrderForbidden for foreign seller, got %v", err)
	}
	if _, err := fx.service.Get(context.Background(), Actor{UserID: "buyer-2", Roles: []string{RoleBuyer}}, "order-1"); !errors.Is(err, ErrOrderForbidden) {
		t.Fatalf("expected ErrOrderForbidden for stranger, got %v", err)
	}
}

func TestListForSellerResolvesShop(t *testing.T) {
	fx := newOrderServiceFixture(t, testOrder(domain.OrderStatusProcessing))
	var requestedShop string
	fx.repo.listShopFn = func(_ context.Context, shopID string, _ repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
		requestedShop = shopID
		return domain.CursorPage[domain.Order]{Items: []domain.Order{fx.repo.order}}, nil
	}

	// A seller with exactly one shop gets it selected implicitly.
	if _, err := fx.service.ListForSeller(context.Background(), Actor{UserID: "seller-1", Roles: []string{RoleSeller}}, OrderListQuery{}); err != nil {
		t.Fatalf("ListForSeller: %v", err)
	}
	if requestedShop != "shop-1" {
		t.Fatalf("expected implicit shop-1, got %q", requestedShop)
	}

	// A seller asking for a shop they do not own is refused.
	_, err := fx.service.ListForSeller(context.Background(), Actor{UserID: "seller-1", Roles: []string{RoleSeller}}, OrderListQuery{ShopID: "shop-2"})
	if !errors.Is(err, ErrOrderForbidden) {
		t.Fatalf("expected ErrOrderForbidden, got %v", err)
	}

	// Admins must name the shop explicitly.
	_, err = fx.service.ListForSeller(context.Background(), Actor{UserID: "ops-1", Roles: []string{RoleAdmin}}, OrderListQuery{})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput, got %v", err)
	}

	// Buyers have no seller listing at all.
	_, err = fx.service.ListForSeller(context.Background(), Actor{UserID: "buyer-1", Roles: []string{RoleBuyer}}, OrderListQuery{})
	if !errors.Is(err, ErrOrderForbidden) {
		t.Fatalf("expected ErrOrderForbidden, got %v", err)
	}
}

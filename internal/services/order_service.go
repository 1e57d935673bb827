package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/mekongeats/api/internal/domain"
	"github.com/mekongeats/api/internal/repositories"
)

const (
	orderEventStatusChanged   = "order.status.changed"
	orderEventRefundRequested = "order.refund.requested"
	orderEventRefundResolved  = "order.refund.resolved"
	orderEventDeleted         = "order.deleted"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderForbidden indicates the actor may not perform the operation on this order.
	ErrOrderForbidden = errors.New("order: forbidden")
	// ErrOrderInvalidState indicates an invalid status transition or sub-flow state.
	ErrOrderInvalidState = errors.New("order: invalid state")
	// ErrOrderConflict indicates concurrent modification conflicts.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderUnavailable indicates the order backend could not be reached.
	ErrOrderUnavailable = errors.New("order: backend unavailable")
	// ErrOrderRestockFailed indicates the status change committed but the
	// compensating stock credit did not. The credit must be retried out of band.
	ErrOrderRestockFailed = errors.New("order: restock failed")
)

// orderStateTransitions covers the full status vocabulary. No placement path
// emits pending (COD and wallet orders both materialise as processing); the
// pending rows keep records written outside this service, such as imports
// from the previous ordering system, manageable through the same API.
var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending:    {domain.OrderStatusProcessing, domain.OrderStatusCancelled},
	domain.OrderStatusProcessing: {domain.OrderStatusDelivering, domain.OrderStatusDelivered, domain.OrderStatusCancelled},
	domain.OrderStatusDelivering: {domain.OrderStatusDelivered, domain.OrderStatusCancelled},
}

// buyerTransitions is the subset of transitions a buyer may request on their
// own order. Everything else on the table is seller or admin territory.
var buyerTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending:    {domain.OrderStatusCancelled},
	domain.OrderStatusProcessing: {domain.OrderStatusCancelled},
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders   repositories.OrderRepository
	Shops    repositories.ShopRepository
	Stock    StockLedger
	Notifier NotificationDispatcher
	Events   EventPublisher
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders   repositories.OrderRepository
	shops    repositories.ShopRepository
	stock    StockLedger
	notifier NotificationDispatcher
	events   EventPublisher
	clock    func() time.Time
	logger   func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Shops == nil {
		return nil, errors.New("order service: shop repository is required")
	}
	if deps.Stock == nil {
		return nil, errors.New("order service: stock ledger is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:   deps.Orders,
		shops:    deps.Shops,
		stock:    deps.Stock,
		notifier: deps.Notifier,
		events:   deps.Events,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (s *orderService) Get(ctx context.Context, actor Actor, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, translateOrderRepositoryError(err)
	}

	if order.UserID == actor.UserID || actor.IsAdmin() {
		return order, nil
	}
	if actor.IsSeller() {
		owned, err := s.ownedShops(ctx, actor)
		if err != nil {
			return Order{}, err
		}
		if orderTouchesShops(order, owned) {
			return order, nil
		}
	}
	return Order{}, ErrOrderForbidden
}

func (s *orderService) ListForBuyer(ctx context.Context, actor Actor, query OrderListQuery) (domain.CursorPage[Order], error) {
	if strings.TrimSpace(actor.UserID) == "" {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: actor is required", ErrOrderInvalidInput)
	}

	page, err := s.orders.ListByBuyer(ctx, actor.UserID, repositories.OrderListFilter{
		Statuses:  query.Statuses,
		PageSize:  query.PageSize,
		PageToken: query.PageToken,
	})
	if err != nil {
		return domain.CursorPage[Order]{}, translateOrderRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) ListForSeller(ctx context.Context, actor Actor, query OrderListQuery) (domain.CursorPage[Order], error) {
	if !actor.IsSeller() && !actor.IsAdmin() {
		return domain.CursorPage[Order]{}, ErrOrderForbidden
	}

	shopID := strings.TrimSpace(query.ShopID)
	if !actor.IsAdmin() {
		shops, err := s.shops.ListBySeller(ctx, actor.UserID)
		if err != nil {
			return domain.CursorPage[Order]{}, translateOrderRepositoryError(err)
		}
		switch {
		case shopID == "" && len(shops) == 1:
			shopID = shops[0].ID
		case shopID == "":
			return domain.CursorPage[Order]{}, fmt.Errorf("%w: shop id is required", ErrOrderInvalidInput)
		default:
			found := false
			for _, shop := range shops {
				if shop.ID == shopID {
					found = true
					break
				}
			}
			if !found {
				return domain.CursorPage[Order]{}, ErrOrderForbidden
			}
		}
	} else if shopID == "" {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: shop id is required", ErrOrderInvalidInput)
	}

	page, err := s.orders.ListByShop(ctx, shopID, repositories.OrderListFilter{
		Statuses:  query.Statuses,
		PageSize:  query.PageSize,
		PageToken: query.PageToken,
	})
	if err != nil {
		return domain.CursorPage[Order]{}, translateOrderRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) TransitionStatus(ctx context.Context, actor Actor, orderID string, next OrderStatus) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if !knownOrderStatus(next) {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, next)
	}

	owned, err := s.sellerShopsIfAny(ctx, actor)
	if err != nil {
		return Order{}, err
	}

	now := s.clock()
	var previous domain.OrderStatus
	order, err := s.orders.Mutate(ctx, orderID, func(order *domain.Order) error {
		previous = order.Status
		if err := authorizeTransition(actor, owned, *order, next); err != nil {
			return err
		}
		if !transitionAllowed(order.Status, next) {
			return fmt.Errorf("%w: %s -> %s", ErrOrderInvalidState, order.Status, next)
		}
		order.Status = next
		order.UpdatedAt = now
		return nil
	})
	if err != nil {
		return Order{}, translateOrderRepositoryError(err)
	}

	s.logger(ctx, "order.status.changed", map[string]any{
		"order_id": order.ID,
		"from":     string(previous),
		"to":       string(next),
		"actor_id": actor.UserID,
	})
	s.publishEvent(ctx, OrderEvent{
		Name:       orderEventStatusChanged,
		OrderID:    order.ID,
		UserID:     order.UserID,
		Status:     string(order.Status),
		OccurredAt: now,
		Metadata:   map[string]any{"previousStatus": string(previous)},
	})
	s.notifyStatusChange(ctx, actor, order)

	if next == domain.OrderStatusCancelled {
		if err := s.stock.Credit(ctx, order.StockLines()); err != nil {
			s.logger(ctx, "order.restock.failed", map[string]any{
				"order_id": order.ID,
				"error":    err.Error(),
			})
			return Order{}, fmt.Errorf("%w: order %s: %v", ErrOrderRestockFailed, order.ID, err)
		}
	}

	return order, nil
}

func (s *orderService) Cancel(ctx context.Context, actor Actor, orderID string) (Order, error) {
	return s.TransitionStatus(ctx, actor, orderID, domain.OrderStatusCancelled)
}

func (s *orderService) Delete(ctx context.Context, actor Actor, orderID string) error {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return translateOrderRepositoryError(err)
	}
	if order.UserID != actor.UserID && !actor.IsAdmin() {
		return ErrOrderForbidden
	}
	if order.Status != domain.OrderStatusPending {
		return fmt.Errorf("%w: only pending orders can be deleted", ErrOrderInvalidState)
	}

	if err := s.orders.Delete(ctx, orderID); err != nil {
		return translateOrderRepositoryError(err)
	}

	s.logger(ctx, "order.deleted", map[string]any{"order_id": orderID, "actor_id": actor.UserID})
	s.publishEvent(ctx, OrderEvent{
		Name:       orderEventDeleted,
		OrderID:    orderID,
		UserID:     order.UserID,
		Status:     string(order.Status),
		OccurredAt: s.clock(),
	})
	return nil
}

func (s *orderService) RequestRefund(ctx context.Context, actor Actor, orderID, reason string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Order{}, fmt.Errorf("%w: refund reason is required", ErrOrderInvalidInput)
	}

	now := s.clock()
	order, err := s.orders.Mutate(ctx, orderID, func(order *domain.Order) error {
		if order.UserID != actor.UserID {
			return ErrOrderForbidden
		}
		if order.Status != domain.OrderStatusDelivered {
			return fmt.Errorf("%w: refunds require a delivered order", ErrOrderInvalidState)
		}
		if order.RefundRequest != nil && order.RefundRequest.Status == domain.RefundStatusPending {
			return fmt.Errorf("%w: a refund request is already open", ErrOrderConflict)
		}
		order.RefundRequest = &domain.RefundRequest{
			Status:      domain.RefundStatusPending,
			Reason:      reason,
			RequestedAt: now,
		}
		order.UpdatedAt = now
		return nil
	})
	if err != nil {
		return Order{}, translateOrderRepositoryError(err)
	}

	s.logger(ctx, "order.refund.requested", map[string]any{"order_id": order.ID, "actor_id": actor.UserID})
	s.publishEvent(ctx, OrderEvent{
		Name:       orderEventRefundRequested,
		OrderID:    order.ID,
		UserID:     order.UserID,
		Status:     string(order.Status),
		OccurredAt: now,
	})
	s.notifySellers(ctx, order, NotificationInput{
		SenderID: order.UserID,
		Kind:     domain.NotificationKindOrder,
		Message:  fmt.Sprintf("Refund requested for order %s: %s", order.Number, reason),
		Metadata: map[string]any{"orderId": order.ID},
	})
	return order, nil
}

func (s *orderService) ResolveRefund(ctx context.Context, actor Actor, orderID string, accept bool) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	owned, err := s.sellerShopsIfAny(ctx, actor)
	if err != nil {
		return Order{}, err
	}

	now := s.clock()
	order, err := s.orders.Mutate(ctx, orderID, func(order *domain.Order) error {
		if !actor.IsAdmin() && !orderTouchesShops(*order, owned) {
			return ErrOrderForbidden
		}
		if order.RefundRequest == nil || order.RefundRequest.Status != domain.RefundStatusPending {
			return fmt.Errorf("%w: no refund request is pending", ErrOrderInvalidState)
		}
		if accept {
			order.RefundRequest.Status = domain.RefundStatusAccepted
		} else {
			order.RefundRequest.Status = domain.RefundStatusRejected
		}
		order.RefundRequest.RespondedAt = &now
		order.UpdatedAt = now
		return nil
	})
	if err != nil {
		return Order{}, translateOrderRepositoryError(err)
	}

	decision := "rejected"
	if accept {
		decision = "accepted"
	}
	s.logger(ctx, "order.refund.resolved", map[string]any{
		"order_id": order.ID,
		"decision": decision,
		"actor_id": actor.UserID,
	})
	s.publishEvent(ctx, OrderEvent{
		Name:       orderEventRefundResolved,
		OrderID:    order.ID,
		UserID:     order.UserID,
		Status:     string(order.Status),
		OccurredAt: now,
		Metadata:   map[string]any{"decision": decision},
	})
	if s.notifier != nil {
		s.notifier.Notify(ctx, order.UserID, NotificationInput{
			SenderID: actor.UserID,
			Kind:     domain.NotificationKindOrder,
			Message:  fmt.Sprintf("Your refund request for order %s was %s", order.Number, decision),
			Metadata: map[string]any{"orderId": order.ID},
		})
	}

	if accept {
		if err := s.stock.Credit(ctx, order.StockLines()); err != nil {
			s.logger(ctx, "order.restock.failed", map[string]any{
				"order_id": order.ID,
				"error":    err.Error(),
			})
			return Order{}, fmt.Errorf("%w: order %s: %v", ErrOrderRestockFailed, order.ID, err)
		}
	}

	return order, nil
}

// ownedShops resolves the shop ids the actor's seller account controls.
func (s *orderService) ownedShops(ctx context.Context, actor Actor) (map[string]struct{}, error) {
	shops, err := s.shops.ListBySeller(ctx, actor.UserID)
	if err != nil {
		return nil, translateOrderRepositoryError(err)
	}
	owned := make(map[string]struct{}, len(shops))
	for _, shop := range shops {
		owned[shop.ID] = struct{}{}
	}
	return owned, nil
}

// sellerShopsIfAny resolves shop ownership only for seller actors. Shop reads
// happen before the order transaction so the transaction touches one document.
func (s *orderService) sellerShopsIfAny(ctx context.Context, actor Actor) (map[string]struct{}, error) {
	if !actor.IsSeller() {
		return nil, nil
	}
	return s.ownedShops(ctx, actor)
}

func (s *orderService) notifyStatusChange(ctx context.Context, actor Actor, order Order) {
	if s.notifier == nil {
		return
	}
	input := NotificationInput{
		SenderID: actor.UserID,
		Kind:     domain.NotificationKindOrder,
		Message:  fmt.Sprintf("Order %s is now %s", order.Number, order.Status),
		Metadata: map[string]any{"orderId": order.ID, "status": string(order.Status)},
	}
	if actor.UserID == order.UserID {
		s.notifySellers(ctx, order, input)
		return
	}
	s.notifier.Notify(ctx, order.UserID, input)
}

// notifySellers fans a notification out to the sellers owning the order's shops.
func (s *orderService) notifySellers(ctx context.Context, order Order, input NotificationInput) {
	fanOutToShopSellers(ctx, s.shops, s.notifier, s.logger, order, input)
}

// fanOutToShopSellers resolves the seller behind each shop on the order and
// dispatches the notification to the distinct set.
func fanOutToShopSellers(
	ctx context.Context,
	shops repositories.ShopRepository,
	notifier NotificationDispatcher,
	logger func(context.Context, string, map[string]any),
	order Order,
	input NotificationInput,
) {
	if notifier == nil {
		return
	}
	recipients := make([]string, 0, 1)
	seen := make(map[string]struct{})
	for _, shopID := range order.ShopIDs() {
		shop, err := shops.FindByID(ctx, shopID)
		if err != nil {
			logger(ctx, "order.notify.shop_lookup_failed", map[string]any{
				"order_id": order.ID,
				"shop_id":  shopID,
				"error":    err.Error(),
			})
			continue
		}
		if shop.SellerID == "" {
			continue
		}
		if _, ok := seen[shop.SellerID]; ok {
			continue
		}
		seen[shop.SellerID] = struct{}{}
		recipients = append(recipients, shop.SellerID)
	}
	if len(recipients) > 0 {
		notifier.NotifyMany(ctx, recipients, input)
	}
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if _, err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish_failed", map[string]any{
			"event":    event.Name,
			"order_id": event.OrderID,
			"error":    err.Error(),
		})
	}
}

// authorizeTransition enforces who may request which transition. Admins may
// request anything the table allows.
func authorizeTransition(actor Actor, ownedShops map[string]struct{}, order Order, next OrderStatus) error {
	if actor.IsAdmin() {
		return nil
	}
	if actor.UserID == order.UserID {
		for _, allowed := range buyerTransitions[order.Status] {
			if allowed == next {
				return nil
			}
		}
		// Owners who also run a shop on the order fall through to the
		// seller check below.
	}
	if actor.IsSeller() && orderTouchesShops(order, ownedShops) {
		return nil
	}
	return ErrOrderForbidden
}

func transitionAllowed(from, to domain.OrderStatus) bool {
	for _, allowed := range orderStateTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func knownOrderStatus(status domain.OrderStatus) bool {
	switch status {
	case domain.OrderStatusPending, domain.OrderStatusProcessing, domain.OrderStatusDelivering,
		domain.OrderStatusDelivered, domain.OrderStatusCancelled:
		return true
	}
	return false
}

func orderTouchesShops(order Order, shops map[string]struct{}) bool {
	for shopID := range shops {
		if order.ContainsShop(shopID) {
			return true
		}
	}
	return false
}

func translateOrderRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrOrderForbidden) || errors.Is(err, ErrOrderInvalidState) ||
		errors.Is(err, ErrOrderConflict) || errors.Is(err, ErrOrderInvalidInput) {
		return err
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
}

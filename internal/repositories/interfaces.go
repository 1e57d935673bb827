package repositories

import (
	"context"
	"time"

	domain "github.com/mekongeats/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Catalog() CatalogRepository
	Stock() StockRepository
	Orders() OrderRepository
	Vouchers() VoucherRepository
	Notifications() NotificationRepository
	Shops() ShopRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// CatalogRepository is the read-only accessor over product records consumed by
// pricing. Results are point-in-time snapshots with no caching guarantee.
type CatalogRepository interface {
	GetProduct(ctx context.Context, productID string) (domain.Product, error)
	GetProducts(ctx context.Context, productIDs []string) (map[string]domain.Product, error)
}

// StockRepository mutates per-product stock with transactional guarantees.
// Debit applies an atomic conditional decrement (decrement-if-stock-covers) per
// line and increments the product's order counter; any line that cannot be
// covered aborts the whole batch and is reported via StockError. Credit
// increments stock back and never fails on arithmetic.
type StockRepository interface {
	Debit(ctx context.Context, req StockDebitRequest) (StockDebitResult, error)
	Credit(ctx context.Context, req StockCreditRequest) error
}

// StockDebitRequest carries the normalised lines to debit in one transaction.
type StockDebitRequest struct {
	Lines []domain.StockLine
	Now   time.Time
}

// StockDebitResult reports the post-debit stock level per product.
type StockDebitResult struct {
	Stocks map[string]int64
}

// StockCreditRequest carries the lines to credit back in one transaction.
type StockCreditRequest struct {
	Lines []domain.StockLine
	Now   time.Time
}

// PlaceOrderRequest materialises an order atomically: the stock debit, the
// voucher redemption, the order-number allocation, and the order insert either
// all commit or none do.
type PlaceOrderRequest struct {
	Order domain.Order
	// RedeemVoucherID, when set, decrements the voucher's remaining count in
	// the same transaction. A count already at zero is skipped rather than
	// failing the placement: pricing was agreed at checkout time.
	RedeemVoucherID string
	Now             time.Time
}

// PlaceOrderResult returns the persisted order (with allocated number) and the
// post-debit stock levels.
type PlaceOrderResult struct {
	Order  domain.Order
	Stocks map[string]int64
}

// OrderListFilter narrows order listings.
type OrderListFilter struct {
	Statuses  []domain.OrderStatus
	PageSize  int
	PageToken string
}

// OrderRepository persists order aggregates. Mutate runs read-validate-write
// for a single order inside one transaction so transitions are linearizable
// per order id.
type OrderRepository interface {
	Place(ctx context.Context, req PlaceOrderRequest) (PlaceOrderResult, error)
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	Mutate(ctx context.Context, orderID string, fn func(order *domain.Order) error) (domain.Order, error)
	Delete(ctx context.Context, orderID string) error
	ListByBuyer(ctx context.Context, userID string, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	ListByShop(ctx context.Context, shopID string, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// VoucherRepository persists promotional vouchers.
type VoucherRepository interface {
	Insert(ctx context.Context, voucher domain.Voucher) error
	Update(ctx context.Context, voucher domain.Voucher) error
	FindByID(ctx context.Context, voucherID string) (domain.Voucher, error)
	FindByCode(ctx context.Context, code string) (domain.Voucher, error)
	ListByShop(ctx context.Context, shopID string, pageSize int, pageToken string) (domain.CursorPage[domain.Voucher], error)
	// Collect records the voucher in the user's wallet. Collecting the same
	// voucher twice is a conflict.
	Collect(ctx context.Context, voucherID, userID string, now time.Time) error
}

// NotificationListFilter narrows notification listings.
type NotificationListFilter struct {
	UnreadOnly bool
	PageSize   int
	PageToken  string
}

// NotificationRepository persists per-user inbox entries.
type NotificationRepository interface {
	Insert(ctx context.Context, notifications []domain.Notification) error
	ListByUser(ctx context.Context, userID string, filter NotificationListFilter) (domain.CursorPage[domain.Notification], error)
	MarkRead(ctx context.Context, userID, notificationID string, now time.Time) error
}

// ShopRepository resolves shop ownership for authorization and notification routing.
type ShopRepository interface {
	FindByID(ctx context.Context, shopID string) (domain.Shop, error)
	ListBySeller(ctx context.Context, sellerID string) ([]domain.Shop, error)
}

// HealthRepository probes the persistence backend for readiness checks.
type HealthRepository interface {
	Ping(ctx context.Context) error
}

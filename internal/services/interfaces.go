package services

import (
	"context"
	"time"

	domain "github.com/mekongeats/api/internal/domain"
	"github.com/mekongeats/api/internal/payments"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Money            = domain.Money
	Product          = domain.Product
	StockLine        = domain.StockLine
	Order            = domain.Order
	OrderItem        = domain.OrderItem
	OrderStatus      = domain.OrderStatus
	PaymentMethod    = domain.PaymentMethod
	RefundRequest    = domain.RefundRequest
	RefundStatus     = domain.RefundStatus
	Address          = domain.Address
	Voucher          = domain.Voucher
	VoucherKind      = domain.VoucherKind
	Notification     = domain.Notification
	NotificationKind = domain.NotificationKind
	Shop             = domain.Shop
	PricingBreakdown = domain.PricingBreakdown
)

// Role names carried in the actor's claim set.
const (
	RoleBuyer  = "buyer"
	RoleSeller = "seller"
	RoleAdmin  = "admin"
)

// Actor identifies the authenticated caller for authorization decisions.
type Actor struct {
	UserID string
	Roles  []string
}

// HasRole reports whether the actor carries the given role.
func (a Actor) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsSeller reports whether the actor may act on behalf of a shop.
func (a Actor) IsSeller() bool { return a.HasRole(RoleSeller) }

// IsAdmin reports whether the actor holds platform-operator privileges.
func (a Actor) IsAdmin() bool { return a.HasRole(RoleAdmin) }

// CartLine is a buyer-supplied product/quantity pair before pricing.
type CartLine struct {
	ProductID string
	Quantity  int64
}

// PriceCartCommand carries the inputs needed to price a cart.
type PriceCartCommand struct {
	BuyerID   string
	Lines     []CartLine
	VoucherID string
}

// PricingQuote is a priced cart: the breakdown plus the product snapshots it
// was derived from, so callers can build line items without a second read.
type PricingQuote struct {
	PricingBreakdown
	Products         map[string]Product
	EstimatedMinutes int
}

// PricingEngine validates cart lines against the catalog and computes the
// order amounts, applying a voucher when one survives validation.
type PricingEngine interface {
	PriceCart(ctx context.Context, cmd PriceCartCommand) (PricingQuote, error)
}

// StockLedger applies stock movements outside of order placement, primarily
// the compensating credits issued on cancellation and accepted refunds.
type StockLedger interface {
	Debit(ctx context.Context, lines []StockLine) (map[string]int64, error)
	Credit(ctx context.Context, lines []StockLine) error
}

// CheckoutCommand is a buyer's request to turn a cart into an order.
type CheckoutCommand struct {
	BuyerID        string
	Lines          []CartLine
	Address        Address
	PaymentMethod  PaymentMethod
	VoucherID      string
	NoteForShop    string
	NoteForShipper string
}

// CheckoutResult is either a materialized order (cash on delivery) or a
// payment URL the buyer must visit first (wallet).
type CheckoutResult struct {
	Order    *Order
	PayURL   string
	Deeplink string
}

// CallbackOutcome reports how a gateway callback was handled.
type CallbackOutcome struct {
	OrderID string
	// Duplicate marks a callback whose transaction id was already processed.
	Duplicate bool
	// Ignored marks an authentic callback reporting a failed payment.
	Ignored bool
}

// CheckoutService owns order placement for every settlement path and the
// gateway callback that completes asynchronous ones.
type CheckoutService interface {
	Checkout(ctx context.Context, cmd CheckoutCommand) (CheckoutResult, error)
	HandleGatewayCallback(ctx context.Context, payload payments.CallbackPayload) (CallbackOutcome, error)
}

// OrderListQuery narrows order listings. ShopID is required for seller
// listings when the seller owns more than one shop.
type OrderListQuery struct {
	Statuses  []OrderStatus
	ShopID    string
	PageSize  int
	PageToken string
}

// OrderService manages the post-placement order lifecycle: reads, status
// transitions, cancellation, deletion, and the refund sub-flow.
type OrderService interface {
	Get(ctx context.Context, actor Actor, orderID string) (Order, error)
	ListForBuyer(ctx context.Context, actor Actor, query OrderListQuery) (domain.CursorPage[Order], error)
	ListForSeller(ctx context.Context, actor Actor, query OrderListQuery) (domain.CursorPage[Order], error)
	TransitionStatus(ctx context.Context, actor Actor, orderID string, next OrderStatus) (Order, error)
	Cancel(ctx context.Context, actor Actor, orderID string) (Order, error)
	Delete(ctx context.Context, actor Actor, orderID string) error
	RequestRefund(ctx context.Context, actor Actor, orderID, reason string) (Order, error)
	ResolveRefund(ctx context.Context, actor Actor, orderID string, accept bool) (Order, error)
}

// UpsertVoucherCommand carries the seller-editable voucher fields.
type UpsertVoucherCommand struct {
	Code        string
	Kind        VoucherKind
	Value       int64
	MinOrder    Money
	MaxDiscount Money
	StartAt     time.Time
	EndAt       time.Time
	Remaining   int64
	ShopID      string
	ProductIDs  []string
	UserIDs     []string
}

// VoucherService exposes voucher discovery and collection to buyers and
// voucher management to sellers.
type VoucherService interface {
	GetByCode(ctx context.Context, code string) (Voucher, error)
	Collect(ctx context.Context, actor Actor, code string) (Voucher, error)
	ListForShop(ctx context.Context, shopID string, pageSize int, pageToken string) (domain.CursorPage[Voucher], error)
	Create(ctx context.Context, actor Actor, cmd UpsertVoucherCommand) (Voucher, error)
	Update(ctx context.Context, actor Actor, voucherID string, cmd UpsertVoucherCommand) (Voucher, error)
	Deactivate(ctx context.Context, actor Actor, voucherID string) (Voucher, error)
}

// NotificationInput is the sender-side view of a notification before fan-out.
type NotificationInput struct {
	SenderID string
	Kind     NotificationKind
	Message  string
	Metadata map[string]any
}

// NotificationDispatcher fans notifications out to recipients. Dispatch is
// fire and forget: failures are logged, never propagated, so a notification
// outage cannot fail an order operation.
type NotificationDispatcher interface {
	Notify(ctx context.Context, recipientID string, input NotificationInput)
	NotifyMany(ctx context.Context, recipientIDs []string, input NotificationInput)
}

// NotificationListQuery narrows inbox listings.
type NotificationListQuery struct {
	UnreadOnly bool
	PageSize   int
	PageToken  string
}

// NotificationService is the dispatcher plus the per-user inbox surface.
type NotificationService interface {
	NotificationDispatcher
	ListForUser(ctx context.Context, userID string, query NotificationListQuery) (domain.CursorPage[Notification], error)
	MarkRead(ctx context.Context, userID, notificationID string) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Name       string         `json:"name"`
	OrderID    string         `json:"orderId"`
	UserID     string         `json:"userId"`
	Status     string         `json:"status"`
	OccurredAt time.Time      `json:"occurredAt"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// EventPublisher publishes order domain events for downstream consumers.
// Implementations return the broker-assigned message id.
type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) (string, error)
}

// HealthReport summarises backend component health for readiness probes.
type HealthReport struct {
	Status     string
	Components map[string]string
	CheckedAt  time.Time
}

// SystemService aggregates platform health checks.
type SystemService interface {
	Health(ctx context.Context) (HealthReport, error)
}

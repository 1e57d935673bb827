package domain

import (
	"time"
)

// ---------------------------------------------------------------------------
// Shared primitives
// ---------------------------------------------------------------------------

// Money is an amount in Vietnamese dong. The currency has no minor unit, so
// values are whole dong.
type Money = int64

// CursorPage wraps a page of results together with the token needed to fetch
// the next page. An empty NextPageToken means the listing is exhausted.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// ---------------------------------------------------------------------------
// Catalog (consumed view)
// ---------------------------------------------------------------------------

// Product is the slice of the catalog record this subsystem reads and whose
// stock it mutates. Everything else about a product is owned elsewhere.
type Product struct {
	ID          string
	Name        string
	UnitPrice   Money
	Stock       int64
	PrepMinutes int
	ShopID      string
	SellerID    string
	OrdersCount int64
}

// StockLine is a per-product quantity used by stock debits and credits.
type StockLine struct {
	ProductID string
	Quantity  int64
}

// ---------------------------------------------------------------------------
// Orders
// ---------------------------------------------------------------------------

// PaymentMethod selects the settlement path for an order.
type PaymentMethod string

const (
	PaymentMethodCOD    PaymentMethod = "cod"
	PaymentMethodWallet PaymentMethod = "wallet"
)

// OrderStatus enumerates the order lifecycle states.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusDelivering OrderStatus = "delivering"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// RefundStatus enumerates the refund sub-record states.
type RefundStatus string

const (
	RefundStatusPending  RefundStatus = "pending"
	RefundStatusAccepted RefundStatus = "accepted"
	RefundStatusRejected RefundStatus = "rejected"
)

// OrderItem is a line-item snapshot. Name and UnitPrice are copied from the
// catalog at checkout time and never re-derived, so the historical total stays
// computable from the order alone after catalog prices change.
type OrderItem struct {
	ProductID string
	Name      string
	UnitPrice Money
	Quantity  int64
	ShopID    string
}

// Address is the delivery address snapshot embedded in an order.
type Address struct {
	Recipient string
	Phone     string
	Line      string
	Ward      string
	District  string
	City      string
}

// RefundRequest is the buyer-initiated, seller-resolved sub-record attached to
// a delivered order. At most one request may be pending at a time.
type RefundRequest struct {
	Status      RefundStatus
	Reason      string
	RequestedAt time.Time
	RespondedAt *time.Time
}

// Order is the aggregate root of this subsystem. It owns its line-item
// snapshots and refund sub-record exclusively.
type Order struct {
	ID               string
	Number           string
	UserID           string
	Items            []OrderItem
	Subtotal         Money
	Discount         Money
	DeliveryFee      Money
	Total            Money
	VoucherID        string
	Address          Address
	PaymentMethod    PaymentMethod
	NoteForShop      string
	NoteForShipper   string
	Status           OrderStatus
	RefundRequest    *RefundRequest
	EstimatedMinutes int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ShopIDs returns the distinct shop references touched by the order, in first
// occurrence order.
func (o Order) ShopIDs() []string {
	seen := make(map[string]struct{}, len(o.Items))
	ids := make([]string, 0, len(o.Items))
	for _, item := range o.Items {
		if item.ShopID == "" {
			continue
		}
		if _, ok := seen[item.ShopID]; ok {
			continue
		}
		seen[item.ShopID] = struct{}{}
		ids = append(ids, item.ShopID)
	}
	return ids
}

// ContainsShop reports whether any line item belongs to the given shop.
func (o Order) ContainsShop(shopID string) bool {
	for _, item := range o.Items {
		if item.ShopID == shopID {
			return true
		}
	}
	return false
}

// StockLines returns the per-product quantities needed to debit or credit the
// ledger for this order.
func (o Order) StockLines() []StockLine {
	lines := make([]StockLine, 0, len(o.Items))
	for _, item := range o.Items {
		lines = append(lines, StockLine{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return lines
}

// ---------------------------------------------------------------------------
// Vouchers
// ---------------------------------------------------------------------------

// VoucherKind distinguishes the two discount formulas.
type VoucherKind string

const (
	VoucherKindPercentage VoucherKind = "percentage"
	VoucherKindFixed      VoucherKind = "fixed"
)

// Voucher is a promotional rule owned by the platform or a single shop.
// ShopID is empty for platform-wide vouchers. Empty allowlists mean open
// applicability.
type Voucher struct {
	ID          string
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
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// UsableAt reports whether the voucher may be redeemed at the given instant,
// ignoring order-specific conditions (minimum order, allowlists).
func (v Voucher) UsableAt(now time.Time) bool {
	if !v.Active || v.Remaining <= 0 {
		return false
	}
	if now.Before(v.StartAt) {
		return false
	}
	if !v.EndAt.IsZero() && now.After(v.EndAt) {
		return false
	}
	return true
}

// AdmitsUser reports whether the buyer passes the voucher's user allowlist.
func (v Voucher) AdmitsUser(userID string) bool {
	if len(v.UserIDs) == 0 {
		return true
	}
	for _, id := range v.UserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// AdmitsProduct reports whether the product passes the voucher's product allowlist.
func (v Voucher) AdmitsProduct(productID string) bool {
	if len(v.ProductIDs) == 0 {
		return true
	}
	for _, id := range v.ProductIDs {
		if id == productID {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Notifications
// ---------------------------------------------------------------------------

// NotificationKind classifies a notification record.
type NotificationKind string

const (
	NotificationKindOrder  NotificationKind = "order"
	NotificationKindPromo  NotificationKind = "promo"
	NotificationKindSystem NotificationKind = "system"
)

// Notification is a persisted inbox entry for a single user.
type Notification struct {
	ID        string
	UserID    string
	SenderID  string
	Message   string
	Kind      NotificationKind
	Metadata  map[string]any
	Read      bool
	CreatedAt time.Time
}

// ---------------------------------------------------------------------------
// Shops
// ---------------------------------------------------------------------------

// Shop is the directory view used to resolve ownership for authorization and
// notification routing.
type Shop struct {
	ID       string
	Name     string
	SellerID string
}

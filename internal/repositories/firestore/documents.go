package firestore

import (
	"fmt"
	"strings"
	"time"

	domain "github.com/mekongeats/api/internal/domain"
	"github.com/mekongeats/api/internal/platform/pagination"
)

const (
	productsCollection         = "products"
	ordersCollection           = "orders"
	vouchersCollection         = "vouchers"
	voucherWalletsCollection   = "voucherWallets"
	notificationsCollection    = "notifications"
	shopsCollection            = "shops"
	countersCollection         = "counters"
	healthCollection           = "healthchecks"
	orderNumberCounterDocument = "orders"
)

type productDocument struct {
	Name        string    `firestore:"name"`
	UnitPrice   int64     `firestore:"unitPrice"`
	Stock       int64     `firestore:"stock"`
	PrepMinutes int       `firestore:"prepMinutes"`
	ShopID      string    `firestore:"shopId"`
	SellerID    string    `firestore:"sellerId"`
	OrdersCount int64     `firestore:"ordersCount"`
	UpdatedAt   time.Time `firestore:"updatedAt"`
}

func (d productDocument) toDomain(id string) domain.Product {
	return domain.Product{
		ID:          id,
		Name:        d.Name,
		UnitPrice:   d.UnitPrice,
		Stock:       d.Stock,
		PrepMinutes: d.PrepMinutes,
		ShopID:      d.ShopID,
		SellerID:    d.SellerID,
		OrdersCount: d.OrdersCount,
	}
}

type orderItemDocument struct {
	ProductID string `firestore:"productId"`
	Name      string `firestore:"name"`
	UnitPrice int64  `firestore:"unitPrice"`
	Quantity  int64  `firestore:"qty"`
	ShopID    string `firestore:"shopId"`
}

type addressDocument struct {
	Recipient string `firestore:"recipient"`
	Phone     string `firestore:"phone"`
	Line      string `firestore:"line"`
	Ward      string `firestore:"ward,omitempty"`
	District  string `firestore:"district,omitempty"`
	City      string `firestore:"city,omitempty"`
}

type refundDocument struct {
	Status      string     `firestore:"status"`
	Reason      string     `firestore:"reason"`
	RequestedAt time.Time  `firestore:"requestedAt"`
	RespondedAt *time.Time `firestore:"respondedAt,omitempty"`
}

type orderDocument struct {
	Number           string              `firestore:"number"`
	UserID           string              `firestore:"userId"`
	Items            []orderItemDocument `firestore:"items"`
	ShopIDs          []string            `firestore:"shopIds"`
	Subtotal         int64               `firestore:"subtotal"`
	Discount         int64               `firestore:"discount"`
	DeliveryFee      int64               `firestore:"deliveryFee"`
	Total            int64               `firestore:"total"`
	VoucherID        string              `firestore:"voucherId,omitempty"`
	Address          addressDocument     `firestore:"address"`
	PaymentMethod    string              `firestore:"paymentMethod"`
	NoteForShop      string              `firestore:"noteForShop,omitempty"`
	NoteForShipper   string              `firestore:"noteForShipper,omitempty"`
	Status           string              `firestore:"status"`
	Refund           *refundDocument     `firestore:"refund,omitempty"`
	EstimatedMinutes int                 `firestore:"estimatedMinutes"`
	CreatedAt        time.Time           `firestore:"createdAt"`
	UpdatedAt        time.Time           `firestore:"updatedAt"`
}

func newOrderDocument(order domain.Order) orderDocument {
	items := make([]orderItemDocument, len(order.Items))
	for i, item := range order.Items {
		items[i] = orderItemDocument{
			ProductID: item.ProductID,
			Name:      item.Name,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
			ShopID:    item.ShopID,
		}
	}
	var refund *refundDocument
	if order.RefundRequest != nil {
		refund = &refundDocument{
			Status:      string(order.RefundRequest.Status),
			Reason:      order.RefundRequest.Reason,
			RequestedAt: order.RefundRequest.RequestedAt.UTC(),
			RespondedAt: order.RefundRequest.RespondedAt,
		}
	}
	return orderDocument{
		Number: order.Number,
		UserID: order.UserID,
		Items:  items,
		// ShopIDs is denormalised for the seller listing query.
		ShopIDs:     order.ShopIDs(),
		Subtotal:    order.Subtotal,
		Discount:    order.Discount,
		DeliveryFee: order.DeliveryFee,
		Total:       order.Total,
		VoucherID:   order.VoucherID,
		Address: addressDocument{
			Recipient: order.Address.Recipient,
			Phone:     order.Address.Phone,
			Line:      order.Address.Line,
			Ward:      order.Address.Ward,
			District:  order.Address.District,
			City:      order.Address.City,
		},
		PaymentMethod:    string(order.PaymentMethod),
		NoteForShop:      order.NoteForShop,
		NoteForShipper:   order.NoteForShipper,
		Status:           string(order.Status),
		Refund:           refund,
		EstimatedMinutes: order.EstimatedMinutes,
		CreatedAt:        order.CreatedAt.UTC(),
		UpdatedAt:        order.UpdatedAt.UTC(),
	}
}

func (d orderDocument) toDomain(id string) domain.Order {
	items := make([]domain.OrderItem, len(d.Items))
	for i, item := range d.Items {
		items[i] = domain.OrderItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
			ShopID:    item.ShopID,
		}
	}
	var refund *domain.RefundRequest
	if d.Refund != nil {
		refund = &domain.RefundRequest{
			Status:      domain.RefundStatus(d.Refund.Status),
			Reason:      d.Refund.Reason,
			RequestedAt: d.Refund.RequestedAt,
			RespondedAt: d.Refund.RespondedAt,
		}
	}
	return domain.Order{
		ID:          id,
		Number:      d.Number,
		UserID:      d.UserID,
		Items:       items,
		Subtotal:    d.Subtotal,
		Discount:    d.Discount,
		DeliveryFee: d.DeliveryFee,
		Total:       d.Total,
		VoucherID:   d.VoucherID,
		Address: domain.Address{
			Recipient: d.Address.Recipient,
			Phone:     d.Address.Phone,
			Line:      d.Address.Line,
			Ward:      d.Address.Ward,
			District:  d.Address.District,
			City:      d.Address.City,
		},
		PaymentMethod:    domain.PaymentMethod(d.PaymentMethod),
		NoteForShop:      d.NoteForShop,
		NoteForShipper:   d.NoteForShipper,
		Status:           domain.OrderStatus(d.Status),
		RefundRequest:    refund,
		EstimatedMinutes: d.EstimatedMinutes,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
}

type voucherDocument struct {
	Code        string    `firestore:"code"`
	Kind        string    `firestore:"kind"`
	Value       int64     `firestore:"value"`
	MinOrder    int64     `firestore:"minOrder"`
	MaxDiscount int64     `firestore:"maxDiscount"`
	StartAt     time.Time `firestore:"startAt"`
	EndAt       time.Time `firestore:"endAt"`
	Remaining   int64     `firestore:"remaining"`
	ShopID      string    `firestore:"shopId,omitempty"`
	ProductIDs  []string  `firestore:"productIds,omitempty"`
	UserIDs     []string  `firestore:"userIds,omitempty"`
	Active      bool      `firestore:"active"`
	CreatedAt   time.Time `firestore:"createdAt"`
	UpdatedAt   time.Time `firestore:"updatedAt"`
}

func newVoucherDocument(voucher domain.Voucher) voucherDocument {
	return voucherDocument{
		Code:        voucher.Code,
		Kind:        string(voucher.Kind),
		Value:       voucher.Value,
		MinOrder:    voucher.MinOrder,
		MaxDiscount: voucher.MaxDiscount,
		StartAt:     voucher.StartAt.UTC(),
		EndAt:       voucher.EndAt.UTC(),
		Remaining:   voucher.Remaining,
		ShopID:      voucher.ShopID,
		ProductIDs:  voucher.ProductIDs,
		UserIDs:     voucher.UserIDs,
		Active:      voucher.Active,
		CreatedAt:   voucher.CreatedAt.UTC(),
		UpdatedAt:   voucher.UpdatedAt.UTC(),
	}
}

func (d voucherDocument) toDomain(id string) domain.Voucher {
	return domain.Voucher{
		ID:          id,
		Code:        d.Code,
		Kind:        domain.VoucherKind(d.Kind),
		Value:       d.Value,
		MinOrder:    d.MinOrder,
		MaxDiscount: d.MaxDiscount,
		StartAt:     d.StartAt,
		EndAt:       d.EndAt,
		Remaining:   d.Remaining,
		ShopID:      d.ShopID,
		ProductIDs:  d.ProductIDs,
		UserIDs:     d.UserIDs,
		Active:      d.Active,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

type collectedVoucherDocument struct {
	VoucherID   string    `firestore:"voucherId"`
	UserID      string    `firestore:"userId"`
	CollectedAt time.Time `firestore:"collectedAt"`
}

type notificationDocument struct {
	UserID    string         `firestore:"userId"`
	SenderID  string         `firestore:"senderId,omitempty"`
	Message   string         `firestore:"message"`
	Kind      string         `firestore:"kind"`
	Metadata  map[string]any `firestore:"metadata,omitempty"`
	Read      bool           `firestore:"read"`
	ReadAt    *time.Time     `firestore:"readAt,omitempty"`
	CreatedAt time.Time      `firestore:"createdAt"`
}

func newNotificationDocument(n domain.Notification) notificationDocument {
	return notificationDocument{
		UserID:    n.UserID,
		SenderID:  n.SenderID,
		Message:   n.Message,
		Kind:      string(n.Kind),
		Metadata:  n.Metadata,
		Read:      n.Read,
		CreatedAt: n.CreatedAt.UTC(),
	}
}

func (d notificationDocument) toDomain(id string) domain.Notification {
	return domain.Notification{
		ID:        id,
		UserID:    d.UserID,
		SenderID:  d.SenderID,
		Message:   d.Message,
		Kind:      domain.NotificationKind(d.Kind),
		Metadata:  d.Metadata,
		Read:      d.Read,
		CreatedAt: d.CreatedAt,
	}
}

type shopDocument struct {
	Name     string `firestore:"name"`
	SellerID string `firestore:"sellerId"`
}

func (d shopDocument) toDomain(id string) domain.Shop {
	return domain.Shop{ID: id, Name: d.Name, SellerID: d.SellerID}
}

type counterDocument struct {
	Value int64 `firestore:"value"`
}

// Listings order by createdAt descending with the document id as tiebreaker.
// The page token carries both so StartAfter resumes deterministically.

func encodeCreatedAtCursor(createdAt time.Time, id string) (string, error) {
	return pagination.EncodeToken(pagination.Cursor{
		StartAfter: []any{createdAt.UTC().Format(time.RFC3339Nano), id},
	})
}

func decodeCreatedAtCursor(token string) (time.Time, string, error) {
	cursor, err := pagination.DecodeToken(token)
	if err != nil {
		return time.Time{}, "", err
	}
	if len(cursor.StartAfter) == 0 {
		return time.Time{}, "", nil
	}
	if len(cursor.StartAfter) != 2 {
		return time.Time{}, "", fmt.Errorf("%w: unexpected cursor shape", pagination.ErrInvalidPageToken)
	}
	rawTime, ok := cursor.StartAfter[0].(string)
	if !ok {
		return time.Time{}, "", fmt.Errorf("%w: unexpected cursor timestamp", pagination.ErrInvalidPageToken)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(rawTime))
	if err != nil {
		return time.Time{}, "", fmt.Errorf("%w: %v", pagination.ErrInvalidPageToken, err)
	}
	id, ok := cursor.StartAfter[1].(string)
	if !ok {
		return time.Time{}, "", fmt.Errorf("%w: unexpected cursor id", pagination.ErrInvalidPageToken)
	}
	return createdAt, id, nil
}

func normalisePageSize(size int) int {
	switch {
	case size <= 0:
		return 50
	case size > 200:
		return 200
	default:
		return size
	}
}

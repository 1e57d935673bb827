package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	domain "github.com/mekongeats/api/internal/domain"
	"github.com/mekongeats/api/internal/payments"
	"github.com/mekongeats/api/internal/platform/auth"
	"github.com/mekongeats/api/internal/platform/httpx"
	"github.com/mekongeats/api/internal/platform/pagination"
	"github.com/mekongeats/api/internal/services"
)

const (
	defaultPageSize    = 20
	maxPageSize        = 100
	maxRequestBodySize = 64 * 1024
)

var (
	errEmptyBody    = errors.New("request body is empty")
	errBodyTooLarge = errors.New("request body too large")
)

var validOrderStatuses = map[domain.OrderStatus]struct{}{
	domain.OrderStatusPending:    {},
	domain.OrderStatusProcessing: {},
	domain.OrderStatusDelivering: {},
	domain.OrderStatusDelivered:  {},
	domain.OrderStatusCancelled:  {},
}

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = maxRequestBodySize
	}
	reader := io.LimitReader(r.Body, limit+1)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	httpx.WriteJSON(w, status, payload)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

// actorFromRequest derives the service-layer actor from the authenticated identity.
func actorFromRequest(ctx context.Context) (services.Actor, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		return services.Actor{}, false
	}
	return services.Actor{
		UserID: strings.TrimSpace(identity.UID),
		Roles:  identity.Roles,
	}, true
}

func requireActor(ctx context.Context, w http.ResponseWriter) (services.Actor, bool) {
	actor, ok := actorFromRequest(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return services.Actor{}, false
	}
	return actor, true
}

func parsePageSize(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultPageSize, nil
	}
	size, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("page_size must be an integer")
	}
	switch {
	case size <= 0:
		return defaultPageSize, nil
	case size > maxPageSize:
		return maxPageSize, nil
	default:
		return size, nil
	}
}

func parseOrderStatuses(values []string) ([]services.OrderStatus, error) {
	statuses := make([]services.OrderStatus, 0, len(values))
	for _, raw := range values {
		for _, piece := range strings.Split(raw, ",") {
			piece = strings.TrimSpace(piece)
			if piece == "" {
				continue
			}
			status := domain.OrderStatus(strings.ToLower(piece))
			if _, ok := validOrderStatuses[status]; !ok {
				return nil, errors.New("status filter contains an unknown order status")
			}
			statuses = append(statuses, status)
		}
	}
	return statuses, nil
}

// Response payloads --------------------------------------------------------

type orderItemPayload struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	UnitPrice int64  `json:"unitPrice"`
	Quantity  int64  `json:"qty"`
	ShopID    string `json:"shopId"`
}

type addressPayload struct {
	Recipient string `json:"recipient"`
	Phone     string `json:"phone"`
	Line      string `json:"line"`
	Ward      string `json:"ward,omitempty"`
	District  string `json:"district,omitempty"`
	City      string `json:"city,omitempty"`
}

type refundPayload struct {
	Status      string `json:"status"`
	Reason      string `json:"reason"`
	RequestedAt string `json:"requestedAt"`
	RespondedAt string `json:"respondedAt,omitempty"`
}

type orderPayload struct {
	ID               string             `json:"id"`
	Number           string             `json:"number"`
	UserID           string             `json:"userId"`
	Items            []orderItemPayload `json:"items"`
	Subtotal         int64              `json:"subtotal"`
	Discount         int64              `json:"discount"`
	DeliveryFee      int64              `json:"deliveryFee"`
	Total            int64              `json:"total"`
	VoucherID        string             `json:"voucherId,omitempty"`
	Address          addressPayload     `json:"address"`
	PaymentMethod    string             `json:"paymentMethod"`
	NoteForShop      string             `json:"noteForShop,omitempty"`
	NoteForShipper   string             `json:"noteForShipper,omitempty"`
	Status           string             `json:"status"`
	Refund           *refundPayload     `json:"refund,omitempty"`
	EstimatedMinutes int                `json:"estimatedMinutes"`
	CreatedAt        string             `json:"createdAt"`
	UpdatedAt        string             `json:"updatedAt"`
}

func buildOrderPayload(order domain.Order) orderPayload {
	items := make([]orderItemPayload, len(order.Items))
	for i, item := range order.Items {
		items[i] = orderItemPayload{
			ProductID: item.ProductID,
			Name:      item.Name,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
			ShopID:    item.ShopID,
		}
	}
	var refund *refundPayload
	if order.RefundRequest != nil {
		refund = &refundPayload{
			Status:      string(order.RefundRequest.Status),
			Reason:      order.RefundRequest.Reason,
			RequestedAt: formatTime(order.RefundRequest.RequestedAt),
			RespondedAt: formatTimePtr(order.RefundRequest.RespondedAt),
		}
	}
	return orderPayload{
		ID:          order.ID,
		Number:      order.Number,
		UserID:      order.UserID,
		Items:       items,
		Subtotal:    order.Subtotal,
		Discount:    order.Discount,
		DeliveryFee: order.DeliveryFee,
		Total:       order.Total,
		VoucherID:   order.VoucherID,
		Address: addressPayload{
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
		CreatedAt:        formatTime(order.CreatedAt),
		UpdatedAt:        formatTime(order.UpdatedAt),
	}
}

type orderListResponse struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"nextPageToken,omitempty"`
}

func buildOrderListResponse(page domain.CursorPage[domain.Order]) orderListResponse {
	items := make([]orderPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderPayload(order))
	}
	return orderListResponse{Items: items, NextPageToken: page.NextPageToken}
}

type voucherPayload struct {
	ID          string   `json:"id"`
	Code        string   `json:"code"`
	Kind        string   `json:"kind"`
	Value       int64    `json:"value"`
	MinOrder    int64    `json:"minOrder"`
	MaxDiscount int64    `json:"maxDiscount,omitempty"`
	StartAt     string   `json:"startAt"`
	EndAt       string   `json:"endAt,omitempty"`
	Remaining   int64    `json:"remaining"`
	ShopID      string   `json:"shopId,omitempty"`
	ProductIDs  []string `json:"productIds,omitempty"`
	Active      bool     `json:"active"`
}

func buildVoucherPayload(voucher domain.Voucher) voucherPayload {
	return voucherPayload{
		ID:          voucher.ID,
		Code:        voucher.Code,
		Kind:        string(voucher.Kind),
		Value:       voucher.Value,
		MinOrder:    voucher.MinOrder,
		MaxDiscount: voucher.MaxDiscount,
		StartAt:     formatTime(voucher.StartAt),
		EndAt:       formatTime(voucher.EndAt),
		Remaining:   voucher.Remaining,
		ShopID:      voucher.ShopID,
		ProductIDs:  voucher.ProductIDs,
		Active:      voucher.Active,
	}
}

type notificationPayload struct {
	ID        string         `json:"id"`
	SenderID  string         `json:"senderId,omitempty"`
	Message   string         `json:"message"`
	Kind      string         `json:"kind"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Read      bool           `json:"read"`
	CreatedAt string         `json:"createdAt"`
}

func buildNotificationPayload(n domain.Notification) notificationPayload {
	return notificationPayload{
		ID:        n.ID,
		SenderID:  n.SenderID,
		Message:   n.Message,
		Kind:      string(n.Kind),
		Metadata:  n.Metadata,
		Read:      n.Read,
		CreatedAt: formatTime(n.CreatedAt),
	}
}

// writeServiceError maps service sentinels onto the shared error envelope.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	var outOfStock *services.OutOfStockError
	if errors.As(err, &outOfStock) {
		httpErr := httpx.NewError("out_of_stock", "one or more products cannot cover the requested quantity", http.StatusConflict)
		if len(outOfStock.ProductIDs) > 0 {
			httpErr = httpErr.WithDetails(map[string]any{"productIds": outOfStock.ProductIDs})
		}
		httpx.WriteError(ctx, w, httpErr)
		return
	}

	switch {
	case errors.Is(err, services.ErrPricingInvalidInput),
		errors.Is(err, services.ErrCheckoutInvalidInput),
		errors.Is(err, services.ErrOrderInvalidInput),
		errors.Is(err, services.ErrStockInvalidInput),
		errors.Is(err, services.ErrVoucherInvalidInput),
		errors.Is(err, services.ErrNotificationInvalidInput),
		errors.Is(err, pagination.ErrInvalidPageToken),
		errors.Is(err, pagination.ErrInvalidPageSize):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCallbackInvalid):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_callback", err.Error(), http.StatusBadRequest))
	case errors.Is(err, payments.ErrSignatureMismatch):
		httpx.WriteError(ctx, w, httpx.NewError("signature_mismatch", "callback signature verification failed", http.StatusUnauthorized))
	case errors.Is(err, services.ErrOrderForbidden),
		errors.Is(err, services.ErrVoucherForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "you are not allowed to perform this operation", http.StatusForbidden))
	case errors.Is(err, services.ErrOrderNotFound),
		errors.Is(err, services.ErrVoucherNotFound),
		errors.Is(err, services.ErrNotificationNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("not_found", "resource not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderRestockFailed):
		// The status change committed; only the compensating stock credit is
		// outstanding. 202 tells the caller not to retry the cancel itself.
		httpx.WriteError(ctx, w, httpx.NewError("restock_pending", "the order was cancelled; stock restore is still pending", http.StatusAccepted))
	case errors.Is(err, services.ErrOrderConflict),
		errors.Is(err, services.ErrVoucherAlreadyCollected),
		errors.Is(err, services.ErrVoucherNotCollectable),
		errors.Is(err, services.ErrCallbackInFlight):
		httpx.WriteError(ctx, w, httpx.NewError("conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, payments.ErrGatewayRejected):
		httpx.WriteError(ctx, w, httpx.NewError("gateway_rejected", "payment gateway rejected the request", http.StatusBadGateway))
	case errors.Is(err, payments.ErrGatewayUnavailable),
		errors.Is(err, services.ErrCheckoutUnavailable),
		errors.Is(err, services.ErrOrderUnavailable),
		errors.Is(err, services.ErrStockUnavailable),
		errors.Is(err, services.ErrPricingUnavailable),
		errors.Is(err, services.ErrVoucherUnavailable),
		errors.Is(err, services.ErrNotificationUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "a backing service is unavailable, retry later", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "internal server error", http.StatusInternalServerError))
	}
}

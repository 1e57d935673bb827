package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/mekongeats/api/internal/domain"
	"github.com/mekongeats/api/internal/platform/auth"
	"github.com/mekongeats/api/internal/platform/httpx"
	"github.com/mekongeats/api/internal/services"
)

const maxOrderRequestBody = 8 * 1024

// OrderHandlers exposes the post-placement order lifecycle endpoints.
type OrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
}

// NewOrderHandlers constructs order handlers guarded by authentication.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{authn: authn, orders: orders}
}

// Routes registers the buyer facing order endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.authn != nil {
		group = group.With(h.authn.RequireAuth(auth.RoleBuyer, auth.RoleSeller, auth.RoleAdmin))
	}
	group.Get("/", h.listOrders)
	group.Get("/{orderID}", h.getOrder)
	group.Delete("/{orderID}", h.deleteOrder)
	group.Post("/{orderID}/status", h.transitionStatus)
	group.Post("/{orderID}/cancel", h.cancelOrder)
	group.Post("/{orderID}/refund", h.requestRefund)
	group.Post("/{orderID}/refund/decision", h.resolveRefund)
}

// SellerRoutes registers the seller scoped order listing.
func (h *OrderHandlers) SellerRoutes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.authn != nil {
		group = group.With(h.authn.RequireAuth(auth.RoleSeller, auth.RoleAdmin))
	}
	group.Get("/orders", h.listSellerOrders)
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("orders_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}

	query, err := orderListQueryFromRequest(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.orders.ListForBuyer(ctx, actor, query)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderListResponse(page))
}

func (h *OrderHandlers) listSellerOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("orders_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}

	query, err := orderListQueryFromRequest(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	query.ShopID = strings.TrimSpace(r.URL.Query().Get("shop_id"))

	page, err := h.orders.ListForSeller(ctx, actor, query)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderListResponse(page))
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("orders_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}

	order, err := h.orders.Get(ctx, actor, chi.URLParam(r, "orderID"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

func (h *OrderHandlers) deleteOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("orders_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}

	if err := h.orders.Delete(ctx, actor, chi.URLParam(r, "orderID")); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type orderStatusRequest struct {
	Status string `json:"status"`
}

func (h *OrderHandlers) transitionStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("orders_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxOrderRequestBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}

	var req orderStatusRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}
	next := domain.OrderStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	if _, valid := validOrderStatuses[next]; !valid {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status must be one of pending, processing, delivering, delivered, cancelled", http.StatusBadRequest))
		return
	}

	order, err := h.orders.TransitionStatus(ctx, actor, chi.URLParam(r, "orderID"), next)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("orders_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}

	order, err := h.orders.Cancel(ctx, actor, chi.URLParam(r, "orderID"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

type refundRequestBody struct {
	Reason string `json:"reason"`
}

func (h *OrderHandlers) requestRefund(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("orders_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxOrderRequestBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}

	var req refundRequestBody
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "reason is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.RequestRefund(ctx, actor, chi.URLParam(r, "orderID"), reason)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

type refundDecisionRequest struct {
	Accept bool `json:"accept"`
}

func (h *OrderHandlers) resolveRefund(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("orders_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxOrderRequestBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}

	var req refundDecisionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	order, err := h.orders.ResolveRefund(ctx, actor, chi.URLParam(r, "orderID"), req.Accept)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

func orderListQueryFromRequest(r *http.Request) (services.OrderListQuery, error) {
	values := r.URL.Query()

	pageSize, err := parsePageSize(values.Get("page_size"))
	if err != nil {
		return services.OrderListQuery{}, err
	}
	statuses, err := parseOrderStatuses(values["status"])
	if err != nil {
		return services.OrderListQuery{}, err
	}

	return services.OrderListQuery{
		Statuses:  statuses,
		PageSize:  pageSize,
		PageToken: strings.TrimSpace(values.Get("page_token")),
	}, nil
}

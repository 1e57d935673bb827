package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/mekongeats/api/internal/domain"
	"github.com/mekongeats/api/internal/platform/auth"
	"github.com/mekongeats/api/internal/platform/httpx"
	"github.com/mekongeats/api/internal/services"
)

const maxVoucherRequestBody = 16 * 1024

// VoucherHandlers exposes voucher discovery and collection to buyers and
// voucher management to sellers.
type VoucherHandlers struct {
	authn    *auth.Authenticator
	vouchers services.VoucherService
}

// NewVoucherHandlers constructs voucher handlers guarded by authentication.
func NewVoucherHandlers(authn *auth.Authenticator, vouchers services.VoucherService) *VoucherHandlers {
	return &VoucherHandlers{authn: authn, vouchers: vouchers}
}

// Routes registers the buyer facing voucher endpoints.
func (h *VoucherHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.authn != nil {
		group = group.With(h.authn.RequireAuth(auth.RoleBuyer, auth.RoleSeller, auth.RoleAdmin))
	}
	group.Get("/{code}", h.getByCode)
	group.Post("/{code}/collect", h.collect)
}

// SellerRoutes registers the voucher management endpoints under /seller.
func (h *VoucherHandlers) SellerRoutes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.authn != nil {
		group = group.With(h.authn.RequireAuth(auth.RoleSeller, auth.RoleAdmin))
	}
	group.Get("/vouchers", h.listForShop)
	group.Post("/vouchers", h.create)
	group.Put("/vouchers/{voucherID}", h.update)
	group.Post("/vouchers/{voucherID}/deactivate", h.deactivate)
}

func (h *VoucherHandlers) getByCode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.vouchers == nil {
		httpx.WriteError(ctx, w, httpx.NewError("vouchers_unavailable", "voucher service unavailable", http.StatusServiceUnavailable))
		return
	}

	voucher, err := h.vouchers.GetByCode(ctx, chi.URLParam(r, "code"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildVoucherPayload(voucher))
}

func (h *VoucherHandlers) collect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.vouchers == nil {
		httpx.WriteError(ctx, w, httpx.NewError("vouchers_unavailable", "voucher service unavailable", http.StatusServiceUnavailable))
		return
	}
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}

	voucher, err := h.vouchers.Collect(ctx, actor, chi.URLParam(r, "code"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildVoucherPayload(voucher))
}

func (h *VoucherHandlers) listForShop(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.vouchers == nil {
		httpx.WriteError(ctx, w, httpx.NewError("vouchers_unavailable", "voucher service unavailable", http.StatusServiceUnavailable))
		return
	}
	if _, ok := requireActor(ctx, w); !ok {
		return
	}

	values := r.URL.Query()
	shopID := strings.TrimSpace(values.Get("shop_id"))
	if shopID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "shop_id is required", http.StatusBadRequest))
		return
	}
	pageSize, err := parsePageSize(values.Get("page_size"))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.vouchers.ListForShop(ctx, shopID, pageSize, strings.TrimSpace(values.Get("page_token")))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	items := make([]voucherPayload, 0, len(page.Items))
	for _, voucher := range page.Items {
		items = append(items, buildVoucherPayload(voucher))
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"items":         items,
		"nextPageToken": page.NextPageToken,
	})
}

type voucherUpsertRequest struct {
	Code        string   `json:"code"`
	Kind        string   `json:"kind"`
	Value       int64    `json:"value"`
	MinOrder    int64    `json:"minOrder"`
	MaxDiscount int64    `json:"maxDiscount"`
	StartAt     string   `json:"startAt"`
	EndAt       string   `json:"endAt"`
	Remaining   int64    `json:"remaining"`
	ShopID      string   `json:"shopId"`
	ProductIDs  []string `json:"productIds"`
	UserIDs     []string `json:"userIds"`
}

func (req voucherUpsertRequest) toCommand() (services.UpsertVoucherCommand, error) {
	cmd := services.UpsertVoucherCommand{
		Code:        strings.TrimSpace(req.Code),
		Kind:        domain.VoucherKind(strings.ToLower(strings.TrimSpace(req.Kind))),
		Value:       req.Value,
		MinOrder:    req.MinOrder,
		MaxDiscount: req.MaxDiscount,
		Remaining:   req.Remaining,
		ShopID:      strings.TrimSpace(req.ShopID),
		ProductIDs:  req.ProductIDs,
		UserIDs:     req.UserIDs,
	}

	if raw := strings.TrimSpace(req.StartAt); raw != "" {
		startAt, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return services.UpsertVoucherCommand{}, fmt.Errorf("startAt must be RFC3339: %w", err)
		}
		cmd.StartAt = startAt
	}
	if raw := strings.TrimSpace(req.EndAt); raw != "" {
		endAt, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return services.UpsertVoucherCommand{}, fmt.Errorf("endAt must be RFC3339: %w", err)
		}
		cmd.EndAt = endAt
	}
	return cmd, nil
}

func (h *VoucherHandlers) create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.vouchers == nil {
		httpx.WriteError(ctx, w, httpx.NewError("vouchers_unavailable", "voucher service unavailable", http.StatusServiceUnavailable))
		return
	}
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}

	cmd, ok := h.decodeUpsert(w, r)
	if !ok {
		return
	}

	voucher, err := h.vouchers.Create(ctx, actor, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildVoucherPayload(voucher))
}

func (h *VoucherHandlers) update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.vouchers == nil {
		httpx.WriteError(ctx, w, httpx.NewError("vouchers_unavailable", "voucher service unavailable", http.StatusServiceUnavailable))
		return
	}
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}

	cmd, ok := h.decodeUpsert(w, r)
	if !ok {
		return
	}

	voucher, err := h.vouchers.Update(ctx, actor, chi.URLParam(r, "voucherID"), cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildVoucherPayload(voucher))
}

func (h *VoucherHandlers) deactivate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.vouchers == nil {
		httpx.WriteError(ctx, w, httpx.NewError("vouchers_unavailable", "voucher service unavailable", http.StatusServiceUnavailable))
		return
	}
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}

	voucher, err := h.vouchers.Deactivate(ctx, actor, chi.URLParam(r, "voucherID"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildVoucherPayload(voucher))
}

func (h *VoucherHandlers) decodeUpsert(w http.ResponseWriter, r *http.Request) (services.UpsertVoucherCommand, bool) {
	ctx := r.Context()

	body, err := readLimitedBody(r, maxVoucherRequestBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return services.UpsertVoucherCommand{}, false
	}

	var req voucherUpsertRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return services.UpsertVoucherCommand{}, false
	}

	cmd, err := req.toCommand()
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return services.UpsertVoucherCommand{}, false
	}
	return cmd, true
}

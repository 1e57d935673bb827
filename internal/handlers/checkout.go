package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	domain "github.com/mekongeats/api/internal/domain"
	"github.com/mekongeats/api/internal/platform/auth"
	"github.com/mekongeats/api/internal/platform/httpx"
	"github.com/mekongeats/api/internal/services"
)

const maxCheckoutRequestBody = 16 * 1024

// CheckoutHandlers exposes the checkout endpoint for authenticated buyers.
type CheckoutHandlers struct {
	authn    *auth.Authenticator
	checkout services.CheckoutService
	vouchers services.VoucherService
	validate *validator.Validate
}

// NewCheckoutHandlers constructs checkout handlers guarded by authentication.
func NewCheckoutHandlers(authn *auth.Authenticator, checkout services.CheckoutService, vouchers services.VoucherService) *CheckoutHandlers {
	return &CheckoutHandlers{
		authn:    authn,
		checkout: checkout,
		vouchers: vouchers,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Routes registers checkout endpoints under the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.authn != nil {
		group = group.With(h.authn.RequireAuth(auth.RoleBuyer, auth.RoleAdmin))
	}
	group.Post("/", h.createOrder)
}

type checkoutItemRequest struct {
	ProductID string `json:"productId" validate:"required"`
	Quantity  int64  `json:"qty" validate:"required,gt=0"`
}

type checkoutAddressRequest struct {
	Recipient string `json:"recipient" validate:"required"`
	Phone     string `json:"phone" validate:"required"`
	Line      string `json:"line" validate:"required"`
	Ward      string `json:"ward"`
	District  string `json:"district"`
	City      string `json:"city"`
}

type checkoutRequest struct {
	Items          []checkoutItemRequest  `json:"items" validate:"required,min=1,dive"`
	Address        checkoutAddressRequest `json:"address" validate:"required"`
	PaymentMethod  string                 `json:"paymentMethod" validate:"required,oneof=cod wallet"`
	VoucherCode    string                 `json:"voucherCode"`
	NoteForShop    string                 `json:"noteForShop"`
	NoteForShipper string                 `json:"noteForShipper"`
}

type checkoutResponse struct {
	Order    *orderPayload `json:"order,omitempty"`
	PayURL   string        `json:"payUrl,omitempty"`
	Deeplink string        `json:"deeplink,omitempty"`
}

func (h *CheckoutHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxCheckoutRequestBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}

	var req checkoutRequest
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON with known fields only", http.StatusBadRequest))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", validationMessage(err), http.StatusBadRequest))
		return
	}

	lines := make([]services.CartLine, 0, len(req.Items))
	for _, item := range req.Items {
		lines = append(lines, services.CartLine{
			ProductID: strings.TrimSpace(item.ProductID),
			Quantity:  item.Quantity,
		})
	}

	cmd := services.CheckoutCommand{
		BuyerID: actor.UserID,
		Lines:   lines,
		Address: domain.Address{
			Recipient: strings.TrimSpace(req.Address.Recipient),
			Phone:     strings.TrimSpace(req.Address.Phone),
			Line:      strings.TrimSpace(req.Address.Line),
			Ward:      strings.TrimSpace(req.Address.Ward),
			District:  strings.TrimSpace(req.Address.District),
			City:      strings.TrimSpace(req.Address.City),
		},
		PaymentMethod:  domain.PaymentMethod(strings.ToLower(strings.TrimSpace(req.PaymentMethod))),
		VoucherID:      h.resolveVoucherID(r, req.VoucherCode),
		NoteForShop:    strings.TrimSpace(req.NoteForShop),
		NoteForShipper: strings.TrimSpace(req.NoteForShipper),
	}

	result, err := h.checkout.Checkout(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	resp := checkoutResponse{PayURL: result.PayURL, Deeplink: result.Deeplink}
	if result.Order != nil {
		payload := buildOrderPayload(*result.Order)
		resp.Order = &payload
	}
	writeJSONResponse(w, http.StatusCreated, resp)
}

// resolveVoucherID maps a voucher code to its id. A code that cannot be
// resolved is dropped rather than rejected: voucher invalidity never fails
// checkout, the pricing engine simply skips the discount.
func (h *CheckoutHandlers) resolveVoucherID(r *http.Request, code string) string {
	code = strings.TrimSpace(code)
	if code == "" || h.vouchers == nil {
		return ""
	}
	voucher, err := h.vouchers.GetByCode(r.Context(), code)
	if err != nil {
		return ""
	}
	return voucher.ID
}

func validationMessage(err error) string {
	var fields validator.ValidationErrors
	if errors.As(err, &fields) && len(fields) > 0 {
		names := make([]string, 0, len(fields))
		for _, field := range fields {
			names = append(names, field.Namespace())
		}
		return "invalid fields: " + strings.Join(names, ", ")
	}
	return "request validation failed"
}

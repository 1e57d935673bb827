package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mekongeats/api/internal/payments"
	"github.com/mekongeats/api/internal/platform/httpx"
	"github.com/mekongeats/api/internal/services"
)

const maxWebhookRequestBody = 32 * 1024

// WebhookHandlers receives server-to-server callbacks from the wallet gateway.
type WebhookHandlers struct {
	checkout services.CheckoutService
}

// NewWebhookHandlers constructs the webhook handlers.
func NewWebhookHandlers(checkout services.CheckoutService) *WebhookHandlers {
	return &WebhookHandlers{checkout: checkout}
}

// Routes registers webhook endpoints under the provided router.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/wallet/ipn", h.walletIPN)
}

// walletIPN acknowledges the gateway's payment notification. Both a fresh
// materialization and a replayed transaction answer 204: the gateway only needs
// to know the notification landed.
func (h *WebhookHandlers) walletIPN(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxWebhookRequestBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}

	var payload payments.CallbackPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	if _, err := h.checkout.HandleGatewayCallback(ctx, payload); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mekongeats/api/internal/platform/auth"
	"github.com/mekongeats/api/internal/platform/httpx"
	"github.com/mekongeats/api/internal/services"
)

// NotificationHandlers exposes the per-user notification inbox.
type NotificationHandlers struct {
	authn         *auth.Authenticator
	notifications services.NotificationService
}

// NewNotificationHandlers constructs notification handlers guarded by authentication.
func NewNotificationHandlers(authn *auth.Authenticator, notifications services.NotificationService) *NotificationHandlers {
	return &NotificationHandlers{authn: authn, notifications: notifications}
}

// Routes registers the inbox endpoints under the provided router.
func (h *NotificationHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.authn != nil {
		group = group.With(h.authn.RequireAuth(auth.RoleBuyer, auth.RoleSeller, auth.RoleAdmin))
	}
	group.Get("/", h.list)
	group.Post("/{notificationID}/read", h.markRead)
}

func (h *NotificationHandlers) list(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.notifications == nil {
		httpx.WriteError(ctx, w, httpx.NewError("notifications_unavailable", "notification service unavailable", http.StatusServiceUnavailable))
		return
	}
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}

	values := r.URL.Query()
	pageSize, err := parsePageSize(values.Get("page_size"))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	unreadOnly := false
	if raw := strings.TrimSpace(values.Get("unread_only")); raw != "" {
		unreadOnly, err = strconv.ParseBool(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unread_only must be a boolean", http.StatusBadRequest))
			return
		}
	}

	page, err := h.notifications.ListForUser(ctx, actor.UserID, services.NotificationListQuery{
		UnreadOnly: unreadOnly,
		PageSize:   pageSize,
		PageToken:  strings.TrimSpace(values.Get("page_token")),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	items := make([]notificationPayload, 0, len(page.Items))
	for _, n := range page.Items {
		items = append(items, buildNotificationPayload(n))
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"items":         items,
		"nextPageToken": page.NextPageToken,
	})
}

func (h *NotificationHandlers) markRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.notifications == nil {
		httpx.WriteError(ctx, w, httpx.NewError("notifications_unavailable", "notification service unavailable", http.StatusServiceUnavailable))
		return
	}
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}

	if err := h.notifications.MarkRead(ctx, actor.UserID, chi.URLParam(r, "notificationID")); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

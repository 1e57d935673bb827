package handlers

import (
	"context"
	"net/http"
	"testing"
	"time"

	domain "github.com/mekongeats/api/internal/domain"
	"github.com/mekongeats/api/internal/services"
)

func handlerVoucher() domain.Voucher {
	return domain.Voucher{
		ID:        "voucher-1",
		Code:      "SAVE10",
		Kind:      domain.VoucherKindPercentage,
		Value:     10,
		MinOrder:  50000,
		StartAt:   time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		EndAt:     time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
		Remaining: 100,
		ShopID:    "shop-1",
		Active:    true,
	}
}

func TestGetVoucherByCodeEndpoint(t *testing.T) {
	fx := newRouterFixture()
	fx.vouchers.getByCodeFn = func(_ context.Context, code string) (domain.Voucher, error) {
		if code != "SAVE10" {
			t.Fatalf("unexpected code %q", code)
		}
		return handlerVoucher(), nil
	}

	rec := doRequest(t, fx.router(), http.MethodGet, "/api/v1/vouchers/SAVE10", bearer("buyer-1", "buyer"), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d with body %s", rec.Code, rec.Body.String())
	}

	var payload voucherPayload
	decodeBody(t, rec, &payload)
	if payload.ID != "voucher-1" || payload.Kind != "percentage" || !payload.Active {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestGetVoucherByCodeNotFound(t *testing.T) {
	fx := newRouterFixture()
	fx.vouchers.getByCodeFn = func(context.Context, string) (domain.Voucher, error) {
		return domain.Voucher{}, services.ErrVoucherNotFound
	}
	rec := doRequest(t, fx.router(), http.MethodGet, "/api/v1/vouchers/GONE", bearer("buyer-1", "buyer"), nil)
	assertErrorCode(t, rec, http.StatusNotFound, "not_found")
}

func TestCollectVoucherEndpoint(t *testing.T) {
	fx := newRouterFixture()
	fx.vouchers.collectFn = func(_ context.Context, actor services.Actor, code string) (domain.Voucher, error) {
		if actor.UserID != "buyer-1" || code != "SAVE10" {
			t.Fatalf("unexpected collect %+v %s", actor, code)
		}
		return handlerVoucher(), nil
	}

	rec := doRequest(t, fx.router(), http.MethodPost, "/api/v1/vouchers/SAVE10/collect", bearer("buyer-1", "buyer"), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d with body %s", rec.Code, rec.Body.String())
	}
}

func TestCollectVoucherConflicts(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"already collected", services.ErrVoucherAlreadyCollected},
		{"not collectable", services.ErrVoucherNotCollectable},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fx := newRouterFixture()
			fx.vouchers.collectFn = func(context.Context, services.Actor, string) (domain.Voucher, error) {
				return domain.Voucher{}, tc.err
			}
			rec := doRequest(t, fx.router(), http.MethodPost, "/api/v1/vouchers/SAVE10/collect", bearer("buyer-1", "buyer"), nil)
			assertErrorCode(t, rec, http.StatusConflict, "conflict")
		})
	}
}

func TestCreateVoucherEndpoint(t *testing.T) {
	fx := newRouterFixture()
	var captured services.UpsertVoucherCommand
	fx.vouchers.createFn = func(_ context.Context, actor services.Actor, cmd services.UpsertVoucherCommand) (domain.Voucher, error) {
		if actor.UserID != "seller-1" {
			t.Fatalf("unexpected actor %+v", actor)
		}
		captured = cmd
		return handlerVoucher(), nil
	}

	rec := doRequest(t, fx.router(), http.MethodPost, "/api/v1/seller/vouchers", bearer("seller-1", "seller"), map[string]any{
		"code":      "save10",
		"kind":      "Percentage",
		"value":     10,
		"minOrder":  50000,
		"startAt":   "2025-03-01T00:00:00Z",
		"endAt":     "2025-04-01T00:00:00Z",
		"remaining": 100,
		"shopId":    "shop-1",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d with body %s", rec.Code, rec.Body.String())
	}

	if captured.Kind != domain.VoucherKindPercentage || captured.ShopID != "shop-1" {
		t.Fatalf("unexpected command %+v", captured)
	}
	if !captured.StartAt.Equal(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected start %v", captured.StartAt)
	}
}

func TestCreateVoucherRejectsBadTimestamp(t *testing.T) {
	fx := newRouterFixture()
	rec := doRequest(t, fx.router(), http.MethodPost, "/api/v1/seller/vouchers", bearer("seller-1", "seller"), map[string]any{
		"code":    "SAVE10",
		"kind":    "percentage",
		"value":   10,
		"startAt": "yesterday",
	})
	assertErrorCode(t, rec, http.StatusBadRequest, "invalid_request")
}

func TestUpdateVoucherEndpoint(t *testing.T) {
	fx := newRouterFixture()
	var gotID string
	fx.vouchers.updateFn = func(_ context.Context, _ services.Actor, voucherID string, cmd services.UpsertVoucherCommand) (domain.Voucher, error) {
		gotID = voucherID
		return handlerVoucher(), nil
	}

	rec := doRequest(t, fx.router(), http.MethodPut, "/api/v1/seller/vouchers/voucher-1", bearer("seller-1", "seller"), map[string]any{
		"code":  "SAVE10",
		"kind":  "percentage",
		"value": 15,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d with body %s", rec.Code, rec.Body.String())
	}
	if gotID != "voucher-1" {
		t.Fatalf("expected voucher id from the path, got %q", gotID)
	}
}

func TestDeactivateVoucherEndpoint(t *testing.T) {
	fx := newRouterFixture()
	fx.vouchers.deactivateFn = func(_ context.Context, _ services.Actor, voucherID string) (domain.Voucher, error) {
		voucher := handlerVoucher()
		voucher.Active = false
		return voucher, nil
	}

	rec := doRequest(t, fx.router(), http.MethodPost, "/api/v1/seller/vouchers/voucher-1/deactivate", bearer("seller-1", "seller"), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d with body %s", rec.Code, rec.Body.String())
	}

	var payload voucherPayload
	decodeBody(t, rec, &payload)
	if payload.Active {
		t.Fatalf("expected deactivated voucher in payload")
	}
}

func TestListShopVouchersRequiresShopID(t *testing.T) {
	fx := newRouterFixture()
	rec := doRequest(t, fx.router(), http.MethodGet, "/api/v1/seller/vouchers", bearer("seller-1", "seller"), nil)
	assertErrorCode(t, rec, http.StatusBadRequest, "invalid_request")
}

func TestListShopVouchersEndpoint(t *testing.T) {
	fx := newRouterFixture()
	fx.vouchers.listFn = func(_ context.Context, shopID string, pageSize int, pageToken string) (domain.CursorPage[domain.Voucher], error) {
		if shopID != "shop-1" || pageSize != 10 || pageToken != "tok-1" {
			t.Fatalf("unexpected listing args %s %d %s", shopID, pageSize, pageToken)
		}
		return domain.CursorPage[domain.Voucher]{Items: []domain.Voucher{handlerVoucher()}, NextPageToken: "next"}, nil
	}

	rec := doRequest(t, fx.router(), http.MethodGet,
		"/api/v1/seller/vouchers?shop_id=shop-1&page_size=10&page_token=tok-1",
		bearer("seller-1", "seller"), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d with body %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Items         []voucherPayload `json:"items"`
		NextPageToken string           `json:"nextPageToken"`
	}
	decodeBody(t, rec, &resp)
	if len(resp.Items) != 1 || resp.NextPageToken != "next" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestSellerVoucherRoutesRejectBuyers(t *testing.T) {
	fx := newRouterFixture()
	rec := doRequest(t, fx.router(), http.MethodPost, "/api/v1/seller/vouchers", bearer("buyer-1", "buyer"), map[string]any{"code": "X"})
	assertErrorCode(t, rec, http.StatusForbidden, "insufficient_role")
}

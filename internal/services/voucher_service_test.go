package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/mekongeats/api/internal/domain"
	pfirestore "github.com/mekongeats/api/internal/platform/firestore"
)

func newTestVoucherService(t *testing.T, vouchers *stubVoucherRepo) VoucherService {
	t.Helper()
	service, err := NewVoucherService(VoucherServiceDeps{
		Vouchers:    vouchers,
		Shops:       shopDirectory(),
		Clock:       func() time.Time { return time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC) },
		IDGenerator: func() string { return "voucher-new" },
	})
	if err != nil {
		t.Fatalf("NewVoucherService: %v", err)
	}
	return service
}

func collectableVoucher() domain.Voucher {
	return domain.Voucher{
		ID:        "voucher-1",
		Code:      "SAVE10",
		Kind:      domain.VoucherKindPercentage,
		Value:     10,
		MinOrder:  50000,
		StartAt:   time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		EndAt:     time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC),
		Remaining: 100,
		ShopID:    "shop-1",
		Active:    true,
	}
}

func TestVoucherCollect(t *testing.T) {
	voucher := collectableVoucher()
	var collectedBy string
	repo := &stubVoucherRepo{
		findByCodeFn: func(_ context.Context, code string) (domain.Voucher, error) {
			if code != "SAVE10" {
				return domain.Voucher{}, pfirestore.NewNotFoundError("voucher.find", errors.New("no such code"))
			}
			return voucher, nil
		},
		collectFn: func(_ context.Context, voucherID, userID string, _ time.Time) error {
			if voucherID != "voucher-1" {
				t.Fatalf("unexpected voucher id %q", voucherID)
			}
			collectedBy = userID
			return nil
		},
	}
	service := newTestVoucherService(t, repo)
	buyer := Actor{UserID: "buyer-1", Roles: []string{RoleBuyer}}

	got, err := service.Collect(context.Background(), buyer, "SAVE10")
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if got.ID != "voucher-1" || collectedBy != "buyer-1" {
		t.Fatalf("unexpected collection: voucher %q by %q", got.ID, collectedBy)
	}
}

func TestVoucherCollectRejections(t *testing.T) {
	buyer := Actor{UserID: "buyer-1", Roles: []string{RoleBuyer}}

	tests := []struct {
		name    string
		mutate  func(*domain.Voucher)
		collect func(context.Context, string, string, time.Time) error
		wantErr error
	}{
		{
			name:    "inactive voucher",
			mutate:  func(v *domain.Voucher) { v.Active = false },
			wantErr: ErrVoucherNotCollectable,
		},
		{
			name:    "exhausted voucher",
			mutate:  func(v *domain.Voucher) { v.Remaining = 0 },
			wantErr: ErrVoucherNotCollectable,
		},
		{
			name:    "expired voucher",
			mutate:  func(v *domain.Voucher) { v.EndAt = time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC) },
			wantErr: ErrVoucherNotCollectable,
		},
		{
			name:    "user not admitted",
			mutate:  func(v *domain.Voucher) { v.UserIDs = []string{"buyer-9"} },
			wantErr: ErrVoucherNotCollectable,
		},
		{
			name:   "already collected",
			mutate: func(*domain.Voucher) {},
			collect: func(context.Context, string, string, time.Time) error {
				return pfirestore.NewConflictError("voucher.collect", errors.New("wallet entry exists"))
			},
			wantErr: ErrVoucherAlreadyCollected,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			voucher := collectableVoucher()
			tc.mutate(&voucher)
			repo := &stubVoucherRepo{
				findByCodeFn: func(context.Context, string) (domain.Voucher, error) { return voucher, nil },
				collectFn:    tc.collect,
			}
			service := newTestVoucherService(t, repo)

			_, err := service.Collect(context.Background(), buyer, "SAVE10")
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestVoucherGetByCodeTranslatesNotFound(t *testing.T) {
	repo := &stubVoucherRepo{
		findByCodeFn: func(context.Context, string) (domain.Voucher, error) {
			return domain.Voucher{}, pfirestore.NewNotFoundError("voucher.find", errors.New("no such code"))
		},
	}
	service := newTestVoucherService(t, repo)

	if _, err := service.GetByCode(context.Background(), "NOPE"); !errors.Is(err, ErrVoucherNotFound) {
		t.Fatalf("expected ErrVoucherNotFound, got %v", err)
	}
	if _, err := service.GetByCode(context.Background(), "  "); !errors.Is(err, ErrVoucherInvalidInput) {
		t.Fatalf("expected ErrVoucherInvalidInput for blank code, got %v", err)
	}
}

func TestVoucherCreate(t *testing.T) {
	var inserted domain.Voucher
	repo := &stubVoucherRepo{
		insertFn: func(_ context.Context, v domain.Voucher) error {
			inserted = v
			return nil
		},
	}
	service := newTestVoucherService(t, repo)
	seller := Actor{UserID: "seller-1", Roles: []string{RoleSeller}}

	cmd := UpsertVoucherCommand{
		Code:      " lunch20 ",
		Kind:      domain.VoucherKindPercentage,
		Value:     20,
		MinOrder:  80000,
		StartAt:   time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		EndAt:     time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
		Remaining: 50,
		ShopID:    "shop-1",
	}
	created, err := service.Create(context.Background(), seller, cmd)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.ID != "voucher-new" {
		t.Fatalf("expected generated id, got %q", created.ID)
	}
	if created.Code != "LUNCH20" {
		t.Fatalf("expected normalised code LUNCH20, got %q", created.Code)
	}
	if !created.Active {
		t.Fatalf("expected new voucher to start active")
	}
	if inserted.ID != created.ID {
		t.Fatalf("expected insert of the created voucher, got %+v", inserted)
	}
}

func TestVoucherCreateAuthorization(t *testing.T) {
	service := newTestVoucherService(t, &stubVoucherRepo{})
	cmd := UpsertVoucherCommand{
		Code:      "SAVE10",
		Kind:      domain.VoucherKindFixed,
		Value:     10000,
		Remaining: 10,
		ShopID:    "shop-1",
	}

	// Sellers only manage their own shops.
	rival := Actor{UserID: "seller-2", Roles: []string{RoleSeller}}
	if _, err := service.Create(context.Background(), rival, cmd); !errors.Is(err, ErrVoucherForbidden) {
		t.Fatalf("expected ErrVoucherForbidden for foreign shop, got %v", err)
	}

	// Platform-wide vouchers are admin territory.
	platform := cmd
	platform.ShopID = ""
	seller := Actor{UserID: "seller-1", Roles: []string{RoleSeller}}
	if _, err := service.Create(context.Background(), seller, platform); !errors.Is(err, ErrVoucherForbidden) {
		t.Fatalf("expected ErrVoucherForbidden for platform voucher, got %v", err)
	}
	admin := Actor{UserID: "ops-1", Roles: []string{RoleAdmin}}
	if _, err := service.Create(context.Background(), admin, platform); err != nil {
		t.Fatalf("admin platform voucher: %v", err)
	}
}

func TestVoucherCommandValidation(t *testing.T) {
	service := newTestVoucherService(t, &stubVoucherRepo{})
	seller := Actor{UserID: "seller-1", Roles: []string{RoleSeller}}

	base := UpsertVoucherCommand{
		Code:      "SAVE10",
		Kind:      domain.VoucherKindPercentage,
		Value:     10,
		Remaining: 10,
		ShopID:    "shop-1",
	}

	tests := []struct {
		name   string
		mutate func(*UpsertVoucherCommand)
	}{
		{"blank code", func(c *UpsertVoucherCommand) { c.Code = " " }},
		{"unknown kind", func(c *UpsertVoucherCommand) { c.Kind = "bogo" }},
		{"percentage above 100", func(c *UpsertVoucherCommand) { c.Value = 120 }},
		{"non-positive fixed value", func(c *UpsertVoucherCommand) { c.Kind = domain.VoucherKindFixed; c.Value = 0 }},
		{"negative min order", func(c *UpsertVoucherCommand) { c.MinOrder = -1 }},
		{"negative remaining", func(c *UpsertVoucherCommand) { c.Remaining = -1 }},
		{"end before start", func(c *UpsertVoucherCommand) {
			c.StartAt = time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
			c.EndAt = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cmd := base
			tc.mutate(&cmd)
			if _, err := service.Create(context.Background(), seller, cmd); !errors.Is(err, ErrVoucherInvalidInput) {
				t.Fatalf("expected ErrVoucherInvalidInput, got %v", err)
			}
		})
	}
}

func TestVoucherUpdatePreservesIdentity(t *testing.T) {
	existing := collectableVoucher()
	var updated domain.Voucher
	repo := &stubVoucherRepo{
		findByIDFn: func(context.Context, string) (domain.Voucher, error) { return existing, nil },
		updateFn: func(_ context.Context, v domain.Voucher) error {
			updated = v
			return nil
		},
	}
	service := newTestVoucherService(t, repo)
	seller := Actor{UserID: "seller-1", Roles: []string{RoleSeller}}

	got, err := service.Update(context.Background(), seller, "voucher-1", UpsertVoucherCommand{
		Code:      "SAVE15",
		Kind:      domain.VoucherKindPercentage,
		Value:     15,
		Remaining: 40,
		ShopID:    "shop-1",
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.ID != "voucher-1" {
		t.Fatalf("expected identity preserved, got %q", got.ID)
	}
	if updated.Value != 15 || updated.Code != "SAVE15" {
		t.Fatalf("unexpected update %+v", updated)
	}
	if !updated.UpdatedAt.Equal(time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected updated timestamp, got %v", updated.UpdatedAt)
	}
}

func TestVoucherDeactivate(t *testing.T) {
	existing := collectableVoucher()
	var updated domain.Voucher
	repo := &stubVoucherRepo{
		findByIDFn: func(context.Context, string) (domain.Voucher, error) { return existing, nil },
		updateFn: func(_ context.Context, v domain.Voucher) error {
			updated = v
			return nil
		},
	}
	service := newTestVoucherService(t, repo)

	got, err := service.Deactivate(context.Background(), Actor{UserID: "seller-1", Roles: []string{RoleSeller}}, "voucher-1")
	if err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	if got.Active || updated.Active {
		t.Fatalf("expected voucher deactivated")
	}

	rival := Actor{UserID: "seller-2", Roles: []string{RoleSeller}}
	if _, err := service.Deactivate(context.Background(), rival, "voucher-1"); !errors.Is(err, ErrVoucherForbidden) {
		t.Fatalf("expected ErrVoucherForbidden, got %v", err)
	}
}

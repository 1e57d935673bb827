package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/mekongeats/api/internal/domain"
	"github.com/mekongeats/api/internal/repositories"
)

var (
	// ErrVoucherInvalidInput signals the caller provided invalid voucher data.
	ErrVoucherInvalidInput = errors.New("voucher: invalid input")
	// ErrVoucherNotFound indicates the voucher could not be located.
	ErrVoucherNotFound = errors.New("voucher: not found")
	// ErrVoucherForbidden indicates the actor may not manage this voucher.
	ErrVoucherForbidden = errors.New("voucher: forbidden")
	// ErrVoucherNotCollectable indicates the voucher cannot be collected right now.
	ErrVoucherNotCollectable = errors.New("voucher: not collectable")
	// ErrVoucherAlreadyCollected indicates the buyer already holds this voucher.
	ErrVoucherAlreadyCollected = errors.New("voucher: already collected")
	// ErrVoucherUnavailable indicates the voucher backend could not be reached.
	ErrVoucherUnavailable = errors.New("voucher: backend unavailable")
)

// VoucherServiceDeps bundles collaborators required to construct the voucher service.
type VoucherServiceDeps struct {
	Vouchers    repositories.VoucherRepository
	Shops       repositories.ShopRepository
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type voucherService struct {
	vouchers repositories.VoucherRepository
	shops    repositories.ShopRepository
	clock    func() time.Time
	newID    func() string
	logger   func(context.Context, string, map[string]any)
}

// NewVoucherService wires dependencies into a concrete VoucherService implementation.
func NewVoucherService(deps VoucherServiceDeps) (VoucherService, error) {
	if deps.Vouchers == nil {
		return nil, errors.New("voucher service: voucher repository is required")
	}
	if deps.Shops == nil {
		return nil, errors.New("voucher service: shop repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &voucherService{
		vouchers: deps.Vouchers,
		shops:    deps.Shops,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *voucherService) GetByCode(ctx context.Context, code string) (Voucher, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Voucher{}, fmt.Errorf("%w: code is required", ErrVoucherInvalidInput)
	}
	voucher, err := s.vouchers.FindByCode(ctx, code)
	if err != nil {
		return Voucher{}, translateVoucherRepositoryError(err)
	}
	return voucher, nil
}

func (s *voucherService) Collect(ctx context.Context, actor Actor, code string) (Voucher, error) {
	voucher, err := s.GetByCode(ctx, code)
	if err != nil {
		return Voucher{}, err
	}

	now := s.clock()
	if !voucher.UsableAt(now) || !voucher.AdmitsUser(actor.UserID) {
		return Voucher{}, ErrVoucherNotCollectable
	}

	if err := s.vouchers.Collect(ctx, voucher.ID, actor.UserID, now); err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsConflict() {
			return Voucher{}, ErrVoucherAlreadyCollected
		}
		return Voucher{}, translateVoucherRepositoryError(err)
	}

	s.logger(ctx, "voucher.collected", map[string]any{
		"voucher_id": voucher.ID,
		"user_id":    actor.UserID,
	})
	return voucher, nil
}

func (s *voucherService) ListForShop(ctx context.Context, shopID string, pageSize int, pageToken string) (domain.CursorPage[Voucher], error) {
	shopID = strings.TrimSpace(shopID)
	if shopID == "" {
		return domain.CursorPage[Voucher]{}, fmt.Errorf("%w: shop id is required", ErrVoucherInvalidInput)
	}
	page, err := s.vouchers.ListByShop(ctx, shopID, pageSize, pageToken)
	if err != nil {
		return domain.CursorPage[Voucher]{}, translateVoucherRepositoryError(err)
	}
	return page, nil
}

func (s *voucherService) Create(ctx context.Context, actor Actor, cmd UpsertVoucherCommand) (Voucher, error) {
	if err := s.authorizeShop(ctx, actor, cmd.ShopID); err != nil {
		return Voucher{}, err
	}
	if err := validateVoucherCommand(cmd); err != nil {
		return Voucher{}, err
	}

	now := s.clock()
	voucher := Voucher{
		ID:          s.newID(),
		Code:        strings.ToUpper(strings.TrimSpace(cmd.Code)),
		Kind:        cmd.Kind,
		Value:       cmd.Value,
		MinOrder:    cmd.MinOrder,
		MaxDiscount: cmd.MaxDiscount,
		StartAt:     cmd.StartAt.UTC(),
		EndAt:       cmd.EndAt.UTC(),
		Remaining:   cmd.Remaining,
		ShopID:      strings.TrimSpace(cmd.ShopID),
		ProductIDs:  cmd.ProductIDs,
		UserIDs:     cmd.UserIDs,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.vouchers.Insert(ctx, voucher); err != nil {
		return Voucher{}, translateVoucherRepositoryError(err)
	}

	s.logger(ctx, "voucher.created", map[string]any{
		"voucher_id": voucher.ID,
		"code":       voucher.Code,
		"shop_id":    voucher.ShopID,
	})
	return voucher, nil
}

func (s *voucherService) Update(ctx context.Context, actor Actor, voucherID string, cmd UpsertVoucherCommand) (Voucher, error) {
	voucherID = strings.TrimSpace(voucherID)
	if voucherID == "" {
		return Voucher{}, fmt.Errorf("%w: voucher id is required", ErrVoucherInvalidInput)
	}

	existing, err := s.vouchers.FindByID(ctx, voucherID)
	if err != nil {
		return Voucher{}, translateVoucherRepositoryError(err)
	}
	if err := s.authorizeShop(ctx, actor, existing.ShopID); err != nil {
		return Voucher{}, err
	}
	if err := validateVoucherCommand(cmd); err != nil {
		return Voucher{}, err
	}

	existing.Code = strings.ToUpper(strings.TrimSpace(cmd.Code))
	existing.Kind = cmd.Kind
	existing.Value = cmd.Value
	existing.MinOrder = cmd.MinOrder
	existing.MaxDiscount = cmd.MaxDiscount
	existing.StartAt = cmd.StartAt.UTC()
	existing.EndAt = cmd.EndAt.UTC()
	existing.Remaining = cmd.Remaining
	existing.ProductIDs = cmd.ProductIDs
	existing.UserIDs = cmd.UserIDs
	existing.UpdatedAt = s.clock()

	if err := s.vouchers.Update(ctx, existing); err != nil {
		return Voucher{}, translateVoucherRepositoryError(err)
	}
	return existing, nil
}

func (s *voucherService) Deactivate(ctx context.Context, actor Actor, voucherID string) (Voucher, error) {
	voucherID = strings.TrimSpace(voucherID)
	if voucherID == "" {
		return Voucher{}, fmt.Errorf("%w: voucher id is required", ErrVoucherInvalidInput)
	}

	existing, err := s.vouchers.FindByID(ctx, voucherID)
	if err != nil {
		return Voucher{}, translateVoucherRepositoryError(err)
	}
	if err := s.authorizeShop(ctx, actor, existing.ShopID); err != nil {
		return Voucher{}, err
	}

	existing.Active = false
	existing.UpdatedAt = s.clock()
	if err := s.vouchers.Update(ctx, existing); err != nil {
		return Voucher{}, translateVoucherRepositoryError(err)
	}

	s.logger(ctx, "voucher.deactivated", map[string]any{"voucher_id": existing.ID})
	return existing, nil
}

// authorizeShop checks the actor controls the voucher's shop. Platform-wide
// vouchers (empty shop id) are admin territory.
func (s *voucherService) authorizeShop(ctx context.Context, actor Actor, shopID string) error {
	if actor.IsAdmin() {
		return nil
	}
	shopID = strings.TrimSpace(shopID)
	if shopID == "" || !actor.IsSeller() {
		return ErrVoucherForbidden
	}
	shop, err := s.shops.FindByID(ctx, shopID)
	if err != nil {
		return translateVoucherRepositoryError(err)
	}
	if shop.SellerID != actor.UserID {
		return ErrVoucherForbidden
	}
	return nil
}

func validateVoucherCommand(cmd UpsertVoucherCommand) error {
	if strings.TrimSpace(cmd.Code) == "" {
		return fmt.Errorf("%w: code is required", ErrVoucherInvalidInput)
	}
	switch cmd.Kind {
	case domain.VoucherKindPercentage:
		if cmd.Value <= 0 || cmd.Value > 100 {
			return fmt.Errorf("%w: percentage value must be in (0,100]", ErrVoucherInvalidInput)
		}
	case domain.VoucherKindFixed:
		if cmd.Value <= 0 {
			return fmt.Errorf("%w: fixed value must be positive", ErrVoucherInvalidInput)
		}
	default:
		return fmt.Errorf("%w: unknown voucher kind %q", ErrVoucherInvalidInput, cmd.Kind)
	}
	if cmd.MinOrder < 0 || cmd.MaxDiscount < 0 {
		return fmt.Errorf("%w: amounts must not be negative", ErrVoucherInvalidInput)
	}
	if cmd.Remaining < 0 {
		return fmt.Errorf("%w: remaining must not be negative", ErrVoucherInvalidInput)
	}
	if !cmd.EndAt.IsZero() && cmd.EndAt.Before(cmd.StartAt) {
		return fmt.Errorf("%w: end must not precede start", ErrVoucherInvalidInput)
	}
	return nil
}

func translateVoucherRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrVoucherNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrVoucherInvalidInput, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrVoucherUnavailable, err)
}

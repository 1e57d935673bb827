package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	domain "github.com/mekongeats/api/internal/domain"
	"github.com/mekongeats/api/internal/repositories"
)

var (
	// ErrPricingInvalidInput signals the caller provided an unusable cart.
	ErrPricingInvalidInput = errors.New("pricing: invalid input")
	// ErrPricingUnavailable indicates the catalog could not be read.
	ErrPricingUnavailable = errors.New("pricing: catalog unavailable")
)

// PricingEngineDeps bundles collaborators required to construct the pricing engine.
type PricingEngineDeps struct {
	Catalog     repositories.CatalogRepository
	Vouchers    repositories.VoucherRepository
	DeliveryFee Money
	Clock       func() time.Time
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type pricingEngine struct {
	catalog     repositories.CatalogRepository
	vouchers    repositories.VoucherRepository
	deliveryFee Money
	clock       func() time.Time
	logger      func(context.Context, string, map[string]any)
}

// NewPricingEngine wires dependencies into a concrete PricingEngine implementation.
func NewPricingEngine(deps PricingEngineDeps) (PricingEngine, error) {
	if deps.Catalog == nil {
		return nil, errors.New("pricing engine: catalog repository is required")
	}
	if deps.Vouchers == nil {
		return nil, errors.New("pricing engine: voucher repository is required")
	}
	if deps.DeliveryFee < 0 {
		return nil, errors.New("pricing engine: delivery fee must not be negative")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &pricingEngine{
		catalog:     deps.Catalog,
		vouchers:    deps.Vouchers,
		deliveryFee: deps.DeliveryFee,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (e *pricingEngine) PriceCart(ctx context.Context, cmd PriceCartCommand) (PricingQuote, error) {
	lines, err := normaliseCartLines(cmd.Lines)
	if err != nil {
		return PricingQuote{}, err
	}

	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ProductID)
	}

	products, err := e.catalog.GetProducts(ctx, ids)
	if err != nil {
		return PricingQuote{}, fmt.Errorf("%w: %v", ErrPricingUnavailable, err)
	}

	missing := make([]string, 0)
	short := make([]string, 0)
	items := make([]OrderItem, 0, len(lines))
	var subtotal Money
	for _, line := range lines {
		product, ok := products[line.ProductID]
		if !ok {
			missing = append(missing, line.ProductID)
			continue
		}
		if product.Stock < line.Quantity {
			short = append(short, line.ProductID)
			continue
		}
		items = append(items, OrderItem{
			ProductID: product.ID,
			Name:      product.Name,
			UnitPrice: product.UnitPrice,
			Quantity:  line.Quantity,
			ShopID:    product.ShopID,
		})
		subtotal += product.UnitPrice * line.Quantity
	}
	if len(missing) > 0 || len(short) > 0 {
		return PricingQuote{}, &OutOfStockError{ProductIDs: append(missing, short...)}
	}

	breakdown := domain.PricingBreakdown{
		Items:       items,
		Subtotal:    subtotal,
		DeliveryFee: e.deliveryFee,
	}

	if discount, voucherID := e.resolveDiscount(ctx, cmd, items, subtotal); discount > 0 {
		breakdown.Discount = discount
		breakdown.VoucherID = voucherID
	}

	breakdown.Total = breakdown.Subtotal - breakdown.Discount + breakdown.DeliveryFee

	return PricingQuote{
		PricingBreakdown: breakdown,
		Products:         products,
		EstimatedMinutes: domain.EstimatedMinutes(products, items),
	}, nil
}

// resolveDiscount evaluates the requested voucher against the priced cart. A
// voucher that is missing, expired, exhausted, or inapplicable degrades to a
// zero discount rather than failing the checkout.
func (e *pricingEngine) resolveDiscount(ctx context.Context, cmd PriceCartCommand, items []OrderItem, subtotal Money) (Money, string) {
	voucherID := strings.TrimSpace(cmd.VoucherID)
	if voucherID == "" {
		return 0, ""
	}

	voucher, err := e.vouchers.FindByID(ctx, voucherID)
	if err != nil {
		e.logger(ctx, "pricing.voucher.degraded", map[string]any{
			"voucher_id": voucherID,
			"reason":     "lookup_failed",
		})
		return 0, ""
	}

	now := e.clock()
	reason := ""
	switch {
	case !voucher.UsableAt(now):
		reason = "not_usable"
	case !voucher.AdmitsUser(cmd.BuyerID):
		reason = "user_not_admitted"
	case subtotal < voucher.MinOrder:
		reason = "below_min_order"
	case !voucherCoversCart(voucher, items):
		reason = "products_not_admitted"
	}
	if reason != "" {
		e.logger(ctx, "pricing.voucher.degraded", map[string]any{
			"voucher_id": voucherID,
			"reason":     reason,
		})
		return 0, ""
	}

	discount := voucherDiscount(voucher, subtotal)
	if discount <= 0 {
		return 0, ""
	}
	return discount, voucher.ID
}

// voucherCoversCart reports whether the voucher's product allowlist admits at
// least one line item. An empty allowlist admits every cart.
func voucherCoversCart(voucher Voucher, items []OrderItem) bool {
	if len(voucher.ProductIDs) == 0 {
		return true
	}
	for _, item := range items {
		if voucher.AdmitsProduct(item.ProductID) {
			return true
		}
	}
	return false
}

// voucherDiscount computes the discount amount, clamped so the order total can
// never go negative. Percentage vouchers additionally honour their cap.
func voucherDiscount(voucher Voucher, subtotal Money) Money {
	var discount Money
	switch voucher.Kind {
	case domain.VoucherKindPercentage:
		discount = subtotal * voucher.Value / 100
		if voucher.MaxDiscount > 0 && discount > voucher.MaxDiscount {
			discount = voucher.MaxDiscount
		}
	case domain.VoucherKindFixed:
		discount = voucher.Value
	default:
		return 0
	}
	if discount > subtotal {
		discount = subtotal
	}
	if discount < 0 {
		discount = 0
	}
	return discount
}

// normaliseCartLines validates quantities, merges duplicate product lines, and
// returns the result in a deterministic order.
func normaliseCartLines(lines []CartLine) ([]CartLine, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: cart must contain at least one item", ErrPricingInvalidInput)
	}

	merged := make(map[string]int64, len(lines))
	for _, line := range lines {
		id := strings.TrimSpace(line.ProductID)
		if id == "" {
			return nil, fmt.Errorf("%w: product id is required", ErrPricingInvalidInput)
		}
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity for product %s must be positive", ErrPricingInvalidInput, id)
		}
		merged[id] += line.Quantity
	}

	out := make([]CartLine, 0, len(merged))
	for id, qty := range merged {
		out = append(out, CartLine{ProductID: id, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

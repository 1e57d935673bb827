package domain

// PricingBreakdown is the result of pricing a cart: validated line-item
// snapshots plus the derived amounts. Total = Subtotal - Discount + DeliveryFee
// and is never negative because Discount is clamped to Subtotal.
type PricingBreakdown struct {
	Items       []OrderItem
	Subtotal    Money
	Discount    Money
	DeliveryFee Money
	Total       Money
	// VoucherID is the voucher actually applied, empty when the requested
	// voucher degraded to no discount.
	VoucherID string
}

// EstimatedMinutes computes the preparation estimate for a priced cart as the
// maximum prep time across the products involved.
func EstimatedMinutes(products map[string]Product, items []OrderItem) int {
	maxPrep := 0
	for _, item := range items {
		if p, ok := products[item.ProductID]; ok && p.PrepMinutes > maxPrep {
			maxPrep = p.PrepMinutes
		}
	}
	return maxPrep
}

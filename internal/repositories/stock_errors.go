package repositories

import "fmt"

// StockErrorCode enumerates repository error causes for stock mutations.
type StockErrorCode string

const (
	// StockErrorUnknown represents an unspecified failure.
	StockErrorUnknown StockErrorCode = "stock_unknown"
	// StockErrorInsufficient indicates a conditional decrement found less stock
	// than requested, usually a race with a concurrent order.
	StockErrorInsufficient StockErrorCode = "stock_insufficient"
	// StockErrorProductNotFound indicates the product document is missing.
	StockErrorProductNotFound StockErrorCode = "stock_product_not_found"
)

// StockError wraps stock-specific failures with machine readable codes and the
// products that could not be covered.
type StockError struct {
	Op         string
	Code       StockErrorCode
	Message    string
	ProductIDs []string
	Err        error
}

// Error implements the error interface.
func (e *StockError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *StockError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewStockError constructs a typed stock error.
func NewStockError(code StockErrorCode, message string, productIDs []string, err error) *StockError {
	if message == "" {
		message = string(code)
	}
	return &StockError{
		Code:       code,
		Message:    message,
		ProductIDs: productIDs,
		Err:        err,
	}
}

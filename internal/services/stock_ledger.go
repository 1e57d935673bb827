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
	// ErrStockInvalidInput signals malformed stock lines.
	ErrStockInvalidInput = errors.New("stock: invalid input")
	// ErrStockUnavailable indicates the stock backend could not be reached.
	ErrStockUnavailable = errors.New("stock: backend unavailable")
)

// OutOfStockError reports the products whose stock could not cover the
// requested quantities.
type OutOfStockError struct {
	ProductIDs []string
}

// Error implements the error interface.
func (e *OutOfStockError) Error() string {
	if e == nil || len(e.ProductIDs) == 0 {
		return "stock: insufficient stock"
	}
	return fmt.Sprintf("stock: insufficient stock for %s", strings.Join(e.ProductIDs, ", "))
}

// StockLedgerDeps bundles collaborators required to construct the stock ledger.
type StockLedgerDeps struct {
	Stock  repositories.StockRepository
	Clock  func() time.Time
	Logger func(ctx context.Context, event string, fields map[string]any)
}

type stockLedger struct {
	stock  repositories.StockRepository
	clock  func() time.Time
	logger func(context.Context, string, map[string]any)
}

// NewStockLedger wires dependencies into a concrete StockLedger implementation.
func NewStockLedger(deps StockLedgerDeps) (StockLedger, error) {
	if deps.Stock == nil {
		return nil, errors.New("stock ledger: stock repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &stockLedger{
		stock: deps.Stock,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (l *stockLedger) Debit(ctx context.Context, lines []StockLine) (map[string]int64, error) {
	normalised, err := normaliseStockLines(lines)
	if err != nil {
		return nil, err
	}

	result, err := l.stock.Debit(ctx, repositories.StockDebitRequest{
		Lines: normalised,
		Now:   l.clock(),
	})
	if err != nil {
		return nil, translateStockError("debit", err)
	}

	l.logger(ctx, "stock.debited", map[string]any{"lines": len(normalised)})
	return result.Stocks, nil
}

func (l *stockLedger) Credit(ctx context.Context, lines []StockLine) error {
	normalised, err := normaliseStockLines(lines)
	if err != nil {
		return err
	}

	if err := l.stock.Credit(ctx, repositories.StockCreditRequest{
		Lines: normalised,
		Now:   l.clock(),
	}); err != nil {
		return translateStockError("credit", err)
	}

	l.logger(ctx, "stock.credited", map[string]any{"lines": len(normalised)})
	return nil
}

func translateStockError(op string, err error) error {
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		switch stockErr.Code {
		case repositories.StockErrorInsufficient, repositories.StockErrorProductNotFound:
			return &OutOfStockError{ProductIDs: stockErr.ProductIDs}
		}
	}
	return fmt.Errorf("%w: %s: %v", ErrStockUnavailable, op, err)
}

// normaliseStockLines merges duplicate product lines and sorts the result so
// transactions touch product documents in a stable order.
func normaliseStockLines(lines []StockLine) ([]StockLine, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: at least one line is required", ErrStockInvalidInput)
	}

	merged := make(map[string]int64, len(lines))
	for _, line := range lines {
		id := strings.TrimSpace(line.ProductID)
		if id == "" {
			return nil, fmt.Errorf("%w: product id is required", ErrStockInvalidInput)
		}
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity for product %s must be positive", ErrStockInvalidInput, id)
		}
		merged[id] += line.Quantity
	}

	out := make([]StockLine, 0, len(merged))
	for id, qty := range merged {
		out = append(out, domain.StockLine{ProductID: id, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

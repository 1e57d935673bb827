package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/mekongeats/api/internal/domain"
	pfirestore "github.com/mekongeats/api/internal/platform/firestore"
	"github.com/mekongeats/api/internal/repositories"
)

// StockRepository applies stock movements to product documents.
type StockRepository struct {
	provider *pfirestore.Provider
	products *pfirestore.BaseRepository[productDocument]
}

// NewStockRepository constructs a Firestore backed stock repository.
func NewStockRepository(provider *pfirestore.Provider) (*StockRepository, error) {
	if provider == nil {
		return nil, errors.New("stock repository requires firestore provider")
	}
	return &StockRepository{
		provider: provider,
		products: pfirestore.NewBaseRepository[productDocument](provider, productsCollection, nil, nil),
	}, nil
}

// Debit conditionally decrements stock for every line in one transaction. A
// line that cannot be covered aborts the whole batch.
func (r *StockRepository) Debit(ctx context.Context, req repositories.StockDebitRequest) (repositories.StockDebitResult, error) {
	if r == nil || r.provider == nil {
		return repositories.StockDebitResult{}, errors.New("stock repository not initialised")
	}
	if len(req.Lines) == 0 {
		return repositories.StockDebitResult{}, errors.New("stock debit: at least one line is required")
	}

	now := req.Now.UTC()
	var stocks map[string]int64
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		debits, err := readStockDebits(ctx, tx, r.products, req.Lines, now)
		if err != nil {
			return err
		}
		if err := applyStockDebits(tx, debits); err != nil {
			return err
		}
		stocks = stockLevels(debits)
		return nil
	})
	if err != nil {
		return repositories.StockDebitResult{}, wrapStockError("stock.debit", err)
	}
	return repositories.StockDebitResult{Stocks: stocks}, nil
}

// Credit increments stock back. Product documents that have since been deleted
// are skipped: there is nothing left to restore.
func (r *StockRepository) Credit(ctx context.Context, req repositories.StockCreditRequest) error {
	if r == nil || r.provider == nil {
		return errors.New("stock repository not initialised")
	}
	if len(req.Lines) == 0 {
		return errors.New("stock credit: at least one line is required")
	}

	now := req.Now.UTC()
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		type credit struct {
			ref *firestore.DocumentRef
			doc productDocument
		}
		credits := make([]credit, 0, len(req.Lines))
		for _, line := range req.Lines {
			ref, err := r.products.DocumentRef(ctx, line.ProductID)
			if err != nil {
				return err
			}
			snap, err := tx.Get(ref)
			if err != nil {
				if status.Code(err) == codes.NotFound {
					continue
				}
				return err
			}
			var doc productDocument
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("decode product %s: %w", line.ProductID, err)
			}
			doc.Stock += line.Quantity
			doc.UpdatedAt = now
			credits = append(credits, credit{ref: ref, doc: doc})
		}
		for _, c := range credits {
			if err := tx.Set(c.ref, c.doc); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return wrapStockError("stock.credit", err)
	}
	return nil
}

// stockDebit pairs a product reference with its post-debit document, prepared
// during the read phase of a transaction and written after all reads finish.
type stockDebit struct {
	productID string
	ref       *firestore.DocumentRef
	doc       productDocument
}

// readStockDebits reads and validates every product in the batch. Transactions
// must finish all reads before the first write, so callers apply the returned
// debits separately via applyStockDebits.
func readStockDebits(ctx context.Context, tx *firestore.Transaction, products *pfirestore.BaseRepository[productDocument], lines []domain.StockLine, now time.Time) ([]stockDebit, error) {
	missing := make([]string, 0)
	short := make([]string, 0)
	debits := make([]stockDebit, 0, len(lines))

	for _, line := range lines {
		ref, err := products.DocumentRef(ctx, line.ProductID)
		if err != nil {
			return nil, err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				missing = append(missing, line.ProductID)
				continue
			}
			return nil, err
		}
		var doc productDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode product %s: %w", line.ProductID, err)
		}
		if doc.Stock < line.Quantity {
			short = append(short, line.ProductID)
			continue
		}
		doc.Stock -= line.Quantity
		doc.OrdersCount++
		doc.UpdatedAt = now
		debits = append(debits, stockDebit{productID: line.ProductID, ref: ref, doc: doc})
	}

	if len(missing) > 0 {
		return nil, repositories.NewStockError(repositories.StockErrorProductNotFound, "products not found", missing, nil)
	}
	if len(short) > 0 {
		return nil, repositories.NewStockError(repositories.StockErrorInsufficient, "insufficient stock", short, nil)
	}
	return debits, nil
}

func applyStockDebits(tx *firestore.Transaction, debits []stockDebit) error {
	for _, d := range debits {
		if err := tx.Set(d.ref, d.doc); err != nil {
			return err
		}
	}
	return nil
}

func stockLevels(debits []stockDebit) map[string]int64 {
	stocks := make(map[string]int64, len(debits))
	for _, d := range debits {
		stocks[d.productID] = d.doc.Stock
	}
	return stocks
}

func wrapStockError(op string, err error) error {
	if err == nil {
		return nil
	}
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		if stockErr.Op == "" {
			stockErr.Op = op
		}
		return stockErr
	}
	return pfirestore.WrapError(op, err)
}

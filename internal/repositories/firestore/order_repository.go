package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/mekongeats/api/internal/domain"
	pfirestore "github.com/mekongeats/api/internal/platform/firestore"
	"github.com/mekongeats/api/internal/repositories"
)

// OrderRepository persists order aggregates and owns the placement transaction.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.BaseRepository[orderDocument]
	products *pfirestore.BaseRepository[productDocument]
	vouchers *pfirestore.BaseRepository[voucherDocument]
	counters *pfirestore.BaseRepository[counterDocument]
}

// NewOrderRepository constructs a Firestore backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		orders:   pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil),
		products: pfirestore.NewBaseRepository[productDocument](provider, productsCollection, nil, nil),
		vouchers: pfirestore.NewBaseRepository[voucherDocument](provider, vouchersCollection, nil, nil),
		counters: pfirestore.NewBaseRepository[counterDocument](provider, countersCollection, nil, nil),
	}, nil
}

// Place materialises an order in one transaction: stock debit, voucher
// redemption, order number allocation, and the order insert commit together
// or not at all. A voucher whose remaining count already hit zero is skipped
// rather than failing the placement.
func (r *OrderRepository) Place(ctx context.Context, req repositories.PlaceOrderRequest) (repositories.PlaceOrderResult, error) {
	if r == nil || r.provider == nil {
		return repositories.PlaceOrderResult{}, errors.New("order repository not initialised")
	}
	order := req.Order
	if strings.TrimSpace(order.ID) == "" {
		return repositories.PlaceOrderResult{}, errors.New("order place: order id is required")
	}
	if strings.TrimSpace(order.UserID) == "" {
		return repositories.PlaceOrderResult{}, errors.New("order place: user id is required")
	}
	if len(order.Items) == 0 {
		return repositories.PlaceOrderResult{}, errors.New("order place: at least one item is required")
	}

	now := req.Now.UTC()
	var result repositories.PlaceOrderResult
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		// All reads happen before the first write.
		debits, err := readStockDebits(ctx, tx, r.products, order.StockLines(), now)
		if err != nil {
			return err
		}

		var voucherRef *firestore.DocumentRef
		var voucherDoc voucherDocument
		redeemVoucher := false
		if id := strings.TrimSpace(req.RedeemVoucherID); id != "" {
			voucherRef, err = r.vouchers.DocumentRef(ctx, id)
			if err != nil {
				return err
			}
			snap, err := tx.Get(voucherRef)
			if err != nil {
				if status.Code(err) != codes.NotFound {
					return err
				}
			} else {
				if err := snap.DataTo(&voucherDoc); err != nil {
					return fmt.Errorf("decode voucher %s: %w", id, err)
				}
				// A raced-to-zero voucher does not fail the placement:
				// pricing was agreed at checkout time.
				redeemVoucher = voucherDoc.Remaining > 0
			}
		}

		counterRef, err := r.counters.DocumentRef(ctx, orderNumberCounterDocument)
		if err != nil {
			return err
		}
		var counter counterDocument
		counterSnap, err := tx.Get(counterRef)
		if err != nil {
			if status.Code(err) != codes.NotFound {
				return err
			}
		} else if err := counterSnap.DataTo(&counter); err != nil {
			return fmt.Errorf("decode order counter: %w", err)
		}

		if err := applyStockDebits(tx, debits); err != nil {
			return err
		}
		if redeemVoucher {
			voucherDoc.Remaining--
			voucherDoc.UpdatedAt = now
			if err := tx.Set(voucherRef, voucherDoc); err != nil {
				return err
			}
		}

		counter.Value++
		if err := tx.Set(counterRef, counter); err != nil {
			return err
		}
		order.Number = fmt.Sprintf("MK-%06d", counter.Value)

		orderRef, err := r.orders.DocumentRef(ctx, order.ID)
		if err != nil {
			return err
		}
		if err := tx.Create(orderRef, newOrderDocument(order)); err != nil {
			return err
		}

		result = repositories.PlaceOrderResult{
			Order:  order,
			Stocks: stockLevels(debits),
		}
		return nil
	})
	if err != nil {
		return repositories.PlaceOrderResult{}, wrapOrderError("orders.place", err)
	}
	return result, nil
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.orders == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order find: order id is required")
	}

	doc, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// Mutate runs a read-validate-write cycle over a single order inside one
// transaction so status transitions are linearizable per order id. Errors
// returned by fn abort the transaction and surface unchanged.
func (r *OrderRepository) Mutate(ctx context.Context, orderID string, fn func(order *domain.Order) error) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order mutate: order id is required")
	}
	if fn == nil {
		return domain.Order{}, errors.New("order mutate: fn is required")
	}

	var mutated domain.Order
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.orders.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode order %s: %w", orderID, err)
		}

		order := doc.toDomain(orderID)
		if err := fn(&order); err != nil {
			return err
		}

		mutated = order
		return tx.Set(ref, newOrderDocument(order))
	})
	if err != nil {
		return domain.Order{}, wrapOrderError("orders.mutate", err)
	}
	return mutated, nil
}

func (r *OrderRepository) Delete(ctx context.Context, orderID string) error {
	if r == nil || r.orders == nil {
		return errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return errors.New("order delete: order id is required")
	}
	return r.orders.Delete(ctx, orderID, firestore.Exists)
}

func (r *OrderRepository) ListByBuyer(ctx context.Context, userID string, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.CursorPage[domain.Order]{}, errors.New("order list: user id is required")
	}
	return r.list(ctx, "userId", "==", userID, filter)
}

func (r *OrderRepository) ListByShop(ctx context.Context, shopID string, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	shopID = strings.TrimSpace(shopID)
	if shopID == "" {
		return domain.CursorPage[domain.Order]{}, errors.New("order list: shop id is required")
	}
	return r.list(ctx, "shopIds", "array-contains", shopID, filter)
}

func (r *OrderRepository) list(ctx context.Context, path, op string, value any, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.orders == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	pageSize := normalisePageSize(filter.PageSize)

	var startAt []any
	if token := strings.TrimSpace(filter.PageToken); token != "" {
		createdAt, id, err := decodeCreatedAtCursor(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		if id != "" {
			startAt = []any{createdAt, id}
		}
	}

	docs, err := r.orders.Query(ctx, func(query firestore.Query) firestore.Query {
		query = query.Where(path, op, value)
		if len(filter.Statuses) > 0 {
			statuses := make([]string, len(filter.Statuses))
			for i, s := range filter.Statuses {
				statuses[i] = string(s)
			}
			query = query.Where("status", "in", statuses)
		}
		query = query.
			OrderBy("createdAt", firestore.Desc).
			OrderBy(firestore.DocumentID, firestore.Desc).
			Limit(pageSize + 1)
		if startAt != nil {
			query = query.StartAfter(startAt...)
		}
		return query
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, doc.Data.toDomain(doc.ID))
	}

	hasMore := len(orders) > pageSize
	if hasMore {
		orders = orders[:pageSize]
	}
	var nextToken string
	if hasMore && len(orders) > 0 {
		last := orders[len(orders)-1]
		nextToken, err = encodeCreatedAtCursor(last.CreatedAt, last.ID)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
	}

	return domain.CursorPage[domain.Order]{Items: orders, NextPageToken: nextToken}, nil
}

// wrapOrderError classifies Firestore failures while letting stock errors and
// caller supplied errors pass through unchanged.
func wrapOrderError(op string, err error) error {
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
	var repoErr *pfirestore.Error
	if errors.As(err, &repoErr) {
		return err
	}
	if code := status.Code(err); code != codes.OK && code != codes.Unknown {
		return pfirestore.WrapError(op, err)
	}
	return err
}

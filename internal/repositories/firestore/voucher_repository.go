package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/mekongeats/api/internal/domain"
	pfirestore "github.com/mekongeats/api/internal/platform/firestore"
)

// VoucherRepository persists vouchers and per-user voucher wallets.
type VoucherRepository struct {
	provider *pfirestore.Provider
	vouchers *pfirestore.BaseRepository[voucherDocument]
	wallets  *pfirestore.BaseRepository[collectedVoucherDocument]
}

// NewVoucherRepository constructs a Firestore backed voucher repository.
func NewVoucherRepository(provider *pfirestore.Provider) (*VoucherRepository, error) {
	if provider == nil {
		return nil, errors.New("voucher repository requires firestore provider")
	}
	return &VoucherRepository{
		provider: provider,
		vouchers: pfirestore.NewBaseRepository[voucherDocument](provider, vouchersCollection, nil, nil),
		wallets:  pfirestore.NewBaseRepository[collectedVoucherDocument](provider, voucherWalletsCollection, nil, nil),
	}, nil
}

func (r *VoucherRepository) Insert(ctx context.Context, voucher domain.Voucher) error {
	if r == nil || r.vouchers == nil {
		return errors.New("voucher repository not initialised")
	}
	if strings.TrimSpace(voucher.ID) == "" {
		return errors.New("voucher insert: voucher id is required")
	}
	_, err := r.vouchers.Create(ctx, voucher.ID, newVoucherDocument(voucher))
	return err
}

func (r *VoucherRepository) Update(ctx context.Context, voucher domain.Voucher) error {
	if r == nil || r.vouchers == nil {
		return errors.New("voucher repository not initialised")
	}
	if strings.TrimSpace(voucher.ID) == "" {
		return errors.New("voucher update: voucher id is required")
	}
	_, err := r.vouchers.Set(ctx, voucher.ID, newVoucherDocument(voucher))
	return err
}

func (r *VoucherRepository) FindByID(ctx context.Context, voucherID string) (domain.Voucher, error) {
	if r == nil || r.vouchers == nil {
		return domain.Voucher{}, errors.New("voucher repository not initialised")
	}
	voucherID = strings.TrimSpace(voucherID)
	if voucherID == "" {
		return domain.Voucher{}, errors.New("voucher find: voucher id is required")
	}

	doc, err := r.vouchers.Get(ctx, voucherID)
	if err != nil {
		return domain.Voucher{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *VoucherRepository) FindByCode(ctx context.Context, code string) (domain.Voucher, error) {
	if r == nil || r.vouchers == nil {
		return domain.Voucher{}, errors.New("voucher repository not initialised")
	}
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return domain.Voucher{}, errors.New("voucher find: code is required")
	}

	docs, err := r.vouchers.Query(ctx, func(query firestore.Query) firestore.Query {
		return query.Where("code", "==", code).Limit(1)
	})
	if err != nil {
		return domain.Voucher{}, err
	}
	if len(docs) == 0 {
		return domain.Voucher{}, pfirestore.NewNotFoundError("vouchers.findbycode", fmt.Errorf("voucher %s not found", code))
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

func (r *VoucherRepository) ListByShop(ctx context.Context, shopID string, pageSize int, pageToken string) (domain.CursorPage[domain.Voucher], error) {
	if r == nil || r.vouchers == nil {
		return domain.CursorPage[domain.Voucher]{}, errors.New("voucher repository not initialised")
	}
	shopID = strings.TrimSpace(shopID)
	if shopID == "" {
		return domain.CursorPage[domain.Voucher]{}, errors.New("voucher list: shop id is required")
	}

	size := normalisePageSize(pageSize)

	var startAt []any
	if token := strings.TrimSpace(pageToken); token != "" {
		createdAt, id, err := decodeCreatedAtCursor(token)
		if err != nil {
			return domain.CursorPage[domain.Voucher]{}, err
		}
		if id != "" {
			startAt = []any{createdAt, id}
		}
	}

	docs, err := r.vouchers.Query(ctx, func(query firestore.Query) firestore.Query {
		query = query.
			Where("shopId", "==", shopID).
			OrderBy("createdAt", firestore.Desc).
			OrderBy(firestore.DocumentID, firestore.Desc).
			Limit(size + 1)
		if startAt != nil {
			query = query.StartAfter(startAt...)
		}
		return query
	})
	if err != nil {
		return domain.CursorPage[domain.Voucher]{}, err
	}

	vouchers := make([]domain.Voucher, 0, len(docs))
	for _, doc := range docs {
		vouchers = append(vouchers, doc.Data.toDomain(doc.ID))
	}

	hasMore := len(vouchers) > size
	if hasMore {
		vouchers = vouchers[:size]
	}
	var nextToken string
	if hasMore && len(vouchers) > 0 {
		last := vouchers[len(vouchers)-1]
		nextToken, err = encodeCreatedAtCursor(last.CreatedAt, last.ID)
		if err != nil {
			return domain.CursorPage[domain.Voucher]{}, err
		}
	}

	return domain.CursorPage[domain.Voucher]{Items: vouchers, NextPageToken: nextToken}, nil
}

// Collect records the voucher in the user's wallet. The wallet document id is
// derived from both ids, so collecting twice surfaces as a conflict.
func (r *VoucherRepository) Collect(ctx context.Context, voucherID, userID string, now time.Time) error {
	if r == nil || r.wallets == nil {
		return errors.New("voucher repository not initialised")
	}
	voucherID = strings.TrimSpace(voucherID)
	userID = strings.TrimSpace(userID)
	if voucherID == "" || userID == "" {
		return errors.New("voucher collect: voucher id and user id are required")
	}

	_, err := r.wallets.Create(ctx, fmt.Sprintf("%s_%s", voucherID, userID), collectedVoucherDocument{
		VoucherID:   voucherID,
		UserID:      userID,
		CollectedAt: now.UTC(),
	})
	return err
}

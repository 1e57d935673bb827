package firestore

import (
	"context"
	"errors"
	"strings"

	"cloud.google.com/go/firestore"

	domain "github.com/mekongeats/api/internal/domain"
	pfirestore "github.com/mekongeats/api/internal/platform/firestore"
)

// ShopRepository resolves the shop directory for ownership checks and
// notification routing.
type ShopRepository struct {
	shops *pfirestore.BaseRepository[shopDocument]
}

// NewShopRepository constructs a Firestore backed shop repository.
func NewShopRepository(provider *pfirestore.Provider) (*ShopRepository, error) {
	if provider == nil {
		return nil, errors.New("shop repository requires firestore provider")
	}
	return &ShopRepository{
		shops: pfirestore.NewBaseRepository[shopDocument](provider, shopsCollection, nil, nil),
	}, nil
}

func (r *ShopRepository) FindByID(ctx context.Context, shopID string) (domain.Shop, error) {
	if r == nil || r.shops == nil {
		return domain.Shop{}, errors.New("shop repository not initialised")
	}
	shopID = strings.TrimSpace(shopID)
	if shopID == "" {
		return domain.Shop{}, errors.New("shop find: shop id is required")
	}

	doc, err := r.shops.Get(ctx, shopID)
	if err != nil {
		return domain.Shop{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *ShopRepository) ListBySeller(ctx context.Context, sellerID string) ([]domain.Shop, error) {
	if r == nil || r.shops == nil {
		return nil, errors.New("shop repository not initialised")
	}
	sellerID = strings.TrimSpace(sellerID)
	if sellerID == "" {
		return nil, errors.New("shop list: seller id is required")
	}

	docs, err := r.shops.Query(ctx, func(query firestore.Query) firestore.Query {
		return query.Where("sellerId", "==", sellerID)
	})
	if err != nil {
		return nil, err
	}

	shops := make([]domain.Shop, 0, len(docs))
	for _, doc := range docs {
		shops = append(shops, doc.Data.toDomain(doc.ID))
	}
	return shops, nil
}

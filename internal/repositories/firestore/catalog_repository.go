package firestore

import (
	"context"
	"errors"
	"strings"

	domain "github.com/mekongeats/api/internal/domain"
	pfirestore "github.com/mekongeats/api/internal/platform/firestore"
)

// CatalogRepository reads product snapshots for pricing and checkout.
type CatalogRepository struct {
	products *pfirestore.BaseRepository[productDocument]
}

// NewCatalogRepository constructs a Firestore backed catalog reader.
func NewCatalogRepository(provider *pfirestore.Provider) (*CatalogRepository, error) {
	if provider == nil {
		return nil, errors.New("catalog repository requires firestore provider")
	}
	return &CatalogRepository{
		products: pfirestore.NewBaseRepository[productDocument](provider, productsCollection, nil, nil),
	}, nil
}

func (r *CatalogRepository) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.products == nil {
		return domain.Product{}, errors.New("catalog repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, errors.New("catalog get: product id is required")
	}

	doc, err := r.products.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// GetProducts fetches the requested products individually. Missing products
// are omitted from the result rather than failing the batch; callers decide
// how to treat absences.
func (r *CatalogRepository) GetProducts(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	if r == nil || r.products == nil {
		return nil, errors.New("catalog repository not initialised")
	}

	products := make(map[string]domain.Product, len(productIDs))
	for _, id := range productIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		doc, err := r.products.Get(ctx, id)
		if err != nil {
			var repoErr *pfirestore.Error
			if errors.As(err, &repoErr) && repoErr.IsNotFound() {
				continue
			}
			return nil, err
		}
		products[doc.ID] = doc.Data.toDomain(doc.ID)
	}
	return products, nil
}

package firestore

import (
	"context"
	"errors"

	pfirestore "github.com/mekongeats/api/internal/platform/firestore"
	"github.com/mekongeats/api/internal/repositories"
)

// Registry wires the Firestore backed repositories behind the repositories.Registry interface.
type Registry struct {
	provider      *pfirestore.Provider
	catalog       *CatalogRepository
	stock         *StockRepository
	orders        *OrderRepository
	vouchers      *VoucherRepository
	notifications *NotificationRepository
	shops         *ShopRepository
	health        *HealthRepository
}

// NewRegistry constructs every repository against the shared provider.
func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}

	catalog, err := NewCatalogRepository(provider)
	if err != nil {
		return nil, err
	}
	stock, err := NewStockRepository(provider)
	if err != nil {
		return nil, err
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	vouchers, err := NewVoucherRepository(provider)
	if err != nil {
		return nil, err
	}
	notifications, err := NewNotificationRepository(provider)
	if err != nil {
		return nil, err
	}
	shops, err := NewShopRepository(provider)
	if err != nil {
		return nil, err
	}
	health, err := NewHealthRepository(provider)
	if err != nil {
		return nil, err
	}

	return &Registry{
		provider:      provider,
		catalog:       catalog,
		stock:         stock,
		orders:        orders,
		vouchers:      vouchers,
		notifications: notifications,
		shops:         shops,
		health:        health,
	}, nil
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

func (r *Registry) Catalog() repositories.CatalogRepository             { return r.catalog }
func (r *Registry) Stock() repositories.StockRepository                 { return r.stock }
func (r *Registry) Orders() repositories.OrderRepository                { return r.orders }
func (r *Registry) Vouchers() repositories.VoucherRepository            { return r.vouchers }
func (r *Registry) Notifications() repositories.NotificationRepository  { return r.notifications }
func (r *Registry) Shops() repositories.ShopRepository                  { return r.shops }
func (r *Registry) Health() repositories.HealthRepository               { return r.health }

// RunInTx groups repository calls under one logical scope. Multi-document
// atomicity lives inside the repository methods themselves; this hook exists
// for callers that want a shared boundary around sequential calls.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("registry: fn is required")
	}
	return fn(ctx)
}

// HealthRepository probes Firestore connectivity for readiness checks.
type HealthRepository struct {
	provider *pfirestore.Provider
}

// NewHealthRepository constructs the Firestore readiness probe.
func NewHealthRepository(provider *pfirestore.Provider) (*HealthRepository, error) {
	if provider == nil {
		return nil, errors.New("health repository requires firestore provider")
	}
	return &HealthRepository{provider: provider}, nil
}

// Ping reads a sentinel document. A missing document still proves the backend
// answered, so only transport level failures are reported.
func (h *HealthRepository) Ping(ctx context.Context) error {
	if h == nil || h.provider == nil {
		return errors.New("health repository not initialised")
	}
	client, err := h.provider.Client(ctx)
	if err != nil {
		return err
	}
	if _, err := client.Collection(healthCollection).Doc("ping").Get(ctx); err != nil {
		wrapped := pfirestore.WrapError("health.ping", err)
		var repoErr *pfirestore.Error
		if errors.As(wrapped, &repoErr) && repoErr.IsNotFound() {
			return nil
		}
		return wrapped
	}
	return nil
}

package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/mekongeats/api/internal/payments"
	"github.com/mekongeats/api/internal/platform/config"
	"github.com/mekongeats/api/internal/platform/idempotency"
	"github.com/mekongeats/api/internal/repositories"
	"github.com/mekongeats/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon.
// Concrete implementations are assembled in NewContainer.
type Services struct {
	Pricing       services.PricingEngine
	Stock         services.StockLedger
	Checkout      services.CheckoutService
	Orders        services.OrderService
	Vouchers      services.VoucherService
	Notifications services.NotificationService
	System        services.SystemService
}

// Deps carries the externally constructed collaborators the services need
// beyond the repository registry.
type Deps struct {
	Gateway payments.GatewayClient
	Dedupe  idempotency.Store
	Events  services.EventPublisher
	Clock   func() time.Time
	Logger  func(ctx context.Context, event string, fields map[string]any)
}

// Container wires repositories and services for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring provides
// real implementations, while tests can supply in-memory registries and stubs.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, deps Deps) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(reg, cfg, deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases repository clients and any other held resources.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(reg repositories.Registry, cfg config.Config, deps Deps) (Services, error) {
	var svc Services

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := func() string { return ulid.Make().String() }

	pricing, err := services.NewPricingEngine(services.PricingEngineDeps{
		Catalog:     reg.Catalog(),
		Vouchers:    reg.Vouchers(),
		DeliveryFee: cfg.Pricing.DeliveryFee,
		Clock:       clock,
		Logger:      deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build pricing engine: %w", err)
	}
	svc.Pricing = pricing

	stock, err := services.NewStockLedger(services.StockLedgerDeps{
		Stock:  reg.Stock(),
		Clock:  clock,
		Logger: deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build stock ledger: %w", err)
	}
	svc.Stock = stock

	notifications, err := services.NewNotificationService(services.NotificationServiceDeps{
		Notifications: reg.Notifications(),
		Clock:         clock,
		IDGenerator:   newID,
		Logger:        deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build notification service: %w", err)
	}
	svc.Notifications = notifications

	orders, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:   reg.Orders(),
		Shops:    reg.Shops(),
		Stock:    stock,
		Notifier: notifications,
		Events:   deps.Events,
		Clock:    clock,
		Logger:   deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orders

	checkout, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Orders:      reg.Orders(),
		Shops:       reg.Shops(),
		Pricing:     pricing,
		Gateway:     deps.Gateway,
		Dedupe:      deps.Dedupe,
		Notifier:    notifications,
		Events:      deps.Events,
		CallbackTTL: cfg.Idempotency.TTL,
		Clock:       clock,
		IDGenerator: newID,
		Logger:      deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build checkout service: %w", err)
	}
	svc.Checkout = checkout

	vouchers, err := services.NewVoucherService(services.VoucherServiceDeps{
		Vouchers:    reg.Vouchers(),
		Shops:       reg.Shops(),
		Clock:       clock,
		IDGenerator: newID,
		Logger:      deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build voucher service: %w", err)
	}
	svc.Vouchers = vouchers

	system, err := services.NewSystemService(services.SystemServiceDeps{
		Health: reg.Health(),
		Clock:  clock,
		Logger: deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build system service: %w", err)
	}
	svc.System = system

	return svc, nil
}

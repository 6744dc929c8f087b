package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lumenmart/api/internal/carrier"
	"github.com/lumenmart/api/internal/channels"
	"github.com/lumenmart/api/internal/platform/config"
	"github.com/lumenmart/api/internal/platform/observability"
	"github.com/lumenmart/api/internal/repositories"
	"github.com/lumenmart/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Pricing    services.PricingService
	Inventory  services.InventoryAdjuster
	Loyalty    services.LoyaltyService
	Orders     services.OrderService
	Reconciler services.WebhookReconciler
	Importer   services.ChannelImporter
	System     services.SystemService
}

// Collaborators carries infrastructure built outside the repository registry. Every field is
// optional: a nil Carrier disables waybills, nil Records disables the relational mirror and a
// nil Health falls back to the registry checks.
type Collaborators struct {
	Records  repositories.OrderRecordRepository
	Carrier  carrier.Gateway
	Channels channels.Adapters
	Health   repositories.HealthRepository
	Build    services.BuildInfo
	Logger   *zap.Logger
	Clock    func() time.Time
}

// Container wires repositories and services for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Tests can supply in-memory registries.
func NewContainer(cfg config.Config, reg repositories.Registry, collab Collaborators) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(reg, cfg, collab)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(reg repositories.Registry, cfg config.Config, collab Collaborators) (Services, error) {
	clock := collab.Clock
	if clock == nil {
		clock = time.Now
	}
	events := observability.NewEventLogger(collab.Logger)

	var svc Services
	var err error

	svc.Pricing, err = services.NewPricingService(services.PricingServiceDeps{
		Vouchers: reg.Vouchers(),
		Clock:    clock,
		Logger:   events,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build pricing service: %w", err)
	}

	svc.Inventory, err = services.NewInventoryAdjuster(services.InventoryAdjusterDeps{
		Products: reg.Products(),
		Logger:   events,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build inventory adjuster: %w", err)
	}

	svc.Loyalty, err = services.NewLoyaltyService(services.LoyaltyServiceDeps{
		Customers: reg.Customers(),
		Tiers: services.LoyaltyTiers{
			Silver:  cfg.Loyalty.SilverPoints,
			Gold:    cfg.Loyalty.GoldPoints,
			Diamond: cfg.Loyalty.DiamondPoints,
		},
		Clock: clock,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build loyalty service: %w", err)
	}

	svc.Orders, err = services.NewOrderService(services.OrderServiceDeps{
		Orders:    reg.Orders(),
		Products:  reg.Products(),
		Vouchers:  reg.Vouchers(),
		Settings:  reg.Settings(),
		Outbox:    reg.Outbox(),
		Records:   collab.Records,
		Pricing:   svc.Pricing,
		Inventory: svc.Inventory,
		Loyalty:   svc.Loyalty,
		Carrier:   collab.Carrier,
		Clock:     clock,
		Logger:    events,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}

	svc.Reconciler, err = services.NewWebhookReconciler(services.WebhookReconcilerDeps{
		Orders:       reg.Orders(),
		Records:      collab.Records,
		Events:       reg.CarrierEvents(),
		OrderService: svc.Orders,
		Clock:        clock,
		Logger:       events,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build webhook reconciler: %w", err)
	}

	svc.Importer, err = services.NewChannelImporter(services.ChannelImporterDeps{
		Orders:   svc.Orders,
		Adapters: collab.Channels,
		Logger:   events,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build channel importer: %w", err)
	}

	healthRepo := collab.Health
	if healthRepo == nil {
		healthRepo = reg.Health()
	}
	if healthRepo != nil {
		build := collab.Build
		if build.Environment == "" {
			build.Environment = cfg.Security.Environment
		}
		svc.System, err = services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            clock,
			Build:            build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
	}

	return svc, nil
}

package services

import (
	"context"
	"time"

	"github.com/lumenmart/api/internal/channels"
	domain "github.com/lumenmart/api/internal/domain"
	"github.com/lumenmart/api/internal/platform/pagination"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Order            = domain.Order
	OrderStatus      = domain.OrderStatus
	LineItem         = domain.LineItem
	CustomerSnapshot = domain.CustomerSnapshot
	ShippingInfo     = domain.ShippingInfo
	PricingBreakdown = domain.PricingBreakdown
	Product          = domain.Product
	Variant          = domain.Variant
	Voucher          = domain.Voucher
	Customer         = domain.Customer
	CarrierEvent     = domain.CarrierEvent
	Waybill          = domain.Waybill
	HealthReport     = domain.HealthReport
	StockAdjustment  = domain.StockAdjustment
)

// PricingService derives order financials and re-validates vouchers server side.
type PricingService interface {
	Quote(ctx context.Context, input PricingInput) (PricingBreakdown, error)
	// Preview returns the same totals as Quote and additionally reports a rejected voucher
	// as ErrVoucherRejected.
	Preview(ctx context.Context, input PricingInput) (PricingBreakdown, error)
}

// InventoryAdjuster moves stock for a set of line items. Direction is -1 to deduct and +1
// to restore.
type InventoryAdjuster interface {
	Adjust(ctx context.Context, items []LineItem, direction int) (AdjustmentReport, error)
	// Revert reverses movements recorded from an earlier report.
	Revert(ctx context.Context, adjustments []StockAdjustment) (AdjustmentReport, error)
}

// LoyaltyService credits points for completed orders and recomputes tiers.
type LoyaltyService interface {
	Credit(ctx context.Context, customerID string, points int64) (Customer, error)
	TierFor(points int64) string
}

// OrderService owns the order lifecycle.
type OrderService interface {
	Create(ctx context.Context, cmd CreateOrderCommand) (CreateOrderResult, error)
	// Preview prices a checkout against the catalog without persisting anything.
	Preview(ctx context.Context, cmd CreateOrderCommand) (PricingBreakdown, error)
	Confirm(ctx context.Context, orderID string) (TransitionResult, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	Complete(ctx context.Context, orderID string) (Order, error)
	Delete(ctx context.Context, orderID string) error
	Upsert(ctx context.Context, cmd UpsertOrderCommand) (Order, error)
	UpdateStatus(ctx context.Context, cmd UpdateStatusCommand) (TransitionResult, error)
	Get(ctx context.Context, orderID string) (Order, error)
	List(ctx context.Context, page pagination.Params) (pagination.Page[Order], error)
	// ApplyCarrierStatus is the reconciler's entry into the transition table. It returns the
	// order after the attempt and whether the status changed.
	ApplyCarrierStatus(ctx context.Context, orderID string, status OrderStatus) (Order, bool, error)
}

// WebhookReconciler applies carrier status pushes to orders.
type WebhookReconciler interface {
	Reconcile(ctx context.Context, input CarrierEventInput) (ReconcileResult, error)
}

// ChannelImporter turns marketplace orders into local orders without touching stock.
type ChannelImporter interface {
	Import(ctx context.Context, channel domain.SourceChannel, orders []channels.Order) (ImportResult, error)
	Sync(ctx context.Context, channel domain.SourceChannel, since time.Time) (ImportResult, error)
}

// SystemService exposes health and build metadata.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

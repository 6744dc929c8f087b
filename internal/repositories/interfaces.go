package repositories

import (
	"context"
	"time"

	domain "github.com/lumenmart/api/internal/domain"
	"github.com/lumenmart/api/internal/platform/pagination"
)

// Registry exposes typed repository accessors for dependency wiring.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Products() ProductRepository
	Vouchers() VoucherRepository
	Customers() CustomerRepository
	CarrierEvents() CarrierEventRepository
	Settings() SettingsRepository
	Outbox() OutboxRepository
	Health() HealthRepository
}

// OrderRepository persists orders in the document store along with the newest-first list
// index and the tracking code index.
type OrderRepository interface {
	// Insert stores a new order and prepends it to the list index. An existing id is a conflict.
	Insert(ctx context.Context, order domain.Order) error
	Get(ctx context.Context, orderID string) (domain.Order, error)
	// Mutate runs a serialized read-modify-write of one order. fn may be invoked more than once
	// under contention. Returning ErrSkipWrite from fn leaves the stored order untouched.
	Mutate(ctx context.Context, orderID string, fn func(order *domain.Order) error) (domain.Order, error)
	// Delete removes the order, its list index entry and its tracking index entry.
	Delete(ctx context.Context, orderID string) error
	List(ctx context.Context, page pagination.Params) (pagination.Page[domain.Order], error)
	// FindByTrackingCode consults the tracking index, then the tracking, carrier and legacy
	// waybill fields on the orders themselves.
	FindByTrackingCode(ctx context.Context, code string) (domain.Order, error)
	FindByIdempotencyKey(ctx context.Context, key string) (domain.Order, error)
	IndexTracking(ctx context.Context, code, orderID string) error
}

// ProductRepository exposes catalog entries with serialized stock updates.
type ProductRepository interface {
	Get(ctx context.Context, productID string) (domain.Product, error)
	Save(ctx context.Context, product domain.Product) error
	// Mutate runs a serialized read-modify-write of one product so concurrent stock updates
	// cannot lose each other.
	Mutate(ctx context.Context, productID string, fn func(product *domain.Product) error) (domain.Product, error)
}

// VoucherRepository stores voucher definitions and the per-order usage records. An order
// first reserves a slot and converts it on completion; usage_count plus reserved_count never
// exceeds usage_limit_total.
type VoucherRepository interface {
	FindByCode(ctx context.Context, code string) (domain.Voucher, error)
	Save(ctx context.Context, voucher domain.Voucher) error
	// CountCustomerUsage counts reserved and consumed records of the customer.
	CountCustomerUsage(ctx context.Context, code, customerID string) (int64, error)
	// Reserve holds a slot for the order, checking both limits atomically. Reserving again for
	// the same order is a no-op. ErrVoucherExhausted reports a limit hit.
	Reserve(ctx context.Context, usage domain.VoucherUsage) error
	// Release drops an open reservation. Missing or consumed records are left alone; released
	// reports whether a reservation was dropped.
	Release(ctx context.Context, code, orderID string) (released bool, err error)
	// Consume converts the order's reservation into a usage, or records a new usage after
	// re-checking the limits when none was reserved. A usage already recorded for the same
	// order is not counted again; consumed reports whether this call recorded it.
	Consume(ctx context.Context, usage domain.VoucherUsage) (consumed bool, err error)
}

// CustomerRepository stores loyalty state.
type CustomerRepository interface {
	Get(ctx context.Context, customerID string) (domain.Customer, error)
	// Mutate runs a serialized read-modify-write, creating the customer when missing. fn
	// receives a zero customer with ID set in that case.
	Mutate(ctx context.Context, customerID string, fn func(customer *domain.Customer) error) (domain.Customer, error)
}

// CarrierEventRepository keeps the per-order history of carrier pushes.
type CarrierEventRepository interface {
	Append(ctx context.Context, event domain.CarrierEvent) error
	List(ctx context.Context, orderID string) ([]domain.CarrierEvent, error)
}

// SettingsRepository reads configuration documents maintained by the admin console.
type SettingsRepository interface {
	ShippingSettings(ctx context.Context) (domain.ShippingSettings, error)
	SaveShippingSettings(ctx context.Context, settings domain.ShippingSettings) error
}

// OutboxRepository persists events written after order commits until they are delivered.
type OutboxRepository interface {
	Enqueue(ctx context.Context, event domain.OutboxEvent) error
	// Pending returns undelivered events with fewer than maxAttempts attempts, oldest first.
	Pending(ctx context.Context, limit, maxAttempts int) ([]domain.OutboxEvent, error)
	MarkDelivered(ctx context.Context, eventID string, at time.Time) error
	MarkFailed(ctx context.Context, eventID string, reason string) error
}

// OrderRecordRepository mirrors orders into the relational store for reporting and lookups.
type OrderRecordRepository interface {
	Upsert(ctx context.Context, order domain.Order) error
	Delete(ctx context.Context, orderID string) error
	FindOrderIDByTrackingCode(ctx context.Context, code string) (string, error)
}

// HealthRepository checks backing services.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.HealthReport, error)
}

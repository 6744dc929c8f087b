// Package memory implements the repositories on process memory. It backs local runs and tests;
// per-key locks give Mutate the same serialization the Firestore transactions provide.
package memory

import (
	"context"
	"sync"
	"time"

	domain "github.com/lumenmart/api/internal/domain"
	"github.com/lumenmart/api/internal/repositories"
)

// Registry bundles the in-memory repositories.
type Registry struct {
	orders    *OrderRepository
	products  *ProductRepository
	vouchers  *VoucherRepository
	customers *CustomerRepository
	events    *CarrierEventRepository
	settings  *SettingsRepository
	outbox    *OutboxRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs empty repositories.
func NewRegistry() *Registry {
	return &Registry{
		orders:    NewOrderRepository(),
		products:  NewProductRepository(),
		vouchers:  NewVoucherRepository(),
		customers: NewCustomerRepository(),
		events:    NewCarrierEventRepository(),
		settings:  NewSettingsRepository(domain.ShippingSettings{}),
		outbox:    NewOutboxRepository(),
	}
}

func (r *Registry) Close(context.Context) error                        { return nil }
func (r *Registry) Orders() repositories.OrderRepository               { return r.orders }
func (r *Registry) Products() repositories.ProductRepository           { return r.products }
func (r *Registry) Vouchers() repositories.VoucherRepository           { return r.vouchers }
func (r *Registry) Customers() repositories.CustomerRepository         { return r.customers }
func (r *Registry) CarrierEvents() repositories.CarrierEventRepository { return r.events }
func (r *Registry) Settings() repositories.SettingsRepository          { return r.settings }
func (r *Registry) Outbox() repositories.OutboxRepository              { return r.outbox }

// Health always reports ok; there is nothing to check.
func (r *Registry) Health() repositories.HealthRepository {
	repo, _ := repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{{
		Name:  "memory",
		Check: func(context.Context) error { return nil },
	}}, repositories.WithDependencyClock(time.Now))
	return repo
}

// keyedMutex hands out one mutex per key.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	k.mu.Unlock()
	l.Lock()
	return l.Unlock
}

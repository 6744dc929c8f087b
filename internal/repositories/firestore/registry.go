// Package firestore implements the repositories on Cloud Firestore.
package firestore

import (
	"context"
	"errors"
	"time"

	pfirestore "github.com/lumenmart/api/internal/platform/firestore"
	"github.com/lumenmart/api/internal/repositories"
)

const healthCheckTimeout = 3 * time.Second

// Registry wires the Firestore repositories around one provider.
type Registry struct {
	provider  *pfirestore.Provider
	orders    *OrderRepository
	products  *ProductRepository
	vouchers  *VoucherRepository
	customers *CustomerRepository
	events    *CarrierEventRepository
	settings  *SettingsRepository
	outbox    *OutboxRepository
	health    repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs all repositories. extraChecks are reported next to the Firestore
// check by Health.
func NewRegistry(provider *pfirestore.Provider, extraChecks ...repositories.DependencyCheck) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires provider")
	}
	reg := &Registry{provider: provider}
	var err error
	if reg.orders, err = NewOrderRepository(provider); err != nil {
		return nil, err
	}
	if reg.products, err = NewProductRepository(provider); err != nil {
		return nil, err
	}
	if reg.vouchers, err = NewVoucherRepository(provider); err != nil {
		return nil, err
	}
	if reg.customers, err = NewCustomerRepository(provider); err != nil {
		return nil, err
	}
	if reg.events, err = NewCarrierEventRepository(provider); err != nil {
		return nil, err
	}
	if reg.settings, err = NewSettingsRepository(provider); err != nil {
		return nil, err
	}
	if reg.outbox, err = NewOutboxRepository(provider); err != nil {
		return nil, err
	}

	checks := append([]repositories.DependencyCheck{{
		Name:    "firestore",
		Timeout: healthCheckTimeout,
		Check: func(ctx context.Context) error {
			_, err := reg.settings.ShippingSettings(ctx)
			return err
		},
	}}, extraChecks...)
	if reg.health, err = repositories.NewDependencyHealthRepository(checks); err != nil {
		return nil, err
	}
	return reg, nil
}

func (r *Registry) Close(ctx context.Context) error                    { return r.provider.Close(ctx) }
func (r *Registry) Orders() repositories.OrderRepository               { return r.orders }
func (r *Registry) Products() repositories.ProductRepository           { return r.products }
func (r *Registry) Vouchers() repositories.VoucherRepository           { return r.vouchers }
func (r *Registry) Customers() repositories.CustomerRepository         { return r.customers }
func (r *Registry) CarrierEvents() repositories.CarrierEventRepository { return r.events }
func (r *Registry) Settings() repositories.SettingsRepository          { return r.settings }
func (r *Registry) Outbox() repositories.OutboxRepository              { return r.outbox }
func (r *Registry) Health() repositories.HealthRepository              { return r.health }

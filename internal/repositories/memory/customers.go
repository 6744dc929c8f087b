package memory

import (
	"context"
	"errors"
	"sync"

	domain "github.com/lumenmart/api/internal/domain"
	"github.com/lumenmart/api/internal/repositories"
)

// CustomerRepository keeps loyalty state in memory.
type CustomerRepository struct {
	keys      keyedMutex
	mu        sync.RWMutex
	customers map[string]domain.Customer
}

var _ repositories.CustomerRepository = (*CustomerRepository)(nil)

// NewCustomerRepository constructs an empty repository.
func NewCustomerRepository() *CustomerRepository {
	return &CustomerRepository{customers: make(map[string]domain.Customer)}
}

func (r *CustomerRepository) Get(_ context.Context, customerID string) (domain.Customer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	customer, ok := r.customers[customerID]
	if !ok {
		return domain.Customer{}, repositories.NewNotFound("customers.get", "customer "+customerID)
	}
	return customer, nil
}

func (r *CustomerRepository) Mutate(_ context.Context, customerID string, fn func(customer *domain.Customer) error) (domain.Customer, error) {
	unlock := r.keys.lock(customerID)
	defer unlock()

	r.mu.RLock()
	current, ok := r.customers[customerID]
	r.mu.RUnlock()
	if !ok {
		current = domain.Customer{ID: customerID}
	}
	next := current
	if err := fn(&next); err != nil {
		if errors.Is(err, repositories.ErrSkipWrite) {
			return current, nil
		}
		return domain.Customer{}, err
	}
	r.mu.Lock()
	r.customers[customerID] = next
	r.mu.Unlock()
	return next, nil
}

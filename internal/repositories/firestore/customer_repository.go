package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"

	domain "github.com/lumenmart/api/internal/domain"
	pfirestore "github.com/lumenmart/api/internal/platform/firestore"
	"github.com/lumenmart/api/internal/repositories"
)

const customersCollection = "customers"

type CustomerRepository struct {
	provider  *pfirestore.Provider
	customers *pfirestore.BaseRepository[customerDocument]
}

var _ repositories.CustomerRepository = (*CustomerRepository)(nil)

func NewCustomerRepository(provider *pfirestore.Provider) (*CustomerRepository, error) {
	if provider == nil {
		return nil, errors.New("customer repository requires firestore provider")
	}
	return &CustomerRepository{
		provider:  provider,
		customers: pfirestore.NewBaseRepository[customerDocument](provider, customersCollection),
	}, nil
}

func (r *CustomerRepository) Get(ctx context.Context, customerID string) (domain.Customer, error) {
	doc, err := r.customers.Get(ctx, customerID)
	if err != nil {
		return domain.Customer{}, err
	}
	return doc.toDomain(customerID), nil
}

func (r *CustomerRepository) Mutate(ctx context.Context, customerID string, fn func(customer *domain.Customer) error) (domain.Customer, error) {
	var result domain.Customer
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, _, err := r.customers.TxGet(ctx, tx, customerID)
		if err != nil {
			return err
		}
		next := doc.toDomain(customerID)
		if err := fn(&next); err != nil {
			if errors.Is(err, repositories.ErrSkipWrite) {
				result = doc.toDomain(customerID)
				return nil
			}
			return err
		}
		ref, err := r.customers.DocumentRef(ctx, customerID)
		if err != nil {
			return err
		}
		result = next
		return tx.Set(ref, newCustomerDocument(next))
	})
	if err != nil {
		return domain.Customer{}, pfirestore.WrapError("customers.mutate", err)
	}
	return result, nil
}

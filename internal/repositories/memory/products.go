package memory

import (
	"context"
	"errors"
	"sync"

	domain "github.com/lumenmart/api/internal/domain"
	"github.com/lumenmart/api/internal/repositories"
)

// ProductRepository keeps catalog entries in memory.
type ProductRepository struct {
	keys     keyedMutex
	mu       sync.RWMutex
	products map[string]domain.Product
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

// NewProductRepository constructs an empty repository.
func NewProductRepository() *ProductRepository {
	return &ProductRepository{products: make(map[string]domain.Product)}
}

func (r *ProductRepository) Get(_ context.Context, productID string) (domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	product, ok := r.products[productID]
	if !ok {
		return domain.Product{}, repositories.NewNotFound("products.get", "product "+productID)
	}
	return cloneProduct(product), nil
}

func (r *ProductRepository) Save(_ context.Context, product domain.Product) error {
	r.mu.Lock()
	r.products[product.ID] = cloneProduct(product)
	r.mu.Unlock()
	return nil
}

func (r *ProductRepository) Mutate(ctx context.Context, productID string, fn func(product *domain.Product) error) (domain.Product, error) {
	unlock := r.keys.lock(productID)
	defer unlock()

	current, err := r.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	next := cloneProduct(current)
	if err := fn(&next); err != nil {
		if errors.Is(err, repositories.ErrSkipWrite) {
			return current, nil
		}
		return domain.Product{}, err
	}
	return next, r.Save(ctx, next)
}

package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"

	domain "github.com/lumenmart/api/internal/domain"
	pfirestore "github.com/lumenmart/api/internal/platform/firestore"
	"github.com/lumenmart/api/internal/repositories"
)

const productsCollection = "products"

type ProductRepository struct {
	provider *pfirestore.Provider
	products *pfirestore.BaseRepository[productDocument]
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	return &ProductRepository{
		provider: provider,
		products: pfirestore.NewBaseRepository[productDocument](provider, productsCollection),
	}, nil
}

func (r *ProductRepository) Get(ctx context.Context, productID string) (domain.Product, error) {
	doc, err := r.products.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	return doc.toDomain(productID), nil
}

func (r *ProductRepository) Save(ctx context.Context, product domain.Product) error {
	return r.products.Set(ctx, product.ID, newProductDocument(product))
}

func (r *ProductRepository) Mutate(ctx context.Context, productID string, fn func(product *domain.Product) error) (domain.Product, error) {
	var result domain.Product
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, found, err := r.products.TxGet(ctx, tx, productID)
		if err != nil {
			return err
		}
		if !found {
			return pfirestore.NotFound("products.mutate", "product "+productID)
		}
		next := doc.toDomain(productID)
		if err := fn(&next); err != nil {
			if errors.Is(err, repositories.ErrSkipWrite) {
				result = doc.toDomain(productID)
				return nil
			}
			return err
		}
		ref, err := r.products.DocumentRef(ctx, productID)
		if err != nil {
			return err
		}
		result = next
		return tx.Set(ref, newProductDocument(next))
	})
	if err != nil {
		return domain.Product{}, pfirestore.WrapError("products.mutate", err)
	}
	return result, nil
}

package memory

import (
	"context"
	"errors"
	"strings"
	"sync"

	domain "github.com/lumenmart/api/internal/domain"
	"github.com/lumenmart/api/internal/platform/pagination"
	"github.com/lumenmart/api/internal/repositories"
)

// OrderRepository keeps orders, the newest-first list and the tracking index in memory.
type OrderRepository struct {
	keys     keyedMutex
	mu       sync.RWMutex
	orders   map[string]domain.Order
	list     []string
	tracking map[string]string
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs an empty repository.
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{orders: make(map[string]domain.Order), tracking: make(map[string]string)}
}

func (r *OrderRepository) Insert(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[order.ID]; ok {
		return repositories.NewConflict("orders.insert", "order "+order.ID)
	}
	r.orders[order.ID] = cloneOrder(order)
	r.list = append([]string{order.ID}, r.list...)
	return nil
}

func (r *OrderRepository) Get(_ context.Context, orderID string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	order, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, repositories.NewNotFound("orders.get", "order "+orderID)
	}
	return cloneOrder(order), nil
}

func (r *OrderRepository) Mutate(ctx context.Context, orderID string, fn func(order *domain.Order) error) (domain.Order, error) {
	unlock := r.keys.lock(orderID)
	defer unlock()

	current, err := r.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	next := cloneOrder(current)
	if err := fn(&next); err != nil {
		if errors.Is(err, repositories.ErrSkipWrite) {
			return current, nil
		}
		return domain.Order{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[orderID]; !ok {
		return domain.Order{}, repositories.NewNotFound("orders.mutate", "order "+orderID)
	}
	r.orders[orderID] = cloneOrder(next)
	return next, nil
}

func (r *OrderRepository) Delete(_ context.Context, orderID string) error {
	unlock := r.keys.lock(orderID)
	defer unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.orders, orderID)
	for i, id := range r.list {
		if id == orderID {
			r.list = append(r.list[:i:i], r.list[i+1:]...)
			break
		}
	}
	for code, id := range r.tracking {
		if id == orderID {
			delete(r.tracking, code)
		}
	}
	return nil
}

func (r *OrderRepository) List(_ context.Context, page pagination.Params) (pagination.Page[domain.Order], error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids, next := pagination.Slice(r.list, page)
	items := make([]domain.Order, 0, len(ids))
	for _, id := range ids {
		if order, ok := r.orders[id]; ok {
			items = append(items, cloneOrder(order))
		}
	}
	return pagination.Page[domain.Order]{Items: items, NextPageToken: next}, nil
}

func (r *OrderRepository) FindByTrackingCode(_ context.Context, code string) (domain.Order, error) {
	code = strings.TrimSpace(code)
	r.mu.RLock()
	defer r.mu.RUnlock()
	if code == "" {
		return domain.Order{}, repositories.NewNotFound("orders.find_by_tracking", "empty tracking code")
	}
	if id, ok := r.tracking[code]; ok {
		if order, ok := r.orders[id]; ok {
			return cloneOrder(order), nil
		}
	}
	for _, id := range r.list {
		order := r.orders[id]
		s := order.Shipping
		if s.TrackingCode == code || s.CarrierCode == code || s.LegacyWaybillCode == code {
			return cloneOrder(order), nil
		}
	}
	return domain.Order{}, repositories.NewNotFound("orders.find_by_tracking", "order with tracking "+code)
}

func (r *OrderRepository) FindByIdempotencyKey(_ context.Context, key string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if key != "" {
		for _, order := range r.orders {
			if order.IdempotencyKey == key {
				return cloneOrder(order), nil
			}
		}
	}
	return domain.Order{}, repositories.NewNotFound("orders.find_by_idempotency_key", "order with key "+key)
}

func (r *OrderRepository) IndexTracking(_ context.Context, code, orderID string) error {
	if strings.TrimSpace(code) == "" {
		return nil
	}
	r.mu.Lock()
	r.tracking[strings.TrimSpace(code)] = orderID
	r.mu.Unlock()
	return nil
}

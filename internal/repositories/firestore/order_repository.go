package firestore

import (
	"context"
	"errors"
	"slices"
	"strings"

	"cloud.google.com/go/firestore"

	domain "github.com/lumenmart/api/internal/domain"
	pfirestore "github.com/lumenmart/api/internal/platform/firestore"
	"github.com/lumenmart/api/internal/platform/pagination"
	"github.com/lumenmart/api/internal/repositories"
)

const (
	ordersCollection   = "orders"
	indexesCollection  = "indexes"
	ordersIndexDoc     = "orders"
	trackingCollection = "tracking"

	// orderIndexWindow bounds the rolling list index. Older orders are listed by query.
	orderIndexWindow = 2000
)

type orderIndexDocument struct {
	IDs []string `firestore:"ids"`
}

type trackingDocument struct {
	OrderID string `firestore:"order_id"`
}

// OrderRepository stores orders under orders/<id>, keeps the newest orderIndexWindow ids in
// indexes/orders and maps tracking codes to orders under tracking/<code>.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.BaseRepository[orderDocument]
	indexes  *pfirestore.BaseRepository[orderIndexDocument]
	tracking *pfirestore.BaseRepository[trackingDocument]
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		orders:   pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection),
		indexes:  pfirestore.NewBaseRepository[orderIndexDocument](provider, indexesCollection),
		tracking: pfirestore.NewBaseRepository[trackingDocument](provider, trackingCollection),
	}, nil
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order insert: id is required")
	}
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		indexRef, err := r.indexes.DocumentRef(ctx, ordersIndexDoc)
		if err != nil {
			return err
		}
		index, _, err := r.indexes.TxGet(ctx, tx, ordersIndexDoc)
		if err != nil {
			return err
		}
		orderRef, err := r.orders.DocumentRef(ctx, order.ID)
		if err != nil {
			return err
		}
		if err := tx.Create(orderRef, newOrderDocument(order)); err != nil {
			return err
		}
		index.IDs = prependRolling(index.IDs, order.ID, orderIndexWindow)
		return tx.Set(indexRef, index)
	})
	return pfirestore.WrapError("orders.insert", err)
}

func (r *OrderRepository) Get(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.toDomain(orderID), nil
}

func (r *OrderRepository) Mutate(ctx context.Context, orderID string, fn func(order *domain.Order) error) (domain.Order, error) {
	var result domain.Order
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, found, err := r.orders.TxGet(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if !found {
			return pfirestore.NotFound("orders.mutate", "order "+orderID)
		}
		current := doc.toDomain(orderID)
		next := doc.toDomain(orderID)
		if err := fn(&next); err != nil {
			if errors.Is(err, repositories.ErrSkipWrite) {
				result = current
				return nil
			}
			return err
		}
		ref, err := r.orders.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		if err := tx.Set(ref, newOrderDocument(next)); err != nil {
			return err
		}
		result = next
		return nil
	})
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.mutate", err)
	}
	return result, nil
}

func (r *OrderRepository) Delete(ctx context.Context, orderID string) error {
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, found, err := r.orders.TxGet(ctx, tx, orderID)
		if err != nil {
			return err
		}
		index, _, err := r.indexes.TxGet(ctx, tx, ordersIndexDoc)
		if err != nil {
			return err
		}

		if found {
			for _, code := range trackingKeys(doc.Shipping) {
				ref, err := r.tracking.DocumentRef(ctx, code)
				if err != nil {
					return err
				}
				if err := tx.Delete(ref); err != nil {
					return err
				}
			}
		}
		indexRef, err := r.indexes.DocumentRef(ctx, ordersIndexDoc)
		if err != nil {
			return err
		}
		index.IDs = slices.DeleteFunc(index.IDs, func(id string) bool { return id == orderID })
		if err := tx.Set(indexRef, index); err != nil {
			return err
		}
		orderRef, err := r.orders.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		return tx.Delete(orderRef)
	})
	return pfirestore.WrapError("orders.delete", err)
}

// List reads the rolling index newest first. Windows past the end of a full index fall back
// to a created_at query.
func (r *OrderRepository) List(ctx context.Context, page pagination.Params) (pagination.Page[domain.Order], error) {
	index, err := r.indexes.Get(ctx, ordersIndexDoc)
	if err != nil {
		if !repositories.IsNotFound(err) {
			return pagination.Page[domain.Order]{}, err
		}
		index = orderIndexDocument{}
	}
	full := len(index.IDs) >= orderIndexWindow
	if full && page.Offset >= len(index.IDs) {
		return r.listByCreatedAt(ctx, page)
	}

	ids, next := pagination.Slice(index.IDs, page)
	if next == "" && full && len(ids) > 0 {
		next = pagination.EncodeToken(pagination.Cursor{Offset: page.Offset + len(ids)})
	}
	if len(ids) == 0 {
		return pagination.Page[domain.Order]{NextPageToken: next}, nil
	}
	items, err := r.getMany(ctx, ids)
	if err != nil {
		return pagination.Page[domain.Order]{}, err
	}
	return pagination.Page[domain.Order]{Items: items, NextPageToken: next}, nil
}

func (r *OrderRepository) listByCreatedAt(ctx context.Context, page pagination.Params) (pagination.Page[domain.Order], error) {
	size := page.PageSize
	if size <= 0 {
		size = pagination.DefaultPageSize
	}
	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.OrderBy("created_at", firestore.Desc).
			OrderBy(firestore.DocumentID, firestore.Desc).
			Offset(page.Offset).
			Limit(size + 1)
	})
	if err != nil {
		return pagination.Page[domain.Order]{}, err
	}
	var next string
	if len(docs) > size {
		docs = docs[:size]
		next = pagination.EncodeToken(pagination.Cursor{Offset: page.Offset + size})
	}
	items := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		items = append(items, doc.Data.toDomain(doc.ID))
	}
	return pagination.Page[domain.Order]{Items: items, NextPageToken: next}, nil
}

func (r *OrderRepository) getMany(ctx context.Context, ids []string) ([]domain.Order, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	refs := make([]*firestore.DocumentRef, 0, len(ids))
	for _, id := range ids {
		ref, err := r.orders.DocumentRef(ctx, id)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	snaps, err := client.GetAll(ctx, refs)
	if err != nil {
		return nil, pfirestore.WrapError("orders.list", err)
	}

	items := make([]domain.Order, 0, len(snaps))
	for _, snap := range snaps {
		if !snap.Exists() {
			continue
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, pfirestore.WrapError("orders.list", err)
		}
		items = append(items, doc.toDomain(snap.Ref.ID))
	}
	return items, nil
}

// FindByTrackingCode resolves the tracking index first and falls back to querying the
// shipping fields that older orders were written with.
func (r *OrderRepository) FindByTrackingCode(ctx context.Context, code string) (domain.Order, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return domain.Order{}, pfirestore.NotFound("orders.find_by_tracking", "empty tracking code")
	}

	entry, err := r.tracking.Get(ctx, trackingKey(code))
	switch {
	case err == nil:
		order, err := r.Get(ctx, entry.OrderID)
		if err == nil {
			return order, nil
		}
		if !repositories.IsNotFound(err) {
			return domain.Order{}, err
		}
	case !repositories.IsNotFound(err):
		return domain.Order{}, err
	}

	for _, field := range []string{"shipping.tracking_code", "shipping.carrier_code", "shipping.waybill_code"} {
		order, err := r.findOne(ctx, field, code)
		if err == nil {
			return order, nil
		}
		if !repositories.IsNotFound(err) {
			return domain.Order{}, err
		}
	}
	return domain.Order{}, pfirestore.NotFound("orders.find_by_tracking", "order with tracking "+code)
}

func (r *OrderRepository) FindByIdempotencyKey(ctx context.Context, key string) (domain.Order, error) {
	if strings.TrimSpace(key) == "" {
		return domain.Order{}, pfirestore.NotFound("orders.find_by_idempotency_key", "empty key")
	}
	return r.findOne(ctx, "idempotency_key", key)
}

func (r *OrderRepository) IndexTracking(ctx context.Context, code, orderID string) error {
	if strings.TrimSpace(code) == "" {
		return nil
	}
	return r.tracking.Set(ctx, trackingKey(code), trackingDocument{OrderID: orderID})
}

func (r *OrderRepository) findOne(ctx context.Context, field, value string) (domain.Order, error) {
	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where(field, "==", value).Limit(1)
	})
	if err != nil {
		return domain.Order{}, err
	}
	if len(docs) == 0 {
		return domain.Order{}, pfirestore.NotFound("orders.find", "order with "+field+" "+value)
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

func trackingKeys(s shippingDocument) []string {
	var keys []string
	for _, code := range []string{s.TrackingCode, s.CarrierCode, s.WaybillCode} {
		if code = strings.TrimSpace(code); code != "" {
			keys = append(keys, trackingKey(code))
		}
	}
	slices.Sort(keys)
	return slices.Compact(keys)
}

// prependRolling puts id first, drops an earlier copy of it and keeps at most limit ids.
func prependRolling(ids []string, id string, limit int) []string {
	out := make([]string, 0, min(len(ids)+1, limit))
	out = append(out, id)
	for _, existing := range ids {
		if len(out) >= limit {
			break
		}
		if existing != id {
			out = append(out, existing)
		}
	}
	return out
}

// trackingKey makes a carrier code safe to use as a document id.
func trackingKey(code string) string {
	return strings.ReplaceAll(strings.TrimSpace(code), "/", "_")
}

package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"

	domain "github.com/lumenmart/api/internal/domain"
	pfirestore "github.com/lumenmart/api/internal/platform/firestore"
	"github.com/lumenmart/api/internal/repositories"
)

const carrierEventsSubcollection = "carrierEvents"

// CarrierEventRepository appends carrier pushes under orders/<id>/carrierEvents.
type CarrierEventRepository struct {
	provider *pfirestore.Provider
}

var _ repositories.CarrierEventRepository = (*CarrierEventRepository)(nil)

func NewCarrierEventRepository(provider *pfirestore.Provider) (*CarrierEventRepository, error) {
	if provider == nil {
		return nil, errors.New("carrier event repository requires firestore provider")
	}
	return &CarrierEventRepository{provider: provider}, nil
}

func (r *CarrierEventRepository) Append(ctx context.Context, event domain.CarrierEvent) error {
	coll, err := r.events(event.OrderID).CollectionRef(ctx)
	if err != nil {
		return err
	}
	doc := carrierEventDocument{
		Code:       event.Code,
		Status:     event.Status,
		StatusName: event.StatusName,
		ReasonCode: event.ReasonCode,
		ReasonText: event.ReasonText,
		PushedAt:   utcPtr(event.PushedAt),
		ReceivedAt: event.ReceivedAt.UTC(),
		Applied:    event.Applied,
	}
	if _, err := coll.NewDoc().Create(ctx, doc); err != nil {
		return pfirestore.WrapError("carrier_events.append", err)
	}
	return nil
}

func (r *CarrierEventRepository) List(ctx context.Context, orderID string) ([]domain.CarrierEvent, error) {
	docs, err := r.events(orderID).Query(ctx, func(q firestore.Query) firestore.Query {
		return q.OrderBy("received_at", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	events := make([]domain.CarrierEvent, 0, len(docs))
	for _, doc := range docs {
		events = append(events, domain.CarrierEvent{
			OrderID:    orderID,
			Code:       doc.Data.Code,
			Status:     doc.Data.Status,
			StatusName: doc.Data.StatusName,
			ReasonCode: doc.Data.ReasonCode,
			ReasonText: doc.Data.ReasonText,
			PushedAt:   doc.Data.PushedAt,
			ReceivedAt: doc.Data.ReceivedAt,
			Applied:    doc.Data.Applied,
		})
	}
	return events, nil
}

func (r *CarrierEventRepository) events(orderID string) *pfirestore.BaseRepository[carrierEventDocument] {
	return pfirestore.NewBaseRepository[carrierEventDocument](r.provider, ordersCollection+"/"+orderID+"/"+carrierEventsSubcollection)
}

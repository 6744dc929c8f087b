package firestore

import (
	"context"
	"errors"
	"sort"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/lumenmart/api/internal/domain"
	pfirestore "github.com/lumenmart/api/internal/platform/firestore"
	"github.com/lumenmart/api/internal/repositories"
)

const outboxCollection = "outbox"

type OutboxRepository struct {
	provider *pfirestore.Provider
	events   *pfirestore.BaseRepository[outboxDocument]
}

var _ repositories.OutboxRepository = (*OutboxRepository)(nil)

func NewOutboxRepository(provider *pfirestore.Provider) (*OutboxRepository, error) {
	if provider == nil {
		return nil, errors.New("outbox repository requires firestore provider")
	}
	return &OutboxRepository{
		provider: provider,
		events:   pfirestore.NewBaseRepository[outboxDocument](provider, outboxCollection),
	}, nil
}

func (r *OutboxRepository) Enqueue(ctx context.Context, event domain.OutboxEvent) error {
	return r.events.Create(ctx, event.ID, outboxDocument{
		Type:      event.Type,
		OrderID:   event.OrderID,
		Payload:   event.Payload,
		CreatedAt: event.CreatedAt.UTC(),
	})
}

// Pending filters on attempts in the query, which forces the attempts ordering; the page is
// re-sorted by creation time before returning.
func (r *OutboxRepository) Pending(ctx context.Context, limit, maxAttempts int) ([]domain.OutboxEvent, error) {
	docs, err := r.events.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("delivered", "==", false)
		if maxAttempts > 0 {
			q = q.Where("attempts", "<", maxAttempts).OrderBy("attempts", firestore.Asc)
		}
		q = q.OrderBy("created_at", firestore.Asc)
		if limit > 0 {
			q = q.Limit(limit)
		}
		return q
	})
	if err != nil {
		return nil, err
	}
	events := make([]domain.OutboxEvent, 0, len(docs))
	for _, doc := range docs {
		events = append(events, doc.Data.toDomain(doc.ID))
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].CreatedAt.Before(events[j].CreatedAt) })
	return events, nil
}

func (r *OutboxRepository) MarkDelivered(ctx context.Context, eventID string, at time.Time) error {
	return r.update(ctx, "outbox.mark_delivered", eventID, []firestore.Update{
		{Path: "delivered", Value: true},
		{Path: "delivered_at", Value: at.UTC()},
		{Path: "attempts", Value: firestore.Increment(1)},
		{Path: "last_error", Value: ""},
	})
}

func (r *OutboxRepository) MarkFailed(ctx context.Context, eventID string, reason string) error {
	return r.update(ctx, "outbox.mark_failed", eventID, []firestore.Update{
		{Path: "attempts", Value: firestore.Increment(1)},
		{Path: "last_error", Value: reason},
	})
}

func (r *OutboxRepository) update(ctx context.Context, op, eventID string, updates []firestore.Update) error {
	ref, err := r.events.DocumentRef(ctx, eventID)
	if err != nil {
		return err
	}
	if _, err := ref.Update(ctx, updates); err != nil {
		return pfirestore.WrapError(op, err)
	}
	return nil
}

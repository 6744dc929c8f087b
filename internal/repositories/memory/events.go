package memory

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	domain "github.com/lumenmart/api/internal/domain"
	"github.com/lumenmart/api/internal/repositories"
)

// CarrierEventRepository keeps per-order carrier histories in memory.
type CarrierEventRepository struct {
	mu     sync.Mutex
	events map[string][]domain.CarrierEvent
}

var _ repositories.CarrierEventRepository = (*CarrierEventRepository)(nil)

// NewCarrierEventRepository constructs an empty repository.
func NewCarrierEventRepository() *CarrierEventRepository {
	return &CarrierEventRepository{events: make(map[string][]domain.CarrierEvent)}
}

func (r *CarrierEventRepository) Append(_ context.Context, event domain.CarrierEvent) error {
	r.mu.Lock()
	r.events[event.OrderID] = append(r.events[event.OrderID], event)
	r.mu.Unlock()
	return nil
}

func (r *CarrierEventRepository) List(_ context.Context, orderID string) ([]domain.CarrierEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.CarrierEvent(nil), r.events[orderID]...), nil
}

// SettingsRepository holds one shipping settings value.
type SettingsRepository struct {
	mu       sync.RWMutex
	settings domain.ShippingSettings
}

var _ repositories.SettingsRepository = (*SettingsRepository)(nil)

// NewSettingsRepository seeds the repository.
func NewSettingsRepository(settings domain.ShippingSettings) *SettingsRepository {
	return &SettingsRepository{settings: settings}
}

func (r *SettingsRepository) ShippingSettings(context.Context) (domain.ShippingSettings, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	settings := r.settings
	settings.OptionIDs = maps.Clone(settings.OptionIDs)
	return settings, nil
}

func (r *SettingsRepository) SaveShippingSettings(_ context.Context, settings domain.ShippingSettings) error {
	r.mu.Lock()
	r.settings = settings
	r.settings.OptionIDs = maps.Clone(settings.OptionIDs)
	r.mu.Unlock()
	return nil
}

// OutboxRepository keeps undelivered events in memory.
type OutboxRepository struct {
	mu     sync.Mutex
	events map[string]domain.OutboxEvent
}

var _ repositories.OutboxRepository = (*OutboxRepository)(nil)

// NewOutboxRepository constructs an empty repository.
func NewOutboxRepository() *OutboxRepository {
	return &OutboxRepository{events: make(map[string]domain.OutboxEvent)}
}

func (r *OutboxRepository) Enqueue(_ context.Context, event domain.OutboxEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.events[event.ID]; ok {
		return repositories.NewConflict("outbox.enqueue", "event "+event.ID)
	}
	event.Payload = maps.Clone(event.Payload)
	r.events[event.ID] = event
	return nil
}

func (r *OutboxRepository) Pending(_ context.Context, limit, maxAttempts int) ([]domain.OutboxEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var pending []domain.OutboxEvent
	for _, event := range r.events {
		if event.DeliveredAt != nil || (maxAttempts > 0 && event.Attempts >= maxAttempts) {
			continue
		}
		pending = append(pending, event)
	}
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].CreatedAt.Equal(pending[j].CreatedAt) {
			return pending[i].ID < pending[j].ID
		}
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

func (r *OutboxRepository) MarkDelivered(_ context.Context, eventID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	event, ok := r.events[eventID]
	if !ok {
		return repositories.NewNotFound("outbox.mark_delivered", "event "+eventID)
	}
	event.Attempts++
	event.DeliveredAt = &at
	event.LastError = ""
	r.events[eventID] = event
	return nil
}

func (r *OutboxRepository) MarkFailed(_ context.Context, eventID string, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	event, ok := r.events[eventID]
	if !ok {
		return repositories.NewNotFound("outbox.mark_failed", "event "+eventID)
	}
	event.Attempts++
	event.LastError = reason
	r.events[eventID] = event
	return nil
}

// All returns every stored event, delivered or not, oldest first.
func (r *OutboxRepository) All() []domain.OutboxEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := make([]domain.OutboxEvent, 0, len(r.events))
	for _, event := range r.events {
		all = append(all, event)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	return all
}

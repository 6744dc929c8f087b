package jobs

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/lumenmart/api/internal/repositories"
)

const (
	metricNamespace = "github.com/lumenmart/api/jobs"

	defaultOutboxBatch       = 50
	defaultOutboxMaxAttempts = 10
)

// OutboxDispatcherOption customises the dispatcher.
type OutboxDispatcherOption func(*OutboxDispatcher)

// WithOutboxBatch sets how many events one drain pass reads.
func WithOutboxBatch(size int) OutboxDispatcherOption {
	return func(d *OutboxDispatcher) {
		if size > 0 {
			d.batch = size
		}
	}
}

// WithOutboxMaxAttempts sets after how many failed attempts an event is left for inspection.
func WithOutboxMaxAttempts(attempts int) OutboxDispatcherOption {
	return func(d *OutboxDispatcher) {
		if attempts > 0 {
			d.maxAttempts = attempts
		}
	}
}

// WithOutboxClock overrides the delivery timestamp source.
func WithOutboxClock(clock func() time.Time) OutboxDispatcherOption {
	return func(d *OutboxDispatcher) {
		if clock != nil {
			d.clock = clock
		}
	}
}

// WithOutboxLogger sets the zap logger.
func WithOutboxLogger(logger *zap.Logger) OutboxDispatcherOption {
	return func(d *OutboxDispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithOutboxMeter injects an OpenTelemetry meter.
func WithOutboxMeter(meter metric.Meter) OutboxDispatcherOption {
	return func(d *OutboxDispatcher) {
		if meter != nil {
			d.meter = meter
		}
	}
}

// OutboxDispatcher moves pending outbox events to the publisher. Delivery is at least once.
type OutboxDispatcher struct {
	repo        repositories.OutboxRepository
	publisher   EventPublisher
	batch       int
	maxAttempts int
	clock       func() time.Time
	logger      *zap.Logger
	meter       metric.Meter
	deliveries  metric.Int64Counter
}

// NewOutboxDispatcher wires the outbox to a publisher.
func NewOutboxDispatcher(repo repositories.OutboxRepository, publisher EventPublisher, opts ...OutboxDispatcherOption) (*OutboxDispatcher, error) {
	if repo == nil {
		return nil, errors.New("outbox dispatcher: repository is required")
	}
	if publisher == nil {
		return nil, errors.New("outbox dispatcher: publisher is required")
	}
	d := &OutboxDispatcher{
		repo:        repo,
		publisher:   publisher,
		batch:       defaultOutboxBatch,
		maxAttempts: defaultOutboxMaxAttempts,
		clock:       time.Now,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	if d.meter == nil {
		d.meter = otel.GetMeterProvider().Meter(metricNamespace)
	}
	counter, err := d.meter.Int64Counter("outbox.delivery.count", metric.WithDescription("Outbox delivery attempts by result"))
	if err != nil {
		return nil, err
	}
	d.deliveries = counter
	return d, nil
}

// DrainOnce publishes one batch of pending events. A publish failure is recorded on the event
// and does not stop the batch.
func (d *OutboxDispatcher) DrainOnce(ctx context.Context) (delivered, failed int, err error) {
	events, err := d.repo.Pending(ctx, d.batch, d.maxAttempts)
	if err != nil {
		return 0, 0, err
	}
	for _, event := range events {
		if ctx.Err() != nil {
			return delivered, failed, ctx.Err()
		}
		if _, pubErr := d.publisher.PublishEvent(ctx, event); pubErr != nil {
			failed++
			d.record(ctx, event.Type, "failed")
			d.logger.Warn("outbox publish failed",
				zap.String("eventId", event.ID),
				zap.String("eventType", event.Type),
				zap.Int("attempt", event.Attempts+1),
				zap.Error(pubErr),
			)
			if markErr := d.repo.MarkFailed(ctx, event.ID, pubErr.Error()); markErr != nil {
				d.logger.Error("outbox mark failed", zap.String("eventId", event.ID), zap.Error(markErr))
			}
			continue
		}
		if markErr := d.repo.MarkDelivered(ctx, event.ID, d.clock().UTC()); markErr != nil {
			d.logger.Error("outbox mark delivered", zap.String("eventId", event.ID), zap.Error(markErr))
			continue
		}
		delivered++
		d.record(ctx, event.Type, "delivered")
	}
	return delivered, failed, nil
}

// Run drains the outbox every interval until ctx is cancelled.
func (d *OutboxDispatcher) Run(ctx context.Context, interval time.Duration) {
	RunEvery(ctx, interval, d.logger.Named("outbox"), func(ctx context.Context) error {
		delivered, failed, err := d.DrainOnce(ctx)
		if delivered > 0 || failed > 0 {
			d.logger.Debug("outbox drained", zap.Int("delivered", delivered), zap.Int("failed", failed))
		}
		return err
	})
}

func (d *OutboxDispatcher) record(ctx context.Context, eventType, result string) {
	d.deliveries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
		attribute.String("result", result),
	))
}

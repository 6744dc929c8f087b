package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	domain "github.com/lumenmart/api/internal/domain"
	"github.com/lumenmart/api/internal/repositories/memory"
)

type stubPublisher struct {
	mu      sync.Mutex
	fail    map[string]error
	publish []string
}

func (s *stubPublisher) PublishEvent(_ context.Context, event domain.OutboxEvent) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail[event.ID]; err != nil {
		return "", err
	}
	s.publish = append(s.publish, event.ID)
	return "msg-" + event.ID, nil
}

func TestOutboxDispatcherDrainOnce(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOutboxRepository()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"e1", "e2", "e3"} {
		_ = repo.Enqueue(ctx, domain.OutboxEvent{ID: id, Type: "order.created", CreatedAt: base.Add(time.Duration(i) * time.Second)})
	}

	publisher := &stubPublisher{fail: map[string]error{"e2": errors.New("broker down")}}
	dispatcher, err := NewOutboxDispatcher(repo, publisher,
		WithOutboxMaxAttempts(2),
		WithOutboxMeter(noop.NewMeterProvider().Meter("test")),
		WithOutboxClock(func() time.Time { return base }),
	)
	if err != nil {
		t.Fatalf("NewOutboxDispatcher: %v", err)
	}

	delivered, failed, err := dispatcher.DrainOnce(ctx)
	if err != nil {
		t.Fatalf("DrainOnce: %v", err)
	}
	if delivered != 2 || failed != 1 {
		t.Fatalf("expected 2 delivered 1 failed, got %d %d", delivered, failed)
	}
	if got := publisher.publish; len(got) != 2 || got[0] != "e1" || got[1] != "e3" {
		t.Fatalf("expected oldest first delivery, got %v", got)
	}

	// second failure exhausts e2
	if _, failed, _ = dispatcher.DrainOnce(ctx); failed != 1 {
		t.Fatalf("expected retry of e2, got %d failures", failed)
	}
	delivered, failed, _ = dispatcher.DrainOnce(ctx)
	if delivered != 0 || failed != 0 {
		t.Fatalf("expected exhausted event to be skipped, got %d %d", delivered, failed)
	}

	for _, event := range repo.All() {
		if event.ID == "e2" && (event.Attempts != 2 || event.LastError != "broker down") {
			t.Fatalf("unexpected bookkeeping for e2: %+v", event)
		}
	}
}

func TestNewOutboxDispatcherValidates(t *testing.T) {
	if _, err := NewOutboxDispatcher(nil, &stubPublisher{}); err == nil {
		t.Fatal("expected error without repository")
	}
	if _, err := NewOutboxDispatcher(memory.NewOutboxRepository(), nil); err == nil {
		t.Fatal("expected error without publisher")
	}
}

func TestRunEveryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	done := make(chan struct{})
	go func() {
		RunEvery(ctx, 5*time.Millisecond, nil, func(context.Context) error {
			if calls.Add(1) == 3 {
				cancel()
			}
			return errors.New("ignored")
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunEvery did not stop after cancel")
	}
	if calls.Load() < 3 {
		t.Fatalf("expected at least 3 calls, got %d", calls.Load())
	}
}

package carrier

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	domain "github.com/lumenmart/api/internal/domain"
	"github.com/lumenmart/api/internal/platform/idempotency"
)

const createKeyPrefix = "waybill:create:"

// IdempotentGateway guarantees at most one successful waybill per order. A completed
// creation is replayed from the idempotency store; failures release the key so a later
// confirm can retry.
type IdempotentGateway struct {
	next  Gateway
	store idempotency.Store
	ttl   time.Duration
	clock func() time.Time
}

// IdempotentOption customises the wrapper.
type IdempotentOption func(*IdempotentGateway)

// WithIdempotencyTTL overrides how long created waybills are remembered.
func WithIdempotencyTTL(ttl time.Duration) IdempotentOption {
	return func(g *IdempotentGateway) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithIdempotencyClock overrides the clock, mainly for tests.
func WithIdempotencyClock(clock func() time.Time) IdempotentOption {
	return func(g *IdempotentGateway) {
		if clock != nil {
			g.clock = clock
		}
	}
}

// NewIdempotentGateway wraps next with store-backed deduplication.
func NewIdempotentGateway(next Gateway, store idempotency.Store, opts ...IdempotentOption) *IdempotentGateway {
	g := &IdempotentGateway{next: next, store: store, ttl: idempotency.DefaultTTL, clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// CreateWaybill creates the waybill for req.OrderID once. When the carrier succeeds but the
// result cannot be stored, the waybill is returned together with the error.
func (g *IdempotentGateway) CreateWaybill(ctx context.Context, req WaybillRequest) (domain.Waybill, error) {
	if err := Validate(req); err != nil {
		return domain.Waybill{}, err
	}
	if g.store == nil || req.OrderID == "" {
		return g.next.CreateWaybill(ctx, req)
	}

	key := createKeyPrefix + req.OrderID
	fingerprint := idempotency.Fingerprint([]byte(req.OrderID))
	reservation, err := g.store.Reserve(ctx, key, fingerprint, g.clock(), g.ttl)
	if err != nil {
		return domain.Waybill{}, fmt.Errorf("carrier: reserve %s: %w", key, err)
	}
	switch reservation.State {
	case idempotency.ReservationStateCompleted:
		var waybill domain.Waybill
		if err := json.Unmarshal(reservation.Record.ResponseBody, &waybill); err != nil {
			return domain.Waybill{}, fmt.Errorf("carrier: decode stored waybill: %w", err)
		}
		return waybill, nil
	case idempotency.ReservationStatePending:
		return domain.Waybill{}, ErrInProgress
	}

	waybill, err := g.next.CreateWaybill(ctx, req)
	if err != nil {
		_ = g.store.Release(context.WithoutCancel(ctx), key, fingerprint)
		return domain.Waybill{}, err
	}
	body, err := json.Marshal(waybill)
	if err == nil {
		err = g.store.SaveResponse(ctx, key, fingerprint, idempotency.Response{Status: http.StatusOK, Body: body}, g.clock(), g.ttl)
	}
	if err != nil {
		return waybill, fmt.Errorf("carrier: store waybill for %s: %w", req.OrderID, err)
	}
	return waybill, nil
}

// CancelWaybill passes through to the wrapped gateway.
func (g *IdempotentGateway) CancelWaybill(ctx context.Context, trackingCode string) error {
	return g.next.CancelWaybill(ctx, trackingCode)
}

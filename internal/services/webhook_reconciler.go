package services

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/lumenmart/api/internal/domain"
	"github.com/lumenmart/api/internal/platform/textutil"
	"github.com/lumenmart/api/internal/repositories"
)

// CarrierStatusMapping translates carrier status codes and names to order statuses. Keys
// are matched after name normalization, so both numeric codes and labels work.
var CarrierStatusMapping = map[string]OrderStatus{
	"-1":              domain.OrderStatusCancelled,
	"cancel":          domain.OrderStatusCancelled,
	"cancelled":       domain.OrderStatusCancelled,
	"2":               domain.OrderStatusProcessing,
	"ready to pick":   domain.OrderStatusProcessing,
	"3":               domain.OrderStatusShipping,
	"4":               domain.OrderStatusShipping,
	"picked":          domain.OrderStatusShipping,
	"transporting":    domain.OrderStatusShipping,
	"delivering":      domain.OrderStatusShipping,
	"5":               domain.OrderStatusDelivered,
	"delivered":       domain.OrderStatusDelivered,
	"da giao hang":    domain.OrderStatusDelivered,
	"6":               domain.OrderStatusCompleted,
	"reconciled":      domain.OrderStatusCompleted,
	"da doi soat":     domain.OrderStatusCompleted,
	"21":              domain.OrderStatusReturned,
	"returned":        domain.OrderStatusReturned,
	"da tra hang":     domain.OrderStatusReturned,
	"da huy don hang": domain.OrderStatusCancelled,
}

// CarrierEventInput is one status push from the carrier.
type CarrierEventInput struct {
	Type       string
	Code       string
	Status     string
	StatusName string
	ReasonCode string
	ReasonText string
	PushedAt   *time.Time
}

// ReconcileResult reports what a push did. Matched is false for unknown tracking codes.
type ReconcileResult struct {
	Matched bool
	OrderID string
	Status  OrderStatus
	Applied bool
}

// WebhookReconcilerDeps bundles collaborators required to construct the reconciler.
type WebhookReconcilerDeps struct {
	Orders  repositories.OrderRepository
	Records repositories.OrderRecordRepository
	Events  repositories.CarrierEventRepository
	// OrderService applies mapped statuses through the transition table.
	OrderService OrderService
	Mapping      map[string]OrderStatus
	Clock        func() time.Time
	Logger       func(ctx context.Context, event string, fields map[string]any)
}

type webhookReconciler struct {
	orders  repositories.OrderRepository
	records repositories.OrderRecordRepository
	events  repositories.CarrierEventRepository
	service OrderService
	mapping map[string]OrderStatus
	clock   func() time.Time
	logger  func(context.Context, string, map[string]any)
}

// NewWebhookReconciler wires dependencies into a concrete WebhookReconciler implementation.
func NewWebhookReconciler(deps WebhookReconcilerDeps) (WebhookReconciler, error) {
	switch {
	case deps.Orders == nil:
		return nil, errors.New("webhook reconciler: order repository is required")
	case deps.Events == nil:
		return nil, errors.New("webhook reconciler: carrier event repository is required")
	case deps.OrderService == nil:
		return nil, errors.New("webhook reconciler: order service is required")
	}
	mapping := make(map[string]OrderStatus, len(CarrierStatusMapping))
	source := deps.Mapping
	if len(source) == 0 {
		source = CarrierStatusMapping
	}
	for key, status := range source {
		mapping[textutil.NormalizeName(key)+statusKeySuffix(key)] = status
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &webhookReconciler{
		orders:  deps.Orders,
		records: deps.Records,
		events:  deps.Events,
		service: deps.OrderService,
		mapping: mapping,
		clock:   func() time.Time { return clock().UTC() },
		logger:  logger,
	}, nil
}

// Reconcile records the push on the matching order and applies its status when it differs
// and the transition table allows it. Unknown tracking codes mutate nothing.
func (r *webhookReconciler) Reconcile(ctx context.Context, input CarrierEventInput) (ReconcileResult, error) {
	code := strings.TrimSpace(input.Code)
	if code == "" {
		r.logger(ctx, "webhook.carrier.ignored", map[string]any{"reason": "missing tracking code"})
		return ReconcileResult{}, nil
	}

	order, err := r.findOrder(ctx, code)
	if err != nil {
		if repositories.IsNotFound(err) {
			r.logger(ctx, "webhook.carrier.miss", map[string]any{"code": code, "status": input.Status})
			return ReconcileResult{}, nil
		}
		return ReconcileResult{}, err
	}

	result := ReconcileResult{Matched: true, OrderID: order.ID, Status: order.Status}
	target, mapped := r.mapStatus(input.Status, input.StatusName)
	var applyErr error
	if mapped && target != order.Status {
		updated, changed, err := r.service.ApplyCarrierStatus(ctx, order.ID, target)
		switch {
		case err != nil:
			applyErr = err
		default:
			result.Status = updated.Status
			result.Applied = changed
		}
	}

	event := domain.CarrierEvent{
		OrderID:    order.ID,
		Code:       code,
		Status:     strings.TrimSpace(input.Status),
		StatusName: strings.TrimSpace(input.StatusName),
		ReasonCode: strings.TrimSpace(input.ReasonCode),
		ReasonText: strings.TrimSpace(input.ReasonText),
		PushedAt:   input.PushedAt,
		ReceivedAt: r.clock(),
		Applied:    result.Applied,
	}
	if err := r.events.Append(ctx, event); err != nil {
		r.logger(ctx, "webhook.carrier.history_failed", map[string]any{"orderId": order.ID, "error": err.Error()})
		if applyErr == nil {
			applyErr = err
		}
	}

	r.logger(ctx, "webhook.carrier.received", map[string]any{
		"orderId": order.ID,
		"code":    code,
		"status":  input.Status,
		"mapped":  string(target),
		"applied": result.Applied,
	})
	return result, applyErr
}

// findOrder walks the document store indexes and fields, then the relational mirror.
func (r *webhookReconciler) findOrder(ctx context.Context, code string) (Order, error) {
	order, err := r.orders.FindByTrackingCode(ctx, code)
	if err == nil || !repositories.IsNotFound(err) || r.records == nil {
		return order, err
	}
	orderID, recErr := r.records.FindOrderIDByTrackingCode(ctx, code)
	if recErr != nil {
		if !repositories.IsNotFound(recErr) {
			r.logger(ctx, "webhook.carrier.mirror_lookup_failed", map[string]any{"code": code, "error": recErr.Error()})
		}
		return Order{}, err
	}
	return r.orders.Get(ctx, orderID)
}

func (r *webhookReconciler) mapStatus(status, name string) (OrderStatus, bool) {
	for _, candidate := range []string{status, name} {
		key := textutil.NormalizeName(candidate) + statusKeySuffix(candidate)
		if key == "" {
			continue
		}
		if mapped, ok := r.mapping[key]; ok {
			return mapped, true
		}
	}
	return "", false
}

// statusKeySuffix keeps negative numeric codes distinct after normalization drops the sign.
func statusKeySuffix(raw string) string {
	if strings.HasPrefix(strings.TrimSpace(raw), "-") {
		return "-"
	}
	return ""
}

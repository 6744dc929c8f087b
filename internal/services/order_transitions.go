package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lumenmart/api/internal/carrier"
	domain "github.com/lumenmart/api/internal/domain"
	"github.com/lumenmart/api/internal/repositories"
)

type transitionOptions struct {
	// strict turns disallowed transitions into ErrOrderInvalidState instead of a no-op.
	strict bool
	actor  string
	reason string
	guard  func(Order) error
}

// pendingEffects are the side effects claimed inside the status write. Each guard flag is
// flipped in the same write, so an effect is claimed by at most one caller.
type pendingEffects struct {
	restoreStock   bool
	cancelWaybill  bool
	requestWaybill bool
	consumeVoucher bool
	releaseVoucher bool
	creditLoyalty  bool
}

func (s *orderService) transition(ctx context.Context, orderID string, target OrderStatus, opts transitionOptions) (TransitionResult, error) {
	if orderID == "" {
		return TransitionResult{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	var (
		from    OrderStatus
		changed bool
		effects pendingEffects
	)
	now := s.clock()
	order, err := s.orders.Mutate(ctx, orderID, func(o *Order) error {
		from, changed, effects = o.Status, false, pendingEffects{}
		if o.Status == target {
			return repositories.ErrSkipWrite
		}
		if opts.guard != nil {
			if err := opts.guard(*o); err != nil {
				return err
			}
		}
		if !domain.CanTransition(o.Status, target) {
			if opts.strict {
				return fmt.Errorf("%w: %s -> %s", ErrOrderInvalidState, o.Status, target)
			}
			return repositories.ErrSkipWrite
		}

		o.Status = target
		o.UpdatedAt = now
		stampStatus(o, target, now, opts.actor, opts.reason)
		for _, effect := range domain.EffectsFor(target) {
			switch effect {
			case domain.EffectRestoreStock:
				if o.InventoryAdjusted {
					o.InventoryAdjusted = false
					effects.restoreStock = true
				}
			case domain.EffectCancelWaybill:
				effects.cancelWaybill = o.HasTracking()
			case domain.EffectRequestWaybill:
				effects.requestWaybill = !o.HasTracking() && !o.SourceChannel.IsMarketplace()
			case domain.EffectConsumeVoucher:
				if holdsVoucher(*o) {
					o.VoucherConsumed = true
					effects.consumeVoucher = true
				}
			case domain.EffectReleaseVoucher:
				effects.releaseVoucher = holdsVoucher(*o)
			case domain.EffectCreditLoyalty:
				if !o.LoyaltyCredited {
					o.LoyaltyCredited = true
					effects.creditLoyalty = true
				}
			}
		}
		changed = true
		return nil
	})
	if err != nil {
		return TransitionResult{}, s.mapRepoError(err)
	}
	if !changed {
		return TransitionResult{Order: order}, nil
	}

	s.logger(ctx, "order.status.changed", map[string]any{
		"orderId": order.ID,
		"from":    string(from),
		"to":      string(target),
		"actor":   opts.actor,
	})

	result := TransitionResult{Order: order, Changed: true}
	if effects.restoreStock {
		s.restoreStock(ctx, order)
	}
	if effects.cancelWaybill {
		s.cancelWaybill(ctx, order)
	}
	if effects.consumeVoucher {
		s.consumeVoucher(ctx, order)
	}
	if effects.releaseVoucher {
		s.releaseVoucher(ctx, order)
	}
	if effects.creditLoyalty {
		s.creditLoyalty(ctx, order)
	}
	if effects.requestWaybill {
		result.Order, result.WaybillError = s.requestWaybill(ctx, order)
	}

	s.mirror(ctx, result.Order)
	s.enqueue(ctx, orderEventStatusChanged, result.Order, map[string]any{
		"previousStatus": string(from),
		"actor":          opts.actor,
	})
	return result, nil
}

func stampStatus(o *Order, status OrderStatus, now time.Time, actor, reason string) {
	stamp := func(field **time.Time) {
		if *field == nil {
			t := now
			*field = &t
		}
	}
	switch status {
	case domain.OrderStatusConfirmed, domain.OrderStatusProcessing:
		stamp(&o.ConfirmedAt)
	case domain.OrderStatusShipping:
		stamp(&o.ShippedAt)
	case domain.OrderStatusDelivered:
		stamp(&o.DeliveredAt)
	case domain.OrderStatusCompleted:
		stamp(&o.CompletedAt)
	case domain.OrderStatusReturned:
		stamp(&o.ReturnedAt)
	case domain.OrderStatusCancelled:
		stamp(&o.CancelledAt)
		if reason = strings.TrimSpace(reason); reason != "" {
			o.CancelReason = &reason
		}
		if actor = strings.TrimSpace(actor); actor != "" {
			o.CancelledBy = &actor
		}
	}
}

// requestWaybill asks the carrier for a waybill and stores the tracking ids. Any failure
// leaves the order as it was and is returned for the caller to surface.
func (s *orderService) requestWaybill(ctx context.Context, order Order) (Order, error) {
	if s.carrier == nil {
		err := &carrier.Error{Code: carrier.CodeUnavailable, Message: "carrier not configured"}
		s.logger(ctx, "order.waybill.skipped", map[string]any{"orderId": order.ID, "reason": err.Message})
		return order, err
	}
	settings, err := s.settings.ShippingSettings(ctx)
	if err != nil {
		s.logger(ctx, "order.waybill.settings_failed", map[string]any{"orderId": order.ID, "error": err.Error()})
		return order, &carrier.Error{Code: carrier.CodeUnavailable, Message: "shipping settings unavailable"}
	}

	waybill, err := s.carrier.CreateWaybill(ctx, carrier.BuildWaybillRequest(order, settings))
	if err != nil && waybill.TrackingCode == "" {
		fields := map[string]any{"orderId": order.ID, "error": err.Error()}
		if carrierErr, ok := carrier.AsError(err); ok {
			fields["code"] = carrierErr.Code
			if len(carrierErr.Missing) > 0 {
				fields["missing"] = carrierErr.Missing
			}
		}
		s.logger(ctx, "order.waybill.failed", fields)
		return order, err
	}
	if err != nil {
		s.logger(ctx, "order.waybill.record_failed", map[string]any{"orderId": order.ID, "error": err.Error()})
	}

	now := s.clock()
	updated, err := s.orders.Mutate(ctx, order.ID, func(o *Order) error {
		if o.HasTracking() {
			return repositories.ErrSkipWrite
		}
		o.Shipping.TrackingCode = waybill.TrackingCode
		o.Shipping.CarrierCode = waybill.CarrierCode
		o.Shipping.Raw = waybill.Raw
		if o.Status == domain.OrderStatusPending || o.Status == domain.OrderStatusConfirmed {
			o.Status = domain.OrderStatusProcessing
			stampStatus(o, domain.OrderStatusProcessing, now, "", "")
		}
		o.UpdatedAt = now
		return nil
	})
	if err != nil {
		s.logger(ctx, "order.waybill.save_failed", map[string]any{"orderId": order.ID, "trackingCode": waybill.TrackingCode, "error": err.Error()})
		return order, s.mapRepoError(err)
	}

	for _, code := range []string{waybill.TrackingCode, waybill.CarrierCode} {
		if code == "" {
			continue
		}
		if err := s.orders.IndexTracking(ctx, code, order.ID); err != nil {
			s.logger(ctx, "order.waybill.index_failed", map[string]any{"orderId": order.ID, "code": code, "error": err.Error()})
		}
	}
	s.logger(ctx, "order.waybill.created", map[string]any{"orderId": order.ID, "trackingCode": updated.Shipping.TrackingCode})
	s.enqueue(ctx, orderEventWaybill, updated, nil)
	return updated, nil
}

func (s *orderService) cancelWaybill(ctx context.Context, order Order) {
	if s.carrier == nil || !order.HasTracking() {
		return
	}
	if err := s.carrier.CancelWaybill(ctx, order.Shipping.TrackingCode); err != nil {
		s.logger(ctx, "order.waybill.cancel_failed", map[string]any{
			"orderId":      order.ID,
			"trackingCode": order.Shipping.TrackingCode,
			"error":        err.Error(),
		})
	}
}

// restoreStock reverses the recorded movements. Orders stored before movements were recorded
// fall back to restoring their item quantities.
func (s *orderService) restoreStock(ctx context.Context, order Order) {
	var (
		report AdjustmentReport
		err    error
	)
	if len(order.StockAdjustments) > 0 {
		report, err = s.inventory.Revert(ctx, order.StockAdjustments)
	} else {
		report, err = s.inventory.Adjust(ctx, order.Items, DirectionRestore)
	}
	if err != nil {
		s.logger(ctx, "order.inventory.restore_failed", map[string]any{"orderId": order.ID, "error": err.Error()})
		return
	}
	if len(report.Missed) > 0 {
		s.logger(ctx, "order.inventory.restore_partial", map[string]any{"orderId": order.ID, "missed": len(report.Missed)})
	}
}

func (s *orderService) consumeVoucher(ctx context.Context, order Order) {
	consumed, err := s.vouchers.Consume(ctx, domain.VoucherUsage{
		Code:       order.Pricing.VoucherCode,
		CustomerID: order.Customer.ID,
		OrderID:    order.ID,
		UsedAt:     s.clock(),
	})
	switch {
	case errors.Is(err, repositories.ErrVoucherExhausted):
		s.logger(ctx, "order.voucher.limit_reached", map[string]any{"orderId": order.ID, "code": order.Pricing.VoucherCode})
		return
	case err != nil:
		s.logger(ctx, "order.voucher.consume_failed", map[string]any{"orderId": order.ID, "code": order.Pricing.VoucherCode, "error": err.Error()})
		return
	}
	s.logger(ctx, "order.voucher.consumed", map[string]any{"orderId": order.ID, "code": order.Pricing.VoucherCode, "recorded": consumed})
}

// reserveVoucher holds a slot for the order and returns the rejection reason when the
// voucher cannot be held.
func (s *orderService) reserveVoucher(ctx context.Context, orderID, customerID, code string) string {
	err := s.vouchers.Reserve(ctx, domain.VoucherUsage{
		Code:       code,
		CustomerID: customerID,
		OrderID:    orderID,
		UsedAt:     s.clock(),
	})
	switch {
	case err == nil:
		return ""
	case errors.Is(err, repositories.ErrVoucherExhausted):
		s.logger(ctx, "order.voucher.limit_reached", map[string]any{"orderId": orderID, "code": code, "customerId": customerID})
		return rejectTotalLimit
	case repositories.IsNotFound(err):
		return rejectNotFound
	default:
		s.logger(ctx, "order.voucher.reserve_failed", map[string]any{"orderId": orderID, "code": code, "error": err.Error()})
		return rejectUnavailable
	}
}

func (s *orderService) releaseVoucher(ctx context.Context, order Order) {
	if !holdsVoucher(order) {
		return
	}
	released, err := s.vouchers.Release(ctx, order.Pricing.VoucherCode, order.ID)
	if err != nil {
		s.logger(ctx, "order.voucher.release_failed", map[string]any{"orderId": order.ID, "code": order.Pricing.VoucherCode, "error": err.Error()})
		return
	}
	s.logger(ctx, "order.voucher.released", map[string]any{"orderId": order.ID, "code": order.Pricing.VoucherCode, "released": released})
}

// quoteWithoutVoucher reprices the order as if no voucher was given and keeps the code with
// the rejection reason.
func (s *orderService) quoteWithoutVoucher(ctx context.Context, input PricingInput, reason string) (PricingBreakdown, error) {
	code := normalizeVoucherCode(input.VoucherCode)
	input.VoucherCode = ""
	input.ShippingDiscount = 0
	pricing, err := s.pricing.Quote(ctx, input)
	if err != nil {
		return PricingBreakdown{}, err
	}
	pricing.VoucherCode = code
	pricing.VoucherRejection = reason
	return pricing, nil
}

// holdsVoucher reports whether the order has an applied voucher that has not been consumed.
func holdsVoucher(o Order) bool {
	return o.Pricing.VoucherApplied && o.Pricing.VoucherCode != "" && !o.VoucherConsumed
}

func (s *orderService) creditLoyalty(ctx context.Context, order Order) {
	if order.Customer.ID == "" || order.Pricing.Revenue <= 0 {
		return
	}
	customer, err := s.loyalty.Credit(ctx, order.Customer.ID, order.Pricing.Revenue)
	if err != nil {
		s.logger(ctx, "order.loyalty.credit_failed", map[string]any{"orderId": order.ID, "customerId": order.Customer.ID, "error": err.Error()})
		return
	}
	s.logger(ctx, "order.loyalty.credited", map[string]any{
		"orderId":    order.ID,
		"customerId": customer.ID,
		"points":     order.Pricing.Revenue,
		"tier":       customer.Tier,
	})
}

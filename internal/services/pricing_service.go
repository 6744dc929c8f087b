package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/lumenmart/api/internal/domain"
	"github.com/lumenmart/api/internal/repositories"
)

var (
	// ErrVoucherRejected reports why a supplied voucher contributed nothing. Only Preview
	// returns it; order creation proceeds without the discount.
	ErrVoucherRejected = errors.New("voucher: rejected")
	// ErrPricingInvalidInput signals malformed line items.
	ErrPricingInvalidInput = errors.New("pricing: invalid input")
)

const (
	rejectNotFound     = "voucher not found"
	rejectInactive     = "voucher is disabled"
	rejectNotStarted   = "voucher is not active yet"
	rejectExpired      = "voucher has expired"
	rejectTotalLimit   = "voucher usage limit reached"
	rejectPerUserLimit = "voucher already used by this customer"
	rejectMinPurchase  = "order does not meet voucher minimum purchase"
	rejectUnavailable  = "voucher could not be verified"
)

// PricingInput is the candidate order handed to the resolver. Item prices and costs are
// the snapshots that will be stored on the order.
type PricingInput struct {
	Items            []LineItem
	ShippingFee      int64
	ShippingDiscount int64
	VoucherCode      string
	CustomerID       string
	// Reserved marks a voucher already held by the order being repriced; its own slot counts
	// toward the limits, so they are not checked again.
	Reserved bool
}

// PricingServiceDeps bundles collaborators required to construct the pricing service.
type PricingServiceDeps struct {
	Vouchers repositories.VoucherRepository
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type pricingService struct {
	vouchers repositories.VoucherRepository
	clock    func() time.Time
	logger   func(context.Context, string, map[string]any)
}

// NewPricingService wires dependencies into a concrete PricingService implementation.
func NewPricingService(deps PricingServiceDeps) (PricingService, error) {
	if deps.Vouchers == nil {
		return nil, errors.New("pricing service: voucher repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &pricingService{vouchers: deps.Vouchers, clock: clock, logger: logger}, nil
}

func (s *pricingService) Quote(ctx context.Context, input PricingInput) (PricingBreakdown, error) {
	if err := validatePricingItems(input.Items); err != nil {
		return PricingBreakdown{}, err
	}
	shippingFee := max(input.ShippingFee, 0)
	breakdown := PricingBreakdown{
		Subtotal:    Subtotal(input.Items),
		ShippingFee: shippingFee,
		VoucherCode: normalizeVoucherCode(input.VoucherCode),
	}

	if breakdown.VoucherCode != "" {
		voucher, reason := s.resolveVoucher(ctx, breakdown.VoucherCode, input.CustomerID, breakdown.Subtotal, input.Reserved)
		if reason != "" {
			breakdown.VoucherRejection = reason
		} else {
			breakdown.VoucherApplied = true
			switch voucher.Type {
			case domain.VoucherTypeFreeship:
				breakdown.ShippingDiscount = freeshipDiscount(voucher, input.ShippingDiscount, shippingFee)
			default:
				breakdown.Discount = percentDiscount(voucher, breakdown.Subtotal)
			}
		}
	}

	finalizeTotals(&breakdown, input.Items)
	return breakdown, nil
}

func (s *pricingService) Preview(ctx context.Context, input PricingInput) (PricingBreakdown, error) {
	breakdown, err := s.Quote(ctx, input)
	if err != nil {
		return breakdown, err
	}
	if breakdown.VoucherRejection != "" {
		return breakdown, fmt.Errorf("%w: %s", ErrVoucherRejected, breakdown.VoucherRejection)
	}
	return breakdown, nil
}

// resolveVoucher returns the voucher or the reason it cannot be applied. Lookup failures are
// reported as rejections.
func (s *pricingService) resolveVoucher(ctx context.Context, code, customerID string, subtotal int64, reserved bool) (Voucher, string) {
	voucher, err := s.vouchers.FindByCode(ctx, code)
	if err != nil {
		if repositories.IsNotFound(err) {
			return Voucher{}, rejectNotFound
		}
		s.logger(ctx, "pricing.voucher.lookup_failed", map[string]any{"code": code, "error": err.Error()})
		return Voucher{}, rejectUnavailable
	}
	now := s.clock()
	switch {
	case !voucher.On:
		return Voucher{}, rejectInactive
	case voucher.StartsAt != nil && now.Before(*voucher.StartsAt):
		return Voucher{}, rejectNotStarted
	case voucher.ExpiresAt != nil && now.After(*voucher.ExpiresAt):
		return Voucher{}, rejectExpired
	case !reserved && voucher.Remaining() == 0:
		return Voucher{}, rejectTotalLimit
	case voucher.MinPurchase > 0 && subtotal < voucher.MinPurchase:
		return Voucher{}, rejectMinPurchase
	}

	if !reserved && voucher.UsageLimitPerUser > 0 && strings.TrimSpace(customerID) != "" {
		used, err := s.vouchers.CountCustomerUsage(ctx, code, customerID)
		if err != nil {
			s.logger(ctx, "pricing.voucher.usage_lookup_failed", map[string]any{"code": code, "customerId": customerID, "error": err.Error()})
			return Voucher{}, rejectUnavailable
		}
		if used >= voucher.UsageLimitPerUser {
			return Voucher{}, rejectPerUserLimit
		}
	}
	return voucher, ""
}

// Subtotal sums price*qty over the items.
func Subtotal(items []LineItem) int64 {
	var subtotal int64
	for _, item := range items {
		subtotal += item.Price * int64(item.Quantity)
	}
	return subtotal
}

// finalizeTotals derives revenue and profit from the items and the discounts already set.
func finalizeTotals(b *PricingBreakdown, items []LineItem) {
	b.Subtotal = Subtotal(items)
	b.Revenue = max(0, b.Subtotal+b.ShippingFee-b.Discount-b.ShippingDiscount)
	var margin int64
	for _, item := range items {
		margin += (item.Price - item.Cost) * int64(item.Quantity)
	}
	b.Profit = margin - b.Discount
}

func percentDiscount(voucher Voucher, subtotal int64) int64 {
	if voucher.Off <= 0 || subtotal <= 0 {
		return 0
	}
	discount := subtotal * voucher.Off / 100
	if voucher.MaxDiscount > 0 {
		discount = min(discount, voucher.MaxDiscount)
	}
	return min(discount, subtotal)
}

func freeshipDiscount(voucher Voucher, requested, fee int64) int64 {
	discount := min(max(requested, 0), fee)
	if voucher.MaxDiscount > 0 {
		discount = min(discount, voucher.MaxDiscount)
	}
	return discount
}

func normalizeVoucherCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func validatePricingItems(items []LineItem) error {
	for i, item := range items {
		if item.Quantity < 1 {
			return fmt.Errorf("%w: items[%d].quantity must be at least 1", ErrPricingInvalidInput, i)
		}
		if item.Price < 0 || item.Cost < 0 {
			return fmt.Errorf("%w: items[%d] price and cost must not be negative", ErrPricingInvalidInput, i)
		}
	}
	return nil
}

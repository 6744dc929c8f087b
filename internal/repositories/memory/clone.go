package memory

import (
	"maps"
	"slices"
	"time"

	domain "github.com/lumenmart/api/internal/domain"
)

// Stored values are copied on the way in and out so callers never share slices or maps with
// the store.

func cloneOrder(o domain.Order) domain.Order {
	o.Items = slices.Clone(o.Items)
	o.StockAdjustments = slices.Clone(o.StockAdjustments)
	o.Shipping.Raw = maps.Clone(o.Shipping.Raw)
	o.ConfirmedAt = cloneTime(o.ConfirmedAt)
	o.ShippedAt = cloneTime(o.ShippedAt)
	o.DeliveredAt = cloneTime(o.DeliveredAt)
	o.CompletedAt = cloneTime(o.CompletedAt)
	o.CancelledAt = cloneTime(o.CancelledAt)
	o.ReturnedAt = cloneTime(o.ReturnedAt)
	if o.CancelReason != nil {
		reason := *o.CancelReason
		o.CancelReason = &reason
	}
	if o.CancelledBy != nil {
		by := *o.CancelledBy
		o.CancelledBy = &by
	}
	return o
}

func cloneProduct(p domain.Product) domain.Product {
	p.Variants = slices.Clone(p.Variants)
	for i := range p.Variants {
		p.Variants[i].Options = slices.Clone(p.Variants[i].Options)
	}
	return p
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

package domain

import "time"

// PricingBreakdown captures the financial fields of an order, always derived from its items.
type PricingBreakdown struct {
	Subtotal         int64
	ShippingFee      int64
	Discount         int64
	ShippingDiscount int64
	Revenue          int64
	Profit           int64
	VoucherCode      string
	VoucherApplied   bool
	// VoucherRejection explains why a supplied voucher contributed nothing.
	VoucherRejection string
}

// VoucherType distinguishes percentage code vouchers from automatic free shipping.
type VoucherType string

const (
	VoucherTypeCode     VoucherType = "code"
	VoucherTypeFreeship VoucherType = "freeship"
)

// Voucher is a discount definition keyed by its upper-cased code.
type Voucher struct {
	Code              string
	Type              VoucherType
	On                bool
	Off               int64
	MaxDiscount       int64
	MinPurchase       int64
	UsageCount        int64
	// ReservedCount counts open orders holding the voucher that have not completed yet.
	ReservedCount     int64
	UsageLimitTotal   int64
	UsageLimitPerUser int64
	StartsAt          *time.Time
	ExpiresAt         *time.Time
	UpdatedAt         time.Time
}

// Remaining reports how many more orders may hold the voucher. It is -1 when unlimited.
func (v Voucher) Remaining() int64 {
	if v.UsageLimitTotal <= 0 {
		return -1
	}
	return max(0, v.UsageLimitTotal-v.UsageCount-v.ReservedCount)
}

// VoucherUsageState separates an order holding a voucher from the order that used it.
type VoucherUsageState string

const (
	VoucherUsageReserved VoucherUsageState = "reserved"
	VoucherUsageConsumed VoucherUsageState = "consumed"
)

// VoucherUsage records one order's claim on a voucher, keyed by code and order.
type VoucherUsage struct {
	Code       string
	CustomerID string
	OrderID    string
	State      VoucherUsageState
	UsedAt     time.Time
}

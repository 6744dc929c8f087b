package domain

import "strings"

// OrderStatus enumerates the lifecycle states of an order.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipping   OrderStatus = "shipping"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusReturned   OrderStatus = "returned"
)

// OrderTransitions is the single table of legal status changes. Carriers may skip
// intermediate scans, so forward jumps are allowed.
var OrderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusConfirmed, OrderStatusProcessing, OrderStatusShipping, OrderStatusDelivered, OrderStatusCancelled},
	OrderStatusConfirmed:  {OrderStatusProcessing, OrderStatusShipping, OrderStatusDelivered, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusShipping, OrderStatusDelivered, OrderStatusCancelled},
	OrderStatusShipping:   {OrderStatusDelivered, OrderStatusReturned},
	OrderStatusDelivered:  {OrderStatusCompleted, OrderStatusReturned},
	OrderStatusCompleted:  {},
	OrderStatusCancelled:  {},
	OrderStatusReturned:   {},
}

// TransitionEffect names a side effect triggered by entering a status.
type TransitionEffect string

const (
	EffectRequestWaybill TransitionEffect = "request_waybill"
	EffectRestoreStock   TransitionEffect = "restore_stock"
	EffectCancelWaybill  TransitionEffect = "cancel_waybill"
	EffectConsumeVoucher TransitionEffect = "consume_voucher"
	EffectReleaseVoucher TransitionEffect = "release_voucher"
	EffectCreditLoyalty  TransitionEffect = "credit_loyalty"
)

// TransitionEffects lists the side effects run when an order enters the keyed status.
var TransitionEffects = map[OrderStatus][]TransitionEffect{
	OrderStatusProcessing: {EffectRequestWaybill},
	OrderStatusCancelled:  {EffectRestoreStock, EffectCancelWaybill, EffectReleaseVoucher},
	OrderStatusReturned:   {EffectRestoreStock, EffectReleaseVoucher},
	OrderStatusCompleted:  {EffectConsumeVoucher, EffectCreditLoyalty},
}

// ParseOrderStatus normalizes free-form input into a known status.
func ParseOrderStatus(raw string) (OrderStatus, bool) {
	status := OrderStatus(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := OrderTransitions[status]; !ok {
		return "", false
	}
	return status, true
}

// CanTransition reports whether the table permits moving from one status to another.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range OrderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func (s OrderStatus) IsTerminal() bool {
	next, ok := OrderTransitions[s]
	return ok && len(next) == 0
}

// IsPreShipment reports whether the order has not yet been handed to the carrier.
func (s OrderStatus) IsPreShipment() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusProcessing:
		return true
	default:
		return false
	}
}

// EffectsFor returns the side effects for entering the status.
func EffectsFor(status OrderStatus) []TransitionEffect {
	return TransitionEffects[status]
}

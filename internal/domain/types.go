package domain

import "time"

// SourceChannel identifies where an order entered the system.
type SourceChannel string

const (
	SourceStorefront SourceChannel = "web"
	SourceAdmin      SourceChannel = "admin"
	SourceShopee     SourceChannel = "shopee"
	SourceLazada     SourceChannel = "lazada"
)

// IsMarketplace reports whether the channel decrements stock upstream before the order reaches us.
func (c SourceChannel) IsMarketplace() bool {
	return c == SourceShopee || c == SourceLazada
}

// Order is the durable record produced by checkout, admin entry or channel import.
type Order struct {
	ID             string
	Status         OrderStatus
	Customer       CustomerSnapshot
	Items          []LineItem
	Note           string
	Shipping       ShippingInfo
	Pricing        PricingBreakdown
	SourceChannel  SourceChannel
	ChannelOrderID string
	IdempotencyKey string

	// InventoryAdjusted is true while the order's quantities are deducted from stock.
	InventoryAdjusted bool
	// StockAdjustments are the movements actually applied by the last deduction. Restores
	// reverse exactly these, so clamping at zero never inflates stock.
	StockAdjustments  []StockAdjustment
	VoucherConsumed   bool
	LoyaltyCredited   bool

	CreatedAt    time.Time
	UpdatedAt    time.Time
	ConfirmedAt  *time.Time
	ShippedAt    *time.Time
	DeliveredAt  *time.Time
	CompletedAt  *time.Time
	CancelledAt  *time.Time
	ReturnedAt   *time.Time
	CancelReason *string
	CancelledBy  *string
}

// HasTracking reports whether a waybill has already been created for the order.
func (o Order) HasTracking() bool {
	return o.Shipping.TrackingCode != ""
}

// StockAdjustment is one applied stock movement on a product or one of its variants.
type StockAdjustment struct {
	ProductID  string
	VariantID  string
	StockDelta int64
	SoldDelta  int64
}

// CustomerSnapshot is the customer identity copied onto the order at creation.
type CustomerSnapshot struct {
	ID    string
	Name  string
	Phone string
	Email string
}

// LineItem is a priced snapshot of a catalog entry; later catalog changes never alter it.
type LineItem struct {
	ProductID   string
	VariantID   string
	SKU         string
	Name        string
	VariantName string
	Quantity    int
	Price       int64
	Cost        int64
	WeightGrams int64
}

// Address carries the carrier region codes alongside the free-form street line.
type Address struct {
	Line         string
	ProvinceCode string
	DistrictCode string
	CommuneCode  string
	ProvinceName string
	DistrictName string
	CommuneName  string
}

// ShippingInfo groups the provider selection with the identifiers returned by the carrier.
type ShippingInfo struct {
	Provider       string
	Service        string
	Fee            int64
	Address        Address
	LengthCm       int64
	WidthCm        int64
	HeightCm       int64
	TrackingCode   string
	CarrierCode    string
	CarrierOrderID string
	Raw            map[string]any
	// LegacyWaybillCode holds tracking codes written by older clients under a different field.
	LegacyWaybillCode string
}

// Waybill is the normalized result of a carrier create call.
type Waybill struct {
	OK           bool
	CarrierCode  string
	TrackingCode string
	Raw          map[string]any
}

// CarrierEvent is one status push received from the carrier for an order.
type CarrierEvent struct {
	OrderID    string
	Code       string
	Status     string
	StatusName string
	ReasonCode string
	ReasonText string
	PushedAt   *time.Time
	ReceivedAt time.Time
	// Applied reports whether the event changed the order status.
	Applied bool
}

// Customer holds the loyalty state of a shopper.
type Customer struct {
	ID        string
	Name      string
	Phone     string
	Email     string
	Points    int64
	Tier      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ShippingSettings is the sender profile used to build carrier payloads.
type ShippingSettings struct {
	SenderName         string
	SenderPhone        string
	SenderAddress      string
	SenderProvinceCode string
	SenderDistrictCode string
	SenderCommuneCode  string
	DefaultService     string
	DefaultWeightGrams int64
	OptionIDs          map[string]string
}

// OutboxEvent is a notification persisted after an order write and delivered asynchronously.
type OutboxEvent struct {
	ID          string
	Type        string
	OrderID     string
	Payload     map[string]any
	Attempts    int
	LastError   string
	CreatedAt   time.Time
	DeliveredAt *time.Time
}

package firestore

import (
	"maps"
	"time"

	domain "github.com/lumenmart/api/internal/domain"
)

type orderDocument struct {
	Status            string                    `firestore:"status"`
	Customer          customerSnapshotDocument  `firestore:"customer"`
	Items             []lineItemDocument        `firestore:"items"`
	Note              string                    `firestore:"note,omitempty"`
	Shipping          shippingDocument          `firestore:"shipping"`
	Pricing           pricingDocument           `firestore:"pricing"`
	SourceChannel     string                    `firestore:"source_channel"`
	ChannelOrderID    string                    `firestore:"channel_order_id,omitempty"`
	IdempotencyKey    string                    `firestore:"idempotency_key,omitempty"`
	InventoryAdjusted bool                      `firestore:"inventory_adjusted"`
	StockAdjustments  []stockAdjustmentDocument `firestore:"stock_adjustments,omitempty"`
	VoucherConsumed   bool                      `firestore:"voucher_consumed"`
	LoyaltyCredited   bool                      `firestore:"loyalty_credited"`
	CreatedAt         time.Time                 `firestore:"created_at"`
	UpdatedAt         time.Time                 `firestore:"updated_at"`
	ConfirmedAt       *time.Time                `firestore:"confirmed_at,omitempty"`
	ShippedAt         *time.Time                `firestore:"shipped_at,omitempty"`
	DeliveredAt       *time.Time                `firestore:"delivered_at,omitempty"`
	CompletedAt       *time.Time                `firestore:"completed_at,omitempty"`
	CancelledAt       *time.Time                `firestore:"cancelled_at,omitempty"`
	ReturnedAt        *time.Time                `firestore:"returned_at,omitempty"`
	CancelReason      *string                   `firestore:"cancel_reason,omitempty"`
	CancelledBy       *string                   `firestore:"cancelled_by,omitempty"`
}

type stockAdjustmentDocument struct {
	ProductID  string `firestore:"product_id"`
	VariantID  string `firestore:"variant_id,omitempty"`
	StockDelta int64  `firestore:"stock_delta"`
	SoldDelta  int64  `firestore:"sold_delta"`
}

type customerSnapshotDocument struct {
	ID    string `firestore:"id,omitempty"`
	Name  string `firestore:"name"`
	Phone string `firestore:"phone"`
	Email string `firestore:"email,omitempty"`
}

type lineItemDocument struct {
	ProductID   string `firestore:"product_id"`
	VariantID   string `firestore:"variant_id,omitempty"`
	SKU         string `firestore:"sku,omitempty"`
	Name        string `firestore:"name"`
	VariantName string `firestore:"variant_name,omitempty"`
	Quantity    int    `firestore:"quantity"`
	Price       int64  `firestore:"price"`
	Cost        int64  `firestore:"cost"`
	WeightGrams int64  `firestore:"weight_grams"`
}

type addressDocument struct {
	Line         string `firestore:"line"`
	ProvinceCode string `firestore:"province_code"`
	DistrictCode string `firestore:"district_code"`
	CommuneCode  string `firestore:"commune_code"`
	ProvinceName string `firestore:"province_name,omitempty"`
	DistrictName string `firestore:"district_name,omitempty"`
	CommuneName  string `firestore:"commune_name,omitempty"`
}

type shippingDocument struct {
	Provider       string          `firestore:"provider,omitempty"`
	Service        string          `firestore:"service,omitempty"`
	Fee            int64           `firestore:"fee"`
	Address        addressDocument `firestore:"address"`
	LengthCm       int64           `firestore:"length_cm,omitempty"`
	WidthCm        int64           `firestore:"width_cm,omitempty"`
	HeightCm       int64           `firestore:"height_cm,omitempty"`
	TrackingCode   string          `firestore:"tracking_code,omitempty"`
	CarrierCode    string          `firestore:"carrier_code,omitempty"`
	CarrierOrderID string          `firestore:"carrier_order_id,omitempty"`
	Raw            map[string]any  `firestore:"raw,omitempty"`
	WaybillCode    string          `firestore:"waybill_code,omitempty"`
}

type pricingDocument struct {
	Subtotal         int64  `firestore:"subtotal"`
	ShippingFee      int64  `firestore:"shipping_fee"`
	Discount         int64  `firestore:"discount"`
	ShippingDiscount int64  `firestore:"shipping_discount"`
	Revenue          int64  `firestore:"revenue"`
	Profit           int64  `firestore:"profit"`
	VoucherCode      string `firestore:"voucher_code,omitempty"`
	VoucherApplied   bool   `firestore:"voucher_applied"`
	VoucherRejection string `firestore:"voucher_rejection,omitempty"`
}

func newOrderDocument(o domain.Order) orderDocument {
	items := make([]lineItemDocument, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, lineItemDocument(item))
	}
	return orderDocument{
		Status:         string(o.Status),
		Customer:       customerSnapshotDocument(o.Customer),
		Items:          items,
		Note:           o.Note,
		Shipping:       newShippingDocument(o.Shipping),
		Pricing:        pricingDocument(o.Pricing),
		SourceChannel:  string(o.SourceChannel),
		ChannelOrderID: o.ChannelOrderID,
		IdempotencyKey: o.IdempotencyKey,

		InventoryAdjusted: o.InventoryAdjusted,
		StockAdjustments:  newStockAdjustmentDocuments(o.StockAdjustments),
		VoucherConsumed:   o.VoucherConsumed,
		LoyaltyCredited:   o.LoyaltyCredited,

		CreatedAt:    o.CreatedAt.UTC(),
		UpdatedAt:    o.UpdatedAt.UTC(),
		ConfirmedAt:  utcPtr(o.ConfirmedAt),
		ShippedAt:    utcPtr(o.ShippedAt),
		DeliveredAt:  utcPtr(o.DeliveredAt),
		CompletedAt:  utcPtr(o.CompletedAt),
		CancelledAt:  utcPtr(o.CancelledAt),
		ReturnedAt:   utcPtr(o.ReturnedAt),
		CancelReason: o.CancelReason,
		CancelledBy:  o.CancelledBy,
	}
}

func (d orderDocument) toDomain(id string) domain.Order {
	items := make([]domain.LineItem, 0, len(d.Items))
	for _, item := range d.Items {
		items = append(items, domain.LineItem(item))
	}
	return domain.Order{
		ID:             id,
		Status:         domain.OrderStatus(d.Status),
		Customer:       domain.CustomerSnapshot(d.Customer),
		Items:          items,
		Note:           d.Note,
		Shipping:       d.Shipping.toDomain(),
		Pricing:        domain.PricingBreakdown(d.Pricing),
		SourceChannel:  domain.SourceChannel(d.SourceChannel),
		ChannelOrderID: d.ChannelOrderID,
		IdempotencyKey: d.IdempotencyKey,

		InventoryAdjusted: d.InventoryAdjusted,
		StockAdjustments:  stockAdjustmentsToDomain(d.StockAdjustments),
		VoucherConsumed:   d.VoucherConsumed,
		LoyaltyCredited:   d.LoyaltyCredited,

		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
		ConfirmedAt:  d.ConfirmedAt,
		ShippedAt:    d.ShippedAt,
		DeliveredAt:  d.DeliveredAt,
		CompletedAt:  d.CompletedAt,
		CancelledAt:  d.CancelledAt,
		ReturnedAt:   d.ReturnedAt,
		CancelReason: d.CancelReason,
		CancelledBy:  d.CancelledBy,
	}
}

func newStockAdjustmentDocuments(adjustments []domain.StockAdjustment) []stockAdjustmentDocument {
	if len(adjustments) == 0 {
		return nil
	}
	docs := make([]stockAdjustmentDocument, 0, len(adjustments))
	for _, adj := range adjustments {
		docs = append(docs, stockAdjustmentDocument(adj))
	}
	return docs
}

func stockAdjustmentsToDomain(docs []stockAdjustmentDocument) []domain.StockAdjustment {
	if len(docs) == 0 {
		return nil
	}
	adjustments := make([]domain.StockAdjustment, 0, len(docs))
	for _, doc := range docs {
		adjustments = append(adjustments, domain.StockAdjustment(doc))
	}
	return adjustments
}

func newShippingDocument(s domain.ShippingInfo) shippingDocument {
	return shippingDocument{
		Provider:       s.Provider,
		Service:        s.Service,
		Fee:            s.Fee,
		Address:        addressDocument(s.Address),
		LengthCm:       s.LengthCm,
		WidthCm:        s.WidthCm,
		HeightCm:       s.HeightCm,
		TrackingCode:   s.TrackingCode,
		CarrierCode:    s.CarrierCode,
		CarrierOrderID: s.CarrierOrderID,
		Raw:            maps.Clone(s.Raw),
		WaybillCode:    s.LegacyWaybillCode,
	}
}

func (d shippingDocument) toDomain() domain.ShippingInfo {
	return domain.ShippingInfo{
		Provider:          d.Provider,
		Service:           d.Service,
		Fee:               d.Fee,
		Address:           domain.Address(d.Address),
		LengthCm:          d.LengthCm,
		WidthCm:           d.WidthCm,
		HeightCm:          d.HeightCm,
		TrackingCode:      d.TrackingCode,
		CarrierCode:       d.CarrierCode,
		CarrierOrderID:    d.CarrierOrderID,
		Raw:               d.Raw,
		LegacyWaybillCode: d.WaybillCode,
	}
}

type productDocument struct {
	Name        string            `firestore:"name"`
	SKU         string            `firestore:"sku,omitempty"`
	Price       int64             `firestore:"price"`
	Cost        int64             `firestore:"cost"`
	WeightGrams int64             `firestore:"weight_grams"`
	Stock       int64             `firestore:"stock"`
	Sold        int64             `firestore:"sold"`
	Variants    []variantDocument `firestore:"variants,omitempty"`
	UpdatedAt   time.Time         `firestore:"updated_at"`
}

type variantDocument struct {
	ID          string   `firestore:"id"`
	SKU         string   `firestore:"sku,omitempty"`
	Name        string   `firestore:"name,omitempty"`
	Options     []string `firestore:"options,omitempty"`
	Price       int64    `firestore:"price"`
	Cost        int64    `firestore:"cost"`
	WeightGrams int64    `firestore:"weight_grams"`
	Stock       int64    `firestore:"stock"`
	Sold        int64    `firestore:"sold"`
}

func newProductDocument(p domain.Product) productDocument {
	variants := make([]variantDocument, 0, len(p.Variants))
	for _, v := range p.Variants {
		variants = append(variants, variantDocument(v))
	}
	return productDocument{
		Name:        p.Name,
		SKU:         p.SKU,
		Price:       p.Price,
		Cost:        p.Cost,
		WeightGrams: p.WeightGrams,
		Stock:       p.Stock,
		Sold:        p.Sold,
		Variants:    variants,
		UpdatedAt:   p.UpdatedAt.UTC(),
	}
}

func (d productDocument) toDomain(id string) domain.Product {
	variants := make([]domain.Variant, 0, len(d.Variants))
	for _, v := range d.Variants {
		variants = append(variants, domain.Variant(v))
	}
	return domain.Product{
		ID:          id,
		Name:        d.Name,
		SKU:         d.SKU,
		Price:       d.Price,
		Cost:        d.Cost,
		WeightGrams: d.WeightGrams,
		Stock:       d.Stock,
		Sold:        d.Sold,
		Variants:    variants,
		UpdatedAt:   d.UpdatedAt,
	}
}

type voucherDocument struct {
	Type              string     `firestore:"type"`
	On                bool       `firestore:"on"`
	Off               int64      `firestore:"off"`
	MaxDiscount       int64      `firestore:"max_discount"`
	MinPurchase       int64      `firestore:"min_purchase"`
	UsageCount        int64      `firestore:"usage_count"`
	ReservedCount     int64      `firestore:"reserved_count"`
	UsageLimitTotal   int64      `firestore:"usage_limit_total"`
	UsageLimitPerUser int64      `firestore:"usage_limit_per_user"`
	StartsAt          *time.Time `firestore:"starts_at,omitempty"`
	ExpiresAt         *time.Time `firestore:"expires_at,omitempty"`
	UpdatedAt         time.Time  `firestore:"updated_at"`
}

func newVoucherDocument(v domain.Voucher) voucherDocument {
	return voucherDocument{
		Type:              string(v.Type),
		On:                v.On,
		Off:               v.Off,
		MaxDiscount:       v.MaxDiscount,
		MinPurchase:       v.MinPurchase,
		UsageCount:        v.UsageCount,
		ReservedCount:     v.ReservedCount,
		UsageLimitTotal:   v.UsageLimitTotal,
		UsageLimitPerUser: v.UsageLimitPerUser,
		StartsAt:          utcPtr(v.StartsAt),
		ExpiresAt:         utcPtr(v.ExpiresAt),
		UpdatedAt:         v.UpdatedAt.UTC(),
	}
}

func (d voucherDocument) toDomain(code string) domain.Voucher {
	return domain.Voucher{
		Code:              code,
		Type:              domain.VoucherType(d.Type),
		On:                d.On,
		Off:               d.Off,
		MaxDiscount:       d.MaxDiscount,
		MinPurchase:       d.MinPurchase,
		UsageCount:        d.UsageCount,
		ReservedCount:     d.ReservedCount,
		UsageLimitTotal:   d.UsageLimitTotal,
		UsageLimitPerUser: d.UsageLimitPerUser,
		StartsAt:          d.StartsAt,
		ExpiresAt:         d.ExpiresAt,
		UpdatedAt:         d.UpdatedAt,
	}
}

type voucherUsageDocument struct {
	Code       string    `firestore:"code"`
	CustomerID string    `firestore:"customer_id"`
	OrderID    string    `firestore:"order_id"`
	State      string    `firestore:"state"`
	UsedAt     time.Time `firestore:"used_at"`
}

// consumed treats records written before reservations existed as consumed.
func (d voucherUsageDocument) consumed() bool {
	return d.State == "" || d.State == string(domain.VoucherUsageConsumed)
}

type customerDocument struct {
	Name      string    `firestore:"name,omitempty"`
	Phone     string    `firestore:"phone,omitempty"`
	Email     string    `firestore:"email,omitempty"`
	Points    int64     `firestore:"points"`
	Tier      string    `firestore:"tier,omitempty"`
	CreatedAt time.Time `firestore:"created_at"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

func newCustomerDocument(c domain.Customer) customerDocument {
	return customerDocument{
		Name:      c.Name,
		Phone:     c.Phone,
		Email:     c.Email,
		Points:    c.Points,
		Tier:      c.Tier,
		CreatedAt: c.CreatedAt.UTC(),
		UpdatedAt: c.UpdatedAt.UTC(),
	}
}

func (d customerDocument) toDomain(id string) domain.Customer {
	return domain.Customer{
		ID:        id,
		Name:      d.Name,
		Phone:     d.Phone,
		Email:     d.Email,
		Points:    d.Points,
		Tier:      d.Tier,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

type carrierEventDocument struct {
	Code       string     `firestore:"code"`
	Status     string     `firestore:"status"`
	StatusName string     `firestore:"status_name,omitempty"`
	ReasonCode string     `firestore:"reason_code,omitempty"`
	ReasonText string     `firestore:"reason_text,omitempty"`
	PushedAt   *time.Time `firestore:"pushed_at,omitempty"`
	ReceivedAt time.Time  `firestore:"received_at"`
	Applied    bool       `firestore:"applied"`
}

type shippingSettingsDocument struct {
	SenderName         string            `firestore:"sender_name"`
	SenderPhone        string            `firestore:"sender_phone"`
	SenderAddress      string            `firestore:"sender_address"`
	SenderProvinceCode string            `firestore:"sender_province_code"`
	SenderDistrictCode string            `firestore:"sender_district_code"`
	SenderCommuneCode  string            `firestore:"sender_commune_code"`
	DefaultService     string            `firestore:"default_service,omitempty"`
	DefaultWeightGrams int64             `firestore:"default_weight_grams,omitempty"`
	OptionIDs          map[string]string `firestore:"option_ids,omitempty"`
}

type outboxDocument struct {
	Type        string         `firestore:"type"`
	OrderID     string         `firestore:"order_id"`
	Payload     map[string]any `firestore:"payload"`
	Attempts    int            `firestore:"attempts"`
	LastError   string         `firestore:"last_error,omitempty"`
	Delivered   bool           `firestore:"delivered"`
	CreatedAt   time.Time      `firestore:"created_at"`
	DeliveredAt *time.Time     `firestore:"delivered_at,omitempty"`
}

func (d outboxDocument) toDomain(id string) domain.OutboxEvent {
	return domain.OutboxEvent{
		ID:          id,
		Type:        d.Type,
		OrderID:     d.OrderID,
		Payload:     d.Payload,
		Attempts:    d.Attempts,
		LastError:   d.LastError,
		CreatedAt:   d.CreatedAt,
		DeliveredAt: d.DeliveredAt,
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

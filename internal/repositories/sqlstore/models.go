package sqlstore

import (
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/lumenmart/api/internal/domain"
)

// OrderRow is the reporting projection of an order.
type OrderRow struct {
	ID             string `gorm:"primaryKey;size:64"`
	Status         string `gorm:"size:32;index"`
	CustomerID     string `gorm:"size:128;index"`
	CustomerName   string `gorm:"size:255"`
	CustomerPhone  string `gorm:"size:32;index"`
	SourceChannel  string `gorm:"size:16;index"`
	ChannelOrderID string `gorm:"size:128"`
	TrackingCode   string `gorm:"size:128;index"`
	CarrierCode    string `gorm:"size:128;index"`
	VoucherCode    string `gorm:"size:64"`

	Subtotal         decimal.Decimal `gorm:"type:decimal(18,0)"`
	ShippingFee      decimal.Decimal `gorm:"type:decimal(18,0)"`
	Discount         decimal.Decimal `gorm:"type:decimal(18,0)"`
	ShippingDiscount decimal.Decimal `gorm:"type:decimal(18,0)"`
	Revenue          decimal.Decimal `gorm:"type:decimal(18,0)"`
	Profit           decimal.Decimal `gorm:"type:decimal(18,0)"`

	Items []OrderItemRow `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
	CancelledAt *time.Time
}

func (OrderRow) TableName() string { return "order_records" }

// OrderItemRow is one line of an OrderRow.
type OrderItemRow struct {
	ID        uint   `gorm:"primaryKey"`
	OrderID   string `gorm:"size:64;index"`
	Position  int
	ProductID string `gorm:"size:128;index"`
	VariantID string `gorm:"size:128"`
	SKU       string `gorm:"size:128"`
	Name      string `gorm:"size:255"`
	Quantity  int
	Price     decimal.Decimal `gorm:"type:decimal(18,0)"`
	Cost      decimal.Decimal `gorm:"type:decimal(18,0)"`
}

func (OrderItemRow) TableName() string { return "order_record_items" }

func newOrderRow(o domain.Order) OrderRow {
	items := make([]OrderItemRow, 0, len(o.Items))
	for i, item := range o.Items {
		items = append(items, OrderItemRow{
			OrderID:   o.ID,
			Position:  i,
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			SKU:       item.SKU,
			Name:      item.Name,
			Quantity:  item.Quantity,
			Price:     decimal.NewFromInt(item.Price),
			Cost:      decimal.NewFromInt(item.Cost),
		})
	}
	return OrderRow{
		ID:               o.ID,
		Status:           string(o.Status),
		CustomerID:       o.Customer.ID,
		CustomerName:     o.Customer.Name,
		CustomerPhone:    o.Customer.Phone,
		SourceChannel:    string(o.SourceChannel),
		ChannelOrderID:   o.ChannelOrderID,
		TrackingCode:     o.Shipping.TrackingCode,
		CarrierCode:      o.Shipping.CarrierCode,
		VoucherCode:      o.Pricing.VoucherCode,
		Subtotal:         decimal.NewFromInt(o.Pricing.Subtotal),
		ShippingFee:      decimal.NewFromInt(o.Pricing.ShippingFee),
		Discount:         decimal.NewFromInt(o.Pricing.Discount),
		ShippingDiscount: decimal.NewFromInt(o.Pricing.ShippingDiscount),
		Revenue:          decimal.NewFromInt(o.Pricing.Revenue),
		Profit:           decimal.NewFromInt(o.Pricing.Profit),
		Items:            items,
		CreatedAt:        o.CreatedAt.UTC(),
		UpdatedAt:        o.UpdatedAt.UTC(),
		CompletedAt:      o.CompletedAt,
		CancelledAt:      o.CancelledAt,
	}
}

// Package channels pulls orders from marketplaces and normalizes them into one shape.
package channels

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/lumenmart/api/internal/domain"
)

const maxResponseSize = 10 * 1024 * 1024

var (
	// ErrUnknownChannel is returned for channels other than shopee and lazada.
	ErrUnknownChannel = errors.New("channels: unknown channel")
	// ErrRequestFailed wraps non-success marketplace responses.
	ErrRequestFailed = errors.New("channels: marketplace request failed")
	// ErrUnavailable wraps transport failures.
	ErrUnavailable = errors.New("channels: marketplace unavailable")
)

// Order is a marketplace order normalized for import. It is also the body accepted by the
// signed push endpoint, so amounts accept JSON numbers or strings.
type Order struct {
	OrderSN      string          `json:"order_sn"`
	Status       string          `json:"status,omitempty"`
	BuyerName    string          `json:"buyer_name"`
	BuyerPhone   string          `json:"buyer_phone"`
	BuyerEmail   string          `json:"buyer_email,omitempty"`
	Address      string          `json:"address,omitempty"`
	ProvinceName string          `json:"province,omitempty"`
	DistrictName string          `json:"district,omitempty"`
	CommuneName  string          `json:"commune,omitempty"`
	ShippingFee  decimal.Decimal `json:"shipping_fee"`
	Note         string          `json:"note,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	Items        []OrderItem     `json:"items"`
}

// OrderItem is one purchased line.
type OrderItem struct {
	SKU         string          `json:"sku"`
	Name        string          `json:"name"`
	VariantName string          `json:"variant_name,omitempty"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
}

// Adapter fetches orders created since a point in time.
type Adapter interface {
	Channel() domain.SourceChannel
	FetchOrders(ctx context.Context, since time.Time) ([]Order, error)
}

// ParseChannel maps a path segment to a marketplace source channel.
func ParseChannel(raw string) (domain.SourceChannel, error) {
	switch domain.SourceChannel(strings.ToLower(strings.TrimSpace(raw))) {
	case domain.SourceShopee:
		return domain.SourceShopee, nil
	case domain.SourceLazada:
		return domain.SourceLazada, nil
	}
	return "", ErrUnknownChannel
}

// Amount converts a marketplace amount to whole VND, rounding half away from zero.
func Amount(d decimal.Decimal) int64 {
	return d.Round(0).IntPart()
}

// ParseDecimal returns zero for empty or malformed input.
func ParseDecimal(s string) decimal.Decimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

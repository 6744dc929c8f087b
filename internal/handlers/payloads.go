package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lumenmart/api/internal/carrier"
	domain "github.com/lumenmart/api/internal/domain"
	"github.com/lumenmart/api/internal/platform/httpx"
	"github.com/lumenmart/api/internal/services"
)

var (
	errEmptyBody    = errors.New("request body is empty")
	errBodyTooLarge = errors.New("request body too large")
)

type addressPayload struct {
	Line         string `json:"line"`
	ProvinceCode string `json:"province_code,omitempty"`
	DistrictCode string `json:"district_code,omitempty"`
	CommuneCode  string `json:"commune_code,omitempty"`
	ProvinceName string `json:"province_name,omitempty"`
	DistrictName string `json:"district_name,omitempty"`
	CommuneName  string `json:"commune_name,omitempty"`
}

type customerPayload struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email,omitempty"`
}

type itemPayload struct {
	ProductID   string `json:"product_id,omitempty"`
	VariantID   string `json:"variant_id,omitempty"`
	SKU         string `json:"sku,omitempty"`
	Name        string `json:"name,omitempty"`
	VariantName string `json:"variant_name,omitempty"`
	Quantity    int    `json:"quantity"`
	Price       int64  `json:"price"`
	Cost        int64  `json:"cost,omitempty"`
	WeightGrams int64  `json:"weight,omitempty"`
}

type shippingPayload struct {
	Provider       string         `json:"provider,omitempty"`
	Service        string         `json:"service,omitempty"`
	Fee            int64          `json:"fee"`
	Address        addressPayload `json:"address"`
	LengthCm       int64          `json:"length,omitempty"`
	WidthCm        int64          `json:"width,omitempty"`
	HeightCm       int64          `json:"height,omitempty"`
	TrackingCode   *string        `json:"tracking_code"`
	CarrierCode    string         `json:"carrier_code,omitempty"`
	CarrierOrderID string         `json:"carrier_order_id,omitempty"`
}

type pricingPayload struct {
	Subtotal         int64  `json:"subtotal"`
	ShippingFee      int64  `json:"shipping_fee"`
	Discount         int64  `json:"discount"`
	ShippingDiscount int64  `json:"shipping_discount"`
	Revenue          int64  `json:"revenue"`
	Profit           int64  `json:"profit"`
	VoucherCode      string `json:"voucher_code,omitempty"`
	VoucherApplied   bool   `json:"voucher_applied"`
	VoucherRejection string `json:"voucher_rejection,omitempty"`
}

type orderPayload struct {
	ID             string          `json:"id"`
	Status         string          `json:"status"`
	Customer       customerPayload `json:"customer"`
	Items          []itemPayload   `json:"items"`
	Note           string          `json:"note,omitempty"`
	Shipping       shippingPayload `json:"shipping"`
	Pricing        pricingPayload  `json:"pricing"`
	SourceChannel  string          `json:"source_channel"`
	ChannelOrderID string          `json:"channel_order_id,omitempty"`
	Flags          orderFlags      `json:"flags"`
	CancelReason   string          `json:"cancel_reason,omitempty"`
	CancelledBy    string          `json:"cancelled_by,omitempty"`
	CreatedAt      string          `json:"created_at"`
	UpdatedAt      string          `json:"updated_at,omitempty"`
	ConfirmedAt    string          `json:"confirmed_at,omitempty"`
	ShippedAt      string          `json:"shipped_at,omitempty"`
	DeliveredAt    string          `json:"delivered_at,omitempty"`
	CompletedAt    string          `json:"completed_at,omitempty"`
	CancelledAt    string          `json:"cancelled_at,omitempty"`
	ReturnedAt     string          `json:"returned_at,omitempty"`
}

type orderFlags struct {
	InventoryAdjusted bool `json:"inventory_adjusted"`
	VoucherConsumed   bool `json:"voucher_consumed"`
	LoyaltyCredited   bool `json:"loyalty_credited"`
}

type carrierErrorPayload struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Missing []string `json:"missing,omitempty"`
}

func buildOrderPayload(order services.Order) orderPayload {
	items := make([]itemPayload, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, itemPayload{
			ProductID:   item.ProductID,
			VariantID:   item.VariantID,
			SKU:         item.SKU,
			Name:        item.Name,
			VariantName: item.VariantName,
			Quantity:    item.Quantity,
			Price:       item.Price,
			Cost:        item.Cost,
			WeightGrams: item.WeightGrams,
		})
	}
	payload := orderPayload{
		ID:     order.ID,
		Status: string(order.Status),
		Customer: customerPayload{
			ID:    order.Customer.ID,
			Name:  order.Customer.Name,
			Phone: order.Customer.Phone,
			Email: order.Customer.Email,
		},
		Items: items,
		Note:  order.Note,
		Shipping: shippingPayload{
			Provider:       order.Shipping.Provider,
			Service:        order.Shipping.Service,
			Fee:            order.Shipping.Fee,
			Address:        buildAddressPayload(order.Shipping.Address),
			LengthCm:       order.Shipping.LengthCm,
			WidthCm:        order.Shipping.WidthCm,
			HeightCm:       order.Shipping.HeightCm,
			TrackingCode:   trackingCode(order),
			CarrierCode:    order.Shipping.CarrierCode,
			CarrierOrderID: order.Shipping.CarrierOrderID,
		},
		Pricing:        buildPricingPayload(order.Pricing),
		SourceChannel:  string(order.SourceChannel),
		ChannelOrderID: order.ChannelOrderID,
		Flags: orderFlags{
			InventoryAdjusted: order.InventoryAdjusted,
			VoucherConsumed:   order.VoucherConsumed,
			LoyaltyCredited:   order.LoyaltyCredited,
		},
		CreatedAt:   formatTime(order.CreatedAt),
		UpdatedAt:   formatTime(order.UpdatedAt),
		ConfirmedAt: formatTimePointer(order.ConfirmedAt),
		ShippedAt:   formatTimePointer(order.ShippedAt),
		DeliveredAt: formatTimePointer(order.DeliveredAt),
		CompletedAt: formatTimePointer(order.CompletedAt),
		CancelledAt: formatTimePointer(order.CancelledAt),
		ReturnedAt:  formatTimePointer(order.ReturnedAt),
	}
	if order.CancelReason != nil {
		payload.CancelReason = *order.CancelReason
	}
	if order.CancelledBy != nil {
		payload.CancelledBy = *order.CancelledBy
	}
	return payload
}

func buildAddressPayload(addr domain.Address) addressPayload {
	return addressPayload{
		Line:         addr.Line,
		ProvinceCode: addr.ProvinceCode,
		DistrictCode: addr.DistrictCode,
		CommuneCode:  addr.CommuneCode,
		ProvinceName: addr.ProvinceName,
		DistrictName: addr.DistrictName,
		CommuneName:  addr.CommuneName,
	}
}

func buildPricingPayload(p services.PricingBreakdown) pricingPayload {
	return pricingPayload{
		Subtotal:         p.Subtotal,
		ShippingFee:      p.ShippingFee,
		Discount:         p.Discount,
		ShippingDiscount: p.ShippingDiscount,
		Revenue:          p.Revenue,
		Profit:           p.Profit,
		VoucherCode:      p.VoucherCode,
		VoucherApplied:   p.VoucherApplied,
		VoucherRejection: p.VoucherRejection,
	}
}

func (p addressPayload) toDomain() domain.Address {
	return domain.Address{
		Line:         strings.TrimSpace(p.Line),
		ProvinceCode: strings.TrimSpace(p.ProvinceCode),
		DistrictCode: strings.TrimSpace(p.DistrictCode),
		CommuneCode:  strings.TrimSpace(p.CommuneCode),
		ProvinceName: strings.TrimSpace(p.ProvinceName),
		DistrictName: strings.TrimSpace(p.DistrictName),
		CommuneName:  strings.TrimSpace(p.CommuneName),
	}
}

func (p customerPayload) toSnapshot() services.CustomerSnapshot {
	return services.CustomerSnapshot{ID: p.ID, Name: p.Name, Phone: p.Phone, Email: p.Email}
}

func toLineItems(items []itemPayload) []services.LineItem {
	if items == nil {
		return nil
	}
	out := make([]services.LineItem, 0, len(items))
	for _, item := range items {
		out = append(out, services.LineItem{
			ProductID:   item.ProductID,
			VariantID:   item.VariantID,
			SKU:         item.SKU,
			Name:        item.Name,
			VariantName: item.VariantName,
			Quantity:    item.Quantity,
			Price:       item.Price,
			Cost:        item.Cost,
			WeightGrams: item.WeightGrams,
		})
	}
	return out
}

func trackingCode(order services.Order) *string {
	if code := strings.TrimSpace(order.Shipping.TrackingCode); code != "" {
		return &code
	}
	return nil
}

func buildCarrierErrorPayload(err error) *carrierErrorPayload {
	if err == nil {
		return nil
	}
	if carrierErr, ok := carrier.AsError(err); ok {
		return &carrierErrorPayload{Code: carrierErr.Code, Message: carrierErr.Message, Missing: carrierErr.Missing}
	}
	if errors.Is(err, carrier.ErrInProgress) {
		return &carrierErrorPayload{Code: "WAYBILL_IN_PROGRESS", Message: err.Error()}
	}
	return &carrierErrorPayload{Code: carrier.CodeUnavailable, Message: err.Error()}
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	reader := io.LimitReader(r.Body, limit+1)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

// decodeJSONBody reads a bounded JSON body into dst, writing the error response itself.
// An empty body is accepted when allowEmpty is set.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, limit int64, allowEmpty bool, dst any) bool {
	ctx := r.Context()
	body, err := readLimitedBody(r, limit)
	switch {
	case errors.Is(err, errEmptyBody) && allowEmpty:
		return true
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		return false
	case err != nil:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return false
	}
	return true
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	httpx.WriteJSON(w, status, payload)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePointer(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

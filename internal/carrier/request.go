package carrier

import (
	"strings"

	"github.com/shopspring/decimal"

	domain "github.com/lumenmart/api/internal/domain"
)

// volumetricDivisor converts cubic centimetres to kilograms of chargeable weight.
var volumetricDivisor = decimal.NewFromInt(6000)

// WaybillRequest is the create-order payload understood by the carrier. Field names follow
// the carrier's wire format and double as the names reported on validation failures.
type WaybillRequest struct {
	OrderID string `json:"order_id"`

	SenderName         string `json:"sender_name" validate:"required"`
	SenderPhone        string `json:"sender_phone" validate:"required"`
	SenderAddress      string `json:"sender_address" validate:"required"`
	SenderProvinceCode string `json:"sender_province_code" validate:"required"`
	SenderDistrictCode string `json:"sender_district_code" validate:"required"`
	SenderCommuneCode  string `json:"sender_commune_code,omitempty"`

	ReceiverName         string `json:"receiver_name" validate:"required"`
	ReceiverPhone        string `json:"receiver_phone" validate:"required"`
	ReceiverAddress      string `json:"receiver_address" validate:"required"`
	ReceiverProvinceCode string `json:"receiver_province_code" validate:"required"`
	ReceiverDistrictCode string `json:"receiver_district_code" validate:"required"`
	ReceiverCommuneCode  string `json:"receiver_commune_code,omitempty"`

	// Weight and ChargeableWeight are grams.
	Weight           int64  `json:"weight" validate:"gt=0"`
	ChargeableWeight int64  `json:"chargeable_weight"`
	LengthCm         int64  `json:"length,omitempty"`
	WidthCm          int64  `json:"width,omitempty"`
	HeightCm         int64  `json:"height,omitempty"`
	ServiceCode      string `json:"service_code" validate:"required"`
	OptionID         string `json:"option_id,omitempty"`

	CODAmount     int64            `json:"cod_amount"`
	DeclaredValue int64            `json:"declared_value"`
	Note          string           `json:"note,omitempty"`
	Products      []WaybillProduct `json:"products"`
}

// WaybillProduct is one parcel content line.
type WaybillProduct struct {
	Name     string `json:"name"`
	SKU      string `json:"sku,omitempty"`
	Quantity int    `json:"quantity"`
	Price    int64  `json:"price"`
	Weight   int64  `json:"weight"`
}

// BuildWaybillRequest maps an order and the sender profile into a carrier payload. Items
// without a weight fall back to the default weight from settings.
func BuildWaybillRequest(order domain.Order, settings domain.ShippingSettings) WaybillRequest {
	service := strings.TrimSpace(order.Shipping.Service)
	if service == "" {
		service = strings.TrimSpace(settings.DefaultService)
	}
	addr := order.Shipping.Address

	req := WaybillRequest{
		OrderID:              order.ID,
		SenderName:           strings.TrimSpace(settings.SenderName),
		SenderPhone:          strings.TrimSpace(settings.SenderPhone),
		SenderAddress:        strings.TrimSpace(settings.SenderAddress),
		SenderProvinceCode:   strings.TrimSpace(settings.SenderProvinceCode),
		SenderDistrictCode:   strings.TrimSpace(settings.SenderDistrictCode),
		SenderCommuneCode:    strings.TrimSpace(settings.SenderCommuneCode),
		ReceiverName:         strings.TrimSpace(order.Customer.Name),
		ReceiverPhone:        strings.TrimSpace(order.Customer.Phone),
		ReceiverAddress:      strings.TrimSpace(addr.Line),
		ReceiverProvinceCode: strings.TrimSpace(addr.ProvinceCode),
		ReceiverDistrictCode: strings.TrimSpace(addr.DistrictCode),
		ReceiverCommuneCode:  strings.TrimSpace(addr.CommuneCode),
		LengthCm:             order.Shipping.LengthCm,
		WidthCm:              order.Shipping.WidthCm,
		HeightCm:             order.Shipping.HeightCm,
		ServiceCode:          service,
		OptionID:             settings.OptionIDs[service],
		CODAmount:            order.Pricing.Revenue,
		DeclaredValue:        order.Pricing.Subtotal,
		Note:                 order.Note,
		Products:             make([]WaybillProduct, 0, len(order.Items)),
	}

	var total int64
	for _, item := range order.Items {
		weight := item.WeightGrams
		if weight <= 0 {
			weight = settings.DefaultWeightGrams
		}
		name := item.Name
		if item.VariantName != "" {
			name = strings.TrimSpace(name + " " + item.VariantName)
		}
		req.Products = append(req.Products, WaybillProduct{
			Name:     name,
			SKU:      item.SKU,
			Quantity: item.Quantity,
			Price:    item.Price,
			Weight:   weight,
		})
		total += weight * int64(item.Quantity)
	}
	req.Weight = total
	req.ChargeableWeight = ChargeableWeight(total, req.LengthCm, req.WidthCm, req.HeightCm)
	return req
}

// ChargeableWeight returns the larger of the actual weight and the volumetric weight
// (L×W×H/6000 kg), both in grams, rounding the volumetric part up to the next gram.
func ChargeableWeight(actualGrams, lengthCm, widthCm, heightCm int64) int64 {
	if lengthCm <= 0 || widthCm <= 0 || heightCm <= 0 {
		return actualGrams
	}
	volumetric := decimal.NewFromInt(lengthCm).
		Mul(decimal.NewFromInt(widthCm)).
		Mul(decimal.NewFromInt(heightCm)).
		Div(volumetricDivisor).
		Mul(decimal.NewFromInt(1000)).
		Ceil()
	if volumetric.GreaterThan(decimal.NewFromInt(actualGrams)) {
		return volumetric.IntPart()
	}
	return actualGrams
}

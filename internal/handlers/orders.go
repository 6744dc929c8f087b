package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/lumenmart/api/internal/domain"
	"github.com/lumenmart/api/internal/platform/httpx"
	"github.com/lumenmart/api/internal/services"
)

const maxCheckoutBodySize = 64 * 1024

type checkoutRequest struct {
	Customer         customerPayload    `json:"customer"`
	Items            []itemPayload      `json:"items"`
	Note             string             `json:"note"`
	ShippingProvider string             `json:"shipping_provider"`
	ShippingService  string             `json:"shipping_service"`
	ShippingFee      int64              `json:"shipping_fee"`
	ShippingDiscount int64              `json:"shipping_discount"`
	Address          addressPayload     `json:"address"`
	Dimensions       *dimensionsPayload `json:"dimensions"`
	VoucherCode      string             `json:"voucher_code"`
}

type dimensionsPayload struct {
	Length int64 `json:"length"`
	Width  int64 `json:"width"`
	Height int64 `json:"height"`
}

type createOrderResponse struct {
	OK           bool                 `json:"ok"`
	ID           string               `json:"id"`
	Status       string               `json:"status"`
	TrackingCode *string              `json:"tracking_code"`
	WaybillError *carrierErrorPayload `json:"waybill_error,omitempty"`
}

type previewResponse struct {
	OK      bool           `json:"ok"`
	Pricing pricingPayload `json:"pricing"`
}

// OrderHandlers serves the storefront checkout endpoints.
type OrderHandlers struct {
	orders     services.OrderService
	idempotent func(http.Handler) http.Handler
	limiter    rateLimiter
}

// OrderHandlerOption customises OrderHandlers.
type OrderHandlerOption func(*OrderHandlers)

// WithOrderIdempotency wraps order creation, usually with idempotency.Middleware.
func WithOrderIdempotency(mw func(http.Handler) http.Handler) OrderHandlerOption {
	return func(h *OrderHandlers) {
		h.idempotent = mw
	}
}

// WithCheckoutRateLimit caps order creation per client address. A non-positive limit
// disables throttling.
func WithCheckoutRateLimit(limit int, window time.Duration, clock func() time.Time) OrderHandlerOption {
	return func(h *OrderHandlers) {
		h.limiter = newWindowRateLimiter(limit, window, clock)
	}
}

// NewOrderHandlers constructs checkout handlers.
func NewOrderHandlers(orders services.OrderService, opts ...OrderHandlerOption) *OrderHandlers {
	h := &OrderHandlers{orders: orders}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	create := http.Handler(http.HandlerFunc(h.createOrder))
	if h.idempotent != nil {
		create = h.idempotent(create)
	}
	r.With(h.throttle).Method(http.MethodPost, "/", create)
	r.Post("/preview", h.previewOrder)
}

// throttle runs ahead of the idempotency middleware, so replays count against the limit.
func (h *OrderHandlers) throttle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.limiter != nil && !h.limiter.Allow(clientKey(r)) {
			httpx.WriteError(r.Context(), w, httpx.NewError("rate_limited", "too many checkout attempts, try again shortly", http.StatusTooManyRequests))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req checkoutRequest
	if !decodeJSONBody(w, r, maxCheckoutBodySize, false, &req) {
		return
	}

	cmd := req.toCommand()
	cmd.IdempotencyKey = strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	cmd.SourceChannel = domain.SourceStorefront
	cmd.Actor = "customer"

	result, err := h.orders.Create(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, createOrderResponse{
		OK:           true,
		ID:           result.Order.ID,
		Status:       string(result.Order.Status),
		TrackingCode: trackingCode(result.Order),
		WaybillError: buildCarrierErrorPayload(result.WaybillError),
	})
}

func (h *OrderHandlers) previewOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req checkoutRequest
	if !decodeJSONBody(w, r, maxCheckoutBodySize, false, &req) {
		return
	}

	breakdown, err := h.orders.Preview(ctx, req.toCommand())
	switch {
	case err == nil:
		writeJSONResponse(w, http.StatusOK, previewResponse{OK: true, Pricing: buildPricingPayload(breakdown)})
	case errors.Is(err, services.ErrVoucherRejected):
		httpx.WriteError(ctx, w, httpx.NewError("voucher_rejected", breakdown.VoucherRejection, http.StatusUnprocessableEntity).
			WithDetails(map[string]any{"pricing": buildPricingPayload(breakdown)}))
	case errors.Is(err, services.ErrPricingInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	default:
		writeOrderError(ctx, w, err)
	}
}

func (req checkoutRequest) toCommand() services.CreateOrderCommand {
	shipping := services.ShippingInput{
		Provider: strings.TrimSpace(req.ShippingProvider),
		Service:  strings.TrimSpace(req.ShippingService),
		Fee:      req.ShippingFee,
		Discount: req.ShippingDiscount,
		Address:  req.Address.toDomain(),
	}
	if req.Dimensions != nil {
		shipping.LengthCm = req.Dimensions.Length
		shipping.WidthCm = req.Dimensions.Width
		shipping.HeightCm = req.Dimensions.Height
	}
	return services.CreateOrderCommand{
		Customer:    req.Customer.toSnapshot(),
		Items:       toLineItems(req.Items),
		Note:        req.Note,
		Shipping:    shipping,
		VoucherCode: strings.TrimSpace(req.VoucherCode),
	}
}

package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/lumenmart/api/internal/carrier"
	domain "github.com/lumenmart/api/internal/domain"
	"github.com/lumenmart/api/internal/platform/auth"
	"github.com/lumenmart/api/internal/platform/httpx"
	"github.com/lumenmart/api/internal/platform/pagination"
	"github.com/lumenmart/api/internal/services"
)

const (
	maxAdminOrderBodySize  = 64 * 1024
	maxOrderCancelBodySize = 4 * 1024
)

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderListResponse struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

type transitionResponse struct {
	Order        orderPayload         `json:"order"`
	Changed      bool                 `json:"changed"`
	WaybillError *carrierErrorPayload `json:"waybill_error,omitempty"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

type updateStatusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

type upsertShippingRequest struct {
	Provider string         `json:"provider"`
	Service  string         `json:"service"`
	Fee      int64          `json:"fee"`
	Discount int64          `json:"discount"`
	Address  addressPayload `json:"address"`
	LengthCm int64          `json:"length"`
	WidthCm  int64          `json:"width"`
	HeightCm int64          `json:"height"`
}

type upsertOrderRequest struct {
	Customer    *customerPayload       `json:"customer"`
	Items       []itemPayload          `json:"items"`
	Note        *string                `json:"note"`
	Shipping    *upsertShippingRequest `json:"shipping"`
	VoucherCode *string                `json:"voucher_code"`
	Status      *string                `json:"status"`
}

// AdminOrderHandlers exposes order management to staff.
type AdminOrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
}

// NewAdminOrderHandlers constructs admin order handlers.
func NewAdminOrderHandlers(authn *auth.Authenticator, orders services.OrderService) *AdminOrderHandlers {
	return &AdminOrderHandlers{authn: authn, orders: orders}
}

// Routes registers the /admin/orders endpoints.
func (h *AdminOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Route("/orders", func(rt chi.Router) {
		if h.authn != nil {
			rt.Use(h.authn.RequireFirebaseAuth(auth.RoleAdmin, auth.RoleStaff))
		}
		rt.Get("/", h.listOrders)
		rt.Get("/{orderID}", h.getOrder)
		rt.Put("/{orderID}", h.upsertOrder)
		rt.Delete("/{orderID}", h.deleteOrder)
		rt.Post("/{orderID}:confirm", h.confirmOrder)
		rt.Post("/{orderID}:cancel", h.cancelOrder)
		rt.Post("/{orderID}:complete", h.completeOrder)
		rt.Put("/{orderID}/status", h.updateStatus)
	})
}

func (h *AdminOrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(w, r) {
		return
	}

	params, err := pagination.ParseRequest(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.orders.List(ctx, params)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderPayload(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *AdminOrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID, ok := h.orderID(w, r)
	if !ok {
		return
	}
	order, err := h.orders.Get(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminOrderHandlers) upsertOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID, ok := h.orderID(w, r)
	if !ok {
		return
	}

	var req upsertOrderRequest
	if !decodeJSONBody(w, r, maxAdminOrderBodySize, false, &req) {
		return
	}

	cmd := services.UpsertOrderCommand{
		OrderID:     orderID,
		Items:       toLineItems(req.Items),
		Note:        req.Note,
		VoucherCode: req.VoucherCode,
		Actor:       actorFromRequest(r),
	}
	if req.Customer != nil {
		customer := req.Customer.toSnapshot()
		cmd.Customer = &customer
	}
	if req.Shipping != nil {
		cmd.Shipping = &services.ShippingInput{
			Provider: strings.TrimSpace(req.Shipping.Provider),
			Service:  strings.TrimSpace(req.Shipping.Service),
			Fee:      req.Shipping.Fee,
			Discount: req.Shipping.Discount,
			Address:  req.Shipping.Address.toDomain(),
			LengthCm: req.Shipping.LengthCm,
			WidthCm:  req.Shipping.WidthCm,
			HeightCm: req.Shipping.HeightCm,
		}
	}
	if req.Status != nil {
		status, valid := domain.ParseOrderStatus(*req.Status)
		if !valid {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status is not a known order status", http.StatusBadRequest))
			return
		}
		cmd.Status = &status
	}

	order, err := h.orders.Upsert(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminOrderHandlers) deleteOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID, ok := h.orderID(w, r)
	if !ok {
		return
	}
	if err := h.orders.Delete(ctx, orderID); err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// confirmOrder answers with the carrier failure when the waybill could not be created. The
// order has still moved to processing, so it is included for the retry prompt.
func (h *AdminOrderHandlers) confirmOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID, ok := h.orderID(w, r)
	if !ok {
		return
	}

	result, err := h.orders.Confirm(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	if result.WaybillError != nil {
		writeWaybillError(w, r, result)
		return
	}
	writeJSONResponse(w, http.StatusOK, transitionResponse{
		Order:   buildOrderPayload(result.Order),
		Changed: result.Changed,
	})
}

func (h *AdminOrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID, ok := h.orderID(w, r)
	if !ok {
		return
	}

	var req cancelOrderRequest
	if !decodeJSONBody(w, r, maxOrderCancelBodySize, true, &req) {
		return
	}

	order, err := h.orders.Cancel(ctx, services.CancelOrderCommand{
		OrderID: orderID,
		Actor:   actorFromRequest(r),
		Reason:  strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminOrderHandlers) completeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID, ok := h.orderID(w, r)
	if !ok {
		return
	}
	order, err := h.orders.Complete(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminOrderHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID, ok := h.orderID(w, r)
	if !ok {
		return
	}

	var req updateStatusRequest
	if !decodeJSONBody(w, r, maxOrderCancelBodySize, false, &req) {
		return
	}
	status, valid := domain.ParseOrderStatus(req.Status)
	if !valid {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status is not a known order status", http.StatusBadRequest))
		return
	}

	result, err := h.orders.UpdateStatus(ctx, services.UpdateStatusCommand{
		OrderID: orderID,
		Status:  status,
		Actor:   actorFromRequest(r),
		Reason:  strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, transitionResponse{
		Order:        buildOrderPayload(result.Order),
		Changed:      result.Changed,
		WaybillError: buildCarrierErrorPayload(result.WaybillError),
	})
}

func (h *AdminOrderHandlers) available(w http.ResponseWriter, r *http.Request) bool {
	if h.orders == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return false
	}
	return true
}

func (h *AdminOrderHandlers) orderID(w http.ResponseWriter, r *http.Request) (string, bool) {
	if !h.available(w, r) {
		return "", false
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return "", false
	}
	return orderID, true
}

func writeWaybillError(w http.ResponseWriter, r *http.Request, result services.TransitionResult) {
	detail := buildCarrierErrorPayload(result.WaybillError)
	status := http.StatusServiceUnavailable
	switch {
	case errors.Is(result.WaybillError, carrier.ErrInProgress):
		status = http.StatusConflict
	case detail.Code == carrier.CodeValidationFailed:
		status = http.StatusUnprocessableEntity
	case detail.Code == carrier.CodeRejected:
		status = http.StatusBadGateway
	}
	details := map[string]any{"order": buildOrderPayload(result.Order)}
	if len(detail.Missing) > 0 {
		details["missing"] = detail.Missing
	}
	httpx.WriteError(r.Context(), w, httpx.NewError(detail.Code, detail.Message, status).WithDetails(details))
}

func actorFromRequest(r *http.Request) string {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok && identity != nil {
		if actor := identity.Actor(); actor != "" {
			return actor
		}
	}
	return "admin"
}

package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lumenmart/api/internal/carrier"
	domain "github.com/lumenmart/api/internal/domain"
	"github.com/lumenmart/api/internal/platform/auth"
	"github.com/lumenmart/api/internal/platform/pagination"
	"github.com/lumenmart/api/internal/services"
)

func newAdminRouter(svc services.OrderService, identity *auth.Identity) chi.Router {
	r := chi.NewRouter()
	if identity != nil {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				next.ServeHTTP(w, req.WithContext(auth.WithIdentity(req.Context(), identity)))
			})
		})
	}
	r.Route("/admin", NewAdminOrderHandlers(nil, svc).Routes)
	return r
}

func adminOrder(id string, status domain.OrderStatus) services.Order {
	return services.Order{
		ID:        id,
		Status:    status,
		Customer:  services.CustomerSnapshot{ID: "0901234567", Name: "Trần Thị Bình", Phone: "0901234567"},
		Items:     []services.LineItem{{ProductID: "p_a", SKU: "A", Quantity: 2, Price: 100000}},
		Pricing:   services.PricingBreakdown{Subtotal: 200000, ShippingFee: 20000, Revenue: 220000},
		CreatedAt: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestAdminOrderHandlersConfirmReportsValidationFailure(t *testing.T) {
	svc := &stubOrderService{
		confirmFn: func(_ context.Context, orderID string) (services.TransitionResult, error) {
			return services.TransitionResult{
				Order:   adminOrder(orderID, domain.OrderStatusProcessing),
				Changed: true,
				WaybillError: &carrier.Error{
					Code:    carrier.CodeValidationFailed,
					Message: "missing required fields",
					Missing: []string{"to_district_id", "to_ward_code"},
				},
			}, nil
		},
	}
	router := newAdminRouter(svc, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/admin/orders/ord_01:confirm", nil))

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rr.Code, rr.Body.String())
	}
	var body struct {
		OK      bool         `json:"ok"`
		Error   string       `json:"error"`
		Missing []string     `json:"missing"`
		Order   orderPayload `json:"order"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.OK || body.Error != carrier.CodeValidationFailed {
		t.Fatalf("unexpected envelope %+v", body)
	}
	if strings.Join(body.Missing, ",") != "to_district_id,to_ward_code" {
		t.Fatalf("unexpected missing fields %v", body.Missing)
	}
	if body.Order.ID != "ord_01" || body.Order.Status != "processing" || body.Order.Shipping.TrackingCode != nil {
		t.Fatalf("unexpected order %+v", body.Order)
	}
}

func TestAdminOrderHandlersConfirmCarrierStatuses(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "rejected", err: &carrier.Error{Code: carrier.CodeRejected, Message: "route not served"}, status: http.StatusBadGateway, code: carrier.CodeRejected},
		{name: "unavailable", err: &carrier.Error{Code: carrier.CodeUnavailable, Message: "timeout"}, status: http.StatusServiceUnavailable, code: carrier.CodeUnavailable},
		{name: "in progress", err: carrier.ErrInProgress, status: http.StatusConflict, code: "WAYBILL_IN_PROGRESS"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubOrderService{
				confirmFn: func(_ context.Context, orderID string) (services.TransitionResult, error) {
					return services.TransitionResult{Order: adminOrder(orderID, domain.OrderStatusProcessing), WaybillError: tc.err}, nil
				},
			}
			rr := httptest.NewRecorder()
			newAdminRouter(svc, nil).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/admin/orders/ord_01:confirm", nil))
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			var body map[string]any
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if body["error"] != tc.code {
				t.Fatalf("expected error %s, got %v", tc.code, body["error"])
			}
		})
	}
}

func TestAdminOrderHandlersConfirmSuccess(t *testing.T) {
	svc := &stubOrderService{
		confirmFn: func(_ context.Context, orderID string) (services.TransitionResult, error) {
			order := adminOrder(orderID, domain.OrderStatusProcessing)
			order.Shipping.TrackingCode = "LM42"
			return services.TransitionResult{Order: order, Changed: true}, nil
		},
	}
	rr := httptest.NewRecorder()
	newAdminRouter(svc, nil).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/admin/orders/ord_42:confirm", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body transitionResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !body.Changed || body.Order.Shipping.TrackingCode == nil || *body.Order.Shipping.TrackingCode != "LM42" {
		t.Fatalf("unexpected response %+v", body)
	}
}

func TestAdminOrderHandlersCancelUsesIdentity(t *testing.T) {
	var captured services.CancelOrderCommand
	svc := &stubOrderService{
		cancelFn: func(_ context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
			captured = cmd
			order := adminOrder(cmd.OrderID, domain.OrderStatusCancelled)
			order.CancelReason = &cmd.Reason
			order.CancelledBy = &cmd.Actor
			return order, nil
		},
	}
	router := newAdminRouter(svc, &auth.Identity{UID: "uid-1", Email: "ops@lumenmart.vn", Roles: []string{auth.RoleStaff}})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/admin/orders/ord_01:cancel", strings.NewReader(`{"reason":" khách đổi ý "}`)))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "ord_01" || captured.Actor != "ops@lumenmart.vn" || captured.Reason != "khách đổi ý" {
		t.Fatalf("unexpected cancel command %+v", captured)
	}
	var body orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Order.Status != "cancelled" || body.Order.CancelledBy != "ops@lumenmart.vn" {
		t.Fatalf("unexpected order %+v", body.Order)
	}

	// An empty body is allowed and the actor falls back without an identity.
	rr = httptest.NewRecorder()
	newAdminRouter(svc, nil).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/admin/orders/ord_02:cancel", nil))
	if rr.Code != http.StatusOK || captured.Actor != "admin" || captured.Reason != "" {
		t.Fatalf("unexpected fallback cancel: %d %+v", rr.Code, captured)
	}
}

func TestAdminOrderHandlersMapsServiceErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "invalid state", err: fmt.Errorf("%w: shipping -> cancelled", services.ErrOrderInvalidState), status: http.StatusConflict, code: "order_invalid_state"},
		{name: "not found", err: services.ErrOrderNotFound, status: http.StatusNotFound, code: "order_not_found"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubOrderService{
				cancelFn: func(context.Context, services.CancelOrderCommand) (services.Order, error) {
					return services.Order{}, tc.err
				},
				completeFn: func(context.Context, string) (services.Order, error) {
					return services.Order{}, tc.err
				},
			}
			router := newAdminRouter(svc, nil)
			for _, path := range []string{"/admin/orders/ord_01:cancel", "/admin/orders/ord_01:complete"} {
				rr := httptest.NewRecorder()
				router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, path, nil))
				if rr.Code != tc.status {
					t.Fatalf("%s: expected %d, got %d", path, tc.status, rr.Code)
				}
				var body map[string]any
				if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
					t.Fatalf("decode response: %v", err)
				}
				if body["error"] != tc.code {
					t.Fatalf("%s: expected %s, got %v", path, tc.code, body["error"])
				}
			}
		})
	}
}

func TestAdminOrderHandlersUpsert(t *testing.T) {
	var captured services.UpsertOrderCommand
	svc := &stubOrderService{
		upsertFn: func(_ context.Context, cmd services.UpsertOrderCommand) (services.Order, error) {
			captured = cmd
			return adminOrder(cmd.OrderID, domain.OrderStatusConfirmed), nil
		},
	}
	router := newAdminRouter(svc, &auth.Identity{UID: "uid-9"})

	body := `{"items":[{"product_id":"p_a","quantity":3}],"voucher_code":"","status":"CONFIRMED","shipping":{"fee":25000,"address":{"line":"1 Nguyễn Huệ"}}}`
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPut, "/admin/orders/ord_07", strings.NewReader(body)))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "ord_07" || captured.Actor != "uid-9" {
		t.Fatalf("unexpected command identity %+v", captured)
	}
	if len(captured.Items) != 1 || captured.Items[0].Quantity != 3 {
		t.Fatalf("unexpected items %+v", captured.Items)
	}
	if captured.Customer != nil || captured.Note != nil {
		t.Fatalf("expected omitted fields to stay nil, got %+v", captured)
	}
	if captured.VoucherCode == nil || *captured.VoucherCode != "" {
		t.Fatalf("expected explicit empty voucher, got %v", captured.VoucherCode)
	}
	if captured.Status == nil || *captured.Status != domain.OrderStatusConfirmed {
		t.Fatalf("expected confirmed status, got %v", captured.Status)
	}
	if captured.Shipping == nil || captured.Shipping.Fee != 25000 || captured.Shipping.Address.Line != "1 Nguyễn Huệ" {
		t.Fatalf("unexpected shipping %+v", captured.Shipping)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPut, "/admin/orders/ord_07", strings.NewReader(`{"status":"lost"}`)))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected unknown status to be rejected, got %d", rr.Code)
	}
}

func TestAdminOrderHandlersUpdateStatus(t *testing.T) {
	var captured services.UpdateStatusCommand
	svc := &stubOrderService{
		updateStatusFn: func(_ context.Context, cmd services.UpdateStatusCommand) (services.TransitionResult, error) {
			captured = cmd
			return services.TransitionResult{Order: adminOrder(cmd.OrderID, cmd.Status), Changed: true}, nil
		},
	}
	router := newAdminRouter(svc, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPut, "/admin/orders/ord_01/status", strings.NewReader(`{"status":"delivered"}`)))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if captured.Status != domain.OrderStatusDelivered || captured.OrderID != "ord_01" {
		t.Fatalf("unexpected command %+v", captured)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPut, "/admin/orders/ord_01/status", strings.NewReader(`{"status":""}`)))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestAdminOrderHandlersListAndGet(t *testing.T) {
	var params pagination.Params
	svc := &stubOrderService{
		listFn: func(_ context.Context, p pagination.Params) (pagination.Page[services.Order], error) {
			params = p
			return pagination.Page[services.Order]{
				Items:         []services.Order{adminOrder("ord_02", domain.OrderStatusPending), adminOrder("ord_01", domain.OrderStatusCompleted)},
				NextPageToken: "next",
			}, nil
		},
		getFn: func(_ context.Context, orderID string) (services.Order, error) {
			if orderID != "ord_01" {
				return services.Order{}, services.ErrOrderNotFound
			}
			return adminOrder(orderID, domain.OrderStatusCompleted), nil
		},
	}
	router := newAdminRouter(svc, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin/orders?pageSize=2", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var list orderListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if params.PageSize != 2 || len(list.Items) != 2 || list.NextPageToken != "next" || list.Items[0].ID != "ord_02" {
		t.Fatalf("unexpected list %+v (params %+v)", list, params)
	}
	if list.Items[1].Pricing.Revenue != 220000 || list.Items[1].CreatedAt != "2024-05-01T09:00:00Z" {
		t.Fatalf("unexpected list payload %+v", list.Items[1])
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin/orders?pageSize=abc", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected invalid page size to be rejected, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin/orders/ord_01", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin/orders/ord_99", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestAdminOrderHandlersDelete(t *testing.T) {
	var deleted string
	svc := &stubOrderService{
		deleteFn: func(_ context.Context, orderID string) error {
			deleted = orderID
			return nil
		},
	}
	rr := httptest.NewRecorder()
	newAdminRouter(svc, nil).ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/admin/orders/ord_05", nil))
	if rr.Code != http.StatusNoContent || deleted != "ord_05" {
		t.Fatalf("expected 204 deleting ord_05, got %d %q", rr.Code, deleted)
	}
}

package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/lumenmart/api/internal/carrier"
	domain "github.com/lumenmart/api/internal/domain"
	"github.com/lumenmart/api/internal/platform/pagination"
	"github.com/lumenmart/api/internal/repositories/memory"
)

type fakeGateway struct {
	mu        sync.Mutex
	creates   []carrier.WaybillRequest
	cancelled []string
	err       error
}

func (g *fakeGateway) CreateWaybill(_ context.Context, req carrier.WaybillRequest) (domain.Waybill, error) {
	if err := carrier.Validate(req); err != nil {
		return domain.Waybill{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return domain.Waybill{}, g.err
	}
	g.creates = append(g.creates, req)
	return domain.Waybill{
		OK:           true,
		TrackingCode: "LM" + req.OrderID,
		CarrierCode:  "S" + req.OrderID,
		Raw:          map[string]any{"label": "LM" + req.OrderID},
	}, nil
}

func (g *fakeGateway) CancelWaybill(_ context.Context, code string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelled = append(g.cancelled, code)
	return nil
}

func (g *fakeGateway) createCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.creates)
}

type orderFixture struct {
	registry *memory.Registry
	gateway  *fakeGateway
	service  OrderService
	now      time.Time
}

func fullShippingSettings() domain.ShippingSettings {
	return domain.ShippingSettings{
		SenderName:         "Lumen Mart",
		SenderPhone:        "0281234567",
		SenderAddress:      "12 Nguyen Trai",
		SenderProvinceCode: "79",
		SenderDistrictCode: "760",
		SenderCommuneCode:  "26734",
		DefaultService:     "standard",
		DefaultWeightGrams: 500,
	}
}

func newOrderFixture(t *testing.T, settings domain.ShippingSettings) *orderFixture {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	registry := memory.NewRegistry()
	if err := registry.Settings().SaveShippingSettings(ctx, settings); err != nil {
		t.Fatalf("save settings: %v", err)
	}
	if err := registry.Products().Save(ctx, domain.Product{ID: "p_a", Name: "Bình giữ nhiệt", SKU: "A", Price: 100000, Cost: 60000, WeightGrams: 400, Stock: 10}); err != nil {
		t.Fatalf("save product: %v", err)
	}
	if err := registry.Vouchers().Save(ctx, domain.Voucher{Code: "SAVE10", Type: domain.VoucherTypeCode, On: true, Off: 10, MaxDiscount: 15000, UsageLimitPerUser: 1}); err != nil {
		t.Fatalf("save voucher: %v", err)
	}

	clock := func() time.Time { return now }
	pricing, err := NewPricingService(PricingServiceDeps{Vouchers: registry.Vouchers(), Clock: clock})
	if err != nil {
		t.Fatalf("NewPricingService: %v", err)
	}
	inventory, err := NewInventoryAdjuster(InventoryAdjusterDeps{Products: registry.Products()})
	if err != nil {
		t.Fatalf("NewInventoryAdjuster: %v", err)
	}
	loyalty, err := NewLoyaltyService(LoyaltyServiceDeps{Customers: registry.Customers(), Clock: clock})
	if err != nil {
		t.Fatalf("NewLoyaltyService: %v", err)
	}

	gateway := &fakeGateway{}
	var seq int
	var seqMu sync.Mutex
	svc, err := NewOrderService(OrderServiceDeps{
		Orders:    registry.Orders(),
		Products:  registry.Products(),
		Vouchers:  registry.Vouchers(),
		Settings:  registry.Settings(),
		Outbox:    registry.Outbox(),
		Pricing:   pricing,
		Inventory: inventory,
		Loyalty:   loyalty,
		Carrier:   gateway,
		Clock:     clock,
		IDGenerator: func() string {
			seqMu.Lock()
			defer seqMu.Unlock()
			seq++
			return string(rune('A'+seq-1)) + "0001"
		},
	})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	return &orderFixture{registry: registry, gateway: gateway, service: svc, now: now}
}

func (f *orderFixture) stock(t *testing.T) int64 {
	t.Helper()
	product, err := f.registry.Products().Get(context.Background(), "p_a")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	return product.Stock
}

func checkoutCommand() CreateOrderCommand {
	return CreateOrderCommand{
		Customer: CustomerSnapshot{Name: "Nguyễn Văn A", Phone: "+84 901 234 567"},
		Items:    []LineItem{{ProductID: "p_a", Quantity: 2}},
		Shipping: ShippingInput{
			Fee: 20000,
			Address: domain.Address{
				Line:         "45 Le Loi",
				ProvinceCode: "79",
				DistrictCode: "770",
				CommuneCode:  "27000",
			},
		},
		VoucherCode: "SAVE10",
	}
}

func TestOrderServiceCreatePricesAndDeductsStock(t *testing.T) {
	f := newOrderFixture(t, fullShippingSettings())
	ctx := context.Background()

	cmd := checkoutCommand()
	cmd.Note = "<b>Giao giờ hành chính</b>"
	result, err := f.service.Create(ctx, cmd)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	order := result.Order
	if order.ID != "ord_A0001" || order.Status != domain.OrderStatusPending {
		t.Fatalf("unexpected order identity %s %s", order.ID, order.Status)
	}
	p := order.Pricing
	if p.Subtotal != 200000 || p.Discount != 15000 || p.Revenue != 205000 || p.Profit != 65000 || !p.VoucherApplied {
		t.Fatalf("unexpected pricing %+v", p)
	}
	if order.Customer.Phone != "0901234567" || order.Customer.ID != "0901234567" {
		t.Fatalf("expected normalized phone as customer id, got %+v", order.Customer)
	}
	if order.Note != "Giao giờ hành chính" {
		t.Fatalf("expected markup stripped from note, got %q", order.Note)
	}
	if order.Items[0].SKU != "A" || order.Items[0].Price != 100000 || order.Items[0].Cost != 60000 {
		t.Fatalf("expected catalog snapshot on item, got %+v", order.Items[0])
	}
	if !order.InventoryAdjusted || f.stock(t) != 8 {
		t.Fatalf("expected stock deducted to 8, got %d (adjusted=%v)", f.stock(t), order.InventoryAdjusted)
	}
	if f.gateway.createCount() != 0 || result.WaybillError != nil {
		t.Fatalf("expected no waybill without a provider")
	}

	events := f.registry.Outbox().(*memory.OutboxRepository).All()
	if len(events) != 1 || events[0].Type != orderEventCreated || events[0].OrderID != order.ID {
		t.Fatalf("expected one order.created outbox event, got %+v", events)
	}
}

func TestOrderServiceCreateReplaysIdempotencyKey(t *testing.T) {
	f := newOrderFixture(t, fullShippingSettings())
	ctx := context.Background()

	cmd := checkoutCommand()
	cmd.IdempotencyKey = "checkout-123"
	first, err := f.service.Create(ctx, cmd)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	second, err := f.service.Create(ctx, cmd)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !second.Duplicate || second.Order.ID != first.Order.ID {
		t.Fatalf("expected duplicate of %s, got %+v", first.Order.ID, second)
	}
	if f.stock(t) != 8 {
		t.Fatalf("expected stock deducted once, got %d", f.stock(t))
	}
	page, _ := f.service.List(ctx, pagination.Params{PageSize: 10})
	if len(page.Items) != 1 {
		t.Fatalf("expected one stored order, got %d", len(page.Items))
	}
}

func TestOrderServiceCreateWithProviderRequestsWaybill(t *testing.T) {
	f := newOrderFixture(t, fullShippingSettings())
	ctx := context.Background()

	cmd := checkoutCommand()
	cmd.Shipping.Provider = "ghtk"
	result, err := f.service.Create(ctx, cmd)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if result.WaybillError != nil {
		t.Fatalf("unexpected waybill error %v", result.WaybillError)
	}
	order := result.Order
	if order.Status != domain.OrderStatusProcessing || order.Shipping.TrackingCode != "LMord_A0001" || order.ConfirmedAt == nil {
		t.Fatalf("expected processing order with tracking, got %s %q", order.Status, order.Shipping.TrackingCode)
	}
	req := f.gateway.creates[0]
	if req.CODAmount != 205000 || req.DeclaredValue != 200000 || req.Weight != 800 || req.ServiceCode != "standard" {
		t.Fatalf("unexpected waybill request %+v", req)
	}
	found, err := f.registry.Orders().FindByTrackingCode(ctx, "Sord_A0001")
	if err != nil || found.ID != order.ID {
		t.Fatalf("expected carrier code indexed, got %v %v", found.ID, err)
	}
}

func TestOrderServiceWaybillValidationFailureKeepsOrderPending(t *testing.T) {
	settings := fullShippingSettings()
	settings.SenderDistrictCode = ""
	f := newOrderFixture(t, settings)
	ctx := context.Background()

	cmd := checkoutCommand()
	cmd.Shipping.Provider = "ghtk"
	result, err := f.service.Create(ctx, cmd)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	carrierErr, ok := carrier.AsError(result.WaybillError)
	if !ok || carrierErr.Code != carrier.CodeValidationFailed {
		t.Fatalf("expected VALIDATION_FAILED, got %v", result.WaybillError)
	}
	if len(carrierErr.Missing) != 1 || carrierErr.Missing[0] != "sender_district_code" {
		t.Fatalf("expected sender_district_code missing, got %v", carrierErr.Missing)
	}

	stored, err := f.service.Get(ctx, result.Order.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.Status != domain.OrderStatusPending || stored.Shipping.TrackingCode != "" {
		t.Fatalf("expected pending order without tracking, got %s %q", stored.Status, stored.Shipping.TrackingCode)
	}

	confirmed, err := f.service.Confirm(ctx, stored.ID)
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if confirmed.Order.Status != domain.OrderStatusProcessing || confirmed.WaybillError == nil {
		t.Fatalf("expected processing with waybill error, got %+v", confirmed)
	}

	if err := f.registry.Settings().SaveShippingSettings(ctx, fullShippingSettings()); err != nil {
		t.Fatalf("save settings: %v", err)
	}
	retried, err := f.service.Confirm(ctx, stored.ID)
	if err != nil {
		t.Fatalf("Confirm retry: %v", err)
	}
	if retried.WaybillError != nil || retried.Order.Shipping.TrackingCode == "" || !retried.Changed {
		t.Fatalf("expected retry to attach tracking, got %+v", retried)
	}
}

func TestOrderServiceCancelRestoresStock(t *testing.T) {
	f := newOrderFixture(t, fullShippingSettings())
	ctx := context.Background()

	created, err := f.service.Create(ctx, checkoutCommand())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if f.stock(t) != 8 {
		t.Fatalf("expected stock 8 after create, got %d", f.stock(t))
	}

	cancelled, err := f.service.Cancel(ctx, CancelOrderCommand{OrderID: created.Order.ID, Actor: "admin@lumenmart.vn", Reason: "khách đổi ý"})
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.Status != domain.OrderStatusCancelled || cancelled.CancelledAt == nil || *cancelled.CancelReason != "khách đổi ý" {
		t.Fatalf("unexpected cancelled order %+v", cancelled)
	}
	if f.stock(t) != 10 {
		t.Fatalf("expected stock restored to 10, got %d", f.stock(t))
	}

	if _, err := f.service.Cancel(ctx, CancelOrderCommand{OrderID: created.Order.ID}); err != nil {
		t.Fatalf("second cancel: %v", err)
	}
	if f.stock(t) != 10 {
		t.Fatalf("expected second cancel to leave stock at 10, got %d", f.stock(t))
	}
}

func TestOrderServiceCancelRejectedAfterShipment(t *testing.T) {
	f := newOrderFixture(t, fullShippingSettings())
	ctx := context.Background()

	cmd := checkoutCommand()
	cmd.Shipping.Provider = "ghtk"
	created, _ := f.service.Create(ctx, cmd)
	if _, err := f.service.UpdateStatus(ctx, UpdateStatusCommand{OrderID: created.Order.ID, Status: domain.OrderStatusShipping}); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if _, err := f.service.Cancel(ctx, CancelOrderCommand{OrderID: created.Order.ID}); !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
	if f.stock(t) != 8 {
		t.Fatalf("expected stock untouched, got %d", f.stock(t))
	}
}

func TestOrderServiceCancelProcessingCancelsWaybill(t *testing.T) {
	f := newOrderFixture(t, fullShippingSettings())
	ctx := context.Background()

	cmd := checkoutCommand()
	cmd.Shipping.Provider = "ghtk"
	created, _ := f.service.Create(ctx, cmd)
	if _, err := f.service.Cancel(ctx, CancelOrderCommand{OrderID: created.Order.ID}); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if len(f.gateway.cancelled) != 1 || f.gateway.cancelled[0] != created.Order.Shipping.TrackingCode {
		t.Fatalf("expected waybill cancel, got %v", f.gateway.cancelled)
	}
}

func TestOrderServiceCompleteAppliesEffectsOnce(t *testing.T) {
	f := newOrderFixture(t, fullShippingSettings())
	ctx := context.Background()

	created, err := f.service.Create(ctx, checkoutCommand())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := f.service.UpdateStatus(ctx, UpdateStatusCommand{OrderID: created.Order.ID, Status: "Delivered"}); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.service.Complete(ctx, created.Order.ID); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("Complete: %v", err)
	}

	voucher, _ := f.registry.Vouchers().FindByCode(ctx, "SAVE10")
	if voucher.UsageCount != 1 {
		t.Fatalf("expected voucher consumed once, got %d", voucher.UsageCount)
	}
	customer, err := f.registry.Customers().Get(ctx, "0901234567")
	if err != nil {
		t.Fatalf("get customer: %v", err)
	}
	if customer.Points != 205000 || customer.Tier != TierMember {
		t.Fatalf("expected 205000 points credited once, got %+v", customer)
	}
	order, _ := f.service.Get(ctx, created.Order.ID)
	if order.Status != domain.OrderStatusCompleted || !order.VoucherConsumed || !order.LoyaltyCredited || order.CompletedAt == nil {
		t.Fatalf("unexpected completed order %+v", order)
	}

	again, err := f.service.Create(ctx, checkoutCommand())
	if err != nil {
		t.Fatalf("second Create: %v", err)
	}
	if again.Order.Pricing.VoucherApplied || again.Order.Pricing.VoucherRejection != rejectPerUserLimit {
		t.Fatalf("expected per-user limit on second order, got %+v", again.Order.Pricing)
	}
	if again.Order.Pricing.Revenue != 220000 {
		t.Fatalf("expected full price without voucher, got %d", again.Order.Pricing.Revenue)
	}
}

func TestOrderServiceCompleteRequiresDelivered(t *testing.T) {
	f := newOrderFixture(t, fullShippingSettings())
	ctx := context.Background()

	created, _ := f.service.Create(ctx, checkoutCommand())
	if _, err := f.service.Complete(ctx, created.Order.ID); !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
	if _, err := f.service.Complete(ctx, "ord_missing"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestOrderServiceUpsertRepricesAndMovesStock(t *testing.T) {
	f := newOrderFixture(t, fullShippingSettings())
	ctx := context.Background()

	created, _ := f.service.Create(ctx, checkoutCommand())
	note := "gọi trước khi giao"
	status := domain.OrderStatusConfirmed
	updated, err := f.service.Upsert(ctx, UpsertOrderCommand{
		OrderID: created.Order.ID,
		Items:   []LineItem{{ProductID: "p_a", Quantity: 3}},
		Note:    &note,
		Status:  &status,
		Actor:   "admin@lumenmart.vn",
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	p := updated.Pricing
	if p.Subtotal != 300000 || p.Discount != 15000 || p.Revenue != 305000 || !p.VoucherApplied {
		t.Fatalf("expected repriced order with voucher kept, got %+v", p)
	}
	if updated.Note != note || updated.Status != domain.OrderStatusConfirmed {
		t.Fatalf("unexpected upserted order %+v", updated)
	}
	if f.stock(t) != 7 {
		t.Fatalf("expected stock 7 after editing quantity, got %d", f.stock(t))
	}
}

func TestOrderServiceUpsertCreatesMissingOrder(t *testing.T) {
	f := newOrderFixture(t, fullShippingSettings())
	ctx := context.Background()

	order, err := f.service.Upsert(ctx, UpsertOrderCommand{
		OrderID:  "ord_manual_1",
		Customer: &CustomerSnapshot{Name: "Trần B", Phone: "0912345678"},
		Items:    []LineItem{{ProductID: "p_a", Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if order.ID != "ord_manual_1" || order.SourceChannel != domain.SourceAdmin || order.Pricing.Revenue != 100000 {
		t.Fatalf("unexpected created order %+v", order)
	}
	if f.stock(t) != 9 {
		t.Fatalf("expected stock 9, got %d", f.stock(t))
	}
}

func TestOrderServiceDeleteRestoresStock(t *testing.T) {
	f := newOrderFixture(t, fullShippingSettings())
	ctx := context.Background()

	created, _ := f.service.Create(ctx, checkoutCommand())
	if err := f.service.Delete(ctx, created.Order.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if f.stock(t) != 10 {
		t.Fatalf("expected stock restored, got %d", f.stock(t))
	}
	if _, err := f.service.Get(ctx, created.Order.ID); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if err := f.service.Delete(ctx, created.Order.ID); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestOrderServiceMarketplaceOrderSkipsInventoryAndWaybill(t *testing.T) {
	f := newOrderFixture(t, fullShippingSettings())
	ctx := context.Background()

	cmd := checkoutCommand()
	cmd.SourceChannel = domain.SourceShopee
	cmd.Shipping.Provider = "ghtk"
	result, err := f.service.Create(ctx, cmd)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if f.stock(t) != 10 || result.Order.InventoryAdjusted {
		t.Fatalf("expected marketplace order to leave stock alone, got %d", f.stock(t))
	}

	confirmed, err := f.service.Confirm(ctx, result.Order.ID)
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if confirmed.Order.Status != domain.OrderStatusProcessing || confirmed.Order.HasTracking() {
		t.Fatalf("expected processing without tracking, got %+v", confirmed.Order)
	}
	if n := f.gateway.createCount(); n != 0 {
		t.Fatalf("expected no waybill for marketplace order, got %d", n)
	}
}

func TestOrderServiceValidatesInput(t *testing.T) {
	f := newOrderFixture(t, fullShippingSettings())
	ctx := context.Background()

	cases := map[string]CreateOrderCommand{
		"no items":   {Customer: CustomerSnapshot{Name: "A", Phone: "0901234567"}},
		"no phone":   {Customer: CustomerSnapshot{Name: "A"}, Items: []LineItem{{SKU: "A", Quantity: 1}}},
		"zero qty":   {Customer: CustomerSnapshot{Name: "A", Phone: "0901234567"}, Items: []LineItem{{SKU: "A"}}},
		"no product": {Customer: CustomerSnapshot{Name: "A", Phone: "0901234567"}, Items: []LineItem{{Quantity: 1}}},
	}
	for name, cmd := range cases {
		if _, err := f.service.Create(ctx, cmd); !errors.Is(err, ErrOrderInvalidInput) {
			t.Fatalf("%s: expected invalid input, got %v", name, err)
		}
	}
	if _, err := f.service.UpdateStatus(ctx, UpdateStatusCommand{OrderID: "ord_x", Status: "lost"}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected unknown status to be rejected, got %v", err)
	}
}

func TestOrderServicePreviewUsesCatalogPrices(t *testing.T) {
	f := newOrderFixture(t, fullShippingSettings())
	ctx := context.Background()

	cmd := checkoutCommand()
	cmd.Items[0].Price = 1
	quote, err := f.service.Preview(ctx, cmd)
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if quote.Subtotal != 200000 || quote.Revenue != 205000 {
		t.Fatalf("expected catalog prices, got %+v", quote)
	}

	cmd.VoucherCode = "NOPE"
	if _, err := f.service.Preview(ctx, cmd); !errors.Is(err, ErrVoucherRejected) {
		t.Fatalf("expected voucher rejection, got %v", err)
	}
	if f.stock(t) != 10 {
		t.Fatalf("expected preview to leave stock alone, got %d", f.stock(t))
	}
}

func (f *orderFixture) deliverAndComplete(t *testing.T, orderID string) Order {
	t.Helper()
	ctx := context.Background()
	if _, err := f.service.UpdateStatus(ctx, UpdateStatusCommand{OrderID: orderID, Status: domain.OrderStatusDelivered}); err != nil {
		t.Fatalf("deliver %s: %v", orderID, err)
	}
	order, err := f.service.Complete(ctx, orderID)
	if err != nil {
		t.Fatalf("complete %s: %v", orderID, err)
	}
	return order
}

func TestOrderServiceVoucherTotalLimitCountsOpenOrders(t *testing.T) {
	f := newOrderFixture(t, fullShippingSettings())
	ctx := context.Background()
	if err := f.registry.Vouchers().Save(ctx, domain.Voucher{Code: "CAP1", Type: domain.VoucherTypeCode, On: true, Off: 10, UsageLimitTotal: 1}); err != nil {
		t.Fatalf("save voucher: %v", err)
	}
	order := func(phone string) CreateOrderCommand {
		cmd := checkoutCommand()
		cmd.Customer.Phone = phone
		cmd.VoucherCode = "cap1"
		cmd.Items[0].Quantity = 1
		return cmd
	}

	first, err := f.service.Create(ctx, order("0901000001"))
	if err != nil {
		t.Fatalf("first Create: %v", err)
	}
	if !first.Order.Pricing.VoucherApplied {
		t.Fatalf("expected first order to hold the voucher, got %+v", first.Order.Pricing)
	}
	second, err := f.service.Create(ctx, order("0901000002"))
	if err != nil {
		t.Fatalf("second Create: %v", err)
	}
	if second.Order.Pricing.VoucherApplied || second.Order.Pricing.Discount != 0 || second.Order.Pricing.VoucherRejection != rejectTotalLimit {
		t.Fatalf("expected second order rejected while the first is open, got %+v", second.Order.Pricing)
	}

	if _, err := f.service.Cancel(ctx, CancelOrderCommand{OrderID: first.Order.ID}); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	third, err := f.service.Create(ctx, order("0901000003"))
	if err != nil {
		t.Fatalf("third Create: %v", err)
	}
	if !third.Order.Pricing.VoucherApplied {
		t.Fatalf("expected released slot to be reusable, got %+v", third.Order.Pricing)
	}

	f.deliverAndComplete(t, second.Order.ID)
	completed := f.deliverAndComplete(t, third.Order.ID)
	if !completed.VoucherConsumed {
		t.Fatalf("expected voucher consumed on completion, got %+v", completed)
	}
	voucher, _ := f.registry.Vouchers().FindByCode(ctx, "CAP1")
	if voucher.UsageCount != 1 || voucher.ReservedCount != 0 {
		t.Fatalf("expected usage 1 and no open reservations, got usage=%d reserved=%d", voucher.UsageCount, voucher.ReservedCount)
	}
}

func TestOrderServiceVoucherLimitUnderConcurrentCheckout(t *testing.T) {
	f := newOrderFixture(t, fullShippingSettings())
	ctx := context.Background()
	if err := f.registry.Vouchers().Save(ctx, domain.Voucher{Code: "CAP1", Type: domain.VoucherTypeCode, On: true, Off: 10, UsageLimitTotal: 1}); err != nil {
		t.Fatalf("save voucher: %v", err)
	}

	const shoppers = 8
	results := make(chan CreateOrderResult, shoppers)
	var wg sync.WaitGroup
	for i := 0; i < shoppers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cmd := checkoutCommand()
			cmd.Customer.Phone = fmt.Sprintf("09020000%02d", i)
			cmd.Items[0].Quantity = 1
			cmd.VoucherCode = "CAP1"
			result, err := f.service.Create(ctx, cmd)
			if err != nil {
				t.Errorf("Create: %v", err)
				return
			}
			results <- result
		}(i)
	}
	wg.Wait()
	close(results)

	var holders []string
	for result := range results {
		if result.Order.Pricing.VoucherApplied {
			holders = append(holders, result.Order.ID)
		}
	}
	if len(holders) != 1 {
		t.Fatalf("expected exactly one order to hold the voucher, got %v", holders)
	}
	f.deliverAndComplete(t, holders[0])
	voucher, _ := f.registry.Vouchers().FindByCode(ctx, "CAP1")
	if voucher.UsageCount != 1 || voucher.UsageCount > voucher.UsageLimitTotal {
		t.Fatalf("expected usage count 1, got %d", voucher.UsageCount)
	}
}

func TestOrderServiceVoucherPerUserLimitAcrossOpenOrders(t *testing.T) {
	f := newOrderFixture(t, fullShippingSettings())
	ctx := context.Background()

	first, err := f.service.Create(ctx, checkoutCommand())
	if err != nil {
		t.Fatalf("first Create: %v", err)
	}
	second, err := f.service.Create(ctx, checkoutCommand())
	if err != nil {
		t.Fatalf("second Create: %v", err)
	}
	if !first.Order.Pricing.VoucherApplied {
		t.Fatalf("expected first order to get the voucher, got %+v", first.Order.Pricing)
	}
	if second.Order.Pricing.VoucherApplied || second.Order.Pricing.Discount != 0 || second.Order.Pricing.VoucherRejection != rejectPerUserLimit {
		t.Fatalf("expected second open order rejected, got %+v", second.Order.Pricing)
	}

	f.deliverAndComplete(t, first.Order.ID)
	f.deliverAndComplete(t, second.Order.ID)

	voucher, _ := f.registry.Vouchers().FindByCode(ctx, "SAVE10")
	used, _ := f.registry.Vouchers().CountCustomerUsage(ctx, "SAVE10", "0901234567")
	if voucher.UsageCount != 1 || used != 1 {
		t.Fatalf("expected one recorded usage, got usage_count=%d customer=%d", voucher.UsageCount, used)
	}
}

func TestOrderServiceUpsertSwapsVoucherReservation(t *testing.T) {
	f := newOrderFixture(t, fullShippingSettings())
	ctx := context.Background()
	if err := f.registry.Vouchers().Save(ctx, domain.Voucher{Code: "CAP1", Type: domain.VoucherTypeCode, On: true, Off: 5, UsageLimitTotal: 1}); err != nil {
		t.Fatalf("save voucher: %v", err)
	}

	created, err := f.service.Create(ctx, checkoutCommand())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	code := "CAP1"
	updated, err := f.service.Upsert(ctx, UpsertOrderCommand{OrderID: created.Order.ID, VoucherCode: &code})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if !updated.Pricing.VoucherApplied || updated.Pricing.VoucherCode != "CAP1" {
		t.Fatalf("expected CAP1 applied, got %+v", updated.Pricing)
	}
	save10, _ := f.registry.Vouchers().FindByCode(ctx, "SAVE10")
	cap1, _ := f.registry.Vouchers().FindByCode(ctx, "CAP1")
	if save10.ReservedCount != 0 || cap1.ReservedCount != 1 {
		t.Fatalf("expected reservation moved, got SAVE10=%d CAP1=%d", save10.ReservedCount, cap1.ReservedCount)
	}

	other := checkoutCommand()
	other.Customer.Phone = "0903000000"
	other.VoucherCode = "CAP1"
	blocked, err := f.service.Create(ctx, other)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if blocked.Order.Pricing.VoucherApplied {
		t.Fatalf("expected CAP1 exhausted by the edited order, got %+v", blocked.Order.Pricing)
	}
}

func TestOrderServiceCancelRestoresClampedStock(t *testing.T) {
	f := newOrderFixture(t, fullShippingSettings())
	ctx := context.Background()
	if err := f.registry.Products().Save(ctx, domain.Product{ID: "p_a", Name: "Bình giữ nhiệt", SKU: "A", Price: 100000, Cost: 60000, WeightGrams: 400, Stock: 1, Sold: 4}); err != nil {
		t.Fatalf("save product: %v", err)
	}

	created, err := f.service.Create(ctx, checkoutCommand())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if f.stock(t) != 0 {
		t.Fatalf("expected stock clamped at 0, got %d", f.stock(t))
	}
	adjustments := created.Order.StockAdjustments
	if len(adjustments) != 1 || adjustments[0].StockDelta != -1 || adjustments[0].SoldDelta != 2 {
		t.Fatalf("expected applied movement recorded, got %+v", adjustments)
	}

	if _, err := f.service.Cancel(ctx, CancelOrderCommand{OrderID: created.Order.ID}); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	product, _ := f.registry.Products().Get(ctx, "p_a")
	if product.Stock != 1 || product.Sold != 4 {
		t.Fatalf("expected stock 1 sold 4 restored, got %d/%d", product.Stock, product.Sold)
	}
}

func TestOrderServiceUpsertMovesClampedStock(t *testing.T) {
	f := newOrderFixture(t, fullShippingSettings())
	ctx := context.Background()
	if err := f.registry.Products().Save(ctx, domain.Product{ID: "p_a", Name: "Bình giữ nhiệt", SKU: "A", Price: 100000, Cost: 60000, WeightGrams: 400, Stock: 1}); err != nil {
		t.Fatalf("save product: %v", err)
	}

	created, err := f.service.Create(ctx, checkoutCommand())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	updated, err := f.service.Upsert(ctx, UpsertOrderCommand{
		OrderID: created.Order.ID,
		Items:   []LineItem{{ProductID: "p_a", Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if f.stock(t) != 0 {
		t.Fatalf("expected stock 0 after editing to one unit, got %d", f.stock(t))
	}
	if len(updated.StockAdjustments) != 1 || updated.StockAdjustments[0].StockDelta != -1 {
		t.Fatalf("expected new movement recorded, got %+v", updated.StockAdjustments)
	}

	if err := f.service.Delete(ctx, created.Order.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if f.stock(t) != 1 {
		t.Fatalf("expected pre-order stock 1 after delete, got %d", f.stock(t))
	}
}

package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/lumenmart/api/internal/carrier"
	domain "github.com/lumenmart/api/internal/domain"
	"github.com/lumenmart/api/internal/platform/pagination"
	"github.com/lumenmart/api/internal/platform/textutil"
	"github.com/lumenmart/api/internal/repositories"
)

const (
	orderEventCreated       = "order.created"
	orderEventUpdated       = "order.updated"
	orderEventStatusChanged = "order.status.changed"
	orderEventDeleted       = "order.deleted"
	orderEventWaybill       = "order.waybill.created"

	orderIDPrefix = "ord_"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates an invalid status transition was attempted.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates a concurrent write could not be reconciled.
	ErrOrderConflict = errors.New("order: conflict")
)

// ShippingInput is the shipping selection supplied at checkout or by an admin.
type ShippingInput struct {
	Provider string
	Service  string
	Fee      int64
	Discount int64
	Address  domain.Address
	LengthCm int64
	WidthCm  int64
	HeightCm int64
}

// CreateOrderCommand carries everything needed to create an order.
type CreateOrderCommand struct {
	// OrderID is optional; a ULID based id is generated when empty.
	OrderID        string
	IdempotencyKey string
	Customer       CustomerSnapshot
	Items          []LineItem
	Note           string
	Shipping       ShippingInput
	VoucherCode    string
	SourceChannel  domain.SourceChannel
	ChannelOrderID string
	// SkipInventory leaves stock untouched, for orders whose stock was taken upstream.
	SkipInventory bool
	Actor         string
}

// CreateOrderResult reports the created order together with the non-fatal outcomes of its
// side effects.
type CreateOrderResult struct {
	Order     Order
	Duplicate bool
	Inventory AdjustmentReport
	// WaybillError is set when a shipping provider was selected but no waybill was created.
	WaybillError error
}

// CancelOrderCommand cancels a pre-shipment order.
type CancelOrderCommand struct {
	OrderID string
	Actor   string
	Reason  string
}

// UpsertOrderCommand replaces the editable parts of an order. Nil fields are kept.
type UpsertOrderCommand struct {
	OrderID     string
	Customer    *CustomerSnapshot
	Items       []LineItem
	Note        *string
	Shipping    *ShippingInput
	VoucherCode *string
	Status      *OrderStatus
	Actor       string
}

// UpdateStatusCommand moves an order through the transition table.
type UpdateStatusCommand struct {
	OrderID string
	Status  OrderStatus
	Actor   string
	Reason  string
}

// TransitionResult is the order after a status operation.
type TransitionResult struct {
	Order   Order
	Changed bool
	// WaybillError is set when entering processing attempted a waybill and it failed.
	WaybillError error
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders    repositories.OrderRepository
	Products  repositories.ProductRepository
	Vouchers  repositories.VoucherRepository
	Settings  repositories.SettingsRepository
	Outbox    repositories.OutboxRepository
	Records   repositories.OrderRecordRepository
	Pricing   PricingService
	Inventory InventoryAdjuster
	Loyalty   LoyaltyService
	Carrier   carrier.Gateway
	Clock     func() time.Time
	// IDGenerator produces order ids without the prefix.
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders    repositories.OrderRepository
	products  repositories.ProductRepository
	vouchers  repositories.VoucherRepository
	settings  repositories.SettingsRepository
	outbox    repositories.OutboxRepository
	records   repositories.OrderRecordRepository
	pricing   PricingService
	inventory InventoryAdjuster
	loyalty   LoyaltyService
	carrier   carrier.Gateway
	clock     func() time.Time
	newID     func() string
	logger    func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	switch {
	case deps.Orders == nil:
		return nil, errors.New("order service: order repository is required")
	case deps.Products == nil:
		return nil, errors.New("order service: product repository is required")
	case deps.Vouchers == nil:
		return nil, errors.New("order service: voucher repository is required")
	case deps.Settings == nil:
		return nil, errors.New("order service: settings repository is required")
	case deps.Pricing == nil:
		return nil, errors.New("order service: pricing service is required")
	case deps.Inventory == nil:
		return nil, errors.New("order service: inventory adjuster is required")
	case deps.Loyalty == nil:
		return nil, errors.New("order service: loyalty service is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:    deps.Orders,
		products:  deps.Products,
		vouchers:  deps.Vouchers,
		settings:  deps.Settings,
		outbox:    deps.Outbox,
		records:   deps.Records,
		pricing:   deps.Pricing,
		inventory: deps.Inventory,
		loyalty:   deps.Loyalty,
		carrier:   deps.Carrier,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// Create persists a pending order, deducts stock and, when a provider is selected, tries to
// create the waybill. Shipping failures never roll the order back.
func (s *orderService) Create(ctx context.Context, cmd CreateOrderCommand) (CreateOrderResult, error) {
	customer, err := normalizeCustomer(cmd.Customer)
	if err != nil {
		return CreateOrderResult{}, err
	}
	if err := validateOrderItems(cmd.Items); err != nil {
		return CreateOrderResult{}, err
	}

	key := strings.TrimSpace(cmd.IdempotencyKey)
	if key != "" {
		existing, err := s.orders.FindByIdempotencyKey(ctx, key)
		switch {
		case err == nil:
			return CreateOrderResult{Order: existing, Duplicate: true}, nil
		case !repositories.IsNotFound(err):
			return CreateOrderResult{}, s.mapRepoError(err)
		}
	}

	items := s.enrichItems(ctx, cmd.Items)
	quoteInput := PricingInput{
		Items:            items,
		ShippingFee:      cmd.Shipping.Fee,
		ShippingDiscount: cmd.Shipping.Discount,
		VoucherCode:      cmd.VoucherCode,
		CustomerID:       customer.ID,
	}
	pricing, err := s.pricing.Quote(ctx, quoteInput)
	if err != nil {
		return CreateOrderResult{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}

	source := cmd.SourceChannel
	if source == "" {
		source = domain.SourceStorefront
	}
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		orderID = orderIDPrefix + s.newID()
	}
	if pricing.VoucherApplied {
		if reason := s.reserveVoucher(ctx, orderID, customer.ID, pricing.VoucherCode); reason != "" {
			if pricing, err = s.quoteWithoutVoucher(ctx, quoteInput, reason); err != nil {
				return CreateOrderResult{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
			}
		}
	}
	now := s.clock()
	order := Order{
		ID:             orderID,
		Status:         domain.OrderStatusPending,
		Customer:       customer,
		Items:          items,
		Note:           textutil.StripMarkup(cmd.Note),
		Shipping:       shippingFromInput(cmd.Shipping),
		Pricing:        pricing,
		SourceChannel:  source,
		ChannelOrderID: strings.TrimSpace(cmd.ChannelOrderID),
		IdempotencyKey: key,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.orders.Insert(ctx, order); err != nil {
		if repositories.IsConflict(err) {
			existing, getErr := s.orders.Get(ctx, orderID)
			if getErr == nil {
				if !holdsVoucher(existing) {
					s.releaseVoucher(ctx, order)
				}
				return CreateOrderResult{Order: existing, Duplicate: true}, nil
			}
		}
		s.releaseVoucher(ctx, order)
		return CreateOrderResult{}, s.mapRepoError(err)
	}
	s.logger(ctx, "order.created", map[string]any{
		"orderId": order.ID,
		"source":  string(source),
		"revenue": order.Pricing.Revenue,
		"voucher": order.Pricing.VoucherCode,
	})

	result := CreateOrderResult{Order: order}
	if !cmd.SkipInventory && !source.IsMarketplace() {
		report, err := s.inventory.Adjust(ctx, items, DirectionDeduct)
		if err != nil {
			s.logger(ctx, "order.inventory.failed", map[string]any{"orderId": order.ID, "error": err.Error()})
		} else {
			result.Inventory = report
			updated, err := s.orders.Mutate(ctx, order.ID, func(o *Order) error {
				o.InventoryAdjusted = true
				o.StockAdjustments = report.StockAdjustments()
				return nil
			})
			if err != nil {
				s.logger(ctx, "order.inventory.flag_failed", map[string]any{"orderId": order.ID, "error": err.Error()})
			} else {
				order = updated
			}
		}
	}

	if order.Shipping.Provider != "" && !source.IsMarketplace() {
		updated, waybillErr := s.requestWaybill(ctx, order)
		order = updated
		result.WaybillError = waybillErr
	}

	result.Order = order
	s.mirror(ctx, order)
	s.enqueue(ctx, orderEventCreated, order, map[string]any{"actor": cmd.Actor})
	return result, nil
}

func (s *orderService) Preview(ctx context.Context, cmd CreateOrderCommand) (PricingBreakdown, error) {
	if err := validateOrderItems(cmd.Items); err != nil {
		return PricingBreakdown{}, err
	}
	customerID := strings.TrimSpace(cmd.Customer.ID)
	if customerID == "" {
		customerID = textutil.NormalizePhone(cmd.Customer.Phone)
	}
	return s.pricing.Preview(ctx, PricingInput{
		Items:            s.enrichItems(ctx, cmd.Items),
		ShippingFee:      cmd.Shipping.Fee,
		ShippingDiscount: cmd.Shipping.Discount,
		VoucherCode:      cmd.VoucherCode,
		CustomerID:       customerID,
	})
}

// Confirm moves the order into processing and requests a waybill when none exists. Calling
// it again on a processing order without tracking retries the waybill.
func (s *orderService) Confirm(ctx context.Context, orderID string) (TransitionResult, error) {
	order, err := s.Get(ctx, orderID)
	if err != nil {
		return TransitionResult{}, err
	}
	if order.Status == domain.OrderStatusProcessing {
		if order.HasTracking() || order.SourceChannel.IsMarketplace() {
			return TransitionResult{Order: order}, nil
		}
		updated, waybillErr := s.requestWaybill(ctx, order)
		if waybillErr == nil {
			s.mirror(ctx, updated)
		}
		return TransitionResult{Order: updated, Changed: updated.HasTracking(), WaybillError: waybillErr}, nil
	}
	return s.transition(ctx, orderID, domain.OrderStatusProcessing, transitionOptions{strict: true})
}

// Cancel is only allowed before shipment. Cancelling a cancelled order is a no-op.
func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	result, err := s.transition(ctx, orderID, domain.OrderStatusCancelled, transitionOptions{
		strict: true,
		actor:  cmd.Actor,
		reason: cmd.Reason,
		guard: func(o Order) error {
			if !o.Status.IsPreShipment() {
				return fmt.Errorf("%w: cannot cancel order in status %s", ErrOrderInvalidState, o.Status)
			}
			return nil
		},
	})
	return result.Order, err
}

// Complete finalizes a delivered order. The voucher is consumed and loyalty credited only on
// the first transition into completed.
func (s *orderService) Complete(ctx context.Context, orderID string) (Order, error) {
	result, err := s.transition(ctx, orderID, domain.OrderStatusCompleted, transitionOptions{strict: true})
	return result.Order, err
}

// Delete restores stock held by the order, cancels its waybill and removes every copy.
func (s *orderService) Delete(ctx context.Context, orderID string) error {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	var restore bool
	order, err := s.orders.Mutate(ctx, orderID, func(o *Order) error {
		restore = o.InventoryAdjusted
		if !restore {
			return repositories.ErrSkipWrite
		}
		o.InventoryAdjusted = false
		o.UpdatedAt = s.clock()
		return nil
	})
	if err != nil {
		return s.mapRepoError(err)
	}

	if restore {
		s.restoreStock(ctx, order)
	}
	s.releaseVoucher(ctx, order)
	if order.HasTracking() {
		s.cancelWaybill(ctx, order)
	}
	if err := s.orders.Delete(ctx, orderID); err != nil {
		return s.mapRepoError(err)
	}
	if s.records != nil {
		if err := s.records.Delete(ctx, orderID); err != nil {
			s.logger(ctx, "order.mirror.delete_failed", map[string]any{"orderId": orderID, "error": err.Error()})
		}
	}
	s.logger(ctx, "order.deleted", map[string]any{"orderId": orderID, "restored": restore})
	s.enqueue(ctx, orderEventDeleted, order, nil)
	return nil
}

// Upsert creates the order when missing, otherwise replaces its editable fields and moves
// stock by the difference between the old and new items.
func (s *orderService) Upsert(ctx context.Context, cmd UpsertOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	if _, err := s.orders.Get(ctx, orderID); err != nil {
		if !repositories.IsNotFound(err) {
			return Order{}, s.mapRepoError(err)
		}
		return s.createFromUpsert(ctx, cmd)
	}

	if cmd.Items != nil {
		if err := validateOrderItems(cmd.Items); err != nil {
			return Order{}, err
		}
	}
	var newCustomer CustomerSnapshot
	if cmd.Customer != nil {
		normalized, err := normalizeCustomer(*cmd.Customer)
		if err != nil {
			return Order{}, err
		}
		newCustomer = normalized
	}
	var newItems []LineItem
	if cmd.Items != nil {
		newItems = s.enrichItems(ctx, cmd.Items)
	}

	var (
		oldItems       []LineItem
		oldAdjustments []StockAdjustment
		oldPricing     PricingBreakdown
		moveInventory  bool
	)
	updated, err := s.orders.Mutate(ctx, orderID, func(o *Order) error {
		oldItems = append([]LineItem(nil), o.Items...)
		oldAdjustments = append([]StockAdjustment(nil), o.StockAdjustments...)
		oldPricing = o.Pricing
		moveInventory = false

		if cmd.Customer != nil {
			o.Customer = newCustomer
		}
		if cmd.Note != nil {
			o.Note = textutil.StripMarkup(*cmd.Note)
		}
		shippingDiscount := o.Pricing.ShippingDiscount
		if cmd.Shipping != nil {
			tracking := o.Shipping
			o.Shipping = shippingFromInput(*cmd.Shipping)
			o.Shipping.TrackingCode = tracking.TrackingCode
			o.Shipping.CarrierCode = tracking.CarrierCode
			o.Shipping.CarrierOrderID = tracking.CarrierOrderID
			o.Shipping.LegacyWaybillCode = tracking.LegacyWaybillCode
			o.Shipping.Raw = tracking.Raw
			shippingDiscount = cmd.Shipping.Discount
		}
		if cmd.Items != nil {
			o.Items = append([]LineItem(nil), newItems...)
			moveInventory = o.InventoryAdjusted
		}

		code := o.Pricing.VoucherCode
		if cmd.VoucherCode != nil {
			code = *cmd.VoucherCode
		}
		reserved := o.Pricing.VoucherApplied && normalizeVoucherCode(code) == o.Pricing.VoucherCode
		pricing, err := s.pricing.Quote(ctx, PricingInput{
			Items:            o.Items,
			ShippingFee:      o.Shipping.Fee,
			ShippingDiscount: shippingDiscount,
			VoucherCode:      code,
			CustomerID:       o.Customer.ID,
			Reserved:         reserved,
		})
		if err != nil {
			return fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
		}
		if o.VoucherConsumed && !pricing.VoucherApplied {
			return fmt.Errorf("%w: voucher %s was already consumed by this order", ErrOrderInvalidState, o.Pricing.VoucherCode)
		}
		o.Pricing = pricing
		o.UpdatedAt = s.clock()
		return nil
	})
	if err != nil {
		return Order{}, s.mapRepoError(err)
	}

	if updated, err = s.moveVoucher(ctx, oldPricing, updated); err != nil {
		return Order{}, s.mapRepoError(err)
	}
	if moveInventory {
		s.restoreStock(ctx, Order{ID: orderID, Items: oldItems, StockAdjustments: oldAdjustments})
		report, adjustErr := s.inventory.Adjust(ctx, updated.Items, DirectionDeduct)
		if adjustErr != nil {
			s.logger(ctx, "order.inventory.failed", map[string]any{"orderId": orderID, "error": adjustErr.Error()})
		}
		recorded, err := s.orders.Mutate(ctx, orderID, func(o *Order) error {
			o.InventoryAdjusted = adjustErr == nil
			o.StockAdjustments = report.StockAdjustments()
			return nil
		})
		if err != nil {
			s.logger(ctx, "order.inventory.flag_failed", map[string]any{"orderId": orderID, "error": err.Error()})
		} else {
			updated = recorded
		}
	}
	s.mirror(ctx, updated)
	s.enqueue(ctx, orderEventUpdated, updated, map[string]any{"actor": cmd.Actor})

	if cmd.Status != nil && *cmd.Status != updated.Status {
		result, err := s.UpdateStatus(ctx, UpdateStatusCommand{OrderID: orderID, Status: *cmd.Status, Actor: cmd.Actor})
		if err != nil {
			return updated, err
		}
		updated = result.Order
	}
	return updated, nil
}

// moveVoucher releases the slot of a voucher the edit dropped and reserves the one it added.
// A voucher that cannot be reserved is removed from the pricing again.
func (s *orderService) moveVoucher(ctx context.Context, before PricingBreakdown, order Order) (Order, error) {
	after := order.Pricing
	kept := before.VoucherApplied && after.VoucherApplied && before.VoucherCode == after.VoucherCode
	if kept || order.VoucherConsumed {
		return order, nil
	}
	if before.VoucherApplied {
		s.releaseVoucher(ctx, Order{ID: order.ID, Pricing: before})
	}
	if !after.VoucherApplied {
		return order, nil
	}
	reason := s.reserveVoucher(ctx, order.ID, order.Customer.ID, after.VoucherCode)
	if reason == "" {
		return order, nil
	}
	return s.orders.Mutate(ctx, order.ID, func(o *Order) error {
		pricing, err := s.quoteWithoutVoucher(ctx, PricingInput{
			Items:       o.Items,
			ShippingFee: o.Shipping.Fee,
			VoucherCode: o.Pricing.VoucherCode,
			CustomerID:  o.Customer.ID,
		}, reason)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
		}
		o.Pricing = pricing
		o.UpdatedAt = s.clock()
		return nil
	})
}

func (s *orderService) createFromUpsert(ctx context.Context, cmd UpsertOrderCommand) (Order, error) {
	create := CreateOrderCommand{
		OrderID:       cmd.OrderID,
		Items:         cmd.Items,
		SourceChannel: domain.SourceAdmin,
		Actor:         cmd.Actor,
	}
	if cmd.Customer != nil {
		create.Customer = *cmd.Customer
	}
	if cmd.Note != nil {
		create.Note = *cmd.Note
	}
	if cmd.Shipping != nil {
		create.Shipping = *cmd.Shipping
	}
	if cmd.VoucherCode != nil {
		create.VoucherCode = *cmd.VoucherCode
	}
	result, err := s.Create(ctx, create)
	if err != nil {
		return Order{}, err
	}
	order := result.Order
	if cmd.Status != nil && *cmd.Status != order.Status {
		transition, err := s.UpdateStatus(ctx, UpdateStatusCommand{OrderID: order.ID, Status: *cmd.Status, Actor: cmd.Actor})
		if err != nil {
			return order, err
		}
		order = transition.Order
	}
	return order, nil
}

// UpdateStatus applies an admin status change through the transition table.
func (s *orderService) UpdateStatus(ctx context.Context, cmd UpdateStatusCommand) (TransitionResult, error) {
	status, ok := domain.ParseOrderStatus(string(cmd.Status))
	if !ok {
		return TransitionResult{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.Status)
	}
	return s.transition(ctx, strings.TrimSpace(cmd.OrderID), status, transitionOptions{
		strict: true,
		actor:  cmd.Actor,
		reason: cmd.Reason,
	})
}

// ApplyCarrierStatus moves the order only when the status differs and the table allows it.
func (s *orderService) ApplyCarrierStatus(ctx context.Context, orderID string, status OrderStatus) (Order, bool, error) {
	result, err := s.transition(ctx, orderID, status, transitionOptions{actor: "carrier"})
	return result.Order, result.Changed, err
}

func (s *orderService) Get(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepoError(err)
	}
	return order, nil
}

func (s *orderService) List(ctx context.Context, page pagination.Params) (pagination.Page[Order], error) {
	result, err := s.orders.List(ctx, page)
	if err != nil {
		return pagination.Page[Order]{}, s.mapRepoError(err)
	}
	return result, nil
}

// enrichItems copies authoritative price, cost and weight from the catalog. Items whose
// product is unknown keep the values supplied by the caller.
func (s *orderService) enrichItems(ctx context.Context, items []LineItem) []LineItem {
	enriched := make([]LineItem, len(items))
	for i, item := range items {
		item.ProductID = strings.TrimSpace(item.ProductID)
		item.VariantID = strings.TrimSpace(item.VariantID)
		item.SKU = strings.TrimSpace(item.SKU)
		item.Name = strings.TrimSpace(item.Name)
		item.VariantName = strings.TrimSpace(item.VariantName)
		enriched[i] = item
		if item.ProductID == "" {
			continue
		}
		product, err := s.products.Get(ctx, item.ProductID)
		if err != nil {
			if !repositories.IsNotFound(err) {
				s.logger(ctx, "order.catalog.lookup_failed", map[string]any{"productId": item.ProductID, "error": err.Error()})
			}
			continue
		}
		if item.Name == "" {
			item.Name = product.Name
		}
		if idx := ResolveVariant(item, product); idx >= 0 {
			v := product.Variants[idx]
			item.VariantID = v.ID
			item.SKU = firstNonEmptyString(v.SKU, item.SKU)
			item.VariantName = firstNonEmptyString(v.Name, item.VariantName)
			item.Price = firstPositive(v.Price, product.Price, item.Price)
			item.Cost = firstPositive(v.Cost, product.Cost, item.Cost)
			item.WeightGrams = firstPositive(v.WeightGrams, product.WeightGrams, item.WeightGrams)
		} else if len(product.Variants) == 0 {
			item.SKU = firstNonEmptyString(product.SKU, item.SKU)
			item.Price = firstPositive(product.Price, item.Price)
			item.Cost = firstPositive(product.Cost, item.Cost)
			item.WeightGrams = firstPositive(product.WeightGrams, item.WeightGrams)
		}
		enriched[i] = item
	}
	return enriched
}

func (s *orderService) mirror(ctx context.Context, order Order) {
	if s.records == nil {
		return
	}
	if err := s.records.Upsert(ctx, order); err != nil {
		s.logger(ctx, "order.mirror.failed", map[string]any{"orderId": order.ID, "error": err.Error()})
	}
}

func (s *orderService) enqueue(ctx context.Context, eventType string, order Order, extra map[string]any) {
	if s.outbox == nil {
		return
	}
	payload := map[string]any{
		"status":        string(order.Status),
		"revenue":       order.Pricing.Revenue,
		"sourceChannel": string(order.SourceChannel),
	}
	if order.Shipping.TrackingCode != "" {
		payload["trackingCode"] = order.Shipping.TrackingCode
	}
	for k, v := range extra {
		if v != nil && v != "" {
			payload[k] = v
		}
	}
	event := domain.OutboxEvent{
		ID:        "evt_" + s.newID(),
		Type:      eventType,
		OrderID:   order.ID,
		Payload:   payload,
		CreatedAt: s.clock(),
	}
	if err := s.outbox.Enqueue(ctx, event); err != nil {
		s.logger(ctx, "order.outbox.enqueue_failed", map[string]any{"orderId": order.ID, "type": eventType, "error": err.Error()})
	}
}

func (s *orderService) mapRepoError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrOrderInvalidInput) || errors.Is(err, ErrOrderInvalidState) || errors.Is(err, ErrOrderNotFound) {
		return err
	}
	switch {
	case repositories.IsNotFound(err):
		return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
	case repositories.IsConflict(err):
		return fmt.Errorf("%w: %v", ErrOrderConflict, err)
	}
	return err
}

func normalizeCustomer(in CustomerSnapshot) (CustomerSnapshot, error) {
	out := CustomerSnapshot{
		ID:    strings.TrimSpace(in.ID),
		Name:  strings.TrimSpace(in.Name),
		Phone: textutil.NormalizePhone(in.Phone),
		Email: strings.ToLower(strings.TrimSpace(in.Email)),
	}
	var missing []string
	if out.Name == "" {
		missing = append(missing, "customer.name")
	}
	if out.Phone == "" {
		missing = append(missing, "customer.phone")
	}
	if len(missing) > 0 {
		return CustomerSnapshot{}, fmt.Errorf("%w: %s required", ErrOrderInvalidInput, strings.Join(missing, ", "))
	}
	if out.ID == "" {
		out.ID = out.Phone
	}
	return out, nil
}

func validateOrderItems(items []LineItem) error {
	if len(items) == 0 {
		return fmt.Errorf("%w: at least one item is required", ErrOrderInvalidInput)
	}
	for i, item := range items {
		if item.Quantity < 1 {
			return fmt.Errorf("%w: items[%d].quantity must be at least 1", ErrOrderInvalidInput, i)
		}
		if strings.TrimSpace(item.ProductID) == "" && strings.TrimSpace(item.SKU) == "" && strings.TrimSpace(item.Name) == "" {
			return fmt.Errorf("%w: items[%d] needs a product id, sku or name", ErrOrderInvalidInput, i)
		}
		if item.Price < 0 || item.Cost < 0 {
			return fmt.Errorf("%w: items[%d] price and cost must not be negative", ErrOrderInvalidInput, i)
		}
	}
	return nil
}

func shippingFromInput(in ShippingInput) ShippingInfo {
	return ShippingInfo{
		Provider: strings.TrimSpace(in.Provider),
		Service:  strings.TrimSpace(in.Service),
		Fee:      max(in.Fee, 0),
		Address:  in.Address,
		LengthCm: max(in.LengthCm, 0),
		WidthCm:  max(in.WidthCm, 0),
		HeightCm: max(in.HeightCm, 0),
	}
}

func firstNonEmptyString(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func firstPositive(values ...int64) int64 {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lumenmart/api/internal/channels"
	domain "github.com/lumenmart/api/internal/domain"
)

var (
	// ErrChannelInvalidInput signals an unknown channel or an empty batch.
	ErrChannelInvalidInput = errors.New("channel import: invalid input")
	// ErrChannelNotConfigured signals a pull sync for a marketplace without credentials.
	ErrChannelNotConfigured = errors.New("channel import: channel not configured")
)

// ImportFailure describes one marketplace order that could not be imported.
type ImportFailure struct {
	OrderSN string
	Reason  string
}

// ImportResult summarizes an import batch.
type ImportResult struct {
	BatchID    string
	Channel    domain.SourceChannel
	Created    []string
	Duplicates []string
	Failed     []ImportFailure
}

// ChannelImporterDeps bundles collaborators required to construct the importer.
type ChannelImporterDeps struct {
	Orders      OrderService
	Adapters    channels.Adapters
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type channelImporter struct {
	orders   OrderService
	adapters channels.Adapters
	newID    func() string
	logger   func(context.Context, string, map[string]any)
}

// NewChannelImporter wires dependencies into a concrete ChannelImporter implementation.
func NewChannelImporter(deps ChannelImporterDeps) (ChannelImporter, error) {
	if deps.Orders == nil {
		return nil, errors.New("channel importer: order service is required")
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = uuid.NewString
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &channelImporter{orders: deps.Orders, adapters: deps.Adapters, newID: idGen, logger: logger}, nil
}

// Import creates one order per marketplace order. Stock is never touched and re-imports of
// the same order are reported as duplicates.
func (c *channelImporter) Import(ctx context.Context, channel domain.SourceChannel, orders []channels.Order) (ImportResult, error) {
	if !channel.IsMarketplace() {
		return ImportResult{}, fmt.Errorf("%w: unsupported channel %q", ErrChannelInvalidInput, channel)
	}
	result := ImportResult{BatchID: c.newID(), Channel: channel}
	for _, incoming := range orders {
		sn := strings.TrimSpace(incoming.OrderSN)
		if sn == "" {
			result.Failed = append(result.Failed, ImportFailure{Reason: "order_sn is required"})
			continue
		}
		created, err := c.orders.Create(ctx, channelOrderCommand(channel, sn, incoming))
		switch {
		case err != nil:
			result.Failed = append(result.Failed, ImportFailure{OrderSN: sn, Reason: err.Error()})
		case created.Duplicate:
			result.Duplicates = append(result.Duplicates, sn)
		default:
			result.Created = append(result.Created, sn)
		}
	}
	c.logger(ctx, "channel.import.completed", map[string]any{
		"batchId":    result.BatchID,
		"channel":    string(channel),
		"created":    len(result.Created),
		"duplicates": len(result.Duplicates),
		"failed":     len(result.Failed),
	})
	return result, nil
}

// Sync pulls orders created since the given time through the channel adapter and imports them.
func (c *channelImporter) Sync(ctx context.Context, channel domain.SourceChannel, since time.Time) (ImportResult, error) {
	adapter, ok := c.adapters.Lookup(channel)
	if !ok {
		return ImportResult{}, fmt.Errorf("%w: %s", ErrChannelNotConfigured, channel)
	}
	orders, err := adapter.FetchOrders(ctx, since)
	if err != nil {
		c.logger(ctx, "channel.sync.failed", map[string]any{"channel": string(channel), "error": err.Error()})
		return ImportResult{}, err
	}
	return c.Import(ctx, channel, orders)
}

func channelOrderCommand(channel domain.SourceChannel, sn string, in channels.Order) CreateOrderCommand {
	items := make([]LineItem, 0, len(in.Items))
	for _, item := range in.Items {
		items = append(items, LineItem{
			SKU:         strings.TrimSpace(item.SKU),
			Name:        strings.TrimSpace(item.Name),
			VariantName: strings.TrimSpace(item.VariantName),
			Quantity:    item.Quantity,
			Price:       channels.Amount(item.Price),
		})
	}
	return CreateOrderCommand{
		OrderID:        channelOrderID(channel, sn),
		IdempotencyKey: fmt.Sprintf("channel:%s:%s", channel, sn),
		Customer: CustomerSnapshot{
			Name:  in.BuyerName,
			Phone: in.BuyerPhone,
			Email: in.BuyerEmail,
		},
		Items: items,
		Note:  in.Note,
		Shipping: ShippingInput{
			Fee: channels.Amount(in.ShippingFee),
			Address: domain.Address{
				Line:         in.Address,
				ProvinceName: in.ProvinceName,
				DistrictName: in.DistrictName,
				CommuneName:  in.CommuneName,
			},
		},
		SourceChannel:  channel,
		ChannelOrderID: sn,
		SkipInventory:  true,
		Actor:          "channel:" + string(channel),
	}
}

// channelOrderID derives a stable document id so concurrent imports of one order collide.
func channelOrderID(channel domain.SourceChannel, sn string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, sn)
	return string(channel) + "_" + safe
}

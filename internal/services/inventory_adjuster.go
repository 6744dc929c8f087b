package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lumenmart/api/internal/platform/textutil"
	"github.com/lumenmart/api/internal/repositories"
)

var (
	// ErrInventoryInvalidInput signals an unsupported adjustment direction.
	ErrInventoryInvalidInput = errors.New("inventory: invalid input")
)

const (
	DirectionDeduct  = -1
	DirectionRestore = 1

	missNoProduct = "product_not_found"
	missNoVariant = "variant_not_matched"
	missStoreFail = "store_error"
)

// VariantMatcher returns the index of the variant an item refers to, or -1.
type VariantMatcher func(item LineItem, product Product) int

// DefaultVariantMatchers is the resolution order: exact variant id, exact sku, then
// normalized name containment.
var DefaultVariantMatchers = []VariantMatcher{MatchVariantID, MatchSKU, MatchNormalizedName}

// ResolveVariant applies matchers in order and returns the first hit.
func ResolveVariant(item LineItem, product Product, matchers ...VariantMatcher) int {
	if len(matchers) == 0 {
		matchers = DefaultVariantMatchers
	}
	for _, match := range matchers {
		if idx := match(item, product); idx >= 0 {
			return idx
		}
	}
	return -1
}

// MatchVariantID matches the item's variant id exactly.
func MatchVariantID(item LineItem, product Product) int {
	id := strings.TrimSpace(item.VariantID)
	if id == "" {
		return -1
	}
	return product.FindVariant(id)
}

// MatchSKU matches the item's sku exactly, ignoring case.
func MatchSKU(item LineItem, product Product) int {
	sku := strings.TrimSpace(item.SKU)
	if sku == "" {
		return -1
	}
	for i, v := range product.Variants {
		if strings.EqualFold(strings.TrimSpace(v.SKU), sku) {
			return i
		}
	}
	return -1
}

// MatchNormalizedName compares the item's free-text names with each variant's composed name
// after folding diacritics and punctuation. Containment in either direction counts and the
// most specific item text is tried first.
func MatchNormalizedName(item LineItem, product Product) int {
	candidates := []string{
		textutil.NormalizeName(item.Name + " " + item.VariantName),
		textutil.NormalizeName(item.VariantName),
	}
	if item.VariantName == "" {
		candidates = candidates[:1]
	}
	for _, candidate := range candidates {
		if candidate == "" {
			continue
		}
		for i, v := range product.Variants {
			composed := textutil.NormalizeName(product.ComposedName(v))
			label := textutil.NormalizeName(strings.Join(append([]string{v.Name}, v.Options...), " "))
			if containsEither(composed, candidate) || containsEither(label, candidate) {
				return i
			}
		}
	}
	return -1
}

func containsEither(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

// AdjustedLine records one applied stock movement. The deltas are what actually changed
// after clamping at zero, which may be less than the requested quantity.
type AdjustedLine struct {
	ProductID  string
	VariantID  string
	Quantity   int
	Stock      int64
	Sold       int64
	StockDelta int64
	SoldDelta  int64
}

// MissedLine records an item that could not be applied.
type MissedLine struct {
	ProductID string
	SKU       string
	Name      string
	Reason    string
}

// AdjustmentReport lists what an Adjust call did.
type AdjustmentReport struct {
	Applied []AdjustedLine
	Missed  []MissedLine
}

// StockAdjustments returns the applied movements in the form stored on the order.
func (r AdjustmentReport) StockAdjustments() []StockAdjustment {
	if len(r.Applied) == 0 {
		return nil
	}
	out := make([]StockAdjustment, 0, len(r.Applied))
	for _, line := range r.Applied {
		if line.StockDelta == 0 && line.SoldDelta == 0 {
			continue
		}
		out = append(out, StockAdjustment{
			ProductID:  line.ProductID,
			VariantID:  line.VariantID,
			StockDelta: line.StockDelta,
			SoldDelta:  line.SoldDelta,
		})
	}
	return out
}

// InventoryAdjusterDeps bundles collaborators required to construct the adjuster.
type InventoryAdjusterDeps struct {
	Products repositories.ProductRepository
	Matchers []VariantMatcher
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type inventoryAdjuster struct {
	products repositories.ProductRepository
	matchers []VariantMatcher
	logger   func(context.Context, string, map[string]any)
}

// NewInventoryAdjuster wires dependencies into a concrete InventoryAdjuster implementation.
func NewInventoryAdjuster(deps InventoryAdjusterDeps) (InventoryAdjuster, error) {
	if deps.Products == nil {
		return nil, errors.New("inventory adjuster: product repository is required")
	}
	matchers := deps.Matchers
	if len(matchers) == 0 {
		matchers = DefaultVariantMatchers
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &inventoryAdjuster{products: deps.Products, matchers: matchers, logger: logger}, nil
}

// Adjust applies qty*direction to each item's stock through the product repository's
// serialized update. Items that cannot be resolved are skipped and reported.
func (a *inventoryAdjuster) Adjust(ctx context.Context, items []LineItem, direction int) (AdjustmentReport, error) {
	if direction != DirectionDeduct && direction != DirectionRestore {
		return AdjustmentReport{}, fmt.Errorf("%w: direction must be -1 or 1, got %d", ErrInventoryInvalidInput, direction)
	}

	var report AdjustmentReport
	for _, item := range items {
		if item.Quantity <= 0 {
			continue
		}
		productID := strings.TrimSpace(item.ProductID)
		if productID == "" {
			report.Missed = append(report.Missed, a.miss(ctx, item, missNoProduct))
			continue
		}

		var applied AdjustedLine
		matched := false
		_, err := a.products.Mutate(ctx, productID, func(product *Product) error {
			matched = false
			delta := int64(item.Quantity) * int64(direction)
			if len(product.Variants) == 0 {
				applied = moveStock(&product.Stock, &product.Sold, delta, -delta)
				applied.ProductID = product.ID
				applied.Quantity = item.Quantity
				matched = true
				return nil
			}
			idx := ResolveVariant(item, *product, a.matchers...)
			if idx < 0 {
				return repositories.ErrSkipWrite
			}
			v := &product.Variants[idx]
			applied = moveStock(&v.Stock, &v.Sold, delta, -delta)
			applied.ProductID = product.ID
			applied.VariantID = v.ID
			applied.Quantity = item.Quantity
			matched = true
			return nil
		})
		switch {
		case err != nil && repositories.IsNotFound(err):
			report.Missed = append(report.Missed, a.miss(ctx, item, missNoProduct))
		case err != nil:
			a.logger(ctx, "inventory.adjust.failed", map[string]any{"productId": productID, "error": err.Error()})
			report.Missed = append(report.Missed, a.miss(ctx, item, missStoreFail))
		case !matched:
			report.Missed = append(report.Missed, a.miss(ctx, item, missNoVariant))
		default:
			report.Applied = append(report.Applied, applied)
		}
	}
	return report, nil
}

// Revert undoes recorded movements by product and variant id, without re-resolving
// variants, so a restore returns exactly what the deduction took.
func (a *inventoryAdjuster) Revert(ctx context.Context, adjustments []StockAdjustment) (AdjustmentReport, error) {
	var report AdjustmentReport
	for _, adj := range adjustments {
		if adj.StockDelta == 0 && adj.SoldDelta == 0 {
			continue
		}
		ref := LineItem{ProductID: adj.ProductID, VariantID: adj.VariantID}
		productID := strings.TrimSpace(adj.ProductID)
		if productID == "" {
			report.Missed = append(report.Missed, a.miss(ctx, ref, missNoProduct))
			continue
		}

		var applied AdjustedLine
		matched := false
		_, err := a.products.Mutate(ctx, productID, func(product *Product) error {
			matched = false
			stock, sold := &product.Stock, &product.Sold
			if adj.VariantID != "" {
				idx := product.FindVariant(adj.VariantID)
				if idx < 0 {
					return repositories.ErrSkipWrite
				}
				stock, sold = &product.Variants[idx].Stock, &product.Variants[idx].Sold
			}
			applied = moveStock(stock, sold, -adj.StockDelta, -adj.SoldDelta)
			applied.ProductID = product.ID
			applied.VariantID = adj.VariantID
			applied.Quantity = int(max(adj.SoldDelta, -adj.SoldDelta))
			matched = true
			return nil
		})
		switch {
		case err != nil && repositories.IsNotFound(err):
			report.Missed = append(report.Missed, a.miss(ctx, ref, missNoProduct))
		case err != nil:
			a.logger(ctx, "inventory.revert.failed", map[string]any{"productId": productID, "error": err.Error()})
			report.Missed = append(report.Missed, a.miss(ctx, ref, missStoreFail))
		case !matched:
			report.Missed = append(report.Missed, a.miss(ctx, ref, missNoVariant))
		default:
			report.Applied = append(report.Applied, applied)
		}
	}
	return report, nil
}

// moveStock applies the deltas, clamping both counters at zero, and reports what changed.
func moveStock(stock, sold *int64, stockDelta, soldDelta int64) AdjustedLine {
	beforeStock, beforeSold := *stock, *sold
	*stock = max(0, *stock+stockDelta)
	*sold = max(0, *sold+soldDelta)
	return AdjustedLine{
		Stock:      *stock,
		Sold:       *sold,
		StockDelta: *stock - beforeStock,
		SoldDelta:  *sold - beforeSold,
	}
}

func (a *inventoryAdjuster) miss(ctx context.Context, item LineItem, reason string) MissedLine {
	a.logger(ctx, "inventory.adjust.skipped", map[string]any{
		"productId": item.ProductID,
		"variantId": item.VariantID,
		"sku":       item.SKU,
		"name":      item.Name,
		"reason":    reason,
	})
	return MissedLine{ProductID: item.ProductID, SKU: item.SKU, Name: item.Name, Reason: reason}
}

package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	domain "github.com/lumenmart/api/internal/domain"
	"github.com/lumenmart/api/internal/repositories/memory"
)

func teeProduct() domain.Product {
	return domain.Product{
		ID:   "p_tee",
		Name: "Áo thun",
		Variants: []domain.Variant{
			{ID: "v_red_m", SKU: "TEE-RED-M", Name: "Đỏ", Options: []string{"M"}, Stock: 5},
			{ID: "v_red_l", SKU: "TEE-RED-L", Name: "Đỏ", Options: []string{"L"}, Stock: 5},
			{ID: "v_blue_l", SKU: "TEE-BLUE-L", Name: "Xanh dương", Options: []string{"L"}, Stock: 1},
		},
	}
}

func TestResolveVariantAppliesMatchersInOrder(t *testing.T) {
	product := teeProduct()
	cases := []struct {
		name string
		item LineItem
		want int
	}{
		{name: "variant id wins over sku", item: LineItem{VariantID: "v_blue_l", SKU: "TEE-RED-M"}, want: 2},
		{name: "sku ignores case", item: LineItem{SKU: "tee-red-l"}, want: 1},
		{name: "folded composed name", item: LineItem{Name: "ao thun", VariantName: "DO - L"}, want: 1},
		{name: "variant label only", item: LineItem{Name: "Tee", VariantName: "xanh duong, L"}, want: 2},
		{name: "unknown", item: LineItem{SKU: "NOPE", Name: "Quần"}, want: -1},
	}
	for _, tc := range cases {
		if got := ResolveVariant(tc.item, product); got != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.want, got)
		}
	}

	skuOnly := ResolveVariant(LineItem{VariantID: "v_red_m", SKU: "TEE-BLUE-L"}, product, MatchSKU)
	if skuOnly != 2 {
		t.Fatalf("expected custom matcher list to be honoured, got %d", skuOnly)
	}
}

func TestInventoryAdjusterDeductAndRestore(t *testing.T) {
	ctx := context.Background()
	products := memory.NewProductRepository()
	_ = products.Save(ctx, teeProduct())
	_ = products.Save(ctx, domain.Product{ID: "p_mug", Name: "Cốc", Stock: 3})

	adjuster, err := NewInventoryAdjuster(InventoryAdjusterDeps{Products: products})
	if err != nil {
		t.Fatalf("NewInventoryAdjuster: %v", err)
	}

	items := []LineItem{
		{ProductID: "p_tee", SKU: "TEE-RED-L", Quantity: 2},
		{ProductID: "p_tee", VariantID: "v_blue_l", Quantity: 3},
		{ProductID: "p_mug", Quantity: 1},
		{ProductID: "p_tee", Name: "Quần jean", Quantity: 1},
		{ProductID: "p_missing", Quantity: 1},
		{SKU: "LOOSE", Quantity: 1},
	}
	report, err := adjuster.Adjust(ctx, items, DirectionDeduct)
	if err != nil {
		t.Fatalf("Adjust: %v", err)
	}
	if len(report.Applied) != 3 || len(report.Missed) != 3 {
		t.Fatalf("unexpected report %+v", report)
	}
	if report.Missed[0].Reason != missNoVariant || report.Missed[1].Reason != missNoProduct || report.Missed[2].Reason != missNoProduct {
		t.Fatalf("unexpected miss reasons %+v", report.Missed)
	}

	tee, _ := products.Get(ctx, "p_tee")
	if tee.Variants[1].Stock != 3 || tee.Variants[1].Sold != 2 {
		t.Fatalf("expected red L stock 3 sold 2, got %+v", tee.Variants[1])
	}
	if tee.Variants[2].Stock != 0 || tee.Variants[2].Sold != 3 {
		t.Fatalf("expected blue L clamped at zero, got %+v", tee.Variants[2])
	}
	mug, _ := products.Get(ctx, "p_mug")
	if mug.Stock != 2 || mug.Sold != 1 {
		t.Fatalf("expected product level stock movement, got %+v", mug)
	}

	if _, err := adjuster.Adjust(ctx, items[:1], DirectionRestore); err != nil {
		t.Fatalf("restore: %v", err)
	}
	tee, _ = products.Get(ctx, "p_tee")
	if tee.Variants[1].Stock != 5 || tee.Variants[1].Sold != 0 {
		t.Fatalf("expected red L restored, got %+v", tee.Variants[1])
	}
}

func TestInventoryAdjusterRejectsUnknownDirection(t *testing.T) {
	adjuster, _ := NewInventoryAdjuster(InventoryAdjusterDeps{Products: memory.NewProductRepository()})
	if _, err := adjuster.Adjust(context.Background(), nil, 0); !errors.Is(err, ErrInventoryInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestInventoryAdjusterConcurrentDeductionsOnOneVariant(t *testing.T) {
	ctx := context.Background()
	products := memory.NewProductRepository()
	product := teeProduct()
	product.Variants[0].Stock = 1000
	_ = products.Save(ctx, product)
	adjuster, _ := NewInventoryAdjuster(InventoryAdjusterDeps{Products: products})

	const workers = 200
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			report, err := adjuster.Adjust(ctx, []LineItem{{ProductID: "p_tee", VariantID: "v_red_m", Quantity: 1}}, DirectionDeduct)
			if err != nil || len(report.Applied) != 1 {
				t.Errorf("Adjust: %v %+v", err, report)
			}
		}()
	}
	wg.Wait()

	got, _ := products.Get(ctx, "p_tee")
	v := got.Variants[0]
	if v.Stock != 1000-workers || v.Sold != workers {
		t.Fatalf("expected stock %d sold %d, got %d/%d", 1000-workers, workers, v.Stock, v.Sold)
	}
}

func TestInventoryAdjusterRevertUndoesClampedDeduction(t *testing.T) {
	ctx := context.Background()
	products := memory.NewProductRepository()
	_ = products.Save(ctx, teeProduct())
	adjuster, _ := NewInventoryAdjuster(InventoryAdjusterDeps{Products: products})

	report, err := adjuster.Adjust(ctx, []LineItem{{ProductID: "p_tee", SKU: "TEE-BLUE-L", Quantity: 3}}, DirectionDeduct)
	if err != nil {
		t.Fatalf("Adjust: %v", err)
	}
	adjustments := report.StockAdjustments()
	if len(adjustments) != 1 || adjustments[0].VariantID != "v_blue_l" || adjustments[0].StockDelta != -1 || adjustments[0].SoldDelta != 3 {
		t.Fatalf("expected clamped movement, got %+v", adjustments)
	}

	if _, err := adjuster.Revert(ctx, adjustments); err != nil {
		t.Fatalf("Revert: %v", err)
	}
	got, _ := products.Get(ctx, "p_tee")
	if v := got.Variants[2]; v.Stock != 1 || v.Sold != 0 {
		t.Fatalf("expected blue L back at 1/0, got %d/%d", v.Stock, v.Sold)
	}

	missed, _ := adjuster.Revert(ctx, []StockAdjustment{{ProductID: "p_tee", VariantID: "v_gone", StockDelta: -1}})
	if len(missed.Missed) != 1 || missed.Missed[0].Reason != missNoVariant {
		t.Fatalf("expected unknown variant reported, got %+v", missed)
	}
}

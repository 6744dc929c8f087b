package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	domain "github.com/lumenmart/api/internal/domain"
	"github.com/lumenmart/api/internal/platform/pagination"
	"github.com/lumenmart/api/internal/repositories"
)

func TestOrderRepositoryInsertConflictAndList(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository()
	for _, id := range []string{"o1", "o2", "o3"} {
		if err := repo.Insert(ctx, domain.Order{ID: id, Status: domain.OrderStatusPending}); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}
	if err := repo.Insert(ctx, domain.Order{ID: "o1"}); !repositories.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}

	page, err := repo.List(ctx, pagination.Params{PageSize: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Items) != 2 || page.Items[0].ID != "o3" || page.Items[1].ID != "o2" {
		t.Fatalf("expected newest first, got %+v", page.Items)
	}
	if page.NextPageToken == "" {
		t.Fatal("expected next page token")
	}
	cursor, err := pagination.DecodeToken(page.NextPageToken)
	if err != nil {
		t.Fatalf("decode token: %v", err)
	}
	rest, _ := repo.List(ctx, pagination.Params{PageSize: 2, Offset: cursor.Offset})
	if len(rest.Items) != 1 || rest.Items[0].ID != "o1" || rest.NextPageToken != "" {
		t.Fatalf("unexpected second page %+v", rest)
	}
}

func TestOrderRepositoryMutateSkipWriteAndIsolation(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository()
	_ = repo.Insert(ctx, domain.Order{ID: "o1", Status: domain.OrderStatusPending, Items: []domain.LineItem{{ProductID: "p1", Quantity: 1}}})

	got, err := repo.Mutate(ctx, "o1", func(order *domain.Order) error {
		order.Status = domain.OrderStatusCancelled
		return repositories.ErrSkipWrite
	})
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}
	if got.Status != domain.OrderStatusPending {
		t.Fatalf("expected stored order returned on skip, got %s", got.Status)
	}

	boom := errors.New("boom")
	if _, err := repo.Mutate(ctx, "o1", func(*domain.Order) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}

	loaded, _ := repo.Get(ctx, "o1")
	loaded.Items[0].Quantity = 99
	again, _ := repo.Get(ctx, "o1")
	if again.Items[0].Quantity != 1 {
		t.Fatal("expected stored items to be isolated from callers")
	}

	if _, err := repo.Mutate(ctx, "missing", func(*domain.Order) error { return nil }); !repositories.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestOrderRepositoryMutateSerializes(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository()
	_ = repo.Insert(ctx, domain.Order{ID: "o1"})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = repo.Mutate(ctx, "o1", func(order *domain.Order) error {
				order.Pricing.Subtotal++
				return nil
			})
		}()
	}
	wg.Wait()
	got, _ := repo.Get(ctx, "o1")
	if got.Pricing.Subtotal != 50 {
		t.Fatalf("expected 50 serialized increments, got %d", got.Pricing.Subtotal)
	}
}

func TestOrderRepositoryFindByTrackingCode(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository()
	_ = repo.Insert(ctx, domain.Order{ID: "indexed"})
	_ = repo.Insert(ctx, domain.Order{ID: "carrier", Shipping: domain.ShippingInfo{CarrierCode: "C-1"}})
	_ = repo.Insert(ctx, domain.Order{ID: "legacy", Shipping: domain.ShippingInfo{LegacyWaybillCode: "L-1"}})
	_ = repo.IndexTracking(ctx, "T-1", "indexed")

	cases := map[string]string{"T-1": "indexed", "C-1": "carrier", " L-1 ": "legacy"}
	for code, want := range cases {
		order, err := repo.FindByTrackingCode(ctx, code)
		if err != nil {
			t.Fatalf("%q: %v", code, err)
		}
		if order.ID != want {
			t.Fatalf("%q: expected %s, got %s", code, want, order.ID)
		}
	}
	if _, err := repo.FindByTrackingCode(ctx, "XYZ"); !repositories.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}

	_ = repo.Delete(ctx, "indexed")
	if _, err := repo.FindByTrackingCode(ctx, "T-1"); !repositories.IsNotFound(err) {
		t.Fatalf("expected tracking index entry removed, got %v", err)
	}
	page, _ := repo.List(ctx, pagination.Params{})
	if len(page.Items) != 2 {
		t.Fatalf("expected deleted order gone from list, got %d", len(page.Items))
	}
}

func TestVoucherRepositoryConsumeOncePerOrder(t *testing.T) {
	ctx := context.Background()
	repo := NewVoucherRepository()
	_ = repo.Save(ctx, domain.Voucher{Code: "save10", Type: domain.VoucherTypeCode, On: true})

	usage := domain.VoucherUsage{Code: "SAVE10", CustomerID: "c1", OrderID: "o1", UsedAt: time.Now()}
	consumed, err := repo.Consume(ctx, usage)
	if err != nil || !consumed {
		t.Fatalf("expected first consume to record, got %v %v", consumed, err)
	}
	consumed, err = repo.Consume(ctx, usage)
	if err != nil || consumed {
		t.Fatalf("expected replay to be ignored, got %v %v", consumed, err)
	}

	voucher, _ := repo.FindByCode(ctx, " Save10 ")
	if voucher.UsageCount != 1 {
		t.Fatalf("expected usage count 1, got %d", voucher.UsageCount)
	}
	count, _ := repo.CountCustomerUsage(ctx, "save10", "c1")
	if count != 1 {
		t.Fatalf("expected one usage for c1, got %d", count)
	}
	if _, err := repo.Consume(ctx, domain.VoucherUsage{Code: "NOPE", OrderID: "o2"}); !repositories.IsNotFound(err) {
		t.Fatalf("expected not found for unknown voucher, got %v", err)
	}
}

func TestVoucherRepositoryReservationLimits(t *testing.T) {
	ctx := context.Background()
	repo := NewVoucherRepository()
	_ = repo.Save(ctx, domain.Voucher{Code: "CAP2", Type: domain.VoucherTypeCode, On: true, UsageLimitTotal: 2, UsageLimitPerUser: 1})
	now := time.Now()

	if err := repo.Reserve(ctx, domain.VoucherUsage{Code: "cap2", CustomerID: "c1", OrderID: "o1", UsedAt: now}); err != nil {
		t.Fatalf("reserve o1: %v", err)
	}
	if err := repo.Reserve(ctx, domain.VoucherUsage{Code: "CAP2", CustomerID: "c1", OrderID: "o1", UsedAt: now}); err != nil {
		t.Fatalf("expected repeat reservation to be a no-op, got %v", err)
	}
	if err := repo.Reserve(ctx, domain.VoucherUsage{Code: "CAP2", CustomerID: "c1", OrderID: "o2", UsedAt: now}); !errors.Is(err, repositories.ErrVoucherExhausted) {
		t.Fatalf("expected per-customer limit, got %v", err)
	}
	if err := repo.Reserve(ctx, domain.VoucherUsage{Code: "CAP2", CustomerID: "c2", OrderID: "o3", UsedAt: now}); err != nil {
		t.Fatalf("reserve o3: %v", err)
	}
	if err := repo.Reserve(ctx, domain.VoucherUsage{Code: "CAP2", CustomerID: "c3", OrderID: "o4", UsedAt: now}); !errors.Is(err, repositories.ErrVoucherExhausted) {
		t.Fatalf("expected total limit, got %v", err)
	}

	if consumed, err := repo.Consume(ctx, domain.VoucherUsage{Code: "CAP2", CustomerID: "c1", OrderID: "o1", UsedAt: now}); err != nil || !consumed {
		t.Fatalf("expected reservation converted, got %v %v", consumed, err)
	}
	if released, err := repo.Release(ctx, "CAP2", "o1"); err != nil || released {
		t.Fatalf("expected consumed usage to survive release, got %v %v", released, err)
	}
	if released, err := repo.Release(ctx, "CAP2", "o3"); err != nil || !released {
		t.Fatalf("expected o3 released, got %v %v", released, err)
	}
	voucher, _ := repo.FindByCode(ctx, "CAP2")
	if voucher.UsageCount != 1 || voucher.ReservedCount != 0 || voucher.Remaining() != 1 {
		t.Fatalf("unexpected counters %+v", voucher)
	}

	if _, err := repo.Consume(ctx, domain.VoucherUsage{Code: "CAP2", CustomerID: "c4", OrderID: "o5", UsedAt: now}); err != nil {
		t.Fatalf("consume without reservation: %v", err)
	}
	if _, err := repo.Consume(ctx, domain.VoucherUsage{Code: "CAP2", CustomerID: "c5", OrderID: "o6", UsedAt: now}); !errors.Is(err, repositories.ErrVoucherExhausted) {
		t.Fatalf("expected unreserved consume past the limit to fail, got %v", err)
	}
	voucher, _ = repo.FindByCode(ctx, "CAP2")
	if voucher.UsageCount != 2 {
		t.Fatalf("expected usage count capped at 2, got %d", voucher.UsageCount)
	}
}

func TestCustomerRepositoryMutateCreates(t *testing.T) {
	ctx := context.Background()
	repo := NewCustomerRepository()
	got, err := repo.Mutate(ctx, "c1", func(c *domain.Customer) error {
		if c.ID != "c1" {
			t.Fatalf("expected id to be preset, got %q", c.ID)
		}
		c.Points += 10
		return nil
	})
	if err != nil || got.Points != 10 {
		t.Fatalf("unexpected result %+v %v", got, err)
	}
	if _, err := repo.Mutate(ctx, "c1", func(*domain.Customer) error { return repositories.ErrSkipWrite }); err != nil {
		t.Fatalf("skip write: %v", err)
	}
	stored, _ := repo.Get(ctx, "c1")
	if stored.Points != 10 {
		t.Fatalf("expected 10 points, got %d", stored.Points)
	}
}

func TestOutboxRepositoryPendingOrderAndAttempts(t *testing.T) {
	ctx := context.Background()
	repo := NewOutboxRepository()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_ = repo.Enqueue(ctx, domain.OutboxEvent{ID: "b", CreatedAt: base.Add(time.Minute)})
	_ = repo.Enqueue(ctx, domain.OutboxEvent{ID: "a", CreatedAt: base})
	_ = repo.Enqueue(ctx, domain.OutboxEvent{ID: "c", CreatedAt: base.Add(2 * time.Minute)})

	if err := repo.Enqueue(ctx, domain.OutboxEvent{ID: "a"}); !repositories.IsConflict(err) {
		t.Fatalf("expected conflict on duplicate id, got %v", err)
	}

	_ = repo.MarkDelivered(ctx, "b", base)
	_ = repo.MarkFailed(ctx, "c", "timeout")
	_ = repo.MarkFailed(ctx, "c", "timeout")

	pending, _ := repo.Pending(ctx, 10, 2)
	if len(pending) != 1 || pending[0].ID != "a" {
		t.Fatalf("expected only a pending, got %+v", pending)
	}
	pending, _ = repo.Pending(ctx, 10, 0)
	if len(pending) != 2 || pending[0].ID != "a" || pending[1].ID != "c" {
		t.Fatalf("expected a then c without attempt cap, got %+v", pending)
	}
	if pending[1].LastError != "timeout" || pending[1].Attempts != 2 {
		t.Fatalf("expected failure bookkeeping, got %+v", pending[1])
	}
}

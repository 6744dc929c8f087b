package memory

import (
	"context"
	"strings"
	"sync"

	domain "github.com/lumenmart/api/internal/domain"
	"github.com/lumenmart/api/internal/repositories"
)

// VoucherRepository keeps vouchers and their usage records in memory. A single lock covers
// both, so limit checks and counter updates are atomic.
type VoucherRepository struct {
	mu       sync.Mutex
	vouchers map[string]domain.Voucher
	usage    map[string]domain.VoucherUsage
}

var _ repositories.VoucherRepository = (*VoucherRepository)(nil)

// NewVoucherRepository constructs an empty repository.
func NewVoucherRepository() *VoucherRepository {
	return &VoucherRepository{
		vouchers: make(map[string]domain.Voucher),
		usage:    make(map[string]domain.VoucherUsage),
	}
}

func (r *VoucherRepository) FindByCode(_ context.Context, code string) (domain.Voucher, error) {
	code = normalizeCode(code)
	r.mu.Lock()
	defer r.mu.Unlock()
	voucher, ok := r.vouchers[code]
	if !ok {
		return domain.Voucher{}, repositories.NewNotFound("vouchers.find", "voucher "+code)
	}
	return voucher, nil
}

func (r *VoucherRepository) Save(_ context.Context, voucher domain.Voucher) error {
	voucher.Code = normalizeCode(voucher.Code)
	r.mu.Lock()
	r.vouchers[voucher.Code] = voucher
	r.mu.Unlock()
	return nil
}

func (r *VoucherRepository) CountCustomerUsage(_ context.Context, code, customerID string) (int64, error) {
	code = normalizeCode(code)
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.customerUsageLocked(code, customerID), nil
}

func (r *VoucherRepository) Reserve(_ context.Context, usage domain.VoucherUsage) error {
	usage.Code = normalizeCode(usage.Code)
	r.mu.Lock()
	defer r.mu.Unlock()
	voucher, ok := r.vouchers[usage.Code]
	if !ok {
		return repositories.NewNotFound("vouchers.reserve", "voucher "+usage.Code)
	}
	key := usageKey(usage.Code, usage.OrderID)
	if _, exists := r.usage[key]; exists {
		return nil
	}
	if err := r.checkLimitsLocked(voucher, usage.CustomerID); err != nil {
		return err
	}
	voucher.ReservedCount++
	voucher.UpdatedAt = usage.UsedAt
	r.vouchers[usage.Code] = voucher
	usage.State = domain.VoucherUsageReserved
	r.usage[key] = usage
	return nil
}

func (r *VoucherRepository) Release(_ context.Context, code, orderID string) (bool, error) {
	code = normalizeCode(code)
	r.mu.Lock()
	defer r.mu.Unlock()
	key := usageKey(code, orderID)
	existing, ok := r.usage[key]
	if !ok || existing.State != domain.VoucherUsageReserved {
		return false, nil
	}
	delete(r.usage, key)
	if voucher, ok := r.vouchers[code]; ok {
		voucher.ReservedCount = max(0, voucher.ReservedCount-1)
		r.vouchers[code] = voucher
	}
	return true, nil
}

func (r *VoucherRepository) Consume(_ context.Context, usage domain.VoucherUsage) (bool, error) {
	usage.Code = normalizeCode(usage.Code)
	r.mu.Lock()
	defer r.mu.Unlock()
	voucher, ok := r.vouchers[usage.Code]
	if !ok {
		return false, repositories.NewNotFound("vouchers.consume", "voucher "+usage.Code)
	}
	key := usageKey(usage.Code, usage.OrderID)
	existing, reserved := r.usage[key]
	switch {
	case reserved && existing.State == domain.VoucherUsageConsumed:
		return false, nil
	case reserved:
		voucher.ReservedCount = max(0, voucher.ReservedCount-1)
	default:
		if err := r.checkLimitsLocked(voucher, usage.CustomerID); err != nil {
			return false, err
		}
	}
	voucher.UsageCount++
	voucher.UpdatedAt = usage.UsedAt
	r.vouchers[usage.Code] = voucher
	usage.State = domain.VoucherUsageConsumed
	r.usage[key] = usage
	return true, nil
}

func (r *VoucherRepository) checkLimitsLocked(voucher domain.Voucher, customerID string) error {
	if voucher.Remaining() == 0 {
		return repositories.ErrVoucherExhausted
	}
	if voucher.UsageLimitPerUser > 0 && customerID != "" &&
		r.customerUsageLocked(voucher.Code, customerID) >= voucher.UsageLimitPerUser {
		return repositories.ErrVoucherExhausted
	}
	return nil
}

func (r *VoucherRepository) customerUsageLocked(code, customerID string) int64 {
	var count int64
	for _, usage := range r.usage {
		if usage.Code == code && usage.CustomerID == customerID {
			count++
		}
	}
	return count
}

func usageKey(code, orderID string) string {
	return code + "_" + orderID
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

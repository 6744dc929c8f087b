package firestore

import (
	"context"
	"errors"
	"strings"

	"cloud.google.com/go/firestore"

	domain "github.com/lumenmart/api/internal/domain"
	pfirestore "github.com/lumenmart/api/internal/platform/firestore"
	"github.com/lumenmart/api/internal/repositories"
)

const (
	vouchersCollection     = "vouchers"
	voucherUsageCollection = "voucherUsage"
)

// VoucherRepository keys vouchers by upper-cased code. Usage records are keyed by code and
// order so replaying a reservation or consumption for the same order finds the existing
// record. Limit checks and counter updates share one transaction.
type VoucherRepository struct {
	provider *pfirestore.Provider
	vouchers *pfirestore.BaseRepository[voucherDocument]
	usage    *pfirestore.BaseRepository[voucherUsageDocument]
}

var _ repositories.VoucherRepository = (*VoucherRepository)(nil)

func NewVoucherRepository(provider *pfirestore.Provider) (*VoucherRepository, error) {
	if provider == nil {
		return nil, errors.New("voucher repository requires firestore provider")
	}
	return &VoucherRepository{
		provider: provider,
		vouchers: pfirestore.NewBaseRepository[voucherDocument](provider, vouchersCollection),
		usage:    pfirestore.NewBaseRepository[voucherUsageDocument](provider, voucherUsageCollection),
	}, nil
}

func (r *VoucherRepository) FindByCode(ctx context.Context, code string) (domain.Voucher, error) {
	code = normalizeCode(code)
	doc, err := r.vouchers.Get(ctx, code)
	if err != nil {
		return domain.Voucher{}, err
	}
	return doc.toDomain(code), nil
}

func (r *VoucherRepository) Save(ctx context.Context, voucher domain.Voucher) error {
	return r.vouchers.Set(ctx, normalizeCode(voucher.Code), newVoucherDocument(voucher))
}

func (r *VoucherRepository) CountCustomerUsage(ctx context.Context, code, customerID string) (int64, error) {
	docs, err := r.usage.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("code", "==", normalizeCode(code)).Where("customer_id", "==", customerID)
	})
	if err != nil {
		return 0, err
	}
	return int64(len(docs)), nil
}

func (r *VoucherRepository) Reserve(ctx context.Context, usage domain.VoucherUsage) error {
	code := normalizeCode(usage.Code)
	usageID := code + "_" + usage.OrderID

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		voucher, found, err := r.vouchers.TxGet(ctx, tx, code)
		if err != nil {
			return err
		}
		if !found {
			return pfirestore.NotFound("vouchers.reserve", "voucher "+code)
		}
		_, recorded, err := r.usage.TxGet(ctx, tx, usageID)
		if err != nil {
			return err
		}
		if recorded {
			return nil
		}
		if err := r.checkLimits(ctx, tx, voucher.toDomain(code), usage.CustomerID); err != nil {
			return err
		}

		voucherRef, usageRef, err := r.refs(ctx, code, usageID)
		if err != nil {
			return err
		}
		voucher.ReservedCount++
		voucher.UpdatedAt = usage.UsedAt.UTC()
		if err := tx.Set(voucherRef, voucher); err != nil {
			return err
		}
		return tx.Create(usageRef, newVoucherUsageDocument(code, usage, domain.VoucherUsageReserved))
	})
	if err != nil {
		if errors.Is(err, repositories.ErrVoucherExhausted) {
			return err
		}
		return pfirestore.WrapError("vouchers.reserve", err)
	}
	return nil
}

func (r *VoucherRepository) Release(ctx context.Context, code, orderID string) (bool, error) {
	code = normalizeCode(code)
	usageID := code + "_" + orderID

	var released bool
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		released = false
		existing, recorded, err := r.usage.TxGet(ctx, tx, usageID)
		if err != nil {
			return err
		}
		if !recorded || existing.consumed() {
			return nil
		}
		voucher, found, err := r.vouchers.TxGet(ctx, tx, code)
		if err != nil {
			return err
		}

		voucherRef, usageRef, err := r.refs(ctx, code, usageID)
		if err != nil {
			return err
		}
		if found {
			voucher.ReservedCount = max(0, voucher.ReservedCount-1)
			if err := tx.Set(voucherRef, voucher); err != nil {
				return err
			}
		}
		if err := tx.Delete(usageRef); err != nil {
			return err
		}
		released = true
		return nil
	})
	if err != nil {
		return false, pfirestore.WrapError("vouchers.release", err)
	}
	return released, nil
}

func (r *VoucherRepository) Consume(ctx context.Context, usage domain.VoucherUsage) (bool, error) {
	code := normalizeCode(usage.Code)
	usageID := code + "_" + usage.OrderID

	var consumed bool
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		consumed = false
		voucher, found, err := r.vouchers.TxGet(ctx, tx, code)
		if err != nil {
			return err
		}
		if !found {
			return pfirestore.NotFound("vouchers.consume", "voucher "+code)
		}
		existing, recorded, err := r.usage.TxGet(ctx, tx, usageID)
		if err != nil {
			return err
		}
		switch {
		case recorded && existing.consumed():
			return nil
		case recorded:
			voucher.ReservedCount = max(0, voucher.ReservedCount-1)
		default:
			if err := r.checkLimits(ctx, tx, voucher.toDomain(code), usage.CustomerID); err != nil {
				return err
			}
		}

		voucherRef, usageRef, err := r.refs(ctx, code, usageID)
		if err != nil {
			return err
		}
		voucher.UsageCount++
		voucher.UpdatedAt = usage.UsedAt.UTC()
		if err := tx.Set(voucherRef, voucher); err != nil {
			return err
		}
		if err := tx.Set(usageRef, newVoucherUsageDocument(code, usage, domain.VoucherUsageConsumed)); err != nil {
			return err
		}
		consumed = true
		return nil
	})
	if err != nil {
		if errors.Is(err, repositories.ErrVoucherExhausted) {
			return false, err
		}
		return false, pfirestore.WrapError("vouchers.consume", err)
	}
	return consumed, nil
}

// checkLimits must run before any write of the transaction.
func (r *VoucherRepository) checkLimits(ctx context.Context, tx *firestore.Transaction, voucher domain.Voucher, customerID string) error {
	if voucher.Remaining() == 0 {
		return repositories.ErrVoucherExhausted
	}
	if voucher.UsageLimitPerUser <= 0 || customerID == "" {
		return nil
	}
	docs, err := r.usage.TxQuery(ctx, tx, func(q firestore.Query) firestore.Query {
		return q.Where("code", "==", voucher.Code).Where("customer_id", "==", customerID)
	})
	if err != nil {
		return err
	}
	if int64(len(docs)) >= voucher.UsageLimitPerUser {
		return repositories.ErrVoucherExhausted
	}
	return nil
}

func (r *VoucherRepository) refs(ctx context.Context, code, usageID string) (*firestore.DocumentRef, *firestore.DocumentRef, error) {
	voucherRef, err := r.vouchers.DocumentRef(ctx, code)
	if err != nil {
		return nil, nil, err
	}
	usageRef, err := r.usage.DocumentRef(ctx, usageID)
	if err != nil {
		return nil, nil, err
	}
	return voucherRef, usageRef, nil
}

func newVoucherUsageDocument(code string, usage domain.VoucherUsage, state domain.VoucherUsageState) voucherUsageDocument {
	return voucherUsageDocument{
		Code:       code,
		CustomerID: usage.CustomerID,
		OrderID:    usage.OrderID,
		State:      string(state),
		UsedAt:     usage.UsedAt.UTC(),
	}
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Package sqlstore mirrors orders into a relational database for reporting and for tracking
// code lookups that the document store cannot index.
package sqlstore

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	domain "github.com/lumenmart/api/internal/domain"
	"github.com/lumenmart/api/internal/repositories"
)

// OrderRecordRepository implements repositories.OrderRecordRepository with GORM.
type OrderRecordRepository struct {
	db *gorm.DB
}

var _ repositories.OrderRecordRepository = (*OrderRecordRepository)(nil)

// NewOrderRecordRepository creates the repository. Call Migrate once before use.
func NewOrderRecordRepository(db *gorm.DB) *OrderRecordRepository {
	return &OrderRecordRepository{db: db}
}

// Migrate creates or updates the reporting tables.
func (r *OrderRecordRepository) Migrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&OrderRow{}, &OrderItemRow{})
}

// Upsert replaces the projection of order, including its lines.
func (r *OrderRecordRepository) Upsert(ctx context.Context, order domain.Order) error {
	row := newOrderRow(order)
	items := row.Items
	row.Items = nil

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).Create(&row).Error; err != nil {
			return err
		}
		if err := tx.Where("order_id = ?", order.ID).Delete(&OrderItemRow{}).Error; err != nil {
			return err
		}
		if len(items) == 0 {
			return nil
		}
		return tx.Create(&items).Error
	})
	return wrap("order_records.upsert", err)
}

func (r *OrderRecordRepository) Delete(ctx context.Context, orderID string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("order_id = ?", orderID).Delete(&OrderItemRow{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", orderID).Delete(&OrderRow{}).Error
	})
	return wrap("order_records.delete", err)
}

// FindOrderIDByTrackingCode matches either the tracking code or the carrier's own code.
func (r *OrderRecordRepository) FindOrderIDByTrackingCode(ctx context.Context, code string) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", repositories.NewNotFound("order_records.find_by_tracking", "empty tracking code")
	}
	var row OrderRow
	err := r.db.WithContext(ctx).
		Select("id").
		Where("tracking_code = ? OR carrier_code = ?", code, code).
		Order("updated_at DESC").
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", repositories.NewNotFound("order_records.find_by_tracking", "order with tracking "+code)
		}
		return "", wrap("order_records.find_by_tracking", err)
	}
	return row.ID, nil
}

// Get loads the projection with its lines ordered as on the order.
func (r *OrderRecordRepository) Get(ctx context.Context, orderID string) (OrderRow, error) {
	var row OrderRow
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		First(&row, "id = ?", orderID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return OrderRow{}, repositories.NewNotFound("order_records.get", "order "+orderID)
		}
		return OrderRow{}, wrap("order_records.get", err)
	}
	return row, nil
}

// Ping checks the connection for health reporting.
func (r *OrderRecordRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return repositories.NewUnavailable(op, err)
}

package sqlstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	domain "github.com/lumenmart/api/internal/domain"
	"github.com/lumenmart/api/internal/repositories"
)

func setupOrderRecordDB(t *testing.T) *OrderRecordRepository {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	repo := NewOrderRecordRepository(db)
	require.NoError(t, repo.Migrate(context.Background()))
	return repo
}

func sampleOrder() domain.Order {
	now := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	return domain.Order{
		ID:       "o1",
		Status:   domain.OrderStatusPending,
		Customer: domain.CustomerSnapshot{ID: "c1", Name: "An", Phone: "0901234567"},
		Items: []domain.LineItem{
			{ProductID: "p1", Name: "Mug", Quantity: 2, Price: 100000, Cost: 70000},
			{ProductID: "p2", Name: "Tee", Quantity: 1, Price: 0, Cost: 0},
		},
		Pricing:       domain.PricingBreakdown{Subtotal: 200000, ShippingFee: 20000, Discount: 15000, Revenue: 205000, Profit: 65000, VoucherCode: "SAVE10"},
		SourceChannel: domain.SourceStorefront,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestOrderRecordRepository_Upsert(t *testing.T) {
	repo := setupOrderRecordDB(t)
	ctx := context.Background()

	t.Run("inserts the projection with its lines", func(t *testing.T) {
		require.NoError(t, repo.Upsert(ctx, sampleOrder()))

		row, err := repo.Get(ctx, "o1")
		require.NoError(t, err)
		assert.Equal(t, "pending", row.Status)
		assert.True(t, row.Revenue.Equal(decimal.NewFromInt(205000)))
		assert.True(t, row.Profit.Equal(decimal.NewFromInt(65000)))
		require.Len(t, row.Items, 2)
		assert.Equal(t, "p1", row.Items[0].ProductID)
	})

	t.Run("replaces status and lines on update", func(t *testing.T) {
		order := sampleOrder()
		order.Status = domain.OrderStatusProcessing
		order.Shipping.TrackingCode = "TRK-9"
		order.Items = order.Items[:1]
		require.NoError(t, repo.Upsert(ctx, order))

		row, err := repo.Get(ctx, "o1")
		require.NoError(t, err)
		assert.Equal(t, "processing", row.Status)
		assert.Len(t, row.Items, 1)
	})
}

func TestOrderRecordRepository_FindOrderIDByTrackingCode(t *testing.T) {
	repo := setupOrderRecordDB(t)
	ctx := context.Background()

	order := sampleOrder()
	order.Shipping.TrackingCode = "TRK-1"
	order.Shipping.CarrierCode = "CAR-1"
	require.NoError(t, repo.Upsert(ctx, order))

	for _, code := range []string{"TRK-1", " CAR-1 "} {
		id, err := repo.FindOrderIDByTrackingCode(ctx, code)
		require.NoError(t, err)
		assert.Equal(t, "o1", id)
	}

	_, err := repo.FindOrderIDByTrackingCode(ctx, "XYZ")
	assert.True(t, repositories.IsNotFound(err))

	require.NoError(t, repo.Delete(ctx, "o1"))
	_, err = repo.FindOrderIDByTrackingCode(ctx, "TRK-1")
	assert.True(t, repositories.IsNotFound(err))
	_, err = repo.Get(ctx, "o1")
	assert.True(t, repositories.IsNotFound(err))
}

func TestOrderRecordRepository_DriverFailureIsUnavailable(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB, DriverName: "postgres"}), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)

	mock.ExpectBegin().WillReturnError(errors.New("connection refused"))

	err = NewOrderRecordRepository(db).Upsert(context.Background(), sampleOrder())
	require.Error(t, err)
	assert.True(t, repositories.IsUnavailable(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

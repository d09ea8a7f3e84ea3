package handler

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"afflink-system/config"
	"afflink-system/internal/database"
	"afflink-system/internal/database/models"
	"afflink-system/internal/services/audit"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}

	// The in-memory database lives per connection, so the pool must
	// never open a second one.
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap test db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

func newTestHandler(t *testing.T) (*LedgerHandler, *gorm.DB, *miniredis.Miniredis) {
	t.Helper()

	db := newTestDB(t)
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	h := NewLedgerHandler(db, redisClient, audit.NewRecorder(db), config.LedgerConfig{DefaultClearanceDays: 30})
	return h, db, mr
}

func seedCommission(t *testing.T, db *gorm.DB, marketerID int64, amount, status string) *models.Commission {
	t.Helper()

	flat := amount
	commission := &models.Commission{
		MarketerID:           marketerID,
		CustomerID:           7,
		ProductID:            3,
		TrackingCode:         "trk-seed",
		InitialSpendAmount:   "500.00",
		CommissionFlatAmount: &flat,
		CommissionAmount:     amount,
		Status:               status,
		ConversionDate:       time.Now().AddDate(0, 0, -40),
		ClearancePeriodDays:  30,
	}
	if status == models.CommissionStatusApproved || status == models.CommissionStatusPaid {
		now := time.Now()
		commission.ApprovalDate = &now
	}
	if err := db.Create(commission).Error; err != nil {
		t.Fatalf("seed commission: %v", err)
	}
	return commission
}

func strp(s string) *string { return &s }

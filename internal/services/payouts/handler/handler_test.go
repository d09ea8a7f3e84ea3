package handler

import (
	"context"
	"errors"
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
	ledger "afflink-system/internal/services/ledger/handler"
)

// stubGateway scripts settlement outcomes per test.
type stubGateway struct {
	processFn func(ctx context.Context, payout *models.PayoutRequest) (*GatewayResult, error)
	bulkFn    func(ctx context.Context, batchRef string, payouts []models.PayoutRequest) (*BulkGatewayResult, error)
}

func (s *stubGateway) Process(ctx context.Context, payout *models.PayoutRequest) (*GatewayResult, error) {
	if s.processFn == nil {
		return nil, errors.New("unexpected Process call")
	}
	return s.processFn(ctx, payout)
}

func (s *stubGateway) ProcessBulk(ctx context.Context, batchRef string, payouts []models.PayoutRequest) (*BulkGatewayResult, error) {
	if s.bulkFn == nil {
		return nil, errors.New("unexpected ProcessBulk call")
	}
	return s.bulkFn(ctx, batchRef, payouts)
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}

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

func newTestHandler(t *testing.T) (*PayoutHandler, *stubGateway, *gorm.DB) {
	t.Helper()

	db := newTestDB(t)
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	auditRec := audit.NewRecorder(db)
	ledgerHandler := ledger.NewLedgerHandler(db, redisClient, auditRec, config.LedgerConfig{DefaultClearanceDays: 30})

	gateway := &stubGateway{}
	h := NewPayoutHandler(db, ledgerHandler, gateway, auditRec, config.PayoutConfig{
		MinWithdrawalAmount: "50",
		MaxWithdrawalAmount: "10000",
		BulkProcessLimit:    50,
		GatewayTimeout:      5 * time.Second,
	})
	return h, gateway, db
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
	if err := db.Create(commission).Error; err != nil {
		t.Fatalf("seed commission: %v", err)
	}
	return commission
}

func seedPaymentMethod(t *testing.T, db *gorm.DB, userID int64, verified bool) *models.PaymentMethod {
	t.Helper()

	method := &models.PaymentMethod{
		UserID:         userID,
		MethodType:     models.PaymentMethodPaypal,
		AccountDetails: `{"email":"marketer@example.com"}`,
		IsVerified:     verified,
	}
	if verified {
		method.VerificationStatus = models.VerificationStatusVerified
	} else {
		method.VerificationStatus = models.VerificationStatusPending
	}
	if err := db.Create(method).Error; err != nil {
		t.Fatalf("seed payment method: %v", err)
	}
	return method
}

func seedPayout(t *testing.T, db *gorm.DB, marketerID, methodID int64, amount, status string) *models.PayoutRequest {
	t.Helper()

	payout := &models.PayoutRequest{
		MarketerID:      marketerID,
		PaymentMethodID: methodID,
		Amount:          amount,
		ProcessingFee:   "0.00",
		NetAmount:       amount,
		Status:          status,
		RequestedAt:     time.Now(),
	}
	if err := db.Create(payout).Error; err != nil {
		t.Fatalf("seed payout: %v", err)
	}
	return payout
}

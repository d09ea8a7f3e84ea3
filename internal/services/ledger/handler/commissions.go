package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"afflink-system/config"
	"afflink-system/internal/database"
	"afflink-system/internal/database/models"
	"afflink-system/internal/services/audit"
	"afflink-system/internal/services/svcerr"
	"afflink-system/internal/utils"
)

const (
	COMMISSION_DETAIL_CACHE_PREFIX = "commission_detail:"
	CLAWBACK_ANALYTICS_CACHE_KEY   = "clawback_analytics"

	CACHE_TTL_DETAIL    = 24 * time.Hour
	CACHE_TTL_ANALYTICS = 2 * time.Hour
)

// --- Helpers ---

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func parseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, svcerr.Validation("Invalid amount: %q", s)
	}
	return d, nil
}

// --- Handler ---

type LedgerHandler struct {
	db    *gorm.DB
	redis *redis.Client
	audit *audit.Recorder
	locks *utils.KeyMutex
	cfg   config.LedgerConfig
}

func NewLedgerHandler(db *gorm.DB, redisClient *redis.Client, auditRec *audit.Recorder, cfg config.LedgerConfig) *LedgerHandler {
	if cfg.DefaultClearanceDays <= 0 {
		cfg.DefaultClearanceDays = 30
	}
	return &LedgerHandler{
		db:    db,
		redis: redisClient,
		audit: auditRec,
		locks: utils.NewKeyMutex(),
		cfg:   cfg,
	}
}

// MarketerLocks exposes the per-marketer mutex so the payout service
// can serialize its balance-read-then-write sequences against
// clawbacks on the same marketer.
func (h *LedgerHandler) MarketerLocks() *utils.KeyMutex {
	return h.locks
}

// InvalidateCommissionCaches drops cached reads for the given
// commissions along with the clawback analytics aggregate.
func (h *LedgerHandler) InvalidateCommissionCaches(ctx context.Context, commissionIDs ...int64) {
	_ = h.redis.Del(ctx, CLAWBACK_ANALYTICS_CACHE_KEY)
	for _, id := range commissionIDs {
		cacheKey := fmt.Sprintf("%s%d", COMMISSION_DETAIL_CACHE_PREFIX, id)
		_ = h.redis.Del(ctx, cacheKey)
	}
}

// --- Conversion intake ---

type RecordConversionInput struct {
	MarketerID           int64      `json:"marketer_id"`
	CustomerID           int64      `json:"customer_id"`
	ProductID            int64      `json:"product_id"`
	TrackingCode         string     `json:"tracking_code"`
	InitialSpendAmount   string     `json:"initial_spend_amount"`
	ConversionDate       time.Time  `json:"conversion_date"`
	CommissionRate       *string    `json:"commission_rate,omitempty"`
	CommissionFlatAmount *string    `json:"commission_flat_amount,omitempty"`
	ClearancePeriodDays  *int32     `json:"clearance_period_days,omitempty"`
}

// computeCommissionAmount applies the pricing rule shared by creation
// and recalculation: spend x rate in percentage mode, the flat amount
// in flat mode.
func computeCommissionAmount(spend decimal.Decimal, rate, flat *string) (decimal.Decimal, error) {
	if (rate == nil) == (flat == nil) {
		return decimal.Zero, svcerr.Validation("Exactly one of commission_rate and commission_flat_amount is required")
	}
	if rate != nil {
		r, err := decimal.NewFromString(*rate)
		if err != nil {
			return decimal.Zero, svcerr.Validation("Invalid commission rate: %q", *rate)
		}
		if r.LessThan(decimal.Zero) || r.GreaterThan(decimal.NewFromInt(1)) {
			return decimal.Zero, svcerr.Validation("Commission rate must be between 0 and 1")
		}
		return spend.Mul(r), nil
	}
	f, err := decimal.NewFromString(*flat)
	if err != nil {
		return decimal.Zero, svcerr.Validation("Invalid flat commission amount: %q", *flat)
	}
	if f.LessThan(decimal.Zero) {
		return decimal.Zero, svcerr.Validation("Flat commission amount must not be negative")
	}
	return f, nil
}

// RecordConversion creates a pending commission from a qualifying
// conversion event supplied by the attribution collaborator.
func (h *LedgerHandler) RecordConversion(ctx context.Context, in RecordConversionInput) (*models.Commission, error) {
	if in.MarketerID <= 0 {
		return nil, svcerr.Validation("Marketer ID is required")
	}
	if in.TrackingCode == "" {
		return nil, svcerr.Validation("Tracking code is required")
	}
	if in.ConversionDate.IsZero() {
		return nil, svcerr.Validation("Conversion date is required")
	}

	spend, err := parseAmount(in.InitialSpendAmount)
	if err != nil {
		return nil, err
	}
	if spend.LessThan(decimal.Zero) {
		return nil, svcerr.Validation("Spend amount must not be negative")
	}

	amount, err := computeCommissionAmount(spend, in.CommissionRate, in.CommissionFlatAmount)
	if err != nil {
		return nil, err
	}

	clearanceDays := int32(h.cfg.DefaultClearanceDays)
	if in.ClearancePeriodDays != nil {
		if *in.ClearancePeriodDays < 0 {
			return nil, svcerr.Validation("Clearance period must not be negative")
		}
		clearanceDays = *in.ClearancePeriodDays
	}

	commission := models.Commission{
		MarketerID:           in.MarketerID,
		CustomerID:           in.CustomerID,
		ProductID:            in.ProductID,
		TrackingCode:         in.TrackingCode,
		InitialSpendAmount:   spend.StringFixed(2),
		CommissionRate:       in.CommissionRate,
		CommissionFlatAmount: in.CommissionFlatAmount,
		CommissionAmount:     amount.StringFixed(2),
		Status:               models.CommissionStatusPending,
		ConversionDate:       in.ConversionDate,
		ClearancePeriodDays:  clearanceDays,
	}

	if err := h.db.WithContext(ctx).Create(&commission).Error; err != nil {
		return nil, svcerr.Internal("Failed to create commission: %v", err)
	}

	return &commission, nil
}

// --- Admin status changes ---

// UpdateCommissionStatus handles the admin review path. Only pending
// commissions move: to approved (approval date set on first entry) or
// to rejected. Paid and clawed_back are owned by settlement and the
// clawback processor.
func (h *LedgerHandler) UpdateCommissionStatus(ctx context.Context, commissionID int64, newStatus string, adminID int64, reason string) (*models.Commission, error) {
	if newStatus != models.CommissionStatusApproved && newStatus != models.CommissionStatusRejected {
		return nil, svcerr.Validation("Status must be %q or %q", models.CommissionStatusApproved, models.CommissionStatusRejected)
	}

	var commission models.Commission

	err := h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := database.LockForUpdate(tx).First(&commission, commissionID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return svcerr.NotFound("Commission with ID %d not found", commissionID)
			}
			return svcerr.Internal("Failed to retrieve commission: %v", err)
		}

		if commission.Status != models.CommissionStatusPending {
			return svcerr.InvalidOperation("Commission can only be reviewed from pending status. Current status: %s", commission.Status)
		}

		oldStatus := commission.Status
		commission.Status = newStatus
		if newStatus == models.CommissionStatusApproved && commission.ApprovalDate == nil {
			now := time.Now()
			commission.ApprovalDate = &now
		}

		if err := tx.Save(&commission).Error; err != nil {
			return svcerr.Internal("Failed to save commission status: %v", err)
		}

		entryReason := fmt.Sprintf("Status changed from %s to %s", oldStatus, newStatus)
		if reason != "" {
			entryReason = entryReason + ": " + reason
		}
		entry := models.CommissionAdjustment{
			CommissionID:   commission.ID,
			AdjustmentType: models.AdjustmentTypeStatusChange,
			Amount:         "0.00",
			Reason:         entryReason,
			AdminID:        adminID,
		}
		if err := tx.Create(&entry).Error; err != nil {
			return svcerr.Internal("Failed to write status change entry: %v", err)
		}

		h.audit.Record(ctx, tx, audit.Entry{
			Action:       "commission.status_changed",
			ResourceType: "commission",
			ResourceID:   commission.ID,
			OldValue:     oldStatus,
			NewValue:     newStatus,
			Reason:       reason,
			ActorID:      adminID,
		})
		return nil
	})

	if err != nil {
		return nil, err
	}

	h.InvalidateCommissionCaches(ctx, commissionID)
	return &commission, nil
}

// --- Manual ledger entries ---

type AddAdjustmentInput struct {
	CommissionID   int64  `json:"commission_id"`
	AdjustmentType string `json:"adjustment_type"`
	Amount         string `json:"amount"`
	Reason         string `json:"reason"`
	AdminID        int64  `json:"admin_id"`
}

// AddAdjustment appends a bonus or correction entry. Clawbacks go
// through ApplyClawback, status_change and payment entries are written
// by the engine itself.
func (h *LedgerHandler) AddAdjustment(ctx context.Context, in AddAdjustmentInput) (*models.CommissionAdjustment, error) {
	if in.AdjustmentType != models.AdjustmentTypeBonus && in.AdjustmentType != models.AdjustmentTypeCorrection {
		return nil, svcerr.Validation("Adjustment type must be %q or %q", models.AdjustmentTypeBonus, models.AdjustmentTypeCorrection)
	}
	if in.Reason == "" {
		return nil, svcerr.Validation("Reason is required")
	}
	if len(in.Reason) > 1000 {
		return nil, svcerr.Validation("Reason must be at most 1000 characters")
	}

	amount, err := parseAmount(in.Amount)
	if err != nil {
		return nil, err
	}
	if in.AdjustmentType == models.AdjustmentTypeBonus && !amount.GreaterThan(decimal.Zero) {
		return nil, svcerr.Validation("Bonus amount must be positive")
	}

	var entry models.CommissionAdjustment

	err = h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var commission models.Commission
		if err := database.LockForUpdate(tx).First(&commission, in.CommissionID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return svcerr.NotFound("Commission with ID %d not found", in.CommissionID)
			}
			return svcerr.Internal("Failed to retrieve commission: %v", err)
		}

		if commission.Status != models.CommissionStatusApproved && commission.Status != models.CommissionStatusPaid {
			return svcerr.InvalidOperation("Cannot adjust commission with status %s", commission.Status)
		}

		entry = models.CommissionAdjustment{
			CommissionID:   commission.ID,
			AdjustmentType: in.AdjustmentType,
			Amount:         amount.StringFixed(2),
			Reason:         in.Reason,
			AdminID:        in.AdminID,
		}
		if err := tx.Create(&entry).Error; err != nil {
			return svcerr.Internal("Failed to create adjustment: %v", err)
		}

		h.audit.Record(ctx, tx, audit.Entry{
			Action:       "commission.adjusted",
			ResourceType: "commission",
			ResourceID:   commission.ID,
			NewValue:     entry.Amount,
			Reason:       in.Reason,
			ActorID:      in.AdminID,
		})
		return nil
	})

	if err != nil {
		return nil, err
	}

	h.InvalidateCommissionCaches(ctx, in.CommissionID)
	return &entry, nil
}

// --- Reads ---

type CommissionWithAdjustments struct {
	Commission       models.Commission             `json:"commission"`
	Adjustments      []models.CommissionAdjustment `json:"adjustments"`
	TotalAdjustments string                        `json:"total_adjustments"`
	NetAmount        string                        `json:"net_amount"`
}

// GetCommissionWithAdjustments returns the commission, its ledger
// entries newest first, and the derived net amount
// (commission_amount + sum of adjustment amounts).
func (h *LedgerHandler) GetCommissionWithAdjustments(ctx context.Context, commissionID int64) (*CommissionWithAdjustments, error) {
	cacheKey := fmt.Sprintf("%s%d", COMMISSION_DETAIL_CACHE_PREFIX, commissionID)

	val, err := h.redis.Get(ctx, cacheKey).Result()
	if err == nil {
		var cached CommissionWithAdjustments
		if err := json.Unmarshal([]byte(val), &cached); err == nil {
			return &cached, nil
		}
	} else if err != redis.Nil {
		log.Printf("Redis error on GET: %v. Falling back to DB.", err)
	}

	var commission models.Commission
	if err := h.db.WithContext(ctx).First(&commission, commissionID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, svcerr.NotFound("Commission with ID %d not found", commissionID)
		}
		return nil, svcerr.Internal("Failed to get commission: %v", err)
	}

	var adjustments []models.CommissionAdjustment
	if err := h.db.WithContext(ctx).
		Where("commission_id = ?", commissionID).
		Order("created_at desc, id desc").
		Find(&adjustments).Error; err != nil {
		return nil, svcerr.Internal("Failed to get adjustments: %v", err)
	}

	base, _ := decimal.NewFromString(commission.CommissionAmount)
	total := decimal.Zero
	for _, adj := range adjustments {
		a, _ := decimal.NewFromString(adj.Amount)
		total = total.Add(a)
	}

	result := &CommissionWithAdjustments{
		Commission:       commission,
		Adjustments:      adjustments,
		TotalAdjustments: total.StringFixed(2),
		NetAmount:        base.Add(total).StringFixed(2),
	}

	if jsonData, err := json.Marshal(result); err == nil {
		if err := h.redis.Set(ctx, cacheKey, jsonData, CACHE_TTL_DETAIL).Err(); err != nil {
			log.Printf("Failed to set cache for key %s: %v", cacheKey, err)
		}
	}

	return result, nil
}

type ListCommissionsInput struct {
	MarketerID *int64
	Status     *string
	Page       int
	PageSize   int
}

type CommissionList struct {
	Commissions   []models.Commission `json:"commissions"`
	TotalCount    int64               `json:"total_count"`
	NextPageToken string              `json:"next_page_token"`
}

func (h *LedgerHandler) ListCommissions(ctx context.Context, in ListCommissionsInput) (*CommissionList, error) {
	page := in.Page
	if page <= 0 {
		page = 1
	}
	limit := in.PageSize
	if limit <= 0 {
		limit = 20
	}
	offset := (page - 1) * limit

	query := h.db.WithContext(ctx).Model(&models.Commission{})
	if in.MarketerID != nil {
		query = query.Where("marketer_id = ?", *in.MarketerID)
	}
	if in.Status != nil {
		query = query.Where("status = ?", *in.Status)
	}

	var totalCount int64
	if err := query.Count(&totalCount).Error; err != nil {
		return nil, svcerr.Internal("Failed to count commissions: %v", err)
	}

	var commissions []models.Commission
	if err := query.
		Order("created_at desc, id desc").
		Offset(offset).
		Limit(limit).
		Find(&commissions).Error; err != nil {
		return nil, svcerr.Internal("Failed to retrieve commissions: %v", err)
	}

	nextPageToken := ""
	if int64(offset+limit) < totalCount {
		nextPageToken = strconv.Itoa(page + 1)
	}

	return &CommissionList{
		Commissions:   commissions,
		TotalCount:    totalCount,
		NextPageToken: nextPageToken,
	}, nil
}

// --- Spend correction ---

// RecalculateCommission reacts to an upstream correction of the
// originating spend amount. The commission amount is recomputed with
// the creation rule; historical adjustments stay untouched, so the net
// amount simply reflects the new base plus the existing ledger.
func (h *LedgerHandler) RecalculateCommission(ctx context.Context, commissionID int64, newSpendAmount string, adminID int64) (*models.Commission, error) {
	newSpend, err := parseAmount(newSpendAmount)
	if err != nil {
		return nil, err
	}
	if newSpend.LessThan(decimal.Zero) {
		return nil, svcerr.Validation("Spend amount must not be negative")
	}

	var commission models.Commission

	err = h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := database.LockForUpdate(tx).First(&commission, commissionID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return svcerr.NotFound("Commission with ID %d not found", commissionID)
			}
			return svcerr.Internal("Failed to retrieve commission: %v", err)
		}

		oldSpend := commission.InitialSpendAmount
		oldAmount := commission.CommissionAmount

		amount, err := computeCommissionAmount(newSpend, commission.CommissionRate, commission.CommissionFlatAmount)
		if err != nil {
			return err
		}

		commission.InitialSpendAmount = newSpend.StringFixed(2)
		commission.CommissionAmount = amount.StringFixed(2)

		if err := tx.Save(&commission).Error; err != nil {
			return svcerr.Internal("Failed to save recalculated commission: %v", err)
		}

		entry := models.CommissionAdjustment{
			CommissionID:   commission.ID,
			AdjustmentType: models.AdjustmentTypeCorrection,
			Amount:         "0.00",
			Reason:         fmt.Sprintf("Spend corrected from %s to %s, commission recomputed from %s to %s", oldSpend, commission.InitialSpendAmount, oldAmount, commission.CommissionAmount),
			AdminID:        adminID,
		}
		if err := tx.Create(&entry).Error; err != nil {
			return svcerr.Internal("Failed to write correction entry: %v", err)
		}

		h.audit.Record(ctx, tx, audit.Entry{
			Action:       "commission.recalculated",
			ResourceType: "commission",
			ResourceID:   commission.ID,
			OldValue:     oldAmount,
			NewValue:     commission.CommissionAmount,
			ActorID:      adminID,
		})
		return nil
	})

	if err != nil {
		return nil, err
	}

	h.InvalidateCommissionCaches(ctx, commissionID)
	return &commission, nil
}

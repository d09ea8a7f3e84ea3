package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"afflink-system/internal/database"
	"afflink-system/internal/database/models"
	"afflink-system/internal/services/audit"
	"afflink-system/internal/services/svcerr"
)

type ApplyClawbackInput struct {
	CommissionID int64  `json:"commission_id"`
	Amount       string `json:"amount"`
	Reason       string `json:"reason"`
	AdminID      int64  `json:"admin_id"`
	ClawbackType string `json:"clawback_type"`
	Partial      bool   `json:"partial"`
}

// ApplyClawback writes a negative ledger entry against an approved or
// paid commission. A full clawback always moves the commission to
// clawed_back; a partial clawback must stay strictly below the
// commission amount and never changes status.
func (h *LedgerHandler) ApplyClawback(ctx context.Context, in ApplyClawbackInput) (*models.CommissionAdjustment, error) {
	if in.Reason == "" {
		return nil, svcerr.Validation("Reason is required")
	}
	if len(in.Reason) > 1000 {
		return nil, svcerr.Validation("Reason must be at most 1000 characters")
	}
	if in.ClawbackType == "" {
		return nil, svcerr.Validation("Clawback type is required")
	}

	amount, err := parseAmount(in.Amount)
	if err != nil {
		return nil, err
	}

	// Resolve the marketer up front so the clawback can hold the same
	// per-marketer lock the payout service holds across its
	// balance-read-then-write sequence.
	var marketerIDs []int64
	if err := h.db.WithContext(ctx).Model(&models.Commission{}).
		Where("id = ?", in.CommissionID).
		Pluck("marketer_id", &marketerIDs).Error; err != nil {
		return nil, svcerr.Internal("Failed to retrieve commission: %v", err)
	}
	if len(marketerIDs) == 0 {
		return nil, svcerr.NotFound("Commission with ID %d not found", in.CommissionID)
	}

	h.locks.Lock(marketerIDs[0])
	defer h.locks.Unlock(marketerIDs[0])

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
			return svcerr.InvalidOperation("Cannot process clawback for commission with status %s", commission.Status)
		}

		commissionAmount, _ := decimal.NewFromString(commission.CommissionAmount)
		if !amount.GreaterThan(decimal.Zero) {
			return svcerr.InvalidOperation("Clawback amount must be greater than zero")
		}
		if amount.GreaterThan(commissionAmount) {
			return svcerr.InvalidOperation("clawback amount cannot exceed original commission amount")
		}
		if in.Partial && amount.GreaterThanOrEqual(commissionAmount) {
			return svcerr.InvalidOperation("Use full clawback for amounts equal to or greater than commission amount")
		}

		mode := strings.ToUpper(in.ClawbackType)
		if in.Partial {
			mode = "Partial " + mode
		}

		entry = models.CommissionAdjustment{
			CommissionID:   commission.ID,
			AdjustmentType: models.AdjustmentTypeClawback,
			Amount:         amount.Neg().StringFixed(2),
			Reason:         fmt.Sprintf("%s clawback: %s", mode, in.Reason),
			AdminID:        in.AdminID,
		}
		if err := tx.Create(&entry).Error; err != nil {
			return svcerr.Internal("Failed to create clawback entry: %v", err)
		}

		if !in.Partial {
			oldStatus := commission.Status
			commission.Status = models.CommissionStatusClawedBack
			if err := tx.Save(&commission).Error; err != nil {
				return svcerr.Internal("Failed to update commission status: %v", err)
			}
			h.audit.Record(ctx, tx, audit.Entry{
				Action:       "commission.status_changed",
				ResourceType: "commission",
				ResourceID:   commission.ID,
				OldValue:     oldStatus,
				NewValue:     commission.Status,
				Reason:       entry.Reason,
				ActorID:      in.AdminID,
			})
		}

		h.audit.Record(ctx, tx, audit.Entry{
			Action:       "commission.clawback",
			ResourceType: "commission",
			ResourceID:   commission.ID,
			NewValue:     entry.Amount,
			Reason:       entry.Reason,
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

// --- Analytics ---

type ClawbackTypeStats struct {
	ClawbackType string `json:"clawback_type"`
	Count        int64  `json:"count"`
	TotalAmount  string `json:"total_amount"`
}

type ClawbackAnalytics struct {
	Types       []ClawbackTypeStats `json:"types"`
	TotalCount  int64               `json:"total_count"`
	TotalAmount string              `json:"total_amount"`
}

// GetClawbackAnalytics aggregates clawback entries by type, parsed
// from the reason prefix written by ApplyClawback. Amounts are
// reported as positive magnitudes.
func (h *LedgerHandler) GetClawbackAnalytics(ctx context.Context) (*ClawbackAnalytics, error) {
	val, err := h.redis.Get(ctx, CLAWBACK_ANALYTICS_CACHE_KEY).Result()
	if err == nil {
		var cached ClawbackAnalytics
		if err := json.Unmarshal([]byte(val), &cached); err == nil {
			return &cached, nil
		}
	} else if err != redis.Nil {
		log.Printf("Redis error on GET: %v. Falling back to DB.", err)
	}

	var entries []models.CommissionAdjustment
	if err := h.db.WithContext(ctx).
		Where("adjustment_type = ?", models.AdjustmentTypeClawback).
		Find(&entries).Error; err != nil {
		return nil, svcerr.Internal("Failed to retrieve clawback entries: %v", err)
	}

	counts := make(map[string]int64)
	totals := make(map[string]decimal.Decimal)
	grandTotal := decimal.Zero
	for _, entry := range entries {
		clawbackType := parseClawbackType(entry.Reason)
		amount, _ := decimal.NewFromString(entry.Amount)
		magnitude := amount.Abs()

		counts[clawbackType]++
		totals[clawbackType] = totals[clawbackType].Add(magnitude)
		grandTotal = grandTotal.Add(magnitude)
	}

	types := make([]ClawbackTypeStats, 0, len(counts))
	for clawbackType, count := range counts {
		types = append(types, ClawbackTypeStats{
			ClawbackType: clawbackType,
			Count:        count,
			TotalAmount:  totals[clawbackType].StringFixed(2),
		})
	}
	sort.Slice(types, func(i, j int) bool { return types[i].ClawbackType < types[j].ClawbackType })

	analytics := &ClawbackAnalytics{
		Types:       types,
		TotalCount:  int64(len(entries)),
		TotalAmount: grandTotal.StringFixed(2),
	}

	if jsonData, err := json.Marshal(analytics); err == nil {
		if err := h.redis.Set(ctx, CLAWBACK_ANALYTICS_CACHE_KEY, jsonData, CACHE_TTL_ANALYTICS).Err(); err != nil {
			log.Printf("Failed to set cache for key %s: %v", CLAWBACK_ANALYTICS_CACHE_KEY, err)
		}
	}

	return analytics, nil
}

// parseClawbackType recovers the type from the reason prefix, e.g.
// "REFUND clawback: duplicate order" or "Partial REFUND clawback: ...".
func parseClawbackType(reason string) string {
	prefix, _, found := strings.Cut(reason, " clawback:")
	if !found {
		return "unknown"
	}
	prefix = strings.TrimPrefix(prefix, "Partial ")
	return strings.ToLower(prefix)
}

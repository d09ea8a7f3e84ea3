package handler

import (
	"context"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"afflink-system/internal/database/models"
	"afflink-system/internal/services/svcerr"
)

type BalanceSummary struct {
	MarketerID       int64  `json:"marketer_id"`
	AvailableBalance string `json:"available_balance"`
	PendingBalance   string `json:"pending_balance"`
	LifetimeEarnings string `json:"lifetime_earnings"`
	TotalPaidOut     string `json:"total_paid_out"`
	PendingPayouts   string `json:"pending_payouts"`
}

// GetBalanceSummary computes a marketer's balances fresh from the
// ledger on every call. Balances are never cached: money correctness
// over read latency.
func (h *LedgerHandler) GetBalanceSummary(ctx context.Context, marketerID int64) (*BalanceSummary, error) {
	if marketerID <= 0 {
		return nil, svcerr.Validation("Marketer ID is required")
	}

	approved, paid, pending, err := commissionTotals(h.db.WithContext(ctx), marketerID)
	if err != nil {
		return nil, err
	}
	paidOut, inFlight, err := payoutTotals(h.db.WithContext(ctx), marketerID)
	if err != nil {
		return nil, err
	}

	available := approved.Sub(paidOut).Sub(inFlight)
	if available.LessThan(decimal.Zero) {
		available = decimal.Zero
	}

	return &BalanceSummary{
		MarketerID:       marketerID,
		AvailableBalance: available.StringFixed(2),
		PendingBalance:   pending.StringFixed(2),
		LifetimeEarnings: approved.Add(paid).StringFixed(2),
		TotalPaidOut:     paidOut.StringFixed(2),
		PendingPayouts:   inFlight.StringFixed(2),
	}, nil
}

// AvailableBalance exposes just the spendable figure. Payout creation
// calls it inside its own transaction so the read participates in the
// same serialization as the write.
func AvailableBalance(tx *gorm.DB, marketerID int64) (decimal.Decimal, error) {
	approved, _, _, err := commissionTotals(tx, marketerID)
	if err != nil {
		return decimal.Zero, err
	}
	paidOut, inFlight, err := payoutTotals(tx, marketerID)
	if err != nil {
		return decimal.Zero, err
	}

	available := approved.Sub(paidOut).Sub(inFlight)
	if available.LessThan(decimal.Zero) {
		available = decimal.Zero
	}
	return available, nil
}

func commissionTotals(tx *gorm.DB, marketerID int64) (approved, paid, pending decimal.Decimal, err error) {
	var agg struct {
		ApprovedTotal string
		PaidTotal     string
		PendingTotal  string
	}
	err = tx.Model(&models.Commission{}).
		Select("COALESCE(SUM(CASE WHEN status = ? THEN commission_amount ELSE 0 END), 0) as approved_total, "+
			"COALESCE(SUM(CASE WHEN status = ? THEN commission_amount ELSE 0 END), 0) as paid_total, "+
			"COALESCE(SUM(CASE WHEN status = ? THEN commission_amount ELSE 0 END), 0) as pending_total",
			models.CommissionStatusApproved, models.CommissionStatusPaid, models.CommissionStatusPending).
		Where("marketer_id = ?", marketerID).
		Scan(&agg).Error
	if err != nil {
		return decimal.Zero, decimal.Zero, decimal.Zero, svcerr.Internal("Failed to aggregate commissions: %v", err)
	}

	approved, _ = decimal.NewFromString(agg.ApprovedTotal)
	paid, _ = decimal.NewFromString(agg.PaidTotal)
	pending, _ = decimal.NewFromString(agg.PendingTotal)
	return approved, paid, pending, nil
}

func payoutTotals(tx *gorm.DB, marketerID int64) (paidOut, inFlight decimal.Decimal, err error) {
	var agg struct {
		CompletedTotal string
		InFlightTotal  string
	}
	err = tx.Model(&models.PayoutRequest{}).
		Select("COALESCE(SUM(CASE WHEN status = ? THEN amount ELSE 0 END), 0) as completed_total, "+
			"COALESCE(SUM(CASE WHEN status IN (?, ?, ?) THEN amount ELSE 0 END), 0) as in_flight_total",
			models.PayoutStatusCompleted,
			models.PayoutStatusRequested, models.PayoutStatusApproved, models.PayoutStatusProcessing).
		Where("marketer_id = ?", marketerID).
		Scan(&agg).Error
	if err != nil {
		return decimal.Zero, decimal.Zero, svcerr.Internal("Failed to aggregate payouts: %v", err)
	}

	paidOut, _ = decimal.NewFromString(agg.CompletedTotal)
	inFlight, _ = decimal.NewFromString(agg.InFlightTotal)
	return paidOut, inFlight, nil
}

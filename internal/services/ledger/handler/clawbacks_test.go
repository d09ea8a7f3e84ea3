package handler

import (
	"context"
	"testing"
	"time"

	"afflink-system/internal/database/models"
	"afflink-system/internal/services/svcerr"
)

func TestFullClawbackZeroesOutCommission(t *testing.T) {
	h, db, _ := newTestHandler(t)
	ctx := context.Background()

	commission := seedCommission(t, db, 1, "100.00", models.CommissionStatusApproved)

	entry, err := h.ApplyClawback(ctx, ApplyClawbackInput{
		CommissionID: commission.ID,
		Amount:       "100.00",
		Reason:       "customer refunded order",
		AdminID:      99,
		ClawbackType: "refund",
	})
	if err != nil {
		t.Fatalf("ApplyClawback: %v", err)
	}

	if entry.Amount != "-100.00" {
		t.Fatalf("entry amount = %s, want -100.00", entry.Amount)
	}
	if entry.Reason != "REFUND clawback: customer refunded order" {
		t.Fatalf("entry reason = %q", entry.Reason)
	}

	var reloaded models.Commission
	db.First(&reloaded, commission.ID)
	if reloaded.Status != models.CommissionStatusClawedBack {
		t.Fatalf("status = %s, want clawed_back", reloaded.Status)
	}

	detail, err := h.GetCommissionWithAdjustments(ctx, commission.ID)
	if err != nil {
		t.Fatalf("GetCommissionWithAdjustments: %v", err)
	}
	if detail.NetAmount != "0.00" {
		t.Fatalf("net amount = %s, want 0.00", detail.NetAmount)
	}
}

func TestPartialClawbackKeepsStatus(t *testing.T) {
	h, db, _ := newTestHandler(t)
	ctx := context.Background()

	commission := seedCommission(t, db, 1, "200.00", models.CommissionStatusPaid)

	entry, err := h.ApplyClawback(ctx, ApplyClawbackInput{
		CommissionID: commission.ID,
		Amount:       "50.00",
		Reason:       "chargeback on one line item",
		AdminID:      99,
		ClawbackType: "fraud",
		Partial:      true,
	})
	if err != nil {
		t.Fatalf("ApplyClawback: %v", err)
	}

	if entry.Amount != "-50.00" {
		t.Fatalf("entry amount = %s, want -50.00", entry.Amount)
	}
	if entry.Reason != "Partial FRAUD clawback: chargeback on one line item" {
		t.Fatalf("entry reason = %q", entry.Reason)
	}

	var reloaded models.Commission
	db.First(&reloaded, commission.ID)
	if reloaded.Status != models.CommissionStatusPaid {
		t.Fatalf("status = %s, want paid unchanged", reloaded.Status)
	}

	detail, err := h.GetCommissionWithAdjustments(ctx, commission.ID)
	if err != nil {
		t.Fatalf("GetCommissionWithAdjustments: %v", err)
	}
	if detail.NetAmount != "150.00" {
		t.Fatalf("net amount = %s, want 150.00", detail.NetAmount)
	}
}

func TestPartialClawbackMustStayBelowCommissionAmount(t *testing.T) {
	h, db, _ := newTestHandler(t)

	commission := seedCommission(t, db, 1, "200.00", models.CommissionStatusApproved)

	_, err := h.ApplyClawback(context.Background(), ApplyClawbackInput{
		CommissionID: commission.ID,
		Amount:       "200.00",
		Reason:       "full refund",
		AdminID:      99,
		ClawbackType: "refund",
		Partial:      true,
	})
	if svcerr.CodeOf(err) != svcerr.CodeInvalidOperation {
		t.Fatalf("got %v, want INVALID_OPERATION", err)
	}
	if err.Error() != "Use full clawback for amounts equal to or greater than commission amount" {
		t.Fatalf("message = %q", err.Error())
	}

	// Nothing was written.
	var count int64
	db.Model(&models.CommissionAdjustment{}).Where("commission_id = ?", commission.ID).Count(&count)
	if count != 0 {
		t.Fatalf("got %d ledger entries, want 0", count)
	}
}

func TestClawbackCannotExceedCommissionAmount(t *testing.T) {
	h, db, _ := newTestHandler(t)

	commission := seedCommission(t, db, 1, "200.00", models.CommissionStatusApproved)

	_, err := h.ApplyClawback(context.Background(), ApplyClawbackInput{
		CommissionID: commission.ID,
		Amount:       "250.00",
		Reason:       "overreach",
		AdminID:      99,
		ClawbackType: "refund",
	})
	if svcerr.CodeOf(err) != svcerr.CodeInvalidOperation {
		t.Fatalf("got %v, want INVALID_OPERATION", err)
	}
	if err.Error() != "clawback amount cannot exceed original commission amount" {
		t.Fatalf("message = %q", err.Error())
	}
}

func TestClawbackAmountMustBePositive(t *testing.T) {
	h, db, _ := newTestHandler(t)
	ctx := context.Background()

	commission := seedCommission(t, db, 1, "100.00", models.CommissionStatusApproved)

	for _, amount := range []string{"0.00", "-25.00"} {
		_, err := h.ApplyClawback(ctx, ApplyClawbackInput{
			CommissionID: commission.ID,
			Amount:       amount,
			Reason:       "bad amount",
			AdminID:      99,
			ClawbackType: "refund",
		})
		if svcerr.CodeOf(err) != svcerr.CodeInvalidOperation {
			t.Fatalf("amount %s: got %v, want INVALID_OPERATION", amount, err)
		}
		if err.Error() != "Clawback amount must be greater than zero" {
			t.Fatalf("amount %s: message = %q", amount, err.Error())
		}
	}

	var count int64
	db.Model(&models.CommissionAdjustment{}).Count(&count)
	if count != 0 {
		t.Fatalf("adjustment entries = %d, want 0", count)
	}
}

func TestClawbackWaitsForMarketerLock(t *testing.T) {
	h, db, _ := newTestHandler(t)

	commission := seedCommission(t, db, 1, "100.00", models.CommissionStatusApproved)

	h.MarketerLocks().Lock(1)

	done := make(chan error, 1)
	go func() {
		_, err := h.ApplyClawback(context.Background(), ApplyClawbackInput{
			CommissionID: commission.ID,
			Amount:       "100.00",
			Reason:       "customer refunded order",
			AdminID:      99,
			ClawbackType: "refund",
		})
		done <- err
	}()

	select {
	case <-done:
		t.Fatal("clawback ran while the marketer lock was held")
	case <-time.After(50 * time.Millisecond):
	}

	h.MarketerLocks().Unlock(1)
	if err := <-done; err != nil {
		t.Fatalf("ApplyClawback after unlock: %v", err)
	}
}

func TestClawbackRequiresSettledCommission(t *testing.T) {
	h, db, _ := newTestHandler(t)

	pending := seedCommission(t, db, 1, "100.00", models.CommissionStatusPending)

	_, err := h.ApplyClawback(context.Background(), ApplyClawbackInput{
		CommissionID: pending.ID,
		Amount:       "100.00",
		Reason:       "refund",
		AdminID:      99,
		ClawbackType: "refund",
	})
	if svcerr.CodeOf(err) != svcerr.CodeInvalidOperation {
		t.Fatalf("got %v, want INVALID_OPERATION", err)
	}
	if err.Error() != "Cannot process clawback for commission with status pending" {
		t.Fatalf("message = %q", err.Error())
	}
}

func TestClawbackRequiresReasonAndType(t *testing.T) {
	h, db, _ := newTestHandler(t)
	ctx := context.Background()

	commission := seedCommission(t, db, 1, "100.00", models.CommissionStatusApproved)

	_, err := h.ApplyClawback(ctx, ApplyClawbackInput{
		CommissionID: commission.ID,
		Amount:       "50.00",
		AdminID:      99,
		ClawbackType: "refund",
	})
	if svcerr.CodeOf(err) != svcerr.CodeValidationError {
		t.Fatalf("missing reason: got %v, want VALIDATION_ERROR", err)
	}

	_, err = h.ApplyClawback(ctx, ApplyClawbackInput{
		CommissionID: commission.ID,
		Amount:       "50.00",
		Reason:       "refund",
		AdminID:      99,
	})
	if svcerr.CodeOf(err) != svcerr.CodeValidationError {
		t.Fatalf("missing type: got %v, want VALIDATION_ERROR", err)
	}
}

func TestClawbackAnalyticsGroupsByType(t *testing.T) {
	h, db, _ := newTestHandler(t)
	ctx := context.Background()

	refund := seedCommission(t, db, 1, "100.00", models.CommissionStatusApproved)
	fraud1 := seedCommission(t, db, 1, "200.00", models.CommissionStatusPaid)
	fraud2 := seedCommission(t, db, 2, "80.00", models.CommissionStatusApproved)

	mustClawback := func(in ApplyClawbackInput) {
		t.Helper()
		if _, err := h.ApplyClawback(ctx, in); err != nil {
			t.Fatalf("ApplyClawback: %v", err)
		}
	}
	mustClawback(ApplyClawbackInput{CommissionID: refund.ID, Amount: "100.00", Reason: "refunded", AdminID: 99, ClawbackType: "refund"})
	mustClawback(ApplyClawbackInput{CommissionID: fraud1.ID, Amount: "50.00", Reason: "chargeback", AdminID: 99, ClawbackType: "fraud", Partial: true})
	mustClawback(ApplyClawbackInput{CommissionID: fraud2.ID, Amount: "80.00", Reason: "fake traffic", AdminID: 99, ClawbackType: "fraud"})

	analytics, err := h.GetClawbackAnalytics(ctx)
	if err != nil {
		t.Fatalf("GetClawbackAnalytics: %v", err)
	}

	if analytics.TotalCount != 3 {
		t.Fatalf("total count = %d, want 3", analytics.TotalCount)
	}
	if analytics.TotalAmount != "230.00" {
		t.Fatalf("total amount = %s, want 230.00", analytics.TotalAmount)
	}
	if len(analytics.Types) != 2 {
		t.Fatalf("got %d types, want 2", len(analytics.Types))
	}
	// Sorted alphabetically: fraud before refund. Partial entries fold
	// into their base type.
	if analytics.Types[0].ClawbackType != "fraud" || analytics.Types[0].Count != 2 || analytics.Types[0].TotalAmount != "130.00" {
		t.Fatalf("fraud stats = %+v", analytics.Types[0])
	}
	if analytics.Types[1].ClawbackType != "refund" || analytics.Types[1].Count != 1 || analytics.Types[1].TotalAmount != "100.00" {
		t.Fatalf("refund stats = %+v", analytics.Types[1])
	}
}

func TestClawbackAnalyticsCacheRefreshesOnClawback(t *testing.T) {
	h, db, _ := newTestHandler(t)
	ctx := context.Background()

	first := seedCommission(t, db, 1, "100.00", models.CommissionStatusApproved)
	if _, err := h.ApplyClawback(ctx, ApplyClawbackInput{
		CommissionID: first.ID, Amount: "100.00", Reason: "refunded", AdminID: 99, ClawbackType: "refund",
	}); err != nil {
		t.Fatalf("ApplyClawback: %v", err)
	}

	before, err := h.GetClawbackAnalytics(ctx)
	if err != nil {
		t.Fatalf("GetClawbackAnalytics: %v", err)
	}
	if before.TotalCount != 1 {
		t.Fatalf("total count = %d, want 1", before.TotalCount)
	}

	// A new clawback invalidates the cached aggregate.
	second := seedCommission(t, db, 2, "60.00", models.CommissionStatusApproved)
	if _, err := h.ApplyClawback(ctx, ApplyClawbackInput{
		CommissionID: second.ID, Amount: "60.00", Reason: "refunded", AdminID: 99, ClawbackType: "refund",
	}); err != nil {
		t.Fatalf("second ApplyClawback: %v", err)
	}

	after, err := h.GetClawbackAnalytics(ctx)
	if err != nil {
		t.Fatalf("GetClawbackAnalytics after: %v", err)
	}
	if after.TotalCount != 2 {
		t.Fatalf("total count = %d, want 2", after.TotalCount)
	}
	if after.TotalAmount != "160.00" {
		t.Fatalf("total amount = %s, want 160.00", after.TotalAmount)
	}
}

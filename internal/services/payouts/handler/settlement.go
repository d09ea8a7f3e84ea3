package handler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"afflink-system/internal/database"
	"afflink-system/internal/database/models"
	"afflink-system/internal/services/audit"
	"afflink-system/internal/services/svcerr"
)

// GatewayResult is the per-payout outcome reported by the payment
// gateway. Success false with a nil transport error is a decline.
type GatewayResult struct {
	Success         bool   `json:"success"`
	TransactionID   string `json:"transaction_id"`
	Error           string `json:"error"`
	GatewayResponse string `json:"gateway_response"`
}

type BulkPayoutFailure struct {
	PayoutID int64  `json:"payout_id"`
	Error    string `json:"error"`
}

type BulkGatewayResult struct {
	Successful     []int64             `json:"successful"`
	Failed         []BulkPayoutFailure `json:"failed"`
	TotalProcessed int                 `json:"total_processed"`
}

// PaymentGateway is the external settlement provider. ProcessBulk
// settles a whole batch under one reference; per-payout outcomes come
// back in the result.
type PaymentGateway interface {
	Process(ctx context.Context, payout *models.PayoutRequest) (*GatewayResult, error)
	ProcessBulk(ctx context.Context, batchRef string, payouts []models.PayoutRequest) (*BulkGatewayResult, error)
}

// --- Single settlement ---

// ProcessPayout settles one approved payout through the gateway. The
// approved -> processing transition is committed before the gateway is
// called so a crash mid-call leaves the payout visibly in flight, not
// silently approved.
func (h *PayoutHandler) ProcessPayout(ctx context.Context, payoutID, adminID int64) (*models.PayoutRequest, error) {
	var payout models.PayoutRequest

	err := h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := database.LockForUpdate(tx).Preload("PaymentMethod").First(&payout, payoutID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return svcerr.NotFound("Payout request with ID %d not found", payoutID)
			}
			return svcerr.Internal("Failed to retrieve payout request: %v", err)
		}
		if payout.Status != models.PayoutStatusApproved {
			return svcerr.FailedPrecondition(svcerr.CodeInvalidStatus, "Payout must be approved before processing. Current status: %s", payout.Status)
		}

		now := time.Now()
		payout.Status = models.PayoutStatusProcessing
		if payout.ProcessedAt == nil {
			payout.ProcessedAt = &now
		}
		payout.AdminID = &adminID
		if err := tx.Omit("PaymentMethod").Save(&payout).Error; err != nil {
			return svcerr.Internal("Failed to mark payout as processing: %v", err)
		}

		h.audit.Record(ctx, tx, audit.Entry{
			Action:       "payout.status_changed",
			ResourceType: "payout_request",
			ResourceID:   payout.ID,
			OldValue:     models.PayoutStatusApproved,
			NewValue:     payout.Status,
			ActorID:      adminID,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	gwCtx, cancel := context.WithTimeout(ctx, h.gatewayTimeout)
	defer cancel()

	result, err := h.gateway.Process(gwCtx, &payout)
	if err != nil {
		h.finalizeFailed(ctx, payout.ID, adminID, "Payment gateway service unavailable")
		return nil, svcerr.Unavailable(svcerr.CodeGatewayServiceError, "Payment gateway service unavailable")
	}
	if !result.Success {
		reason := result.Error
		if reason == "" {
			reason = "Payment declined by gateway"
		}
		h.finalizeFailed(ctx, payout.ID, adminID, reason)
		return nil, svcerr.FailedPrecondition(svcerr.CodePaymentGatewayError, "Payment gateway rejected the payout: %s", reason)
	}

	return h.finalizeCompleted(ctx, payout.ID, adminID, result.TransactionID)
}

// --- Bulk settlement ---

type BulkProcessSummary struct {
	Completed      []int64             `json:"completed"`
	Failed         []BulkPayoutFailure `json:"failed"`
	Skipped        []int64             `json:"skipped"`
	TotalProcessed int                 `json:"total_processed"`
}

// ProcessBulkPayouts settles up to the configured batch limit in one
// gateway call. Non-approved payouts in the request are skipped, not
// rejected; each settled payout is finalized independently so one bad
// item never rolls back its batch-mates.
func (h *PayoutHandler) ProcessBulkPayouts(ctx context.Context, payoutIDs []int64, processingFee, notes *string, adminID int64) (*BulkProcessSummary, error) {
	if len(payoutIDs) == 0 {
		return nil, svcerr.Validation("At least one payout ID is required")
	}
	if len(payoutIDs) > h.bulkLimit {
		return nil, svcerr.Validation("Cannot process more than %d payouts at once", h.bulkLimit)
	}

	var eligible []models.PayoutRequest
	var skipped []int64

	err := h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var payouts []models.PayoutRequest
		if err := database.LockForUpdate(tx).Preload("PaymentMethod").Where("id IN ?", payoutIDs).Find(&payouts).Error; err != nil {
			return svcerr.Internal("Failed to load payouts: %v", err)
		}

		found := make(map[int64]bool, len(payouts))
		for i := range payouts {
			found[payouts[i].ID] = true
			if payouts[i].Status != models.PayoutStatusApproved {
				skipped = append(skipped, payouts[i].ID)
				continue
			}
			eligible = append(eligible, payouts[i])
		}
		for _, id := range payoutIDs {
			if !found[id] {
				skipped = append(skipped, id)
			}
		}
		if len(eligible) == 0 {
			return svcerr.FailedPrecondition(svcerr.CodeNoValidPayouts, "No payouts in approved status to process")
		}

		now := time.Now()
		for i := range eligible {
			if processingFee != nil {
				if err := applyProcessingFee(&eligible[i], *processingFee); err != nil {
					return err
				}
			}
			if notes != nil {
				eligible[i].Notes = notes
			}
			eligible[i].Status = models.PayoutStatusProcessing
			if eligible[i].ProcessedAt == nil {
				eligible[i].ProcessedAt = &now
			}
			eligible[i].AdminID = &adminID
			if err := tx.Omit("PaymentMethod").Save(&eligible[i]).Error; err != nil {
				return svcerr.Internal("Failed to mark payout %d as processing: %v", eligible[i].ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	batchRef := uuid.NewString()

	gwCtx, cancel := context.WithTimeout(ctx, h.gatewayTimeout)
	defer cancel()

	result, err := h.gateway.ProcessBulk(gwCtx, batchRef, eligible)
	if err != nil {
		for i := range eligible {
			h.finalizeFailed(ctx, eligible[i].ID, adminID, "Bulk payment processing failed")
		}
		return nil, svcerr.Unavailable(svcerr.CodeBulkProcessingError, "Bulk payment processing failed")
	}

	summary := &BulkProcessSummary{Skipped: skipped}

	succeeded := make(map[int64]bool, len(result.Successful))
	failed := make(map[int64]string, len(result.Failed))
	for _, id := range result.Successful {
		succeeded[id] = true
	}
	for _, f := range result.Failed {
		failed[f.PayoutID] = f.Error
	}

	for i := range eligible {
		id := eligible[i].ID
		switch {
		case succeeded[id]:
			txnID := fmt.Sprintf("bulk-%s-%d", batchRef, id)
			if _, err := h.finalizeCompleted(ctx, id, adminID, txnID); err != nil {
				summary.Failed = append(summary.Failed, BulkPayoutFailure{PayoutID: id, Error: err.Error()})
				continue
			}
			summary.Completed = append(summary.Completed, id)
		case failed[id] != "":
			h.finalizeFailed(ctx, id, adminID, failed[id])
			summary.Failed = append(summary.Failed, BulkPayoutFailure{PayoutID: id, Error: failed[id]})
		default:
			// Gateway never reported on this payout. Fail it rather
			// than leave money in flight forever.
			reason := "No settlement result returned by gateway"
			h.finalizeFailed(ctx, id, adminID, reason)
			summary.Failed = append(summary.Failed, BulkPayoutFailure{PayoutID: id, Error: reason})
		}
	}
	summary.TotalProcessed = len(summary.Completed) + len(summary.Failed)

	return summary, nil
}

// --- Finalization ---

func (h *PayoutHandler) finalizeCompleted(ctx context.Context, payoutID, adminID int64, transactionID string) (*models.PayoutRequest, error) {
	var payout models.PayoutRequest
	var paidCommissionIDs []int64

	err := h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := database.LockForUpdate(tx).First(&payout, payoutID).Error; err != nil {
			return svcerr.Internal("Failed to reload payout %d: %v", payoutID, err)
		}
		if payout.Status != models.PayoutStatusProcessing {
			return svcerr.FailedPrecondition(svcerr.CodeInvalidStatusTransition, "Cannot transition payout from %s to %s", payout.Status, models.PayoutStatusCompleted)
		}

		now := time.Now()
		payout.Status = models.PayoutStatusCompleted
		if payout.CompletedAt == nil {
			payout.CompletedAt = &now
		}
		payout.TransactionID = &transactionID
		payout.FailureReason = nil
		if err := tx.Save(&payout).Error; err != nil {
			return svcerr.Internal("Failed to complete payout %d: %v", payoutID, err)
		}

		ids, err := markApprovedCommissionsPaid(tx, payout.MarketerID, payout.ID, adminID)
		if err != nil {
			return err
		}
		paidCommissionIDs = ids

		h.audit.Record(ctx, tx, audit.Entry{
			Action:       "payout.status_changed",
			ResourceType: "payout_request",
			ResourceID:   payout.ID,
			OldValue:     models.PayoutStatusProcessing,
			NewValue:     payout.Status,
			ActorID:      adminID,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(paidCommissionIDs) > 0 {
		h.ledger.InvalidateCommissionCaches(ctx, paidCommissionIDs...)
	}
	return &payout, nil
}

// finalizeFailed moves a processing payout to failed. Best effort: the
// gateway outcome is already known, so a write error here is logged
// and the payout stays in processing for an admin retry.
func (h *PayoutHandler) finalizeFailed(ctx context.Context, payoutID, adminID int64, reason string) {
	err := h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var payout models.PayoutRequest
		if err := database.LockForUpdate(tx).First(&payout, payoutID).Error; err != nil {
			return err
		}
		if payout.Status != models.PayoutStatusProcessing {
			return nil
		}

		payout.Status = models.PayoutStatusFailed
		payout.FailureReason = &reason
		if err := tx.Save(&payout).Error; err != nil {
			return err
		}

		h.audit.Record(ctx, tx, audit.Entry{
			Action:       "payout.status_changed",
			ResourceType: "payout_request",
			ResourceID:   payout.ID,
			OldValue:     models.PayoutStatusProcessing,
			NewValue:     payout.Status,
			Reason:       reason,
			ActorID:      adminID,
		})
		return nil
	})
	if err != nil {
		log.Printf("failed to mark payout %d as failed: %v", payoutID, err)
	}
}

package handler

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"google.golang.org/grpc/codes"
	"gorm.io/gorm"

	"afflink-system/config"
	"afflink-system/internal/database"
	"afflink-system/internal/database/models"
	"afflink-system/internal/services/audit"
	ledger "afflink-system/internal/services/ledger/handler"
	"afflink-system/internal/services/svcerr"
	"afflink-system/internal/utils"
)

// payoutTransitions is the full state machine. Anything not listed is
// rejected; failed -> processing is the only retry path.
var payoutTransitions = map[string][]string{
	models.PayoutStatusRequested:  {models.PayoutStatusApproved, models.PayoutStatusCancelled},
	models.PayoutStatusApproved:   {models.PayoutStatusProcessing, models.PayoutStatusCancelled},
	models.PayoutStatusProcessing: {models.PayoutStatusCompleted, models.PayoutStatusFailed},
	models.PayoutStatusFailed:     {models.PayoutStatusProcessing},
	models.PayoutStatusCompleted:  {},
	models.PayoutStatusCancelled:  {},
}

func CanTransition(from, to string) bool {
	for _, allowed := range payoutTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func isKnownPayoutStatus(status string) bool {
	_, ok := payoutTransitions[status]
	return ok
}

var inFlightStatuses = []string{
	models.PayoutStatusRequested,
	models.PayoutStatusApproved,
	models.PayoutStatusProcessing,
}

type PayoutHandler struct {
	db      *gorm.DB
	ledger  *ledger.LedgerHandler
	gateway PaymentGateway
	audit   *audit.Recorder
	locks   *utils.KeyMutex

	minWithdrawal  decimal.Decimal
	maxWithdrawal  decimal.Decimal
	bulkLimit      int
	gatewayTimeout time.Duration
}

func NewPayoutHandler(db *gorm.DB, ledgerHandler *ledger.LedgerHandler, gateway PaymentGateway, auditRec *audit.Recorder, cfg config.PayoutConfig) *PayoutHandler {
	min, err := decimal.NewFromString(cfg.MinWithdrawalAmount)
	if err != nil {
		min = decimal.NewFromInt(50)
	}
	max, err := decimal.NewFromString(cfg.MaxWithdrawalAmount)
	if err != nil {
		max = decimal.NewFromInt(10000)
	}
	bulkLimit := cfg.BulkProcessLimit
	if bulkLimit <= 0 {
		bulkLimit = 50
	}
	timeout := cfg.GatewayTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	// Share the ledger's per-marketer mutex so payout creation and
	// clawbacks serialize against each other, not just among payouts.
	locks := utils.NewKeyMutex()
	if ledgerHandler != nil {
		locks = ledgerHandler.MarketerLocks()
	}

	return &PayoutHandler{
		db:             db,
		ledger:         ledgerHandler,
		gateway:        gateway,
		audit:          auditRec,
		locks:          locks,
		minWithdrawal:  min,
		maxWithdrawal:  max,
		bulkLimit:      bulkLimit,
		gatewayTimeout: timeout,
	}
}

// --- Creation ---

// CreatePayoutRequest validates a marketer's withdrawal against the
// configured limits, the payment method, the available balance and the
// one-in-flight-payout invariant, in that order. The whole
// read-balance-then-write sequence runs under the marketer's lock.
func (h *PayoutHandler) CreatePayoutRequest(ctx context.Context, marketerID, paymentMethodID int64, amount string) (*models.PayoutRequest, error) {
	if marketerID <= 0 {
		return nil, svcerr.Validation("Marketer ID is required")
	}
	if paymentMethodID <= 0 {
		return nil, svcerr.Validation("Payment method ID is required")
	}

	amt, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, svcerr.Validation("Invalid amount: %q", amount)
	}
	if !amt.GreaterThan(decimal.Zero) {
		return nil, svcerr.Validation("Amount must be greater than zero")
	}
	if amt.LessThan(h.minWithdrawal) {
		return nil, svcerr.FailedPrecondition(svcerr.CodeAmountTooLow, "Minimum withdrawal amount is %s", h.minWithdrawal.StringFixed(2))
	}
	if amt.GreaterThan(h.maxWithdrawal) {
		return nil, svcerr.FailedPrecondition(svcerr.CodeAmountTooHigh, "Maximum withdrawal amount is %s", h.maxWithdrawal.StringFixed(2))
	}

	h.locks.Lock(marketerID)
	defer h.locks.Unlock(marketerID)

	var payout models.PayoutRequest

	err = h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var method models.PaymentMethod
		if err := tx.Where("id = ? AND user_id = ?", paymentMethodID, marketerID).First(&method).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return svcerr.New(codes.NotFound, svcerr.CodePaymentMethodNotFound, "Payment method with ID %d not found", paymentMethodID)
			}
			return svcerr.Internal("Failed to retrieve payment method: %v", err)
		}
		if !method.IsVerified {
			return svcerr.FailedPrecondition(svcerr.CodePaymentMethodNotVerified, "Payment method must be verified before requesting a payout")
		}

		available, err := ledger.AvailableBalance(tx, marketerID)
		if err != nil {
			return err
		}
		if amt.GreaterThan(available) {
			return svcerr.FailedPrecondition(svcerr.CodeInsufficientBalance, "Requested amount %s exceeds available balance %s", amt.StringFixed(2), available.StringFixed(2))
		}

		var inFlight int64
		if err := tx.Model(&models.PayoutRequest{}).
			Where("marketer_id = ? AND status IN ?", marketerID, inFlightStatuses).
			Count(&inFlight).Error; err != nil {
			return svcerr.Internal("Failed to check pending requests: %v", err)
		}
		if inFlight > 0 {
			return svcerr.AlreadyExists(svcerr.CodePendingRequestExists, "A payout request is already in flight for this marketer")
		}

		payout = models.PayoutRequest{
			MarketerID:      marketerID,
			PaymentMethodID: paymentMethodID,
			Amount:          amt.StringFixed(2),
			ProcessingFee:   "0.00",
			NetAmount:       amt.StringFixed(2),
			Status:          models.PayoutStatusRequested,
			RequestedAt:     time.Now(),
		}
		if err := tx.Create(&payout).Error; err != nil {
			return svcerr.Internal("Failed to create payout request: %v", err)
		}

		h.audit.Record(ctx, tx, audit.Entry{
			Action:       "payout.requested",
			ResourceType: "payout_request",
			ResourceID:   payout.ID,
			NewValue:     payout.Status,
			ActorID:      marketerID,
		})
		return nil
	})

	if err != nil {
		return nil, err
	}
	return &payout, nil
}

// --- Cancellation ---

// CancelPayoutRequest is the marketer-initiated path: only a request
// still awaiting review can be withdrawn.
func (h *PayoutHandler) CancelPayoutRequest(ctx context.Context, payoutID, marketerID int64) (*models.PayoutRequest, error) {
	h.locks.Lock(marketerID)
	defer h.locks.Unlock(marketerID)

	var payout models.PayoutRequest

	err := h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := database.LockForUpdate(tx).Where("id = ? AND marketer_id = ?", payoutID, marketerID).First(&payout).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return svcerr.NotFound("Payout request with ID %d not found", payoutID)
			}
			return svcerr.Internal("Failed to retrieve payout request: %v", err)
		}

		if payout.Status != models.PayoutStatusRequested {
			return svcerr.FailedPrecondition(svcerr.CodeCannotCancel, "Only requests awaiting review can be cancelled. Current status: %s", payout.Status)
		}

		oldStatus := payout.Status
		payout.Status = models.PayoutStatusCancelled
		if err := tx.Save(&payout).Error; err != nil {
			return svcerr.Internal("Failed to cancel payout request: %v", err)
		}

		h.audit.Record(ctx, tx, audit.Entry{
			Action:       "payout.status_changed",
			ResourceType: "payout_request",
			ResourceID:   payout.ID,
			OldValue:     oldStatus,
			NewValue:     payout.Status,
			ActorID:      marketerID,
		})
		return nil
	})

	if err != nil {
		return nil, err
	}
	return &payout, nil
}

// --- Admin transitions ---

type UpdatePayoutStatusInput struct {
	PayoutID      int64   `json:"payout_id"`
	NewStatus     string  `json:"new_status"`
	AdminID       int64   `json:"admin_id"`
	Notes         *string `json:"notes,omitempty"`
	FailureReason *string `json:"failure_reason,omitempty"`
	TransactionID *string `json:"transaction_id,omitempty"`
	ProcessingFee *string `json:"processing_fee,omitempty"`
}

// UpdatePayoutStatus drives admin transitions through the state
// machine. Timestamps are set on first entry into a status and never
// overwritten on re-entry (the failed -> processing retry path).
// Entering completed sweeps every approved commission of the marketer
// into paid.
func (h *PayoutHandler) UpdatePayoutStatus(ctx context.Context, in UpdatePayoutStatusInput) (*models.PayoutRequest, error) {
	if !isKnownPayoutStatus(in.NewStatus) {
		return nil, svcerr.Validation("Unknown payout status: %q", in.NewStatus)
	}
	if in.NewStatus == models.PayoutStatusFailed && (in.FailureReason == nil || *in.FailureReason == "") {
		return nil, svcerr.Validation("Failure reason is required when marking a payout as failed")
	}

	var payout models.PayoutRequest
	var paidCommissionIDs []int64

	err := h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := database.LockForUpdate(tx).First(&payout, in.PayoutID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return svcerr.NotFound("Payout request with ID %d not found", in.PayoutID)
			}
			return svcerr.Internal("Failed to retrieve payout request: %v", err)
		}

		if !CanTransition(payout.Status, in.NewStatus) {
			return svcerr.FailedPrecondition(svcerr.CodeInvalidStatusTransition, "Cannot transition payout from %s to %s", payout.Status, in.NewStatus)
		}

		if in.ProcessingFee != nil {
			if err := applyProcessingFee(&payout, *in.ProcessingFee); err != nil {
				return err
			}
		}

		oldStatus := payout.Status
		payout.Status = in.NewStatus
		payout.AdminID = &in.AdminID
		if in.Notes != nil {
			payout.Notes = in.Notes
		}

		now := time.Now()
		switch in.NewStatus {
		case models.PayoutStatusApproved:
			if payout.ApprovedAt == nil {
				payout.ApprovedAt = &now
			}
		case models.PayoutStatusProcessing:
			if payout.ProcessedAt == nil {
				payout.ProcessedAt = &now
			}
		case models.PayoutStatusCompleted:
			if payout.CompletedAt == nil {
				payout.CompletedAt = &now
			}
			if in.TransactionID != nil {
				payout.TransactionID = in.TransactionID
			}
		case models.PayoutStatusFailed:
			payout.FailureReason = in.FailureReason
		}

		if err := tx.Save(&payout).Error; err != nil {
			return svcerr.Internal("Failed to save payout status: %v", err)
		}

		if in.NewStatus == models.PayoutStatusCompleted {
			ids, err := markApprovedCommissionsPaid(tx, payout.MarketerID, payout.ID, in.AdminID)
			if err != nil {
				return err
			}
			paidCommissionIDs = ids
		}

		h.audit.Record(ctx, tx, audit.Entry{
			Action:       "payout.status_changed",
			ResourceType: "payout_request",
			ResourceID:   payout.ID,
			OldValue:     oldStatus,
			NewValue:     payout.Status,
			ActorID:      in.AdminID,
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

func applyProcessingFee(payout *models.PayoutRequest, fee string) error {
	f, err := decimal.NewFromString(fee)
	if err != nil {
		return svcerr.Validation("Invalid processing fee: %q", fee)
	}
	if f.LessThan(decimal.Zero) {
		return svcerr.Validation("Processing fee must not be negative")
	}
	amount, _ := decimal.NewFromString(payout.Amount)
	if f.GreaterThan(amount) {
		return svcerr.Validation("Processing fee cannot exceed the payout amount")
	}
	payout.ProcessingFee = f.StringFixed(2)
	payout.NetAmount = amount.Sub(f).StringFixed(2)
	return nil
}

// markApprovedCommissionsPaid sweeps every approved commission of the
// marketer into paid and records a payment ledger entry per
// commission. The sweep is intentionally not scoped to the commissions
// that funded the payout; the balance model is aggregate, not
// line-item.
func markApprovedCommissionsPaid(tx *gorm.DB, marketerID, payoutID, adminID int64) ([]int64, error) {
	var commissions []models.Commission
	if err := database.LockForUpdate(tx).
		Where("marketer_id = ? AND status = ?", marketerID, models.CommissionStatusApproved).
		Find(&commissions).Error; err != nil {
		return nil, svcerr.Internal("Failed to load approved commissions: %v", err)
	}
	if len(commissions) == 0 {
		return nil, nil
	}

	ids := make([]int64, 0, len(commissions))
	for _, commission := range commissions {
		ids = append(ids, commission.ID)
	}

	if err := tx.Model(&models.Commission{}).
		Where("id IN ?", ids).
		Update("status", models.CommissionStatusPaid).Error; err != nil {
		return nil, svcerr.Internal("Failed to mark commissions as paid: %v", err)
	}

	entries := make([]models.CommissionAdjustment, 0, len(ids))
	for _, id := range ids {
		entries = append(entries, models.CommissionAdjustment{
			CommissionID:   id,
			AdjustmentType: models.AdjustmentTypePayment,
			Amount:         "0.00",
			Reason:         fmt.Sprintf("Settled by payout #%d", payoutID),
			AdminID:        adminID,
		})
	}
	if err := tx.Create(&entries).Error; err != nil {
		return nil, svcerr.Internal("Failed to write payment entries: %v", err)
	}

	return ids, nil
}

// --- Reads ---

type ListPayoutsInput struct {
	MarketerID *int64
	Status     *string
	From       *time.Time
	To         *time.Time
	Page       int
	PageSize   int
}

type PayoutList struct {
	Payouts       []models.PayoutRequest `json:"payouts"`
	TotalCount    int64                  `json:"total_count"`
	NextPageToken string                 `json:"next_page_token"`
}

func (h *PayoutHandler) ListPayoutRequests(ctx context.Context, in ListPayoutsInput) (*PayoutList, error) {
	page := in.Page
	if page <= 0 {
		page = 1
	}
	limit := in.PageSize
	if limit <= 0 {
		limit = 20
	}
	offset := (page - 1) * limit

	query := h.db.WithContext(ctx).Model(&models.PayoutRequest{})
	if in.MarketerID != nil {
		query = query.Where("marketer_id = ?", *in.MarketerID)
	}
	if in.Status != nil {
		query = query.Where("status = ?", *in.Status)
	}
	if in.From != nil {
		query = query.Where("requested_at >= ?", *in.From)
	}
	if in.To != nil {
		query = query.Where("requested_at <= ?", *in.To)
	}

	var totalCount int64
	if err := query.Count(&totalCount).Error; err != nil {
		return nil, svcerr.Internal("Failed to count payout requests: %v", err)
	}

	var payouts []models.PayoutRequest
	if err := query.
		Order("requested_at desc, id desc").
		Offset(offset).
		Limit(limit).
		Find(&payouts).Error; err != nil {
		return nil, svcerr.Internal("Failed to retrieve payout requests: %v", err)
	}

	nextPageToken := ""
	if int64(offset+limit) < totalCount {
		nextPageToken = strconv.Itoa(page + 1)
	}

	return &PayoutList{
		Payouts:       payouts,
		TotalCount:    totalCount,
		NextPageToken: nextPageToken,
	}, nil
}

func (h *PayoutHandler) GetPayoutRequest(ctx context.Context, payoutID int64) (*models.PayoutRequest, error) {
	var payout models.PayoutRequest
	if err := h.db.WithContext(ctx).Preload("PaymentMethod").First(&payout, payoutID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, svcerr.NotFound("Payout request with ID %d not found", payoutID)
		}
		return nil, svcerr.Internal("Failed to retrieve payout request: %v", err)
	}
	return &payout, nil
}

package handler

import (
	"context"
	"encoding/json"

	"gorm.io/gorm"

	"afflink-system/internal/database/models"
	"afflink-system/internal/services/audit"
	"afflink-system/internal/services/svcerr"
)

// requiredDetailFields lists the account detail keys each method type
// must carry. Details are stored as the raw JSON blob; only presence
// is validated here.
var requiredDetailFields = map[string][]string{
	models.PaymentMethodBankTransfer: {"account_name", "account_number", "bank_name"},
	models.PaymentMethodPaypal:       {"email"},
	models.PaymentMethodCrypto:       {"address", "network"},
}

func validateAccountDetails(methodType string, details json.RawMessage) error {
	required, ok := requiredDetailFields[methodType]
	if !ok {
		return svcerr.Validation("Unknown payment method type: %q", methodType)
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal(details, &parsed); err != nil {
		return svcerr.Validation("Account details must be a JSON object")
	}
	for _, field := range required {
		value, ok := parsed[field].(string)
		if !ok || value == "" {
			return svcerr.Validation("Account details for %s must include %q", methodType, field)
		}
	}
	return nil
}

func (h *PayoutHandler) CreatePaymentMethod(ctx context.Context, userID int64, methodType string, accountDetails json.RawMessage) (*models.PaymentMethod, error) {
	if userID <= 0 {
		return nil, svcerr.Validation("User ID is required")
	}
	if err := validateAccountDetails(methodType, accountDetails); err != nil {
		return nil, err
	}

	method := models.PaymentMethod{
		UserID:             userID,
		MethodType:         methodType,
		AccountDetails:     string(accountDetails),
		IsVerified:         false,
		VerificationStatus: models.VerificationStatusPending,
	}
	if err := h.db.WithContext(ctx).Create(&method).Error; err != nil {
		return nil, svcerr.Internal("Failed to create payment method: %v", err)
	}

	h.audit.Record(ctx, h.db, audit.Entry{
		Action:       "payment_method.created",
		ResourceType: "payment_method",
		ResourceID:   method.ID,
		NewValue:     method.MethodType,
		ActorID:      userID,
	})
	return &method, nil
}

// VerifyPaymentMethod records the admin review outcome. A rejected
// method keeps its details so the owner can see what was reviewed.
func (h *PayoutHandler) VerifyPaymentMethod(ctx context.Context, methodID, adminID int64, approve bool, reason string) (*models.PaymentMethod, error) {
	var method models.PaymentMethod

	err := h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&method, methodID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return svcerr.NotFound("Payment method with ID %d not found", methodID)
			}
			return svcerr.Internal("Failed to retrieve payment method: %v", err)
		}
		if method.VerificationStatus != models.VerificationStatusPending {
			return svcerr.InvalidOperation("Payment method has already been reviewed. Current status: %s", method.VerificationStatus)
		}
		if !approve && reason == "" {
			return svcerr.Validation("A reason is required when rejecting a payment method")
		}

		oldStatus := method.VerificationStatus
		if approve {
			method.IsVerified = true
			method.VerificationStatus = models.VerificationStatusVerified
		} else {
			method.VerificationStatus = models.VerificationStatusRejected
		}
		if err := tx.Save(&method).Error; err != nil {
			return svcerr.Internal("Failed to update payment method: %v", err)
		}

		h.audit.Record(ctx, tx, audit.Entry{
			Action:       "payment_method.reviewed",
			ResourceType: "payment_method",
			ResourceID:   method.ID,
			OldValue:     oldStatus,
			NewValue:     method.VerificationStatus,
			Reason:       reason,
			ActorID:      adminID,
		})
		return nil
	})

	if err != nil {
		return nil, err
	}
	return &method, nil
}

func (h *PayoutHandler) ListPaymentMethods(ctx context.Context, userID int64) ([]models.PaymentMethod, error) {
	var methods []models.PaymentMethod
	if err := h.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc, id desc").
		Find(&methods).Error; err != nil {
		return nil, svcerr.Internal("Failed to retrieve payment methods: %v", err)
	}
	return methods, nil
}

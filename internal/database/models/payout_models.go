package models

import "time"

const (
	PayoutStatusRequested  = "requested"
	PayoutStatusApproved   = "approved"
	PayoutStatusProcessing = "processing"
	PayoutStatusCompleted  = "completed"
	PayoutStatusFailed     = "failed"
	PayoutStatusCancelled  = "cancelled"
)

const (
	PaymentMethodBankTransfer = "bank_transfer"
	PaymentMethodPaypal       = "paypal"
	PaymentMethodCrypto       = "crypto"
)

const (
	VerificationStatusPending  = "pending"
	VerificationStatusVerified = "verified"
	VerificationStatusRejected = "rejected"
)

// PayoutRequest is a marketer's withdrawal request. Settlement is
// balance-based: the request does not reference specific commissions.
type PayoutRequest struct {
	ID              int64 `gorm:"primaryKey;autoIncrement" json:"id"`
	MarketerID      int64 `gorm:"index;not null" json:"marketer_id"`
	PaymentMethodID int64 `gorm:"not null" json:"payment_method_id"`

	Amount        string `gorm:"type:decimal(18,2);not null" json:"amount"`
	ProcessingFee string `gorm:"type:decimal(18,2);not null;default:'0.00'" json:"processing_fee"`
	NetAmount     string `gorm:"type:decimal(18,2);not null" json:"net_amount"`

	Status string `gorm:"type:varchar(20);index;not null;default:'requested'" json:"status"`

	RequestedAt time.Time  `gorm:"not null" json:"requested_at"`
	ApprovedAt  *time.Time `json:"approved_at,omitempty"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	FailureReason *string `gorm:"type:text" json:"failure_reason,omitempty"`
	TransactionID *string `gorm:"type:varchar(128)" json:"transaction_id,omitempty"`
	AdminID       *int64  `json:"admin_id,omitempty"`
	Notes         *string `gorm:"type:text" json:"notes,omitempty"`

	CreatedAt *time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt *time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	PaymentMethod *PaymentMethod `gorm:"foreignKey:PaymentMethodID" json:"payment_method,omitempty"`
}

// PaymentMethod is a payout destination owned by a marketer. The
// settlement engine treats it as opaque once verified; account details
// are validated per method type at creation.
type PaymentMethod struct {
	ID                 int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID             int64      `gorm:"index;not null" json:"user_id"`
	MethodType         string     `gorm:"type:varchar(20);not null" json:"method_type"`
	AccountDetails     string     `gorm:"type:text;not null" json:"account_details"`
	IsVerified         bool       `gorm:"not null;default:false" json:"is_verified"`
	VerificationStatus string     `gorm:"type:varchar(20);not null;default:'pending'" json:"verification_status"`
	CreatedAt          *time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          *time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

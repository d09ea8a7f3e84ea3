package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	CommissionStatusPending    = "pending"
	CommissionStatusApproved   = "approved"
	CommissionStatusPaid       = "paid"
	CommissionStatusClawedBack = "clawed_back"
	CommissionStatusRejected   = "rejected"
)

const (
	AdjustmentTypeClawback     = "clawback"
	AdjustmentTypeBonus        = "bonus"
	AdjustmentTypeCorrection   = "correction"
	AdjustmentTypeStatusChange = "status_change"
	AdjustmentTypePayment      = "payment"
)

// Commission is one unit of money owed to a marketer for a qualifying
// conversion. Rows are never deleted; lifecycle state changes only
// through status transitions.
type Commission struct {
	ID           int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	MarketerID   int64  `gorm:"index;not null" json:"marketer_id"`
	CustomerID   int64  `gorm:"not null" json:"customer_id"`
	ProductID    int64  `gorm:"not null" json:"product_id"`
	TrackingCode string `gorm:"type:varchar(64);index;not null" json:"tracking_code"`

	InitialSpendAmount   string  `gorm:"type:decimal(18,2);not null" json:"initial_spend_amount"`
	CommissionRate       *string `gorm:"type:decimal(5,4)" json:"commission_rate,omitempty"`
	CommissionFlatAmount *string `gorm:"type:decimal(18,2)" json:"commission_flat_amount,omitempty"`
	CommissionAmount     string  `gorm:"type:decimal(18,2);not null" json:"commission_amount"`

	Status string `gorm:"type:varchar(20);index;not null;default:'pending'" json:"status"`

	ConversionDate        time.Time  `gorm:"not null" json:"conversion_date"`
	ClearancePeriodDays   int32      `gorm:"not null;default:30" json:"clearance_period_days"`
	EligibleForPayoutDate time.Time  `gorm:"not null" json:"eligible_for_payout_date"`
	ApprovalDate          *time.Time `json:"approval_date,omitempty"`

	CreatedAt *time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt *time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	Adjustments []CommissionAdjustment `gorm:"foreignKey:CommissionID" json:"adjustments,omitempty"`
}

// BeforeSave keeps eligible_for_payout_date derived from its inputs so
// it can never be stored stale.
func (c *Commission) BeforeSave(tx *gorm.DB) error {
	if !c.ConversionDate.IsZero() {
		c.EligibleForPayoutDate = c.ConversionDate.AddDate(0, 0, int(c.ClearancePeriodDays))
	}
	return nil
}

// CommissionAdjustment is an append-only ledger entry against a
// commission. Entries are never edited or deleted; corrections are new
// entries. Clawbacks carry negative amounts, bonuses positive ones.
type CommissionAdjustment struct {
	ID             int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	CommissionID   int64      `gorm:"index;not null" json:"commission_id"`
	AdjustmentType string     `gorm:"type:varchar(20);index;not null" json:"adjustment_type"`
	Amount         string     `gorm:"type:decimal(18,2);not null" json:"amount"`
	Reason         string     `gorm:"type:varchar(1000);not null" json:"reason"`
	AdminID        int64      `gorm:"not null" json:"admin_id"`
	CreatedAt      *time.Time `gorm:"autoCreateTime" json:"created_at"`
}

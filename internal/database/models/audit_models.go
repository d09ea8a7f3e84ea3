package models

import "time"

// AuditLog records who changed what. Written best-effort; never read
// by the engine itself.
type AuditLog struct {
	ID           int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	Action       string     `gorm:"type:varchar(64);index;not null" json:"action"`
	ResourceType string     `gorm:"type:varchar(32);not null" json:"resource_type"`
	ResourceID   int64      `gorm:"index;not null" json:"resource_id"`
	OldValue     *string    `gorm:"type:text" json:"old_value,omitempty"`
	NewValue     *string    `gorm:"type:text" json:"new_value,omitempty"`
	Reason       *string    `gorm:"type:text" json:"reason,omitempty"`
	ActorID      int64      `gorm:"not null" json:"actor_id"`
	CreatedAt    *time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// Package audit writes audit records for money-affecting operations.
// Recording is best-effort: a failed write is logged and swallowed,
// never propagated into the operation that triggered it.
package audit

import (
	"context"
	"log"

	"gorm.io/gorm"

	"afflink-system/internal/database/models"
)

type Entry struct {
	Action       string
	ResourceType string
	ResourceID   int64
	OldValue     string
	NewValue     string
	Reason       string
	ActorID      int64
}

type Recorder struct {
	db *gorm.DB
}

func NewRecorder(db *gorm.DB) *Recorder {
	return &Recorder{db: db}
}

// Record writes the entry through db, which must be the handle the
// caller is currently operating on. Inside a transaction that is the
// tx itself, so the audit row commits or rolls back with the change
// and never waits on a second pooled connection. A nil db falls back
// to the recorder's root handle.
func (r *Recorder) Record(ctx context.Context, db *gorm.DB, e Entry) {
	if r == nil {
		return
	}
	if db == nil {
		db = r.db
	}
	if db == nil {
		return
	}

	rec := models.AuditLog{
		Action:       e.Action,
		ResourceType: e.ResourceType,
		ResourceID:   e.ResourceID,
		OldValue:     strPtr(e.OldValue),
		NewValue:     strPtr(e.NewValue),
		Reason:       strPtr(e.Reason),
		ActorID:      e.ActorID,
	}
	if err := db.WithContext(ctx).Create(&rec).Error; err != nil {
		log.Printf("audit: failed to record %s for %s %d: %v", e.Action, e.ResourceType, e.ResourceID, err)
	}
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

package model

import "time"

// AuditEntry documents one successful mutation of a flag. Entries are only
// ever appended.
type AuditEntry struct {
	ID               int64     `json:"id" gorm:"primaryKey"`
	Namespace        string    `json:"namespace" gorm:"size:64;index:idx_audit_scope,priority:1"`
	Env              string    `json:"env" gorm:"size:32;index:idx_audit_scope,priority:2"`
	Key              string    `json:"key" gorm:"size:128;index:idx_audit_scope,priority:3"`
	Action           string    `json:"type" gorm:"size:16"`
	FlagType         string    `json:"flag_type" gorm:"size:16"`
	OldValue         string    `json:"old_value" gorm:"type:text"`
	NewValue         string    `json:"new_value" gorm:"type:text"`
	Operator         string    `json:"operator" gorm:"size:64"`
	ResultingVersion int64     `json:"resulting_version"`
	RollbackOf       int64     `json:"rollback_of,omitempty"`
	TraceID          string    `json:"trace_id" gorm:"size:36;index"`
	CreatedAt        time.Time `json:"created_at" gorm:"index"`
}

func (AuditEntry) TableName() string { return "flag_audits" }

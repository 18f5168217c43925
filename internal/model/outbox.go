package model

import "time"

// OutboxTask carries a committed flag state to etcd. It is written in the same
// transaction as the flag and its audit entry.
type OutboxTask struct {
	ID         int64     `json:"id" gorm:"primaryKey"`
	// Key is the full etcd path, {prefix}{env}/{namespace}/features/{key}.
	Key        string    `json:"key" gorm:"size:512;index"`
	Version    int64     `json:"version"`
	Payload    string    `json:"payload" gorm:"type:text"`
	Status     int       `json:"status" gorm:"index"`
	RetryCount int       `json:"retry_count" gorm:"default:0"`
	TraceID    string    `json:"trace_id" gorm:"size:64;index"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

const (
	StatusPending   = 0
	StatusCompleted = 1
	StatusFailed    = 2
)

package repository

import (
	"context"
	"errors"

	"flagplane/internal/model"
)

var (
	// ErrNotFound is returned when a flag or audit entry does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a flag changed between read and write, or
	// when two writers race to create the same flag.
	ErrConflict = errors.New("concurrent modification")
)

// FlagQuery selects flags of one scope ordered by key.
type FlagQuery struct {
	Namespace string
	Env       string
	// Search filters keys containing the substring.
	Search string
	// After is an exclusive key cursor for pagination.
	After string
	// Limit caps the page size; zero means no limit.
	Limit int
}

// Tx is the view of the store inside one unit of work. Either every write made
// through it becomes visible or none does.
type Tx interface {
	GetFlag(ctx context.Context, namespace, env, key string) (*model.FlagRecord, error)
	InsertFlag(ctx context.Context, rec *model.FlagRecord) error
	// UpdateFlag persists rec only if the stored version is still prevVersion.
	UpdateFlag(ctx context.Context, rec *model.FlagRecord, prevVersion int64) error
	AppendAudit(ctx context.Context, entry *model.AuditEntry) error
	EnqueueOutbox(ctx context.Context, task *model.OutboxTask) error
}

// Store is the durable home of flags, their history and the outbox.
type Store interface {
	GetFlag(ctx context.Context, namespace, env, key string) (*model.FlagRecord, error)
	ListFlags(ctx context.Context, q FlagQuery) ([]model.FlagRecord, error)
	// ScanFlags walks every flag of every scope in id order.
	ScanFlags(ctx context.Context, afterID uint64, limit int) ([]model.FlagRecord, error)
	ListAudits(ctx context.Context, namespace, env, key string) ([]model.AuditEntry, error)
	FindAudit(ctx context.Context, id int64) (*model.AuditEntry, error)
	Atomic(ctx context.Context, fn func(tx Tx) error) error
	Ping(ctx context.Context) error
}

// OutboxStore is consumed by the worker that ships committed flags to etcd.
type OutboxStore interface {
	FetchPending(ctx context.Context, limit int) ([]model.OutboxTask, error)
	UpdateStatus(ctx context.Context, id int64, status int, retryCount int) error
}

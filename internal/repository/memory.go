package repository

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"flagplane/internal/model"
	v1 "flagplane/pkg/api/v1"
)

// MemoryStore implements Store and OutboxStore in process memory. Units of
// work stage their writes and apply them at commit after re-checking the
// versions they read, so a failed unit leaves nothing behind.
type MemoryStore struct {
	mu          sync.RWMutex
	flags       map[string]*model.FlagRecord
	audits      []model.AuditEntry
	outbox      []model.OutboxTask
	nextFlagID  uint64
	nextAuditID int64
	nextTaskID  int64
	now         func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		flags: make(map[string]*model.FlagRecord),
		now:   time.Now,
	}
}

func (s *MemoryStore) GetFlag(_ context.Context, namespace, env, key string) (*model.FlagRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.flags[v1.ScopeKey(namespace, env, key)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) ListFlags(_ context.Context, q FlagQuery) ([]model.FlagRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	flags := make([]model.FlagRecord, 0)
	for _, rec := range s.flags {
		if rec.Namespace != q.Namespace || rec.Env != q.Env {
			continue
		}
		if q.Search != "" && !strings.Contains(rec.Key, q.Search) {
			continue
		}
		if q.After != "" && rec.Key <= q.After {
			continue
		}
		flags = append(flags, *rec)
	}
	slices.SortFunc(flags, func(a, b model.FlagRecord) int { return strings.Compare(a.Key, b.Key) })
	if q.Limit > 0 && len(flags) > q.Limit {
		flags = flags[:q.Limit]
	}
	return flags, nil
}

func (s *MemoryStore) ScanFlags(_ context.Context, afterID uint64, limit int) ([]model.FlagRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	flags := make([]model.FlagRecord, 0)
	for _, rec := range s.flags {
		if rec.ID > afterID {
			flags = append(flags, *rec)
		}
	}
	slices.SortFunc(flags, func(a, b model.FlagRecord) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	if limit > 0 && len(flags) > limit {
		flags = flags[:limit]
	}
	return flags, nil
}

func (s *MemoryStore) ListAudits(_ context.Context, namespace, env, key string) ([]model.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	audits := make([]model.AuditEntry, 0)
	for i := len(s.audits) - 1; i >= 0; i-- {
		a := s.audits[i]
		if a.Namespace == namespace && a.Env == env && a.Key == key {
			audits = append(audits, a)
		}
	}
	return audits, nil
}

func (s *MemoryStore) FindAudit(_ context.Context, id int64) (*model.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	// ids are assigned densely from 1
	if id < 1 || id > int64(len(s.audits)) {
		return nil, ErrNotFound
	}
	a := s.audits[id-1]
	return &a, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Atomic(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memoryTx{store: s, staged: make(map[string]*stagedFlag)}
	if err := fn(tx); err != nil {
		return err
	}
	return s.commit(tx)
}

func (s *MemoryStore) commit(tx *memoryTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for scope, sf := range tx.staged {
		cur, exists := s.flags[scope]
		if sf.insert && exists {
			return ErrConflict
		}
		if !sf.insert && (!exists || cur.Version != sf.prevVersion) {
			return ErrConflict
		}
	}

	now := s.now()
	for scope, sf := range tx.staged {
		rec := *sf.rec
		if sf.insert {
			s.nextFlagID++
			rec.ID = s.nextFlagID
			rec.CreatedAt = now
			sf.rec.ID = rec.ID
			sf.rec.CreatedAt = now
		}
		s.flags[scope] = &rec
	}
	for _, a := range tx.audits {
		s.nextAuditID++
		a.ID = s.nextAuditID
		if a.CreatedAt.IsZero() {
			a.CreatedAt = now
		}
		s.audits = append(s.audits, *a)
	}
	for _, t := range tx.outbox {
		s.nextTaskID++
		t.ID = s.nextTaskID
		t.CreatedAt, t.UpdatedAt = now, now
		s.outbox = append(s.outbox, *t)
	}
	return nil
}

func (s *MemoryStore) FetchPending(_ context.Context, limit int) ([]model.OutboxTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tasks := make([]model.OutboxTask, 0, limit)
	for _, t := range s.outbox {
		if t.Status != model.StatusPending {
			continue
		}
		tasks = append(tasks, t)
		if len(tasks) == limit {
			break
		}
	}
	return tasks, nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id int64, status int, retryCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id < 1 || id > int64(len(s.outbox)) {
		return ErrNotFound
	}
	t := &s.outbox[id-1]
	t.Status = status
	t.RetryCount = retryCount
	t.UpdatedAt = s.now()
	return nil
}

type stagedFlag struct {
	rec         *model.FlagRecord
	insert      bool
	prevVersion int64
}

type memoryTx struct {
	store  *MemoryStore
	staged map[string]*stagedFlag
	audits []*model.AuditEntry
	outbox []*model.OutboxTask
}

func (t *memoryTx) GetFlag(ctx context.Context, namespace, env, key string) (*model.FlagRecord, error) {
	if sf, ok := t.staged[v1.ScopeKey(namespace, env, key)]; ok {
		cp := *sf.rec
		return &cp, nil
	}
	return t.store.GetFlag(ctx, namespace, env, key)
}

func (t *memoryTx) InsertFlag(_ context.Context, rec *model.FlagRecord) error {
	scope := v1.ScopeKey(rec.Namespace, rec.Env, rec.Key)
	if _, ok := t.staged[scope]; ok {
		return ErrConflict
	}
	t.staged[scope] = &stagedFlag{rec: rec, insert: true}
	return nil
}

func (t *memoryTx) UpdateFlag(_ context.Context, rec *model.FlagRecord, prevVersion int64) error {
	scope := v1.ScopeKey(rec.Namespace, rec.Env, rec.Key)
	if sf, ok := t.staged[scope]; ok {
		if sf.rec.Version != prevVersion {
			return ErrConflict
		}
		sf.rec = rec
		return nil
	}
	t.staged[scope] = &stagedFlag{rec: rec, prevVersion: prevVersion}
	return nil
}

func (t *memoryTx) AppendAudit(_ context.Context, entry *model.AuditEntry) error {
	t.audits = append(t.audits, entry)
	return nil
}

func (t *memoryTx) EnqueueOutbox(_ context.Context, task *model.OutboxTask) error {
	t.outbox = append(t.outbox, task)
	return nil
}

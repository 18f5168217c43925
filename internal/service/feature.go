package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"flagplane/internal/metrics"
	"flagplane/internal/model"
	"flagplane/internal/repository"
	v1 "flagplane/pkg/api/v1"
	"flagplane/pkg/constraints"
	"flagplane/pkg/logger"
	"flagplane/pkg/strategy"

	"go.uber.org/zap"
)

// maxWriteAttempts bounds the retries of a write that lost a race against
// another process on the same key.
const maxWriteAttempts = 3

const snapshotBatch = 500

// EventSink receives one StreamEvent per committed mutation, in version
// order per key. Publish runs under the key lock and must only enqueue.
type EventSink interface {
	Publish(ev v1.StreamEvent)
}

// Sinks fans an event out to several sinks in order.
type Sinks []EventSink

func (s Sinks) Publish(ev v1.StreamEvent) {
	for _, sink := range s {
		sink.Publish(ev)
	}
}

// Notifier is poked after every commit that enqueued outbox work.
type Notifier interface {
	Notify()
}

type WriteInput struct {
	Namespace string
	Env       string
	Key       string
	Type      string
	Value     string
	Operator  string
	// ExpectedVersion, when set, fails the write with ErrVersionConflict
	// unless the current version matches. Zero means "must not exist".
	ExpectedVersion *int64
	TraceID         string
	rollbackOf      int64
}

type RollbackInput struct {
	Namespace string
	Env       string
	Key       string
	AuditID   int64
	Operator  string
	TraceID   string
}

type ListOptions struct {
	Search string
	After  string
	Limit  int
}

type FeatureService struct {
	store     repository.Store
	sink      EventSink
	observer  metrics.StoreObserver
	publisher FlagPublisher
	notifier  Notifier
	locks     *keyLocks
	now       func() time.Time
}

type Option func(*FeatureService)

// WithOutbox enqueues every committed flag for publisher and pokes notifier
// after each commit.
func WithOutbox(publisher FlagPublisher, notifier Notifier) Option {
	return func(s *FeatureService) {
		s.publisher = publisher
		s.notifier = notifier
	}
}

func WithStoreObserver(o metrics.StoreObserver) Option {
	return func(s *FeatureService) { s.observer = o }
}

func WithClock(now func() time.Time) Option {
	return func(s *FeatureService) { s.now = now }
}

func NewFeatureService(store repository.Store, sink EventSink, opts ...Option) *FeatureService {
	s := &FeatureService{
		store: store,
		sink:  sink,
		locks: newKeyLocks(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *FeatureService) Get(ctx context.Context, namespace, env, key string) (*model.FlagRecord, error) {
	if err := validateKey(namespace, env, key); err != nil {
		return nil, err
	}
	rec, err := s.store.GetFlag(ctx, namespace, env, key)
	if err != nil {
		return nil, translate(err, "flag %s/%s/%s", namespace, env, key)
	}
	return rec, nil
}

func (s *FeatureService) List(ctx context.Context, namespace, env string, opts ListOptions) ([]model.FlagRecord, error) {
	if err := validateScope(namespace, env); err != nil {
		return nil, err
	}
	flags, err := s.store.ListFlags(ctx, repository.FlagQuery{
		Namespace: namespace,
		Env:       env,
		Search:    opts.Search,
		After:     opts.After,
		Limit:     opts.Limit,
	})
	if err != nil {
		return nil, translate(err, "list %s/%s", namespace, env)
	}
	return flags, nil
}

// Write creates the flag at version 1 or moves it to the next version. The
// record, its audit entry and the outbox task commit together. The value is
// checked inside the unit of work, after the stored type, so a type change
// is always reported as ErrTypeImmutable. The stream event is handed to the
// sink after the commit while the key is still held, so events of one key
// leave in version order.
func (s *FeatureService) Write(ctx context.Context, in WriteInput) (*model.FlagRecord, *model.AuditEntry, error) {
	start := time.Now()
	rec, entry, err := s.write(ctx, in)
	s.observe(err, time.Since(start))
	return rec, entry, err
}

func (s *FeatureService) write(ctx context.Context, in WriteInput) (*model.FlagRecord, *model.AuditEntry, error) {
	if err := validateKey(in.Namespace, in.Env, in.Key); err != nil {
		return nil, nil, err
	}
	if in.Operator == "" {
		in.Operator = GetOperator(ctx)
	}
	if in.TraceID == "" {
		in.TraceID = GetTraceID(ctx)
	}

	unlock := s.locks.lock(v1.ScopeKey(in.Namespace, in.Env, in.Key))
	defer unlock()

	var (
		rec   *model.FlagRecord
		entry *model.AuditEntry
		err   error
	)
	for attempt := 1; attempt <= maxWriteAttempts; attempt++ {
		rec, entry, err = s.commit(ctx, in)
		if !errors.Is(err, repository.ErrConflict) {
			break
		}
		logger.Debug("write lost a race, retrying",
			zap.String("key", in.Key),
			zap.String("namespace", in.Namespace),
			zap.String("env", in.Env),
			zap.Int("attempt", attempt))
	}
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			err = fmt.Errorf("%w: concurrent writers on %s", ErrVersionConflict, in.Key)
		}
		if !isDomainError(err) {
			logger.Error("flag write failed",
				zap.String("key", in.Key),
				zap.String("namespace", in.Namespace),
				zap.String("env", in.Env),
				zap.String("trace_id", in.TraceID),
				zap.Error(err))
		}
		return nil, nil, translate(err, "write %s", in.Key)
	}

	if s.sink != nil {
		s.sink.Publish(v1.StreamEvent{
			Type:      entry.Action,
			Key:       rec.Key,
			Namespace: rec.Namespace,
			Env:       rec.Env,
			Version:   rec.Version,
			Value:     rec.Value,
			UpdatedAt: rec.UpdatedAt,
		})
	}
	if s.notifier != nil {
		s.notifier.Notify()
	}

	logger.Info("flag written",
		zap.String("key", rec.Key),
		zap.String("namespace", rec.Namespace),
		zap.String("env", rec.Env),
		zap.Int64("version", rec.Version),
		zap.String("action", entry.Action),
		zap.String("operator", in.Operator),
		zap.String("trace_id", in.TraceID))
	return rec, entry, nil
}

func (s *FeatureService) commit(ctx context.Context, in WriteInput) (*model.FlagRecord, *model.AuditEntry, error) {
	var rec *model.FlagRecord
	var entry *model.AuditEntry

	err := s.store.Atomic(ctx, func(tx repository.Tx) error {
		cur, err := tx.GetFlag(ctx, in.Namespace, in.Env, in.Key)
		if errors.Is(err, repository.ErrNotFound) {
			cur = nil
		} else if err != nil {
			return err
		}

		// the stored type wins over whatever the value would parse as
		if cur != nil && cur.Type != in.Type {
			return fmt.Errorf("%w: %s is %s, not %s", ErrTypeImmutable, in.Key, cur.Type, in.Type)
		}
		if err := validateValue(in.Type, in.Value); err != nil {
			return err
		}

		if in.ExpectedVersion != nil {
			var have int64
			if cur != nil {
				have = cur.Version
			}
			if have != *in.ExpectedVersion {
				return fmt.Errorf("%w: %s is at version %d, expected %d", ErrVersionConflict, in.Key, have, *in.ExpectedVersion)
			}
		}

		now := s.now()
		entry = &model.AuditEntry{
			Namespace:  in.Namespace,
			Env:        in.Env,
			Key:        in.Key,
			FlagType:   in.Type,
			NewValue:   in.Value,
			Operator:   in.Operator,
			RollbackOf: in.rollbackOf,
			TraceID:    in.TraceID,
			CreatedAt:  now,
		}

		if cur == nil {
			rec = &model.FlagRecord{
				Namespace: in.Namespace,
				Env:       in.Env,
				Key:       in.Key,
				Type:      in.Type,
				Value:     in.Value,
				Version:   1,
				CreatedAt: now,
				UpdatedAt: now,
				UpdatedBy: in.Operator,
			}
			if err := tx.InsertFlag(ctx, rec); err != nil {
				return err
			}
			entry.Action = constraints.ActionCreate
		} else {
			next := *cur
			next.Value = in.Value
			next.Version = cur.Version + 1
			next.UpdatedAt = now
			next.UpdatedBy = in.Operator
			if err := tx.UpdateFlag(ctx, &next, cur.Version); err != nil {
				return err
			}
			rec = &next
			entry.Action = constraints.ActionUpdate
			entry.OldValue = cur.Value
		}
		entry.ResultingVersion = rec.Version

		if err := tx.AppendAudit(ctx, entry); err != nil {
			return err
		}
		if s.publisher == nil {
			return nil
		}
		doc := toFeatureFlag(rec)
		return tx.EnqueueOutbox(ctx, &model.OutboxTask{
			Key:     s.publisher.FlagKey(rec.Env, rec.Namespace, rec.Key),
			Version: rec.Version,
			Payload: doc.ToJSON(),
			Status:  model.StatusPending,
			TraceID: in.TraceID,
		})
	})
	if err != nil {
		return nil, nil, err
	}
	return rec, entry, nil
}

func (s *FeatureService) History(ctx context.Context, namespace, env, key string) ([]model.AuditEntry, error) {
	if err := validateKey(namespace, env, key); err != nil {
		return nil, err
	}
	audits, err := s.store.ListAudits(ctx, namespace, env, key)
	if err != nil {
		return nil, translate(err, "history of %s", key)
	}
	return audits, nil
}

// Rollback writes the value recorded by an audit entry forward as a new
// version. History is never rewritten.
func (s *FeatureService) Rollback(ctx context.Context, in RollbackInput) (*model.FlagRecord, *model.AuditEntry, error) {
	if err := validateKey(in.Namespace, in.Env, in.Key); err != nil {
		return nil, nil, err
	}
	target, err := s.store.FindAudit(ctx, in.AuditID)
	if err != nil {
		return nil, nil, translate(err, "audit %d", in.AuditID)
	}
	if target.Key != in.Key || target.Env != in.Env || target.Namespace != in.Namespace {
		return nil, nil, fmt.Errorf("%w: audit %d does not belong to %s/%s/%s", ErrNotFound, in.AuditID, in.Namespace, in.Env, in.Key)
	}

	logger.Info("rolling back flag",
		zap.String("key", in.Key),
		zap.String("namespace", in.Namespace),
		zap.String("env", in.Env),
		zap.Int64("audit_id", target.ID),
		zap.Int64("to_version", target.ResultingVersion))

	return s.Write(ctx, WriteInput{
		Namespace:  in.Namespace,
		Env:        in.Env,
		Key:        in.Key,
		Type:       target.FlagType,
		Value:      target.NewValue,
		Operator:   in.Operator,
		TraceID:    in.TraceID,
		rollbackOf: target.ID,
	})
}

// Evaluate resolves a flag for one subject. Strategy flags go through the
// rollout rules, bool flags return their value, other types are not
// evaluable.
func (s *FeatureService) Evaluate(ctx context.Context, namespace, env, key, subjectID string) (bool, *model.FlagRecord, error) {
	rec, err := s.Get(ctx, namespace, env, key)
	if err != nil {
		return false, nil, err
	}
	switch rec.Type {
	case constraints.TypeBool:
		return rec.Value == "true", rec, nil
	case constraints.TypeStrategy:
		p, err := strategy.Parse(rec.Value)
		if err != nil {
			return false, nil, fmt.Errorf("%w: stored strategy of %s: %v", ErrValidation, key, err)
		}
		return strategy.Evaluate(rec.Key, p, subjectID), rec, nil
	}
	return false, nil, fmt.Errorf("%w: %s flags cannot be evaluated", ErrValidation, rec.Type)
}

// Snapshot returns the current flags matching filter, read in id order.
func (s *FeatureService) Snapshot(ctx context.Context, filter Filter) ([]v1.FeatureFlag, error) {
	f := compileFilter(filter)
	out := make([]v1.FeatureFlag, 0)
	var after uint64
	for {
		batch, err := s.store.ScanFlags(ctx, after, snapshotBatch)
		if err != nil {
			return nil, translate(err, "snapshot")
		}
		for i := range batch {
			rec := &batch[i]
			if f.match(rec.Namespace, rec.Env) {
				out = append(out, toFeatureFlag(rec))
			}
		}
		if len(batch) < snapshotBatch {
			return out, nil
		}
		after = batch[len(batch)-1].ID
	}
}

func (s *FeatureService) Health(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnhealthy, err)
	}
	if s.publisher != nil {
		if err := s.publisher.Health(ctx); err != nil {
			return fmt.Errorf("%w: %v", ErrEtcdUnhealthy, err)
		}
	}
	return nil
}

func (s *FeatureService) observe(err error, elapsed time.Duration) {
	if s.observer == nil {
		return
	}
	outcome := metrics.OutcomeOK
	switch {
	case err == nil:
	case errors.Is(err, ErrValidation), errors.Is(err, ErrTypeImmutable):
		outcome = metrics.OutcomeInvalid
	case errors.Is(err, ErrVersionConflict):
		outcome = metrics.OutcomeConflict
	default:
		outcome = metrics.OutcomeStoreFail
	}
	s.observer.ObserveWrite(outcome, elapsed.Seconds())
}

func toFeatureFlag(rec *model.FlagRecord) v1.FeatureFlag {
	return v1.FeatureFlag{
		Namespace: rec.Namespace,
		Env:       rec.Env,
		Key:       rec.Key,
		Type:      rec.Type,
		Value:     rec.Value,
		Version:   rec.Version,
		UpdatedAt: rec.UpdatedAt,
	}
}

func isDomainError(err error) bool {
	for _, target := range []error{ErrValidation, ErrTypeImmutable, ErrNotFound, ErrVersionConflict} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// translate maps repository errors onto the domain taxonomy. Errors that
// already carry a domain sentinel pass through unchanged.
func translate(err error, format string, args ...any) error {
	what := fmt.Sprintf(format, args...)
	switch {
	case isDomainError(err), errors.Is(err, ErrTransientStore):
		return err
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	case errors.Is(err, repository.ErrConflict):
		return fmt.Errorf("%w: %s", ErrVersionConflict, what)
	}
	return fmt.Errorf("%w: %s: %v", ErrTransientStore, what, err)
}

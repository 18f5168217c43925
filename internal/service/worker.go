package service

import (
	"context"
	"encoding/json"
	"time"

	"flagplane/internal/model"
	"flagplane/internal/repository"
	v1 "flagplane/pkg/api/v1"
	"flagplane/pkg/logger"

	"go.uber.org/zap"
)

// FlagPublisher ships committed flags to etcd. Implemented by
// repository.Publisher.
type FlagPublisher interface {
	FlagKey(env, namespace, key string) string
	SaveFlagIfNewer(ctx context.Context, flag v1.FeatureFlag) (int64, error)
	Snapshot(ctx context.Context) (map[string]v1.FeatureFlag, error)
	Health(ctx context.Context) error
}

// OutboxWorker drains the outbox into etcd. It runs on a ticker and is also
// woken right after each commit.
type OutboxWorker struct {
	outboxRepo repository.OutboxStore
	publisher  FlagPublisher
	interval   time.Duration
	batch      int
	maxRetries int
	wake       chan struct{}
}

func NewOutboxWorker(outboxRepo repository.OutboxStore, publisher FlagPublisher, interval time.Duration, batch, maxRetries int) *OutboxWorker {
	return &OutboxWorker{
		outboxRepo: outboxRepo,
		publisher:  publisher,
		interval:   interval,
		batch:      batch,
		maxRetries: maxRetries,
		wake:       make(chan struct{}, 1),
	}
}

// Notify wakes the worker without blocking; pokes coalesce.
func (w *OutboxWorker) Notify() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *OutboxWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	logger.Info("outbox worker started", zap.Duration("interval", w.interval))

	for {
		select {
		case <-ctx.Done():
			logger.Info("outbox worker stopped")
			return
		case <-ticker.C:
		case <-w.wake:
		}
		w.processPending(ctx)
	}
}

func (w *OutboxWorker) processPending(ctx context.Context) {
	tasks, err := w.outboxRepo.FetchPending(ctx, w.batch)
	if err != nil {
		logger.Error("failed to fetch pending outbox tasks", zap.Error(err))
		return
	}

	for _, task := range tasks {
		logger.Debug("processing outbox task", zap.Int64("id", task.ID), zap.String("key", task.Key))

		var flag v1.FeatureFlag
		if err := json.Unmarshal([]byte(task.Payload), &flag); err != nil {
			logger.Error("corrupt outbox payload", zap.Int64("id", task.ID), zap.Error(err))
			w.mark(ctx, task, model.StatusFailed, task.RetryCount)
			continue
		}

		if _, err := w.publisher.SaveFlagIfNewer(ctx, flag); err != nil {
			retries := task.RetryCount + 1
			logger.Warn("failed to publish flag to etcd",
				zap.Int64("id", task.ID),
				zap.String("key", task.Key),
				zap.Int("retry", retries),
				zap.String("trace_id", task.TraceID),
				zap.Error(err))
			if retries >= w.maxRetries {
				logger.Error("outbox task gave up", zap.Int64("id", task.ID), zap.String("key", task.Key))
				w.mark(ctx, task, model.StatusFailed, retries)
			} else {
				w.mark(ctx, task, model.StatusPending, retries)
			}
			continue
		}

		w.mark(ctx, task, model.StatusCompleted, task.RetryCount)
		logger.Debug("outbox task completed", zap.Int64("id", task.ID), zap.String("key", task.Key), zap.Int64("version", task.Version))
	}
}

func (w *OutboxWorker) mark(ctx context.Context, task model.OutboxTask, status, retries int) {
	if err := w.outboxRepo.UpdateStatus(ctx, task.ID, status, retries); err != nil {
		logger.Error("failed to update outbox task", zap.Int64("id", task.ID), zap.Int("status", status), zap.Error(err))
	}
}

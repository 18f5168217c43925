package service

import (
	"context"
	"errors"
	"time"

	"flagplane/internal/repository"
	"flagplane/pkg/logger"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
	"go.uber.org/zap"
)

// Reconciler repairs etcd when it drifts from the store, e.g. after outbox
// tasks gave up. Replicas coordinate through an etcd mutex so one of them
// runs each round.
type Reconciler struct {
	etcdClient *clientv3.Client
	publisher  FlagPublisher
	store      repository.Store
	interval   time.Duration
	lockTTL    int
	batch      int
}

func NewReconciler(client *clientv3.Client, publisher FlagPublisher, store repository.Store, interval time.Duration, lockTTL int) *Reconciler {
	return &Reconciler{
		etcdClient: client,
		publisher:  publisher,
		store:      store,
		interval:   interval,
		lockTTL:    lockTTL,
		batch:      500,
	}
}

func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	session, err := concurrency.NewSession(r.etcdClient, concurrency.WithTTL(r.lockTTL))
	if err != nil {
		logger.Error("failed to create etcd concurrency session", zap.Error(err))
		return
	}
	defer session.Close()

	mutex := concurrency.NewMutex(session, "/locks/flagplane-reconciler")
	logger.Info("reconciler started", zap.Duration("interval", r.interval))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := mutex.TryLock(ctx); err != nil {
				if errors.Is(err, concurrency.ErrLocked) {
					logger.Debug("reconciliation skipped, another instance holds the lock")
				} else {
					logger.Error("failed to acquire reconciliation lock", zap.Error(err))
				}
				continue
			}

			r.reconcile(ctx)

			if err := mutex.Unlock(context.Background()); err != nil {
				logger.Warn("failed to release reconciliation lock", zap.Error(err))
			}
		}
	}
}

type reconcileStats struct {
	scanned  int
	repaired int
	orphans  int
}

func (r *Reconciler) reconcile(ctx context.Context) reconcileStats {
	var stats reconcileStats
	remote, err := r.publisher.Snapshot(ctx)
	if err != nil {
		logger.Error("recon: failed to fetch flags from etcd", zap.Error(err))
		return stats
	}

	seen := make(map[string]struct{}, len(remote))
	var after uint64
	for {
		batch, err := r.store.ScanFlags(ctx, after, r.batch)
		if err != nil {
			logger.Error("recon: failed to scan store", zap.Uint64("after", after), zap.Error(err))
			return stats
		}
		for i := range batch {
			rec := &batch[i]
			stats.scanned++
			etcdKey := r.publisher.FlagKey(rec.Env, rec.Namespace, rec.Key)
			seen[etcdKey] = struct{}{}

			current, exists := remote[etcdKey]
			reason := ""
			switch {
			case !exists:
				reason = "missing_in_etcd"
			case current.Version < rec.Version:
				reason = "stale_in_etcd"
			case current.Version == rec.Version && (current.Value != rec.Value || current.Type != rec.Type):
				// same version but different content cannot be fixed by a
				// newer-wins write
				logger.Error("recon: etcd content diverged at equal version",
					zap.String("key", etcdKey), zap.Int64("version", rec.Version))
				continue
			default:
				continue
			}

			logger.Warn("recon: fixing inconsistency", zap.String("key", etcdKey), zap.String("reason", reason))
			if _, err := r.publisher.SaveFlagIfNewer(ctx, toFeatureFlag(rec)); err != nil {
				logger.Error("recon: failed to fix etcd", zap.String("key", etcdKey), zap.Error(err))
				continue
			}
			stats.repaired++
		}
		if len(batch) < r.batch {
			break
		}
		after = batch[len(batch)-1].ID
	}

	for etcdKey := range remote {
		if _, ok := seen[etcdKey]; !ok {
			stats.orphans++
			logger.Warn("recon: orphan key in etcd", zap.String("key", etcdKey))
		}
	}

	logger.Info("reconciliation finished",
		zap.Int("db_count", stats.scanned),
		zap.Int("etcd_count", len(remote)),
		zap.Int("repaired", stats.repaired),
		zap.Int("orphans", stats.orphans))
	return stats
}

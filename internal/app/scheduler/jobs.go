package scheduler

import (
	"context"
	"time"

	"github.com/fatflowers/donations/internal/app/service/reconciliation"
	"github.com/fatflowers/donations/internal/app/service/timeline"
	"github.com/fatflowers/donations/pkg/config"
)

const (
	JobReconcile = "reconcile"
	JobTimeline  = "timeline"
)

// ReconcileJob runs the configured reconciliation mode. It is always locked.
func ReconcileJob(cfg *config.Config, rec *reconciliation.Reconciler) Job {
	return Job{
		Name:    JobReconcile,
		LockKey: cfg.Reconcile.LockKey,
		UseLock: true,
		Timeout: cfg.Reconcile.Timeout,
		Run: func(ctx context.Context) (any, error) {
			return rec.Run(ctx)
		},
	}
}

// ReconcileRangeJob reconciles an explicit range under the reconcile lock.
func ReconcileRangeJob(cfg *config.Config, rec *reconciliation.Reconciler, from, to time.Time) Job {
	job := ReconcileJob(cfg, rec)
	job.Run = func(ctx context.Context) (any, error) {
		return rec.Reconcile(ctx, from, to)
	}
	return job
}

// ReconcileLastJob reconciles from the statement cursor under the reconcile lock.
func ReconcileLastJob(cfg *config.Config, rec *reconciliation.Reconciler) Job {
	job := ReconcileJob(cfg, rec)
	job.Run = func(ctx context.Context) (any, error) {
		return rec.ReconcileLast(ctx)
	}
	return job
}

// TimelineJob runs one timeline tick, locked unless timeline.use_lock is off.
func TimelineJob(cfg *config.Config, mgr *timeline.Manager) Job {
	return Job{
		Name:    JobTimeline,
		LockKey: cfg.Timeline.LockKey,
		UseLock: cfg.Timeline.UseLock,
		Timeout: cfg.Timeline.Timeout,
		Run: func(ctx context.Context) (any, error) {
			return mgr.Tick(ctx)
		},
	}
}

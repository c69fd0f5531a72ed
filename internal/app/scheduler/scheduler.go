package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/samber/lo"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/donations/internal/app/service/reconciliation"
	"github.com/fatflowers/donations/internal/app/service/timeline"
	"github.com/fatflowers/donations/pkg/config"
)

var ErrUnknownJob = errors.New("unknown job")

type entry struct {
	job          Job
	spec         string
	enabled      bool
	runOnStartup bool
	id           cron.EntryID

	mu      sync.Mutex
	lastRun *RunReport
}

func (e *entry) setLast(r *RunReport) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastRun = r
}

func (e *entry) last() *RunReport {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastRun
}

// JobStatus is the scheduler's view of one job.
type JobStatus struct {
	Name         string     `json:"name"`
	Enabled      bool       `json:"enabled"`
	Cron         string     `json:"cron"`
	LockKey      string     `json:"lock_key"`
	UseLock      bool       `json:"use_lock"`
	RunOnStartup bool       `json:"run_on_startup"`
	NextRun      *time.Time `json:"next_run,omitempty"`
	LastRun      *RunReport `json:"last_run,omitempty"`
}

type Status struct {
	Running bool        `json:"running"`
	Jobs    []JobStatus `json:"jobs"`
}

// Scheduler owns the cron loop. It is constructed once and started and stopped explicitly.
type Scheduler struct {
	coord *Coordinator
	log   *zap.SugaredLogger
	cron  *cron.Cron
	jobs  []*entry

	mu      sync.Mutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewScheduler(cfg *config.Config, coord *Coordinator, rec *reconciliation.Reconciler, mgr *timeline.Manager, log *zap.SugaredLogger) (*Scheduler, error) {
	return newScheduler(coord, log,
		&entry{job: ReconcileJob(cfg, rec), spec: cfg.Reconcile.Cron, enabled: cfg.Reconcile.Enabled, runOnStartup: cfg.Reconcile.RunOnStartup},
		&entry{job: TimelineJob(cfg, mgr), spec: cfg.Timeline.Cron, enabled: cfg.Timeline.Enabled, runOnStartup: cfg.Timeline.RunOnStartup},
	)
}

func newScheduler(coord *Coordinator, log *zap.SugaredLogger, entries ...*entry) (*Scheduler, error) {
	cl := &cronLogger{log: log}
	s := &Scheduler{
		coord: coord,
		log:   log,
		// A slow run on this instance must not overlap the next tick of the same job.
		cron: cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		jobs: entries,
	}
	for _, e := range entries {
		if !e.enabled {
			continue
		}
		id, err := s.cron.AddFunc(e.spec, func() { s.run(e, TriggerCron) })
		if err != nil {
			return nil, fmt.Errorf("invalid cron %q for job %s: %w", e.spec, e.job.Name, err)
		}
		e.id = id
	}
	return s, nil
}

func (s *Scheduler) run(e *entry, trigger string) *RunReport {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	report := s.coord.Execute(ctx, e.job, trigger)
	e.setLast(report)
	return report
}

// Start begins the cron loop and fires run-on-startup jobs in the background.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.running = true
	s.cron.Start()

	for _, e := range s.jobs {
		if !e.enabled || !e.runOnStartup {
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.run(e, TriggerStartup)
		}()
	}
	enabled := lo.FilterMap(s.jobs, func(e *entry, _ int) (string, bool) { return e.job.Name, e.enabled })
	s.log.Infow("scheduler started", "jobs", enabled)
}

// Stop cancels in-flight runs and waits for them until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.cancel()
	cronDone := s.cron.Stop()
	s.mu.Unlock()

	waitDone := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
		s.log.Infow("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	st := Status{Running: running}
	for _, e := range s.jobs {
		js := JobStatus{
			Name:         e.job.Name,
			Enabled:      e.enabled,
			Cron:         e.spec,
			LockKey:      e.job.LockKey,
			UseLock:      e.job.UseLock,
			RunOnStartup: e.runOnStartup,
			LastRun:      e.last(),
		}
		if e.enabled && running {
			if next := s.cron.Entry(e.id).Next; !next.IsZero() {
				js.NextRun = &next
			}
		}
		st.Jobs = append(st.Jobs, js)
	}
	return st
}

// Trigger runs a job now through the coordinator, whether or not it is scheduled.
func (s *Scheduler) Trigger(ctx context.Context, name string) (*RunReport, error) {
	e, ok := lo.Find(s.jobs, func(e *entry) bool { return e.job.Name == name })
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	report := s.coord.Execute(ctx, e.job, TriggerManual)
	e.setLast(report)
	return report, nil
}

// Coordinator exposes the coordinator for ad hoc jobs such as explicit reconcile ranges.
func (s *Scheduler) Coordinator() *Coordinator { return s.coord }

func registerLifecycle(lc fx.Lifecycle, s *Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			s.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return s.Stop(ctx)
		},
	})
}

// CoordinatorModule provides the run coordinator alone, for processes that
// execute jobs without cron.
var CoordinatorModule = fx.Options(
	fx.Provide(NewCoordinator),
)

var Module = fx.Options(
	fx.Provide(NewScheduler),
	fx.Invoke(registerLifecycle),
)

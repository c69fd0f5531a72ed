// Package scheduler runs the periodic jobs under a cross-instance lock and a timeout.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/fatflowers/donations/internal/app/service/jobrun"
	"github.com/fatflowers/donations/internal/models"
	"github.com/fatflowers/donations/internal/platform/lock"
	"github.com/fatflowers/donations/pkg/logctx"
	"github.com/fatflowers/donations/pkg/metrics"
	"github.com/fatflowers/donations/pkg/tool"
)

// ErrRunTimeout is recorded when a run outlives its timeout and is abandoned.
var ErrRunTimeout = errors.New("job run timed out")

const (
	TriggerCron    = "cron"
	TriggerStartup = "startup"
	TriggerManual  = "manual"
	TriggerCLI     = "cli"
)

const (
	DefaultTimeout = 10 * time.Minute
	// lockMargin keeps an expiring lock alive a little past the run timeout.
	lockMargin = time.Minute
)

// Job is one coordinated unit of work.
type Job struct {
	Name    string
	LockKey string
	// UseLock false lets redundant instances run the job concurrently.
	UseLock bool
	Timeout time.Duration
	Run     func(ctx context.Context) (any, error)
}

// RunReport describes one Execute call.
type RunReport struct {
	RunID     string               `json:"run_id"`
	Job       string               `json:"job"`
	Trigger   string               `json:"trigger"`
	Outcome   models.JobRunOutcome `json:"outcome"`
	StartedAt time.Time            `json:"started_at"`
	Duration  time.Duration        `json:"duration"`
	Result    any                  `json:"result,omitempty"`
	Error     string               `json:"error,omitempty"`
}

// Coordinator is the only way jobs are run, whether from cron, startup, the admin API or the CLI.
type Coordinator struct {
	locker   lock.Locker
	runs     *jobrun.Service
	metrics  *metrics.Business
	log      *zap.SugaredLogger
	hostname string
}

func NewCoordinator(locker lock.Locker, runs *jobrun.Service, m *metrics.Business, log *zap.SugaredLogger) *Coordinator {
	host, _ := os.Hostname()
	return &Coordinator{locker: locker, runs: runs, metrics: m, log: log, hostname: host}
}

type runOutput struct {
	result any
	err    error
}

// Execute acquires the job's lock, runs it under its timeout and records the run.
// Losing the lock is the skipped outcome: nothing runs and nothing is written.
func (c *Coordinator) Execute(ctx context.Context, job Job, trigger string) *RunReport {
	report := &RunReport{
		RunID:     tool.GenerateUUIDV7(),
		Job:       job.Name,
		Trigger:   trigger,
		StartedAt: time.Now(),
	}
	if job.Timeout <= 0 {
		job.Timeout = DefaultTimeout
	}
	ctx = logctx.WithRun(ctx, c.log, job.Name, report.RunID)
	log := logctx.FromCtx(ctx, c.log)

	if job.UseLock {
		release, acquired, err := c.locker.TryAcquire(ctx, job.LockKey, job.Timeout+lockMargin)
		if err != nil {
			c.finish(ctx, report, models.JobRunOutcomeFailed, nil, fmt.Errorf("acquire lock %s: %w", job.LockKey, err))
			return report
		}
		if !acquired {
			report.Outcome = models.JobRunOutcomeSkipped
			c.metrics.ObserveJobRun(job.Name, string(report.Outcome), 0)
			log.Infow("job skipped, lock held by another instance", "lock_key", job.LockKey, "trigger", trigger)
			return report
		}
		defer release()
	}

	log.Infow("job started", "trigger", trigger)

	runCtx, cancel := context.WithTimeout(ctx, job.Timeout)
	defer cancel()

	done := make(chan runOutput, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- runOutput{err: fmt.Errorf("job panicked: %v", r)}
			}
		}()
		result, err := job.Run(runCtx)
		done <- runOutput{result: result, err: err}
	}()

	select {
	case out := <-done:
		outcome := models.JobRunOutcomeCompleted
		if out.err != nil {
			outcome = models.JobRunOutcomeFailed
			if errors.Is(out.err, context.DeadlineExceeded) {
				outcome = models.JobRunOutcomeTimedOut
				out.err = fmt.Errorf("%w: %w", ErrRunTimeout, out.err)
			}
		}
		c.finish(ctx, report, outcome, out.result, out.err)
	case <-runCtx.Done():
		// The run is abandoned; whatever it committed so far stands.
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			c.finish(ctx, report, models.JobRunOutcomeTimedOut, nil, fmt.Errorf("%w after %s", ErrRunTimeout, job.Timeout))
		} else {
			c.finish(ctx, report, models.JobRunOutcomeFailed, nil, runCtx.Err())
		}
	}
	return report
}

func (c *Coordinator) finish(ctx context.Context, report *RunReport, outcome models.JobRunOutcome, result any, runErr error) {
	finished := time.Now()
	report.Outcome = outcome
	report.Duration = finished.Sub(report.StartedAt)
	report.Result = result

	run := &models.JobRun{
		ID:         report.RunID,
		Job:        report.Job,
		Trigger:    report.Trigger,
		Hostname:   c.hostname,
		Outcome:    outcome,
		StartedAt:  report.StartedAt,
		FinishedAt: finished,
		DurationMS: report.Duration.Milliseconds(),
	}
	if result != nil {
		if raw, err := json.Marshal(result); err == nil && string(raw) != "null" {
			js := datatypes.JSON(raw)
			run.Result = &js
		}
	}

	log := logctx.FromCtx(ctx, c.log)
	if runErr != nil {
		report.Error = runErr.Error()
		run.Error = &report.Error
		log.Errorw("job failed", "outcome", outcome, "duration_ms", run.DurationMS, "error", runErr)
	} else {
		log.Infow("job finished", "outcome", outcome, "duration_ms", run.DurationMS)
	}

	c.metrics.ObserveJobRun(report.Job, string(outcome), report.Duration)
	c.runs.Save(ctx, run)
}

package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
)

const Subsystem = "donations"

var jobRuns = &Metric{
	ID:          "jobRuns",
	Name:        "job_runs_total",
	Description: "Coordinated job runs, partitioned by job and outcome.",
	Type:        "counter_vec",
	Args:        []string{"job", "outcome"},
}

var jobDur = &Metric{
	ID:          "jobDur",
	Name:        "job_dur_ms",
	Description: "Coordinated job run latencies in milliseconds.",
	Type:        "histogram_vec",
	Args:        []string{"job"},
	Buckets:     JobBuckets,
}

var reconcileTx = &Metric{
	ID:          "reconcileTx",
	Name:        "reconcile_transactions_total",
	Description: "Bank transactions seen by the reconciler, partitioned by outcome.",
	Type:        "counter_vec",
	Args:        []string{"outcome"},
}

var timelineTransitions = &Metric{
	ID:          "timelineTransitions",
	Name:        "timeline_transitions_total",
	Description: "Pending subscription timeline transitions applied.",
	Type:        "counter_vec",
	Args:        []string{"transition"},
}

var reminders = &Metric{
	ID:          "reminders",
	Name:        "reminders_total",
	Description: "Payment reminders dispatched, partitioned by result.",
	Type:        "counter_vec",
	Args:        []string{"result"},
}

// Business holds the engine's own collectors. A nil *Business records nothing.
type Business struct {
	jobRuns             *prometheus.CounterVec
	jobDur              *prometheus.HistogramVec
	reconcileTx         *prometheus.CounterVec
	timelineTransitions *prometheus.CounterVec
	reminders           *prometheus.CounterVec
}

// NewBusiness registers the business collectors on reg, reusing ones already registered.
func NewBusiness(reg prometheus.Registerer) (*Business, error) {
	b := &Business{}
	for _, def := range []*Metric{jobRuns, jobDur, reconcileTx, timelineTransitions, reminders} {
		c, err := register(reg, NewMetric(def, Subsystem))
		if err != nil {
			return nil, fmt.Errorf("%s could not be registered in Prometheus: %w", def.Name, err)
		}
		switch def {
		case jobRuns:
			b.jobRuns = c.(*prometheus.CounterVec)
		case jobDur:
			b.jobDur = c.(*prometheus.HistogramVec)
		case reconcileTx:
			b.reconcileTx = c.(*prometheus.CounterVec)
		case timelineTransitions:
			b.timelineTransitions = c.(*prometheus.CounterVec)
		case reminders:
			b.reminders = c.(*prometheus.CounterVec)
		}
	}
	return b, nil
}

func register(reg prometheus.Registerer, c prometheus.Collector) (prometheus.Collector, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return are.ExistingCollector, nil
		}
		return nil, err
	}
	return c, nil
}

func (b *Business) ObserveJobRun(job, outcome string, d time.Duration) {
	if b == nil {
		return
	}
	b.jobRuns.WithLabelValues(job, outcome).Inc()
	b.jobDur.WithLabelValues(job).Observe(float64(d.Milliseconds()))
}

func (b *Business) AddReconcile(outcome string, n int) {
	if b == nil || n <= 0 {
		return
	}
	b.reconcileTx.WithLabelValues(outcome).Add(float64(n))
}

func (b *Business) IncTimeline(transition string) {
	if b == nil {
		return
	}
	b.timelineTransitions.WithLabelValues(transition).Inc()
}

func (b *Business) IncReminder(result string) {
	if b == nil {
		return
	}
	b.reminders.WithLabelValues(result).Inc()
}

func newDefaultBusiness() (*Business, error) {
	return NewBusiness(prometheus.DefaultRegisterer)
}

var Module = fx.Options(
	fx.Provide(newDefaultBusiness),
)

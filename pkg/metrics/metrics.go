package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// HistogramBuckets are HTTP latency buckets in milliseconds.
var HistogramBuckets = []float64{
	// --- Fast responses (0 - 500ms) ---
	25, 50, 75, 100, 150, 200, 300, 400, 500,

	// --- Medium responses (500ms - 2s) ---
	750, 1000, 1250, 1500, 1750, 2000,

	// --- Slow responses (2s - 15s) ---
	2500, 3000, 4000, 5000, 7500, 10000, 15000,

	// --- Extended range (15s - 120s) ---
	30000, 60000, 120000,
}

// JobBuckets are job run latency buckets in milliseconds, up to the 10m default run timeout and past it.
var JobBuckets = []float64{
	100, 500, 1000, 5000, 15000, 30000, 60000, 120000, 300000, 600000, 900000,
}

// Metric is a definition for the name, description, type, ID, and
// prometheus.Collector type (i.e. CounterVec, Summary, etc) of each metric.
// Buckets overrides HistogramBuckets for histogram_vec metrics.
type Metric struct {
	ID          string
	Name        string
	Description string
	Type        string
	Args        []string
	Buckets     []float64
}

// NewMetric associates prometheus.Collector based on Metric.Type. Unknown types yield nil.
func NewMetric(m *Metric, subsystem string) prometheus.Collector {
	switch m.Type {
	case "counter_vec":
		return prometheus.NewCounterVec(
			prometheus.CounterOpts{Subsystem: subsystem, Name: m.Name, Help: m.Description},
			m.Args,
		)
	case "histogram_vec":
		buckets := m.Buckets
		if len(buckets) == 0 {
			buckets = HistogramBuckets
		}
		return prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Subsystem: subsystem, Name: m.Name, Help: m.Description, Buckets: buckets},
			m.Args,
		)
	case "summary_vec":
		return prometheus.NewSummaryVec(
			prometheus.SummaryOpts{Subsystem: subsystem, Name: m.Name, Help: m.Description},
			m.Args,
		)
	}
	return nil
}

const (
	RefererKey = "X-Referer"
)

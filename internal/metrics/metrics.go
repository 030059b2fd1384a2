// Package metrics records migration run metrics in a dedicated Prometheus
// registry. A nil *Collector is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "dbrunner"

// Run outcome label values.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
)

// Collector holds the run metrics.
type Collector struct {
	registry *prometheus.Registry

	runs           *prometheus.CounterVec
	scripts        *prometheus.CounterVec
	scriptDuration *prometheus.HistogramVec
	lockWait       prometheus.Histogram
}

// New creates a Collector with its own registry.
func New(namespace string) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	c := &Collector{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Number of migration runs by outcome.",
		}, []string{"outcome"}),
		scripts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scripts_total",
			Help:      "Number of scripts executed by phase and status.",
		}, []string{"phase", "status"}),
		scriptDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "script_duration_seconds",
			Help:      "Script execution time in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 10),
		}, []string{"phase"}),
		lockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for the migration lock in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}),
	}

	c.registry.MustRegister(c.runs, c.scripts, c.scriptDuration, c.lockWait)

	return c
}

// Registry returns the registry the metrics are registered in.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// ObserveRun counts a finished run.
func (c *Collector) ObserveRun(outcome string) {
	if c == nil {
		return
	}

	c.runs.WithLabelValues(outcome).Inc()
}

// ObserveScript counts one script execution and records its duration.
func (c *Collector) ObserveScript(phase, status string, d time.Duration) {
	if c == nil {
		return
	}

	c.scripts.WithLabelValues(phase, status).Inc()
	c.scriptDuration.WithLabelValues(phase).Observe(d.Seconds())
}

// ObserveLockWait records how long lock acquisition took, successful or not.
func (c *Collector) ObserveLockWait(d time.Duration) {
	if c == nil {
		return
	}

	c.lockWait.Observe(d.Seconds())
}

// WriteTextfile writes the current metrics in the node_exporter textfile
// format. The file is replaced atomically.
func (c *Collector) WriteTextfile(path string) error {
	if c == nil {
		return nil
	}

	return prometheus.WriteToTextfile(path, c.registry)
}

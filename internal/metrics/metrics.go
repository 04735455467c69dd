// Package metrics provides the counters sink shared by the worker and the
// overdue scanner.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Job outcome labels
const (
	StatusSuccess  = "success"
	StatusError    = "error"
	StatusRejected = "rejected"
)

// Sink records pipeline counters. Implementations must be safe for
// concurrent use.
type Sink interface {
	OverdueDetected(n int)
	JobProcessed(jobType, status string)
}

// Noop discards everything.
type Noop struct{}

func (Noop) OverdueDetected(int)         {}
func (Noop) JobProcessed(string, string) {}

// Prometheus is a Sink backed by Prometheus counters.
type Prometheus struct {
	overdueDetected prometheus.Counter
	jobsProcessed   *prometheus.CounterVec
}

var _ Sink = (*Prometheus)(nil)

// NewPrometheus creates the counters and registers them with reg.
func NewPrometheus(reg prometheus.Registerer) (*Prometheus, error) {
	p := &Prometheus{
		overdueDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tasksync",
			Name:      "overdue_tasks_detected_total",
			Help:      "Overdue tasks found by the scanner.",
		}),
		jobsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tasksync",
			Name:      "jobs_processed_total",
			Help:      "Jobs handled by the worker, by type and outcome.",
		}, []string{"job_type", "status"}),
	}

	for _, c := range []prometheus.Collector{p.overdueDetected, p.jobsProcessed} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	return p, nil
}

// OverdueDetected adds n to the overdue counter.
func (p *Prometheus) OverdueDetected(n int) {
	if n > 0 {
		p.overdueDetected.Add(float64(n))
	}
}

// JobProcessed increments the processed counter for jobType and status.
func (p *Prometheus) JobProcessed(jobType, status string) {
	p.jobsProcessed.WithLabelValues(jobType, status).Inc()
}

package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus implements Recorder with a counter and a histogram.
type Prometheus struct {
	decisions *prometheus.CounterVec
	latency   *prometheus.HistogramVec
}

// NewPrometheus creates the collectors under namespace and registers them with reg.
func NewPrometheus(reg prometheus.Registerer, namespace string) (*Prometheus, error) {
	p := &Prometheus{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_decisions_total",
			Help:      "Rate limit decisions by preset, algorithm and outcome.",
		}, []string{"preset", "algorithm", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ratelimit_decision_duration_seconds",
			Help:      "Time spent deciding, including the store round trip.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 3},
		}, []string{"preset", "algorithm"}),
	}

	for _, c := range []prometheus.Collector{p.decisions, p.latency} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register rate limit collector: %w", err)
		}
	}
	return p, nil
}

// Decision implements Recorder.
func (p *Prometheus) Decision(preset, algorithm string, outcome Outcome) {
	p.decisions.WithLabelValues(preset, algorithm, string(outcome)).Inc()
}

// Latency implements Recorder.
func (p *Prometheus) Latency(preset, algorithm string, d time.Duration) {
	p.latency.WithLabelValues(preset, algorithm).Observe(d.Seconds())
}

var _ Recorder = (*Prometheus)(nil)

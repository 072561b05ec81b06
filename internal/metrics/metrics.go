// Package metrics exposes build counters and durations to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "popbuild"

// Build outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Build durations span seconds to tens of minutes.
var durationBuckets = prometheus.ExponentialBuckets(5, 2, 10)

// Prometheus collectors of the build daemon.
type Metrics struct {
	gatherer prometheus.Gatherer
	builds   *prometheus.CounterVec
	failures *prometheus.CounterVec
	duration prometheus.Histogram
}

// Registers the build collectors with reg.
func New(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		gatherer: reg,
		builds: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "builds_total",
			Help:      "Total number of builds by outcome.",
		}, []string{"outcome"}),

		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "build_failures_total",
			Help:      "Total number of failed builds by the last phase reached.",
		}, []string{"phase"}),

		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "build_duration_seconds",
			Help:      "Build duration in seconds.",
			Buckets:   durationBuckets,
		}),
	}
}

// Records a finished build. phase is the last phase reached and is only
// recorded for failures.
func (m *Metrics) ObserveBuild(outcome, phase string, d time.Duration) {
	m.builds.WithLabelValues(outcome).Inc()
	if outcome == OutcomeFailure {
		m.failures.WithLabelValues(phase).Inc()
	}
	m.duration.Observe(d.Seconds())
}

// Returns the HTTP handler serving the collectors.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

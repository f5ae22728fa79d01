// Package metrics exposes merge outcomes as Prometheus metrics.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"calmerge/internal/models"
	"calmerge/internal/reconciler"
)

const namespace = "calmerge"

// Result label values for merge runs.
const (
	ResultSuccess      = "success"
	ResultPartial      = "partial"
	ResultConfigError  = "config_error"
	ResultTransportErr = "transport_error"
	ResultError        = "error"
)

// Metrics records merge runs and their per-event outcomes.
type Metrics struct {
	runs        *prometheus.CounterVec
	duration    prometheus.Histogram
	changes     *prometheus.CounterVec
	pending     *prometheus.GaugeVec
	lastSuccess prometheus.Gauge
	gatherer    prometheus.Gatherer
}

// New creates the metrics and registers them with reg.
func New(reg *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total number of merge runs by result.",
		}, []string{"result"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of merge runs in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		changes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_changes_total",
			Help:      "Total number of destination event changes by operation and status.",
		}, []string{"operation", "status"}),
		pending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_changes",
			Help:      "Changes computed by the last run, whether applied or not.",
		}, []string{"operation"}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last run that finished without a fatal error.",
		}),
		gatherer: reg,
	}

	for _, c := range []prometheus.Collector{m.runs, m.duration, m.changes, m.pending, m.lastSuccess} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}
	return m, nil
}

// Observe records the outcome of one merge run.
func (m *Metrics) Observe(res *reconciler.Result, err error, took time.Duration) {
	m.duration.Observe(took.Seconds())
	m.runs.WithLabelValues(runResult(res, err)).Inc()

	if res == nil {
		return
	}
	m.pending.WithLabelValues("add").Set(float64(len(res.ToAdd)))
	m.pending.WithLabelValues("delete").Set(float64(len(res.ToRemove)))

	m.changes.WithLabelValues("add", "success").Add(float64(res.Added))
	m.changes.WithLabelValues("add", "error").Add(float64(res.AddFailed))
	m.changes.WithLabelValues("delete", "success").Add(float64(res.Removed))
	m.changes.WithLabelValues("delete", "error").Add(float64(res.RemoveFailed))

	if err == nil {
		m.lastSuccess.SetToCurrentTime()
	}
}

// Handler serves the registered metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func runResult(res *reconciler.Result, err error) string {
	switch {
	case err != nil && models.IsConfiguration(err):
		return ResultConfigError
	case err != nil && models.IsTransport(err):
		return ResultTransportErr
	case err != nil:
		return ResultError
	case res != nil && res.Failed():
		return ResultPartial
	default:
		return ResultSuccess
	}
}

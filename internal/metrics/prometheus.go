// Package metrics exports tally pipeline outcomes to Prometheus.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JonMunkholm/zootally/internal/tally"
)

const namespace = "zootally"

var _ tally.MetricsRecorder = (*Recorder)(nil)

// Recorder implements tally.MetricsRecorder on its own registry so tests
// and multiple servers in one process never collide on the default one.
type Recorder struct {
	registry  *prometheus.Registry
	durations *prometheus.HistogramVec
	results   *prometheus.CounterVec
	actions   *prometheus.CounterVec
}

// NewRecorder registers the tally collectors plus the Go runtime and
// process collectors.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of stage, confirm and export operations.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"operation"}),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Operations by outcome.",
		}, []string{"operation", "status"}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "applied_actions_total",
			Help:      "Changeset actions applied, by entity kind and op.",
		}, []string{"kind", "op"}),
	}
	r.registry.MustRegister(
		r.durations,
		r.results,
		r.actions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Observe records a service operation outcome.
func (r *Recorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	status := "error"
	if success {
		status = "success"
	}
	r.durations.WithLabelValues(operation).Observe(duration.Seconds())
	r.results.WithLabelValues(operation, status).Inc()
}

// ObserveActions counts the actions a confirm applied.
func (r *Recorder) ObserveActions(_ context.Context, kind tally.Kind, counts tally.OpCounts) {
	k := string(kind)
	r.actions.WithLabelValues(k, string(tally.OpAdd)).Add(float64(counts.Add))
	r.actions.WithLabelValues(k, string(tally.OpUpdate)).Add(float64(counts.Update))
	r.actions.WithLabelValues(k, string(tally.OpDelete)).Add(float64(counts.Delete))
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

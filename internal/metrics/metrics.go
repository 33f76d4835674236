// Package metrics exposes worker counters on a dedicated prometheus
// registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AaronKronberg/OpusPipeline/internal/task"
)

const namespace = "opuspipe"

// Metrics is safe for concurrent use.
type Metrics struct {
	registry *prometheus.Registry

	Transitions *prometheus.CounterVec
	Duration    *prometheus.HistogramVec
	Tokens      *prometheus.CounterVec
	Running     *prometheus.GaugeVec
}

// New registers every collector on a fresh registry, plus the Go and process
// collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_transitions_total",
			Help:      "Task status transitions by kind and target status.",
		}, []string{"kind", "status"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Wall time of finished attempts.",
			Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"kind", "status"}),
		Tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_total",
			Help:      "Tokens reported by the completion provider.",
		}, []string{"kind", "model"}),
		Running: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks_running",
			Help:      "Attempts currently executing in this worker.",
		}, []string{"kind"}),
	}
	m.registry.MustRegister(
		m.Transitions, m.Duration, m.Tokens, m.Running,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Transition counts one status change. A nil receiver is a no-op so
// components can run without metrics.
func (m *Metrics) Transition(kind task.Kind, st task.Status) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(string(kind), string(st)).Inc()
}

// Started marks an attempt as executing.
func (m *Metrics) Started(kind task.Kind) {
	if m == nil {
		return
	}
	m.Running.WithLabelValues(string(kind)).Inc()
}

// Finished records the end of an attempt that Started counted.
func (m *Metrics) Finished(kind task.Kind, st task.Status, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Running.WithLabelValues(string(kind)).Dec()
	m.Duration.WithLabelValues(string(kind), string(st)).Observe(elapsed.Seconds())
}

// TokensUsed adds provider-reported tokens.
func (m *Metrics) TokensUsed(kind task.Kind, model string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Tokens.WithLabelValues(string(kind), model).Add(float64(n))
}

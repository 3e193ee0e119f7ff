// Package metrics exposes tool, queue and hook activity to Prometheus.
package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/harun/kitool/pkg/toolexecutor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kitool"

// Metrics owns a private registry, so several instances can live in one
// process (tests do).
type Metrics struct {
	registry *prometheus.Registry

	toolCalls    *prometheus.CounterVec
	toolDuration *prometheus.HistogramVec
	truncations  *prometheus.CounterVec

	queueDepth   *prometheus.GaugeVec
	queueWait    *prometheus.HistogramVec
	queueStarted *prometheus.CounterVec

	hookRuns     *prometheus.CounterVec
	hookDuration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with the Go and
// process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		toolCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool calls by outcome: success, validation, execution or timeout.",
		}, []string{"tool", "status"}),
		toolDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_call_duration_seconds",
			Help:      "Wall time of tool calls.",
			Buckets:   []float64{.005, .025, .1, .5, 1, 5, 15, 30, 60, 120},
		}, []string{"tool"}),
		truncations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_output_truncations_total",
			Help:      "Tool results cut at the size limit.",
		}, []string{"tool"}),

		queueDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Tasks left behind the one that last started.",
		}, []string{"lane"}),
		queueWait: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "queue_wait_seconds",
			Help:      "Time a task spent queued before it started.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"lane"}),
		queueStarted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_tasks_started_total",
			Help:      "Queued tasks started.",
		}, []string{"lane"}),

		hookRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hook_runs_total",
			Help:      "Hook script runs by event and result.",
		}, []string{"event", "result"}),
		hookDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "hook_duration_seconds",
			Help:      "Wall time of hook scripts.",
			Buckets:   []float64{.01, .05, .1, .5, 1, 5, 30},
		}, []string{"event"}),
	}
}

// laneLabel folds per-session lanes into one series so session keys do not
// become label values.
func laneLabel(lane string) string {
	if strings.HasPrefix(lane, "session:") {
		return "session"
	}
	return lane
}

// ObserveToolCall records one finished tool call (toolexecutor.Observer)
func (m *Metrics) ObserveToolCall(tool string, kind toolexecutor.ErrorKind, duration time.Duration, truncated bool) {
	status := "success"
	if kind != toolexecutor.KindNone {
		status = string(kind)
	}
	m.toolCalls.WithLabelValues(tool, status).Inc()
	m.toolDuration.WithLabelValues(tool).Observe(duration.Seconds())
	if truncated {
		m.truncations.WithLabelValues(tool).Inc()
	}
}

// ObserveQueue records a task leaving its lane's queue (commandqueue.Observer)
func (m *Metrics) ObserveQueue(lane string, depth int, wait time.Duration) {
	label := laneLabel(lane)
	m.queueDepth.WithLabelValues(label).Set(float64(depth))
	m.queueWait.WithLabelValues(label).Observe(wait.Seconds())
	m.queueStarted.WithLabelValues(label).Inc()
}

// ObserveHook records one hook script run (hooks.Observer)
func (m *Metrics) ObserveHook(event string, failed bool, duration time.Duration) {
	result := "ok"
	if failed {
		result = "failed"
	}
	m.hookRuns.WithLabelValues(event, result).Inc()
	m.hookDuration.WithLabelValues(event).Observe(duration.Seconds())
}

// Handler serves the registry in the Prometheus text or OpenMetrics format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

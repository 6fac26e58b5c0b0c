package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the core's Prometheus collectors. It is registration-only: nothing in this
// package starts an HTTP server or wires a /metrics handler, since exposing the registry is a
// packaging concern for whatever binary embeds this core.
//
// A nil *Metrics is valid everywhere it's accepted — every method on it is a nil-safe no-op, so
// components that take an optional Metrics don't need a separate "is metrics enabled" branch.
type Metrics struct {
	TurnsTotal    *prometheus.CounterVec
	TurnDuration  *prometheus.HistogramVec
	TaskIterTotal prometheus.Counter

	ToolCallsTotal    *prometheus.CounterVec
	ToolCallDuration  *prometheus.HistogramVec
	ToolCallTimeouts  *prometheus.CounterVec
	DeadLettersTotal  prometheus.Counter
	CheckpointsTotal  *prometheus.CounterVec
	ContextClampTotal prometheus.Counter
}

// NewMetrics creates and registers the core's collectors against reg. Pass
// prometheus.DefaultRegisterer to publish on the process-wide default registry, or a fresh
// prometheus.NewRegistry() to keep an instance's metrics isolated (tests construct many Engines
// in one process and must not collide on metric names).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := prometheus.WrapRegistererWith(prometheus.Labels{}, reg)

	m := &Metrics{
		TurnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "corerun_engine_turns_total",
			Help: "Total turns run by the Engine, by kind (single_turn|task) and outcome.",
		}, []string{"kind", "status"}),
		TurnDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "corerun_engine_turn_duration_seconds",
			Help:    "Wall-clock duration of Engine turns, by kind.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"kind"}),
		TaskIterTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "corerun_engine_task_iterations_total",
			Help: "Total reason/act loop iterations run across all tasks.",
		}),
		ToolCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "corerun_dispatcher_tool_calls_total",
			Help: "Total tool invocations dispatched, by tool name and outcome.",
		}, []string{"tool", "status"}),
		ToolCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "corerun_dispatcher_tool_call_duration_seconds",
			Help:    "Duration of dispatched tool invocations, by tool name.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"tool"}),
		ToolCallTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "corerun_dispatcher_tool_call_timeouts_total",
			Help: "Total tool invocations that hit their deadline, by tool name.",
		}, []string{"tool"}),
		DeadLettersTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "corerun_bus_dead_letters_total",
			Help: "Total envelopes the bus could not route to a live recipient.",
		}),
		CheckpointsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "corerun_checkpoint_created_total",
			Help: "Total checkpoints created, by kind (manual|auto).",
		}, []string{"kind"}),
		ContextClampTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "corerun_context_window_clamp_total",
			Help: "Total times the context window had to drop content to stay under budget.",
		}),
	}

	factory.MustRegister(
		m.TurnsTotal, m.TurnDuration, m.TaskIterTotal,
		m.ToolCallsTotal, m.ToolCallDuration, m.ToolCallTimeouts,
		m.DeadLettersTotal, m.CheckpointsTotal, m.ContextClampTotal,
	)
	return m
}

// ObserveTurn records one completed Engine turn (kind is "single_turn" or "task").
func (m *Metrics) ObserveTurn(kind, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(kind, status).Inc()
	m.TurnDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// IncTaskIteration counts one reason/act loop iteration.
func (m *Metrics) IncTaskIteration() {
	if m == nil {
		return
	}
	m.TaskIterTotal.Inc()
}

// ObserveToolCall records one dispatched tool invocation.
func (m *Metrics) ObserveToolCall(tool, status string, timedOut bool, d time.Duration) {
	if m == nil {
		return
	}
	m.ToolCallsTotal.WithLabelValues(tool, status).Inc()
	m.ToolCallDuration.WithLabelValues(tool).Observe(d.Seconds())
	if timedOut {
		m.ToolCallTimeouts.WithLabelValues(tool).Inc()
	}
}

// IncDeadLetter counts one envelope the bus could not route.
func (m *Metrics) IncDeadLetter() {
	if m == nil {
		return
	}
	m.DeadLettersTotal.Inc()
}

// IncCheckpoint counts one checkpoint created, by kind ("manual" or "auto").
func (m *Metrics) IncCheckpoint(kind string) {
	if m == nil {
		return
	}
	m.CheckpointsTotal.WithLabelValues(kind).Inc()
}

// IncContextClamp counts one context-window clamp event.
func (m *Metrics) IncContextClamp() {
	if m == nil {
		return
	}
	m.ContextClampTotal.Inc()
}

// Package metrics exposes the gateway's Prometheus instrumentation:
// connected-peer gauges, message/tool counters, and RPC duration
// histograms. Grounded on the teacher's internal/observability.Metrics,
// scoped down to the surfaces this system actually has (agents, packs,
// tool calls, RPC latency) in place of the teacher's chat-channel and
// webhook metrics.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups every counter, gauge, and histogram the gateway records.
type Metrics struct {
	// AgentsConnected tracks the number of live AgentControl streams.
	AgentsConnected prometheus.Gauge

	// PacksConnected tracks the number of live PackService registrations.
	PacksConnected prometheus.Gauge

	// MessagesTotal counts ledger-appended messages; its "role" label
	// carries the ledger message's MessageType.
	MessagesTotal *prometheus.CounterVec

	// ToolExecutions counts tool calls by tool name and outcome
	// (success|error|timeout).
	ToolExecutions *prometheus.CounterVec

	// ToolExecutionDuration measures pack round-trip latency in seconds.
	ToolExecutionDuration *prometheus.HistogramVec

	// RPCDuration measures gateway RPC handler latency by method and
	// status ("ok", or the error's gRPC code name).
	RPCDuration *prometheus.HistogramVec

	// RegistrationFailures counts rejected Register attempts by reason
	// (auth|collision).
	RegistrationFailures *prometheus.CounterVec
}

var (
	sharedOnce sync.Once
	shared     *Metrics
)

// New returns the process-wide Metrics. The first call creates and
// registers every metric against the default Prometheus registry; later
// calls return that same instance, since the registry accepts each metric
// name only once.
func New() *Metrics {
	sharedOnce.Do(func() { shared = newMetrics() })
	return shared
}

func newMetrics() *Metrics {
	return &Metrics{
		AgentsConnected: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "swarm_agents_connected",
			Help: "Number of agent control streams currently connected.",
		}),
		PacksConnected: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "swarm_packs_connected",
			Help: "Number of pack registrations currently connected.",
		}),
		MessagesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "swarm_messages_total",
			Help: "Total number of messages appended to the conversation ledger.",
		}, []string{"role"}),
		ToolExecutions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "swarm_tool_executions_total",
			Help: "Total number of tool executions by tool name and outcome.",
		}, []string{"tool_name", "outcome"}),
		ToolExecutionDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "swarm_tool_execution_duration_seconds",
			Help:    "Duration of pack tool round trips in seconds.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"tool_name"}),
		RPCDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "swarm_rpc_duration_seconds",
			Help:    "Duration of gateway RPC handlers in seconds.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"method", "status"}),
		RegistrationFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "swarm_registration_failures_total",
			Help: "Total number of rejected agent registration attempts by reason.",
		}, []string{"reason"}),
	}
}

// RecordRPC observes one RPC handler's duration and status.
func (m *Metrics) RecordRPC(method, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.RPCDuration.WithLabelValues(method, status).Observe(durationSeconds)
}

// RecordToolExecution observes one tool call's outcome and duration.
func (m *Metrics) RecordToolExecution(toolName, outcome string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ToolExecutions.WithLabelValues(toolName, outcome).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordMessage increments the ledger counter for the given role.
func (m *Metrics) RecordMessage(role string) {
	if m == nil {
		return
	}
	m.MessagesTotal.WithLabelValues(role).Inc()
}

// AgentConnected/AgentDisconnected and PackConnected/PackDisconnected
// adjust the connected-peer gauges; nil-safe so callers don't need to
// guard a nil *Metrics in tests that construct a Gateway without one.
func (m *Metrics) AgentConnected() {
	if m != nil {
		m.AgentsConnected.Inc()
	}
}

func (m *Metrics) AgentDisconnected() {
	if m != nil {
		m.AgentsConnected.Dec()
	}
}

func (m *Metrics) PackConnected() {
	if m != nil {
		m.PacksConnected.Inc()
	}
}

func (m *Metrics) PackDisconnected() {
	if m != nil {
		m.PacksConnected.Dec()
	}
}

// RecordRegistrationFailure increments the rejected-registration counter
// for the given reason.
func (m *Metrics) RecordRegistrationFailure(reason string) {
	if m == nil {
		return
	}
	m.RegistrationFailures.WithLabelValues(reason).Inc()
}

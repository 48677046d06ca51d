package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestAgentConnectedGauge(t *testing.T) {
	m := New()

	m.AgentConnected()
	m.AgentConnected()
	if got := testutil.ToFloat64(m.AgentsConnected); got != 2 {
		t.Fatalf("AgentsConnected = %v, want 2", got)
	}

	m.AgentDisconnected()
	if got := testutil.ToFloat64(m.AgentsConnected); got != 1 {
		t.Fatalf("AgentsConnected = %v, want 1", got)
	}
}

func TestRecordToolExecution(t *testing.T) {
	m := New()
	m.RecordToolExecution("echo", "success", 0.01)

	if got := testutil.ToFloat64(m.ToolExecutions.WithLabelValues("echo", "success")); got != 1 {
		t.Fatalf("ToolExecutions = %v, want 1", got)
	}
}

func TestRecordMessage(t *testing.T) {
	m := New()
	m.RecordMessage("outbound")
	m.RecordMessage("outbound")

	if got := testutil.ToFloat64(m.MessagesTotal.WithLabelValues("outbound")); got != 2 {
		t.Fatalf("MessagesTotal = %v, want 2", got)
	}
}

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *Metrics
	m.AgentConnected()
	m.AgentDisconnected()
	m.PackConnected()
	m.PackDisconnected()
	m.RecordMessage("outbound")
	m.RecordToolExecution("echo", "success", 0.01)
	m.RecordRPC("Stream", "ok", 0.01)
	m.RecordRegistrationFailure("collision")
}

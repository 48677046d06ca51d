package backend

import (
	"strings"
	"testing"

	"github.com/swarmgate/swarm/internal/wire"
)

func TestParseCLILineSessionInit(t *testing.T) {
	var accum strings.Builder
	events := parseCLILine(`{"type":"system","subtype":"init","session_id":"sess-1"}`, &accum)
	if len(events) != 1 || events[0].Type != wire.EventSessionInit || events[0].SessionID != "sess-1" {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestParseCLILineAssistantTextAccumulates(t *testing.T) {
	var accum strings.Builder
	parseCLILine(`{"type":"assistant","message":{"content":[{"type":"text","text":"Hello"}]}}`, &accum)
	parseCLILine(`{"type":"assistant","message":{"content":[{"type":"text","text":"world"}]}}`, &accum)
	if accum.String() != "Hello world" {
		t.Fatalf("expected joined text with single space, got %q", accum.String())
	}
}

func TestParseCLILineAssistantTextNoDoubleSpaceBeforePunctuation(t *testing.T) {
	var accum strings.Builder
	parseCLILine(`{"type":"assistant","message":{"content":[{"type":"text","text":"Hello"}]}}`, &accum)
	parseCLILine(`{"type":"assistant","message":{"content":[{"type":"text","text":", world"}]}}`, &accum)
	if accum.String() != "Hello, world" {
		t.Fatalf("expected no space inserted before punctuation, got %q", accum.String())
	}
}

func TestParseCLILineAssistantToolUse(t *testing.T) {
	var accum strings.Builder
	events := parseCLILine(`{"type":"assistant","message":{"content":[{"type":"tool_use","id":"t1","name":"search","input":{"q":"go"}}]}}`, &accum)
	if len(events) != 1 || events[0].Type != wire.EventToolUse || events[0].ToolCallID != "t1" || events[0].ToolName != "search" {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestParseCLILineUserToolResult(t *testing.T) {
	var accum strings.Builder
	events := parseCLILine(`{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"t1","content":"42","is_error":false}]}}`, &accum)
	if len(events) != 1 || events[0].Type != wire.EventToolResult || events[0].ToolCallID != "t1" {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestParseCLILineResultSuccessEmitsUsageThenDone(t *testing.T) {
	var accum strings.Builder
	accum.WriteString("final answer")
	events := parseCLILine(`{"type":"result","is_error":false,"usage":{"input_tokens":10,"output_tokens":5}}`, &accum)
	if len(events) != 2 || events[0].Type != wire.EventUsage || events[1].Type != wire.EventDone {
		t.Fatalf("unexpected events: %+v", events)
	}
	if events[1].FullResponse != "final answer" {
		t.Fatalf("expected full_response to carry accumulated text, got %q", events[1].FullResponse)
	}
}

func TestParseCLILineResultErrorEmitsErrorThenDone(t *testing.T) {
	var accum strings.Builder
	events := parseCLILine(`{"type":"result","is_error":true,"error_message":"boom"}`, &accum)
	if len(events) != 2 || events[0].Type != wire.EventError || events[0].ErrorMessage != "boom" || events[1].Type != wire.EventDone {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestBuildArgsPrependsResumeOnlyWhenNotNewSession(t *testing.T) {
	d := NewDirectCLI(DirectCLIConfig{Binary: "cli", Args: []string{"--stream-json"}})

	resumed := d.buildArgs("sess-1", false)
	if len(resumed) < 2 || resumed[0] != "--resume" || resumed[1] != "sess-1" {
		t.Fatalf("expected --resume sess-1 prepended, got %v", resumed)
	}

	fresh := d.buildArgs("sess-1", true)
	for _, a := range fresh {
		if a == "--resume" {
			t.Fatalf("did not expect --resume for a new session, got %v", fresh)
		}
	}
}

func TestBuildArgsRegistersPackEndpoint(t *testing.T) {
	d := NewDirectCLI(DirectCLIConfig{Binary: "cli", PackEndpoint: "unix:///tmp/pack.sock"})
	args := d.buildArgs("sess-1", true)
	found := false
	for i, a := range args {
		if a == "--tool-endpoint" && i+1 < len(args) && args[i+1] == "unix:///tmp/pack.sock" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected pack endpoint argument, got %v", args)
	}
}

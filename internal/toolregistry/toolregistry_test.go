package toolregistry

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/swarmgate/swarm/internal/swerr"
)

func TestRegisterInProcessAndInvoke(t *testing.T) {
	reg := New()
	err := reg.RegisterInProcess("echo", "echoes input", json.RawMessage(`{
		"type":"object",
		"properties":{"msg":{"type":"string"}},
		"required":["msg"]
	}`), func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		var v struct {
			Msg string `json:"msg"`
		}
		if err := json.Unmarshal(input, &v); err != nil {
			return nil, err
		}
		return json.Marshal(v.Msg)
	})
	if err != nil {
		t.Fatalf("RegisterInProcess: %v", err)
	}

	tool, ok := reg.Get("echo")
	if !ok {
		t.Fatal("expected echo to be registered")
	}

	out, err := tool.Invoke(context.Background(), json.RawMessage(`{"msg":"ping"}`))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if string(out) != `"ping"` {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestInvokeRejectsSchemaViolation(t *testing.T) {
	reg := New()
	err := reg.RegisterInProcess("echo", "", json.RawMessage(`{
		"type":"object",
		"properties":{"msg":{"type":"string"}},
		"required":["msg"]
	}`), func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`"ok"`), nil
	})
	if err != nil {
		t.Fatalf("RegisterInProcess: %v", err)
	}

	tool, _ := reg.Get("echo")
	_, err = tool.Invoke(context.Background(), json.RawMessage(`{}`))
	if swerr.KindOf(err) != swerr.InvalidArgument {
		t.Fatalf("expected InvalidArgument for schema violation, got %v", err)
	}
}

func TestResetClearsRegistry(t *testing.T) {
	reg := New()
	_ = reg.RegisterInProcess("one", "", nil, func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		return nil, nil
	})
	reg.Reset()
	if _, ok := reg.Get("one"); ok {
		t.Fatal("expected Reset to clear previously registered tools")
	}
}

type fakeRemote struct {
	lastTool string
	output   json.RawMessage
	err      error
}

func (f *fakeRemote) ExecuteTool(ctx context.Context, toolName string, input json.RawMessage) (json.RawMessage, error) {
	f.lastTool = toolName
	return f.output, f.err
}

func TestRegisterRemoteDispatchesThroughInvoker(t *testing.T) {
	reg := New()
	remote := &fakeRemote{output: json.RawMessage(`"pong"`)}
	if err := reg.RegisterRemote("ping", "", nil, nil, remote, "pack-1"); err != nil {
		t.Fatalf("RegisterRemote: %v", err)
	}

	tool, _ := reg.Get("ping")
	out, err := tool.Invoke(context.Background(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if string(out) != `"pong"` || remote.lastTool != "ping" {
		t.Fatalf("expected remote invocation to be dispatched, got out=%s lastTool=%s", out, remote.lastTool)
	}
}

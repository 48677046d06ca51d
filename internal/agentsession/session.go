// Package agentsession implements the per-message state machine described
// in spec.md section 4.4: drive one backend turn, debounce its text, bridge
// pack-routed tool calls, and forward the normalized event sequence to the
// gateway as AgentMessage::Response frames.
package agentsession

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/swarmgate/swarm/internal/backend"
	"github.com/swarmgate/swarm/internal/toolregistry"
	"github.com/swarmgate/swarm/internal/wire"
)

// PackInvoker dispatches a pack-routed tool call and waits for its result.
// Implemented by internal/packbridge.Bridge.
type PackInvoker interface {
	ExecuteToolWithTimeout(ctx context.Context, toolName string, input json.RawMessage, timeout time.Duration) (json.RawMessage, error)
}

// PackTimeout is the per-call deadline handed to PackInvoker, mirroring
// internal/packbridge's own default (spec.md section 4.6).
const PackTimeout = 60 * time.Second

// Emitter sends one AgentMessage::Response frame upstream to the gateway.
type Emitter func(requestID string, event wire.BackendEventWire)

// Session owns one backend and the session_id/is_new_session identity that
// persists across messages on one agent's AgentControl stream (spec.md
// section 4.4).
type Session struct {
	mu           sync.Mutex
	sessionID    string
	isNewSession bool

	backend backend.Backend
	packs   PackInvoker
	tools   *toolregistry.Registry

	emit   Emitter
	logger *slog.Logger
}

// New returns a Session with a fresh session identity. packs and tools may
// be nil if the agent has no registered tools yet.
func New(be backend.Backend, packs PackInvoker, tools *toolregistry.Registry, emit Emitter) *Session {
	return &Session{
		sessionID:    uuid.NewString(),
		isNewSession: true,
		backend:      be,
		packs:        packs,
		tools:        tools,
		emit:         emit,
		logger:       slog.Default().With("component", "agentsession"),
	}
}

// HandleSendMessage runs one full turn: Thinking, Streaming (with
// debouncing and tool bridging), and terminal Done/Error, per the state
// machine in spec.md section 4.4.
func (s *Session) HandleSendMessage(ctx context.Context, requestID, content string) {
	s.mu.Lock()
	sessionID := s.sessionID
	isNewSession := s.isNewSession
	s.mu.Unlock()

	// 1. Thinking: emit a heartbeat before the backend produces anything.
	s.emit(requestID, wire.BackendEventWire{Type: wire.EventThinking})

	events, err := s.backend.Send(ctx, sessionID, content, isNewSession)
	if err != nil {
		s.emit(requestID, wire.BackendEventWire{Type: wire.EventError, ErrorMessage: err.Error()})
		s.emit(requestID, wire.BackendEventWire{Type: wire.EventDone})
		return
	}

	var textAccum strings.Builder
	flushNonText := func(ev wire.BackendEventWire) {
		s.emit(requestID, ev)
	}
	coalescer := newTextCoalescer(func(text string) {
		s.emit(requestID, wire.BackendEventWire{Type: wire.EventText, Text: text})
	})

	for ev := range events {
		switch ev.Type {
		case wire.EventSessionInit:
			s.mu.Lock()
			s.sessionID = ev.SessionID
			s.isNewSession = false
			s.mu.Unlock()
			coalescer.Flush()
			flushNonText(ev)

		case wire.EventSessionOrphaned:
			fresh := uuid.NewString()
			s.mu.Lock()
			s.sessionID = fresh
			s.isNewSession = true
			s.mu.Unlock()
			coalescer.Flush()
			flushNonText(wire.BackendEventWire{
				Type:         wire.EventError,
				ErrorMessage: "conversation will be re-established on retry",
			})

		case wire.EventText:
			textAccum.WriteString(ev.Text)
			coalescer.Add(ev.Text)

		case wire.EventToolUse:
			coalescer.Flush()
			flushNonText(ev)
			s.bridgeToolUse(ctx, requestID, ev)

		case wire.EventToolApprovalRequest:
			// Auto-approval (spec.md 4.4 item 4): surfaced upstream only as
			// a ToolUse event, never as the approval request itself.
			coalescer.Flush()
			flushNonText(wire.BackendEventWire{
				Type:       wire.EventToolUse,
				ToolCallID: ev.ToolCallID,
				ToolName:   ev.ToolName,
				ToolInput:  ev.ToolInput,
			})

		case wire.EventToolResult, wire.EventUsage:
			coalescer.Flush()
			flushNonText(ev)

		case wire.EventDone:
			coalescer.Flush()
			if ev.FullResponse == "" && textAccum.Len() > 0 {
				ev.FullResponse = textAccum.String()
			}
			flushNonText(ev)

		case wire.EventError:
			coalescer.Flush()
			flushNonText(ev)

		default:
			coalescer.Flush()
			flushNonText(ev)
		}
	}
}

// bridgeToolUse dispatches a pack-routed tool call for an in-process
// backend and feeds the result back into its own history via
// RecordToolResult (spec.md 4.4 item 3). CLI backends never reach this
// path: their child process discovers tools through its own registered
// pack endpoint and reports ToolResult itself from its stdout stream, so
// the session must not execute the call a second time here.
func (s *Session) bridgeToolUse(ctx context.Context, requestID string, ev wire.BackendEventWire) {
	mux, isMux := s.backend.(*backend.Mux)
	if !isMux || s.packs == nil || s.tools == nil {
		return
	}
	tool, ok := s.tools.Get(ev.ToolName)
	if !ok || tool.Strategy != toolregistry.StrategyRemote {
		return
	}

	s.mu.Lock()
	sessionID := s.sessionID
	s.mu.Unlock()

	// Validate against the tool's declared input schema before it ever
	// reaches the pack bridge (spec.md section 7's InvalidArgument).
	if err := tool.ValidateInput(ev.ToolInput); err != nil {
		mux.RecordToolResult(sessionID, ev.ToolCallID, err.Error(), true)
		return
	}

	out, err := s.packs.ExecuteToolWithTimeout(ctx, ev.ToolName, ev.ToolInput, PackTimeout)
	if err != nil {
		mux.RecordToolResult(sessionID, ev.ToolCallID, err.Error(), true)
		return
	}
	mux.RecordToolResult(sessionID, ev.ToolCallID, string(out), false)
}

// Package packbridge is the gateway-side request/response bridge between
// an agent's tool call and an out-of-process pack's reply (spec.md
// section 4.6). Grounded on the teacher's internal/tools/sandbox/firecracker
// vsock.go, which correlates requests to replies across a process boundary
// with a request-id-keyed map of one-shot channels protected by a mutex —
// the same shape this bridge needs for pack tool calls instead of guest
// VM calls.
package packbridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/swarmgate/swarm/internal/metrics"
	"github.com/swarmgate/swarm/internal/swerr"
	"github.com/swarmgate/swarm/internal/wire"
)

// DefaultTimeout is the per-invocation deadline absent a tool-specific
// override (spec.md section 4.6 / 5).
const DefaultTimeout = 60 * time.Second

// connectedPack tracks one live pack's send channel and the tool names it
// currently owns, so an unregister can remove them atomically.
type connectedPack struct {
	id      string
	sendCh  chan<- *wire.ExecuteToolRequest
	toolSet map[string]struct{}
}

type pendingInvocation struct {
	reply chan toolReply
}

type toolReply struct {
	output json.RawMessage
	errMsg string
}

// Bridge owns the set of connected packs, the tool_name -> pack_id map, and
// the pending-invocations table.
type Bridge struct {
	mu    sync.RWMutex
	packs map[string]*connectedPack
	owner map[string]string // tool name -> pack id, single global winner

	pendingMu sync.Mutex
	pending   map[string]*pendingInvocation

	logger  *slog.Logger
	metrics *metrics.Metrics
}

// SetMetrics attaches the gateway's metrics recorder. Safe to call once
// before the bridge starts serving; nil is a valid no-op value.
func (b *Bridge) SetMetrics(m *metrics.Metrics) {
	b.metrics = m
}

// New returns an empty Bridge.
func New() *Bridge {
	return &Bridge{
		packs:   make(map[string]*connectedPack),
		owner:   make(map[string]string),
		pending: make(map[string]*pendingInvocation),
		logger:  slog.Default().With("component", "packbridge"),
	}
}

// RegisterPack registers packID's tool set, rejecting any tool name that
// collides with an already-registered tool from a different pack (single
// global winner at registration time, spec.md section 3). Returns the
// names rejected, which the caller surfaces as PackWelcome.rejected_tools.
func (b *Bridge) RegisterPack(packID string, tools []wire.ToolDefinition, sendCh chan<- *wire.ExecuteToolRequest) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	pack := &connectedPack{id: packID, sendCh: sendCh, toolSet: make(map[string]struct{})}
	var rejected []string
	for _, t := range tools {
		if existingOwner, ok := b.owner[t.Name]; ok && existingOwner != packID {
			rejected = append(rejected, t.Name)
			continue
		}
		b.owner[t.Name] = packID
		pack.toolSet[t.Name] = struct{}{}
	}
	b.packs[packID] = pack
	return rejected
}

// UnregisterPack removes packID's tool ownership atomically (spec.md
// section 3: "a pack whose process closes its stream loses all its tools
// atomically"). Pending invocations already routed to packID are not
// cancelled eagerly; they expire at their own deadlines (spec.md 4.6's
// acknowledged simplification).
func (b *Bridge) UnregisterPack(packID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	pack, ok := b.packs[packID]
	if !ok {
		return
	}
	for name := range pack.toolSet {
		if b.owner[name] == packID {
			delete(b.owner, name)
		}
	}
	delete(b.packs, packID)
}

// ExecuteTool resolves toolName to its owning pack, dispatches an
// ExecuteToolRequest, and waits up to DefaultTimeout for the correlated
// reply (spec.md section 4.6's algorithm).
func (b *Bridge) ExecuteTool(ctx context.Context, toolName string, input json.RawMessage) (json.RawMessage, error) {
	return b.ExecuteToolWithTimeout(ctx, toolName, input, DefaultTimeout)
}

// ExecuteToolWithTimeout is ExecuteTool with an explicit deadline; a
// non-positive timeout uses DefaultTimeout. The tool's
// ToolDefinition.timeout_seconds is not consulted.
func (b *Bridge) ExecuteToolWithTimeout(ctx context.Context, toolName string, input json.RawMessage, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	b.mu.RLock()
	packID, ok := b.owner[toolName]
	var pack *connectedPack
	if ok {
		pack = b.packs[packID]
	}
	b.mu.RUnlock()

	if !ok || pack == nil {
		return nil, swerr.Newf(swerr.NotFound, "no pack owns tool %q", toolName)
	}

	requestID := uuid.NewString()
	slot := &pendingInvocation{reply: make(chan toolReply, 1)}

	b.pendingMu.Lock()
	b.pending[requestID] = slot
	b.pendingMu.Unlock()

	defer func() {
		b.pendingMu.Lock()
		delete(b.pending, requestID)
		b.pendingMu.Unlock()
	}()

	req := &wire.ExecuteToolRequest{RequestID: requestID, ToolName: toolName, InputJSON: input}
	started := time.Now()

	select {
	case pack.sendCh <- req:
	case <-ctx.Done():
		b.metrics.RecordToolExecution(toolName, "timeout", time.Since(started).Seconds())
		return nil, swerr.Wrap(swerr.DeadlineExceeded, ctx.Err())
	case <-time.After(timeout):
		b.metrics.RecordToolExecution(toolName, "timeout", time.Since(started).Seconds())
		return nil, swerr.New(swerr.DeadlineExceeded, "execution timed out")
	}

	select {
	case r := <-slot.reply:
		if r.errMsg != "" {
			b.metrics.RecordToolExecution(toolName, "error", time.Since(started).Seconds())
			return nil, swerr.New(swerr.Internal, r.errMsg)
		}
		b.metrics.RecordToolExecution(toolName, "success", time.Since(started).Seconds())
		return r.output, nil
	case <-ctx.Done():
		b.metrics.RecordToolExecution(toolName, "timeout", time.Since(started).Seconds())
		return nil, swerr.Wrap(swerr.DeadlineExceeded, ctx.Err())
	case <-time.After(timeout):
		b.metrics.RecordToolExecution(toolName, "timeout", time.Since(started).Seconds())
		return nil, swerr.New(swerr.DeadlineExceeded, "execution timed out")
	}
}

// HandleReply feeds a pack's ExecuteToolResponse back to the waiting
// caller, if any invocation with that request_id is still pending. A
// reply for an unknown or already-expired request_id is silently dropped
// (the waiter has already timed out and moved on).
func (b *Bridge) HandleReply(resp *wire.ExecuteToolResponse) {
	b.pendingMu.Lock()
	slot, ok := b.pending[resp.RequestID]
	b.pendingMu.Unlock()
	if !ok {
		b.logger.Warn("reply for unknown or expired request", "request_id", resp.RequestID)
		return
	}
	select {
	case slot.reply <- toolReply{output: resp.OutputJSON, errMsg: resp.Error}:
	default:
	}
}

// ConnectedPacks lists the ids of every currently-registered pack.
func (b *Bridge) ConnectedPacks() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.packs))
	for id := range b.packs {
		out = append(out, id)
	}
	return out
}

// Owner returns the pack id that owns toolName, if any.
func (b *Bridge) Owner(toolName string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	id, ok := b.owner[toolName]
	return id, ok
}

package gateway

import (
	"context"
	"fmt"
	"io"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/swarmgate/swarm/internal/store"
	"github.com/swarmgate/swarm/internal/swerr"
	"github.com/swarmgate/swarm/internal/wire"
)

// Stream implements wire.AgentControlServer: the agent's first frame must
// be a Register, every frame after that is a Response (spec.md 4.7).
func (g *Gateway) Stream(stream wire.AgentControl_StreamServer) error {
	ctx := stream.Context()
	principal, err := g.authenticate(ctx)
	if err != nil {
		g.mx.RecordRegistrationFailure("auth")
		return toGRPCStatus(err)
	}

	first, err := stream.Recv()
	if err != nil {
		return toGRPCStatus(err)
	}
	if first.Register == nil {
		return status.Error(codes.InvalidArgument, "first frame on AgentControl.Stream must be register")
	}

	conn, welcome, err := g.registerAgent(ctx, first.Register, principal)
	if err != nil {
		return toGRPCStatus(err)
	}
	if err := stream.Send(&wire.ServerMessage{Welcome: welcome}); err != nil {
		return err
	}

	defer g.dropAgent(ctx, conn.agentID)

	writerDone := make(chan error, 1)
	go func() {
		for msg := range conn.outbound {
			if err := stream.Send(msg); err != nil {
				writerDone <- err
				return
			}
		}
		writerDone <- nil
	}()

	for {
		msg, err := stream.Recv()
		if err == io.EOF {
			close(conn.outbound)
			return <-writerDone
		}
		if err != nil {
			close(conn.outbound)
			<-writerDone
			return err
		}
		switch {
		case msg.Response != nil:
			g.handleAgentResponse(ctx, conn, msg.Response)
		case msg.Heartbeat != nil:
			conn.mu.Lock()
			conn.lastSeen = time.Now()
			conn.mu.Unlock()
		}
	}
}

// registerAgent resolves agent_id collisions by appending a numeric suffix
// up to MaxRegistrationAttempts (spec.md 4.7 / 5), persists the agent, and
// builds its Welcome frame.
func (g *Gateway) registerAgent(ctx context.Context, reg *wire.RegisterRequest, principal *Principal) (*agentConn, *wire.Welcome, error) {
	baseID := reg.AgentID
	id := baseID

	g.mu.Lock()
	for attempt := 1; ; attempt++ {
		if _, live := g.agents[id]; !live {
			break
		}
		if attempt >= MaxRegistrationAttempts {
			g.mu.Unlock()
			g.mx.RecordRegistrationFailure("collision")
			return nil, nil, swerr.New(swerr.AlreadyExists, "agent_id exhausted all registration attempts")
		}
		id = fmt.Sprintf("%s-%d", baseID, attempt+1)
	}
	reg.AgentID = id
	conn := newAgentConn(reg)
	g.agents[id] = conn
	g.mu.Unlock()

	if err := g.store.UpsertAgent(ctx, store.Agent{
		ID:         id,
		Name:       reg.Name,
		Backend:    reg.Backend,
		WorkingDir: reg.WorkingDir,
		Connected:  true,
	}); err != nil {
		g.mu.Lock()
		delete(g.agents, id)
		g.mu.Unlock()
		return nil, nil, err
	}
	g.mx.AgentConnected()

	var tools []wire.ToolDefinition
	if g.tools != nil {
		for _, t := range g.tools.All() {
			tools = append(tools, wire.ToolDefinition{
				Name:                 t.Name,
				Description:          t.Description,
				InputSchema:          t.InputSchema,
				RequiredCapabilities: t.RequiredCapabilities,
			})
		}
	}

	welcome := &wire.Welcome{
		ServerID:        g.cfg.ServerID,
		AssignedAgentID: id,
		InstanceID:      g.cfg.InstanceID,
		PrincipalID:     principal.ID,
		AvailableTools:  tools,
		MCPEndpoint:     g.cfg.MCPEndpoint,
	}
	if len(g.cfg.MCPSecret) > 0 {
		token, err := issueMCPToken(g.cfg.MCPSecret, id, principal.ID)
		if err == nil {
			welcome.MCPToken = token
		} else {
			g.logger.Warn("mcp token issuance failed", "agent_id", id, "error", err)
		}
	}
	return conn, welcome, nil
}

func (g *Gateway) dropAgent(ctx context.Context, agentID string) {
	g.mu.Lock()
	delete(g.agents, agentID)
	g.mu.Unlock()
	g.mx.AgentDisconnected()
	if err := g.store.SetAgentConnected(ctx, agentID, false); err != nil {
		g.logger.Warn("mark agent disconnected failed", "agent_id", agentID, "error", err)
	}
}

// handleAgentResponse persists and publishes one backend event emitted by
// an agent turn (spec.md 4.7). Thinking/tool-state/approval-request frames
// are ephemeral and are not written to the ledger.
func (g *Gateway) handleAgentResponse(ctx context.Context, conn *agentConn, resp *wire.AgentResponse) {
	conn.mu.Lock()
	conn.lastSeen = time.Now()
	conn.mu.Unlock()

	conversationKey, ok := g.conversationKeyForRequest(resp.RequestID)
	if !ok {
		g.logger.Warn("response for unknown or expired request_id", "agent_id", conn.agentID, "request_id", resp.RequestID)
		return
	}
	if classifyTerminalEvent(resp.Event) {
		defer g.forgetRequest(resp.RequestID)
	}

	conv := g.conversationFor(conversationKey, conn.agentID)

	direction, author, content, messageType, persist := classifyAgentEvent(conn, resp.Event)
	if !persist {
		return
	}

	if _, _, err := g.ledgerAppendAndPublish(ctx, conv, store.Message{
		ConversationID: conversationKey,
		Direction:      direction,
		Author:         author,
		Content:        content,
		MessageType:    messageType,
	}); err != nil {
		g.logger.Error("ledger append failed", "agent_id", conn.agentID, "error", err)
	}
}

// classifyTerminalEvent reports whether ev ends the request_id's lifetime,
// so its pendingRequests entry can be dropped.
func classifyTerminalEvent(ev wire.BackendEventWire) bool {
	switch ev.Type {
	case wire.EventDone, wire.EventError:
		return true
	default:
		return false
	}
}

// classifyAgentEvent maps a backend event onto the ledger's
// (direction, author, content, message_type) shape, or reports it should
// not be persisted.
func classifyAgentEvent(conn *agentConn, ev wire.BackendEventWire) (direction, author, content, messageType string, persist bool) {
	switch ev.Type {
	case wire.EventText:
		return "outbound", conn.name, ev.Text, "text", ev.Text != ""
	case wire.EventToolUse:
		return "outbound", conn.name, string(ev.ToolInput), "tool_use", true
	case wire.EventToolResult:
		return "outbound", conn.name, ev.ToolOutput, "tool_result", true
	case wire.EventDone:
		return "outbound", conn.name, ev.FullResponse, "done", ev.FullResponse != ""
	case wire.EventError:
		return "outbound", conn.name, ev.ErrorMessage, "error", true
	default:
		return "", "", "", "", false
	}
}

func toGRPCStatus(err error) error {
	switch swerr.KindOf(err) {
	case swerr.Unauthenticated:
		return status.Error(codes.Unauthenticated, err.Error())
	case swerr.AlreadyExists:
		return status.Error(codes.AlreadyExists, err.Error())
	case swerr.NotFound:
		return status.Error(codes.NotFound, err.Error())
	case swerr.DeadlineExceeded:
		return status.Error(codes.DeadlineExceeded, err.Error())
	case swerr.Unavailable:
		return status.Error(codes.Unavailable, err.Error())
	case swerr.InvalidArgument:
		return status.Error(codes.InvalidArgument, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

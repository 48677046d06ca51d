package gateway

import (
	"context"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/swarmgate/swarm/internal/store"
	"github.com/swarmgate/swarm/internal/swerr"
	"github.com/swarmgate/swarm/internal/wire"
)

// ListAgents implements wire.ClientServiceServer (spec.md 4.7). Workspace
// filters against an agent's registered working_directory prefix when set.
func (g *Gateway) ListAgents(ctx context.Context, req *wire.ListAgentsRequest) (*wire.ListAgentsResponse, error) {
	if _, err := g.authenticate(ctx); err != nil {
		return nil, toGRPCStatus(err)
	}

	agents, err := g.store.ListAgents(ctx)
	if err != nil {
		return nil, toGRPCStatus(err)
	}

	out := make([]wire.AgentInfo, 0, len(agents))
	for _, a := range agents {
		if req.Workspace != "" && !strings.HasPrefix(a.WorkingDir, req.Workspace) {
			continue
		}
		info := wire.AgentInfo{
			AgentID:    a.ID,
			Name:       a.Name,
			Backend:    a.Backend,
			WorkingDir: a.WorkingDir,
			Connected:  a.Connected,
		}
		if !a.ConnectedAt.IsZero() {
			info.ConnectedAt = a.ConnectedAt.Unix()
		}
		if !a.LastSeen.IsZero() {
			info.LastSeen = a.LastSeen.Unix()
		}
		if conn, ok := g.liveAgent(a.ID); ok {
			info.Workspaces = conn.workspaces
			info.Git = conn.git
			info.Hostname = conn.hostname
			info.OS = conn.os
		}
		out = append(out, info)
	}
	return &wire.ListAgentsResponse{Agents: out}, nil
}

func (g *Gateway) liveAgent(agentID string) (*agentConn, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, ok := g.agents[agentID]
	return c, ok
}

// SendMessage implements wire.ClientServiceServer. conversation_key
// addresses one agent's single active conversation (spec.md 4.2); the
// gateway resolves it to an agent_id, persists the inbound message, and
// hands the turn to that agent's outbound channel.
func (g *Gateway) SendMessage(ctx context.Context, req *wire.SendMessageRequest) (*wire.SendMessageResponse, error) {
	if _, err := g.authenticate(ctx); err != nil {
		return nil, toGRPCStatus(err)
	}
	if req.ConversationKey == "" || req.Content == "" {
		return nil, toGRPCStatus(swerr.New(swerr.InvalidArgument, "conversation_key and content are required"))
	}

	agentID := conversationAgentID(req.ConversationKey)
	conn, ok := g.liveAgent(agentID)
	if !ok {
		return nil, toGRPCStatus(swerr.New(swerr.NotFound, "agent not connected: "+agentID))
	}

	if err := g.store.GetOrCreateConversation(ctx, req.ConversationKey, agentID); err != nil {
		return nil, toGRPCStatus(err)
	}

	conv := g.conversationFor(req.ConversationKey, agentID)
	saved, fresh, err := g.ledgerAppendAndPublish(ctx, conv, store.Message{
		ConversationID: req.ConversationKey,
		Direction:      "inbound",
		Author:         "client",
		Content:        req.Content,
		MessageType:    "text",
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return nil, toGRPCStatus(err)
	}

	// A dedup hit means this (conversation_id, idempotency_key) already
	// produced a result: return it without re-dispatching to the agent
	// (spec.md 4.7/9's idempotency invariant).
	if !fresh {
		return &wire.SendMessageResponse{
			MessageID: strconv.FormatInt(saved.ID, 10),
			Status:    "accepted",
		}, nil
	}

	requestID := uuid.NewString()
	g.rememberRequest(requestID, req.ConversationKey)
	send := &wire.ServerMessage{SendMessage: &wire.SendToAgent{
		RequestID: requestID,
		ThreadID:  req.ConversationKey,
		Sender:    "client",
		Content:   req.Content,
	}}
	if err := g.sendToAgent(ctx, conn, send); err != nil {
		g.forgetRequest(requestID)
		return nil, toGRPCStatus(err)
	}

	return &wire.SendMessageResponse{
		MessageID: strconv.FormatInt(saved.ID, 10),
		Status:    "accepted",
	}, nil
}

// conversationAgentID extracts the agent_id portion of a conversation_key.
// Keys are formatted "<agent_id>/<thread>" (spec.md 4.2's GLOSSARY entry
// for conversation_key); a bare agent_id with no thread addresses its
// default conversation.
func conversationAgentID(conversationKey string) string {
	if i := strings.IndexByte(conversationKey, '/'); i >= 0 {
		return conversationKey[:i]
	}
	return conversationKey
}

// StreamEvents implements wire.ClientServiceServer: replay the persisted
// ledger from since_event_id, then tail live publishes, always terminating
// with Done or Error rather than a silent stream close (spec.md section 7).
func (g *Gateway) StreamEvents(req *wire.StreamEventsRequest, stream wire.ClientService_StreamEventsServer) error {
	ctx := stream.Context()
	if _, err := g.authenticate(ctx); err != nil {
		return toGRPCStatus(err)
	}
	if req.ConversationKey == "" {
		return toGRPCStatus(swerr.New(swerr.InvalidArgument, "conversation_key is required"))
	}

	agentID := conversationAgentID(req.ConversationKey)
	conv := g.conversationFor(req.ConversationKey, agentID)
	subID, live := conv.subscribe()
	defer conv.unsubscribe(subID)

	backlog, err := g.store.GetMessages(ctx, req.ConversationKey, req.SinceEventID, 0)
	if err != nil {
		return toGRPCStatus(err)
	}
	for _, m := range backlog {
		if err := stream.Send(&wire.ClientStreamEvent{Message: &wire.LedgerMessage{
			ID:             m.ID,
			ConversationID: m.ConversationID,
			Direction:      m.Direction,
			Author:         m.Author,
			Content:        m.Content,
			MessageType:    m.MessageType,
			CreatedAt:      m.CreatedAt.Unix(),
			IdempotencyKey: m.IdempotencyKey,
		}}); err != nil {
			return err
		}
	}

	for {
		select {
		case ev, ok := <-live:
			if !ok {
				// Only publish closes live while this RPC runs: a slow-consumer eviction.
				_ = stream.Send(&wire.ClientStreamEvent{Error: &wire.StreamError{Message: "conversation stream closed"}})
				return toGRPCStatus(swerr.New(swerr.Unavailable, "slow consumer evicted"))
			}
			if err := stream.Send(ev); err != nil {
				return err
			}
		case <-ctx.Done():
			return stream.Send(&wire.ClientStreamEvent{Done: &wire.StreamDone{}})
		}
	}
}

// ApproveTool implements wire.ClientServiceServer, forwarding a human's
// tool approval decision to the owning agent. Auto-approval (spec.md 4.4
// item 4) means this path only matters for deployments that disable it;
// the gateway still exposes it so client UIs can opt back into manual
// review.
func (g *Gateway) ApproveTool(ctx context.Context, req *wire.ApproveToolRequest) (*wire.ApproveToolResponse, error) {
	if _, err := g.authenticate(ctx); err != nil {
		return nil, toGRPCStatus(err)
	}
	conn, ok := g.liveAgent(req.AgentID)
	if !ok {
		return nil, toGRPCStatus(swerr.New(swerr.NotFound, "agent not connected: "+req.AgentID))
	}
	msg := &wire.ServerMessage{ToolApproval: &wire.ToolApproval{
		ToolID:     req.ToolID,
		Approved:   req.Approved,
		ApproveAll: req.ApproveAll,
	}}
	if err := g.sendToAgent(ctx, conn, msg); err != nil {
		return nil, toGRPCStatus(err)
	}
	return &wire.ApproveToolResponse{}, nil
}

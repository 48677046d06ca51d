package gateway

import (
	"context"
	"testing"

	"google.golang.org/grpc/metadata"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/swarmgate/swarm/internal/credential"
	"github.com/swarmgate/swarm/internal/packbridge"
	"github.com/swarmgate/swarm/internal/store"
	"github.com/swarmgate/swarm/internal/toolregistry"
	"github.com/swarmgate/swarm/internal/wire"
)

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return New(Config{ServerID: "test-server", InstanceID: "test-instance"}, st, packbridge.New(), toolregistry.New())
}

func signedIncomingContext(t *testing.T, cred *credential.Credential) context.Context {
	t.Helper()
	ctx, err := credential.AttachToOutgoingContext(context.Background(), cred)
	if err != nil {
		t.Fatalf("attach credential: %v", err)
	}
	md, _ := metadata.FromOutgoingContext(ctx)
	return metadata.NewIncomingContext(context.Background(), md)
}

func TestAuthenticateAcceptsValidSignature(t *testing.T) {
	gw := newTestGateway(t)
	cred, err := credential.Generate()
	if err != nil {
		t.Fatalf("generate credential: %v", err)
	}

	principal, err := gw.authenticate(signedIncomingContext(t, cred))
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if principal.ID == "" {
		t.Fatal("expected a non-empty principal id")
	}
	if !principal.HasCapability("chat") {
		t.Fatal("expected default capability \"chat\" on first enrollment")
	}
}

func TestAuthenticateSamePrincipalAcrossCalls(t *testing.T) {
	gw := newTestGateway(t)
	cred, err := credential.Generate()
	if err != nil {
		t.Fatalf("generate credential: %v", err)
	}

	first, err := gw.authenticate(signedIncomingContext(t, cred))
	if err != nil {
		t.Fatalf("authenticate (first): %v", err)
	}
	second, err := gw.authenticate(signedIncomingContext(t, cred))
	if err != nil {
		t.Fatalf("authenticate (second): %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected the same principal across calls, got %q and %q", first.ID, second.ID)
	}
}

func TestAuthenticateRejectsMissingMetadata(t *testing.T) {
	gw := newTestGateway(t)
	if _, err := gw.authenticate(context.Background()); err == nil {
		t.Fatal("expected an error authenticating without credential metadata")
	}
}

func TestAuthenticateRejectsReplayedNonce(t *testing.T) {
	gw := newTestGateway(t)
	cred, err := credential.Generate()
	if err != nil {
		t.Fatalf("generate credential: %v", err)
	}

	ctx, err := credential.AttachToOutgoingContext(context.Background(), cred)
	if err != nil {
		t.Fatalf("attach credential: %v", err)
	}
	md, _ := metadata.FromOutgoingContext(ctx)
	incoming := metadata.NewIncomingContext(context.Background(), md)

	if _, err := gw.authenticate(incoming); err != nil {
		t.Fatalf("first authenticate: %v", err)
	}
	if _, err := gw.authenticate(incoming); err == nil {
		t.Fatal("expected the second use of the same nonce to be rejected as a replay")
	}
}

func TestRegisterAgentTracksGaugeAndResolvesCollisions(t *testing.T) {
	gw := newTestGateway(t)
	cred, err := credential.Generate()
	if err != nil {
		t.Fatalf("generate credential: %v", err)
	}
	principal, err := gw.authenticate(signedIncomingContext(t, cred))
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}

	ctx := context.Background()
	conn1, welcome1, err := gw.registerAgent(ctx, &wire.RegisterRequest{AgentID: "agent-a", Name: "agent-a", Backend: "mux"}, principal)
	if err != nil {
		t.Fatalf("registerAgent: %v", err)
	}
	if welcome1.AssignedAgentID != "agent-a" {
		t.Fatalf("AssignedAgentID = %q, want %q", welcome1.AssignedAgentID, "agent-a")
	}
	if got := testutil.ToFloat64(gw.mx.AgentsConnected); got != 1 {
		t.Fatalf("AgentsConnected = %v, want 1", got)
	}

	_, welcome2, err := gw.registerAgent(ctx, &wire.RegisterRequest{AgentID: "agent-a", Name: "agent-a", Backend: "mux"}, principal)
	if err != nil {
		t.Fatalf("registerAgent (collision): %v", err)
	}
	if welcome2.AssignedAgentID == "agent-a" {
		t.Fatal("expected a suffixed agent_id for the colliding registration")
	}
	if got := testutil.ToFloat64(gw.mx.AgentsConnected); got != 2 {
		t.Fatalf("AgentsConnected after collision = %v, want 2", got)
	}

	gw.dropAgent(ctx, conn1.agentID)
	if got := testutil.ToFloat64(gw.mx.AgentsConnected); got != 1 {
		t.Fatalf("AgentsConnected after drop = %v, want 1", got)
	}
}

// drainOutbound pulls one ServerMessage off conn's outbound channel,
// failing the test if none arrives promptly.
func drainOutbound(t *testing.T, conn *agentConn) *wire.ServerMessage {
	t.Helper()
	select {
	case msg := <-conn.outbound:
		return msg
	default:
		t.Fatal("expected a message on the agent's outbound channel")
		return nil
	}
}

func TestSendMessageThenAgentResponseLandsInConversationLedger(t *testing.T) {
	gw := newTestGateway(t)
	ctx := context.Background()
	cred, err := credential.Generate()
	if err != nil {
		t.Fatalf("generate credential: %v", err)
	}
	principal, err := gw.authenticate(signedIncomingContext(t, cred))
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}

	conn, _, err := gw.registerAgent(ctx, &wire.RegisterRequest{AgentID: "alpha", Name: "alpha", Backend: "mux"}, principal)
	if err != nil {
		t.Fatalf("registerAgent: %v", err)
	}

	resp, err := gw.SendMessage(signedIncomingContext(t, cred), &wire.SendMessageRequest{
		ConversationKey: "alpha",
		Content:         "hi",
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	sent := drainOutbound(t, conn)
	if sent.SendMessage == nil {
		t.Fatal("expected a SendToAgent frame on the agent's outbound channel")
	}
	requestID := sent.SendMessage.RequestID
	if requestID == "" {
		t.Fatal("expected a non-empty request_id")
	}

	gw.handleAgentResponse(ctx, conn, &wire.AgentResponse{
		RequestID: requestID,
		Event:     wire.BackendEventWire{Type: wire.EventDone, FullResponse: "hi back"},
	})

	msgs, err := gw.store.GetMessages(ctx, "alpha", 0, 0)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected two ledger messages (inbound + outbound), got %d: %+v", len(msgs), msgs)
	}
	if msgs[0].Direction != "inbound" || msgs[0].Content != "hi" {
		t.Fatalf("unexpected first ledger message: %+v", msgs[0])
	}
	if msgs[1].Direction != "outbound" || msgs[1].Content != "hi back" {
		t.Fatalf("unexpected second ledger message: %+v", msgs[1])
	}
	if resp.MessageID == "" {
		t.Fatal("expected a non-empty message_id in SendMessage's response")
	}

	if _, ok := gw.conversationKeyForRequest(requestID); ok {
		t.Fatal("expected the request_id to be forgotten after its terminal event")
	}
}

func TestSendMessageIdempotentResendSkipsRedispatch(t *testing.T) {
	gw := newTestGateway(t)
	ctx := context.Background()
	cred, err := credential.Generate()
	if err != nil {
		t.Fatalf("generate credential: %v", err)
	}
	principal, err := gw.authenticate(signedIncomingContext(t, cred))
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}

	conn, _, err := gw.registerAgent(ctx, &wire.RegisterRequest{AgentID: "alpha", Name: "alpha", Backend: "mux"}, principal)
	if err != nil {
		t.Fatalf("registerAgent: %v", err)
	}

	req := &wire.SendMessageRequest{ConversationKey: "alpha", Content: "hi", IdempotencyKey: "k1"}

	first, err := gw.SendMessage(signedIncomingContext(t, cred), req)
	if err != nil {
		t.Fatalf("SendMessage (first): %v", err)
	}
	drainOutbound(t, conn) // the one and only dispatch to the agent

	second, err := gw.SendMessage(signedIncomingContext(t, cred), req)
	if err != nil {
		t.Fatalf("SendMessage (second): %v", err)
	}
	if second.MessageID != first.MessageID {
		t.Fatalf("expected the idempotent resend to return the original message_id, got %q vs %q", second.MessageID, first.MessageID)
	}

	select {
	case msg := <-conn.outbound:
		t.Fatalf("expected no second dispatch to the agent, got %+v", msg)
	default:
	}

	msgs, err := gw.store.GetMessages(ctx, "alpha", 0, 0)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected exactly one ledger message across both calls, got %d", len(msgs))
	}
}

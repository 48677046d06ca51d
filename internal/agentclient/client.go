// Package agentclient drives one agent's AgentControl stream against a
// gateway: register, then pump ServerMessage frames into an
// agentsession.Session and AgentResponse frames back out. Grounded on the
// teacher's internal/gateway lifecycle dial/reconnect shape, adapted from a
// server listener to a client stream loop.
package agentclient

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/swarmgate/swarm/internal/agentsession"
	"github.com/swarmgate/swarm/internal/backend"
	"github.com/swarmgate/swarm/internal/credential"
	"github.com/swarmgate/swarm/internal/toolregistry"
	"github.com/swarmgate/swarm/internal/wire"
)

// Config describes one agent's registration identity and connection
// target.
type Config struct {
	GatewayAddr string
	AgentID     string
	Name        string
	BackendName string
	WorkingDir  string
	Workspaces  []string
}

// Client owns the gRPC connection, credential, backend, and session for one
// running agent process.
type Client struct {
	cfg    Config
	cred   *credential.Credential
	be     backend.Backend
	tools  *toolregistry.Registry
	logger *slog.Logger
}

// New returns a Client ready to Run. be is the selected backend variant
// (spec.md section 4.3); tools may be nil for backends that never see
// remote tool definitions.
func New(cfg Config, cred *credential.Credential, be backend.Backend, tools *toolregistry.Registry) *Client {
	return &Client{
		cfg:    cfg,
		cred:   cred,
		be:     be,
		tools:  tools,
		logger: slog.Default().With("component", "agentclient", "agent_id", cfg.AgentID),
	}
}

// Run dials the gateway, registers, and services the stream until ctx is
// cancelled or the gateway sends a Shutdown frame.
func (c *Client) Run(ctx context.Context) error {
	conn, err := grpc.NewClient(c.cfg.GatewayAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("dial gateway: %w", err)
	}
	defer conn.Close()

	client := wire.NewAgentControlClient(conn)

	authCtx, err := credential.AttachToOutgoingContext(ctx, c.cred)
	if err != nil {
		return fmt.Errorf("sign stream: %w", err)
	}

	stream, err := client.Stream(authCtx)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}

	hostname, _ := os.Hostname()
	reg := &wire.RegisterRequest{
		AgentID:    c.cfg.AgentID,
		Name:       c.cfg.Name,
		Backend:    c.cfg.BackendName,
		WorkingDir: c.cfg.WorkingDir,
		Workspaces: c.cfg.Workspaces,
		Hostname:   hostname,
		OS:         runtime.GOOS,
	}
	if err := stream.Send(&wire.AgentMessage{Register: reg}); err != nil {
		return fmt.Errorf("send register: %w", err)
	}

	first, err := stream.Recv()
	if err != nil {
		return fmt.Errorf("read welcome: %w", err)
	}
	if first.Welcome == nil {
		return fmt.Errorf("expected welcome frame, got %+v", first)
	}
	c.logger.Info("registered",
		"assigned_agent_id", first.Welcome.AssignedAgentID,
		"principal_id", first.Welcome.PrincipalID,
		"available_tools", len(first.Welcome.AvailableTools))

	emit := func(requestID string, ev wire.BackendEventWire) {
		if err := stream.Send(&wire.AgentMessage{Response: &wire.AgentResponse{RequestID: requestID, Event: ev}}); err != nil {
			c.logger.Warn("send response failed", "error", err)
		}
	}
	session := agentsession.New(c.be, nil, c.tools, emit)

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-heartbeat.C:
				_ = stream.Send(&wire.AgentMessage{Heartbeat: &wire.Heartbeat{}})
			}
		}
	}()

	for {
		msg, err := stream.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("stream closed: %w", err)
		}
		switch {
		case msg.SendMessage != nil:
			sm := msg.SendMessage
			go session.HandleSendMessage(ctx, sm.RequestID, sm.Content)
		case msg.Shutdown != nil:
			c.logger.Info("shutdown requested", "reason", msg.Shutdown.Reason)
			return nil
		}
	}
}

package gateway

import (
	"context"

	"github.com/swarmgate/swarm/internal/store"
	"github.com/swarmgate/swarm/internal/swerr"
	"github.com/swarmgate/swarm/internal/wire"
)

// Register implements wire.PackServiceServer: a pack's first (and only
// inbound) frame is its manifest; the gateway replies with Welcome and
// then streams ExecuteToolRequest frames for the lifetime of the
// connection (spec.md 4.6).
func (g *Gateway) Register(manifest *wire.PackManifest, stream wire.PackService_RegisterServer) error {
	ctx := stream.Context()
	if _, err := g.authenticate(ctx); err != nil {
		return toGRPCStatus(err)
	}
	if manifest.PackID == "" {
		return toGRPCStatus(swerr.New(swerr.InvalidArgument, "pack_id is required"))
	}

	sendCh := make(chan *wire.ExecuteToolRequest, OutboundBufferSize)
	rejected := g.packs.RegisterPack(manifest.PackID, manifest.Tools, sendCh)

	for _, t := range manifest.Tools {
		if containsString(rejected, t.Name) {
			continue
		}
		if err := g.registerPackTool(manifest.PackID, t); err != nil {
			g.logger.Warn("pack tool registration failed", "pack_id", manifest.PackID, "tool", t.Name, "error", err)
		}
	}

	if err := g.store.UpsertPack(ctx, store.Pack{ID: manifest.PackID, Version: manifest.Version, Connected: true}); err != nil {
		g.logger.Warn("pack upsert failed", "pack_id", manifest.PackID, "error", err)
	}
	g.mx.PackConnected()
	defer func() {
		g.packs.UnregisterPack(manifest.PackID)
		g.mx.PackDisconnected()
		if err := g.store.SetPackConnected(context.Background(), manifest.PackID, false); err != nil {
			g.logger.Warn("pack disconnect mark failed", "pack_id", manifest.PackID, "error", err)
		}
	}()

	if err := stream.Send(&wire.PackServerEvent{Welcome: &wire.PackWelcome{Accepted: true, RejectedTools: rejected}}); err != nil {
		return err
	}

	for {
		select {
		case req, ok := <-sendCh:
			if !ok {
				return nil
			}
			if err := stream.Send(&wire.PackServerEvent{Execute: req}); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// registerPackTool wires one pack-declared tool into the shared registry
// as a remote invocation routed back through the pack bridge.
func (g *Gateway) registerPackTool(packID string, t wire.ToolDefinition) error {
	return g.tools.RegisterRemote(t.Name, t.Description, t.InputSchema, t.RequiredCapabilities, g.packs, packID)
}

// ToolResult implements wire.PackServiceServer: a pack reports the outcome
// of one ExecuteToolRequest by request_id (spec.md 4.6).
func (g *Gateway) ToolResult(ctx context.Context, resp *wire.ExecuteToolResponse) (*wire.ToolResultAck, error) {
	if _, err := g.authenticate(ctx); err != nil {
		return nil, toGRPCStatus(err)
	}
	g.packs.HandleReply(resp)
	return &wire.ToolResultAck{}, nil
}

func containsString(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

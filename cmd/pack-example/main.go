// Command pack-example is a minimal out-of-process pack (spec.md section
// 4.6): it dials the gateway's PackService, registers a couple of
// demonstration tools, and serves ExecuteTool requests until killed.
// Adapted from the teacher's nexus-plugin-runner, which loaded an
// in-process .so plugin and executed its tools from the command line —
// here the tool implementations live in this binary and the registration
// round-trip happens over the wire instead of a shared-object load.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/swarmgate/swarm/internal/credential"
	"github.com/swarmgate/swarm/internal/wire"
)

func main() {
	gatewayAddr := flag.String("server", "127.0.0.1:7770", "gateway grpc address")
	packID := flag.String("pack-id", "pack-example", "pack identifier")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil)).With("component", "pack-example", "pack_id", *packID)

	if err := run(*gatewayAddr, *packID, logger); err != nil {
		logger.Error("pack exited with error", "error", err)
		os.Exit(1)
	}
}

func run(gatewayAddr, packID string, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cred, err := credential.Generate()
	if err != nil {
		return fmt.Errorf("generate credential: %w", err)
	}

	conn, err := grpc.NewClient(gatewayAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("dial gateway: %w", err)
	}
	defer conn.Close()

	client := wire.NewPackServiceClient(conn)

	manifest := &wire.PackManifest{
		PackID:  packID,
		Version: "0.1.0",
		Tools:   exampleTools(),
	}

	authCtx, err := credential.AttachToOutgoingContext(ctx, cred)
	if err != nil {
		return fmt.Errorf("sign registration: %w", err)
	}

	stream, err := client.Register(authCtx, manifest)
	if err != nil {
		return fmt.Errorf("register pack: %w", err)
	}

	first, err := stream.Recv()
	if err != nil {
		return fmt.Errorf("read welcome: %w", err)
	}
	if first.Welcome == nil || !first.Welcome.Accepted {
		return fmt.Errorf("pack registration rejected: %+v", first.Welcome)
	}
	if len(first.Welcome.RejectedTools) > 0 {
		logger.Warn("some tools were rejected", "rejected", first.Welcome.RejectedTools)
	}
	logger.Info("pack registered")

	for {
		ev, err := stream.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("stream closed: %w", err)
		}
		if ev.Execute == nil {
			continue
		}
		go handleExecute(ctx, client, cred, logger, ev.Execute)
	}
}

func handleExecute(ctx context.Context, client wire.PackServiceClient, cred *credential.Credential, logger *slog.Logger, req *wire.ExecuteToolRequest) {
	output, execErr := invokeTool(req.ToolName, req.InputJSON)

	resp := &wire.ExecuteToolResponse{RequestID: req.RequestID}
	if execErr != nil {
		resp.Error = execErr.Error()
	} else {
		resp.OutputJSON = output
	}

	authCtx, err := credential.AttachToOutgoingContext(ctx, cred)
	if err != nil {
		logger.Error("sign tool result", "error", err)
		return
	}
	if _, err := client.ToolResult(authCtx, resp); err != nil {
		logger.Error("send tool result", "error", err, "tool", req.ToolName)
	}
}

func exampleTools() []wire.ToolDefinition {
	return []wire.ToolDefinition{
		{
			Name:           "echo",
			Description:    "Echoes back its input text.",
			InputSchema:    json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`),
			TimeoutSeconds: 5,
		},
		{
			Name:           "current_time",
			Description:    "Returns the current UTC time.",
			InputSchema:    json.RawMessage(`{"type":"object","properties":{}}`),
			TimeoutSeconds: 5,
		},
	}
}

func invokeTool(name string, input json.RawMessage) (json.RawMessage, error) {
	switch name {
	case "echo":
		var params struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(input, &params); err != nil {
			return nil, fmt.Errorf("invalid params: %w", err)
		}
		return json.Marshal(map[string]string{"text": params.Text})
	case "current_time":
		return json.Marshal(map[string]string{"time": time.Now().UTC().Format(time.RFC3339)})
	default:
		return nil, fmt.Errorf("unknown tool %q", name)
	}
}

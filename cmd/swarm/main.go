// Command swarm is the CLI entry point for the gateway, its local process
// supervisor, and a standalone agent process (spec.md section 6). Grounded
// on the teacher's cmd/nexus cobra command-tree shape: one buildXCmd
// function per subcommand, flags bound to local vars, RunE returning a
// plain error for cobra to report.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/swarmgate/swarm/internal/agentclient"
	"github.com/swarmgate/swarm/internal/backend"
	"github.com/swarmgate/swarm/internal/config"
	"github.com/swarmgate/swarm/internal/credential"
	"github.com/swarmgate/swarm/internal/gateway"
	"github.com/swarmgate/swarm/internal/packbridge"
	"github.com/swarmgate/swarm/internal/store"
	"github.com/swarmgate/swarm/internal/supervisor"
	"github.com/swarmgate/swarm/internal/toolregistry"
	"github.com/swarmgate/swarm/internal/wire"
	"github.com/swarmgate/swarm/internal/workspace"
)

// Exit codes (spec.md section 6).
const (
	exitOK           = 0
	exitUsage        = 1
	exitAuthFailure  = 2
	exitRemoteReject = 3
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		os.Exit(exitUsage)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "swarm",
		Short:        "swarm orchestrates a gateway, a local agent fleet, and individual agent processes",
		SilenceUsage: true,
	}
	root.AddCommand(buildStartCmd(), buildStopCmd(), buildStatusCmd(), buildAgentCmd())
	return root
}

func buildStartCmd() *cobra.Command {
	var configPath string
	var headless bool
	cmd := &cobra.Command{
		Use:   "start",
		Short: "start the gateway and its local supervisor",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return runGateway(cmd.Context(), cfg, headless)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", config.DefaultPath(), "path to config.yaml")
	cmd.Flags().BoolVar(&headless, "headless", false, "suppress interactive output")
	return cmd
}

func buildStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "stop the local supervisor via its control socket",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(config.DefaultPath())
			if err != nil {
				return err
			}
			return sendControlCommand(cfg.Supervisor, controlCommand{Command: "stop"})
		},
	}
}

func buildStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "list agents managed by the local supervisor",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(config.DefaultPath())
			if err != nil {
				return err
			}
			resp, err := queryControlCommand(cfg.Supervisor, controlCommand{Command: "list"})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(resp.Children) == 0 {
				fmt.Fprintln(out, "no agents running")
				return nil
			}
			for _, c := range resp.Children {
				fmt.Fprintf(out, "%s\tpid=%d\t%s\n", c.Name, c.PID, c.WorkingDir)
			}
			return nil
		},
	}
}

func buildAgentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "run or scaffold a single agent process",
	}
	cmd.AddCommand(buildAgentRunCmd(), buildAgentNewCmd())
	return cmd
}

func buildAgentRunCmd() *cobra.Command {
	var serverAddr, name, backendName, workingDir, configPath string
	var headless, single bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "connect to a gateway and drive one backend as an agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if serverAddr != "" {
				cfg.Agent.GatewayURL = serverAddr
			}
			if name != "" {
				cfg.Agent.Name = name
			}
			if backendName != "" {
				cfg.Agent.Backend = backendName
			}
			if workingDir != "" {
				cfg.Agent.WorkingDir = workingDir
			}
			_ = single
			_ = headless
			return runAgent(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&serverAddr, "server", "", "gateway grpc address (overrides config)")
	cmd.Flags().StringVar(&name, "name", "", "agent display name")
	cmd.Flags().StringVar(&backendName, "backend", "", "backend variant: mux, direct-cli, or acp")
	cmd.Flags().StringVar(&workingDir, "working-dir", "", "agent working directory")
	cmd.Flags().StringVar(&configPath, "config", config.DefaultPath(), "path to config.yaml")
	cmd.Flags().BoolVar(&headless, "headless", false, "suppress interactive output")
	cmd.Flags().BoolVar(&single, "single", false, "accepted and ignored: the agent does not exit after a turn")
	return cmd
}

func buildAgentNewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "new",
		Short: "scaffold a new agent workspace (out of core scope)",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), "agent new is not implemented by this gateway; use `swarm agent run` against an existing workspace directory")
			return nil
		},
	}
}

func runGateway(ctx context.Context, cfg *config.Config, headless bool) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	packs := packbridge.New()
	tools := toolregistry.New()

	var mcpSecret []byte
	if cfg.MCP.Secret != "" {
		mcpSecret = []byte(cfg.MCP.Secret)
	}
	gw := gateway.New(gateway.Config{
		ServerID:    cfg.Server.InstanceID,
		InstanceID:  cfg.Server.InstanceID,
		MCPEndpoint: cfg.MCP.Endpoint,
		MCPSecret:   mcpSecret,
	}, st, packs, tools)

	if _, err := workspace.EnsureWorkspaceFiles(cfg.Workspace.Root, workspace.BootstrapFilesForConfig(cfg), false); err != nil {
		return fmt.Errorf("bootstrap workspace: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.GRPCPort)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	grpcServer := grpc.NewServer(
		grpc.UnaryInterceptor(gw.MetricsUnaryInterceptor),
		grpc.StreamInterceptor(gw.MetricsStreamInterceptor),
	)
	grpcServer.RegisterService(&wire.AgentControl_ServiceDesc, gw)
	grpcServer.RegisterService(&wire.ClientService_ServiceDesc, gw)
	grpcServer.RegisterService(&wire.PackService_ServiceDesc, gw)

	errCh := make(chan error, 1)
	go func() { errCh <- grpcServer.Serve(lis) }()

	if cfg.Server.MetricsPort > 0 {
		metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.MetricsPort)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv := &http.Server{Addr: metricsAddr, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Default().Warn("metrics server stopped", "error", err)
			}
		}()
		go func() { <-ctx.Done(); _ = metricsSrv.Close() }()
		slog.Default().Info("metrics listening", "addr", metricsAddr)
	}

	slog.Default().Info("gateway listening", "addr", addr)

	var sup *supervisor.Supervisor
	supErrCh := make(chan error, 1)
	if cfg.Supervisor.WatchRoot != "" {
		sup = supervisor.New(cfg.Supervisor, cfg.Agent)
		go func() { supErrCh <- sup.Run(ctx) }()
	}

	select {
	case <-ctx.Done():
		grpcServer.GracefulStop()
		if sup != nil {
			sup.Stop()
		}
		return nil
	case err := <-errCh:
		return fmt.Errorf("gateway server stopped: %w", err)
	case err := <-supErrCh:
		if err != nil && ctx.Err() == nil {
			return fmt.Errorf("supervisor stopped: %w", err)
		}
		return nil
	}
}

func runAgent(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cred, err := credential.Generate()
	if err != nil {
		return fmt.Errorf("generate credential: %w", err)
	}

	tools := toolregistry.New()
	be, err := selectBackend(cfg.Agent, tools)
	if err != nil {
		return err
	}

	agentID := cfg.Agent.Name
	if agentID == "" {
		agentID = "agent"
	}

	client := agentclient.New(agentclient.Config{
		GatewayAddr: cfg.Agent.GatewayURL,
		AgentID:     agentID,
		Name:        cfg.Agent.Name,
		BackendName: cfg.Agent.Backend,
		WorkingDir:  cfg.Agent.WorkingDir,
	}, cred, be, tools)

	return client.Run(ctx)
}

func selectBackend(cfg config.AgentConfig, tools *toolregistry.Registry) (backend.Backend, error) {
	switch cfg.Backend {
	case "", "mux":
		return backend.NewMux(backend.MuxConfig{
			APIKey: os.Getenv("ANTHROPIC_API_KEY"),
		}, tools), nil
	case "direct-cli":
		return backend.NewDirectCLI(backend.DirectCLIConfig{
			Binary:  cfg.CLIBinary,
			WorkDir: cfg.WorkingDir,
			Timeout: cfg.Timeout,
		}), nil
	case "acp":
		be, ok := backend.NewACP(backend.ACPConfig{Binary: cfg.CLIBinary, WorkDir: cfg.WorkingDir})
		if !ok {
			return backend.NewMux(backend.MuxConfig{APIKey: os.Getenv("ANTHROPIC_API_KEY")}, tools), nil
		}
		return be, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

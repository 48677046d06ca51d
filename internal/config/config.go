// Package config loads the swarm gateway's YAML configuration, applying
// environment variable expansion, defaults, and validation in the same
// shape as the rest of this codebase's config loaders.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level swarm configuration document.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Agent     AgentConfig     `yaml:"agent"`
	MCP       MCPConfig       `yaml:"mcp"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig configures the gateway's listening ports.
type ServerConfig struct {
	Host        string `yaml:"host"`
	GRPCPort    int    `yaml:"grpc_port"`
	MetricsPort int    `yaml:"metrics_port"`
	InstanceID  string `yaml:"instance_id"`
}

// DatabaseConfig configures the ledger's sqlite file.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// WorkspaceConfig configures per-agent workspace file loading (spec.md
// section 4 workspace bootstrap).
type WorkspaceConfig struct {
	Root         string `yaml:"root"`
	AgentsFile   string `yaml:"agents_file"`
	SoulFile     string `yaml:"soul_file"`
	UserFile     string `yaml:"user_file"`
	IdentityFile string `yaml:"identity_file"`
	ToolsFile    string `yaml:"tools_file"`
	MemoryFile   string `yaml:"memory_file"`
}

// SupervisorConfig configures the local process-fleet manager (spec.md
// section 4.8).
type SupervisorConfig struct {
	Prefix      string        `yaml:"prefix"`
	WatchRoot   string        `yaml:"watch_root"`
	SocketDir   string        `yaml:"socket_dir"`
	AgentBinary string        `yaml:"agent_binary"`
	GatewayURL  string        `yaml:"gateway_url"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// AgentConfig configures a single `agent run` process.
type AgentConfig struct {
	GatewayURL string        `yaml:"gateway_url"`
	Name       string        `yaml:"name"`
	Backend    string        `yaml:"backend"`
	WorkingDir string        `yaml:"working_directory"`
	Headless   bool          `yaml:"headless"`
	CLIBinary  string        `yaml:"cli_binary"`
	Timeout    time.Duration `yaml:"timeout"`
}

// MCPConfig configures the per-agent MCP surface the gateway exposes.
type MCPConfig struct {
	Endpoint string `yaml:"endpoint"`
	Secret   string `yaml:"secret"`
}

// LoggingConfig configures the shared slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// EnvPrefix is the environment variable prefix used for config overrides
// (e.g. SWARM_GATEWAY_URL, SWARM_BACKEND).
const EnvPrefix = "SWARM"

// Load reads path, expands environment variables, applies
// SWARM_*-prefixed overrides, fills defaults, and validates the result.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		expanded := os.ExpandEnv(string(data))
		decoder := yaml.NewDecoder(strings.NewReader(expanded))
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		if err := decoder.Decode(&struct{}{}); err != io.EOF {
			return nil, fmt.Errorf("config: %s: expected a single YAML document", path)
		}
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)
	return &cfg, validate(&cfg)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvPrefix + "_GATEWAY_URL"); v != "" {
		cfg.Agent.GatewayURL = v
		cfg.Supervisor.GatewayURL = v
	}
	if v := os.Getenv(EnvPrefix + "_BACKEND"); v != "" {
		cfg.Agent.Backend = v
	}
	if v := os.Getenv(EnvPrefix + "_WORKING_DIR"); v != "" {
		cfg.Agent.WorkingDir = v
	}
	if v := os.Getenv(EnvPrefix + "_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv(EnvPrefix + "_MCP_SECRET"); v != "" {
		cfg.MCP.Secret = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.GRPCPort == 0 {
		cfg.Server.GRPCPort = 7770
	}
	if cfg.Server.MetricsPort == 0 {
		cfg.Server.MetricsPort = 9090
	}
	if cfg.Server.InstanceID == "" {
		cfg.Server.InstanceID = defaultInstanceID()
	}

	if cfg.Database.Path == "" {
		cfg.Database.Path = filepath.Join(DataHome(), "swarm.db")
	}

	if cfg.Workspace.AgentsFile == "" {
		cfg.Workspace.AgentsFile = "AGENTS.md"
	}
	if cfg.Workspace.SoulFile == "" {
		cfg.Workspace.SoulFile = "SOUL.md"
	}
	if cfg.Workspace.UserFile == "" {
		cfg.Workspace.UserFile = "USER.md"
	}
	if cfg.Workspace.IdentityFile == "" {
		cfg.Workspace.IdentityFile = "IDENTITY.md"
	}
	if cfg.Workspace.ToolsFile == "" {
		cfg.Workspace.ToolsFile = "TOOLS.md"
	}
	if cfg.Workspace.MemoryFile == "" {
		cfg.Workspace.MemoryFile = "MEMORY.md"
	}

	if cfg.Supervisor.Prefix == "" {
		cfg.Supervisor.Prefix = "default"
	}
	if cfg.Supervisor.SocketDir == "" {
		cfg.Supervisor.SocketDir = os.TempDir()
	}
	if cfg.Supervisor.PollInterval == 0 {
		cfg.Supervisor.PollInterval = 2 * time.Second
	}
	if cfg.Supervisor.GatewayURL == "" {
		cfg.Supervisor.GatewayURL = cfg.Agent.GatewayURL
	}

	if cfg.Agent.Backend == "" {
		cfg.Agent.Backend = "mux"
	}
	if cfg.Agent.Timeout == 0 {
		cfg.Agent.Timeout = 10 * time.Minute
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

func validate(cfg *Config) error {
	switch cfg.Agent.Backend {
	case "mux", "direct-cli", "acp":
	default:
		return fmt.Errorf("config: agent.backend must be one of mux, direct-cli, acp, got %q", cfg.Agent.Backend)
	}
	if cfg.Server.GRPCPort <= 0 || cfg.Server.GRPCPort > 65535 {
		return fmt.Errorf("config: server.grpc_port out of range: %d", cfg.Server.GRPCPort)
	}
	return nil
}

func defaultInstanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "swarm-gateway"
	}
	return host
}

// ConfigHome resolves XDG_CONFIG_HOME/swarm, falling back to ~/.config/swarm.
func ConfigHome() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "swarm")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "swarm")
}

// DataHome resolves XDG_DATA_HOME/swarm, falling back to ~/.local/share/swarm.
func DataHome() string {
	if v := os.Getenv("XDG_DATA_HOME"); v != "" {
		return filepath.Join(v, "swarm")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "swarm")
}

// DefaultPath is the config file Load looks for when none is given
// explicitly on the command line.
func DefaultPath() string {
	return filepath.Join(ConfigHome(), "config.yaml")
}

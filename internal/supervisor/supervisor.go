// Package supervisor implements the local process-fleet manager described
// in spec.md section 4.8: discover workspaces beneath a configured root,
// keep one agent child process running per workspace, and expose a Unix
// domain control socket for listing/creating/deleting/stopping them.
// Grounded on the teacher's internal/skills.Manager fsnotify watch loop,
// generalized from skill-file discovery to workspace-directory discovery.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/swarmgate/swarm/internal/config"
	"github.com/swarmgate/swarm/internal/exec"
)

// Supervisor owns one child agent process per discovered workspace
// directory beneath WatchRoot.
type Supervisor struct {
	cfg    config.SupervisorConfig
	agent  config.AgentConfig
	logger *slog.Logger

	mu       sync.Mutex
	children map[string]*child

	watcher *fsnotify.Watcher
}

// child tracks one supervised agent process.
type child struct {
	name       string
	workingDir string
	proc       *process
	cancel     context.CancelFunc
	done       chan struct{}
	startedAt  time.Time
}

// New returns a Supervisor that will discover workspaces beneath
// cfg.WatchRoot and spawn agent.CLIBinary per workspace.
func New(cfg config.SupervisorConfig, agent config.AgentConfig) *Supervisor {
	return &Supervisor{
		cfg:      cfg,
		agent:    agent,
		logger:   slog.Default().With("component", "supervisor", "prefix", cfg.Prefix),
		children: make(map[string]*child),
	}
}

// Run discovers existing workspaces, starts a child for each, then watches
// WatchRoot for new workspace directories until ctx is cancelled. It also
// serves the control socket (socket.go) for the same lifetime.
func (s *Supervisor) Run(ctx context.Context) error {
	if s.cfg.WatchRoot == "" {
		return fmt.Errorf("supervisor: watch_root is required")
	}
	if err := os.MkdirAll(s.cfg.WatchRoot, 0o755); err != nil {
		return fmt.Errorf("supervisor: create watch root: %w", err)
	}

	entries, err := os.ReadDir(s.cfg.WatchRoot)
	if err != nil {
		return fmt.Errorf("supervisor: read watch root: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		s.startChild(ctx, e.Name())
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("supervisor: create watcher: %w", err)
	}
	s.watcher = watcher
	defer watcher.Close()

	if err := watcher.Add(s.cfg.WatchRoot); err != nil {
		return fmt.Errorf("supervisor: watch %s: %w", s.cfg.WatchRoot, err)
	}

	socketPath := s.socketPath()
	srv, err := newControlServer(socketPath, s)
	if err != nil {
		return err
	}
	go srv.serve(ctx)
	defer srv.close()

	s.logger.Info("supervisor started", "watch_root", s.cfg.WatchRoot, "socket", socketPath)

	for {
		select {
		case <-ctx.Done():
			s.stopAll()
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create) == 0 {
				continue
			}
			info, err := os.Stat(ev.Name)
			if err != nil || !info.IsDir() {
				continue
			}
			s.startChild(ctx, filepath.Base(ev.Name))
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("watcher error", "error", err)
		}
	}
}

func (s *Supervisor) socketPath() string {
	return filepath.Join(s.cfg.SocketDir, fmt.Sprintf("swarm-%s.sock", s.cfg.Prefix))
}

// startChild spawns an agent process rooted at <WatchRoot>/<name>, unless
// one is already running for that workspace.
func (s *Supervisor) startChild(ctx context.Context, name string) {
	s.mu.Lock()
	if _, live := s.children[name]; live {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	workDir := filepath.Join(s.cfg.WatchRoot, name)
	binary, err := exec.SanitizeExecutableValue(s.resolveAgentBinary())
	if err != nil {
		s.logger.Error("refusing to spawn child: unsafe agent binary", "name", name, "error", err)
		return
	}

	args := []string{"run", "--name", name, "--working-dir", workDir, "--backend", s.agent.Backend, "--headless"}
	if s.cfg.GatewayURL != "" {
		args = append(args, "--server", s.cfg.GatewayURL)
	}
	if isDispatchWorkspace(name) {
		args = append(args, "--autonomy", "dispatch")
	}
	safeArgs, err := exec.SanitizeArguments(args)
	if err != nil {
		s.logger.Error("refusing to spawn child: unsafe argument", "name", name, "error", err)
		return
	}

	childCtx, cancel := context.WithCancel(ctx)
	proc, err := startProcess(childCtx, binary, safeArgs, workDir)
	if err != nil {
		cancel()
		s.logger.Error("spawn child failed", "name", name, "error", err)
		return
	}

	c := &child{name: name, workingDir: workDir, proc: proc, cancel: cancel, done: make(chan struct{}), startedAt: time.Now()}
	s.mu.Lock()
	s.children[name] = c
	s.mu.Unlock()

	s.logger.Info("child started", "name", name, "pid", proc.Pid())

	go func() {
		err := proc.Wait()
		close(c.done)
		s.mu.Lock()
		delete(s.children, name)
		s.mu.Unlock()
		if err != nil {
			s.logger.Warn("child exited", "name", name, "error", err)
		} else {
			s.logger.Info("child exited", "name", name)
		}
	}()
}

func (s *Supervisor) resolveAgentBinary() string {
	if s.cfg.AgentBinary != "" {
		return s.cfg.AgentBinary
	}
	return "swarm-agent"
}

// isDispatchWorkspace reports whether a workspace is a "dispatch" variant
// workspace: by convention a directory prefixed "dispatch-". startChild
// adds "--autonomy dispatch" to such a child's arguments; no extra tools
// are registered for it here.
func isDispatchWorkspace(name string) bool {
	return len(name) >= len("dispatch-") && name[:len("dispatch-")] == "dispatch-"
}

func (s *Supervisor) stopAll() {
	s.mu.Lock()
	children := make([]*child, 0, len(s.children))
	for _, c := range s.children {
		children = append(children, c)
	}
	s.mu.Unlock()

	for _, c := range children {
		c.cancel()
		<-c.done
	}
}

// List returns the status of every currently-running child.
func (s *Supervisor) List() []ChildStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ChildStatus, 0, len(s.children))
	for _, c := range s.children {
		out = append(out, ChildStatus{
			Name:       c.name,
			WorkingDir: c.workingDir,
			PID:        c.proc.Pid(),
			StartedAt:  c.startedAt,
		})
	}
	return out
}

// ChildStatus is the control socket's view of one managed agent process.
type ChildStatus struct {
	Name       string    `json:"name"`
	WorkingDir string    `json:"working_dir"`
	PID        int       `json:"pid"`
	StartedAt  time.Time `json:"started_at"`
}

// Create provisions a new workspace directory and starts its child.
func (s *Supervisor) Create(ctx context.Context, name string) error {
	if name == "" {
		return fmt.Errorf("supervisor: workspace name is required")
	}
	dir := filepath.Join(s.cfg.WatchRoot, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("supervisor: create workspace dir: %w", err)
	}
	s.startChild(ctx, name)
	return nil
}

// Delete stops name's child process (if running) and leaves its workspace
// directory on disk — destructive directory removal is left to the
// operator, matching the teacher's preference for reversible actions.
func (s *Supervisor) Delete(name string) error {
	s.mu.Lock()
	c, ok := s.children[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("supervisor: no running child named %q", name)
	}
	c.cancel()
	<-c.done
	return nil
}

// Stop cancels every running child and waits for them to exit.
func (s *Supervisor) Stop() {
	s.stopAll()
}

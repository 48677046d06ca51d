package supervisor

import (
	"testing"

	"github.com/swarmgate/swarm/internal/config"
)

func testConfig(t *testing.T) config.SupervisorConfig {
	t.Helper()
	return config.SupervisorConfig{
		Prefix:    "test",
		WatchRoot: t.TempDir(),
		SocketDir: t.TempDir(),
	}
}

func testAgentConfig() config.AgentConfig {
	return config.AgentConfig{Backend: "mux"}
}

func TestIsDispatchWorkspace(t *testing.T) {
	cases := map[string]bool{
		"dispatch-foo": true,
		"dispatch-":    true,
		"dispatch":     false,
		"foo":          false,
		"":             false,
	}
	for name, want := range cases {
		if got := isDispatchWorkspace(name); got != want {
			t.Errorf("isDispatchWorkspace(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestSupervisorListEmpty(t *testing.T) {
	s := New(testConfig(t), testAgentConfig())
	if got := s.List(); len(got) != 0 {
		t.Fatalf("expected no children, got %d", len(got))
	}
}

func TestSupervisorDeleteUnknown(t *testing.T) {
	s := New(testConfig(t), testAgentConfig())
	if err := s.Delete("does-not-exist"); err == nil {
		t.Fatal("expected error deleting unknown child")
	}
}

func TestSocketPath(t *testing.T) {
	cfg := testConfig(t)
	cfg.SocketDir = "/tmp"
	cfg.Prefix = "testprefix"
	s := New(cfg, testAgentConfig())
	want := "/tmp/swarm-testprefix.sock"
	if got := s.socketPath(); got != want {
		t.Fatalf("socketPath = %q, want %q", got, want)
	}
}

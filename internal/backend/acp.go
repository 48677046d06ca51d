package backend

import (
	"log/slog"
)

// ACPConfig configures the acp variant: structurally equivalent to
// direct-cli but speaking a different wire protocol (spec.md 4.3). Reuses
// DirectCLIConfig's shape since both variants spawn a subprocess and differ
// only in stdout framing.
type ACPConfig = DirectCLIConfig

// NewACP reports whether an acp variant is available for cfg (absence
// falls back to mux, per spec.md 4.3). This build carries no distinct acp wire parser, so NewACP
// always reports unavailable; callers select mux instead.
func NewACP(cfg ACPConfig) (Backend, bool) {
	if cfg.Binary == "" {
		return nil, false
	}
	slog.Default().With("backend", "acp").Warn(
		"acp variant not available in this build, falling back to mux")
	return nil, false
}

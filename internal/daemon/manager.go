package daemon

import (
	"context"
	"fmt"
	"io"

	"github.com/twistedx/agent-keeper/internal/config"
	"github.com/twistedx/agent-keeper/internal/platform"
)

// Manager is the single contract all three backends implement. One
// instance manages only the local machine; the backend's own registry is
// the single source of truth and nothing is cached across calls.
type Manager interface {
	Backend() platform.Backend

	// Install renders and writes the backend config for a spec.
	// Safe to re-run; re-installing overwrites.
	Install(spec Spec) error

	// Uninstall stops the agent if running (tolerantly) and removes its config
	Uninstall(name string) error

	// Start launches an installed agent. Starting a name that was never
	// installed fails with ErrNotInstalled.
	Start(name string) (Handle, error)

	Stop(name string) error
	Restart(name string) error

	// Status computes a fresh snapshot; unknown names yield StateUnknown,
	// never an error
	Status(name string) (Status, error)

	// Fleet returns snapshots for every agent in this tool's namespace
	Fleet() ([]Status, error)

	// Logs writes log output to out; in follow mode it streams until ctx
	// is cancelled
	Logs(ctx context.Context, name string, opts LogOptions, out io.Writer) error
}

// NewManager selects and constructs the manager for this host. Detection
// is cheap, so no memoization: callers re-resolve per operation.
func NewManager() (Manager, error) {
	backend := platform.DetectBackend()

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cfg.Backend != "" {
		switch platform.Backend(cfg.Backend) {
		case platform.BackendLaunchd, platform.BackendSystemd, platform.BackendPM2:
			backend = platform.Backend(cfg.Backend)
		default:
			return nil, fmt.Errorf("invalid backend %q in config (want launchd, systemd, or pm2)", cfg.Backend)
		}
	}

	switch backend {
	case platform.BackendLaunchd:
		logDir, err := config.LogDir()
		if err != nil {
			return nil, err
		}
		return NewLaunchdManager(logDir)
	case platform.BackendSystemd:
		return NewSystemdManager()
	default:
		base, err := config.BaseDir()
		if err != nil {
			return nil, err
		}
		return NewPM2Manager(base), nil
	}
}

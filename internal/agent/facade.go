// Package agent is the library facade callers use to run long-lived
// background agents. It validates input, resolves the host's
// service-manager backend, and exposes the seven lifecycle verbs.
package agent

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"

	"github.com/twistedx/agent-keeper/internal/daemon"
	"github.com/twistedx/agent-keeper/internal/logging"
	"github.com/twistedx/agent-keeper/internal/portstore"
)

// nameRegex validates agent names: alphanumeric start, then alphanumeric or hyphens
var nameRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9-]*$`)

// maxNameLen bounds agent names; longer names produce unwieldy service identifiers
const maxNameLen = 64

// Port bounds: reject privileged ports and anything past the ephemeral range
const (
	minPort = 1024
	maxPort = 65535
)

var log = logging.ForComponent(logging.CompAgent)

// ValidateName checks an agent name's charset and length
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("agent name cannot be empty")
	}
	if len(name) > maxNameLen {
		return fmt.Errorf("agent name too long (max %d characters)", maxNameLen)
	}
	if !nameRegex.MatchString(name) {
		return fmt.Errorf("invalid agent name %q: must start with alphanumeric and contain only alphanumeric or hyphens", name)
	}
	return nil
}

// validateSpec checks a spec and normalizes its paths in place: the script
// is resolved relative to the working directory if supplied, else the
// caller's directory, and must exist before any backend is touched.
func validateSpec(spec *daemon.Spec) error {
	if err := ValidateName(spec.Name); err != nil {
		return err
	}

	if spec.Script == "" {
		return fmt.Errorf("agent script cannot be empty")
	}

	base := spec.WorkDir
	if base == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to resolve current directory: %w", err)
		}
		base = cwd
	}

	script := spec.Script
	if !filepath.IsAbs(script) {
		script = filepath.Join(base, script)
	}
	script = filepath.Clean(script)

	info, err := os.Stat(script)
	if err != nil {
		return fmt.Errorf("agent script does not exist: %s", script)
	}
	if info.IsDir() {
		return fmt.Errorf("agent script is a directory: %s", script)
	}
	spec.Script = script

	if spec.WorkDir == "" {
		spec.WorkDir = filepath.Dir(script)
	} else if !filepath.IsAbs(spec.WorkDir) {
		abs, err := filepath.Abs(spec.WorkDir)
		if err != nil {
			return fmt.Errorf("failed to resolve working directory: %w", err)
		}
		spec.WorkDir = abs
	}

	if spec.Port != 0 && (spec.Port < minPort || spec.Port > maxPort) {
		return fmt.Errorf("invalid port %d: must be between %d and %d", spec.Port, minPort, maxPort)
	}

	return nil
}

// saveMeta records side metadata (port, custom log dir) at install time
func saveMeta(spec daemon.Spec) error {
	path, err := daemon.StorePath()
	if err != nil {
		return err
	}
	s, err := portstore.Open(path)
	if err != nil {
		return err
	}
	defer s.Close()

	if spec.Port == 0 && spec.LogDir == "" {
		return s.Delete(spec.Name)
	}
	return s.Set(spec.Name, portstore.Meta{Port: spec.Port, LogDir: spec.LogDir})
}

// deleteMeta drops side metadata on uninstall; best-effort
func deleteMeta(name string) {
	path, err := daemon.StorePath()
	if err != nil {
		return
	}
	s, err := portstore.Open(path)
	if err != nil {
		return
	}
	defer s.Close()
	if err := s.Delete(name); err != nil {
		log.Warn("failed to drop side metadata", "name", name, "error", err)
	}
}

// Start installs (or re-installs) the spec and starts the agent. Because
// install always runs first, re-running Start simply rewrites the config
// and restarts: install is idempotent from the caller's perspective.
func Start(spec daemon.Spec) (daemon.Handle, error) {
	if err := validateSpec(&spec); err != nil {
		return daemon.Handle{}, err
	}

	mgr, err := daemon.NewManager()
	if err != nil {
		return daemon.Handle{}, err
	}

	if err := mgr.Install(spec); err != nil {
		return daemon.Handle{}, err
	}
	if err := saveMeta(spec); err != nil {
		log.Warn("failed to record side metadata", "name", spec.Name, "error", err)
	}

	return mgr.Start(spec.Name)
}

// Stop stops a managed agent
func Stop(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	mgr, err := daemon.NewManager()
	if err != nil {
		return err
	}
	return mgr.Stop(name)
}

// Restart restarts a managed agent
func Restart(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	mgr, err := daemon.NewManager()
	if err != nil {
		return err
	}
	return mgr.Restart(name)
}

// Status returns a fresh snapshot for one agent. Unknown names yield
// StateUnknown, never an error, so speculative queries are safe.
func Status(name string) (daemon.Status, error) {
	if err := ValidateName(name); err != nil {
		return daemon.Status{}, err
	}
	mgr, err := daemon.NewManager()
	if err != nil {
		return daemon.Status{}, err
	}
	return mgr.Status(name)
}

// Fleet enumerates every agent managed under this tool's namespace
func Fleet() ([]daemon.Status, error) {
	mgr, err := daemon.NewManager()
	if err != nil {
		return nil, err
	}
	return mgr.Fleet()
}

// Logs writes agent log output to out; in follow mode it streams until
// ctx is cancelled
func Logs(ctx context.Context, name string, opts daemon.LogOptions, out io.Writer) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	mgr, err := daemon.NewManager()
	if err != nil {
		return err
	}
	return mgr.Logs(ctx, name, opts, out)
}

// Uninstall stops the agent (tolerating not-running) and destroys its
// durable record
func Uninstall(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	mgr, err := daemon.NewManager()
	if err != nil {
		return err
	}
	if err := mgr.Uninstall(name); err != nil {
		return err
	}
	deleteMeta(name)
	return nil
}

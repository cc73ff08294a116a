package daemon

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/twistedx/agent-keeper/internal/logging"
	"github.com/twistedx/agent-keeper/internal/platform"
)

// SystemdManager supervises agents through per-user systemd units.
type SystemdManager struct {
	run     runCommandFunc
	log     *slog.Logger
	unitDir string // ~/.config/systemd/user
	home    string
}

// NewSystemdManager constructs the systemd-backed manager.
func NewSystemdManager() (*SystemdManager, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return &SystemdManager{
		run:     newExecRunner(),
		log:     logging.ForComponent(logging.CompSystemd),
		unitDir: filepath.Join(home, ".config", "systemd", "user"),
		home:    home,
	}, nil
}

// Backend reports the backend tag
func (m *SystemdManager) Backend() platform.Backend {
	return platform.BackendSystemd
}

func (m *SystemdManager) unitPath(name string) string {
	return filepath.Join(m.unitDir, systemdUnitName(name))
}

// Install renders and writes the unit, reloads the unit cache, and warns
// (non-fatally) when lingering is off: without it the user manager kills
// agents at logout.
func (m *SystemdManager) Install(spec Spec) error {
	interp, err := ResolveInterpreter()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(m.unitDir, 0o755); err != nil {
		return fmt.Errorf("failed to create systemd user dir: %w", err)
	}

	content := renderUnit(spec, interp, m.home)
	path := m.unitPath(spec.Name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write unit file: %w", err)
	}

	ctx, cancel := commandContext()
	defer cancel()
	if _, err := m.run(ctx, "systemctl", "--user", "daemon-reload"); err != nil {
		return fmt.Errorf("systemctl daemon-reload failed: %w", err)
	}

	m.warnIfNoLinger(ctx)

	m.log.Info("installed agent", "name", spec.Name, "unit", path)
	return nil
}

// warnIfNoLinger checks loginctl's Linger property for the current user
func (m *SystemdManager) warnIfNoLinger(ctx context.Context) {
	u, err := user.Current()
	if err != nil {
		return
	}
	out, err := m.run(ctx, "loginctl", "show-user", u.Username, "--property=Linger", "--value")
	if err != nil {
		return
	}
	if strings.TrimSpace(out) == "no" {
		m.log.Warn("lingering is disabled; agents will be killed at logout",
			"fix", fmt.Sprintf("loginctl enable-linger %s", u.Username))
	}
}

// Uninstall disables and stops in one command (tolerating not-found),
// removes the unit file, and reloads the unit cache.
func (m *SystemdManager) Uninstall(name string) error {
	ctx, cancel := commandContext()
	defer cancel()

	unit := systemdUnitName(name)
	// Unit may not exist or may already be stopped; that is fine
	_, _ = m.run(ctx, "systemctl", "--user", "disable", "--now", unit)

	path := m.unitPath(name)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove unit file: %w", err)
	}

	_, _ = m.run(ctx, "systemctl", "--user", "daemon-reload")

	m.log.Info("uninstalled agent", "name", name)
	return nil
}

// Start enables and starts in one command so the service also survives a
// future login, then reads back the main PID.
func (m *SystemdManager) Start(name string) (Handle, error) {
	path := m.unitPath(name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Handle{}, fmt.Errorf("agent %q: %w; install it before starting", name, ErrNotInstalled)
	}

	ctx, cancel := commandContext()
	defer cancel()

	unit := systemdUnitName(name)
	if _, err := m.run(ctx, "systemctl", "--user", "enable", "--now", unit); err != nil {
		return Handle{}, fmt.Errorf("systemctl enable --now failed: %w", err)
	}

	pid := PIDUnknown
	out, err := m.run(ctx, "systemctl", "--user", "show", unit, "--property=MainPID", "--value")
	if err == nil {
		if p, convErr := strconv.Atoi(strings.TrimSpace(out)); convErr == nil && p > 0 {
			pid = p
		}
	}

	m.log.Info("started agent", "name", name, "pid", pid)
	return Handle{Name: name, PID: pid, Port: storedPort(name), Backend: platform.BackendSystemd}, nil
}

// Stop stops the unit
func (m *SystemdManager) Stop(name string) error {
	ctx, cancel := commandContext()
	defer cancel()
	if _, err := m.run(ctx, "systemctl", "--user", "stop", systemdUnitName(name)); err != nil {
		return fmt.Errorf("systemctl stop failed: %w", err)
	}
	m.log.Info("stopped agent", "name", name)
	return nil
}

// Restart restarts the unit
func (m *SystemdManager) Restart(name string) error {
	ctx, cancel := commandContext()
	defer cancel()
	if _, err := m.run(ctx, "systemctl", "--user", "restart", systemdUnitName(name)); err != nil {
		return fmt.Errorf("systemctl restart failed: %w", err)
	}
	m.log.Info("restarted agent", "name", name)
	return nil
}

// mapActiveState maps systemd's ActiveState to the normalized model
func mapActiveState(s string) State {
	switch s {
	case "active", "activating", "reloading":
		return StateOnline
	case "inactive", "deactivating":
		return StateStopped
	case "failed":
		return StateErrored
	default:
		return StateUnknown
	}
}

// parseShowOutput parses `systemctl show` Key=Value lines
func parseShowOutput(out string) map[string]string {
	props := make(map[string]string)
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		k, v, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		props[k] = v
	}
	return props
}

// Status queries ActiveState, MainPID, MemoryCurrent, and NRestarts in one
// show call. A name with no unit file installed is unknown, never an error.
func (m *SystemdManager) Status(name string) (Status, error) {
	st := Status{Name: name, State: StateUnknown, Restarts: RestartsUnknown, Backend: platform.BackendSystemd}

	if _, err := os.Stat(m.unitPath(name)); os.IsNotExist(err) {
		return st, nil
	}

	ctx, cancel := commandContext()
	defer cancel()

	out, err := m.run(ctx, "systemctl", "--user", "show", systemdUnitName(name),
		"--property=ActiveState,MainPID,MemoryCurrent,NRestarts")
	if err != nil {
		// Unit file exists but the backend cannot be queried
		return st, nil
	}

	props := parseShowOutput(out)
	st.State = mapActiveState(props["ActiveState"])
	if pid, err := strconv.Atoi(props["MainPID"]); err == nil && pid > 0 {
		st.PID = pid
	}
	if mem, err := strconv.ParseUint(props["MemoryCurrent"], 10, 64); err == nil && mem > 0 {
		st.Memory = humanize.IBytes(mem)
	}
	if n, err := strconv.Atoi(props["NRestarts"]); err == nil {
		st.Restarts = n
	}
	return st, nil
}

// unitRow is one parsed row of the `list-units` table
type unitRow struct {
	unit   string
	active string
}

// parseListUnits parses the plain no-legend `list-units` table
// (UNIT LOAD ACTIVE SUB DESCRIPTION...), preserving row order so fleet
// listings come out in the backend's order like the other backends.
func parseListUnits(out string) []unitRow {
	var rows []unitRow
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(strings.TrimSpace(line))
		if len(fields) < 3 {
			continue
		}
		unit := fields[0]
		if !strings.HasPrefix(unit, systemdUnitPrefix) || !strings.HasSuffix(unit, ".service") {
			continue
		}
		rows = append(rows, unitRow{unit: unit, active: fields[2]})
	}
	return rows
}

// Fleet lists units matching the namespace wildcard and maps each row
// through the same state mapping as Status.
func (m *SystemdManager) Fleet() ([]Status, error) {
	ctx, cancel := commandContext()
	defer cancel()

	out, err := m.run(ctx, "systemctl", "--user", "list-units",
		systemdUnitPrefix+"*.service", "--all", "--no-legend", "--plain")
	if err != nil {
		return nil, fmt.Errorf("systemctl list-units failed: %w", err)
	}

	var statuses []Status
	for _, row := range parseListUnits(out) {
		name := strings.TrimSuffix(strings.TrimPrefix(row.unit, systemdUnitPrefix), ".service")
		statuses = append(statuses, Status{
			Name:     name,
			State:    mapActiveState(row.active),
			Restarts: RestartsUnknown,
			Backend:  platform.BackendSystemd,
		})
	}
	return statuses, nil
}

// Logs reads from the journal filtered to this unit. journald does not
// keep the two output streams apart, so the channel filter is best-effort
// only on this backend.
func (m *SystemdManager) Logs(ctx context.Context, name string, opts LogOptions, out io.Writer) error {
	args := []string{"--user", "-u", systemdUnitName(name), "-n", strconv.Itoa(opts.GetLines()), "--no-pager"}
	if opts.Follow {
		args = append(args, "-f")
	}

	cmd := exec.CommandContext(ctx, "journalctl", args...)
	cmd.Stdout = out
	cmd.Stderr = out

	err := cmd.Run()
	if ctx.Err() != nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("journalctl failed: %w", err)
	}
	return nil
}

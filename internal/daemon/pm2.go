package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/twistedx/agent-keeper/internal/logging"
	"github.com/twistedx/agent-keeper/internal/platform"
)

// pm2NamePrefix namespaces every pm2 process name
const pm2NamePrefix = "agent-keeper."

// pm2Name returns the namespaced pm2 process name for an agent
func pm2Name(name string) string {
	return pm2NamePrefix + name
}

// PM2Manager supervises agents through a pm2 instance isolated under its
// own PM2_HOME so it never collides with a pm2 the user runs for
// unrelated purposes.
type PM2Manager struct {
	run     runCommandFunc
	log     *slog.Logger
	home    string // isolated PM2_HOME
	appsDir string // app config files
}

// NewPM2Manager constructs the pm2-backed fallback manager rooted at baseDir.
func NewPM2Manager(baseDir string) *PM2Manager {
	home := filepath.Join(baseDir, "pm2")
	return &PM2Manager{
		run:     newExecRunner("PM2_HOME=" + home),
		log:     logging.ForComponent(logging.CompPM2),
		home:    home,
		appsDir: filepath.Join(home, "apps"),
	}
}

// Backend reports the backend tag
func (m *PM2Manager) Backend() platform.Backend {
	return platform.BackendPM2
}

func (m *PM2Manager) configPath(name string) string {
	return filepath.Join(m.appsDir, name+".json")
}

// pm2App is one entry of a pm2 app config document
type pm2App struct {
	Name                   string            `json:"name"`
	Script                 string            `json:"script"`
	Interpreter            string            `json:"interpreter"`
	Cwd                    string            `json:"cwd"`
	Env                    map[string]string `json:"env,omitempty"`
	Autorestart            bool              `json:"autorestart"`
	MaxRestarts            int               `json:"max_restarts,omitempty"`
	ExpBackoffRestartDelay int               `json:"exp_backoff_restart_delay,omitempty"`
	MaxMemoryRestart       string            `json:"max_memory_restart,omitempty"`
	OutFile                string            `json:"out_file,omitempty"`
	ErrorFile              string            `json:"error_file,omitempty"`
}

// pm2Config is the app config document handed to `pm2 start`
type pm2Config struct {
	Apps []pm2App `json:"apps"`
}

// renderPM2Config builds the app config for a spec
func renderPM2Config(spec Spec, interpPath, home string) pm2Config {
	app := pm2App{
		Name:        pm2Name(spec.Name),
		Script:      spec.Script,
		Interpreter: interpPath,
		Cwd:         spec.WorkDir,
		Env:         managedEnv(spec, interpPath, home),
		Autorestart: spec.Restart,
	}
	if spec.Restart {
		app.MaxRestarts = spec.MaxRestarts
		app.ExpBackoffRestartDelay = int(spec.RestartDelay / time.Millisecond)
	}
	if spec.MemoryLimitMB > 0 {
		app.MaxMemoryRestart = fmt.Sprintf("%dM", spec.MemoryLimitMB)
	}
	if spec.LogDir != "" {
		app.OutFile = filepath.Join(spec.LogDir, spec.Name+".out.log")
		app.ErrorFile = filepath.Join(spec.LogDir, spec.Name+".err.log")
	}
	return pm2Config{Apps: []pm2App{app}}
}

// Install writes the app config for later use by Start.
func (m *PM2Manager) Install(spec Spec) error {
	interp, err := ResolveInterpreter()
	if err != nil {
		return err
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to resolve home directory: %w", err)
	}

	if err := os.MkdirAll(m.appsDir, 0o755); err != nil {
		return fmt.Errorf("failed to create pm2 apps dir: %w", err)
	}
	if spec.LogDir != "" {
		if err := os.MkdirAll(spec.LogDir, 0o755); err != nil {
			return fmt.Errorf("failed to create log dir: %w", err)
		}
	}

	cfg := renderPM2Config(spec, interp, home)
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal pm2 config: %w", err)
	}

	path := m.configPath(spec.Name)
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write pm2 config: %w", err)
	}

	m.log.Info("installed agent", "name", spec.Name, "config", path)
	return nil
}

// Uninstall stops and deletes the pm2 process (tolerating unknown names)
// and removes the app config.
func (m *PM2Manager) Uninstall(name string) error {
	ctx, cancel := commandContext()
	defer cancel()

	proc := pm2Name(name)
	// Process may not exist or may already be stopped; that is fine
	_, _ = m.run(ctx, "pm2", "stop", proc)
	_, _ = m.run(ctx, "pm2", "delete", proc)

	path := m.configPath(name)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove pm2 config: %w", err)
	}

	m.log.Info("uninstalled agent", "name", name)
	return nil
}

// Start runs the stored app config and reads the PID back from the
// supervisor's JSON process listing.
func (m *PM2Manager) Start(name string) (Handle, error) {
	path := m.configPath(name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Handle{}, fmt.Errorf("agent %q: %w; install it before starting", name, ErrNotInstalled)
	}

	ctx, cancel := commandContext()
	defer cancel()

	if _, err := m.run(ctx, "pm2", "start", path); err != nil {
		return Handle{}, fmt.Errorf("pm2 start failed: %w", err)
	}

	pid := PIDUnknown
	if proc, ok := m.findProcess(ctx, pm2Name(name)); ok && proc.PID > 0 {
		pid = proc.PID
	}

	m.log.Info("started agent", "name", name, "pid", pid)
	return Handle{Name: name, PID: pid, Port: storedPort(name), Backend: platform.BackendPM2}, nil
}

// Stop stops the pm2 process
func (m *PM2Manager) Stop(name string) error {
	ctx, cancel := commandContext()
	defer cancel()
	if _, err := m.run(ctx, "pm2", "stop", pm2Name(name)); err != nil {
		return fmt.Errorf("pm2 stop failed: %w", err)
	}
	m.log.Info("stopped agent", "name", name)
	return nil
}

// Restart restarts the pm2 process
func (m *PM2Manager) Restart(name string) error {
	ctx, cancel := commandContext()
	defer cancel()
	if _, err := m.run(ctx, "pm2", "restart", pm2Name(name)); err != nil {
		return fmt.Errorf("pm2 restart failed: %w", err)
	}
	m.log.Info("restarted agent", "name", name)
	return nil
}

// pm2Proc is the subset of a `pm2 jlist` entry this manager reads
type pm2Proc struct {
	Name   string `json:"name"`
	PID    int    `json:"pid"`
	PM2Env struct {
		Status      string `json:"status"`
		RestartTime int    `json:"restart_time"`
		PMUptime    int64  `json:"pm_uptime"` // ms since epoch
	} `json:"pm2_env"`
	Monit struct {
		Memory uint64 `json:"memory"`
	} `json:"monit"`
}

// extractJlistJSON isolates the JSON array from `pm2 jlist` output. The
// supervisor prints banner lines before it, notably "[PM2] Spawning PM2
// daemon..." when its daemon first starts, and those lines begin with
// "[" themselves, so the array must be found by line, not by the first
// bracket in the stream.
func extractJlistJSON(out string) string {
	for _, line := range strings.Split(out, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "[{") || trimmed == "[]" {
			return trimmed
		}
	}
	return strings.TrimSpace(out)
}

// jlist fetches and parses the supervisor's JSON process listing
func (m *PM2Manager) jlist(ctx context.Context) ([]pm2Proc, error) {
	out, err := m.run(ctx, "pm2", "jlist")
	if err != nil {
		return nil, fmt.Errorf("pm2 jlist failed: %w", err)
	}
	var procs []pm2Proc
	if err := json.Unmarshal([]byte(extractJlistJSON(out)), &procs); err != nil {
		return nil, fmt.Errorf("failed to parse pm2 jlist output: %w", err)
	}
	return procs, nil
}

func (m *PM2Manager) findProcess(ctx context.Context, procName string) (pm2Proc, bool) {
	procs, err := m.jlist(ctx)
	if err != nil {
		return pm2Proc{}, false
	}
	for _, p := range procs {
		if p.Name == procName {
			return p, true
		}
	}
	return pm2Proc{}, false
}

// mapPM2Status maps pm2's status enum to the normalized model
func mapPM2Status(s string) State {
	switch s {
	case "online", "launching":
		return StateOnline
	case "stopped", "stopping":
		return StateStopped
	case "errored":
		return StateErrored
	default:
		return StateUnknown
	}
}

// statusFromProc maps a jlist entry to a snapshot
func statusFromProc(name string, p pm2Proc) Status {
	st := Status{
		Name:     name,
		State:    mapPM2Status(p.PM2Env.Status),
		Restarts: p.PM2Env.RestartTime,
		Backend:  platform.BackendPM2,
	}
	if st.State == StateOnline {
		st.PID = p.PID
		if p.Monit.Memory > 0 {
			st.Memory = humanize.IBytes(p.Monit.Memory)
		}
		if p.PM2Env.PMUptime > 0 {
			st.Uptime = formatUptime(time.Since(time.UnixMilli(p.PM2Env.PMUptime)))
		}
	}
	return st
}

// Status reads the process listing. A name with no stored config is
// unknown; installed but absent from the listing is stopped.
func (m *PM2Manager) Status(name string) (Status, error) {
	st := Status{Name: name, State: StateUnknown, Restarts: RestartsUnknown, Backend: platform.BackendPM2}

	if _, err := os.Stat(m.configPath(name)); os.IsNotExist(err) {
		return st, nil
	}

	ctx, cancel := commandContext()
	defer cancel()

	proc, ok := m.findProcess(ctx, pm2Name(name))
	if !ok {
		st.State = StateStopped
		return st, nil
	}
	return statusFromProc(name, proc), nil
}

// Fleet lists every pm2 process carrying the agent-keeper prefix
func (m *PM2Manager) Fleet() ([]Status, error) {
	ctx, cancel := commandContext()
	defer cancel()

	procs, err := m.jlist(ctx)
	if err != nil {
		return nil, err
	}

	var statuses []Status
	for _, p := range procs {
		if !strings.HasPrefix(p.Name, pm2NamePrefix) {
			continue
		}
		name := strings.TrimPrefix(p.Name, pm2NamePrefix)
		statuses = append(statuses, statusFromProc(name, p))
	}
	return statuses, nil
}

// Logs delegates to the supervisor's own log command
func (m *PM2Manager) Logs(ctx context.Context, name string, opts LogOptions, out io.Writer) error {
	args := []string{"logs", pm2Name(name), "--lines", strconv.Itoa(opts.GetLines()), "--raw"}
	if !opts.Follow {
		args = append(args, "--nostream")
	}
	switch opts.GetChannel() {
	case ChannelStdout:
		args = append(args, "--out")
	case ChannelStderr:
		args = append(args, "--err")
	}

	cmd := exec.CommandContext(ctx, "pm2", args...)
	cmd.Env = append(os.Environ(), "PM2_HOME="+m.home)
	cmd.Stdout = out
	cmd.Stderr = out

	err := cmd.Run()
	if ctx.Err() != nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("pm2 logs failed: %w", err)
	}
	return nil
}

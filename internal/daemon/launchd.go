package daemon

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/twistedx/agent-keeper/internal/logging"
	"github.com/twistedx/agent-keeper/internal/platform"
)

// LaunchdManager supervises agents through per-user launchd agents on macOS.
type LaunchdManager struct {
	run       runCommandFunc
	log       *slog.Logger
	agentsDir string // ~/Library/LaunchAgents
	logDir    string
	home      string
	uid       int
	sleep     func(time.Duration)
}

// NewLaunchdManager constructs the launchd-backed manager.
func NewLaunchdManager(logDir string) (*LaunchdManager, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return &LaunchdManager{
		run:       newExecRunner(),
		log:       logging.ForComponent(logging.CompLaunchd),
		agentsDir: filepath.Join(home, "Library", "LaunchAgents"),
		logDir:    logDir,
		home:      home,
		uid:       os.Getuid(),
		sleep:     time.Sleep,
	}, nil
}

// Backend reports the backend tag
func (m *LaunchdManager) Backend() platform.Backend {
	return platform.BackendLaunchd
}

func (m *LaunchdManager) plistPath(name string) string {
	return filepath.Join(m.agentsDir, launchdLabel(name)+".plist")
}

// domain is the per-user launchd domain target
func (m *LaunchdManager) domain() string {
	return fmt.Sprintf("gui/%d", m.uid)
}

func (m *LaunchdManager) agentLogDir(spec Spec) string {
	if spec.LogDir != "" {
		return spec.LogDir
	}
	return m.logDir
}

// Install renders and writes the plist, then lints it with plutil. A file
// that fails the lint is deleted before the error is raised so a malformed
// config is never left installed.
func (m *LaunchdManager) Install(spec Spec) error {
	interp, err := ResolveInterpreter()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(m.agentsDir, 0o755); err != nil {
		return fmt.Errorf("failed to create LaunchAgents dir: %w", err)
	}
	logDir := m.agentLogDir(spec)
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return fmt.Errorf("failed to create log dir: %w", err)
	}

	outLog := filepath.Join(logDir, spec.Name+".out.log")
	errLog := filepath.Join(logDir, spec.Name+".err.log")
	content := renderPlist(spec, interp, m.home, outLog, errLog)

	path := m.plistPath(spec.Name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write plist: %w", err)
	}

	ctx, cancel := commandContext()
	defer cancel()
	if _, err := m.run(ctx, "plutil", "-lint", path); err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("generated plist failed validation: %w", err)
	}

	m.log.Info("installed agent", "name", spec.Name, "plist", path)
	return nil
}

// Uninstall boots the label out (tolerating not-loaded) and removes the plist.
func (m *LaunchdManager) Uninstall(name string) error {
	ctx, cancel := commandContext()
	defer cancel()

	// May not be loaded; that is fine
	_, _ = m.run(ctx, "launchctl", "bootout", m.domain()+"/"+launchdLabel(name))

	path := m.plistPath(name)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove plist: %w", err)
	}
	m.log.Info("uninstalled agent", "name", name)
	return nil
}

// Start bootstraps the plist into the user domain. A stale registration
// from a previous run is booted out first, with a short pause before
// re-loading; launchd has no atomic "ensure loaded" and a naive one-step
// load fails with "already bootstrapped" against a stale entry.
func (m *LaunchdManager) Start(name string) (Handle, error) {
	path := m.plistPath(name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Handle{}, fmt.Errorf("agent %q: %w; install it before starting", name, ErrNotInstalled)
	}

	label := launchdLabel(name)

	ctx, cancel := commandContext()
	defer cancel()

	if _, loaded := m.lookupEntry(ctx, label); loaded {
		m.log.Debug("booting out stale registration", "label", label)
		_, _ = m.run(ctx, "launchctl", "bootout", m.domain()+"/"+label)
		m.sleep(500 * time.Millisecond)
	}

	if _, err := m.run(ctx, "launchctl", "bootstrap", m.domain(), path); err != nil {
		return Handle{}, fmt.Errorf("launchctl bootstrap failed: %w", err)
	}

	pid := m.pollPID(label)
	port := storedPort(name)

	m.log.Info("started agent", "name", name, "pid", pid)
	return Handle{Name: name, PID: pid, Port: port, Backend: platform.BackendLaunchd}, nil
}

// pollPID waits, bounded, for launchd to report a live PID. A timeout
// downgrades to PIDUnknown rather than failing the start.
func (m *LaunchdManager) pollPID(label string) int {
	ctx, cancel := context.WithTimeout(context.Background(), startTimeout())
	defer cancel()

	limiter := rate.NewLimiter(rate.Every(250*time.Millisecond), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return PIDUnknown
		}
		if entry, ok := m.lookupEntry(ctx, label); ok && entry.pid > 0 {
			return entry.pid
		}
	}
}

// Stop boots the label out of the user domain
func (m *LaunchdManager) Stop(name string) error {
	ctx, cancel := commandContext()
	defer cancel()
	if _, err := m.run(ctx, "launchctl", "bootout", m.domain()+"/"+launchdLabel(name)); err != nil {
		return fmt.Errorf("launchctl bootout failed: %w", err)
	}
	m.log.Info("stopped agent", "name", name)
	return nil
}

// Restart uses kickstart -k so the service is never unregistered in between
func (m *LaunchdManager) Restart(name string) error {
	ctx, cancel := commandContext()
	defer cancel()
	if _, err := m.run(ctx, "launchctl", "kickstart", "-k", "-p", m.domain()+"/"+launchdLabel(name)); err != nil {
		return fmt.Errorf("launchctl kickstart failed: %w", err)
	}
	m.log.Info("restarted agent", "name", name)
	return nil
}

// launchdEntry is one parsed row of `launchctl list`
type launchdEntry struct {
	pid      int // -1 when not running
	lastExit int
	label    string
}

// parseLaunchdList parses the tab-separated `launchctl list` output.
// Each row is PID (or "-"), last exit status, label. Malformed rows are
// skipped; the output is hostile input.
func parseLaunchdList(out string) []launchdEntry {
	var entries []launchdEntry
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "PID") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		e := launchdEntry{pid: -1, label: fields[2]}
		if fields[0] != "-" {
			pid, err := strconv.Atoi(fields[0])
			if err != nil {
				continue
			}
			e.pid = pid
		}
		if code, err := strconv.Atoi(fields[1]); err == nil {
			e.lastExit = code
		}
		entries = append(entries, e)
	}
	return entries
}

// lookupEntry finds the list entry for one label, if loaded
func (m *LaunchdManager) lookupEntry(ctx context.Context, label string) (launchdEntry, bool) {
	out, err := m.run(ctx, "launchctl", "list")
	if err != nil {
		return launchdEntry{}, false
	}
	for _, e := range parseLaunchdList(out) {
		if e.label == label {
			return e, true
		}
	}
	return launchdEntry{}, false
}

// statusFromEntry maps a list row to the normalized state model
func statusFromEntry(name string, e launchdEntry) Status {
	st := Status{
		Name:     name,
		PID:      0,
		Restarts: RestartsUnknown,
		Backend:  platform.BackendLaunchd,
	}
	switch {
	case e.pid > 0:
		st.State = StateOnline
		st.PID = e.pid
	case e.lastExit != 0:
		st.State = StateErrored
	default:
		st.State = StateStopped
	}
	return st
}

// Status parses the label's list row; no entry and no plist means unknown.
// Online agents with a registered port get a best-effort probe enrichment.
func (m *LaunchdManager) Status(name string) (Status, error) {
	ctx, cancel := commandContext()
	defer cancel()

	entry, loaded := m.lookupEntry(ctx, launchdLabel(name))
	if !loaded {
		if _, err := os.Stat(m.plistPath(name)); err == nil {
			// Installed but not loaded
			return Status{Name: name, State: StateStopped, Restarts: RestartsUnknown, Backend: platform.BackendLaunchd}, nil
		}
		return Status{Name: name, State: StateUnknown, Restarts: RestartsUnknown, Backend: platform.BackendLaunchd}, nil
	}

	st := statusFromEntry(name, entry)
	if st.State == StateOnline {
		m.enrichFromProbe(&st)
	}
	return st, nil
}

// enrichFromProbe merges uptime/memory from the agent's health endpoint.
// Probe failure is not an error; the fields stay unset.
func (m *LaunchdManager) enrichFromProbe(st *Status) {
	port := storedPort(st.Name)
	if port <= 0 {
		return
	}
	info := probeHealth(port)
	if info == nil {
		return
	}
	if info.Uptime != "" {
		st.Uptime = info.Uptime
	}
	if info.Memory != "" {
		st.Memory = info.Memory
	}
}

// Fleet lists every loaded label carrying the agent-keeper prefix
func (m *LaunchdManager) Fleet() ([]Status, error) {
	ctx, cancel := commandContext()
	defer cancel()

	out, err := m.run(ctx, "launchctl", "list")
	if err != nil {
		return nil, fmt.Errorf("launchctl list failed: %w", err)
	}

	var statuses []Status
	for _, e := range parseLaunchdList(out) {
		if !strings.HasPrefix(e.label, launchdLabelPrefix) {
			continue
		}
		name := strings.TrimPrefix(e.label, launchdLabelPrefix)
		statuses = append(statuses, statusFromEntry(name, e))
	}

	// Best-effort probe enrichment, bounded so a fleet of agents does not
	// fan out into an unbounded probe burst
	g := new(errgroup.Group)
	g.SetLimit(4)
	for i := range statuses {
		if statuses[i].State != StateOnline {
			continue
		}
		st := &statuses[i]
		g.Go(func() error {
			m.enrichFromProbe(st)
			return nil
		})
	}
	_ = g.Wait()

	return statuses, nil
}

// Logs tails the agent's stdout/stderr files. In follow mode a long-lived
// tail child streams to out until ctx is cancelled.
func (m *LaunchdManager) Logs(ctx context.Context, name string, opts LogOptions, out io.Writer) error {
	logDir := m.logDir
	if meta, ok := storedMeta(name); ok && meta.LogDir != "" {
		logDir = meta.LogDir
	}
	var files []string
	switch opts.GetChannel() {
	case ChannelStdout:
		files = []string{filepath.Join(logDir, name+".out.log")}
	case ChannelStderr:
		files = []string{filepath.Join(logDir, name+".err.log")}
	default:
		files = []string{
			filepath.Join(logDir, name+".out.log"),
			filepath.Join(logDir, name+".err.log"),
		}
	}

	if opts.Follow {
		return followFiles(ctx, files, opts.GetLines(), out)
	}

	for _, f := range files {
		lines, err := readLastLines(f, opts.GetLines())
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("failed to read %s: %w", f, err)
		}
		for _, line := range lines {
			fmt.Fprintln(out, line)
		}
	}
	return nil
}

package daemon

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twistedx/agent-keeper/internal/logging"
	"github.com/twistedx/agent-keeper/internal/platform"
)

func newTestLaunchd(t *testing.T, f *fakeRunner) *LaunchdManager {
	t.Helper()
	return &LaunchdManager{
		run:       f.run,
		log:       logging.ForComponent(logging.CompLaunchd),
		agentsDir: t.TempDir(),
		logDir:    t.TempDir(),
		home:      "/Users/dev",
		uid:       501,
		sleep:     func(time.Duration) {},
	}
}

func TestParseLaunchdList(t *testing.T) {
	out := "PID\tStatus\tLabel\n" +
		"123\t0\tcom.agentkeeper.alpha\n" +
		"-\t78\tcom.agentkeeper.beta\n" +
		"-\t0\tcom.agentkeeper.gamma\n" +
		"456\t0\tcom.apple.Spotlight\n" +
		"garbage line\n"

	entries := parseLaunchdList(out)
	require.Len(t, entries, 4)

	assert.Equal(t, 123, entries[0].pid)
	assert.Equal(t, "com.agentkeeper.alpha", entries[0].label)
	assert.Equal(t, -1, entries[1].pid)
	assert.Equal(t, 78, entries[1].lastExit)
}

func TestStatusFromEntry(t *testing.T) {
	tests := []struct {
		entry    launchdEntry
		expected State
		pid      int
	}{
		{launchdEntry{pid: 42, lastExit: 0}, StateOnline, 42},
		{launchdEntry{pid: -1, lastExit: 1}, StateErrored, 0},
		{launchdEntry{pid: -1, lastExit: 0}, StateStopped, 0},
	}
	for _, tt := range tests {
		st := statusFromEntry("x", tt.entry)
		assert.Equal(t, tt.expected, st.State)
		assert.Equal(t, tt.pid, st.PID)
		assert.Equal(t, RestartsUnknown, st.Restarts)
		assert.Equal(t, platform.BackendLaunchd, st.Backend)
	}
}

func TestLaunchdInstallWritesValidatedPlist(t *testing.T) {
	setupTestBase(t)
	f := &fakeRunner{}
	m := newTestLaunchd(t, f)

	spec := testSpec()
	spec.Script = writeTestScript(t)
	require.NoError(t, m.Install(spec))

	path := m.plistPath(spec.Name)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "com.agentkeeper.sync-agent")
	assert.True(t, f.called("plutil -lint "+path))
}

func TestLaunchdInstallLintFailureRemovesFile(t *testing.T) {
	setupTestBase(t)
	f := &fakeRunner{rules: []fakeRule{
		{prefix: "plutil -lint", err: os.ErrInvalid},
	}}
	m := newTestLaunchd(t, f)

	spec := testSpec()
	spec.Script = writeTestScript(t)
	err := m.Install(spec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation")

	// A malformed file must never be left installed
	_, statErr := os.Stat(m.plistPath(spec.Name))
	assert.True(t, os.IsNotExist(statErr))
}

func TestLaunchdStartNotInstalled(t *testing.T) {
	setupTestBase(t)
	m := newTestLaunchd(t, &fakeRunner{})

	_, err := m.Start("ghost")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotInstalled)
}

func TestLaunchdStartReportsPID(t *testing.T) {
	setupTestBase(t)
	f := &fakeRunner{rules: []fakeRule{
		{prefix: "launchctl list", out: "777\t0\tcom.agentkeeper.alpha\n"},
	}}
	m := newTestLaunchd(t, f)

	require.NoError(t, os.WriteFile(m.plistPath("alpha"), []byte("<plist/>"), 0o644))

	h, err := m.Start("alpha")
	require.NoError(t, err)
	assert.Equal(t, 777, h.PID)
	assert.Equal(t, platform.BackendLaunchd, h.Backend)

	// Stale registration booted out before re-bootstrap
	assert.True(t, f.called("launchctl bootout gui/501/com.agentkeeper.alpha"))
	assert.True(t, f.called("launchctl bootstrap gui/501 "))
}

func TestLaunchdStartPollTimeoutIsNotFatal(t *testing.T) {
	setupTestBase(t) // start_timeout_secs = 1
	f := &fakeRunner{} // list never reports the label
	m := newTestLaunchd(t, f)

	require.NoError(t, os.WriteFile(m.plistPath("alpha"), []byte("<plist/>"), 0o644))

	h, err := m.Start("alpha")
	require.NoError(t, err)
	assert.Equal(t, PIDUnknown, h.PID)
}

func TestLaunchdStatusUnknownWhenNotInstalled(t *testing.T) {
	setupTestBase(t)
	m := newTestLaunchd(t, &fakeRunner{})

	st, err := m.Status("never-installed")
	require.NoError(t, err)
	assert.Equal(t, StateUnknown, st.State)
}

func TestLaunchdStatusStoppedWhenInstalledButNotLoaded(t *testing.T) {
	setupTestBase(t)
	m := newTestLaunchd(t, &fakeRunner{})

	require.NoError(t, os.WriteFile(m.plistPath("alpha"), []byte("<plist/>"), 0o644))

	st, err := m.Status("alpha")
	require.NoError(t, err)
	assert.Equal(t, StateStopped, st.State)
}

func TestLaunchdFleetFiltersNamespace(t *testing.T) {
	setupTestBase(t)
	f := &fakeRunner{rules: []fakeRule{
		{prefix: "launchctl list", out: "" +
			"1\t0\tcom.apple.Finder\n" +
			"22\t0\tcom.agentkeeper.alpha\n" +
			"-\t0\tcom.agentkeeper.beta\n" +
			"33\t0\thomebrew.mxcl.redis\n"},
	}}
	m := newTestLaunchd(t, f)

	fleet, err := m.Fleet()
	require.NoError(t, err)
	require.Len(t, fleet, 2)

	names := []string{fleet[0].Name, fleet[1].Name}
	assert.Contains(t, names, "alpha")
	assert.Contains(t, names, "beta")
}

func TestLaunchdUninstallToleratesNotLoaded(t *testing.T) {
	setupTestBase(t)
	f := &fakeRunner{rules: []fakeRule{
		{prefix: "launchctl bootout", err: os.ErrInvalid},
	}}
	m := newTestLaunchd(t, f)

	require.NoError(t, os.WriteFile(m.plistPath("alpha"), []byte("<plist/>"), 0o644))

	require.NoError(t, m.Uninstall("alpha"))
	_, err := os.Stat(m.plistPath("alpha"))
	assert.True(t, os.IsNotExist(err))

	// Uninstalling an agent with no plist is also fine
	require.NoError(t, m.Uninstall("alpha"))
}

func TestLaunchdLogsOneShot(t *testing.T) {
	setupTestBase(t)
	m := newTestLaunchd(t, &fakeRunner{})

	require.NoError(t, os.WriteFile(filepath.Join(m.logDir, "alpha.out.log"), []byte("out1\nout2\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(m.logDir, "alpha.err.log"), []byte("err1\n"), 0o644))

	var buf bytes.Buffer
	err := m.Logs(context.Background(), "alpha", LogOptions{Lines: 10}, &buf)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "out2")
	assert.Contains(t, buf.String(), "err1")

	buf.Reset()
	err = m.Logs(context.Background(), "alpha", LogOptions{Lines: 10, Channel: ChannelStdout}, &buf)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "out1")
	assert.NotContains(t, buf.String(), "err1")
}

package daemon

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderUnitBasics(t *testing.T) {
	spec := testSpec()
	out := renderUnit(spec, "/usr/bin/node", "/home/dev")

	assert.Contains(t, out, "Description=agent-keeper agent sync-agent")
	assert.Contains(t, out, "After=network-online.target")
	assert.Contains(t, out, "Wants=network-online.target")
	assert.Contains(t, out, "Type=simple")
	assert.Contains(t, out, `ExecStart="/usr/bin/node" "/srv/agents/sync/index.js"`)
	assert.Contains(t, out, "WorkingDirectory=/srv/agents/sync")
	assert.Contains(t, out, "StandardOutput=journal")
	assert.Contains(t, out, "StandardError=journal")
	assert.Contains(t, out, "SyslogIdentifier=agent-keeper-sync-agent")
	assert.Contains(t, out, "KillSignal=SIGTERM")
	assert.Contains(t, out, "TimeoutStopSec=10")
	assert.Contains(t, out, "WantedBy=default.target")
}

func TestRenderUnitRestartPolicy(t *testing.T) {
	spec := testSpec()
	out := renderUnit(spec, "/usr/bin/node", "/home/dev")
	assert.Contains(t, out, "Restart=on-failure")
	assert.Contains(t, out, "RestartSec=5")

	spec.Restart = false
	out = renderUnit(spec, "/usr/bin/node", "/home/dev")
	assert.Contains(t, out, "Restart=no\n")
	assert.NotContains(t, out, "StartLimitBurst")
}

// The rate-limit window must be strictly greater than RestartSec x burst
// for every spec; an under-sized window permanently wedges restarts.
func TestStartLimitWindowInvariant(t *testing.T) {
	delays := []time.Duration{0, 500 * time.Millisecond, time.Second, 5 * time.Second, time.Minute}
	bursts := []int{0, 1, 3, 10, 100}

	for _, delay := range delays {
		for _, burst := range bursts {
			spec := testSpec()
			spec.RestartDelay = delay
			spec.MaxRestarts = burst
			out := renderUnit(spec, "/usr/bin/node", "/home/dev")

			var restartSec, limitBurst, window int
			for _, line := range strings.Split(out, "\n") {
				fmt.Sscanf(line, "RestartSec=%d", &restartSec)
				fmt.Sscanf(line, "StartLimitBurst=%d", &limitBurst)
				fmt.Sscanf(line, "StartLimitIntervalSec=%d", &window)
			}
			require.Greater(t, restartSec, 0)
			require.Greater(t, limitBurst, 0)
			assert.Greater(t, window, restartSec*limitBurst,
				"delay=%s burst=%d: window must exceed RestartSec x burst", delay, burst)
		}
	}
}

func TestRenderUnitMemoryCeiling(t *testing.T) {
	spec := testSpec()
	spec.MemoryLimitMB = 512
	out := renderUnit(spec, "/usr/bin/node", "/home/dev")
	assert.Contains(t, out, "MemoryMax=512M")

	spec.MemoryLimitMB = 0
	out = renderUnit(spec, "/usr/bin/node", "/home/dev")
	assert.NotContains(t, out, "MemoryMax")
}

func TestRenderUnitEnvironment(t *testing.T) {
	spec := testSpec()
	spec.Env = map[string]string{"TOKEN": `va"lue`}
	out := renderUnit(spec, "/usr/local/bin/node", "/home/dev")

	assert.Contains(t, out, `Environment="AGENT_PORT=8787"`)
	assert.Contains(t, out, `Environment="HOME=/home/dev"`)
	assert.Contains(t, out, `Environment="PATH=/usr/local/bin:`)
	assert.Contains(t, out, `Environment="TOKEN=va\"lue"`)
}

func TestRenderUnitQuotesPathsWithSpaces(t *testing.T) {
	spec := testSpec()
	spec.Script = "/srv/my agents/sync/index.js"
	spec.WorkDir = "/srv/my agents/sync"
	out := renderUnit(spec, "/opt/node env/bin/node", "/home/dev")

	// Each path must stay one argv word despite the embedded spaces
	assert.Contains(t, out, `ExecStart="/opt/node env/bin/node" "/srv/my agents/sync/index.js"`)
	assert.Contains(t, out, "WorkingDirectory=/srv/my agents/sync\n")
}

func TestRenderUnitEscapesSpecifiers(t *testing.T) {
	spec := testSpec()
	spec.Script = "/srv/100%agents/index.js"
	spec.WorkDir = "/srv/100%agents"
	spec.Env = map[string]string{"RATE": "50%"}
	out := renderUnit(spec, "/usr/bin/node", "/home/dev")

	// "%" would otherwise expand as a systemd specifier
	assert.Contains(t, out, `ExecStart="/usr/bin/node" "/srv/100%%agents/index.js"`)
	assert.Contains(t, out, "WorkingDirectory=/srv/100%%agents\n")
	assert.Contains(t, out, `Environment="RATE=50%%"`)
}

func TestRenderUnitDeterministic(t *testing.T) {
	spec := testSpec()
	spec.Env = map[string]string{"Z": "1", "A": "2", "M": "3"}

	first := renderUnit(spec, "/usr/bin/node", "/home/dev")
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, renderUnit(spec, "/usr/bin/node", "/home/dev"))
	}
}

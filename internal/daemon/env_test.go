package daemon

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twistedx/agent-keeper/internal/config"
)

func TestManagedPathPutsInterpreterFirst(t *testing.T) {
	p := managedPath("/opt/homebrew/bin/node")
	parts := strings.Split(p, ":")
	assert.Equal(t, "/opt/homebrew/bin", parts[0])
}

func TestManagedPathDeduplicates(t *testing.T) {
	p := managedPath("/usr/local/bin/node")
	seen := make(map[string]int)
	for _, d := range strings.Split(p, ":") {
		seen[d]++
	}
	for d, n := range seen {
		assert.Equal(t, 1, n, "duplicate PATH entry %s", d)
	}
	assert.Contains(t, p, "/usr/bin")
	assert.Contains(t, p, "/sbin")
}

func TestManagedEnv(t *testing.T) {
	spec := testSpec()
	spec.Env = map[string]string{"CUSTOM": "x", "PATH": "/attacker/bin"}

	env := managedEnv(spec, "/usr/local/bin/node", "/home/dev")

	assert.Equal(t, "8787", env["AGENT_PORT"])
	assert.Equal(t, "/home/dev", env["HOME"])
	assert.Equal(t, "x", env["CUSTOM"])
	// Caller variables never override the constructed PATH
	assert.True(t, strings.HasPrefix(env["PATH"], "/usr/local/bin"))
}

func TestManagedEnvNoPort(t *testing.T) {
	spec := testSpec()
	spec.Port = 0
	env := managedEnv(spec, "/usr/bin/node", "/home/dev")
	_, ok := env["AGENT_PORT"]
	assert.False(t, ok)
}

func TestResolveInterpreterAbsolutePath(t *testing.T) {
	dir := t.TempDir()
	config.SetBaseDir(dir)
	t.Cleanup(func() { config.SetBaseDir("") })

	fake := filepath.Join(dir, "fake-node")
	require.NoError(t, os.WriteFile(fake, []byte("#!/bin/sh\n"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.UserConfigFileName),
		[]byte("interpreter = \""+fake+"\"\n"), 0o644))
	config.Reload()

	p, err := ResolveInterpreter()
	require.NoError(t, err)
	assert.Equal(t, fake, p)
}

func TestResolveInterpreterMissing(t *testing.T) {
	dir := t.TempDir()
	config.SetBaseDir(dir)
	t.Cleanup(func() { config.SetBaseDir("") })

	require.NoError(t, os.WriteFile(filepath.Join(dir, config.UserConfigFileName),
		[]byte("interpreter = \"definitely-not-a-real-interpreter-7f3a\"\n"), 0o644))
	config.Reload()

	_, err := ResolveInterpreter()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInterpreterNotFound)
}

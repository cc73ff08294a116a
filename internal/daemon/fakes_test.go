package daemon

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/twistedx/agent-keeper/internal/config"
)

// fakeRule matches a spawned command by prefix and supplies its result
type fakeRule struct {
	prefix string
	out    string
	err    error
}

// fakeRunner records every spawned command and answers from ordered rules
type fakeRunner struct {
	calls []string
	rules []fakeRule
}

func (f *fakeRunner) run(ctx context.Context, name string, args ...string) (string, error) {
	cmd := strings.Join(append([]string{name}, args...), " ")
	f.calls = append(f.calls, cmd)
	for _, r := range f.rules {
		if strings.HasPrefix(cmd, r.prefix) {
			return r.out, r.err
		}
	}
	return "", nil
}

func (f *fakeRunner) called(prefix string) bool {
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

// setupTestBase redirects the base dir (config, side metadata) to a temp
// dir and installs a fake interpreter so Install can resolve one.
func setupTestBase(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	config.SetBaseDir(dir)
	t.Cleanup(func() {
		config.SetBaseDir("")
	})

	interp := filepath.Join(dir, "fake-node")
	require.NoError(t, os.WriteFile(interp, []byte("#!/bin/sh\n"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.UserConfigFileName),
		[]byte("interpreter = \""+interp+"\"\n\n[daemon]\nstart_timeout_secs = 1\n"), 0o644))
	config.Reload()
	return dir
}

// writeTestScript creates a throwaway agent script and returns its path
func writeTestScript(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index.js")
	require.NoError(t, os.WriteFile(path, []byte("setInterval(() => {}, 1000);\n"), 0o644))
	return path
}

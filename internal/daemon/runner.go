package daemon

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/twistedx/agent-keeper/internal/config"
)

// runCommandFunc spawns one control-plane command and returns its stdout.
// Tests substitute fakes; production code uses newExecRunner.
type runCommandFunc func(ctx context.Context, name string, args ...string) (string, error)

// newExecRunner returns a runner backed by exec.CommandContext. extraEnv
// entries ("KEY=value") are appended to the current environment, which is
// how the pm2 manager pins its isolated PM2_HOME.
func newExecRunner(extraEnv ...string) runCommandFunc {
	return func(ctx context.Context, name string, args ...string) (string, error) {
		cmd := exec.CommandContext(ctx, name, args...)
		if len(extraEnv) > 0 {
			cmd.Env = append(os.Environ(), extraEnv...)
		}

		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		if err := cmd.Run(); err != nil {
			detail := strings.TrimSpace(stderr.String())
			if detail != "" {
				return stdout.String(), fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, detail)
			}
			return stdout.String(), fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
		}
		return stdout.String(), nil
	}
}

// commandContext returns a context bounding one control command so an
// unresponsive backend cannot hang a caller indefinitely.
func commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), commandTimeout())
}

func commandTimeout() time.Duration {
	cfg, err := config.Load()
	if err != nil || cfg == nil {
		return 30 * time.Second
	}
	return time.Duration(cfg.Daemon.GetCommandTimeoutSecs()) * time.Second
}

func startTimeout() time.Duration {
	cfg, err := config.Load()
	if err != nil || cfg == nil {
		return 3 * time.Second
	}
	return time.Duration(cfg.Daemon.GetStartTimeoutSecs()) * time.Second
}

package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/twistedx/agent-keeper/internal/agent"
	"github.com/twistedx/agent-keeper/internal/daemon"
)

var (
	startScript       string
	startPort         int
	startCwd          string
	startEnv          []string
	startNoRestart    bool
	startMaxRestarts  int
	startRestartDelay time.Duration
	startMemoryMB     int
	startLogDir       string
)

func init() {
	startCmd.Flags().StringVar(&startScript, "script", "", "agent entry point (required)")
	startCmd.Flags().IntVar(&startPort, "port", 0, "port the agent listens on, injected as AGENT_PORT")
	startCmd.Flags().StringVar(&startCwd, "cwd", "", "working directory (default: the script's directory)")
	startCmd.Flags().StringArrayVarP(&startEnv, "env", "e", nil, "environment variable KEY=VALUE (repeatable)")
	startCmd.Flags().BoolVar(&startNoRestart, "no-restart", false, "do not restart the agent when it exits")
	startCmd.Flags().IntVar(&startMaxRestarts, "max-restarts", 10, "restart attempts before giving up")
	startCmd.Flags().DurationVar(&startRestartDelay, "restart-delay", 5*time.Second, "delay between automatic restarts")
	startCmd.Flags().IntVar(&startMemoryMB, "memory", 0, "memory ceiling in MB (0 = none)")
	startCmd.Flags().StringVar(&startLogDir, "log-dir", "", "log directory override for this agent")
	_ = startCmd.MarkFlagRequired("script")
	rootCmd.AddCommand(startCmd)
}

var startCmd = &cobra.Command{
	Use:   "start <name>",
	Short: "Install and start an agent",
	Long: `Install an agent under the host's service manager and start it.

Re-running start for an existing name rewrites the service config and
restarts the agent, so it doubles as "apply new settings".

The agent is restarted automatically when it exits abnormally unless
--no-restart is given; a clean exit (status 0) is never restarted.

Examples:
  # Minimal
  agent-keeper start sync-agent --script ./index.js

  # Full
  agent-keeper start sync-agent --script ./index.js --port 8787 \
    --env API_URL=https://api.example.com --memory 512 \
    --max-restarts 20 --restart-delay 10s`,
	Args: cobra.ExactArgs(1),
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	env, err := parseEnvFlags(startEnv)
	if err != nil {
		return err
	}

	spec := daemon.Spec{
		Name:          args[0],
		Script:        startScript,
		Port:          startPort,
		Env:           env,
		WorkDir:       startCwd,
		Restart:       !startNoRestart,
		MaxRestarts:   startMaxRestarts,
		RestartDelay:  startRestartDelay,
		MemoryLimitMB: startMemoryMB,
		LogDir:        startLogDir,
	}

	h, err := agent.Start(spec)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if h.PID == daemon.PIDUnknown {
		fmt.Fprintf(out, "Started %s (%s); PID not yet reported\n", h.Name, h.Backend)
	} else {
		fmt.Fprintf(out, "Started %s (%s) with PID %d\n", h.Name, h.Backend, h.PID)
	}
	if h.Port > 0 {
		fmt.Fprintf(out, "Listening on port %d\n", h.Port)
	}
	return nil
}

// parseEnvFlags splits repeated KEY=VALUE flags into a map
func parseEnvFlags(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	env := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		k, v, found := strings.Cut(pair, "=")
		if !found || k == "" {
			return nil, fmt.Errorf("invalid --env value %q: want KEY=VALUE", pair)
		}
		env[k] = v
	}
	return env, nil
}

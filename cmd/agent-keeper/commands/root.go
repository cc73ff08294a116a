// Package commands implements the CLI commands for agent-keeper.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/twistedx/agent-keeper/internal/config"
	"github.com/twistedx/agent-keeper/internal/logging"
)

// version is set at build time via ldflags.
const version = "0.1.0"

// debug holds the value of the --debug flag.
var debug bool

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.Version = version
	rootCmd.SetVersionTemplate("agent-keeper version {{.Version}}\n")

	// Silence errors and usage so main controls error output
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
}

var rootCmd = &cobra.Command{
	Use:   "agent-keeper",
	Short: "Run long-lived agents under the OS service manager",
	Long: `agent-keeper installs and supervises long-lived agent processes using
whichever service manager the host provides: launchd on macOS, systemd
user units on Linux, and an isolated pm2 instance everywhere else
(including WSL).

One command vocabulary covers all three backends; agent-keeper
translates each operation to the native config format and control
commands, so agents survive crashes and reboots without a custom
supervisor daemon.`,
	Example: `  # Install and start an agent
  agent-keeper start sync-agent --script ./index.js --port 8787

  # Check on it
  agent-keeper status sync-agent

  # Everything under management
  agent-keeper list

  # Stream its output
  agent-keeper logs sync-agent -f

  # Remove it completely
  agent-keeper uninstall sync-agent`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogging()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Shutdown()
	},
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

// setupLogging wires the global logger to the user's config; the CLI's
// own diagnostics go to a rotated file, never the terminal.
func setupLogging() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logDir, err := config.LogDir()
	if err != nil {
		return err
	}

	level := cfg.Logs.GetLevel()
	if debug {
		level = "debug"
	}
	logging.Init(logging.Config{
		LogDir:   logDir,
		Level:    level,
		Format:   cfg.Logs.Format,
		Compress: true,
		Debug:    debug,
	})
	return nil
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

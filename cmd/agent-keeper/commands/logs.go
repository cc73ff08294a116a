package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/twistedx/agent-keeper/internal/agent"
	"github.com/twistedx/agent-keeper/internal/daemon"
)

var (
	logsLines  int
	logsFollow bool
	logsOut    bool
	logsErr    bool
)

func init() {
	logsCmd.Flags().IntVarP(&logsLines, "lines", "n", 50, "number of trailing lines to show")
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "stream new output until interrupted")
	logsCmd.Flags().BoolVar(&logsOut, "out", false, "stdout only")
	logsCmd.Flags().BoolVar(&logsErr, "err", false, "stderr only")
	logsCmd.MarkFlagsMutuallyExclusive("out", "err")
	rootCmd.AddCommand(logsCmd)
}

var logsCmd = &cobra.Command{
	Use:   "logs <name>",
	Short: "Show an agent's output",
	Long: `Show the trailing lines of an agent's stdout and stderr, or stream
new output with --follow until interrupted.

On Linux the unit logs to the journal, which does not keep the two
streams apart, so --out and --err are best-effort there.`,
	Example: `  # Last 50 lines
  agent-keeper logs sync-agent

  # Stream, stderr only
  agent-keeper logs sync-agent -f --err`,
	Args: cobra.ExactArgs(1),
	RunE: runLogs,
}

func runLogs(cmd *cobra.Command, args []string) error {
	channel := daemon.ChannelBoth
	switch {
	case logsOut:
		channel = daemon.ChannelStdout
	case logsErr:
		channel = daemon.ChannelStderr
	}

	ctx := cmd.Context()
	if logsFollow {
		var stop func()
		ctx, stop = signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()

		if term.IsTerminal(int(os.Stdout.Fd())) {
			fmt.Fprintf(cmd.ErrOrStderr(), "Streaming logs for %s; Ctrl-C to stop\n", args[0])
		}
	}

	opts := daemon.LogOptions{Lines: logsLines, Follow: logsFollow, Channel: channel}
	return agent.Logs(ctx, args[0], opts, cmd.OutOrStdout())
}

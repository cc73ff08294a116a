package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/twistedx/agent-keeper/internal/agent"
)

func init() {
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(restartCmd)
	rootCmd.AddCommand(uninstallCmd)
}

var stopCmd = &cobra.Command{
	Use:   "stop <name>",
	Short: "Stop a running agent",
	Long: `Stop a running agent without removing its service config. The agent
stays installed and can be started again with "agent-keeper start" or
the backend's own tools.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := agent.Stop(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Stopped %s\n", args[0])
		return nil
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart <name>",
	Short: "Restart a running agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := agent.Restart(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Restarted %s\n", args[0])
		return nil
	},
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall <name>",
	Short: "Stop an agent and remove it from the service manager",
	Long: `Stop the agent if it is running (tolerating not-running) and remove
its service config, so nothing restarts it at next login or reboot.
Log files are left in place.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := agent.Uninstall(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Uninstalled %s\n", args[0])
		return nil
	},
}

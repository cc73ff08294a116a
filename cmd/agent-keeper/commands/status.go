package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/twistedx/agent-keeper/internal/agent"
	"github.com/twistedx/agent-keeper/internal/daemon"
)

var (
	statusJSON bool
	listJSON   bool
)

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output as JSON")
	listCmd.Flags().BoolVar(&listJSON, "json", false, "output as JSON")
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(listCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status <name>",
	Short: "Show the current state of one agent",
	Long: `Show a fresh status snapshot for one agent, queried live from the
service manager. Names that were never installed report "unknown"
rather than failing, so speculative queries are safe to script.`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	st, err := agent.Status(args[0])
	if err != nil {
		return err
	}

	if statusJSON {
		return writeStatusJSON(cmd.OutOrStdout(), []daemon.Status{st})
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Name:     %s\n", st.Name)
	fmt.Fprintf(out, "State:    %s\n", st.State)
	fmt.Fprintf(out, "Backend:  %s\n", st.Backend)
	if st.PID > 0 {
		fmt.Fprintf(out, "PID:      %d\n", st.PID)
	}
	if st.Memory != "" {
		fmt.Fprintf(out, "Memory:   %s\n", st.Memory)
	}
	if st.Uptime != "" {
		fmt.Fprintf(out, "Uptime:   %s\n", st.Uptime)
	}
	if st.Restarts != daemon.RestartsUnknown {
		fmt.Fprintf(out, "Restarts: %d\n", st.Restarts)
	}
	return nil
}

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List every managed agent",
	Long: `List a status snapshot for every agent installed under agent-keeper's
namespace. Agents installed directly with launchctl, systemctl, or a
personal pm2 are not shown.`,
	Args: cobra.NoArgs,
	RunE: runList,
}

func runList(cmd *cobra.Command, args []string) error {
	fleet, err := agent.Fleet()
	if err != nil {
		return err
	}

	if listJSON {
		return writeStatusJSON(cmd.OutOrStdout(), fleet)
	}

	out := cmd.OutOrStdout()
	if len(fleet) == 0 {
		fmt.Fprintln(out, "No agents installed.")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSTATE\tPID\tMEMORY\tUPTIME\tRESTARTS\tBACKEND")
	for _, st := range fleet {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			st.Name, st.State, orDash(pidString(st.PID)),
			orDash(st.Memory), orDash(st.Uptime),
			orDash(restartsString(st.Restarts)), st.Backend)
	}
	return tw.Flush()
}

func pidString(pid int) string {
	if pid <= 0 {
		return ""
	}
	return fmt.Sprintf("%d", pid)
}

func restartsString(n int) string {
	if n == daemon.RestartsUnknown {
		return ""
	}
	return fmt.Sprintf("%d", n)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func writeStatusJSON(w io.Writer, statuses []daemon.Status) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(statuses)
}

package daemon

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// readLastLines returns the trailing n lines of a file. Log files are
// rotation-bounded, so reading the whole file is acceptable.
func readLastLines(path string, n int) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return nil, nil
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}

// followFiles spawns a long-lived tail child streaming the given files to
// out until ctx is cancelled. Cancellation is the normal way a follow
// ends, so it is not reported as an error.
func followFiles(ctx context.Context, files []string, lines int, out io.Writer) error {
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return fmt.Errorf("no log files found (checked %s)", strings.Join(files, ", "))
	}

	args := append([]string{"-n", strconv.Itoa(lines), "-F"}, existing...)
	cmd := exec.CommandContext(ctx, "tail", args...)
	cmd.Stdout = out
	cmd.Stderr = out

	err := cmd.Run()
	if ctx.Err() != nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("tail failed: %w", err)
	}
	return nil
}

// formatUptime renders a duration the way supervisors report it: the two
// most significant units only.
func formatUptime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	switch {
	case d >= 24*time.Hour:
		days := int(d / (24 * time.Hour))
		hours := int(d % (24 * time.Hour) / time.Hour)
		return fmt.Sprintf("%dd%dh", days, hours)
	case d >= time.Hour:
		hours := int(d / time.Hour)
		mins := int(d % time.Hour / time.Minute)
		return fmt.Sprintf("%dh%dm", hours, mins)
	case d >= time.Minute:
		mins := int(d / time.Minute)
		secs := int(d % time.Minute / time.Second)
		return fmt.Sprintf("%dm%ds", mins, secs)
	default:
		return fmt.Sprintf("%ds", int(d/time.Second))
	}
}

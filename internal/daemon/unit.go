package daemon

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// systemdUnitPrefix namespaces every generated unit name
const systemdUnitPrefix = "agent-keeper-"

// systemdUnitName returns the unit file name for an agent
func systemdUnitName(name string) string {
	return systemdUnitPrefix + name + ".service"
}

// restartSeconds derives RestartSec from the backoff, floored at 1s to
// keep the rate-limit window arithmetic meaningful
func restartSeconds(delay time.Duration) int {
	s := int(delay / time.Second)
	if s < 1 {
		return 1
	}
	return s
}

// startLimitWindow computes StartLimitIntervalSec. It must be strictly
// greater than RestartSec x StartLimitBurst: an under-sized window makes
// systemd permanently refuse further restarts after a burst, so this is
// a hard invariant, not a tuning knob.
func startLimitWindow(restartSec, burst int) int {
	return restartSec*burst + restartSec
}

// unitEscape escapes a value for use inside a quoted unit-file token:
// backslash and quote for the token syntax, and "%" doubled so systemd
// never expands it as a specifier.
func unitEscape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	s = strings.ReplaceAll(s, "%", "%%")
	return s
}

// unitPathEscape escapes a bare (unquoted, single-token) path setting,
// where only specifier expansion applies
func unitPathEscape(s string) string {
	return strings.ReplaceAll(s, "%", "%%")
}

// renderUnit renders the systemd user unit for a spec. Environment keys
// are emitted sorted so re-installing an identical spec yields an
// identical file.
func renderUnit(spec Spec, interpPath, home string) string {
	var b strings.Builder

	burst := spec.MaxRestarts
	if burst < 1 {
		burst = 1
	}
	restartSec := restartSeconds(spec.RestartDelay)

	b.WriteString("[Unit]\n")
	fmt.Fprintf(&b, "Description=agent-keeper agent %s\n", spec.Name)
	b.WriteString("After=network-online.target\n")
	b.WriteString("Wants=network-online.target\n")
	if spec.Restart {
		fmt.Fprintf(&b, "StartLimitBurst=%d\n", burst)
		fmt.Fprintf(&b, "StartLimitIntervalSec=%d\n", startLimitWindow(restartSec, burst))
	}
	b.WriteString("\n[Service]\n")
	b.WriteString("Type=simple\n")
	// Quoted so paths containing spaces stay single argv words
	fmt.Fprintf(&b, "ExecStart=\"%s\" \"%s\"\n", unitEscape(interpPath), unitEscape(spec.Script))
	fmt.Fprintf(&b, "WorkingDirectory=%s\n", unitPathEscape(spec.WorkDir))
	if spec.Restart {
		b.WriteString("Restart=on-failure\n")
	} else {
		b.WriteString("Restart=no\n")
	}
	fmt.Fprintf(&b, "RestartSec=%d\n", restartSec)
	if spec.MemoryLimitMB > 0 {
		fmt.Fprintf(&b, "MemoryMax=%dM\n", spec.MemoryLimitMB)
	}

	env := managedEnv(spec, interpPath, home)
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "Environment=\"%s=%s\"\n", k, unitEscape(env[k]))
	}

	b.WriteString("StandardOutput=journal\n")
	b.WriteString("StandardError=journal\n")
	fmt.Fprintf(&b, "SyslogIdentifier=%s\n", systemdUnitPrefix+spec.Name)
	b.WriteString("KillSignal=SIGTERM\n")
	b.WriteString("TimeoutStopSec=10\n")

	b.WriteString("\n[Install]\n")
	b.WriteString("WantedBy=default.target\n")

	return b.String()
}

package daemon

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// launchdLabelPrefix namespaces every generated label so agent-keeper
// services can never collide with unrelated launch agents and fleet
// listing can filter by prefix alone.
const launchdLabelPrefix = "com.agentkeeper."

// launchdLabel returns the launchd label for an agent name
func launchdLabel(name string) string {
	return launchdLabelPrefix + name
}

// minThrottleSeconds is the floor for ThrottleInterval; launchd refuses
// sub-second throttling.
const minThrottleSeconds = 1

// xmlEscape escapes the five reserved XML characters for plist text nodes
func xmlEscape(s string) string {
	r := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
		"'", "&apos;",
	)
	return r.Replace(s)
}

// throttleSeconds derives ThrottleInterval from the restart backoff
func throttleSeconds(delay time.Duration) int {
	s := int(delay / time.Second)
	if s < minThrottleSeconds {
		return minThrottleSeconds
	}
	return s
}

// renderPlist renders the launchd property list for a spec. Environment
// keys are emitted sorted so re-installing an identical spec yields an
// identical document.
func renderPlist(spec Spec, interpPath, home, outLog, errLog string) string {
	var b strings.Builder

	b.WriteString("<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n")
	b.WriteString("<!DOCTYPE plist PUBLIC \"-//Apple//DTD PLIST 1.0//EN\" \"http://www.apple.com/DTDs/PropertyList-1.0.dtd\">\n")
	b.WriteString("<plist version=\"1.0\">\n<dict>\n")

	fmt.Fprintf(&b, "    <key>Label</key>\n    <string>%s</string>\n\n", xmlEscape(launchdLabel(spec.Name)))

	b.WriteString("    <key>ProgramArguments</key>\n    <array>\n")
	fmt.Fprintf(&b, "        <string>%s</string>\n", xmlEscape(interpPath))
	fmt.Fprintf(&b, "        <string>%s</string>\n", xmlEscape(spec.Script))
	b.WriteString("    </array>\n\n")

	fmt.Fprintf(&b, "    <key>WorkingDirectory</key>\n    <string>%s</string>\n\n", xmlEscape(spec.WorkDir))

	b.WriteString("    <key>EnvironmentVariables</key>\n    <dict>\n")
	env := managedEnv(spec, interpPath, home)
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "        <key>%s</key>\n        <string>%s</string>\n", xmlEscape(k), xmlEscape(env[k]))
	}
	b.WriteString("    </dict>\n\n")

	b.WriteString("    <key>RunAtLoad</key>\n    <true/>\n\n")

	// A bare KeepAlive=true would also restart after a clean exit, so the
	// restart-enabled form is "restart unless the process exited successfully".
	b.WriteString("    <key>KeepAlive</key>\n")
	if spec.Restart {
		b.WriteString("    <dict>\n        <key>SuccessfulExit</key>\n        <false/>\n    </dict>\n\n")
	} else {
		b.WriteString("    <false/>\n\n")
	}

	fmt.Fprintf(&b, "    <key>ThrottleInterval</key>\n    <integer>%d</integer>\n\n", throttleSeconds(spec.RestartDelay))

	fmt.Fprintf(&b, "    <key>StandardOutPath</key>\n    <string>%s</string>\n\n", xmlEscape(outLog))
	fmt.Fprintf(&b, "    <key>StandardErrorPath</key>\n    <string>%s</string>\n", xmlEscape(errLog))

	b.WriteString("</dict>\n</plist>\n")
	return b.String()
}

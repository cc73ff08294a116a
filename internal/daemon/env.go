package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/twistedx/agent-keeper/internal/config"
)

// conventionalInterpreterDirs are probed when PATH resolution fails.
// Service managers started outside a login shell often miss these.
var conventionalInterpreterDirs = []string{
	"/opt/homebrew/bin",
	"/usr/local/bin",
	"/usr/bin",
	"/bin",
	"/opt/local/bin",
}

// systemBinDirs is the PATH tail handed to every managed process
var systemBinDirs = []string{
	"/usr/local/bin",
	"/opt/homebrew/bin",
	"/usr/bin",
	"/bin",
	"/usr/sbin",
	"/sbin",
}

// ResolveInterpreter locates the script interpreter: first via the shell's
// own resolution honoring the caller's PATH, then the conventional install
// directories. Failure is fatal for every operation that needs a config
// rendered, so the error says how to fix it.
func ResolveInterpreter() (string, error) {
	cfg, err := config.Load()
	if err != nil {
		return "", err
	}
	interp := cfg.GetInterpreter()

	if filepath.IsAbs(interp) {
		if _, err := os.Stat(interp); err == nil {
			return interp, nil
		}
		return "", fmt.Errorf("%w: configured path %q does not exist", ErrInterpreterNotFound, interp)
	}

	if p, err := exec.LookPath(interp); err == nil {
		if abs, absErr := filepath.Abs(p); absErr == nil {
			p = abs
		}
		if _, statErr := os.Stat(p); statErr == nil {
			return p, nil
		}
	}

	for _, dir := range conventionalInterpreterDirs {
		p := filepath.Join(dir, interp)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("%w: %q not found in PATH or conventional locations; install it or set interpreter in %s",
		ErrInterpreterNotFound, interp, config.UserConfigFileName)
}

// managedPath builds the PATH handed to managed processes: the interpreter's
// directory first (service managers do not inherit the user's shell PATH),
// then the standard system bin directories, de-duplicated in order.
func managedPath(interpPath string) string {
	dirs := append([]string{filepath.Dir(interpPath)}, systemBinDirs...)

	seen := make(map[string]bool, len(dirs))
	var out []string
	for _, d := range dirs {
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	return strings.Join(out, ":")
}

// managedEnv assembles the full environment map for a managed process:
// constructed PATH, HOME, the optional port variable, then caller variables.
// Caller variables never override PATH and HOME.
func managedEnv(spec Spec, interpPath, home string) map[string]string {
	env := make(map[string]string, len(spec.Env)+3)
	for k, v := range spec.Env {
		env[k] = v
	}
	if spec.Port > 0 {
		env["AGENT_PORT"] = fmt.Sprintf("%d", spec.Port)
	}
	env["PATH"] = managedPath(interpPath)
	env["HOME"] = home
	return env
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"
)

// UserConfigFileName is the TOML config file for user preferences
const UserConfigFileName = "config.toml"

// baseDirOverride allows tests to redirect the base directory.
var (
	baseDirOverride string
	cacheMu         sync.Mutex
	cached          *UserConfig
)

// UserConfig represents user-facing configuration in TOML format
type UserConfig struct {
	// Interpreter is the runtime used to execute agent scripts.
	// A bare name is resolved via PATH; an absolute path is used as-is.
	// Default: "node"
	Interpreter string `toml:"interpreter"`

	// Backend forces a specific service-manager backend: "launchd",
	// "systemd", or "pm2". Empty means auto-detect.
	Backend string `toml:"backend"`

	// Logs defines log file settings for agent-keeper itself
	Logs LogSettings `toml:"logs"`

	// Daemon defines backend command timing settings
	Daemon DaemonSettings `toml:"daemon"`
}

// LogSettings defines structured logging preferences
type LogSettings struct {
	// Dir overrides the default agent log directory (~/.agent-keeper/logs)
	Dir string `toml:"dir"`

	// Level is "debug", "info", "warn", or "error" (default: "info")
	Level string `toml:"level"`

	// Format is "json" (default) or "text"
	Format string `toml:"format"`
}

// DaemonSettings defines timing knobs for backend control commands
type DaemonSettings struct {
	// StartTimeoutSecs bounds the PID poll after start (default: 3)
	StartTimeoutSecs int `toml:"start_timeout_secs"`

	// CommandTimeoutSecs bounds each spawned control command (default: 30)
	CommandTimeoutSecs int `toml:"command_timeout_secs"`
}

// GetInterpreter returns the configured interpreter, defaulting to node
func (c *UserConfig) GetInterpreter() string {
	if c == nil || c.Interpreter == "" {
		return "node"
	}
	return c.Interpreter
}

// GetLevel returns the configured log level, defaulting to info
func (l LogSettings) GetLevel() string {
	if l.Level == "" {
		return "info"
	}
	return l.Level
}

// GetStartTimeoutSecs returns the PID poll timeout, defaulting to 3 seconds
func (d DaemonSettings) GetStartTimeoutSecs() int {
	if d.StartTimeoutSecs <= 0 {
		return 3
	}
	return d.StartTimeoutSecs
}

// GetCommandTimeoutSecs returns the per-command timeout, defaulting to 30 seconds
func (d DaemonSettings) GetCommandTimeoutSecs() int {
	if d.CommandTimeoutSecs <= 0 {
		return 30
	}
	return d.CommandTimeoutSecs
}

// BaseDir returns the agent-keeper home directory (~/.agent-keeper)
func BaseDir() (string, error) {
	if baseDirOverride != "" {
		return baseDirOverride, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".agent-keeper"), nil
}

// SetBaseDir overrides the base directory (tests only) and drops the cache.
func SetBaseDir(dir string) {
	cacheMu.Lock()
	defer cacheMu.Unlock()
	baseDirOverride = dir
	cached = nil
}

// LogDir returns the directory for managed-agent log files.
// A configured override wins; otherwise ~/.agent-keeper/logs.
func LogDir() (string, error) {
	cfg, err := Load()
	if err == nil && cfg.Logs.Dir != "" {
		return cfg.Logs.Dir, nil
	}
	base, err := BaseDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "logs"), nil
}

// Load reads and caches config.toml from the base directory.
// A missing file is not an error; defaults apply.
func Load() (*UserConfig, error) {
	cacheMu.Lock()
	defer cacheMu.Unlock()

	if cached != nil {
		return cached, nil
	}

	base, err := BaseDir()
	if err != nil {
		return nil, err
	}

	cfg := &UserConfig{}
	path := filepath.Join(base, UserConfigFileName)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cached = cfg
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	cached = cfg
	return cfg, nil
}

// Reload drops the cache so the next Load rereads config.toml.
func Reload() {
	cacheMu.Lock()
	defer cacheMu.Unlock()
	cached = nil
}

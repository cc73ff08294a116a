// Package daemon turns a generic agent start specification into whichever
// service-manager backend the host provides (launchd, systemd user units,
// or an isolated pm2 instance) and normalizes the three backends' status
// reporting into one model.
package daemon

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/twistedx/agent-keeper/internal/platform"
)

// Spec describes how to run one managed agent. It is supplied once at
// install time and immutable thereafter except via re-install; the
// rendered backend config is its only durable form.
type Spec struct {
	// Name is unique within the agent-keeper namespace
	Name string

	// Script is the agent entry point, run via the configured interpreter
	Script string

	// Port the agent listens on, if any (0 = none). Injected as AGENT_PORT.
	Port int

	// Env holds caller-supplied environment variables
	Env map[string]string

	// WorkDir is the working directory; defaults to the script's directory
	WorkDir string

	// Restart enables automatic restart on non-successful exit
	Restart bool

	// MaxRestarts bounds automatic restarts (backend-dependent accounting)
	MaxRestarts int

	// RestartDelay is the backoff between automatic restarts
	RestartDelay time.Duration

	// MemoryLimitMB restarts/kills the agent above this ceiling (0 = none)
	MemoryLimitMB int

	// LogDir overrides the default log directory
	LogDir string
}

// PIDUnknown marks a start that succeeded without the backend reporting a
// PID within the poll window. Not an error: the service may still be warming up.
const PIDUnknown = -1

// Handle is the transient result of a successful start. It is never
// persisted; if the process later dies the handle is stale and callers
// must re-query status.
type Handle struct {
	Name    string
	PID     int
	Port    int
	Backend platform.Backend
}

// State is the normalized agent state across all backends
type State string

const (
	StateOnline  State = "online"
	StateStopped State = "stopped"
	StateErrored State = "errored"
	StateUnknown State = "unknown"
)

// RestartsUnknown marks a backend that does not report restart counts
const RestartsUnknown = -1

// Status is a point-in-time snapshot computed fresh from the backend on
// every query; the backend is the sole source of truth and nothing here
// is cached.
type Status struct {
	Name     string
	State    State
	PID      int    // 0 when not running or not reported
	Memory   string // human-readable, "" when not reported
	Uptime   string // "" when not reported
	Restarts int    // RestartsUnknown when not reported
	Backend  platform.Backend
}

// MarshalJSON renders the snapshot for machine-readable output. The
// RestartsUnknown sentinel is internal; a backend that does not report
// restart counts omits the field rather than emitting -1.
func (s Status) MarshalJSON() ([]byte, error) {
	out := struct {
		Name     string           `json:"name"`
		State    State            `json:"state"`
		PID      int              `json:"pid,omitempty"`
		Memory   string           `json:"memory,omitempty"`
		Uptime   string           `json:"uptime,omitempty"`
		Restarts *int             `json:"restarts,omitempty"`
		Backend  platform.Backend `json:"backend"`
	}{
		Name:    s.Name,
		State:   s.State,
		PID:     s.PID,
		Memory:  s.Memory,
		Uptime:  s.Uptime,
		Backend: s.Backend,
	}
	if s.Restarts != RestartsUnknown {
		out.Restarts = &s.Restarts
	}
	return json.Marshal(out)
}

// LogChannel selects which output stream(s) a log request covers
type LogChannel string

const (
	ChannelStdout LogChannel = "stdout"
	ChannelStderr LogChannel = "stderr"
	ChannelBoth   LogChannel = "both"
)

// LogOptions parameterizes a log request
type LogOptions struct {
	// Lines is the number of trailing lines to emit (default 50)
	Lines int

	// Follow streams new output until the context is cancelled
	Follow bool

	// Channel filters stdout/stderr where the backend keeps them apart
	Channel LogChannel
}

// GetLines returns the line count with the default applied
func (o LogOptions) GetLines() int {
	if o.Lines <= 0 {
		return 50
	}
	return o.Lines
}

// GetChannel returns the channel filter with the default applied
func (o LogOptions) GetChannel() LogChannel {
	if o.Channel == "" {
		return ChannelBoth
	}
	return o.Channel
}

var (
	// ErrNotInstalled is returned by Start for a name whose backend config
	// does not exist. Installing is never implicit on start.
	ErrNotInstalled = errors.New("agent is not installed")

	// ErrInterpreterNotFound means the script interpreter could not be
	// located; nothing else can succeed without it.
	ErrInterpreterNotFound = errors.New("interpreter not found")
)

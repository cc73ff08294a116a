package daemon

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// probeTimeout bounds the liveness probe; status must stay fast even when
// the agent's port is registered but nothing answers.
const probeTimeout = 750 * time.Millisecond

// probeInfo is the subset of an agent's health response used for
// status enrichment. Unknown fields are ignored.
type probeInfo struct {
	Uptime string `json:"uptime"`
	Memory string `json:"memory"`
}

// probeHealth asks a local agent's health endpoint for uptime/memory.
// Any failure returns nil; a dead or non-HTTP agent is not an error here.
func probeHealth(port int) *probeInfo {
	client := http.Client{Timeout: probeTimeout}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/healthz", port))
	if err != nil {
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil
	}

	var info probeInfo
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&info); err != nil {
		return nil
	}
	return &info
}

package daemon

import (
	"path/filepath"

	"github.com/twistedx/agent-keeper/internal/config"
	"github.com/twistedx/agent-keeper/internal/portstore"
)

// StorePath returns the path of the side-metadata database
func StorePath() (string, error) {
	base, err := config.BaseDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "state.db"), nil
}

// storedMeta reads the side metadata for an agent; best-effort only.
// The store is auxiliary to the rendered config, so any failure here
// degrades to "no metadata" rather than an error.
func storedMeta(name string) (portstore.Meta, bool) {
	path, err := StorePath()
	if err != nil {
		return portstore.Meta{}, false
	}
	s, err := portstore.Open(path)
	if err != nil {
		return portstore.Meta{}, false
	}
	defer s.Close()

	meta, ok, err := s.Get(name)
	if err != nil || !ok {
		return portstore.Meta{}, false
	}
	return meta, true
}

// storedPort returns the registered port for an agent, 0 if none recorded
func storedPort(name string) int {
	meta, ok := storedMeta(name)
	if !ok {
		return 0
	}
	return meta.Port
}

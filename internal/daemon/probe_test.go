package daemon

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func probePortOf(t *testing.T, ts *httptest.Server) int {
	t.Helper()
	u, err := url.Parse(ts.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return port
}

func TestProbeHealth(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/healthz", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"uptime":"2h5m","memory":"84 MiB","extra":"ignored"}`))
	}))
	defer ts.Close()

	info := probeHealth(probePortOf(t, ts))
	require.NotNil(t, info)
	assert.Equal(t, "2h5m", info.Uptime)
	assert.Equal(t, "84 MiB", info.Memory)
}

func TestProbeHealthNon200(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	assert.Nil(t, probeHealth(probePortOf(t, ts)))
}

func TestProbeHealthBadJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer ts.Close()

	assert.Nil(t, probeHealth(probePortOf(t, ts)))
}

func TestProbeHealthNothingListening(t *testing.T) {
	// Grab a port that is then closed again
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	port := probePortOf(t, ts)
	ts.Close()

	assert.Nil(t, probeHealth(port))
}

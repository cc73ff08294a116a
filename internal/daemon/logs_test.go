package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadLastLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.log")
	require.NoError(t, os.WriteFile(path, []byte("one\ntwo\nthree\nfour\n"), 0o644))

	lines, err := readLastLines(path, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"three", "four"}, lines)

	lines, err = readLastLines(path, 10)
	require.NoError(t, err)
	assert.Len(t, lines, 4)
}

func TestReadLastLinesEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.log")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	lines, err := readLastLines(path, 5)
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestReadLastLinesMissingFile(t *testing.T) {
	_, err := readLastLines(filepath.Join(t.TempDir(), "nope.log"), 5)
	assert.True(t, os.IsNotExist(err))
}

func TestFormatUptime(t *testing.T) {
	tests := []struct {
		d        time.Duration
		expected string
	}{
		{30 * time.Second, "30s"},
		{90 * time.Second, "1m30s"},
		{2*time.Hour + 15*time.Minute, "2h15m"},
		{26 * time.Hour, "1d2h"},
		{-time.Second, "0s"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, formatUptime(tt.d))
	}
}

func TestLogOptionsDefaults(t *testing.T) {
	var opts LogOptions
	assert.Equal(t, 50, opts.GetLines())
	assert.Equal(t, ChannelBoth, opts.GetChannel())

	opts = LogOptions{Lines: 10, Channel: ChannelStderr}
	assert.Equal(t, 10, opts.GetLines())
	assert.Equal(t, ChannelStderr, opts.GetChannel())
}

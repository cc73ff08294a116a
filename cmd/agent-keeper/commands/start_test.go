package commands

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEnvFlags(t *testing.T) {
	env, err := parseEnvFlags([]string{"API_URL=https://api.example.com", "EMPTY=", "EQ=a=b"})
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com", env["API_URL"])
	assert.Equal(t, "", env["EMPTY"])
	assert.Equal(t, "a=b", env["EQ"])
}

func TestParseEnvFlagsRejectsMalformed(t *testing.T) {
	for _, bad := range []string{"NOVALUE", "=value"} {
		_, err := parseEnvFlags([]string{bad})
		assert.Error(t, err, "input %q", bad)
	}
}

func TestParseEnvFlagsEmpty(t *testing.T) {
	env, err := parseEnvFlags(nil)
	require.NoError(t, err)
	assert.Nil(t, env)
}

package logging_test

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caseline/internal/logging"
)

func TestNewWritesJSONAtLevel(t *testing.T) {
	var buf bytes.Buffer
	log := logging.New(&buf, "warn", false)
	log.Info().Msg("hidden")
	log.Warn().Str("kind", "blotter").Msg("stale transition")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "warn", line["level"])
	assert.Equal(t, "blotter", line["kind"])
	assert.Contains(t, line, "time")
}

func TestNewFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := logging.New(&buf, "loud", false)
	log.Debug().Msg("hidden")
	assert.Zero(t, buf.Len())
	log.Info().Msg("shown")
	assert.NotZero(t, buf.Len())
}

func TestOpenFileAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cl.log")
	log, f, err := logging.OpenFile(path, "info")
	require.NoError(t, err)
	log.Info().Msg("one")
	require.NoError(t, f.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"one"`)
}

package logging

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokikanri/tokikanri/internal/config"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel("warn"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("verbose"))
}

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New(config.LoggingConfig{Level: "info", Format: "json"}, &buf)
	logger.Info().Str("component", "tracker").Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "hello", entry["message"])
	assert.Equal(t, "tracker", entry["component"])
}

func TestNewText(t *testing.T) {
	var buf bytes.Buffer
	logger := New(config.LoggingConfig{Level: "info", Format: "text"}, &buf)
	logger.Info().Msg("plain")
	assert.True(t, strings.Contains(buf.String(), "plain"))
	assert.False(t, strings.HasPrefix(buf.String(), "{"))
}

func TestSetupFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "tokikanri.log")
	logger, closer, err := SetupFile(config.LoggingConfig{Level: "info", Format: "json"}, path)
	require.NoError(t, err)
	logger.Info().Msg("to file")
	require.NoError(t, closer.Close())
	assert.FileExists(t, path)
}

package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"":        zerolog.InfoLevel,
		"debug":   zerolog.DebugLevel,
		"INFO":    zerolog.InfoLevel,
		" warn ":  zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
	}
	for raw, want := range cases {
		got, err := ParseLevel(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestNewJSONRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, closer, err := New(Options{Level: "warn", Format: FormatJSON, Writer: &buf, Component: "test"})
	require.NoError(t, err)
	defer closer.Close()

	logger.Info().Msg("hidden")
	logger.Warn().Str("key", "sleep/2024-05-01/hoursSlept").Msg("shown")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)
	var event map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &event))
	assert.Equal(t, "warn", event["level"])
	assert.Equal(t, "shown", event["message"])
	assert.Equal(t, "test", event["component"])
	assert.Contains(t, event, "time")
}

func TestNewConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := New(Options{Writer: &buf})
	require.NoError(t, err)

	logger.Info().Msg("engine ready")
	out := buf.String()
	assert.Contains(t, out, "engine ready")
	assert.Contains(t, out, "INF")
}

func TestNewWritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "diarysync.log")
	logger, closer, err := New(Options{File: path, Level: "debug"})
	require.NoError(t, err)

	logger.Debug().Msg("to file")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"to file"`)
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	_, _, err := New(Options{Format: "xml", Writer: &bytes.Buffer{}})
	assert.Error(t, err)
}

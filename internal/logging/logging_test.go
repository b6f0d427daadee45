package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWriterTagsService(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, "birdseed", "info")
	l.Info().Str("op", "timeline").Msg("run_done")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "birdseed", entry["service"])
	assert.Equal(t, "run_done", entry["message"])
	assert.Equal(t, "timeline", entry["op"])
	assert.Contains(t, entry, "time")
}

func TestNewWriterRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, "birdseed", "warn")
	l.Info().Msg("hidden")
	l.Warn().Msg("shown")
	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
}

func TestPackageHelpersUseDefault(t *testing.T) {
	var buf bytes.Buffer
	prev := Default()
	SetDefault(NewWriter(&buf, "birdseed", "debug"))
	defer SetDefault(prev)

	Info("ingest_once", map[string]any{"set": "test"})
	Error("ingest_once_error", map[string]any{"error": "boom"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"set":"test"`)
	assert.Contains(t, lines[1], `"level":"error"`)
}

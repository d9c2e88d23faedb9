// Package logging tests for structured logging.
package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry), "line: %s", line)
		out = append(out, entry)
	}
	return out
}

func TestLoggerWritesStructuredJSON(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelInfo, FormatJSON)

	l.Info("sync started", map[string]interface{}{"connection_id": "c-1", "local_type": "subcontractor"})
	require.NoError(t, l.Sync())

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "INFO", entries[0]["level"])
	assert.Equal(t, "sync started", entries[0]["message"])
	assert.Equal(t, "c-1", entries[0]["connection_id"])
	assert.Equal(t, "subcontractor", entries[0]["local_type"])
	assert.NotEmpty(t, entries[0]["timestamp"])
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelWarn, FormatJSON)

	l.Debug("hidden")
	l.Info("hidden")
	l.Warn("shown")
	l.Error("also shown", errors.New("boom"))

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "WARN", entries[0]["level"])
	assert.Equal(t, "ERROR", entries[1]["level"])
	assert.Equal(t, "boom", entries[1]["error"])
}

func TestLoggerMergesContexts(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelDebug, FormatJSON)

	l.Debug("merged", map[string]interface{}{"a": 1}, map[string]interface{}{"b": "two", "a": 3})

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.EqualValues(t, 3, entries[0]["a"])
	assert.Equal(t, "two", entries[0]["b"])
}

func TestNamedLoggerCarriesComponent(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelInfo, FormatJSON).Named("token-manager")

	l.Info("refreshed")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "token-manager", entries[0]["component"])
}

func TestInitIdempotent(t *testing.T) {
	global = nil
	once = sync.Once{}

	var buf1, buf2 bytes.Buffer
	Init(&buf1, LevelInfo)
	first := Get()
	Init(&buf2, LevelDebug)

	assert.Same(t, first, Get())
	Info("to first")
	assert.Contains(t, buf1.String(), "to first")
	assert.Empty(t, buf2.String())
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, LevelError, ParseLevel("error"))
	assert.Equal(t, LevelInfo, ParseLevel("verbose"))
}

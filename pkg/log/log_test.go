package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	for _, level := range []LogLevel{LogLevelError, LogLevelWarn, LogLevelInfo, LogLevelDebug, LogLevelTrace} {
		parsed, err := ParseLogLevel(level.String())
		require.NoError(t, err)
		assert.Equal(t, level, parsed)
	}

	_, err := ParseLogLevel("verbose")
	assert.Error(t, err)
}

func TestLoggerFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "", 0, LogLevelWarn)

	logger.Debug("dropped %d", 1)
	logger.Info("dropped %d", 2)
	logger.Warn("kept %d", 3)
	logger.Error("kept %d", 4)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "kept 3", entry["msg"])
}

func TestLoggerWithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "", 0, LogLevelDebug).With(map[string]interface{}{"component": "ledger"})

	logger.Debug("shard %d started", 7)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "ledger", entry["component"])
	assert.Equal(t, "shard 7 started", entry["msg"])
}

func TestDefaultLoggerWith(t *testing.T) {
	prev := getDefaultLogger()
	t.Cleanup(func() { SetDefaultLogger(prev) })

	var buf bytes.Buffer
	SetDefaultLogger(New(&buf, "", 0, LogLevelInfo))
	With(map[string]interface{}{"shard": 3}).Error("failed to apply %s", "increment")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, 3.0, entry["shard"])
	assert.Equal(t, "error", entry["level"])
}

package logging

import (
	"bufio"
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m4xw311/tadpole/config"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

func TestColorHandlerFormatsRecords(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewColorHandler(&buf, slog.LevelInfo)).With("component", "jsonrpc")

	logger.Debug("hidden")
	logger.WithGroup("call").Warn("dropping response", "id", 4)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "WRN dropping response")
	assert.Contains(t, out, " component=jsonrpc")
	assert.Contains(t, out, " call.id=4")
}

func TestNewWritesTraceFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "acp.trace")
	var console bytes.Buffer
	logger, closer, err := NewWithWriter(&console, config.LogConfig{
		Level:     "info",
		Format:    "text",
		Trace:     true,
		TraceFile: path,
	})
	require.NoError(t, err)

	logger.Debug("send", "line", `{"jsonrpc":"2.0"}`)
	logger.Info("session started", "session", "s-1")
	require.NoError(t, closer.Close())

	// Debug records reach the trace but not the info-level console.
	assert.NotContains(t, console.String(), "send")
	assert.Contains(t, console.String(), "session started")

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var msgs []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		msgs = append(msgs, rec["msg"].(string))
	}
	assert.Equal(t, []string{"send", "session started"}, msgs)
}

func TestNewJSONConsole(t *testing.T) {
	var console bytes.Buffer
	logger, _, err := NewWithWriter(&console, config.LogConfig{Level: "debug", Format: "json"})
	require.NoError(t, err)

	logger.Debug("recv")
	var rec map[string]any
	require.NoError(t, json.Unmarshal(console.Bytes(), &rec))
	assert.Equal(t, "recv", rec["msg"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warn"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("whatever"))
}

package logging

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel("warning"))
	assert.Equal(t, LevelError, ParseLevel("ERROR"))
	assert.Equal(t, LevelInfo, ParseLevel("info"))
	assert.Equal(t, LevelInfo, ParseLevel("verbose"))
}

func TestLogLevelString(t *testing.T) {
	assert.Equal(t, "DEBUG", LevelDebug.String())
	assert.Equal(t, "ERROR", LevelError.String())
	assert.Equal(t, "UNKNOWN", LogLevel(42).String())
}

func TestInitForCLI(t *testing.T) {
	var buf bytes.Buffer
	InitForCLI(LevelInfo, &buf)

	Debug("Test", "hidden %d", 1)
	Info("Test", "service %s started", "api")
	Error("Test", errors.New("boom"), "start failed")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "service api started")
	assert.Contains(t, out, "subsystem=Test")
	assert.Contains(t, out, "error=boom")
}

func TestInitForTUI(t *testing.T) {
	ch := InitForTUI(LevelWarn)
	defer InitForCLI(LevelInfo, &bytes.Buffer{})
	require.NotNil(t, ch)

	Info("Orchestrator", "filtered")
	Warn("Orchestrator", "port %d busy", 8080)

	entry := <-ch
	assert.Equal(t, LevelWarn, entry.Level)
	assert.Equal(t, "Orchestrator", entry.Subsystem)
	assert.Equal(t, "port 8080 busy", entry.Message)

	CloseTUIChannel()
	_, open := <-ch
	assert.False(t, open)
}

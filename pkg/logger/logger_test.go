package logger

import (
	"bytes"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferLogger(level string) (*LogrusLogger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return &LogrusLogger{entry: logrus.NewEntry(newBackend(level, buf))}, buf
}

func TestLogLevels(t *testing.T) {
	log, buf := newBufferLogger("debug")

	log.Debug("debug message")
	log.Info("info message")
	log.Warn("warn message")
	log.Error("error message", fmt.Errorf("boom"))

	out := buf.String()
	assert.Contains(t, out, "debug message")
	assert.Contains(t, out, "info message")
	assert.Contains(t, out, "warn message")
	assert.Contains(t, out, "error message")
	assert.Contains(t, out, "boom")
}

func TestLevelFiltering(t *testing.T) {
	log, buf := newBufferLogger("warn")

	log.Debug("hidden debug")
	log.Info("hidden info")
	log.Warn("visible warn")

	out := buf.String()
	assert.NotContains(t, out, "hidden debug")
	assert.NotContains(t, out, "hidden info")
	assert.Contains(t, out, "visible warn")
}

func TestUnknownLevelDefaultsToInfo(t *testing.T) {
	log, buf := newBufferLogger("not-a-level")

	log.Debug("hidden debug")
	log.Info("visible info")

	out := buf.String()
	assert.NotContains(t, out, "hidden debug")
	assert.Contains(t, out, "visible info")
}

func TestFields(t *testing.T) {
	log, buf := newBufferLogger("debug")

	log.Info("with fields", map[string]interface{}{"candidate_id": "c1", "nodes": 3})

	out := buf.String()
	assert.Contains(t, out, "candidate_id=c1")
	assert.Contains(t, out, "nodes=3")
}

func TestWithFields(t *testing.T) {
	log, buf := newBufferLogger("debug")

	scoped := log.WithFields(map[string]interface{}{"component": "cache"})
	scoped.Info("scoped message")
	log.Info("unscoped message")

	out := buf.String()
	assert.Contains(t, out, "component=cache")
	// The parent logger is untouched
	lines := bytes.Split(buf.Bytes(), []byte("\n"))
	require.GreaterOrEqual(t, len(lines), 2)
	assert.NotContains(t, string(lines[1]), "component=cache")
}

func TestNewFileLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memu.log")

	log, err := NewFileLogger("info", path)
	require.NoError(t, err)
	log.Info("persisted message")

	assert.FileExists(t, path)
}

func TestNewFileLoggerBadPath(t *testing.T) {
	_, err := NewFileLogger("info", "/nonexistent-dir/memu.log")
	assert.Error(t, err)
}

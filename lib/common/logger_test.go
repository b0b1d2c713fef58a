package common

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	cases := map[string]logger.LogLevel{
		"debug":   logger.DEBUG,
		"INFO":    logger.INFO,
		"warn":    logger.WARNING,
		"warning": logger.WARNING,
		"error":   logger.ERROR,
	}
	for in, want := range cases {
		got, err := ParseLogLevel(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
	_, err := ParseLogLevel("loud")
	require.Error(t, err)
}

func TestJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger("memstore", &buf, "json")

	l.Debugf("hidden %d", 1)
	require.Zero(t, buf.Len(), "debug is below the default level")

	l.Infof("commit %d applied", 7)
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "info", line["level"])
	require.Equal(t, "memstore", line["pkg"])
	require.Equal(t, "commit 7 applied", line["message"])

	buf.Reset()
	l.SetLevel(logger.ERROR)
	l.Warningf("dropped")
	require.Zero(t, buf.Len())
	l.Errorf("kept")
	require.Contains(t, buf.String(), "kept")
}

func TestConsoleLogger(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger("scalable", &buf, "console")
	l.Warningf("leaf %d is full", 3)
	out := buf.String()
	require.Contains(t, out, "WARN")
	require.Contains(t, out, "leaf 3 is full")
}

func TestPanicf(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger("cmd", &buf, "json")
	require.PanicsWithValue(t, "broken invariant 5", func() {
		l.Panicf("broken invariant %d", 5)
	})
	require.True(t, strings.Contains(buf.String(), "panic"))
}

func TestConfigString(t *testing.T) {
	cfg := DefaultConfig()
	out := cfg.String()
	require.Contains(t, out, "COLLECTIONS")
	require.Contains(t, out, "(split / 3)")

	cfg.TaskInterval = 0
	require.Contains(t, cfg.String(), "manual")
}

package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewLoggerDefaultConfig(t *testing.T) {
	logger := NewLogger(nil)
	require.NotNil(t, logger)
	require.Equal(t, LevelInfo, logger.level)
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelWarn, Output: &buf})

	logger.Debug("should not appear")
	logger.Info("also should not appear")
	logger.Warn("this one shows", "key", "value")

	out := buf.String()
	require.NotContains(t, out, "should not appear")
	require.Contains(t, out, "this one shows")
	require.Contains(t, out, "key=value")
}

func TestDefaultLoggerIsSingleton(t *testing.T) {
	a := Default()
	b := Default()
	require.Same(t, a, b)
}

func TestSetDefault(t *testing.T) {
	var buf bytes.Buffer
	custom := NewLogger(&Config{Level: LevelDebug, Output: &buf})
	SetDefault(custom)
	defer SetDefault(NewLogger(nil))

	Info("hello")
	require.True(t, strings.Contains(buf.String(), "hello"))
}

func TestFormatArgsPairsUp(t *testing.T) {
	require.Equal(t, "", formatArgs(nil))
	require.Equal(t, " a=1", formatArgs([]any{"a", 1}))
	require.Equal(t, " a=1 b=2", formatArgs([]any{"a", 1, "b", 2}))
}

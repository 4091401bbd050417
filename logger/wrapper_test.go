//go:build unit

package logger_test

import (
	"testing"

	"github.com/hugolhafner/extoffset/logger"
	"github.com/stretchr/testify/require"
)

type captured struct {
	level logger.LogLevel
	msg   string
	kv    []any
}

type captureBase struct {
	min     logger.LogLevel
	entries []captured
}

func (c *captureBase) Level() logger.LogLevel {
	return c.min
}

func (c *captureBase) Log(level logger.LogLevel, msg string, kv ...any) {
	c.entries = append(c.entries, captured{level: level, msg: msg, kv: kv})
}

func TestLevelWrapper_FiltersBelowLevel(t *testing.T) {
	base := &captureBase{min: logger.WarnLevel}
	l := logger.WrapLogger(base)

	l.Debug("debug")
	l.Info("info")
	l.Warn("warn")
	l.Error("error")

	require.Len(t, base.entries, 2)
	require.Equal(t, "warn", base.entries[0].msg)
	require.Equal(t, "error", base.entries[1].msg)
}

func TestLevelWrapper_WithPrependsFields(t *testing.T) {
	base := &captureBase{min: logger.DebugLevel}
	l := logger.WrapLogger(base).With("component", "loop").With("loop", 1)

	l.Info("polled", "records", 3)

	require.Len(t, base.entries, 1)
	require.Equal(t, []any{"component", "loop", "loop", 1, "records", 3}, base.entries[0].kv)
}

func TestLevelWrapper_WithDoesNotLeakIntoParent(t *testing.T) {
	base := &captureBase{min: logger.DebugLevel}
	parent := logger.WrapLogger(base)
	_ = parent.With("child", true)

	parent.Info("parent")

	require.Len(t, base.entries, 1)
	require.Empty(t, base.entries[0].kv)
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, logger.DebugLevel, logger.ParseLevel("debug"))
	require.Equal(t, logger.WarnLevel, logger.ParseLevel("warning"))
	require.Equal(t, logger.ErrorLevel, logger.ParseLevel("error"))
	require.Equal(t, logger.InfoLevel, logger.ParseLevel("bogus"))
	require.Equal(t, "warn", logger.WarnLevel.String())
}

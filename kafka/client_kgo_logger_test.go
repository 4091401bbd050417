//go:build unit

package kafka

import (
	"testing"

	"github.com/hugolhafner/extoffset/logger"
	mocklogger "github.com/hugolhafner/extoffset/logger/mock"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
)

func TestKgoLogger_ForwardsWithComponent(t *testing.T) {
	l := mocklogger.New()
	kl := newKgoLogger(l)

	require.Equal(t, kgo.LogLevelDebug, kl.Level())

	kl.Log(kgo.LogLevelWarn, "heartbeat errored", "group", "g1")
	kl.Log(kgo.LogLevelNone, "dropped")

	entries := l.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, logger.WarnLevel, entries[0].Level)
	require.Equal(t, "heartbeat errored", entries[0].Message)
	require.Equal(t, []any{"component", "kgo", "group", "g1"}, entries[0].KV)
}

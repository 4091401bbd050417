package mockkafka

import (
	"testing"

	"github.com/hugolhafner/extoffset/kafka"
	"github.com/stretchr/testify/require"
)

// AssertSubscribed verifies that the client is subscribed to the given topics.
func (c *Client) AssertSubscribed(tb testing.TB, topics ...string) {
	tb.Helper()

	subMap := make(map[string]bool)
	for _, s := range c.Subscriptions() {
		subMap[s] = true
	}

	for _, topic := range topics {
		if !subMap[topic] {
			tb.Errorf("expected client to be subscribed to topic %q, but it is not", topic)
		}
	}
}

// AssertAssigned verifies that the given partitions are currently assigned.
func (c *Client) AssertAssigned(tb testing.TB, partitions ...kafka.TopicPartition) {
	tb.Helper()

	assignedMap := make(map[kafka.TopicPartition]bool)
	for _, p := range c.Assignment() {
		assignedMap[p] = true
	}

	for _, p := range partitions {
		if !assignedMap[p] {
			tb.Errorf("expected partition %s to be assigned, but it is not", p)
		}
	}
}

func (c *Client) AssertPaused(tb testing.TB, partitions ...kafka.TopicPartition) {
	tb.Helper()

	paused := c.PausedPartitions()
	for _, p := range partitions {
		require.Contains(tb, paused, p, "expected partition %s to be paused", p)
	}
}

func (c *Client) AssertNoPausedPartitions(tb testing.TB) {
	tb.Helper()

	require.Empty(tb, c.PausedPartitions(), "expected no paused partitions")
}

func (c *Client) AssertClosed(tb testing.TB) {
	tb.Helper()

	require.True(tb, c.IsClosed(), "expected client to be closed")
}

func (c *Client) AssertNotClosed(tb testing.TB) {
	tb.Helper()

	require.False(tb, c.IsClosed(), "expected client to not be closed, but it is")
}

// AssertDrained verifies that every queued record of tp has been polled.
func (c *Client) AssertDrained(tb testing.TB, tp kafka.TopicPartition) {
	tb.Helper()

	require.Zero(tb, c.Remaining(tp), "expected partition %s to be fully polled", tp)
}

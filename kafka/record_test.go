//go:build unit

package kafka_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/hugolhafner/extoffset/kafka"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kerr"
)

func rec(topic string, partition int32, offset int64) kafka.ConsumerRecord {
	return kafka.ConsumerRecord{Topic: topic, Partition: partition, Offset: offset}
}

func TestLastPerPartition(t *testing.T) {
	records := []kafka.ConsumerRecord{
		rec("a", 0, 10), rec("a", 1, 3), rec("a", 0, 11), rec("a", 0, 12), rec("b", 0, 1),
	}

	last, counts := kafka.LastPerPartition(records, nil)
	require.Len(t, last, 3)
	require.Equal(t, int64(12), last[kafka.TopicPartition{Topic: "a", Partition: 0}].Offset)
	require.Equal(t, int64(3), counts[kafka.TopicPartition{Topic: "a", Partition: 0}])
}

func TestLastPerPartition_Filter(t *testing.T) {
	records := []kafka.ConsumerRecord{rec("a", 0, 10), rec("a", 1, 3)}

	last, _ := kafka.LastPerPartition(records, []kafka.TopicPartition{{Topic: "a", Partition: 1}})
	require.Len(t, last, 1)
	_, ok := last[kafka.TopicPartition{Topic: "a", Partition: 1}]
	require.True(t, ok)
}

func TestSortTopicPartitions(t *testing.T) {
	tps := []kafka.TopicPartition{{"b", 0}, {"a", 2}, {"a", 1}}
	kafka.SortTopicPartitions(tps)
	require.Equal(t, []kafka.TopicPartition{{"a", 1}, {"a", 2}, {"b", 0}}, tps)
	require.Equal(t, "a-1", tps[0].String())
}

func TestErrorClassification(t *testing.T) {
	require.True(t, kafka.IsWakeup(fmt.Errorf("poll: %w", kafka.ErrWakeup)))
	require.True(t, kafka.IsWakeup(context.Canceled))
	require.False(t, kafka.IsWakeup(errors.New("other")))

	require.False(t, kafka.IsRetriable(fmt.Errorf("x: %w", kafka.ErrOffsetOutOfRange)))
	require.False(t, kafka.IsRetriable(kafka.ErrClosed))
	require.True(t, kafka.IsRetriable(context.DeadlineExceeded))
	require.True(t, kafka.IsRetriable(kerr.NotLeaderForPartition))
	require.False(t, kafka.IsRetriable(errors.New("fatal")))
}

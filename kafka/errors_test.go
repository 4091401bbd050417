//go:build unit

package kafka_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/hugolhafner/extoffset/kafka"
	"github.com/stretchr/testify/require"
)

func TestOffsetOutOfRangeError(t *testing.T) {
	partitions := []kafka.TopicPartition{{Topic: "orders", Partition: 0}, {Topic: "orders", Partition: 3}}
	err := fmt.Errorf("poll: %w", &kafka.OffsetOutOfRangeError{Partitions: partitions})

	require.ErrorIs(t, err, kafka.ErrOffsetOutOfRange)
	require.False(t, kafka.IsRetriable(err))
	require.Equal(t, partitions, kafka.OutOfRangePartitions(err))
	require.Contains(t, err.Error(), "orders-3")

	require.Nil(t, kafka.OutOfRangePartitions(kafka.ErrOffsetOutOfRange))
	require.Nil(t, kafka.OutOfRangePartitions(errors.New("other")))
}

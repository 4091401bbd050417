package kafka

import (
	"context"
)

type Client interface {
	Consumer

	Ping(ctx context.Context) error
}

// Consumer is the pull-based client a consume loop drives. Offsets are never
// committed through it; progress lives in the external offset store.
//
// Poll may return records together with an error that concerns other
// partitions; those records are valid and must be handled.
type Consumer interface {
	Subscribe(topics []string, rebalanceCb RebalanceCallback) error
	Poll(ctx context.Context) ([]ConsumerRecord, error)
	Assignment() []TopicPartition
	PausePartitions(partitions ...TopicPartition)
	ResumePartitions(partitions ...TopicPartition)
	// Position returns the next offset the client will read for tp.
	Position(tp TopicPartition) (int64, error)
	Close()
}

type RebalanceCallback interface {
	OnAssigned(ctx context.Context, partitions []TopicPartition)
	OnRevoked(ctx context.Context, partitions []TopicPartition)
}

// OffsetLoader returns the stored next offset for a partition. Zero means
// nothing has been stored and the client's reset policy applies.
type OffsetLoader func(ctx context.Context, tp TopicPartition) (int64, error)

// OffsetResetter is implemented by clients that can move the read position of
// out-of-range partitions back inside the log.
type OffsetResetter interface {
	ResetOffsets(ctx context.Context, partitions []TopicPartition) (map[TopicPartition]int64, error)
}

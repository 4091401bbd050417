package offset

import (
	"time"

	"github.com/hugolhafner/extoffset/kafka"
)

// Identity is the durable key of an offset record.
type Identity struct {
	Cluster   string
	Topic     string
	Partition int32
	Group     string
}

func (id Identity) TopicPartition() kafka.TopicPartition {
	return kafka.TopicPartition{Topic: id.Topic, Partition: id.Partition}
}

// Record is the externally persisted progress of one partition for one consumer group.
// Offset is the next offset to consume. LastFlushOffset is the value written by the
// last successful store write and never exceeds Offset.
type Record struct {
	Cluster   string
	Topic     string
	Partition int32
	Group     string

	Offset          int64
	LastFlushOffset int64
	Owner           string
	Count           int64

	CreateTime time.Time
	UpdateTime time.Time

	// dirty forces the next flush to write even when the lag is zero.
	dirty bool
}

func (r Record) Identity() Identity {
	return Identity{
		Cluster:   r.Cluster,
		Topic:     r.Topic,
		Partition: r.Partition,
		Group:     r.Group,
	}
}

func (r Record) TopicPartition() kafka.TopicPartition {
	return kafka.TopicPartition{Topic: r.Topic, Partition: r.Partition}
}

// Lag is the locally advanced progress not yet written to the store.
func (r Record) Lag() int64 {
	return r.Offset - r.LastFlushOffset
}

// NeedsFlush reports whether a flush of r would write to the store.
func (r Record) NeedsFlush() bool {
	return r.Lag() != 0 || r.dirty
}

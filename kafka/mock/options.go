package mockkafka

import (
	"time"

	"github.com/hugolhafner/extoffset/kafka"
)

type Option func(*Client)

// WithMaxPollRecords caps the records one Poll returns. Default is 10.
func WithMaxPollRecords(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxPollRecords = n
		}
	}
}

// WithPollDelay slows every Poll down by d.
func WithPollDelay(d time.Duration) Option {
	return func(c *Client) {
		c.pollDelay = d
	}
}

// WithIdleDelay sets how long a Poll that finds nothing blocks. Default is 5ms.
func WithIdleDelay(d time.Duration) Option {
	return func(c *Client) {
		c.idleDelay = d
	}
}

func WithPollError(err error) Option {
	return func(c *Client) {
		c.pollErr = func() error { return err }
	}
}

// WithPartitions registers empty partitions 0..n-1 of topic so a subscription
// is assigned them before any record is added.
func WithPartitions(topic string, n int32) Option {
	return func(c *Client) {
		for p := int32(0); p < n; p++ {
			tp := kafka.TopicPartition{Topic: topic, Partition: p}
			if _, ok := c.recordQueues[tp]; !ok {
				c.recordQueues[tp] = nil
			}
		}
	}
}

// WithOffsetLoader seeks partitions to their stored offset when they are assigned.
func WithOffsetLoader(loader kafka.OffsetLoader) Option {
	return func(c *Client) {
		c.offsetLoader = loader
	}
}

// WithResetFunc decides where ResetOffsets seeks each partition.
func WithResetFunc(fn func(tp kafka.TopicPartition) int64) Option {
	return func(c *Client) {
		c.resetFunc = fn
	}
}

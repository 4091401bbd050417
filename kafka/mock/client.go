package mockkafka

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hugolhafner/extoffset/kafka"
)

var _ kafka.Client = (*Client)(nil)
var _ kafka.OffsetResetter = (*Client)(nil)

type Client struct {
	mu sync.RWMutex

	recordQueues   map[kafka.TopicPartition][]kafka.ConsumerRecord
	queuePositions map[kafka.TopicPartition]int
	positions      map[kafka.TopicPartition]int64
	paused         map[kafka.TopicPartition]struct{}

	subscriptions      []string
	rebalanceCb        kafka.RebalanceCallback
	assignedPartitions []kafka.TopicPartition
	offsetLoader       kafka.OffsetLoader

	maxPollRecords int
	pollDelay      time.Duration
	idleDelay      time.Duration
	pollCount      int

	pollErr   func() error
	pingErr   error
	resetErr  error
	resetFunc func(tp kafka.TopicPartition) int64

	closed     bool
	subscribed bool
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		recordQueues:   make(map[kafka.TopicPartition][]kafka.ConsumerRecord),
		queuePositions: make(map[kafka.TopicPartition]int),
		positions:      make(map[kafka.TopicPartition]int64),
		paused:         make(map[kafka.TopicPartition]struct{}),
		maxPollRecords: 10,
		idleDelay:      5 * time.Millisecond,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Subscribe registers the client to consume from the specified topics.
// Every partition added for a subscribed topic is assigned immediately.
func (c *Client) Subscribe(topics []string, rebalanceCb kafka.RebalanceCallback) error {
	c.mu.Lock()

	if c.subscribed {
		c.mu.Unlock()
		return nil
	}

	c.subscriptions = topics
	c.rebalanceCb = rebalanceCb
	c.subscribed = true

	var partitions []kafka.TopicPartition
	for tp := range c.recordQueues {
		for _, topic := range topics {
			if tp.Topic == topic {
				partitions = append(partitions, tp)
				break
			}
		}
	}
	kafka.SortTopicPartitions(partitions)
	c.mu.Unlock()

	if len(partitions) == 0 {
		return nil
	}

	return c.assign(partitions)
}

func (c *Client) assign(partitions []kafka.TopicPartition) error {
	c.mu.RLock()
	loader := c.offsetLoader
	c.mu.RUnlock()

	seeks := make(map[kafka.TopicPartition]int64)
	if loader != nil {
		for _, tp := range partitions {
			stored, err := loader(context.Background(), tp)
			if err != nil {
				return fmt.Errorf("load stored offset for %s: %w", tp, err)
			}
			if stored > 0 {
				seeks[tp] = stored
			}
		}
	}

	c.mu.Lock()
	c.assignedPartitions = append(c.assignedPartitions, partitions...)
	for tp, offset := range seeks {
		c.seekLocked(tp, offset)
	}
	cb := c.rebalanceCb
	c.mu.Unlock()

	if cb != nil {
		cb.OnAssigned(context.Background(), partitions)
	}

	return nil
}

func (c *Client) seekLocked(tp kafka.TopicPartition, offset int64) {
	queue := c.recordQueues[tp]
	idx := len(queue)
	for i, r := range queue {
		if r.Offset >= offset {
			idx = i
			break
		}
	}
	c.queuePositions[tp] = idx
	c.positions[tp] = offset
}

// Poll returns up to maxPollRecords records round-robin across assigned,
// unpaused partitions.
func (c *Client) Poll(ctx context.Context) ([]kafka.ConsumerRecord, error) {
	c.mu.Lock()
	c.pollCount++
	closed := c.closed
	delay := c.pollDelay
	pollErr := c.pollErr
	c.mu.Unlock()

	if closed {
		return nil, kafka.ErrClosed
	}

	if err := c.wait(ctx, delay); err != nil {
		return nil, err
	}

	if pollErr != nil {
		if err := pollErr(); err != nil {
			return nil, err
		}
	}

	c.mu.Lock()
	records := c.takeLocked()
	idle := c.idleDelay
	c.mu.Unlock()

	if len(records) == 0 {
		if err := c.wait(ctx, idle); err != nil {
			return nil, err
		}
	}

	return records, nil
}

func (c *Client) wait(ctx context.Context, d time.Duration) error {
	if ctx.Err() != nil {
		return fmt.Errorf("poll: %w: %w", kafka.ErrWakeup, ctx.Err())
	}

	if d <= 0 {
		return nil
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("poll: %w: %w", kafka.ErrWakeup, ctx.Err())
	case <-time.After(d):
		return nil
	}
}

func (c *Client) takeLocked() []kafka.ConsumerRecord {
	var records []kafka.ConsumerRecord
	recordCount := 0

	for recordCount < c.maxPollRecords {
		progressMade := false

		for _, tp := range c.assignedPartitions {
			if _, paused := c.paused[tp]; paused {
				continue
			}

			queue, exists := c.recordQueues[tp]
			if !exists {
				continue
			}

			pos := c.queuePositions[tp]
			if pos >= len(queue) {
				continue
			}

			records = append(records, queue[pos])
			c.queuePositions[tp]++
			c.positions[tp] = queue[pos].Offset + 1
			recordCount++
			progressMade = true

			if recordCount >= c.maxPollRecords {
				break
			}
		}

		if !progressMade {
			break
		}
	}

	return records
}

func (c *Client) Assignment() []kafka.TopicPartition {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]kafka.TopicPartition, len(c.assignedPartitions))
	copy(result, c.assignedPartitions)
	kafka.SortTopicPartitions(result)
	return result
}

func (c *Client) PausePartitions(partitions ...kafka.TopicPartition) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, tp := range partitions {
		c.paused[tp] = struct{}{}
	}
}

func (c *Client) ResumePartitions(partitions ...kafka.TopicPartition) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, tp := range partitions {
		delete(c.paused, tp)
	}
}

// Position returns the offset after the last polled record, the seek target,
// or an override installed with SetPosition.
func (c *Client) Position(tp kafka.TopicPartition) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return 0, kafka.ErrClosed
	}

	pos, ok := c.positions[tp]
	if !ok {
		return 0, fmt.Errorf("%s: %w", tp, kafka.ErrNoPosition)
	}

	return pos, nil
}

// ResetOffsets seeks the partitions to their first queued record, or to the
// value returned by the function installed with SetResetFunc.
func (c *Client) ResetOffsets(ctx context.Context, partitions []kafka.TopicPartition) (map[kafka.TopicPartition]int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.resetErr != nil {
		return nil, c.resetErr
	}

	reset := make(map[kafka.TopicPartition]int64, len(partitions))
	for _, tp := range partitions {
		var offset int64
		switch {
		case c.resetFunc != nil:
			offset = c.resetFunc(tp)
		case len(c.recordQueues[tp]) > 0:
			offset = c.recordQueues[tp][0].Offset
		}

		c.seekLocked(tp, offset)
		reset[tp] = offset
	}

	return reset, nil
}

// Ping returns the error configured with SetPingError.
func (c *Client) Ping(ctx context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.pingErr
}

// Close marks the client as closed.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
}

// AddRecords adds records to be returned by Poll for a specific topic-partition.
// Calling it without records registers an empty partition.
func (c *Client) AddRecords(topic string, partition int32, records ...kafka.ConsumerRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tp := kafka.TopicPartition{Topic: topic, Partition: partition}

	existing := c.recordQueues[tp]
	next := int64(0)
	if len(existing) > 0 {
		next = existing[len(existing)-1].Offset + 1
	}

	for i := range records {
		records[i].Topic = topic
		records[i].Partition = partition
		if records[i].Offset == 0 {
			records[i].Offset = next
		}
		next = records[i].Offset + 1
	}

	c.recordQueues[tp] = append(existing, records...)
}

// SetPosition overrides the position reported for tp.
func (c *Client) SetPosition(tp kafka.TopicPartition, offset int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.positions[tp] = offset
}

func (c *Client) SetPollError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err == nil {
		c.pollErr = nil
	} else {
		c.pollErr = func() error { return err }
	}
}

func (c *Client) SetPollErrorFunc(fn func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pollErr = fn
}

func (c *Client) SetPingError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pingErr = err
}

func (c *Client) SetResetError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.resetErr = err
}

func (c *Client) SetResetFunc(fn func(tp kafka.TopicPartition) int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.resetFunc = fn
}

// TriggerAssign simulates a partition assignment event.
func (c *Client) TriggerAssign(partitions []kafka.TopicPartition) error {
	return c.assign(partitions)
}

// TriggerRevoke simulates a partition revocation event.
func (c *Client) TriggerRevoke(partitions []kafka.TopicPartition) {
	c.mu.Lock()
	cb := c.rebalanceCb

	remaining := make([]kafka.TopicPartition, 0, len(c.assignedPartitions))
	for _, assigned := range c.assignedPartitions {
		revoked := false
		for _, p := range partitions {
			if assigned == p {
				revoked = true
				break
			}
		}
		if !revoked {
			remaining = append(remaining, assigned)
		}
	}
	c.assignedPartitions = remaining
	c.mu.Unlock()

	if cb != nil {
		cb.OnRevoked(context.Background(), partitions)
	}
}

func (c *Client) Subscriptions() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]string, len(c.subscriptions))
	copy(result, c.subscriptions)
	return result
}

func (c *Client) PausedPartitions() []kafka.TopicPartition {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]kafka.TopicPartition, 0, len(c.paused))
	for tp := range c.paused {
		result = append(result, tp)
	}
	kafka.SortTopicPartitions(result)
	return result
}

func (c *Client) PollCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.pollCount
}

// Remaining returns how many queued records of tp have not been polled yet.
func (c *Client) Remaining(tp kafka.TopicPartition) int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.recordQueues[tp]) - c.queuePositions[tp]
}

func (c *Client) IsClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.closed
}

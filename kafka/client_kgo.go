package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hugolhafner/extoffset/logger"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"
)

var _ Client = (*KgoClient)(nil)
var _ OffsetResetter = (*KgoClient)(nil)

const (
	ResetEarliest = "earliest"
	ResetLatest   = "latest"
)

type KgoClientConfig struct {
	BootstrapServers       []string
	GroupID                string
	SessionTimeout         time.Duration
	HeartbeatInterval      time.Duration
	MaxPollRecords         int
	MaxPartitionFetchBytes int32
	PollTimeout            time.Duration
	ResetOffset            string
	OffsetLoader           OffsetLoader

	Logger logger.Logger
}

func defaultConfig() KgoClientConfig {
	return KgoClientConfig{
		BootstrapServers:       []string{"localhost:9092"},
		GroupID:                "default-group",
		SessionTimeout:         45 * time.Second,
		HeartbeatInterval:      3 * time.Second,
		PollTimeout:            time.Second,
		MaxPollRecords:         1000,
		MaxPartitionFetchBytes: 1 << 20,
		ResetOffset:            ResetEarliest,
		Logger:                 logger.NewNoopLogger(),
	}
}

type KgoOption func(*KgoClientConfig)

func WithBootstrapServers(servers []string) KgoOption {
	return func(cfg *KgoClientConfig) {
		cfg.BootstrapServers = servers
	}
}

func WithGroupID(id string) KgoOption {
	return func(cfg *KgoClientConfig) {
		cfg.GroupID = id
	}
}

func WithSessionTimeout(d time.Duration) KgoOption {
	return func(cfg *KgoClientConfig) {
		if d > 0 {
			cfg.SessionTimeout = d
		}
	}
}

func WithMaxPollRecords(n int) KgoOption {
	return func(cfg *KgoClientConfig) {
		if n > 0 {
			cfg.MaxPollRecords = n
		}
	}
}

func WithMaxPartitionFetchBytes(n int32) KgoOption {
	return func(cfg *KgoClientConfig) {
		if n > 0 {
			cfg.MaxPartitionFetchBytes = n
		}
	}
}

func WithPollTimeout(d time.Duration) KgoOption {
	return func(cfg *KgoClientConfig) {
		if d > 0 {
			cfg.PollTimeout = d
		}
	}
}

// WithResetOffset selects where partitions without stored progress start: "earliest" or "latest".
func WithResetOffset(policy string) KgoOption {
	return func(cfg *KgoClientConfig) {
		cfg.ResetOffset = policy
	}
}

// WithOffsetLoader seeks newly assigned partitions to the offsets kept in the external store.
func WithOffsetLoader(loader OffsetLoader) KgoOption {
	return func(cfg *KgoClientConfig) {
		cfg.OffsetLoader = loader
	}
}

func WithLogger(l logger.Logger) KgoOption {
	return func(cfg *KgoClientConfig) {
		cfg.Logger = l.
			With("client", "kgo")
	}
}

type KgoClient struct {
	client *kgo.Client
	admin  *kadm.Client
	config KgoClientConfig

	mu          sync.RWMutex
	subscribed  bool
	closed      bool
	rebalanceCb RebalanceCallback
	topics      []string
	assigned    map[TopicPartition]struct{}

	logger logger.Logger
}

func NewKgoClient(opts ...KgoOption) (*KgoClient, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.ResetOffset != ResetEarliest && cfg.ResetOffset != ResetLatest {
		return nil, fmt.Errorf("unknown reset offset policy %q", cfg.ResetOffset)
	}

	kc := &KgoClient{
		config:   cfg,
		logger:   cfg.Logger,
		assigned: make(map[TopicPartition]struct{}),
	}

	// partitions without any progress start per the policy; an out-of-range
	// position is returned from Poll instead of being reset inside kgo, so the
	// reset is also written to the offset store
	resetOffset := kgo.NoResetOffset().AtStart()
	if cfg.ResetOffset == ResetLatest {
		resetOffset = kgo.NoResetOffset().AtEnd()
	}

	kgoOpts := []kgo.Opt{
		kgo.SeedBrokers(cfg.BootstrapServers...),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.OnPartitionsAssigned(kc.onAssigned),
		kgo.OnPartitionsRevoked(kc.onRevoked),
		kgo.OnPartitionsLost(kc.onRevoked),
		kgo.AdjustFetchOffsetsFn(kc.adjustFetchOffsets),
		kgo.WithLogger(newKgoLogger(kc.logger)),
		kgo.SessionTimeout(cfg.SessionTimeout),
		kgo.HeartbeatInterval(cfg.HeartbeatInterval),
		kgo.FetchMaxPartitionBytes(cfg.MaxPartitionFetchBytes),
		kgo.ConsumeResetOffset(resetOffset),
		// progress is persisted externally, never through the group coordinator
		kgo.DisableAutoCommit(),
	}

	client, err := kgo.NewClient(kgoOpts...)
	if err != nil {
		return nil, fmt.Errorf("create kgo client: %w", err)
	}

	kc.client = client
	kc.admin = kadm.NewClient(client)

	return kc, nil
}

// adjustFetchOffsets replaces the group's committed offsets with the stored ones.
func (k *KgoClient) adjustFetchOffsets(ctx context.Context, offsets map[string]map[int32]kgo.Offset) (
	map[string]map[int32]kgo.Offset, error,
) {
	if k.config.OffsetLoader == nil {
		return offsets, nil
	}

	for topic, partitions := range offsets {
		for partition := range partitions {
			tp := TopicPartition{Topic: topic, Partition: partition}
			stored, err := k.config.OffsetLoader(ctx, tp)
			if err != nil {
				return nil, fmt.Errorf("load stored offset for %s: %w", tp, err)
			}

			if stored <= 0 {
				continue
			}

			k.logger.Info("Seeking partition to stored offset", "partition", tp.String(), "offset", stored)
			partitions[partition] = kgo.NewOffset().At(stored)
		}
	}

	return offsets, nil
}

func (k *KgoClient) onAssigned(ctx context.Context, c *kgo.Client, assigned map[string][]int32) {
	partitions := mapToTopicPartitions(assigned)

	k.mu.Lock()
	for _, tp := range partitions {
		k.assigned[tp] = struct{}{}
	}
	cb := k.rebalanceCb
	k.mu.Unlock()

	if cb == nil {
		return
	}

	cb.OnAssigned(ctx, partitions)
}

func (k *KgoClient) onRevoked(ctx context.Context, c *kgo.Client, revoked map[string][]int32) {
	partitions := mapToTopicPartitions(revoked)

	k.mu.Lock()
	for _, tp := range partitions {
		delete(k.assigned, tp)
	}
	cb := k.rebalanceCb
	k.mu.Unlock()

	if cb == nil {
		return
	}

	cb.OnRevoked(ctx, partitions)
}

func (k *KgoClient) Subscribe(topics []string, rebalanceCb RebalanceCallback) error {
	k.mu.Lock()
	if k.subscribed {
		k.mu.Unlock()
		return fmt.Errorf("already subscribed")
	}

	k.rebalanceCb = rebalanceCb
	k.topics = topics
	k.client.AddConsumeTopics(topics...)
	k.subscribed = true
	k.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	missing, err := k.missingTopics(ctx, topics)
	switch {
	case err != nil:
		k.logger.Warn("Could not check subscribed topics", "error", err)
	case len(missing) > 0:
		k.logger.Warn("Subscribed topics do not exist yet", "topics", missing)
	}

	return nil
}

// missingTopics asks the cluster which of topics are unknown, without creating them.
func (k *KgoClient) missingTopics(ctx context.Context, topics []string) ([]string, error) {
	req := kmsg.NewPtrMetadataRequest()
	req.AllowAutoTopicCreation = false
	for _, topic := range topics {
		rt := kmsg.NewMetadataRequestTopic()
		rt.Topic = kmsg.StringPtr(topic)
		req.Topics = append(req.Topics, rt)
	}

	resp, err := req.RequestWith(ctx, k.client)
	if err != nil {
		return nil, fmt.Errorf("metadata request: %w", err)
	}

	var missing []string
	for _, t := range resp.Topics {
		if t.Topic != nil && errors.Is(kerr.ErrorForCode(t.ErrorCode), kerr.UnknownTopicOrPartition) {
			missing = append(missing, *t.Topic)
		}
	}
	return missing, nil
}

func (k *KgoClient) Poll(ctx context.Context) ([]ConsumerRecord, error) {
	pollCtx, cancel := context.WithTimeout(ctx, k.config.PollTimeout)
	defer cancel()

	fetches := k.client.PollRecords(pollCtx, k.config.MaxPollRecords)
	if fetches.IsClientClosed() {
		return nil, ErrClosed
	}

	if ctx.Err() != nil {
		return nil, fmt.Errorf("poll: %w: %w", ErrWakeup, ctx.Err())
	}

	var (
		outOfRange []TopicPartition
		fetchErr   error
	)
	for _, fe := range fetches.Errors() {
		switch {
		case errors.Is(fe.Err, context.DeadlineExceeded) || errors.Is(fe.Err, context.Canceled):
			continue
		case errors.Is(fe.Err, kerr.OffsetOutOfRange):
			outOfRange = append(outOfRange, TopicPartition{Topic: fe.Topic, Partition: fe.Partition})
		case kerr.IsRetriable(fe.Err):
			k.logger.Warn("Retriable fetch error", "topic", fe.Topic, "partition", fe.Partition, "error", fe.Err)
		case fetchErr == nil:
			fetchErr = fmt.Errorf("poll %s-%d: %w", fe.Topic, fe.Partition, fe.Err)
		}
	}

	// records of healthy partitions are returned alongside a partition error,
	// the client already moved past them
	records := convertRecords(fetches.Records())
	if len(outOfRange) > 0 {
		SortTopicPartitions(outOfRange)
		return records, &OffsetOutOfRangeError{Partitions: outOfRange}
	}
	return records, fetchErr
}

func (k *KgoClient) Assignment() []TopicPartition {
	k.mu.RLock()
	defer k.mu.RUnlock()

	tps := make([]TopicPartition, 0, len(k.assigned))
	for tp := range k.assigned {
		tps = append(tps, tp)
	}
	SortTopicPartitions(tps)

	return tps
}

// Position returns the offset after the last polled record of tp.
func (k *KgoClient) Position(tp TopicPartition) (int64, error) {
	k.mu.RLock()
	closed := k.closed
	k.mu.RUnlock()
	if closed {
		return 0, ErrClosed
	}

	offsets := k.client.UncommittedOffsets()
	if partitions, ok := offsets[tp.Topic]; ok {
		if eo, ok := partitions[tp.Partition]; ok {
			return eo.Offset, nil
		}
	}

	return 0, fmt.Errorf("%s: %w", tp, ErrNoPosition)
}

// ResetOffsets moves the given partitions to the start of their log, or to the
// end when the reset policy is "latest", and returns the new positions.
func (k *KgoClient) ResetOffsets(ctx context.Context, partitions []TopicPartition) (map[TopicPartition]int64, error) {
	topics := make([]string, 0, len(partitions))
	seen := make(map[string]struct{})
	for _, tp := range partitions {
		if _, ok := seen[tp.Topic]; ok {
			continue
		}
		seen[tp.Topic] = struct{}{}
		topics = append(topics, tp.Topic)
	}

	list := k.admin.ListStartOffsets
	if k.config.ResetOffset == ResetLatest {
		list = k.admin.ListEndOffsets
	}

	listed, err := list(ctx, topics...)
	if err != nil {
		return nil, fmt.Errorf("list offsets: %w", err)
	}

	reset := make(map[TopicPartition]int64, len(partitions))
	seek := make(map[string]map[int32]kgo.EpochOffset)
	for _, tp := range partitions {
		lo, ok := listed.Lookup(tp.Topic, tp.Partition)
		if !ok {
			continue
		}
		if lo.Err != nil {
			return nil, fmt.Errorf("list offsets %s: %w", tp, lo.Err)
		}

		reset[tp] = lo.Offset
		if seek[tp.Topic] == nil {
			seek[tp.Topic] = make(map[int32]kgo.EpochOffset)
		}
		seek[tp.Topic][tp.Partition] = kgo.EpochOffset{Epoch: -1, Offset: lo.Offset}
	}

	k.client.SetOffsets(seek)
	k.logger.Info("Reset partition offsets", "policy", k.config.ResetOffset, "offsets", reset)

	return reset, nil
}

func (k *KgoClient) Ping(ctx context.Context) error {
	return k.client.Ping(ctx)
}

func (k *KgoClient) PausePartitions(partitions ...TopicPartition) {
	k.client.PauseFetchPartitions(topicPartitionsToMap(partitions))
}

func (k *KgoClient) ResumePartitions(partitions ...TopicPartition) {
	k.client.ResumeFetchPartitions(topicPartitionsToMap(partitions))
}

func (k *KgoClient) Close() {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return
	}
	k.closed = true
	k.mu.Unlock()

	k.client.CloseAllowingRebalance()
}

func convertRecords(records []*kgo.Record) []ConsumerRecord {
	converted := make([]ConsumerRecord, len(records))
	for i, r := range records {
		converted[i] = ConsumerRecord{
			Topic:       r.Topic,
			Partition:   r.Partition,
			Offset:      r.Offset,
			Key:         r.Key,
			Value:       r.Value,
			Headers:     convertFromKgoHeaders(r.Headers),
			Timestamp:   r.Timestamp,
			LeaderEpoch: r.LeaderEpoch,
		}
	}

	return converted
}

func convertFromKgoHeaders(headers []kgo.RecordHeader) []Header {
	converted := make([]Header, len(headers))
	for i, h := range headers {
		converted[i] = Header{Key: h.Key, Value: h.Value}
	}
	return converted
}

func topicPartitionsToMap(tps []TopicPartition) map[string][]int32 {
	m := make(map[string][]int32)
	for _, tp := range tps {
		m[tp.Topic] = append(m[tp.Topic], tp.Partition)
	}
	return m
}

func mapToTopicPartitions(m map[string][]int32) []TopicPartition {
	var tps []TopicPartition
	for topic, partitions := range m {
		for _, partition := range partitions {
			tps = append(
				tps, TopicPartition{
					Topic:     topic,
					Partition: partition,
				},
			)
		}
	}

	SortTopicPartitions(tps)
	return tps
}

package kafka

import (
	"sort"
	"strconv"
	"time"
)

// Header represents a single Kafka record header
// kafka needs to support multiple headers with duplicate keys
type Header struct {
	Key   string
	Value []byte
}

// HeaderValue returns the value of the first header matching the given key
// Returns (nil, false) if no header with that key exists
func HeaderValue(headers []Header, key string) ([]byte, bool) {
	for _, h := range headers {
		if h.Key == key {
			return h.Value, true
		}
	}
	return nil, false
}

type ConsumerRecord struct {
	Key         []byte
	Value       []byte
	Headers     []Header
	Topic       string
	Partition   int32
	Offset      int64
	LeaderEpoch int32
	Timestamp   time.Time
}

func (r ConsumerRecord) TopicPartition() TopicPartition {
	return TopicPartition{
		Topic:     r.Topic,
		Partition: r.Partition,
	}
}

// Size returns the payload size of the record in bytes.
func (r ConsumerRecord) Size() int {
	return len(r.Key) + len(r.Value)
}

type TopicPartition struct {
	Topic     string
	Partition int32
}

func (tp TopicPartition) String() string {
	return tp.Topic + "-" + strconv.FormatInt(int64(tp.Partition), 10)
}

// SortTopicPartitions orders partitions by topic, then partition number.
func SortTopicPartitions(tps []TopicPartition) {
	sort.Slice(
		tps, func(i, j int) bool {
			if tps[i].Topic != tps[j].Topic {
				return tps[i].Topic < tps[j].Topic
			}
			return tps[i].Partition < tps[j].Partition
		},
	)
}

// LastPerPartition returns the last record seen for every partition in records,
// restricted to the given partitions when filter is non-nil.
func LastPerPartition(records []ConsumerRecord, filter []TopicPartition) (map[TopicPartition]ConsumerRecord, map[TopicPartition]int64) {
	var allowed map[TopicPartition]struct{}
	if filter != nil {
		allowed = make(map[TopicPartition]struct{}, len(filter))
		for _, tp := range filter {
			allowed[tp] = struct{}{}
		}
	}

	last := make(map[TopicPartition]ConsumerRecord)
	counts := make(map[TopicPartition]int64)
	for _, r := range records {
		tp := r.TopicPartition()
		if allowed != nil {
			if _, ok := allowed[tp]; !ok {
				continue
			}
		}
		last[tp] = r
		counts[tp]++
	}

	return last, counts
}

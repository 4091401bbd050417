//go:build unit

package runner

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hugolhafner/dskit/backoff"
	"github.com/hugolhafner/extoffset/kafka"
	"github.com/hugolhafner/extoffset/offset"
	"github.com/hugolhafner/extoffset/store/memory"
)

var (
	p0 = kafka.TopicPartition{Topic: "orders", Partition: 0}
	p1 = kafka.TopicPartition{Topic: "orders", Partition: 1}
)

type harness struct {
	store       *memory.Store
	health      *offset.Health
	manager     *offset.Manager
	coordinator *ShutdownCoordinator
}

func newHarness(t *testing.T, parties int, opts ...ShutdownOption) *harness {
	t.Helper()

	store := memory.New()
	health := offset.NewHealth()
	manager := offset.NewManager(
		offset.NewCache(), store, health, offset.WithCluster("c1"), offset.WithGroup("g1"),
	)

	return &harness{
		store:       store,
		health:      health,
		manager:     manager,
		coordinator: NewShutdownCoordinator(parties, manager, opts...),
	}
}

func (h *harness) loop(id int, consumer kafka.Consumer, p Processor, opts ...LoopOption) *Loop {
	opts = append(
		[]LoopOption{
			WithOfferTimeout(10 * time.Millisecond),
			WithOverflowBackoff(5 * time.Millisecond),
			WithThrottleSleep(5 * time.Millisecond),
			WithStoreRetryInterval(5 * time.Millisecond),
			WithWorkerPollWait(10 * time.Millisecond),
			WithWorkerStopTimeout(5 * time.Second),
			WithPollErrorBackoff(backoff.NewFixed(5 * time.Millisecond)),
			WithInstanceID("test-instance"),
		}, opts...,
	)
	return NewLoop(id, consumer, []string{"orders"}, p, h.manager, h.coordinator, opts...)
}

func identity(tp kafka.TopicPartition) offset.Identity {
	return offset.Identity{Cluster: "c1", Topic: tp.Topic, Partition: tp.Partition, Group: "g1"}
}

func startLoop(ctx context.Context, l *Loop) <-chan error {
	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(ctx) }()
	return errCh
}

func waitStopped(t *testing.T, errCh <-chan error) error {
	t.Helper()

	select {
	case err := <-errCh:
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("timeout waiting for consume loop to stop")
		return nil
	}
}

// recorder is a processor remembering the offsets it saw per partition.
type recorder struct {
	mu   sync.Mutex
	seen map[kafka.TopicPartition][]int64
	fn   func(rec kafka.ConsumerRecord) error
}

func newRecorder(fn func(rec kafka.ConsumerRecord) error) *recorder {
	return &recorder{seen: make(map[kafka.TopicPartition][]int64), fn: fn}
}

func (r *recorder) Process(_ context.Context, rec kafka.ConsumerRecord) error {
	r.mu.Lock()
	r.seen[rec.TopicPartition()] = append(r.seen[rec.TopicPartition()], rec.Offset)
	r.mu.Unlock()

	if r.fn != nil {
		return r.fn(rec)
	}
	return nil
}

func (r *recorder) Offsets(tp kafka.TopicPartition) []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.seen[tp]...)
}

func (r *recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, offsets := range r.seen {
		n += len(offsets)
	}
	return n
}

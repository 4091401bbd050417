//go:build unit

package extoffset

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hugolhafner/dskit/backoff"
	"github.com/hugolhafner/extoffset/kafka"
	mockkafka "github.com/hugolhafner/extoffset/kafka/mock"
	"github.com/hugolhafner/extoffset/offset"
	"github.com/hugolhafner/extoffset/runner"
	"github.com/hugolhafner/extoffset/store/memory"
	"github.com/stretchr/testify/require"
)

var (
	p0 = kafka.TopicPartition{Topic: "orders", Partition: 0}
	p1 = kafka.TopicPartition{Topic: "orders", Partition: 1}
)

func identity(tp kafka.TopicPartition) offset.Identity {
	return offset.Identity{Cluster: "c1", Topic: tp.Topic, Partition: tp.Partition, Group: "g1"}
}

type collector struct {
	mu       sync.Mutex
	seen     map[kafka.TopicPartition][]int64
	finished atomic.Int32
}

func newCollector() *collector {
	return &collector{seen: make(map[kafka.TopicPartition][]int64)}
}

func (c *collector) Process(_ context.Context, rec kafka.ConsumerRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen[rec.TopicPartition()] = append(c.seen[rec.TopicPartition()], rec.Offset)
	return nil
}

func (c *collector) Finish(context.Context) error {
	c.finished.Add(1)
	return nil
}

func (c *collector) Offsets(tp kafka.TopicPartition) []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int64(nil), c.seen[tp]...)
}

// clients builds one mock client per consume loop, seeded by setup.
type clients struct {
	mu    sync.Mutex
	setup func(id int, c *mockkafka.Client)
	made  []*mockkafka.Client
}

func (cs *clients) factory(id int, loader kafka.OffsetLoader) (kafka.Consumer, error) {
	c := mockkafka.NewClient(mockkafka.WithOffsetLoader(loader))
	if cs.setup != nil {
		cs.setup(id, c)
	}

	cs.mu.Lock()
	cs.made = append(cs.made, c)
	cs.mu.Unlock()
	return c, nil
}

func newTestApplication(
	t *testing.T, store offset.Store, p runner.Processor, cs *clients, opts ...ConfigOption,
) *Application {
	t.Helper()

	opts = append(
		[]ConfigOption{
			WithCluster("c1"),
			WithGroup("g1"),
			WithTopics("orders"),
			WithClientFactory(cs.factory),
			WithFlush(20*time.Millisecond, 100),
			WithLoopOptions(
				runner.WithOfferTimeout(10*time.Millisecond),
				runner.WithOverflowBackoff(5*time.Millisecond),
				runner.WithThrottleSleep(5*time.Millisecond),
				runner.WithStoreRetryInterval(5*time.Millisecond),
				runner.WithWorkerPollWait(10*time.Millisecond),
				runner.WithPollErrorBackoff(backoff.NewFixed(5*time.Millisecond)),
			),
		}, opts...,
	)

	app, err := NewApplication(store, p, opts...)
	require.NoError(t, err)
	return app
}

func startApplication(ctx context.Context, app *Application) <-chan error {
	errCh := make(chan error, 1)
	go func() { errCh <- app.Run(ctx) }()
	return errCh
}

func waitApplication(t *testing.T, errCh <-chan error) error {
	t.Helper()

	select {
	case err := <-errCh:
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("timeout waiting for application to stop")
		return nil
	}
}

func TestNewApplication_Validation(t *testing.T) {
	cs := &clients{}
	store := memory.New()
	p := newCollector()

	tests := []struct {
		name  string
		store offset.Store
		p     runner.Processor
		opts  []ConfigOption
	}{
		{"no store", nil, p, []ConfigOption{WithGroup("g"), WithTopics("t"), WithClientFactory(cs.factory)}},
		{"no processor", store, nil, []ConfigOption{WithGroup("g"), WithTopics("t"), WithClientFactory(cs.factory)}},
		{"no factory", store, p, []ConfigOption{WithGroup("g"), WithTopics("t")}},
		{"no group", store, p, []ConfigOption{WithTopics("t"), WithClientFactory(cs.factory)}},
		{"no topics", store, p, []ConfigOption{WithGroup("g"), WithClientFactory(cs.factory)}},
		{
			"no consumers", store, p,
			[]ConfigOption{WithGroup("g"), WithTopics("t"), WithClientFactory(cs.factory), WithConsumers(0)},
		},
	}

	for _, tt := range tests {
		t.Run(
			tt.name, func(t *testing.T) {
				_, err := NewApplication(tt.store, tt.p, tt.opts...)
				require.Error(t, err)
			},
		)
	}
}

func TestNewApplication_FactoryErrorClosesCreatedClients(t *testing.T) {
	var made []*mockkafka.Client
	boom := errors.New("no brokers")
	factory := func(id int, _ kafka.OffsetLoader) (kafka.Consumer, error) {
		if id == 2 {
			return nil, boom
		}
		c := mockkafka.NewClient()
		made = append(made, c)
		return c, nil
	}

	_, err := NewApplication(
		memory.New(), newCollector(),
		WithGroup("g1"), WithTopics("orders"), WithConsumers(3), WithClientFactory(factory),
	)
	require.ErrorIs(t, err, boom)
	require.Len(t, made, 2)
	for _, c := range made {
		require.True(t, c.IsClosed())
	}
}

func TestApplication_CloseFlushesEveryLoop(t *testing.T) {
	store := memory.New()
	p := newCollector()
	cs := &clients{
		setup: func(id int, c *mockkafka.Client) {
			c.AddRecords("orders", int32(id), mockkafka.RecordsAt(0, 1, 2)...)
		},
	}
	app := newTestApplication(t, store, p, cs, WithConsumers(2))

	errCh := startApplication(context.Background(), app)
	require.Eventually(
		t, func() bool {
			return len(p.Offsets(p0)) == 3 && len(p.Offsets(p1)) == 3
		}, 5*time.Second, 5*time.Millisecond,
	)

	app.Close()
	require.NoError(t, waitApplication(t, errCh))

	for _, tp := range []kafka.TopicPartition{p0, p1} {
		row, ok := store.Row(identity(tp))
		require.True(t, ok)
		require.Equal(t, int64(3), row.Offset)
		require.Empty(t, row.Owner)
	}

	require.Equal(t, int64(2), app.Coordinator().Sweeps())
	require.Equal(t, 0, app.Manager().Cache().Len())
	require.Equal(t, int32(1), p.finished.Load())
	for _, c := range cs.made {
		require.True(t, c.IsClosed())
	}
	require.False(t, store.IsClosed())

	require.ErrorIs(t, app.Run(context.Background()), ErrClosed)
}

func TestApplication_RunTwice(t *testing.T) {
	cs := &clients{}
	app := newTestApplication(t, memory.New(), newCollector(), cs)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := startApplication(ctx, app)

	require.Eventually(
		t, func() bool {
			return errors.Is(app.Run(ctx), ErrAlreadyRunning)
		}, 5*time.Second, 5*time.Millisecond,
	)

	cancel()
	require.NoError(t, waitApplication(t, errCh))
}

func TestApplication_ResumesFromStoredOffset(t *testing.T) {
	store := memory.New()
	store.Put(
		offset.Record{
			Cluster: "c1", Topic: "orders", Partition: 0, Group: "g1", Offset: 2, LastFlushOffset: 2,
		},
	)

	p := newCollector()
	cs := &clients{
		setup: func(_ int, c *mockkafka.Client) {
			c.AddRecords("orders", 0, mockkafka.RecordsAt(0, 1, 2, 3, 4)...)
		},
	}
	app := newTestApplication(t, store, p, cs)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := startApplication(ctx, app)

	require.Eventually(t, func() bool { return len(p.Offsets(p0)) == 3 }, 5*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, waitApplication(t, errCh))

	require.Equal(t, []int64{2, 3, 4}, p.Offsets(p0))
	row, ok := store.Row(identity(p0))
	require.True(t, ok)
	require.Equal(t, int64(5), row.Offset)
}

func TestApplication_FailingLoopStopsSiblings(t *testing.T) {
	boom := errors.New("broker exploded")
	cs := &clients{
		setup: func(id int, c *mockkafka.Client) {
			if id == 0 {
				c.SetPollError(boom)
			}
		},
	}
	app := newTestApplication(t, memory.New(), newCollector(), cs, WithConsumers(2))

	err := waitApplication(t, startApplication(context.Background(), app))
	require.ErrorIs(t, err, boom)
	require.Equal(t, int64(2), app.Coordinator().Sweeps())
	for _, c := range cs.made {
		require.True(t, c.IsClosed())
	}
}

func TestApplication_DefaultHooksResetOutOfRange(t *testing.T) {
	store := memory.New()
	p := newCollector()

	var once sync.Once
	cs := &clients{
		setup: func(_ int, c *mockkafka.Client) {
			c.AddRecords("orders", 0, mockkafka.RecordsAt(0, 1, 2, 3, 4)...)
			c.SetResetFunc(func(kafka.TopicPartition) int64 { return 3 })
			c.SetPollErrorFunc(
				func() error {
					var err error
					once.Do(
						func() {
							err = &kafka.OffsetOutOfRangeError{Partitions: []kafka.TopicPartition{p0}}
						},
					)
					return err
				},
			)
		},
	}
	app := newTestApplication(t, store, p, cs)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := startApplication(ctx, app)

	require.Eventually(t, func() bool { return len(p.Offsets(p0)) == 2 }, 5*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, waitApplication(t, errCh))

	require.Equal(t, []int64{3, 4}, p.Offsets(p0))

	history := store.History(identity(p0))
	require.NotEmpty(t, history)
	reset := false
	for _, rec := range history {
		reset = reset || rec.Offset == 3
	}
	require.True(t, reset, "reset offset should be written through")
	require.Equal(t, int64(5), history[len(history)-1].Offset)
}

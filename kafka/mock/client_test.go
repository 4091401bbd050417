//go:build unit

package mockkafka_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hugolhafner/extoffset/kafka"
	mockkafka "github.com/hugolhafner/extoffset/kafka/mock"
	"github.com/stretchr/testify/require"
)

type recordingCallback struct {
	mu       sync.Mutex
	assigned []kafka.TopicPartition
	revoked  []kafka.TopicPartition
}

func (r *recordingCallback) OnAssigned(_ context.Context, partitions []kafka.TopicPartition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assigned = append(r.assigned, partitions...)
}

func (r *recordingCallback) OnRevoked(_ context.Context, partitions []kafka.TopicPartition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.revoked = append(r.revoked, partitions...)
}

func TestMockClient_SubscribeAndPoll(t *testing.T) {
	client := mockkafka.NewClient()
	client.AddRecords("input", 0, mockkafka.SimpleRecords("k1", "v1", "k2", "v2")...)

	cb := &recordingCallback{}
	require.NoError(t, client.Subscribe([]string{"input"}, cb))

	tp := kafka.TopicPartition{Topic: "input", Partition: 0}
	require.Equal(t, []kafka.TopicPartition{tp}, cb.assigned)
	client.AssertSubscribed(t, "input")
	client.AssertAssigned(t, tp)

	records, err := client.Poll(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, int64(0), records[0].Offset)
	require.Equal(t, int64(1), records[1].Offset)

	pos, err := client.Position(tp)
	require.NoError(t, err)
	require.Equal(t, int64(2), pos)
	client.AssertDrained(t, tp)
}

func TestMockClient_PositionUnknownBeforePoll(t *testing.T) {
	client := mockkafka.NewClient()

	_, err := client.Position(kafka.TopicPartition{Topic: "input", Partition: 3})
	require.ErrorIs(t, err, kafka.ErrNoPosition)
}

func TestMockClient_PausedPartitionsAreSkipped(t *testing.T) {
	client := mockkafka.NewClient()
	client.AddRecords("input", 0, mockkafka.RecordsAt(0, 1)...)
	client.AddRecords("input", 1, mockkafka.RecordsAt(0, 1)...)
	require.NoError(t, client.Subscribe([]string{"input"}, nil))

	p0 := kafka.TopicPartition{Topic: "input", Partition: 0}
	client.PausePartitions(p0)
	client.AssertPaused(t, p0)

	records, err := client.Poll(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)
	for _, r := range records {
		require.Equal(t, int32(1), r.Partition)
	}

	client.ResumePartitions(p0)
	client.AssertNoPausedPartitions(t)

	records, err = client.Poll(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)
}

func TestMockClient_OffsetLoaderSeeksOnAssign(t *testing.T) {
	loader := func(_ context.Context, tp kafka.TopicPartition) (int64, error) {
		return 2, nil
	}

	client := mockkafka.NewClient(mockkafka.WithOffsetLoader(loader))
	client.AddRecords("input", 0, mockkafka.RecordsAt(0, 1, 2, 3)...)
	require.NoError(t, client.Subscribe([]string{"input"}, nil))

	records, err := client.Poll(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, int64(2), records[0].Offset)
}

func TestMockClient_PollWakesUpOnCancel(t *testing.T) {
	client := mockkafka.NewClient(mockkafka.WithPollDelay(time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := client.Poll(ctx)
	require.True(t, kafka.IsWakeup(err))
	require.ErrorIs(t, err, kafka.ErrWakeup)
}

func TestMockClient_PollError(t *testing.T) {
	boom := errors.New("boom")
	client := mockkafka.NewClient(mockkafka.WithPollError(boom))

	_, err := client.Poll(context.Background())
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, client.PollCount())

	client.SetPollError(nil)
	_, err = client.Poll(context.Background())
	require.NoError(t, err)
}

func TestMockClient_ClosedPollFails(t *testing.T) {
	client := mockkafka.NewClient()
	client.Close()
	client.AssertClosed(t)

	_, err := client.Poll(context.Background())
	require.ErrorIs(t, err, kafka.ErrClosed)
}

func TestMockClient_TriggerRevoke(t *testing.T) {
	client := mockkafka.NewClient()
	client.AddRecords("input", 0)
	client.AddRecords("input", 1)

	cb := &recordingCallback{}
	require.NoError(t, client.Subscribe([]string{"input"}, cb))

	p1 := kafka.TopicPartition{Topic: "input", Partition: 1}
	client.TriggerRevoke([]kafka.TopicPartition{p1})

	require.Equal(t, []kafka.TopicPartition{p1}, cb.revoked)
	require.Equal(t, []kafka.TopicPartition{{Topic: "input", Partition: 0}}, client.Assignment())
}

func TestMockClient_ResetOffsets(t *testing.T) {
	client := mockkafka.NewClient()
	client.AddRecords("input", 0, mockkafka.RecordsAt(5, 6, 7)...)
	require.NoError(t, client.Subscribe([]string{"input"}, nil))

	tp := kafka.TopicPartition{Topic: "input", Partition: 0}
	_, err := client.Poll(context.Background())
	require.NoError(t, err)

	reset, err := client.ResetOffsets(context.Background(), []kafka.TopicPartition{tp})
	require.NoError(t, err)
	require.Equal(t, int64(5), reset[tp])

	records, err := client.Poll(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 3)
}

func TestMockClient_WithPartitionsAssignsEmptyPartitions(t *testing.T) {
	client := mockkafka.NewClient(
		mockkafka.WithPartitions("orders", 2),
		mockkafka.WithResetFunc(func(kafka.TopicPartition) int64 { return 9 }),
	)

	cb := &recordingCallback{}
	require.NoError(t, client.Subscribe([]string{"orders"}, cb))
	require.Equal(
		t, []kafka.TopicPartition{{Topic: "orders", Partition: 0}, {Topic: "orders", Partition: 1}},
		client.Assignment(),
	)

	reset, err := client.ResetOffsets(context.Background(), []kafka.TopicPartition{{Topic: "orders", Partition: 1}})
	require.NoError(t, err)
	require.Equal(t, int64(9), reset[kafka.TopicPartition{Topic: "orders", Partition: 1}])
}

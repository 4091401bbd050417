//go:build unit

package processor_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hugolhafner/extoffset/kafka"
	"github.com/hugolhafner/extoffset/processor"
	"github.com/hugolhafner/extoffset/runner"
	"github.com/hugolhafner/extoffset/serde"
	"github.com/stretchr/testify/require"
)

type payment struct {
	ID     string `json:"id"`
	Amount int    `json:"amount"`
}

func consumerRecord(topic, key, value string) kafka.ConsumerRecord {
	return kafka.ConsumerRecord{
		Topic:     topic,
		Partition: 2,
		Offset:    41,
		Key:       []byte(key),
		Value:     []byte(value),
		Headers:   []kafka.Header{{Key: "source", Value: []byte("test")}},
		Timestamp: time.Unix(1700000000, 0),
	}
}

func TestTyped_DecodesKeyAndValue(t *testing.T) {
	t.Parallel()
	var got processor.Record[string, payment]
	p := processor.Typed(
		serde.String(), serde.JSON[payment](),
		func(_ context.Context, rec processor.Record[string, payment]) error {
			got = rec
			return nil
		},
	)

	err := p.Process(context.Background(), consumerRecord("payments", "user-1", `{"id":"p-1","amount":12}`))
	require.NoError(t, err)
	require.Equal(t, "user-1", got.Key)
	require.Equal(t, payment{ID: "p-1", Amount: 12}, got.Value)
	require.Equal(t, "payments", got.Topic)
	require.Equal(t, int32(2), got.Partition)
	require.Equal(t, int64(41), got.Offset)
	require.Len(t, got.Headers, 1)
	require.Equal(t, time.Unix(1700000000, 0), got.Timestamp)
}

func TestTyped_DecodeFailureSkipsCallback(t *testing.T) {
	t.Parallel()
	called := false
	p := processor.Typed(
		serde.String(), serde.JSON[payment](),
		func(context.Context, processor.Record[string, payment]) error {
			called = true
			return nil
		},
	)

	err := p.Process(context.Background(), consumerRecord("payments", "user-1", "not json"))
	require.ErrorIs(t, err, serde.ErrDeserialise)
	require.False(t, called)
}

func TestTyped_CallbackError(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	p := processor.Typed(
		serde.Bytes(), serde.String(),
		func(context.Context, processor.Record[[]byte, string]) error { return boom },
	)

	err := p.Process(context.Background(), consumerRecord("payments", "k", "v"))
	require.ErrorIs(t, err, boom)
	require.NotErrorIs(t, err, serde.ErrDeserialise)
}

func TestFilter(t *testing.T) {
	t.Parallel()
	var seen []string
	next := runner.ProcessorFunc(
		func(_ context.Context, rec kafka.ConsumerRecord) error {
			seen = append(seen, string(rec.Key))
			return nil
		},
	)
	p := processor.Filter(
		func(rec kafka.ConsumerRecord) bool { return string(rec.Key) != "skip" },
		next,
	)

	for _, key := range []string{"a", "skip", "b"} {
		require.NoError(t, p.Process(context.Background(), consumerRecord("orders", key, "")))
	}
	require.Equal(t, []string{"a", "b"}, seen)
}

func TestChain_StopsAtFirstError(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	var calls []int
	step := func(i int, err error) runner.Processor {
		return runner.ProcessorFunc(
			func(context.Context, kafka.ConsumerRecord) error {
				calls = append(calls, i)
				return err
			},
		)
	}

	err := processor.Chain(step(1, nil), step(2, boom), step(3, nil)).
		Process(context.Background(), consumerRecord("orders", "k", "v"))
	require.ErrorIs(t, err, boom)
	require.Equal(t, []int{1, 2}, calls)
}

func TestByTopic(t *testing.T) {
	t.Parallel()
	var routed []string
	route := func(name string) runner.Processor {
		return runner.ProcessorFunc(
			func(context.Context, kafka.ConsumerRecord) error {
				routed = append(routed, name)
				return nil
			},
		)
	}

	p := processor.ByTopic(map[string]runner.Processor{"orders": route("orders")}, route("other"))
	require.NoError(t, p.Process(context.Background(), consumerRecord("orders", "k", "v")))
	require.NoError(t, p.Process(context.Background(), consumerRecord("refunds", "k", "v")))
	require.Equal(t, []string{"orders", "other"}, routed)

	p = processor.ByTopic(map[string]runner.Processor{"orders": route("orders")}, nil)
	require.NoError(t, p.Process(context.Background(), consumerRecord("refunds", "k", "v")))
	require.Len(t, routed, 2)
}

func TestWithFinish(t *testing.T) {
	t.Parallel()
	finished := 0
	p := processor.WithFinish(
		runner.ProcessorFunc(func(context.Context, kafka.ConsumerRecord) error { return nil }),
		func(context.Context) error {
			finished++
			return nil
		},
	)

	f, ok := p.(runner.Finisher)
	require.True(t, ok)
	require.NoError(t, f.Finish(context.Background()))
	require.Equal(t, 1, finished)
	require.NoError(t, p.Process(context.Background(), consumerRecord("orders", "k", "v")))
}

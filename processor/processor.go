// Package processor builds runner.Processor values from typed callbacks.
package processor

import (
	"context"
	"time"

	"github.com/hugolhafner/extoffset/kafka"
	"github.com/hugolhafner/extoffset/runner"
	"github.com/hugolhafner/extoffset/serde"
)

// Record is a consumed record with its key and value decoded.
type Record[K, V any] struct {
	Key       K
	Value     V
	Headers   []kafka.Header
	Topic     string
	Partition int32
	Offset    int64
	Timestamp time.Time
}

type Func[K, V any] func(ctx context.Context, rec Record[K, V]) error

// Typed decodes each record with keys and values before calling fn. Decoding
// failures match serde.ErrDeserialise and fn is not called.
func Typed[K, V any](keys serde.Deserialiser[K], values serde.Deserialiser[V], fn Func[K, V]) runner.Processor {
	return runner.ProcessorFunc(
		func(ctx context.Context, rec kafka.ConsumerRecord) error {
			key, err := serde.Decode(keys, rec.Topic, serde.FieldKey, rec.Key)
			if err != nil {
				return err
			}

			value, err := serde.Decode(values, rec.Topic, serde.FieldValue, rec.Value)
			if err != nil {
				return err
			}

			return fn(
				ctx, Record[K, V]{
					Key:       key,
					Value:     value,
					Headers:   rec.Headers,
					Topic:     rec.Topic,
					Partition: rec.Partition,
					Offset:    rec.Offset,
					Timestamp: rec.Timestamp,
				},
			)
		},
	)
}

// Filter passes only the records keep accepts to next. Rejected records
// count as processed.
func Filter(keep func(rec kafka.ConsumerRecord) bool, next runner.Processor) runner.Processor {
	return runner.ProcessorFunc(
		func(ctx context.Context, rec kafka.ConsumerRecord) error {
			if !keep(rec) {
				return nil
			}
			return next.Process(ctx, rec)
		},
	)
}

// Chain runs processors in order and stops at the first error.
func Chain(processors ...runner.Processor) runner.Processor {
	return runner.ProcessorFunc(
		func(ctx context.Context, rec kafka.ConsumerRecord) error {
			for _, p := range processors {
				if err := p.Process(ctx, rec); err != nil {
					return err
				}
			}
			return nil
		},
	)
}

// ByTopic sends each record to the processor registered for its topic.
// Records from other topics go to fallback, or are skipped when it is nil.
func ByTopic(routes map[string]runner.Processor, fallback runner.Processor) runner.Processor {
	return runner.ProcessorFunc(
		func(ctx context.Context, rec kafka.ConsumerRecord) error {
			if p, ok := routes[rec.Topic]; ok {
				return p.Process(ctx, rec)
			}
			if fallback != nil {
				return fallback.Process(ctx, rec)
			}
			return nil
		},
	)
}

type finishing struct {
	runner.Processor
	finish func(ctx context.Context) error
}

// WithFinish attaches finish to p so the application calls it once every loop
// has stopped.
func WithFinish(p runner.Processor, finish func(ctx context.Context) error) runner.Processor {
	return finishing{Processor: p, finish: finish}
}

func (f finishing) Finish(ctx context.Context) error {
	return f.finish(ctx)
}

package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/hugolhafner/extoffset/logger"
	"github.com/hugolhafner/extoffset/processor"
	"github.com/hugolhafner/extoffset/runner"
	"github.com/hugolhafner/extoffset/serde"
	"google.golang.org/protobuf/types/known/structpb"
)

// newRecordProcessor decodes each value in the configured format, logs it and
// optionally simulates work.
func newRecordProcessor(cfg ProcessorConfig, l logger.Logger) (runner.Processor, error) {
	l = l.With("component", "processor")

	switch cfg.Format {
	case FormatBytes, "":
		return processor.Typed(serde.String(), serde.Bytes(), logRecord[[]byte](cfg.Delay, l)), nil
	case FormatString:
		return processor.Typed(serde.String(), serde.String(), logRecord[string](cfg.Delay, l)), nil
	case FormatJSON:
		return processor.Typed(serde.String(), serde.JSON[map[string]any](), logRecord[map[string]any](cfg.Delay, l)), nil
	case FormatProtobuf:
		return processor.Typed(
			serde.String(), serde.Protobuf[*structpb.Struct](),
			func(ctx context.Context, rec processor.Record[string, *structpb.Struct]) error {
				return logRecord[map[string]any](cfg.Delay, l)(
					ctx, processor.Record[string, map[string]any]{
						Key: rec.Key, Value: rec.Value.AsMap(), Topic: rec.Topic,
						Partition: rec.Partition, Offset: rec.Offset,
					},
				)
			},
		), nil
	default:
		return nil, fmt.Errorf("unknown processor format %q", cfg.Format)
	}
}

func logRecord[V any](delay time.Duration, l logger.Logger) processor.Func[string, V] {
	return func(ctx context.Context, rec processor.Record[string, V]) error {
		l.Debug(
			"Processed record", "topic", rec.Topic, "partition", rec.Partition, "offset", rec.Offset,
			"key", rec.Key, "value", rec.Value,
		)

		if delay <= 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
			return nil
		}
	}
}

package runner

import (
	"context"

	"github.com/hugolhafner/extoffset/kafka"
)

type Runner interface {
	kafka.RebalanceCallback
	Run(ctx context.Context) error
}

// Processor handles the records a worker takes off its queue. A returned error
// or a panic is passed to the loop's error handler; it never stops the worker.
type Processor interface {
	Process(ctx context.Context, rec kafka.ConsumerRecord) error
}

type ProcessorFunc func(ctx context.Context, rec kafka.ConsumerRecord) error

func (f ProcessorFunc) Process(ctx context.Context, rec kafka.ConsumerRecord) error {
	return f(ctx, rec)
}

// Finisher is implemented by processors that hold resources to release once
// every loop has stopped.
type Finisher interface {
	Finish(ctx context.Context) error
}

package extoffset

import (
	"context"
	"errors"
	"fmt"

	"github.com/hugolhafner/extoffset/kafka"
	"github.com/hugolhafner/extoffset/logger"
	"github.com/hugolhafner/extoffset/runner"
)

var ErrResetUnsupported = errors.New("consumer cannot reset offsets")

var _ runner.Hooks = (*DefaultHooks)(nil)

// DefaultHooks recover from out-of-range positions by resetting the affected
// partitions with the client's reset policy and writing the new offsets
// through to the store. Session timeouts and fatal errors are logged, the
// application stops on its own.
type DefaultHooks struct {
	logger logger.Logger
}

func NewDefaultHooks(l logger.Logger) *DefaultHooks {
	if l == nil {
		l = logger.NewNoopLogger()
	}
	return &DefaultHooks{logger: l.With("component", "hooks")}
}

func (h *DefaultHooks) OnOffsetOutOfRange(
	ctx context.Context, loop *runner.Loop, partitions []kafka.TopicPartition,
) error {
	resetter, ok := loop.Consumer().(kafka.OffsetResetter)
	if !ok {
		return ErrResetUnsupported
	}

	if len(partitions) == 0 {
		partitions = loop.Consumer().Assignment()
	}
	if len(partitions) == 0 {
		return nil
	}

	reset, err := resetter.ResetOffsets(ctx, partitions)
	if err != nil {
		return fmt.Errorf("reset offsets: %w", err)
	}

	tps := make([]kafka.TopicPartition, 0, len(reset))
	for tp := range reset {
		tps = append(tps, tp)
	}
	kafka.SortTopicPartitions(tps)

	var errs []error
	for _, tp := range tps {
		h.logger.Warn("Offset reset after out of range", "loop", loop.ID(), "partition", tp.String(), "offset", reset[tp])
		if err := loop.Manager().Reset(ctx, tp, reset[tp]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *DefaultHooks) OnSessionTimeout(_ context.Context, loop *runner.Loop) {
	h.logger.Error("Stopping application after session timeout", "loop", loop.ID())
}

func (h *DefaultHooks) OnFatalError(_ context.Context, loop *runner.Loop, err error) {
	h.logger.Error("Stopping application after consume loop failure", "loop", loop.ID(), "error", err)
}

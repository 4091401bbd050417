package runner

import (
	"context"
	"sync"

	"github.com/hugolhafner/extoffset/kafka"
)

// Hooks are the application callbacks a consume loop invokes on conditions it
// cannot resolve itself.
type Hooks interface {
	// OnOffsetOutOfRange is called when a poll reports a read position outside
	// the log. Partitions lists the affected partitions when the client knows
	// them and is empty otherwise. Polling continues afterwards.
	OnOffsetOutOfRange(ctx context.Context, loop *Loop, partitions []kafka.TopicPartition) error
	// OnSessionTimeout is called when the loop went longer than its session
	// timeout without a successful poll. The loop shuts down afterwards.
	OnSessionTimeout(ctx context.Context, loop *Loop)
	// OnFatalError is called with the error that made the loop exit.
	OnFatalError(ctx context.Context, loop *Loop, err error)
}

type NoopHooks struct{}

func (NoopHooks) OnOffsetOutOfRange(context.Context, *Loop, []kafka.TopicPartition) error {
	return nil
}

func (NoopHooks) OnSessionTimeout(context.Context, *Loop) {}

func (NoopHooks) OnFatalError(context.Context, *Loop, error) {}

var _ Hooks = (*SerialHooks)(nil)

// SerialHooks runs the hooks of every loop sharing it one at a time.
type SerialHooks struct {
	mu    sync.Mutex
	hooks Hooks
}

func NewSerialHooks(h Hooks) *SerialHooks {
	if h == nil {
		h = NoopHooks{}
	}
	return &SerialHooks{hooks: h}
}

func (s *SerialHooks) OnOffsetOutOfRange(
	ctx context.Context, loop *Loop, partitions []kafka.TopicPartition,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hooks.OnOffsetOutOfRange(ctx, loop, partitions)
}

func (s *SerialHooks) OnSessionTimeout(ctx context.Context, loop *Loop) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks.OnSessionTimeout(ctx, loop)
}

func (s *SerialHooks) OnFatalError(ctx context.Context, loop *Loop, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks.OnFatalError(ctx, loop, err)
}

// HookFuncs adapts plain functions to Hooks. Nil fields are no-ops.
type HookFuncs struct {
	OffsetOutOfRange func(ctx context.Context, loop *Loop, partitions []kafka.TopicPartition) error
	SessionTimeout   func(ctx context.Context, loop *Loop)
	FatalError       func(ctx context.Context, loop *Loop, err error)
}

func (h HookFuncs) OnOffsetOutOfRange(
	ctx context.Context, loop *Loop, partitions []kafka.TopicPartition,
) error {
	if h.OffsetOutOfRange == nil {
		return nil
	}
	return h.OffsetOutOfRange(ctx, loop, partitions)
}

func (h HookFuncs) OnSessionTimeout(ctx context.Context, loop *Loop) {
	if h.SessionTimeout != nil {
		h.SessionTimeout(ctx, loop)
	}
}

func (h HookFuncs) OnFatalError(ctx context.Context, loop *Loop, err error) {
	if h.FatalError != nil {
		h.FatalError(ctx, loop, err)
	}
}

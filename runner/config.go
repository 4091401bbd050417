package runner

import (
	"time"

	"github.com/hugolhafner/dskit/backoff"
	"github.com/hugolhafner/extoffset/errorhandler"
	"github.com/hugolhafner/extoffset/flusher"
	"github.com/hugolhafner/extoffset/logger"
	"github.com/hugolhafner/extoffset/otel"
)

// LoopConfig tunes a consume loop, its queues and its processing worker.
type LoopConfig struct {
	Logger           logger.Logger
	ErrorHandler     errorhandler.Handler
	PollErrorBackoff backoff.Backoff
	Telemetry        *otel.Telemetry
	Hooks            Hooks
	Trigger          flusher.Trigger
	InstanceID       string

	// QueueCapacity bounds the processing queue. Records that do not fit go to
	// the unbounded overflow queue.
	QueueCapacity int
	// OfferTimeout is how long a single record may wait for room in the
	// processing queue before it spills into overflow.
	OfferTimeout time.Duration
	// OverflowBackoff is slept after appending a batch to a non-empty overflow
	// queue, before trying to drain it.
	OverflowBackoff time.Duration
	// ThrottleSleep is slept after a batch that left records in overflow.
	ThrottleSleep time.Duration
	// StoreRetryInterval is how often polling re-checks an unhealthy offset store.
	StoreRetryInterval time.Duration
	// WorkerPollWait bounds a single wait of the worker on an empty queue.
	WorkerPollWait time.Duration
	// SessionTimeout is the longest a loop may go without a successful poll.
	SessionTimeout time.Duration
	// WorkerStopTimeout bounds waiting for the worker to finish queued records
	// during shutdown.
	WorkerStopTimeout time.Duration
}

func defaultLoopConfig() LoopConfig {
	l := logger.NewNoopLogger()
	return LoopConfig{
		Logger:             l,
		ErrorHandler:       errorhandler.LogAndContinue(l),
		PollErrorBackoff:   backoff.NewFixed(time.Second),
		Telemetry:          otel.Noop(),
		Hooks:              NoopHooks{},
		QueueCapacity:      3000,
		OfferTimeout:       200 * time.Millisecond,
		OverflowBackoff:    100 * time.Millisecond,
		ThrottleSleep:      30 * time.Millisecond,
		StoreRetryInterval: 50 * time.Millisecond,
		WorkerPollWait:     time.Second,
		SessionTimeout:     30 * time.Second,
		WorkerStopTimeout:  30 * time.Second,
	}
}

// ShutdownConfig tunes the coordinator shared by all loops of an application.
type ShutdownConfig struct {
	Logger logger.Logger
	// BarrierTimeout bounds how long a loop waits for its siblings before the
	// final sweep. Zero waits forever.
	BarrierTimeout time.Duration
}

func defaultShutdownConfig() ShutdownConfig {
	return ShutdownConfig{
		Logger: logger.NewNoopLogger(),
	}
}

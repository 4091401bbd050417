package runner

import (
	"time"

	"github.com/hugolhafner/dskit/backoff"
	"github.com/hugolhafner/extoffset/errorhandler"
	"github.com/hugolhafner/extoffset/flusher"
	"github.com/hugolhafner/extoffset/logger"
	"github.com/hugolhafner/extoffset/otel"
)

type LoopOption interface {
	applyLoop(*LoopConfig)
}

type ShutdownOption interface {
	applyShutdown(*ShutdownConfig)
}

type loggerOption struct {
	logger logger.Logger
}

func (o loggerOption) applyLoop(c *LoopConfig) {
	c.Logger = o.logger
}

func (o loggerOption) applyShutdown(c *ShutdownConfig) {
	c.Logger = o.logger
}

func WithLogger(l logger.Logger) loggerOption {
	return loggerOption{logger: l}
}

type errorHandlerOption struct {
	handler errorhandler.Handler
}

func (o errorHandlerOption) applyLoop(c *LoopConfig) {
	if o.handler != nil {
		c.ErrorHandler = o.handler
	}
}

// WithErrorHandler sets the handler deciding what the worker does with a record
// whose processing failed.
func WithErrorHandler(h errorhandler.Handler) errorHandlerOption {
	return errorHandlerOption{handler: h}
}

type pollErrorBackoffOption struct {
	b backoff.Backoff
}

func (o pollErrorBackoffOption) applyLoop(c *LoopConfig) {
	if o.b != nil {
		c.PollErrorBackoff = o.b
	}
}

func WithPollErrorBackoff(b backoff.Backoff) pollErrorBackoffOption {
	return pollErrorBackoffOption{b: b}
}

type telemetryOption struct {
	t *otel.Telemetry
}

func (o telemetryOption) applyLoop(c *LoopConfig) {
	if o.t != nil {
		c.Telemetry = o.t
	}
}

func WithTelemetry(t *otel.Telemetry) telemetryOption {
	return telemetryOption{t: t}
}

type hooksOption struct {
	hooks Hooks
}

func (o hooksOption) applyLoop(c *LoopConfig) {
	if o.hooks != nil {
		c.Hooks = o.hooks
	}
}

// WithHooks sets the callbacks invoked on offset-out-of-range, session timeout
// and fatal errors. Share a SerialHooks between loops to serialize them.
func WithHooks(h Hooks) hooksOption {
	return hooksOption{hooks: h}
}

type triggerOption struct {
	trigger flusher.Trigger
}

func (o triggerOption) applyLoop(c *LoopConfig) {
	c.Trigger = o.trigger
}

// WithTrigger reports advanced records to a flush trigger.
func WithTrigger(t flusher.Trigger) triggerOption {
	return triggerOption{trigger: t}
}

type instanceIDOption string

func (o instanceIDOption) applyLoop(c *LoopConfig) {
	c.InstanceID = string(o)
}

// WithInstanceID sets the process identity written into owner tags.
func WithInstanceID(id string) instanceIDOption {
	return instanceIDOption(id)
}

type queueCapacityOption int

func (o queueCapacityOption) applyLoop(c *LoopConfig) {
	if o > 0 {
		c.QueueCapacity = int(o)
	}
}

func WithQueueCapacity(n int) queueCapacityOption {
	return queueCapacityOption(n)
}

type offerTimeoutOption time.Duration

func (o offerTimeoutOption) applyLoop(c *LoopConfig) {
	if o > 0 {
		c.OfferTimeout = time.Duration(o)
	}
}

func WithOfferTimeout(d time.Duration) offerTimeoutOption {
	return offerTimeoutOption(d)
}

type overflowBackoffOption time.Duration

func (o overflowBackoffOption) applyLoop(c *LoopConfig) {
	if o >= 0 {
		c.OverflowBackoff = time.Duration(o)
	}
}

func WithOverflowBackoff(d time.Duration) overflowBackoffOption {
	return overflowBackoffOption(d)
}

type throttleSleepOption time.Duration

func (o throttleSleepOption) applyLoop(c *LoopConfig) {
	if o >= 0 {
		c.ThrottleSleep = time.Duration(o)
	}
}

func WithThrottleSleep(d time.Duration) throttleSleepOption {
	return throttleSleepOption(d)
}

type storeRetryIntervalOption time.Duration

func (o storeRetryIntervalOption) applyLoop(c *LoopConfig) {
	if o > 0 {
		c.StoreRetryInterval = time.Duration(o)
	}
}

func WithStoreRetryInterval(d time.Duration) storeRetryIntervalOption {
	return storeRetryIntervalOption(d)
}

type workerPollWaitOption time.Duration

func (o workerPollWaitOption) applyLoop(c *LoopConfig) {
	if o > 0 {
		c.WorkerPollWait = time.Duration(o)
	}
}

func WithWorkerPollWait(d time.Duration) workerPollWaitOption {
	return workerPollWaitOption(d)
}

type sessionTimeoutOption time.Duration

func (o sessionTimeoutOption) applyLoop(c *LoopConfig) {
	if o > 0 {
		c.SessionTimeout = time.Duration(o)
	}
}

// WithSessionTimeout sets how long a loop may go without a successful poll
// before it gives up and shuts down.
func WithSessionTimeout(d time.Duration) sessionTimeoutOption {
	return sessionTimeoutOption(d)
}

type workerStopTimeoutOption time.Duration

func (o workerStopTimeoutOption) applyLoop(c *LoopConfig) {
	if o > 0 {
		c.WorkerStopTimeout = time.Duration(o)
	}
}

func WithWorkerStopTimeout(d time.Duration) workerStopTimeoutOption {
	return workerStopTimeoutOption(d)
}

type barrierTimeoutOption time.Duration

func (o barrierTimeoutOption) applyShutdown(c *ShutdownConfig) {
	if o >= 0 {
		c.BarrierTimeout = time.Duration(o)
	}
}

// WithBarrierTimeout bounds the wait for sibling loops before the final sweep.
func WithBarrierTimeout(d time.Duration) barrierTimeoutOption {
	return barrierTimeoutOption(d)
}

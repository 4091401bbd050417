package runner

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hugolhafner/extoffset/errorhandler"
	"github.com/hugolhafner/extoffset/logger"
	"github.com/hugolhafner/extoffset/otel"
)

// Worker takes records off a loop's queue and runs them through the processor.
// It keeps going through processor errors and panics, and exits only once it
// was stopped and both queues are empty.
type Worker struct {
	loopID    int
	group     string
	queue     *Queue
	processor Processor
	handler   errorhandler.Handler
	wait      time.Duration
	telemetry *otel.Telemetry
	logger    logger.Logger

	started  atomic.Bool
	stopping atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
	cancel   context.CancelFunc
}

func newWorker(
	loopID int,
	group string,
	q *Queue,
	p Processor,
	handler errorhandler.Handler,
	wait time.Duration,
	tel *otel.Telemetry,
	l logger.Logger,
) *Worker {
	return &Worker{
		loopID:    loopID,
		group:     group,
		queue:     q,
		processor: p,
		handler:   handler,
		wait:      wait,
		telemetry: tel,
		logger:    l.With("component", "worker"),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
		cancel:    func() {},
	}
}

// Start runs the worker in its own goroutine. ctx is only used to abort
// processing; a cancelled ctx makes the worker exit without emptying its queue.
func (w *Worker) Start(ctx context.Context) {
	if !w.started.CompareAndSwap(false, true) {
		return
	}

	ctx, w.cancel = context.WithCancel(ctx)
	go w.run(ctx)
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.doneCh)

	w.logger.Debug("Worker started")

	for {
		stopping := w.stopping.Load()
		if stopping && w.queue.Empty() {
			w.logger.Debug("Worker stopped, queues empty")
			return
		}

		var wake <-chan struct{}
		if !stopping {
			wake = w.stopCh
		}

		rec, ok := w.queue.Take(ctx, w.wait, wake)
		if ok {
			processRecordWithRetry(ctx, w.loopID, w.group, rec, w.processor, w.handler, w.telemetry, w.logger)
			continue
		}

		if ctx.Err() != nil {
			w.logger.Warn(
				"Worker aborted", "processing", w.queue.ProcessingLen(), "overflow", w.queue.OverflowLen(),
			)
			return
		}
	}
}

// Stop asks the worker to exit once both queues are empty. It first waits for
// polling to cease so no record can be enqueued after the worker left.
func (w *Worker) Stop(pollCeased <-chan struct{}) {
	<-pollCeased
	w.stopOnce.Do(
		func() {
			w.stopping.Store(true)
			close(w.stopCh)
		},
	)
}

// Wait blocks until the worker exited or timeout passed, reporting whether it exited.
// A worker that was never started counts as exited.
func (w *Worker) Wait(timeout time.Duration) bool {
	if !w.started.Load() {
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-w.doneCh:
		return true
	case <-timer.C:
		return false
	}
}

// Abort cancels the record in progress and makes the worker exit.
func (w *Worker) Abort() {
	w.cancel()
}

func (w *Worker) Done() <-chan struct{} {
	return w.doneCh
}

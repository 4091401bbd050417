package runner

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/hugolhafner/extoffset/internal/barrier"
	"github.com/hugolhafner/extoffset/logger"
	"github.com/hugolhafner/extoffset/offset"
)

// ShutdownCoordinator runs the shutdown sequence of every loop of an application.
// Loops flush what they touched on their own, then meet at a barrier so the final
// sweep of the shared cache only starts once no loop can advance it anymore.
type ShutdownCoordinator struct {
	barrier *barrier.Barrier
	manager *offset.Manager
	config  ShutdownConfig
	logger  logger.Logger

	closed atomic.Bool
	sweeps atomic.Int64
}

// NewShutdownCoordinator creates a coordinator for parties loops. Every one of
// them must run, or the barrier only opens on its timeout.
func NewShutdownCoordinator(parties int, manager *offset.Manager, opts ...ShutdownOption) *ShutdownCoordinator {
	config := defaultShutdownConfig()
	for _, opt := range opts {
		opt.applyShutdown(&config)
	}

	return &ShutdownCoordinator{
		barrier: barrier.New(parties),
		manager: manager,
		config:  config,
		logger:  config.Logger.With("component", "shutdown"),
	}
}

// Close makes every loop sharing the coordinator stop at its next iteration.
func (c *ShutdownCoordinator) Close() {
	if c.closed.CompareAndSwap(false, true) {
		c.logger.Info("Shutdown requested")
	}
}

func (c *ShutdownCoordinator) Closed() bool {
	return c.closed.Load()
}

// Sweeps returns how many loops completed the final sweep.
func (c *ShutdownCoordinator) Sweeps() int64 {
	return c.sweeps.Load()
}

// Shutdown stops l and persists its progress. It is called once by every loop,
// whatever made it exit.
func (c *ShutdownCoordinator) Shutdown(ctx context.Context, l *Loop) {
	log := l.logger
	cfg := l.config

	if !l.transition(ctx, StateStopping) {
		// the worker must still be told that polling is over or Stop never returns
		log.Warn("Consume loop cannot enter Stopping, stopping anyway", "state", l.State().String())
		l.ceasePolling()
	}
	log.Info("Consume loop stopping")

	l.worker.Stop(l.pollCeased)
	if l.queue.OverflowLen() == 0 && !l.worker.Wait(cfg.WorkerStopTimeout) {
		log.Warn(
			"Worker did not finish queued records in time", "timeout", cfg.WorkerStopTimeout,
			"processing", l.queue.ProcessingLen(),
		)
	}

	for _, tp := range l.Touched() {
		err := c.manager.FlushKey(ctx, tp, l.consumer.Position)
		switch {
		case errors.Is(err, offset.ErrNotCached):
			log.Debug("Partition no longer cached, skipping flush", "partition", tp.String())
		case err != nil:
			log.Error("Failed to flush offset", "partition", tp.String(), "error", err)
		}
	}

	barrierCtx, cancel := ctx, context.CancelFunc(func() {})
	if c.config.BarrierTimeout > 0 {
		barrierCtx, cancel = context.WithTimeout(ctx, c.config.BarrierTimeout)
	}
	if _, err := c.barrier.Await(barrierCtx); err != nil {
		log.Warn("Not every consume loop reached shutdown, sweeping anyway", "error", err)
	}
	cancel()

	if err := c.manager.Sweep(ctx); err != nil {
		log.Error("Final offset sweep failed", "error", err)
	}
	c.sweeps.Add(1)

	l.consumer.Close()

	drainCtx, cancelDrain := context.WithTimeout(ctx, cfg.WorkerStopTimeout)
	if moved := l.queue.Drain(drainCtx, true); moved > 0 {
		log.Info("Handed overflow to worker", "count", moved)
	}
	cancelDrain()

	if !l.worker.Wait(cfg.WorkerStopTimeout) {
		log.Warn(
			"Worker did not stop in time, aborting", "processing", l.queue.ProcessingLen(),
			"overflow", l.queue.OverflowLen(),
		)
		l.worker.Abort()
		if !l.worker.Wait(cfg.WorkerStopTimeout) {
			log.Error("Worker ignored abort, leaving it behind")
		}
	}

	l.transition(ctx, StateStopped)
	log.Info("Consume loop stopped")
}

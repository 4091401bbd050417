package flusher

import (
	"context"
	"time"

	"github.com/hugolhafner/extoffset/logger"
)

// Flusher writes every cached offset record with unflushed progress to the store.
type Flusher interface {
	FlushAll(ctx context.Context) (int, error)
}

type HealthFlag interface {
	Healthy() bool
}

type Config struct {
	Interval time.Duration
	MaxCount int
	Logger   logger.Logger
}

func defaultConfig() Config {
	return Config{
		Interval: 5 * time.Second,
		MaxCount: 1000,
		Logger:   logger.NewNoopLogger(),
	}
}

type Option func(*Config)

func WithInterval(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.Interval = d
		}
	}
}

func WithMaxCount(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.MaxCount = n
		}
	}
}

func WithLogger(l logger.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// Periodic flushes on a fixed interval and whenever its trigger fires.
// Rounds are skipped while the store is unhealthy.
type Periodic struct {
	flusher Flusher
	health  HealthFlag
	trigger *PeriodicTrigger
	config  Config
	logger  logger.Logger

	done chan struct{}
}

func NewPeriodic(f Flusher, health HealthFlag, opts ...Option) *Periodic {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Periodic{
		flusher: f,
		health:  health,
		trigger: NewPeriodicTrigger(cfg.MaxCount, cfg.Interval),
		config:  cfg,
		logger:  cfg.Logger.With("component", "flusher"),
		done:    make(chan struct{}),
	}
}

// Trigger is fed by consume loops with the number of records they advanced.
func (p *Periodic) Trigger() Trigger {
	return p.trigger
}

// Run flushes until ctx is done or the trigger is closed.
func (p *Periodic) Run(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.flush(ctx, "interval")
		case _, ok := <-p.trigger.C():
			if !ok {
				return
			}
			p.flush(ctx, "count")
		}
	}
}

// Stop closes the trigger and waits for Run to return.
func (p *Periodic) Stop() {
	p.trigger.Close()
	<-p.done
}

func (p *Periodic) flush(ctx context.Context, reason string) {
	if p.health != nil && !p.health.Healthy() {
		p.logger.Debug("Skipping flush, offset store unavailable", "reason", reason)
		return
	}

	written, err := p.flusher.FlushAll(ctx)
	if err != nil {
		p.logger.Warn("Periodic flush failed", "reason", reason, "written", written, "error", err)
		return
	}

	if written > 0 {
		p.logger.Debug("Periodic flush", "reason", reason, "written", written)
	}
}

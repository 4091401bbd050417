package offset

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hugolhafner/dskit/backoff"
	"github.com/hugolhafner/extoffset/logger"
)

// Health is the shared store connectivity flag. It starts healthy.
type Health struct {
	healthy atomic.Bool

	mu      sync.Mutex
	lastErr error
	since   time.Time
}

func NewHealth() *Health {
	h := &Health{since: time.Now()}
	h.healthy.Store(true)
	return h
}

func (h *Health) Healthy() bool {
	return h.healthy.Load()
}

// MarkUnhealthy flips the flag and records the cause. It reports whether the flag changed.
func (h *Health) MarkUnhealthy(err error) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastErr = err
	if !h.healthy.CompareAndSwap(true, false) {
		return false
	}
	h.since = time.Now()
	return true
}

// MarkHealthy reports whether the flag changed.
func (h *Health) MarkHealthy() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.healthy.CompareAndSwap(false, true) {
		return false
	}
	h.lastErr = nil
	h.since = time.Now()
	return true
}

// LastError returns the error of the most recent failure while unhealthy.
func (h *Health) LastError() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.lastErr
}

// Since returns when the flag last changed.
func (h *Health) Since() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.since
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthCheckerConfig struct {
	Interval     time.Duration
	PingTimeout  time.Duration
	RetryBackoff backoff.Backoff
	Logger       logger.Logger
}

func defaultHealthCheckerConfig() HealthCheckerConfig {
	return HealthCheckerConfig{
		Interval:     5 * time.Second,
		PingTimeout:  2 * time.Second,
		RetryBackoff: backoff.NewFixed(500 * time.Millisecond),
		Logger:       logger.NewNoopLogger(),
	}
}

type HealthCheckerOption func(*HealthCheckerConfig)

func WithCheckInterval(d time.Duration) HealthCheckerOption {
	return func(c *HealthCheckerConfig) {
		if d > 0 {
			c.Interval = d
		}
	}
}

func WithPingTimeout(d time.Duration) HealthCheckerOption {
	return func(c *HealthCheckerConfig) {
		if d > 0 {
			c.PingTimeout = d
		}
	}
}

func WithRetryBackoff(b backoff.Backoff) HealthCheckerOption {
	return func(c *HealthCheckerConfig) {
		if b != nil {
			c.RetryBackoff = b
		}
	}
}

func WithCheckerLogger(l logger.Logger) HealthCheckerOption {
	return func(c *HealthCheckerConfig) {
		c.Logger = l
	}
}

// HealthChecker keeps a Health flag in line with the reachability of a store.
type HealthChecker struct {
	pinger Pinger
	health *Health
	config HealthCheckerConfig
	logger logger.Logger
}

func NewHealthChecker(pinger Pinger, health *Health, opts ...HealthCheckerOption) *HealthChecker {
	cfg := defaultHealthCheckerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &HealthChecker{
		pinger: pinger,
		health: health,
		config: cfg,
		logger: cfg.Logger.With("component", "health-checker"),
	}
}

// Check pings the store once and updates the flag.
func (h *HealthChecker) Check(ctx context.Context) bool {
	pingCtx, cancel := context.WithTimeout(ctx, h.config.PingTimeout)
	defer cancel()

	if err := h.pinger.Ping(pingCtx); err != nil {
		if h.health.MarkUnhealthy(err) {
			h.logger.Warn("Offset store unreachable", "error", err)
		}
		return false
	}

	if h.health.MarkHealthy() {
		h.logger.Info("Offset store reachable again")
	}
	return true
}

// Run checks until ctx is done: every Interval while healthy, with RetryBackoff while not.
func (h *HealthChecker) Run(ctx context.Context) {
	var attempt uint
	for {
		var wait time.Duration
		if h.Check(ctx) {
			attempt = 0
			wait = h.config.Interval
		} else {
			attempt++
			wait = h.config.RetryBackoff.Next(attempt)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

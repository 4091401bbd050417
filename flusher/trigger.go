package flusher

import (
	"sync"
	"time"
)

// Trigger signals on C when enough progress has accumulated to warrant a flush.
type Trigger interface {
	C() <-chan struct{}
	RecordsAdvanced(count int)
	Close()
}

var _ Trigger = (*PeriodicTrigger)(nil)

// PeriodicTrigger fires once MaxCount records have been advanced, or once
// MaxInterval has passed since it last fired and at least one record was advanced.
type PeriodicTrigger struct {
	mu        sync.Mutex
	maxCount  int
	interval  time.Duration
	count     int
	lastFired time.Time
	closed    bool
	channel   chan struct{}
}

func NewPeriodicTrigger(maxCount int, maxInterval time.Duration) *PeriodicTrigger {
	return &PeriodicTrigger{
		maxCount:  maxCount,
		interval:  maxInterval,
		lastFired: time.Now(),
		channel:   make(chan struct{}, 1),
	}
}

func (p *PeriodicTrigger) RecordsAdvanced(count int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	p.count += count
	if p.count > 0 && (p.count >= p.maxCount || time.Since(p.lastFired) >= p.interval) {
		select {
		case p.channel <- struct{}{}:
		default:
		}

		p.count = 0
		p.lastFired = time.Now()
	}
}

func (p *PeriodicTrigger) C() <-chan struct{} {
	return p.channel
}

func (p *PeriodicTrigger) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	close(p.channel)
}

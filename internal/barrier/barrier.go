package barrier

import (
	"context"
	"errors"
	"sync"
)

// ErrBroken is returned to every waiter of a generation that was abandoned by one of its parties.
var ErrBroken = errors.New("barrier broken")

type generation struct {
	done   chan struct{}
	broken bool
}

// Barrier releases its waiters once the configured number of parties have arrived,
// then resets for the next round.
type Barrier struct {
	parties int

	mu      sync.Mutex
	waiting int
	gen     *generation
}

func New(parties int) *Barrier {
	if parties < 1 {
		parties = 1
	}

	return &Barrier{
		parties: parties,
		gen:     &generation{done: make(chan struct{})},
	}
}

func (b *Barrier) Parties() int {
	return b.parties
}

// Waiting returns how many parties are blocked in the current round.
func (b *Barrier) Waiting() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.waiting
}

// Await blocks until all parties arrived. The last party to arrive returns index 0.
// If ctx ends first the round is broken and every waiter of it gets ErrBroken.
func (b *Barrier) Await(ctx context.Context) (int, error) {
	b.mu.Lock()
	gen := b.gen
	if gen.broken {
		b.mu.Unlock()
		return 0, ErrBroken
	}

	b.waiting++
	index := b.parties - b.waiting
	if index == 0 {
		b.next()
		b.mu.Unlock()
		return 0, nil
	}
	b.mu.Unlock()

	select {
	case <-gen.done:
		b.mu.Lock()
		broken := gen.broken
		b.mu.Unlock()
		if broken {
			return index, ErrBroken
		}
		return index, nil
	case <-ctx.Done():
		b.mu.Lock()
		defer b.mu.Unlock()

		if gen != b.gen {
			// released while ctx ended
			if gen.broken {
				return index, ErrBroken
			}
			return index, nil
		}

		b.breakLocked()
		return index, errors.Join(ErrBroken, ctx.Err())
	}
}

// Reset breaks the current round and starts a fresh one.
func (b *Barrier) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.breakLocked()
	b.next()
}

func (b *Barrier) breakLocked() {
	if b.gen.broken {
		return
	}
	b.gen.broken = true
	close(b.gen.done)
}

func (b *Barrier) next() {
	if !b.gen.broken {
		close(b.gen.done)
	}
	b.waiting = 0
	b.gen = &generation{done: make(chan struct{})}
}

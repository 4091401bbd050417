package offset

import (
	"errors"
	"sync"

	"github.com/hugolhafner/extoffset/kafka"
)

// ErrNotCached is returned for operations on a partition that has no cache entry.
var ErrNotCached = errors.New("offset record not cached")

type entry struct {
	mu      sync.Mutex
	rec     Record
	present bool
	removed bool
}

// Cache holds at most one Record per topic partition. Operations on a single key are
// mutually exclusive per key and run concurrently across keys; Sweep excludes all of them.
type Cache struct {
	sweep sync.RWMutex

	mu      sync.Mutex
	entries map[kafka.TopicPartition]*entry
}

func NewCache() *Cache {
	return &Cache{
		entries: make(map[kafka.TopicPartition]*entry),
	}
}

// Compute runs fn with exclusive access to the record of tp, creating the entry if
// needed. present is false when the entry is new, in which case a failing fn leaves
// nothing behind.
func (c *Cache) Compute(tp kafka.TopicPartition, fn func(rec *Record, present bool) error) error {
	c.sweep.RLock()
	defer c.sweep.RUnlock()

	for {
		e := c.entry(tp, true)

		e.mu.Lock()
		if e.removed {
			// lost a race with a failed creation, start over with a fresh entry
			e.mu.Unlock()
			continue
		}

		err := c.compute(tp, e, fn)
		e.mu.Unlock()
		return err
	}
}

func (c *Cache) compute(tp kafka.TopicPartition, e *entry, fn func(rec *Record, present bool) error) error {
	present := e.present
	if err := fn(&e.rec, present); err != nil {
		if !present {
			c.mu.Lock()
			e.removed = true
			if c.entries[tp] == e {
				delete(c.entries, tp)
			}
			c.mu.Unlock()
		}
		return err
	}

	e.present = true
	return nil
}

// Update runs fn with exclusive access to an existing record and returns ErrNotCached
// when tp has no entry.
func (c *Cache) Update(tp kafka.TopicPartition, fn func(rec *Record) error) error {
	c.sweep.RLock()
	defer c.sweep.RUnlock()

	e := c.entry(tp, false)
	if e == nil {
		return ErrNotCached
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.present || e.removed {
		return ErrNotCached
	}

	return fn(&e.rec)
}

func (c *Cache) entry(tp kafka.TopicPartition, create bool) *entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[tp]
	if !ok || e.removed {
		if !create {
			return nil
		}
		e = &entry{}
		c.entries[tp] = e
	}

	return e
}

// Get returns a copy of the cached record of tp.
func (c *Cache) Get(tp kafka.TopicPartition) (Record, bool) {
	c.sweep.RLock()
	defer c.sweep.RUnlock()

	e := c.entry(tp, false)
	if e == nil {
		return Record{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.present {
		return Record{}, false
	}

	return e.rec, true
}

// Keys returns the cached partitions in sorted order.
func (c *Cache) Keys() []kafka.TopicPartition {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]kafka.TopicPartition, 0, len(c.entries))
	for tp, e := range c.entries {
		if e.removed {
			continue
		}
		keys = append(keys, tp)
	}
	kafka.SortTopicPartitions(keys)

	return keys
}

func (c *Cache) Len() int {
	return len(c.Keys())
}

// Snapshot returns copies of all cached records.
func (c *Cache) Snapshot() map[kafka.TopicPartition]Record {
	out := make(map[kafka.TopicPartition]Record)
	for _, tp := range c.Keys() {
		if rec, ok := c.Get(tp); ok {
			out[tp] = rec
		}
	}
	return out
}

// Sweep visits every cached record in partition order while holding the cache
// exclusively. Records for which fn returns true are removed.
func (c *Cache) Sweep(fn func(rec *Record) (remove bool)) {
	c.sweep.Lock()
	defer c.sweep.Unlock()

	c.mu.Lock()
	keys := make([]kafka.TopicPartition, 0, len(c.entries))
	for tp := range c.entries {
		keys = append(keys, tp)
	}
	c.mu.Unlock()
	kafka.SortTopicPartitions(keys)

	for _, tp := range keys {
		c.mu.Lock()
		e := c.entries[tp]
		c.mu.Unlock()

		if e == nil || !e.present {
			continue
		}

		if fn(&e.rec) {
			c.mu.Lock()
			e.removed = true
			delete(c.entries, tp)
			c.mu.Unlock()
		}
	}
}

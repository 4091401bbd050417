package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/hugolhafner/extoffset/offset"
)

var _ offset.Store = (*Store)(nil)

var ErrClosed = errors.New("memory store closed")

// Store keeps offset records in process memory. It counts calls per identity and
// can be told to fail, which makes it the store double for tests.
type Store struct {
	mu sync.RWMutex

	rows    map[offset.Identity]offset.Record
	reads   map[offset.Identity]int
	upserts map[offset.Identity]int
	history map[offset.Identity][]offset.Record
	pings   int

	readErr   error
	upsertErr error
	pingErr   error
	closed    bool
}

func New() *Store {
	return &Store{
		rows:    make(map[offset.Identity]offset.Record),
		reads:   make(map[offset.Identity]int),
		upserts: make(map[offset.Identity]int),
		history: make(map[offset.Identity][]offset.Record),
	}
}

func (s *Store) Read(ctx context.Context, id offset.Identity) (offset.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reads[id]++
	if err := s.check(ctx, s.readErr); err != nil {
		return offset.Record{}, false, err
	}

	rec, ok := s.rows[id]
	return rec, ok, nil
}

func (s *Store) Upsert(ctx context.Context, rec offset.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := rec.Identity()
	s.upserts[id]++
	if err := s.check(ctx, s.upsertErr); err != nil {
		return err
	}

	if existing, ok := s.rows[id]; ok {
		rec.CreateTime = existing.CreateTime
	}
	s.rows[id] = rec
	s.history[id] = append(s.history[id], rec)
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pings++
	return s.check(ctx, s.pingErr)
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

func (s *Store) check(ctx context.Context, injected error) error {
	if s.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return injected
}

// Put stores rec directly, bypassing counters.
func (s *Store) Put(rec offset.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rows[rec.Identity()] = rec
}

func (s *Store) Row(id offset.Identity) (offset.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.rows[id]
	return rec, ok
}

// History returns every record written for id, oldest first.
func (s *Store) History(id offset.Identity) []offset.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]offset.Record, len(s.history[id]))
	copy(out, s.history[id])
	return out
}

func (s *Store) Reads(id offset.Identity) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.reads[id]
}

func (s *Store) Upserts(id offset.Identity) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.upserts[id]
}

// Calls returns the total number of reads and upserts across all identities.
func (s *Store) Calls() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, c := range s.reads {
		n += c
	}
	for _, c := range s.upserts {
		n += c
	}
	return n
}

func (s *Store) Pings() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.pings
}

func (s *Store) IsClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.closed
}

func (s *Store) SetReadError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.readErr = err
}

func (s *Store) SetUpsertError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.upsertErr = err
}

func (s *Store) SetPingError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pingErr = err
}

// SetUnavailable makes every call fail with err, or clears all injected errors when err is nil.
func (s *Store) SetUnavailable(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.readErr = err
	s.upsertErr = err
	s.pingErr = err
}

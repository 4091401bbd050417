package offset

import (
	"context"
	"errors"
)

// ErrStoreUnavailable marks failures caused by the store being unreachable.
var ErrStoreUnavailable = errors.New("offset store unavailable")

// Store persists offset records keyed by Identity.
type Store interface {
	// Read returns the stored record of id, or false when no row exists.
	Read(ctx context.Context, id Identity) (Record, bool, error)
	// Upsert inserts rec or replaces the stored values of its identity.
	Upsert(ctx context.Context, rec Record) error
	// Ping checks store connectivity.
	Ping(ctx context.Context) error
	Close() error
}

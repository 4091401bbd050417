package failover

import (
	"context"
	"errors"
	"fmt"

	"github.com/hugolhafner/extoffset/logger"
	"github.com/hugolhafner/extoffset/offset"
)

var _ offset.Store = (*Store)(nil)

type Option func(*Store)

// WithoutMirror stops writes that reached the primary from being copied to the backup.
func WithoutMirror() Option {
	return func(s *Store) {
		s.mirror = false
	}
}

func WithLogger(l logger.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// Store writes to a primary store and falls back to a backup when the primary fails.
// It is reachable while either side is.
type Store struct {
	primary offset.Store
	backup  offset.Store
	mirror  bool
	logger  logger.Logger
}

func New(primary, backup offset.Store, opts ...Option) *Store {
	s := &Store{
		primary: primary,
		backup:  backup,
		mirror:  true,
		logger:  logger.NewNoopLogger(),
	}

	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "failover-store")

	return s
}

func (s *Store) Read(ctx context.Context, id offset.Identity) (offset.Record, bool, error) {
	rec, found, err := s.primary.Read(ctx, id)
	if err == nil {
		return rec, found, nil
	}

	s.logger.Warn("Primary read failed, reading backup", "topic", id.Topic, "partition", id.Partition, "error", err)

	rec, found, backupErr := s.backup.Read(ctx, id)
	if backupErr != nil {
		return offset.Record{}, false, errors.Join(err, fmt.Errorf("backup: %w", backupErr))
	}

	return rec, found, nil
}

func (s *Store) Upsert(ctx context.Context, rec offset.Record) error {
	err := s.primary.Upsert(ctx, rec)
	if err == nil {
		if s.mirror {
			if mirrorErr := s.backup.Upsert(ctx, rec); mirrorErr != nil {
				s.logger.Debug("Backup mirror write failed", "partition", rec.TopicPartition().String(), "error", mirrorErr)
			}
		}
		return nil
	}

	s.logger.Warn("Primary write failed, writing backup", "partition", rec.TopicPartition().String(), "error", err)

	if backupErr := s.backup.Upsert(ctx, rec); backupErr != nil {
		return errors.Join(err, fmt.Errorf("backup: %w", backupErr))
	}

	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	primaryErr := s.primary.Ping(ctx)
	if primaryErr == nil {
		return nil
	}

	backupErr := s.backup.Ping(ctx)
	if backupErr == nil {
		return nil
	}

	return errors.Join(primaryErr, fmt.Errorf("backup: %w", backupErr))
}

func (s *Store) Close() error {
	return errors.Join(s.primary.Close(), s.backup.Close())
}

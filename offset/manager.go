package offset

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hugolhafner/extoffset/kafka"
	"github.com/hugolhafner/extoffset/logger"
	"github.com/hugolhafner/extoffset/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"
)

// PositionFunc returns the consumer's read position for a partition.
type PositionFunc func(tp kafka.TopicPartition) (int64, error)

type ManagerConfig struct {
	Cluster      string
	Group        string
	Logger       logger.Logger
	Telemetry    *otel.Telemetry
	EagerFlush   rate.Limit
	EagerBurst   int
	StoreTimeout time.Duration
}

func defaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Cluster:   "default",
		Group:     "default-group",
		Logger:    logger.NewNoopLogger(),
		Telemetry: otel.Noop(),
	}
}

type ManagerOption func(*ManagerConfig)

func WithCluster(name string) ManagerOption {
	return func(c *ManagerConfig) {
		c.Cluster = name
	}
}

func WithGroup(group string) ManagerOption {
	return func(c *ManagerConfig) {
		c.Group = group
	}
}

func WithLogger(l logger.Logger) ManagerOption {
	return func(c *ManagerConfig) {
		c.Logger = l
	}
}

func WithTelemetry(t *otel.Telemetry) ManagerOption {
	return func(c *ManagerConfig) {
		if t != nil {
			c.Telemetry = t
		}
	}
}

// WithEagerFlush writes a record to the store on advance, at most every interval per partition.
func WithEagerFlush(every time.Duration) ManagerOption {
	return func(c *ManagerConfig) {
		if every > 0 {
			c.EagerFlush = rate.Every(every)
			c.EagerBurst = 1
		}
	}
}

// WithStoreTimeout bounds every store call issued by the manager. Zero leaves them unbounded.
func WithStoreTimeout(d time.Duration) ManagerOption {
	return func(c *ManagerConfig) {
		c.StoreTimeout = d
	}
}

// Manager keeps the cache and the store in sync: read-through on miss, write-behind on flush.
type Manager struct {
	cache  *Cache
	store  Store
	health *Health
	config ManagerConfig
	logger logger.Logger

	limitersMu sync.Mutex
	limiters   map[kafka.TopicPartition]*rate.Limiter

	now func() time.Time
}

func NewManager(cache *Cache, store Store, health *Health, opts ...ManagerOption) *Manager {
	cfg := defaultManagerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Manager{
		cache:    cache,
		store:    store,
		health:   health,
		config:   cfg,
		logger:   cfg.Logger.With("component", "offset-manager", "cluster", cfg.Cluster, "group", cfg.Group),
		limiters: make(map[kafka.TopicPartition]*rate.Limiter),
		now:      time.Now,
	}
}

func (m *Manager) Cluster() string {
	return m.config.Cluster
}

func (m *Manager) Group() string {
	return m.config.Group
}

func (m *Manager) Health() *Health {
	return m.health
}

func (m *Manager) Cache() *Cache {
	return m.cache
}

type advance struct {
	owner      string
	setOwner   bool
	count      int64
	countIsSet bool
}

type AdvanceOption func(*advance)

// AsOwner stamps owner on the record.
func AsOwner(owner string) AdvanceOption {
	return func(a *advance) {
		a.owner = owner
		a.setOwner = true
	}
}

// ReleaseOwner clears the owner, marking the partition as safely released.
func ReleaseOwner() AdvanceOption {
	return func(a *advance) {
		a.owner = ""
		a.setOwner = true
	}
}

// WithCount records how many records the advance covers.
func WithCount(n int64) AdvanceOption {
	return func(a *advance) {
		a.count = n
		a.countIsSet = true
	}
}

// Advance moves the cached offset of tp forward to offset, loading the record from
// the store on a cache miss. Offsets lower than the cached one are ignored.
func (m *Manager) Advance(ctx context.Context, tp kafka.TopicPartition, offset int64, opts ...AdvanceOption) error {
	if offset < 0 {
		return fmt.Errorf("advance %s: negative offset %d", tp, offset)
	}

	var a advance
	for _, opt := range opts {
		opt(&a)
	}

	err := m.cache.Compute(
		tp, func(rec *Record, present bool) error {
			if !present {
				loaded, err := m.load(ctx, tp)
				if err != nil {
					return err
				}
				*rec = loaded
			}

			now := m.now()
			if offset < rec.Offset {
				m.logger.Debug(
					"Ignoring offset regression", "partition", tp.String(), "cached", rec.Offset, "offset", offset,
				)
			} else {
				rec.Offset = offset
			}

			if a.countIsSet {
				rec.Count = a.count
			}

			if a.setOwner && rec.Owner != a.owner {
				rec.Owner = a.owner
				rec.dirty = true
			}

			rec.UpdateTime = now
			return nil
		},
	)
	if err != nil {
		return fmt.Errorf("advance %s: %w", tp, err)
	}

	if m.eagerAllowed(tp) {
		if err := m.flushKey(ctx, tp, nil, otel.FlushReasonEager); err != nil && !errors.Is(err, ErrNotCached) {
			m.logger.Warn("Eager flush failed", "partition", tp.String(), "error", err)
		}
	}

	return nil
}

func (m *Manager) eagerAllowed(tp kafka.TopicPartition) bool {
	if m.config.EagerFlush == 0 {
		return false
	}

	m.limitersMu.Lock()
	l, ok := m.limiters[tp]
	if !ok {
		l = rate.NewLimiter(m.config.EagerFlush, m.config.EagerBurst)
		// the first advance of a partition is not flushed eagerly
		l.Allow()
		m.limiters[tp] = l
	}
	m.limitersMu.Unlock()

	return l.Allow()
}

// Release clears the owner of the cached record of tp if it is still owner. The
// offset is left as cached. It returns ErrNotCached when tp has no entry.
func (m *Manager) Release(_ context.Context, tp kafka.TopicPartition, owner string) error {
	return m.cache.Update(
		tp, func(rec *Record) error {
			if rec.Owner == "" || rec.Owner != owner {
				return nil
			}
			rec.Owner = ""
			rec.UpdateTime = m.now()
			rec.dirty = true
			return nil
		},
	)
}

// Lookup returns the next offset to consume for tp, loading it on a cache miss.
// Zero means no progress has been stored.
func (m *Manager) Lookup(ctx context.Context, tp kafka.TopicPartition) (int64, error) {
	var offset int64
	err := m.cache.Compute(
		tp, func(rec *Record, present bool) error {
			if !present {
				loaded, err := m.load(ctx, tp)
				if err != nil {
					return err
				}
				*rec = loaded
			}
			offset = rec.Offset
			return nil
		},
	)
	if err != nil {
		return 0, fmt.Errorf("lookup %s: %w", tp, err)
	}

	return offset, nil
}

// Get returns a copy of the cached record of tp.
func (m *Manager) Get(tp kafka.TopicPartition) (Record, bool) {
	return m.cache.Get(tp)
}

func (m *Manager) load(ctx context.Context, tp kafka.TopicPartition) (Record, error) {
	id := Identity{Cluster: m.config.Cluster, Topic: tp.Topic, Partition: tp.Partition, Group: m.config.Group}

	storeCtx, cancel := m.storeContext(ctx)
	defer cancel()

	rec, found, err := m.store.Read(storeCtx, id)
	if err != nil {
		if m.health.MarkUnhealthy(err) {
			m.logger.Warn("Offset store read failed, marking unhealthy", "partition", tp.String(), "error", err)
		}
		return Record{}, fmt.Errorf("read %s: %w", tp, err)
	}

	now := m.now()
	if !found {
		m.logger.Debug("No stored offset, starting from zero", "partition", tp.String())
		return Record{
			Cluster:    id.Cluster,
			Topic:      id.Topic,
			Partition:  id.Partition,
			Group:      id.Group,
			CreateTime: now,
			UpdateTime: now,
		}, nil
	}

	// what the store holds is durable by definition
	rec.LastFlushOffset = rec.Offset
	rec.dirty = false
	return rec, nil
}

// FlushKey writes the cached record of tp to the store if it has unflushed progress.
// When pos is given, the cached offset is first raised to the consumer's read position
// if that position is ahead. It returns ErrNotCached when tp has no cache entry.
func (m *Manager) FlushKey(ctx context.Context, tp kafka.TopicPartition, pos PositionFunc) error {
	return m.flushKey(ctx, tp, pos, otel.FlushReasonShutdown)
}

// FlushRevoked flushes the records of partitions handed off by a rebalance.
func (m *Manager) FlushRevoked(ctx context.Context, partitions []kafka.TopicPartition) error {
	var errs []error
	for _, tp := range partitions {
		err := m.flushKey(ctx, tp, nil, otel.FlushReasonRevoke)
		if err != nil && !errors.Is(err, ErrNotCached) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) flushKey(ctx context.Context, tp kafka.TopicPartition, pos PositionFunc, reason string) error {
	return m.cache.Update(
		tp, func(rec *Record) error {
			return m.flush(ctx, rec, pos, reason)
		},
	)
}

// FlushAll flushes every cached record without removing any. It returns how many
// records were written.
func (m *Manager) FlushAll(ctx context.Context) (int, error) {
	var (
		written int
		errs    []error
	)

	for _, tp := range m.cache.Keys() {
		err := m.cache.Update(
			tp, func(rec *Record) error {
				need := rec.NeedsFlush()
				if err := m.flush(ctx, rec, nil, otel.FlushReasonPeriodic); err != nil {
					return err
				}
				if need {
					written++
				}
				return nil
			},
		)
		if err != nil && !errors.Is(err, ErrNotCached) {
			errs = append(errs, err)
		}
	}

	return written, errors.Join(errs...)
}

// Sweep flushes every cached record while holding the cache exclusively and removes
// the ones that reached the store. Records whose write failed stay cached.
func (m *Manager) Sweep(ctx context.Context) error {
	var errs []error
	m.cache.Sweep(
		func(rec *Record) bool {
			if err := m.flush(ctx, rec, nil, otel.FlushReasonSweep); err != nil {
				errs = append(errs, err)
				return false
			}
			return true
		},
	)

	return errors.Join(errs...)
}

// Reset moves tp to offset and writes it through to the store. It is the only
// operation that may move an offset backwards.
func (m *Manager) Reset(ctx context.Context, tp kafka.TopicPartition, offset int64) error {
	if offset < 0 {
		return fmt.Errorf("reset %s: negative offset %d", tp, offset)
	}

	var writeErr error
	err := m.cache.Compute(
		tp, func(rec *Record, present bool) error {
			if !present {
				loaded, err := m.load(ctx, tp)
				if err != nil {
					return err
				}
				*rec = loaded
			}

			m.logger.Info("Resetting offset", "partition", tp.String(), "from", rec.Offset, "to", offset)

			rec.Offset = offset
			if rec.LastFlushOffset > offset {
				rec.LastFlushOffset = offset
			}
			rec.UpdateTime = m.now()
			rec.dirty = true

			// a failed write keeps the reset cached and dirty, the next flush retries it
			writeErr = m.write(ctx, rec, otel.FlushReasonReset)
			return nil
		},
	)
	if err != nil {
		return fmt.Errorf("reset %s: %w", tp, err)
	}

	return writeErr
}

func (m *Manager) flush(ctx context.Context, rec *Record, pos PositionFunc, reason string) error {
	tp := rec.TopicPartition()

	if pos != nil {
		p, err := pos(tp)
		switch {
		case err != nil:
			m.logger.Debug("No consumer position for flush correction", "partition", tp.String(), "error", err)
		case p != 0 && p > rec.Offset:
			m.logger.Info(
				"Raising cached offset to consumer position", "partition", tp.String(), "cached", rec.Offset,
				"position", p,
			)
			rec.Offset = p
		}
	}

	if !rec.NeedsFlush() {
		return nil
	}

	return m.write(ctx, rec, reason)
}

func (m *Manager) write(ctx context.Context, rec *Record, reason string) error {
	tp := rec.TopicPartition()
	lag := rec.Lag()

	out := *rec
	out.LastFlushOffset = rec.Offset
	out.UpdateTime = m.now()
	if out.CreateTime.IsZero() {
		out.CreateTime = out.UpdateTime
	}

	storeCtx, cancel := m.storeContext(ctx)
	defer cancel()

	start := time.Now()
	err := m.store.Upsert(storeCtx, out)
	m.config.Telemetry.FlushDuration.Record(ctx, time.Since(start).Seconds())

	if err != nil {
		m.config.Telemetry.StoreFlushes.Add(ctx, 1, metric.WithAttributes(flushAttrs(tp, reason, otel.StatusFailed)...))
		if m.health.MarkUnhealthy(err) {
			m.logger.Warn("Offset store write failed, marking unhealthy", "partition", tp.String(), "error", err)
		}
		return fmt.Errorf("flush %s: %w", tp, err)
	}

	m.config.Telemetry.StoreFlushes.Add(ctx, 1, metric.WithAttributes(flushAttrs(tp, reason, otel.StatusSuccess)...))
	m.config.Telemetry.FlushLag.Record(ctx, lag)

	rec.LastFlushOffset = rec.Offset
	rec.UpdateTime = out.UpdateTime
	rec.CreateTime = out.CreateTime
	rec.dirty = false

	m.logger.Debug("Flushed offset", "partition", tp.String(), "offset", rec.Offset, "lag", lag, "reason", reason)
	return nil
}

func (m *Manager) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.config.StoreTimeout > 0 {
		return context.WithTimeout(ctx, m.config.StoreTimeout)
	}
	return context.WithCancel(ctx)
}

func flushAttrs(tp kafka.TopicPartition, reason, status string) []attribute.KeyValue {
	return []attribute.KeyValue{
		otel.AttrTopic.String(tp.Topic),
		otel.AttrPartition.Int(int(tp.Partition)),
		otel.AttrFlushReason.String(reason),
		otel.AttrFlushStatus.String(status),
	}
}

package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/hugolhafner/extoffset/logger"
	"github.com/hugolhafner/extoffset/offset"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

var _ offset.Store = (*Store)(nil)

const DefaultPrefix = "extoffset"

type Config struct {
	Prefix string
	TTL    time.Duration
	Logger logger.Logger
}

func defaultConfig() Config {
	return Config{
		Prefix: DefaultPrefix,
		Logger: logger.NewNoopLogger(),
	}
}

type Option func(*Config)

func WithPrefix(prefix string) Option {
	return func(c *Config) {
		if prefix != "" {
			c.Prefix = prefix
		}
	}
}

// WithTTL expires stored records that have not been written for d. Zero keeps them forever.
func WithTTL(d time.Duration) Option {
	return func(c *Config) {
		c.TTL = d
	}
}

func WithLogger(l logger.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// Store keeps one protobuf-encoded record per identity under a single Redis key.
type Store struct {
	client goredis.UniversalClient
	config Config
	logger logger.Logger
}

// New wraps an existing client. The client is closed by Close.
func New(client goredis.UniversalClient, opts ...Option) *Store {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Store{
		client: client,
		config: cfg,
		logger: cfg.Logger.With("component", "redis-store"),
	}
}

// Open connects to the server at addr.
func Open(addr, password string, db int, opts ...Option) *Store {
	return New(
		goredis.NewClient(
			&goredis.Options{
				Addr:     addr,
				Password: password,
				DB:       db,
			},
		), opts...,
	)
}

func (s *Store) key(id offset.Identity) string {
	return s.config.Prefix + ":" + id.Cluster + ":" + id.Group + ":" + id.Topic + ":" +
		strconv.FormatInt(int64(id.Partition), 10)
}

func (s *Store) Read(ctx context.Context, id offset.Identity) (offset.Record, bool, error) {
	raw, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return offset.Record{}, false, nil
	}
	if err != nil {
		return offset.Record{}, false, fmt.Errorf("read offset: %w", err)
	}

	rec, err := decode(raw)
	if err != nil {
		return offset.Record{}, false, fmt.Errorf("decode offset %s: %w", s.key(id), err)
	}

	rec.Cluster, rec.Topic, rec.Partition, rec.Group = id.Cluster, id.Topic, id.Partition, id.Group
	return rec, true, nil
}

func (s *Store) Upsert(ctx context.Context, rec offset.Record) error {
	key := s.key(rec.Identity())

	existing, err := s.client.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, goredis.Nil):
	case err != nil:
		return fmt.Errorf("upsert offset %s: %w", rec.TopicPartition(), err)
	default:
		// create_time belongs to the first write
		if prev, err := decode(existing); err == nil && !prev.CreateTime.IsZero() {
			rec.CreateTime = prev.CreateTime
		}
	}

	raw, err := encode(rec)
	if err != nil {
		return fmt.Errorf("encode offset %s: %w", rec.TopicPartition(), err)
	}

	if err := s.client.Set(ctx, key, raw, s.config.TTL).Err(); err != nil {
		return fmt.Errorf("upsert offset %s: %w", rec.TopicPartition(), err)
	}

	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.client.Close()
}

func encode(rec offset.Record) ([]byte, error) {
	st, err := structpb.NewStruct(
		map[string]any{
			"offset":            strconv.FormatInt(rec.Offset, 10),
			"last_flush_offset": strconv.FormatInt(rec.LastFlushOffset, 10),
			"owner":             rec.Owner,
			"count":             strconv.FormatInt(rec.Count, 10),
			"create_time":       rec.CreateTime.UTC().Format(time.RFC3339Nano),
			"update_time":       rec.UpdateTime.UTC().Format(time.RFC3339Nano),
		},
	)
	if err != nil {
		return nil, err
	}

	return proto.Marshal(st)
}

func decode(raw []byte) (offset.Record, error) {
	var st structpb.Struct
	if err := proto.Unmarshal(raw, &st); err != nil {
		return offset.Record{}, err
	}

	fields := st.GetFields()
	str := func(name string) string {
		return fields[name].GetStringValue()
	}
	num := func(name string) (int64, error) {
		v := str(name)
		if v == "" {
			return 0, nil
		}
		return strconv.ParseInt(v, 10, 64)
	}
	ts := func(name string) (time.Time, error) {
		v := str(name)
		if v == "" {
			return time.Time{}, nil
		}
		return time.Parse(time.RFC3339Nano, v)
	}

	var (
		rec offset.Record
		err error
	)
	if rec.Offset, err = num("offset"); err != nil {
		return offset.Record{}, err
	}
	if rec.LastFlushOffset, err = num("last_flush_offset"); err != nil {
		return offset.Record{}, err
	}
	if rec.Count, err = num("count"); err != nil {
		return offset.Record{}, err
	}
	if rec.CreateTime, err = ts("create_time"); err != nil {
		return offset.Record{}, err
	}
	if rec.UpdateTime, err = ts("update_time"); err != nil {
		return offset.Record{}, err
	}
	rec.Owner = str("owner")

	return rec, nil
}

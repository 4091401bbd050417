package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/hugolhafner/extoffset/logger"
	"github.com/hugolhafner/extoffset/offset"
)

var _ offset.Store = (*Store)(nil)

// ErrDuplicateRows is returned when more than one row matches an identity.
var ErrDuplicateRows = errors.New("duplicate offset rows")

const DefaultTable = "kafka_consumer_offset"

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type Config struct {
	Table           string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	Logger          logger.Logger
}

func defaultConfig() Config {
	return Config{
		Table:           DefaultTable,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		Logger:          logger.NewNoopLogger(),
	}
}

type Option func(*Config)

func WithTable(name string) Option {
	return func(c *Config) {
		c.Table = name
	}
}

func WithMaxOpenConns(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.MaxOpenConns = n
		}
	}
}

func WithMaxIdleConns(n int) Option {
	return func(c *Config) {
		if n >= 0 {
			c.MaxIdleConns = n
		}
	}
}

func WithConnMaxLifetime(d time.Duration) Option {
	return func(c *Config) {
		c.ConnMaxLifetime = d
	}
}

func WithLogger(l logger.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// Store persists offset records in one MySQL table with a unique key on
// (kafka_cluster_name, topic, kafka_partition, consumer_group).
type Store struct {
	db     *sql.DB
	config Config
	logger logger.Logger

	readQuery   string
	upsertQuery string
}

// Open connects to the database described by a go-sql-driver DSN.
func Open(dsn string, opts ...Option) (*Store, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	if cfg.Loc == nil {
		cfg.Loc = time.UTC
	}

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("create mysql connector: %w", err)
	}

	return New(sql.OpenDB(connector), opts...)
}

// New wraps an existing handle. The handle is closed by Close.
func New(db *sql.DB, opts ...Option) (*Store, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if !tableName.MatchString(cfg.Table) {
		return nil, fmt.Errorf("invalid table name %q", cfg.Table)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return &Store{
		db:     db,
		config: cfg,
		logger: cfg.Logger.With("component", "mysql-store", "table", cfg.Table),
		readQuery: "SELECT `offset`, last_flush_offset, owner, count, create_time, update_time FROM " + cfg.Table +
			" WHERE kafka_cluster_name = ? AND topic = ? AND kafka_partition = ? AND consumer_group = ?",
		upsertQuery: "INSERT INTO " + cfg.Table +
			" (kafka_cluster_name, topic, kafka_partition, consumer_group, `offset`, last_flush_offset, owner, count, create_time, update_time)" +
			" VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)" +
			" ON DUPLICATE KEY UPDATE `offset` = VALUES(`offset`), last_flush_offset = VALUES(last_flush_offset)," +
			" owner = VALUES(owner), count = VALUES(count), update_time = VALUES(update_time)",
	}, nil
}

// Migrate creates the offsets table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	ddl := "CREATE TABLE IF NOT EXISTS " + s.config.Table + ` (
  oid BIGINT NOT NULL AUTO_INCREMENT,
  topic VARCHAR(255) NOT NULL,
  kafka_partition INT NOT NULL,
  consumer_group VARCHAR(255) NOT NULL,
  ` + "`offset`" + ` BIGINT NOT NULL DEFAULT 0,
  last_flush_offset BIGINT NOT NULL DEFAULT 0,
  kafka_cluster_name VARCHAR(255) NOT NULL,
  owner VARCHAR(1024) NOT NULL DEFAULT '',
  count BIGINT NOT NULL DEFAULT 0,
  update_time DATETIME(3) NOT NULL,
  create_time DATETIME(3) NOT NULL,
  PRIMARY KEY (oid),
  UNIQUE KEY uk_offset_identity (kafka_cluster_name, topic, kafka_partition, consumer_group)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`

	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("migrate %s: %w", s.config.Table, err)
	}

	s.logger.Info("Offset table ready")
	return nil
}

func (s *Store) Read(ctx context.Context, id offset.Identity) (offset.Record, bool, error) {
	rows, err := s.db.QueryContext(ctx, s.readQuery, id.Cluster, id.Topic, id.Partition, id.Group)
	if err != nil {
		return offset.Record{}, false, fmt.Errorf("read offset: %w", err)
	}
	defer rows.Close()

	rec := offset.Record{
		Cluster:   id.Cluster,
		Topic:     id.Topic,
		Partition: id.Partition,
		Group:     id.Group,
	}

	found := false
	for rows.Next() {
		if found {
			s.logger.Error(
				"Duplicate offset rows", "cluster", id.Cluster, "topic", id.Topic, "partition", id.Partition,
				"group", id.Group,
			)
			return offset.Record{}, false, fmt.Errorf("read offset %s: %w", id.TopicPartition(), ErrDuplicateRows)
		}
		found = true

		if err := rows.Scan(
			&rec.Offset, &rec.LastFlushOffset, &rec.Owner, &rec.Count, &rec.CreateTime, &rec.UpdateTime,
		); err != nil {
			return offset.Record{}, false, fmt.Errorf("scan offset: %w", err)
		}
	}

	if err := rows.Err(); err != nil {
		return offset.Record{}, false, fmt.Errorf("read offset: %w", err)
	}

	return rec, found, nil
}

func (s *Store) Upsert(ctx context.Context, rec offset.Record) error {
	_, err := s.db.ExecContext(
		ctx, s.upsertQuery,
		rec.Cluster, rec.Topic, rec.Partition, rec.Group,
		rec.Offset, rec.LastFlushOffset, rec.Owner, rec.Count,
		rec.CreateTime, rec.UpdateTime,
	)
	if err != nil {
		return fmt.Errorf("upsert offset %s: %w", rec.TopicPartition(), err)
	}

	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

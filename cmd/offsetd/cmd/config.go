package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	StoreMemory   = "memory"
	StoreMySQL    = "mysql"
	StoreRedis    = "redis"
	StoreFailover = "failover"
)

const (
	FormatBytes    = "bytes"
	FormatString   = "string"
	FormatJSON     = "json"
	FormatProtobuf = "protobuf"
)

// Config is the offsetd configuration file. Durations are Go duration strings.
type Config struct {
	Cluster   string   `yaml:"cluster"`
	Group     string   `yaml:"group"`
	Topics    []string `yaml:"topics"`
	Consumers int      `yaml:"consumers"`

	Kafka     KafkaConfig     `yaml:"kafka"`
	Store     StoreConfig     `yaml:"store"`
	Loop      LoopConfig      `yaml:"loop"`
	Flush     FlushConfig     `yaml:"flush"`
	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Processor ProcessorConfig `yaml:"processor"`

	HealthCheckInterval time.Duration `yaml:"healthCheckInterval"`
	BarrierTimeout      time.Duration `yaml:"barrierTimeout"`
}

type KafkaConfig struct {
	Brokers        []string      `yaml:"brokers"`
	SessionTimeout time.Duration `yaml:"sessionTimeout"`
	MaxPollRecords int           `yaml:"maxPollRecords"`
	PollTimeout    time.Duration `yaml:"pollTimeout"`
	ResetOffset    string        `yaml:"resetOffset"`
}

type StoreConfig struct {
	Type         string        `yaml:"type"`
	MySQL        MySQLConfig   `yaml:"mysql"`
	Redis        RedisConfig   `yaml:"redis"`
	Timeout      time.Duration `yaml:"timeout"`
	EagerFlush   time.Duration `yaml:"eagerFlush"`
	MirrorBackup bool          `yaml:"mirrorBackup"`
}

type MySQLConfig struct {
	DSN             string        `yaml:"dsn"`
	Table           string        `yaml:"table"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
	Migrate         bool          `yaml:"migrate"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
}

type LoopConfig struct {
	QueueCapacity     int           `yaml:"queueCapacity"`
	OfferTimeout      time.Duration `yaml:"offerTimeout"`
	SessionTimeout    time.Duration `yaml:"sessionTimeout"`
	WorkerStopTimeout time.Duration `yaml:"workerStopTimeout"`
}

type FlushConfig struct {
	Interval time.Duration `yaml:"interval"`
	Count    int           `yaml:"count"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type ProcessorConfig struct {
	// Format decodes record values before logging: bytes, string, json or
	// protobuf (google.protobuf.Struct).
	Format string `yaml:"format"`
	// Delay simulates work per record.
	Delay time.Duration `yaml:"delay"`
	// MaxAttempts retries a failing record before it is skipped. Panics are never retried.
	MaxAttempts  int           `yaml:"maxAttempts"`
	RetryBackoff time.Duration `yaml:"retryBackoff"`
}

func DefaultConfig() Config {
	return Config{
		Cluster:   "default",
		Consumers: 1,
		Kafka: KafkaConfig{
			Brokers:        []string{"localhost:9092"},
			SessionTimeout: 45 * time.Second,
			MaxPollRecords: 1000,
			PollTimeout:    time.Second,
			ResetOffset:    "earliest",
		},
		Store: StoreConfig{
			Type:         StoreMySQL,
			Timeout:      5 * time.Second,
			MirrorBackup: true,
			MySQL: MySQLConfig{
				Table:           "consumer_offsets",
				MaxOpenConns:    10,
				ConnMaxLifetime: 5 * time.Minute,
				Migrate:         true,
			},
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "extoffset",
			},
		},
		Loop: LoopConfig{
			QueueCapacity:     3000,
			OfferTimeout:      200 * time.Millisecond,
			SessionTimeout:    30 * time.Second,
			WorkerStopTimeout: 30 * time.Second,
		},
		Flush: FlushConfig{
			Interval: 5 * time.Second,
			Count:    1000,
		},
		Log: LogConfig{
			Level: "info",
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
		},
		Processor: ProcessorConfig{
			Format:       FormatBytes,
			MaxAttempts:  3,
			RetryBackoff: time.Second,
		},
		HealthCheckInterval: 5 * time.Second,
	}
}

// LoadConfig reads path over the defaults. An empty path returns the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Group == "" {
		errs = append(errs, errors.New("group is required"))
	}
	if len(c.Topics) == 0 {
		errs = append(errs, errors.New("at least one topic is required"))
	}
	if c.Consumers < 1 {
		errs = append(errs, fmt.Errorf("consumers must be at least 1, got %d", c.Consumers))
	}
	if len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka.brokers is required"))
	}

	switch c.Store.Type {
	case StoreMemory:
	case StoreMySQL:
		if c.Store.MySQL.DSN == "" {
			errs = append(errs, errors.New("store.mysql.dsn is required"))
		}
	case StoreRedis:
		if c.Store.Redis.Addr == "" {
			errs = append(errs, errors.New("store.redis.addr is required"))
		}
	case StoreFailover:
		if c.Store.MySQL.DSN == "" || c.Store.Redis.Addr == "" {
			errs = append(errs, errors.New("failover store needs store.mysql.dsn and store.redis.addr"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store type %q", c.Store.Type))
	}

	switch c.Processor.Format {
	case FormatBytes, FormatString, FormatJSON, FormatProtobuf:
	default:
		errs = append(errs, fmt.Errorf("unknown processor format %q", c.Processor.Format))
	}

	return errors.Join(errs...)
}

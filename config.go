package extoffset

import (
	"time"

	"github.com/hugolhafner/extoffset/flusher"
	"github.com/hugolhafner/extoffset/kafka"
	"github.com/hugolhafner/extoffset/logger"
	"github.com/hugolhafner/extoffset/offset"
	"github.com/hugolhafner/extoffset/otel"
	"github.com/hugolhafner/extoffset/runner"
)

// ClientFactory creates the consumer driven by consume loop id. Clients that
// support it should seek newly assigned partitions with loader.
type ClientFactory func(id int, loader kafka.OffsetLoader) (kafka.Consumer, error)

type Config struct {
	Logger    logger.Logger
	Telemetry *otel.Telemetry

	// Cluster and Group are part of every stored offset identity.
	Cluster string
	Group   string
	Topics  []string

	// Consumers is the number of consume loops, each with its own client.
	Consumers     int
	ClientFactory ClientFactory

	// Hooks defaults to DefaultHooks. Calls are serialised across loops.
	Hooks runner.Hooks

	LoopOptions     []runner.LoopOption
	ShutdownOptions []runner.ShutdownOption
	ManagerOptions  []offset.ManagerOption

	FlushInterval       time.Duration
	FlushCount          int
	HealthCheckInterval time.Duration
}

type ConfigOption func(*Config)

func WithLogger(l logger.Logger) ConfigOption {
	return func(c *Config) {
		c.Logger = l
	}
}

func WithTelemetry(t *otel.Telemetry) ConfigOption {
	return func(c *Config) {
		c.Telemetry = t
	}
}

func WithCluster(name string) ConfigOption {
	return func(c *Config) {
		c.Cluster = name
	}
}

func WithGroup(group string) ConfigOption {
	return func(c *Config) {
		c.Group = group
	}
}

func WithTopics(topics ...string) ConfigOption {
	return func(c *Config) {
		c.Topics = topics
	}
}

func WithConsumers(n int) ConfigOption {
	return func(c *Config) {
		c.Consumers = n
	}
}

func WithClientFactory(f ClientFactory) ConfigOption {
	return func(c *Config) {
		c.ClientFactory = f
	}
}

func WithHooks(h runner.Hooks) ConfigOption {
	return func(c *Config) {
		c.Hooks = h
	}
}

func WithLoopOptions(opts ...runner.LoopOption) ConfigOption {
	return func(c *Config) {
		c.LoopOptions = append(c.LoopOptions, opts...)
	}
}

func WithShutdownOptions(opts ...runner.ShutdownOption) ConfigOption {
	return func(c *Config) {
		c.ShutdownOptions = append(c.ShutdownOptions, opts...)
	}
}

func WithManagerOptions(opts ...offset.ManagerOption) ConfigOption {
	return func(c *Config) {
		c.ManagerOptions = append(c.ManagerOptions, opts...)
	}
}

// WithFlush sets the periodic flush interval and the number of advanced
// records that triggers an early flush.
func WithFlush(interval time.Duration, count int) ConfigOption {
	return func(c *Config) {
		c.FlushInterval = interval
		c.FlushCount = count
	}
}

func WithHealthCheckInterval(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.HealthCheckInterval = d
	}
}

func defaultConfig() Config {
	return Config{
		Logger:              logger.NewNoopLogger(),
		Telemetry:           otel.Noop(),
		Consumers:           1,
		FlushInterval:       5 * time.Second,
		FlushCount:          1000,
		HealthCheckInterval: 5 * time.Second,
	}
}

package cmd

import (
	"context"
	"fmt"

	"github.com/hugolhafner/extoffset/logger"
	"github.com/hugolhafner/extoffset/offset"
	"github.com/hugolhafner/extoffset/store/failover"
	"github.com/hugolhafner/extoffset/store/memory"
	"github.com/hugolhafner/extoffset/store/mysql"
	"github.com/hugolhafner/extoffset/store/redis"
)

// openStore builds the offset store selected by cfg.Type.
func openStore(ctx context.Context, cfg StoreConfig, l logger.Logger) (offset.Store, error) {
	switch cfg.Type {
	case StoreMemory:
		l.Warn("Using the in-memory offset store, progress is lost on exit")
		return memory.New(), nil

	case StoreMySQL:
		return openMySQL(ctx, cfg.MySQL, l)

	case StoreRedis:
		return openRedis(cfg.Redis, l), nil

	case StoreFailover:
		primary, err := openMySQL(ctx, cfg.MySQL, l)
		if err != nil {
			return nil, err
		}
		opts := []failover.Option{failover.WithLogger(l)}
		if !cfg.MirrorBackup {
			opts = append(opts, failover.WithoutMirror())
		}
		return failover.New(primary, openRedis(cfg.Redis, l), opts...), nil

	default:
		return nil, fmt.Errorf("unknown store type %q", cfg.Type)
	}
}

func openMySQL(ctx context.Context, cfg MySQLConfig, l logger.Logger) (*mysql.Store, error) {
	store, err := mysql.Open(
		cfg.DSN,
		mysql.WithTable(cfg.Table),
		mysql.WithMaxOpenConns(cfg.MaxOpenConns),
		mysql.WithConnMaxLifetime(cfg.ConnMaxLifetime),
		mysql.WithLogger(l),
	)
	if err != nil {
		return nil, err
	}

	if cfg.Migrate {
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, err
		}
	}
	return store, nil
}

func openRedis(cfg RedisConfig, l logger.Logger) *redis.Store {
	opts := []redis.Option{redis.WithPrefix(cfg.Prefix), redis.WithLogger(l)}
	if cfg.TTL > 0 {
		opts = append(opts, redis.WithTTL(cfg.TTL))
	}
	return redis.Open(cfg.Addr, cfg.Password, cfg.DB, opts...)
}

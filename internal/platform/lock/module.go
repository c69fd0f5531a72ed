package lock

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fatflowers/donations/pkg/config"
)

// New selects the configured backend.
func New(lc fx.Lifecycle, cfg *config.Config, db *gorm.DB, log *zap.SugaredLogger) (Locker, error) {
	switch cfg.Lock.Backend {
	case config.LockBackendPostgres, "":
		if cfg.Database.Driver == config.DBDriverSQLite {
			return nil, fmt.Errorf("postgres advisory locks need the postgres driver; use lock.backend=redis with sqlite")
		}
		log.Infow("using postgres advisory locks")
		return NewPostgresLocker(db), nil
	case config.LockBackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Lock.RedisAddr,
			Password: cfg.Lock.RedisPassword,
			DB:       cfg.Lock.RedisDB,
		})
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				if err := client.Ping(ctx).Err(); err != nil {
					log.Warnw("redis lock backend not reachable yet", "addr", cfg.Lock.RedisAddr, "err", err)
				}
				return nil
			},
			OnStop: func(ctx context.Context) error {
				return client.Close()
			},
		})
		log.Infow("using redis locks", "addr", cfg.Lock.RedisAddr)
		return NewRedisLocker(client), nil
	default:
		return nil, fmt.Errorf("unsupported lock backend: %s", cfg.Lock.Backend)
	}
}

var Module = fx.Options(
	fx.Provide(New),
)

package repositories

import (
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"telesig/internal/core/ports"
	"telesig/internal/infrastructure/repositories/memory"
	redisrepo "telesig/internal/infrastructure/repositories/redis"
	"telesig/pkg/config"
)

// Factory creates the session store, preferring Redis when configured and
// reachable and falling back to the in-memory store otherwise.
type Factory struct {
	useRedis    bool
	redisClient *redis.Client
	logger      *zap.SugaredLogger
}

func NewFactory(cfg *config.Config, logger *zap.SugaredLogger) *Factory {
	f := &Factory{
		useRedis: cfg.Redis.Enabled,
		logger:   logger,
	}

	if cfg.Redis.Enabled {
		client, err := redisrepo.NewClient(
			cfg.Redis.Address,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.PoolSize,
			logger,
		)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory session store",
				"error", err,
			)
			f.useRedis = false
		} else {
			f.redisClient = client
		}
	}

	if f.useRedis {
		logger.Info("using Redis session store")
	} else {
		logger.Info("using memory session store")
	}
	return f
}

func (f *Factory) CreateSessionStore() ports.SessionStore {
	if f.useRedis && f.redisClient != nil {
		return redisrepo.NewSessionStore(f.redisClient)
	}
	return memory.NewSessionStore()
}

// Close releases the Redis connection, if one was opened.
func (f *Factory) Close() error {
	if f.redisClient != nil {
		return f.redisClient.Close()
	}
	return nil
}

package redis

import (
	"github.com/redis/go-redis/v9"

	"github.com/gcode-mirror/foe-project/internal/config"
)

// NewClient builds the Redis client backing best-effort request
// deduplication.
func NewClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// File: utils/cache.go
package utils

import (
	"context"
	"time"

	"homehelp/config"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

var (
	// CacheClient is the Redis client backing the geocode cache.
	CacheClient *redis.Client
)

// InitCache initializes the Redis cache client. A failed ping is logged but not
// fatal: geocoding works uncached and the health monitor reports the outage.
func InitCache() {
	CacheClient = redis.NewClient(&redis.Options{
		Addr:     config.AppConfig.RedisAddr,
		Password: config.AppConfig.RedisPassword,
		DB:       config.AppConfig.RedisCacheDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := CacheClient.Ping(ctx).Result(); err != nil {
		GetLogger().Warn("Failed to connect to Redis (Cache)", zap.String("addr", config.AppConfig.RedisAddr), zap.Error(err))
	}
}

// GetCacheClient returns the generic cache client.
func GetCacheClient() *redis.Client {
	if CacheClient == nil {
		InitCache()
	}
	return CacheClient
}

package geocoding

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"homehelp/models"
	"homehelp/utils"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Cache stores encoded geocoding results.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// RedisCache implements Cache on a Redis client.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

// CachedGeocoder serves repeated lookups from a Cache. Cache failures are
// logged and treated as misses; they never fail a lookup.
type CachedGeocoder struct {
	next   Geocoder
	cache  Cache
	ttl    time.Duration
	logger *zap.Logger
}

// cachedAddress is the cache encoding of models.Address.
type cachedAddress struct {
	DisplayName string          `json:"displayName"`
	Raw         json.RawMessage `json:"raw,omitempty"`
}

func NewCachedGeocoder(next Geocoder, cache Cache, ttl time.Duration, logger *zap.Logger) *CachedGeocoder {
	if ttl <= 0 {
		ttl = utils.DefaultGeocodeCacheTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedGeocoder{next: next, cache: cache, ttl: ttl, logger: logger}
}

func reverseKey(lat, lng float64) string {
	return fmt.Sprintf("%srev:%.5f,%.5f", utils.GeocodeCachePrefix, lat, lng)
}

func forwardKey(query string) string {
	return utils.GeocodeCachePrefix + "fwd:" + strings.ToLower(strings.Join(strings.Fields(query), " "))
}

func (g *CachedGeocoder) ReverseGeocode(ctx context.Context, lat, lng float64) (*models.Address, error) {
	key := reverseKey(lat, lng)
	if data, ok := g.lookup(ctx, key); ok {
		var ca cachedAddress
		if err := json.Unmarshal(data, &ca); err == nil && ca.DisplayName != "" {
			geocodeRequestsTotal.WithLabelValues(opReverse, outcomeCacheHit).Inc()
			return &models.Address{DisplayName: ca.DisplayName, Raw: ca.Raw}, nil
		}
	}

	addr, err := g.next.ReverseGeocode(ctx, lat, lng)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(cachedAddress{DisplayName: addr.DisplayName, Raw: addr.Raw}); err == nil {
		g.store(ctx, key, data)
	}
	return addr, nil
}

func (g *CachedGeocoder) ForwardGeocode(ctx context.Context, query string) ([]models.GeocodeHit, error) {
	if QueryTooShort(query) {
		return []models.GeocodeHit{}, nil
	}
	key := forwardKey(query)
	if data, ok := g.lookup(ctx, key); ok {
		var hits []models.GeocodeHit
		if err := json.Unmarshal(data, &hits); err == nil {
			geocodeRequestsTotal.WithLabelValues(opForward, outcomeCacheHit).Inc()
			return hits, nil
		}
	}

	hits, err := g.next.ForwardGeocode(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(hits) > 0 {
		if data, err := json.Marshal(hits); err == nil {
			g.store(ctx, key, data)
		}
	}
	return hits, nil
}

func (g *CachedGeocoder) lookup(ctx context.Context, key string) ([]byte, bool) {
	data, ok, err := g.cache.Get(ctx, key)
	if err != nil {
		g.logger.Warn("geocode cache read failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return data, ok
}

func (g *CachedGeocoder) store(ctx context.Context, key string, data []byte) {
	if err := g.cache.Set(ctx, key, data, g.ttl); err != nil {
		g.logger.Warn("geocode cache write failed", zap.String("key", key), zap.Error(err))
	}
}

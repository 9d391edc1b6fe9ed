// Package cache keeps short-lived lookups (AE title to tenant) in memory or
// in Redis.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss is returned when a key is not found in cache
var ErrCacheMiss = errors.New("cache miss")

// Cache defines the cache interface
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	Clear(ctx context.Context, pattern string) error
	Close() error
}

const keyPrefix = "ris-ingest"

// Key builds a namespaced cache key, e.g. Key("tenant", "CT_SCANNER") gives
// "ris-ingest:tenant:CT_SCANNER".
func Key(parts ...string) string {
	return keyPrefix + ":" + strings.Join(parts, ":")
}

// New returns the cache named by kind ("memory" or "redis"). The redis cache
// shares client and does not close it.
func New(kind string, client redis.UniversalClient) (Cache, error) {
	switch kind {
	case "memory", "":
		return NewMemoryCache(), nil
	case "redis":
		if client == nil {
			return nil, fmt.Errorf("redis cache needs a redis client")
		}
		return NewRedisCacheWithClient(client), nil
	default:
		return nil, fmt.Errorf("unknown cache type %q", kind)
	}
}

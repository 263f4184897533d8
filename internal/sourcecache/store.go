package sourcecache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fluxbase-eu/fluxpack/internal/config"
	"github.com/rs/zerolog/log"
)

// ErrMiss is returned by a Store that holds no value for a key.
var ErrMiss = errors.New("cache miss")

// Store persists fetched module sources.
type Store interface {
	// Get returns ErrMiss when key is absent or expired.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value under key. A zero ttl never expires.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Close() error
}

// NewStore creates a store based on the cache configuration.
//
// Backend options:
// - "memory": in-process map, lost when the process exits
// - "badger": embedded on-disk store under cache.dir (default)
// - "redis": shared store for build machines, from cache.redis_url
func NewStore(cfg *config.CacheConfig) (Store, error) {
	switch cfg.Backend {
	case "memory", "":
		log.Debug().Msg("Using in-memory source cache")
		return NewMemoryStore(), nil

	case "badger":
		if cfg.Dir == "" {
			return nil, fmt.Errorf("dir is required for badger source cache")
		}
		log.Debug().Str("dir", cfg.Dir).Msg("Using badger source cache")
		return NewBadgerStore(BadgerConfig{Path: cfg.Dir})

	case "redis":
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("redis_url is required for redis source cache")
		}
		s, err := NewRedisStore(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Redis for source cache: %w", err)
		}
		return s, nil

	default:
		return nil, fmt.Errorf("unknown source cache backend: %s (valid options: memory, badger, redis)", cfg.Backend)
	}
}

// Package redis implements the revocation fast-lookup cache. Entries
// mirror the durable ledger with a TTL equal to the remaining token
// lifetime, so the cache cleans itself as tokens expire.
package redis

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/stratumsec/tokend/internal/config"
	"github.com/stratumsec/tokend/internal/domain/repository"
	"github.com/stratumsec/tokend/pkg/constants"
	"github.com/stratumsec/tokend/pkg/errors"
	"github.com/stratumsec/tokend/pkg/logger"
)

// NewClient opens the Redis connection per configuration.
func NewClient(ctx context.Context, cfg *config.RedisConfig) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errors.ErrStorage.WithCause(err)
	}
	return client, nil
}

type revocationCache struct {
	client *goredis.Client
	log    logger.Logger
}

// NewRevocationCache builds the Redis-backed revocation cache.
func NewRevocationCache(client *goredis.Client, log logger.Logger) repository.RevocationCache {
	return &revocationCache{client: client, log: log.WithComponent("revocation_cache")}
}

func cacheKey(tokenID string) string {
	return constants.RevocationCacheKeyPrefix + tokenID
}

// Put marks the token revoked for its remaining lifetime. A token that
// has already expired needs no cache entry; expiry rejects it anyway.
func (c *revocationCache) Put(ctx context.Context, tokenID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := c.client.Set(ctx, cacheKey(tokenID), "1", ttl).Err(); err != nil {
		return errors.ErrStorage.WithCause(err)
	}
	return nil
}

func (c *revocationCache) Contains(ctx context.Context, tokenID string) (bool, error) {
	n, err := c.client.Exists(ctx, cacheKey(tokenID)).Result()
	if err != nil {
		return false, errors.ErrStorage.WithCause(err)
	}
	return n > 0, nil
}

package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratumsec/tokend/pkg/logger"
)

func newTestCache(t *testing.T) (*miniredis.Miniredis, *revocationCache) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return srv, &revocationCache{client: client, log: logger.NewNop()}
}

func TestRevocationCachePutAndContains(t *testing.T) {
	_, cache := newTestCache(t)
	ctx := context.Background()

	found, err := cache.Contains(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, cache.Put(ctx, "jti-1", time.Minute))

	found, err = cache.Contains(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestRevocationCacheEntryExpires(t *testing.T) {
	srv, cache := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Put(ctx, "jti-2", 30*time.Second))
	srv.FastForward(31 * time.Second)

	found, err := cache.Contains(ctx, "jti-2")
	require.NoError(t, err)
	assert.False(t, found, "entry should expire with the token")
}

func TestRevocationCacheSkipsExpiredTokens(t *testing.T) {
	_, cache := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Put(ctx, "jti-3", 0))

	found, err := cache.Contains(ctx, "jti-3")
	require.NoError(t, err)
	assert.False(t, found, "no entry for a token that is already expired")
}

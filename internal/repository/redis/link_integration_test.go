//go:build integration

package redis

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func TestLinkCache(t *testing.T) {
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	url, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	client, err := Connect(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	cache := NewLink(client, logger)

	code, err := cache.GetShortLink(ctx, "https://example.com")
	require.NoError(t, err)
	assert.Empty(t, code)

	require.NoError(t, cache.SetShortLink(ctx, "https://example.com", "abc123", time.Minute))
	code, err = cache.GetShortLink(ctx, "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, "abc123", code)

	ttl, err := client.TTL(ctx, keyPrefix+"https://example.com").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}

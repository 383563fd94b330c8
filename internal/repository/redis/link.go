package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const keyPrefix = "shorten:"

// Link caches original URL to short code lookups. Read failures are logged
// and treated as misses so a cache outage only costs a database query.
type Link struct {
	client *redis.Client
	logger *logrus.Entry
}

func NewLink(client *redis.Client, logger *logrus.Logger) *Link {
	return &Link{client: client, logger: logger.WithField("component", "link_cache")}
}

// Connect parses a redis:// URL, or a bare host:port as the old config
// format allowed, and pings the server.
func Connect(ctx context.Context, rawURL string) (*redis.Client, error) {
	if rawURL == "" {
		return nil, errors.New("redis url is empty")
	}

	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		opts = &redis.Options{Addr: rawURL}
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis unavailable: %w", err)
	}
	return client, nil
}

func (c *Link) GetShortLink(ctx context.Context, originalURL string) (string, error) {
	result, err := c.client.Get(ctx, keyPrefix+originalURL).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		c.logger.WithField("error", err).Warn("cache read failed")
		return "", nil
	}
	return result, nil
}

func (c *Link) SetShortLink(ctx context.Context, originalURL, shortLink string, ttl time.Duration) error {
	return c.client.Set(ctx, keyPrefix+originalURL, shortLink, ttl).Err()
}

// Package cache memoizes analytics query results in Redis. The cache is
// optional: with no Redis address configured every lookup is a miss and
// writes are no-ops, so callers never branch on availability.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/onevisitor/onevisitor/internal/config"
	"github.com/onevisitor/onevisitor/internal/domain/analytics"
	"github.com/onevisitor/onevisitor/internal/logging"
)

// Cache wraps a Redis client with analytics-specific keys.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	log    *logging.Logger
}

// New builds a Cache from configuration. An empty Addr returns a disabled
// cache.
func New(cfg config.RedisConfig, log *logging.Logger) *Cache {
	c := &Cache{ttl: cfg.CacheTTL, log: log}
	if cfg.Addr == "" {
		return c
	}
	c.client = redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return c
}

// Enabled reports whether a Redis backend is configured.
func (c *Cache) Enabled() bool {
	return c.client != nil
}

// Ping verifies the Redis connection.
func (c *Cache) Ping(ctx context.Context) error {
	if c.client == nil {
		return nil
	}
	return c.client.Ping(ctx).Err()
}

// Close releases the Redis connection.
func (c *Cache) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

func summaryKey(siteID string, rng analytics.Range) string {
	return fmt.Sprintf("analytics:summary:%s:%d:%d", siteID, rng.Start.Unix(), rng.End.Unix())
}

// GetSummary returns a cached summary, if present.
func (c *Cache) GetSummary(ctx context.Context, siteID string, rng analytics.Range) (analytics.Summary, bool) {
	if c.client == nil {
		return analytics.Summary{}, false
	}
	raw, err := c.client.Get(ctx, summaryKey(siteID, rng)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.WithError(err).Debug("summary cache read failed")
		}
		return analytics.Summary{}, false
	}
	var summary analytics.Summary
	if err := json.Unmarshal(raw, &summary); err != nil {
		return analytics.Summary{}, false
	}
	return summary, true
}

// SetSummary stores a summary for the configured TTL. Failures are logged
// and swallowed; the cache must never fail a report.
func (c *Cache) SetSummary(ctx context.Context, summary analytics.Summary) {
	if c.client == nil {
		return
	}
	raw, err := json.Marshal(summary)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, summaryKey(summary.SiteID, summary.Range), raw, c.ttl).Err(); err != nil {
		c.log.WithError(err).Debug("summary cache write failed")
	}
}

// InvalidateSite drops every cached summary for a site. Called when a site's
// tracking data is purged.
func (c *Cache) InvalidateSite(ctx context.Context, siteID string) {
	if c.client == nil {
		return
	}
	pattern := fmt.Sprintf("analytics:summary:%s:*", siteID)
	iter := c.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			c.log.WithError(err).Debug("summary cache invalidation failed")
			return
		}
	}
	if err := iter.Err(); err != nil {
		c.log.WithError(err).Debug("summary cache scan failed")
	}
}

// TouchActiveVisitor records a visitor as active on a site for the window.
// Live counts fall back to the database when Redis is absent.
func (c *Cache) TouchActiveVisitor(ctx context.Context, siteID, visitorID string, window time.Duration) {
	if c.client == nil {
		return
	}
	key := fmt.Sprintf("analytics:active:%s", siteID)
	now := float64(time.Now().Unix())
	pipe := c.client.Pipeline()
	pipe.ZAdd(ctx, key, &redis.Z{Score: now, Member: visitorID})
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%f", now-window.Seconds()))
	pipe.Expire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		c.log.WithError(err).Debug("active visitor touch failed")
	}
}

// CountActiveVisitors returns the number of visitors seen within the window.
// The second return is false when Redis is not configured.
func (c *Cache) CountActiveVisitors(ctx context.Context, siteID string, window time.Duration) (int64, bool) {
	if c.client == nil {
		return 0, false
	}
	key := fmt.Sprintf("analytics:active:%s", siteID)
	min := fmt.Sprintf("%d", time.Now().Add(-window).Unix())
	n, err := c.client.ZCount(ctx, key, min, "+inf").Result()
	if err != nil {
		c.log.WithError(err).Debug("active visitor count failed")
		return 0, false
	}
	return n, true
}

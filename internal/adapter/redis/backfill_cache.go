package redis

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/pscheid92/chatrelay/internal/adapter/metrics"
	"github.com/pscheid92/chatrelay/internal/domain"
	"github.com/pscheid92/chatrelay/internal/irc"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const fetchTimeout = 15 * time.Second

var _ domain.BackfillSource = (*BackfillCache)(nil)

// BackfillCache keeps each channel's recent lines in Redis for a short TTL
// and lets concurrent misses for one channel share a single upstream fetch.
// With a zero TTL or no client it only coalesces.
type BackfillCache struct {
	rdb     goredis.Cmdable
	next    domain.BackfillSource
	ttl     time.Duration
	group   singleflight.Group
	metrics *metrics.BackfillMetrics
}

func NewBackfillCache(rdb goredis.Cmdable, next domain.BackfillSource, ttl time.Duration, m *metrics.BackfillMetrics) *BackfillCache {
	return &BackfillCache{rdb: rdb, next: next, ttl: ttl, metrics: m}
}

func (c *BackfillCache) Fetch(ctx context.Context, channel string) ([]string, error) {
	channel = irc.NormalizeChannel(channel)
	if channel == "" {
		return nil, domain.ErrInvalidChannel
	}

	if lines, ok := c.getCached(ctx, channel); ok {
		c.metrics.CacheHits.Inc()
		return lines, nil
	}
	c.metrics.CacheMisses.Inc()

	// The flight outlives any single caller's cancellation.
	v, err, _ := c.group.Do(channel, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
		defer cancel()

		lines, err := c.next.Fetch(fctx, channel)
		if err != nil {
			return nil, err
		}
		c.writeCache(fctx, channel, lines)
		return lines, nil
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(v.([]string)), nil
}

func (c *BackfillCache) enabled() bool {
	return c.rdb != nil && c.ttl > 0
}

func (c *BackfillCache) getCached(ctx context.Context, channel string) ([]string, bool) {
	if !c.enabled() {
		return nil, false
	}

	data, err := c.rdb.Get(ctx, backfillKey(channel)).Bytes()
	if err != nil {
		if !errors.Is(err, goredis.Nil) {
			slog.WarnContext(ctx, "Redis backfill cache GET failed", "channel", channel, "error", err)
		}
		return nil, false
	}

	var lines []string
	if err := json.Unmarshal(data, &lines); err != nil {
		slog.WarnContext(ctx, "Failed to unmarshal cached backfill", "channel", channel, "error", err)
		return nil, false
	}
	return lines, true
}

func (c *BackfillCache) writeCache(ctx context.Context, channel string, lines []string) {
	if !c.enabled() {
		return
	}

	encoded, err := json.Marshal(lines)
	if err != nil {
		slog.WarnContext(ctx, "Failed to marshal backfill for Redis cache", "channel", channel, "error", err)
		return
	}

	if err := c.rdb.Set(ctx, backfillKey(channel), encoded, c.ttl).Err(); err != nil {
		slog.WarnContext(ctx, "Failed to populate Redis backfill cache", "channel", channel, "error", err)
	}
}

func backfillKey(channel string) string {
	return "backfill:" + channel
}

package unfurl

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"github.com/kirillkom/card-enricher/internal/core/domain"
	"github.com/kirillkom/card-enricher/internal/core/ports"
	"github.com/redis/go-redis/v9"
)

const cacheKeyPrefix = "unfurl:"

type cacheBackend interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// Cached keeps successful unfurl payloads in redis. Cache failures never fail the unfurl.
type Cached struct {
	next    ports.Unfurler
	backend cacheBackend
	ttl     time.Duration
}

func NewCached(next ports.Unfurler, client *redis.Client, ttl time.Duration) *Cached {
	return newCached(next, client, ttl)
}

func newCached(next ports.Unfurler, backend cacheBackend, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Cached{next: next, backend: backend, ttl: ttl}
}

func (c *Cached) Unfurl(ctx context.Context, target string) (domain.UnfurlResult, error) {
	key := cacheKey(target)

	raw, err := c.backend.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		if result, parseErr := ParseResponse(raw); parseErr == nil {
			return result, nil
		}
		slog.Warn("unfurl_cache_entry_invalid", "url", target)
	case !errors.Is(err, redis.Nil):
		slog.Warn("unfurl_cache_get_failed", "url", target, "error", err)
	}

	result, err := c.next.Unfurl(ctx, target)
	if err != nil {
		return result, err
	}
	if len(result.Raw) > 0 {
		if err := c.backend.Set(ctx, key, []byte(result.Raw), c.ttl).Err(); err != nil {
			slog.Warn("unfurl_cache_set_failed", "url", target, "error", err)
		}
	}
	return result, nil
}

func cacheKey(target string) string {
	sum := sha1.Sum([]byte(target))
	return cacheKeyPrefix + hex.EncodeToString(sum[:])
}

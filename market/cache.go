package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

// CachedProvider is a read-through Redis cache in front of another Provider.
// Redis failures degrade to uncached reads; failed or empty upstream results
// are never cached.
type CachedProvider struct {
	next Provider
	rdb  *redis.Client
	ttl  time.Duration
	log  zerolog.Logger
}

func NewCachedProvider(next Provider, rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *CachedProvider {
	return &CachedProvider{
		next: next,
		rdb:  rdb,
		ttl:  ttl,
		log:  log.With().Str("client", "quote-cache").Logger(),
	}
}

func historyKey(ticker, period string) string { return fmt.Sprintf("stock:%s:history:%s", ticker, period) }
func infoKey(ticker string) string            { return fmt.Sprintf("stock:%s:info", ticker) }

// historyTTL keeps intraday periods fresh and lets long series live longer.
func (c *CachedProvider) historyTTL(period string) time.Duration {
	switch period {
	case "1d", "5d":
		return c.ttl
	}
	if c.ttl < time.Hour {
		return time.Hour
	}
	return c.ttl
}

func (c *CachedProvider) FetchHistory(ctx context.Context, ticker, period string) ([]Bar, error) {
	key := historyKey(ticker, period)

	var bars []Bar
	if c.load(ctx, key, &bars) {
		return bars, nil
	}

	bars, err := c.next.FetchHistory(ctx, ticker, period)
	if err != nil {
		return nil, err
	}
	if len(bars) > 0 {
		c.store(ctx, key, bars, c.historyTTL(period))
	}
	return bars, nil
}

func (c *CachedProvider) FetchInfo(ctx context.Context, ticker string) (Info, error) {
	key := infoKey(ticker)

	var info Info
	if c.load(ctx, key, &info) {
		return info, nil
	}

	info, err := c.next.FetchInfo(ctx, ticker)
	if err != nil {
		return Info{}, err
	}
	c.store(ctx, key, info, c.historyTTL("info"))
	return info, nil
}

func (c *CachedProvider) load(ctx context.Context, key string, out interface{}) bool {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false
	}
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Cache read failed")
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Discarding corrupt cache entry")
		return false
	}
	return true
}

func (c *CachedProvider) store(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	raw, err := json.Marshal(value)
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Failed to encode cache entry")
		return
	}
	if err := c.rdb.Set(ctx, key, raw, ttl).Err(); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Cache write failed")
	}
}

package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/ideapool/internal/domain"
	"github.com/redis/go-redis/v9"
)

const defaultStatsTTL = 15 * time.Second

// StatsCache implements domain.StatsCache with JSON-serialized MarketStats
// stored under a per-idea key.
//
// Key schema:
//
//	stats:idea:{ideaID} - string containing JSON
type StatsCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewStatsCache creates a StatsCache backed by the given Client. A zero ttl
// uses the default of 15 seconds.
func NewStatsCache(c *Client, ttl time.Duration) *StatsCache {
	if ttl <= 0 {
		ttl = defaultStatsTTL
	}
	return &StatsCache{rdb: c.Underlying(), ttl: ttl}
}

func statsKey(ideaID string) string { return "stats:idea:" + ideaID }

// Set stores the projection for ideaID until the TTL expires.
func (sc *StatsCache) Set(ctx context.Context, ideaID string, stats domain.MarketStats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("redis: marshal stats %s: %w", ideaID, err)
	}
	if err := sc.rdb.Set(ctx, statsKey(ideaID), data, sc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set stats %s: %w", ideaID, err)
	}
	return nil
}

// Get returns the cached projection. It returns domain.ErrNotFound on a miss.
func (sc *StatsCache) Get(ctx context.Context, ideaID string) (domain.MarketStats, error) {
	data, err := sc.rdb.Get(ctx, statsKey(ideaID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.MarketStats{}, domain.ErrNotFound
		}
		return domain.MarketStats{}, fmt.Errorf("redis: get stats %s: %w", ideaID, err)
	}

	var stats domain.MarketStats
	if err := json.Unmarshal(data, &stats); err != nil {
		return domain.MarketStats{}, fmt.Errorf("redis: unmarshal stats %s: %w", ideaID, err)
	}
	return stats, nil
}

// Invalidate drops the cached projection for ideaID.
func (sc *StatsCache) Invalidate(ctx context.Context, ideaID string) error {
	if err := sc.rdb.Del(ctx, statsKey(ideaID)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate stats %s: %w", ideaID, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.StatsCache = (*StatsCache)(nil)

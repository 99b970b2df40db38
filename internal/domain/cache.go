package domain

import (
	"context"
	"time"
)

// StatsCache holds the market statistics projection for a short TTL.
type StatsCache interface {
	Set(ctx context.Context, ideaID string, stats MarketStats) error
	Get(ctx context.Context, ideaID string) (MarketStats, error)
	Invalidate(ctx context.Context, ideaID string) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides pub/sub for progress events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// PoolChannel is the pub/sub channel carrying StepEvents for one idea.
func PoolChannel(ideaID string) string {
	return "ch:pool:" + ideaID
}

// PoolChannelPattern matches every PoolChannel.
const PoolChannelPattern = "ch:pool:*"

package rank

import (
    "context"
    "time"
)

// Member is one sorted-set entry: an item and its accumulated score.
type Member struct {
    ItemID int64
    Score  float64
}

// Store is the volatile ranking tier: one sorted set per bucket key, scored
// by accumulated ranking score. Backs the HOURLY and DAILY rankings directly
// and serves as the staging accumulator for the long-window pipeline.
type Store interface {
    // Increment atomically adds delta to the item's score under key.
    Increment(ctx context.Context, key string, itemID int64, delta float64) error

    // IncrementAll applies a batch of increments in one round trip. When ttl
    // is positive it is attached to the key without shortening an existing
    // expiry, so the first write of a run bounds the key's lifetime.
    IncrementAll(ctx context.Context, key string, deltas map[int64]float64, ttl time.Duration) error

    // ReverseRange returns members [start, stop] by descending score,
    // both bounds inclusive, with scores.
    ReverseRange(ctx context.Context, key string, start, stop int64) ([]Member, error)

    // ReverseRank returns the item's 0-based descending rank, or ok=false
    // when the item is not in the set.
    ReverseRank(ctx context.Context, key string, itemID int64) (int64, bool, error)

    Exists(ctx context.Context, key string) (bool, error)
    Expire(ctx context.Context, key string, ttl time.Duration) error
    Delete(ctx context.Context, key string) error
}

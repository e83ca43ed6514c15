package cache

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "time"

    "github.com/example/catalog-rank/internal/models"
    "github.com/redis/go-redis/v9"
)

var _ Cache = (*Redis)(nil)

const pageKeyPrefix = "rankingpage"

// DefaultTTL keeps snapshot pages fresh enough for operator-visible updates
// while absorbing read bursts between batch runs.
const DefaultTTL = 10 * time.Minute

type Redis struct {
    cli *redis.Client
    ttl time.Duration
}

func NewRedis(cli *redis.Client, ttl time.Duration) *Redis {
    if ttl <= 0 {
        ttl = DefaultTTL
    }
    return &Redis{cli: cli, ttl: ttl}
}

func NewRedisAddr(addr string, db int, ttl time.Duration) *Redis {
    return NewRedis(redis.NewClient(&redis.Options{Addr: addr, DB: db}), ttl)
}

func (r *Redis) Close() error { return r.cli.Close() }

type page struct {
    Entries []models.RankingEntry `json:"entries"`
    HasMore bool                  `json:"has_more"`
}

func pageKey(p models.PeriodType, dateSeg string, offset, limit int64) string {
    return fmt.Sprintf("%s:%s:%s:%d:%d", pageKeyPrefix, p, dateSeg, offset, limit)
}

func (r *Redis) GetPage(ctx context.Context, p models.PeriodType, dateSeg string, offset, limit int64) ([]models.RankingEntry, bool, bool, error) {
    raw, err := r.cli.Get(ctx, pageKey(p, dateSeg, offset, limit)).Result()
    if errors.Is(err, redis.Nil) {
        return nil, false, false, nil
    }
    if err != nil {
        return nil, false, false, err
    }
    var pg page
    if err := json.Unmarshal([]byte(raw), &pg); err != nil {
        // treat a corrupt entry as a miss; it will be overwritten
        return nil, false, false, nil
    }
    return pg.Entries, pg.HasMore, true, nil
}

func (r *Redis) SetPage(ctx context.Context, p models.PeriodType, dateSeg string, offset, limit int64, entries []models.RankingEntry, hasMore bool) error {
    raw, err := json.Marshal(page{Entries: entries, HasMore: hasMore})
    if err != nil {
        return err
    }
    return r.cli.Set(ctx, pageKey(p, dateSeg, offset, limit), raw, r.ttl).Err()
}

package rank

import (
    "context"
    "errors"
    "strconv"
    "time"

    "github.com/redis/go-redis/v9"
)

// Compile-time interface check.
var _ Store = (*Redis)(nil)

type Redis struct {
    cli *redis.Client
}

func NewRedis(cli *redis.Client) *Redis {
    return &Redis{cli: cli}
}

func NewRedisAddr(addr string, db int) *Redis {
    return NewRedis(redis.NewClient(&redis.Options{Addr: addr, DB: db}))
}

func (r *Redis) Close() error { return r.cli.Close() }

func (r *Redis) Increment(ctx context.Context, key string, itemID int64, delta float64) error {
    return r.cli.ZIncrBy(ctx, key, delta, member(itemID)).Err()
}

func (r *Redis) IncrementAll(ctx context.Context, key string, deltas map[int64]float64, ttl time.Duration) error {
    if len(deltas) == 0 {
        return nil
    }
    pipe := r.cli.TxPipeline()
    for id, d := range deltas {
        pipe.ZIncrBy(ctx, key, d, member(id))
    }
    if ttl > 0 {
        // NX: only set when the key has no expiry yet, so later chunks of
        // the same run never push the deadline out
        pipe.ExpireNX(ctx, key, ttl)
    }
    _, err := pipe.Exec(ctx)
    return err
}

func (r *Redis) ReverseRange(ctx context.Context, key string, start, stop int64) ([]Member, error) {
    zs, err := r.cli.ZRevRangeWithScores(ctx, key, start, stop).Result()
    if err != nil {
        return nil, err
    }
    out := make([]Member, 0, len(zs))
    for _, z := range zs {
        s, ok := z.Member.(string)
        if !ok {
            continue
        }
        id, err := strconv.ParseInt(s, 10, 64)
        if err != nil {
            continue
        }
        out = append(out, Member{ItemID: id, Score: z.Score})
    }
    return out, nil
}

func (r *Redis) ReverseRank(ctx context.Context, key string, itemID int64) (int64, bool, error) {
    rank, err := r.cli.ZRevRank(ctx, key, member(itemID)).Result()
    if errors.Is(err, redis.Nil) {
        return 0, false, nil
    }
    if err != nil {
        return 0, false, err
    }
    return rank, true, nil
}

func (r *Redis) Exists(ctx context.Context, key string) (bool, error) {
    n, err := r.cli.Exists(ctx, key).Result()
    return n > 0, err
}

func (r *Redis) Expire(ctx context.Context, key string, ttl time.Duration) error {
    return r.cli.Expire(ctx, key, ttl).Err()
}

func (r *Redis) Delete(ctx context.Context, key string) error {
    return r.cli.Del(ctx, key).Err()
}

func member(itemID int64) string { return strconv.FormatInt(itemID, 10) }

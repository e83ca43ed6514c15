package ranking

import (
    "context"
    "errors"
    "log"
    "time"

    "github.com/example/catalog-rank/internal/bucket"
    "github.com/example/catalog-rank/internal/cache"
    "github.com/example/catalog-rank/internal/models"
    "github.com/example/catalog-rank/internal/store"
    "github.com/shopspring/decimal"
)

// Service is the query orchestrator: cache-aside for the snapshot-backed
// periods, single-hop temporal fallback for empty buckets, read-through
// weight lookup.
type Service struct {
    Reader  *Reader
    Cache   cache.Cache // nil disables page caching
    Weights store.Store

    Now func() time.Time
}

func (s *Service) now() time.Time {
    if s.Now != nil {
        return s.Now()
    }
    return time.Now()
}

// FindRankings resolves the query's target bucket, serves it from cache or
// the backing tier, and retries the immediately preceding bucket exactly
// once when the first page comes back empty. Deeper pages never fall back:
// mixing pages from two different snapshots is disallowed.
func (s *Service) FindRankings(ctx context.Context, q models.RankingQuery) ([]models.RankingEntry, bool, error) {
    if q.ReferenceTime.IsZero() {
        q.ReferenceTime = s.now()
    }

    cacheable := !q.PeriodType.Volatile() && s.Cache != nil
    dateSeg := bucket.DateSegment(q.PeriodType, q.ReferenceTime)
    if cacheable {
        entries, hasMore, ok, err := s.Cache.GetPage(ctx, q.PeriodType, dateSeg, q.Offset, q.Limit)
        if err != nil {
            log.Printf("ranking cache get: %v", err)
        } else if ok {
            return entries, hasMore, nil
        }
    }

    entries, err := s.Reader.TopEntries(ctx, q)
    if err != nil {
        return nil, false, err
    }

    if len(entries) == 0 && q.Offset == 0 {
        fq := q
        fq.ReferenceTime = bucket.Previous(q.PeriodType, q.ReferenceTime)
        if entries, err = s.Reader.TopEntries(ctx, fq); err != nil {
            return nil, false, err
        }
    }

    hasMore := int64(len(entries)) > q.Limit
    if hasMore {
        entries = entries[:q.Limit]
    }

    // never cache an empty page: a temporarily empty bucket should be
    // retried on the next request, not pinned until TTL expiry
    if cacheable && len(entries) > 0 {
        if err := s.Cache.SetPage(ctx, q.PeriodType, dateSeg, q.Offset, q.Limit, entries, hasMore); err != nil {
            log.Printf("ranking cache set: %v", err)
        }
    }
    return entries, hasMore, nil
}

// FindRank locates one item's rank in the queried bucket.
func (s *Service) FindRank(ctx context.Context, q models.RankingQuery, itemID int64) (int64, bool, error) {
    if q.ReferenceTime.IsZero() {
        q.ReferenceTime = s.now()
    }
    return s.Reader.RankOf(ctx, q, itemID)
}

// FindWeight reads the latest weight configuration, falling back to the
// hardcoded defaults when none has been saved. The result is never cached in
// the process: updates take effect on the next lookup.
func (s *Service) FindWeight(ctx context.Context) (models.WeightConfig, error) {
    w, err := s.Weights.FindLatestWeight(ctx)
    if err == nil {
        return w, nil
    }
    if errors.Is(err, models.ErrNotFound) {
        return models.DefaultWeights(), nil
    }
    return models.WeightConfig{}, err
}

// UpdateWeight stores a new latest weight configuration.
func (s *Service) UpdateWeight(ctx context.Context, view, like, order decimal.Decimal) (models.WeightConfig, error) {
    for _, w := range []struct {
        name  string
        value decimal.Decimal
    }{{"view_weight", view}, {"like_weight", like}, {"order_weight", order}} {
        if w.value.IsNegative() {
            return models.WeightConfig{}, &models.ValidationError{Field: w.name, Reason: "must not be negative"}
        }
    }
    return s.Weights.SaveWeight(ctx, models.WeightConfig{
        ViewWeight:  view,
        LikeWeight:  like,
        OrderWeight: order,
    })
}

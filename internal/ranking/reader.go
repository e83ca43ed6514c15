package ranking

import (
    "context"
    "errors"
    "fmt"

    "github.com/example/catalog-rank/internal/bucket"
    "github.com/example/catalog-rank/internal/models"
    "github.com/example/catalog-rank/internal/rank"
    "github.com/example/catalog-rank/internal/store"
    "github.com/shopspring/decimal"
)

// Reader serves ranking reads from whichever tier backs the queried period:
// sorted sets for HOURLY/DAILY, snapshot rows for WEEKLY/MONTHLY. Callers
// never see the routing.
type Reader struct {
    Ranks     rank.Store
    Snapshots store.Store
}

// TopEntries returns up to limit+1 entries starting at the query's offset.
// The extra entry lets the caller detect "more results exist" without a
// second query; it is trimmed by the service layer.
func (r *Reader) TopEntries(ctx context.Context, q models.RankingQuery) ([]models.RankingEntry, error) {
    switch q.PeriodType {
    case models.PeriodHourly, models.PeriodDaily:
        return r.topVolatile(ctx, q)
    case models.PeriodWeekly, models.PeriodMonthly:
        return r.topDurable(ctx, q)
    }
    return nil, fmt.Errorf("unhandled period type %q", q.PeriodType)
}

func (r *Reader) topVolatile(ctx context.Context, q models.RankingQuery) ([]models.RankingEntry, error) {
    key := bucket.Key(q.PeriodType, q.ReferenceTime)
    members, err := r.Ranks.ReverseRange(ctx, key, q.Offset, q.Offset+q.Limit)
    if err != nil {
        return nil, err
    }
    out := make([]models.RankingEntry, 0, len(members))
    for i, m := range members {
        sc, err := models.NewScore(decimal.NewFromFloat(m.Score))
        if err != nil {
            return nil, fmt.Errorf("stored score for item %d: %w", m.ItemID, err)
        }
        out = append(out, models.RankingEntry{
            ItemID: m.ItemID,
            Rank:   q.Offset + int64(i) + 1,
            Score:  sc,
        })
    }
    return out, nil
}

func (r *Reader) topDurable(ctx context.Context, q models.RankingQuery) ([]models.RankingEntry, error) {
    date := bucket.Truncate(q.PeriodType, q.ReferenceTime)
    rows, err := r.Snapshots.SelectByDate(ctx, q.PeriodType, date, q.Limit+1, q.Offset)
    if err != nil {
        return nil, err
    }
    out := make([]models.RankingEntry, 0, len(rows))
    for _, s := range rows {
        out = append(out, models.RankingEntry{
            ItemID: s.ItemID,
            Rank:   int64(s.Rank),
            Score:  s.Score,
        })
    }
    return out, nil
}

// RankOf returns the item's 1-based rank in the queried bucket, or ok=false
// when the item is not ranked there.
func (r *Reader) RankOf(ctx context.Context, q models.RankingQuery, itemID int64) (int64, bool, error) {
    switch q.PeriodType {
    case models.PeriodHourly, models.PeriodDaily:
        key := bucket.Key(q.PeriodType, q.ReferenceTime)
        pos, ok, err := r.Ranks.ReverseRank(ctx, key, itemID)
        if err != nil || !ok {
            return 0, false, err
        }
        return pos + 1, true, nil
    case models.PeriodWeekly, models.PeriodMonthly:
        date := bucket.Truncate(q.PeriodType, q.ReferenceTime)
        s, err := r.Snapshots.SelectByDateAndItem(ctx, q.PeriodType, date, itemID)
        if errors.Is(err, models.ErrNotFound) {
            return 0, false, nil
        }
        if err != nil {
            return 0, false, err
        }
        return int64(s.Rank), true, nil
    }
    return 0, false, fmt.Errorf("unhandled period type %q", q.PeriodType)
}

// BucketExists reports whether the queried bucket holds any ranking at all.
func (r *Reader) BucketExists(ctx context.Context, q models.RankingQuery) (bool, error) {
    switch q.PeriodType {
    case models.PeriodHourly, models.PeriodDaily:
        return r.Ranks.Exists(ctx, bucket.Key(q.PeriodType, q.ReferenceTime))
    case models.PeriodWeekly, models.PeriodMonthly:
        date := bucket.Truncate(q.PeriodType, q.ReferenceTime)
        return r.Snapshots.ExistsForDate(ctx, q.PeriodType, date)
    }
    return false, fmt.Errorf("unhandled period type %q", q.PeriodType)
}

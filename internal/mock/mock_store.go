package mock

import (
    "context"
    "errors"
    "sort"
    "time"

    "github.com/example/catalog-rank/internal/models"
    "github.com/shopspring/decimal"
)

// MockStore is an in-memory stand-in for the Postgres store. Metric rows are
// held as plain slices; reads mirror the keyset pagination of the real
// queries so pipeline chunking behaves the same in tests.
type MockStore struct {
    Hourly    []models.MetricRow
    Daily     []models.MetricRow
    Snapshots []models.RankingSnapshot
    Weights   []models.WeightConfig

    // FailReads makes the next N metric reads fail, for retry tests.
    FailReads int
    // FailWrites makes the next N snapshot/daily writes fail.
    FailWrites int
    // FailWeightReads makes the next N weight lookups fail.
    FailWeightReads int
}

var errInjected = errors.New("injected store failure")

func NewMockStore() *MockStore { return &MockStore{} }

func (m *MockStore) NextHourlyMetrics(ctx context.Context, from, to time.Time, afterBucket time.Time, afterItem int64, limit int) ([]models.MetricRow, error) {
    return m.nextMetrics(m.Hourly, from, to, afterBucket, afterItem, limit)
}

func (m *MockStore) NextDailyMetrics(ctx context.Context, from, to time.Time, afterBucket time.Time, afterItem int64, limit int) ([]models.MetricRow, error) {
    return m.nextMetrics(m.Daily, from, to, afterBucket, afterItem, limit)
}

func (m *MockStore) nextMetrics(src []models.MetricRow, from, to time.Time, afterBucket time.Time, afterItem int64, limit int) ([]models.MetricRow, error) {
    if m.FailReads > 0 {
        m.FailReads--
        return nil, errInjected
    }
    rows := make([]models.MetricRow, len(src))
    copy(rows, src)
    sort.Slice(rows, func(i, j int) bool {
        if rows[i].TimeBucket.Equal(rows[j].TimeBucket) {
            return rows[i].ItemID < rows[j].ItemID
        }
        return rows[i].TimeBucket.Before(rows[j].TimeBucket)
    })
    var out []models.MetricRow
    for _, r := range rows {
        if r.TimeBucket.Before(from) || !r.TimeBucket.Before(to) {
            continue
        }
        if r.TimeBucket.Before(afterBucket) || (r.TimeBucket.Equal(afterBucket) && r.ItemID <= afterItem) {
            continue
        }
        out = append(out, r)
        if len(out) >= limit {
            break
        }
    }
    return out, nil
}

func (m *MockStore) UpsertDaily(ctx context.Context, rows []models.MetricRow) error {
    if m.FailWrites > 0 {
        m.FailWrites--
        return errInjected
    }
    for _, r := range rows {
        m.upsertDailyRow(r)
    }
    return nil
}

func (m *MockStore) upsertDailyRow(r models.MetricRow) {
    for i := range m.Daily {
        if m.Daily[i].TimeBucket.Equal(r.TimeBucket) && m.Daily[i].ItemID == r.ItemID {
            m.Daily[i] = r
            return
        }
    }
    m.Daily = append(m.Daily, r)
}

func (m *MockStore) CountHourlyForDay(ctx context.Context, day time.Time) (int64, error) {
    if m.FailReads > 0 {
        m.FailReads--
        return 0, errInjected
    }
    from, to := day, day.AddDate(0, 0, 1)
    var n int64
    for _, r := range m.Hourly {
        if !r.TimeBucket.Before(from) && r.TimeBucket.Before(to) {
            n++
        }
    }
    return n, nil
}

// RollupDay mirrors the SQL GROUP BY: sums per item, full overwrite of the
// daily row on conflict.
func (m *MockStore) RollupDay(ctx context.Context, day time.Time) (int64, error) {
    if m.FailWrites > 0 {
        m.FailWrites--
        return 0, errInjected
    }
    from, to := day, day.AddDate(0, 0, 1)
    type sums struct {
        views, likes int64
        amount       decimal.Decimal
    }
    agg := map[int64]*sums{}
    for _, r := range m.Hourly {
        if r.TimeBucket.Before(from) || !r.TimeBucket.Before(to) {
            continue
        }
        s, ok := agg[r.ItemID]
        if !ok {
            s = &sums{}
            agg[r.ItemID] = s
        }
        s.views += r.ViewCount
        s.likes += r.LikeCount
        s.amount = s.amount.Add(r.OrderAmount)
    }
    for item, s := range agg {
        m.upsertDailyRow(models.MetricRow{
            TimeBucket:  from,
            ItemID:      item,
            ViewCount:   s.views,
            LikeCount:   s.likes,
            OrderAmount: s.amount,
        })
    }
    return int64(len(agg)), nil
}

func (m *MockStore) SelectByDate(ctx context.Context, p models.PeriodType, date time.Time, limit, offset int64) ([]models.RankingSnapshot, error) {
    var rows []models.RankingSnapshot
    for _, s := range m.Snapshots {
        if s.PeriodType == p && s.SnapshotDate.Equal(date) {
            rows = append(rows, s)
        }
    }
    sort.Slice(rows, func(i, j int) bool { return rows[i].Rank < rows[j].Rank })
    if offset >= int64(len(rows)) {
        return nil, nil
    }
    rows = rows[offset:]
    if limit < int64(len(rows)) {
        rows = rows[:limit]
    }
    return rows, nil
}

func (m *MockStore) SelectByDateAndItem(ctx context.Context, p models.PeriodType, date time.Time, itemID int64) (models.RankingSnapshot, error) {
    for _, s := range m.Snapshots {
        if s.PeriodType == p && s.SnapshotDate.Equal(date) && s.ItemID == itemID {
            return s, nil
        }
    }
    return models.RankingSnapshot{}, models.ErrNotFound
}

func (m *MockStore) ExistsForDate(ctx context.Context, p models.PeriodType, date time.Time) (bool, error) {
    for _, s := range m.Snapshots {
        if s.PeriodType == p && s.SnapshotDate.Equal(date) {
            return true, nil
        }
    }
    return false, nil
}

func (m *MockStore) DeleteAllForDate(ctx context.Context, p models.PeriodType, date time.Time) (int64, error) {
    if m.FailWrites > 0 {
        m.FailWrites--
        return 0, errInjected
    }
    kept := m.Snapshots[:0]
    var deleted int64
    for _, s := range m.Snapshots {
        if s.PeriodType == p && s.SnapshotDate.Equal(date) {
            deleted++
            continue
        }
        kept = append(kept, s)
    }
    m.Snapshots = kept
    return deleted, nil
}

func (m *MockStore) InsertAll(ctx context.Context, rows []models.RankingSnapshot) error {
    if m.FailWrites > 0 {
        m.FailWrites--
        return errInjected
    }
    m.Snapshots = append(m.Snapshots, rows...)
    return nil
}

func (m *MockStore) FindLatestWeight(ctx context.Context) (models.WeightConfig, error) {
    if m.FailWeightReads > 0 {
        m.FailWeightReads--
        return models.WeightConfig{}, errInjected
    }
    if len(m.Weights) == 0 {
        return models.WeightConfig{}, models.ErrNotFound
    }
    return m.Weights[len(m.Weights)-1], nil
}

func (m *MockStore) SaveWeight(ctx context.Context, w models.WeightConfig) (models.WeightConfig, error) {
    m.Weights = append(m.Weights, w)
    return w, nil
}

package store

import (
    "context"
    "time"

    "github.com/example/catalog-rank/internal/models"
)

// Store is the durable tier: engagement metric tables, ranking snapshot
// rows and the weight configuration. Backed by Postgres in production and
// by internal/mock in tests.
type Store interface {
    // Metric reads page through (time_bucket, item_id) keyset order so batch
    // runs can chunk without holding a whole window in memory. Pass a zero
    // afterBucket to start from the beginning of [from, to).
    NextHourlyMetrics(ctx context.Context, from, to time.Time, afterBucket time.Time, afterItem int64, limit int) ([]models.MetricRow, error)
    NextDailyMetrics(ctx context.Context, from, to time.Time, afterBucket time.Time, afterItem int64, limit int) ([]models.MetricRow, error)

    // UpsertDaily inserts or fully overwrites daily metric rows.
    UpsertDaily(ctx context.Context, rows []models.MetricRow) error

    // CountHourlyForDay reports how many hourly rows fall on the given day.
    CountHourlyForDay(ctx context.Context, day time.Time) (int64, error)

    // RollupDay compresses the day's hourly rows into daily rows with a
    // storage-side GROUP BY, overwriting all three sums on conflict so
    // reruns are exactly idempotent. Returns the number of daily rows
    // written.
    RollupDay(ctx context.Context, day time.Time) (int64, error)

    // Snapshot rows for the WEEKLY/MONTHLY tier.
    SelectByDate(ctx context.Context, p models.PeriodType, date time.Time, limit, offset int64) ([]models.RankingSnapshot, error)
    SelectByDateAndItem(ctx context.Context, p models.PeriodType, date time.Time, itemID int64) (models.RankingSnapshot, error)
    ExistsForDate(ctx context.Context, p models.PeriodType, date time.Time) (bool, error)
    DeleteAllForDate(ctx context.Context, p models.PeriodType, date time.Time) (int64, error)
    InsertAll(ctx context.Context, rows []models.RankingSnapshot) error

    // Weight configuration. FindLatestWeight returns models.ErrNotFound when
    // no row exists; callers resolve that with models.DefaultWeights.
    FindLatestWeight(ctx context.Context) (models.WeightConfig, error)
    SaveWeight(ctx context.Context, w models.WeightConfig) (models.WeightConfig, error)
}

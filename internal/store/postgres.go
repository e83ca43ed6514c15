package store

import (
    "context"
    "errors"
    "fmt"
    "time"

    "github.com/example/catalog-rank/internal/models"
    "github.com/jackc/pgx/v5"
    "github.com/jackc/pgx/v5/pgxpool"
    "github.com/shopspring/decimal"
)

var _ Store = (*Postgres)(nil)

type Postgres struct {
    pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
    cfg, err := pgxpool.ParseConfig(dsn)
    if err != nil {
        return nil, err
    }
    pool, err := pgxpool.NewWithConfig(ctx, cfg)
    if err != nil {
        return nil, err
    }
    return &Postgres{pool: pool}, nil
}

func (p *Postgres) Close() { p.pool.Close() }

func (p *Postgres) NextHourlyMetrics(ctx context.Context, from, to time.Time, afterBucket time.Time, afterItem int64, limit int) ([]models.MetricRow, error) {
    return p.nextMetrics(ctx, "item_metrics_hourly", from, to, afterBucket, afterItem, limit)
}

func (p *Postgres) NextDailyMetrics(ctx context.Context, from, to time.Time, afterBucket time.Time, afterItem int64, limit int) ([]models.MetricRow, error) {
    return p.nextMetrics(ctx, "item_metrics_daily", from, to, afterBucket, afterItem, limit)
}

func (p *Postgres) nextMetrics(ctx context.Context, table string, from, to time.Time, afterBucket time.Time, afterItem int64, limit int) ([]models.MetricRow, error) {
    rows, err := p.pool.Query(ctx, fmt.Sprintf(`
        SELECT time_bucket, item_id, view_count, like_count, order_amount::text
        FROM %s
        WHERE time_bucket >= $1 AND time_bucket < $2
          AND (time_bucket > $3 OR (time_bucket = $3 AND item_id > $4))
        ORDER BY time_bucket ASC, item_id ASC
        LIMIT $5
    `, table), from, to, afterBucket, afterItem, limit)
    if err != nil {
        return nil, err
    }
    defer rows.Close()

    var out []models.MetricRow
    for rows.Next() {
        var r models.MetricRow
        var amount string
        if err := rows.Scan(&r.TimeBucket, &r.ItemID, &r.ViewCount, &r.LikeCount, &amount); err != nil {
            return nil, err
        }
        if r.OrderAmount, err = decimal.NewFromString(amount); err != nil {
            return nil, fmt.Errorf("order_amount for item %d: %w", r.ItemID, err)
        }
        out = append(out, r)
    }
    return out, rows.Err()
}

func (p *Postgres) UpsertDaily(ctx context.Context, rows []models.MetricRow) error {
    if len(rows) == 0 {
        return nil
    }
    buckets := make([]time.Time, 0, len(rows))
    items := make([]int64, 0, len(rows))
    views := make([]int64, 0, len(rows))
    likes := make([]int64, 0, len(rows))
    amounts := make([]string, 0, len(rows))
    for _, r := range rows {
        buckets = append(buckets, r.TimeBucket)
        items = append(items, r.ItemID)
        views = append(views, r.ViewCount)
        likes = append(likes, r.LikeCount)
        amounts = append(amounts, r.OrderAmount.String())
    }
    _, err := p.pool.Exec(ctx, `
        INSERT INTO item_metrics_daily (time_bucket, item_id, view_count, like_count, order_amount)
        SELECT * FROM unnest($1::timestamptz[], $2::bigint[], $3::bigint[], $4::bigint[], $5::numeric[])
        ON CONFLICT (time_bucket, item_id)
        DO UPDATE SET view_count = EXCLUDED.view_count,
                      like_count = EXCLUDED.like_count,
                      order_amount = EXCLUDED.order_amount
    `, buckets, items, views, likes, amounts)
    return err
}

func (p *Postgres) CountHourlyForDay(ctx context.Context, day time.Time) (int64, error) {
    from, to := dayRange(day)
    var n int64
    err := p.pool.QueryRow(ctx, `
        SELECT COUNT(*) FROM item_metrics_hourly
        WHERE time_bucket >= $1 AND time_bucket < $2
    `, from, to).Scan(&n)
    return n, err
}

// RollupDay sums the whole day in SQL so application memory stays bounded by
// the number of distinct items, not hourly rows.
func (p *Postgres) RollupDay(ctx context.Context, day time.Time) (int64, error) {
    from, to := dayRange(day)
    ct, err := p.pool.Exec(ctx, `
        INSERT INTO item_metrics_daily (time_bucket, item_id, view_count, like_count, order_amount)
        SELECT $1, item_id, SUM(view_count), SUM(like_count), SUM(order_amount)
        FROM item_metrics_hourly
        WHERE time_bucket >= $1 AND time_bucket < $2
        GROUP BY item_id
        ON CONFLICT (time_bucket, item_id)
        DO UPDATE SET view_count = EXCLUDED.view_count,
                      like_count = EXCLUDED.like_count,
                      order_amount = EXCLUDED.order_amount
    `, from, to)
    if err != nil {
        return 0, err
    }
    return ct.RowsAffected(), nil
}

func (p *Postgres) SelectByDate(ctx context.Context, period models.PeriodType, date time.Time, limit, offset int64) ([]models.RankingSnapshot, error) {
    rows, err := p.pool.Query(ctx, `
        SELECT period_type, snapshot_date, rank, item_id, score::text
        FROM ranking_snapshots
        WHERE period_type = $1 AND snapshot_date = $2
        ORDER BY rank ASC
        LIMIT $3 OFFSET $4
    `, string(period), date, limit, offset)
    if err != nil {
        return nil, err
    }
    defer rows.Close()

    var out []models.RankingSnapshot
    for rows.Next() {
        s, err := scanSnapshot(rows)
        if err != nil {
            return nil, err
        }
        out = append(out, s)
    }
    return out, rows.Err()
}

func (p *Postgres) SelectByDateAndItem(ctx context.Context, period models.PeriodType, date time.Time, itemID int64) (models.RankingSnapshot, error) {
    row := p.pool.QueryRow(ctx, `
        SELECT period_type, snapshot_date, rank, item_id, score::text
        FROM ranking_snapshots
        WHERE period_type = $1 AND snapshot_date = $2 AND item_id = $3
    `, string(period), date, itemID)
    s, err := scanSnapshot(row)
    if errors.Is(err, pgx.ErrNoRows) {
        return models.RankingSnapshot{}, models.ErrNotFound
    }
    return s, err
}

func (p *Postgres) ExistsForDate(ctx context.Context, period models.PeriodType, date time.Time) (bool, error) {
    var exists bool
    err := p.pool.QueryRow(ctx, `
        SELECT EXISTS (
            SELECT 1 FROM ranking_snapshots
            WHERE period_type = $1 AND snapshot_date = $2
        )
    `, string(period), date).Scan(&exists)
    return exists, err
}

func (p *Postgres) DeleteAllForDate(ctx context.Context, period models.PeriodType, date time.Time) (int64, error) {
    ct, err := p.pool.Exec(ctx, `
        DELETE FROM ranking_snapshots
        WHERE period_type = $1 AND snapshot_date = $2
    `, string(period), date)
    if err != nil {
        return 0, err
    }
    return ct.RowsAffected(), nil
}

func (p *Postgres) InsertAll(ctx context.Context, rows []models.RankingSnapshot) error {
    if len(rows) == 0 {
        return nil
    }
    periods := make([]string, 0, len(rows))
    dates := make([]time.Time, 0, len(rows))
    ranks := make([]int32, 0, len(rows))
    items := make([]int64, 0, len(rows))
    scores := make([]string, 0, len(rows))
    for _, r := range rows {
        periods = append(periods, string(r.PeriodType))
        dates = append(dates, r.SnapshotDate)
        ranks = append(ranks, int32(r.Rank))
        items = append(items, r.ItemID)
        scores = append(scores, r.Score.String())
    }
    _, err := p.pool.Exec(ctx, `
        INSERT INTO ranking_snapshots (period_type, snapshot_date, rank, item_id, score)
        SELECT * FROM unnest($1::text[], $2::date[], $3::int[], $4::bigint[], $5::numeric[])
    `, periods, dates, ranks, items, scores)
    return err
}

func (p *Postgres) FindLatestWeight(ctx context.Context) (models.WeightConfig, error) {
    var view, like, order string
    err := p.pool.QueryRow(ctx, `
        SELECT view_weight::text, like_weight::text, order_weight::text
        FROM ranking_weights
        ORDER BY id DESC
        LIMIT 1
    `).Scan(&view, &like, &order)
    if errors.Is(err, pgx.ErrNoRows) {
        return models.WeightConfig{}, models.ErrNotFound
    }
    if err != nil {
        return models.WeightConfig{}, err
    }
    return parseWeights(view, like, order)
}

func (p *Postgres) SaveWeight(ctx context.Context, w models.WeightConfig) (models.WeightConfig, error) {
    _, err := p.pool.Exec(ctx, `
        INSERT INTO ranking_weights (view_weight, like_weight, order_weight, created_at)
        VALUES ($1, $2, $3, NOW())
    `, w.ViewWeight.String(), w.LikeWeight.String(), w.OrderWeight.String())
    if err != nil {
        return models.WeightConfig{}, err
    }
    return w, nil
}

func parseWeights(view, like, order string) (models.WeightConfig, error) {
    var w models.WeightConfig
    var err error
    if w.ViewWeight, err = decimal.NewFromString(view); err != nil {
        return models.WeightConfig{}, fmt.Errorf("view_weight: %w", err)
    }
    if w.LikeWeight, err = decimal.NewFromString(like); err != nil {
        return models.WeightConfig{}, fmt.Errorf("like_weight: %w", err)
    }
    if w.OrderWeight, err = decimal.NewFromString(order); err != nil {
        return models.WeightConfig{}, fmt.Errorf("order_weight: %w", err)
    }
    return w, nil
}

func dayRange(day time.Time) (time.Time, time.Time) {
    d := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
    return d, d.AddDate(0, 0, 1)
}

func scanSnapshot(row pgx.Row) (models.RankingSnapshot, error) {
    var s models.RankingSnapshot
    var period string
    var scoreStr string
    if err := row.Scan(&period, &s.SnapshotDate, &s.Rank, &s.ItemID, &scoreStr); err != nil {
        return models.RankingSnapshot{}, err
    }
    s.PeriodType = models.PeriodType(period)
    d, err := decimal.NewFromString(scoreStr)
    if err != nil {
        return models.RankingSnapshot{}, err
    }
    if s.Score, err = models.NewScore(d); err != nil {
        return models.RankingSnapshot{}, err
    }
    return s, nil
}

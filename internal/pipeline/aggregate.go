package pipeline

import (
    "context"
    "errors"
    "fmt"
    "log"
    "sync"
    "sync/atomic"
    "time"

    "github.com/example/catalog-rank/internal/bucket"
    "github.com/example/catalog-rank/internal/models"
    "github.com/example/catalog-rank/internal/rank"
    "github.com/example/catalog-rank/internal/score"
    "github.com/example/catalog-rank/internal/store"
    "github.com/google/uuid"
    "github.com/shopspring/decimal"
)

// Aggregator computes one ranking run for a period type and reference time.
//
// HOURLY and DAILY runs fold the current and previous bucket's metric rows,
// decay-weighted 9:1, straight into the bucket's sorted set; the set is the
// queryable artifact. WEEKLY and MONTHLY runs accumulate a flat-weighted
// window of daily rows into a TTL-bounded staging set, then extract the top
// N into durable snapshot rows, replacing the previous set for that date.
type Aggregator struct {
    Store store.Store
    Ranks rank.Store

    Policy     Policy
    Workers    int           // long-window stage 1 fan-out
    StagingTTL time.Duration // staging key lifetime; crashed runs self-heal
    TopN       int

    Now func() time.Time
}

const (
    defaultWorkers    = 4
    defaultStagingTTL = time.Hour
    defaultTopN       = 100
)

func (a *Aggregator) now() time.Time {
    if a.Now != nil {
        return a.Now()
    }
    return time.Now()
}

// Run executes one aggregation for (period, ref) and always returns a
// summary; failures are reported in the summary rather than panicking a
// scheduler.
func (a *Aggregator) Run(ctx context.Context, p models.PeriodType, ref time.Time) models.RunSummary {
    sum := models.RunSummary{RunID: uuid.New(), Status: models.RunCompleted}
    if _, err := models.ParsePeriodType(string(p)); err != nil {
        return fail(sum, err)
    }
    if ref.IsZero() {
        ref = a.now()
    }

    weights, err := a.loadWeights(ctx)
    if err != nil {
        return fail(sum, fmt.Errorf("weight lookup: %w", err))
    }

    switch {
    case p.Volatile():
        err = a.runShort(ctx, p, ref, weights, &sum)
    default:
        err = a.runLong(ctx, p, ref, weights, &sum)
    }
    if err != nil {
        return fail(sum, err)
    }
    log.Printf("aggregation %s period=%s ref=%s read=%d written=%d skipped=%d",
        sum.RunID, p, bucket.DateSegment(p, ref), sum.ItemsRead, sum.ItemsWritten, sum.Skipped)
    return sum
}

// loadWeights is a read-through lookup at the point of use; weight updates
// take effect on the next run without coordination. Only a confirmed absent
// row resolves to the hardcoded defaults; store failures are retried and
// then fail the run, so rankings are never computed with the wrong weights.
func (a *Aggregator) loadWeights(ctx context.Context) (models.WeightConfig, error) {
    var w models.WeightConfig
    err := a.Policy.withRetry(ctx, "weight lookup", func(ctx context.Context) error {
        var err error
        w, err = a.Store.FindLatestWeight(ctx)
        if errors.Is(err, models.ErrNotFound) {
            w = models.DefaultWeights()
            return nil
        }
        return err
    })
    return w, err
}

// runShort reads the current and immediately previous bucket and increments
// the current bucket's sorted set by each row's decayed score. Rows for the
// same item accumulate through the atomic increment.
func (a *Aggregator) runShort(ctx context.Context, p models.PeriodType, ref time.Time, w models.WeightConfig, sum *models.RunSummary) error {
    cur := bucket.Truncate(p, ref)
    prev := bucket.Previous(p, cur)
    var windowEnd time.Time
    if p == models.PeriodHourly {
        windowEnd = cur.Add(time.Hour)
    } else {
        windowEnd = cur.AddDate(0, 0, 1)
    }
    key := bucket.Key(p, cur)

    fetch := a.Store.NextDailyMetrics
    if p == models.PeriodHourly {
        fetch = a.Store.NextHourlyMetrics
    }

    read, skipped, err := a.Policy.forEachChunk(ctx, prev,
        func(ctx context.Context, afterBucket time.Time, afterItem int64, limit int) ([]models.MetricRow, error) {
            return fetch(ctx, prev, windowEnd, afterBucket, afterItem, limit)
        },
        func(ctx context.Context, rows []models.MetricRow) (int64, error) {
            deltas, skips := decayedDeltas(rows, cur, w)
            if err := a.Ranks.IncrementAll(ctx, key, deltas, 0); err != nil {
                return 0, err
            }
            sum.ItemsWritten += int64(len(deltas))
            return skips, nil
        })
    sum.ItemsRead = read
    sum.Skipped = skipped
    return err
}

// runLong is the two-stage pipeline. Stage 1 fans window chunks out to a
// small worker pool; increments to the staging set are atomic and
// commutative, so chunk order does not matter. Stage 2 runs single-threaded
// because extract-then-replace must be one logical unit.
func (a *Aggregator) runLong(ctx context.Context, p models.PeriodType, ref time.Time, w models.WeightConfig, sum *models.RunSummary) error {
    refDate := bucket.Truncate(p, ref)
    // only fully closed days count: [ref-window, ref-1]
    windowStart := refDate.AddDate(0, 0, -p.WindowDays())
    windowEnd := refDate

    finalKey := bucket.Key(p, refDate)
    stagingKey := bucket.StagingKey(finalKey)

    read, skipped, err := a.stageAccumulate(ctx, p, w, windowStart, windowEnd, stagingKey)
    sum.ItemsRead = read
    sum.Skipped = skipped
    if err != nil {
        return err
    }

    written, err := a.extractAndPersist(ctx, p, refDate, stagingKey)
    sum.ItemsWritten = written
    return err
}

func (a *Aggregator) stageAccumulate(ctx context.Context, p models.PeriodType, w models.WeightConfig, windowStart, windowEnd time.Time, stagingKey string) (int64, int64, error) {
    workers := a.Workers
    if workers <= 0 {
        workers = defaultWorkers
    }
    ttl := a.StagingTTL
    if ttl <= 0 {
        ttl = defaultStagingTTL
    }

    ctx, cancel := context.WithCancel(ctx)
    defer cancel()

    chunks := make(chan []models.MetricRow, workers)
    var skipped atomic.Int64
    var mu sync.Mutex
    var workerErr error
    var wg sync.WaitGroup
    for i := 0; i < workers; i++ {
        wg.Add(1)
        go func() {
            defer wg.Done()
            for rows := range chunks {
                deltas, skips := plainDeltas(rows, w)
                skipped.Add(skips)
                err := a.Policy.withRetry(ctx, "staging increment", func(ctx context.Context) error {
                    return a.Ranks.IncrementAll(ctx, stagingKey, deltas, ttl)
                })
                if err != nil {
                    mu.Lock()
                    if workerErr == nil {
                        workerErr = err
                    }
                    mu.Unlock()
                    cancel()
                    return
                }
            }
        }()
    }

    read, _, err := a.Policy.forEachChunk(ctx, windowStart,
        func(ctx context.Context, afterBucket time.Time, afterItem int64, limit int) ([]models.MetricRow, error) {
            return a.Store.NextDailyMetrics(ctx, windowStart, windowEnd, afterBucket, afterItem, limit)
        },
        func(ctx context.Context, rows []models.MetricRow) (int64, error) {
            select {
            case chunks <- rows:
                return 0, nil
            case <-ctx.Done():
                return 0, ctx.Err()
            }
        })
    close(chunks)
    wg.Wait()

    if workerErr != nil {
        return read, skipped.Load(), workerErr
    }
    if err != nil {
        return read, skipped.Load(), err
    }
    if a.Policy.SkipLimit >= 0 && skipped.Load() > int64(a.Policy.SkipLimit) {
        return read, skipped.Load(), fmt.Errorf("skipped %d rows, over limit %d", skipped.Load(), a.Policy.SkipLimit)
    }
    return read, skipped.Load(), nil
}

// extractAndPersist replaces the durable snapshot for refDate from a fresh
// staging computation: top N by descending score, ranks starting at 1.
func (a *Aggregator) extractAndPersist(ctx context.Context, p models.PeriodType, refDate time.Time, stagingKey string) (int64, error) {
    topN := a.TopN
    if topN <= 0 {
        topN = defaultTopN
    }

    var members []rank.Member
    err := a.Policy.withRetry(ctx, "staging extract", func(ctx context.Context) error {
        var err error
        members, err = a.Ranks.ReverseRange(ctx, stagingKey, 0, int64(topN-1))
        return err
    })
    if err != nil {
        return 0, err
    }

    snapshots := make([]models.RankingSnapshot, 0, len(members))
    for i, m := range members {
        sc, err := models.NewScore(decimal.NewFromFloat(m.Score))
        if err != nil {
            // staged scores are sums of non-negative scores
            log.Printf("drop staged item %d with score %f: %v", m.ItemID, m.Score, err)
            continue
        }
        snapshots = append(snapshots, models.RankingSnapshot{
            PeriodType:   p,
            SnapshotDate: refDate,
            Rank:         i + 1,
            ItemID:       m.ItemID,
            Score:        sc,
        })
    }

    err = a.Policy.withRetry(ctx, "snapshot replace", func(ctx context.Context) error {
        if _, err := a.Store.DeleteAllForDate(ctx, p, refDate); err != nil {
            return err
        }
        return a.Store.InsertAll(ctx, snapshots)
    })
    if err != nil {
        return 0, err
    }

    // cleanup failure is non-fatal: the staging TTL guarantees expiry
    if err := a.Ranks.Delete(ctx, stagingKey); err != nil {
        log.Printf("staging cleanup %s failed (expires via TTL): %v", stagingKey, err)
    }
    return int64(len(snapshots)), nil
}

// decayedDeltas folds one chunk into per-item score increments, weighting
// rows in the reference bucket 9x over the previous bucket.
func decayedDeltas(rows []models.MetricRow, referenceBucket time.Time, w models.WeightConfig) (map[int64]float64, int64) {
    deltas := make(map[int64]float64, len(rows))
    var skips int64
    for _, r := range rows {
        s, err := rowScore(r, func() (models.Score, error) {
            return score.DecayedScore(r, referenceBucket, w)
        })
        if err != nil {
            log.Printf("skip row: %v", err)
            skips++
            continue
        }
        deltas[r.ItemID] += s.Float64()
    }
    return deltas, skips
}

func plainDeltas(rows []models.MetricRow, w models.WeightConfig) (map[int64]float64, int64) {
    deltas := make(map[int64]float64, len(rows))
    var skips int64
    for _, r := range rows {
        s, err := rowScore(r, func() (models.Score, error) {
            return score.Score(r, w)
        })
        if err != nil {
            log.Printf("skip row: %v", err)
            skips++
            continue
        }
        deltas[r.ItemID] += s.Float64()
    }
    return deltas, skips
}

func rowScore(r models.MetricRow, compute func() (models.Score, error)) (models.Score, error) {
    if r.ItemID <= 0 {
        return models.Score{}, &RowError{ItemID: r.ItemID, Err: fmt.Errorf("invalid item id")}
    }
    if r.OrderAmount.IsNegative() {
        return models.Score{}, &RowError{ItemID: r.ItemID, Err: fmt.Errorf("negative order amount %s", r.OrderAmount)}
    }
    s, err := compute()
    if err != nil {
        return models.Score{}, &RowError{ItemID: r.ItemID, Err: err}
    }
    return s, nil
}

func fail(sum models.RunSummary, err error) models.RunSummary {
    sum.Status = models.RunFailed
    sum.FailureReason = err.Error()
    log.Printf("aggregation %s failed: %v", sum.RunID, err)
    return sum
}

package pipeline

import (
    "context"
    "log"
    "time"

    "github.com/example/catalog-rank/internal/bucket"
    "github.com/example/catalog-rank/internal/models"
    "github.com/example/catalog-rank/internal/store"
    "github.com/google/uuid"
)

// Rollup compresses one day's hourly metric rows into daily rows. The sums
// run inside the store (GROUP BY), and the upsert overwrites all three
// fields, so a rerun reflects exactly the hourly rows present at run time:
// late-arriving data is absorbed, nothing is double-counted.
//
// The same code path serves the repeated "today" refresh runs and the
// once-later "yesterday" reconciliation run; only the target date differs.
type Rollup struct {
    Store  store.Store
    Policy Policy
}

func (r *Rollup) Run(ctx context.Context, day time.Time) models.RunSummary {
    sum := models.RunSummary{RunID: uuid.New(), Status: models.RunCompleted}
    day = bucket.Truncate(models.PeriodDaily, day)

    err := r.Policy.withRetry(ctx, "rollup count", func(ctx context.Context) error {
        n, err := r.Store.CountHourlyForDay(ctx, day)
        sum.ItemsRead = n
        return err
    })
    if err != nil {
        return fail(sum, err)
    }

    err = r.Policy.withRetry(ctx, "rollup upsert", func(ctx context.Context) error {
        n, err := r.Store.RollupDay(ctx, day)
        sum.ItemsWritten = n
        return err
    })
    if err != nil {
        return fail(sum, err)
    }

    log.Printf("rollup %s day=%s read=%d written=%d", sum.RunID, day.Format("20060102"), sum.ItemsRead, sum.ItemsWritten)
    return sum
}

package pipeline

import (
    "context"
    "errors"
    "fmt"
    "log"
    "time"

    "github.com/example/catalog-rank/internal/models"
)

// RowError marks a single metric row that cannot be coerced into a score.
// Row errors are skippable up to the policy's SkipLimit; everything else
// escalates at the chunk boundary.
type RowError struct {
    ItemID int64
    Err    error
}

func (e *RowError) Error() string {
    return fmt.Sprintf("row item=%d: %v", e.ItemID, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

// Policy is the chunking/retry/skip contract for one batch run, independent
// of any execution framework.
type Policy struct {
    ChunkSize  int
    RetryLimit int
    SkipLimit  int
    RetryDelay time.Duration

    // IsRetryable classifies chunk-level errors worth another attempt.
    // IsSkippable classifies row-level errors that may be dropped, counted
    // against SkipLimit.
    IsRetryable func(error) bool
    IsSkippable func(error) bool
}

func DefaultPolicy() Policy {
    return Policy{
        ChunkSize:   500,
        RetryLimit:  3,
        SkipLimit:   10,
        RetryDelay:  200 * time.Millisecond,
        IsRetryable: defaultRetryable,
        IsSkippable: defaultSkippable,
    }
}

// Store errors are assumed transient unless the run itself was cancelled.
func defaultRetryable(err error) bool {
    if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
        return false
    }
    var re *RowError
    return !errors.As(err, &re)
}

func defaultSkippable(err error) bool {
    var re *RowError
    return errors.As(err, &re)
}

// withRetry runs op up to 1+RetryLimit times for retryable errors.
func (p Policy) withRetry(ctx context.Context, what string, op func(context.Context) error) error {
    var err error
    for attempt := 0; ; attempt++ {
        err = op(ctx)
        if err == nil {
            return nil
        }
        if attempt >= p.RetryLimit || p.IsRetryable == nil || !p.IsRetryable(err) {
            return err
        }
        log.Printf("%s: attempt %d failed, retrying: %v", what, attempt+1, err)
        select {
        case <-ctx.Done():
            return ctx.Err()
        case <-time.After(p.RetryDelay):
        }
    }
}

// fetchFunc pages metric rows after the (bucket, item) cursor.
type fetchFunc func(ctx context.Context, afterBucket time.Time, afterItem int64, limit int) ([]models.MetricRow, error)

// applyFunc consumes one chunk and reports how many rows it skipped.
type applyFunc func(ctx context.Context, rows []models.MetricRow) (skipped int64, err error)

// forEachChunk pulls fixed-size chunks from fetch and hands each to apply,
// retrying both sides per the policy and enforcing the skip bound. Returns
// rows read and rows skipped.
func (p Policy) forEachChunk(ctx context.Context, windowStart time.Time, fetch fetchFunc, apply applyFunc) (int64, int64, error) {
    var read, skipped int64
    afterBucket := windowStart.Add(-time.Second)
    afterItem := int64(0)
    for {
        var rows []models.MetricRow
        err := p.withRetry(ctx, "fetch chunk", func(ctx context.Context) error {
            var err error
            rows, err = fetch(ctx, afterBucket, afterItem, p.ChunkSize)
            return err
        })
        if err != nil {
            return read, skipped, err
        }
        if len(rows) == 0 {
            return read, skipped, nil
        }
        read += int64(len(rows))
        last := rows[len(rows)-1]
        afterBucket, afterItem = last.TimeBucket, last.ItemID

        var chunkSkips int64
        err = p.withRetry(ctx, "apply chunk", func(ctx context.Context) error {
            var err error
            chunkSkips, err = apply(ctx, rows)
            return err
        })
        if err != nil {
            return read, skipped, err
        }
        skipped += chunkSkips
        if p.SkipLimit >= 0 && skipped > int64(p.SkipLimit) {
            return read, skipped, fmt.Errorf("skipped %d rows, over limit %d", skipped, p.SkipLimit)
        }
        if len(rows) < p.ChunkSize {
            return read, skipped, nil
        }
    }
}

package cache

import (
    "context"

    "github.com/example/catalog-rank/internal/models"
)

// Cache holds ranking pages for the snapshot-backed periods (WEEKLY and
// MONTHLY). The short periods never touch it: their sorted sets already
// serve fresh reads directly.
type Cache interface {
    // GetPage returns the cached page and ok=true on a hit.
    GetPage(ctx context.Context, p models.PeriodType, dateSeg string, offset, limit int64) (entries []models.RankingEntry, hasMore bool, ok bool, err error)

    // SetPage stores a page under (period, date, offset, limit) for the
    // cache's fixed TTL. Callers must not cache empty pages.
    SetPage(ctx context.Context, p models.PeriodType, dateSeg string, offset, limit int64, entries []models.RankingEntry, hasMore bool) error
}

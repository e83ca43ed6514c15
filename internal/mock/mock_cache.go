package mock

import (
    "context"
    "fmt"

    "github.com/example/catalog-rank/internal/models"
)

type cachedPage struct {
    entries []models.RankingEntry
    hasMore bool
}

// MockCache records every write so tests can assert on cache-aside behavior.
type MockCache struct {
    Pages map[string]cachedPage
    Gets  int
    Sets  int
}

func NewMockCache() *MockCache {
    return &MockCache{Pages: map[string]cachedPage{}}
}

func key(p models.PeriodType, dateSeg string, offset, limit int64) string {
    return fmt.Sprintf("%s:%s:%d:%d", p, dateSeg, offset, limit)
}

func (m *MockCache) GetPage(ctx context.Context, p models.PeriodType, dateSeg string, offset, limit int64) ([]models.RankingEntry, bool, bool, error) {
    m.Gets++
    pg, ok := m.Pages[key(p, dateSeg, offset, limit)]
    if !ok {
        return nil, false, false, nil
    }
    return pg.entries, pg.hasMore, true, nil
}

func (m *MockCache) SetPage(ctx context.Context, p models.PeriodType, dateSeg string, offset, limit int64, entries []models.RankingEntry, hasMore bool) error {
    m.Sets++
    m.Pages[key(p, dateSeg, offset, limit)] = cachedPage{entries: entries, hasMore: hasMore}
    return nil
}

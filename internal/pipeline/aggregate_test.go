package pipeline

import (
    "context"
    "math"
    "testing"
    "time"

    "github.com/alicebob/miniredis/v2"
    "github.com/example/catalog-rank/internal/bucket"
    "github.com/example/catalog-rank/internal/mock"
    "github.com/example/catalog-rank/internal/models"
    "github.com/example/catalog-rank/internal/rank"
    goredis "github.com/redis/go-redis/v9"
    "github.com/shopspring/decimal"
)

func newTestRanks(t *testing.T) (*rank.Redis, *miniredis.Miniredis) {
    t.Helper()
    mr := miniredis.RunT(t)
    cli := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
    t.Cleanup(func() { cli.Close() })
    return rank.NewRedis(cli), mr
}

func newAggregator(ms *mock.MockStore, ranks *rank.Redis) *Aggregator {
    return &Aggregator{
        Store:      ms,
        Ranks:      ranks,
        Policy:     DefaultPolicy(),
        Workers:    3,
        StagingTTL: time.Hour,
        TopN:       100,
    }
}

func metric(bucketTime time.Time, item, views, likes int64, amount string) models.MetricRow {
    return models.MetricRow{
        TimeBucket:  bucketTime,
        ItemID:      item,
        ViewCount:   views,
        LikeCount:   likes,
        OrderAmount: decimal.RequireFromString(amount),
    }
}

func TestHourlyRunAppliesDecay(t *testing.T) {
    cur := time.Date(2025, 1, 1, 14, 0, 0, 0, time.UTC)
    prev := cur.Add(-time.Hour)

    ms := mock.NewMockStore()
    // identical metrics in both buckets: raw score 612 each
    ms.Hourly = []models.MetricRow{
        metric(cur, 1, 120, 0, "1000"),
        metric(prev, 1, 120, 0, "1000"),
        metric(prev, 2, 120, 0, "1000"),
    }
    ranks, _ := newTestRanks(t)
    agg := newAggregator(ms, ranks)

    sum := agg.Run(context.Background(), models.PeriodHourly, cur)
    if sum.Status != models.RunCompleted {
        t.Fatalf("run failed: %s", sum.FailureReason)
    }
    if sum.ItemsRead != 3 {
        t.Errorf("read: got %d, want 3", sum.ItemsRead)
    }

    key := bucket.Key(models.PeriodHourly, cur)
    members, err := ranks.ReverseRange(context.Background(), key, 0, 10)
    if err != nil {
        t.Fatal(err)
    }
    if len(members) != 2 {
        t.Fatalf("got %d members, want 2", len(members))
    }
    // item 1: 612*0.9 + 612*0.1 = 612; item 2: 612*0.1 = 61.20
    if members[0].ItemID != 1 || math.Abs(members[0].Score-612.00) > 1e-6 {
        t.Errorf("top member: got item=%d score=%f, want item=1 score=612.00", members[0].ItemID, members[0].Score)
    }
    if members[1].ItemID != 2 || math.Abs(members[1].Score-61.20) > 1e-6 {
        t.Errorf("second member: got item=%d score=%f, want item=2 score=61.20", members[1].ItemID, members[1].Score)
    }
}

func TestDailyRunAccumulatesPerItem(t *testing.T) {
    cur := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
    prev := cur.AddDate(0, 0, -1)

    ms := mock.NewMockStore()
    ms.Daily = []models.MetricRow{
        metric(cur, 7, 100, 0, "0"),  // 10 * 0.9 = 9
        metric(prev, 7, 100, 0, "0"), // 10 * 0.1 = 1
    }
    ranks, _ := newTestRanks(t)
    agg := newAggregator(ms, ranks)

    sum := agg.Run(context.Background(), models.PeriodDaily, cur)
    if sum.Status != models.RunCompleted {
        t.Fatalf("run failed: %s", sum.FailureReason)
    }

    members, err := ranks.ReverseRange(context.Background(), bucket.Key(models.PeriodDaily, cur), 0, 0)
    if err != nil {
        t.Fatal(err)
    }
    if len(members) != 1 || math.Abs(members[0].Score-10.00) > 1e-6 {
        t.Fatalf("got %+v, want single member with score 10.00", members)
    }
}

func TestWeeklyRunPersistsTop100(t *testing.T) {
    refDate := time.Date(2025, 1, 8, 0, 0, 0, 0, time.UTC)
    ms := mock.NewMockStore()
    // 120 items, one row per day over the 7 closed days; score grows with id
    for day := 1; day <= 7; day++ {
        d := refDate.AddDate(0, 0, -day)
        for item := int64(1); item <= 120; item++ {
            ms.Daily = append(ms.Daily, metric(d, item, item*10, 0, "0"))
        }
    }
    // a row on the reference date itself must not count
    ms.Daily = append(ms.Daily, metric(refDate, 1, 1_000_000, 0, "0"))
    // stale snapshot rows for the same date must be replaced
    oldScore, _ := models.NewScore(decimal.NewFromInt(1))
    ms.Snapshots = []models.RankingSnapshot{
        {PeriodType: models.PeriodWeekly, SnapshotDate: refDate, Rank: 1, ItemID: 999, Score: oldScore},
    }

    ranks, mr := newTestRanks(t)
    agg := newAggregator(ms, ranks)
    agg.Policy.ChunkSize = 50 // force multiple chunks through the worker pool

    sum := agg.Run(context.Background(), models.PeriodWeekly, refDate)
    if sum.Status != models.RunCompleted {
        t.Fatalf("run failed: %s", sum.FailureReason)
    }
    if sum.ItemsWritten != 100 {
        t.Errorf("written: got %d, want 100", sum.ItemsWritten)
    }

    if len(ms.Snapshots) != 100 {
        t.Fatalf("got %d snapshot rows, want exactly 100", len(ms.Snapshots))
    }
    byRank := map[int]models.RankingSnapshot{}
    for _, s := range ms.Snapshots {
        if s.PeriodType != models.PeriodWeekly || !s.SnapshotDate.Equal(refDate) {
            t.Fatalf("unexpected snapshot row %+v", s)
        }
        if s.ItemID == 999 {
            t.Fatal("stale snapshot row survived the replace")
        }
        byRank[s.Rank] = s
    }
    // rank 1 = item 120 with 7 days * 120*10*0.1 = 840.00
    if byRank[1].ItemID != 120 {
        t.Errorf("rank 1: got item %d, want 120", byRank[1].ItemID)
    }
    if byRank[1].Score.String() != "840.00" {
        t.Errorf("rank 1 score: got %s, want 840.00", byRank[1].Score)
    }
    // rank 100 = item 21; items 1..20 fall outside the top 100
    if byRank[100].ItemID != 21 {
        t.Errorf("rank 100: got item %d, want 21", byRank[100].ItemID)
    }
    for _, s := range ms.Snapshots {
        if s.ItemID <= 20 {
            t.Errorf("item %d ranked although outside top 100", s.ItemID)
        }
    }

    // staging key cleaned up after a successful run
    stagingKey := bucket.StagingKey(bucket.Key(models.PeriodWeekly, refDate))
    if mr.Exists(stagingKey) {
        t.Error("staging key not deleted")
    }
}

func TestRunRetriesTransientReadError(t *testing.T) {
    cur := time.Date(2025, 1, 1, 14, 0, 0, 0, time.UTC)
    ms := mock.NewMockStore()
    ms.Hourly = []models.MetricRow{metric(cur, 1, 10, 0, "0")}
    ms.FailReads = 2

    ranks, _ := newTestRanks(t)
    agg := newAggregator(ms, ranks)
    agg.Policy.RetryDelay = time.Millisecond

    sum := agg.Run(context.Background(), models.PeriodHourly, cur)
    if sum.Status != models.RunCompleted {
        t.Fatalf("expected retries to absorb transient errors: %s", sum.FailureReason)
    }
    if sum.ItemsRead != 1 {
        t.Errorf("read: got %d, want 1", sum.ItemsRead)
    }
}

func TestRunFailsWhenRetriesExhausted(t *testing.T) {
    cur := time.Date(2025, 1, 1, 14, 0, 0, 0, time.UTC)
    ms := mock.NewMockStore()
    ms.Hourly = []models.MetricRow{metric(cur, 1, 10, 0, "0")}
    ms.FailReads = 10

    ranks, _ := newTestRanks(t)
    agg := newAggregator(ms, ranks)
    agg.Policy.RetryLimit = 2
    agg.Policy.RetryDelay = time.Millisecond

    sum := agg.Run(context.Background(), models.PeriodHourly, cur)
    if sum.Status != models.RunFailed {
        t.Fatal("expected run to fail after exhausting retries")
    }
    if sum.FailureReason == "" {
        t.Error("failure reason missing")
    }
}

func TestRunSkipsMalformedRowsUpToLimit(t *testing.T) {
    cur := time.Date(2025, 1, 1, 14, 0, 0, 0, time.UTC)
    ms := mock.NewMockStore()
    ms.Hourly = []models.MetricRow{
        metric(cur, 1, 10, 0, "0"),
        metric(cur, 2, 0, 0, "-5"), // negative order amount: skippable
        metric(cur, 3, 10, 0, "0"),
    }
    ranks, _ := newTestRanks(t)
    agg := newAggregator(ms, ranks)
    agg.Policy.SkipLimit = 1

    sum := agg.Run(context.Background(), models.PeriodHourly, cur)
    if sum.Status != models.RunCompleted {
        t.Fatalf("run failed: %s", sum.FailureReason)
    }
    if sum.Skipped != 1 {
        t.Errorf("skipped: got %d, want 1", sum.Skipped)
    }

    members, _ := ranks.ReverseRange(context.Background(), bucket.Key(models.PeriodHourly, cur), 0, 10)
    if len(members) != 2 {
        t.Errorf("got %d members, want 2 (bad row dropped)", len(members))
    }
}

func TestRunFailsOverSkipLimit(t *testing.T) {
    cur := time.Date(2025, 1, 1, 14, 0, 0, 0, time.UTC)
    ms := mock.NewMockStore()
    for i := int64(1); i <= 5; i++ {
        ms.Hourly = append(ms.Hourly, metric(cur, i, 0, 0, "-1"))
    }
    ranks, _ := newTestRanks(t)
    agg := newAggregator(ms, ranks)
    agg.Policy.SkipLimit = 2

    sum := agg.Run(context.Background(), models.PeriodHourly, cur)
    if sum.Status != models.RunFailed {
        t.Fatal("expected run to fail once skips exceed the limit")
    }
}

func TestWeeklyRunFailsWhenPersistFails(t *testing.T) {
    refDate := time.Date(2025, 1, 8, 0, 0, 0, 0, time.UTC)
    ms := mock.NewMockStore()
    ms.Daily = []models.MetricRow{metric(refDate.AddDate(0, 0, -1), 1, 10, 0, "0")}
    ms.FailWrites = 10

    ranks, _ := newTestRanks(t)
    agg := newAggregator(ms, ranks)
    agg.Policy.RetryLimit = 1
    agg.Policy.RetryDelay = time.Millisecond

    sum := agg.Run(context.Background(), models.PeriodWeekly, refDate)
    if sum.Status != models.RunFailed {
        t.Fatal("expected run to fail when snapshot persistence fails")
    }
}

func TestRunRejectsUnknownPeriod(t *testing.T) {
    ms := mock.NewMockStore()
    ranks, _ := newTestRanks(t)
    agg := newAggregator(ms, ranks)

    sum := agg.Run(context.Background(), models.PeriodType("YEARLY"), time.Now())
    if sum.Status != models.RunFailed {
        t.Fatal("expected failure for unknown period type")
    }
}

func TestWeeklyStagingKeyCarriesTTL(t *testing.T) {
    refDate := time.Date(2025, 1, 8, 0, 0, 0, 0, time.UTC)
    ms := mock.NewMockStore()
    for item := int64(1); item <= 3; item++ {
        ms.Daily = append(ms.Daily, metric(refDate.AddDate(0, 0, -1), item, 10, 0, "0"))
    }
    // fail the snapshot replace so the run aborts between staging and persist
    ms.FailWrites = 10

    ranks, mr := newTestRanks(t)
    agg := newAggregator(ms, ranks)
    agg.Policy.RetryLimit = 0
    agg.StagingTTL = 30 * time.Minute

    sum := agg.Run(context.Background(), models.PeriodWeekly, refDate)
    if sum.Status != models.RunFailed {
        t.Fatal("expected failed run")
    }

    stagingKey := bucket.StagingKey(bucket.Key(models.PeriodWeekly, refDate))
    if !mr.Exists(stagingKey) {
        t.Fatal("staging key should survive the failed run until TTL")
    }
    if mr.TTL(stagingKey) != 30*time.Minute {
        t.Errorf("staging ttl: got %v, want 30m", mr.TTL(stagingKey))
    }
    mr.FastForward(time.Hour)
    if mr.Exists(stagingKey) {
        t.Error("staging key should expire without manual cleanup")
    }
}

func TestUsesLatestWeightsAtRunTime(t *testing.T) {
    cur := time.Date(2025, 1, 1, 14, 0, 0, 0, time.UTC)
    ms := mock.NewMockStore()
    ms.Hourly = []models.MetricRow{metric(cur, 1, 100, 0, "0")}
    ms.Weights = []models.WeightConfig{
        models.DefaultWeights(),
        {
            ViewWeight:  decimal.RequireFromString("1"),
            LikeWeight:  decimal.RequireFromString("0"),
            OrderWeight: decimal.RequireFromString("0"),
        },
    }
    ranks, _ := newTestRanks(t)
    agg := newAggregator(ms, ranks)

    sum := agg.Run(context.Background(), models.PeriodHourly, cur)
    if sum.Status != models.RunCompleted {
        t.Fatalf("run failed: %s", sum.FailureReason)
    }

    members, _ := ranks.ReverseRange(context.Background(), bucket.Key(models.PeriodHourly, cur), 0, 0)
    // 100 views * weight 1 * decay 0.9
    if len(members) != 1 || math.Abs(members[0].Score-90.00) > 1e-6 {
        t.Fatalf("got %+v, want score 90.00 from the latest weights", members)
    }
}

func TestRunRetriesTransientWeightLookup(t *testing.T) {
    cur := time.Date(2025, 1, 1, 14, 0, 0, 0, time.UTC)
    ms := mock.NewMockStore()
    ms.Hourly = []models.MetricRow{metric(cur, 1, 100, 0, "0")}
    ms.Weights = []models.WeightConfig{{
        ViewWeight:  decimal.RequireFromString("1"),
        LikeWeight:  decimal.RequireFromString("0"),
        OrderWeight: decimal.RequireFromString("0"),
    }}
    ms.FailWeightReads = 1

    ranks, _ := newTestRanks(t)
    agg := newAggregator(ms, ranks)
    agg.Policy.RetryDelay = time.Millisecond

    sum := agg.Run(context.Background(), models.PeriodHourly, cur)
    if sum.Status != models.RunCompleted {
        t.Fatalf("expected retry to absorb the transient weight lookup error: %s", sum.FailureReason)
    }

    members, _ := ranks.ReverseRange(context.Background(), bucket.Key(models.PeriodHourly, cur), 0, 0)
    // 100 views * configured weight 1 * decay 0.9, not the 0.1 default
    if len(members) != 1 || math.Abs(members[0].Score-90.00) > 1e-6 {
        t.Fatalf("got %+v, want score 90.00 from the stored weights", members)
    }
}

func TestRunFailsWhenWeightLookupKeepsFailing(t *testing.T) {
    cur := time.Date(2025, 1, 1, 14, 0, 0, 0, time.UTC)
    ms := mock.NewMockStore()
    ms.Hourly = []models.MetricRow{metric(cur, 1, 100, 0, "0")}
    ms.Weights = []models.WeightConfig{models.DefaultWeights()}
    ms.FailWeightReads = 10

    ranks, mr := newTestRanks(t)
    agg := newAggregator(ms, ranks)
    agg.Policy.RetryLimit = 2
    agg.Policy.RetryDelay = time.Millisecond

    sum := agg.Run(context.Background(), models.PeriodHourly, cur)
    if sum.Status != models.RunFailed {
        t.Fatal("expected the run to fail rather than score with fallback weights")
    }
    if mr.Exists(bucket.Key(models.PeriodHourly, cur)) {
        t.Error("failed run must not write any rankings")
    }
}

func TestLongRunChunkCursorCoversWholeWindow(t *testing.T) {
    refDate := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
    ms := mock.NewMockStore()
    total := 0
    for day := 1; day <= 30; day++ {
        d := refDate.AddDate(0, 0, -day)
        for item := int64(1); item <= 7; item++ {
            ms.Daily = append(ms.Daily, metric(d, item, 10, 0, "0"))
            total++
        }
    }
    ranks, _ := newTestRanks(t)
    agg := newAggregator(ms, ranks)
    agg.Policy.ChunkSize = 13 // deliberately not aligned with rows per day

    sum := agg.Run(context.Background(), models.PeriodMonthly, refDate)
    if sum.Status != models.RunCompleted {
        t.Fatalf("run failed: %s", sum.FailureReason)
    }
    if sum.ItemsRead != int64(total) {
        t.Errorf("read: got %d, want %d", sum.ItemsRead, total)
    }
    // every item: 30 days * 10*0.1 = 30.00
    for _, s := range ms.Snapshots {
        if s.Score.String() != "30.00" {
            t.Errorf("item %d score: got %s, want 30.00", s.ItemID, s.Score)
            break
        }
    }
    if len(ms.Snapshots) != 7 {
        t.Errorf("got %d snapshot rows, want 7", len(ms.Snapshots))
    }
}

package main

import (
    "context"
    "encoding/json"
    "flag"
    "log"
    "os"
    "os/signal"
    "syscall"
    "time"

    "github.com/example/catalog-rank/internal/config"
    "github.com/example/catalog-rank/internal/models"
    "github.com/example/catalog-rank/internal/pipeline"
    "github.com/example/catalog-rank/internal/rank"
    "github.com/example/catalog-rank/internal/store"
)

func main() {
    periodFlag := flag.String("period", "", "period type: HOURLY, DAILY, WEEKLY or MONTHLY")
    dateFlag := flag.String("date", "", "reference date yyyyMMdd or yyyyMMddHH (default: now)")
    flag.Parse()

    period, err := models.ParsePeriodType(*periodFlag)
    if err != nil {
        log.Fatalf("aggregation-job: %v", err)
    }
    var ref time.Time
    if *dateFlag != "" {
        for _, layout := range []string{"20060102", "2006010215"} {
            if t, perr := time.Parse(layout, *dateFlag); perr == nil {
                ref = t.UTC()
                break
            }
        }
        if ref.IsZero() {
            log.Fatalf("aggregation-job: cannot parse -date %q", *dateFlag)
        }
    }

    cfg := config.LoadJob()
    ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
    defer cancel()

    pg, err := store.NewPostgres(ctx, cfg.PgDSN)
    if err != nil {
        log.Fatalf("postgres: %v", err)
    }
    defer pg.Close()

    rds := rank.NewRedisAddr(cfg.RedisAddr, cfg.RedisDB)
    defer rds.Close()

    pol := pipeline.DefaultPolicy()
    pol.ChunkSize = cfg.ChunkSize
    pol.RetryLimit = cfg.RetryLimit
    pol.SkipLimit = cfg.SkipLimit
    pol.RetryDelay = cfg.RetryDelay

    agg := &pipeline.Aggregator{
        Store:      pg,
        Ranks:      rds,
        Policy:     pol,
        Workers:    cfg.Workers,
        StagingTTL: cfg.StagingTTL,
        TopN:       cfg.TopN,
    }

    sum := agg.Run(ctx, period, ref)
    _ = json.NewEncoder(os.Stdout).Encode(sum)
    if sum.Status != models.RunCompleted {
        os.Exit(1)
    }
}

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
    "github.com/example/catalog-rank/internal/store"
)

func main() {
    dateFlag := flag.String("date", "", "target date yyyyMMdd (default: today)")
    flag.Parse()

    day := time.Now().UTC()
    if *dateFlag != "" {
        t, err := time.Parse("20060102", *dateFlag)
        if err != nil {
            log.Fatalf("rollup-job: cannot parse -date %q: %v", *dateFlag, err)
        }
        day = t.UTC()
    }

    cfg := config.LoadJob()
    ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
    defer cancel()

    pg, err := store.NewPostgres(ctx, cfg.PgDSN)
    if err != nil {
        log.Fatalf("postgres: %v", err)
    }
    defer pg.Close()

    pol := pipeline.DefaultPolicy()
    pol.RetryLimit = cfg.RetryLimit
    pol.RetryDelay = cfg.RetryDelay

    roll := &pipeline.Rollup{Store: pg, Policy: pol}
    sum := roll.Run(ctx, day)
    _ = json.NewEncoder(os.Stdout).Encode(sum)
    if sum.Status != models.RunCompleted {
        os.Exit(1)
    }
}

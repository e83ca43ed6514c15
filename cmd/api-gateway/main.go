package main

import (
    "context"
    "log"
    "net/http"
    "os/signal"
    "syscall"

    "github.com/example/catalog-rank/internal/api"
    "github.com/example/catalog-rank/internal/cache"
    "github.com/example/catalog-rank/internal/config"
    "github.com/example/catalog-rank/internal/rank"
    "github.com/example/catalog-rank/internal/ranking"
    "github.com/example/catalog-rank/internal/store"
)

func main() {
    cfg := config.LoadAPI()
    ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
    defer cancel()

    pg, err := store.NewPostgres(ctx, cfg.PgDSN)
    if err != nil {
        log.Fatalf("postgres: %v", err)
    }
    defer pg.Close()

    rds := rank.NewRedisAddr(cfg.RedisAddr, cfg.RedisDB)
    defer rds.Close()

    pages := cache.NewRedisAddr(cfg.RedisAddr, cfg.RedisDB, cfg.CacheTTL)
    defer pages.Close()

    svc := &ranking.Service{
        Reader:  &ranking.Reader{Ranks: rds, Snapshots: pg},
        Cache:   pages,
        Weights: pg,
    }

    h := &api.Handler{Rankings: svc, DefaultLimit: cfg.DefaultLimit}
    mux := http.NewServeMux()
    h.Routes(mux)

    srv := &http.Server{Addr: cfg.Addr, Handler: mux}

    go func() {
        <-ctx.Done()
        _ = srv.Shutdown(context.Background())
    }()

    log.Printf("api listening on %s", cfg.Addr)
    if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
        log.Fatalf("server error: %v", err)
    }
}

package api

import (
    "encoding/json"
    "errors"
    "log"
    "net/http"
    "strconv"
    "strings"
    "time"

    "github.com/example/catalog-rank/internal/models"
    "github.com/example/catalog-rank/internal/ranking"
    "github.com/shopspring/decimal"
)

type Handler struct {
    Rankings     *ranking.Service
    DefaultLimit int64
}

func (h *Handler) Routes(mux *http.ServeMux) {
    mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
    mux.HandleFunc("/rankings", h.List)
    mux.HandleFunc("/rankings/", h.rankingSubroutes)
    mux.HandleFunc("/admin/weights", h.Weights)
}

// GET /rankings?period=HOURLY&date=2025010114&offset=0&limit=20
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
    ctx := r.Context()
    q, err := h.parseQuery(r)
    if err != nil {
        httpError(w, statusFor(err), err)
        return
    }
    entries, hasMore, err := h.Rankings.FindRankings(ctx, q)
    if err != nil {
        httpError(w, statusFor(err), err)
        return
    }
    if entries == nil {
        entries = []models.RankingEntry{}
    }
    writeJSON(w, http.StatusOK, map[string]any{
        "period":   q.PeriodType,
        "entries":  entries,
        "has_more": hasMore,
    })
}

// Expect: /rankings/{itemId}/rank
func (h *Handler) rankingSubroutes(w http.ResponseWriter, r *http.Request) {
    parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
    if len(parts) == 3 && parts[0] == "rankings" && parts[2] == "rank" {
        itemID, err := strconv.ParseInt(parts[1], 10, 64)
        if err != nil || itemID <= 0 {
            httpError(w, http.StatusBadRequest, &models.ValidationError{Field: "itemId", Reason: "must be a positive integer"})
            return
        }
        h.ItemRank(w, r, itemID)
        return
    }
    http.NotFound(w, r)
}

func (h *Handler) ItemRank(w http.ResponseWriter, r *http.Request, itemID int64) {
    ctx := r.Context()
    q, err := h.parseQuery(r)
    if err != nil {
        httpError(w, statusFor(err), err)
        return
    }
    rank, ok, err := h.Rankings.FindRank(ctx, q, itemID)
    if err != nil {
        httpError(w, statusFor(err), err)
        return
    }
    if !ok {
        httpError(w, http.StatusNotFound, models.ErrNotFound)
        return
    }
    writeJSON(w, http.StatusOK, map[string]any{
        "period":  q.PeriodType,
        "item_id": itemID,
        "rank":    rank,
    })
}

// GET/PUT /admin/weights
func (h *Handler) Weights(w http.ResponseWriter, r *http.Request) {
    ctx := r.Context()
    switch r.Method {
    case http.MethodGet:
        cfg, err := h.Rankings.FindWeight(ctx)
        if err != nil {
            httpError(w, http.StatusInternalServerError, err)
            return
        }
        writeJSON(w, http.StatusOK, cfg)
    case http.MethodPut:
        var body struct {
            ViewWeight  decimal.Decimal `json:"view_weight"`
            LikeWeight  decimal.Decimal `json:"like_weight"`
            OrderWeight decimal.Decimal `json:"order_weight"`
        }
        if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
            httpError(w, http.StatusBadRequest, err)
            return
        }
        cfg, err := h.Rankings.UpdateWeight(ctx, body.ViewWeight, body.LikeWeight, body.OrderWeight)
        if err != nil {
            httpError(w, statusFor(err), err)
            return
        }
        writeJSON(w, http.StatusOK, cfg)
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

func (h *Handler) parseQuery(r *http.Request) (models.RankingQuery, error) {
    qs := r.URL.Query()
    p, err := models.ParsePeriodType(qs.Get("period"))
    if err != nil {
        return models.RankingQuery{}, err
    }
    ref, err := parseDateParam(qs.Get("date"))
    if err != nil {
        return models.RankingQuery{}, err
    }
    offset, err := parseInt64("offset", qs.Get("offset"), 0)
    if err != nil {
        return models.RankingQuery{}, err
    }
    limit, err := parseInt64("limit", qs.Get("limit"), h.DefaultLimit)
    if err != nil {
        return models.RankingQuery{}, err
    }
    return models.NewRankingQuery(p, ref, offset, limit)
}

// parseDateParam accepts yyyyMMdd, yyyyMMddHH or RFC3339; empty means "now".
func parseDateParam(v string) (time.Time, error) {
    if v == "" {
        return time.Time{}, nil
    }
    for _, layout := range []string{"20060102", "2006010215", time.RFC3339} {
        if t, err := time.Parse(layout, v); err == nil {
            return t.UTC(), nil
        }
    }
    return time.Time{}, &models.ValidationError{Field: "date", Reason: "expected yyyyMMdd, yyyyMMddHH or RFC3339"}
}

func parseInt64(field, v string, def int64) (int64, error) {
    if v == "" {
        return def, nil
    }
    n, err := strconv.ParseInt(v, 10, 64)
    if err != nil {
        return 0, &models.ValidationError{Field: field, Reason: "must be an integer"}
    }
    return n, nil
}

func statusFor(err error) int {
    var ve *models.ValidationError
    if errors.As(err, &ve) {
        return http.StatusBadRequest
    }
    if errors.Is(err, models.ErrNotFound) {
        return http.StatusNotFound
    }
    return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, code int, v any) {
    w.Header().Set("Content-Type", "application/json")
    w.WriteHeader(code)
    if err := json.NewEncoder(w).Encode(v); err != nil {
        log.Printf("writeJSON error: %v", err)
    }
}

func httpError(w http.ResponseWriter, code int, err error) {
    writeJSON(w, code, map[string]string{"error": err.Error()})
}

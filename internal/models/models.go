package models

import (
    "errors"
    "fmt"
    "strings"
    "time"

    "github.com/google/uuid"
    "github.com/shopspring/decimal"
)

// PeriodType selects one of the four ranking granularities. The set is
// closed; every switch over it must handle all four values.
type PeriodType string

const (
    PeriodHourly  PeriodType = "HOURLY"
    PeriodDaily   PeriodType = "DAILY"
    PeriodWeekly  PeriodType = "WEEKLY"
    PeriodMonthly PeriodType = "MONTHLY"
)

func ParsePeriodType(s string) (PeriodType, error) {
    switch PeriodType(strings.ToUpper(strings.TrimSpace(s))) {
    case PeriodHourly:
        return PeriodHourly, nil
    case PeriodDaily:
        return PeriodDaily, nil
    case PeriodWeekly:
        return PeriodWeekly, nil
    case PeriodMonthly:
        return PeriodMonthly, nil
    }
    return "", &ValidationError{Field: "period", Reason: fmt.Sprintf("unknown period type %q", s)}
}

// Volatile reports whether rankings for this period live in the sorted-set
// tier (HOURLY, DAILY) rather than the durable snapshot tier.
func (p PeriodType) Volatile() bool {
    return p == PeriodHourly || p == PeriodDaily
}

// WindowDays is the fixed-width aggregation window for the long periods.
// Weeks and months are deliberately not calendar-aligned: a window is always
// "trailing N closed days before the reference date".
func (p PeriodType) WindowDays() int {
    switch p {
    case PeriodWeekly:
        return 7
    case PeriodMonthly:
        return 30
    default:
        return 0
    }
}

// MetricRow is one engagement counter row, hourly or daily depending on the
// table it was read from. View and like counts may go negative when
// cancellations outnumber the original events; the order amount never does.
type MetricRow struct {
    TimeBucket  time.Time
    ItemID      int64
    ViewCount   int64
    LikeCount   int64
    OrderAmount decimal.Decimal
}

// WeightConfig holds the three signal weights used by the score calculator.
type WeightConfig struct {
    ViewWeight  decimal.Decimal `json:"view_weight"`
    LikeWeight  decimal.Decimal `json:"like_weight"`
    OrderWeight decimal.Decimal `json:"order_weight"`
}

// DefaultWeights is the hardcoded fallback applied when no weight row exists.
func DefaultWeights() WeightConfig {
    return WeightConfig{
        ViewWeight:  decimal.NewFromFloat(0.10),
        LikeWeight:  decimal.NewFromFloat(0.20),
        OrderWeight: decimal.NewFromFloat(0.60),
    }
}

// Score is a non-negative decimal rounded to 2 places, half-up, at the point
// it is produced. Construction is the only rounding step; upstream arithmetic
// stays in the full-precision decimal domain.
type Score struct {
    value decimal.Decimal
}

var ErrNegativeScore = errors.New("score must not be negative")

func NewScore(v decimal.Decimal) (Score, error) {
    r := v.Round(2)
    if r.IsNegative() {
        return Score{}, ErrNegativeScore
    }
    return Score{value: r}, nil
}

func (s Score) Decimal() decimal.Decimal { return s.value }

func (s Score) Float64() float64 {
    f, _ := s.value.Float64()
    return f
}

func (s Score) String() string { return s.value.StringFixed(2) }

func (s Score) MarshalJSON() ([]byte, error) {
    return []byte(s.value.StringFixed(2)), nil
}

func (s *Score) UnmarshalJSON(b []byte) error {
    d, err := decimal.NewFromString(strings.Trim(string(b), `"`))
    if err != nil {
        return err
    }
    sc, err := NewScore(d)
    if err != nil {
        return err
    }
    *s = sc
    return nil
}

// RankingSnapshot is one durable top-N row for a WEEKLY/MONTHLY period
// instance. The full set for a (period, snapshot date) is replaced
// delete-then-insert on every aggregation run.
type RankingSnapshot struct {
    PeriodType   PeriodType
    SnapshotDate time.Time
    Rank         int
    ItemID       int64
    Score        Score
}

// RankingEntry is the transient query result unit.
type RankingEntry struct {
    ItemID int64 `json:"item_id"`
    Rank   int64 `json:"rank"`
    Score  Score `json:"score"`
}

const MaxQueryLimit = 100

// RankingQuery is a validated read request. A zero ReferenceTime means "now",
// resolved by the query service.
type RankingQuery struct {
    PeriodType    PeriodType
    ReferenceTime time.Time
    Offset        int64
    Limit         int64
}

func NewRankingQuery(p PeriodType, ref time.Time, offset, limit int64) (RankingQuery, error) {
    if _, err := ParsePeriodType(string(p)); err != nil {
        return RankingQuery{}, err
    }
    if offset < 0 {
        return RankingQuery{}, &ValidationError{Field: "offset", Reason: "must not be negative"}
    }
    if limit < 1 || limit > MaxQueryLimit {
        return RankingQuery{}, &ValidationError{Field: "limit", Reason: fmt.Sprintf("must be in [1,%d]", MaxQueryLimit)}
    }
    return RankingQuery{PeriodType: p, ReferenceTime: ref, Offset: offset, Limit: limit}, nil
}

// ValidationError rejects malformed input before any I/O happens.
type ValidationError struct {
    Field  string
    Reason string
}

func (e *ValidationError) Error() string {
    return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ErrNotFound is the sentinel for absent rows (snapshots, weights, ranks).
var ErrNotFound = errors.New("not found")

// RunSummary reports the outcome of one batch invocation.
type RunSummary struct {
    RunID         uuid.UUID `json:"run_id"`
    Status        RunStatus `json:"status"`
    ItemsRead     int64     `json:"items_read"`
    ItemsWritten  int64     `json:"items_written"`
    Skipped       int64     `json:"skipped"`
    FailureReason string    `json:"failure_reason,omitempty"`
}

type RunStatus string

const (
    RunCompleted RunStatus = "completed"
    RunFailed    RunStatus = "failed"
)

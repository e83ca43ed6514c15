package score

import (
    "time"

    "github.com/example/catalog-rank/internal/models"
    "github.com/shopspring/decimal"
)

// Decay factors applied when the current and previous bucket are combined
// into one ranking run: the current bucket counts 9x the previous one.
// Buckets older than one period back contribute nothing.
var (
    decayCurrent  = decimal.NewFromFloat(0.9)
    decayPrevious = decimal.NewFromFloat(0.1)
)

// raw computes the unrounded weighted sum for one metric row.
func raw(m models.MetricRow, w models.WeightConfig) decimal.Decimal {
    view := decimal.NewFromInt(m.ViewCount).Mul(w.ViewWeight)
    like := decimal.NewFromInt(m.LikeCount).Mul(w.LikeWeight)
    order := m.OrderAmount.Mul(w.OrderWeight)
    return view.Add(like).Add(order)
}

// Score computes view*vw + like*lw + order*ow, rounded to 2 decimals half-up.
func Score(m models.MetricRow, w models.WeightConfig) (models.Score, error) {
    return models.NewScore(raw(m, w))
}

// DecayedScore weights the raw score by 0.9 when the row belongs to the
// reference bucket and by 0.1 otherwise. Rounding happens once, after the
// decay multiplication.
func DecayedScore(m models.MetricRow, referenceBucket time.Time, w models.WeightConfig) (models.Score, error) {
    factor := decayPrevious
    if m.TimeBucket.Equal(referenceBucket) {
        factor = decayCurrent
    }
    return models.NewScore(raw(m, w).Mul(factor))
}

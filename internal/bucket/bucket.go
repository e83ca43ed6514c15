package bucket

import (
    "fmt"
    "strings"
    "time"

    "github.com/example/catalog-rank/internal/models"
)

// Keys look like "ranking:HOURLY:2025010114" or "ranking:WEEKLY:20250101".
// The format is an operational contract: operators inspect and administer
// these keys directly, so it must stay stable and human-readable.
const (
    Namespace     = "ranking"
    StagingSuffix = ":staging"

    hourLayout = "2006010215"
    dateLayout = "20060102"
)

// All keys are formatted in a single fixed zone regardless of where the
// input instant came from, so keys sort and compare consistently.
var keyZone = time.UTC

// Truncate snaps an instant to its bucket boundary in the key zone: the hour
// for HOURLY, midnight for everything else.
func Truncate(p models.PeriodType, t time.Time) time.Time {
    t = t.In(keyZone)
    if p == models.PeriodHourly {
        return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, keyZone)
    }
    return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, keyZone)
}

// Key returns the canonical storage key for the bucket containing t.
func Key(p models.PeriodType, t time.Time) string {
    b := Truncate(p, t)
    layout := dateLayout
    if p == models.PeriodHourly {
        layout = hourLayout
    }
    return fmt.Sprintf("%s:%s:%s", Namespace, p, b.Format(layout))
}

// StagingKey is the scratch-accumulator variant of a bucket key.
func StagingKey(key string) string { return key + StagingSuffix }

// Previous returns the instant exactly one period before t's bucket. Periods
// are fixed-width: 7 days for WEEKLY and 30 days for MONTHLY, never calendar
// weeks or months.
func Previous(p models.PeriodType, t time.Time) time.Time {
    b := Truncate(p, t)
    switch p {
    case models.PeriodHourly:
        return b.Add(-time.Hour)
    case models.PeriodDaily:
        return b.AddDate(0, 0, -1)
    case models.PeriodWeekly:
        return b.AddDate(0, 0, -7)
    case models.PeriodMonthly:
        return b.AddDate(0, 0, -30)
    }
    return b
}

// PreviousKey parses a bucket key and returns the key one period earlier.
func PreviousKey(key string) (string, error) {
    p, t, err := Parse(key)
    if err != nil {
        return "", err
    }
    return Key(p, Previous(p, t)), nil
}

// Parse splits a bucket key back into its period type and bucket instant.
func Parse(key string) (models.PeriodType, time.Time, error) {
    parts := strings.Split(key, ":")
    if len(parts) != 3 || parts[0] != Namespace {
        return "", time.Time{}, fmt.Errorf("malformed bucket key %q", key)
    }
    p, err := models.ParsePeriodType(parts[1])
    if err != nil {
        return "", time.Time{}, fmt.Errorf("malformed bucket key %q: %w", key, err)
    }
    layout := dateLayout
    if p == models.PeriodHourly {
        layout = hourLayout
    }
    t, err := time.ParseInLocation(layout, parts[2], keyZone)
    if err != nil {
        return "", time.Time{}, fmt.Errorf("malformed bucket key %q: %w", key, err)
    }
    return p, t, nil
}

// DateSegment is the formatted date portion of the key, used as the cache and
// snapshot addressing date for the non-hourly periods.
func DateSegment(p models.PeriodType, t time.Time) string {
    layout := dateLayout
    if p == models.PeriodHourly {
        layout = hourLayout
    }
    return Truncate(p, t).Format(layout)
}

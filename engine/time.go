package engine

import (
	"fmt"
	"time"
)

// =============================================================================
// TIME POINT - Calendar dates and timestamps without timezone shifting
// =============================================================================

// TimePoint is either a calendar date (GranularityDay) or a timestamp
// (GranularityMinute). Both are held in UTC; callers pass wall-clock values
// and no conversion is ever applied.
type TimePoint struct {
	Time        time.Time
	Granularity Granularity
}

type Granularity int

const (
	GranularityDay Granularity = iota
	GranularityHour
	GranularityMinute
)

const (
	DateLayout      = "2006-01-02"
	TimestampLayout = time.RFC3339
)

// Constructors
func NewDate(year int, month time.Month, day int) TimePoint {
	return TimePoint{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC), Granularity: GranularityDay}
}

func NewTimestamp(year int, month time.Month, day, hour, minute int) TimePoint {
	return TimePoint{Time: time.Date(year, month, day, hour, minute, 0, 0, time.UTC), Granularity: GranularityMinute}
}

// DateOf keeps the wall-clock calendar date of t, whatever its location.
func DateOf(t time.Time) TimePoint {
	return NewDate(t.Year(), t.Month(), t.Day())
}

// TimestampOf keeps the wall-clock reading of t down to the minute.
func TimestampOf(t time.Time) TimePoint {
	return NewTimestamp(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute())
}

// ParseDate parses a YYYY-MM-DD calendar date.
func ParseDate(s string) (TimePoint, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return TimePoint{}, fmt.Errorf("invalid date %q (use YYYY-MM-DD): %w", s, err)
	}
	return DateOf(t), nil
}

// ParseTimestamp parses an RFC3339 timestamp, keeping its wall-clock reading.
func ParseTimestamp(s string) (TimePoint, error) {
	t, err := time.Parse(TimestampLayout, s)
	if err != nil {
		return TimePoint{}, fmt.Errorf("invalid timestamp %q (use RFC3339): %w", s, err)
	}
	return TimestampOf(t), nil
}

// Comparison
func (tp TimePoint) Before(other TimePoint) bool        { return tp.normalize().Before(other.normalize()) }
func (tp TimePoint) Equal(other TimePoint) bool         { return tp.normalize().Equal(other.normalize()) }
func (tp TimePoint) After(other TimePoint) bool         { return tp.normalize().After(other.normalize()) }
func (tp TimePoint) BeforeOrEqual(other TimePoint) bool { return tp.Before(other) || tp.Equal(other) }
func (tp TimePoint) AfterOrEqual(other TimePoint) bool  { return tp.After(other) || tp.Equal(other) }

func (tp TimePoint) normalize() time.Time {
	switch tp.Granularity {
	case GranularityDay:
		return time.Date(tp.Time.Year(), tp.Time.Month(), tp.Time.Day(), 0, 0, 0, 0, time.UTC)
	case GranularityHour:
		return time.Date(tp.Time.Year(), tp.Time.Month(), tp.Time.Day(), tp.Time.Hour(), 0, 0, 0, time.UTC)
	default:
		return time.Date(tp.Time.Year(), tp.Time.Month(), tp.Time.Day(), tp.Time.Hour(), tp.Time.Minute(), 0, 0, time.UTC)
	}
}

// Date drops the time of day.
func (tp TimePoint) Date() TimePoint { return DateOf(tp.Time) }

// MinutesUntil returns the whole minutes from tp to other.
func (tp TimePoint) MinutesUntil(other TimePoint) int64 {
	return int64(other.normalize().Sub(tp.normalize()) / time.Minute)
}

// Arithmetic
func (tp TimePoint) AddDays(n int) TimePoint {
	return TimePoint{Time: tp.Time.AddDate(0, 0, n), Granularity: tp.Granularity}
}

// Properties
func (tp TimePoint) Year() int         { return tp.Time.Year() }
func (tp TimePoint) Month() time.Month { return tp.Time.Month() }
func (tp TimePoint) Day() int          { return tp.Time.Day() }
func (tp TimePoint) IsZero() bool      { return tp.Time.IsZero() }

func (tp TimePoint) String() string {
	switch tp.Granularity {
	case GranularityDay:
		return tp.Time.Format(DateLayout)
	case GranularityHour:
		return tp.Time.Format("2006-01-02 15:00")
	default:
		return tp.Time.Format(TimestampLayout)
	}
}

// =============================================================================
// DATE RANGE - Inclusive [Start, End] calendar range
// =============================================================================

// DateRange is an inclusive calendar range. A nil End means open-ended.
type DateRange struct {
	Start TimePoint
	End   *TimePoint
}

// Contains returns true if the date is within [Start, End].
func (r DateRange) Contains(date TimePoint) bool {
	d := date.Date()
	if d.Before(r.Start) {
		return false
	}
	return r.End == nil || d.BeforeOrEqual(*r.End)
}

// Overlaps returns true if both inclusive ranges share at least one day.
func (r DateRange) Overlaps(other DateRange) bool {
	if r.End != nil && r.End.Before(other.Start) {
		return false
	}
	if other.End != nil && other.End.Before(r.Start) {
		return false
	}
	return true
}

func (r DateRange) String() string {
	end := "∞"
	if r.End != nil {
		end = r.End.String()
	}
	return "[" + r.Start.String() + ", " + end + "]"
}

/*
aggregate.go - Activity Aggregator: exact per-key hour sums

PURPOSE:
  Merges activity records into report lines. Two records land on the same
  line iff their AggregationKey is equal.

KEY:
  (period, activity type, rate or "none", overhead coefficient)
  AggregationKey is a comparable struct, never a formatted string.

PRECISION:
  Accumulators hold minutes as decimal.Decimal. Scheduled activities add
  whole minutes and forfait hours are multiplied by 60, both exact, so the
  sum never drifts and does not depend on insertion order. Hours are only
  derived (minutes / 60) when a line is rendered.

SEE ALSO:
  - bilan/financier.go: Calls Accumulate once per contributing record
  - bilan/services_faits.go: Uses Accumulator with a narrower key
*/
package engine

import (
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ACCUMULATOR
// =============================================================================

// Accumulator is an exact running total of minutes.
type Accumulator struct {
	minutes decimal.Decimal
}

func (a *Accumulator) AddHours(hours decimal.Decimal) { a.minutes = a.minutes.Add(HoursToMinutes(hours)) }
func (a *Accumulator) AddMinutes(minutes int64)     { a.minutes = a.minutes.Add(decimal.NewFromInt(minutes)) }
func (a Accumulator) Minutes() decimal.Decimal      { return a.minutes }
func (a Accumulator) Hours() decimal.Decimal        { return MinutesToHours(a.minutes) }

// =============================================================================
// AGGREGATION KEY & LINES
// =============================================================================

type AggregationKey struct {
	PeriodID       PeriodID
	ActivityTypeID ActivityTypeID
	RateID         RateID
	Coefficient    string
}

// NewAggregationKey builds the key; equal coefficients written differently
// ("1.50" and "1.5") produce the same key.
func NewAggregationKey(period Period, t ActivityType, rate *RateRecord, coefficient decimal.Decimal) AggregationKey {
	rateID := NoRate
	if rate != nil {
		rateID = rate.ID
	}
	return AggregationKey{
		PeriodID:       period.ID,
		ActivityTypeID: t.ID,
		RateID:         rateID,
		Coefficient:    coefficient.String(),
	}
}

// BilanLine carries the resolved referentials of its key for rendering.
type BilanLine struct {
	Key          AggregationKey
	Period       Period
	ActivityType ActivityType
	Rate         *RateRecord
	Coefficient  decimal.Decimal
	Accumulator
}

// Amount is hours x rate x coefficient, or nil when the line has no rate.
func (l *BilanLine) Amount() *decimal.Decimal {
	if l.Rate == nil {
		return nil
	}
	amount := l.Hours().Mul(l.Rate.Amount).Mul(l.Coefficient)
	return &amount
}

// IntervenantBilan holds one intervenant's lines.
type IntervenantBilan struct {
	IntervenantID IntervenantID
	DisplayName   string
	lines         map[AggregationKey]*BilanLine
}

func NewIntervenantBilan(id IntervenantID) *IntervenantBilan {
	return &IntervenantBilan{IntervenantID: id, lines: make(map[AggregationKey]*BilanLine)}
}

// Line returns the line for key, or nil.
func (b *IntervenantBilan) Line(key AggregationKey) *BilanLine { return b.lines[key] }

// Lines returns lines ordered by period start, type, rate, coefficient.
func (b *IntervenantBilan) Lines() []*BilanLine {
	out := make([]*BilanLine, 0, len(b.lines))
	for _, l := range b.lines {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		a, c := out[i], out[j]
		if !a.Period.Start.Equal(c.Period.Start) {
			return a.Period.Start.Before(c.Period.Start)
		}
		if a.Key.ActivityTypeID != c.Key.ActivityTypeID {
			return a.Key.ActivityTypeID < c.Key.ActivityTypeID
		}
		if a.Key.RateID != c.Key.RateID {
			return a.Key.RateID < c.Key.RateID
		}
		return a.Coefficient.LessThan(c.Coefficient)
	})
	return out
}

// TotalMinutes sums every line.
func (b *IntervenantBilan) TotalMinutes() decimal.Decimal {
	total := decimal.Zero
	for _, l := range b.lines {
		total = total.Add(l.Minutes())
	}
	return total
}

func (b *IntervenantBilan) line(period Period, t ActivityType, rate *RateRecord, coefficient decimal.Decimal) *BilanLine {
	key := NewAggregationKey(period, t, rate, coefficient)
	l, ok := b.lines[key]
	if !ok {
		l = &BilanLine{Key: key, Period: period, ActivityType: t, Rate: rate, Coefficient: coefficient}
		b.lines[key] = l
	}
	return l
}

// =============================================================================
// ACCUMULATE
// =============================================================================

// Accumulate adds hours to the line keyed by (period, type, rate, coefficient),
// creating it at zero if needed. Callers exclude cancelled records and records
// without an intervenant beforehand.
func Accumulate(b *IntervenantBilan, period Period, t ActivityType, rate *RateRecord, coefficient, hours decimal.Decimal) {
	b.line(period, t, rate, coefficient).AddHours(hours)
}

// AccumulateMinutes is Accumulate for whole-minute durations.
func AccumulateMinutes(b *IntervenantBilan, period Period, t ActivityType, rate *RateRecord, coefficient decimal.Decimal, minutes int64) {
	b.line(period, t, rate, coefficient).AddMinutes(minutes)
}

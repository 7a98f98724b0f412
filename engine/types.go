/*
Package engine provides the period-based financial activity aggregation core.

PURPOSE:
  This package owns the HR accounting periods, decides which period an
  activity belongs to, and sums activity hours into exact per-key lines.
  Report shaping lives in the bilan package; persistence lives in
  engine/store (memory) and store/sqlite.

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: A decimal quantity with a unit (hours, minutes, eur)
  - ActivityType: Referential entry, flagged forfait or hourly
  - Intervenant: Directory record (display only, never used in sums)
  - Identifiers: Type-safe string IDs

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal everywhere, no binary floats for money or hours
  2. Type Safety: distinct ID types so a PeriodID never passes as a RateID
  3. Explicit clock: operations that need "now" receive it as a parameter

USAGE:
  hours := engine.MustParseDecimal("12.5")
  if err := engine.ValidateScale(hours, engine.ForfaitHoursScale); err != nil {
      return err
  }

SEE ALSO:
  - period.go: Period entity and its open/closed state
  - activity.go: ScheduledActivity and LumpSumActivity
  - registry.go: PeriodRegistry (create, update, close, lookups)
  - assignment.go: Period Assignment
  - aggregate.go: Activity Aggregator
*/
package engine

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Decimal quantity with unit
// =============================================================================

type Amount struct {
	Value decimal.Decimal
	Unit  Unit
}

type Unit string

const (
	UnitHours   Unit = "hours"
	UnitMinutes Unit = "minutes"
	UnitEuros   Unit = "eur"
)

var minutesPerHour = decimal.NewFromInt(60)

func NewAmountFromString(value string, unit Unit) (Amount, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return Amount{}, &InvalidAmountError{Value: value, Reason: "not a decimal"}
	}
	return Amount{Value: d, Unit: unit}, nil
}

func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(fmt.Sprintf("invalid decimal literal %q: %v", s, err))
	}
	return d
}

func (a Amount) Add(b Amount) Amount { return Amount{Value: a.Value.Add(b.Value), Unit: a.Unit} }
func (a Amount) IsZero() bool        { return a.Value.IsZero() }
func (a Amount) IsNegative() bool    { return a.Value.IsNegative() }

// HoursToMinutes is exact for any decimal input.
func HoursToMinutes(hours decimal.Decimal) decimal.Decimal { return hours.Mul(minutesPerHour) }

// MinutesToHours divides at render time only.
func MinutesToHours(minutes decimal.Decimal) decimal.Decimal { return minutes.Div(minutesPerHour) }

// =============================================================================
// FIXED-POINT SCALES
// =============================================================================

// Scale bounds a fixed-point decimal column.
type Scale struct {
	IntegerDigits int
	Decimals      int
}

var (
	RateAmountScale   = Scale{IntegerDigits: 3, Decimals: 2}
	ForfaitHoursScale = Scale{IntegerDigits: 3, Decimals: 1}
	CoefficientScale  = Scale{IntegerDigits: 2, Decimals: 4}
)

// ValidateScale rejects negative values and values that do not fit the scale.
func ValidateScale(d decimal.Decimal, s Scale) error {
	if d.IsNegative() {
		return &InvalidAmountError{Value: d.String(), Reason: "must not be negative"}
	}
	if !d.Round(int32(s.Decimals)).Equal(d) {
		return &InvalidAmountError{Value: d.String(), Reason: fmt.Sprintf("at most %d decimals", s.Decimals)}
	}
	limit := decimal.New(1, int32(s.IntegerDigits))
	if !d.LessThan(limit) {
		return &InvalidAmountError{Value: d.String(), Reason: fmt.Sprintf("at most %d integer digits", s.IntegerDigits)}
	}
	return nil
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type PeriodID string
type ActivityID string
type ActivityTypeID string
type RateID string
type IntervenantID string
type BeneficiaryID string

// NoRate is the rate component of an aggregation key when no rate applies.
const NoRate RateID = "none"

// NewPeriodID returns a random UUID-backed period identifier.
func NewPeriodID() PeriodID { return PeriodID(uuid.NewString()) }

func NewActivityID() ActivityID { return ActivityID(uuid.NewString()) }

func NewRateID() RateID { return RateID(uuid.NewString()) }

// =============================================================================
// REFERENTIALS
// =============================================================================

// ActivityType is a referential entry. Forfait types only accept lump-sum
// activities; hourly types only accept scheduled ones.
type ActivityType struct {
	ID      ActivityTypeID
	Label   string
	Forfait bool

	// OverheadCoefficient overrides the system-wide coefficient when set.
	OverheadCoefficient *decimal.Decimal
}

// CoefficientOr returns the type's own coefficient or the fallback.
func (t ActivityType) CoefficientOr(fallback decimal.Decimal) decimal.Decimal {
	if t.OverheadCoefficient != nil {
		return *t.OverheadCoefficient
	}
	return fallback
}

// Intervenant is a directory entry for the person performing activities.
type Intervenant struct {
	ID          IntervenantID
	DisplayName string
	Email       string
}

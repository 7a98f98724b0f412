package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ACTIVITY RECORDS - Scheduled (hourly event) and lump sum (forfait)
// =============================================================================

// Activity is implemented only by ScheduledActivity and LumpSumActivity.
type Activity interface {
	ActivityRef() ActivityID
	Intervenant() IntervenantID
	Type() ActivityTypeID
	isActivity()
}

// ScheduledActivity is a calendar-bound intervention.
//
// AssignedPeriod is written only by PeriodRegistry.Close. Edits to Start/End
// after that never move the activity to another period.
type ScheduledActivity struct {
	ID             ActivityID
	IntervenantID  IntervenantID
	Beneficiaries  []BeneficiaryID
	ActivityTypeID ActivityTypeID
	Start          TimePoint
	End            TimePoint
	PrepMinutes    int
	ExtraMinutes   int
	CancelledAt    *time.Time
	AssignedPeriod *PeriodID
}

func (a ScheduledActivity) ActivityRef() ActivityID    { return a.ID }
func (a ScheduledActivity) Intervenant() IntervenantID { return a.IntervenantID }
func (a ScheduledActivity) Type() ActivityTypeID       { return a.ActivityTypeID }
func (ScheduledActivity) isActivity()                  {}

func (a ScheduledActivity) IsCancelled() bool { return a.CancelledAt != nil }
func (a ScheduledActivity) IsPinned() bool    { return a.AssignedPeriod != nil }

// EndDate is the calendar date compared against period boundaries.
func (a ScheduledActivity) EndDate() TimePoint { return a.End.Date() }

// Minutes is the charged duration: event length plus prep and extra time.
func (a ScheduledActivity) Minutes() int64 {
	return a.Start.MinutesUntil(a.End) + int64(a.PrepMinutes) + int64(a.ExtraMinutes)
}

// Hours is Minutes expressed in hours, for display.
func (a ScheduledActivity) Hours() decimal.Decimal {
	return MinutesToHours(decimal.NewFromInt(a.Minutes()))
}

// LumpSumActivity is a fixed-hour engagement booked against an explicit period.
type LumpSumActivity struct {
	ID             ActivityID
	IntervenantID  IntervenantID
	ActivityTypeID ActivityTypeID
	PeriodID       PeriodID
	Hours          decimal.Decimal
}

func (a LumpSumActivity) ActivityRef() ActivityID    { return a.ID }
func (a LumpSumActivity) Intervenant() IntervenantID { return a.IntervenantID }
func (a LumpSumActivity) Type() ActivityTypeID       { return a.ActivityTypeID }
func (LumpSumActivity) isActivity()                  {}

// CheckActivityType enforces the forfait flag against the activity variant.
func CheckActivityType(a Activity, t ActivityType) error {
	switch a.(type) {
	case ScheduledActivity:
		if t.Forfait {
			return &ActivityTypeMismatchError{ActivityID: a.ActivityRef(), ActivityTypeID: t.ID, Forfait: true}
		}
	case LumpSumActivity:
		if !t.Forfait {
			return &ActivityTypeMismatchError{ActivityID: a.ActivityRef(), ActivityTypeID: t.ID, Forfait: false}
		}
	}
	return nil
}

// Contributes reports whether a record takes part in aggregation at all.
func Contributes(a Activity) bool {
	if a.Intervenant() == "" {
		return false
	}
	if s, ok := a.(ScheduledActivity); ok && s.IsCancelled() {
		return false
	}
	return true
}

package engine

import (
	"sort"
	"time"
)

// =============================================================================
// PERIOD - HR accounting window, closed ("sent" to payroll) exactly once
// =============================================================================

// Period is an inclusive [Start, End] accounting window.
//
// INVARIANTS:
//   - End is after Start and Deadline is on or before End.
//   - No two periods' ranges overlap (enforced by PeriodRegistry).
//   - Sent moves false -> true once; SentAt and SentBy are set iff Sent.
//   - Once sent, Start, End and Deadline never change.
type Period struct {
	ID        PeriodID
	Start     TimePoint
	End       TimePoint
	Deadline  TimePoint
	Sent      bool
	SentAt    *time.Time
	SentBy    string
	CreatedAt time.Time
}

// PeriodStatus is the two-state lifecycle of a period.
type PeriodStatus string

const (
	PeriodOpen   PeriodStatus = "open"
	PeriodClosed PeriodStatus = "sent"
)

func (p Period) Status() PeriodStatus {
	if p.Sent {
		return PeriodClosed
	}
	return PeriodOpen
}

func (p Period) IsOpen() bool { return !p.Sent }

// Range returns the period's inclusive date range.
func (p Period) Range() DateRange {
	end := p.End
	return DateRange{Start: p.Start, End: &end}
}

// Contains returns true if the date is within [Start, End].
func (p Period) Contains(date TimePoint) bool {
	return p.Range().Contains(date)
}

// Intersects returns true if the period shares a day with [start, end].
func (p Period) Intersects(start, end TimePoint) bool {
	return p.Range().Overlaps(DateRange{Start: start.Date(), End: ptr(end.Date())})
}

// String returns a string representation of the period.
func (p Period) String() string {
	return string(p.ID) + " " + p.Range().String()
}

// validatePeriodRange checks the start/end/deadline ordering.
func validatePeriodRange(start, end, deadline TimePoint) error {
	if !end.After(start) {
		return &InvalidRangeError{Start: start, End: end, Deadline: &deadline, Reason: "end must be after start"}
	}
	if deadline.After(end) {
		return &InvalidRangeError{Start: start, End: end, Deadline: &deadline, Reason: "deadline must not be after end"}
	}
	return nil
}

// SortPeriods orders periods by start ascending.
func SortPeriods(periods []Period) {
	sort.Slice(periods, func(i, j int) bool {
		return periods[i].Start.Before(periods[j].Start)
	})
}

func ptr[T any](v T) *T { return &v }

/*
errors.go - Centralized error types for the engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Structured errors carry the context a caller needs to correct the
  request (conflicting period, offending date) and unwrap to a sentinel.

ERROR CATEGORIES:
  1. Validation errors - overlap, invalid range, invalid amount, type mismatch
  2. State errors - period closed, period not sent
  3. Lookup errors - not found
  4. Integrity errors - data that should never have been stored (fatal)

USAGE:
  if errors.Is(err, engine.ErrOverlap) {
      var oe *engine.OverlapError
      errors.As(err, &oe)
      fmt.Println("conflicts with", oe.ConflictID)
  }

SEE ALSO:
  - registry.go: Returns OverlapError, InvalidRangeError, PeriodClosedError
  - bilan/services_faits.go: Returns PeriodNotSentError
*/
package engine

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrOverlap is returned when two date ranges that must stay disjoint intersect.
	ErrOverlap = errors.New("overlapping range")

	// ErrInvalidRange is returned for malformed start/end/deadline ordering.
	ErrInvalidRange = errors.New("invalid range")

	// ErrPeriodClosed is returned when mutating or re-closing a sent period.
	ErrPeriodClosed = errors.New("period already closed")

	// ErrPeriodNotSent is returned when a closed period is required.
	ErrPeriodNotSent = errors.New("period not sent")

	// ErrUnresolvedRate is returned when a rate is required and none applies.
	ErrUnresolvedRate = errors.New("no rate for date")

	// ErrInvalidAmount is returned for decimals that do not fit their column.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidInput is returned for missing or malformed request fields.
	ErrInvalidInput = errors.New("invalid input")

	// ErrDataIntegrity marks stored data that breaks an invariant. Never retried.
	ErrDataIntegrity = errors.New("data integrity violation")

	ErrPeriodNotFound       = errors.New("period not found")
	ErrActivityNotFound     = errors.New("activity not found")
	ErrActivityTypeNotFound = errors.New("activity type not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// OverlapError names the record whose range conflicts with the request.
type OverlapError struct {
	Resource   string // "period" or "rate"
	ConflictID string
	Requested  DateRange
	Existing   DateRange
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("%s %s overlaps existing %s %s %s",
		e.Resource, e.Requested, e.Resource, e.ConflictID, e.Existing)
}

func (e *OverlapError) Unwrap() error { return ErrOverlap }

// InvalidRangeError reports a malformed start/end/deadline combination.
type InvalidRangeError struct {
	Start    TimePoint
	End      TimePoint
	Deadline *TimePoint
	Reason   string
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("invalid range [%s, %s]: %s", e.Start, e.End, e.Reason)
}

func (e *InvalidRangeError) Unwrap() error { return ErrInvalidRange }

// PeriodClosedError reports an attempted mutation of a sent period.
type PeriodClosedError struct {
	PeriodID PeriodID
	Op       string
}

func (e *PeriodClosedError) Error() string {
	return fmt.Sprintf("%s: period %s is closed", e.Op, e.PeriodID)
}

func (e *PeriodClosedError) Unwrap() error { return ErrPeriodClosed }

// PeriodNotSentError reports a request that needs a closed period.
type PeriodNotSentError struct {
	PeriodID PeriodID
}

func (e *PeriodNotSentError) Error() string {
	return fmt.Sprintf("period %s has not been sent", e.PeriodID)
}

func (e *PeriodNotSentError) Unwrap() error { return ErrPeriodNotSent }

// UnresolvedRateError names the activity type and date without a rate.
type UnresolvedRateError struct {
	ActivityTypeID ActivityTypeID
	Date           TimePoint
	ActivityID     ActivityID
}

func (e *UnresolvedRateError) Error() string {
	return fmt.Sprintf("no rate for activity type %s on %s (activity %s)", e.ActivityTypeID, e.Date, e.ActivityID)
}

func (e *UnresolvedRateError) Unwrap() error { return ErrUnresolvedRate }

// InvalidAmountError reports a decimal that does not fit its column.
type InvalidAmountError struct {
	Value  string
	Reason string
}

func (e *InvalidAmountError) Error() string {
	return fmt.Sprintf("invalid amount %s: %s", e.Value, e.Reason)
}

func (e *InvalidAmountError) Unwrap() error { return ErrInvalidAmount }

// ActivityTypeMismatchError reports a forfait on an hourly type or an hourly
// activity on a forfait type. Returned by Planning as a validation error and
// by the builders, wrapped in IntegrityError, when found in storage.
type ActivityTypeMismatchError struct {
	ActivityID     ActivityID
	ActivityTypeID ActivityTypeID
	Forfait        bool // the type's flag
}

func (e *ActivityTypeMismatchError) Error() string {
	if e.Forfait {
		return fmt.Sprintf("activity %s: scheduled activity on forfait type %s", e.ActivityID, e.ActivityTypeID)
	}
	return fmt.Sprintf("activity %s: lump sum on hourly type %s", e.ActivityID, e.ActivityTypeID)
}

// IntegrityError wraps a validation failure found in already-stored data.
type IntegrityError struct {
	Err error
}

func (e *IntegrityError) Error() string { return "data integrity: " + e.Err.Error() }

func (e *IntegrityError) Unwrap() []error { return []error{ErrDataIntegrity, e.Err} }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	if IsFatal(err) {
		return false
	}
	var mismatch *ActivityTypeMismatchError
	return errors.Is(err, ErrOverlap) ||
		errors.Is(err, ErrInvalidRange) ||
		errors.Is(err, ErrPeriodClosed) ||
		errors.Is(err, ErrPeriodNotSent) ||
		errors.Is(err, ErrUnresolvedRate) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrOperatorRequired) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.As(err, &mismatch)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPeriodNotFound) ||
		errors.Is(err, ErrActivityNotFound) ||
		errors.Is(err, ErrActivityTypeNotFound)
}

// IsFatal returns true for integrity violations that must be alerted on.
func IsFatal(err error) bool {
	return errors.Is(err, ErrDataIntegrity)
}

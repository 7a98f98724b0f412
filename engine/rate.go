package engine

import (
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// RATE LOOKUP - Dated hourly rates per activity type
// =============================================================================

// RateRecord is an hourly rate valid on [Start, End]; a nil End means the
// rate is still active.
type RateRecord struct {
	ID             RateID
	ActivityTypeID ActivityTypeID
	Amount         decimal.Decimal
	Start          TimePoint
	End            *TimePoint
}

func (r RateRecord) Validity() DateRange {
	return DateRange{Start: r.Start, End: r.End}
}

// Validate checks the amount scale and the date ordering.
func (r RateRecord) Validate() error {
	if err := ValidateScale(r.Amount, RateAmountScale); err != nil {
		return err
	}
	if r.End != nil && r.End.Before(r.Start) {
		return &InvalidRangeError{Start: r.Start, End: *r.End, Reason: "rate ends before it starts"}
	}
	return nil
}

// RateTable answers "which rate applies to this type on this date".
type RateTable struct {
	byType map[ActivityTypeID][]RateRecord
}

// NewRateTable indexes rates by type and rejects overlapping validity ranges.
func NewRateTable(rates []RateRecord) (*RateTable, error) {
	t := &RateTable{byType: make(map[ActivityTypeID][]RateRecord)}
	for _, r := range rates {
		if err := t.add(r); err != nil {
			return nil, err
		}
	}
	for typeID := range t.byType {
		records := t.byType[typeID]
		sort.Slice(records, func(i, j int) bool { return records[i].Start.Before(records[j].Start) })
	}
	return t, nil
}

func (t *RateTable) add(r RateRecord) error {
	if err := t.CheckOverlap(r); err != nil {
		return err
	}
	t.byType[r.ActivityTypeID] = append(t.byType[r.ActivityTypeID], r)
	return nil
}

// CheckOverlap returns an OverlapError if r intersects an existing record of
// the same type (other than itself).
func (t *RateTable) CheckOverlap(r RateRecord) error {
	for _, existing := range t.byType[r.ActivityTypeID] {
		if existing.ID == r.ID {
			continue
		}
		if existing.Validity().Overlaps(r.Validity()) {
			return &OverlapError{
				Resource:   "rate",
				ConflictID: string(existing.ID),
				Requested:  r.Validity(),
				Existing:   existing.Validity(),
			}
		}
	}
	return nil
}

// Lookup returns the rate applicable on date, or nil.
func (t *RateTable) Lookup(typeID ActivityTypeID, date TimePoint) *RateRecord {
	for _, r := range t.byType[typeID] {
		if r.Validity().Contains(date) {
			rate := r
			return &rate
		}
	}
	return nil
}

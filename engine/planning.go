package engine

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// PLANNING - Records the activity data the builders read
// =============================================================================

// Planning validates and stores referentials and activity records. It never
// touches AssignedPeriod.
type Planning struct {
	Store TxStore
}

func NewPlanning(store TxStore) *Planning {
	return &Planning{Store: store}
}

// AddActivityType stores a referential activity type.
func (p *Planning) AddActivityType(ctx context.Context, t ActivityType) error {
	if t.ID == "" {
		return fmt.Errorf("%w: activity type id required", ErrInvalidInput)
	}
	if t.OverheadCoefficient != nil {
		if err := ValidateScale(*t.OverheadCoefficient, CoefficientScale); err != nil {
			return err
		}
	}
	return p.Store.SaveActivityType(ctx, t)
}

// AddRate stores a rate after checking it against the type's other rates.
func (p *Planning) AddRate(ctx context.Context, r RateRecord) (RateRecord, error) {
	if r.ID == "" {
		r.ID = NewRateID()
	}
	r.Start = r.Start.Date()
	if r.End != nil {
		end := r.End.Date()
		r.End = &end
	}
	if err := r.Validate(); err != nil {
		return RateRecord{}, err
	}

	err := p.Store.WithTx(ctx, func(s Store) error {
		if _, err := activityType(ctx, s, r.ActivityTypeID); err != nil {
			return err
		}
		existing, err := s.Rates(ctx)
		if err != nil {
			return err
		}
		table, err := NewRateTable(existing)
		if err != nil {
			return &IntegrityError{Err: err}
		}
		if err := table.CheckOverlap(r); err != nil {
			return err
		}
		return s.SaveRate(ctx, r)
	})
	if err != nil {
		return RateRecord{}, err
	}
	return r, nil
}

// AddIntervenant stores a directory entry.
func (p *Planning) AddIntervenant(ctx context.Context, i Intervenant) error {
	if i.ID == "" {
		return fmt.Errorf("%w: intervenant id required", ErrInvalidInput)
	}
	return p.Store.SaveIntervenant(ctx, i)
}

// RecordScheduled inserts or edits a scheduled activity. An existing pin
// and an existing cancellation survive the edit.
func (p *Planning) RecordScheduled(ctx context.Context, a ScheduledActivity) (ScheduledActivity, error) {
	if a.ID == "" {
		a.ID = NewActivityID()
	}
	if !a.End.After(a.Start) {
		return ScheduledActivity{}, &InvalidRangeError{Start: a.Start, End: a.End, Reason: "activity must end after it starts"}
	}
	if a.PrepMinutes < 0 || a.ExtraMinutes < 0 {
		return ScheduledActivity{}, fmt.Errorf("%w: prep and extra minutes must not be negative", ErrInvalidInput)
	}

	var stored ScheduledActivity
	err := p.Store.WithTx(ctx, func(s Store) error {
		t, err := activityType(ctx, s, a.ActivityTypeID)
		if err != nil {
			return err
		}
		if err := CheckActivityType(a, t); err != nil {
			return err
		}
		existing, err := s.GetScheduled(ctx, a.ID)
		switch {
		case err == nil:
			if existing.CancelledAt != nil {
				a.CancelledAt = existing.CancelledAt
			}
		case !errors.Is(err, ErrActivityNotFound):
			return err
		}
		if err := s.SaveScheduled(ctx, a); err != nil {
			return err
		}
		stored, err = s.GetScheduled(ctx, a.ID)
		return err
	})
	if err != nil {
		return ScheduledActivity{}, err
	}
	return stored, nil
}

// CancelScheduled marks a scheduled activity cancelled at the given time.
func (p *Planning) CancelScheduled(ctx context.Context, id ActivityID, at time.Time) (ScheduledActivity, error) {
	var stored ScheduledActivity
	err := p.Store.WithTx(ctx, func(s Store) error {
		a, err := s.GetScheduled(ctx, id)
		if err != nil {
			return err
		}
		if a.CancelledAt == nil {
			cancelled := at
			a.CancelledAt = &cancelled
			if err := s.SaveScheduled(ctx, a); err != nil {
				return err
			}
		}
		stored = a
		return nil
	})
	return stored, err
}

// RecordLumpSum books a forfait on an open period. A forfait already booked
// on a sent period cannot be edited.
func (p *Planning) RecordLumpSum(ctx context.Context, a LumpSumActivity) (LumpSumActivity, error) {
	if a.ID == "" {
		a.ID = NewActivityID()
	}
	if err := ValidateScale(a.Hours, ForfaitHoursScale); err != nil {
		return LumpSumActivity{}, err
	}

	err := p.Store.WithTx(ctx, func(s Store) error {
		t, err := activityType(ctx, s, a.ActivityTypeID)
		if err != nil {
			return err
		}
		if err := CheckActivityType(a, t); err != nil {
			return err
		}
		existing, err := s.GetLumpSum(ctx, a.ID)
		switch {
		case err == nil:
			current, err := s.GetPeriod(ctx, existing.PeriodID)
			if err != nil {
				return err
			}
			if current.Sent {
				return &PeriodClosedError{PeriodID: current.ID, Op: "edit lump sum"}
			}
		case !errors.Is(err, ErrActivityNotFound):
			return err
		}
		period, err := s.GetPeriod(ctx, a.PeriodID)
		if err != nil {
			return err
		}
		if period.Sent {
			return &PeriodClosedError{PeriodID: period.ID, Op: "record lump sum"}
		}
		return s.SaveLumpSum(ctx, a)
	})
	if err != nil {
		return LumpSumActivity{}, err
	}
	return a, nil
}

// ActivityTypeIndex maps activity types by id.
type ActivityTypeIndex map[ActivityTypeID]ActivityType

func LoadActivityTypes(ctx context.Context, s ReferentialStore) (ActivityTypeIndex, error) {
	types, err := s.ActivityTypes(ctx)
	if err != nil {
		return nil, err
	}
	index := make(ActivityTypeIndex, len(types))
	for _, t := range types {
		index[t.ID] = t
	}
	return index, nil
}

func activityType(ctx context.Context, s ReferentialStore, id ActivityTypeID) (ActivityType, error) {
	index, err := LoadActivityTypes(ctx, s)
	if err != nil {
		return ActivityType{}, err
	}
	t, ok := index[id]
	if !ok {
		return ActivityType{}, fmt.Errorf("%w: %s", ErrActivityTypeNotFound, id)
	}
	return t, nil
}

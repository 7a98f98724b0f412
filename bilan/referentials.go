package bilan

import (
	"context"
	"fmt"

	"github.com/warp/bilan-engine/engine"
)

// referentials is the read-only lookup data one build works against.
type referentials struct {
	types engine.ActivityTypeIndex
	rates *engine.RateTable
	names map[engine.IntervenantID]string
}

func loadReferentials(ctx context.Context, s engine.Store) (*referentials, error) {
	types, err := engine.LoadActivityTypes(ctx, s)
	if err != nil {
		return nil, fmt.Errorf("load activity types: %w", err)
	}
	records, err := s.Rates(ctx)
	if err != nil {
		return nil, fmt.Errorf("load rates: %w", err)
	}
	rates, err := engine.NewRateTable(records)
	if err != nil {
		return nil, &engine.IntegrityError{Err: err}
	}
	intervenants, err := s.Intervenants(ctx)
	if err != nil {
		return nil, fmt.Errorf("load intervenants: %w", err)
	}
	names := make(map[engine.IntervenantID]string, len(intervenants))
	for _, i := range intervenants {
		names[i.ID] = i.DisplayName
	}
	return &referentials{types: types, rates: rates, names: names}, nil
}

// typeFor resolves the activity's type and checks the forfait flag. Both
// failures mean stored data is corrupt.
func (r *referentials) typeFor(a engine.Activity) (engine.ActivityType, error) {
	t, ok := r.types[a.Type()]
	if !ok {
		return engine.ActivityType{}, &engine.IntegrityError{
			Err: fmt.Errorf("activity %s: %w: %s", a.ActivityRef(), engine.ErrActivityTypeNotFound, a.Type()),
		}
	}
	if err := engine.CheckActivityType(a, t); err != nil {
		return engine.ActivityType{}, &engine.IntegrityError{Err: err}
	}
	return t, nil
}

func (r *referentials) scheduledRate(a engine.ScheduledActivity, t engine.ActivityType, required bool) (*engine.RateRecord, error) {
	date := a.Start.Date()
	rate := r.rates.Lookup(t.ID, date)
	if rate == nil && required {
		return nil, &engine.UnresolvedRateError{ActivityTypeID: t.ID, Date: date, ActivityID: a.ID}
	}
	return rate, nil
}

// displayName falls back to the id when the directory has no entry.
func (r *referentials) displayName(id engine.IntervenantID) string {
	if name, ok := r.names[id]; ok && name != "" {
		return name
	}
	return string(id)
}

/*
store.go - Persistence interfaces for periods, referentials and activities

PURPOSE:
  Defines the interface between the engine and the database. Different
  implementations can use SQLite or in-memory storage.

KEY INTERFACES:
  PeriodStore:       Period persistence
  ActivityStore:     Scheduled and lump-sum activity records
  ReferentialStore:  Activity types and rates
  Directory:         Intervenant display data
  TxStore:           All of the above plus an atomic unit of work

PIN CONTRACT:
  SaveScheduled never writes AssignedPeriod, whether inserting or updating.
  PinActivities is the only write path for it and is only called by
  PeriodRegistry.Close inside WithTx.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - engine/store/memory.go: In-memory for testing

SEE ALSO:
  - registry.go: Uses TxStore for create/update/close
  - bilan/financier.go: Read-only consumer
*/
package engine

import "context"

// =============================================================================
// FILTERS
// =============================================================================

// ActivityFilter narrows activity queries. Zero value selects everything
// except cancelled scheduled activities.
type ActivityFilter struct {
	// IntervenantID restricts to one intervenant when non-empty.
	IntervenantID IntervenantID

	// PeriodIDs restricts scheduled activities to those pinned to one of these
	// periods (plus unpinned ones, see UnpinnedUntil) and lump sums to those
	// booked on one of these periods. Empty means no period restriction.
	PeriodIDs []PeriodID

	// UnpinnedUntil, with PeriodIDs set, also selects unpinned scheduled
	// activities whose end date is on or before this date.
	UnpinnedUntil *TimePoint

	IncludeCancelled bool
}

// MatchesScheduled applies the filter to one record. Stores that cannot
// push the filter down to a query use this.
func (f ActivityFilter) MatchesScheduled(a ScheduledActivity) bool {
	if f.IntervenantID != "" && a.IntervenantID != f.IntervenantID {
		return false
	}
	if a.IsCancelled() && !f.IncludeCancelled {
		return false
	}
	if len(f.PeriodIDs) == 0 {
		return true
	}
	if a.AssignedPeriod != nil {
		return containsPeriodID(f.PeriodIDs, *a.AssignedPeriod)
	}
	return f.UnpinnedUntil != nil && a.EndDate().BeforeOrEqual(*f.UnpinnedUntil)
}

// MatchesLumpSum applies the filter to one lump-sum record.
func (f ActivityFilter) MatchesLumpSum(a LumpSumActivity) bool {
	if f.IntervenantID != "" && a.IntervenantID != f.IntervenantID {
		return false
	}
	return len(f.PeriodIDs) == 0 || containsPeriodID(f.PeriodIDs, a.PeriodID)
}

func containsPeriodID(ids []PeriodID, id PeriodID) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

// =============================================================================
// STORE INTERFACES
// =============================================================================

type PeriodStore interface {
	// ListPeriods returns all periods ordered by Start.
	ListPeriods(ctx context.Context) ([]Period, error)

	// GetPeriod returns ErrPeriodNotFound when the id is unknown.
	GetPeriod(ctx context.Context, id PeriodID) (Period, error)

	// SavePeriod inserts or replaces a period.
	SavePeriod(ctx context.Context, p Period) error
}

type ActivityStore interface {
	ScheduledActivities(ctx context.Context, f ActivityFilter) ([]ScheduledActivity, error)
	LumpSumActivities(ctx context.Context, f ActivityFilter) ([]LumpSumActivity, error)

	// GetScheduled returns ErrActivityNotFound when the id is unknown.
	GetScheduled(ctx context.Context, id ActivityID) (ScheduledActivity, error)

	// GetLumpSum returns ErrActivityNotFound when the id is unknown.
	GetLumpSum(ctx context.Context, id ActivityID) (LumpSumActivity, error)

	// SaveScheduled inserts or updates everything except AssignedPeriod.
	SaveScheduled(ctx context.Context, a ScheduledActivity) error
	SaveLumpSum(ctx context.Context, a LumpSumActivity) error

	// PinActivities stamps AssignedPeriod on the given activities.
	PinActivities(ctx context.Context, ids []ActivityID, period PeriodID) error
}

type ReferentialStore interface {
	ActivityTypes(ctx context.Context) ([]ActivityType, error)
	SaveActivityType(ctx context.Context, t ActivityType) error

	// Rates returns every rate record, all types, ordered by type then start.
	Rates(ctx context.Context) ([]RateRecord, error)
	SaveRate(ctx context.Context, r RateRecord) error
}

// Directory resolves intervenant display data.
type Directory interface {
	Intervenants(ctx context.Context) ([]Intervenant, error)
	SaveIntervenant(ctx context.Context, i Intervenant) error
}

// Store groups every persistence capability the engine uses.
type Store interface {
	PeriodStore
	ActivityStore
	ReferentialStore
	Directory
}

// =============================================================================
// TRANSACTIONAL STORE - For atomic operations across multiple writes
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within an exclusive transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

/*
registry.go - Period Registry: owns HR accounting periods

PURPOSE:
  Creates and edits periods while keeping their ranges disjoint, and
  performs the one-way close transition that pins scheduled activities.

CRITICAL INVARIANTS:
  1. NO OVERLAP: no two periods share a day, open or closed
  2. CLOSE ONCE: a sent period rejects update and a second close
  3. SINGLE PIN WRITER: Close is the only caller of PinActivities

CONCURRENCY:
  Create, Update and Close hold the registry's write lock and run inside
  TxStore.WithTx, so the overlap check and the write, or the pin sweep and
  the status flip, form one unit. Report builders run under ReadLocked and
  therefore wait for an in-progress close instead of seeing half of it.

CLOCK:
  Close receives "now" from the caller. CreatedAt uses Registry.Now, which
  tests replace.

SEE ALSO:
  - assignment.go: The open-period test Close pins with
  - store.go: TxStore and the pin contract
*/
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrOperatorRequired is returned when Close is called without an operator.
var ErrOperatorRequired = errors.New("operator required")

// =============================================================================
// PERIOD REGISTRY
// =============================================================================

type PeriodRegistry struct {
	Store  TxStore
	Logger *zap.Logger

	// Now stamps CreatedAt. Defaults to time.Now.
	Now func() time.Time
	// NewID generates period identifiers. Defaults to NewPeriodID.
	NewID func() PeriodID

	mu sync.RWMutex
}

// CloseResult reports the outcome of a close.
type CloseResult struct {
	Period Period
	Pinned []ActivityID
}

func NewPeriodRegistry(store TxStore, logger *zap.Logger) *PeriodRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PeriodRegistry{
		Store:  store,
		Logger: logger,
		Now:    time.Now,
		NewID:  NewPeriodID,
	}
}

// Create adds a new open period.
func (r *PeriodRegistry) Create(ctx context.Context, start, end, deadline TimePoint) (Period, error) {
	start, end, deadline = start.Date(), end.Date(), deadline.Date()
	if err := validatePeriodRange(start, end, deadline); err != nil {
		return Period{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var created Period
	err := r.Store.WithTx(ctx, func(s Store) error {
		periods, err := s.ListPeriods(ctx)
		if err != nil {
			return err
		}
		if err := checkPeriodOverlap(periods, "", start, end); err != nil {
			return err
		}
		created = Period{
			ID:        r.NewID(),
			Start:     start,
			End:       end,
			Deadline:  deadline,
			CreatedAt: r.Now().UTC(),
		}
		return s.SavePeriod(ctx, created)
	})
	if err != nil {
		return Period{}, err
	}

	r.Logger.Info("period created",
		zap.String("period_id", string(created.ID)),
		zap.Stringer("start", created.Start),
		zap.Stringer("end", created.End))
	return created, nil
}

// Update changes the dates of an open period.
func (r *PeriodRegistry) Update(ctx context.Context, id PeriodID, start, end, deadline TimePoint) (Period, error) {
	start, end, deadline = start.Date(), end.Date(), deadline.Date()

	r.mu.Lock()
	defer r.mu.Unlock()

	var updated Period
	err := r.Store.WithTx(ctx, func(s Store) error {
		p, err := s.GetPeriod(ctx, id)
		if err != nil {
			return err
		}
		if p.Sent {
			return &PeriodClosedError{PeriodID: id, Op: "update"}
		}
		if err := validatePeriodRange(start, end, deadline); err != nil {
			return err
		}
		periods, err := s.ListPeriods(ctx)
		if err != nil {
			return err
		}
		if err := checkPeriodOverlap(periods, id, start, end); err != nil {
			return err
		}
		p.Start, p.End, p.Deadline = start, end, deadline
		updated = p
		return s.SavePeriod(ctx, p)
	})
	if err != nil {
		return Period{}, err
	}
	return updated, nil
}

// Close sends the period: pins every unpinned, non-cancelled scheduled
// activity that the open-period test assigns to it, then marks it sent.
func (r *PeriodRegistry) Close(ctx context.Context, id PeriodID, operator string, now time.Time) (CloseResult, error) {
	if operator == "" {
		return CloseResult{}, ErrOperatorRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var result CloseResult
	err := r.Store.WithTx(ctx, func(s Store) error {
		p, err := s.GetPeriod(ctx, id)
		if err != nil {
			return err
		}
		if p.Sent {
			return &PeriodClosedError{PeriodID: id, Op: "close"}
		}

		periods, err := s.ListPeriods(ctx)
		if err != nil {
			return err
		}
		assigner := NewAssigner(periods)

		end := p.End
		candidates, err := s.ScheduledActivities(ctx, ActivityFilter{
			PeriodIDs:     []PeriodID{p.ID},
			UnpinnedUntil: &end,
		})
		if err != nil {
			return fmt.Errorf("select activities to pin: %w", err)
		}

		var pinned []ActivityID
		for _, a := range candidates {
			if !a.IsCancelled() && assigner.Matches(p, a) {
				pinned = append(pinned, a.ID)
			}
		}
		if len(pinned) > 0 {
			if err := s.PinActivities(ctx, pinned, p.ID); err != nil {
				return fmt.Errorf("pin activities: %w", err)
			}
		}

		sentAt := now
		p.Sent = true
		p.SentAt = &sentAt
		p.SentBy = operator
		if err := s.SavePeriod(ctx, p); err != nil {
			return err
		}
		result = CloseResult{Period: p, Pinned: pinned}
		return nil
	})
	if err != nil {
		return CloseResult{}, err
	}

	r.Logger.Info("period closed",
		zap.String("period_id", string(id)),
		zap.String("operator", operator),
		zap.Int("pinned", len(result.Pinned)))
	return result, nil
}

// =============================================================================
// LOOKUPS
// =============================================================================

// ReadLocked runs fn while no create, update or close is in progress.
// fn must not call Create, Update or Close.
func (r *PeriodRegistry) ReadLocked(fn func() error) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return fn()
}

// List returns every period ordered by start.
func (r *PeriodRegistry) List(ctx context.Context) ([]Period, error) {
	periods, err := r.Store.ListPeriods(ctx)
	if err != nil {
		return nil, err
	}
	SortPeriods(periods)
	return periods, nil
}

// Get returns one period or ErrPeriodNotFound.
func (r *PeriodRegistry) Get(ctx context.Context, id PeriodID) (Period, error) {
	return r.Store.GetPeriod(ctx, id)
}

// PeriodsInRange returns periods intersecting [start, end] ordered by start.
// With includeFinancial the earliest open period is added even when it lies
// outside the window: unpinned activity dated inside the window resolves to
// it until the next close.
func (r *PeriodRegistry) PeriodsInRange(ctx context.Context, start, end TimePoint, includeFinancial bool) ([]Period, error) {
	start, end = start.Date(), end.Date()
	if end.Before(start) {
		return nil, &InvalidRangeError{Start: start, End: end, Reason: "end must not be before start"}
	}
	periods, err := r.List(ctx)
	if err != nil {
		return nil, err
	}

	var result []Period
	var earliestOpen *Period
	for i, p := range periods {
		if p.IsOpen() && earliestOpen == nil {
			earliestOpen = &periods[i]
		}
		if p.Intersects(start, end) {
			result = append(result, p)
		}
	}
	if includeFinancial && earliestOpen != nil && !containsPeriod(result, earliestOpen.ID) {
		result = append(result, *earliestOpen)
		SortPeriods(result)
	}
	return result, nil
}

// Containing returns the period whose range contains date, or nil.
func (r *PeriodRegistry) Containing(ctx context.Context, date TimePoint) (*Period, error) {
	periods, err := r.Store.ListPeriods(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range periods {
		if p.Contains(date) {
			found := p
			return &found, nil
		}
	}
	return nil, nil
}

func checkPeriodOverlap(periods []Period, self PeriodID, start, end TimePoint) error {
	requested := DateRange{Start: start, End: &end}
	for _, existing := range periods {
		if existing.ID == self {
			continue
		}
		if existing.Range().Overlaps(requested) {
			return &OverlapError{
				Resource:   "period",
				ConflictID: string(existing.ID),
				Requested:  requested,
				Existing:   existing.Range(),
			}
		}
	}
	return nil
}

func containsPeriod(periods []Period, id PeriodID) bool {
	for _, p := range periods {
		if p.ID == id {
			return true
		}
	}
	return false
}

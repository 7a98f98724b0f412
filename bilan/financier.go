/*
financier.go - Bilan Financier Builder: charged hours per intervenant

PURPOSE:
  Builds the financial report for a date window. Every scheduled or lump-sum
  activity whose Period Assignment succeeds against one of the window's
  periods contributes to its intervenant's lines, keyed by
  (period, activity type, rate, overhead coefficient).

PERIODS:
  The window's intersecting periods plus the earliest open period, so that
  unpinned activity not yet swept by a close is reported where the next
  close will pin it.

RATES:
  Scheduled activity: rate valid on the activity's start date.
  Lump sum: rate valid on its period's start date, absence allowed.
  With RequireRate, a scheduled activity without a rate fails the build
  with UnresolvedRateError; otherwise its line carries no rate.

FAILURE:
  Stored data that breaks the forfait/type rule, or points at an unknown
  activity type, fails the whole build with an IntegrityError. There is no
  partial report.

SEE ALSO:
  - engine/assignment.go: Period Assignment
  - engine/aggregate.go: Accumulate and the line key
  - services_faits.go: The operational counterpart on a closed period
*/
package bilan

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/bilan-engine/engine"
)

// =============================================================================
// REPORT
// =============================================================================

// BilanFinanciers is the report produced by FinancierBuilder.Build.
type BilanFinanciers struct {
	Start        engine.TimePoint
	End          engine.TimePoint
	GeneratedAt  time.Time
	Periods      []engine.Period
	Intervenants []*engine.IntervenantBilan
}

// TotalHours sums every line of every intervenant.
func (r *BilanFinanciers) TotalHours() decimal.Decimal {
	minutes := decimal.Zero
	for _, ib := range r.Intervenants {
		minutes = minutes.Add(ib.TotalMinutes())
	}
	return engine.MinutesToHours(minutes)
}

// Intervenant returns one intervenant's bilan, or nil.
func (r *BilanFinanciers) Intervenant(id engine.IntervenantID) *engine.IntervenantBilan {
	for _, ib := range r.Intervenants {
		if ib.IntervenantID == id {
			return ib
		}
	}
	return nil
}

// =============================================================================
// BUILDER
// =============================================================================

type FinancierBuilder struct {
	Registry *engine.PeriodRegistry
	Store    engine.Store

	// Coefficient is the system-wide overhead coefficient, used unless the
	// activity type carries its own.
	Coefficient decimal.Decimal
	RequireRate bool

	Logger *zap.Logger
	Now    func() time.Time
}

func NewFinancierBuilder(registry *engine.PeriodRegistry, store engine.Store, coefficient decimal.Decimal, logger *zap.Logger) *FinancierBuilder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FinancierBuilder{
		Registry:    registry,
		Store:       store,
		Coefficient: coefficient,
		Logger:      logger,
		Now:         time.Now,
	}
}

// Build computes the report for [start, end]. It waits for any close in
// progress and never observes half of one.
func (b *FinancierBuilder) Build(ctx context.Context, start, end engine.TimePoint) (*BilanFinanciers, error) {
	var report *BilanFinanciers
	err := b.Registry.ReadLocked(func() error {
		var err error
		report, err = b.build(ctx, start.Date(), end.Date())
		return err
	})
	if err != nil {
		return nil, err
	}
	b.Logger.Debug("bilan financier built",
		zap.Stringer("start", report.Start),
		zap.Stringer("end", report.End),
		zap.Int("periods", len(report.Periods)),
		zap.Int("intervenants", len(report.Intervenants)))
	return report, nil
}

func (b *FinancierBuilder) build(ctx context.Context, start, end engine.TimePoint) (*BilanFinanciers, error) {
	periods, err := b.Registry.PeriodsInRange(ctx, start, end, true)
	if err != nil {
		return nil, err
	}
	report := &BilanFinanciers{Start: start, End: end, GeneratedAt: b.Now().UTC(), Periods: periods}
	if len(periods) == 0 {
		return report, nil
	}

	all, err := b.Registry.List(ctx)
	if err != nil {
		return nil, err
	}
	assigner := engine.NewAssigner(all)

	refs, err := loadReferentials(ctx, b.Store)
	if err != nil {
		return nil, err
	}

	filter := engine.ActivityFilter{
		PeriodIDs:     periodIDs(periods),
		UnpinnedUntil: assigner.LatestOpenEnd(),
	}
	scheduled, err := b.Store.ScheduledActivities(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("load scheduled activities: %w", err)
	}
	lumpSums, err := b.Store.LumpSumActivities(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("load lump sums: %w", err)
	}

	bilans := make(map[engine.IntervenantID]*engine.IntervenantBilan)
	bilanFor := func(id engine.IntervenantID) *engine.IntervenantBilan {
		ib, ok := bilans[id]
		if !ok {
			ib = engine.NewIntervenantBilan(id)
			ib.DisplayName = refs.displayName(id)
			bilans[id] = ib
		}
		return ib
	}

	for _, a := range scheduled {
		p, ok := matchingPeriod(assigner, periods, a)
		if !ok || !engine.Contributes(a) {
			continue
		}
		t, err := refs.typeFor(a)
		if err != nil {
			return nil, err
		}
		rate, err := refs.scheduledRate(a, t, b.RequireRate)
		if err != nil {
			return nil, err
		}
		engine.AccumulateMinutes(bilanFor(a.IntervenantID), p, t, rate, t.CoefficientOr(b.Coefficient), a.Minutes())
	}

	for _, a := range lumpSums {
		p, ok := matchingPeriod(assigner, periods, a)
		if !ok || !engine.Contributes(a) {
			continue
		}
		t, err := refs.typeFor(a)
		if err != nil {
			return nil, err
		}
		rate := refs.rates.Lookup(t.ID, p.Start)
		engine.Accumulate(bilanFor(a.IntervenantID), p, t, rate, t.CoefficientOr(b.Coefficient), a.Hours)
	}

	report.Intervenants = make([]*engine.IntervenantBilan, 0, len(bilans))
	for _, ib := range bilans {
		report.Intervenants = append(report.Intervenants, ib)
	}
	sort.Slice(report.Intervenants, func(i, j int) bool {
		return report.Intervenants[i].IntervenantID < report.Intervenants[j].IntervenantID
	})
	return report, nil
}

// matchingPeriod returns the first of periods the activity belongs to.
func matchingPeriod(assigner *engine.Assigner, periods []engine.Period, a engine.Activity) (engine.Period, bool) {
	for _, p := range periods {
		if assigner.Matches(p, a) {
			return p, true
		}
	}
	return engine.Period{}, false
}

func periodIDs(periods []engine.Period) []engine.PeriodID {
	ids := make([]engine.PeriodID, len(periods))
	for i, p := range periods {
		ids[i] = p.ID
	}
	return ids
}

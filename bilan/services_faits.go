/*
services_faits.go - Services Faits Builder: hours performed in a closed period

PURPOSE:
  Produces the operational statement of service rendered for one sent
  period. Lines are keyed by (activity type, rate) only: no overhead
  coefficient, and intervenants are merged when no filter is given.

RULES:
  - The period must be closed; an open period is still mutable and is
    rejected with PeriodNotSentError.
  - A record contributes when its Period Assignment resolves to the period:
    the close pin for scheduled activities, PeriodID for lump sums.
  - Rates follow the same dating as the financial report.

SEE ALSO:
  - financier.go: The charged-cost report
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

// ServicesFaits is the report produced by ServicesFaitsBuilder.Build.
type ServicesFaits struct {
	Period        engine.Period
	IntervenantID *engine.IntervenantID
	GeneratedAt   time.Time
	Lines         []*ServicesFaitsLine
}

// ServicesFaitsLine sums hours for one (activity type, rate) pair.
type ServicesFaitsLine struct {
	ActivityType engine.ActivityType
	Rate         *engine.RateRecord
	engine.Accumulator
}

// RateID returns the line's rate id or engine.NoRate.
func (l *ServicesFaitsLine) RateID() engine.RateID {
	if l.Rate == nil {
		return engine.NoRate
	}
	return l.Rate.ID
}

// TotalHours sums every line.
func (r *ServicesFaits) TotalHours() decimal.Decimal {
	minutes := decimal.Zero
	for _, l := range r.Lines {
		minutes = minutes.Add(l.Minutes())
	}
	return engine.MinutesToHours(minutes)
}

type servicesFaitsKey struct {
	ActivityTypeID engine.ActivityTypeID
	RateID         engine.RateID
}

// =============================================================================
// BUILDER
// =============================================================================

type ServicesFaitsBuilder struct {
	Registry    *engine.PeriodRegistry
	Store       engine.Store
	RequireRate bool

	Logger *zap.Logger
	Now    func() time.Time
}

func NewServicesFaitsBuilder(registry *engine.PeriodRegistry, store engine.Store, logger *zap.Logger) *ServicesFaitsBuilder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ServicesFaitsBuilder{Registry: registry, Store: store, Logger: logger, Now: time.Now}
}

// Build returns the statement for periodID, restricted to one intervenant
// when intervenantID is non-nil.
func (b *ServicesFaitsBuilder) Build(ctx context.Context, periodID engine.PeriodID, intervenantID *engine.IntervenantID) (*ServicesFaits, error) {
	var report *ServicesFaits
	err := b.Registry.ReadLocked(func() error {
		var err error
		report, err = b.build(ctx, periodID, intervenantID)
		return err
	})
	if err != nil {
		return nil, err
	}
	b.Logger.Debug("services faits built",
		zap.String("period_id", string(periodID)),
		zap.Int("lines", len(report.Lines)))
	return report, nil
}

func (b *ServicesFaitsBuilder) build(ctx context.Context, periodID engine.PeriodID, intervenantID *engine.IntervenantID) (*ServicesFaits, error) {
	period, err := b.Registry.Get(ctx, periodID)
	if err != nil {
		return nil, err
	}
	if !period.Sent {
		return nil, &engine.PeriodNotSentError{PeriodID: periodID}
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

	filter := engine.ActivityFilter{PeriodIDs: []engine.PeriodID{periodID}}
	if intervenantID != nil {
		filter.IntervenantID = *intervenantID
	}
	scheduled, err := b.Store.ScheduledActivities(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("load scheduled activities: %w", err)
	}
	lumpSums, err := b.Store.LumpSumActivities(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("load lump sums: %w", err)
	}

	lines := make(map[servicesFaitsKey]*ServicesFaitsLine)
	lineFor := func(t engine.ActivityType, rate *engine.RateRecord) *ServicesFaitsLine {
		key := servicesFaitsKey{ActivityTypeID: t.ID, RateID: engine.NoRate}
		if rate != nil {
			key.RateID = rate.ID
		}
		l, ok := lines[key]
		if !ok {
			l = &ServicesFaitsLine{ActivityType: t, Rate: rate}
			lines[key] = l
		}
		return l
	}

	for _, a := range scheduled {
		if !engine.Contributes(a) || !assigner.Matches(period, a) {
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
		lineFor(t, rate).AddMinutes(a.Minutes())
	}

	for _, a := range lumpSums {
		if !engine.Contributes(a) || !assigner.Matches(period, a) {
			continue
		}
		t, err := refs.typeFor(a)
		if err != nil {
			return nil, err
		}
		lineFor(t, refs.rates.Lookup(t.ID, period.Start)).AddHours(a.Hours)
	}

	report := &ServicesFaits{
		Period:        period,
		IntervenantID: intervenantID,
		GeneratedAt:   b.Now().UTC(),
		Lines:         make([]*ServicesFaitsLine, 0, len(lines)),
	}
	for _, l := range lines {
		report.Lines = append(report.Lines, l)
	}
	sort.Slice(report.Lines, func(i, j int) bool {
		a, c := report.Lines[i], report.Lines[j]
		if a.ActivityType.ID != c.ActivityType.ID {
			return a.ActivityType.ID < c.ActivityType.ID
		}
		return a.RateID() < c.RateID()
	})
	return report, nil
}

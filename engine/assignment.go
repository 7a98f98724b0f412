/*
assignment.go - Period Assignment: which period does an activity belong to

PURPOSE:
  Decides membership of an activity in a period. The rule depends on the
  period's state, so each period gets a matcher chosen once from its
  status instead of branching at every call site.

RULES:
  Lump sum:                 activity.PeriodID == period.ID
  Scheduled, closed period: activity.AssignedPeriod == period.ID
                            (the pin written by Close is authoritative,
                            later edits to the activity's dates are ignored)
  Scheduled, open period:   activity is unpinned
                            AND date(activity.End) <= period.End
                            AND no earlier open period already covers it

  The open-period test has no lower bound of its own: an unpinned activity
  dated before every period, or backdated into a closed period after its
  close, falls into the earliest open period whose End covers it. With a
  single open period this is exactly "unpinned and end <= period.End".

  PeriodRegistry.Close pins with the same test, so the set pinned by a
  close is the set the open period matched just before it.

EXAMPLE:
  assigner := engine.NewAssigner(allPeriods)
  if assigner.MatchesAny(reportPeriods, activity) { ... }
  periodID, ok := assigner.Resolve(activity)

SEE ALSO:
  - registry.go: Close uses Matches to select activities to pin
  - bilan/financier.go: MatchesAny over the report's periods
*/
package engine

// =============================================================================
// MATCHERS - One per period state
// =============================================================================

type periodMatcher interface {
	matchScheduled(a ScheduledActivity) bool
}

type closedMatcher struct {
	id PeriodID
}

func (m closedMatcher) matchScheduled(a ScheduledActivity) bool {
	return a.AssignedPeriod != nil && *a.AssignedPeriod == m.id
}

type openMatcher struct {
	end TimePoint

	// floor is the End of the previous open period, if any.
	floor *TimePoint
}

func (m openMatcher) matchScheduled(a ScheduledActivity) bool {
	if a.IsPinned() {
		return false
	}
	end := a.EndDate()
	if end.After(m.end) {
		return false
	}
	return m.floor == nil || end.After(*m.floor)
}

func matcherFor(p Period, floor *TimePoint) periodMatcher {
	if p.Status() == PeriodClosed {
		return closedMatcher{id: p.ID}
	}
	return openMatcher{end: p.End, floor: floor}
}

// =============================================================================
// ASSIGNER
// =============================================================================

// Assigner evaluates Period Assignment against a full, non-overlapping
// period list. Build it from every period in the registry, not just the
// periods of interest, so open-period floors are correct.
type Assigner struct {
	periods  []Period
	matchers map[PeriodID]periodMatcher
}

func NewAssigner(all []Period) *Assigner {
	periods := make([]Period, len(all))
	copy(periods, all)
	SortPeriods(periods)

	a := &Assigner{periods: periods, matchers: make(map[PeriodID]periodMatcher, len(periods))}
	var lastOpenEnd *TimePoint
	for _, p := range periods {
		a.matchers[p.ID] = matcherFor(p, lastOpenEnd)
		if p.IsOpen() {
			end := p.End
			lastOpenEnd = &end
		}
	}
	return a
}

// Periods returns the assigner's periods ordered by Start.
func (a *Assigner) Periods() []Period {
	out := make([]Period, len(a.periods))
	copy(out, a.periods)
	return out
}

// Matches reports whether the activity belongs to period p.
func (a *Assigner) Matches(p Period, act Activity) bool {
	switch v := act.(type) {
	case LumpSumActivity:
		return v.PeriodID == p.ID
	case ScheduledActivity:
		m, ok := a.matchers[p.ID]
		if !ok {
			m = matcherFor(p, nil)
		}
		return m.matchScheduled(v)
	default:
		return false
	}
}

// MatchesAny is the logical OR of Matches over periods.
func (a *Assigner) MatchesAny(periods []Period, act Activity) bool {
	for _, p := range periods {
		if a.Matches(p, act) {
			return true
		}
	}
	return false
}

// Resolve returns the single period the activity belongs to, if any.
func (a *Assigner) Resolve(act Activity) (PeriodID, bool) {
	switch v := act.(type) {
	case LumpSumActivity:
		return v.PeriodID, v.PeriodID != ""
	case ScheduledActivity:
		if v.AssignedPeriod != nil {
			return *v.AssignedPeriod, true
		}
		for _, p := range a.periods {
			if a.Matches(p, v) {
				return p.ID, true
			}
		}
	}
	return "", false
}

// LatestOpenEnd returns the End of the last open period, used to bound
// queries for unpinned activities.
func (a *Assigner) LatestOpenEnd() *TimePoint {
	for i := len(a.periods) - 1; i >= 0; i-- {
		if a.periods[i].IsOpen() {
			end := a.periods[i].End
			return &end
		}
	}
	return nil
}

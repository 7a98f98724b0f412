package engine_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/warp/bilan-engine/engine"
)

func period(id string, start, end engine.TimePoint, sent bool) engine.Period {
	return engine.Period{ID: engine.PeriodID(id), Start: start, End: end, Deadline: end, Sent: sent}
}

func pinnedTo(a engine.ScheduledActivity, id engine.PeriodID) engine.ScheduledActivity {
	a.AssignedPeriod = &id
	return a
}

// =============================================================================
// OPEN PERIODS
// =============================================================================

func TestAssigner_OpenPeriod_MatchesUnpinnedUpToEnd(t *testing.T) {
	p := period("p1", day(2025, time.January, 1), day(2025, time.June, 30), false)
	assigner := engine.NewAssigner([]engine.Period{p})

	tests := []struct {
		name string
		act  engine.ScheduledActivity
		want bool
	}{
		{"inside", event("a", day(2025, time.March, 3), 9, 60), true},
		{"on the last day", event("b", day(2025, time.June, 30), 22, 30), true},
		{"after the end", event("c", day(2025, time.July, 1), 9, 60), false},
		{"before the start", event("d", day(2024, time.December, 2), 9, 60), true},
		{"pinned elsewhere", pinnedTo(event("e", day(2025, time.March, 3), 9, 60), "p0"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, assigner.Matches(p, tt.act))
		})
	}
}

func TestAssigner_OpenPeriods_NoDoubleCounting(t *testing.T) {
	// GIVEN: Two consecutive open periods
	// THEN: Every unpinned activity matches at most one of them

	p1 := period("p1", day(2024, time.September, 1), day(2024, time.December, 31), false)
	p2 := period("p2", day(2025, time.January, 1), day(2025, time.June, 30), false)
	assigner := engine.NewAssigner([]engine.Period{p2, p1})
	both := []engine.Period{p1, p2}

	acts := []engine.ScheduledActivity{
		event("early", day(2024, time.March, 1), 9, 60),
		event("dec", day(2024, time.December, 20), 9, 60),
		event("jan", day(2025, time.January, 1), 0, 30),
		event("may", day(2025, time.May, 15), 9, 60),
	}
	for _, a := range acts {
		matches := 0
		for _, p := range both {
			if assigner.Matches(p, a) {
				matches++
			}
		}
		assert.Equal(t, 1, matches, "activity %s", a.ID)
	}

	assert.False(t, assigner.Matches(p2, acts[1]))
	assert.True(t, assigner.Matches(p1, acts[1]))
	assert.True(t, assigner.Matches(p2, acts[2]))
}

func TestAssigner_EndDateUsesCalendarDay(t *testing.T) {
	// An event ending late on the period's last day still belongs to it.
	p := period("p1", day(2025, time.January, 1), day(2025, time.January, 31), false)
	assigner := engine.NewAssigner([]engine.Period{p})

	act := engine.ScheduledActivity{
		ID:    "late",
		Start: engine.NewTimestamp(2025, time.January, 31, 20, 0),
		End:   engine.NewTimestamp(2025, time.January, 31, 23, 59),
	}
	assert.True(t, assigner.Matches(p, act))

	act.End = engine.NewTimestamp(2025, time.February, 1, 0, 30)
	assert.False(t, assigner.Matches(p, act), "ends the next day")
}

// =============================================================================
// CLOSED PERIODS
// =============================================================================

func TestAssigner_ClosedPeriod_MatchesOnlyPins(t *testing.T) {
	closed := period("p1", day(2024, time.September, 1), day(2024, time.December, 31), true)
	open := period("p2", day(2025, time.January, 1), day(2025, time.June, 30), false)
	assigner := engine.NewAssigner([]engine.Period{closed, open})

	pinned := pinnedTo(event("pinned", day(2025, time.February, 2), 9, 60), closed.ID)
	assert.True(t, assigner.Matches(closed, pinned), "pin wins over dates")
	assert.False(t, assigner.Matches(open, pinned))

	// Recorded after the close with a date inside the closed period.
	backdated := event("backdated", day(2024, time.October, 10), 9, 60)
	assert.False(t, assigner.Matches(closed, backdated))
	assert.True(t, assigner.Matches(open, backdated), "earliest open period collects it")
}

// =============================================================================
// LUMP SUMS & RESOLVE
// =============================================================================

func TestAssigner_LumpSum_MatchesBookedPeriod(t *testing.T) {
	p1 := period("p1", day(2024, time.September, 1), day(2024, time.December, 31), true)
	p2 := period("p2", day(2025, time.January, 1), day(2025, time.June, 30), false)
	assigner := engine.NewAssigner([]engine.Period{p1, p2})

	forfait := engine.LumpSumActivity{ID: "f1", PeriodID: p1.ID, Hours: engine.MustParseDecimal("12.5")}

	assert.True(t, assigner.Matches(p1, forfait))
	assert.False(t, assigner.Matches(p2, forfait))
	assert.True(t, assigner.MatchesAny([]engine.Period{p2, p1}, forfait))
	assert.False(t, assigner.MatchesAny([]engine.Period{p2}, forfait))
}

func TestAssigner_Resolve(t *testing.T) {
	p1 := period("p1", day(2024, time.September, 1), day(2024, time.December, 31), true)
	p2 := period("p2", day(2025, time.January, 1), day(2025, time.June, 30), false)
	p3 := period("p3", day(2025, time.July, 1), day(2025, time.December, 31), false)
	assigner := engine.NewAssigner([]engine.Period{p3, p1, p2})

	id, ok := assigner.Resolve(pinnedTo(event("a", day(2025, time.March, 1), 9, 60), p1.ID))
	assert.True(t, ok)
	assert.Equal(t, p1.ID, id)

	id, ok = assigner.Resolve(event("b", day(2025, time.August, 1), 9, 60))
	assert.True(t, ok)
	assert.Equal(t, p3.ID, id)

	_, ok = assigner.Resolve(event("c", day(2026, time.January, 5), 9, 60))
	assert.False(t, ok, "after every period")

	id, ok = assigner.Resolve(engine.LumpSumActivity{ID: "f", PeriodID: p2.ID})
	assert.True(t, ok)
	assert.Equal(t, p2.ID, id)

	end := assigner.LatestOpenEnd()
	if assert.NotNil(t, end) {
		assert.Equal(t, p3.End, *end)
	}
	assert.Equal(t, []engine.PeriodID{"p1", "p2", "p3"}, []engine.PeriodID{
		assigner.Periods()[0].ID, assigner.Periods()[1].ID, assigner.Periods()[2].ID,
	})
}

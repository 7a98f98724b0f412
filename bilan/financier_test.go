package bilan_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/bilan-engine/bilan"
	"github.com/warp/bilan-engine/engine"
	"github.com/warp/bilan-engine/engine/store"
)

// =============================================================================
// TEST FIXTURE
// =============================================================================

var (
	generatedAt = time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)
	closedAt    = time.Date(2025, time.January, 6, 9, 0, 0, 0, time.UTC)
)

type fixture struct {
	mem      *store.TxMemory
	registry *engine.PeriodRegistry
	planning *engine.Planning
	p1       engine.Period
	p2       engine.Period
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func day(year int, month time.Month, d int) engine.TimePoint { return engine.NewDate(year, month, d) }

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), "want %s, got %s", want, got.String())
}

// newFixture sets up two school-year periods, three activity types and two
// atelier rates (40 in 2024, 45 from 2025).
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	mem := store.NewTxMemory()
	f := &fixture{
		mem:      mem,
		registry: engine.NewPeriodRegistry(mem, nil),
		planning: engine.NewPlanning(mem),
	}

	var err error
	f.p1, err = f.registry.Create(ctx, day(2024, time.September, 1), day(2024, time.December, 31), day(2024, time.December, 20))
	require.NoError(t, err)
	f.p2, err = f.registry.Create(ctx, day(2025, time.January, 1), day(2025, time.June, 30), day(2025, time.June, 20))
	require.NoError(t, err)

	supervisionCoef := dec("1.2")
	require.NoError(t, f.planning.AddActivityType(ctx, engine.ActivityType{ID: "atelier", Label: "Atelier"}))
	require.NoError(t, f.planning.AddActivityType(ctx, engine.ActivityType{ID: "stage", Label: "Stage", Forfait: true}))
	require.NoError(t, f.planning.AddActivityType(ctx, engine.ActivityType{ID: "supervision", Label: "Supervision", OverheadCoefficient: &supervisionCoef}))

	end2024 := day(2024, time.December, 31)
	_, err = f.planning.AddRate(ctx, engine.RateRecord{ID: "r-2024", ActivityTypeID: "atelier", Amount: dec("40"), Start: day(2024, time.January, 1), End: &end2024})
	require.NoError(t, err)
	_, err = f.planning.AddRate(ctx, engine.RateRecord{ID: "r-2025", ActivityTypeID: "atelier", Amount: dec("45"), Start: day(2025, time.January, 1)})
	require.NoError(t, err)

	require.NoError(t, f.planning.AddIntervenant(ctx, engine.Intervenant{ID: "int-1", DisplayName: "Alice Martin"}))
	return f
}

func (f *fixture) schedule(t *testing.T, id string, intervenant engine.IntervenantID, typeID engine.ActivityTypeID, on engine.TimePoint, hour, minutes int) engine.ScheduledActivity {
	t.Helper()
	start := engine.NewTimestamp(on.Year(), on.Month(), on.Day(), hour, 0)
	a, err := f.planning.RecordScheduled(context.Background(), engine.ScheduledActivity{
		ID:             engine.ActivityID(id),
		IntervenantID:  intervenant,
		ActivityTypeID: typeID,
		Start:          start,
		End:            engine.TimestampOf(start.Time.Add(time.Duration(minutes) * time.Minute)),
	})
	require.NoError(t, err)
	return a
}

func (f *fixture) forfait(t *testing.T, id string, intervenant engine.IntervenantID, period engine.PeriodID, hours string) {
	t.Helper()
	_, err := f.planning.RecordLumpSum(context.Background(), engine.LumpSumActivity{
		ID:             engine.ActivityID(id),
		IntervenantID:  intervenant,
		ActivityTypeID: "stage",
		PeriodID:       period,
		Hours:          dec(hours),
	})
	require.NoError(t, err)
}

func (f *fixture) close(t *testing.T, p engine.Period) {
	t.Helper()
	_, err := f.registry.Close(context.Background(), p.ID, "rh@example.org", closedAt)
	require.NoError(t, err)
}

func (f *fixture) financier() *bilan.FinancierBuilder {
	b := bilan.NewFinancierBuilder(f.registry, f.mem, dec("1.1"), nil)
	b.Now = func() time.Time { return generatedAt }
	return b
}

// autumn records the October/November activity used by most tests.
func (f *fixture) autumn(t *testing.T) {
	t.Helper()
	f.schedule(t, "a1", "int-1", "atelier", day(2024, time.October, 1), 9, 150)
	f.schedule(t, "a2", "int-1", "atelier", day(2024, time.October, 8), 14, 75)
	f.schedule(t, "a4", "int-2", "supervision", day(2024, time.November, 5), 10, 90)
	f.forfait(t, "f1", "int-1", f.p1.ID, "12.5")

	cancelled := f.schedule(t, "cancelled", "int-2", "atelier", day(2024, time.November, 6), 10, 60)
	_, err := f.planning.CancelScheduled(context.Background(), cancelled.ID, closedAt)
	require.NoError(t, err)
}

func lineFor(t *testing.T, ib *engine.IntervenantBilan, period engine.PeriodID, typeID engine.ActivityTypeID, rate engine.RateID, coefficient string) *engine.BilanLine {
	t.Helper()
	for _, l := range ib.Lines() {
		if l.Key.PeriodID == period && l.Key.ActivityTypeID == typeID && l.Key.RateID == rate && l.Key.Coefficient == coefficient {
			return l
		}
	}
	t.Fatalf("no line for %s/%s/%s/%s", period, typeID, rate, coefficient)
	return nil
}

// =============================================================================
// BILAN FINANCIER
// =============================================================================

func TestFinancier_Build_AggregatesPerKey(t *testing.T) {
	// GIVEN: Two atelier events of 2.5h and 1.25h, a 12.5h forfait and a
	//        supervision event, all in the first (open) period
	// WHEN: Building the October-November bilan
	// THEN: One line per key with exact sums, cancelled events ignored

	f := newFixture(t)
	f.autumn(t)
	ctx := context.Background()

	report, err := f.financier().Build(ctx, day(2024, time.October, 1), day(2024, time.November, 30))
	require.NoError(t, err)

	assert.Equal(t, generatedAt, report.GeneratedAt)
	require.Len(t, report.Periods, 1, "the earliest open period is already in the window")
	assert.Equal(t, f.p1.ID, report.Periods[0].ID)
	require.Len(t, report.Intervenants, 2)
	assert.Equal(t, engine.IntervenantID("int-1"), report.Intervenants[0].IntervenantID)
	assert.Equal(t, "Alice Martin", report.Intervenants[0].DisplayName)
	assert.Equal(t, "int-2", report.Intervenants[1].DisplayName, "falls back to the id")

	alice := report.Intervenant("int-1")
	require.Len(t, alice.Lines(), 2)
	atelier := lineFor(t, alice, f.p1.ID, "atelier", "r-2024", "1.1")
	assertDecimal(t, "3.75", atelier.Hours())
	require.NotNil(t, atelier.Amount())
	assertDecimal(t, "165", *atelier.Amount())

	stage := lineFor(t, alice, f.p1.ID, "stage", engine.NoRate, "1.1")
	assertDecimal(t, "12.5", stage.Hours())
	assert.Nil(t, stage.Amount())

	bob := report.Intervenant("int-2")
	require.Len(t, bob.Lines(), 1, "cancelled event contributes nothing")
	supervision := lineFor(t, bob, f.p1.ID, "supervision", engine.NoRate, "1.2")
	assertDecimal(t, "1.5", supervision.Hours())

	assertDecimal(t, "17.75", report.TotalHours())
}

func TestFinancier_Build_ExcludesActivityOfLaterPeriods(t *testing.T) {
	f := newFixture(t)
	f.autumn(t)
	f.schedule(t, "feb", "int-1", "atelier", day(2025, time.February, 3), 9, 60)

	report, err := f.financier().Build(context.Background(), day(2024, time.October, 1), day(2024, time.October, 31))
	require.NoError(t, err)

	for _, l := range report.Intervenant("int-1").Lines() {
		assert.Equal(t, f.p1.ID, l.Key.PeriodID)
	}
}

func TestFinancier_Build_AfterClose_StragglersGoToEarliestOpenPeriod(t *testing.T) {
	// GIVEN: The autumn period is closed, then an October event is recorded
	// WHEN: Building the October bilan
	// THEN: The closed period keeps its pinned lines and the straggler is
	//       reported on the next open period, at the rate of its own date

	f := newFixture(t)
	f.autumn(t)
	f.close(t, f.p1)
	f.schedule(t, "late", "int-1", "atelier", day(2024, time.October, 20), 9, 30)
	f.schedule(t, "feb", "int-1", "atelier", day(2025, time.February, 3), 9, 60)

	report, err := f.financier().Build(context.Background(), day(2024, time.October, 1), day(2024, time.October, 31))
	require.NoError(t, err)

	require.Len(t, report.Periods, 2)
	assert.Equal(t, f.p1.ID, report.Periods[0].ID)
	assert.Equal(t, f.p2.ID, report.Periods[1].ID)

	alice := report.Intervenant("int-1")
	assertDecimal(t, "3.75", lineFor(t, alice, f.p1.ID, "atelier", "r-2024", "1.1").Hours())
	assertDecimal(t, "0.5", lineFor(t, alice, f.p2.ID, "atelier", "r-2024", "1.1").Hours())
	assertDecimal(t, "1", lineFor(t, alice, f.p2.ID, "atelier", "r-2025", "1.1").Hours())
}

func TestFinancier_Build_PinnedActivityStaysAfterEdit(t *testing.T) {
	f := newFixture(t)
	f.autumn(t)
	f.close(t, f.p1)

	// Move a1 into March: it must still count for the closed period only.
	f.schedule(t, "a1", "int-1", "atelier", day(2025, time.March, 10), 9, 150)

	report, err := f.financier().Build(context.Background(), day(2024, time.October, 1), day(2025, time.June, 30))
	require.NoError(t, err)

	alice := report.Intervenant("int-1")
	assertDecimal(t, "3.75", lineFor(t, alice, f.p1.ID, "atelier", "r-2025", "1.1").Hours().Add(
		lineFor(t, alice, f.p1.ID, "atelier", "r-2024", "1.1").Hours()))
	for _, l := range alice.Lines() {
		assert.NotEqual(t, f.p2.ID, l.Key.PeriodID)
	}
}

func TestFinancier_Build_Deterministic(t *testing.T) {
	f := newFixture(t)
	f.autumn(t)
	for i := 0; i < 7; i++ {
		f.forfait(t, "tenth-"+string(rune('a'+i)), "int-1", f.p1.ID, "0.1")
	}
	builder := f.financier()
	ctx := context.Background()

	first, err := builder.Build(ctx, day(2024, time.September, 1), day(2024, time.December, 31))
	require.NoError(t, err)
	second, err := builder.Build(ctx, day(2024, time.September, 1), day(2024, time.December, 31))
	require.NoError(t, err)

	require.Equal(t, len(first.Intervenants), len(second.Intervenants))
	for i := range first.Intervenants {
		a, b := first.Intervenants[i].Lines(), second.Intervenants[i].Lines()
		require.Equal(t, len(a), len(b))
		for j := range a {
			assert.Equal(t, a[j].Key, b[j].Key)
			assert.Equal(t, a[j].Minutes().String(), b[j].Minutes().String())
		}
	}
	assertDecimal(t, "13.2", lineFor(t, first.Intervenant("int-1"), f.p1.ID, "stage", engine.NoRate, "1.1").Hours())
}

func TestFinancier_Build_RequireRate(t *testing.T) {
	f := newFixture(t)
	f.autumn(t)
	builder := f.financier()
	builder.RequireRate = true

	_, err := builder.Build(context.Background(), day(2024, time.October, 1), day(2024, time.November, 30))

	var unresolved *engine.UnresolvedRateError
	require.ErrorAs(t, err, &unresolved)
	assert.Equal(t, engine.ActivityTypeID("supervision"), unresolved.ActivityTypeID)
	assert.Equal(t, day(2024, time.November, 5), unresolved.Date)
	assert.True(t, engine.IsClientError(err))
}

func TestFinancier_Build_CorruptForfaitIsFatal(t *testing.T) {
	// GIVEN: A scheduled activity on a forfait type written straight to storage
	// THEN: The build fails with an integrity error instead of merging it

	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.mem.SaveScheduled(ctx, engine.ScheduledActivity{
		ID:             "corrupt",
		IntervenantID:  "int-1",
		ActivityTypeID: "stage",
		Start:          engine.NewTimestamp(2024, time.October, 3, 9, 0),
		End:            engine.NewTimestamp(2024, time.October, 3, 10, 0),
	}))

	_, err := f.financier().Build(ctx, day(2024, time.October, 1), day(2024, time.October, 31))

	require.Error(t, err)
	assert.True(t, engine.IsFatal(err))
	assert.ErrorIs(t, err, engine.ErrDataIntegrity)
	var mismatch *engine.ActivityTypeMismatchError
	assert.ErrorAs(t, err, &mismatch)
}

func TestFinancier_Build_SkipsRecordsWithoutIntervenant(t *testing.T) {
	f := newFixture(t)
	f.schedule(t, "orphan", "", "atelier", day(2024, time.October, 3), 9, 60)

	report, err := f.financier().Build(context.Background(), day(2024, time.October, 1), day(2024, time.October, 31))
	require.NoError(t, err)
	assert.Empty(t, report.Intervenants)
}

func TestFinancier_Build_NoPeriods(t *testing.T) {
	mem := store.NewTxMemory()
	builder := bilan.NewFinancierBuilder(engine.NewPeriodRegistry(mem, nil), mem, dec("1"), nil)

	report, err := builder.Build(context.Background(), day(2024, time.October, 1), day(2024, time.October, 31))
	require.NoError(t, err)
	assert.Empty(t, report.Periods)
	assert.Empty(t, report.Intervenants)
}

func TestFinancier_Build_InvalidWindow(t *testing.T) {
	f := newFixture(t)

	_, err := f.financier().Build(context.Background(), day(2024, time.October, 31), day(2024, time.October, 1))
	assert.ErrorIs(t, err, engine.ErrInvalidRange)
}

func TestFinancier_Build_EditedCancelledActivityStaysExcluded(t *testing.T) {
	// GIVEN: A one-hour atelier that is cancelled, then edited
	// WHEN: The October bilan is built
	// THEN: Nothing is reported
	f := newFixture(t)
	ctx := context.Background()
	a := f.schedule(t, "x", "int-1", "atelier", day(2024, time.October, 1), 9, 60)
	_, err := f.planning.CancelScheduled(ctx, a.ID, closedAt)
	require.NoError(t, err)

	a.CancelledAt = nil
	a.PrepMinutes = 15
	_, err = f.planning.RecordScheduled(ctx, a)
	require.NoError(t, err)

	report, err := f.financier().Build(ctx, day(2024, time.October, 1), day(2024, time.October, 31))
	require.NoError(t, err)
	assert.Empty(t, report.Intervenants)
}

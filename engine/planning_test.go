package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/bilan-engine/engine"
	"github.com/warp/bilan-engine/engine/store"
)

func newTestPlanning(t *testing.T) (*engine.Planning, *engine.PeriodRegistry, *store.TxMemory) {
	t.Helper()
	reg, mem := newTestRegistry(t)
	planning := engine.NewPlanning(mem)
	ctx := context.Background()
	require.NoError(t, planning.AddActivityType(ctx, atelier))
	require.NoError(t, planning.AddActivityType(ctx, stage))
	return planning, reg, mem
}

// =============================================================================
// FORFAIT FLAG
// =============================================================================

func TestPlanning_ForfaitTypeRejectsScheduledActivity(t *testing.T) {
	// GIVEN: A forfait type "stage"
	// WHEN: Recording a 12.5h lump sum and an hourly event on it
	// THEN: The lump sum is stored, the event is rejected

	planning, reg, mem := newTestPlanning(t)
	ctx := context.Background()
	_, p2 := schoolYear(t, reg)

	forfait, err := planning.RecordLumpSum(ctx, engine.LumpSumActivity{
		IntervenantID:  "int-1",
		ActivityTypeID: "stage",
		PeriodID:       p2.ID,
		Hours:          dec("12.5"),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, forfait.ID)

	hourly := event("", day(2025, time.February, 4), 9, 60)
	hourly.ActivityTypeID = "stage"
	_, err = planning.RecordScheduled(ctx, hourly)

	var mismatch *engine.ActivityTypeMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.True(t, mismatch.Forfait)
	assert.True(t, engine.IsClientError(err))

	stored, err := mem.ScheduledActivities(ctx, engine.ActivityFilter{})
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestPlanning_HourlyTypeRejectsLumpSum(t *testing.T) {
	planning, reg, _ := newTestPlanning(t)
	_, p2 := schoolYear(t, reg)

	_, err := planning.RecordLumpSum(context.Background(), engine.LumpSumActivity{
		IntervenantID:  "int-1",
		ActivityTypeID: "atelier",
		PeriodID:       p2.ID,
		Hours:          dec("3"),
	})

	var mismatch *engine.ActivityTypeMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.False(t, mismatch.Forfait)
}

// =============================================================================
// LUMP SUMS
// =============================================================================

func TestPlanning_RecordLumpSum_ClosedPeriodRejected(t *testing.T) {
	planning, reg, _ := newTestPlanning(t)
	ctx := context.Background()
	p1, _ := schoolYear(t, reg)
	_, err := reg.Close(ctx, p1.ID, "rh@example.org", closeTime)
	require.NoError(t, err)

	_, err = planning.RecordLumpSum(ctx, engine.LumpSumActivity{
		IntervenantID:  "int-1",
		ActivityTypeID: "stage",
		PeriodID:       p1.ID,
		Hours:          dec("4"),
	})

	assert.ErrorIs(t, err, engine.ErrPeriodClosed)
}

func TestPlanning_RecordLumpSum_ForfaitOnSentPeriodIsFrozen(t *testing.T) {
	// GIVEN: A 12.5h forfait booked on the autumn period, which is then sent
	// WHEN: The same forfait is re-recorded on the open spring period
	// THEN: The edit is rejected and the forfait stays on autumn
	planning, reg, mem := newTestPlanning(t)
	ctx := context.Background()
	p1, p2 := schoolYear(t, reg)

	_, err := planning.RecordLumpSum(ctx, engine.LumpSumActivity{
		ID:             "f1",
		IntervenantID:  "int-1",
		ActivityTypeID: "stage",
		PeriodID:       p1.ID,
		Hours:          dec("12.5"),
	})
	require.NoError(t, err)
	_, err = reg.Close(ctx, p1.ID, "rh@example.org", closeTime)
	require.NoError(t, err)

	_, err = planning.RecordLumpSum(ctx, engine.LumpSumActivity{
		ID:             "f1",
		IntervenantID:  "int-1",
		ActivityTypeID: "stage",
		PeriodID:       p2.ID,
		Hours:          dec("12.5"),
	})
	require.ErrorIs(t, err, engine.ErrPeriodClosed)

	var closed *engine.PeriodClosedError
	require.ErrorAs(t, err, &closed)
	assert.Equal(t, p1.ID, closed.PeriodID)

	stored, err := mem.GetLumpSum(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, p1.ID, stored.PeriodID)
	assert.True(t, dec("12.5").Equal(stored.Hours))
}

func TestPlanning_RecordLumpSum_EditOnOpenPeriod(t *testing.T) {
	planning, reg, mem := newTestPlanning(t)
	ctx := context.Background()
	p1, p2 := schoolYear(t, reg)

	lump := engine.LumpSumActivity{ID: "f1", IntervenantID: "int-1", ActivityTypeID: "stage", PeriodID: p1.ID, Hours: dec("4")}
	_, err := planning.RecordLumpSum(ctx, lump)
	require.NoError(t, err)

	lump.PeriodID = p2.ID
	lump.Hours = dec("6.5")
	_, err = planning.RecordLumpSum(ctx, lump)
	require.NoError(t, err)

	stored, err := mem.GetLumpSum(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, p2.ID, stored.PeriodID)
	assert.True(t, dec("6.5").Equal(stored.Hours))
}

func TestPlanning_RecordLumpSum_Validation(t *testing.T) {
	planning, reg, _ := newTestPlanning(t)
	ctx := context.Background()
	_, p2 := schoolYear(t, reg)

	_, err := planning.RecordLumpSum(ctx, engine.LumpSumActivity{ActivityTypeID: "stage", PeriodID: p2.ID, Hours: dec("12.55")})
	assert.ErrorIs(t, err, engine.ErrInvalidAmount, "one decimal at most")

	_, err = planning.RecordLumpSum(ctx, engine.LumpSumActivity{ActivityTypeID: "stage", PeriodID: "missing", Hours: dec("1")})
	assert.ErrorIs(t, err, engine.ErrPeriodNotFound)

	_, err = planning.RecordLumpSum(ctx, engine.LumpSumActivity{ActivityTypeID: "unknown", PeriodID: p2.ID, Hours: dec("1")})
	assert.ErrorIs(t, err, engine.ErrActivityTypeNotFound)
}

// =============================================================================
// SCHEDULED ACTIVITIES
// =============================================================================

func TestPlanning_RecordScheduled(t *testing.T) {
	planning, _, _ := newTestPlanning(t)
	ctx := context.Background()

	act := event("", day(2025, time.February, 4), 9, 90)
	act.PrepMinutes = 15
	act.Beneficiaries = []engine.BeneficiaryID{"b-1", "b-2"}

	stored, err := planning.RecordScheduled(ctx, act)
	require.NoError(t, err)

	assert.NotEmpty(t, stored.ID)
	assert.Equal(t, int64(105), stored.Minutes())
	assert.Equal(t, []engine.BeneficiaryID{"b-1", "b-2"}, stored.Beneficiaries)
	assert.Nil(t, stored.AssignedPeriod)
}

func TestPlanning_RecordScheduled_Validation(t *testing.T) {
	planning, _, _ := newTestPlanning(t)
	ctx := context.Background()

	reversed := event("a", day(2025, time.February, 4), 9, 60)
	reversed.Start, reversed.End = reversed.End, reversed.Start
	_, err := planning.RecordScheduled(ctx, reversed)
	assert.ErrorIs(t, err, engine.ErrInvalidRange)

	negative := event("b", day(2025, time.February, 4), 9, 60)
	negative.ExtraMinutes = -5
	_, err = planning.RecordScheduled(ctx, negative)
	assert.ErrorIs(t, err, engine.ErrInvalidInput)

	unknown := event("c", day(2025, time.February, 4), 9, 60)
	unknown.ActivityTypeID = "unknown"
	_, err = planning.RecordScheduled(ctx, unknown)
	assert.ErrorIs(t, err, engine.ErrActivityTypeNotFound)
	assert.True(t, engine.IsNotFound(err))
}

func TestPlanning_EditKeepsPin(t *testing.T) {
	planning, reg, _ := newTestPlanning(t)
	ctx := context.Background()
	p1, _ := schoolYear(t, reg)

	_, err := planning.RecordScheduled(ctx, event("evt-1", day(2024, time.November, 5), 9, 60))
	require.NoError(t, err)
	_, err = reg.Close(ctx, p1.ID, "rh@example.org", closeTime)
	require.NoError(t, err)

	edited, err := planning.RecordScheduled(ctx, event("evt-1", day(2025, time.March, 5), 9, 60))
	require.NoError(t, err)

	require.NotNil(t, edited.AssignedPeriod)
	assert.Equal(t, p1.ID, *edited.AssignedPeriod)
}

func TestPlanning_EditKeepsCancellation(t *testing.T) {
	// GIVEN: A cancelled one-hour event
	// WHEN: It is edited without a cancellation in the new data
	// THEN: It stays cancelled with its original cancellation time
	planning, _, _ := newTestPlanning(t)
	ctx := context.Background()
	_, err := planning.RecordScheduled(ctx, event("evt-1", day(2024, time.October, 8), 9, 60))
	require.NoError(t, err)
	cancelledAt := time.Date(2024, time.October, 7, 12, 0, 0, 0, time.UTC)
	_, err = planning.CancelScheduled(ctx, "evt-1", cancelledAt)
	require.NoError(t, err)

	edit := event("evt-1", day(2024, time.October, 8), 9, 60)
	edit.PrepMinutes = 15
	edited, err := planning.RecordScheduled(ctx, edit)
	require.NoError(t, err)

	require.NotNil(t, edited.CancelledAt)
	assert.Equal(t, cancelledAt, *edited.CancelledAt)
	assert.Equal(t, 15, edited.PrepMinutes)
	assert.False(t, engine.Contributes(edited))
}

func TestPlanning_CancelScheduled(t *testing.T) {
	planning, _, _ := newTestPlanning(t)
	ctx := context.Background()
	_, err := planning.RecordScheduled(ctx, event("evt-1", day(2025, time.February, 4), 9, 60))
	require.NoError(t, err)

	first := time.Date(2025, time.February, 1, 12, 0, 0, 0, time.UTC)
	cancelled, err := planning.CancelScheduled(ctx, "evt-1", first)
	require.NoError(t, err)
	require.NotNil(t, cancelled.CancelledAt)
	assert.Equal(t, first, *cancelled.CancelledAt)
	assert.False(t, engine.Contributes(cancelled))

	again, err := planning.CancelScheduled(ctx, "evt-1", first.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, first, *again.CancelledAt, "first cancellation time is kept")

	_, err = planning.CancelScheduled(ctx, "missing", first)
	assert.ErrorIs(t, err, engine.ErrActivityNotFound)
}

// =============================================================================
// REFERENTIALS
// =============================================================================

func TestPlanning_AddRate(t *testing.T) {
	planning, _, mem := newTestPlanning(t)
	ctx := context.Background()

	r1, err := planning.AddRate(ctx, rate("", "atelier", "40", day(2024, time.January, 1), endOn(day(2024, time.December, 31))))
	require.NoError(t, err)
	assert.NotEmpty(t, r1.ID)

	_, err = planning.AddRate(ctx, rate("", "atelier", "45", engine.NewTimestamp(2025, time.January, 1, 10, 0), nil))
	require.NoError(t, err)

	_, err = planning.AddRate(ctx, rate("", "atelier", "50", day(2025, time.June, 1), nil))
	var overlap *engine.OverlapError
	require.ErrorAs(t, err, &overlap)

	_, err = planning.AddRate(ctx, rate("", "unknown", "50", day(2025, time.June, 1), nil))
	assert.ErrorIs(t, err, engine.ErrActivityTypeNotFound)

	rates, err := mem.Rates(ctx)
	require.NoError(t, err)
	require.Len(t, rates, 2)
	assert.Equal(t, engine.GranularityDay, rates[1].Start.Granularity, "rate dates are calendar days")
}

func TestPlanning_AddActivityType_Validation(t *testing.T) {
	planning, _, _ := newTestPlanning(t)
	ctx := context.Background()

	err := planning.AddActivityType(ctx, engine.ActivityType{Label: "no id"})
	assert.ErrorIs(t, err, engine.ErrInvalidInput)

	coef := dec("1.23456")
	err = planning.AddActivityType(ctx, engine.ActivityType{ID: "x", OverheadCoefficient: &coef})
	assert.ErrorIs(t, err, engine.ErrInvalidAmount)

	err = planning.AddIntervenant(ctx, engine.Intervenant{DisplayName: "no id"})
	assert.ErrorIs(t, err, engine.ErrInvalidInput)
}

// =============================================================================
// ERROR CLASSIFICATION
// =============================================================================

func TestErrorClassification(t *testing.T) {
	mismatch := &engine.ActivityTypeMismatchError{ActivityID: "a", ActivityTypeID: "stage", Forfait: true}
	integrity := &engine.IntegrityError{Err: mismatch}

	assert.True(t, engine.IsClientError(mismatch))
	assert.True(t, engine.IsFatal(integrity))
	assert.False(t, engine.IsClientError(integrity), "stored bad data is not the caller's fault")

	var unwrapped *engine.ActivityTypeMismatchError
	assert.ErrorAs(t, integrity, &unwrapped)

	assert.True(t, engine.IsClientError(&engine.UnresolvedRateError{ActivityTypeID: "atelier"}))
	assert.True(t, engine.IsClientError(&engine.PeriodNotSentError{PeriodID: "p"}))
	assert.False(t, engine.IsClientError(engine.ErrPeriodNotFound))
}

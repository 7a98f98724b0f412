package factory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/bilan-engine/engine"
	"github.com/warp/bilan-engine/engine/store"
	"github.com/warp/bilan-engine/factory"
)

const referentialJSON = `{
  "activity_types": [
    {"id": "atelier", "label": "Atelier"},
    {"id": "stage", "label": "Stage", "forfait": true},
    {"id": "supervision", "label": "Supervision", "overhead_coefficient": "1.2"}
  ],
  "rates": [
    {"id": "r-2024", "activity_type": "atelier", "amount": "40.00", "start": "2024-01-01", "end": "2024-12-31"},
    {"activity_type": "atelier", "amount": 45, "start": "2025-01-01"}
  ],
  "intervenants": [
    {"id": "int-1", "display_name": "Alice Martin", "email": "alice@example.org"}
  ]
}`

func TestReferentialFactory_Parse(t *testing.T) {
	refs, err := factory.NewReferentialFactory().Parse([]byte(referentialJSON))
	require.NoError(t, err)

	require.Len(t, refs.ActivityTypes, 3)
	assert.True(t, refs.ActivityTypes[1].Forfait)
	require.NotNil(t, refs.ActivityTypes[2].OverheadCoefficient)
	assert.Equal(t, "1.2", refs.ActivityTypes[2].OverheadCoefficient.String())

	require.Len(t, refs.Rates, 2)
	assert.Equal(t, engine.RateID("r-2024"), refs.Rates[0].ID)
	assert.Equal(t, "40", refs.Rates[0].Amount.String())
	require.NotNil(t, refs.Rates[0].End)
	assert.Equal(t, engine.NewDate(2024, time.December, 31), *refs.Rates[0].End)
	assert.Nil(t, refs.Rates[1].End)
	assert.Equal(t, "45", refs.Rates[1].Amount.String())

	assert.Equal(t, []engine.Intervenant{{ID: "int-1", DisplayName: "Alice Martin", Email: "alice@example.org"}}, refs.Intervenants)
}

func TestReferentialFactory_ParseRejects(t *testing.T) {
	tests := []struct {
		name string
		json string
		want error
	}{
		{"malformed", `{"activity_types": [`, engine.ErrInvalidInput},
		{"missing type id", `{"activity_types": [{"label": "x"}]}`, engine.ErrInvalidInput},
		{"duplicate type id", `{"activity_types": [{"id": "a"}, {"id": "a"}]}`, engine.ErrInvalidInput},
		{"coefficient scale", `{"activity_types": [{"id": "a", "overhead_coefficient": "1.23456"}]}`, engine.ErrInvalidAmount},
		{"rate without type", `{"rates": [{"amount": "1", "start": "2024-01-01"}]}`, engine.ErrInvalidInput},
		{"bad start", `{"rates": [{"activity_type": "a", "amount": "1", "start": "01/01/2024"}]}`, engine.ErrInvalidInput},
		{"rate scale", `{"rates": [{"activity_type": "a", "amount": "1000", "start": "2024-01-01"}]}`, engine.ErrInvalidAmount},
		{"negative rate", `{"rates": [{"activity_type": "a", "amount": "-1", "start": "2024-01-01"}]}`, engine.ErrInvalidAmount},
		{"end before start", `{"rates": [{"activity_type": "a", "amount": "1", "start": "2024-02-01", "end": "2024-01-01"}]}`, engine.ErrInvalidRange},
		{"intervenant id", `{"intervenants": [{"display_name": "x"}]}`, engine.ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := factory.NewReferentialFactory().Parse([]byte(tt.json))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, engine.IsClientError(err))
		})
	}
}

func TestReferentialFactory_Apply(t *testing.T) {
	// GIVEN: A parsed referential document
	// WHEN: It is applied to an empty store
	// THEN: Every entry is stored and rates get generated ids when missing

	ctx := context.Background()
	mem := store.NewTxMemory()
	planning := engine.NewPlanning(mem)
	f := factory.NewReferentialFactory()

	refs, err := f.Parse([]byte(referentialJSON))
	require.NoError(t, err)

	result, err := f.Apply(ctx, planning, refs)
	require.NoError(t, err)
	assert.Equal(t, factory.ImportResult{ActivityTypes: 3, Rates: 2, Intervenants: 1}, result)

	rates, err := mem.Rates(ctx)
	require.NoError(t, err)
	require.Len(t, rates, 2)
	for _, r := range rates {
		assert.NotEmpty(t, r.ID)
	}

	types, err := mem.ActivityTypes(ctx)
	require.NoError(t, err)
	exported := f.ToJSON(types, rates, nil)
	assert.Len(t, exported.ActivityTypes, 3)
	assert.Len(t, exported.Rates, 2)
	assert.Empty(t, exported.Intervenants)
}

func TestReferentialFactory_ApplyOverlappingRates(t *testing.T) {
	ctx := context.Background()
	mem := store.NewTxMemory()
	f := factory.NewReferentialFactory()

	refs, err := f.Parse([]byte(`{
	  "activity_types": [{"id": "atelier"}],
	  "rates": [
	    {"activity_type": "atelier", "amount": "40", "start": "2024-01-01"},
	    {"activity_type": "atelier", "amount": "45", "start": "2025-01-01"}
	  ]
	}`))
	require.NoError(t, err)

	result, err := f.Apply(ctx, engine.NewPlanning(mem), refs)

	assert.ErrorIs(t, err, engine.ErrOverlap)
	assert.Equal(t, 1, result.Rates)
}

func TestReferentialFactory_ApplyUnknownType(t *testing.T) {
	ctx := context.Background()
	f := factory.NewReferentialFactory()

	refs, err := f.Parse([]byte(`{"rates": [{"activity_type": "ghost", "amount": "40", "start": "2024-01-01"}]}`))
	require.NoError(t, err)

	_, err = f.Apply(ctx, engine.NewPlanning(store.NewTxMemory()), refs)
	assert.ErrorIs(t, err, engine.ErrActivityTypeNotFound)
}

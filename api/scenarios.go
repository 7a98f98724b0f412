/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
	Populates an empty database with a realistic school year: two periods,
	referentials, and a handful of scheduled and forfait activities. Each
	scenario demonstrates a specific behavior of the reports.

AVAILABLE SCENARIOS:
	school-year:     Open autumn and spring periods with autumn activity
	autumn-closed:   Same data, autumn period closed, plus a late entry
	                 dated in autumn that falls to the spring period

USAGE VIA API:
	GET  /api/scenarios
	POST /api/scenarios/load
	{"scenario_id": "autumn-closed"}

NOTE:
	Scenarios do not reset the database. Loading into a non-empty database
	fails on the first overlapping period.

SEE ALSO:
  - factory/referential.go: Referential JSON used by the loaders
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/bilan-engine/engine"
)

// ScenarioDTO describes a loadable demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

var scenarios = []ScenarioDTO{
	{
		ID:          "school-year",
		Name:        "School Year",
		Description: "Two open periods with autumn workshops, a supervision and a stage forfait",
	},
	{
		ID:          "autumn-closed",
		Name:        "Autumn Closed",
		Description: "Autumn period sent; a late autumn entry is reported in spring",
	},
}

const scenarioReferentials = `{
  "activity_types": [
    {"id": "atelier", "label": "Atelier"},
    {"id": "stage", "label": "Stage", "forfait": true},
    {"id": "supervision", "label": "Supervision", "overhead_coefficient": "1.2"}
  ],
  "rates": [
    {"id": "atelier-2024", "activity_type": "atelier", "amount": "40.00", "start": "2024-01-01", "end": "2024-12-31"},
    {"id": "atelier-2025", "activity_type": "atelier", "amount": "45.00", "start": "2025-01-01"},
    {"id": "supervision-2024", "activity_type": "supervision", "amount": "55.00", "start": "2024-01-01"},
    {"id": "stage-2024", "activity_type": "stage", "amount": "30.00", "start": "2024-01-01"}
  ],
  "intervenants": [
    {"id": "int-1", "display_name": "Alice Martin", "email": "alice@example.org"},
    {"id": "int-2", "display_name": "Bruno Leroy", "email": "bruno@example.org"}
  ]
}`

// ListScenarios returns available scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// LoadScenario loads a predefined scenario.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	ctx := r.Context()
	var err error
	switch req.ScenarioID {
	case "school-year":
		_, err = h.loadSchoolYearScenario(ctx)
	case "autumn-closed":
		err = h.loadAutumnClosedScenario(ctx)
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}
	if err != nil {
		h.writeEngineError(w, r, fmt.Errorf("load scenario %s: %w", req.ScenarioID, err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

type schoolYear struct {
	autumn, spring engine.Period
}

func (h *Handler) loadSchoolYearScenario(ctx context.Context) (schoolYear, error) {
	var sy schoolYear

	refs, err := h.Referentials.Parse([]byte(scenarioReferentials))
	if err != nil {
		return sy, err
	}
	if _, err := h.Referentials.Apply(ctx, h.Planning, refs); err != nil {
		return sy, err
	}

	if sy.autumn, err = h.Registry.Create(ctx,
		engine.NewDate(2024, time.September, 1),
		engine.NewDate(2024, time.December, 31),
		engine.NewDate(2024, time.December, 20)); err != nil {
		return sy, err
	}
	if sy.spring, err = h.Registry.Create(ctx,
		engine.NewDate(2025, time.January, 1),
		engine.NewDate(2025, time.June, 30),
		engine.NewDate(2025, time.June, 20)); err != nil {
		return sy, err
	}

	workshops := []struct {
		intervenant engine.IntervenantID
		typeID      engine.ActivityTypeID
		on          engine.TimePoint
		hour        int
		minutes     int
		prep        int
	}{
		{"int-1", "atelier", engine.NewDate(2024, time.October, 1), 9, 120, 30},
		{"int-1", "atelier", engine.NewDate(2024, time.October, 8), 14, 75, 0},
		{"int-2", "atelier", engine.NewDate(2024, time.November, 12), 10, 90, 15},
		{"int-2", "supervision", engine.NewDate(2024, time.December, 3), 16, 60, 0},
		{"int-1", "atelier", engine.NewDate(2025, time.February, 4), 9, 120, 0},
	}
	for _, ws := range workshops {
		start := engine.NewTimestamp(ws.on.Year(), ws.on.Month(), ws.on.Day(), ws.hour, 0)
		end := engine.TimestampOf(start.Time.Add(time.Duration(ws.minutes) * time.Minute))
		if _, err := h.Planning.RecordScheduled(ctx, engine.ScheduledActivity{
			IntervenantID:  ws.intervenant,
			Beneficiaries:  []engine.BeneficiaryID{"groupe-a"},
			ActivityTypeID: ws.typeID,
			Start:          start,
			End:            end,
			PrepMinutes:    ws.prep,
		}); err != nil {
			return sy, err
		}
	}

	if _, err := h.Planning.RecordLumpSum(ctx, engine.LumpSumActivity{
		IntervenantID:  "int-1",
		ActivityTypeID: "stage",
		PeriodID:       sy.autumn.ID,
		Hours:          decimal.RequireFromString("12.5"),
	}); err != nil {
		return sy, err
	}
	return sy, nil
}

func (h *Handler) loadAutumnClosedScenario(ctx context.Context) error {
	sy, err := h.loadSchoolYearScenario(ctx)
	if err != nil {
		return err
	}
	if _, err := h.Registry.Close(ctx, sy.autumn.ID, "demo@example.org", h.Now()); err != nil {
		return err
	}

	// Dated in autumn, recorded after the close: reported with spring.
	_, err = h.Planning.RecordScheduled(ctx, engine.ScheduledActivity{
		IntervenantID:  "int-2",
		ActivityTypeID: "atelier",
		Start:          engine.NewTimestamp(2024, time.December, 18, 9, 0),
		End:            engine.NewTimestamp(2024, time.December, 18, 10, 0),
	})
	return err
}

package api

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/warp/bilan-engine/engine"
	"github.com/warp/bilan-engine/factory"
)

// =============================================================================
// ACTIVITY HANDLERS
// =============================================================================

// RecordScheduled records a scheduled activity.
// POST /api/activities/scheduled
func (h *Handler) RecordScheduled(w http.ResponseWriter, r *http.Request) {
	var req ScheduledActivityRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	h.saveScheduled(w, r, req, http.StatusCreated)
}

// GetScheduled returns one scheduled activity with its pin, if any.
// GET /api/activities/scheduled/{id}
func (h *Handler) GetScheduled(w http.ResponseWriter, r *http.Request) {
	a, err := h.Store.GetScheduled(r.Context(), engine.ActivityID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toScheduledDTO(a))
}

// UpdateScheduled edits an existing scheduled activity. A pinned activity
// keeps its period whatever the new dates.
// PUT /api/activities/scheduled/{id}
func (h *Handler) UpdateScheduled(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.Store.GetScheduled(r.Context(), engine.ActivityID(id)); err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	var req ScheduledActivityRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	req.ID = id
	h.saveScheduled(w, r, req, http.StatusOK)
}

// CancelScheduled marks a scheduled activity cancelled.
// POST /api/activities/scheduled/{id}/cancel
func (h *Handler) CancelScheduled(w http.ResponseWriter, r *http.Request) {
	a, err := h.Planning.CancelScheduled(r.Context(), engine.ActivityID(chi.URLParam(r, "id")), h.Now())
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toScheduledDTO(a))
}

// RecordLumpSum books a forfait on an open period.
// POST /api/activities/forfaits
func (h *Handler) RecordLumpSum(w http.ResponseWriter, r *http.Request) {
	var req LumpSumRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	a, err := h.Planning.RecordLumpSum(r.Context(), engine.LumpSumActivity{
		ID:             engine.ActivityID(req.ID),
		IntervenantID:  engine.IntervenantID(req.IntervenantID),
		ActivityTypeID: engine.ActivityTypeID(req.ActivityTypeID),
		PeriodID:       engine.PeriodID(req.PeriodID),
		Hours:          req.Hours,
	})
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toLumpSumDTO(a))
}

func (h *Handler) saveScheduled(w http.ResponseWriter, r *http.Request, req ScheduledActivityRequest, status int) {
	start, err := parseTimestamp("start", req.Start)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	end, err := parseTimestamp("end", req.End)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	a := engine.ScheduledActivity{
		ID:             engine.ActivityID(req.ID),
		IntervenantID:  engine.IntervenantID(req.IntervenantID),
		ActivityTypeID: engine.ActivityTypeID(req.ActivityTypeID),
		Start:          start,
		End:            end,
		PrepMinutes:    req.PrepMinutes,
		ExtraMinutes:   req.ExtraMinutes,
	}
	for _, b := range req.Beneficiaries {
		a.Beneficiaries = append(a.Beneficiaries, engine.BeneficiaryID(b))
	}

	stored, err := h.Planning.RecordScheduled(r.Context(), a)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, status, toScheduledDTO(stored))
}

// =============================================================================
// REFERENTIAL HANDLERS
// =============================================================================

// CreateActivityType stores one activity type.
// POST /api/activity-types
func (h *Handler) CreateActivityType(w http.ResponseWriter, r *http.Request) {
	var req factory.ActivityTypeJSON
	if err := decodeJSON(r, &req); err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	refs, err := h.Referentials.FromJSON(factory.ReferentialJSON{ActivityTypes: []factory.ActivityTypeJSON{req}})
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	if err := h.Planning.AddActivityType(r.Context(), refs.ActivityTypes[0]); err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// CreateRate stores one rate record. Overlap with another rate of the same
// type is rejected.
// POST /api/rates
func (h *Handler) CreateRate(w http.ResponseWriter, r *http.Request) {
	var req factory.RateJSON
	if err := decodeJSON(r, &req); err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	refs, err := h.Referentials.FromJSON(factory.ReferentialJSON{Rates: []factory.RateJSON{req}})
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	rate, err := h.Planning.AddRate(r.Context(), refs.Rates[0])
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.Referentials.ToJSON(nil, []engine.RateRecord{rate}, nil).Rates[0])
}

// CreateIntervenant stores one directory entry.
// POST /api/intervenants
func (h *Handler) CreateIntervenant(w http.ResponseWriter, r *http.Request) {
	var req factory.IntervenantJSON
	if err := decodeJSON(r, &req); err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	refs, err := h.Referentials.FromJSON(factory.ReferentialJSON{Intervenants: []factory.IntervenantJSON{req}})
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	if err := h.Planning.AddIntervenant(r.Context(), refs.Intervenants[0]); err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// ExportReferentials returns every referential in import format.
// GET /api/referentials
func (h *Handler) ExportReferentials(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	types, err := h.Store.ActivityTypes(ctx)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	rates, err := h.Store.Rates(ctx)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	intervenants, err := h.Store.Intervenants(ctx)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.Referentials.ToJSON(types, rates, intervenants))
}

// ImportReferentials loads a referential JSON document.
// POST /api/referentials/import
func (h *Handler) ImportReferentials(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read body", err)
		return
	}
	refs, err := h.Referentials.Parse(data)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	result, err := h.Referentials.Apply(r.Context(), h.Planning, refs)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ImportResultDTO{
		ActivityTypes: result.ActivityTypes,
		Rates:         result.Rates,
		Intervenants:  result.Intervenants,
	})
}

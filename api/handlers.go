/*
handlers.go - HTTP API handlers for periods and reports

PURPOSE:
  Exposes the period registry and the two report builders via REST API.
  Handles HTTP request/response, JSON serialization, and delegates to the
  engine.

ENDPOINTS:
  Periods:
    GET    /api/periods?start&end&financial  List periods (optionally in range)
    POST   /api/periods                      Create period
    GET    /api/periods/containing?date      Period containing a date
    GET    /api/periods/{id}                 Get period
    PUT    /api/periods/{id}                 Update an open period
    POST   /api/periods/{id}/close           Close (send) a period

  Reports:
    GET    /api/bilans/financiers?start&end          Bilan financier
    GET    /api/periods/{id}/services-faits?intervenant  Services faits

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input, missing rate
  - 404: Resource not found
  - 409: Overlap, closed period, period not sent
  - 500: Data integrity violations (logged at error level) and internal errors

SEE ALSO:
  - activities.go: Activity and referential handlers
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/bilan-engine/bilan"
	"github.com/warp/bilan-engine/engine"
	"github.com/warp/bilan-engine/factory"
	"github.com/warp/bilan-engine/metrics"
)

const maxBodyBytes = 1 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store         engine.TxStore
	Registry      *engine.PeriodRegistry
	Planning      *engine.Planning
	Financier     *bilan.FinancierBuilder
	ServicesFaits *bilan.ServicesFaitsBuilder
	Referentials  *factory.ReferentialFactory
	Logger        *zap.Logger

	// Now stamps closes and cancellations. Defaults to time.Now.
	Now func() time.Time
}

// NewHandler wires the engine components over one store.
func NewHandler(store engine.TxStore, coefficient decimal.Decimal, requireRate bool, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	registry := engine.NewPeriodRegistry(store, logger)

	financier := bilan.NewFinancierBuilder(registry, store, coefficient, logger)
	financier.RequireRate = requireRate
	servicesFaits := bilan.NewServicesFaitsBuilder(registry, store, logger)
	servicesFaits.RequireRate = requireRate

	return &Handler{
		Store:         store,
		Registry:      registry,
		Planning:      engine.NewPlanning(store),
		Financier:     financier,
		ServicesFaits: servicesFaits,
		Referentials:  factory.NewReferentialFactory(),
		Logger:        logger,
		Now:           time.Now,
	}
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// PERIOD HANDLERS
// =============================================================================

// ListPeriods returns every period, or those intersecting [start, end].
// GET /api/periods?start=2024-09-01&end=2024-12-31&financial=true
func (h *Handler) ListPeriods(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	var (
		periods []engine.Period
		err     error
	)
	if q.Get("start") == "" && q.Get("end") == "" {
		periods, err = h.Registry.List(ctx)
	} else {
		var start, end engine.TimePoint
		if start, end, err = parseWindow(r); err != nil {
			h.writeEngineError(w, r, err)
			return
		}
		financial := false
		if v := q.Get("financial"); v != "" {
			if financial, err = strconv.ParseBool(v); err != nil {
				h.writeEngineError(w, r, fmt.Errorf("%w: financial must be a boolean", engine.ErrInvalidInput))
				return
			}
		}
		periods, err = h.Registry.PeriodsInRange(ctx, start, end, financial)
	}
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPeriodDTOs(periods))
}

// CreatePeriod registers a new open period.
// POST /api/periods
func (h *Handler) CreatePeriod(w http.ResponseWriter, r *http.Request) {
	start, end, deadline, err := decodePeriodRequest(r)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	p, err := h.Registry.Create(r.Context(), start, end, deadline)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPeriodDTO(p))
}

// GetPeriod returns one period.
// GET /api/periods/{id}
func (h *Handler) GetPeriod(w http.ResponseWriter, r *http.Request) {
	p, err := h.Registry.Get(r.Context(), engine.PeriodID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPeriodDTO(p))
}

// UpdatePeriod edits the dates of an open period.
// PUT /api/periods/{id}
func (h *Handler) UpdatePeriod(w http.ResponseWriter, r *http.Request) {
	start, end, deadline, err := decodePeriodRequest(r)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	p, err := h.Registry.Update(r.Context(), engine.PeriodID(chi.URLParam(r, "id")), start, end, deadline)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPeriodDTO(p))
}

// PeriodContaining returns the period whose range contains date.
// GET /api/periods/containing?date=2024-10-01
func (h *Handler) PeriodContaining(w http.ResponseWriter, r *http.Request) {
	date, err := parseDateParam(r, "date")
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	p, err := h.Registry.Containing(r.Context(), date)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	if p == nil {
		h.writeEngineError(w, r, fmt.Errorf("%w: no period contains %s", engine.ErrPeriodNotFound, date))
		return
	}
	writeJSON(w, http.StatusOK, toPeriodDTO(*p))
}

// ClosePeriod sends a period and pins its activities.
// POST /api/periods/{id}/close
//
// The operator comes from the X-Operator header, or from the body.
func (h *Handler) ClosePeriod(w http.ResponseWriter, r *http.Request) {
	operator := strings.TrimSpace(r.Header.Get("X-Operator"))
	if operator == "" {
		var req ClosePeriodRequest
		if err := decodeOptionalJSON(r, &req); err != nil {
			h.writeEngineError(w, r, err)
			return
		}
		operator = strings.TrimSpace(req.Operator)
	}

	start := time.Now()
	result, err := h.Registry.Close(r.Context(), engine.PeriodID(chi.URLParam(r, "id")), operator, h.Now())
	metrics.ObserveClose(metrics.Result(err), len(result.Pinned), time.Since(start))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	pinned := make([]string, len(result.Pinned))
	for i, id := range result.Pinned {
		pinned[i] = string(id)
	}
	writeJSON(w, http.StatusOK, CloseResultDTO{Period: toPeriodDTO(result.Period), Pinned: pinned})
}

// =============================================================================
// REPORT HANDLERS
// =============================================================================

// GetBilanFinanciers builds the charged-cost report for a window.
// GET /api/bilans/financiers?start=2024-09-01&end=2025-06-30
func (h *Handler) GetBilanFinanciers(w http.ResponseWriter, r *http.Request) {
	start, end, err := parseWindow(r)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	began := time.Now()
	report, err := h.Financier.Build(r.Context(), start, end)
	metrics.ObserveBuild(metrics.ReportFinancier, metrics.Result(err), time.Since(began))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ToBilanFinanciersDTO(report))
}

// GetServicesFaits builds the statement of service for a closed period.
// GET /api/periods/{id}/services-faits?intervenant=int-1
func (h *Handler) GetServicesFaits(w http.ResponseWriter, r *http.Request) {
	var intervenant *engine.IntervenantID
	if v := strings.TrimSpace(r.URL.Query().Get("intervenant")); v != "" {
		id := engine.IntervenantID(v)
		intervenant = &id
	}

	began := time.Now()
	report, err := h.ServicesFaits.Build(r.Context(), engine.PeriodID(chi.URLParam(r, "id")), intervenant)
	metrics.ObserveBuild(metrics.ReportServicesFaits, metrics.Result(err), time.Since(began))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toServicesFaitsDTO(report))
}

// =============================================================================
// HELPERS
// =============================================================================

func decodePeriodRequest(r *http.Request) (start, end, deadline engine.TimePoint, err error) {
	var req PeriodRequest
	if err = decodeJSON(r, &req); err != nil {
		return
	}
	if start, err = parseDate("start", req.Start); err != nil {
		return
	}
	if end, err = parseDate("end", req.End); err != nil {
		return
	}
	deadline = end
	if req.Deadline != "" {
		deadline, err = parseDate("deadline", req.Deadline)
	}
	return
}

// writeEngineError maps engine errors to HTTP statuses.
func (h *Handler) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case engine.IsFatal(err):
		metrics.IncIntegrityError()
		h.Logger.Error("data integrity violation",
			zap.Error(err),
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())))
		writeError(w, http.StatusInternalServerError, "Data integrity violation", err)
	case engine.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	case errors.Is(err, engine.ErrOverlap),
		errors.Is(err, engine.ErrPeriodClosed),
		errors.Is(err, engine.ErrPeriodNotSent):
		writeError(w, http.StatusConflict, "Conflict", err)
	case engine.IsClientError(err):
		writeError(w, http.StatusBadRequest, "Invalid request", err)
	default:
		h.Logger.Error("request failed",
			zap.Error(err),
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())))
		writeError(w, http.StatusInternalServerError, "Internal error", nil)
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %v", engine.ErrInvalidInput, err)
	}
	return nil
}

// decodeOptionalJSON accepts an empty body.
func decodeOptionalJSON(r *http.Request, v any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: invalid JSON body: %v", engine.ErrInvalidInput, err)
	}
	return nil
}

func parseDate(field, value string) (engine.TimePoint, error) {
	if value == "" {
		return engine.TimePoint{}, fmt.Errorf("%w: %s is required", engine.ErrInvalidInput, field)
	}
	tp, err := engine.ParseDate(value)
	if err != nil {
		return engine.TimePoint{}, fmt.Errorf("%w: %s: %v", engine.ErrInvalidInput, field, err)
	}
	return tp, nil
}

func parseTimestamp(field, value string) (engine.TimePoint, error) {
	if value == "" {
		return engine.TimePoint{}, fmt.Errorf("%w: %s is required", engine.ErrInvalidInput, field)
	}
	tp, err := engine.ParseTimestamp(value)
	if err != nil {
		return engine.TimePoint{}, fmt.Errorf("%w: %s: %v", engine.ErrInvalidInput, field, err)
	}
	return tp, nil
}

func parseDateParam(r *http.Request, name string) (engine.TimePoint, error) {
	return parseDate(name, r.URL.Query().Get(name))
}

func parseWindow(r *http.Request) (start, end engine.TimePoint, err error) {
	if start, err = parseDateParam(r, "start"); err != nil {
		return
	}
	end, err = parseDateParam(r, "end")
	return
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

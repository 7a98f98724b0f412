/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the engine model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

FORMATS:
  - Dates are "2006-01-02", timestamps RFC3339.
  - Decimals are strings. Hours and amounts are rendered with two decimals;
    minutes are exact.
  - A line without a rate carries rate_id "none" and no amount.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/referential.go: Referential JSON types reused for requests
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/bilan-engine/bilan"
	"github.com/warp/bilan-engine/engine"
)

// =============================================================================
// PERIODS
// =============================================================================

type PeriodDTO struct {
	ID        string  `json:"id"`
	Start     string  `json:"start"`
	End       string  `json:"end"`
	Deadline  string  `json:"deadline"`
	Status    string  `json:"status"`
	SentAt    *string `json:"sent_at,omitempty"`
	SentBy    string  `json:"sent_by,omitempty"`
	CreatedAt string  `json:"created_at"`
}

// PeriodRequest creates or updates a period. Deadline defaults to End.
type PeriodRequest struct {
	Start    string `json:"start"`
	End      string `json:"end"`
	Deadline string `json:"deadline,omitempty"`
}

// ClosePeriodRequest is optional; the X-Operator header also names the operator.
type ClosePeriodRequest struct {
	Operator string `json:"operator"`
}

type CloseResultDTO struct {
	Period PeriodDTO `json:"period"`
	Pinned []string  `json:"pinned"`
}

// =============================================================================
// REPORTS
// =============================================================================

type BilanFinanciersDTO struct {
	Start        string                `json:"start"`
	End          string                `json:"end"`
	GeneratedAt  string                `json:"generated_at"`
	Periods      []PeriodDTO           `json:"periods"`
	Intervenants []IntervenantBilanDTO `json:"intervenants"`
	TotalHours   string                `json:"total_hours"`
}

type IntervenantBilanDTO struct {
	ID          string         `json:"id"`
	DisplayName string         `json:"display_name"`
	TotalHours  string         `json:"total_hours"`
	Lines       []BilanLineDTO `json:"lines"`
}

type BilanLineDTO struct {
	PeriodID          string  `json:"period_id"`
	ActivityTypeID    string  `json:"activity_type_id"`
	ActivityTypeLabel string  `json:"activity_type_label"`
	RateID            string  `json:"rate_id"`
	RateAmount        *string `json:"rate_amount,omitempty"`
	Coefficient       string  `json:"coefficient"`
	Minutes           string  `json:"minutes"`
	Hours             string  `json:"hours"`
	Amount            *string `json:"amount,omitempty"`
}

type ServicesFaitsDTO struct {
	Period        PeriodDTO              `json:"period"`
	IntervenantID *string                `json:"intervenant_id,omitempty"`
	GeneratedAt   string                 `json:"generated_at"`
	TotalHours    string                 `json:"total_hours"`
	Lines         []ServicesFaitsLineDTO `json:"lines"`
}

type ServicesFaitsLineDTO struct {
	ActivityTypeID    string  `json:"activity_type_id"`
	ActivityTypeLabel string  `json:"activity_type_label"`
	RateID            string  `json:"rate_id"`
	RateAmount        *string `json:"rate_amount,omitempty"`
	Minutes           string  `json:"minutes"`
	Hours             string  `json:"hours"`
}

// =============================================================================
// ACTIVITIES
// =============================================================================

type ScheduledActivityRequest struct {
	ID             string   `json:"id,omitempty"`
	IntervenantID  string   `json:"intervenant_id"`
	Beneficiaries  []string `json:"beneficiaries,omitempty"`
	ActivityTypeID string   `json:"activity_type_id"`
	Start          string   `json:"start"`
	End            string   `json:"end"`
	PrepMinutes    int      `json:"prep_minutes,omitempty"`
	ExtraMinutes   int      `json:"extra_minutes,omitempty"`
}

type ScheduledActivityDTO struct {
	ID             string   `json:"id"`
	IntervenantID  string   `json:"intervenant_id"`
	Beneficiaries  []string `json:"beneficiaries"`
	ActivityTypeID string   `json:"activity_type_id"`
	Start          string   `json:"start"`
	End            string   `json:"end"`
	PrepMinutes    int      `json:"prep_minutes"`
	ExtraMinutes   int      `json:"extra_minutes"`
	Minutes        int64    `json:"minutes"`
	CancelledAt    *string  `json:"cancelled_at,omitempty"`
	AssignedPeriod *string  `json:"assigned_period,omitempty"`
}

type LumpSumRequest struct {
	ID             string          `json:"id,omitempty"`
	IntervenantID  string          `json:"intervenant_id"`
	ActivityTypeID string          `json:"activity_type_id"`
	PeriodID       string          `json:"period_id"`
	Hours          decimal.Decimal `json:"hours"`
}

type LumpSumDTO struct {
	ID             string `json:"id"`
	IntervenantID  string `json:"intervenant_id"`
	ActivityTypeID string `json:"activity_type_id"`
	PeriodID       string `json:"period_id"`
	Hours          string `json:"hours"`
}

// =============================================================================
// MISC
// =============================================================================

type ImportResultDTO struct {
	ActivityTypes int `json:"activity_types"`
	Rates         int `json:"rates"`
	Intervenants  int `json:"intervenants"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toPeriodDTO(p engine.Period) PeriodDTO {
	dto := PeriodDTO{
		ID:        string(p.ID),
		Start:     formatDate(p.Start),
		End:       formatDate(p.End),
		Deadline:  formatDate(p.Deadline),
		Status:    string(p.Status()),
		SentBy:    p.SentBy,
		CreatedAt: p.CreatedAt.UTC().Format(time.RFC3339),
	}
	if p.SentAt != nil {
		dto.SentAt = formatTime(*p.SentAt)
	}
	return dto
}

func toPeriodDTOs(periods []engine.Period) []PeriodDTO {
	dtos := make([]PeriodDTO, len(periods))
	for i, p := range periods {
		dtos[i] = toPeriodDTO(p)
	}
	return dtos
}

// ToBilanFinanciersDTO renders a report with fixed two-decimal hours and amounts.
func ToBilanFinanciersDTO(r *bilan.BilanFinanciers) BilanFinanciersDTO {
	dto := BilanFinanciersDTO{
		Start:        formatDate(r.Start),
		End:          formatDate(r.End),
		GeneratedAt:  r.GeneratedAt.Format(time.RFC3339),
		Periods:      toPeriodDTOs(r.Periods),
		Intervenants: make([]IntervenantBilanDTO, 0, len(r.Intervenants)),
		TotalHours:   formatHours(r.TotalHours()),
	}
	for _, ib := range r.Intervenants {
		idto := IntervenantBilanDTO{
			ID:          string(ib.IntervenantID),
			DisplayName: ib.DisplayName,
			TotalHours:  formatHours(engine.MinutesToHours(ib.TotalMinutes())),
		}
		for _, l := range ib.Lines() {
			line := BilanLineDTO{
				PeriodID:          string(l.Key.PeriodID),
				ActivityTypeID:    string(l.Key.ActivityTypeID),
				ActivityTypeLabel: l.ActivityType.Label,
				RateID:            string(l.Key.RateID),
				Coefficient:       l.Key.Coefficient,
				Minutes:           l.Minutes().String(),
				Hours:             formatHours(l.Hours()),
			}
			if l.Rate != nil {
				line.RateAmount = formatMoney(l.Rate.Amount)
			}
			if amount := l.Amount(); amount != nil {
				line.Amount = formatMoney(*amount)
			}
			idto.Lines = append(idto.Lines, line)
		}
		dto.Intervenants = append(dto.Intervenants, idto)
	}
	return dto
}

func toServicesFaitsDTO(r *bilan.ServicesFaits) ServicesFaitsDTO {
	dto := ServicesFaitsDTO{
		Period:      toPeriodDTO(r.Period),
		GeneratedAt: r.GeneratedAt.Format(time.RFC3339),
		TotalHours:  formatHours(r.TotalHours()),
		Lines:       make([]ServicesFaitsLineDTO, 0, len(r.Lines)),
	}
	if r.IntervenantID != nil {
		id := string(*r.IntervenantID)
		dto.IntervenantID = &id
	}
	for _, l := range r.Lines {
		line := ServicesFaitsLineDTO{
			ActivityTypeID:    string(l.ActivityType.ID),
			ActivityTypeLabel: l.ActivityType.Label,
			RateID:            string(l.RateID()),
			Minutes:           l.Minutes().String(),
			Hours:             formatHours(l.Hours()),
		}
		if l.Rate != nil {
			line.RateAmount = formatMoney(l.Rate.Amount)
		}
		dto.Lines = append(dto.Lines, line)
	}
	return dto
}

func toScheduledDTO(a engine.ScheduledActivity) ScheduledActivityDTO {
	dto := ScheduledActivityDTO{
		ID:             string(a.ID),
		IntervenantID:  string(a.IntervenantID),
		Beneficiaries:  make([]string, len(a.Beneficiaries)),
		ActivityTypeID: string(a.ActivityTypeID),
		Start:          a.Start.Time.Format(engine.TimestampLayout),
		End:            a.End.Time.Format(engine.TimestampLayout),
		PrepMinutes:    a.PrepMinutes,
		ExtraMinutes:   a.ExtraMinutes,
		Minutes:        a.Minutes(),
	}
	for i, b := range a.Beneficiaries {
		dto.Beneficiaries[i] = string(b)
	}
	if a.CancelledAt != nil {
		dto.CancelledAt = formatTime(*a.CancelledAt)
	}
	if a.AssignedPeriod != nil {
		id := string(*a.AssignedPeriod)
		dto.AssignedPeriod = &id
	}
	return dto
}

func toLumpSumDTO(a engine.LumpSumActivity) LumpSumDTO {
	return LumpSumDTO{
		ID:             string(a.ID),
		IntervenantID:  string(a.IntervenantID),
		ActivityTypeID: string(a.ActivityTypeID),
		PeriodID:       string(a.PeriodID),
		Hours:          a.Hours.String(),
	}
}

func formatDate(tp engine.TimePoint) string { return tp.Time.Format(engine.DateLayout) }

func formatTime(t time.Time) *string {
	s := t.UTC().Format(time.RFC3339)
	return &s
}

func formatHours(d decimal.Decimal) string { return d.StringFixed(2) }

func formatMoney(d decimal.Decimal) *string {
	s := d.StringFixed(2)
	return &s
}

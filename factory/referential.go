/*
Package factory provides JSON to Go referential conversion.

PURPOSE:
  Converts JSON referential definitions (activity types, rates, intervenants)
  into engine types and applies them through engine.Planning. HR maintains
  the rate grid as a JSON document; the factory validates it and loads it.

JSON SCHEMA:
  {
    "activity_types": [
      {"id": "atelier", "label": "Atelier"},
      {"id": "stage", "label": "Stage", "forfait": true},
      {"id": "supervision", "label": "Supervision", "overhead_coefficient": "1.2"}
    ],
    "rates": [
      {"id": "r-2024", "activity_type": "atelier", "amount": "40.00",
       "start": "2024-01-01", "end": "2024-12-31"},
      {"activity_type": "atelier", "amount": "45.00", "start": "2025-01-01"}
    ],
    "intervenants": [
      {"id": "int-1", "display_name": "Alice Martin", "email": "alice@example.org"}
    ]
  }

  Decimals accept JSON strings or numbers. Strings are preferred: they keep
  the exact digits.

USAGE:
  f := factory.NewReferentialFactory()
  refs, err := f.Parse(data)
  result, err := f.Apply(ctx, planning, refs)

SEE ALSO:
  - engine/planning.go: Validation and storage of each entry
  - engine/rate.go: Rate overlap rules
*/
package factory

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/bilan-engine/engine"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// ReferentialJSON is the JSON representation of the referentials.
type ReferentialJSON struct {
	ActivityTypes []ActivityTypeJSON `json:"activity_types"`
	Rates         []RateJSON         `json:"rates"`
	Intervenants  []IntervenantJSON  `json:"intervenants"`
}

type ActivityTypeJSON struct {
	ID                  string           `json:"id"`
	Label               string           `json:"label"`
	Forfait             bool             `json:"forfait,omitempty"`
	OverheadCoefficient *decimal.Decimal `json:"overhead_coefficient,omitempty"`
}

type RateJSON struct {
	ID           string          `json:"id,omitempty"`
	ActivityType string          `json:"activity_type"`
	Amount       decimal.Decimal `json:"amount"`
	Start        string          `json:"start"`
	End          string          `json:"end,omitempty"` // empty = open-ended
}

type IntervenantJSON struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email,omitempty"`
}

// Referentials is the parsed, engine-typed form of a ReferentialJSON.
type Referentials struct {
	ActivityTypes []engine.ActivityType
	Rates         []engine.RateRecord
	Intervenants  []engine.Intervenant
}

// ImportResult counts what Apply stored.
type ImportResult struct {
	ActivityTypes int
	Rates         int
	Intervenants  int
}

// =============================================================================
// REFERENTIAL FACTORY
// =============================================================================

// ReferentialFactory converts JSON referentials to engine types.
type ReferentialFactory struct{}

func NewReferentialFactory() *ReferentialFactory {
	return &ReferentialFactory{}
}

// Parse parses a JSON document into engine referentials.
func (f *ReferentialFactory) Parse(data []byte) (*Referentials, error) {
	var rj ReferentialJSON
	if err := json.Unmarshal(data, &rj); err != nil {
		return nil, fmt.Errorf("%w: failed to parse referential JSON: %v", engine.ErrInvalidInput, err)
	}
	return f.FromJSON(rj)
}

// FromJSON converts and validates a ReferentialJSON. Cross-entry rules
// (rate overlap, unknown type) are left to Apply.
func (f *ReferentialFactory) FromJSON(rj ReferentialJSON) (*Referentials, error) {
	refs := &Referentials{}

	seen := make(map[string]bool, len(rj.ActivityTypes))
	for i, tj := range rj.ActivityTypes {
		if tj.ID == "" {
			return nil, fmt.Errorf("%w: activity_types[%d]: id required", engine.ErrInvalidInput, i)
		}
		if seen[tj.ID] {
			return nil, fmt.Errorf("%w: activity_types[%d]: duplicate id %q", engine.ErrInvalidInput, i, tj.ID)
		}
		seen[tj.ID] = true
		if tj.OverheadCoefficient != nil {
			if err := engine.ValidateScale(*tj.OverheadCoefficient, engine.CoefficientScale); err != nil {
				return nil, fmt.Errorf("activity_types[%d]: %w", i, err)
			}
		}
		refs.ActivityTypes = append(refs.ActivityTypes, engine.ActivityType{
			ID:                  engine.ActivityTypeID(tj.ID),
			Label:               tj.Label,
			Forfait:             tj.Forfait,
			OverheadCoefficient: tj.OverheadCoefficient,
		})
	}

	for i, r := range rj.Rates {
		rate, err := parseRate(r)
		if err != nil {
			return nil, fmt.Errorf("rates[%d]: %w", i, err)
		}
		refs.Rates = append(refs.Rates, rate)
	}

	for i, ij := range rj.Intervenants {
		if ij.ID == "" {
			return nil, fmt.Errorf("%w: intervenants[%d]: id required", engine.ErrInvalidInput, i)
		}
		refs.Intervenants = append(refs.Intervenants, engine.Intervenant{
			ID:          engine.IntervenantID(ij.ID),
			DisplayName: ij.DisplayName,
			Email:       ij.Email,
		})
	}

	return refs, nil
}

// Apply stores the referentials through Planning: types first, then
// intervenants, then rates. Each entry is its own transaction; on error
// the entries before it stay stored.
func (f *ReferentialFactory) Apply(ctx context.Context, planning *engine.Planning, refs *Referentials) (ImportResult, error) {
	var result ImportResult
	for _, t := range refs.ActivityTypes {
		if err := planning.AddActivityType(ctx, t); err != nil {
			return result, fmt.Errorf("activity type %s: %w", t.ID, err)
		}
		result.ActivityTypes++
	}
	for _, i := range refs.Intervenants {
		if err := planning.AddIntervenant(ctx, i); err != nil {
			return result, fmt.Errorf("intervenant %s: %w", i.ID, err)
		}
		result.Intervenants++
	}
	for _, r := range refs.Rates {
		if _, err := planning.AddRate(ctx, r); err != nil {
			return result, fmt.Errorf("rate for %s from %s: %w", r.ActivityTypeID, r.Start, err)
		}
		result.Rates++
	}
	return result, nil
}

// ToJSON converts stored referentials back to their JSON form.
func (f *ReferentialFactory) ToJSON(types []engine.ActivityType, rates []engine.RateRecord, intervenants []engine.Intervenant) ReferentialJSON {
	rj := ReferentialJSON{
		ActivityTypes: make([]ActivityTypeJSON, 0, len(types)),
		Rates:         make([]RateJSON, 0, len(rates)),
		Intervenants:  make([]IntervenantJSON, 0, len(intervenants)),
	}
	for _, t := range types {
		rj.ActivityTypes = append(rj.ActivityTypes, ActivityTypeJSON{
			ID:                  string(t.ID),
			Label:               t.Label,
			Forfait:             t.Forfait,
			OverheadCoefficient: t.OverheadCoefficient,
		})
	}
	for _, r := range rates {
		j := RateJSON{
			ID:           string(r.ID),
			ActivityType: string(r.ActivityTypeID),
			Amount:       r.Amount,
			Start:        r.Start.Time.Format(engine.DateLayout),
		}
		if r.End != nil {
			j.End = r.End.Time.Format(engine.DateLayout)
		}
		rj.Rates = append(rj.Rates, j)
	}
	for _, i := range intervenants {
		rj.Intervenants = append(rj.Intervenants, IntervenantJSON{
			ID:          string(i.ID),
			DisplayName: i.DisplayName,
			Email:       i.Email,
		})
	}
	return rj
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parseRate(r RateJSON) (engine.RateRecord, error) {
	if r.ActivityType == "" {
		return engine.RateRecord{}, fmt.Errorf("%w: activity_type required", engine.ErrInvalidInput)
	}
	start, err := engine.ParseDate(r.Start)
	if err != nil {
		return engine.RateRecord{}, fmt.Errorf("%w: start: %v", engine.ErrInvalidInput, err)
	}
	rate := engine.RateRecord{
		ID:             engine.RateID(r.ID),
		ActivityTypeID: engine.ActivityTypeID(r.ActivityType),
		Amount:         r.Amount,
		Start:          start,
	}
	if r.End != "" {
		end, err := engine.ParseDate(r.End)
		if err != nil {
			return engine.RateRecord{}, fmt.Errorf("%w: end: %v", engine.ErrInvalidInput, err)
		}
		rate.End = &end
	}
	if err := rate.Validate(); err != nil {
		return engine.RateRecord{}, err
	}
	return rate, nil
}

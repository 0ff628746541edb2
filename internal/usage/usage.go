// Package usage holds the token/cost/carbon accounting types shared by the
// forwarding engine and the API surface.
package usage

import "math"

// Bounds is an optional numeric interval. Min and Max are independently
// optional: a nil pointer means "no contribution yet", which is distinct from
// an explicit zero.
type Bounds struct {
	Min *float64 `json:"min"`
	Max *float64 `json:"max"`
}

// CarbonFootprint carries the estimated environmental impact of a request.
type CarbonFootprint struct {
	KgCO2eq Bounds `json:"kgCO2eq"`
	KWh     Bounds `json:"kWh"`
}

// Detail is the per-item usage record inside a possibly batched response.
type Detail struct {
	ID    string `json:"id"`
	Model string `json:"model"`
	Usage *Usage `json:"usage"`
}

// Usage aggregates token counts, cost and carbon for one logical request.
// Invariant: TotalTokens == PromptTokens + CompletionTokens.
type Usage struct {
	PromptTokens     int             `json:"prompt_tokens"`
	CompletionTokens int             `json:"completion_tokens"`
	TotalTokens      int             `json:"total_tokens"`
	Cost             float64         `json:"cost"`
	Carbon           CarbonFootprint `json:"carbon"`
	Details          []*Detail       `json:"details,omitempty"`
}

// New returns an empty accumulator with absent carbon bounds.
func New() *Usage {
	return &Usage{}
}

// Add appends d and folds its tokens, cost and carbon bounds into the running
// totals. Carbon bounds are only accumulated when the detail contributed one;
// an absent bound stays absent rather than being coerced to zero.
func (u *Usage) Add(d *Detail) {
	u.Details = append(u.Details, d)
	if d.Usage == nil {
		return
	}

	u.PromptTokens += d.Usage.PromptTokens
	u.CompletionTokens += d.Usage.CompletionTokens
	u.TotalTokens += d.Usage.TotalTokens
	u.Cost = RoundCost(u.Cost + d.Usage.Cost)

	addBound(&u.Carbon.KgCO2eq.Min, d.Usage.Carbon.KgCO2eq.Min)
	addBound(&u.Carbon.KgCO2eq.Max, d.Usage.Carbon.KgCO2eq.Max)
	addBound(&u.Carbon.KWh.Min, d.Usage.Carbon.KWh.Min)
	addBound(&u.Carbon.KWh.Max, d.Usage.Carbon.KWh.Max)
}

// addBound accumulates contribution into dst, lazily initializing dst to 0 on
// the first non-nil contribution.
func addBound(dst **float64, contribution *float64) {
	if contribution == nil {
		return
	}
	if *dst == nil {
		zero := 0.0
		*dst = &zero
	}
	**dst += *contribution
}

// RoundCost rounds a cost value to 6 decimal places.
func RoundCost(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

// CostFor computes the cost of a token exchange against a per-million-token
// price schedule, rounded to 6 decimals.
func CostFor(promptTokens, completionTokens int, promptPrice, completionPrice float64) float64 {
	return RoundCost(float64(promptTokens)/1e6*promptPrice + float64(completionTokens)/1e6*completionPrice)
}

// Float returns a pointer to v. Convenience for building optional bounds.
func Float(v float64) *float64 { return &v }

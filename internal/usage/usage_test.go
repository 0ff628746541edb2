package usage

import (
	"encoding/json"
	"testing"
)

func detail(pt, ct int, cost float64, kwhMin, kwhMax *float64) *Detail {
	return &Detail{
		ID:    "chatcmpl-test",
		Model: "m",
		Usage: &Usage{
			PromptTokens:     pt,
			CompletionTokens: ct,
			TotalTokens:      pt + ct,
			Cost:             cost,
			Carbon: CarbonFootprint{
				KWh: Bounds{Min: kwhMin, Max: kwhMax},
			},
		},
	}
}

// TestAddAccumulates verifies token, cost and detail accumulation across
// multiple items.
func TestAddAccumulates(t *testing.T) {
	u := New()
	u.Add(detail(100, 20, 0.0001, nil, nil))
	u.Add(detail(50, 5, 0.00005, nil, nil))

	if u.PromptTokens != 150 || u.CompletionTokens != 25 {
		t.Errorf("tokens = (%d, %d), want (150, 25)", u.PromptTokens, u.CompletionTokens)
	}
	if u.TotalTokens != 175 {
		t.Errorf("TotalTokens = %d, want 175", u.TotalTokens)
	}
	if u.Cost != 0.00015 {
		t.Errorf("Cost = %v, want 0.00015", u.Cost)
	}
	if len(u.Details) != 2 {
		t.Errorf("Details = %d entries, want 2", len(u.Details))
	}
}

// TestCarbonBoundsStayAbsent verifies that a bound no detail contributed to is
// nil, not zero — the two must be distinguishable in serialized output.
func TestCarbonBoundsStayAbsent(t *testing.T) {
	u := New()
	u.Add(detail(10, 10, 0, nil, nil))

	if u.Carbon.KWh.Min != nil || u.Carbon.KWh.Max != nil {
		t.Error("KWh bounds set despite no contribution")
	}

	raw, err := json.Marshal(u)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out map[string]any
	_ = json.Unmarshal(raw, &out)
	kwh := out["carbon"].(map[string]any)["kWh"].(map[string]any)
	if kwh["min"] != nil {
		t.Errorf("serialized min = %v, want null", kwh["min"])
	}
}

// TestCarbonBoundsLazyInit verifies that the first non-nil contribution
// initializes the bound and later contributions accumulate into it, while the
// sibling bound stays independent.
func TestCarbonBoundsLazyInit(t *testing.T) {
	u := New()
	u.Add(detail(1, 1, 0, nil, nil))
	u.Add(detail(1, 1, 0, Float(0.5), nil))
	u.Add(detail(1, 1, 0, Float(0.25), Float(2.0)))

	if u.Carbon.KWh.Min == nil || *u.Carbon.KWh.Min != 0.75 {
		t.Errorf("KWh.Min = %v, want 0.75", u.Carbon.KWh.Min)
	}
	if u.Carbon.KWh.Max == nil || *u.Carbon.KWh.Max != 2.0 {
		t.Errorf("KWh.Max = %v, want 2.0", u.Carbon.KWh.Max)
	}
	if u.Carbon.KgCO2eq.Min != nil {
		t.Error("KgCO2eq bound set despite no contribution")
	}
}

// TestZeroContributionIsExplicit verifies that an explicit zero contribution
// initializes the bound to 0 rather than leaving it absent.
func TestZeroContributionIsExplicit(t *testing.T) {
	u := New()
	u.Add(detail(1, 1, 0, Float(0), nil))

	if u.Carbon.KWh.Min == nil {
		t.Fatal("KWh.Min absent, want explicit 0")
	}
	if *u.Carbon.KWh.Min != 0 {
		t.Errorf("KWh.Min = %v, want 0", *u.Carbon.KWh.Min)
	}
}

func TestRoundCost(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{0.12345649, 0.123456},
		{0.12345651, 0.123457},
		{0.0000004, 0},
		{1.0, 1.0},
	}
	for _, tt := range tests {
		if got := RoundCost(tt.in); got != tt.want {
			t.Errorf("RoundCost(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestCostFor(t *testing.T) {
	// 1M prompt tokens at $2/M plus 500k completion tokens at $6/M.
	got := CostFor(1_000_000, 500_000, 2.0, 6.0)
	if got != 5.0 {
		t.Errorf("CostFor = %v, want 5.0", got)
	}

	if got := CostFor(0, 0, 2.0, 6.0); got != 0 {
		t.Errorf("CostFor(0,0) = %v, want 0", got)
	}
}

package carbon

import (
	"math"
	"testing"

	"github.com/nulpointcorp/inference-gateway/internal/usage"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-12
}

// TestEstimateKnownZone verifies both bound pairs for a fully specified model.
func TestEstimateKnownZone(t *testing.T) {
	e := New()

	fp := e.Estimate(usage.Float(8), nil, "FRA", 1000, 0.5)

	wantMin := 1000 * 8 * energyPerTokenPerBParamLow
	wantMax := 1000 * 8 * energyPerTokenPerBParamHigh * datacenterOverhead

	if fp.KWh.Min == nil || !almostEqual(*fp.KWh.Min, wantMin) {
		t.Errorf("KWh.Min = %v, want %v", fp.KWh.Min, wantMin)
	}
	if fp.KWh.Max == nil || !almostEqual(*fp.KWh.Max, wantMax) {
		t.Errorf("KWh.Max = %v, want %v", fp.KWh.Max, wantMax)
	}

	intensity := zoneIntensity["FRA"]
	if fp.KgCO2eq.Min == nil || !almostEqual(*fp.KgCO2eq.Min, wantMin*intensity) {
		t.Errorf("KgCO2eq.Min = %v, want %v", fp.KgCO2eq.Min, wantMin*intensity)
	}
}

// TestEstimateUnknownZone verifies that energy bounds are produced while the
// CO2 bounds stay absent — independently optional.
func TestEstimateUnknownZone(t *testing.T) {
	e := New()

	fp := e.Estimate(usage.Float(8), nil, "ATLANTIS", 1000, 0.5)

	if fp.KWh.Min == nil || fp.KWh.Max == nil {
		t.Fatal("KWh bounds absent despite known parameter count")
	}
	if fp.KgCO2eq.Min != nil || fp.KgCO2eq.Max != nil {
		t.Error("KgCO2eq bounds set despite unknown zone")
	}
}

// TestEstimateUnknownParams verifies that no bound at all is produced when
// the model size is unknown.
func TestEstimateUnknownParams(t *testing.T) {
	e := New()

	fp := e.Estimate(nil, nil, "FRA", 1000, 0.5)
	if fp != (usage.CarbonFootprint{}) {
		t.Errorf("footprint = %+v, want empty", fp)
	}
}

// TestEstimateFallsBackToTotalParams verifies the active → total fallback.
func TestEstimateFallsBackToTotalParams(t *testing.T) {
	e := New()

	fp := e.Estimate(nil, usage.Float(70), "FRA", 100, 0.5)
	if fp.KWh.Min == nil {
		t.Fatal("KWh.Min absent, want estimate from total params")
	}
	want := 100 * 70 * energyPerTokenPerBParamLow
	if !almostEqual(*fp.KWh.Min, want) {
		t.Errorf("KWh.Min = %v, want %v", *fp.KWh.Min, want)
	}
}

// TestEstimateZeroTokens verifies that an empty exchange produces no bounds.
func TestEstimateZeroTokens(t *testing.T) {
	e := New()

	fp := e.Estimate(usage.Float(8), nil, "FRA", 0, 0.5)
	if fp != (usage.CarbonFootprint{}) {
		t.Errorf("footprint = %+v, want empty", fp)
	}
}

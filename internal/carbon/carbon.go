// Package carbon estimates the environmental footprint of a completed model
// exchange from the model's parameter counts and deployment zone.
//
// The estimate is deliberately a range: server-side details (quantization,
// batching, hardware) are unknown, so each bound is computed from a low and a
// high per-parameter energy coefficient. When the model size is unknown no
// bound can be produced at all and the result stays empty — absent bounds are
// never reported as zero.
package carbon

import "github.com/nulpointcorp/inference-gateway/internal/usage"

// Estimator produces a footprint estimate for one exchange.
// tokenCount is the exchange's total token count; latency is the end-to-end
// request latency in seconds.
type Estimator interface {
	Estimate(activeParams, totalParams *float64, zone string, tokenCount int, latency float64) usage.CarbonFootprint
}

// Per-active-parameter energy coefficients, in kWh per token per billion
// parameters. The spread covers efficient batched serving (low) up to
// single-request decoding on underutilized hardware (high).
const (
	energyPerTokenPerBParamLow  = 2.0e-7
	energyPerTokenPerBParamHigh = 8.0e-7

	// Overhead share for non-GPU consumption (CPU, RAM, cooling amortized
	// into PUE). Applied multiplicatively to the high bound only.
	datacenterOverhead = 1.2
)

// zoneIntensity maps an electricity-grid zone code to its carbon intensity in
// kgCO2eq per kWh. Sourced from yearly grid averages.
var zoneIntensity = map[string]float64{
	"WOR": 0.481, // world average, used when the zone is unknown but set
	"FRA": 0.056,
	"DEU": 0.380,
	"USA": 0.369,
	"GBR": 0.231,
	"SWE": 0.041,
	"POL": 0.662,
	"CHN": 0.582,
}

// ParamsEstimator is the default Estimator. It needs at least the model's
// active parameter count (in billions) to produce energy bounds, and a known
// zone to convert energy into CO2 equivalent.
type ParamsEstimator struct{}

// New returns the default parameter-count based estimator.
func New() *ParamsEstimator { return &ParamsEstimator{} }

// Estimate implements Estimator. Bounds are filled independently: with a
// known parameter count but an unknown zone the kWh bounds are set and the
// kgCO2eq bounds stay absent.
func (e *ParamsEstimator) Estimate(activeParams, totalParams *float64, zone string, tokenCount int, latency float64) usage.CarbonFootprint {
	var fp usage.CarbonFootprint

	params := activeParams
	if params == nil {
		params = totalParams
	}
	if params == nil || tokenCount <= 0 {
		return fp
	}

	kwhMin := float64(tokenCount) * *params * energyPerTokenPerBParamLow
	kwhMax := float64(tokenCount) * *params * energyPerTokenPerBParamHigh * datacenterOverhead
	fp.KWh.Min = usage.Float(kwhMin)
	fp.KWh.Max = usage.Float(kwhMax)

	intensity, ok := zoneIntensity[zone]
	if !ok {
		return fp
	}
	fp.KgCO2eq.Min = usage.Float(kwhMin * intensity)
	fp.KgCO2eq.Max = usage.Float(kwhMax * intensity)

	return fp
}

// SPDX-License-Identifier: Apache-2.0

package pipeline

import "math"

// Derived measurement names. They live in the same namespace as dictionary
// measurements so they publish and announce through the same path.
const (
	HeatOutputName = "NASA_EHSSENTINEL_HEAT_OUTPUT"
	COPName        = "NASA_EHSSENTINEL_COP"
	TotalCOPName   = "NASA_EHSSENTINEL_TOTAL_COP"
)

// derivedRule computes one synthetic reading from previously observed
// numeric values. A rule fires only when at least one input was refreshed by
// the current packet and every input has been observed at least once; the
// result is dropped (not clamped) outside the open interval (min, max).
type derivedRule struct {
	name    string
	unit    string
	inputs  []string
	min     float64
	max     float64
	compute func(v map[string]float64) float64
}

// Rules are evaluated in order, so the heat output can feed the COP within
// the same cycle.
var derivedRules = []derivedRule{
	{
		name:   HeatOutputName,
		unit:   "W",
		inputs: []string{"NASA_OUTDOOR_TW2_TEMP", "NASA_OUTDOOR_TW1_TEMP", "VAR_IN_FLOW_SENSOR_CALC"},
		min:    0,
		max:    15000,
		compute: func(v map[string]float64) float64 {
			// Q = ΔT × flow × specific heat capacity of water.
			return math.Abs((v["NASA_OUTDOOR_TW2_TEMP"] - v["NASA_OUTDOOR_TW1_TEMP"]) *
				(v["VAR_IN_FLOW_SENSOR_CALC"] / 60) * 4190)
		},
	},
	{
		name:   COPName,
		inputs: []string{HeatOutputName, "NASA_OUTDOOR_CONTROL_WATTMETER_ALL_UNIT"},
		min:    0,
		max:    20,
		compute: func(v map[string]float64) float64 {
			return v[HeatOutputName] / (v["NASA_OUTDOOR_CONTROL_WATTMETER_ALL_UNIT"] * 1000)
		},
	},
	{
		name:   TotalCOPName,
		inputs: []string{"LVAR_IN_TOTAL_GENERATED_POWER", "NASA_OUTDOOR_CONTROL_WATTMETER_ALL_UNIT_ACCUM"},
		min:    0,
		max:    20,
		compute: func(v map[string]float64) float64 {
			return v["LVAR_IN_TOTAL_GENERATED_POWER"] / v["NASA_OUTDOOR_CONTROL_WATTMETER_ALL_UNIT_ACCUM"]
		},
	},
}

// evaluate runs the rule against the value store. ok is false when the rule
// did not fire or the result fell outside the valid range.
func (r derivedRule) evaluate(values map[string]float64, updated map[string]bool) (float64, bool) {
	fresh := false
	for _, in := range r.inputs {
		if updated[in] {
			fresh = true
		}
		if _, seen := values[in]; !seen {
			return 0, false
		}
	}
	if !fresh {
		return 0, false
	}
	v := r.compute(values)
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= r.min || v >= r.max {
		return 0, false
	}
	return v, true
}

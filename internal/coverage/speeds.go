// Package coverage derives facility service radii from travel-time budgets
// using a constant-speed approximation.
package coverage

import "github.com/sells-group/coverage-map/internal/model"

// DefaultMode is the speed-table key used when no transport mode applies.
const DefaultMode = "default"

// GlobalDefaultSpeedKmh applies to facility types missing from the table.
const GlobalDefaultSpeedKmh = 15.0

// SpeedTable maps facility type -> transport mode -> speed in km/h. Every
// type entry should carry a DefaultMode key.
type SpeedTable map[model.FacilityType]map[string]float64

// DefaultSpeeds returns the built-in speed assumptions.
func DefaultSpeeds() SpeedTable {
	return SpeedTable{
		model.FacilityTypeSchool: {
			DefaultMode:  4,
			"pedestrian": 4,
			"cycling":    12,
			"transit":    20,
		},
		model.FacilityTypeHospital: {
			DefaultMode: 40,
			"ambulance": 40,
			"emergency": 50,
			"car":       30,
		},
		model.FacilityTypePolyclinic: {
			DefaultMode:  5,
			"pedestrian": 5,
			"transit":    20,
			"car":        30,
		},
		model.FacilityTypeClinic: {
			DefaultMode:  4,
			"pedestrian": 4,
			"transit":    20,
		},
		model.FacilityTypeFireStation: {
			DefaultMode: 25,
			"emergency": 25,
		},
		model.FacilityTypePoliceStation: {
			DefaultMode: 30,
			"emergency": 35,
			"patrol":    20,
		},
		model.FacilityTypePostOffice: {
			DefaultMode:  4,
			"pedestrian": 4,
			"cycling":    12,
		},
	}
}

// Clone returns a deep copy of the table.
func (t SpeedTable) Clone() SpeedTable {
	out := make(SpeedTable, len(t))
	for ft, modes := range t {
		m := make(map[string]float64, len(modes))
		for k, v := range modes {
			m[k] = v
		}
		out[ft] = m
	}
	return out
}

// Merge overlays override onto a copy of t. Modes present in override
// replace the matching modes in t; others are kept.
func (t SpeedTable) Merge(override SpeedTable) SpeedTable {
	out := t.Clone()
	for ft, modes := range override {
		dst, ok := out[ft]
		if !ok {
			dst = make(map[string]float64, len(modes))
			out[ft] = dst
		}
		for k, v := range modes {
			dst[k] = v
		}
	}
	return out
}

// Modes returns the transport modes configured for ft, default excluded.
func (t SpeedTable) Modes(ft model.FacilityType) []string {
	var modes []string
	for k := range t[ft] {
		if k != DefaultMode {
			modes = append(modes, k)
		}
	}
	return modes
}

package model

import (
	"encoding/json"
	"math"
)

// HeatPoint is one population grid cell with a normalized 0-1 intensity.
type HeatPoint struct {
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	Intensity float64 `json:"intensity"`
}

// Valid reports whether the cell can be drawn.
func (h HeatPoint) Valid() bool {
	return LatLng{Lat: h.Lat, Lon: h.Lon}.Valid() && !math.IsNaN(h.Intensity) && !math.IsInf(h.Intensity, 0)
}

// UnmarshalJSON decodes the wire form [lat, lon, intensity]. Malformed cells
// decode to NaN so Valid reports false.
func (h *HeatPoint) UnmarshalJSON(b []byte) error {
	var raw []float64
	if err := json.Unmarshal(b, &raw); err != nil || len(raw) != 3 {
		*h = HeatPoint{Lat: math.NaN(), Lon: math.NaN()}
		return nil
	}
	*h = HeatPoint{Lat: raw[0], Lon: raw[1], Intensity: raw[2]}
	return nil
}

// MarshalJSON encodes the point as [lat, lon, intensity].
func (h HeatPoint) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]float64{h.Lat, h.Lon, h.Intensity})
}

// DistrictSummary aggregates population for one district.
type DistrictSummary struct {
	District            string      `json:"district"`
	EstimatedPopulation int         `json:"estimated_population"`
	NumBuildings        int         `json:"num_buildings"`
	Center              Coordinates `json:"coordinates"`
}

// PopulationEstimate is the population endpoint payload.
type PopulationEstimate struct {
	HeatmapData     []HeatPoint       `json:"heatmapData"`
	Districts       []DistrictSummary `json:"districts"`
	TotalPopulation int               `json:"totalPopulation"`
	TotalBuildings  int               `json:"totalBuildings"`
}

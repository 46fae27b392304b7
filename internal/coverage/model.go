package coverage

import (
	"math"

	"go.uber.org/zap"

	"github.com/sells-group/coverage-map/internal/model"
)

// Zone is a derived, never persisted, coverage circle for one facility.
type Zone struct {
	Center            model.LatLng       `json:"center"`
	RadiusMeters      float64            `json:"radius_m"`
	FacilityType      model.FacilityType `json:"facility_type"`
	TravelTimeMinutes float64            `json:"travel_time_minutes"`
}

// Model computes coverage radii from a speed table. The zero value is not
// usable; construct with New.
type Model struct {
	speeds        SpeedTable
	fallbackSpeed float64
}

// Option configures a Model.
type Option func(*Model)

// WithFallbackSpeed overrides the speed used for unknown facility types.
func WithFallbackSpeed(kmh float64) Option {
	return func(m *Model) {
		if kmh > 0 {
			m.fallbackSpeed = kmh
		}
	}
}

// New creates a Model. A nil table means DefaultSpeeds.
func New(speeds SpeedTable, opts ...Option) *Model {
	if speeds == nil {
		speeds = DefaultSpeeds()
	}
	m := &Model{
		speeds:        speeds.Clone(),
		fallbackSpeed: GlobalDefaultSpeedKmh,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Speed returns the assumed speed in km/h for a facility type and mode.
// Unknown or empty modes fall back to the type default; unknown types fall
// back to the global default.
func (m *Model) Speed(ft model.FacilityType, mode string) float64 {
	modes, ok := m.speeds[ft]
	if !ok {
		zap.L().Debug("coverage: unknown facility type, using global default speed",
			zap.String("facility_type", string(ft)),
			zap.Float64("speed_kmh", m.fallbackSpeed),
		)
		return m.fallbackSpeed
	}
	if mode != "" {
		if v, ok := modes[mode]; ok {
			return v
		}
	}
	if v, ok := modes[DefaultMode]; ok {
		return v
	}
	return m.fallbackSpeed
}

// RadiusMeters returns the distance covered in travelTimeMinutes at the
// assumed speed. The result is not rounded. Non-positive or non-finite
// travel times yield 0.
func (m *Model) RadiusMeters(travelTimeMinutes float64, ft model.FacilityType, mode string) float64 {
	if !(travelTimeMinutes > 0) || math.IsInf(travelTimeMinutes, 0) {
		return 0
	}
	distanceKm := m.Speed(ft, mode) * travelTimeMinutes / 60
	return distanceKm * 1000
}

// ZoneFor builds the coverage zone for a facility. It reports false when the
// facility has no drawable coordinates.
func (m *Model) ZoneFor(f model.Facility, travelTimeMinutes float64, mode string) (Zone, bool) {
	center, ok := f.Coordinates.LatLng()
	if !ok {
		return Zone{}, false
	}
	return Zone{
		Center:            center,
		RadiusMeters:      m.RadiusMeters(travelTimeMinutes, f.Type, mode),
		FacilityType:      f.Type,
		TravelTimeMinutes: travelTimeMinutes,
	}, true
}

// Table returns a copy of the configured speeds.
func (m *Model) Table() SpeedTable {
	return m.speeds.Clone()
}

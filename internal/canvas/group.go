// Package canvas describes the map widget capability the layer engine
// drives, and ships a headless in-memory implementation.
package canvas

import (
	"math"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/coverage-map/internal/actions"
	"github.com/sells-group/coverage-map/internal/model"
)

// ErrInvalidGeometry is returned when a drawable has unusable geometry.
var ErrInvalidGeometry = eris.New("canvas: invalid geometry")

// MarkerKind distinguishes marker styles.
type MarkerKind string

const (
	MarkerFacility       MarkerKind = "facility"
	MarkerRecommendation MarkerKind = "recommendation"
	MarkerDistrict       MarkerKind = "district"
)

// Marker is a point drawable with popup content.
type Marker struct {
	ID       model.ID         `json:"id"`
	Kind     MarkerKind       `json:"kind"`
	Type     string           `json:"type,omitempty"`
	Position model.LatLng     `json:"position"`
	Label    string           `json:"label"`
	Detail   string           `json:"detail,omitempty"`
	Priority model.Priority   `json:"priority,omitempty"`
	Actions  []actions.Action `json:"actions,omitempty"`
}

// Circle is a coverage circle.
type Circle struct {
	ID            model.ID           `json:"id"`
	Center        model.LatLng       `json:"center"`
	RadiusMeters  float64            `json:"radius_m"`
	FacilityType  model.FacilityType `json:"facility_type"`
	TravelMinutes float64            `json:"travel_minutes"`
	Label         string             `json:"label,omitempty"`
	Selected      bool               `json:"selected,omitempty"`
}

// Group is a batch of drawables mounted and unmounted as one unit.
type Group struct {
	ID      uuid.UUID
	Name    string
	Markers []Marker
	Circles []Circle
	Heat    []model.HeatPoint

	release  []func()
	released bool
}

// NewGroup creates an empty group with a fresh handle.
func NewGroup(name string) *Group {
	return &Group{ID: uuid.New(), Name: name}
}

// AddMarker appends m, rejecting invalid positions.
func (g *Group) AddMarker(m Marker) error {
	if !m.Position.Valid() {
		return eris.Wrapf(ErrInvalidGeometry, "marker %s", m.ID)
	}
	g.Markers = append(g.Markers, m)
	return nil
}

// AddCircle appends c, rejecting invalid centers and radii.
func (g *Group) AddCircle(c Circle) error {
	if !c.Center.Valid() || math.IsNaN(c.RadiusMeters) || math.IsInf(c.RadiusMeters, 0) || c.RadiusMeters < 0 {
		return eris.Wrapf(ErrInvalidGeometry, "circle %s", c.ID)
	}
	g.Circles = append(g.Circles, c)
	return nil
}

// AddHeat appends a heat point, rejecting invalid cells.
func (g *Group) AddHeat(p model.HeatPoint) error {
	if !p.Valid() {
		return eris.Wrapf(ErrInvalidGeometry, "heat point (%v, %v)", p.Lat, p.Lon)
	}
	g.Heat = append(g.Heat, p)
	return nil
}

// Len returns the number of drawables in the group.
func (g *Group) Len() int {
	if g == nil {
		return 0
	}
	return len(g.Markers) + len(g.Circles) + len(g.Heat)
}

// Empty reports whether the group has nothing to draw.
func (g *Group) Empty() bool {
	return g.Len() == 0
}

// OnRelease registers a hook run when the group is unmounted.
func (g *Group) OnRelease(fn func()) {
	g.release = append(g.release, fn)
}

// Release runs the release hooks once.
func (g *Group) Release() {
	if g == nil || g.released {
		return
	}
	g.released = true
	for _, fn := range g.release {
		fn()
	}
	g.release = nil
}

// Released reports whether Release has run.
func (g *Group) Released() bool {
	return g.released
}

package mapsync

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/sells-group/coverage-map/internal/actions"
	"github.com/sells-group/coverage-map/internal/canvas"
	"github.com/sells-group/coverage-map/internal/layers"
	"github.com/sells-group/coverage-map/internal/model"
)

// rebuild recomputes one category from current state and commits it.
// Callers hold s.mu.
func (s *Synchronizer) rebuild(cat layers.Category) {
	var g *canvas.Group
	switch cat {
	case layers.Facilities:
		g = s.buildFacilities()
	case layers.Coverage:
		g = s.buildCoverage()
	case layers.IndividualCoverage:
		g = s.buildIndividualCoverage()
	case layers.Recommendations:
		g = s.buildRecommendations()
	case layers.Heatmap:
		g = s.buildHeatmap()
	case layers.Districts:
		g = s.buildDistricts()
	}
	s.commit(cat, g)
}

func (s *Synchronizer) commit(cat layers.Category, g *canvas.Group) {
	err := s.registry.Replace(cat, g)
	switch {
	case err == nil:
		delete(s.deferred, cat)
	case errors.Is(err, layers.ErrCanvasUnavailable):
		s.deferred[cat] = true
		zap.L().Debug("mapsync: canvas unavailable, rebuild deferred", zap.Stringer("category", cat))
	default:
		zap.L().Error("mapsync: commit layer", zap.Stringer("category", cat), zap.Error(err))
	}
}

// visibleFacilities returns filtered facilities with drawable coordinates,
// logging the ones skipped for bad geometry.
func (s *Synchronizer) visibleFacilities(cat layers.Category) []model.Facility {
	out := make([]model.Facility, 0, len(s.facilities))
	for _, f := range s.facilities {
		if !s.matcher.Facility(s.filter, f) {
			continue
		}
		if !f.Coordinates.Valid() {
			skipInvalid(cat, f.ID)
			continue
		}
		out = append(out, f)
	}
	return out
}

func (s *Synchronizer) buildFacilities() *canvas.Group {
	if !s.visible[ToggleFacilities] {
		return nil
	}
	g := canvas.NewGroup(layers.Facilities.String())
	for _, f := range s.visibleFacilities(layers.Facilities) {
		pos, _ := f.Coordinates.LatLng()
		m := canvas.Marker{
			ID:       f.ID,
			Kind:     canvas.MarkerFacility,
			Type:     string(f.Type),
			Position: pos,
			Label:    f.Label(),
			Detail:   facilityDetail(f),
			Actions: []actions.Action{
				actions.ShowDetails(f.ID),
				actions.ToggleCoverage(f.ID),
				actions.Highlight(f.ID),
			},
		}
		if err := g.AddMarker(m); err != nil {
			skipInvalid(layers.Facilities, f.ID)
		}
	}
	return g
}

func (s *Synchronizer) buildCoverage() *canvas.Group {
	if !s.visible[ToggleFacilities] || !s.visible[ToggleCoverageZones] {
		return nil
	}
	g := canvas.NewGroup(layers.Coverage.String())
	for _, f := range s.visibleFacilities(layers.Coverage) {
		zone, ok := s.coverage.ZoneFor(f, s.travel, s.settings.TransportMode)
		if !ok {
			skipInvalid(layers.Coverage, f.ID)
			continue
		}
		c := canvas.Circle{
			ID:            f.ID,
			Center:        zone.Center,
			RadiusMeters:  zone.RadiusMeters,
			FacilityType:  f.Type,
			TravelMinutes: s.travel,
		}
		if err := g.AddCircle(c); err != nil {
			skipInvalid(layers.Coverage, f.ID)
		}
	}
	return g
}

func (s *Synchronizer) buildIndividualCoverage() *canvas.Group {
	id, ok := s.selection.Selected()
	if !ok {
		return nil
	}
	f, ok := s.facility(id)
	if !ok {
		zap.L().Info("mapsync: selected facility no longer listed", zap.String("id", string(id)))
		return nil
	}
	zone, ok := s.coverage.ZoneFor(f, s.travel, s.settings.TransportMode)
	if !ok {
		skipInvalid(layers.IndividualCoverage, f.ID)
		return nil
	}

	g := canvas.NewGroup(layers.IndividualCoverage.String())
	err := g.AddCircle(canvas.Circle{
		ID:            f.ID,
		Center:        zone.Center,
		RadiusMeters:  zone.RadiusMeters,
		FacilityType:  f.Type,
		TravelMinutes: s.travel,
		Label:         coverageLabel(f, zone.RadiusMeters, s.travel),
		Selected:      true,
	})
	if err != nil {
		skipInvalid(layers.IndividualCoverage, f.ID)
		return nil
	}
	return g
}

func (s *Synchronizer) buildRecommendations() *canvas.Group {
	if !s.visible[ToggleRecommendations] {
		return nil
	}
	g := canvas.NewGroup(layers.Recommendations.String())
	for _, r := range s.recommendations {
		if !s.matcher.Recommendation(s.filter, r) {
			continue
		}
		pos, ok := r.Coordinates.LatLng()
		if !ok {
			skipInvalid(layers.Recommendations, r.ID)
			continue
		}
		m := canvas.Marker{
			ID:       r.ID,
			Kind:     canvas.MarkerRecommendation,
			Type:     r.EffectiveType(),
			Position: pos,
			Label:    recommendationLabel(r),
			Detail:   recommendationDetail(r),
			Priority: r.Priority,
		}
		if err := g.AddMarker(m); err != nil {
			skipInvalid(layers.Recommendations, r.ID)
		}
	}
	return g
}

func (s *Synchronizer) buildHeatmap() *canvas.Group {
	if !s.visible[TogglePopulation] {
		return nil
	}
	g := canvas.NewGroup(layers.Heatmap.String())
	var skipped int
	for _, p := range s.grid {
		p.Intensity = RemapIntensity(p.Intensity, s.settings.HeatmapScale, s.settings.HeatmapCeiling)
		if err := g.AddHeat(p); err != nil {
			skipped++
		}
	}
	if skipped > 0 {
		zap.L().Warn("mapsync: skipped invalid heatmap cells", zap.Int("skipped", skipped))
	}
	return g
}

func (s *Synchronizer) buildDistricts() *canvas.Group {
	if !s.visible[TogglePopulation] || len(s.districts) == 0 {
		return nil
	}
	g := canvas.NewGroup(layers.Districts.String())
	for _, d := range s.districts {
		pos, ok := d.Center.LatLng()
		if !ok {
			skipInvalid(layers.Districts, model.ID(d.District))
			continue
		}
		m := canvas.Marker{
			ID:       model.ID(d.District),
			Kind:     canvas.MarkerDistrict,
			Position: pos,
			Label:    d.District,
			Detail:   fmt.Sprintf("Population: %d, buildings: %d", d.EstimatedPopulation, d.NumBuildings),
		}
		if err := g.AddMarker(m); err != nil {
			skipInvalid(layers.Districts, m.ID)
		}
	}
	return g
}

// RemapIntensity scales a 0-1 population intensity for display and caps it
// at ceiling. Negative or non-finite values map to 0.
func RemapIntensity(v, scale, ceiling float64) float64 {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	v *= scale
	if v > ceiling {
		return ceiling
	}
	return v
}

func skipInvalid(cat layers.Category, id model.ID) {
	zap.L().Warn("mapsync: skipping record with invalid coordinates",
		zap.Stringer("category", cat),
		zap.String("id", string(id)),
	)
}

func facilityDetail(f model.Facility) string {
	if f.Address == "" {
		return f.Type.DisplayName()
	}
	return f.Type.DisplayName() + ", " + f.Address
}

func coverageLabel(f model.Facility, radiusMeters, minutes float64) string {
	return fmt.Sprintf("%s: %.1f km in %g min", f.Label(), radiusMeters/1000, minutes)
}

func recommendationLabel(r model.Recommendation) string {
	kind := "New facility"
	if r.IsGapZone() {
		kind = "Gap zone"
	}
	return fmt.Sprintf("%s: %s", kind, r.EffectiveType())
}

func recommendationDetail(r model.Recommendation) string {
	d := fmt.Sprintf("Priority: %s, score: %.2f, estimated coverage: %d", r.Priority, r.Score, r.EstimatedCoverage)
	if r.District != "" {
		d += ", district: " + r.District
	}
	return d
}

package canvas

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/geojson"

	"github.com/sells-group/coverage-map/internal/model"
)

// circleSegments is the vertex count of exported circle rings.
const circleSegments = 64

// GeoJSON exports a group as a FeatureCollection. Circles become geodesic
// polygons so any GeoJSON viewer can draw them.
func GeoJSON(g *Group) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	if g == nil {
		return fc
	}

	for _, m := range g.Markers {
		f := geojson.NewFeature(toPoint(m.Position))
		f.ID = string(m.ID)
		f.Properties["kind"] = string(m.Kind)
		f.Properties["label"] = m.Label
		if m.Type != "" {
			f.Properties["type"] = m.Type
		}
		if m.Detail != "" {
			f.Properties["detail"] = m.Detail
		}
		if m.Priority != "" {
			f.Properties["priority"] = string(m.Priority)
		}
		if len(m.Actions) > 0 {
			f.Properties["actions"] = m.Actions
		}
		fc.Append(f)
	}

	for _, c := range g.Circles {
		f := geojson.NewFeature(CircleRing(c.Center, c.RadiusMeters, circleSegments))
		f.ID = string(c.ID)
		f.Properties["kind"] = "coverage"
		f.Properties["facility_type"] = string(c.FacilityType)
		f.Properties["radius_m"] = c.RadiusMeters
		f.Properties["travel_minutes"] = c.TravelMinutes
		if c.Label != "" {
			f.Properties["label"] = c.Label
		}
		if c.Selected {
			f.Properties["selected"] = true
		}
		fc.Append(f)
	}

	for _, h := range g.Heat {
		f := geojson.NewFeature(orb.Point{h.Lon, h.Lat})
		f.Properties["kind"] = "heat"
		f.Properties["intensity"] = h.Intensity
		fc.Append(f)
	}

	return fc
}

// CircleRing approximates a circle of radiusMeters around center.
func CircleRing(center model.LatLng, radiusMeters float64, segments int) orb.Polygon {
	if segments < 3 {
		segments = 3
	}
	c := toPoint(center)
	ring := make(orb.Ring, 0, segments+1)
	for i := 0; i < segments; i++ {
		bearing := 360.0 * float64(i) / float64(segments)
		ring = append(ring, geo.PointAtBearingAndDistance(c, bearing, radiusMeters))
	}
	ring = append(ring, ring[0])
	return orb.Polygon{ring}
}

func toPoint(p model.LatLng) orb.Point {
	return orb.Point{p.Lon, p.Lat}
}

package canvas

import (
	"time"

	"github.com/sells-group/coverage-map/internal/model"
)

// View is the current map center and zoom.
type View struct {
	Center model.LatLng `json:"center"`
	Zoom   int          `json:"zoom"`
}

// Highlight is a transient ring drawn around a point.
type Highlight struct {
	Center       model.LatLng `json:"center"`
	RadiusMeters float64      `json:"radius_m"`
	ExpiresAt    time.Time    `json:"expires_at"`
}

// Canvas is the map widget capability: tile loading, pan/zoom, and drawing
// primitives live behind it.
type Canvas interface {
	// Ready reports whether the widget exists and can accept drawables.
	Ready() bool

	// Attach draws a group.
	Attach(g *Group) error

	// Detach removes a previously attached group. Unknown groups are ignored.
	Detach(g *Group)

	// View returns the current center and zoom.
	View() View

	// SetView moves the map.
	SetView(center model.LatLng, zoom int)

	// Flash draws a highlight ring that disappears after ttl.
	Flash(center model.LatLng, radiusMeters float64, ttl time.Duration)
}

package store

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"

	"github.com/sells-group/coverage-map/internal/model"
)

const srid = 4326

// EncodePoint converts coordinates to EWKB with SRID 4326. Invalid
// coordinates encode as nil so the column stays NULL.
func EncodePoint(c model.Coordinates) ([]byte, error) {
	p, ok := c.LatLng()
	if !ok {
		return nil, nil
	}
	g := geom.NewPointFlat(geom.XY, []float64{p.Lon, p.Lat}).SetSRID(srid)
	data, err := ewkb.Marshal(g, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "store: encode point")
	}
	return data, nil
}

// DecodePoint reads an EWKB point. NULL, non-point or out-of-range
// geometry decodes to invalid coordinates rather than an error, matching how
// the API source treats a null coordinate pair.
func DecodePoint(data []byte) model.Coordinates {
	if len(data) == 0 {
		return model.Coordinates{}
	}
	g, err := ewkb.Unmarshal(data)
	if err != nil {
		return model.Coordinates{}
	}
	p, ok := g.(*geom.Point)
	if !ok || p.Empty() {
		return model.Coordinates{}
	}
	return model.NewCoordinates(p.Y(), p.X())
}

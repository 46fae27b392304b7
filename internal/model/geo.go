package model

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// ID is the canonical record identifier. Upstream sources send ids as
// numbers or strings; both decode to the same ID so comparisons downstream
// are plain equality.
type ID string

// UnmarshalJSON accepts a JSON string or number.
func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = NormalizeID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = NormalizeID(n.String())
	return nil
}

// NormalizeID trims the raw id and collapses integral numeric forms
// ("7", "7.0", "007") into one representation.
func NormalizeID(raw string) ID {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ID(strconv.FormatInt(n, 10))
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return ID(strconv.FormatInt(int64(f), 10))
	}
	return ID(s)
}

// LatLng is a WGS84 position.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Valid reports whether the position is finite and inside WGS84 bounds.
func (p LatLng) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lon) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lon, 0) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

// Coordinates is a [lat, lon] pair that may be absent or malformed.
// Decoding never fails on bad geometry; the value is just marked invalid so
// one broken record does not reject a whole list.
type Coordinates struct {
	pos   LatLng
	valid bool
}

// NewCoordinates builds Coordinates, validating the position.
func NewCoordinates(lat, lon float64) Coordinates {
	p := LatLng{Lat: lat, Lon: lon}
	return Coordinates{pos: p, valid: p.Valid()}
}

// LatLng returns the position and whether it is usable for drawing.
func (c Coordinates) LatLng() (LatLng, bool) {
	return c.pos, c.valid
}

// Valid reports whether the coordinates can be drawn.
func (c Coordinates) Valid() bool {
	return c.valid
}

// UnmarshalJSON decodes [lat, lon]. Anything else yields invalid coordinates.
func (c *Coordinates) UnmarshalJSON(b []byte) error {
	*c = Coordinates{}
	var raw []json.Number
	if err := json.Unmarshal(b, &raw); err != nil || len(raw) != 2 {
		return nil
	}
	lat, err := raw[0].Float64()
	if err != nil {
		return nil
	}
	lon, err := raw[1].Float64()
	if err != nil {
		return nil
	}
	*c = NewCoordinates(lat, lon)
	return nil
}

// MarshalJSON encodes valid coordinates as [lat, lon] and invalid ones as null.
func (c Coordinates) MarshalJSON() ([]byte, error) {
	if !c.valid {
		return []byte("null"), nil
	}
	return json.Marshal([2]float64{c.pos.Lat, c.pos.Lon})
}

// Package layers owns the mapping from layer category to the single group
// currently mounted on the canvas for it.
package layers

import "github.com/rotisserie/eris"

// Category is one of the fixed map overlays.
type Category int

const (
	Facilities Category = iota
	Coverage
	IndividualCoverage
	Recommendations
	Heatmap
	Districts
)

// Categories lists every category in rebuild order.
var Categories = []Category{
	Facilities,
	Coverage,
	IndividualCoverage,
	Recommendations,
	Heatmap,
	Districts,
}

var categoryNames = map[Category]string{
	Facilities:         "facilities",
	Coverage:           "coverage",
	IndividualCoverage: "individualCoverage",
	Recommendations:    "recommendations",
	Heatmap:            "heatmap",
	Districts:          "districts",
}

func (c Category) String() string {
	if name, ok := categoryNames[c]; ok {
		return name
	}
	return "unknown"
}

// ParseCategory resolves a category name.
func ParseCategory(name string) (Category, error) {
	for c, n := range categoryNames {
		if n == name {
			return c, nil
		}
	}
	return 0, eris.Errorf("layers: unknown category %q", name)
}

// MarshalText encodes the category name.
func (c Category) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText decodes a category name.
func (c *Category) UnmarshalText(b []byte) error {
	parsed, err := ParseCategory(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

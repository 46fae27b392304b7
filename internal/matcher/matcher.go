// Package matcher decides whether facilities and recommendations pass the
// operator's facility-type filter.
package matcher

import (
	"go.uber.org/zap"

	"github.com/sells-group/coverage-map/internal/model"
)

// Policy holds the explicit tables used for gap-zone recommendations.
type Policy struct {
	// GapAliases maps a gap-zone subtype to the base facility type it
	// represents, e.g. school_gap -> school.
	GapAliases map[string]model.FacilityType

	// Adjacent lists extra filters a gap subtype also satisfies. A generic
	// medical gap (clinic_gap) is relevant to every medical facility filter.
	Adjacent map[string][]model.FacilityType
}

// DefaultMedicalAdjacent is the default set of filters a clinic gap also matches.
var DefaultMedicalAdjacent = []model.FacilityType{
	model.FacilityTypeHospital,
	model.FacilityTypePolyclinic,
}

// DefaultPolicy returns the built-in alias and adjacency tables.
func DefaultPolicy() Policy {
	aliases := make(map[string]model.FacilityType, len(model.FacilityTypes))
	for _, ft := range model.FacilityTypes {
		aliases[string(ft)+"_gap"] = ft
	}
	return Policy{
		GapAliases: aliases,
		Adjacent: map[string][]model.FacilityType{
			"clinic_gap": append([]model.FacilityType(nil), DefaultMedicalAdjacent...),
		},
	}
}

// WithMedicalAdjacent returns a copy of p whose clinic_gap adjacency set is
// replaced by filters.
func (p Policy) WithMedicalAdjacent(filters []string) Policy {
	out := p.clone()
	adj := make([]model.FacilityType, 0, len(filters))
	for _, f := range filters {
		adj = append(adj, model.FacilityType(f))
	}
	out.Adjacent["clinic_gap"] = adj
	return out
}

// WithAliases returns a copy of p with extra subtype aliases.
func (p Policy) WithAliases(aliases map[string]string) Policy {
	out := p.clone()
	for sub, base := range aliases {
		out.GapAliases[sub] = model.FacilityType(base)
	}
	return out
}

func (p Policy) clone() Policy {
	out := Policy{
		GapAliases: make(map[string]model.FacilityType, len(p.GapAliases)),
		Adjacent:   make(map[string][]model.FacilityType, len(p.Adjacent)),
	}
	for k, v := range p.GapAliases {
		out.GapAliases[k] = v
	}
	for k, v := range p.Adjacent {
		out.Adjacent[k] = append([]model.FacilityType(nil), v...)
	}
	return out
}

// Matcher applies the type filter.
type Matcher struct {
	policy Policy
}

// New creates a Matcher with the given policy.
func New(policy Policy) *Matcher {
	return &Matcher{policy: policy.clone()}
}

// Policy returns a copy of the matcher's policy tables.
func (m *Matcher) Policy() Policy {
	return m.policy.clone()
}

// Facility reports whether f passes filter.
func (m *Matcher) Facility(filter string, f model.Facility) bool {
	if filter == model.FilterAll {
		return true
	}
	return string(f.Type) == filter
}

// Recommendation reports whether r passes filter. Gap zones are resolved
// through the alias and adjacency tables, never by comparing the subtype
// with the filter directly.
func (m *Matcher) Recommendation(filter string, r model.Recommendation) bool {
	if filter == model.FilterAll {
		return true
	}
	typ := r.EffectiveType()
	if !r.IsGapZone() {
		return typ == filter
	}

	base, ok := m.policy.GapAliases[typ]
	if !ok {
		zap.L().Debug("matcher: unknown gap subtype",
			zap.String("id", string(r.ID)),
			zap.String("type", typ),
		)
		return false
	}
	if string(base) == filter {
		return true
	}
	for _, adj := range m.policy.Adjacent[typ] {
		if string(adj) == filter {
			return true
		}
	}
	return false
}

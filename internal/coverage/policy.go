package coverage

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/coverage-map/internal/model"
)

// Policy is the on-disk override for coverage and type-matching rules.
//
//	coverage_policy:
//	  speeds:
//	    school: {default: 5, cycling: 14}
//	  gap_aliases:
//	    library_gap: library
//	  medical_adjacent: [hospital, polyclinic]
type Policy struct {
	Speeds          map[string]map[string]float64 `yaml:"speeds"`
	GapAliases      map[string]string             `yaml:"gap_aliases"`
	MedicalAdjacent []string                      `yaml:"medical_adjacent"`
}

// LoadPolicy reads a policy YAML file.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "coverage: read policy %s", path)
	}

	var wrapper struct {
		Policy Policy `yaml:"coverage_policy"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "coverage: parse policy")
	}

	p := &wrapper.Policy
	for ft, modes := range p.Speeds {
		for mode, v := range modes {
			if v <= 0 {
				return nil, eris.Errorf("coverage: speed for %s/%s must be positive, got %v", ft, mode, v)
			}
		}
	}
	return p, nil
}

// SpeedTable converts the policy speeds into a table overlay.
func (p *Policy) SpeedTable() SpeedTable {
	if p == nil || len(p.Speeds) == 0 {
		return nil
	}
	out := make(SpeedTable, len(p.Speeds))
	for ft, modes := range p.Speeds {
		m := make(map[string]float64, len(modes))
		for k, v := range modes {
			m[k] = v
		}
		out[model.FacilityType(ft)] = m
	}
	return out
}

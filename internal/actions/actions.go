// Package actions declares the symbolic commands map popups expose. A popup
// lists actions; the click dispatcher resolves them against the current
// facility collection instead of looking up global callbacks.
package actions

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/coverage-map/internal/model"
)

// Kind names an action.
type Kind string

const (
	KindShowDetails    Kind = "show_details"
	KindToggleCoverage Kind = "toggle_coverage"
	KindHighlight      Kind = "highlight"
)

// Action is a command bound to a record id.
type Action struct {
	Kind   Kind     `json:"action"`
	Target model.ID `json:"id"`
}

// ShowDetails requests the details panel for a facility.
func ShowDetails(id model.ID) Action {
	return Action{Kind: KindShowDetails, Target: id}
}

// ToggleCoverage toggles a facility's individual coverage circle.
func ToggleCoverage(id model.ID) Action {
	return Action{Kind: KindToggleCoverage, Target: id}
}

// Highlight recenters on a facility and flashes a highlight ring.
func Highlight(id model.ID) Action {
	return Action{Kind: KindHighlight, Target: id}
}

// Validate checks the action kind and target.
func (a Action) Validate() error {
	switch a.Kind {
	case KindShowDetails, KindToggleCoverage, KindHighlight:
	default:
		return eris.Errorf("actions: unknown action %q", a.Kind)
	}
	if a.Target == "" {
		return eris.New("actions: missing target id")
	}
	return nil
}

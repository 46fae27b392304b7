// Package selection tracks which single facility has its individual
// coverage circle shown.
package selection

import "github.com/sells-group/coverage-map/internal/model"

// Transition describes the result of a toggle.
type Transition int

const (
	// Selected moved from Idle to Selected(id).
	Selected Transition = iota + 1
	// Switched moved from Selected(a) to Selected(b).
	Switched
	// Deselected moved from Selected(id) back to Idle.
	Deselected
)

func (t Transition) String() string {
	switch t {
	case Selected:
		return "selected"
	case Switched:
		return "switched"
	case Deselected:
		return "deselected"
	default:
		return "none"
	}
}

// Controller is a one-slot state machine: Idle or Selected(id). It only
// changes through Toggle; side effects belong to the caller.
type Controller struct {
	current model.ID
	active  bool
}

// Toggle applies the transition for id and returns it.
func (c *Controller) Toggle(id model.ID) Transition {
	switch {
	case c.active && c.current == id:
		c.current, c.active = "", false
		return Deselected
	case c.active:
		c.current = id
		return Switched
	default:
		c.current, c.active = id, true
		return Selected
	}
}

// Selected returns the selected id, if any.
func (c *Controller) Selected() (model.ID, bool) {
	return c.current, c.active
}

// IsSelected reports whether id is the current selection.
func (c *Controller) IsSelected(id model.ID) bool {
	return c.active && c.current == id
}

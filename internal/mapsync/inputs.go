package mapsync

import (
	"math"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/coverage-map/internal/actions"
	"github.com/sells-group/coverage-map/internal/layers"
	"github.com/sells-group/coverage-map/internal/model"
)

// Inputs are the operator inputs and reads. *Synchronizer implements it and
// applies each input before returning. Callbacks receive an implementation
// that queues behind the running update instead; a callback should raise
// inputs through it rather than through the Synchronizer.
type Inputs interface {
	SetTypeFilter(filter string)
	SetTravelTime(minutes float64) error
	SetToggle(t Toggle, on bool) error
	ToggleSelection(id model.ID)
	Highlight(id model.ID)
	HandleAction(a actions.Action) error
	State() State
	Facility(id model.ID) (model.Facility, bool)
}

// callbackInputs queues inputs raised by a callback at its generation.
type callbackInputs struct {
	s     *Synchronizer
	depth int
}

var (
	_ Inputs = (*Synchronizer)(nil)
	_ Inputs = (*callbackInputs)(nil)
)

func (c *callbackInputs) SetTypeFilter(filter string) {
	c.s.raise(c.depth, typeFilterEvent(filter))
}

func (c *callbackInputs) SetTravelTime(minutes float64) error {
	ev, err := travelTimeEvent(minutes)
	if err != nil {
		return err
	}
	c.s.raise(c.depth, ev)
	return nil
}

func (c *callbackInputs) SetToggle(t Toggle, on bool) error {
	ev, err := toggleEvent(t, on)
	if err != nil {
		return err
	}
	c.s.raise(c.depth, ev)
	return nil
}

func (c *callbackInputs) ToggleSelection(id model.ID) {
	c.s.raise(c.depth, selectionEvent(id))
}

func (c *callbackInputs) Highlight(id model.ID) {
	c.s.raise(c.depth, highlightEvent(id))
}

func (c *callbackInputs) HandleAction(a actions.Action) error {
	ev, err := actionEvent(a)
	if err != nil {
		return err
	}
	c.s.raise(c.depth, ev)
	return nil
}

func (c *callbackInputs) State() State {
	return c.s.State()
}

func (c *callbackInputs) Facility(id model.ID) (model.Facility, bool) {
	return c.s.Facility(id)
}

func typeFilterEvent(filter string) event {
	if filter == "" {
		filter = model.FilterAll
	}
	return func(s *Synchronizer, fx *effects) {
		s.filter = filter
		fx.dirty(layers.Facilities, layers.Coverage, layers.Recommendations)
	}
}

func travelTimeEvent(minutes float64) (event, error) {
	if !(minutes > 0) || math.IsInf(minutes, 0) {
		return nil, eris.Errorf("mapsync: travel time must be positive, got %v", minutes)
	}
	return func(s *Synchronizer, fx *effects) {
		s.travel = minutes
		fx.dirty(layers.Facilities, layers.Coverage, layers.IndividualCoverage)
	}, nil
}

func toggleEvent(t Toggle, on bool) (event, error) {
	if !t.Known() {
		return nil, eris.Errorf("mapsync: unknown toggle %q", t)
	}
	return func(s *Synchronizer, fx *effects) {
		changed := s.visible[t] != on
		s.visible[t] = on
		switch t {
		case ToggleFacilities, ToggleCoverageZones:
			fx.dirty(layers.Facilities, layers.Coverage)
		case ToggleRecommendations:
			fx.dirty(layers.Recommendations)
		case TogglePopulation:
			fx.dirty(layers.Heatmap)
			if changed {
				s.populationToggled(on, fx)
			}
		}
	}, nil
}

func selectionEvent(id model.ID) event {
	return func(s *Synchronizer, fx *effects) {
		s.toggleSelection(id, fx)
	}
}

func highlightEvent(id model.ID) event {
	return func(s *Synchronizer, _ *effects) {
		s.highlight(id)
	}
}

// actionEvent resolves a popup action against the facilities current when
// it is applied.
func actionEvent(a actions.Action) (event, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	switch a.Kind {
	case actions.KindToggleCoverage:
		return selectionEvent(a.Target), nil
	case actions.KindHighlight:
		return highlightEvent(a.Target), nil
	case actions.KindShowDetails:
		return showDetailsEvent(a.Target), nil
	}
	return nil, eris.Errorf("mapsync: unhandled action %q", a.Kind)
}

func showDetailsEvent(id model.ID) event {
	return func(s *Synchronizer, fx *effects) {
		f, ok := s.facility(id)
		if !ok {
			zap.L().Warn("mapsync: show details for unknown facility", zap.String("id", string(id)))
			return
		}
		if s.onSelect != nil {
			fx.after(func(in Inputs) { s.onSelect(in, f) })
		}
	}
}

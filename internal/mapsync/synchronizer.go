// Package mapsync keeps the map layers consistent with the facility,
// recommendation and population data and the operator's toggles.
package mapsync

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/coverage-map/internal/actions"
	"github.com/sells-group/coverage-map/internal/canvas"
	"github.com/sells-group/coverage-map/internal/coverage"
	"github.com/sells-group/coverage-map/internal/layers"
	"github.com/sells-group/coverage-map/internal/matcher"
	"github.com/sells-group/coverage-map/internal/model"
	"github.com/sells-group/coverage-map/internal/selection"
)

// Toggle names an operator visibility switch.
type Toggle string

const (
	ToggleFacilities      Toggle = "facilities"
	ToggleRecommendations Toggle = "recommendations"
	TogglePopulation      Toggle = "population"
	ToggleCoverageZones   Toggle = "coverage_zones"
)

// Toggles lists every known toggle.
var Toggles = []Toggle{ToggleFacilities, ToggleRecommendations, TogglePopulation, ToggleCoverageZones}

// DistrictLoader fetches the district summary asynchronously.
type DistrictLoader func(ctx context.Context) ([]model.DistrictSummary, error)

// Settings holds tunables for the synchronizer.
type Settings struct {
	TravelTimeMinutes     float64
	TypeFilter            string
	TransportMode         string
	SelectMinZoom         int
	HighlightRadiusMeters float64
	HighlightTTL          time.Duration
	HeatmapScale          float64
	HeatmapCeiling        float64
	Visible               map[Toggle]bool
	// MaxDepth caps how many generations of callbacks may re-trigger
	// updates, so handlers that keep triggering each other cannot loop
	// forever. Inputs from outside a callback are never dropped.
	MaxDepth int
}

// DefaultSettings returns the initial operator state.
func DefaultSettings() Settings {
	return Settings{
		TravelTimeMinutes:     15,
		TypeFilter:            model.FilterAll,
		SelectMinZoom:         14,
		HighlightRadiusMeters: 150,
		HighlightTTL:          3 * time.Second,
		HeatmapScale:          2,
		HeatmapCeiling:        1,
		Visible: map[Toggle]bool{
			ToggleFacilities:      true,
			ToggleRecommendations: true,
		},
		MaxDepth: 8,
	}
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithSettings overrides DefaultSettings. Zero fields keep their defaults.
func WithSettings(st Settings) Option {
	return func(s *Synchronizer) {
		d := s.settings
		if st.TravelTimeMinutes > 0 {
			d.TravelTimeMinutes = st.TravelTimeMinutes
		}
		if st.TypeFilter != "" {
			d.TypeFilter = st.TypeFilter
		}
		if st.TransportMode != "" {
			d.TransportMode = st.TransportMode
		}
		if st.SelectMinZoom > 0 {
			d.SelectMinZoom = st.SelectMinZoom
		}
		if st.HighlightRadiusMeters > 0 {
			d.HighlightRadiusMeters = st.HighlightRadiusMeters
		}
		if st.HighlightTTL > 0 {
			d.HighlightTTL = st.HighlightTTL
		}
		if st.HeatmapScale > 0 {
			d.HeatmapScale = st.HeatmapScale
		}
		if st.HeatmapCeiling > 0 {
			d.HeatmapCeiling = st.HeatmapCeiling
		}
		if st.Visible != nil {
			d.Visible = st.Visible
		}
		if st.MaxDepth > 0 {
			d.MaxDepth = st.MaxDepth
		}
		s.settings = d
	}
}

// WithDistrictLoader sets the async district summary source.
func WithDistrictLoader(fn DistrictLoader) Option {
	return func(s *Synchronizer) {
		s.loadDistricts = fn
	}
}

// WithFacilitySelected registers the details callback for show_details. It
// runs after the update that resolved the facility; inputs it raises through
// in are queued one generation deeper.
func WithFacilitySelected(fn func(in Inputs, f model.Facility)) Option {
	return func(s *Synchronizer) {
		s.onSelect = fn
	}
}

// Synchronizer rebuilds layer categories whenever their inputs change.
// Inputs may arrive from any goroutine; they are queued and applied one batch
// at a time so each rebuild sees the committed result of the previous one,
// and each input method returns once its update is applied.
type Synchronizer struct {
	registry      *layers.Registry
	canvas        canvas.Canvas
	coverage      *coverage.Model
	matcher       *matcher.Matcher
	settings      Settings
	loadDistricts DistrictLoader
	onSelect      func(Inputs, model.Facility)

	drainMu sync.Mutex
	qmu     sync.Mutex
	queue   []queued

	mu              sync.RWMutex
	facilities      []model.Facility
	facilityIndex   map[model.ID]int
	recommendations []model.Recommendation
	grid            []model.HeatPoint
	districts       []model.DistrictSummary
	filter          string
	travel          float64
	visible         map[Toggle]bool
	selection       selection.Controller
	deferred        map[layers.Category]bool

	districtToken    uint64
	districtInFlight bool
	districtRefetch  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Synchronizer drawing through registry onto c.
func New(registry *layers.Registry, c canvas.Canvas, cov *coverage.Model, m *matcher.Matcher, opts ...Option) *Synchronizer {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Synchronizer{
		registry:      registry,
		canvas:        c,
		coverage:      cov,
		matcher:       m,
		settings:      DefaultSettings(),
		facilityIndex: make(map[model.ID]int),
		deferred:      make(map[layers.Category]bool),
		ctx:           ctx,
		cancel:        cancel,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.filter = s.settings.TypeFilter
	s.travel = s.settings.TravelTimeMinutes
	s.visible = make(map[Toggle]bool, len(Toggles))
	for _, t := range Toggles {
		s.visible[t] = s.settings.Visible[t]
	}
	return s
}

// SetFacilities replaces the facility list.
func (s *Synchronizer) SetFacilities(facilities []model.Facility) {
	list := append([]model.Facility(nil), facilities...)
	s.dispatch(func(s *Synchronizer, fx *effects) {
		s.facilities = list
		s.facilityIndex = make(map[model.ID]int, len(list))
		for i, f := range list {
			s.facilityIndex[f.ID] = i
		}
		fx.dirty(layers.Facilities, layers.Coverage, layers.IndividualCoverage)
	})
}

// SetRecommendations replaces the recommendation list.
func (s *Synchronizer) SetRecommendations(recs []model.Recommendation) {
	list := append([]model.Recommendation(nil), recs...)
	s.dispatch(func(s *Synchronizer, fx *effects) {
		s.recommendations = list
		fx.dirty(layers.Recommendations)
	})
}

// SetPopulationGrid replaces the heatmap source grid.
func (s *Synchronizer) SetPopulationGrid(grid []model.HeatPoint) {
	list := append([]model.HeatPoint(nil), grid...)
	s.dispatch(func(s *Synchronizer, fx *effects) {
		s.grid = list
		fx.dirty(layers.Heatmap)
	})
}

// SetTypeFilter sets the facility-type filter. Empty means all.
func (s *Synchronizer) SetTypeFilter(filter string) {
	s.dispatch(typeFilterEvent(filter))
}

// SetTravelTime sets the travel-time budget in minutes.
func (s *Synchronizer) SetTravelTime(minutes float64) error {
	ev, err := travelTimeEvent(minutes)
	if err != nil {
		return err
	}
	s.dispatch(ev)
	return nil
}

// SetToggle switches a visibility toggle.
func (s *Synchronizer) SetToggle(t Toggle, on bool) error {
	ev, err := toggleEvent(t, on)
	if err != nil {
		return err
	}
	s.dispatch(ev)
	return nil
}

// ToggleSelection toggles the individual coverage circle for a facility.
func (s *Synchronizer) ToggleSelection(id model.ID) {
	s.dispatch(selectionEvent(id))
}

// Highlight recenters on a facility and flashes a transient ring. It does
// not touch the coverage layers.
func (s *Synchronizer) Highlight(id model.ID) {
	s.dispatch(highlightEvent(id))
}

// HandleAction resolves a popup action against the current facilities.
func (s *Synchronizer) HandleAction(a actions.Action) error {
	ev, err := actionEvent(a)
	if err != nil {
		return err
	}
	s.dispatch(ev)
	return nil
}

// Refresh rebuilds every category, e.g. once the canvas becomes ready.
func (s *Synchronizer) Refresh() {
	s.dispatch(func(s *Synchronizer, fx *effects) {
		fx.dirty(layers.Categories...)
	})
}

// Wait blocks until background district fetches have finished.
func (s *Synchronizer) Wait() {
	s.wg.Wait()
}

// Close cancels background fetches and waits for them.
func (s *Synchronizer) Close() {
	s.cancel()
	s.wg.Wait()
}

// Facility returns a facility by id.
func (s *Synchronizer) Facility(id model.ID) (model.Facility, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.facility(id)
}

// State is a read-only snapshot of operator inputs.
type State struct {
	TypeFilter        string          `json:"type_filter"`
	TravelTimeMinutes float64         `json:"travel_time_minutes"`
	Visible           map[Toggle]bool `json:"visible"`
	SelectedFacility  model.ID        `json:"selected_facility,omitempty"`
	Facilities        int             `json:"facilities"`
	Recommendations   int             `json:"recommendations"`
	GridCells         int             `json:"grid_cells"`
	Districts         int             `json:"districts"`
	DistrictsLoading  bool            `json:"districts_loading"`
	Deferred          []string        `json:"deferred,omitempty"`
}

// State returns the current input snapshot.
func (s *Synchronizer) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := State{
		TypeFilter:        s.filter,
		TravelTimeMinutes: s.travel,
		Visible:           make(map[Toggle]bool, len(s.visible)),
		Facilities:        len(s.facilities),
		Recommendations:   len(s.recommendations),
		GridCells:         len(s.grid),
		Districts:         len(s.districts),
		DistrictsLoading:  s.districtInFlight,
	}
	for k, v := range s.visible {
		st.Visible[k] = v
	}
	if id, ok := s.selection.Selected(); ok {
		st.SelectedFacility = id
	}
	for _, cat := range layers.Categories {
		if s.deferred[cat] {
			st.Deferred = append(st.Deferred, cat.String())
		}
	}
	return st
}

func (s *Synchronizer) facility(id model.ID) (model.Facility, bool) {
	i, ok := s.facilityIndex[id]
	if !ok {
		return model.Facility{}, false
	}
	return s.facilities[i], true
}

func (s *Synchronizer) toggleSelection(id model.ID, fx *effects) {
	if !s.selection.IsSelected(id) {
		f, ok := s.facility(id)
		if !ok {
			zap.L().Warn("mapsync: toggle coverage for unknown facility", zap.String("id", string(id)))
			return
		}
		if _, ok := f.Coordinates.LatLng(); !ok {
			zap.L().Warn("mapsync: toggle coverage for facility without coordinates", zap.String("id", string(id)))
			return
		}
	}

	tr := s.selection.Toggle(id)
	zap.L().Debug("mapsync: selection", zap.String("id", string(id)), zap.Stringer("transition", tr))
	fx.dirty(layers.IndividualCoverage)

	if tr == selection.Selected || tr == selection.Switched {
		f, _ := s.facility(id)
		center, _ := f.Coordinates.LatLng()
		s.recenter(center)
	}
}

func (s *Synchronizer) highlight(id model.ID) {
	f, ok := s.facility(id)
	if !ok {
		zap.L().Warn("mapsync: highlight unknown facility", zap.String("id", string(id)))
		return
	}
	center, ok := f.Coordinates.LatLng()
	if !ok {
		zap.L().Warn("mapsync: highlight facility without coordinates", zap.String("id", string(id)))
		return
	}
	if s.canvas == nil || !s.canvas.Ready() {
		zap.L().Debug("mapsync: highlight skipped, canvas unavailable", zap.String("id", string(id)))
		return
	}
	s.recenter(center)
	s.canvas.Flash(center, s.settings.HighlightRadiusMeters, s.settings.HighlightTTL)
}

// recenter moves the map to center, raising the zoom to the selection
// floor but never lowering it.
func (s *Synchronizer) recenter(center model.LatLng) {
	if s.canvas == nil || !s.canvas.Ready() {
		return
	}
	zoom := s.canvas.View().Zoom
	if zoom < s.settings.SelectMinZoom {
		zoom = s.settings.SelectMinZoom
	}
	s.canvas.SetView(center, zoom)
}

// Known reports whether t is one of Toggles.
func (t Toggle) Known() bool {
	for _, k := range Toggles {
		if k == t {
			return true
		}
	}
	return false
}

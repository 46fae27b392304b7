package mapsync

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/coverage-map/internal/actions"
	"github.com/sells-group/coverage-map/internal/canvas"
	"github.com/sells-group/coverage-map/internal/coverage"
	"github.com/sells-group/coverage-map/internal/layers"
	"github.com/sells-group/coverage-map/internal/matcher"
	"github.com/sells-group/coverage-map/internal/model"
)

type harness struct {
	sync     *Synchronizer
	canvas   *canvas.Memory
	registry *layers.Registry
	coverage *coverage.Model
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	mem := canvas.NewMemory(canvas.View{Center: model.LatLng{Lat: 43.2, Lon: 76.9}, Zoom: 11})
	reg := layers.NewRegistry(mem, layers.NewEventBus())
	cov := coverage.New(nil)
	s := New(reg, mem, cov, matcher.New(matcher.DefaultPolicy()), opts...)
	t.Cleanup(s.Close)
	return &harness{sync: s, canvas: mem, registry: reg, coverage: cov}
}

func (h *harness) group(t *testing.T, cat layers.Category) *canvas.Group {
	t.Helper()
	g, ok := h.registry.Group(cat)
	require.True(t, ok, "category %s not mounted", cat)
	return g
}

func (h *harness) assertUnmounted(t *testing.T, cat layers.Category) {
	t.Helper()
	_, ok := h.registry.Group(cat)
	assert.False(t, ok, "category %s unexpectedly mounted", cat)
	assert.Empty(t, h.canvas.AttachedNamed(cat.String()))
}

func facility(id string, ft model.FacilityType, lat, lon float64) model.Facility {
	return model.Facility{
		ID:          model.ID(id),
		Type:        ft,
		Name:        fmt.Sprintf("%s %s", ft.DisplayName(), id),
		Coordinates: model.NewCoordinates(lat, lon),
	}
}

func cityFacilities() []model.Facility {
	var out []model.Facility
	for i := 0; i < 6; i++ {
		out = append(out, facility(fmt.Sprintf("s%d", i), model.FacilityTypeSchool, 43.20+float64(i)*0.01, 76.90))
	}
	for i := 0; i < 4; i++ {
		out = append(out, facility(fmt.Sprintf("h%d", i), model.FacilityTypeHospital, 43.30, 76.80+float64(i)*0.01))
	}
	return out
}

func TestScenario_SchoolsWithCoverage(t *testing.T) {
	h := newHarness(t)
	s := h.sync

	s.SetFacilities(cityFacilities())
	s.SetTypeFilter("school")
	require.NoError(t, s.SetToggle(ToggleCoverageZones, true))
	require.NoError(t, s.SetTravelTime(20))

	fac := h.group(t, layers.Facilities)
	assert.Len(t, fac.Markers, 6)
	for _, m := range fac.Markers {
		assert.Equal(t, "school", m.Type)
		assert.Equal(t, canvas.MarkerFacility, m.Kind)
	}

	cov := h.group(t, layers.Coverage)
	require.Len(t, cov.Circles, 6)
	want := h.coverage.RadiusMeters(20, model.FacilityTypeSchool, "")
	for _, c := range cov.Circles {
		assert.Equal(t, want, c.RadiusMeters)
		assert.Equal(t, 20.0, c.TravelMinutes)
	}

	assert.Len(t, h.canvas.AttachedNamed("facilities"), 1)
	assert.Len(t, h.canvas.AttachedNamed("coverage"), 1)
}

func TestFacilities_RebuildIsIdempotent(t *testing.T) {
	h := newHarness(t)
	list := cityFacilities()

	h.sync.SetFacilities(list)
	first := h.group(t, layers.Facilities)
	h.sync.SetFacilities(list)
	second := h.group(t, layers.Facilities)

	assert.Len(t, h.canvas.AttachedNamed("facilities"), 1)
	assert.Equal(t, first.Markers, second.Markers)
	assert.True(t, first.Released())
	assert.False(t, second.Released())
}

func TestFacilities_NullCoordinatesSkipped(t *testing.T) {
	h := newHarness(t)
	list := cityFacilities()
	list[2].Coordinates = model.Coordinates{}

	h.sync.SetFacilities(list)

	fac := h.group(t, layers.Facilities)
	assert.Len(t, fac.Markers, 9)
	for _, m := range fac.Markers {
		assert.NotEqual(t, list[2].ID, m.ID)
	}
}

func TestFacilities_HiddenUnmountsCoverageToo(t *testing.T) {
	h := newHarness(t)
	h.sync.SetFacilities(cityFacilities())
	require.NoError(t, h.sync.SetToggle(ToggleCoverageZones, true))
	h.group(t, layers.Coverage)

	require.NoError(t, h.sync.SetToggle(ToggleFacilities, false))
	h.assertUnmounted(t, layers.Facilities)
	h.assertUnmounted(t, layers.Coverage)

	require.NoError(t, h.sync.SetToggle(ToggleFacilities, true))
	assert.Len(t, h.group(t, layers.Coverage).Circles, 10)
}

func TestCoverage_OffByDefault(t *testing.T) {
	h := newHarness(t)
	h.sync.SetFacilities(cityFacilities())
	h.assertUnmounted(t, layers.Coverage)
}

func TestSelection_ToggleSameIDReturnsToIdle(t *testing.T) {
	h := newHarness(t)
	h.sync.SetFacilities(cityFacilities())

	h.sync.ToggleSelection("s1")
	g := h.group(t, layers.IndividualCoverage)
	require.Len(t, g.Circles, 1)
	assert.True(t, g.Circles[0].Selected)
	assert.Contains(t, g.Circles[0].Label, "School s1")

	h.sync.ToggleSelection("s1")
	h.assertUnmounted(t, layers.IndividualCoverage)
	assert.Empty(t, h.sync.State().SelectedFacility)
}

func TestSelection_SwitchKeepsOneCircle(t *testing.T) {
	h := newHarness(t)
	list := cityFacilities()
	h.sync.SetFacilities(list)

	h.sync.ToggleSelection("s0")
	h.sync.ToggleSelection("h2")

	assert.Len(t, h.canvas.AttachedNamed("individualCoverage"), 1)
	g := h.group(t, layers.IndividualCoverage)
	require.Len(t, g.Circles, 1)

	want, _ := list[8].Coordinates.LatLng()
	assert.Equal(t, want, g.Circles[0].Center)
	assert.Equal(t, model.FacilityTypeHospital, g.Circles[0].FacilityType)

	view := h.canvas.View()
	assert.Equal(t, want, view.Center)
	assert.Equal(t, 14, view.Zoom)
	assert.Equal(t, model.ID("h2"), h.sync.State().SelectedFacility)
}

func TestSelection_ZoomNeverLowered(t *testing.T) {
	h := newHarness(t)
	h.sync.SetFacilities(cityFacilities())
	h.canvas.SetView(model.LatLng{Lat: 43, Lon: 76}, 17)

	h.sync.ToggleSelection("s3")
	assert.Equal(t, 17, h.canvas.View().Zoom)
}

func TestSelection_InvalidCoordinatesIsNoop(t *testing.T) {
	h := newHarness(t)
	list := cityFacilities()
	list[0].Coordinates = model.Coordinates{}
	h.sync.SetFacilities(list)

	h.sync.ToggleSelection("s1")
	h.sync.ToggleSelection("s0")
	h.sync.ToggleSelection("missing")

	assert.Equal(t, model.ID("s1"), h.sync.State().SelectedFacility)
	g := h.group(t, layers.IndividualCoverage)
	assert.Equal(t, model.ID("s1"), g.Circles[0].ID)
}

func TestSelection_FollowsTravelTime(t *testing.T) {
	h := newHarness(t)
	h.sync.SetFacilities(cityFacilities())
	h.sync.ToggleSelection("s0")

	require.NoError(t, h.sync.SetTravelTime(30))
	g := h.group(t, layers.IndividualCoverage)
	assert.Equal(t, h.coverage.RadiusMeters(30, model.FacilityTypeSchool, ""), g.Circles[0].RadiusMeters)
}

func TestSelection_ViaAction(t *testing.T) {
	h := newHarness(t)
	h.sync.SetFacilities(cityFacilities())

	require.NoError(t, h.sync.HandleAction(actions.ToggleCoverage("h0")))
	assert.Equal(t, model.ID("h0"), h.sync.State().SelectedFacility)

	assert.Error(t, h.sync.HandleAction(actions.Action{Kind: "nope", Target: "h0"}))
}

func TestRecommendations_FilteredThroughMatcher(t *testing.T) {
	h := newHarness(t)
	h.sync.SetRecommendations([]model.Recommendation{
		{ID: "r1", Type: "school", RecommendationType: model.RecommendationStandard, Priority: model.PriorityHigh, Coordinates: model.NewCoordinates(43.2, 76.9)},
		{ID: "r2", Type: "clinic_gap", RecommendationType: model.RecommendationGapZone, Priority: model.PriorityMedium, Coordinates: model.NewCoordinates(43.21, 76.91)},
		{ID: "r3", Type: "school_gap", RecommendationType: model.RecommendationGapZone, Coordinates: model.NewCoordinates(43.22, 76.92)},
		{ID: "r4", Type: "hospital", Coordinates: model.Coordinates{}},
		{ID: "r5", FacilityType: "hospital", Coordinates: model.NewCoordinates(43.23, 76.93), District: "Almaly"},
	})

	assert.Len(t, h.group(t, layers.Recommendations).Markers, 4)

	h.sync.SetTypeFilter("hospital")
	g := h.group(t, layers.Recommendations)
	var ids []model.ID
	for _, m := range g.Markers {
		ids = append(ids, m.ID)
	}
	assert.ElementsMatch(t, []model.ID{"r2", "r5"}, ids)

	require.NoError(t, h.sync.SetToggle(ToggleRecommendations, false))
	h.assertUnmounted(t, layers.Recommendations)
}

func TestHeatmap_RemapAndToggle(t *testing.T) {
	h := newHarness(t)
	h.sync.SetPopulationGrid([]model.HeatPoint{
		{Lat: 43.2, Lon: 76.9, Intensity: 0.2},
		{Lat: 43.3, Lon: 76.8, Intensity: 0.9},
		{Lat: 200, Lon: 76.8, Intensity: 0.5},
	})
	h.assertUnmounted(t, layers.Heatmap)

	require.NoError(t, h.sync.SetToggle(TogglePopulation, true))
	g := h.group(t, layers.Heatmap)
	require.Len(t, g.Heat, 2)
	assert.InDelta(t, 0.4, g.Heat[0].Intensity, 1e-9)
	assert.InDelta(t, 1.0, g.Heat[1].Intensity, 1e-9)

	require.NoError(t, h.sync.SetToggle(TogglePopulation, false))
	h.assertUnmounted(t, layers.Heatmap)
}

func TestRemapIntensity(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 0.5, RemapIntensity(0.25, 2, 1), 1e-9)
	assert.InDelta(t, 1.0, RemapIntensity(0.8, 2, 1), 1e-9)
	assert.InDelta(t, 0.0, RemapIntensity(-1, 2, 1), 1e-9)
	assert.InDelta(t, 0.7, RemapIntensity(0.9, 3, 0.7), 1e-9)
}

func TestSetTravelTime_RejectsNonPositive(t *testing.T) {
	h := newHarness(t)
	assert.Error(t, h.sync.SetTravelTime(0))
	assert.Error(t, h.sync.SetTravelTime(-3))
	assert.InDelta(t, 15.0, h.sync.State().TravelTimeMinutes, 1e-9)
}

func TestSetToggle_Unknown(t *testing.T) {
	h := newHarness(t)
	assert.Error(t, h.sync.SetToggle("satellite", true))
}

func TestHighlight_RecentersAndFlashes(t *testing.T) {
	h := newHarness(t)
	list := cityFacilities()
	h.sync.SetFacilities(list)

	h.sync.Highlight("h1")

	want, _ := list[7].Coordinates.LatLng()
	assert.Equal(t, want, h.canvas.View().Center)
	hl := h.canvas.Highlights()
	require.Len(t, hl, 1)
	assert.Equal(t, want, hl[0].Center)
	assert.InDelta(t, 150.0, hl[0].RadiusMeters, 1e-9)
	h.assertUnmounted(t, layers.IndividualCoverage)

	h.sync.Highlight("unknown")
	assert.Len(t, h.canvas.Highlights(), 1)
}

func TestCanvasUnavailable_DefersUntilRefresh(t *testing.T) {
	h := newHarness(t)
	h.canvas.SetReady(false)

	h.sync.SetFacilities(cityFacilities())
	h.assertUnmounted(t, layers.Facilities)
	assert.Contains(t, h.sync.State().Deferred, "facilities")

	h.canvas.SetReady(true)
	h.sync.Refresh()
	assert.Len(t, h.group(t, layers.Facilities).Markers, 10)
	assert.Empty(t, h.sync.State().Deferred)
}

func TestShowDetails_Callback(t *testing.T) {
	var got []model.Facility
	h := newHarness(t, WithFacilitySelected(func(_ Inputs, f model.Facility) {
		got = append(got, f)
	}))
	h.sync.SetFacilities(cityFacilities())

	require.NoError(t, h.sync.HandleAction(actions.ShowDetails("s4")))
	require.NoError(t, h.sync.HandleAction(actions.ShowDetails("nope")))

	require.Len(t, got, 1)
	assert.Equal(t, model.ID("s4"), got[0].ID)
}

func TestReentrantCallback_Queued(t *testing.T) {
	h := newHarness(t, WithFacilitySelected(func(in Inputs, f model.Facility) {
		// Reads and writes from inside the callback must not deadlock.
		_ = in.State()
		in.ToggleSelection(f.ID)
	}))
	h.sync.SetFacilities(cityFacilities())

	require.NoError(t, h.sync.HandleAction(actions.ShowDetails("s2")))

	assert.Equal(t, model.ID("s2"), h.sync.State().SelectedFacility)
	assert.Len(t, h.canvas.AttachedNamed("individualCoverage"), 1)
}

func TestReentrantCallback_DepthBounded(t *testing.T) {
	var calls int
	h := newHarness(t,
		WithSettings(Settings{MaxDepth: 3}),
		WithFacilitySelected(func(in Inputs, f model.Facility) {
			calls++
			_ = in.HandleAction(actions.ShowDetails(f.ID))
		}),
	)
	h.sync.SetFacilities(cityFacilities())

	require.NoError(t, h.sync.HandleAction(actions.ShowDetails("s0")))
	assert.Equal(t, 3, calls)

	// The synchronizer keeps working afterwards.
	h.sync.ToggleSelection("s0")
	assert.Equal(t, model.ID("s0"), h.sync.State().SelectedFacility)
}

func TestCallback_InputFromOtherGoroutineApplied(t *testing.T) {
	var seen State
	var h *harness
	h = newHarness(t,
		WithSettings(Settings{MaxDepth: 1}),
		WithFacilitySelected(func(_ Inputs, _ model.Facility) {
			done := make(chan struct{})
			go func() {
				defer close(done)
				h.sync.SetTypeFilter("school")
				seen = h.sync.State()
			}()
			<-done
		}),
	)
	h.sync.SetFacilities(cityFacilities())

	require.NoError(t, h.sync.HandleAction(actions.ShowDetails("h0")))

	assert.Equal(t, "school", seen.TypeFilter)
	assert.Equal(t, "school", h.sync.State().TypeFilter)
	assert.Len(t, h.group(t, layers.Facilities).Markers, 6)
}

func TestCallback_DepthLimitSparesOutsideInputs(t *testing.T) {
	var h *harness
	h = newHarness(t,
		WithSettings(Settings{MaxDepth: 1}),
		WithFacilitySelected(func(in Inputs, f model.Facility) {
			in.ToggleSelection(f.ID)
			done := make(chan struct{})
			go func() {
				defer close(done)
				assert.NoError(t, h.sync.SetToggle(ToggleCoverageZones, true))
			}()
			<-done
		}),
	)
	h.sync.SetFacilities(cityFacilities())

	require.NoError(t, h.sync.HandleAction(actions.ShowDetails("s1")))

	st := h.sync.State()
	assert.Empty(t, st.SelectedFacility)
	assert.True(t, st.Visible[ToggleCoverageZones])
	assert.Len(t, h.group(t, layers.Coverage).Circles, 10)
}

func TestConcurrentInputs_ReadOwnWrite(t *testing.T) {
	h := newHarness(t)
	h.sync.SetFacilities(cityFacilities())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, h.sync.SetToggle(ToggleCoverageZones, true))
			assert.True(t, h.sync.State().Visible[ToggleCoverageZones])
			h.sync.SetFacilities(cityFacilities())
		}()
	}
	wg.Wait()

	assert.Len(t, h.canvas.AttachedNamed(layers.Coverage.String()), 1)
}

func TestConcurrentInputs_OneGroupPerCategory(t *testing.T) {
	h := newHarness(t)
	list := cityFacilities()
	require.NoError(t, h.sync.SetToggle(ToggleCoverageZones, true))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h.sync.SetFacilities(list)
			_ = h.sync.SetTravelTime(float64(10 + i))
			h.sync.ToggleSelection(list[i].ID)
			if i%2 == 0 {
				h.sync.SetTypeFilter("school")
			} else {
				h.sync.SetTypeFilter(model.FilterAll)
			}
		}(i)
	}
	wg.Wait()

	for _, cat := range []layers.Category{layers.Facilities, layers.Coverage} {
		assert.Len(t, h.canvas.AttachedNamed(cat.String()), 1, cat.String())
	}
	assert.LessOrEqual(t, len(h.canvas.AttachedNamed("individualCoverage")), 1)
	assert.LessOrEqual(t, h.canvas.Stats().PeakAttached, len(layers.Categories))
}

func TestWithSettings_KeepsDefaults(t *testing.T) {
	h := newHarness(t, WithSettings(Settings{TravelTimeMinutes: 25, TypeFilter: "clinic"}))
	st := h.sync.State()
	assert.InDelta(t, 25.0, st.TravelTimeMinutes, 1e-9)
	assert.Equal(t, "clinic", st.TypeFilter)
	assert.True(t, st.Visible[ToggleFacilities])
	assert.False(t, st.Visible[TogglePopulation])
	assert.Equal(t, 8, h.sync.settings.MaxDepth)
}

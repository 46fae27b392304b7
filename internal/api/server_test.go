package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/coverage-map/internal/canvas"
	"github.com/sells-group/coverage-map/internal/coverage"
	"github.com/sells-group/coverage-map/internal/layers"
	"github.com/sells-group/coverage-map/internal/loader"
	"github.com/sells-group/coverage-map/internal/mapsync"
	"github.com/sells-group/coverage-map/internal/matcher"
	"github.com/sells-group/coverage-map/internal/model"
)

type fixture struct {
	srv     *Server
	handler http.Handler
	sync    *mapsync.Synchronizer
	canvas  *canvas.Memory
	reg     *layers.Registry
	cov     *coverage.Model
	details *Details
}

func newFixture(t *testing.T, reload Reloader) *fixture {
	t.Helper()
	mem := canvas.NewMemory(canvas.View{Center: model.LatLng{Lat: 43.2, Lon: 76.9}, Zoom: 11})
	reg := layers.NewRegistry(mem, layers.NewEventBus())
	cov := coverage.New(nil)
	details := &Details{}
	s := mapsync.New(reg, mem, cov, matcher.New(matcher.DefaultPolicy()),
		mapsync.WithFacilitySelected(func(_ mapsync.Inputs, f model.Facility) { details.Show(f) }))
	t.Cleanup(s.Close)

	s.SetFacilities([]model.Facility{
		{ID: "1", Type: model.FacilityTypeSchool, Name: "School 1", Coordinates: model.NewCoordinates(43.21, 76.91)},
		{ID: "2", Type: model.FacilityTypeHospital, Name: "City Hospital", Coordinates: model.NewCoordinates(43.25, 76.95)},
	})
	s.SetRecommendations([]model.Recommendation{
		{ID: "r1", Type: "school_gap", RecommendationType: model.RecommendationGapZone, Coordinates: model.NewCoordinates(43.3, 76.8)},
	})

	srv := New(Deps{
		Sync:     s,
		Registry: reg,
		Viewport: mem,
		Coverage: cov,
		Details:  details,
		Reload:   reload,
	})
	return &fixture{srv: srv, handler: srv.Router(), sync: s, canvas: mem, reg: reg, cov: cov, details: details}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeState(t *testing.T, rec *httptest.ResponseRecorder) mapsync.State {
	t.Helper()
	var st mapsync.State
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&st))
	return st
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestLayers_Summary(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodGet, "/layers", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp layersResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 2, resp.Mounted["facilities"])
	assert.Equal(t, 1, resp.Mounted["recommendations"])
	assert.Equal(t, 2, resp.State.Facilities)
	assert.Equal(t, 11, resp.View.Zoom)
}

func TestLayer_GeoJSON(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodGet, "/layers/facilities", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/geo+json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get("X-Group-ID"))

	var fc struct {
		Type     string `json:"type"`
		Features []struct {
			ID         string         `json:"id"`
			Properties map[string]any `json:"properties"`
		} `json:"features"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&fc))
	assert.Equal(t, "FeatureCollection", fc.Type)
	assert.Len(t, fc.Features, 2)
	assert.Equal(t, "miss", rec.Header().Get("X-Cache"))

	again := f.do(t, http.MethodGet, "/layers/facilities", "")
	require.Equal(t, http.StatusOK, again.Code)
	assert.Equal(t, "hit", again.Header().Get("X-Cache"))

	// A rebuild mounts a new group, so the cached payload is not reused.
	f.do(t, http.MethodPost, "/inputs/filter", `{"facility_type":"school"}`)
	rebuilt := f.do(t, http.MethodGet, "/layers/facilities", "")
	assert.Equal(t, "miss", rebuilt.Header().Get("X-Cache"))
	assert.NotEqual(t, rec.Header().Get("X-Group-ID"), rebuilt.Header().Get("X-Group-ID"))
}

func TestLayer_Errors(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/layers/roads", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown_category")

	rec = f.do(t, http.MethodGet, "/layers/heatmap", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "not_mounted")
}

func TestFilter(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/inputs/filter", `{"facility_type":"hospital"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hospital", decodeState(t, rec).TypeFilter)

	g, ok := f.reg.Group(layers.Facilities)
	require.True(t, ok)
	require.Len(t, g.Markers, 1)
	assert.Equal(t, model.ID("2"), g.Markers[0].ID)

	rec = f.do(t, http.MethodPost, "/inputs/filter", `{"facility_type":"stadium"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/inputs/filter", `{"facility_type":""}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.FilterAll, decodeState(t, rec).TypeFilter)
}

func TestTravelTime(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/inputs/travel-time", `{"minutes":25}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 25.0, decodeState(t, rec).TravelTimeMinutes, 0.001)

	rec = f.do(t, http.MethodPost, "/inputs/travel-time", `{"minutes":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/inputs/travel-time", `{"minutes":"ten"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_body")
}

func TestToggle(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/inputs/toggles/coverage_zones", `{"on":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeState(t, rec).Visible[mapsync.ToggleCoverageZones])
	_, ok := f.reg.Group(layers.Coverage)
	assert.True(t, ok)

	rec = f.do(t, http.MethodPost, "/inputs/toggles/traffic", `{"on":true}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFacilityCoverage(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/facilities/1/coverage", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.ID("1"), decodeState(t, rec).SelectedFacility)

	g, ok := f.reg.Group(layers.IndividualCoverage)
	require.True(t, ok)
	require.Len(t, g.Circles, 1)
	assert.Equal(t, 14, f.canvas.View().Zoom)

	rec = f.do(t, http.MethodPost, "/facilities/1/coverage", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeState(t, rec).SelectedFacility)

	rec = f.do(t, http.MethodPost, "/facilities/999/coverage", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFacilityHighlight(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/facilities/2/highlight", "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/view", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp viewResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Highlights, 1)
	assert.InDelta(t, 150.0, resp.Highlights[0].RadiusMeters, 0.001)
	assert.InDelta(t, 43.25, resp.View.Center.Lat, 1e-9)
}

func TestActions(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/details", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodPost, "/actions", `{"action":"show_details","id":"2"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = f.do(t, http.MethodGet, "/details", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "City Hospital")

	rec = f.do(t, http.MethodPost, "/actions", `{"action":"delete","id":"2"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/actions", `{"action":"toggle_coverage","id":1}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, model.ID("1"), f.sync.State().SelectedFacility)
}

func TestRadius(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/coverage/radius?facility_type=school&minutes=20", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp radiusResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.InDelta(t, f.cov.RadiusMeters(20, model.FacilityTypeSchool, ""), resp.RadiusMeters, 0.001)

	rec = f.do(t, http.MethodGet, "/coverage/radius?facility_type=school", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.InDelta(t, 15.0, resp.Minutes, 0.001)

	rec = f.do(t, http.MethodGet, "/coverage/radius?facility_type=school&minutes=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/coverage/radius", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReload(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodPost, "/reload", "")
	assert.Equal(t, http.StatusNotImplemented, rec.Code)

	calls := 0
	f = newFixture(t, func(context.Context) (loader.Result, error) {
		calls++
		return loader.Result{Facilities: 3, Recommendations: 1, GridCells: 7}, nil
	})
	rec = f.do(t, http.MethodPost, "/reload", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, calls)
	assert.Contains(t, rec.Body.String(), `"grid_cells":7`)

	f = newFixture(t, func(context.Context) (loader.Result, error) {
		return loader.Result{}, errors.New("upstream down")
	})
	rec = f.do(t, http.MethodPost, "/reload", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "upstream down")
}

func TestCORS(t *testing.T) {
	f := newFixture(t, nil)
	req := httptest.NewRequest(http.MethodOptions, "/layers", nil)
	req.Header.Set("Origin", "http://map.local")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestEvents_StreamsLayerChanges(t *testing.T) {
	f := newFixture(t, nil)
	ts := httptest.NewServer(f.handler)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, ": connected\n", line)

	require.NoError(t, f.sync.SetToggle(mapsync.ToggleRecommendations, false))

	var event, data string
	for event == "" || data == "" {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event: "))
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data: "))
		}
	}
	assert.Equal(t, "unmounted", event)

	var ev layers.Event
	require.NoError(t, json.Unmarshal([]byte(data), &ev))
	assert.Equal(t, layers.Recommendations, ev.Category)
}

func TestDetails(t *testing.T) {
	var d Details
	_, _, ok := d.Current()
	assert.False(t, ok)

	d.Show(model.Facility{ID: "7", Name: "Library"})
	f, at, ok := d.Current()
	require.True(t, ok)
	assert.Equal(t, "Library", f.Name)
	assert.False(t, at.IsZero())
}

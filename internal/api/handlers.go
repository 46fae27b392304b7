package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/coverage-map/internal/actions"
	"github.com/sells-group/coverage-map/internal/canvas"
	"github.com/sells-group/coverage-map/internal/layers"
	"github.com/sells-group/coverage-map/internal/mapsync"
	"github.com/sells-group/coverage-map/internal/model"
)

// sseKeepAlive is the interval between comment frames on idle streams.
var sseKeepAlive = 15 * time.Second

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type layersResponse struct {
	Mounted map[string]int `json:"mounted"`
	State   mapsync.State  `json:"state"`
	View    canvas.View    `json:"view"`
	Cache   CacheStats     `json:"cache"`
}

func (s *Server) handleLayers(w http.ResponseWriter, _ *http.Request) {
	resp := layersResponse{
		Mounted: s.deps.Registry.Summary(),
		State:   s.deps.Sync.State(),
		Cache:   s.cache.Stats(),
	}
	if s.deps.Viewport != nil {
		resp.View = s.deps.Viewport.View()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLayer(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(chi.URLParam(r, "category"))
	cat, err := layers.ParseCategory(name)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown_category", err.Error())
		return
	}
	g, ok := s.deps.Registry.Group(cat)
	if !ok {
		writeError(w, http.StatusNotFound, "not_mounted", fmt.Sprintf("%s is not mounted", cat))
		return
	}

	w.Header().Set("Content-Type", "application/geo+json")
	w.Header().Set("X-Group-ID", g.ID.String())
	if cached := s.cache.Get(g.ID); cached != nil {
		w.Header().Set("X-Cache", "hit")
		_, _ = w.Write(cached)
		return
	}

	data, err := canvas.GeoJSON(g).MarshalJSON()
	if err != nil {
		w.Header().Del("X-Group-ID")
		writeError(w, http.StatusInternalServerError, "encode_failed", err.Error())
		return
	}
	s.cache.Put(g.ID, data)
	w.Header().Set("X-Cache", "miss")
	_, _ = w.Write(data)
}

type viewResponse struct {
	View       canvas.View        `json:"view"`
	Highlights []canvas.Highlight `json:"highlights"`
}

func (s *Server) handleView(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Viewport == nil {
		writeError(w, http.StatusServiceUnavailable, "no_canvas", "canvas unavailable")
		return
	}
	writeJSON(w, http.StatusOK, viewResponse{
		View:       s.deps.Viewport.View(),
		Highlights: s.deps.Viewport.Highlights(),
	})
}

func (s *Server) handleDetails(w http.ResponseWriter, _ *http.Request) {
	f, at, ok := s.deps.Details.Current()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"facility": f, "shown_at": at})
}

func (s *Server) handleFilter(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FacilityType string `json:"facility_type"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	filter := strings.ToLower(strings.TrimSpace(req.FacilityType))
	if filter != "" && filter != model.FilterAll && !model.FacilityType(filter).Known() {
		writeError(w, http.StatusBadRequest, "validation_failed", fmt.Sprintf("unknown facility type %q", req.FacilityType))
		return
	}
	s.deps.Sync.SetTypeFilter(filter)
	writeJSON(w, http.StatusOK, s.deps.Sync.State())
}

func (s *Server) handleTravelTime(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Minutes float64 `json:"minutes"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if err := s.deps.Sync.SetTravelTime(req.Minutes); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Sync.State())
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		On bool `json:"on"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	t := mapsync.Toggle(chi.URLParam(r, "toggle"))
	if err := s.deps.Sync.SetToggle(t, req.On); err != nil {
		writeError(w, http.StatusNotFound, "unknown_toggle", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Sync.State())
}

func (s *Server) facilityParam(w http.ResponseWriter, r *http.Request) (model.ID, bool) {
	id := model.NormalizeID(chi.URLParam(r, "id"))
	if _, ok := s.deps.Sync.Facility(id); !ok {
		writeError(w, http.StatusNotFound, "unknown_facility", fmt.Sprintf("facility %q not found", id))
		return "", false
	}
	return id, true
}

func (s *Server) handleFacilityCoverage(w http.ResponseWriter, r *http.Request) {
	id, ok := s.facilityParam(w, r)
	if !ok {
		return
	}
	s.deps.Sync.ToggleSelection(id)
	writeJSON(w, http.StatusOK, s.deps.Sync.State())
}

func (s *Server) handleFacilityHighlight(w http.ResponseWriter, r *http.Request) {
	id, ok := s.facilityParam(w, r)
	if !ok {
		return
	}
	s.deps.Sync.Highlight(id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	var a actions.Action
	if err := decodeBody(w, r, &a); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if err := s.deps.Sync.HandleAction(a); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type radiusResponse struct {
	FacilityType  model.FacilityType `json:"facility_type"`
	Mode          string             `json:"mode,omitempty"`
	Minutes       float64            `json:"minutes"`
	SpeedKmh      float64            `json:"speed_kmh"`
	RadiusMeters  float64            `json:"radius_m"`
	AvailableMode []string           `json:"available_modes,omitempty"`
}

func (s *Server) handleRadius(w http.ResponseWriter, r *http.Request) {
	if s.deps.Coverage == nil {
		writeError(w, http.StatusServiceUnavailable, "no_model", "coverage model unavailable")
		return
	}
	q := r.URL.Query()
	ft := model.FacilityType(strings.ToLower(strings.TrimSpace(q.Get("facility_type"))))
	if ft == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "facility_type is required")
		return
	}

	minutes := s.deps.Sync.State().TravelTimeMinutes
	if raw := q.Get("minutes"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || !(v > 0) {
			writeError(w, http.StatusBadRequest, "validation_failed", fmt.Sprintf("invalid minutes %q", raw))
			return
		}
		minutes = v
	}
	mode := strings.TrimSpace(q.Get("mode"))

	writeJSON(w, http.StatusOK, radiusResponse{
		FacilityType:  ft,
		Mode:          mode,
		Minutes:       minutes,
		SpeedKmh:      s.deps.Coverage.Speed(ft, mode),
		RadiusMeters:  s.deps.Coverage.RadiusMeters(minutes, ft, mode),
		AvailableMode: s.deps.Coverage.Table().Modes(ft),
	})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if s.deps.Reload == nil {
		writeError(w, http.StatusNotImplemented, "no_source", "reload is not configured")
		return
	}
	res, err := s.deps.Reload(r.Context())
	if err != nil {
		zap.L().Error("api: reload failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "reload_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"facilities":      res.Facilities,
		"recommendations": res.Recommendations,
		"grid_cells":      res.GridCells,
		"elapsed_ms":      res.Elapsed.Milliseconds(),
	})
}

// handleEvents streams layer mount/unmount events as server-sent events.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	bus := s.deps.Registry.Bus()
	if bus == nil {
		writeError(w, http.StatusServiceUnavailable, "no_bus", "layer events unavailable")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "no_streaming", "streaming unsupported")
		return
	}

	ch := bus.Subscribe()
	defer bus.Unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	ticker := time.NewTicker(sseKeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case ev, ok := <-ch:
			if !ok {
				return
			}
			b, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Action, b)
			flusher.Flush()
		}
	}
}

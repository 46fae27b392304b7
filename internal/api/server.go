// Package api exposes the map state and operator inputs over HTTP so a
// browser map can render the layers and drive the synchronizer.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/coverage-map/internal/actions"
	"github.com/sells-group/coverage-map/internal/canvas"
	"github.com/sells-group/coverage-map/internal/coverage"
	"github.com/sells-group/coverage-map/internal/layers"
	"github.com/sells-group/coverage-map/internal/loader"
	"github.com/sells-group/coverage-map/internal/mapsync"
	"github.com/sells-group/coverage-map/internal/model"
)

// Synchronizer is the subset of *mapsync.Synchronizer the handlers drive.
type Synchronizer interface {
	SetTypeFilter(filter string)
	SetTravelTime(minutes float64) error
	SetToggle(t mapsync.Toggle, on bool) error
	ToggleSelection(id model.ID)
	Highlight(id model.ID)
	HandleAction(a actions.Action) error
	Facility(id model.ID) (model.Facility, bool)
	State() mapsync.State
}

// Viewport reports the current map view. *canvas.Memory implements it.
type Viewport interface {
	View() canvas.View
	Highlights() []canvas.Highlight
}

// Reloader refetches the siting data and pushes it into the synchronizer.
type Reloader func(ctx context.Context) (loader.Result, error)

// Deps wires the server.
type Deps struct {
	Sync        Synchronizer
	Registry    *layers.Registry
	Viewport    Viewport
	Coverage    *coverage.Model
	Details     *Details
	Reload      Reloader
	CORSOrigins []string
}

// Server serves the HTTP control surface.
type Server struct {
	deps  Deps
	cache *GeoJSONCache
}

// New creates a Server.
func New(deps Deps) *Server {
	if deps.Details == nil {
		deps.Details = &Details{}
	}
	return &Server{deps: deps, cache: NewGeoJSONCache(len(layers.Categories) * 4)}
}

// Router builds the chi router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	origins := s.deps.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/view", s.handleView)
	r.Get("/details", s.handleDetails)
	r.Get("/events", s.handleEvents)
	r.Post("/reload", s.handleReload)
	r.Post("/actions", s.handleAction)
	r.Get("/coverage/radius", s.handleRadius)

	r.Route("/layers", func(r chi.Router) {
		r.Get("/", s.handleLayers)
		r.Get("/{category}", s.handleLayer)
	})
	r.Route("/inputs", func(r chi.Router) {
		r.Post("/filter", s.handleFilter)
		r.Post("/travel-time", s.handleTravelTime)
		r.Post("/toggles/{toggle}", s.handleToggle)
	})
	r.Route("/facilities/{id}", func(r chi.Router) {
		r.Post("/coverage", s.handleFacilityCoverage)
		r.Post("/highlight", s.handleFacilityHighlight)
	})
	return r
}

// Details holds the facility last opened with show_details.
type Details struct {
	mu       sync.RWMutex
	facility *model.Facility
	shownAt  time.Time
}

// Show records f as the open facility. It backs the mapsync.WithFacilitySelected callback.
func (d *Details) Show(f model.Facility) {
	d.mu.Lock()
	d.facility = &f
	d.shownAt = time.Now()
	d.mu.Unlock()
}

// Current returns the open facility, if any.
func (d *Details) Current() (model.Facility, time.Time, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.facility == nil {
		return model.Facility{}, time.Time{}, false
	}
	return *d.facility, d.shownAt, true
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: code, Message: message})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

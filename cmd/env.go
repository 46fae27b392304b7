package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/coverage-map/internal/api"
	"github.com/sells-group/coverage-map/internal/canvas"
	"github.com/sells-group/coverage-map/internal/config"
	"github.com/sells-group/coverage-map/internal/coverage"
	"github.com/sells-group/coverage-map/internal/db"
	"github.com/sells-group/coverage-map/internal/layers"
	"github.com/sells-group/coverage-map/internal/loader"
	"github.com/sells-group/coverage-map/internal/mapsync"
	"github.com/sells-group/coverage-map/internal/matcher"
	"github.com/sells-group/coverage-map/internal/model"
	"github.com/sells-group/coverage-map/internal/resilience"
	"github.com/sells-group/coverage-map/internal/store"
	"github.com/sells-group/coverage-map/pkg/sitingapi"
)

// mapEnv holds the wired map engine shared by serve and layers.
type mapEnv struct {
	Canvas   *canvas.Memory
	Registry *layers.Registry
	Coverage *coverage.Model
	Sync     *mapsync.Synchronizer
	Details  *api.Details
	Source   loader.Source

	closers []func()
}

// Close stops background work and releases the source.
func (e *mapEnv) Close() {
	e.Sync.Close()
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

// Reload fetches everything from the source into the synchronizer.
// Recommendations are requested for every type at the current travel time;
// the type filter is applied when the layer is drawn.
func (e *mapEnv) Reload(ctx context.Context) (loader.Result, error) {
	if e.Source == nil {
		return loader.Result{}, eris.New("env: no data source")
	}
	params := model.RecommendationParams{
		FacilityType:         model.FilterAll,
		MaxTravelTimeMinutes: e.Sync.State().TravelTimeMinutes,
	}
	return loader.Load(ctx, e.Source, e.Sync, params)
}

// newMapEnv builds the canvas, registry and synchronizer. src may be nil
// when nothing will be loaded; closers run on Close.
func newMapEnv(c *config.Config, src loader.Source, closers ...func()) (*mapEnv, error) {
	cov, m, err := buildCoverage(c)
	if err != nil {
		return nil, err
	}

	mem := canvas.NewMemory(canvas.View{
		Center: model.LatLng{Lat: c.Map.CenterLat, Lon: c.Map.CenterLon},
		Zoom:   c.Map.Zoom,
	})
	reg := layers.NewRegistry(mem, layers.NewEventBus())
	details := &api.Details{}

	opts := []mapsync.Option{
		mapsync.WithSettings(syncSettings(c)),
		mapsync.WithFacilitySelected(func(_ mapsync.Inputs, f model.Facility) { details.Show(f) }),
	}
	if src != nil {
		opts = append(opts, mapsync.WithDistrictLoader(
			withTimeout(loader.Districts(src), time.Duration(c.Map.DistrictTimeoutMs)*time.Millisecond),
		))
	}

	return &mapEnv{
		Canvas:   mem,
		Registry: reg,
		Coverage: cov,
		Sync:     mapsync.New(reg, mem, cov, m, opts...),
		Details:  details,
		Source:   src,
		closers:  closers,
	}, nil
}

// buildCoverage creates the coverage model and type matcher, applying the
// optional policy file over the built-in tables.
func buildCoverage(c *config.Config) (*coverage.Model, *matcher.Matcher, error) {
	speeds := coverage.DefaultSpeeds()
	policy := matcher.DefaultPolicy()
	if len(c.Matcher.MedicalAdjacent) > 0 {
		policy = policy.WithMedicalAdjacent(c.Matcher.MedicalAdjacent)
	}

	if c.Coverage.PolicyFile != "" {
		p, err := coverage.LoadPolicy(c.Coverage.PolicyFile)
		if err != nil {
			return nil, nil, err
		}
		speeds = speeds.Merge(p.SpeedTable())
		if len(p.GapAliases) > 0 {
			policy = policy.WithAliases(p.GapAliases)
		}
		if len(p.MedicalAdjacent) > 0 {
			policy = policy.WithMedicalAdjacent(p.MedicalAdjacent)
		}
		zap.L().Info("coverage policy loaded", zap.String("path", c.Coverage.PolicyFile))
	}

	var opts []coverage.Option
	if c.Coverage.FallbackSpeedKmh > 0 {
		opts = append(opts, coverage.WithFallbackSpeed(c.Coverage.FallbackSpeedKmh))
	}
	return coverage.New(speeds, opts...), matcher.New(policy), nil
}

func syncSettings(c *config.Config) mapsync.Settings {
	visible := make(map[mapsync.Toggle]bool, len(c.Map.Visible))
	for _, name := range c.Map.Visible {
		t := mapsync.Toggle(name)
		if !t.Known() {
			zap.L().Warn("ignoring unknown visible toggle", zap.String("toggle", name))
			continue
		}
		visible[t] = true
	}

	return mapsync.Settings{
		TravelTimeMinutes:     c.Coverage.TravelTimeMinutes,
		TypeFilter:            c.Map.TypeFilter,
		TransportMode:         c.Coverage.TransportMode,
		SelectMinZoom:         c.Map.SelectMinZoom,
		HighlightRadiusMeters: c.Map.HighlightRadiusM,
		HighlightTTL:          time.Duration(c.Map.HighlightTTLMs) * time.Millisecond,
		HeatmapScale:          c.Map.HeatmapScale,
		HeatmapCeiling:        c.Map.HeatmapCeiling,
		Visible:               visible,
		MaxDepth:              c.Map.MaxCallbackDepth,
	}
}

func withTimeout(fn mapsync.DistrictLoader, d time.Duration) mapsync.DistrictLoader {
	if d <= 0 {
		return fn
	}
	return func(ctx context.Context) ([]model.DistrictSummary, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return fn(ctx)
	}
}

// newAPIClient builds the siting API client with retry, rate limit and
// circuit breaker from config.
func newAPIClient(c *config.Config) sitingapi.Client {
	retry := resilience.DefaultRetryConfig()
	if c.Source.RetryAttempts > 0 {
		retry.MaxAttempts = c.Source.RetryAttempts
	}
	if c.Source.RetryBackoffMs > 0 {
		retry.InitialBackoff = time.Duration(c.Source.RetryBackoffMs) * time.Millisecond
	}
	retry.OnRetry = resilience.RetryLogger("sitingapi", "get")

	breaker := resilience.NewBreaker("sitingapi", resilience.BreakerConfig{
		FailureThreshold: c.Source.BreakerThreshold,
		Cooldown:         time.Duration(c.Source.BreakerCooldownSecs) * time.Second,
	})

	opts := []sitingapi.Option{
		sitingapi.WithHTTPClient(&http.Client{Timeout: c.Source.Timeout()}),
		sitingapi.WithRateLimit(c.Source.RateLimit),
		sitingapi.WithRetry(retry),
		sitingapi.WithBreaker(breaker),
	}
	if c.Source.APIKey != "" {
		opts = append(opts, sitingapi.WithAPIKey(c.Source.APIKey))
	}
	return sitingapi.NewClient(c.Source.BaseURL, opts...)
}

// initSource opens the configured source, wrapping it with the snapshot
// cache when enabled. The returned closers release what was opened.
func initSource(ctx context.Context, c *config.Config) (loader.Source, []func(), error) {
	var (
		src     loader.Source
		closers []func()
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	switch c.Source.Driver {
	case "api":
		src = newAPIClient(c)
	case "postgres":
		pool, err := db.Connect(ctx, c.Source.DatabaseURL, db.PoolConfig{
			MaxConns: c.Source.MaxConns,
			MinConns: c.Source.MinConns,
		})
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, pool.Close)
		src = store.NewPostgresSource(pool)
	default:
		return nil, nil, eris.Errorf("unsupported source driver: %s", c.Source.Driver)
	}

	if c.Snapshot.Enabled && c.Snapshot.Path != "" {
		snaps, err := store.NewSnapshotStore(ctx, c.Snapshot.Path)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		closers = append(closers, func() { _ = snaps.Close() })
		src = loader.NewCached(src, snaps)
	}

	return src, closers, nil
}

package loader

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/coverage-map/internal/model"
	"github.com/sells-group/coverage-map/internal/store"
)

// Snapshots is the persistence the cache needs. *store.SnapshotStore
// implements it.
type Snapshots interface {
	Save(ctx context.Context, kind, variant string, v any) error
	Load(ctx context.Context, kind, variant string, dst any) (time.Time, bool, error)
}

// Cached wraps a Source, saving every successful payload and serving the
// last saved one when the upstream call fails.
type Cached struct {
	src       Source
	snapshots Snapshots
}

// NewCached creates a Cached source.
func NewCached(src Source, snapshots Snapshots) *Cached {
	return &Cached{src: src, snapshots: snapshots}
}

// Facilities implements Source.
func (c *Cached) Facilities(ctx context.Context) ([]model.Facility, error) {
	return cached(ctx, c, store.KindFacilities, "", func(ctx context.Context) ([]model.Facility, error) {
		return c.src.Facilities(ctx)
	})
}

// Recommendations implements Source. Snapshots are kept per parameter set.
func (c *Cached) Recommendations(ctx context.Context, params model.RecommendationParams) (*model.RecommendationList, error) {
	variant := params.FacilityType + "@" + strconv.FormatFloat(params.MaxTravelTimeMinutes, 'f', -1, 64)
	return cached(ctx, c, store.KindRecommendations, variant, func(ctx context.Context) (*model.RecommendationList, error) {
		return c.src.Recommendations(ctx, params)
	})
}

// PopulationGrid implements Source.
func (c *Cached) PopulationGrid(ctx context.Context) ([]model.HeatPoint, error) {
	return cached(ctx, c, store.KindPopulationGrid, "", func(ctx context.Context) ([]model.HeatPoint, error) {
		return c.src.PopulationGrid(ctx)
	})
}

// PopulationEstimate implements Source.
func (c *Cached) PopulationEstimate(ctx context.Context) (*model.PopulationEstimate, error) {
	return cached(ctx, c, store.KindPopulation, "", func(ctx context.Context) (*model.PopulationEstimate, error) {
		return c.src.PopulationEstimate(ctx)
	})
}

func cached[T any](ctx context.Context, c *Cached, kind, variant string, fetch func(context.Context) (T, error)) (T, error) {
	v, err := fetch(ctx)
	if err == nil {
		if saveErr := c.snapshots.Save(ctx, kind, variant, v); saveErr != nil {
			zap.L().Warn("loader: save snapshot", zap.String("kind", kind), zap.Error(saveErr))
		}
		return v, nil
	}
	if ctx.Err() != nil {
		return v, err
	}

	var snap T
	savedAt, ok, loadErr := c.snapshots.Load(ctx, kind, variant, &snap)
	if loadErr != nil {
		zap.L().Warn("loader: load snapshot", zap.String("kind", kind), zap.Error(loadErr))
	}
	if !ok {
		return v, err
	}

	zap.L().Warn("loader: upstream failed, serving snapshot",
		zap.String("kind", kind),
		zap.String("variant", variant),
		zap.Time("saved_at", savedAt),
		zap.Error(err),
	)
	return snap, nil
}

// Package loader pulls siting data from a source and pushes it into the map
// synchronizer.
package loader

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/coverage-map/internal/model"
)

// Source provides the siting data. Both the siting API client and the
// Postgres source implement it.
type Source interface {
	Facilities(ctx context.Context) ([]model.Facility, error)
	Recommendations(ctx context.Context, params model.RecommendationParams) (*model.RecommendationList, error)
	PopulationGrid(ctx context.Context) ([]model.HeatPoint, error)
	PopulationEstimate(ctx context.Context) (*model.PopulationEstimate, error)
}

// Sink receives loaded data. *mapsync.Synchronizer implements it.
type Sink interface {
	SetFacilities([]model.Facility)
	SetRecommendations([]model.Recommendation)
	SetPopulationGrid([]model.HeatPoint)
}

// Result summarizes one Load.
type Result struct {
	Facilities      int
	Recommendations int
	GridCells       int
	Elapsed         time.Duration
}

// Load fetches facilities, recommendations and the population grid
// concurrently and pushes each into sink as soon as it arrives. The first
// failure cancels the rest; data already pushed stays.
func Load(ctx context.Context, src Source, sink Sink, params model.RecommendationParams) (Result, error) {
	start := time.Now()
	var res Result

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		list, err := src.Facilities(gctx)
		if err != nil {
			return eris.Wrap(err, "loader: facilities")
		}
		sink.SetFacilities(list)
		res.Facilities = len(list)
		return nil
	})
	g.Go(func() error {
		list, err := src.Recommendations(gctx, params)
		if err != nil {
			return eris.Wrap(err, "loader: recommendations")
		}
		sink.SetRecommendations(list.Recommendations)
		res.Recommendations = len(list.Recommendations)
		return nil
	})
	g.Go(func() error {
		grid, err := src.PopulationGrid(gctx)
		if err != nil {
			return eris.Wrap(err, "loader: population grid")
		}
		sink.SetPopulationGrid(grid)
		res.GridCells = len(grid)
		return nil
	})

	err := g.Wait()
	res.Elapsed = time.Since(start)
	if err != nil {
		return res, err
	}

	zap.L().Info("loader: data loaded",
		zap.Int("facilities", res.Facilities),
		zap.Int("recommendations", res.Recommendations),
		zap.Int("grid_cells", res.GridCells),
		zap.Duration("elapsed", res.Elapsed),
	)
	return res, nil
}

// Districts adapts src to the synchronizer's async district fetch.
func Districts(src Source) func(ctx context.Context) ([]model.DistrictSummary, error) {
	return func(ctx context.Context) ([]model.DistrictSummary, error) {
		est, err := src.PopulationEstimate(ctx)
		if err != nil {
			return nil, eris.Wrap(err, "loader: district summary")
		}
		return est.Districts, nil
	}
}

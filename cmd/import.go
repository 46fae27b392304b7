package main

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/coverage-map/internal/db"
	"github.com/sells-group/coverage-map/internal/loader"
	"github.com/sells-group/coverage-map/internal/model"
	"github.com/sells-group/coverage-map/internal/store"
)

var (
	importMigrate    bool
	importTravelTime float64
	importAppendGrid bool
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Copy siting data from the API into Postgres",
	Long:  "Fetches facilities, recommendations and the population estimate from the siting API and writes them to the PostGIS tables read by the postgres source driver.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		pool, err := db.Connect(ctx, cfg.Source.DatabaseURL, db.PoolConfig{
			MaxConns: cfg.Source.MaxConns,
			MinConns: cfg.Source.MinConns,
		})
		if err != nil {
			return err
		}
		defer pool.Close()

		minutes := importTravelTime
		if minutes == 0 {
			minutes = cfg.Coverage.TravelTimeMinutes
		}

		opts := importOptions{Minutes: minutes, Migrate: importMigrate, AppendGrid: importAppendGrid}
		return runImport(ctx, newAPIClient(cfg), store.NewPostgresSource(pool), opts, cmd.OutOrStdout())
	},
}

// siteWriter is the Postgres side of import. *store.PostgresSource
// implements it.
type siteWriter interface {
	Migrate(ctx context.Context) error
	SaveFacilities(ctx context.Context, facilities []model.Facility) (int64, error)
	SaveRecommendations(ctx context.Context, list []model.Recommendation, maxTravelMinutes float64) (int64, error)
	SavePopulation(ctx context.Context, est *model.PopulationEstimate, appendGrid bool) error
	Counts(ctx context.Context) (map[string]int64, error)
}

type importOptions struct {
	Minutes    float64
	Migrate    bool
	AppendGrid bool
}

func runImport(ctx context.Context, src loader.Source, dst siteWriter, opts importOptions, out io.Writer) error {
	minutes := opts.Minutes
	if opts.Migrate {
		if err := dst.Migrate(ctx); err != nil {
			return err
		}
	}

	var (
		facilities []model.Facility
		recs       *model.RecommendationList
		est        *model.PopulationEstimate
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		facilities, err = src.Facilities(gctx)
		return eris.Wrap(err, "import: fetch facilities")
	})
	g.Go(func() error {
		var err error
		recs, err = src.Recommendations(gctx, model.RecommendationParams{
			FacilityType:         model.FilterAll,
			MaxTravelTimeMinutes: minutes,
		})
		return eris.Wrap(err, "import: fetch recommendations")
	})
	g.Go(func() error {
		var err error
		est, err = src.PopulationEstimate(gctx)
		return eris.Wrap(err, "import: fetch population")
	})
	if err := g.Wait(); err != nil {
		return err
	}

	nf, err := dst.SaveFacilities(ctx, facilities)
	if err != nil {
		return err
	}
	nr, err := dst.SaveRecommendations(ctx, recs.Recommendations, minutes)
	if err != nil {
		return err
	}
	if err := dst.SavePopulation(ctx, est, opts.AppendGrid); err != nil {
		return err
	}

	zap.L().Info("import complete",
		zap.Int64("facilities", nf),
		zap.Int64("recommendations", nr),
		zap.Int("grid_cells", len(est.HeatmapData)),
		zap.Int("districts", len(est.Districts)),
	)

	counts, err := dst.Counts(ctx)
	if err != nil {
		return err
	}
	tables := make([]string, 0, len(counts))
	for t := range counts {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	for _, t := range tables {
		fmt.Fprintf(out, "%-28s %d\n", t, counts[t])
	}
	return nil
}

func init() {
	importCmd.Flags().BoolVar(&importMigrate, "migrate", true, "create the siting schema before importing")
	importCmd.Flags().Float64Var(&importTravelTime, "travel-time", 0, "max travel time for recommendations (default from config)")
	importCmd.Flags().BoolVar(&importAppendGrid, "append-grid", false, "add population grid cells to the stored grid instead of replacing it")
	rootCmd.AddCommand(importCmd)
}

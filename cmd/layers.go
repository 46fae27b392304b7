package main

import (
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/coverage-map/internal/canvas"
	"github.com/sells-group/coverage-map/internal/layers"
	"github.com/sells-group/coverage-map/internal/mapsync"
	"github.com/sells-group/coverage-map/internal/model"
)

var (
	layersFilter     string
	layersTravelTime float64
	layersOn         []string
	layersOff        []string
	layersSelect     string
)

var layersCmd = &cobra.Command{
	Use:   "layers [category]",
	Short: "Load siting data once and print a layer as GeoJSON",
	Long:  "Loads siting data, applies the given operator inputs, and prints one layer category as a GeoJSON FeatureCollection. Without a category it prints the mounted layer summary.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		src, closers, err := initSource(ctx, cfg)
		if err != nil {
			return err
		}
		env, err := newMapEnv(cfg, src, closers...)
		if err != nil {
			for i := len(closers) - 1; i >= 0; i-- {
				closers[i]()
			}
			return err
		}
		defer env.Close()

		in := layerInputs{
			Filter:     layersFilter,
			TravelTime: layersTravelTime,
			On:         layersOn,
			Off:        layersOff,
			Select:     layersSelect,
		}
		return runLayers(ctx, env, in, args, cmd.OutOrStdout())
	},
}

type layerInputs struct {
	Filter     string
	TravelTime float64
	On         []string
	Off        []string
	Select     string
}

// apply pushes the inputs into the synchronizer. Selection is applied by the
// caller after data has loaded.
func (in layerInputs) apply(s *mapsync.Synchronizer) error {
	if in.Filter != "" {
		s.SetTypeFilter(strings.ToLower(in.Filter))
	}
	if in.TravelTime != 0 {
		if err := s.SetTravelTime(in.TravelTime); err != nil {
			return err
		}
	}
	for _, name := range in.On {
		if err := s.SetToggle(mapsync.Toggle(name), true); err != nil {
			return err
		}
	}
	for _, name := range in.Off {
		if err := s.SetToggle(mapsync.Toggle(name), false); err != nil {
			return err
		}
	}
	return nil
}

func runLayers(ctx context.Context, env *mapEnv, in layerInputs, args []string, out io.Writer) error {
	var (
		cat      layers.Category
		category bool
	)
	if len(args) == 1 {
		c, err := layers.ParseCategory(args[0])
		if err != nil {
			return err
		}
		cat, category = c, true
	}

	if err := in.apply(env.Sync); err != nil {
		return err
	}

	res, err := env.Reload(ctx)
	if err != nil {
		return eris.Wrap(err, "layers: load")
	}
	if in.Select != "" {
		id := model.NormalizeID(in.Select)
		if _, ok := env.Sync.Facility(id); !ok {
			return eris.Errorf("layers: facility %q not found", in.Select)
		}
		env.Sync.ToggleSelection(id)
	}
	env.Sync.Wait()

	zap.L().Info("layers synchronized",
		zap.Int("facilities", res.Facilities),
		zap.Int("recommendations", res.Recommendations),
		zap.Int("grid_cells", res.GridCells),
		zap.Any("mounted", env.Registry.Summary()),
	)

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")

	if !category {
		return enc.Encode(map[string]any{
			"mounted": env.Registry.Summary(),
			"state":   env.Sync.State(),
			"view":    env.Canvas.View(),
		})
	}

	g, _ := env.Registry.Group(cat)
	return enc.Encode(canvas.GeoJSON(g))
}

func init() {
	layersCmd.Flags().StringVar(&layersFilter, "filter", "", "facility type filter (default from config)")
	layersCmd.Flags().Float64Var(&layersTravelTime, "travel-time", 0, "travel time in minutes (default from config)")
	layersCmd.Flags().StringSliceVar(&layersOn, "on", nil, "toggles to switch on (facilities, recommendations, population, coverage_zones)")
	layersCmd.Flags().StringSliceVar(&layersOff, "off", nil, "toggles to switch off")
	layersCmd.Flags().StringVar(&layersSelect, "select", "", "facility id whose individual coverage circle to draw")
	rootCmd.AddCommand(layersCmd)
}

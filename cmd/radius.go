package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/coverage-map/internal/coverage"
	"github.com/sells-group/coverage-map/internal/model"
)

var (
	radiusType    string
	radiusMode    string
	radiusMinutes float64
)

var radiusCmd = &cobra.Command{
	Use:   "radius",
	Short: "Print coverage radii for a facility type, or the whole speed table",
	RunE: func(cmd *cobra.Command, args []string) error {
		cov, _, err := buildCoverage(cfg)
		if err != nil {
			return err
		}
		minutes := radiusMinutes
		if minutes == 0 {
			minutes = cfg.Coverage.TravelTimeMinutes
		}
		if !(minutes > 0) {
			return fmt.Errorf("minutes must be positive, got %v", minutes)
		}
		return printRadii(cmd.OutOrStdout(), cov, model.FacilityType(strings.ToLower(radiusType)), radiusMode, minutes)
	},
}

// printRadii writes one row per type and mode. An empty ft prints every
// known type.
func printRadii(out io.Writer, cov *coverage.Model, ft model.FacilityType, mode string, minutes float64) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "TYPE\tMODE\tSPEED_KMH\tMINUTES\tRADIUS_M\n")

	row := func(ft model.FacilityType, mode string) {
		label := mode
		if label == "" {
			label = "default"
		}
		fmt.Fprintf(w, "%s\t%s\t%.1f\t%g\t%.0f\n",
			ft, label, cov.Speed(ft, mode), minutes, cov.RadiusMeters(minutes, ft, mode))
	}

	switch {
	case ft != "":
		row(ft, mode)
	default:
		for _, t := range model.FacilityTypes {
			row(t, "")
			for _, m := range cov.Table().Modes(t) {
				row(t, m)
			}
		}
	}
	return w.Flush()
}

func init() {
	radiusCmd.Flags().StringVar(&radiusType, "type", "", "facility type (default: all types)")
	radiusCmd.Flags().StringVar(&radiusMode, "mode", "", "transport mode (default: type default)")
	radiusCmd.Flags().Float64Var(&radiusMinutes, "minutes", 0, "travel time in minutes (default from config)")
	rootCmd.AddCommand(radiusCmd)
}

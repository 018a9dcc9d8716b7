package cmd

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/forcesim/forcesim-client/forcesim/points"
)

var pointsFile string

var pointsCmd = &cobra.Command{
	Use:   "points",
	Short: "Summarize a points file written by a run",
	Run: func(cmd *cobra.Command, args []string) {
		setupLogging()

		pts, err := points.LoadFile(pointsFile)
		if err != nil {
			logrus.Fatalf("Failed to load points: %v", err)
		}
		writeSummary(cmd.OutOrStdout(), pointsFile, points.Summarize(pts))
	},
}

func writeSummary(w io.Writer, path string, s points.Summary) {
	_, _ = fmt.Fprintf(w, "=== %s ===\n", path)
	_, _ = fmt.Fprintf(w, "Points : %d\n", s.Count)
	if s.Count == 0 {
		return
	}
	_, _ = fmt.Fprintf(w, "Range  : t=%d..%d\n", s.First.Timepoint, s.Last.Timepoint)
	_, _ = fmt.Fprintf(w, "First  : %g\n", s.First.Value)
	_, _ = fmt.Fprintf(w, "Last   : %g\n", s.Last.Value)
	_, _ = fmt.Fprintf(w, "Min    : %g\n", s.Min)
	_, _ = fmt.Fprintf(w, "Max    : %g\n", s.Max)
	_, _ = fmt.Fprintf(w, "Mean   : %.4f\n", s.Mean)
}

func init() {
	pointsCmd.Flags().StringVar(&pointsFile, "points-file", "", "Points file (JSON) to summarize")
	_ = pointsCmd.MarkFlagRequired("points-file")

	rootCmd.AddCommand(pointsCmd)
}

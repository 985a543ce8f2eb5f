package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show per-service request statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireCollector(); err != nil {
			return err
		}
		stats, err := Collector.Stats(cmd.Context())
		if err != nil {
			return fmt.Errorf("fetching stats: %w", err)
		}
		out := cmd.OutOrStdout()
		if len(stats) == 0 {
			fmt.Fprintln(out, "No traffic recorded yet.")
			return nil
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SERVICE\tREQUESTS\tERRORS\tRATE LIMITED\tAVG\tP95")
		for _, s := range stats {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%.1fms\t%dms\n", s.ServiceName, s.Requests, s.Errors, s.RateLimitHits, s.AvgLatencyMs, s.P95LatencyMs)
		}
		return tw.Flush()
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

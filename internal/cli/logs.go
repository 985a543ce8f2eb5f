package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/leapstack/leap-collector/internal/models"
)

var (
	logsService  string
	logsEndpoint string
	logsLimit    int

	sendEntry models.LogEntry
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Browse and submit request logs",
}

var logsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored request logs, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireCollector(); err != nil {
			return err
		}
		logs, err := Collector.ListLogs(cmd.Context(), models.LogFilter{ServiceName: logsService, Endpoint: logsEndpoint, Limit: logsLimit})
		if err != nil {
			return fmt.Errorf("listing logs: %w", err)
		}
		out := cmd.OutOrStdout()
		if len(logs) == 0 {
			fmt.Fprintln(out, "No logs.")
			return nil
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TIME\tSERVICE\tMETHOD\tENDPOINT\tSTATUS\tLATENCY\tLIMITED")
		for _, e := range logs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%dms\t%t\n", e.Timestamp.Format("15:04:05.000"), e.ServiceName,
				e.RequestMethod, e.Endpoint, e.StatusCode, e.LatencyMs, e.IsRateLimitHit)
		}
		return tw.Flush()
	},
}

var logsSendCmd = &cobra.Command{
	Use:   "send",
	Short: "Submit one synthetic request log",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireCollector(); err != nil {
			return err
		}
		if err := Collector.SendLog(cmd.Context(), sendEntry); err != nil {
			return fmt.Errorf("sending log: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Sent %s %s (%d, %dms)\n", sendEntry.ServiceName, sendEntry.Endpoint, sendEntry.StatusCode, sendEntry.LatencyMs)
		return nil
	},
}

func init() {
	logsListCmd.Flags().StringVar(&logsService, "service", "", "only logs of this service")
	logsListCmd.Flags().StringVar(&logsEndpoint, "endpoint", "", "only logs of this endpoint")
	logsListCmd.Flags().IntVar(&logsLimit, "limit", 50, "maximum number of logs (0 for all)")

	f := logsSendCmd.Flags()
	f.StringVar(&sendEntry.ServiceName, "service", "", "service name")
	f.StringVar(&sendEntry.Endpoint, "endpoint", "", "endpoint path")
	f.StringVar(&sendEntry.RequestMethod, "method", "GET", "request method")
	f.IntVar(&sendEntry.StatusCode, "status", 200, "response status code")
	f.Int64Var(&sendEntry.LatencyMs, "latency", 0, "latency in milliseconds")
	f.BoolVar(&sendEntry.IsRateLimitHit, "rate-limited", false, "mark the request as rate limited")
	_ = logsSendCmd.MarkFlagRequired("service")
	_ = logsSendCmd.MarkFlagRequired("endpoint")

	logsCmd.AddCommand(logsListCmd, logsSendCmd)
	rootCmd.AddCommand(logsCmd)
}

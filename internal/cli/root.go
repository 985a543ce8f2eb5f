package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/leapstack/leap-collector/internal/models"
	"github.com/leapstack/leap-collector/internal/repo"
)

var (
	appVersion = "dev"
	appCommit  = "none"
)

// SetVersionInfo sets the version information injected via ldflags.
func SetVersionInfo(version, commit string) {
	appVersion = version
	appCommit = commit
}

// CollectorAPI is the subset of the collector client the commands use.
type CollectorAPI interface {
	SendLog(ctx context.Context, entry models.LogEntry) error
	ListLogs(ctx context.Context, filter models.LogFilter) ([]models.LogEntry, error)
	ListOpenIncidents(ctx context.Context) ([]models.Incident, error)
	ResolveIncident(ctx context.Context, incidentID, userID string) (models.Incident, error)
	Stats(ctx context.Context) ([]models.ServiceStats, error)
}

// Collector is the client commands talk to. It is built from the --url flag
// unless already set.
var Collector CollectorAPI

var (
	collectorURL string
	timeout      time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "leapctl",
	Short: "Operate a leap collector",
	Long: `leapctl inspects and operates a running leap collector: list and resolve
incidents, browse and submit request logs, and show per-service statistics.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if Collector == nil {
			Collector = repo.NewCollectorClient(collectorURL, timeout)
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "leapctl %s\ncommit: %s\n", appVersion, appCommit)
	},
}

func init() {
	defaultURL := os.Getenv("LEAP_COLLECTOR_URL")
	if defaultURL == "" {
		defaultURL = "http://localhost:8080"
	}
	rootCmd.PersistentFlags().StringVar(&collectorURL, "url", defaultURL, "collector base URL")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Second, "request timeout")
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func requireCollector() error {
	if Collector == nil {
		return fmt.Errorf("collector client not initialized")
	}
	return nil
}

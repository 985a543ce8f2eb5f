package cli

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/leapstack/leap-collector/internal/models"
)

var resolveUser string

var incidentsCmd = &cobra.Command{
	Use:   "incidents",
	Short: "List and resolve incidents",
}

var incidentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List open incidents",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireCollector(); err != nil {
			return err
		}
		incidents, err := Collector.ListOpenIncidents(cmd.Context())
		if err != nil {
			return fmt.Errorf("listing incidents: %w", err)
		}

		out := cmd.OutOrStdout()
		if len(incidents) == 0 {
			fmt.Fprintln(out, "No open incidents.")
			return nil
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSEVERITY\tSERVICE\tENDPOINT\tOCCURRED\tDESCRIPTION")
		for _, inc := range incidents {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", inc.ID, inc.Severity, inc.ServiceName, inc.Endpoint,
				inc.OccurredAt.Format("2006-01-02 15:04:05 UTC"), inc.Description)
		}
		return tw.Flush()
	},
}

var incidentsResolveCmd = &cobra.Command{
	Use:   "resolve <incident-id>",
	Short: "Resolve an open incident",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireCollector(); err != nil {
			return err
		}
		user := resolveUser
		if user == "" {
			user = os.Getenv("USER")
		}
		incident, err := Collector.ResolveIncident(cmd.Context(), args[0], user)
		switch {
		case errors.Is(err, models.ErrAlreadyResolved):
			fmt.Fprintf(cmd.OutOrStdout(), "Incident %s was already resolved.\n", args[0])
			return nil
		case err != nil:
			return fmt.Errorf("resolving incident %s: %w", args[0], err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Resolved %s (%s %s) by %s\n", incident.ID, incident.ServiceName, incident.Endpoint, user)
		return nil
	},
}

func init() {
	incidentsResolveCmd.Flags().StringVar(&resolveUser, "user", "", "user recorded as the resolver (defaults to $USER)")
	incidentsCmd.AddCommand(incidentsListCmd, incidentsResolveCmd)
	rootCmd.AddCommand(incidentsCmd)
}

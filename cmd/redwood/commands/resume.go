package commands

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dyluth/redwood/internal/admin"
	"github.com/dyluth/redwood/internal/printer"
)

var (
	resumePeriod   int
	resumeSubjects string
)

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Release subjects waiting in a paused period",
	Long: `Publishes __resume__ for subjects paused at the start of a period.

Examples:
  # Release everyone in period 3
  redwood resume --period 3

  # Release two subjects only
  redwood resume --period 3 --subject 4,7`,
	RunE: runResume,
}

func init() {
	resumeCmd.Flags().IntVarP(&resumePeriod, "period", "p", 0, "Paused period to release (required)")
	resumeCmd.Flags().StringVar(&resumeSubjects, "subject", "", "Comma-separated subject ids (default: everyone in the period)")
	resumeCmd.MarkFlagRequired("period")
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	client, err := connect(ctx, instanceName, sessionID)
	if err != nil {
		return err
	}
	defer client.Close()

	released, err := admin.Resume(ctx, client, client, resumePeriod, splitList(resumeSubjects)...)
	if err != nil {
		return printer.Error("resume failed", err.Error(), []string{"Check subject periods:\n  redwood status"})
	}
	if len(released) == 0 {
		printer.Warning("No subjects are in period %d\n", resumePeriod)
		return nil
	}
	printer.Success("Resumed period %d for %s\n", resumePeriod, strings.Join(released, ", "))
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

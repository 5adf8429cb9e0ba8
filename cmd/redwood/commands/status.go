package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dyluth/redwood/internal/journal"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show each subject's period, group and page",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	client, err := connect(ctx, instanceName, sessionID)
	if err != nil {
		return err
	}
	defer client.Close()

	periods, err := client.Periods(ctx)
	if err != nil {
		return fmt.Errorf("failed to read periods: %w", err)
	}
	groups, err := client.Groups(ctx)
	if err != nil {
		return fmt.Errorf("failed to read groups: %w", err)
	}
	pages, err := client.Pages(ctx)
	if err != nil {
		return fmt.Errorf("failed to read pages: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Session %s:%d\n\n", client.Instance(), client.Session())
	journal.FormatStatus(out, periods, groups, pages)
	return nil
}

package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dyluth/redwood/internal/printer"
)

var resetYes bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete a session's log and tables",
	Long: `Deletes everything stored for a session: its logs, sequence counter,
subject tables and configuration. Connected participants are not notified.`,
	RunE: runReset,
}

func init() {
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "Do not ask for confirmation")
	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if !resetYes {
		return printer.Error(
			"confirmation required",
			fmt.Sprintf("This deletes session %s:%d permanently.", instanceName, sessionID),
			[]string{"Re-run with --yes"},
		)
	}

	client, err := connect(ctx, instanceName, sessionID)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.DeleteSession(ctx); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	printer.Success("Session %s:%d deleted\n", client.Instance(), client.Session())
	return nil
}

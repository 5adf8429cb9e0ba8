package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dyluth/redwood/internal/admin"
	"github.com/dyluth/redwood/internal/config"
	"github.com/dyluth/redwood/internal/printer"
)

var (
	startConfigPath string
	startForce      bool
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Configure a session and move every subject to period 1",
	Long: `Publishes the period configuration from a session file, places each
subject in its starting group and moves every subject to period 1.

The instance and session default to the values in the session file.

Examples:
  # Start the session described by session.yml
  redwood start --config session.yml

  # Run the same design as session 4
  redwood start --config session.yml --session 4`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().StringVarP(&startConfigPath, "config", "c", "session.yml", "Path to the session file")
	startCmd.Flags().BoolVar(&startForce, "force", false, "Start even if the session already has a log")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load(startConfigPath)
	if err != nil {
		return printer.ErrorWithContext(
			"invalid session file",
			err.Error(),
			map[string]string{"File": startConfigPath},
			[]string{"Fix the session file and try again"},
		)
	}

	instance, session := instanceName, sessionID
	if instance == "" {
		instance = cfg.Instance
	}
	if session == 0 {
		session = cfg.Session
	}

	client, err := connect(ctx, instance, session)
	if err != nil {
		return err
	}
	defer client.Close()

	existing, err := client.SessionLog(ctx)
	if err != nil {
		return fmt.Errorf("failed to read session log: %w", err)
	}
	if len(existing) > 0 && !startForce {
		return printer.Error(
			fmt.Sprintf("session %s:%d already started", instance, session),
			fmt.Sprintf("The session log already holds %d envelopes.", len(existing)),
			[]string{
				fmt.Sprintf("Clear it first:\n  redwood reset --instance %s --session %d", instance, session),
				"Start anyway with --force",
			},
		)
	}

	printer.Step("Starting session %s:%d with %d subjects and %d periods\n", instance, session, len(cfg.Subjects), len(cfg.Periods))
	if err := admin.Start(ctx, client, cfg); err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	printer.Success("Session %s:%d started\n", instance, session)
	return nil
}

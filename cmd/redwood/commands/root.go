package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/dyluth/redwood/internal/instance"
	"github.com/dyluth/redwood/internal/printer"
	"github.com/dyluth/redwood/pkg/bus"
)

var (
	version string
	commit  string
	date    string

	redisURL     string
	instanceName string
	sessionID    int
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "redwood",
	Short: "Redwood - lock-step sessions for multi-participant experiments",
	Long: `Redwood runs experiments where every participant moves through the same
sequence of periods together. Participants talk to each other through a
Redis-backed session log; this tool configures sessions, releases paused
periods and inspects what happened.`,
	Version: version,
	// Prevent silent success when unknown flags are passed to root command
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	FParseErrWhitelist: cobra.FParseErrWhitelist{},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	// We print formatted colored errors directly in the printer package
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	defaultURL := os.Getenv("REDIS_URL")
	if defaultURL == "" {
		defaultURL = "redis://localhost:6379"
	}
	rootCmd.PersistentFlags().StringVar(&redisURL, "redis", defaultURL, "Redis URL (default from REDIS_URL)")
	rootCmd.PersistentFlags().StringVarP(&instanceName, "instance", "i", os.Getenv("REDWOOD_INSTANCE"), "Instance name (default from REDWOOD_INSTANCE)")
	rootCmd.PersistentFlags().IntVarP(&sessionID, "session", "s", 0, "Session number")
}

// connect opens a bus client for the selected session and checks Redis is reachable.
func connect(ctx context.Context, inst string, session int) (*bus.Client, error) {
	if inst == "" {
		return nil, printer.Error(
			"no instance selected",
			"Every command operates on one instance and session.",
			[]string{"Pass --instance, or set REDWOOD_INSTANCE"},
		)
	}
	if err := instance.ValidateName(inst); err != nil {
		return nil, printer.Error(
			"invalid instance name",
			err.Error(),
			[]string{"Instance names are lowercase alphanumeric with hyphens"},
		)
	}
	if session <= 0 {
		return nil, printer.Error(
			"no session selected",
			"Every command operates on one instance and session.",
			[]string{"Pass --session with a positive session number"},
		)
	}

	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, printer.Error(
			"invalid Redis URL",
			fmt.Sprintf("Could not parse %q: %v", redisURL, err),
			[]string{"Use the form redis://host:port/db"},
		)
	}

	client, err := bus.NewClient(redisOpts, inst, session)
	if err != nil {
		return nil, fmt.Errorf("failed to create bus client: %w", err)
	}

	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, printer.ErrorWithContext(
			"Redis connection failed",
			fmt.Sprintf("Could not connect to Redis at %s", redisURL),
			map[string]string{"Error": err.Error()},
			[]string{"Check Redis is running and --redis points at it"},
		)
	}
	return client, nil
}

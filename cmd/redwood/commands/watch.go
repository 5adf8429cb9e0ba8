package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyluth/redwood/internal/journal"
	"github.com/dyluth/redwood/internal/printer"
	"github.com/dyluth/redwood/internal/watch"
)

var (
	watchOutputFormat string
	watchKey          string
	watchSender       string
	watchSubject      string
	watchPeriod       int
	watchTimeout      time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream a session's traffic as it happens",
	Long: `Streams every envelope published to the session until interrupted.

With --until-period, waits for a subject to reach a period instead, which is
useful in scripts that drive a session.

Examples:
  # Follow the session
  redwood watch

  # Only chat, as JSON
  redwood watch --key chat --output json

  # Block until subject 3 reaches period 5
  redwood watch --subject 3 --until-period 5 --timeout 10m`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&watchOutputFormat, "output", "o", "default", "Output format: default or json")
	watchCmd.Flags().StringVar(&watchKey, "key", "", "Filter by key (glob pattern)")
	watchCmd.Flags().StringVar(&watchSender, "sender", "", "Filter by sender (exact match)")
	watchCmd.Flags().StringVar(&watchSubject, "subject", "", "Subject to wait for (with --until-period)")
	watchCmd.Flags().IntVar(&watchPeriod, "until-period", 0, "Wait until --subject reaches this period")
	watchCmd.Flags().DurationVar(&watchTimeout, "timeout", 5*time.Minute, "How long --until-period waits")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var format watch.OutputFormat
	switch watchOutputFormat {
	case "default":
		format = watch.OutputFormatDefault
	case "json":
		format = watch.OutputFormatJSON
	default:
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", watchOutputFormat),
			[]string{"Valid formats: default, json"},
		)
	}

	client, err := connect(ctx, instanceName, sessionID)
	if err != nil {
		return err
	}
	defer client.Close()

	if watchPeriod > 0 {
		if watchSubject == "" {
			return printer.Error("no subject selected", "--until-period needs a subject to wait for.", []string{"Pass --subject"})
		}
		if err := watch.PollForPeriod(ctx, client, watchSubject, watchPeriod, watchTimeout); err != nil {
			return printer.Error("wait failed", err.Error(), nil)
		}
		printer.Success("Subject %s reached period %d\n", watchSubject, watchPeriod)
		return nil
	}

	filters := &journal.FilterCriteria{KeyGlob: watchKey, Sender: watchSender}
	if err := watch.Stream(ctx, client, format, filters, cmd.OutOrStdout(), cmd.ErrOrStderr()); err != nil {
		return fmt.Errorf("failed to watch session: %w", err)
	}
	return nil
}

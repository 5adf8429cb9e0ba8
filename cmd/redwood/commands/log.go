package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyluth/redwood/internal/journal"
	"github.com/dyluth/redwood/internal/printer"
	"github.com/dyluth/redwood/internal/timespec"
)

var (
	logPeriod       int
	logOutputFormat string
	logKey          string
	logSender       string
	logSince        string
	logUntil        string
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Print a session's persisted log",
	Long: `Prints the persisted envelopes of a session, or of one period.

Output Formats:
  default - Human-readable table with truncated values
  jsonl   - Line-delimited JSON, one envelope per line

Filters:
  --key    - Filter by key (glob pattern: "offer*", "__*")
  --sender - Filter by sender (exact match: "3", "admin")
  --since  - Only envelopes published after (duration "10m" or RFC3339)
  --until  - Only envelopes published before (duration or RFC3339)

Examples:
  # Everything that happened in period 2
  redwood log --period 2

  # Global values (period 0)
  redwood log --period 0

  # Every offer as JSONL for piping to jq
  redwood log --key 'offer*' --output jsonl | jq .value

  # What happened in the last five minutes
  redwood log --since 5m`,
	RunE: runLog,
}

func init() {
	logCmd.Flags().IntVarP(&logPeriod, "period", "p", journal.AllPeriods, "Period to print (default: the whole session)")
	logCmd.Flags().StringVarP(&logOutputFormat, "output", "o", "default", "Output format: default or jsonl")
	logCmd.Flags().StringVar(&logKey, "key", "", "Filter by key (glob pattern)")
	logCmd.Flags().StringVar(&logSender, "sender", "", "Filter by sender (exact match)")
	logCmd.Flags().StringVar(&logSince, "since", "", "Only envelopes published after this time")
	logCmd.Flags().StringVar(&logUntil, "until", "", "Only envelopes published before this time")
	rootCmd.AddCommand(logCmd)
}

func runLog(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	var format journal.OutputFormat
	switch logOutputFormat {
	case "default":
		format = journal.OutputFormatDefault
	case "jsonl":
		format = journal.OutputFormatJSONL
	default:
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", logOutputFormat),
			[]string{"Valid formats: default, jsonl"},
		)
	}

	if logPeriod < journal.AllPeriods {
		return printer.Error(
			"invalid period",
			fmt.Sprintf("Period must be >= 0, got %d", logPeriod),
			[]string{"Omit --period to print the whole session"},
		)
	}

	sinceNs, untilNs, err := timespec.ParseRange(logSince, logUntil, time.Now())
	if err != nil {
		return printer.Error(
			"invalid time range",
			err.Error(),
			[]string{"Use a duration like '1h30m' or an RFC3339 timestamp"},
		)
	}

	client, err := connect(ctx, instanceName, sessionID)
	if err != nil {
		return err
	}
	defer client.Close()

	filters := &journal.FilterCriteria{
		SinceNs: sinceNs,
		UntilNs: untilNs,
		KeyGlob: logKey,
		Sender:  logSender,
	}
	if err := journal.List(ctx, client, logPeriod, format, filters, cmd.OutOrStdout()); err != nil {
		return fmt.Errorf("failed to print log: %w", err)
	}
	return nil
}

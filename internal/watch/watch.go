// Package watch follows a session as it runs.
package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dyluth/redwood/internal/journal"
	"github.com/dyluth/redwood/internal/printer"
	"github.com/dyluth/redwood/pkg/bus"
)

// OutputFormat specifies how streamed envelopes are written.
type OutputFormat string

const (
	// OutputFormatDefault writes one colored line per envelope
	OutputFormatDefault OutputFormat = "default"

	// OutputFormatJSON writes one JSON object per line
	OutputFormatJSON OutputFormat = "json"
)

// Source subscribes to live session traffic. *bus.Client implements it.
type Source interface {
	Subscribe(ctx context.Context) (*bus.Subscription, error)
}

// Stream writes every envelope published to the session until ctx is
// cancelled or the subscription ends. Malformed payloads are reported to
// errOut and skipped.
func Stream(ctx context.Context, src Source, format OutputFormat, filters *journal.FilterCriteria, w, errOut io.Writer) error {
	switch format {
	case OutputFormatDefault, OutputFormatJSON, "":
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}

	subscription, err := src.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	defer subscription.Close()

	for {
		select {
		case <-ctx.Done():
			return nil

		case env, ok := <-subscription.Events():
			if !ok {
				return nil
			}
			if filters != nil && !filters.Matches(env) {
				continue
			}
			if err := write(w, env, format); err != nil {
				return err
			}

		case err, ok := <-subscription.Errors():
			if !ok {
				return nil
			}
			fmt.Fprintf(errOut, "skipping malformed envelope: %v\n", err)
		}
	}
}

func write(w io.Writer, env *bus.Envelope, format OutputFormat) error {
	if format != OutputFormatJSON {
		printer.Envelope(w, env)
		return nil
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope %d: %w", env.Seq, err)
	}
	if _, err := fmt.Fprintf(w, "%s\n", data); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

// PeriodReader reads the subject period table. *bus.Client implements it.
type PeriodReader interface {
	Periods(ctx context.Context) (map[string]int, error)
}

// PollForPeriod polls until subject has reached period.
// Polls every 200ms for the specified timeout duration.
func PollForPeriod(ctx context.Context, r PeriodReader, subject string, period int, timeout time.Duration) error {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	timeoutCh := time.After(timeout)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-timeoutCh:
			return fmt.Errorf("timeout waiting for subject %s to reach period %d after %v", subject, period, timeout)

		case <-ticker.C:
			periods, err := r.Periods(ctx)
			if err != nil {
				return fmt.Errorf("failed to read periods: %w", err)
			}
			if periods[subject] >= period {
				return nil
			}
		}
	}
}

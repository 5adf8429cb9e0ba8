// Package journal prints persisted session logs.
package journal

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/dyluth/redwood/pkg/bus"
)

// OutputFormat specifies how envelopes are printed.
type OutputFormat string

const (
	// OutputFormatDefault prints a table with truncated values
	OutputFormatDefault OutputFormat = "default"

	// OutputFormatJSONL prints complete envelopes as line-delimited JSON
	OutputFormatJSONL OutputFormat = "jsonl"
)

// AllPeriods selects the whole session log.
const AllPeriods = -1

// Reader reads persisted logs. *bus.Client implements it.
type Reader interface {
	SessionLog(ctx context.Context) ([]*bus.Envelope, error)
	PeriodLog(ctx context.Context, period int) ([]*bus.Envelope, error)
}

// FilterCriteria narrows a listing. All filters are ANDed together.
type FilterCriteria struct {
	SinceNs int64  // Unix nanoseconds, 0 = no filter
	UntilNs int64  // Unix nanoseconds, 0 = no filter
	KeyGlob string // Glob pattern for the key, empty = no filter
	Sender  string // Exact sender, empty = no filter
}

// Matches reports whether env passes every filter.
func (fc *FilterCriteria) Matches(env *bus.Envelope) bool {
	if fc.SinceNs > 0 && env.Time < fc.SinceNs {
		return false
	}
	if fc.UntilNs > 0 && env.Time > fc.UntilNs {
		return false
	}
	if fc.KeyGlob != "" {
		matched, err := filepath.Match(fc.KeyGlob, env.Key)
		if err != nil || !matched {
			return false
		}
	}
	if fc.Sender != "" && env.Sender != fc.Sender {
		return false
	}
	return true
}

// List reads the log of period (or the whole session for AllPeriods), filters
// it and writes it to w in seq order.
func List(ctx context.Context, r Reader, period int, format OutputFormat, filters *FilterCriteria, w io.Writer) error {
	var (
		envelopes []*bus.Envelope
		err       error
		title     string
	)
	if period == AllPeriods {
		envelopes, err = r.SessionLog(ctx)
		title = "the session"
	} else {
		envelopes, err = r.PeriodLog(ctx, period)
		title = fmt.Sprintf("period %d", period)
		if period == 0 {
			title = "global values"
		}
	}
	if err != nil {
		return fmt.Errorf("failed to read log: %w", err)
	}

	if filters != nil {
		kept := envelopes[:0]
		for _, env := range envelopes {
			if filters.Matches(env) {
				kept = append(kept, env)
			}
		}
		envelopes = kept
	}

	switch format {
	case OutputFormatDefault, "":
		FormatTable(w, envelopes, title)
	case OutputFormatJSONL:
		if err := FormatJSONL(w, envelopes); err != nil {
			return fmt.Errorf("failed to format JSONL output: %w", err)
		}
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}

	return nil
}

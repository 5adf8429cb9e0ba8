package journal

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/dyluth/redwood/pkg/bus"
)

// FormatTable writes envelopes as a table.
// The table includes columns: SEQ, PERIOD, GROUP, SENDER, KEY, AGE and VALUE (truncated).
// Returns the number of envelopes formatted.
func FormatTable(w io.Writer, envelopes []*bus.Envelope, title string) int {
	if len(envelopes) == 0 {
		fmt.Fprintf(w, "No envelopes found for %s\n", title)
		return 0
	}

	fmt.Fprintf(w, "Envelopes for %s:\n\n", title)

	fmt.Fprintf(w, "%-6s %-6s %-5s %-10s %-20s %-8s %s\n",
		"SEQ", "PERIOD", "GROUP", "SENDER", "KEY", "AGE", "VALUE")
	fmt.Fprintf(w, "%-6s %-6s %-5s %-10s %-20s %-8s %s\n",
		"------", "------", "-----", "----------", "--------------------", "--------", "----------------------------------------")

	for _, env := range envelopes {
		fmt.Fprintf(w, "%-6d %-6s %-5d %-10s %-20s %-8s %s\n",
			env.Seq,
			formatPeriod(env.Period),
			env.Group,
			formatSender(env.Sender),
			formatKey(env.Key),
			formatTime(env.Time),
			formatValue(env.Value),
		)
	}

	noun := "envelope"
	if len(envelopes) != 1 {
		noun = "envelopes"
	}
	fmt.Fprintf(w, "\n%d %s found\n", len(envelopes), noun)

	return len(envelopes)
}

// FormatJSONL writes envelopes as line-delimited JSON, one per line.
func FormatJSONL(w io.Writer, envelopes []*bus.Envelope) error {
	for _, env := range envelopes {
		data, err := json.Marshal(env)
		if err != nil {
			return fmt.Errorf("failed to marshal envelope %d to JSON: %w", env.Seq, err)
		}
		if _, err := fmt.Fprintf(w, "%s\n", data); err != nil {
			return fmt.Errorf("failed to write JSONL output: %w", err)
		}
	}
	return nil
}

// FormatStatus writes the per-subject period, group and page tables.
func FormatStatus(w io.Writer, periods, groups map[string]int, pages map[string]string) {
	ids := make([]string, 0, len(periods)+len(groups))
	seen := make(map[string]bool)
	for _, table := range []map[string]int{periods, groups} {
		for id := range table {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	for id := range pages {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		fmt.Fprintln(w, "No subjects have joined")
		return
	}
	slices.Sort(ids)

	fmt.Fprintf(w, "%-10s %-6s %-5s %s\n", "SUBJECT", "PERIOD", "GROUP", "PAGE")
	fmt.Fprintf(w, "%-10s %-6s %-5s %s\n", "----------", "------", "-----", "------")
	for _, id := range ids {
		page := pages[id]
		if page == "" {
			page = "-"
		}
		fmt.Fprintf(w, "%-10s %-6d %-5d %s\n", formatSender(id), periods[id], groups[id], page)
	}
}

// formatPeriod shows global envelopes as "global".
func formatPeriod(period int) string {
	if period == 0 {
		return "global"
	}
	return fmt.Sprintf("%d", period)
}

func formatSender(sender string) string {
	if len(sender) > 10 {
		return sender[:7] + "..."
	}
	return sender
}

func formatKey(key string) string {
	if len(key) > 20 {
		return key[:17] + "..."
	}
	return key
}

// formatValue shows compact JSON truncated to 40 characters. Missing values return "-".
func formatValue(value json.RawMessage) string {
	if len(value) == 0 {
		return "-"
	}
	text := strings.Join(strings.Fields(string(value)), " ")
	if len(text) > 40 {
		return text[:37] + "..."
	}
	return text
}

// formatTime formats a Unix timestamp in nanoseconds as a relative age.
func formatTime(unixNano int64) string {
	if unixNano == 0 {
		return "-"
	}

	diff := time.Since(time.Unix(0, unixNano))
	switch {
	case diff < time.Minute:
		return fmt.Sprintf("%ds ago", int(diff.Seconds()))
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	}
}

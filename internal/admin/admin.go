// Package admin drives a session from outside: it configures and starts
// subjects and releases paused ones, publishing on the admin's behalf or on
// behalf of the subjects it moves.
package admin

import (
	"context"
	"fmt"
	"slices"

	"github.com/dyluth/redwood/internal/config"
	"github.com/dyluth/redwood/pkg/bus"
)

// Publisher publishes envelopes to a session. *bus.Client implements it.
type Publisher interface {
	Publish(ctx context.Context, env *bus.Envelope) (*bus.Envelope, error)
}

// Tables reads the subject tables of a session. *bus.Client implements it.
type Tables interface {
	Periods(ctx context.Context) (map[string]int, error)
	Groups(ctx context.Context) (map[string]int, error)
}

// Start publishes the period configuration, puts every subject in its
// starting group and moves them all to period 1.
func Start(ctx context.Context, p Publisher, cfg *config.SessionConfig) error {
	if err := publish(ctx, p, bus.AdminSender, 0, 0, bus.KeySetConfig, cfg.Periods); err != nil {
		return err
	}

	for _, id := range cfg.Subjects {
		group := groupOf(cfg, id)
		if err := publish(ctx, p, id, 0, group, bus.KeySetGroup, bus.GroupValue{Group: group}); err != nil {
			return err
		}
	}
	for _, id := range cfg.Subjects {
		if err := publish(ctx, p, id, 1, groupOf(cfg, id), bus.KeySetPeriod, bus.PeriodValue{Period: 1}); err != nil {
			return err
		}
	}
	return nil
}

// Resume releases subjects paused in period. With no subjects given, every
// subject currently in period is released. It returns the ids it released.
func Resume(ctx context.Context, p Publisher, t Tables, period int, subjects ...string) ([]string, error) {
	periods, err := t.Periods(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read periods: %w", err)
	}
	groups, err := t.Groups(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read groups: %w", err)
	}

	if len(subjects) == 0 {
		for id, current := range periods {
			if current == period {
				subjects = append(subjects, id)
			}
		}
		slices.Sort(subjects)
	}

	for _, id := range subjects {
		current, ok := periods[id]
		if !ok {
			return nil, fmt.Errorf("unknown subject '%s'", id)
		}
		if current != period {
			return nil, fmt.Errorf("subject '%s' is in period %d, not %d", id, current, period)
		}
	}

	for _, id := range subjects {
		if err := publish(ctx, p, id, period, groups[id], bus.KeyResume, bus.PeriodValue{Period: period}); err != nil {
			return nil, err
		}
	}
	return subjects, nil
}

func groupOf(cfg *config.SessionConfig, id string) int {
	if group, ok := cfg.Assignments[id]; ok && group > 0 {
		return group
	}
	return config.DefaultGroup
}

func publish(ctx context.Context, p Publisher, sender string, period, group int, key string, value interface{}) error {
	env, err := bus.NewEnvelope(sender, period, group, key, value)
	if err != nil {
		return err
	}
	if _, err := p.Publish(ctx, env); err != nil {
		return fmt.Errorf("failed to publish %s for %s: %w", key, sender, err)
	}
	return nil
}

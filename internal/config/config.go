package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dyluth/redwood/internal/instance"
	"github.com/dyluth/redwood/pkg/bus"
)

// DefaultGroup is the group subjects start in unless the session file assigns one.
const DefaultGroup = 1

// SessionConfig represents a session.yml file: who takes part and what each period looks like.
type SessionConfig struct {
	Version     string         `yaml:"version"`
	Instance    string         `yaml:"instance,omitempty"`    // Default instance for CLI commands
	Session     int            `yaml:"session,omitempty"`     // Default session number for CLI commands
	Subjects    []string       `yaml:"subjects"`              // Participant ids, in seating order
	Assignments map[string]int `yaml:"assignments,omitempty"` // Subject -> starting group (default 1)
	Periods     []Period       `yaml:"periods"`
}

// Period is one entry of the period configuration list.
// A zero Period field means "positional": the entry applies to period index+1.
// A zero Group field means the entry applies to every group.
type Period struct {
	Period int                    `yaml:"period,omitempty" json:"period,omitempty"`
	Group  int                    `yaml:"group,omitempty" json:"group,omitempty"`
	Pause  bool                   `yaml:"pause,omitempty" json:"pause,omitempty"`
	Groups [][]string             `yaml:"groups,omitempty" json:"groups,omitempty"` // Seating: groups[i] sits in group i+1 for this period
	Params map[string]interface{} `yaml:"params,omitempty" json:"params,omitempty"`
}

// Load reads, parses and validates a session file.
func Load(path string) (*SessionConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config SessionConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Validate performs strict validation on the configuration and applies defaults.
func (c *SessionConfig) Validate() error {
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	if len(c.Subjects) == 0 {
		return fmt.Errorf("no subjects defined")
	}

	if c.Instance != "" {
		if err := instance.ValidateName(c.Instance); err != nil {
			return err
		}
	}

	if c.Session < 0 {
		return fmt.Errorf("session must be >= 0, got %d", c.Session)
	}

	seen := make(map[string]bool, len(c.Subjects))
	for _, id := range c.Subjects {
		if id == "" {
			return fmt.Errorf("subject id cannot be empty")
		}
		if id == bus.AdminSender {
			return fmt.Errorf("subject id '%s' is reserved", id)
		}
		if seen[id] {
			return fmt.Errorf("duplicate subject '%s'", id)
		}
		seen[id] = true
	}

	if c.Assignments == nil {
		c.Assignments = make(map[string]int, len(c.Subjects))
	}
	for id, group := range c.Assignments {
		if !seen[id] {
			return fmt.Errorf("assignment for unknown subject '%s'", id)
		}
		if group <= 0 {
			return fmt.Errorf("assignment for subject '%s' must be > 0, got %d", id, group)
		}
	}
	for _, id := range c.Subjects {
		if _, ok := c.Assignments[id]; !ok {
			c.Assignments[id] = DefaultGroup
		}
	}

	if len(c.Periods) == 0 {
		return fmt.Errorf("no periods defined")
	}
	for i, p := range c.Periods {
		if err := p.Validate(seen); err != nil {
			return fmt.Errorf("periods[%d]: %w", i, err)
		}
	}

	return nil
}

// Validate checks a single period entry against the set of known subjects.
func (p *Period) Validate(subjects map[string]bool) error {
	if p.Period < 0 {
		return fmt.Errorf("period must be >= 0, got %d", p.Period)
	}
	if p.Group < 0 {
		return fmt.Errorf("group must be >= 0, got %d", p.Group)
	}

	seated := make(map[string]bool)
	for i, row := range p.Groups {
		for _, id := range row {
			if subjects != nil && !subjects[id] {
				return fmt.Errorf("groups[%d] seats unknown subject '%s'", i, id)
			}
			if seated[id] {
				return fmt.Errorf("subject '%s' is seated twice", id)
			}
			seated[id] = true
		}
	}
	return nil
}

// Resolve finds the configuration of a period for a subject in group.
// An entry matches when its explicit period equals period (or, without one,
// when its 1-based position does) and its group restriction is empty or equal
// to group. The first matching entry is returned.
func Resolve(periods []Period, period, group int) (Period, bool) {
	for i, p := range periods {
		matchesPeriod := (p.Period == 0 && period == i+1) || (p.Period != 0 && p.Period == period)
		matchesGroup := p.Group == 0 || p.Group == group
		if matchesPeriod && matchesGroup {
			return p, true
		}
	}
	return Period{}, false
}

// Seat returns the group a subject sits in for a period with nested seating,
// or 0 if the period does not seat that subject.
func (p *Period) Seat(subject string) int {
	for i, row := range p.Groups {
		for _, id := range row {
			if id == subject {
				return i + 1
			}
		}
	}
	return 0
}

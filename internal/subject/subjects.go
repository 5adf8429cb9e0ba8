package subject

import (
	"cmp"
	"encoding/json"
	"slices"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/dyluth/redwood/internal/metrics"
	"github.com/dyluth/redwood/pkg/bus"
)

// Subject is one participant as seen by the local session.
// Subjects are created by their first __set_group__ and never removed.
type Subject struct {
	ID                string
	Points            float64 // Earned in the current period
	AccumulatedPoints float64 // Earned over the whole session
	Group             int
	GroupForPeriod    int  // Seat from the period's nested groups, 0 if unseated
	Loaded            bool // Has loaded its current period's page

	data map[string][]json.RawMessage
}

func newSubject(id string, group int) *Subject {
	return &Subject{
		ID:    id,
		Group: group,
		data:  make(map[string][]json.RawMessage),
	}
}

// Get returns the latest value the subject recorded for key, or nil.
func (s *Subject) Get(key string) json.RawMessage {
	values := s.data[key]
	if len(values) == 0 {
		return nil
	}
	return values[len(values)-1]
}

// GetPrevious returns the value recorded before the latest one, or nil.
func (s *Subject) GetPrevious(key string) json.RawMessage {
	values := s.data[key]
	if len(values) < 2 {
		return nil
	}
	return values[len(values)-2]
}

// History returns every value the subject recorded for key, oldest first.
func (s *Subject) History(key string) []json.RawMessage {
	return slices.Clone(s.data[key])
}

// PointsByPeriod returns the points earned in each finished period, derived
// from the accumulated totals recorded at every period change.
func (s *Subject) PointsByPeriod() []float64 {
	var (
		result []float64
		last   float64
	)
	for _, raw := range s.data[bus.KeyAccumulatedPoints] {
		var total float64
		if err := json.Unmarshal(raw, &total); err != nil {
			continue
		}
		result = append(result, total-last)
		last = total
	}
	return result
}

func (s *Subject) record(key string, value json.RawMessage) {
	s.data[key] = append(s.data[key], value)
}

// applyPoints moves the ledger to an absolute target.
func (s *Subject) applyPoints(points float64) {
	s.AccumulatedPoints += points - s.Points
	s.Points = points
}

// compareIDs orders numeric ids numerically, before any non-numeric ids,
// which are ordered lexically.
func compareIDs(a, b string) int {
	ai, aErr := strconv.Atoi(a)
	bi, bErr := strconv.Atoi(b)
	switch {
	case aErr == nil && bErr == nil:
		return cmp.Compare(ai, bi)
	case aErr == nil:
		return -1
	case bErr == nil:
		return 1
	}
	return strings.Compare(a, b)
}

// Self returns the local subject, or nil until its first __set_group__.
func (s *Session) Self() *Subject {
	return s.byID[s.self]
}

// Subject returns a participant by id.
func (s *Session) Subject(id string) (*Subject, bool) {
	sub, ok := s.byID[id]
	return sub, ok
}

// Subjects returns every known participant, sorted by id.
func (s *Session) Subjects() []*Subject {
	return slices.Clone(s.subjects)
}

// OtherSubjects returns every known participant except the local one.
func (s *Session) OtherSubjects() []*Subject {
	others := make([]*Subject, 0, len(s.subjects))
	for _, sub := range s.subjects {
		if sub.ID != s.self {
			others = append(others, sub)
		}
	}
	return others
}

// Data returns every value recorded for key by any subject, in delivery order.
func (s *Session) Data(key string) []json.RawMessage {
	return slices.Clone(s.data[key])
}

func (s *Session) handleSetGroup(env *bus.Envelope) {
	if env.Sender == bus.AdminSender {
		return
	}
	var v bus.GroupValue
	if !s.decode(env, &v) {
		return
	}

	if env.Sender == s.self {
		s.group = v.Group
	}

	if sub, ok := s.byID[env.Sender]; ok {
		sub.Group = v.Group
		return
	}

	sub := newSubject(env.Sender, v.Group)
	s.byID[sub.ID] = sub
	s.subjects = append(s.subjects, sub)
	slices.SortFunc(s.subjects, func(a, b *Subject) int { return compareIDs(a.ID, b.ID) })
	s.log.Debug("subject joined", zap.String("id", sub.ID), zap.Int("group", sub.Group))
}

// handleData appends every envelope from a known subject to the data logs.
// Global envelopes are always kept; others only from the sender's current period.
func (s *Session) handleData(env *bus.Envelope) {
	sub, ok := s.byID[env.Sender]
	if !ok {
		metrics.RecordDropped(metrics.ReasonUnknownSubject)
		return
	}
	if env.Period > 0 && env.Period != s.transport.Period(env.Sender) {
		metrics.RecordDropped(metrics.ReasonStalePeriod)
		return
	}
	sub.record(env.Key, env.Value)
	s.data[env.Key] = append(s.data[env.Key], env.Value)
}

func (s *Session) handlePageLoaded(env *bus.Envelope) {
	sub, ok := s.byID[env.Sender]
	if !ok {
		return
	}
	if env.Period != s.transport.Period(env.Sender) || s.transport.Group(env.Sender) != s.group {
		return
	}
	sub.Loaded = true

	for _, other := range s.subjects {
		if other.Group == s.group && !other.Loaded {
			return
		}
	}
	// Failures are logged and counted by EnableMessaging.
	s.EnableMessaging()
}

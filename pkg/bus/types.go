package bus

import (
	"encoding/json"
	"fmt"
	"time"
)

// AdminSender is the sender id used by experimenter tooling. Envelopes from
// the admin bypass the per-sender period filter.
const AdminSender = "admin"

// Reserved keys of the coordination protocol.
const (
	KeySetConfig         = "__set_config__"
	KeySetPeriod         = "__set_period__"
	KeySetPoints         = "__set_points__"
	KeySetGroup          = "__set_group__"
	KeySetPage           = "__set_page__"
	KeyPageLoaded        = "__page_loaded__"
	KeyAtBarrier         = "_at_barrier"
	KeyPaused            = "__paused__"
	KeyResume            = "__resume__"
	KeyResumed           = "__resumed__"
	KeyNextPeriod        = "_next_period"
	KeyFinish            = "_finish"
	KeyRetrieve          = "_rs_retrieve"
	KeyExcluded          = "excluded"
	KeyAccumulatedPoints = "_accumulated_points"
)

// Page names carried by __set_page__.
const (
	PageWait   = "Wait"
	PageStart  = "Start"
	PageFinish = "Finish"
)

// Wildcard subscribes a handler to every key of a feed.
const Wildcard = "*"

// Envelope is a single message on the session bus.
// Envelopes are immutable once published; Seq and Time are assigned on publish.
type Envelope struct {
	Seq    int64           `json:"seq"`             // Session-wide sequence number, assigned by Redis
	Sender string          `json:"sender"`          // Subject id, or "admin"
	Period int             `json:"period"`          // Period the envelope belongs to (0 = global)
	Group  int             `json:"group"`           // Group of the sender when sent
	Time   int64           `json:"time"`            // Publish time, Unix nanoseconds
	Key    string          `json:"key"`             // Message tag
	Value  json.RawMessage `json:"value,omitempty"` // JSON payload
}

// Handler receives envelopes dispatched by a transport.
type Handler func(env *Envelope)

// SendOptions carries the routing fields of an outbound envelope.
type SendOptions struct {
	Period int
	Group  int
	Sender string
}

// PeriodValue is the value of __set_period__, __paused__, __resume__ and
// __resumed__ envelopes.
type PeriodValue struct {
	Period int `json:"period"`
}

// GroupValue is the value of __set_group__ envelopes.
type GroupValue struct {
	Group int `json:"group"`
}

// PageValue is the value of __set_page__ envelopes.
type PageValue struct {
	Page string `json:"page"`
}

// PointsValue is the value of __set_points__ envelopes. Points is the
// absolute target, not a delta.
type PointsValue struct {
	Period int     `json:"period"`
	Points float64 `json:"points"`
}

// NewEnvelope builds an unsequenced envelope with a JSON-encoded value.
// A nil value produces an envelope without a value.
func NewEnvelope(sender string, period, group int, key string, value interface{}) (*Envelope, error) {
	env := &Envelope{
		Sender: sender,
		Period: period,
		Group:  group,
		Time:   time.Now().UnixNano(),
		Key:    key,
	}

	if value != nil {
		if raw, ok := value.(json.RawMessage); ok {
			env.Value = raw
		} else {
			data, err := json.Marshal(value)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal value for key %q: %w", key, err)
			}
			env.Value = data
		}
	}

	if err := env.Validate(); err != nil {
		return nil, err
	}

	return env, nil
}

// Decode unmarshals the envelope value into v.
// An envelope without a value leaves v untouched.
func (e *Envelope) Decode(v interface{}) error {
	if len(e.Value) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Value, v); err != nil {
		return fmt.Errorf("failed to decode value of %q from %s: %w", e.Key, e.Sender, err)
	}
	return nil
}

// Validate checks that the envelope can be routed.
func (e *Envelope) Validate() error {
	if e.Sender == "" {
		return fmt.Errorf("sender is required")
	}
	if e.Key == "" {
		return fmt.Errorf("key is required")
	}
	if e.Period < 0 {
		return fmt.Errorf("period must be >= 0, got %d", e.Period)
	}
	if e.Group < 0 {
		return fmt.Errorf("group must be >= 0, got %d", e.Group)
	}
	return nil
}

// IsControl reports whether the envelope maintains the session tables
// (config, periods, groups). Control envelopes are always replayed.
func (e *Envelope) IsControl() bool {
	switch e.Key {
	case KeySetConfig, KeySetPeriod, KeySetGroup:
		return true
	}
	return false
}

// SyncLog selects the part of a session log a reconnecting subject replays:
// every control envelope, every global (period 0) envelope and everything
// from the subject's current period onwards.
func SyncLog(log []*Envelope, subject string) []*Envelope {
	current := 0
	for _, env := range log {
		if env.Key == KeySetPeriod && env.Sender == subject {
			current = env.Period
		}
	}

	replay := make([]*Envelope, 0, len(log))
	for _, env := range log {
		if env.IsControl() || env.Period == 0 || env.Period >= current {
			replay = append(replay, env)
		}
	}
	return replay
}

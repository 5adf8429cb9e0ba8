package bus

import (
	"encoding/json"
	"fmt"
)

// Serialization helpers for the envelope wire format.
//
// Envelopes travel as JSON objects whose first field is "seq". The client
// marshals an envelope without its sequence number and the publish script
// splices the Redis-assigned number in front, so the stored form and the
// published form are byte-identical.

// unsequenced mirrors Envelope without Seq. Field order must match Envelope.
type unsequenced struct {
	Sender string          `json:"sender"`
	Period int             `json:"period"`
	Group  int             `json:"group"`
	Time   int64           `json:"time"`
	Key    string          `json:"key"`
	Value  json.RawMessage `json:"value,omitempty"`
}

// encodeUnsequenced marshals an envelope without its sequence number.
func encodeUnsequenced(e *Envelope) ([]byte, error) {
	data, err := json.Marshal(unsequenced{
		Sender: e.Sender,
		Period: e.Period,
		Group:  e.Group,
		Time:   e.Time,
		Key:    e.Key,
		Value:  e.Value,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return data, nil
}

// EncodeEnvelope marshals a full envelope, including its sequence number.
func EncodeEnvelope(e *Envelope) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return data, nil
}

// DecodeEnvelope unmarshals and validates one stored or published envelope.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	if err := env.Validate(); err != nil {
		return nil, fmt.Errorf("invalid envelope seq=%d: %w", env.Seq, err)
	}
	return &env, nil
}

// DecodeEnvelopes unmarshals a list of stored envelopes, preserving order.
func DecodeEnvelopes(raw []string) ([]*Envelope, error) {
	envs := make([]*Envelope, 0, len(raw))
	for i, item := range raw {
		env, err := DecodeEnvelope([]byte(item))
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		envs = append(envs, env)
	}
	return envs, nil
}

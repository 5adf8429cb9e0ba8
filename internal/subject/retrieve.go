package subject

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dyluth/redwood/internal/metrics"
	"github.com/dyluth/redwood/pkg/bus"
)

// ErrRetrievalOrder is the panic value (wrapped) raised when a retrieval
// response cannot be paired with the oldest pending request.
var ErrRetrievalOrder = errors.New("retrieval response out of order")

// Results maps key -> participant -> value from the previous period.
// Values that were never recorded are nil.
type Results map[string]map[string]json.RawMessage

type retrieveValue struct {
	ID      string  `json:"id"`
	Results Results `json:"results"`
}

// retrieval is a pending request. An empty id adopts whichever response
// arrives next; requests queued while replaying history have no id.
type retrieval struct {
	id string
	fn func(Results)
}

// Retrieve fetches the local subject's last value for key in the previous period.
func (s *Session) Retrieve(key string, fn func(value json.RawMessage)) {
	s.RetrieveFor([]string{key}, []string{s.self}, func(r Results) {
		fn(r[key][s.self])
	})
}

// RetrieveMany fetches the local subject's last values for keys in the previous period.
func (s *Session) RetrieveMany(keys []string, fn func(values map[string]json.RawMessage)) {
	self := s.self
	s.RetrieveFor(keys, []string{self}, func(r Results) {
		values := make(map[string]json.RawMessage, len(keys))
		for _, key := range keys {
			values[key] = r[key][self]
		}
		fn(values)
	})
}

// RetrieveFor fetches the last values of keys recorded by participants in the
// previous period. The answer travels through the session log so a replaying
// session sees the same values. Callbacks run in request order.
func (s *Session) RetrieveFor(keys, participants []string, fn func(Results)) {
	req := &retrieval{fn: fn}
	s.retrievals = append(s.retrievals, req)

	if s.transport.Syncing() {
		return
	}
	req.id = uuid.NewString()

	results := make(Results, len(keys))
	for _, key := range keys {
		results[key] = make(map[string]json.RawMessage, len(participants))
		for _, id := range participants {
			results[key][id] = nil
		}
	}

	respond := func() {
		if err := s.Save(bus.KeyRetrieve, retrieveValue{ID: req.id, Results: results}); err != nil {
			s.log.Error("failed to send retrieval response", zap.String("retrieval", req.id), zap.Error(err))
		}
	}

	if s.period <= 1 {
		respond()
		return
	}

	s.transport.PeriodLog(s.period-1, func(log []*bus.Envelope) {
		for _, env := range log {
			if !slices.Contains(keys, env.Key) || !slices.Contains(participants, env.Sender) {
				continue
			}
			results[env.Key][env.Sender] = env.Value
		}
		respond()
	})
}

// handleRetrieveResponse pairs a response with the oldest pending request.
// A live response that cannot be paired means the transport reordered or
// invented messages, and panics.
func (s *Session) handleRetrieveResponse(env *bus.Envelope) {
	var v retrieveValue
	if !s.decode(env, &v) {
		return
	}

	if env.Period != s.transport.Period(env.Sender) {
		metrics.RecordDropped(metrics.ReasonStalePeriod)
		s.forgetRetrieval(v.ID)
		return
	}

	if len(s.retrievals) == 0 {
		if s.transport.Syncing() {
			s.log.Debug("ignoring replayed retrieval response", zap.String("retrieval", v.ID))
			return
		}
		panic(fmt.Errorf("%w: response %s with no pending request", ErrRetrievalOrder, v.ID))
	}

	head := s.retrievals[0]
	if head.id != "" && head.id != v.ID {
		panic(fmt.Errorf("%w: expected response %s, got %s", ErrRetrievalOrder, head.id, v.ID))
	}
	s.retrievals = s.retrievals[1:]

	for _, values := range v.Results {
		for id, value := range values {
			if string(value) == "null" {
				values[id] = nil
			}
		}
	}
	head.fn(v.Results)
}

// forgetRetrieval removes the request a stale response answers, so later
// responses still pair with their own requests. While replaying, requests
// carry no id and the oldest one is the one the response answered.
func (s *Session) forgetRetrieval(id string) {
	for i, req := range s.retrievals {
		if req.id != "" && req.id == id {
			s.retrievals = slices.Delete(s.retrievals, i, i+1)
			s.log.Debug("dropping retrieval answered after its period ended", zap.String("retrieval", id))
			return
		}
	}
	if s.transport.Syncing() && len(s.retrievals) > 0 && s.retrievals[0].id == "" {
		s.retrievals = s.retrievals[1:]
	}
}

// PendingRetrievals reports how many retrieval callbacks are waiting.
func (s *Session) PendingRetrievals() int {
	return len(s.retrievals)
}

// dropUnanswered discards requests queued during replay that history did not
// answer, so live responses pair with live requests.
func (s *Session) dropUnanswered() {
	kept := s.retrievals[:0]
	for _, req := range s.retrievals {
		if req.id != "" {
			kept = append(kept, req)
		}
	}
	if dropped := len(s.retrievals) - len(kept); dropped > 0 {
		s.log.Warn("discarding retrievals left unanswered by replay", zap.Int("count", dropped))
	}
	s.retrievals = kept
}

package subject

import (
	"encoding/json"

	"github.com/dyluth/redwood/internal/metrics"
	"github.com/dyluth/redwood/pkg/bus"
)

// Points returns the local subject's earnings in the current period.
func (s *Session) Points() float64 {
	if self := s.Self(); self != nil {
		return self.Points
	}
	return 0
}

// AccumulatedPoints returns the local subject's earnings over the session.
func (s *Session) AccumulatedPoints() float64 {
	if self := s.Self(); self != nil {
		return self.AccumulatedPoints
	}
	return 0
}

// SetPoints requests that the local subject's period earnings become points.
// The ledger moves when the request is delivered back.
func (s *Session) SetPoints(points float64) error {
	return s.Trigger(bus.KeySetPoints, bus.PointsValue{Period: s.period, Points: points})
}

// AddPoints requests that points be added to the local subject's period earnings.
func (s *Session) AddPoints(points float64) error {
	return s.SetPoints(s.Points() + points)
}

// OnPointsChanged registers fn to observe the local subject's new period earnings.
func (s *Session) OnPointsChanged(fn func(points float64)) SubscriptionID {
	return s.On(bus.KeySetPoints, func(value json.RawMessage) {
		var v bus.PointsValue
		if s.decodeValue(bus.KeySetPoints, value, &v) {
			fn(v.Points)
		}
	})
}

// RecvPointsChanged registers fn to observe other subjects' new period earnings.
func (s *Session) RecvPointsChanged(fn func(sender string, points float64)) SubscriptionID {
	return s.Recv(bus.KeySetPoints, func(sender string, value json.RawMessage) {
		var v bus.PointsValue
		if s.decodeValue(bus.KeySetPoints, value, &v) {
			fn(sender, v.Points)
		}
	})
}

func (s *Session) handleLocalPoints(value json.RawMessage) {
	self := s.Self()
	if self == nil {
		metrics.RecordDropped(metrics.ReasonUnknownSubject)
		return
	}
	var v bus.PointsValue
	if s.decodeValue(bus.KeySetPoints, value, &v) {
		self.applyPoints(v.Points)
	}
}

func (s *Session) handleRemotePoints(sender string, value json.RawMessage) {
	sub, ok := s.byID[sender]
	if !ok {
		metrics.RecordDropped(metrics.ReasonUnknownSubject)
		return
	}
	var v bus.PointsValue
	if s.decodeValue(bus.KeySetPoints, value, &v) {
		sub.applyPoints(v.Points)
	}
}

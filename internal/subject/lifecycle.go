package subject

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/dyluth/redwood/pkg/bus"
)

// OnLoad registers fn to run every time a period starts, after the whole
// group has loaded it (and after the admin resumes it, for paused periods).
func (s *Session) OnLoad(fn func()) {
	s.onLoad = append(s.onLoad, fn)
}

// handleLoad waits for the group to load the page, seats subjects for the
// period and starts it unless it is paused.
func (s *Session) handleLoad() {
	if !s.hasConfig {
		return
	}
	period := s.period
	s.Wait(onLoadBarrier).Then(func() {
		if s.period != period {
			return
		}
		s.assignSeats()
		if s.pausePending[period] {
			if err := s.Send(bus.KeyPaused, bus.PeriodValue{Period: period}); err != nil {
				s.log.Error("failed to report pause", zap.Error(err))
			}
			return
		}
		s.startPeriod()
	})
}

func (s *Session) assignSeats() {
	if len(s.config.Groups) == 0 {
		return
	}
	for _, sub := range s.subjects {
		if seat := s.config.Seat(sub.ID); seat > 0 {
			sub.GroupForPeriod = seat
		}
	}
}

func (s *Session) startPeriod() {
	if s.started == s.period {
		return
	}
	s.started = s.period
	s.log.Info("period started", zap.Int("period", s.period))
	callbacks := append([]func(){}, s.onLoad...)
	for _, fn := range callbacks {
		s.safeCall("on load", fn)
	}
}

func (s *Session) handlePaused(_ json.RawMessage) {
	s.paused = true
	s.log.Info("period paused, waiting for resume", zap.Int("period", s.period))
}

func (s *Session) handleResume(value json.RawMessage) {
	var v bus.PeriodValue
	if !s.decodeValue(bus.KeyResume, value, &v) {
		return
	}
	if !s.pausePending[v.Period] {
		return
	}
	delete(s.pausePending, v.Period)

	if v.Period != s.period {
		return
	}
	s.paused = false
	s.startPeriod()
	if err := s.Send(bus.KeyResumed, bus.PeriodValue{Period: v.Period}); err != nil {
		s.log.Error("failed to acknowledge resume", zap.Error(err))
	}
}

// Exclude moves the local subject into a group of its own, after every
// existing group, and records that it was excluded.
func (s *Session) Exclude() error {
	group := 0
	for _, g := range s.transport.Groups() {
		if g > group {
			group = g
		}
	}
	group++

	if err := s.transport.SetGroup(group, s.self); err != nil {
		return err
	}
	return s.Set(bus.KeyExcluded, true, WithGroup(group))
}

// GroupForPeriod returns the local subject's seat in the current period.
func (s *Session) GroupForPeriod() int {
	if self := s.Self(); self != nil {
		return self.GroupForPeriod
	}
	return 0
}

func (s *Session) safeCall(what string, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error("callback panicked", zap.String("callback", what), zap.Any("panic", rec))
		}
	}()
	fn()
}

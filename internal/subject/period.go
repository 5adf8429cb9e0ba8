package subject

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/dyluth/redwood/internal/config"
	"github.com/dyluth/redwood/internal/metrics"
	"github.com/dyluth/redwood/pkg/bus"
)

// handleSetPeriod runs the period state machine when the local subject's
// period changes: resolve the configuration, note a pending pause and
// present the matching page.
func (s *Session) handleSetPeriod(env *bus.Envelope) {
	var v bus.PeriodValue
	if !s.decode(env, &v) {
		return
	}

	s.period = v.Period
	s.paused = false
	metrics.SetPeriod(v.Period)

	s.config, s.hasConfig = config.Resolve(s.configs, v.Period, s.group)
	if s.hasConfig && s.config.Pause {
		s.pausePending[v.Period] = true
	}

	page := bus.PageStart
	switch {
	case v.Period == 0:
		page = bus.PageWait
	case !s.hasConfig:
		page = bus.PageFinish
	}

	s.log.Info("period changed",
		zap.Int("period", v.Period),
		zap.Int("group", s.group),
		zap.String("page", page),
		zap.Bool("syncing", s.transport.Syncing()))

	if err := s.transport.PresentPhase(page, s.self); err != nil {
		s.log.Error("failed to present page", zap.String("page", page), zap.Error(err))
	}
}

// handleSubjectPeriod resets a subject's period earnings when it changes
// period. Its accumulated total is restored from the snapshot it recorded
// just before moving on, so a replay that skips older periods agrees with
// a session that saw them.
func (s *Session) handleSubjectPeriod(env *bus.Envelope) {
	sub, ok := s.byID[env.Sender]
	if !ok {
		return
	}
	sub.Points = 0
	sub.Loaded = false

	if snapshot := sub.Get(bus.KeyAccumulatedPoints); snapshot != nil {
		var total float64
		if err := json.Unmarshal(snapshot, &total); err == nil {
			sub.AccumulatedPoints = total
		}
	}
}

func (s *Session) handleSetConfig(_ string, _ json.RawMessage) {
	s.configs = s.transport.Configs()
	s.log.Debug("configuration updated", zap.Int("periods", len(s.configs)))
}

// NextPeriod advances the local subject to the next period after delay.
func (s *Session) NextPeriod(delay time.Duration) {
	s.Timeout(func() {
		if err := s.transport.Send(bus.KeyNextPeriod, nil, s.sendOptions()); err != nil {
			s.log.Error("failed to request next period", zap.Error(err))
		}
	}, delay)
}

// Finish skips the remaining periods after delay.
func (s *Session) Finish(delay time.Duration) {
	s.Timeout(func() {
		if err := s.Trigger(bus.KeyFinish, nil); err != nil {
			s.log.Error("failed to request finish", zap.Error(err))
		}
	}, delay)
}

func (s *Session) handleNextPeriod(_ json.RawMessage) {
	s.advance(s.period + 1)
}

func (s *Session) handleFinish(_ json.RawMessage) {
	s.advance(len(s.configs) + 1)
}

func (s *Session) advance(period int) {
	if err := s.Set(bus.KeyAccumulatedPoints, s.AccumulatedPoints()); err != nil {
		s.log.Error("failed to record accumulated points", zap.Error(err))
	}
	if err := s.transport.SetPeriod(period); err != nil {
		s.log.Error("failed to set period", zap.Int("period", period), zap.Error(err))
	}
}

func (s *Session) sendOptions() bus.SendOptions {
	return bus.SendOptions{Period: s.period, Group: s.group, Sender: s.self}
}

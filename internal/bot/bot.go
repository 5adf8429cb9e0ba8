// Package bot is a scripted participant used to exercise a session end to
// end without a human at the keyboard.
//
// Each period the bot looks up its choice from the previous period, makes a
// new one near it, earns points equal to the choice, waits for everyone at
// the "done" barrier and moves on. Sessions end when the configured periods
// run out.
package bot

import (
	"encoding/json"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/dyluth/redwood/internal/subject"
)

const (
	// KeyChoice is the key choices are saved under.
	KeyChoice = "choice"
	// BarrierDone is the barrier every bot waits at before advancing.
	BarrierDone = "done"
)

// Bot plays a session on behalf of its subject.
type Bot struct {
	session   *subject.Session
	rng       *rand.Rand
	maxPoints float64
	delay     time.Duration
	log       *zap.Logger

	played int
}

// Option configures a Bot.
type Option func(*Bot)

// WithRand sets the randomness source. The default is seeded from the clock.
func WithRand(rng *rand.Rand) Option {
	return func(b *Bot) { b.rng = rng }
}

// WithMaxPoints bounds choices to [0, max). The default is 10.
func WithMaxPoints(max float64) Option {
	return func(b *Bot) { b.maxPoints = max }
}

// WithDelay sets how long the bot lingers before advancing.
func WithDelay(d time.Duration) Option {
	return func(b *Bot) { b.delay = d }
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(b *Bot) { b.log = log }
}

// New attaches a bot to s. It plays every period s starts.
func New(s *subject.Session, opts ...Option) *Bot {
	b := &Bot{
		session:   s,
		maxPoints: 10,
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.rng == nil {
		b.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	b.log = b.log.Named("bot").With(zap.String("subject", s.ID()))

	s.OnLoad(b.play)
	s.RecvPointsChanged(func(sender string, points float64) {
		b.log.Debug("peer scored", zap.String("peer", sender), zap.Float64("points", points))
	})
	return b
}

// Played reports how many periods the bot has played.
func (b *Bot) Played() int {
	return b.played
}

func (b *Bot) play() {
	s := b.session
	period := s.Period()
	b.played++

	s.Retrieve(KeyChoice, func(previous json.RawMessage) {
		choice := b.choose(previous)
		b.log.Info("playing", zap.Int("period", period), zap.Float64("choice", choice))

		if err := s.Save(KeyChoice, choice); err != nil {
			b.log.Error("failed to save choice", zap.Error(err))
		}
		if err := s.SetPoints(choice); err != nil {
			b.log.Error("failed to set points", zap.Error(err))
		}

		s.Wait(BarrierDone).Then(func() {
			if s.Period() != period {
				return
			}
			s.NextPeriod(b.delay)
		})
	})
}

// choose picks a value uniformly at random the first time, then wanders
// from the previous choice by up to a tenth of the range.
func (b *Bot) choose(previous json.RawMessage) float64 {
	var last float64
	if previous == nil || json.Unmarshal(previous, &last) != nil {
		return round(b.rng.Float64() * b.maxPoints)
	}

	step := (b.rng.Float64()*2 - 1) * b.maxPoints / 10
	return round(math.Min(math.Max(last+step, 0), b.maxPoints))
}

func round(v float64) float64 {
	return math.Round(v*100) / 100
}

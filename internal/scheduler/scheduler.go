// Package scheduler defers callbacks on behalf of a session.
//
// While a session is replaying history, registering real timers would make
// every timeout queued by historical handlers fire at once. The scheduler
// therefore starts in Replaying mode and only arms timers when GoLive is
// called; callbacks scheduled after that are armed immediately.
package scheduler

import (
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// Mode is the scheduler's registration mode.
type Mode int

const (
	// Replaying defers timer registration until GoLive.
	Replaying Mode = iota
	// Live arms timers as soon as they are scheduled.
	Live
)

func (m Mode) String() string {
	if m == Live {
		return "live"
	}
	return "replaying"
}

// Token identifies a scheduled callback. The zero Token is never issued.
type Token uint64

// Executor runs a fired callback. Event loops pass a function that posts the
// callback onto the loop so it runs on the owning goroutine.
type Executor func(fn func())

type entry struct {
	fn    func()
	delay time.Duration
	timer clock.Timer
}

// Scheduler is safe for concurrent use.
type Scheduler struct {
	mu      sync.Mutex
	clock   clock.WithDelayedExecution
	exec    Executor
	mode    Mode
	next    Token
	entries map[Token]*entry
	pending []Token
}

// New creates a scheduler in Replaying mode.
// A nil clock uses the real clock; a nil executor runs callbacks on the timer goroutine.
func New(clk clock.WithDelayedExecution, exec Executor) *Scheduler {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if exec == nil {
		exec = func(fn func()) { fn() }
	}
	return &Scheduler{
		clock:   clk,
		exec:    exec,
		entries: make(map[Token]*entry),
	}
}

// Schedule registers fn to run after delay and returns immediately.
func (s *Scheduler) Schedule(fn func(), delay time.Duration) Token {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.next++
	token := s.next
	e := &entry{fn: fn, delay: delay}
	s.entries[token] = e

	if s.mode == Replaying {
		s.pending = append(s.pending, token)
	} else {
		s.arm(token, e)
	}
	return token
}

// Cancel stops a scheduled callback. Unknown, fired and cancelled tokens are ignored.
func (s *Scheduler) Cancel(token Token) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[token]
	if !ok {
		return
	}
	delete(s.entries, token)
	if e.timer != nil {
		e.timer.Stop()
	}
}

// GoLive switches to Live mode and arms every deferred callback, in
// scheduling order. Calling it again has no effect.
func (s *Scheduler) GoLive() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mode == Live {
		return
	}
	s.mode = Live

	pending := s.pending
	s.pending = nil
	for _, token := range pending {
		if e, ok := s.entries[token]; ok {
			s.arm(token, e)
		}
	}
}

// Mode reports the current registration mode.
func (s *Scheduler) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Pending reports how many callbacks have been scheduled and not yet fired or cancelled.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// arm must be called with s.mu held.
func (s *Scheduler) arm(token Token, e *entry) {
	e.timer = s.clock.AfterFunc(e.delay, func() {
		s.exec(func() { s.fire(token) })
	})
}

func (s *Scheduler) fire(token Token) {
	s.mu.Lock()
	e, ok := s.entries[token]
	if ok {
		delete(s.entries, token)
	}
	s.mu.Unlock()

	if ok {
		e.fn()
	}
}

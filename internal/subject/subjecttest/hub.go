// Package subjecttest provides an in-memory, deterministic session bus for
// exercising subject.Session without Redis.
//
// A Hub sequences, persists and fans out envelopes the way the Redis bus does,
// but delivery only happens when the test calls Flush, so every interleaving
// is under the test's control.
package subjecttest

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/dyluth/redwood/internal/config"
	"github.com/dyluth/redwood/internal/scheduler"
	"github.com/dyluth/redwood/pkg/bus"
)

// Hub is an in-memory session bus. It is not safe for concurrent use.
type Hub struct {
	seq     int64
	history []*bus.Envelope
	logs    map[int][]*bus.Envelope
	queue   []*bus.Envelope
	tasks   []func()
	peers   []*Peer
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{logs: make(map[int][]*bus.Envelope)}
}

// Publish sequences and persists env and queues it for delivery.
// It has the signature of bus.Client.Publish so admin tooling can drive a hub.
func (h *Hub) Publish(_ context.Context, env *bus.Envelope) (*bus.Envelope, error) {
	if err := env.Validate(); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}
	out := *env
	if err := bus.Route(&out); err != nil {
		return nil, err
	}
	h.seq++
	out.Seq = h.seq

	h.history = append(h.history, &out)
	h.logs[out.Period] = append(h.logs[out.Period], &out)
	h.queue = append(h.queue, &out)
	return &out, nil
}

// Post queues fn to run on the hub's loop. Use it as a scheduler executor.
func (h *Hub) Post(fn func()) {
	h.tasks = append(h.tasks, fn)
}

// Flush delivers queued envelopes and runs posted tasks, including those
// produced while flushing, until nothing is left. It returns the number of
// envelopes delivered.
func (h *Hub) Flush() int {
	delivered := 0
	for len(h.queue) > 0 || len(h.tasks) > 0 {
		if len(h.tasks) > 0 {
			task := h.tasks[0]
			h.tasks = h.tasks[1:]
			task()
			continue
		}
		env := h.queue[0]
		h.queue = h.queue[1:]
		for _, p := range h.peers {
			p.deliver(env)
		}
		delivered++
	}
	return delivered
}

// Step delivers a single queued envelope. It reports false if none was queued.
func (h *Hub) Step() bool {
	if len(h.queue) == 0 {
		return false
	}
	env := h.queue[0]
	h.queue = h.queue[1:]
	for _, p := range h.peers {
		p.deliver(env)
	}
	return true
}

// History returns every envelope published so far.
func (h *Hub) History() []*bus.Envelope {
	return slices.Clone(h.history)
}

// Sent returns the published envelopes with key, in sequence order.
func (h *Hub) Sent(key string) []*bus.Envelope {
	var out []*bus.Envelope
	for _, env := range h.history {
		if env.Key == key {
			out = append(out, env)
		}
	}
	return out
}

// Admin publishes an envelope from the admin, panicking on invalid input.
func (h *Hub) Admin(key string, value interface{}) {
	h.PublishAs(bus.AdminSender, 0, 0, key, value)
}

// Start configures the session and moves every subject in groups to period 1,
// the way the admin CLI does.
func (h *Hub) Start(periods []config.Period, groups map[string]int) {
	h.Admin(bus.KeySetConfig, periods)

	ids := make([]string, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	for _, id := range ids {
		h.PublishAs(id, 0, groups[id], bus.KeySetGroup, bus.GroupValue{Group: groups[id]})
	}
	for _, id := range ids {
		h.PublishAs(id, 1, groups[id], bus.KeySetPeriod, bus.PeriodValue{Period: 1})
	}
}

// Resume publishes __resume__ on behalf of a subject paused in period.
func (h *Hub) Resume(id string, period, group int) {
	h.PublishAs(id, period, group, bus.KeyResume, bus.PeriodValue{Period: period})
}

// PublishAs publishes on behalf of sender, panicking on invalid input.
// Tests use it to stand in for participants that have no Session.
func (h *Hub) PublishAs(sender string, period, group int, key string, value interface{}) {
	env, err := bus.NewEnvelope(sender, period, group, key, value)
	if err != nil {
		panic(err)
	}
	if _, err := h.Publish(context.Background(), env); err != nil {
		panic(err)
	}
}

// Scheduler is a manual scheduler: callbacks run only when the test fires them.
type Scheduler struct {
	next   scheduler.Token
	timers map[scheduler.Token]*timer
	order  []scheduler.Token
}

type timer struct {
	fn    func()
	delay time.Duration
}

// NewScheduler creates an empty manual scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{timers: make(map[scheduler.Token]*timer)}
}

// Schedule records fn; it runs on the next Fire.
func (s *Scheduler) Schedule(fn func(), delay time.Duration) scheduler.Token {
	s.next++
	s.timers[s.next] = &timer{fn: fn, delay: delay}
	s.order = append(s.order, s.next)
	return s.next
}

// Cancel forgets a scheduled callback. Unknown tokens are ignored.
func (s *Scheduler) Cancel(token scheduler.Token) {
	delete(s.timers, token)
}

// Pending reports how many callbacks are waiting.
func (s *Scheduler) Pending() int {
	return len(s.timers)
}

// Fire runs every callback scheduled before the call, shortest delay first.
// It returns how many ran.
func (s *Scheduler) Fire() int {
	order := s.order
	s.order = nil

	due := make([]scheduler.Token, 0, len(order))
	for _, token := range order {
		if _, ok := s.timers[token]; ok {
			due = append(due, token)
		}
	}
	slices.SortStableFunc(due, func(a, b scheduler.Token) int {
		return cmp.Compare(s.timers[a].delay, s.timers[b].delay)
	})

	ran := 0
	for _, token := range due {
		t, ok := s.timers[token]
		if !ok {
			continue
		}
		delete(s.timers, token)
		t.fn()
		ran++
	}
	return ran
}

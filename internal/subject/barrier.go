package subject

import (
	"context"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/dyluth/redwood/internal/metrics"
	"github.com/dyluth/redwood/pkg/bus"
)

// Future resolves once. Then and Resolved must be called on the event loop;
// Done and Wait may be used from any goroutine.
type Future struct {
	done      chan struct{}
	resolved  bool
	callbacks []func()
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Then runs fn when the future resolves, or now if it already has.
func (f *Future) Then(fn func()) {
	if f.resolved {
		fn()
		return
	}
	f.callbacks = append(f.callbacks, fn)
}

// Resolved reports whether the future has resolved.
func (f *Future) Resolved() bool {
	return f.resolved
}

// Done is closed when the future resolves.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future resolves or ctx is done.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Future) resolve() {
	if f.resolved {
		return
	}
	f.resolved = true
	close(f.done)

	callbacks := f.callbacks
	f.callbacks = nil
	for _, fn := range callbacks {
		fn()
	}
}

// barrier tracks arrivals for one period-scoped barrier key. Arrivals are
// recorded even before the local subject waits on it.
type barrier struct {
	received map[string]bool
	required []string
	future   *Future
}

func (s *Session) barrier(key string) *barrier {
	b, ok := s.barriers[key]
	if !ok {
		b = &barrier{received: make(map[string]bool)}
		s.barriers[key] = b
	}
	return b
}

// Wait announces that the local subject has reached barrier id in the
// current period and returns a future that resolves once every required
// subject has too. Without required ids, every known subject is required.
func (s *Session) Wait(id string, required ...string) *Future {
	key := fmt.Sprintf("%s_%d", id, s.period)
	b := s.barrier(key)

	if len(required) > 0 {
		b.required = slices.Clone(required)
		if !slices.Contains(b.required, s.self) {
			b.required = append(b.required, s.self)
		}
	}
	if b.future == nil {
		b.future = newFuture()
	}
	future := b.future

	if err := s.Trigger(bus.KeyAtBarrier, key); err != nil {
		s.log.Error("failed to announce barrier arrival", zap.String("barrier", key), zap.Error(err))
	}
	return future
}

func (s *Session) handleArrival(env *bus.Envelope) {
	var key string
	if !s.decode(env, &key) {
		return
	}
	b := s.barrier(key)
	b.received[env.Sender] = true
	s.evaluate(key, b)
}

func (s *Session) evaluate(key string, b *barrier) {
	if b.future == nil {
		return
	}

	required := b.required
	if required == nil {
		required = make([]string, 0, len(s.subjects))
		for _, sub := range s.subjects {
			required = append(required, sub.ID)
		}
	}
	for _, id := range required {
		if !b.received[id] {
			return
		}
	}

	delete(s.barriers, key)
	metrics.RecordBarrierResolved()
	s.log.Debug("barrier resolved", zap.String("barrier", key))
	b.future.resolve()
}

package subject

import (
	"encoding/json"
	"slices"

	"go.uber.org/zap"

	"github.com/dyluth/redwood/internal/metrics"
	"github.com/dyluth/redwood/pkg/bus"
)

// SubscriptionID identifies a handler registration.
type SubscriptionID uint64

// LocalHandler handles an event the local subject sent itself.
type LocalHandler func(value json.RawMessage)

// RemoteHandler handles a message sent by another subject (or the admin).
type RemoteHandler func(sender string, value json.RawMessage)

type registration struct {
	id SubscriptionID
	fn bus.Handler
}

// registry maps keys to ordered handlers for one transport feed. Each key is
// subscribed on the transport once, the first time a handler registers for it.
type registry struct {
	feed      string
	subscribe func(key string, h bus.Handler)
	accept    func(env *bus.Envelope) bool
	log       *zap.Logger

	present  map[string]struct{}
	handlers map[string][]registration
	next     SubscriptionID
}

func newRegistry(feed string, subscribe func(string, bus.Handler), accept func(*bus.Envelope) bool, log *zap.Logger) *registry {
	return &registry{
		feed:      feed,
		subscribe: subscribe,
		accept:    accept,
		log:       log.With(zap.String("feed", feed)),
		present:   make(map[string]struct{}),
		handlers:  make(map[string][]registration),
	}
}

func (r *registry) register(key string, fn bus.Handler) SubscriptionID {
	r.next++
	r.handlers[key] = append(r.handlers[key], registration{id: r.next, fn: fn})

	if _, ok := r.present[key]; !ok {
		r.present[key] = struct{}{}
		r.subscribe(key, func(env *bus.Envelope) { r.dispatch(key, env) })
	}
	return r.next
}

// dispatch runs the handlers registered for key at the time of the call.
// A panicking handler is logged and does not stop the ones after it.
func (r *registry) dispatch(key string, env *bus.Envelope) {
	if !r.accept(env) {
		metrics.RecordDropped(metrics.ReasonStalePeriod)
		r.log.Debug("dropping stale envelope",
			zap.String("key", env.Key),
			zap.String("sender", env.Sender),
			zap.Int("period", env.Period))
		return
	}

	snapshot := slices.Clone(r.handlers[key])
	metrics.RecordDispatched(r.feed)
	for _, h := range snapshot {
		r.invoke(h, env)
	}
}

func (r *registry) invoke(h registration, env *bus.Envelope) {
	defer func() {
		if rec := recover(); rec != nil {
			metrics.RecordHandlerPanic()
			r.log.Error("handler panicked",
				zap.Uint64("subscription", uint64(h.id)),
				zap.String("key", env.Key),
				zap.String("sender", env.Sender),
				zap.Any("panic", rec))
		}
	}()
	h.fn(env)
}

// Package subject implements the coordination core of a redwood participant.
//
// A Session moves the local subject through numbered periods in lock-step with
// everyone else in its group. It buffers outbound sends until the whole group
// has loaded the period, routes incoming envelopes to registered handlers,
// keeps a points ledger for every subject, resolves synchronization barriers
// and answers retrieval requests from the previous period's log.
//
// A Session never mutates shared state when sending: every change takes
// effect when the transport delivers the envelope back. All methods must be
// called on the transport's event loop.
package subject

import (
	"encoding/json"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/dyluth/redwood/internal/config"
	"github.com/dyluth/redwood/internal/metrics"
	"github.com/dyluth/redwood/internal/scheduler"
	"github.com/dyluth/redwood/pkg/bus"
)

const onLoadBarrier = "_on_load"

// Context is the routing applied to a send when no option overrides it.
type Context struct {
	Period int
	Group  int
	Sender string
}

// SendOption overrides part of the send context.
type SendOption func(*Context)

// WithPeriod sends in period p instead of the current period.
func WithPeriod(p int) SendOption {
	return func(c *Context) { c.Period = p }
}

// WithGroup sends as a member of group g instead of the current group.
func WithGroup(g int) SendOption {
	return func(c *Context) { c.Group = g }
}

// WithSender sends on behalf of another participant.
func WithSender(id string) SendOption {
	return func(c *Context) { c.Sender = id }
}

// Session is the local subject's view of a running session.
type Session struct {
	transport Transport
	sched     Scheduler
	log       *zap.Logger

	self      string
	period    int
	group     int
	configs   []config.Period
	config    config.Period
	hasConfig bool

	gate   *gate
	local  *registry
	remote *registry

	subjects []*Subject
	byID     map[string]*Subject
	data     map[string][]json.RawMessage

	pausePending map[int]bool
	paused       bool
	started      int
	onLoad       []func()

	barriers   map[string]*barrier
	retrievals []*retrieval
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Session) { s.log = log }
}

// New creates a session for the transport's local subject and registers its
// protocol handlers. Call it before the transport starts delivering.
func New(t Transport, sched Scheduler, opts ...Option) *Session {
	s := &Session{
		transport:    t,
		sched:        sched,
		log:          zap.NewNop(),
		self:         t.Self(),
		configs:      t.Configs(),
		byID:         make(map[string]*Subject),
		data:         make(map[string][]json.RawMessage),
		pausePending: make(map[int]bool),
		started:      -1,
		barriers:     make(map[string]*barrier),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.Named("subject").With(zap.String("subject", s.self))

	s.gate = newGate(s.deliver)
	s.local = newRegistry("self", t.RecvSelf, func(env *bus.Envelope) bool {
		return env.Period == t.Period(s.self)
	}, s.log)
	s.remote = newRegistry("others", t.RecvOthers, func(env *bus.Envelope) bool {
		return env.Sender == bus.AdminSender || env.Period == t.Period(env.Sender)
	}, s.log)

	s.install()
	return s
}

// install registers the protocol handlers. Order matters where two handlers
// share a key: they run in registration order.
func (s *Session) install() {
	t := s.transport

	t.RecvAll(bus.KeySetGroup, s.handleSetGroup)
	t.RecvAll(bus.KeySetPeriod, s.handleSubjectPeriod)
	t.RecvAll(bus.KeyPageLoaded, s.handlePageLoaded)
	t.RecvAll(bus.KeyAtBarrier, s.handleArrival)
	t.RecvAll(bus.Wildcard, s.handleData)

	t.RecvSelf(bus.KeySetPeriod, s.handleSetPeriod)
	t.RecvSelf(bus.KeyRetrieve, s.handleRetrieveResponse)

	s.On(bus.KeySetPoints, s.handleLocalPoints)
	s.On(bus.KeyPaused, s.handlePaused)
	s.On(bus.KeyResume, s.handleResume)
	s.On(bus.KeyNextPeriod, s.handleNextPeriod)
	s.On(bus.KeyFinish, s.handleFinish)

	s.Recv(bus.KeySetPoints, s.handleRemotePoints)
	s.Recv(bus.KeySetConfig, s.handleSetConfig)

	t.OnSyncComplete(s.dropUnanswered)
	t.OnLoad(s.handleLoad)
}

// ID returns the local subject id.
func (s *Session) ID() string { return s.self }

// Period returns the local subject's current period.
func (s *Session) Period() int { return s.period }

// Group returns the local subject's current group.
func (s *Session) Group() int { return s.group }

// Config returns the configuration resolved for the current period.
// It reports false in the wait and finished phases.
func (s *Session) Config() (config.Period, bool) { return s.config, s.hasConfig }

// Configs returns the session's period configuration list.
func (s *Session) Configs() []config.Period { return s.configs }

// Paused reports whether the current period is held waiting for the admin.
func (s *Session) Paused() bool { return s.paused }

// Realtime reports whether the transport has finished replaying history.
func (s *Session) Realtime() bool { return !s.transport.Syncing() }

// MessagingEnabled reports whether outbound sends go straight to the transport.
func (s *Session) MessagingEnabled() bool { return s.gate.enabled }

// Context returns the routing applied to sends made now.
func (s *Session) Context() Context {
	return Context{Period: s.period, Group: s.group, Sender: s.self}
}

// Send publishes key/value through the outbound gate. Routing is resolved
// now, from the session context and opts, even if the send is buffered.
func (s *Session) Send(key string, value interface{}, opts ...SendOption) error {
	ctx := s.Context()
	for _, opt := range opts {
		opt(&ctx)
	}
	return s.gate.send(outbound{key: key, value: value, ctx: ctx})
}

// Trigger sends an event to the local subject's own handlers.
func (s *Session) Trigger(event string, value interface{}) error {
	return s.Send(event, value)
}

// Save records a value in the current period.
func (s *Session) Save(key string, value interface{}) error {
	return s.Send(key, value)
}

// Set records a global value (period 0) that survives period changes.
func (s *Session) Set(key string, value interface{}, opts ...SendOption) error {
	return s.Send(key, value, append([]SendOption{WithPeriod(0)}, opts...)...)
}

// EnableMessaging flushes buffered sends and lets later ones through.
// Only the first call has an effect.
func (s *Session) EnableMessaging() error {
	buffered := s.gate.buffered()
	if err := s.gate.enable(); err != nil {
		metrics.RecordFlushFailures(len(multierr.Errors(err)))
		s.log.Error("failed to flush buffered sends", zap.Error(err))
		return err
	}
	if buffered > 0 {
		s.log.Debug("messaging enabled", zap.Int("flushed", buffered))
	}
	return nil
}

// On registers a handler for events the local subject sends itself in its
// current period.
func (s *Session) On(event string, fn LocalHandler) SubscriptionID {
	return s.local.register(event, func(env *bus.Envelope) { fn(env.Value) })
}

// Recv registers a handler for messages other subjects send in their current
// period. Admin messages are always delivered.
func (s *Session) Recv(key string, fn RemoteHandler) SubscriptionID {
	return s.remote.register(key, func(env *bus.Envelope) { fn(env.Sender, env.Value) })
}

// Timeout schedules fn on the event loop after delay.
func (s *Session) Timeout(fn func(), delay time.Duration) scheduler.Token {
	return s.sched.Schedule(fn, delay)
}

// CancelTimeout cancels a callback scheduled with Timeout.
func (s *Session) CancelTimeout(token scheduler.Token) {
	s.sched.Cancel(token)
}

func (s *Session) deliver(o outbound) error {
	return s.transport.Send(o.key, o.value, bus.SendOptions{
		Period: o.ctx.Period,
		Group:  o.ctx.Group,
		Sender: o.ctx.Sender,
	})
}

// decode unmarshals an envelope value, logging and reporting false on failure.
func (s *Session) decode(env *bus.Envelope, v interface{}) bool {
	if err := env.Decode(v); err != nil {
		metrics.RecordDropped(metrics.ReasonDecode)
		s.log.Warn("dropping undecodable envelope", zap.Int64("seq", env.Seq), zap.Error(err))
		return false
	}
	return true
}

func (s *Session) decodeValue(key string, value json.RawMessage, v interface{}) bool {
	if len(value) == 0 {
		return true
	}
	if err := json.Unmarshal(value, v); err != nil {
		metrics.RecordDropped(metrics.ReasonDecode)
		s.log.Warn("dropping undecodable event", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

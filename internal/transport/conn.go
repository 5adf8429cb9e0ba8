// Package transport connects a subject session to the Redis session bus.
//
// A Conn owns the session's event loop. Run subscribes to the session
// channel, replays the persisted session log, goes live and then delivers
// envelopes, timer callbacks and posted tasks one at a time on a single
// goroutine. Every handler registered on a Conn, and every Session method
// called from one, runs on that goroutine.
package transport

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync/atomic"

	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/dyluth/redwood/internal/config"
	"github.com/dyluth/redwood/internal/metrics"
	"github.com/dyluth/redwood/internal/scheduler"
	"github.com/dyluth/redwood/pkg/bus"
)

// ErrClosed is returned by Do once the event loop has stopped.
var ErrClosed = errors.New("connection closed")

// Bus is the part of bus.Client a Conn uses.
type Bus interface {
	Publish(ctx context.Context, env *bus.Envelope) (*bus.Envelope, error)
	Subscribe(ctx context.Context) (*bus.Subscription, error)
	SessionLog(ctx context.Context) ([]*bus.Envelope, error)
	PeriodLog(ctx context.Context, period int) ([]*bus.Envelope, error)
}

const (
	feedSelf = iota
	feedOthers
	feedAll
)

// Conn is one subject's connection to a session. It implements subject.Transport.
type Conn struct {
	bus       Bus
	self      string
	log       *zap.Logger
	sched     *scheduler.Scheduler
	presenter Presenter

	ctx     context.Context
	feeds   [3]map[string][]bus.Handler
	lastSeq int64

	periods map[string]int
	groups  map[string]int
	configs []config.Period
	page    string

	syncing       bool
	live          atomic.Bool
	syncCallbacks []func()
	loadCallbacks []func()

	tasks chan func()
	done  chan struct{}
}

// Option configures a Conn.
type Option func(*options)

type options struct {
	log       *zap.Logger
	clock     clock.WithDelayedExecution
	presenter Presenter
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithClock sets the clock timers are armed on. The default is the real clock.
func WithClock(clk clock.WithDelayedExecution) Option {
	return func(o *options) { o.clock = clk }
}

// WithPresenter sets what pages are shown on. The default logs them.
func WithPresenter(p Presenter) Option {
	return func(o *options) { o.presenter = p }
}

// New creates a connection for subject self. Nothing happens until Run.
func New(b Bus, self string, opts ...Option) *Conn {
	o := options{log: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	log := o.log.Named("transport").With(zap.String("subject", self))
	if o.presenter == nil {
		o.presenter = NewLogPresenter(log)
	}

	c := &Conn{
		bus:       b,
		self:      self,
		log:       log,
		presenter: o.presenter,
		ctx:       context.Background(),
		periods:   make(map[string]int),
		groups:    make(map[string]int),
		page:      bus.PageWait,
		syncing:   true,
		tasks:     make(chan func(), 64),
		done:      make(chan struct{}),
	}
	for i := range c.feeds {
		c.feeds[i] = make(map[string][]bus.Handler)
	}
	c.sched = scheduler.New(o.clock, c.post)
	return c
}

// Scheduler returns the scheduler whose callbacks run on the event loop.
func (c *Conn) Scheduler() *scheduler.Scheduler {
	return c.sched
}

// Run connects and processes the session until ctx is cancelled or the
// subscription ends. Handlers run on the calling goroutine.
func (c *Conn) Run(ctx context.Context) error {
	defer close(c.done)
	c.ctx = ctx

	subscription, err := c.bus.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to session: %w", err)
	}
	defer subscription.Close()

	if err := c.sync(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			c.log.Info("shutting down")
			return nil

		case env, ok := <-subscription.Events():
			if !ok {
				c.log.Info("subscription closed")
				return nil
			}
			c.apply(env)

		case task := <-c.tasks:
			task()

		case err, ok := <-subscription.Errors():
			if !ok {
				c.log.Info("subscription error channel closed")
				return nil
			}
			metrics.RecordDropped(metrics.ReasonDecode)
			c.log.Warn("subscription error", zap.Error(err))
		}
	}
}

// sync replays the session log, goes live and loads the current page.
// Envelopes published meanwhile wait on the subscription and are
// deduplicated against the replay by sequence number.
func (c *Conn) sync(ctx context.Context) error {
	history, err := c.bus.SessionLog(ctx)
	if err != nil {
		return fmt.Errorf("failed to read session log: %w", err)
	}

	replay := bus.SyncLog(history, c.self)
	c.log.Info("replaying session log",
		zap.Int("envelopes", len(replay)),
		zap.Int("skipped", len(history)-len(replay)))

	for _, env := range replay {
		c.apply(env)
	}
	if n := len(history); n > 0 && history[n-1].Seq > c.lastSeq {
		c.lastSeq = history[n-1].Seq
	}

	c.syncing = false
	c.live.Store(true)
	c.sched.GoLive()

	callbacks := c.syncCallbacks
	c.syncCallbacks = nil
	for _, fn := range callbacks {
		fn()
	}

	c.log.Info("live", zap.Int("period", c.periods[c.self]), zap.String("page", c.page))
	if err := c.present(); err != nil {
		c.log.Error("failed to load page", zap.String("page", c.page), zap.Error(err))
	}
	return nil
}

// apply updates the tables from env and dispatches it: the all feed first,
// then the self or others feed.
func (c *Conn) apply(env *bus.Envelope) {
	if env.Seq <= c.lastSeq {
		metrics.RecordDropped(metrics.ReasonDuplicate)
		return
	}
	c.lastSeq = env.Seq

	switch env.Key {
	case bus.KeySetPeriod:
		c.periods[env.Sender] = env.Period
		if env.Sender == c.self {
			metrics.SetPeriod(env.Period)
		}
	case bus.KeySetGroup:
		c.groups[env.Sender] = env.Group
	case bus.KeySetConfig:
		var configs []config.Period
		if err := env.Decode(&configs); err != nil {
			c.log.Warn("ignoring undecodable config", zap.Int64("seq", env.Seq), zap.Error(err))
		} else {
			c.configs = configs
		}
	}

	c.dispatch(feedAll, env)
	if env.Sender == c.self {
		c.dispatch(feedSelf, env)
	} else {
		c.dispatch(feedOthers, env)
	}
}

func (c *Conn) dispatch(feed int, env *bus.Envelope) {
	handlers := c.feeds[feed]
	for _, h := range slices.Clone(handlers[env.Key]) {
		h(env)
	}
	if env.Key != bus.Wildcard {
		for _, h := range slices.Clone(handlers[bus.Wildcard]) {
			h(env)
		}
	}
}

// post queues fn on the event loop. It is the scheduler's executor and may
// be called from any goroutine; after Run returns fn is discarded.
func (c *Conn) post(fn func()) {
	select {
	case c.tasks <- fn:
	case <-c.done:
	}
}

// Do runs f on the event loop and waits for it to finish. It must not be
// called from the event loop itself.
func (c *Conn) Do(ctx context.Context, f func()) error {
	ran := make(chan struct{})
	task := func() {
		defer close(ran)
		f()
	}

	select {
	case c.tasks <- task:
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-ran:
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when Run returns.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Self returns the local subject id.
func (c *Conn) Self() string { return c.self }

// Send publishes an envelope. While syncing it does nothing: the envelope
// being replayed was already published by the previous run.
func (c *Conn) Send(key string, value interface{}, opts bus.SendOptions) error {
	if c.syncing {
		metrics.RecordDropped(metrics.ReasonSyncing)
		return nil
	}
	if opts.Sender == "" {
		opts.Sender = c.self
	}

	env, err := bus.NewEnvelope(opts.Sender, opts.Period, opts.Group, key, value)
	if err != nil {
		return err
	}
	if _, err := c.bus.Publish(c.ctx, env); err != nil {
		return err
	}
	metrics.RecordPublished()
	return nil
}

// RecvSelf subscribes h to envelopes the local subject sent.
func (c *Conn) RecvSelf(key string, h bus.Handler) {
	c.feeds[feedSelf][key] = append(c.feeds[feedSelf][key], h)
}

// RecvOthers subscribes h to envelopes anyone else sent.
func (c *Conn) RecvOthers(key string, h bus.Handler) {
	c.feeds[feedOthers][key] = append(c.feeds[feedOthers][key], h)
}

// RecvAll subscribes h to every envelope.
func (c *Conn) RecvAll(key string, h bus.Handler) {
	c.feeds[feedAll][key] = append(c.feeds[feedAll][key], h)
}

// PeriodLog reads the persisted envelopes of period and hands them to h
// before returning. A failed read is logged and h receives no envelopes, so
// callers waiting on h still make progress.
func (c *Conn) PeriodLog(period int, h func([]*bus.Envelope)) {
	log, err := c.bus.PeriodLog(c.ctx, period)
	if err != nil {
		c.log.Error("failed to read period log", zap.Int("period", period), zap.Error(err))
		log = nil
	}
	h(log)
}

// SetPeriod moves the local subject to period.
func (c *Conn) SetPeriod(period int) error {
	return c.Send(bus.KeySetPeriod, bus.PeriodValue{Period: period}, bus.SendOptions{
		Period: period,
		Group:  c.groups[c.self],
		Sender: c.self,
	})
}

// SetGroup moves participant to group.
func (c *Conn) SetGroup(group int, participant string) error {
	return c.Send(bus.KeySetGroup, bus.GroupValue{Group: group}, bus.SendOptions{
		Period: c.periods[participant],
		Group:  group,
		Sender: participant,
	})
}

// PresentPhase records page as participant's current page. Presenting to the
// local subject also loads the page.
func (c *Conn) PresentPhase(page string, participant string) error {
	if participant == c.self {
		c.page = page
	}
	if c.syncing {
		return nil
	}

	if err := c.Send(bus.KeySetPage, bus.PageValue{Page: page}, bus.SendOptions{
		Period: c.periods[participant],
		Group:  c.groups[participant],
		Sender: participant,
	}); err != nil {
		return err
	}
	if participant != c.self {
		return nil
	}
	return c.present()
}

// present shows the current page, announces that it loaded and runs the
// load callbacks.
func (c *Conn) present() error {
	if err := c.presenter.Present(c.self, c.periods[c.self], c.page); err != nil {
		return fmt.Errorf("failed to present %s: %w", c.page, err)
	}

	err := c.Send(bus.KeyPageLoaded, bus.PeriodValue{Period: c.periods[c.self]}, bus.SendOptions{
		Period: c.periods[c.self],
		Group:  c.groups[c.self],
		Sender: c.self,
	})
	for _, fn := range slices.Clone(c.loadCallbacks) {
		fn()
	}
	return err
}

// OnSyncComplete runs fn once replay has finished, immediately if it has.
func (c *Conn) OnSyncComplete(fn func()) {
	if !c.syncing {
		fn()
		return
	}
	c.syncCallbacks = append(c.syncCallbacks, fn)
}

// OnLoad runs fn every time the local subject's page loads.
func (c *Conn) OnLoad(fn func()) {
	c.loadCallbacks = append(c.loadCallbacks, fn)
}

// Syncing reports whether the session log is still being replayed.
func (c *Conn) Syncing() bool { return c.syncing }

// Live reports whether replay has finished. Unlike Syncing it may be called
// from any goroutine.
func (c *Conn) Live() bool { return c.live.Load() }

// Period returns participant's current period, 0 if unknown.
func (c *Conn) Period(participant string) int { return c.periods[participant] }

// Group returns participant's current group, 0 if unknown.
func (c *Conn) Group(participant string) int { return c.groups[participant] }

// Groups returns a copy of the participant to group table.
func (c *Conn) Groups() map[string]int { return maps.Clone(c.groups) }

// Configs returns the session's period configuration.
func (c *Conn) Configs() []config.Period { return slices.Clone(c.configs) }

// Page returns the page the local subject is on.
func (c *Conn) Page() string { return c.page }

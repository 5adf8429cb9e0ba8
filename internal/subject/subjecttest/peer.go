package subjecttest

import (
	"context"
	"maps"
	"slices"

	"github.com/dyluth/redwood/internal/config"
	"github.com/dyluth/redwood/pkg/bus"
)

const (
	feedSelf = iota
	feedOthers
	feedAll
)

// Peer is one participant's connection to a Hub. It implements subject.Transport.
type Peer struct {
	hub     *Hub
	id      string
	feeds   [3]map[string][]bus.Handler
	lastSeq int64

	periods map[string]int
	groups  map[string]int
	configs []config.Period

	syncing       bool
	synced        bool
	syncCallbacks []func()
	loadCallbacks []func()
	page          string

	// Pages lists every page presented to this participant, in order.
	Pages []string
}

// Join connects a live participant: it receives everything published from now on.
func (h *Hub) Join(id string) *Peer {
	p := h.newPeer(id)
	p.synced = true
	return p
}

// Reconnect connects a participant that has not replayed history yet.
// Call Sync to replay and go live.
func (h *Hub) Reconnect(id string) *Peer {
	p := h.newPeer(id)
	p.syncing = true
	return p
}

func (h *Hub) newPeer(id string) *Peer {
	p := &Peer{
		hub:     h,
		id:      id,
		periods: make(map[string]int),
		groups:  make(map[string]int),
		page:    bus.PageWait,
	}
	for i := range p.feeds {
		p.feeds[i] = make(map[string][]bus.Handler)
	}
	h.peers = append(h.peers, p)
	return p
}

// Sync replays the hub history the way a reconnecting transport does, then
// fires the sync-complete callbacks and loads the current page.
func (p *Peer) Sync() {
	for _, env := range bus.SyncLog(p.hub.History(), p.id) {
		p.apply(env)
	}
	p.syncing = false
	p.synced = true

	callbacks := p.syncCallbacks
	p.syncCallbacks = nil
	for _, fn := range callbacks {
		fn()
	}
	_ = p.present()
}

// deliver is the live path. A syncing peer picks these up from history in Sync.
func (p *Peer) deliver(env *bus.Envelope) {
	if p.syncing {
		return
	}
	p.apply(env)
}

func (p *Peer) apply(env *bus.Envelope) {
	if env.Seq <= p.lastSeq {
		return
	}
	p.lastSeq = env.Seq

	switch env.Key {
	case bus.KeySetPeriod:
		p.periods[env.Sender] = env.Period
	case bus.KeySetGroup:
		p.groups[env.Sender] = env.Group
	case bus.KeySetConfig:
		var configs []config.Period
		if err := env.Decode(&configs); err == nil {
			p.configs = configs
		}
	}

	p.dispatch(feedAll, env)
	if env.Sender == p.id {
		p.dispatch(feedSelf, env)
	} else {
		p.dispatch(feedOthers, env)
	}
}

func (p *Peer) dispatch(feed int, env *bus.Envelope) {
	handlers := p.feeds[feed]
	for _, h := range handlers[env.Key] {
		h(env)
	}
	if env.Key != bus.Wildcard {
		for _, h := range handlers[bus.Wildcard] {
			h(env)
		}
	}
}

// Self returns the participant id.
func (p *Peer) Self() string { return p.id }

// Send publishes through the hub unless the peer is syncing.
func (p *Peer) Send(key string, value interface{}, opts bus.SendOptions) error {
	if p.syncing {
		return nil
	}
	if opts.Sender == "" {
		opts.Sender = p.id
	}
	env, err := bus.NewEnvelope(opts.Sender, opts.Period, opts.Group, key, value)
	if err != nil {
		return err
	}
	_, err = p.hub.Publish(context.Background(), env)
	return err
}

func (p *Peer) RecvSelf(key string, h bus.Handler) {
	p.feeds[feedSelf][key] = append(p.feeds[feedSelf][key], h)
}

func (p *Peer) RecvOthers(key string, h bus.Handler) {
	p.feeds[feedOthers][key] = append(p.feeds[feedOthers][key], h)
}

func (p *Peer) RecvAll(key string, h bus.Handler) {
	p.feeds[feedAll][key] = append(p.feeds[feedAll][key], h)
}

// PeriodLog hands h the persisted envelopes of period, synchronously.
func (p *Peer) PeriodLog(period int, h func([]*bus.Envelope)) {
	h(slices.Clone(p.hub.logs[period]))
}

func (p *Peer) SetPeriod(period int) error {
	return p.Send(bus.KeySetPeriod, bus.PeriodValue{Period: period}, bus.SendOptions{
		Period: period, Group: p.groups[p.id], Sender: p.id,
	})
}

func (p *Peer) SetGroup(group int, participant string) error {
	return p.Send(bus.KeySetGroup, bus.GroupValue{Group: group}, bus.SendOptions{
		Period: p.periods[participant], Group: group, Sender: participant,
	})
}

func (p *Peer) PresentPhase(page string, participant string) error {
	if participant == p.id {
		p.page = page
	}
	if p.syncing {
		return nil
	}
	if err := p.Send(bus.KeySetPage, bus.PageValue{Page: page}, bus.SendOptions{
		Period: p.periods[participant], Group: p.groups[participant], Sender: participant,
	}); err != nil {
		return err
	}
	if participant != p.id {
		return nil
	}
	return p.present()
}

func (p *Peer) present() error {
	p.Pages = append(p.Pages, p.page)
	err := p.Send(bus.KeyPageLoaded, bus.PeriodValue{Period: p.periods[p.id]}, bus.SendOptions{
		Period: p.periods[p.id], Group: p.groups[p.id], Sender: p.id,
	})
	callbacks := slices.Clone(p.loadCallbacks)
	for _, fn := range callbacks {
		fn()
	}
	return err
}

func (p *Peer) OnSyncComplete(fn func()) {
	if p.synced {
		fn()
		return
	}
	p.syncCallbacks = append(p.syncCallbacks, fn)
}

func (p *Peer) OnLoad(fn func()) {
	p.loadCallbacks = append(p.loadCallbacks, fn)
}

func (p *Peer) Syncing() bool { return p.syncing }

func (p *Peer) Period(participant string) int { return p.periods[participant] }

func (p *Peer) Group(participant string) int { return p.groups[participant] }

func (p *Peer) Groups() map[string]int { return maps.Clone(p.groups) }

func (p *Peer) Configs() []config.Period { return slices.Clone(p.configs) }

// Page returns the page currently shown to the participant.
func (p *Peer) Page() string { return p.page }

// Subscriptions reports how many transport handlers are registered for key
// across all feeds.
func (p *Peer) Subscriptions(key string) int {
	n := 0
	for _, feed := range p.feeds {
		n += len(feed[key])
	}
	return n
}

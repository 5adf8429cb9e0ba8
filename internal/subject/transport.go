package subject

import (
	"time"

	"github.com/dyluth/redwood/internal/config"
	"github.com/dyluth/redwood/internal/scheduler"
	"github.com/dyluth/redwood/pkg/bus"
)

// Transport is the session connection a Session runs on.
//
// Every method is called from the transport's event loop, and every handler
// and callback is invoked on it. Envelopes sent through the transport take
// effect only when they are delivered back; the transport updates its
// period, group and config tables before dispatching an envelope.
type Transport interface {
	// Self returns the local subject id.
	Self() string

	// Send publishes an envelope. Sends made while syncing are suppressed.
	Send(key string, value interface{}, opts bus.SendOptions) error

	// RecvSelf subscribes h to envelopes sent by the local subject.
	RecvSelf(key string, h bus.Handler)
	// RecvOthers subscribes h to envelopes sent by anyone else.
	RecvOthers(key string, h bus.Handler)
	// RecvAll subscribes h to every envelope.
	RecvAll(key string, h bus.Handler)

	// PeriodLog fetches the persisted envelopes of a period and hands them to h.
	PeriodLog(period int, h func([]*bus.Envelope))

	// SetPeriod moves the local subject to period.
	SetPeriod(period int) error
	// SetGroup moves participant to group.
	SetGroup(group int, participant string) error
	// PresentPhase shows page to participant. Presenting to the local
	// subject loads the page, which fires the OnLoad callbacks.
	PresentPhase(page string, participant string) error

	// OnSyncComplete runs f once history has been replayed (immediately if it has been).
	OnSyncComplete(f func())
	// OnLoad runs f every time the local subject's page loads.
	OnLoad(f func())
	// Syncing reports whether history is still being replayed.
	Syncing() bool

	// Period returns the current period of a participant.
	Period(participant string) int
	// Group returns the current group of a participant.
	Group(participant string) int
	// Groups returns a copy of the participant -> group table.
	Groups() map[string]int
	// Configs returns the session's period configuration.
	Configs() []config.Period
}

// Scheduler defers callbacks; fired callbacks must run on the transport's event loop.
type Scheduler interface {
	Schedule(fn func(), delay time.Duration) scheduler.Token
	Cancel(token scheduler.Token)
}

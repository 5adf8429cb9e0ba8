// Package metrics holds the Prometheus instruments of a participant process.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "redwood"

// Feed labels.
const (
	FeedSelf   = "self"
	FeedOthers = "others"
	FeedAll    = "all"
)

// Drop reasons.
const (
	ReasonStalePeriod    = "stale_period"
	ReasonUnknownSubject = "unknown_subject"
	ReasonDuplicate      = "duplicate"
	ReasonDecode         = "decode"
	ReasonSyncing        = "syncing"
)

var (
	envelopesDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelopes_dispatched_total",
			Help:      "Count of envelopes handed to registered handlers, by feed.",
		},
		[]string{"feed"},
	)
	envelopesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelopes_dropped_total",
			Help:      "Count of envelopes discarded before reaching handlers, by reason.",
		},
		[]string{"reason"},
	)
	envelopesPublished = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelopes_published_total",
			Help:      "Count of envelopes published to the session bus.",
		},
	)
	sendsBuffered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sends_buffered_total",
			Help:      "Count of sends held by the outbound gate until messaging was enabled.",
		},
	)
	flushFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_flush_failures_total",
			Help:      "Count of buffered sends the transport rejected when messaging was enabled.",
		},
	)
	handlerPanics = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_panics_total",
			Help:      "Count of handlers that panicked while processing an envelope.",
		},
	)
	barriersResolved = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "barriers_resolved_total",
			Help:      "Count of synchronization barriers resolved.",
		},
	)
	currentPeriod = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "period",
			Help:      "Current period of the local subject.",
		},
	)
)

var registerMetrics sync.Once

// Register all metrics on reg. Only the first call has an effect.
func Register(reg prometheus.Registerer) {
	registerMetrics.Do(func() {
		reg.MustRegister(envelopesDispatched)
		reg.MustRegister(envelopesDropped)
		reg.MustRegister(envelopesPublished)
		reg.MustRegister(sendsBuffered)
		reg.MustRegister(flushFailures)
		reg.MustRegister(handlerPanics)
		reg.MustRegister(barriersResolved)
		reg.MustRegister(currentPeriod)
	})
}

// RecordDispatched records an envelope handed to the handlers of a feed.
func RecordDispatched(feed string) {
	envelopesDispatched.WithLabelValues(feed).Inc()
}

// RecordDropped records an envelope discarded for reason.
func RecordDropped(reason string) {
	envelopesDropped.WithLabelValues(reason).Inc()
}

// RecordPublished records an envelope published to the bus.
func RecordPublished() {
	envelopesPublished.Inc()
}

// RecordBuffered records a send held by the outbound gate.
func RecordBuffered() {
	sendsBuffered.Inc()
}

// RecordFlushFailures records buffered sends rejected while draining the gate.
func RecordFlushFailures(n int) {
	flushFailures.Add(float64(n))
}

// RecordHandlerPanic records a recovered handler panic.
func RecordHandlerPanic() {
	handlerPanics.Inc()
}

// RecordBarrierResolved records a resolved barrier.
func RecordBarrierResolved() {
	barriersResolved.Inc()
}

// SetPeriod records the local subject's period.
func SetPeriod(period int) {
	currentPeriod.Set(float64(period))
}

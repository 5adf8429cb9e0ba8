package subject

import (
	"fmt"

	"go.uber.org/multierr"

	"github.com/dyluth/redwood/internal/metrics"
)

// outbound is a send whose routing has already been resolved.
type outbound struct {
	key   string
	value interface{}
	ctx   Context
}

// gate holds outbound sends until every subject has loaded the period.
// Once enabled it stays enabled.
type gate struct {
	enabled  bool
	draining bool
	queue    []outbound
	deliver  func(o outbound) error
}

func newGate(deliver func(o outbound) error) *gate {
	return &gate{deliver: deliver}
}

func (g *gate) send(o outbound) error {
	if !g.enabled || g.draining {
		g.queue = append(g.queue, o)
		metrics.RecordBuffered()
		return nil
	}
	return g.deliver(o)
}

// enable flushes the buffer in insertion order. Sends made while draining are
// appended behind what is already buffered. Every buffered send is attempted;
// failures are combined into the returned error.
func (g *gate) enable() error {
	if g.enabled {
		return nil
	}
	g.enabled = true
	g.draining = true
	defer func() { g.draining = false }()

	var errs error
	for len(g.queue) > 0 {
		o := g.queue[0]
		g.queue = g.queue[1:]
		if err := g.deliver(o); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("send %s: %w", o.key, err))
		}
	}
	return errs
}

func (g *gate) buffered() int {
	return len(g.queue)
}

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister_OnlyOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	assert.NotPanics(t, func() {
		Register(reg)
		Register(reg)
	})

	RecordPublished()
	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["redwood_envelopes_published_total"])
}

func TestRecorders(t *testing.T) {
	before := testutil.ToFloat64(envelopesDropped.WithLabelValues(ReasonStalePeriod))
	RecordDropped(ReasonStalePeriod)
	RecordDropped(ReasonStalePeriod)
	assert.Equal(t, before+2, testutil.ToFloat64(envelopesDropped.WithLabelValues(ReasonStalePeriod)))

	before = testutil.ToFloat64(envelopesDispatched.WithLabelValues(FeedAll))
	RecordDispatched(FeedAll)
	assert.Equal(t, before+1, testutil.ToFloat64(envelopesDispatched.WithLabelValues(FeedAll)))

	before = testutil.ToFloat64(flushFailures)
	RecordFlushFailures(3)
	assert.Equal(t, before+3, testutil.ToFloat64(flushFailures))

	SetPeriod(4)
	assert.Equal(t, float64(4), testutil.ToFloat64(currentPeriod))
}

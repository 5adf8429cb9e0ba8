package subject

import (
	"encoding/json"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/redwood/internal/config"
	"github.com/dyluth/redwood/pkg/bus"
)

func TestCompareIDs(t *testing.T) {
	ids := []string{"b", "10", "2", "a", "1", "x10"}
	slices.SortFunc(ids, compareIDs)
	assert.Equal(t, []string{"1", "2", "10", "a", "b", "x10"}, ids)
}

func TestSubject_ApplyPoints(t *testing.T) {
	sub := newSubject("1", 1)

	sub.applyPoints(5)
	assert.Equal(t, 5.0, sub.Points)
	assert.Equal(t, 5.0, sub.AccumulatedPoints)

	sub.applyPoints(15)
	assert.Equal(t, 15.0, sub.Points)
	assert.Equal(t, 15.0, sub.AccumulatedPoints)

	sub.applyPoints(5)
	assert.Equal(t, 5.0, sub.Points)
	assert.Equal(t, 5.0, sub.AccumulatedPoints, "lowering the target lowers the total")
}

func TestSubject_History(t *testing.T) {
	sub := newSubject("1", 1)
	assert.Nil(t, sub.Get("offer"))
	assert.Nil(t, sub.GetPrevious("offer"))

	sub.record("offer", json.RawMessage(`1`))
	assert.JSONEq(t, `1`, string(sub.Get("offer")))
	assert.Nil(t, sub.GetPrevious("offer"))

	sub.record("offer", json.RawMessage(`2`))
	assert.JSONEq(t, `2`, string(sub.Get("offer")))
	assert.JSONEq(t, `1`, string(sub.GetPrevious("offer")))
	assert.Len(t, sub.History("offer"), 2)
}

func TestSubject_PointsByPeriod(t *testing.T) {
	sub := newSubject("1", 1)
	sub.record(bus.KeyAccumulatedPoints, json.RawMessage(`3`))
	sub.record(bus.KeyAccumulatedPoints, json.RawMessage(`"garbage"`))
	sub.record(bus.KeyAccumulatedPoints, json.RawMessage(`10`))
	sub.record(bus.KeyAccumulatedPoints, json.RawMessage(`10`))

	assert.Equal(t, []float64{3, 7, 0}, sub.PointsByPeriod())
}

func TestSession_DataIgnoresUnknownSenders(t *testing.T) {
	h := newHarness(t, "1", "2")
	h.start(config.Period{})
	s1 := h.sessions["1"]

	h.hub.PublishAs("stranger", 1, 1, "offer", 5)
	require.NoError(t, h.sessions["2"].Save("offer", 7))
	h.hub.Flush()

	require.Len(t, s1.Data("offer"), 1)
	assert.JSONEq(t, `7`, string(s1.Data("offer")[0]))
	_, ok := s1.Subject("stranger")
	assert.False(t, ok)

	sub, ok := s1.Subject("2")
	require.True(t, ok)
	assert.JSONEq(t, `7`, string(sub.Get("offer")))
}

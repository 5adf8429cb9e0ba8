package journal

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/redwood/pkg/bus"
)

func setupTestClient(t *testing.T) *bus.Client {
	mr := miniredis.RunT(t)
	client, err := bus.NewClient(&redis.Options{Addr: mr.Addr()}, "lab", 1)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	ctx := context.Background()
	for _, e := range []struct {
		sender string
		period int
		key    string
		value  interface{}
	}{
		{bus.AdminSender, 0, bus.KeySetConfig, []interface{}{}},
		{"1", 1, bus.KeySetPeriod, bus.PeriodValue{Period: 1}},
		{"2", 1, bus.KeySetPeriod, bus.PeriodValue{Period: 1}},
		{"1", 1, "offer", 5},
		{"2", 1, "offer_final", 6},
		{"2", 1, "chat", "hi"},
		{"1", 2, "offer", 7},
	} {
		env, err := bus.NewEnvelope(e.sender, e.period, 1, e.key, e.value)
		require.NoError(t, err)
		_, err = client.Publish(ctx, env)
		require.NoError(t, err)
	}
	return client
}

func TestList(t *testing.T) {
	ctx := context.Background()

	t.Run("period table", func(t *testing.T) {
		client := setupTestClient(t)
		var buf bytes.Buffer
		require.NoError(t, List(ctx, client, 1, OutputFormatDefault, nil, &buf))

		out := buf.String()
		assert.Contains(t, out, "Envelopes for period 1:")
		assert.Contains(t, out, "5 envelopes found")
	})

	t.Run("empty period", func(t *testing.T) {
		client := setupTestClient(t)
		var buf bytes.Buffer
		require.NoError(t, List(ctx, client, 9, OutputFormatDefault, nil, &buf))
		assert.Contains(t, buf.String(), "No envelopes found for period 9")
	})

	t.Run("global values", func(t *testing.T) {
		client := setupTestClient(t)
		var buf bytes.Buffer
		require.NoError(t, List(ctx, client, 0, OutputFormatDefault, nil, &buf))
		assert.Contains(t, buf.String(), "Envelopes for global values:")
	})

	t.Run("whole session as JSONL", func(t *testing.T) {
		client := setupTestClient(t)
		var buf bytes.Buffer
		require.NoError(t, List(ctx, client, AllPeriods, OutputFormatJSONL, nil, &buf))

		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		assert.Len(t, lines, 7)
	})

	t.Run("key glob and sender filters", func(t *testing.T) {
		client := setupTestClient(t)
		var buf bytes.Buffer
		require.NoError(t, List(ctx, client, AllPeriods, OutputFormatJSONL, &FilterCriteria{KeyGlob: "offer*"}, &buf))
		assert.Len(t, strings.Split(strings.TrimSpace(buf.String()), "\n"), 3)

		buf.Reset()
		require.NoError(t, List(ctx, client, AllPeriods, OutputFormatJSONL, &FilterCriteria{KeyGlob: "offer*", Sender: "1"}, &buf))
		assert.Len(t, strings.Split(strings.TrimSpace(buf.String()), "\n"), 2)
	})

	t.Run("unknown format", func(t *testing.T) {
		client := setupTestClient(t)
		err := List(ctx, client, 1, "xml", nil, &bytes.Buffer{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown output format: xml")
	})
}

func TestFilterCriteria_Matches(t *testing.T) {
	env := &bus.Envelope{Sender: "1", Key: "offer", Time: 1000}

	assert.True(t, (&FilterCriteria{}).Matches(env))
	assert.True(t, (&FilterCriteria{KeyGlob: "of*"}).Matches(env))
	assert.False(t, (&FilterCriteria{KeyGlob: "bid*"}).Matches(env))
	assert.False(t, (&FilterCriteria{KeyGlob: "["}).Matches(env), "a bad pattern matches nothing")
	assert.False(t, (&FilterCriteria{Sender: "2"}).Matches(env))
	assert.True(t, (&FilterCriteria{SinceNs: 1000, UntilNs: 1000}).Matches(env), "bounds are inclusive")
	assert.False(t, (&FilterCriteria{SinceNs: 1001}).Matches(env))
	assert.False(t, (&FilterCriteria{UntilNs: 999}).Matches(env))
}

package bot

import (
	"encoding/json"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dyluth/redwood/internal/config"
	"github.com/dyluth/redwood/internal/subject"
	"github.com/dyluth/redwood/internal/subject/subjecttest"
	"github.com/dyluth/redwood/pkg/bus"
)

func TestBot_PlaysEveryPeriodToTheEnd(t *testing.T) {
	hub := subjecttest.NewHub()
	ids := []string{"1", "2"}

	var (
		peers    []*subjecttest.Peer
		scheds   []*subjecttest.Scheduler
		sessions []*subject.Session
		bots     []*Bot
	)
	for i, id := range ids {
		peer := hub.Join(id)
		sched := subjecttest.NewScheduler()
		s := subject.New(peer, sched, subject.WithLogger(zaptest.NewLogger(t)))
		bots = append(bots, New(s, WithRand(rand.New(rand.NewSource(int64(i)))), WithLogger(zaptest.NewLogger(t))))
		peers = append(peers, peer)
		scheds = append(scheds, sched)
		sessions = append(sessions, s)
	}

	hub.Start([]config.Period{{}, {}, {}}, map[string]int{"1": 1, "2": 1})
	for round := 0; round < 10; round++ {
		hub.Flush()
		for _, sched := range scheds {
			sched.Fire()
		}
	}
	hub.Flush()

	for i, s := range sessions {
		id := ids[i]
		assert.Equal(t, 4, s.Period(), id)
		assert.Equal(t, bus.PageFinish, peers[i].Page(), id)
		assert.Equal(t, 3, bots[i].Played(), id)

		self := s.Self()
		choices := self.History(KeyChoice)
		require.Len(t, choices, 3, id)

		byPeriod := self.PointsByPeriod()
		require.Len(t, byPeriod, 3, id)
		total := 0.0
		for p, points := range byPeriod {
			var choice float64
			require.NoError(t, json.Unmarshal(choices[p], &choice))
			assert.InDelta(t, choice, points, 1e-9, "%s earns its choice in period %d", id, p+1)
			total += points
		}
		assert.InDelta(t, total, s.AccumulatedPoints(), 1e-9, id)
	}
}

func TestBot_Choose(t *testing.T) {
	b := &Bot{rng: rand.New(rand.NewSource(1)), maxPoints: 10}

	first := b.choose(nil)
	assert.GreaterOrEqual(t, first, 0.0)
	assert.Less(t, first, 10.0)

	for i := 0; i < 100; i++ {
		next := b.choose(json.RawMessage(`9.95`))
		assert.GreaterOrEqual(t, next, 8.95)
		assert.LessOrEqual(t, next, 10.0, "choices stay in range")
	}

	assert.GreaterOrEqual(t, b.choose(json.RawMessage(`"junk"`)), 0.0)
}

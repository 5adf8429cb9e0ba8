package subject

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dyluth/redwood/internal/config"
	"github.com/dyluth/redwood/internal/subject/subjecttest"
	"github.com/dyluth/redwood/pkg/bus"
)

// harness runs several sessions on one in-memory hub.
type harness struct {
	t        *testing.T
	hub      *subjecttest.Hub
	peers    map[string]*subjecttest.Peer
	scheds   map[string]*subjecttest.Scheduler
	sessions map[string]*Session
	loads    map[string]int
}

func newHarness(t *testing.T, ids ...string) *harness {
	h := &harness{
		t:        t,
		hub:      subjecttest.NewHub(),
		peers:    make(map[string]*subjecttest.Peer),
		scheds:   make(map[string]*subjecttest.Scheduler),
		sessions: make(map[string]*Session),
		loads:    make(map[string]int),
	}
	for _, id := range ids {
		h.join(id)
	}
	return h
}

func (h *harness) join(id string) *Session {
	peer := h.hub.Join(id)
	sched := subjecttest.NewScheduler()
	s := New(peer, sched, WithLogger(zaptest.NewLogger(h.t)))
	s.OnLoad(func() { h.loads[id]++ })

	h.peers[id] = peer
	h.scheds[id] = sched
	h.sessions[id] = s
	return s
}

// start configures the session with every joined subject in group 1 and
// delivers until quiet.
func (h *harness) start(periods ...config.Period) {
	groups := make(map[string]int, len(h.sessions))
	for id := range h.sessions {
		groups[id] = 1
	}
	h.hub.Start(periods, groups)
	h.hub.Flush()
}

// advance moves every session to its next period.
func (h *harness) advance() {
	for id, s := range h.sessions {
		s.NextPeriod(0)
		h.scheds[id].Fire()
	}
	h.hub.Flush()
}

func rawString(t *testing.T, raw json.RawMessage) string {
	t.Helper()
	var s string
	require.NoError(t, json.Unmarshal(raw, &s))
	return s
}

func TestSession_StartRunsOnLoadOnceGroupLoaded(t *testing.T) {
	h := newHarness(t, "1", "2")
	h.start(config.Period{}, config.Period{})

	for id, s := range h.sessions {
		assert.Equal(t, 1, s.Period(), id)
		assert.Equal(t, 1, s.Group(), id)
		assert.True(t, s.MessagingEnabled(), id)
		assert.Equal(t, 1, h.loads[id], "on-load callbacks run once for %s", id)
		assert.Equal(t, []string{bus.PageStart}, h.peers[id].Pages)

		cfg, ok := s.Config()
		assert.True(t, ok)
		assert.Equal(t, config.Period{}, cfg)
	}

	s1 := h.sessions["1"]
	require.Len(t, s1.Subjects(), 2)
	assert.Equal(t, "1", s1.Self().ID)
	require.Len(t, s1.OtherSubjects(), 1)
	assert.Equal(t, "2", s1.OtherSubjects()[0].ID)
	assert.True(t, s1.Realtime())
}

func TestSession_BufferedSendsFlushInOrder(t *testing.T) {
	h := newHarness(t, "1", "2")
	s1 := h.sessions["1"]

	require.NoError(t, s1.Send("a", 1))
	require.NoError(t, s1.Send("b", 2))
	require.NoError(t, s1.Send("c", 3))
	assert.False(t, s1.MessagingEnabled())
	assert.Empty(t, h.hub.Sent("a"))

	h.start(config.Period{})

	var seqs []int64
	for _, key := range []string{"a", "b", "c"} {
		sent := h.hub.Sent(key)
		require.Len(t, sent, 1, "%s sent exactly once", key)
		assert.Equal(t, 0, sent[0].Period, "routing is resolved when the send is made")
		seqs = append(seqs, sent[0].Seq)
	}
	assert.IsIncreasing(t, seqs)
}

func TestSession_RejectedBufferedSendDoesNotBlockGate(t *testing.T) {
	h := newHarness(t, "1", "2")
	s1 := h.sessions["1"]

	require.NoError(t, s1.Send("bad", make(chan int)))
	require.NoError(t, s1.Send("good", 1))

	h.start(config.Period{})

	assert.True(t, s1.MessagingEnabled())
	assert.Empty(t, h.hub.Sent("bad"))
	assert.Len(t, h.hub.Sent("good"), 1)
}

func TestSession_SendOptionsOverrideContext(t *testing.T) {
	h := newHarness(t, "1")
	h.start(config.Period{})
	s := h.sessions["1"]

	require.NoError(t, s.Send("note", "x", WithPeriod(4), WithGroup(3), WithSender("9")))
	require.NoError(t, s.Set("global", true))
	h.hub.Flush()

	note := h.hub.Sent("note")
	require.Len(t, note, 1)
	assert.Equal(t, 4, note[0].Period)
	assert.Equal(t, 3, note[0].Group)
	assert.Equal(t, "9", note[0].Sender)

	global := h.hub.Sent("global")
	require.Len(t, global, 1)
	assert.Equal(t, 0, global[0].Period)
	assert.Equal(t, 1, global[0].Group)
	assert.Equal(t, Context{Period: 1, Group: 1, Sender: "1"}, s.Context())
}

func TestSession_RemoteFiltering(t *testing.T) {
	h := newHarness(t, "1", "2")
	h.start(config.Period{}, config.Period{})
	s2 := h.sessions["2"]

	var got []string
	s2.Recv("announce", func(sender string, value json.RawMessage) {
		got = append(got, sender+":"+rawString(t, value))
	})

	h.hub.PublishAs(bus.AdminSender, 9, 0, "announce", "admin-any-period")
	h.hub.PublishAs("1", 3, 1, "announce", "stale")
	h.hub.PublishAs("1", 1, 1, "announce", "current")
	h.hub.Flush()

	assert.Equal(t, []string{"admin:admin-any-period", "1:current"}, got)
}

func TestSession_LocalFiltering(t *testing.T) {
	h := newHarness(t, "1")
	h.start(config.Period{}, config.Period{})
	s := h.sessions["1"]

	var got []string
	s.On("clicked", func(value json.RawMessage) { got = append(got, rawString(t, value)) })

	require.NoError(t, s.Trigger("clicked", "current"))
	h.hub.PublishAs("1", 2, 1, "clicked", "future")
	h.hub.Flush()

	assert.Equal(t, []string{"current"}, got)
}

func TestSession_RegistrationSubscribesOnce(t *testing.T) {
	h := newHarness(t, "1")
	h.start(config.Period{})
	s := h.sessions["1"]

	calls := 0
	s.On("ping", func(json.RawMessage) { calls++ })
	s.On("ping", func(json.RawMessage) { calls++ })
	s.Recv("pong", func(string, json.RawMessage) {})
	s.Recv("pong", func(string, json.RawMessage) {})

	assert.Equal(t, 1, h.peers["1"].Subscriptions("ping"))
	assert.Equal(t, 1, h.peers["1"].Subscriptions("pong"))

	require.NoError(t, s.Trigger("ping", nil))
	h.hub.Flush()
	assert.Equal(t, 2, calls)

	s.Wait("b")
	s.Wait("b")
	assert.Equal(t, 1, h.peers["1"].Subscriptions(bus.KeyAtBarrier))
}

func TestSession_NextPeriodCarriesAccumulatedPoints(t *testing.T) {
	h := newHarness(t, "1", "2")
	h.start(config.Period{}, config.Period{})
	s1, s2 := h.sessions["1"], h.sessions["2"]

	require.NoError(t, s1.SetPoints(10))
	h.hub.Flush()
	assert.Equal(t, float64(10), s1.Points())

	h.advance()

	for id, s := range h.sessions {
		assert.Equal(t, 2, s.Period(), id)
		assert.Equal(t, 2, h.loads[id], id)
	}
	assert.Equal(t, float64(0), s1.Points(), "period earnings reset")
	assert.Equal(t, float64(10), s1.AccumulatedPoints())

	remote, ok := s2.Subject("1")
	require.True(t, ok)
	assert.Equal(t, float64(0), remote.Points)
	assert.Equal(t, float64(10), remote.AccumulatedPoints)

	require.NoError(t, s1.AddPoints(5))
	h.hub.Flush()
	assert.Equal(t, float64(15), s1.AccumulatedPoints())
	assert.Equal(t, float64(15), remote.AccumulatedPoints)

	h.advance()
	for id, s := range h.sessions {
		assert.Equal(t, 3, s.Period(), id)
		_, ok := s.Config()
		assert.False(t, ok, "beyond the configuration is the finished phase")
		assert.Equal(t, bus.PageFinish, h.peers[id].Page())
		assert.Equal(t, 2, h.loads[id], "no on-load in the finished phase")
	}
	assert.Equal(t, []float64{10, 5}, s2.Subjects()[0].PointsByPeriod())
}

func TestSession_FinishSkipsRemainingPeriods(t *testing.T) {
	h := newHarness(t, "1")
	h.start(config.Period{}, config.Period{}, config.Period{})
	s := h.sessions["1"]

	s.Finish(0)
	h.scheds["1"].Fire()
	h.hub.Flush()

	assert.Equal(t, 4, s.Period())
	assert.Equal(t, bus.PageFinish, h.peers["1"].Page())
}

func TestSession_PointsObservers(t *testing.T) {
	h := newHarness(t, "1", "2")
	h.start(config.Period{})
	s1, s2 := h.sessions["1"], h.sessions["2"]

	var local []float64
	var remote []string
	s1.OnPointsChanged(func(p float64) { local = append(local, p) })
	s2.RecvPointsChanged(func(sender string, p float64) {
		remote = append(remote, sender)
	})

	require.NoError(t, s1.SetPoints(3))
	require.NoError(t, s1.SetPoints(7))
	h.hub.Flush()

	assert.Equal(t, []float64{3, 7}, local)
	assert.Equal(t, []string{"1", "1"}, remote)
}

func TestSession_PauseAndResume(t *testing.T) {
	h := newHarness(t, "1", "2")
	h.start(config.Period{Pause: true}, config.Period{})

	for id, s := range h.sessions {
		assert.True(t, s.Paused(), id)
		assert.Zero(t, h.loads[id], "paused periods do not start")
	}
	assert.Len(t, h.hub.Sent(bus.KeyPaused), 2)

	h.hub.Resume("1", 1, 1)
	h.hub.Flush()

	assert.False(t, h.sessions["1"].Paused())
	assert.Equal(t, 1, h.loads["1"])
	assert.True(t, h.sessions["2"].Paused())
	assert.Zero(t, h.loads["2"])
	resumed := h.hub.Sent(bus.KeyResumed)
	require.Len(t, resumed, 1)
	assert.Equal(t, "1", resumed[0].Sender)

	h.hub.Resume("1", 1, 1)
	h.hub.Flush()
	assert.Equal(t, 1, h.loads["1"], "a second resume is ignored")
}

func TestSession_ConfigResolutionHonoursGroups(t *testing.T) {
	h := newHarness(t, "1", "2")
	h.hub.Start([]config.Period{
		{Period: 1, Group: 2, Params: map[string]interface{}{"role": "seller"}},
		{Period: 1, Params: map[string]interface{}{"role": "buyer"}},
	}, map[string]int{"1": 1, "2": 2})
	h.hub.Flush()

	cfg1, ok := h.sessions["1"].Config()
	require.True(t, ok)
	assert.Equal(t, "buyer", cfg1.Params["role"])

	cfg2, ok := h.sessions["2"].Config()
	require.True(t, ok)
	assert.Equal(t, "seller", cfg2.Params["role"])
}

func TestSession_SeatsFromNestedGroups(t *testing.T) {
	h := newHarness(t, "1", "2", "3")
	h.start(config.Period{Groups: [][]string{{"3"}, {"1", "2"}}})

	s := h.sessions["1"]
	assert.Equal(t, 2, s.GroupForPeriod())
	sub3, _ := s.Subject("3")
	assert.Equal(t, 1, sub3.GroupForPeriod)
}

func TestSession_Exclude(t *testing.T) {
	h := newHarness(t, "1", "2")
	h.start(config.Period{})
	s1, s2 := h.sessions["1"], h.sessions["2"]

	require.NoError(t, s1.Exclude())
	assert.Equal(t, 1, s1.Group(), "the move takes effect on delivery")
	h.hub.Flush()

	assert.Equal(t, 2, s1.Group())
	remote, _ := s2.Subject("1")
	assert.Equal(t, 2, remote.Group)
	assert.Equal(t, "true", string(remote.Get(bus.KeyExcluded)))

	excluded := h.hub.Sent(bus.KeyExcluded)
	require.Len(t, excluded, 1)
	assert.Equal(t, 0, excluded[0].Period)
	assert.Equal(t, 2, excluded[0].Group)
}

func TestSession_DataLog(t *testing.T) {
	h := newHarness(t, "1", "2")
	h.start(config.Period{}, config.Period{})
	s1 := h.sessions["1"]

	require.NoError(t, h.sessions["2"].Save("offer", "a"))
	require.NoError(t, h.sessions["2"].Save("offer", "b"))
	require.NoError(t, s1.Save("offer", "c"))
	h.hub.PublishAs("9", 1, 1, "offer", "unknown sender")
	h.hub.Flush()

	sub2, _ := s1.Subject("2")
	assert.Equal(t, "b", rawString(t, sub2.Get("offer")))
	assert.Equal(t, "a", rawString(t, sub2.GetPrevious("offer")))
	assert.Len(t, sub2.History("offer"), 2)
	assert.Nil(t, sub2.Get("missing"))
	assert.Nil(t, sub2.GetPrevious("missing"))
	assert.Len(t, s1.Data("offer"), 3)
}

func TestSession_HandlerPanicDoesNotStopSiblings(t *testing.T) {
	h := newHarness(t, "1")
	h.start(config.Period{})
	s := h.sessions["1"]

	ran := false
	s.On("boom", func(json.RawMessage) { panic("handler failure") })
	s.On("boom", func(json.RawMessage) { ran = true })

	require.NoError(t, s.Trigger("boom", nil))
	require.NotPanics(t, func() { h.hub.Flush() })
	assert.True(t, ran)
}

func TestSession_TimeoutCanBeCancelled(t *testing.T) {
	h := newHarness(t, "1")
	s := h.sessions["1"]

	fired := false
	token := s.Timeout(func() { fired = true }, 0)
	s.CancelTimeout(token)
	h.scheds["1"].Fire()
	assert.False(t, fired)
}

func TestSession_WaitPageBeforeStart(t *testing.T) {
	h := newHarness(t, "1")
	h.hub.PublishAs("1", 0, 1, bus.KeySetGroup, bus.GroupValue{Group: 1})
	h.hub.PublishAs("1", 0, 1, bus.KeySetPeriod, bus.PeriodValue{Period: 0})
	h.hub.Flush()

	assert.Equal(t, bus.PageWait, h.peers["1"].Page())
	assert.Zero(t, h.loads["1"])
}

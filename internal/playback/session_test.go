package playback

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charleschow/cricket-feed/internal/catalog"
	"github.com/charleschow/cricket-feed/internal/events"
)

var errGone = errors.New("subscriber gone")

type recorder struct {
	mu     sync.Mutex
	live   bool
	sent   []events.MatchEvent
	closes int
	// afterSend runs after every successful send, with mu released.
	afterSend func(n int)
}

func newRecorder() *recorder { return &recorder{live: true} }

func (r *recorder) Send(evt events.MatchEvent) error {
	r.mu.Lock()
	if !r.live {
		r.mu.Unlock()
		return errGone
	}
	r.sent = append(r.sent, evt)
	n := len(r.sent)
	hook := r.afterSend
	r.mu.Unlock()
	if hook != nil {
		hook(n)
	}
	return nil
}

func (r *recorder) Live() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.live
}

func (r *recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closes++
	r.live = false
	return nil
}

func (r *recorder) disconnect() {
	r.mu.Lock()
	r.live = false
	r.mu.Unlock()
}

func (r *recorder) events() []events.MatchEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.MatchEvent(nil), r.sent...)
}

type transition struct{ from, to State }

type observerLog struct {
	mu          sync.Mutex
	transitions []transition
	emissions   []Emission
}

func (o *observerLog) OnTransition(_ *Session, from, to State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitions = append(o.transitions, transition{from, to})
}

func (o *observerLog) OnEmit(_ *Session, e Emission) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.emissions = append(o.emissions, e)
}

func (o *observerLog) states() []State {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []State
	for _, t := range o.transitions {
		out = append(out, t.to)
	}
	return out
}

type harness struct {
	clock   *fakeClock
	sub     *recorder
	obs     *observerLog
	session *Session
}

func newHarness(t *testing.T, cat *catalog.Catalog) *harness {
	t.Helper()
	h := &harness{clock: newFakeClock(), sub: newRecorder(), obs: &observerLog{}}
	n := 0
	h.session = NewSession("sess-1", "match-1", cat, h.sub, Config{
		Clock:    h.clock,
		Policy:   NewDelayPolicy(fixedRand(0.5)),
		Observer: h.obs,
		NewID: func() string {
			n++
			return fmt.Sprintf("id%d", n)
		},
	})
	return h
}

func smallCatalog(n int) *catalog.Catalog {
	entries := make([]events.Event, 0, n)
	for i := 0; i < n; i++ {
		entries = append(entries, events.Event{Kind: events.KindBall, Payload: events.BallPayload{
			Runs: 1, Commentary: fmt.Sprintf("ball %d", i), Over: 1, Ball: i%6 + 1,
		}})
	}
	return catalog.New(catalog.Match{ID: "test", IDPrefix: "t"}, entries)
}

func statusOf(t *testing.T, evt events.MatchEvent) string {
	t.Helper()
	p, ok := evt.Payload.(events.StatusPayload)
	require.True(t, ok, "expected status payload, got %T", evt.Payload)
	return p.Status
}

func TestScenarioThreeEntryCatalogPlaysToCompletion(t *testing.T) {
	cat := catalog.New(catalog.Match{IDPrefix: "t"}, []events.Event{
		events.Status("Match Started", "go"),
		ball(0),
		boundary(6),
	})
	h := newHarness(t, cat)

	require.NoError(t, h.session.Start())
	sent := h.sub.events()
	require.Len(t, sent, 2, "welcome and entry 0 go out together")
	assert.Equal(t, events.StatusJoinedMatch, statusOf(t, sent[0]))
	assert.Equal(t, "Match Started", statusOf(t, sent[1]))

	h.clock.Advance(3000*time.Millisecond - time.Millisecond)
	assert.Len(t, h.sub.events(), 2, "match started pause not yet elapsed")
	h.clock.Advance(time.Millisecond)
	assert.Len(t, h.sub.events(), 3)

	h.clock.Advance(1800 * time.Millisecond)
	sent = h.sub.events()
	require.Len(t, sent, 4)
	assert.Equal(t, events.KindBall, sent[2].Kind)
	assert.Equal(t, events.KindBoundary, sent[3].Kind)

	snap := h.session.Snapshot()
	assert.Equal(t, StateCompleted, snap.State)
	assert.True(t, snap.Completed)
	assert.Equal(t, 3, snap.Cursor)
	assert.Equal(t, 3, snap.Emitted)

	h.clock.Advance(GracePeriod - time.Millisecond)
	assert.Len(t, h.sub.events(), 4)
	h.clock.Advance(time.Millisecond)
	sent = h.sub.events()
	require.Len(t, sent, 5)
	assert.Equal(t, events.StatusSessionEnded, statusOf(t, sent[4]))
	assert.Equal(t, 0, h.sub.closes)

	h.clock.Advance(TeardownDelay)
	assert.Equal(t, 1, h.sub.closes)
	assert.Equal(t, StateTornDown, h.session.Snapshot().State)
	assert.Equal(t, []State{StateEmitting, StateCompleted, StateTornDown}, h.obs.states())
	assert.Zero(t, h.clock.Pending())
}

func TestScenarioDisconnectRightAfterJoin(t *testing.T) {
	h := newHarness(t, smallCatalog(3))
	h.sub.afterSend = func(n int) {
		if n == 1 {
			h.sub.disconnect()
		}
	}

	require.NoError(t, h.session.Start())
	h.session.Abort()
	h.clock.Advance(time.Hour)

	sent := h.sub.events()
	require.Len(t, sent, 1)
	assert.Equal(t, events.StatusJoinedMatch, statusOf(t, sent[0]))
	assert.Equal(t, StateAborted, h.session.Snapshot().State)
	assert.Equal(t, 0, h.session.Snapshot().Emitted)
	assert.Equal(t, 0, h.sub.closes, "an aborted session never closes the connection itself")
}

func TestScenarioDisconnectMidPlayback(t *testing.T) {
	h := newHarness(t, smallCatalog(5))
	h.clock.ignoreStop = true

	require.NoError(t, h.session.Start())
	h.clock.Advance(2000 * time.Millisecond)
	h.clock.Advance(2000 * time.Millisecond)
	require.Len(t, h.sub.events(), 4, "welcome plus entries 0..2")

	h.sub.disconnect()
	h.session.Abort()
	assert.Equal(t, 1, h.clock.Pending(), "the continuation for entry 3 is still armed")

	assert.NotPanics(t, func() { h.clock.Advance(time.Hour) })

	sent := h.sub.events()
	require.Len(t, sent, 4)
	for i, evt := range sent[1:] {
		assert.Equal(t, fmt.Sprintf("ball %d", i), evt.Headline())
	}
	snap := h.session.Snapshot()
	assert.Equal(t, StateAborted, snap.State)
	assert.Equal(t, 3, snap.Cursor)
}

func TestStrayContinuationAfterAbortWithLiveSubscriber(t *testing.T) {
	h := newHarness(t, smallCatalog(5))
	h.clock.ignoreStop = true

	require.NoError(t, h.session.Start())
	h.session.Abort()
	h.clock.Advance(time.Hour)

	assert.Len(t, h.sub.events(), 2, "completed flag alone must suppress the stray timer")
}

func TestAbortIsIdempotent(t *testing.T) {
	h := newHarness(t, smallCatalog(4))
	require.NoError(t, h.session.Start())

	h.session.Abort()
	first := h.session.Snapshot()
	assert.NotPanics(t, func() { h.session.Abort() })
	assert.Equal(t, first, h.session.Snapshot())

	assert.Equal(t, []State{StateEmitting, StateAborted}, h.obs.states())
	assert.Zero(t, h.clock.Pending())
}

func TestAbortBeforeStart(t *testing.T) {
	h := newHarness(t, smallCatalog(2))
	h.session.Abort()

	assert.ErrorIs(t, h.session.Start(), ErrAlreadyStarted)
	assert.Empty(t, h.sub.events())
}

func TestAbortDuringGracePeriodSuppressesSessionEnded(t *testing.T) {
	h := newHarness(t, smallCatalog(1))
	require.NoError(t, h.session.Start())
	require.Equal(t, StateCompleted, h.session.Snapshot().State)

	h.session.Abort()
	h.clock.Advance(time.Minute)

	assert.Len(t, h.sub.events(), 2)
	assert.Equal(t, 0, h.sub.closes)
	assert.Equal(t, StateAborted, h.session.Snapshot().State)
}

func TestAbortAfterTeardownIsNoop(t *testing.T) {
	h := newHarness(t, smallCatalog(1))
	require.NoError(t, h.session.Start())
	h.clock.Advance(time.Minute)
	require.Equal(t, StateTornDown, h.session.Snapshot().State)

	h.session.Abort()
	assert.Equal(t, StateTornDown, h.session.Snapshot().State)
}

func TestCompletedSessionIgnoresStrayStep(t *testing.T) {
	h := newHarness(t, smallCatalog(2))
	require.NoError(t, h.session.Start())
	h.clock.Advance(2000 * time.Millisecond)
	require.True(t, h.session.Snapshot().Completed)
	before := len(h.sub.events())

	h.session.step()
	h.session.step()

	assert.Len(t, h.sub.events(), before)
	assert.Equal(t, 2, h.session.Snapshot().Cursor)
}

func TestStartTwice(t *testing.T) {
	h := newHarness(t, smallCatalog(2))
	require.NoError(t, h.session.Start())
	assert.ErrorIs(t, h.session.Start(), ErrAlreadyStarted)
	assert.Len(t, h.sub.events(), 2)
}

func TestEmptyCatalogCompletesImmediately(t *testing.T) {
	h := newHarness(t, catalog.New(catalog.Match{}, nil))
	require.NoError(t, h.session.Start())
	assert.Equal(t, StateCompleted, h.session.Snapshot().State)

	h.clock.Advance(GracePeriod + TeardownDelay)
	sent := h.sub.events()
	require.Len(t, sent, 2)
	assert.Equal(t, events.StatusSessionEnded, statusOf(t, sent[1]))
	assert.Equal(t, 1, h.sub.closes)
}

func TestFullCatalogIsDeliveredInOrder(t *testing.T) {
	cat, err := catalog.Default()
	require.NoError(t, err)
	h := newHarness(t, cat)

	require.NoError(t, h.session.Start())
	h.clock.Advance(time.Hour)

	sent := h.sub.events()
	require.Len(t, sent, cat.Len()+2)
	ids := map[string]bool{}
	var last time.Time
	for i, evt := range sent {
		assert.False(t, ids[evt.ID], "duplicate id %s", evt.ID)
		ids[evt.ID] = true
		assert.False(t, evt.Timestamp.Before(last), "timestamps go backwards at %d", i)
		last = evt.Timestamp
	}
	for i := 0; i < cat.Len(); i++ {
		want := cat.At(i)
		got := sent[i+1]
		assert.Equal(t, want.Kind, got.Kind, "entry %d", i)
		assert.Equal(t, want.Payload, got.Payload, "entry %d", i)
	}
	assert.Equal(t, events.StatusSessionEnded, statusOf(t, sent[len(sent)-1]))
	assert.Equal(t, StateTornDown, h.session.Snapshot().State)
	assert.Equal(t, cat.Len(), h.session.Snapshot().Emitted)
}

func TestEmissionsCarryStampAndSchedule(t *testing.T) {
	h := newHarness(t, smallCatalog(2))
	start := h.clock.Now()
	require.NoError(t, h.session.Start())
	h.clock.Advance(2000 * time.Millisecond)

	sent := h.sub.events()
	require.Len(t, sent, 3)
	assert.Equal(t, "join-id1", sent[0].ID)
	assert.Equal(t, "t-0-id2", sent[1].ID)
	assert.Equal(t, "t-1-id3", sent[2].ID)
	assert.Equal(t, start, sent[1].Timestamp)
	assert.Equal(t, start.Add(2000*time.Millisecond), sent[2].Timestamp)

	h.obs.mu.Lock()
	defer h.obs.mu.Unlock()
	require.Len(t, h.obs.emissions, 3)
	assert.Equal(t, -1, h.obs.emissions[0].Cursor)
	assert.Equal(t, 0, h.obs.emissions[1].Cursor)
	assert.Equal(t, 2000*time.Millisecond, h.obs.emissions[1].Next)
	assert.Equal(t, 1, h.obs.emissions[2].Cursor)
	assert.Zero(t, h.obs.emissions[2].Next)
}

func TestSessionsOverSharedCatalogAreIndependent(t *testing.T) {
	cat := smallCatalog(3)
	a := newHarness(t, cat)
	b := newHarness(t, cat)

	require.NoError(t, a.session.Start())
	a.clock.Advance(2000 * time.Millisecond)
	require.NoError(t, b.session.Start())

	assert.Equal(t, 2, a.session.Snapshot().Cursor)
	assert.Equal(t, 1, b.session.Snapshot().Cursor)

	a.session.Abort()
	b.clock.Advance(time.Hour)
	assert.Equal(t, StateTornDown, b.session.Snapshot().State)
	assert.Equal(t, 3, b.session.Snapshot().Emitted)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "torn_down", StateTornDown.String())
	assert.Equal(t, "aborted", StateAborted.String())
	assert.True(t, StateAborted.Terminal())
	assert.False(t, StateCompleted.Terminal())
}

package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charleschow/cricket-feed/internal/catalog"
	"github.com/charleschow/cricket-feed/internal/events"
	"github.com/charleschow/cricket-feed/internal/host"
	"github.com/charleschow/cricket-feed/internal/playback"
	"github.com/charleschow/cricket-feed/internal/telemetry"
)

type instantClock struct{}

func (instantClock) Now() time.Time { return time.Now() }
func (instantClock) AfterFunc(_ time.Duration, f func()) playback.Timer {
	return time.AfterFunc(0, f)
}

type frozenClock struct{}

type frozenTimer struct{}

func (frozenTimer) Stop() bool { return true }

func (frozenClock) Now() time.Time { return time.Now() }
func (frozenClock) AfterFunc(time.Duration, func()) playback.Timer { return frozenTimer{} }

func startServer(t *testing.T, clock playback.Clock) string {
	t.Helper()
	cat := catalog.New(catalog.Match{ID: "m", Greeting: "hi", IDPrefix: "t"}, []events.Event{
		events.Status("Match Started", "go"),
		{Kind: events.KindWicket, Payload: events.WicketPayload{PlayerOut: "Rohit Sharma", Dismissal: "c Klaasen b Maharaj", Over: 2, Ball: 1}},
	})
	h := host.New(cat, events.NewBus(), host.Options{Clock: clock, Metrics: telemetry.NewRegistry()})
	srv := httptest.NewServer(h.Handler())
	t.Cleanup(func() {
		h.Shutdown()
		srv.Close()
	})
	return strings.TrimPrefix(srv.URL, "http://")
}

func TestRunDeliversWholeSession(t *testing.T) {
	addr := startServer(t, instantClock{})

	var got []events.MatchEvent
	c := NewClient(addr, "ind-sa", func(evt events.MatchEvent) { got = append(got, evt) })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Run(ctx))

	require.Len(t, got, 5)
	assert.Equal(t, "hi", got[0].Headline())
	assert.Equal(t, "Joined match room: ind-sa", got[1].Headline())
	assert.Equal(t, events.KindMatchStatus, got[2].Kind)
	assert.Equal(t, events.KindWicket, got[3].Kind)
	assert.Equal(t, "Rohit Sharma", got[3].Payload.(events.WicketPayload).PlayerOut)
	assert.Equal(t, events.StatusSessionEnded, got[4].Payload.(events.StatusPayload).Status)
}

func TestRunStopsOnCancel(t *testing.T) {
	addr := startServer(t, frozenClock{})

	seen := make(chan struct{}, 8)
	c := NewClient(addr, "ind-sa", func(events.MatchEvent) { seen <- struct{}{} })

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- c.Run(ctx) }()

	for i := 0; i < 3; i++ {
		select {
		case <-seen:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for events")
		}
	}
	cancel()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRunReportsDialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := strings.TrimPrefix(srv.URL, "http://")
	srv.Close()

	err := NewClient(addr, "m", nil).Run(context.Background())
	require.Error(t, err)
	assert.False(t, IsClosed(err))
}

func TestRunReportsAbnormalClose(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "boom"))
		conn.Close()
	}))
	defer srv.Close()

	err := NewClient(strings.TrimPrefix(srv.URL, "http://"), "m", nil).Run(context.Background())
	require.Error(t, err)
	assert.True(t, IsClosed(err))
}

package host

import (
	"time"

	"github.com/charleschow/cricket-feed/internal/events"
	"github.com/charleschow/cricket-feed/internal/playback"
	"github.com/charleschow/cricket-feed/internal/telemetry"
)

// sessionObserver turns session activity into log lines, metrics, and
// bus notices for one client.
type sessionObserver struct {
	host   *Host
	client *client
}

func (o *sessionObserver) notice(s *playback.Session, topic events.Topic) events.Notice {
	return events.Notice{
		Topic:     topic,
		SessionID: s.ID(),
		MatchID:   s.MatchID(),
		Remote:    o.client.remote,
		At:        o.host.clock.Now(),
		Cursor:    -1,
	}
}

func (o *sessionObserver) OnTransition(s *playback.Session, from, to playback.State) {
	m := o.host.metrics
	n := o.notice(s, "")
	n.Emitted = s.Snapshot().Emitted

	switch to {
	case playback.StateEmitting:
		m.SessionsStarted.Inc()
		m.ActiveSessions.Inc()
		telemetry.Infof("Starting simulation for %s  session=%s  events=%d", o.client.id, s.ID(), o.host.catalog.Len())
		n.Topic = events.TopicSessionStarted

	case playback.StateCompleted:
		m.SessionsCompleted.Inc()
		telemetry.Infof("Simulation complete for %s. Ending session in %s...", o.client.id, playback.GracePeriod)
		n.Topic = events.TopicSessionCompleted

	case playback.StateTornDown:
		m.ActiveSessions.Dec()
		telemetry.Infof("Ending session for %s  sent=%d", o.client.id, n.Emitted)
		n.Topic = events.TopicSessionClosed

	case playback.StateAborted:
		m.SessionsAborted.Inc()
		if from != playback.StateIdle {
			m.ActiveSessions.Dec()
		}
		telemetry.Infof("Simulation stopped for disconnected client %s  state=%s  sent=%d", o.client.id, from, n.Emitted)
		n.Topic = events.TopicSessionAborted

	default:
		return
	}
	o.host.bus.Publish(n)
}

func (o *sessionObserver) OnEmit(s *playback.Session, e playback.Emission) {
	if e.Err != nil {
		telemetry.Debugf("host: dropped %s to %s: %v", e.Event.ID, o.client.id, e.Err)
		return
	}
	o.host.metrics.EventsEmitted.Inc()
	telemetry.Infof("Sent event to %s: %s - %s", o.client.id, e.Event.Kind, e.Event.Headline())
	if e.Next > 0 {
		telemetry.Debugf("Next event in %dms", e.Next.Round(time.Millisecond).Milliseconds())
	}

	n := o.notice(s, events.TopicEventEmitted)
	n.Cursor = e.Cursor
	evt := e.Event
	n.Event = &evt
	n.At = evt.Timestamp
	o.host.bus.Publish(n)
}

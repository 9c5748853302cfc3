package events

import "time"

// Kind is the category of a match event. The set is closed: the catalog
// loader rejects anything else, but the delay policy still tolerates
// unknown kinds as a fallback.
type Kind string

const (
	KindMatchStatus Kind = "MATCH_STATUS"
	KindBall        Kind = "BALL"
	KindBoundary    Kind = "BOUNDARY"
	KindWicket      Kind = "WICKET"
)

// Valid reports whether k is one of the four known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindMatchStatus, KindBall, KindBoundary, KindWicket:
		return true
	}
	return false
}

// Event is a scripted catalog entry. It carries no id or timestamp;
// those are assigned each time the entry is emitted.
type Event struct {
	Kind    Kind
	Payload Payload
}

// MatchEvent is an Event as delivered to a subscriber.
type MatchEvent struct {
	Kind      Kind
	Payload   Payload
	Timestamp time.Time
	ID        string
}

// Stamp returns a MatchEvent for e with the given send time and id.
func (e Event) Stamp(at time.Time, id string) MatchEvent {
	return MatchEvent{
		Kind:      e.Kind,
		Payload:   e.Payload,
		Timestamp: at,
		ID:        id,
	}
}

// Status builds a MATCH_STATUS event. Used for synthetic events that are
// not part of any catalog (greeting, join confirmation, session end).
func Status(status, summary string) Event {
	return Event{
		Kind:    KindMatchStatus,
		Payload: StatusPayload{Status: status, Summary: summary},
	}
}

// Synthetic statuses emitted by the server itself.
const (
	StatusWelcome      = "Welcome"
	StatusJoinedMatch  = "Joined Match"
	StatusSessionEnded = "Session Ended"
)

// Headline returns the summary for status events and the commentary
// for everything else. Used for one-line log output.
func (e MatchEvent) Headline() string {
	switch p := e.Payload.(type) {
	case StatusPayload:
		return p.Summary
	case BallPayload:
		return p.Commentary
	case WicketPayload:
		return p.Commentary
	}
	return ""
}

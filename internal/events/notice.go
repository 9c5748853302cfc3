package events

import "time"

// Topic names a session lifecycle notification published on the Bus.
type Topic string

const (
	TopicSessionStarted   Topic = "session_started"
	TopicEventEmitted     Topic = "event_emitted"
	TopicSessionCompleted Topic = "session_completed"
	TopicSessionAborted   Topic = "session_aborted"
	TopicSessionClosed    Topic = "session_closed"
)

// Notice is the envelope that flows through the bus. Event is set only
// for TopicEventEmitted; Cursor is the catalog index of that event, or -1
// for synthetic events.
type Notice struct {
	Topic     Topic
	SessionID string
	MatchID   string
	Remote    string
	At        time.Time
	Event     *MatchEvent
	Cursor    int
	Emitted   int
}

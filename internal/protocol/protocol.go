// Package protocol defines the websocket wire format. Every text frame is
// a named event with a JSON body, in the style of socket.io:
//
//	{"event":"join_match","data":{"matchId":"ind-vs-sa"}}
//	{"event":"match_event","data":{"type":"BALL","payload":{...},"timestamp":1719671400000,"id":"..."}}
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/charleschow/cricket-feed/internal/events"
)

const (
	// EventJoinMatch is sent by a subscriber to start playback.
	EventJoinMatch = "join_match"
	// EventMatchEvent carries one emitted match event to the subscriber.
	EventMatchEvent = "match_event"
)

// Frame is the outer shape of every message in either direction.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// JoinRequest is the body of join_match.
type JoinRequest struct {
	MatchID string `json:"matchId"`
}

// Envelope is the wire form of events.MatchEvent.
type Envelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"` // ms since epoch, assigned at send time
	ID        string          `json:"id"`
}

// EncodeFrame wraps data under the given event name.
func EncodeFrame(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal %s data: %w", event, err)
	}
	return json.Marshal(Frame{Event: event, Data: raw})
}

// DecodeFrame parses an inbound frame. Only the outer shape is checked.
func DecodeFrame(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, fmt.Errorf("unmarshal frame: %w", err)
	}
	if f.Event == "" {
		return Frame{}, fmt.Errorf("frame without event name")
	}
	return f, nil
}

// DecodeJoin extracts the join request. A frame with no data, or data
// without matchId, yields an empty MatchID rather than an error.
func DecodeJoin(f Frame) (JoinRequest, error) {
	var req JoinRequest
	if len(f.Data) == 0 || bytes.Equal(f.Data, []byte("null")) {
		return req, nil
	}
	if err := json.Unmarshal(f.Data, &req); err != nil {
		return JoinRequest{}, fmt.Errorf("unmarshal join_match: %w", err)
	}
	return req, nil
}

// MarshalMatchEvent serializes evt as a complete match_event frame.
func MarshalMatchEvent(evt events.MatchEvent) ([]byte, error) {
	payload, err := json.Marshal(evt.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return EncodeFrame(EventMatchEvent, Envelope{
		Type:      string(evt.Kind),
		Payload:   payload,
		Timestamp: evt.Timestamp.UnixMilli(),
		ID:        evt.ID,
	})
}

// UnmarshalMatchEvent decodes the data of a match_event frame back into
// a typed MatchEvent.
func UnmarshalMatchEvent(data []byte) (events.MatchEvent, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return events.MatchEvent{}, fmt.Errorf("unmarshal envelope: %w", err)
	}

	evt := events.MatchEvent{
		Kind:      events.Kind(env.Type),
		Timestamp: time.UnixMilli(env.Timestamp),
		ID:        env.ID,
	}

	switch evt.Kind {
	case events.KindMatchStatus:
		var p events.StatusPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return evt, fmt.Errorf("unmarshal match status: %w", err)
		}
		evt.Payload = p
	case events.KindBall, events.KindBoundary:
		var p events.BallPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return evt, fmt.Errorf("unmarshal %s: %w", evt.Kind, err)
		}
		evt.Payload = p
	case events.KindWicket:
		var p events.WicketPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return evt, fmt.Errorf("unmarshal wicket: %w", err)
		}
		evt.Payload = p
	default:
		return evt, fmt.Errorf("unknown event type: %s", env.Type)
	}

	return evt, nil
}

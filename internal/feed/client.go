package feed

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/gorilla/websocket"

	"github.com/charleschow/cricket-feed/internal/events"
	"github.com/charleschow/cricket-feed/internal/protocol"
	"github.com/charleschow/cricket-feed/internal/telemetry"
)

// Handler receives each match event in the order the server sent it.
type Handler func(events.MatchEvent)

// Client watches one playback session on a commentary server. There is no
// resume: every Run joins a fresh session from the top of the catalog.
type Client struct {
	addr    string
	matchID string
	handle  Handler
}

func NewClient(addr, matchID string, h Handler) *Client {
	if h == nil {
		h = func(events.MatchEvent) {}
	}
	return &Client{
		addr:    addr,
		matchID: matchID,
		handle:  h,
	}
}

// Run joins a session and delivers events until the server ends it.
// A normal close from the server returns nil.
func (c *Client) Run(ctx context.Context) error {
	u := url.URL{Scheme: "ws", Host: c.addr, Path: "/ws"}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", u.String(), err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	telemetry.Infof("feed: connected to %s", c.addr)

	join, err := protocol.EncodeFrame(protocol.EventJoinMatch, protocol.JoinRequest{MatchID: c.matchID})
	if err != nil {
		return fmt.Errorf("encode join: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, join); err != nil {
		return fmt.Errorf("send join: %w", err)
	}

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				telemetry.Infof("feed: session closed by server")
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}

		f, err := protocol.DecodeFrame(msg)
		if err != nil {
			telemetry.Warnf("feed: bad frame: %v", err)
			continue
		}
		if f.Event != protocol.EventMatchEvent {
			telemetry.Debugf("feed: ignoring %q frame", f.Event)
			continue
		}
		evt, err := protocol.UnmarshalMatchEvent(f.Data)
		if err != nil {
			telemetry.Warnf("feed: unmarshal error: %v", err)
			continue
		}
		c.handle(evt)
	}
}

// IsClosed reports whether err came from the server hanging up mid-session
// rather than from a dial or protocol failure.
func IsClosed(err error) bool {
	var ce *websocket.CloseError
	return errors.As(err, &ce)
}

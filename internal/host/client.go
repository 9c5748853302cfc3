package host

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/charleschow/cricket-feed/internal/events"
	"github.com/charleschow/cricket-feed/internal/playback"
	"github.com/charleschow/cricket-feed/internal/protocol"
	"github.com/charleschow/cricket-feed/internal/telemetry"
)

const (
	clientSendBuf = 256
	writeDeadline = 5 * time.Second
	pongWait      = 30 * time.Second
	pingInterval  = 20 * time.Second
	maxFrameBytes = 4096
	closeWait     = time.Second
)

var (
	errClientGone = errors.New("client disconnected")
	errSlowClient = errors.New("client send buffer full")
)

// client is one websocket connection. It implements playback.Subscriber;
// the connection itself stays owned by the pumps.
type client struct {
	id      string
	remote  string
	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{} // closed by readPump on exit
	kick    chan struct{} // closed by Close to end the connection
	once    sync.Once
	limiter *rate.Limiter
	metrics *telemetry.Registry

	mu      sync.Mutex
	session *playback.Session
}

// Send enqueues evt without blocking.
func (c *client) Send(evt events.MatchEvent) error {
	if !c.Live() {
		return errClientGone
	}
	data, err := protocol.MarshalMatchEvent(evt)
	if err != nil {
		return err
	}
	select {
	case c.send <- data:
		return nil
	default:
		c.metrics.SendDrops.Inc()
		return errSlowClient
	}
}

func (c *client) Live() bool {
	select {
	case <-c.done:
		return false
	case <-c.kick:
		return false
	default:
		return true
	}
}

// Close asks the write pump to flush, send a close frame and hang up.
func (c *client) Close() error {
	c.once.Do(func() { close(c.kick) })
	return nil
}

func (c *client) currentSession() *playback.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// writePump drains the client's send channel and writes to the WS connection.
// It owns the client lifecycle: on exit it removes the client from the host
// and closes the connection.
func (h *Host) writePump(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		h.removeClient(c)
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			if !h.write(c, msg) {
				return
			}
		case <-c.kick:
			h.hangUp(c)
			return
		case <-c.done:
			return
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Host) write(c *client, msg []byte) bool {
	start := time.Now()
	c.conn.SetWriteDeadline(start.Add(writeDeadline))
	if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		telemetry.Warnf("host: write error client=%s: %v", c.id, err)
		return false
	}
	c.metrics.WriteLatency.Record(time.Since(start))
	return true
}

// hangUp flushes whatever is still queued, then sends a normal close frame
// and waits briefly for the peer to acknowledge.
func (h *Host) hangUp(c *client) {
	// Only this goroutine receives from c.send, so len is stable here.
	for len(c.send) > 0 {
		if !h.write(c, <-c.send) {
			return
		}
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended")
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeDeadline)); err != nil {
		return
	}
	select {
	case <-c.done:
	case <-time.After(closeWait):
	}
}

// readPump reads inbound frames and keeps the connection alive via pongs.
// On exit it signals writePump via c.done (never closes c.send) and aborts
// the client's session, if any.
func (h *Host) readPump(c *client) {
	defer func() {
		close(c.done)
		if s := c.currentSession(); s != nil {
			s.Abort()
		}
	}()

	c.conn.SetReadLimit(maxFrameBytes)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				telemetry.Warnf("host: read error client=%s: %v", c.id, err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		if !c.limiter.Allow() {
			c.metrics.FramesDropped.Inc()
			telemetry.Debugf("host: rate limited frame from client=%s", c.id)
			continue
		}
		h.dispatch(c, msg)
	}
}

// Package host accepts websocket subscribers and runs one playback
// session per joined connection.
package host

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/charleschow/cricket-feed/internal/catalog"
	"github.com/charleschow/cricket-feed/internal/events"
	"github.com/charleschow/cricket-feed/internal/playback"
	"github.com/charleschow/cricket-feed/internal/protocol"
	"github.com/charleschow/cricket-feed/internal/telemetry"
)

// UnknownMatch replaces a missing or blank matchId on join.
const UnknownMatch = "unknown"

const (
	defaultInboundRate  = rate.Limit(5)
	defaultInboundBurst = 10
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// Options tune a Host. Zero fields get defaults.
type Options struct {
	Clock   playback.Clock
	Policy  playback.DelayPolicy
	Metrics *telemetry.Registry

	// Inbound frames per second allowed on each connection.
	InboundRate  rate.Limit
	InboundBurst int
}

// Host owns the set of connected subscribers.
type Host struct {
	catalog *catalog.Catalog
	bus     *events.Bus
	clock   playback.Clock
	policy  playback.DelayPolicy
	metrics *telemetry.Registry
	rate    rate.Limit
	burst   int

	mu      sync.Mutex
	clients map[*client]struct{}
}

func New(cat *catalog.Catalog, bus *events.Bus, opts Options) *Host {
	h := &Host{
		catalog: cat,
		bus:     bus,
		clock:   opts.Clock,
		policy:  opts.Policy,
		metrics: opts.Metrics,
		rate:    opts.InboundRate,
		burst:   opts.InboundBurst,
		clients: make(map[*client]struct{}),
	}
	if h.bus == nil {
		h.bus = events.NewBus()
	}
	if h.clock == nil {
		h.clock = playback.RealClock{}
	}
	if h.metrics == nil {
		h.metrics = telemetry.Metrics
	}
	if h.rate == 0 {
		h.rate = defaultInboundRate
	}
	if h.burst == 0 {
		h.burst = defaultInboundBurst
	}
	return h
}

// Handler returns the HTTP routes: service identity, health, and the
// websocket endpoint.
func (h *Host) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", h.handleRoot)
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /ws", h.HandleWS)
	return mux
}

func (h *Host) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{
		"message":    "Cricket Commentary Server",
		"status":     "running",
		"match":      h.catalog.Match().Title,
		"socketPath": "/ws",
		"time":       time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Host) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{
		"status":   "OK",
		"clients":  h.ClientCount(),
		"sessions": h.metrics.ActiveSessions.Value(),
		"time":     time.Now().UTC().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		telemetry.Warnf("host: encode response: %v", err)
	}
}

// HandleWS upgrades the request and greets the new subscriber. Playback
// starts only once the subscriber sends join_match.
func (h *Host) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		telemetry.Warnf("host: upgrade failed: %v", err)
		return
	}

	c := &client{
		id:      uuid.NewString(),
		remote:  r.RemoteAddr,
		conn:    conn,
		send:    make(chan []byte, clientSendBuf),
		done:    make(chan struct{}),
		kick:    make(chan struct{}),
		limiter: rate.NewLimiter(h.rate, h.burst),
		metrics: h.metrics,
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()
	h.metrics.Connections.Inc()

	telemetry.Infof("Client connected: %s (%s)  total=%d", c.id, c.remote, total)

	greeting := events.Status(events.StatusWelcome, h.catalog.Match().Greeting).
		Stamp(h.clock.Now(), "welcome-"+uuid.NewString())
	if err := c.Send(greeting); err != nil {
		telemetry.Warnf("host: greeting client=%s: %v", c.id, err)
	}

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Host) dispatch(c *client, raw []byte) {
	f, err := protocol.DecodeFrame(raw)
	if err != nil {
		h.metrics.FramesMalformed.Inc()
		telemetry.Warnf("host: malformed frame from client=%s: %v", c.id, err)
		return
	}

	switch f.Event {
	case protocol.EventJoinMatch:
		h.join(c, f)
	default:
		telemetry.Debugf("host: ignoring %q from client=%s", f.Event, c.id)
	}
}

func (h *Host) join(c *client, f protocol.Frame) {
	req, err := protocol.DecodeJoin(f)
	if err != nil {
		h.metrics.FramesMalformed.Inc()
		telemetry.Warnf("host: bad join_match from client=%s: %v", c.id, err)
		return
	}
	matchID := strings.TrimSpace(req.MatchID)
	if matchID == "" {
		telemetry.Warnf("host: client=%s joined without matchId, using %q", c.id, UnknownMatch)
		matchID = UnknownMatch
	}

	c.mu.Lock()
	if c.session != nil {
		current := c.session.MatchID()
		c.mu.Unlock()
		telemetry.Warnf("host: client=%s already joined %s, ignoring join %s", c.id, current, matchID)
		return
	}
	s := playback.NewSession(uuid.NewString(), matchID, h.catalog, c, playback.Config{
		Clock:    h.clock,
		Policy:   h.policy,
		Observer: &sessionObserver{host: h, client: c},
	})
	c.session = s
	c.mu.Unlock()

	telemetry.Infof("Client %s joined match: %s  session=%s", c.id, matchID, s.ID())
	if err := s.Start(); err != nil {
		telemetry.Warnf("host: start session %s: %v", s.ID(), err)
	}
}

func (h *Host) removeClient(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	remaining := len(h.clients)
	h.mu.Unlock()
	if !ok {
		return
	}
	h.metrics.Connections.Dec()
	telemetry.Infof("Client disconnected: %s  remaining=%d", c.id, remaining)
}

// ClientCount is the number of currently connected sockets.
func (h *Host) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Shutdown aborts every session and hangs up on every client. It does
// not wait for the pumps to finish.
func (h *Host) Shutdown() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		if s := c.currentSession(); s != nil {
			s.Abort()
		}
		c.Close()
	}
}

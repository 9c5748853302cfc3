package playback

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/charleschow/cricket-feed/internal/catalog"
	"github.com/charleschow/cricket-feed/internal/events"
)

const (
	// GracePeriod is the pause between the last catalog entry and the
	// session-ended status.
	GracePeriod = 5000 * time.Millisecond
	// TeardownDelay is the pause between session-ended and the forced close.
	TeardownDelay = 2000 * time.Millisecond

	sessionEndedSummary = "🏁 Simulation complete! Session will end now. Thanks for watching!"
)

var ErrAlreadyStarted = errors.New("playback: session already started")

type State int

const (
	StateIdle State = iota
	StateEmitting
	StateCompleted
	StateTornDown
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateEmitting:
		return "emitting"
	case StateCompleted:
		return "completed"
	case StateTornDown:
		return "torn_down"
	case StateAborted:
		return "aborted"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool { return s == StateTornDown || s == StateAborted }

// Subscriber is the session's handle on one connected client. The
// session does not own the connection; it only sends, checks liveness,
// and forces a close once playback has finished.
type Subscriber interface {
	Send(evt events.MatchEvent) error
	Live() bool
	Close() error
}

// Emission describes one send attempt. Cursor is the catalog index, or -1
// for synthetic events. Next is the scheduled wait before the following
// catalog entry (zero when nothing is scheduled).
type Emission struct {
	Event  events.MatchEvent
	Cursor int
	Next   time.Duration
	Err    error
}

// Observer receives session activity. Callbacks run outside the session
// lock, on whichever goroutine drove the step.
type Observer interface {
	OnTransition(s *Session, from, to State)
	OnEmit(s *Session, e Emission)
}

type nopObserver struct{}

func (nopObserver) OnTransition(*Session, State, State) {}
func (nopObserver) OnEmit(*Session, Emission)          {}

// Config carries a session's collaborators. Zero fields get defaults.
type Config struct {
	Clock    Clock
	Policy   DelayPolicy
	Observer Observer
	NewID    func() string

	GracePeriod   time.Duration
	TeardownDelay time.Duration
}

// Snapshot is a point-in-time view of a session.
type Snapshot struct {
	State     State
	Cursor    int
	Completed bool
	Emitted   int
}

// Session replays a catalog to a single subscriber. Each emit step
// schedules the next one, so at most one continuation is ever pending.
// Every continuation re-checks state under mu before acting, which makes
// a timer that fires after Abort harmless even if Stop lost the race.
type Session struct {
	id      string
	matchID string
	catalog *catalog.Catalog
	sub     Subscriber

	clock    Clock
	policy   DelayPolicy
	observer Observer
	newID    func() string
	grace    time.Duration
	teardown time.Duration

	mu        sync.Mutex
	state     State
	cursor    int
	completed bool
	emitted   int
	pending   Timer
}

func NewSession(id, matchID string, cat *catalog.Catalog, sub Subscriber, cfg Config) *Session {
	s := &Session{
		id:       id,
		matchID:  matchID,
		catalog:  cat,
		sub:      sub,
		clock:    cfg.Clock,
		policy:   cfg.Policy,
		observer: cfg.Observer,
		newID:    cfg.NewID,
		grace:    cfg.GracePeriod,
		teardown: cfg.TeardownDelay,
	}
	if s.clock == nil {
		s.clock = RealClock{}
	}
	if s.observer == nil {
		s.observer = nopObserver{}
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	if s.grace <= 0 {
		s.grace = GracePeriod
	}
	if s.teardown <= 0 {
		s.teardown = TeardownDelay
	}
	return s
}

func (s *Session) ID() string      { return s.id }
func (s *Session) MatchID() string { return s.matchID }

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		State:     s.state,
		Cursor:    s.cursor,
		Completed: s.completed,
		Emitted:   s.emitted,
	}
}

// notes are observer callbacks collected under the lock and run after it
// is released.
type notes []func()

func (n notes) run() {
	for _, f := range n {
		f()
	}
}

// Start sends the join confirmation and the first catalog entry. The
// catalog's own pacing begins after entry 0.
func (s *Session) Start() error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	out := notes{s.transitionLocked(StateEmitting)}

	welcome := events.Status(events.StatusJoinedMatch, fmt.Sprintf("Joined match room: %s", s.matchID)).
		Stamp(s.clock.Now(), "join-"+s.newID())
	if s.sub.Live() {
		out = append(out, s.emitLocked(welcome, -1, 0))
	}
	empty := s.catalog.Len() == 0
	if empty {
		out = append(out, s.completeLocked())
	}
	s.mu.Unlock()
	out.run()

	if empty {
		s.arm(StateCompleted, s.grace, s.finish)
		return nil
	}
	s.step()
	return nil
}

// step emits the entry under the cursor and schedules its successor.
func (s *Session) step() {
	s.mu.Lock()
	if s.completed || s.state != StateEmitting || s.cursor >= s.catalog.Len() || !s.sub.Live() {
		s.mu.Unlock()
		return
	}

	idx := s.cursor
	entry := s.catalog.At(idx)
	evt := entry.Stamp(s.clock.Now(), fmt.Sprintf("%s-%d-%s", s.catalog.Match().IDPrefix, idx, s.newID()))
	s.cursor++

	last := s.cursor == s.catalog.Len()
	var delay time.Duration
	if !last {
		delay = s.policy.Delay(entry)
	}
	out := notes{s.emitLocked(evt, idx, delay)}
	if last {
		out = append(out, s.completeLocked())
	}
	s.mu.Unlock()
	out.run()

	if last {
		s.arm(StateCompleted, s.grace, s.finish)
		return
	}
	s.arm(StateEmitting, delay, s.step)
}

// arm schedules f after d, provided the session is still in state want.
// Observers are notified before the next continuation is armed, so their
// callbacks stay in emission order even under a fast clock.
func (s *Session) arm(want State, d time.Duration, f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != want {
		return
	}
	s.pending = s.clock.AfterFunc(d, f)
}

// completeLocked marks the catalog exhausted.
func (s *Session) completeLocked() func() {
	s.completed = true
	return s.transitionLocked(StateCompleted)
}

// finish sends the session-ended status after the grace period.
func (s *Session) finish() {
	s.mu.Lock()
	if s.state != StateCompleted {
		s.mu.Unlock()
		return
	}
	s.pending = nil
	var out notes
	if s.sub.Live() {
		evt := events.Status(events.StatusSessionEnded, sessionEndedSummary).
			Stamp(s.clock.Now(), "session-end-"+s.newID())
		out = append(out, s.emitLocked(evt, -1, 0))
	}
	s.mu.Unlock()
	out.run()

	s.arm(StateCompleted, s.teardown, s.close)
}

// close forces the subscriber off once playback is fully over.
func (s *Session) close() {
	s.mu.Lock()
	if s.state != StateCompleted {
		s.mu.Unlock()
		return
	}
	s.pending = nil
	note := s.transitionLocked(StateTornDown)
	s.mu.Unlock()

	// Close may synchronously trigger Abort via the transport; it must
	// run without mu held.
	_ = s.sub.Close()
	note()
}

// Abort stops playback because the subscriber went away. Safe to call
// any number of times and from any goroutine.
func (s *Session) Abort() {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.completed = true
	if s.pending != nil {
		s.pending.Stop()
		s.pending = nil
	}
	note := s.transitionLocked(StateAborted)
	s.mu.Unlock()
	note()
}

func (s *Session) emitLocked(evt events.MatchEvent, cursor int, next time.Duration) func() {
	err := s.sub.Send(evt)
	if err == nil && cursor >= 0 {
		s.emitted++
	}
	e := Emission{Event: evt, Cursor: cursor, Next: next, Err: err}
	return func() { s.observer.OnEmit(s, e) }
}

func (s *Session) transitionLocked(to State) func() {
	from := s.state
	s.state = to
	return func() { s.observer.OnTransition(s, from, to) }
}

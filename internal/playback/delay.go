package playback

import (
	"math/rand/v2"
	"time"

	"github.com/charleschow/cricket-feed/internal/events"
)

const (
	// MinDelay is the floor applied after jitter.
	MinDelay = 1500 * time.Millisecond
	// JitterSpan is the full width of the jitter window, centred on zero.
	JitterSpan = 600 * time.Millisecond

	defaultDelay       = 4000 * time.Millisecond
	defaultStatusDelay = 2500 * time.Millisecond
	wicketDelay        = 3500 * time.Millisecond
	sixDelay           = 3000 * time.Millisecond
	fourDelay          = 2500 * time.Millisecond
	dotBallDelay       = 1800 * time.Millisecond
	singleDelay        = 2000 * time.Millisecond
	multiRunDelay      = 2200 * time.Millisecond
)

// statusDelays holds the pause after named MATCH_STATUS updates.
var statusDelays = map[string]time.Duration{
	"Match Started": 3000 * time.Millisecond,
	"Toss Update":   2500 * time.Millisecond,
	"Wicket Fall":   4000 * time.Millisecond, // let the dismissal sink in
	"Powerplay End": 3500 * time.Millisecond,
}

// RandSource yields uniformly distributed values in [0, 1).
type RandSource interface {
	Float64() float64
}

// RandFunc adapts a plain function to RandSource.
type RandFunc func() float64

func (f RandFunc) Float64() float64 { return f() }

// DelayPolicy maps a just-emitted event to the wait before the next one.
type DelayPolicy struct {
	rand RandSource
}

// NewDelayPolicy returns a policy drawing jitter from r. A nil r uses
// the global math/rand/v2 source.
func NewDelayPolicy(r RandSource) DelayPolicy {
	if r == nil {
		r = RandFunc(rand.Float64)
	}
	return DelayPolicy{rand: r}
}

// Delay returns BaseDelay(evt) plus jitter in [-300ms, +300ms), never
// less than MinDelay.
func (p DelayPolicy) Delay(evt events.Event) time.Duration {
	r := p.rand
	if r == nil {
		r = RandFunc(rand.Float64)
	}
	jitter := time.Duration((r.Float64() - 0.5) * float64(JitterSpan))
	return max(BaseDelay(evt)+jitter, MinDelay)
}

// BaseDelay is the deterministic part of the pacing.
func BaseDelay(evt events.Event) time.Duration {
	switch evt.Kind {
	case events.KindMatchStatus:
		if p, ok := evt.Payload.(events.StatusPayload); ok {
			if d, ok := statusDelays[p.Status]; ok {
				return d
			}
		}
		return defaultStatusDelay

	case events.KindWicket:
		return wicketDelay

	case events.KindBoundary:
		if runs(evt) == 6 {
			return sixDelay
		}
		return fourDelay

	case events.KindBall:
		switch r := runs(evt); {
		case r == 0:
			return dotBallDelay
		case r >= 2:
			return multiRunDelay
		default:
			return singleDelay
		}
	}
	return defaultDelay
}

func runs(evt events.Event) int {
	if p, ok := evt.Payload.(events.BallPayload); ok {
		return p.Runs
	}
	return 0
}

package tracker

import (
	"time"

	"github.com/tokikanri/tokikanri/pkg/integrations/common"
	"github.com/tokikanri/tokikanri/pkg/window"
)

// Clock supplies the engine's notion of now. time.Now carries a monotonic
// reading, which is what every duration is computed from.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the real clock
var SystemClock Clock = systemClock{}

// Event is something the engine consumes from its queue
type Event interface {
	apply(e *Engine) outcome
}

// Tick is one poll loop sample. A signal whose query failed is marked so
// the engine leaves that part of its state alone for this tick.
type Tick struct {
	At time.Time

	// Foreground is the focused identity; empty means no resolvable window.
	Foreground window.Identity
	// ForegroundFailed skips the focus signal entirely.
	ForegroundFailed bool

	Idle    bool
	IdleFor time.Duration
	// IdleOK is false when the idle query failed; the user is then active.
	IdleOK bool
}

func (t Tick) apply(e *Engine) outcome { return e.tick(t) }

// PlaybackResult carries one finished oracle query
type PlaybackResult struct {
	Identity window.Identity
	State    common.PlaybackState
	OK       bool
	At       time.Time
}

func (p PlaybackResult) apply(e *Engine) outcome {
	e.applyPlayback(p)
	return outcome{}
}

// Flush is a finished session folded into its identity's total
type Flush struct {
	Identity  window.Identity
	Duration  time.Duration
	StartedAt time.Time
	EndedAt   time.Time
	IsMedia   bool
}

package window

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// IdleDetector answers "is the user idle" on top of a platform Detector.
// Every query is bounded by timeout, and any failure reports the user as
// active so ordinary usage is never under-counted.
type IdleDetector struct {
	detector Detector
	timeout  time.Duration
	logger   zerolog.Logger
	busy     atomic.Bool
	failing  atomic.Bool
}

// NewIdleDetector wraps d with the given per-query timeout
func NewIdleDetector(d Detector, timeout time.Duration, logger zerolog.Logger) *IdleDetector {
	return &IdleDetector{
		detector: d,
		timeout:  timeout,
		logger:   logger.With().Str("component", "idle-detector").Logger(),
	}
}

// IdleFor returns the time since the last input event and whether the
// session is locked.
func (i *IdleDetector) IdleFor(ctx context.Context) (time.Duration, bool, error) {
	info, err := boundedCall(ctx, &i.busy, i.timeout, i.detector.GetIdleInfo)
	if err != nil {
		return 0, false, err
	}
	if info == nil {
		return 0, false, nil
	}
	idle := info.IdleTime
	if idle < 0 {
		idle = 0
	}
	return idle, info.IsLocked, nil
}

// IsUserIdle reports whether the time since last input exceeds threshold.
// Query failures fail open.
func (i *IdleDetector) IsUserIdle(ctx context.Context, threshold time.Duration) bool {
	idle, locked, err := i.IdleFor(ctx)
	if err != nil {
		i.logFailure(err)
		return false
	}
	i.recovered()
	return locked || idle > threshold
}

// Probe is IsUserIdle plus the raw idle time, used by the poll loop.
// ok is false when the query failed; idle is then always false.
func (i *IdleDetector) Probe(ctx context.Context, threshold time.Duration) (idle bool, idleFor time.Duration, ok bool) {
	d, locked, err := i.IdleFor(ctx)
	if err != nil {
		i.logFailure(err)
		return false, 0, false
	}
	i.recovered()
	return locked || d > threshold, d, true
}

func (i *IdleDetector) logFailure(err error) {
	if i.failing.CompareAndSwap(false, true) {
		i.logger.Warn().Err(err).Msg("Idle query failed, treating user as active")
		return
	}
	i.logger.Debug().Err(err).Msg("Idle query failed")
}

func (i *IdleDetector) recovered() {
	if i.failing.CompareAndSwap(true, false) {
		i.logger.Info().Msg("Idle queries recovered")
	}
}

package window

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Resolver reports the identity of the process owning the focused window.
type Resolver struct {
	detector Detector
	timeout  time.Duration
	logger   zerolog.Logger
	busy     atomic.Bool
}

// NewResolver wraps d with the given per-query timeout
func NewResolver(d Detector, timeout time.Duration, logger zerolog.Logger) *Resolver {
	return &Resolver{
		detector: d,
		timeout:  timeout,
		logger:   logger.With().Str("component", "foreground-resolver").Logger(),
	}
}

// Current returns the normalized foreground identity. ok is false when there
// is no resolvable foreground window (desktop, lock screen, a process that
// exited mid-lookup). err is non-nil only when the query itself failed or
// timed out, in which case the caller should skip this signal for the tick.
func (r *Resolver) Current(ctx context.Context) (id Identity, ok bool, err error) {
	info, err := boundedCall(ctx, &r.busy, r.timeout, r.detector.GetFocusedWindow)
	if err != nil {
		return "", false, err
	}
	id = info.Identity()
	if id.IsZero() {
		return "", false, nil
	}
	return id, true, nil
}

// Window returns the raw focused window info with the same bounds as Current.
func (r *Resolver) Window(ctx context.Context) (*WindowInfo, error) {
	return boundedCall(ctx, &r.busy, r.timeout, r.detector.GetFocusedWindow)
}

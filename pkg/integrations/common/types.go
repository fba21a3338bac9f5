package common

import (
	"context"
	"strings"

	"github.com/tokikanri/tokikanri/pkg/window"
)

// PlaybackState is the transport state a media session reports
type PlaybackState int

const (
	PlaybackUnknown PlaybackState = iota
	PlaybackPlaying
	PlaybackPaused
	PlaybackStopped
)

func (s PlaybackState) String() string {
	switch s {
	case PlaybackPlaying:
		return "playing"
	case PlaybackPaused:
		return "paused"
	case PlaybackStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ParsePlaybackState maps the status strings used by MPRIS ("Playing") and
// the Windows media session API ("Playing", "Paused", "Stopped", "Closed",
// "Opened", "Changing") onto PlaybackState.
func ParsePlaybackState(s string) PlaybackState {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "playing":
		return PlaybackPlaying
	case "paused":
		return PlaybackPaused
	case "stopped", "closed", "opened":
		return PlaybackStopped
	default:
		return PlaybackUnknown
	}
}

// Merge combines the states of several sessions owned by one identity:
// any playing session wins, then paused, then stopped.
func Merge(states ...PlaybackState) PlaybackState {
	best := PlaybackUnknown
	rank := func(s PlaybackState) int {
		switch s {
		case PlaybackPlaying:
			return 3
		case PlaybackPaused:
			return 2
		case PlaybackStopped:
			return 1
		}
		return 0
	}
	for _, s := range states {
		if rank(s) > rank(best) {
			best = s
		}
	}
	return best
}

// PlaybackQuerier asks the OS media-session API for the transport state of
// the sessions owned by an identity. An identity with no media session is
// reported as stopped. Implementations must honor ctx.
type PlaybackQuerier interface {
	QueryPlayback(ctx context.Context, id window.Identity) (PlaybackState, error)

	// Close releases any bus connection held by the querier
	Close() error
}

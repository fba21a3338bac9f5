package tracker

import (
	"time"

	"github.com/tokikanri/tokikanri/internal/config"
	"github.com/tokikanri/tokikanri/pkg/window"
)

// Settings are the engine parameters that may change at runtime
type Settings struct {
	IdleThreshold   time.Duration
	MediaEnabled    bool
	Media           []window.Identity
	RequirePlayback bool
	MediaIdleGate   bool
	Staleness       time.Duration
	AutoTrack       bool
	MaxProcesses    int
}

// SettingsFromConfig extracts engine settings from the application config
func SettingsFromConfig(c *config.Config) Settings {
	return Settings{
		IdleThreshold:   c.Tracker.IdleThreshold,
		MediaEnabled:    c.Media.Enabled,
		Media:           c.MediaIdentities(),
		RequirePlayback: c.Media.RequirePlayback,
		MediaIdleGate:   c.Media.IdleGate,
		Staleness:       c.Oracle.Staleness,
		AutoTrack:       c.Tracker.AutoTrack,
		MaxProcesses:    c.Tracker.MaxProcesses,
	}
}

func (s Settings) mediaSet() map[window.Identity]struct{} {
	set := make(map[window.Identity]struct{}, len(s.Media))
	for _, id := range s.Media {
		if n := window.Normalize(string(id)); !n.IsZero() {
			set[n] = struct{}{}
		}
	}
	return set
}

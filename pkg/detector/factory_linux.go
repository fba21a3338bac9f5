//go:build linux

package detector

import (
	"github.com/rs/zerolog"

	"github.com/tokikanri/tokikanri/pkg/integrations/common"
	"github.com/tokikanri/tokikanri/pkg/integrations/hybrid"
	"github.com/tokikanri/tokikanri/pkg/integrations/mpris"
	"github.com/tokikanri/tokikanri/pkg/integrations/process"
	"github.com/tokikanri/tokikanri/pkg/window"
)

// New returns the foreground/idle detector for this session
func New(logger zerolog.Logger) (window.Detector, error) {
	lookup, err := process.NewLookup(0)
	if err != nil {
		return nil, err
	}
	return hybrid.NewDetector(lookup, logger)
}

// NewPlaybackQuerier returns the MPRIS playback querier
func NewPlaybackQuerier() common.PlaybackQuerier {
	return mpris.NewQuerier()
}

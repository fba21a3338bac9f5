//go:build windows

package detector

import (
	"errors"

	"github.com/rs/zerolog"

	"github.com/tokikanri/tokikanri/pkg/integrations/common"
	"github.com/tokikanri/tokikanri/pkg/integrations/win32"
	"github.com/tokikanri/tokikanri/pkg/window"
)

// New returns the Win32 foreground/idle detector
func New(logger zerolog.Logger) (window.Detector, error) {
	d := win32.NewDetector()
	if !d.IsAvailable() {
		return nil, errors.New("user32.dll not available")
	}
	logger.Info().Str("component", "detector").Msg("Win32 detector initialized")
	return d, nil
}

// NewPlaybackQuerier returns the media session querier
func NewPlaybackQuerier() common.PlaybackQuerier {
	return win32.NewQuerier()
}

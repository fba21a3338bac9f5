//go:build !linux && !windows

package detector

import (
	"context"
	"fmt"
	"runtime"

	"github.com/rs/zerolog"

	"github.com/tokikanri/tokikanri/pkg/integrations/common"
	"github.com/tokikanri/tokikanri/pkg/window"
)

// New fails on platforms without a detector
func New(logger zerolog.Logger) (window.Detector, error) {
	return nil, fmt.Errorf("foreground detection is not supported on %s", runtime.GOOS)
}

type unsupportedQuerier struct{}

func (unsupportedQuerier) QueryPlayback(ctx context.Context, id window.Identity) (common.PlaybackState, error) {
	return common.PlaybackUnknown, fmt.Errorf("playback queries are not supported on %s", runtime.GOOS)
}

func (unsupportedQuerier) Close() error { return nil }

// NewPlaybackQuerier returns a querier that always fails
func NewPlaybackQuerier() common.PlaybackQuerier {
	return unsupportedQuerier{}
}

package hybrid

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tokikanri/tokikanri/pkg/integrations/logind"
	"github.com/tokikanri/tokikanri/pkg/integrations/process"
	"github.com/tokikanri/tokikanri/pkg/integrations/wayland"
	"github.com/tokikanri/tokikanri/pkg/integrations/x11"
	"github.com/tokikanri/tokikanri/pkg/window"
)

// hintSource is the logind session, swapped out in tests
type hintSource interface {
	Hints(ctx context.Context) (logind.Hints, error)
	Close() error
}

// Detector chains the window detectors available in the session. On a
// Wayland desktop the native detector goes first and XWayland second.
// Idle and lock state fall back to logind when no detector can answer.
type Detector struct {
	detectors []window.Detector
	session   hintSource
	logger    zerolog.Logger
	now       func() time.Time

	mu                   sync.Mutex
	lastSuccessfulMethod string
}

// NewDetector probes the session and builds the detector chain
func NewDetector(lookup *process.Lookup, logger zerolog.Logger) (*Detector, error) {
	logger = logger.With().Str("component", "detector").Logger()

	var chain []window.Detector

	if os.Getenv("WAYLAND_DISPLAY") != "" || os.Getenv("XDG_SESSION_TYPE") == "wayland" {
		det := wayland.NewDetector(lookup)
		if det.IsAvailable() {
			logger.Info().Str("compositor", det.Compositor()).Msg("Wayland detector initialized")
			chain = append(chain, det)
		} else {
			logger.Warn().Str("compositor", det.Compositor()).Msg("Wayland compositor not supported, trying XWayland")
			det.Close()
		}
	}

	if os.Getenv("DISPLAY") != "" {
		det, err := x11.NewDetector(lookup)
		if err != nil {
			logger.Warn().Err(err).Msg("X11 detector unavailable")
		} else {
			logger.Info().Msg("X11 detector initialized")
			chain = append(chain, det)
		}
	}

	if len(chain) == 0 {
		return nil, errors.New("no window detector available for this session")
	}

	return newDetector(logind.NewSession(), logger, chain...), nil
}

func newDetector(session hintSource, logger zerolog.Logger, detectors ...window.Detector) *Detector {
	return &Detector{
		detectors: detectors,
		session:   session,
		logger:    logger,
		now:       time.Now,
	}
}

func (d *Detector) setMethod(m string) {
	d.mu.Lock()
	d.lastSuccessfulMethod = m
	d.mu.Unlock()
}

// GetFocusedWindow asks each detector in turn and returns the first answer.
// A nil window counts as an answer.
func (d *Detector) GetFocusedWindow(ctx context.Context) (*window.WindowInfo, error) {
	var errs []error
	for _, det := range d.detectors {
		info, err := det.GetFocusedWindow(ctx)
		if err == nil {
			d.setMethod(det.GetDisplayServer())
			return info, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", det.GetDisplayServer(), err))
		if ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf("all detection methods failed: %w", errors.Join(errs...))
}

// GetIdleInfo returns the first detector's idle info, then logind's
func (d *Detector) GetIdleInfo(ctx context.Context) (*window.IdleInfo, error) {
	var errs []error
	for _, det := range d.detectors {
		info, err := det.GetIdleInfo(ctx)
		if err == nil && info != nil {
			return info, nil
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", det.GetDisplayServer(), err))
		}
	}

	if d.session != nil {
		hints, err := d.session.Hints(ctx)
		if err == nil {
			return &window.IdleInfo{
				IsLocked: hints.Locked,
				IdleTime: hints.IdleFor(d.now()),
			}, nil
		}
		errs = append(errs, fmt.Errorf("logind: %w", err))
	}

	return nil, fmt.Errorf("idle detection failed: %w", errors.Join(errs...))
}

// IsAvailable reports whether any detector in the chain is usable
func (d *Detector) IsAvailable() bool {
	for _, det := range d.detectors {
		if det.IsAvailable() {
			return true
		}
	}
	return false
}

// GetDisplayServer returns the display server of the detector that answered
// last, or of the first in the chain.
func (d *Detector) GetDisplayServer() string {
	d.mu.Lock()
	m := d.lastSuccessfulMethod
	d.mu.Unlock()
	if m != "" {
		return m
	}
	if len(d.detectors) > 0 {
		return d.detectors[0].GetDisplayServer()
	}
	return "unknown"
}

// GetStatus describes the detector chain for the status command
func (d *Detector) GetStatus() string {
	var b strings.Builder
	b.WriteString("Hybrid Detector Status:\n")
	for i, det := range d.detectors {
		fmt.Fprintf(&b, "  %d. %s (available: %v)\n", i+1, det.GetDisplayServer(), det.IsAvailable())
	}
	if d.session != nil {
		b.WriteString("  Idle fallback: logind\n")
	}
	d.mu.Lock()
	fmt.Fprintf(&b, "  Last successful method: %s\n", d.lastSuccessfulMethod)
	d.mu.Unlock()
	return b.String()
}

// Close closes every detector in the chain
func (d *Detector) Close() error {
	var errs []error
	for _, det := range d.detectors {
		if err := det.Close(); err != nil {
			d.logger.Warn().Err(err).Str("detector", det.GetDisplayServer()).Msg("Error closing detector")
			errs = append(errs, err)
		}
	}
	if d.session != nil {
		if err := d.session.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

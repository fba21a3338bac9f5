package window

import (
	"context"
	"strings"
	"time"
)

// Identity is a normalized process name. It is the key every tracked
// duration is stored under.
type Identity string

// Normalize lower-cases a process name, drops any directory part and strips
// a trailing ".exe", so "VLC", "vlc.exe" and `C:\Program Files\VLC\vlc.exe`
// all map to "vlc".
func Normalize(name string) Identity {
	n := strings.TrimSpace(name)
	if i := strings.LastIndexAny(n, `/\`); i >= 0 {
		n = n[i+1:]
	}
	n = strings.ToLower(n)
	n = strings.TrimSuffix(n, ".exe")
	return Identity(strings.TrimSpace(n))
}

func (i Identity) String() string {
	return string(i)
}

// IsZero reports whether the identity is empty.
func (i Identity) IsZero() bool {
	return i == ""
}

// WindowInfo represents information about the currently focused window
type WindowInfo struct {
	AppName       string
	WindowTitle   string
	ProcessName   string
	PID           int
	DisplayServer string // "x11", "wayland" or "windows"
}

// Identity returns the normalized identity of the window's owning process,
// falling back to the application name when the process name is unknown.
func (w *WindowInfo) Identity() Identity {
	if w == nil {
		return ""
	}
	if id := Normalize(w.ProcessName); !id.IsZero() {
		return id
	}
	return Normalize(w.AppName)
}

// IdleInfo represents system idle/lock state
type IdleInfo struct {
	IsLocked bool
	IdleTime time.Duration // time since the last system-wide input event
}

// Detector is the interface that all platform integrations must satisfy.
// Implementations should honor ctx cancellation; callers additionally bound
// every call with a timeout.
type Detector interface {
	// GetFocusedWindow returns the currently focused window, or nil when
	// there is no resolvable foreground window.
	GetFocusedWindow(ctx context.Context) (*WindowInfo, error)

	// GetIdleInfo returns system idle/lock state
	GetIdleInfo(ctx context.Context) (*IdleInfo, error)

	// IsAvailable checks if this detector can run on the current system
	IsAvailable() bool

	// GetDisplayServer returns the display server type
	GetDisplayServer() string

	// Close cleans up any resources used by the detector
	Close() error
}

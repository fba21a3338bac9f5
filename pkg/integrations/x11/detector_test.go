package x11

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/tokikanri/tokikanri/pkg/integrations/process"
	"github.com/tokikanri/tokikanri/pkg/window"
)

func newTestDetector(t *testing.T) *Detector {
	t.Helper()
	if os.Getenv("DISPLAY") == "" {
		t.Skip("DISPLAY not set")
	}
	lookup, err := process.NewLookup(16)
	if err != nil {
		t.Fatalf("NewLookup() error: %v", err)
	}
	d, err := NewDetector(lookup)
	if err != nil {
		t.Skipf("X11 not available: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestGetDisplayServer(t *testing.T) {
	d := &Detector{}
	if got := d.GetDisplayServer(); got != "x11" {
		t.Errorf("GetDisplayServer() = %s, want %s", got, "x11")
	}
}

func TestCommandExists(t *testing.T) {
	tests := []struct {
		command string
		want    bool
	}{
		{"sh", true},
		{"nonexistent_command_xyz", false},
	}

	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			if got := commandExists(tt.command); got != tt.want {
				t.Errorf("commandExists(%q) = %v, want %v", tt.command, got, tt.want)
			}
		})
	}
}

func TestGetFocusedWindow(t *testing.T) {
	d := newTestDetector(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	info, err := d.GetFocusedWindow(ctx)
	if err != nil {
		t.Logf("GetFocusedWindow() error (may be expected): %v", err)
		return
	}
	if info == nil {
		t.Log("No focused window")
		return
	}

	t.Logf("App Name: %s", info.AppName)
	t.Logf("Window Title: %s", info.WindowTitle)
	t.Logf("Process Name: %s", info.ProcessName)

	if info.DisplayServer != "x11" {
		t.Errorf("DisplayServer = %s, want x11", info.DisplayServer)
	}
}

func TestGetIdleInfo(t *testing.T) {
	d := newTestDetector(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	info, err := d.GetIdleInfo(ctx)
	if err != nil {
		t.Logf("GetIdleInfo() error: %v", err)
		return
	}

	t.Logf("Is Locked: %v", info.IsLocked)
	t.Logf("Idle Time: %v", info.IdleTime)

	if info.IdleTime < 0 {
		t.Errorf("IdleTime is negative: %v", info.IdleTime)
	}
}

func TestParseWMClass(t *testing.T) {
	tests := []struct {
		name         string
		input        []byte
		wantInstance string
		wantClass    string
	}{
		{
			name:         "Standard format",
			input:        []byte("Navigator\x00Firefox\x00"),
			wantInstance: "Navigator",
			wantClass:    "Firefox",
		},
		{
			name:         "Same instance and class",
			input:        []byte("kitty\x00kitty\x00"),
			wantInstance: "kitty",
			wantClass:    "kitty",
		},
		{
			name:         "Instance only",
			input:        []byte("xterm\x00"),
			wantInstance: "xterm",
		},
		{
			name:  "Empty",
			input: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			instance, class := parseWMClass(tt.input)
			if instance != tt.wantInstance || class != tt.wantClass {
				t.Errorf("parseWMClass(%q) = (%q, %q), want (%q, %q)",
					tt.input, instance, class, tt.wantInstance, tt.wantClass)
			}
		})
	}
}

func TestCloseWithoutConnection(t *testing.T) {
	d := &Detector{}
	if err := d.Close(); err != nil {
		t.Errorf("Close() returned error: %v", err)
	}
}

func TestDetectorInterface(t *testing.T) {
	var _ window.Detector = (*Detector)(nil)
}

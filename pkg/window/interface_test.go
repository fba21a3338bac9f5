package window

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type MockDetector struct {
	windowInfo    *WindowInfo
	windowErr     error
	idleInfo      *IdleInfo
	idleErr       error
	block         chan struct{}
	isAvailable   bool
	displayServer string
	closeError    error
}

func (m *MockDetector) GetFocusedWindow(ctx context.Context) (*WindowInfo, error) {
	if m.block != nil {
		<-m.block
	}
	return m.windowInfo, m.windowErr
}

func (m *MockDetector) GetIdleInfo(ctx context.Context) (*IdleInfo, error) {
	if m.block != nil {
		<-m.block
	}
	return m.idleInfo, m.idleErr
}

func (m *MockDetector) IsAvailable() bool {
	return m.isAvailable
}

func (m *MockDetector) GetDisplayServer() string {
	return m.displayServer
}

func (m *MockDetector) Close() error {
	return m.closeError
}

func TestMockDetector(t *testing.T) {
	var _ Detector = (*MockDetector)(nil)
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		input string
		want  Identity
	}{
		{"vlc.exe", "vlc"},
		{"VLC", "vlc"},
		{"Vlc.EXE", "vlc"},
		{"  spotify.exe ", "spotify"},
		{`C:\Program Files\VideoLAN\VLC\vlc.exe`, "vlc"},
		{"/usr/bin/firefox", "firefox"},
		{"notepad++.exe", "notepad++"},
		{"mpc-hc64.exe", "mpc-hc64"},
		{"", ""},
		{".exe", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := Normalize(tt.input); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestWindowInfoIdentity(t *testing.T) {
	tests := []struct {
		name string
		info *WindowInfo
		want Identity
	}{
		{"process name wins", &WindowInfo{AppName: "Firefox", ProcessName: "firefox-bin"}, "firefox-bin"},
		{"falls back to app name", &WindowInfo{AppName: "Navigator"}, "navigator"},
		{"nil window", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.info.Identity(); got != tt.want {
				t.Errorf("Identity() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIdleThresholds(t *testing.T) {
	tests := []struct {
		idleTime  time.Duration
		threshold time.Duration
		locked    bool
		wantIdle  bool
	}{
		{idleTime: 0, threshold: 300 * time.Second, wantIdle: false},
		{idleTime: 299 * time.Second, threshold: 300 * time.Second, wantIdle: false},
		{idleTime: 300 * time.Second, threshold: 300 * time.Second, wantIdle: false}, // Equal to threshold
		{idleTime: 301 * time.Second, threshold: 300 * time.Second, wantIdle: true},
		{idleTime: 0, threshold: 300 * time.Second, locked: true, wantIdle: true},
	}

	for _, tt := range tests {
		t.Run("", func(t *testing.T) {
			mock := &MockDetector{idleInfo: &IdleInfo{IdleTime: tt.idleTime, IsLocked: tt.locked}}
			d := NewIdleDetector(mock, time.Second, zerolog.Nop())
			if got := d.IsUserIdle(context.Background(), tt.threshold); got != tt.wantIdle {
				t.Errorf("IsUserIdle(idle=%v, threshold=%v) = %v, want %v",
					tt.idleTime, tt.threshold, got, tt.wantIdle)
			}
		})
	}
}

func TestIdleDetectorFailsOpen(t *testing.T) {
	mock := &MockDetector{idleErr: errors.New("GetLastInputInfo failed")}
	d := NewIdleDetector(mock, time.Second, zerolog.Nop())

	if d.IsUserIdle(context.Background(), time.Second) {
		t.Error("IsUserIdle() = true on query failure, want false")
	}

	idle, idleFor, ok := d.Probe(context.Background(), time.Second)
	if idle || idleFor != 0 || ok {
		t.Errorf("Probe() = (%v, %v, %v), want (false, 0, false)", idle, idleFor, ok)
	}
}

func TestIdleDetectorTimeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	mock := &MockDetector{block: block, idleInfo: &IdleInfo{IdleTime: time.Hour}}
	d := NewIdleDetector(mock, 20*time.Millisecond, zerolog.Nop())

	start := time.Now()
	if d.IsUserIdle(context.Background(), time.Second) {
		t.Error("IsUserIdle() = true on timeout, want false")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("IsUserIdle() blocked for %v", elapsed)
	}

	// The hung call is still outstanding, so the next query is refused
	// immediately instead of stacking another goroutine.
	_, _, err := d.IdleFor(context.Background())
	if !errors.Is(err, ErrBusy) {
		t.Errorf("IdleFor() error = %v, want ErrBusy", err)
	}
}

func TestResolverCurrent(t *testing.T) {
	tests := []struct {
		name    string
		mock    *MockDetector
		wantID  Identity
		wantOK  bool
		wantErr bool
	}{
		{
			name:   "normalizes process name",
			mock:   &MockDetector{windowInfo: &WindowInfo{ProcessName: "Notepad.exe", WindowTitle: "Untitled"}},
			wantID: "notepad",
			wantOK: true,
		},
		{
			name:   "no foreground window",
			mock:   &MockDetector{},
			wantOK: false,
		},
		{
			name:   "empty process name",
			mock:   &MockDetector{windowInfo: &WindowInfo{WindowTitle: "Desktop"}},
			wantOK: false,
		},
		{
			name:    "query failure",
			mock:    &MockDetector{windowErr: errors.New("access denied")},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(tt.mock, time.Second, zerolog.Nop())
			id, ok, err := r.Current(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("Current() error = %v, wantErr %v", err, tt.wantErr)
			}
			if id != tt.wantID || ok != tt.wantOK {
				t.Errorf("Current() = (%q, %v), want (%q, %v)", id, ok, tt.wantID, tt.wantOK)
			}
		})
	}
}

func TestResolverTimeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	mock := &MockDetector{block: block, windowInfo: &WindowInfo{ProcessName: "hung"}}
	r := NewResolver(mock, 20*time.Millisecond, zerolog.Nop())

	_, ok, err := r.Current(context.Background())
	if err == nil {
		t.Fatal("Current() error = nil, want timeout")
	}
	if ok {
		t.Error("Current() ok = true on timeout")
	}
}

func BenchmarkNormalize(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = Normalize(`C:\Program Files\Spotify\Spotify.exe`)
	}
}

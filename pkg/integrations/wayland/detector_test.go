package wayland

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/tokikanri/tokikanri/pkg/integrations/process"
	"github.com/tokikanri/tokikanri/pkg/window"
)

func TestGetDisplayServer(t *testing.T) {
	detector := &Detector{}
	if got := detector.GetDisplayServer(); got != "wayland" {
		t.Errorf("GetDisplayServer() = %s, want %s", got, "wayland")
	}
}

func TestDetectCompositor(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"sway socket", map[string]string{"SWAYSOCK": "/run/user/1000/sway-ipc.sock"}, "sway"},
		{"hyprland signature", map[string]string{"HYPRLAND_INSTANCE_SIGNATURE": "abc"}, "hyprland"},
		{"gnome desktop", map[string]string{"XDG_CURRENT_DESKTOP": "ubuntu:GNOME"}, "gnome"},
		{"nothing set", map[string]string{}, "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			getenv := func(k string) string { return tt.env[k] }
			if got := detectCompositor(getenv, false); got != tt.want {
				t.Errorf("detectCompositor() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestGetFocusedWindow(t *testing.T) {
	if os.Getenv("WAYLAND_DISPLAY") == "" {
		t.Skip("not a Wayland session")
	}
	detector := NewDetector(nil)
	defer detector.Close()

	if !detector.IsAvailable() {
		t.Skip("Wayland detector not available on this system")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	windowInfo, err := detector.GetFocusedWindow(ctx)
	if err != nil {
		t.Logf("GetFocusedWindow() error (may be expected): %v", err)
		return
	}
	if windowInfo == nil {
		t.Log("No focused window")
		return
	}

	t.Logf("App Name: %s", windowInfo.AppName)
	t.Logf("Window Title: %s", windowInfo.WindowTitle)
	t.Logf("Process Name: %s", windowInfo.ProcessName)

	if windowInfo.DisplayServer != "wayland" {
		t.Errorf("DisplayServer = %s, want wayland", windowInfo.DisplayServer)
	}
}

func TestParseSwayTree(t *testing.T) {
	sampleJSON := `{
		"type": "root",
		"focused": false,
		"nodes": [{
			"type": "output",
			"nodes": [{
				"type": "workspace",
				"nodes": [
					{"type": "con", "focused": false, "app_id": "kitty", "name": "shell", "pid": 10},
					{"type": "con", "focused": true, "app_id": "firefox", "name": "Mozilla Firefox", "pid": 1234}
				]
			}]
		}]
	}`

	windowInfo, err := parseSwayTree([]byte(sampleJSON))
	if err != nil {
		t.Fatalf("parseSwayTree() error: %v", err)
	}
	if windowInfo == nil {
		t.Fatal("parseSwayTree() returned nil")
	}
	if windowInfo.AppName != "firefox" {
		t.Errorf("AppName = %s, want firefox", windowInfo.AppName)
	}
	if windowInfo.WindowTitle != "Mozilla Firefox" {
		t.Errorf("WindowTitle = %s, want Mozilla Firefox", windowInfo.WindowTitle)
	}
	if windowInfo.PID != 1234 {
		t.Errorf("PID = %d, want 1234", windowInfo.PID)
	}
}

func TestParseSwayTreeXWayland(t *testing.T) {
	sampleJSON := `{"type": "root", "nodes": [
		{"type": "con", "focused": true, "name": "Steam", "pid": 77,
		 "window_properties": {"class": "Steam", "instance": "steamwebhelper"}}
	]}`

	windowInfo, err := parseSwayTree([]byte(sampleJSON))
	if err != nil {
		t.Fatalf("parseSwayTree() error: %v", err)
	}
	if windowInfo == nil || windowInfo.AppName != "Steam" {
		t.Errorf("parseSwayTree() = %+v, want AppName Steam", windowInfo)
	}
}

func TestParseSwayTreeFocusedWorkspace(t *testing.T) {
	sampleJSON := `{"type": "root", "nodes": [{"type": "workspace", "focused": true, "name": "1"}]}`

	windowInfo, err := parseSwayTree([]byte(sampleJSON))
	if err != nil {
		t.Fatalf("parseSwayTree() error: %v", err)
	}
	if windowInfo != nil {
		t.Errorf("parseSwayTree() = %+v, want nil for an empty workspace", windowInfo)
	}
}

func TestParseHyprlandWindow(t *testing.T) {
	windowInfo, err := parseHyprlandWindow([]byte(`{"class": "kitty", "title": "Terminal Window", "pid": 5678}`))
	if err != nil {
		t.Fatalf("parseHyprlandWindow() error: %v", err)
	}
	if windowInfo.AppName != "kitty" {
		t.Errorf("AppName = %s, want kitty", windowInfo.AppName)
	}
	if windowInfo.WindowTitle != "Terminal Window" {
		t.Errorf("WindowTitle = %s, want Terminal Window", windowInfo.WindowTitle)
	}

	empty, err := parseHyprlandWindow([]byte(`{}`))
	if err != nil {
		t.Fatalf("parseHyprlandWindow({}) error: %v", err)
	}
	if empty != nil {
		t.Errorf("parseHyprlandWindow({}) = %+v, want nil", empty)
	}

	if _, err := parseHyprlandWindow([]byte(`Invalid`)); err == nil {
		t.Error("parseHyprlandWindow() error = nil for invalid output")
	}
}

func TestParseGnomeWindow(t *testing.T) {
	windowInfo, err := parseGnomeWindow(`{"title":"Spotify Premium","wm_class":"Spotify","wm_class_instance":"spotify","pid":4321,"focus":true}`)
	if err != nil {
		t.Fatalf("parseGnomeWindow() error: %v", err)
	}
	if windowInfo.AppName != "Spotify" || windowInfo.PID != 4321 {
		t.Errorf("parseGnomeWindow() = %+v", windowInfo)
	}

	empty, err := parseGnomeWindow("{}")
	if err != nil || empty != nil {
		t.Errorf("parseGnomeWindow({}) = (%+v, %v), want (nil, nil)", empty, err)
	}
}

func TestResolveProcessExited(t *testing.T) {
	lookup, err := process.NewLookup(4)
	if err != nil {
		t.Fatal(err)
	}
	d := &Detector{lookup: lookup}

	// A pid far above pid_max is never live.
	info, err := d.resolveProcess(&window.WindowInfo{AppName: "Gone", PID: 1 << 30})
	if err != nil {
		t.Fatalf("resolveProcess() error: %v", err)
	}
	if info != nil {
		t.Errorf("resolveProcess() = %+v, want nil for an exited process", info)
	}
}

func TestResolveProcessSelf(t *testing.T) {
	if _, err := os.Stat(filepath.Join("/proc", strconv.Itoa(os.Getpid()))); err != nil {
		t.Skip("no procfs")
	}
	lookup, err := process.NewLookup(4)
	if err != nil {
		t.Fatal(err)
	}
	d := &Detector{lookup: lookup}

	info, err := d.resolveProcess(&window.WindowInfo{AppName: "Self", PID: os.Getpid()})
	if err != nil || info == nil {
		t.Fatalf("resolveProcess() = (%+v, %v)", info, err)
	}
	if info.ProcessName == "" || info.ProcessName == "Self" {
		t.Errorf("ProcessName = %q, want the test binary's name", info.ProcessName)
	}
}

func TestResolveProcessFallsBackToAppName(t *testing.T) {
	d := &Detector{}
	info, err := d.resolveProcess(&window.WindowInfo{AppName: "org.gnome.Nautilus"})
	if err != nil {
		t.Fatal(err)
	}
	if info.ProcessName != "org.gnome.Nautilus" {
		t.Errorf("ProcessName = %q, want app name", info.ProcessName)
	}
}

func TestDetectorInterface(t *testing.T) {
	var _ window.Detector = (*Detector)(nil)
}

func BenchmarkParseSwayTree(b *testing.B) {
	data := []byte(`{"type":"root","nodes":[{"type":"con","focused":true,"app_id":"foot","name":"~","pid":1}]}`)
	for i := 0; i < b.N; i++ {
		_, _ = parseSwayTree(data)
	}
}

package wayland

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/tokikanri/tokikanri/pkg/integrations/logind"
	"github.com/tokikanri/tokikanri/pkg/integrations/process"
	"github.com/tokikanri/tokikanri/pkg/window"
)

const (
	focusedWindowDest   = "org.gnome.Shell"
	focusedWindowPath   = dbus.ObjectPath("/org/gnome/shell/extensions/FocusedWindow")
	focusedWindowMethod = "org.gnome.shell.extensions.FocusedWindow.Get"

	idleMonitorDest   = "org.gnome.Mutter.IdleMonitor"
	idleMonitorPath   = dbus.ObjectPath("/org/gnome/Mutter/IdleMonitor/Core")
	idleMonitorMethod = "org.gnome.Mutter.IdleMonitor.GetIdletime"
)

var lockers = []string{
	"swaylock",
	"waylock",
	"gtklock",
	"hyprlock",
	"gnome-screensaver-dialog",
}

// Detector implements window.Detector for Wayland compositors that expose
// the focused window: sway and Hyprland through their IPC tools, GNOME
// through the FocusedWindow shell extension on the session bus.
type Detector struct {
	compositor string
	hasSwaymsg bool
	hasHyprctl bool
	hasPgrep   bool

	lookup  *process.Lookup
	session *logind.Session

	mu  sync.Mutex
	bus *dbus.Conn
}

// NewDetector creates a new Wayland detector
func NewDetector(lookup *process.Lookup) *Detector {
	d := &Detector{
		lookup:     lookup,
		session:    logind.NewSession(),
		hasSwaymsg: commandExists("swaymsg"),
		hasHyprctl: commandExists("hyprctl"),
		hasPgrep:   commandExists("pgrep"),
	}
	d.compositor = detectCompositor(os.Getenv, d.hasPgrep)
	return d
}

// commandExists checks if a command is available in PATH
func commandExists(cmd string) bool {
	_, err := exec.LookPath(cmd)
	return err == nil
}

// detectCompositor prefers the compositor's own environment markers and
// falls back to looking for its process.
func detectCompositor(getenv func(string) string, hasPgrep bool) string {
	switch {
	case getenv("SWAYSOCK") != "":
		return "sway"
	case getenv("HYPRLAND_INSTANCE_SIGNATURE") != "":
		return "hyprland"
	}

	desktop := strings.ToLower(getenv("XDG_CURRENT_DESKTOP"))
	switch {
	case strings.Contains(desktop, "gnome"):
		return "gnome"
	case strings.Contains(desktop, "sway"):
		return "sway"
	case strings.Contains(desktop, "hyprland"):
		return "hyprland"
	}

	if hasPgrep {
		compositors := []struct{ process, name string }{
			{"sway", "sway"},
			{"Hyprland", "hyprland"},
			{"gnome-shell", "gnome"},
		}
		for _, c := range compositors {
			if exec.Command("pgrep", "-x", c.process).Run() == nil {
				return c.name
			}
		}
	}

	return "unknown"
}

// Compositor returns the detected compositor name
func (d *Detector) Compositor() string {
	return d.compositor
}

// IsAvailable checks if Wayland detection is available
func (d *Detector) IsAvailable() bool {
	switch d.compositor {
	case "sway":
		return d.hasSwaymsg
	case "hyprland":
		return d.hasHyprctl
	case "gnome":
		_, err := d.sessionBus()
		return err == nil
	default:
		return false
	}
}

// GetDisplayServer returns "wayland"
func (d *Detector) GetDisplayServer() string {
	return "wayland"
}

func (d *Detector) sessionBus() (*dbus.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.bus == nil || !d.bus.Connected() {
		conn, err := dbus.ConnectSessionBus()
		if err != nil {
			return nil, fmt.Errorf("failed to connect to session bus: %w", err)
		}
		d.bus = conn
	}
	return d.bus, nil
}

// GetFocusedWindow returns information about the currently focused window
func (d *Detector) GetFocusedWindow(ctx context.Context) (*window.WindowInfo, error) {
	var (
		info *window.WindowInfo
		err  error
	)

	switch d.compositor {
	case "sway":
		info, err = d.getFocusedWindowSway(ctx)
	case "hyprland":
		info, err = d.getFocusedWindowHyprland(ctx)
	case "gnome":
		info, err = d.getFocusedWindowGnome(ctx)
	default:
		return nil, fmt.Errorf("unsupported wayland compositor: %s", d.compositor)
	}
	if err != nil || info == nil {
		return nil, err
	}

	info.DisplayServer = "wayland"
	return d.resolveProcess(info)
}

// resolveProcess fills ProcessName from the pid when possible. A window
// whose process is gone is reported as no window.
func (d *Detector) resolveProcess(info *window.WindowInfo) (*window.WindowInfo, error) {
	if info.PID > 0 && d.lookup != nil {
		name, err := d.lookup.Name(info.PID)
		switch {
		case errors.Is(err, process.ErrExited):
			return nil, nil
		case err == nil:
			info.ProcessName = name
		}
	}
	if info.ProcessName == "" {
		info.ProcessName = info.AppName
	}
	return info, nil
}

type swayNode struct {
	Name          string     `json:"name"`
	AppID         string     `json:"app_id"`
	PID           int        `json:"pid"`
	Focused       bool       `json:"focused"`
	Type          string     `json:"type"`
	Nodes         []swayNode `json:"nodes"`
	FloatingNodes []swayNode `json:"floating_nodes"`
	WindowProps   *struct {
		Class    string `json:"class"`
		Instance string `json:"instance"`
	} `json:"window_properties"`
}

func (d *Detector) getFocusedWindowSway(ctx context.Context) (*window.WindowInfo, error) {
	output, err := exec.CommandContext(ctx, "swaymsg", "-t", "get_tree", "-r").Output()
	if err != nil {
		return nil, fmt.Errorf("failed to execute swaymsg: %w", err)
	}
	return parseSwayTree(output)
}

// parseSwayTree walks the sway layout tree for the focused view. Returns
// nil when the focus is on a workspace or output rather than a window.
func parseSwayTree(data []byte) (*window.WindowInfo, error) {
	var root swayNode
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("failed to parse sway tree: %w", err)
	}

	node := findFocused(&root)
	if node == nil || node.Type == "workspace" || node.Type == "output" || node.Type == "root" {
		return nil, nil
	}

	appName := node.AppID
	if appName == "" && node.WindowProps != nil {
		appName = node.WindowProps.Class
	}

	return &window.WindowInfo{
		AppName:     appName,
		WindowTitle: node.Name,
		PID:         node.PID,
	}, nil
}

func findFocused(n *swayNode) *swayNode {
	if n.Focused {
		return n
	}
	for i := range n.Nodes {
		if f := findFocused(&n.Nodes[i]); f != nil {
			return f
		}
	}
	for i := range n.FloatingNodes {
		if f := findFocused(&n.FloatingNodes[i]); f != nil {
			return f
		}
	}
	return nil
}

type hyprWindow struct {
	Class string `json:"class"`
	Title string `json:"title"`
	PID   int    `json:"pid"`
}

func (d *Detector) getFocusedWindowHyprland(ctx context.Context) (*window.WindowInfo, error) {
	output, err := exec.CommandContext(ctx, "hyprctl", "activewindow", "-j").Output()
	if err != nil {
		return nil, fmt.Errorf("failed to execute hyprctl: %w", err)
	}
	return parseHyprlandWindow(output)
}

// parseHyprlandWindow parses `hyprctl activewindow -j`. With no active
// window hyprctl prints an empty object.
func parseHyprlandWindow(data []byte) (*window.WindowInfo, error) {
	var w hyprWindow
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("failed to parse hyprctl output: %w", err)
	}
	if w.Class == "" && w.PID <= 0 {
		return nil, nil
	}
	return &window.WindowInfo{
		AppName:     w.Class,
		WindowTitle: w.Title,
		PID:         w.PID,
	}, nil
}

type gnomeWindow struct {
	Title           string `json:"title"`
	WmClass         string `json:"wm_class"`
	WmClassInstance string `json:"wm_class_instance"`
	Pid             int32  `json:"pid"`
	Focus           bool   `json:"focus"`
}

func (d *Detector) getFocusedWindowGnome(ctx context.Context) (*window.WindowInfo, error) {
	bus, err := d.sessionBus()
	if err != nil {
		return nil, err
	}

	var payload string
	err = bus.Object(focusedWindowDest, focusedWindowPath).CallWithContext(ctx, focusedWindowMethod, 0).Store(&payload)
	if err != nil {
		return nil, fmt.Errorf("failed to call FocusedWindow.Get (is the focused-window-dbus extension enabled?): %w", err)
	}
	return parseGnomeWindow(payload)
}

func parseGnomeWindow(payload string) (*window.WindowInfo, error) {
	if strings.TrimSpace(payload) == "" || payload == "{}" {
		return nil, nil
	}
	var w gnomeWindow
	if err := json.Unmarshal([]byte(payload), &w); err != nil {
		return nil, fmt.Errorf("failed to parse window JSON: %w", err)
	}
	if w.WmClass == "" && w.Pid <= 0 {
		return nil, nil
	}
	return &window.WindowInfo{
		AppName:     w.WmClass,
		WindowTitle: w.Title,
		PID:         int(w.Pid),
	}, nil
}

// GetIdleInfo returns system idle/lock information for Wayland. GNOME
// reports idle time through Mutter, other compositors only through logind's
// idle hint.
func (d *Detector) GetIdleInfo(ctx context.Context) (*window.IdleInfo, error) {
	hints, hintErr := d.session.Hints(ctx)

	info := &window.IdleInfo{IsLocked: hints.Locked || d.isLockerRunning(ctx)}

	if d.compositor == "gnome" {
		idle, err := d.mutterIdleTime(ctx)
		if err == nil {
			info.IdleTime = idle
			return info, nil
		}
		if hintErr != nil {
			return nil, err
		}
	}

	if hintErr != nil {
		return nil, hintErr
	}
	info.IdleTime = hints.IdleFor(time.Now())
	return info, nil
}

func (d *Detector) mutterIdleTime(ctx context.Context) (time.Duration, error) {
	bus, err := d.sessionBus()
	if err != nil {
		return 0, err
	}
	var ms uint64
	err = bus.Object(idleMonitorDest, idleMonitorPath).CallWithContext(ctx, idleMonitorMethod, 0).Store(&ms)
	if err != nil {
		return 0, fmt.Errorf("failed to call IdleMonitor.GetIdletime: %w", err)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func (d *Detector) isLockerRunning(ctx context.Context) bool {
	if !d.hasPgrep {
		return false
	}
	return exec.CommandContext(ctx, "pgrep", "-x", strings.Join(lockers, "|")).Run() == nil
}

// Close cleans up resources
func (d *Detector) Close() error {
	d.mu.Lock()
	if d.bus != nil {
		d.bus.Close()
		d.bus = nil
	}
	d.mu.Unlock()
	return d.session.Close()
}

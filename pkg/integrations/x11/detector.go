package x11

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jezek/xgb"
	"github.com/jezek/xgb/screensaver"
	"github.com/jezek/xgb/xproto"

	"github.com/tokikanri/tokikanri/pkg/integrations/process"
	"github.com/tokikanri/tokikanri/pkg/window"
)

// lockers are screen lockers whose presence means the session is locked
var lockers = []string{
	"gnome-screensaver-dialog",
	"kscreenlocker_greet",
	"i3lock",
	"slock",
	"xscreensaver",
	"xsecurelock",
	"light-locker",
}

// Detector implements window.Detector for X11 using the X protocol
// directly: EWMH properties for the active window and the MIT-SCREEN-SAVER
// extension for idle time.
type Detector struct {
	mu             sync.Mutex
	conn           *xgb.Conn
	root           xproto.Window
	atoms          map[string]xproto.Atom
	hasScreensaver bool
	hasXprintidle  bool
	hasPgrep       bool
	lookup         *process.Lookup
}

// NewDetector connects to the X server named by $DISPLAY
func NewDetector(lookup *process.Lookup) (*Detector, error) {
	d := &Detector{
		lookup:        lookup,
		hasXprintidle: commandExists("xprintidle"),
		hasPgrep:      commandExists("pgrep"),
	}
	if err := d.connect(); err != nil {
		return nil, err
	}
	return d, nil
}

// commandExists checks if a command is available in PATH
func commandExists(cmd string) bool {
	_, err := exec.LookPath(cmd)
	return err == nil
}

func (d *Detector) connect() error {
	conn, err := xgb.NewConn()
	if err != nil {
		return fmt.Errorf("failed to connect to X server: %w", err)
	}

	atoms := make(map[string]xproto.Atom)
	for _, name := range []string{"_NET_ACTIVE_WINDOW", "_NET_WM_NAME", "_NET_WM_PID", "WM_NAME", "WM_CLASS", "UTF8_STRING"} {
		reply, err := xproto.InternAtom(conn, false, uint16(len(name)), name).Reply()
		if err != nil {
			conn.Close()
			return fmt.Errorf("failed to intern atom %s: %w", name, err)
		}
		atoms[name] = reply.Atom
	}

	d.conn = conn
	d.root = xproto.Setup(conn).DefaultScreen(conn).Root
	d.atoms = atoms
	d.hasScreensaver = screensaver.Init(conn) == nil
	return nil
}

// ensureConn reconnects after the X connection was dropped
func (d *Detector) ensureConn() error {
	if d.conn != nil {
		return nil
	}
	return d.connect()
}

func (d *Detector) dropConn() {
	if d.conn != nil {
		d.conn.Close()
		d.conn = nil
	}
}

// IsAvailable checks if X11 detection is available
func (d *Detector) IsAvailable() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ensureConn() == nil
}

// GetDisplayServer returns "x11"
func (d *Detector) GetDisplayServer() string {
	return "x11"
}

// GetFocusedWindow returns information about the currently focused window
func (d *Detector) GetFocusedWindow(ctx context.Context) (*window.WindowInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ensureConn(); err != nil {
		return nil, err
	}

	win, err := d.getActiveWindow(ctx)
	if err != nil {
		var xerr xgb.Error
		if errors.As(err, &xerr) {
			// Protocol errors such as BadWindow are per-request, the
			// connection itself is fine.
			return nil, nil
		}
		if errors.Is(err, errNoActiveWindow) {
			return nil, nil
		}
		d.dropConn()
		return nil, err
	}

	instance, class := d.getWindowClass(win)
	info := &window.WindowInfo{
		AppName:       class,
		WindowTitle:   d.getWindowName(win),
		DisplayServer: "x11",
	}
	if info.AppName == "" {
		info.AppName = instance
	}

	if pid := int(d.getWindowPID(win)); pid > 0 && d.lookup != nil {
		info.PID = pid
		name, err := d.lookup.Name(pid)
		switch {
		case errors.Is(err, process.ErrExited):
			return nil, nil
		case err == nil:
			info.ProcessName = name
		}
	}

	// Sandboxed apps often carry no usable pid, WM_CLASS instance is the
	// next best process-like name.
	if info.ProcessName == "" {
		info.ProcessName = instance
	}

	return info, nil
}

var errNoActiveWindow = errors.New("no active window found")

func (d *Detector) getProperty(win xproto.Window, atom, atomType xproto.Atom, length uint32) ([]byte, error) {
	reply, err := xproto.GetProperty(d.conn, false, win, atom, atomType, 0, length).Reply()
	if err != nil {
		return nil, err
	}
	return reply.Value, nil
}

func (d *Detector) getActiveWindowFromProperty() (xproto.Window, error) {
	data, err := d.getProperty(d.root, d.atoms["_NET_ACTIVE_WINDOW"], xproto.AtomWindow, 1)
	if err != nil {
		return 0, err
	}
	if len(data) < 4 {
		return 0, nil
	}
	return xproto.Window(binary.LittleEndian.Uint32(data)), nil
}

func (d *Detector) getActiveWindowFromInputFocus() xproto.Window {
	reply, err := xproto.GetInputFocus(d.conn).Reply()
	if err != nil {
		return 0
	}
	return reply.Focus
}

func (d *Detector) getTopLevelParent(win xproto.Window) xproto.Window {
	for {
		reply, err := xproto.QueryTree(d.conn, win).Reply()
		if err != nil || reply.Parent == d.root || reply.Parent == 0 {
			return win
		}
		win = reply.Parent
	}
}

func (d *Detector) hasValidName(win xproto.Window) bool {
	data, _ := d.getProperty(win, d.atoms["_NET_WM_NAME"], d.atoms["UTF8_STRING"], 1)
	if len(data) > 0 {
		return true
	}
	data, _ = d.getProperty(win, d.atoms["WM_NAME"], xproto.AtomString, 1)
	return len(data) > 0
}

// getActiveWindow prefers _NET_ACTIVE_WINDOW and falls back to the input
// focus' top-level parent. Window managers update the property lazily after
// a switch, so it retries briefly.
func (d *Detector) getActiveWindow(ctx context.Context) (xproto.Window, error) {
	for i := 0; i < 3; i++ {
		win, err := d.getActiveWindowFromProperty()
		if err != nil {
			return 0, err
		}
		if win != 0 && d.hasValidName(win) {
			return win, nil
		}

		win = d.getActiveWindowFromInputFocus()
		if win != 0 && win != d.root {
			if top := d.getTopLevelParent(win); top != 0 && d.hasValidName(top) {
				return top, nil
			}
		}

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(20 * time.Millisecond):
		}
	}

	return 0, errNoActiveWindow
}

func (d *Detector) getWindowName(win xproto.Window) string {
	data, err := d.getProperty(win, d.atoms["_NET_WM_NAME"], d.atoms["UTF8_STRING"], 256)
	if err == nil && len(data) > 0 {
		return strings.TrimRight(string(data), "\x00")
	}

	data, err = d.getProperty(win, d.atoms["WM_NAME"], xproto.AtomString, 256)
	if err == nil && len(data) > 0 {
		return strings.TrimRight(string(data), "\x00")
	}

	return ""
}

func (d *Detector) getWindowClass(win xproto.Window) (instance, class string) {
	data, err := d.getProperty(win, d.atoms["WM_CLASS"], xproto.AtomString, 256)
	if err != nil {
		return "", ""
	}
	return parseWMClass(data)
}

// parseWMClass splits the raw WM_CLASS property, two NUL-terminated
// strings: instance then class.
func parseWMClass(data []byte) (instance, class string) {
	parts := strings.Split(strings.TrimRight(string(data), "\x00"), "\x00")
	if len(parts) >= 1 {
		instance = parts[0]
	}
	if len(parts) >= 2 {
		class = parts[1]
	}
	return instance, class
}

func (d *Detector) getWindowPID(win xproto.Window) uint32 {
	data, err := d.getProperty(win, d.atoms["_NET_WM_PID"], xproto.AtomCardinal, 1)
	if err != nil || len(data) < 4 {
		return 0
	}
	return binary.LittleEndian.Uint32(data)
}

// GetIdleInfo returns system idle/lock information
func (d *Detector) GetIdleInfo(ctx context.Context) (*window.IdleInfo, error) {
	d.mu.Lock()
	idle, saverOn, err := d.queryScreensaver()
	d.mu.Unlock()

	if err != nil {
		if !d.hasXprintidle {
			return nil, err
		}
		idle, err = xprintidle(ctx)
		if err != nil {
			return nil, err
		}
	}

	return &window.IdleInfo{
		IdleTime: idle,
		IsLocked: saverOn || d.isScreenLocked(ctx),
	}, nil
}

func (d *Detector) queryScreensaver() (time.Duration, bool, error) {
	if err := d.ensureConn(); err != nil {
		return 0, false, err
	}
	if !d.hasScreensaver {
		return 0, false, fmt.Errorf("MIT-SCREEN-SAVER extension not available")
	}
	reply, err := screensaver.QueryInfo(d.conn, xproto.Drawable(d.root)).Reply()
	if err != nil {
		return 0, false, fmt.Errorf("failed to query screensaver info: %w", err)
	}
	return time.Duration(reply.MsSinceUserInput) * time.Millisecond, reply.State == screensaver.StateOn, nil
}

func xprintidle(ctx context.Context) (time.Duration, error) {
	output, err := exec.CommandContext(ctx, "xprintidle").Output()
	if err != nil {
		return 0, fmt.Errorf("failed to execute xprintidle: %w", err)
	}
	ms, err := strconv.ParseInt(strings.TrimSpace(string(output)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid xprintidle output: %w", err)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// isScreenLocked checks for a running screen locker
func (d *Detector) isScreenLocked(ctx context.Context) bool {
	if !d.hasPgrep {
		return false
	}
	return exec.CommandContext(ctx, "pgrep", "-x", strings.Join(lockers, "|")).Run() == nil
}

// Close cleans up resources
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dropConn()
	return nil
}

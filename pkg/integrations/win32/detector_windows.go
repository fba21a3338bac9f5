//go:build windows

package win32

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/tokikanri/tokikanri/pkg/window"
)

var (
	user32   = windows.NewLazySystemDLL("user32.dll")
	kernel32 = windows.NewLazySystemDLL("kernel32.dll")

	procGetLastInputInfo = user32.NewProc("GetLastInputInfo")
	procGetWindowTextW   = user32.NewProc("GetWindowTextW")
	procGetTickCount64   = kernel32.NewProc("GetTickCount64")
)

type lastInputInfo struct {
	cbSize uint32
	dwTime uint32
}

// Detector implements window.Detector with the Win32 API
type Detector struct{}

// NewDetector creates a new Win32 detector
func NewDetector() *Detector {
	return &Detector{}
}

// IsAvailable checks that user32 can be loaded
func (d *Detector) IsAvailable() bool {
	return user32.Load() == nil
}

// GetDisplayServer returns "windows"
func (d *Detector) GetDisplayServer() string {
	return "windows"
}

// GetFocusedWindow returns the foreground window and its owning process.
// No foreground window (desktop switch, secure desktop) yields nil.
func (d *Detector) GetFocusedWindow(ctx context.Context) (*window.WindowInfo, error) {
	hwnd := windows.GetForegroundWindow()
	if hwnd == 0 {
		return nil, nil
	}

	var pid uint32
	if _, err := windows.GetWindowThreadProcessId(hwnd, &pid); err != nil {
		return nil, fmt.Errorf("GetWindowThreadProcessId failed: %w", err)
	}
	if pid == 0 {
		return nil, nil
	}

	exe, err := processImageName(pid)
	if err != nil {
		// Exited between the two calls.
		if err == windows.ERROR_INVALID_PARAMETER {
			return nil, nil
		}
		return nil, err
	}

	name := filepath.Base(exe)
	return &window.WindowInfo{
		AppName:       strings.TrimSuffix(name, filepath.Ext(name)),
		WindowTitle:   windowText(hwnd),
		ProcessName:   name,
		PID:           int(pid),
		DisplayServer: "windows",
	}, nil
}

func processImageName(pid uint32) (string, error) {
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, pid)
	if err != nil {
		return "", err
	}
	defer windows.CloseHandle(h)

	buf := make([]uint16, windows.MAX_LONG_PATH)
	size := uint32(len(buf))
	if err := windows.QueryFullProcessImageName(h, 0, &buf[0], &size); err != nil {
		return "", fmt.Errorf("QueryFullProcessImageName failed: %w", err)
	}
	return windows.UTF16ToString(buf[:size]), nil
}

func windowText(hwnd windows.HWND) string {
	buf := make([]uint16, 512)
	n, _, _ := procGetWindowTextW.Call(uintptr(hwnd), uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
	if n == 0 {
		return ""
	}
	return windows.UTF16ToString(buf[:n])
}

// GetIdleInfo returns the time since the last input event. The lock screen
// runs as LockApp.exe in the foreground.
func (d *Detector) GetIdleInfo(ctx context.Context) (*window.IdleInfo, error) {
	var info lastInputInfo
	info.cbSize = uint32(unsafe.Sizeof(info))

	ret, _, err := procGetLastInputInfo.Call(uintptr(unsafe.Pointer(&info)))
	if ret == 0 {
		return nil, fmt.Errorf("GetLastInputInfo failed: %w", err)
	}
	tick, _, _ := procGetTickCount64.Call()

	return &window.IdleInfo{
		IdleTime: IdleSince(uint64(tick), info.dwTime),
		IsLocked: d.isLocked(),
	}, nil
}

func (d *Detector) isLocked() bool {
	hwnd := windows.GetForegroundWindow()
	if hwnd == 0 {
		return false
	}
	var pid uint32
	if _, err := windows.GetWindowThreadProcessId(hwnd, &pid); err != nil || pid == 0 {
		return false
	}
	exe, err := processImageName(pid)
	if err != nil {
		return false
	}
	return strings.EqualFold(filepath.Base(exe), "LockApp.exe")
}

// Close cleans up resources
func (d *Detector) Close() error {
	return nil
}

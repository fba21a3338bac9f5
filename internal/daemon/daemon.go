package daemon

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/coreos/go-systemd/v22/activation"
	sd "github.com/coreos/go-systemd/v22/daemon"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

var (
	ErrAlreadyRunning = errors.New("daemon is already running")
	ErrNotRunning     = errors.New("daemon is not running")
)

type Daemon struct {
	pidFile string
	logger  zerolog.Logger
}

func New(pidFile string, logger zerolog.Logger) *Daemon {
	return &Daemon{pidFile: pidFile, logger: logger.With().Str("component", "daemon").Logger()}
}

func (d *Daemon) PIDFile() string {
	return d.pidFile
}

func (d *Daemon) WritePID() error {
	if err := os.MkdirAll(filepath.Dir(d.pidFile), 0o755); err != nil {
		return errors.Wrap(err, "failed to create PID directory")
	}
	pid := os.Getpid()
	return os.WriteFile(d.pidFile, fmt.Appendf([]byte{}, "%d\n", pid), 0o644)
}

func (d *Daemon) ReadPID() (int, error) {
	data, err := os.ReadFile(d.pidFile)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, errors.Wrap(err, "failed to read PID file")
	}

	pid, err := strconv.Atoi(string(bytes.TrimSpace(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid PID in file %s", d.pidFile)
	}

	return pid, nil
}

func (d *Daemon) RemovePID() error {
	if err := os.Remove(d.pidFile); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to remove PID file")
	}
	return nil
}

// IsRunning reports whether the PID file names a live process. A stale or
// unreadable PID file is removed.
func (d *Daemon) IsRunning() (bool, int, error) {
	pid, err := d.ReadPID()
	if err != nil {
		d.logger.Warn().Err(err).Msg("Removing unreadable PID file")
		return false, 0, d.RemovePID()
	}

	if pid == 0 {
		return false, 0, nil
	}

	if !processAlive(pid) {
		d.logger.Debug().Int("pid", pid).Msg("Removing stale PID file")
		return false, 0, d.RemovePID()
	}

	return true, pid, nil
}

// Acquire records this process as the running daemon
func (d *Daemon) Acquire() error {
	running, pid, err := d.IsRunning()
	if err != nil {
		return err
	}
	if running && pid != os.Getpid() {
		return errors.Wrapf(ErrAlreadyRunning, "pid %d", pid)
	}
	return d.WritePID()
}

// Release removes the PID file if it still names this process
func (d *Daemon) Release() error {
	pid, err := d.ReadPID()
	if err != nil || pid != os.Getpid() {
		return nil
	}
	return d.RemovePID()
}

// Stop asks the running daemon to terminate and waits up to timeout for
// it to exit.
func (d *Daemon) Stop(timeout time.Duration) error {
	running, pid, err := d.IsRunning()
	if err != nil {
		return errors.Wrap(err, "error checking daemon status")
	}

	if !running {
		return ErrNotRunning
	}

	if err := terminate(pid); err != nil {
		return errors.Wrap(err, "failed to signal daemon")
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			return d.RemovePID()
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("daemon (pid %d) did not exit within %s", pid, timeout)
}

// Ready tells the service manager startup is complete. Outside systemd this
// is a no-op.
func (d *Daemon) Ready() {
	d.notify(sd.SdNotifyReady)
}

func (d *Daemon) Stopping() {
	d.notify(sd.SdNotifyStopping)
}

func (d *Daemon) notify(state string) {
	sent, err := sd.SdNotify(false, state)
	if err != nil {
		d.logger.Warn().Err(err).Str("state", state).Msg("sd_notify failed")
		return
	}
	if sent {
		d.logger.Debug().Str("state", state).Msg("Notified service manager")
	}
}

// Watchdog pings the systemd watchdog at half its interval until ctx is
// done. It returns at once when no watchdog is configured.
func (d *Daemon) Watchdog(ctx context.Context) error {
	interval, err := sd.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return nil
	}

	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.notify(sd.SdNotifyWatchdog)
		}
	}
}

// Listener returns the first socket passed by systemd socket activation,
// or nil when the process was not socket activated.
func Listener() (net.Listener, error) {
	listeners, err := activation.Listeners()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get systemd listeners")
	}
	for _, ln := range listeners {
		if ln != nil {
			return ln, nil
		}
	}
	return nil, nil
}

package daemon

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDaemon(t *testing.T) *Daemon {
	return New(filepath.Join(t.TempDir(), "run", "tokikanri.pid"), zerolog.Nop())
}

func TestAcquireRelease(t *testing.T) {
	d := newTestDaemon(t)

	running, _, err := d.IsRunning()
	require.NoError(t, err)
	assert.False(t, running)

	require.NoError(t, d.Acquire())
	running, pid, err := d.IsRunning()
	require.NoError(t, err)
	assert.True(t, running)
	assert.Equal(t, os.Getpid(), pid)

	// acquiring twice from the same process is fine
	require.NoError(t, d.Acquire())

	require.NoError(t, d.Release())
	_, err = os.Stat(d.PIDFile())
	assert.True(t, os.IsNotExist(err))
}

func TestAcquireWhileAnotherRuns(t *testing.T) {
	d := newTestDaemon(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(d.PIDFile()), 0o755))
	require.NoError(t, os.WriteFile(d.PIDFile(), []byte(strconv.Itoa(os.Getppid())), 0o644))

	assert.ErrorIs(t, d.Acquire(), ErrAlreadyRunning)

	// Release leaves a foreign PID file alone
	require.NoError(t, d.Release())
	_, err := os.Stat(d.PIDFile())
	assert.NoError(t, err)
}

func TestStalePIDFile(t *testing.T) {
	tests := map[string]string{
		"dead process": "999999999",
		"garbage":      "not-a-pid",
		"negative":     "-4",
	}

	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			d := newTestDaemon(t)
			require.NoError(t, os.MkdirAll(filepath.Dir(d.PIDFile()), 0o755))
			require.NoError(t, os.WriteFile(d.PIDFile(), []byte(content), 0o644))

			running, _, err := d.IsRunning()
			require.NoError(t, err)
			assert.False(t, running)
			_, err = os.Stat(d.PIDFile())
			assert.True(t, os.IsNotExist(err))

			require.NoError(t, d.Acquire())
		})
	}
}

func TestStopWithoutDaemon(t *testing.T) {
	d := newTestDaemon(t)
	assert.ErrorIs(t, d.Stop(0), ErrNotRunning)
}

func TestNotifyOutsideSystemd(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	t.Setenv("WATCHDOG_USEC", "")
	d := newTestDaemon(t)
	d.Ready()
	d.Stopping()
	assert.NoError(t, d.Watchdog(t.Context()))

	t.Setenv("LISTEN_PID", "")
	ln, err := Listener()
	assert.NoError(t, err)
	assert.Nil(t, ln)
}

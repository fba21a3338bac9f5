package win32

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/tokikanri/tokikanri/pkg/integrations/common"
	"github.com/tokikanri/tokikanri/pkg/window"
)

// sessionScript lists the media sessions registered with the system media
// transport controls as "<app user model id>\t<status>" lines.
const sessionScript = `
$ErrorActionPreference = 'Stop'
Add-Type -AssemblyName System.Runtime.WindowsRuntime
$asTask = ([System.WindowsRuntimeSystemExtensions].GetMethods() | Where-Object {
  $_.Name -eq 'AsTask' -and $_.GetParameters().Count -eq 1 -and
  $_.GetParameters()[0].ParameterType.Name -eq 'IAsyncOperation` + "`" + `1' })[0]
$null = [Windows.Media.Control.GlobalSystemMediaTransportControlsSessionManager,Windows.Media.Control,ContentType=WindowsRuntime]
$mgrType = [Windows.Media.Control.GlobalSystemMediaTransportControlsSessionManager]
$task = $asTask.MakeGenericMethod($mgrType).Invoke($null, @($mgrType::RequestAsync()))
$null = $task.Wait(-1)
foreach ($s in $task.Result.GetSessions()) {
  "{0}` + "`" + `t{1}" -f $s.SourceAppUserModelId, $s.GetPlaybackInfo().PlaybackStatus
}
`

// Querier implements common.PlaybackQuerier with the Windows media
// session manager, driven through PowerShell.
type Querier struct {
	shell string
}

// NewQuerier returns a Querier using powershell.exe
func NewQuerier() *Querier {
	return &Querier{shell: "powershell.exe"}
}

// QueryPlayback merges the state of every session whose app id maps to id
func (q *Querier) QueryPlayback(ctx context.Context, id window.Identity) (common.PlaybackState, error) {
	cmd := exec.CommandContext(ctx, q.shell, "-NoProfile", "-NonInteractive", "-Command", sessionScript)
	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return common.PlaybackUnknown, ctx.Err()
		}
		return common.PlaybackUnknown, fmt.Errorf("failed to query media sessions: %w", err)
	}

	var states []common.PlaybackState
	for _, s := range ParseSessions(out) {
		if s.Identity == id {
			states = append(states, s.State)
		}
	}
	if len(states) == 0 {
		return common.PlaybackStopped, nil
	}
	return common.Merge(states...), nil
}

// Close is a no-op
func (q *Querier) Close() error {
	return nil
}

// Session is one media session reported by the OS
type Session struct {
	Identity window.Identity
	State    common.PlaybackState
}

// ParseSessions parses the script output. Malformed lines are skipped.
func ParseSessions(out []byte) []Session {
	var sessions []Session
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		appID, status, ok := strings.Cut(strings.TrimSpace(sc.Text()), "\t")
		if !ok {
			continue
		}
		id := AppIdentity(appID)
		if id.IsZero() {
			continue
		}
		sessions = append(sessions, Session{Identity: id, State: common.ParsePlaybackState(status)})
	}
	return sessions
}

// AppIdentity maps an app user model id to a process identity. Desktop apps
// report their executable ("Spotify.exe", a full path), packaged apps
// report "<package family>!<app>".
func AppIdentity(appID string) window.Identity {
	appID = strings.TrimSpace(appID)
	if _, app, ok := strings.Cut(appID, "!"); ok {
		appID = app
	}
	return window.Normalize(appID)
}

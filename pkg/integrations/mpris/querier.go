// Package mpris reports media playback state on Linux desktops through the
// MPRIS D-Bus interface that players register on the session bus.
package mpris

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/tokikanri/tokikanri/pkg/integrations/common"
	"github.com/tokikanri/tokikanri/pkg/window"
)

const (
	busPrefix   = "org.mpris.MediaPlayer2."
	playerPath  = dbus.ObjectPath("/org/mpris/MediaPlayer2")
	playerIface = "org.mpris.MediaPlayer2.Player"
)

// Querier implements common.PlaybackQuerier over MPRIS
type Querier struct {
	mu   sync.Mutex
	conn *dbus.Conn
}

// NewQuerier returns a Querier. The session bus is dialed on first use.
func NewQuerier() *Querier {
	return &Querier{}
}

func (q *Querier) bus() (*dbus.Conn, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.conn == nil || !q.conn.Connected() {
		conn, err := dbus.ConnectSessionBus()
		if err != nil {
			return nil, fmt.Errorf("failed to connect to session bus: %w", err)
		}
		q.conn = conn
	}
	return q.conn, nil
}

// QueryPlayback merges the PlaybackStatus of every MPRIS player that
// belongs to id. No matching player means stopped.
func (q *Querier) QueryPlayback(ctx context.Context, id window.Identity) (common.PlaybackState, error) {
	conn, err := q.bus()
	if err != nil {
		return common.PlaybackUnknown, err
	}

	var names []string
	if err := conn.BusObject().CallWithContext(ctx, "org.freedesktop.DBus.ListNames", 0).Store(&names); err != nil {
		return common.PlaybackUnknown, fmt.Errorf("failed to list bus names: %w", err)
	}

	var states []common.PlaybackState
	for _, name := range PlayersFor(names, id) {
		var status dbus.Variant
		err := conn.Object(name, playerPath).
			CallWithContext(ctx, "org.freedesktop.DBus.Properties.Get", 0, playerIface, "PlaybackStatus").
			Store(&status)
		if err != nil {
			// The player may have quit between ListNames and now.
			if ctx.Err() != nil {
				return common.PlaybackUnknown, ctx.Err()
			}
			continue
		}
		s, _ := status.Value().(string)
		states = append(states, common.ParsePlaybackState(s))
	}

	if len(states) == 0 {
		return common.PlaybackStopped, nil
	}
	return common.Merge(states...), nil
}

// PlayersFor picks the MPRIS bus names owned by id. Players register as
// org.mpris.MediaPlayer2.<name>[.instance<pid>], so the first segment after
// the prefix is compared against the normalized identity.
func PlayersFor(names []string, id window.Identity) []string {
	var out []string
	for _, name := range names {
		rest, ok := strings.CutPrefix(name, busPrefix)
		if !ok || rest == "" {
			continue
		}
		player, _, _ := strings.Cut(rest, ".")
		if window.Normalize(player) == id {
			out = append(out, name)
		}
	}
	return out
}

// Close drops the bus connection
func (q *Querier) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.conn == nil {
		return nil
	}
	err := q.conn.Close()
	q.conn = nil
	return err
}

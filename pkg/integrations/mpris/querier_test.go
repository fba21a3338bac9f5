package mpris

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tokikanri/tokikanri/pkg/integrations/common"
	"github.com/tokikanri/tokikanri/pkg/window"
)

func TestPlayersFor(t *testing.T) {
	names := []string{
		"org.freedesktop.DBus",
		"org.mpris.MediaPlayer2.spotify",
		"org.mpris.MediaPlayer2.vlc.instance4242",
		"org.mpris.MediaPlayer2.VLC",
		"org.mpris.MediaPlayer2.mpv",
		"org.mpris.MediaPlayer2.",
		":1.42",
	}

	assert.Equal(t, []string{"org.mpris.MediaPlayer2.spotify"}, PlayersFor(names, "spotify"))
	assert.Equal(t, []string{
		"org.mpris.MediaPlayer2.vlc.instance4242",
		"org.mpris.MediaPlayer2.VLC",
	}, PlayersFor(names, window.Normalize("vlc.exe")))
	assert.Empty(t, PlayersFor(names, "musicbee"))
}

func TestQueryPlaybackLive(t *testing.T) {
	if os.Getenv("DBUS_SESSION_BUS_ADDRESS") == "" {
		t.Skip("no session bus")
	}
	q := NewQuerier()
	defer q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	state, err := q.QueryPlayback(ctx, "no-such-player-xyz")
	if err != nil {
		t.Skipf("session bus unusable: %v", err)
	}
	assert.Equal(t, common.PlaybackStopped, state)
}

func TestCloseWithoutConnection(t *testing.T) {
	assert.NoError(t, NewQuerier().Close())
}

func TestQuerierInterface(t *testing.T) {
	var _ common.PlaybackQuerier = (*Querier)(nil)
}

package win32

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tokikanri/tokikanri/pkg/integrations/common"
	"github.com/tokikanri/tokikanri/pkg/window"
)

func TestAppIdentity(t *testing.T) {
	tests := []struct {
		appID string
		want  window.Identity
	}{
		{"Spotify.exe", "spotify"},
		{"SpotifyAB.SpotifyMusic_zpdnekdrzrea0!Spotify", "spotify"},
		{`C:\Program Files\VideoLAN\VLC\vlc.exe`, "vlc"},
		{"MusicBee.exe", "musicbee"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.appID, func(t *testing.T) {
			assert.Equal(t, tt.want, AppIdentity(tt.appID))
		})
	}
}

func TestParseSessions(t *testing.T) {
	out := []byte("Spotify.exe\tPlaying\r\nvlc.exe\tPaused\r\ngarbage line\r\n\tPlaying\r\nchrome.exe\tStopped\r\n")

	got := ParseSessions(out)
	assert.Equal(t, []Session{
		{Identity: "spotify", State: common.PlaybackPlaying},
		{Identity: "vlc", State: common.PlaybackPaused},
		{Identity: "chrome", State: common.PlaybackStopped},
	}, got)
}

func TestIdleSince(t *testing.T) {
	assert.Equal(t, 1500*time.Millisecond, IdleSince(10_000, 8_500))

	// 64-bit tick past the 32-bit wrap, last input just before it.
	now := uint64(1<<32) + 200
	assert.Equal(t, 300*time.Millisecond, IdleSince(now, 1<<32-100))
}

package tracker

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokikanri/tokikanri/internal/config"
	"github.com/tokikanri/tokikanri/internal/storage"
	"github.com/tokikanri/tokikanri/pkg/integrations/common"
	"github.com/tokikanri/tokikanri/pkg/window"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func defaultSettings() Settings {
	return Settings{
		IdleThreshold: 60 * time.Second,
		MediaIdleGate: true,
		Media:         []window.Identity{"vlc", "spotify"},
		Staleness:     5 * time.Second,
		AutoTrack:     true,
	}
}

func mediaSettings() Settings {
	s := defaultSettings()
	s.MediaEnabled = true
	s.RequirePlayback = true
	return s
}

type harness struct {
	t       *testing.T
	engine  *Engine
	clock   *fakeClock
	flushes []Flush
}

func newHarness(t *testing.T, s Settings) *harness {
	h := &harness{t: t, clock: newFakeClock()}
	h.engine = NewEngine(s, h.clock, 16, zerolog.Nop())
	h.engine.OnFlush(func(f Flush) { h.flushes = append(h.flushes, f) })
	return h
}

// tick applies a sample at the current time and then advances the clock
// by one second.
func (h *harness) tick(fg string, idleFor time.Duration) {
	h.engine.Apply(Tick{
		At:         h.clock.Now(),
		Foreground: window.Identity(fg),
		Idle:       idleFor > h.engine.Settings().IdleThreshold,
		IdleFor:    idleFor,
		IdleOK:     true,
	})
	h.clock.Advance(time.Second)
}

func (h *harness) playback(id string, st common.PlaybackState) {
	h.engine.Apply(PlaybackResult{Identity: window.Identity(id), State: st, OK: true, At: h.clock.Now()})
}

func (h *harness) total(id string) time.Duration {
	for _, v := range h.engine.Snapshot() {
		if v.Identity == window.Identity(id) {
			return v.Accumulated
		}
	}
	h.t.Fatalf("%s is not tracked", id)
	return 0
}

func TestNotepadIdleTrim(t *testing.T) {
	h := newHarness(t, defaultSettings())

	// Input stops at t=10; idleness exceeds the threshold at t=71.
	for i := 0; i <= 71; i++ {
		idle := time.Duration(0)
		if i > 10 {
			idle = time.Duration(i-10) * time.Second
		}
		h.tick("notepad.exe", idle)
	}

	assert.Equal(t, 10*time.Second, h.total("notepad"))
	st := h.engine.Status()
	assert.Equal(t, Suspended, st.State)
	assert.Equal(t, ReasonIdle, st.Reason)

	// Staying idle adds nothing.
	for i := 72; i < 90; i++ {
		h.tick("notepad.exe", time.Duration(i-10)*time.Second)
	}
	assert.Equal(t, 10*time.Second, h.total("notepad"))

	// Input resumes.
	h.tick("notepad.exe", 0)
	h.tick("notepad.exe", time.Second)
	assert.Equal(t, 11*time.Second, h.total("notepad"))
}

func TestSpotifyPlaybackGate(t *testing.T) {
	h := newHarness(t, mediaSettings())

	states := []common.PlaybackState{
		common.PlaybackPlaying, common.PlaybackPlaying, common.PlaybackPlaying, common.PlaybackPlaying, common.PlaybackPlaying,
		common.PlaybackPaused, common.PlaybackPaused, common.PlaybackPaused,
		common.PlaybackPlaying, common.PlaybackPlaying,
	}
	for _, st := range states {
		h.playback("spotify", st)
		h.tick("Spotify.exe", 0)
	}

	f, ok := h.engine.FinalFlush()
	require.True(t, ok)
	assert.Equal(t, 7*time.Second, f.Duration)
	assert.True(t, f.IsMedia)
	assert.Equal(t, 7*time.Second, h.total("spotify"))
}

func TestSwitchBackAndForthLosesNoTime(t *testing.T) {
	h := newHarness(t, defaultSettings())

	h.tick("a", 0)
	h.tick("b", 0)
	h.tick("a", 0)
	h.tick("a", 0) // t=3

	require.Len(t, h.flushes, 2)
	assert.Equal(t, window.Identity("a"), h.flushes[0].Identity)
	assert.Equal(t, time.Second, h.flushes[0].Duration)
	assert.Equal(t, window.Identity("b"), h.flushes[1].Identity)
	assert.Equal(t, time.Second, h.flushes[1].Duration)

	assert.Equal(t, 3*time.Second, h.total("a")+h.total("b"))
}

func TestStalePlaybackSuspends(t *testing.T) {
	h := newHarness(t, mediaSettings())

	h.playback("vlc", common.PlaybackPlaying)
	for i := 0; i <= 7; i++ {
		h.tick("vlc", 0)
	}

	// Playing at t=0 is trusted until t=5; at t=6 it is Unknown.
	assert.Equal(t, 6*time.Second, h.total("vlc"))
	st := h.engine.Status()
	assert.Equal(t, Suspended, st.State)
	assert.Equal(t, ReasonPlayback, st.Reason)
	assert.Equal(t, common.PlaybackUnknown, st.Playback)
}

func TestUnknownPlaybackNeverAccrues(t *testing.T) {
	h := newHarness(t, mediaSettings())

	for i := 0; i < 5; i++ {
		h.engine.Apply(PlaybackResult{Identity: "vlc", State: common.PlaybackUnknown, OK: false, At: h.clock.Now()})
		h.tick("vlc", 0)
	}
	assert.Equal(t, time.Duration(0), h.total("vlc"))
}

func TestIdleFailureNeverSuspends(t *testing.T) {
	h := newHarness(t, defaultSettings())

	for i := 0; i <= 5; i++ {
		h.engine.Apply(Tick{At: h.clock.Now(), Foreground: "code", IdleOK: false})
		h.clock.Advance(time.Second)
	}
	assert.Equal(t, 5*time.Second, h.total("code"))
	assert.Equal(t, Accruing, h.engine.Status().State)
}

func TestIdentityNormalization(t *testing.T) {
	h := newHarness(t, defaultSettings())

	h.tick("VLC.exe", 0)
	h.tick("vlc", 0)
	h.tick(" Vlc.EXE ", 0)

	assert.Empty(t, h.flushes)
	assert.Len(t, h.engine.Snapshot(), 1)
	assert.Equal(t, 2*time.Second, h.total("vlc"))
}

func TestForegroundFailureKeepsSession(t *testing.T) {
	h := newHarness(t, defaultSettings())

	h.tick("code", 0)
	h.engine.Apply(Tick{At: h.clock.Now(), ForegroundFailed: true, IdleOK: true})
	h.clock.Advance(time.Second)
	h.tick("code", 0)

	assert.Empty(t, h.flushes)
	assert.Equal(t, 2*time.Second, h.total("code"))
}

func TestNoForegroundEndsSession(t *testing.T) {
	h := newHarness(t, defaultSettings())

	h.tick("code", 0)
	h.tick("", 0)
	h.tick("", 0)
	h.tick("code", 0)
	h.tick("code", 0)

	require.Len(t, h.flushes, 1)
	assert.Equal(t, 2*time.Second, h.total("code"))
	assert.Equal(t, window.Identity("code"), h.engine.Status().Active)
}

func TestAutoTrackAndLimit(t *testing.T) {
	s := defaultSettings()
	s.AutoTrack = false
	h := newHarness(t, s)

	h.tick("code", 0)
	h.tick("code", 0)
	assert.Empty(t, h.engine.Snapshot())
	assert.True(t, h.engine.Status().Active.IsZero())

	_, err := h.engine.Add("Code.exe", "VS Code")
	require.NoError(t, err)
	h.tick("code", 0)
	h.tick("code", 0)
	assert.Equal(t, time.Second, h.total("code"))

	s = defaultSettings()
	s.MaxProcesses = 1
	h = newHarness(t, s)
	h.tick("a", 0)
	h.tick("b", 0)
	h.tick("b", 0)
	assert.Len(t, h.engine.Snapshot(), 1)

	// Explicit adds are not limited.
	_, err = h.engine.Add("b", "")
	require.NoError(t, err)
	assert.Len(t, h.engine.Snapshot(), 2)
}

func TestMediaModeDisabled(t *testing.T) {
	s := defaultSettings()
	s.RequirePlayback = true
	h := newHarness(t, s)

	h.tick("spotify", 0)
	h.tick("spotify", 0)
	h.tick("spotify", 0)

	assert.Equal(t, 2*time.Second, h.total("spotify"))
	assert.False(t, h.engine.NeedsPlayback("spotify"))
}

func TestMediaIdleGate(t *testing.T) {
	for _, gate := range []bool{true, false} {
		s := mediaSettings()
		s.MediaIdleGate = gate
		h := newHarness(t, s)

		for i := 0; i < 4; i++ {
			h.playback("vlc", common.PlaybackPlaying)
			h.tick("vlc", 2*time.Minute)
		}
		if gate {
			assert.Equal(t, time.Duration(0), h.total("vlc"), "idle gate on")
		} else {
			assert.Equal(t, 3*time.Second, h.total("vlc"), "idle gate off")
		}
	}
}

func TestSuspendHook(t *testing.T) {
	h := newHarness(t, defaultSettings())
	suspends := 0
	h.engine.OnSuspend(func() { suspends++ })

	h.tick("code", 0)
	h.tick("code", 2*time.Minute)
	h.tick("code", 2*time.Minute+time.Second)
	assert.Equal(t, 1, suspends)

	h.tick("code", 0)
	h.tick("code", 2*time.Minute)
	assert.Equal(t, 2, suspends)
}

func TestClockGoingBackwardsNeverNegative(t *testing.T) {
	h := newHarness(t, defaultSettings())

	h.tick("code", 0)
	h.clock.Advance(-10 * time.Second)
	h.tick("code", 0)
	h.tick("other", 0)

	for _, v := range h.engine.Snapshot() {
		assert.GreaterOrEqual(t, v.Accumulated, time.Duration(0))
	}
	require.Len(t, h.flushes, 1)
	assert.False(t, h.flushes[0].EndedAt.Before(h.flushes[0].StartedAt))
}

func TestCommands(t *testing.T) {
	h := newHarness(t, defaultSettings())

	_, err := h.engine.Add("   ", "")
	assert.ErrorIs(t, err, config.ErrEmptyIdentity)

	id, err := h.engine.Add("MPV.exe", "mpv player")
	require.NoError(t, err)
	assert.Equal(t, window.Identity("mpv"), id)
	_, err = h.engine.Add("mpv", "")
	assert.ErrorIs(t, err, ErrAlreadyTracked)

	assert.ErrorIs(t, h.engine.Rename("nope", "x"), ErrUnknownProcess)
	require.NoError(t, h.engine.Rename("mpv.exe", "MPV"))
	assert.Equal(t, "MPV", h.engine.Snapshot()[0].DisplayName)

	// Reset restarts the running session.
	for i := 0; i < 4; i++ {
		h.tick("code", 0)
	}
	require.NoError(t, h.engine.Reset("code"))
	assert.Equal(t, time.Duration(0), h.total("code"))
	h.tick("code", 0)
	assert.Equal(t, time.Second, h.total("code"))

	// Remove discards the running session without a flush.
	require.NoError(t, h.engine.Remove("code"))
	assert.Empty(t, h.flushes)
	assert.True(t, h.engine.Status().Active.IsZero())
	assert.ErrorIs(t, h.engine.Remove("code"), ErrUnknownProcess)
	assert.ErrorIs(t, h.engine.Reset("code"), ErrUnknownProcess)

	h.engine.ResetAll()
	for _, v := range h.engine.Snapshot() {
		assert.Zero(t, v.Accumulated)
	}

	h.engine.RemoveAll()
	assert.Empty(t, h.engine.Snapshot())
}

func TestLoadMergeRecords(t *testing.T) {
	h := newHarness(t, defaultSettings())

	n := h.engine.Load([]storage.Record{
		{Identity: "VLC.exe", AccumulatedMS: 1_000},
		{Identity: "vlc", AccumulatedMS: 500, DisplayName: "VLC"},
		{Identity: "  ", AccumulatedMS: 9},
		{Identity: "code", AccumulatedMS: 2_000},
	})
	assert.Equal(t, 2, n)
	assert.Equal(t, 1500*time.Millisecond, h.total("vlc"))

	h.engine.Merge([]storage.Record{{Identity: "code", AccumulatedMS: 3_000}, {Identity: "mpv", AccumulatedMS: 10}})
	assert.Equal(t, 5*time.Second, h.total("code"))

	h.tick("code", 0)
	h.tick("code", 0)

	records := h.engine.Records()
	require.Len(t, records, 3)
	assert.Equal(t, storage.Record{Identity: "code", AccumulatedMS: 6_000}, records[0], "includes the unflushed session")
	assert.Equal(t, storage.Record{Identity: "vlc", AccumulatedMS: 1_500, DisplayName: "VLC", IsMedia: true}, records[1])
}

func TestUpdateSettingsRegates(t *testing.T) {
	h := newHarness(t, defaultSettings())

	h.tick("spotify", 0)
	h.tick("spotify", 0)
	assert.Equal(t, time.Second, h.total("spotify"))

	h.engine.UpdateSettings(mediaSettings())
	assert.True(t, h.engine.NeedsPlayback("spotify"))
	h.tick("spotify", 0)
	h.tick("spotify", 0)
	assert.Equal(t, 2*time.Second, h.total("spotify"), "credited once more, then suspended")
}

func TestOutOfOrderPlaybackResults(t *testing.T) {
	h := newHarness(t, mediaSettings())
	now := h.clock.Now()

	h.engine.Apply(PlaybackResult{Identity: "vlc", State: common.PlaybackPlaying, OK: true, At: now})
	h.engine.Apply(PlaybackResult{Identity: "vlc", State: common.PlaybackPaused, OK: true, At: now.Add(-time.Second)})

	assert.Equal(t, common.PlaybackPlaying, h.engine.Playback("vlc"))
}

func TestPostAndRun(t *testing.T) {
	clock := newFakeClock()
	e := NewEngine(defaultSettings(), clock, 2, zerolog.Nop())

	assert.True(t, e.Post(Tick{At: clock.Now(), Foreground: "a", IdleOK: true}))
	assert.True(t, e.Post(Tick{At: clock.Now().Add(time.Second), Foreground: "a", IdleOK: true}))
	assert.False(t, e.Post(Tick{}), "queue full")
	assert.Equal(t, int64(1), e.Dropped())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	assert.Eventually(t, func() bool {
		st := e.Status()
		return st.Active == "a" && st.SessionAccrued == time.Second
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestDrainAppliesQueuedEvents(t *testing.T) {
	h := newHarness(t, mediaSettings())
	now := h.clock.Now()

	assert.Equal(t, 0, h.engine.Drain())
	require.True(t, h.engine.Post(PlaybackResult{Identity: "VLC.exe", State: common.PlaybackPlaying, OK: true, At: now}))
	require.True(t, h.engine.Post(PlaybackResult{Identity: "mpv", State: common.PlaybackPaused, OK: true, At: now}))

	assert.Equal(t, 2, h.engine.Drain())
	assert.Equal(t, common.PlaybackPlaying, h.engine.Playback("vlc"))
	assert.Equal(t, common.PlaybackPaused, h.engine.Playback("mpv"))
	assert.Equal(t, 0, h.engine.Drain())
}

// Accrued time equals the elapsed time of every interval that began in an
// accruing state, across arbitrary focus switches and idle periods.
func TestAccrualConservation(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	h := newHarness(t, defaultSettings())
	ids := []string{"a", "b", "c", ""}

	var expected time.Duration
	prevAccruing := false
	for i := 0; i < 500; i++ {
		fg := ids[rng.Intn(len(ids))]
		idle := rng.Intn(4) == 0
		if prevAccruing {
			expected += time.Second
		}
		// IdleFor of zero keeps the trim out of the sum.
		h.engine.Apply(Tick{At: h.clock.Now(), Foreground: window.Identity(fg), Idle: idle, IdleOK: true})
		h.clock.Advance(time.Second)
		prevAccruing = fg != "" && !idle
	}

	var total time.Duration
	for _, v := range h.engine.Snapshot() {
		total += v.Accumulated
	}
	assert.Equal(t, expected, total)
}

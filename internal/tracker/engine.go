package tracker

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/tokikanri/tokikanri/internal/config"
	"github.com/tokikanri/tokikanri/internal/metrics"
	"github.com/tokikanri/tokikanri/internal/storage"
	"github.com/tokikanri/tokikanri/pkg/integrations/common"
	"github.com/tokikanri/tokikanri/pkg/window"
)

var (
	// ErrUnknownProcess is returned for commands on an identity that is not tracked
	ErrUnknownProcess = errors.New("process is not tracked")

	// ErrAlreadyTracked is returned when adding an identity twice
	ErrAlreadyTracked = errors.New("process is already tracked")
)

// State is the per-identity tracking state
type State int

const (
	Inactive State = iota
	Accruing
	Suspended
)

func (s State) String() string {
	switch s {
	case Accruing:
		return "accruing"
	case Suspended:
		return "suspended"
	default:
		return "inactive"
	}
}

// Reasons a session is suspended
const (
	ReasonIdle     = "idle"
	ReasonPlayback = "playback"
)

type process struct {
	displayName string
	accumulated time.Duration
}

// session is the focus session of the foreground identity. Time is credited
// per poll interval, according to the state decided at the start of the
// interval.
type session struct {
	identity window.Identity
	state    State
	reason   string
	started  time.Time
	lastTick time.Time
	accrued  time.Duration
	span     time.Duration // accrued since the session last entered Accruing
}

type playbackStatus struct {
	state common.PlaybackState
	at    time.Time
}

// ProcessView is one tracked process as shown to users
type ProcessView struct {
	Identity    window.Identity `json:"identity"`
	DisplayName string          `json:"display_name,omitempty"`
	Accumulated time.Duration   `json:"accumulated"`
	IsMedia     bool            `json:"is_media"`
	State       State           `json:"-"`
	Reason      string          `json:"reason,omitempty"`
}

// Status describes the active session
type Status struct {
	Active         window.Identity      `json:"active"`
	State          State                `json:"-"`
	Reason         string               `json:"reason,omitempty"`
	SessionStarted time.Time            `json:"session_started"`
	SessionAccrued time.Duration        `json:"session_accrued"`
	IsMedia        bool                 `json:"is_media"`
	Playback       common.PlaybackState `json:"-"`
	Tracked        int                  `json:"tracked"`
}

type outcome struct {
	flushes   []Flush
	suspended bool
}

// Engine is the tracking state machine. Events are applied one at a time by
// Run; commands and reads take the same lock, so every mutation is
// serialized and reads see a consistent snapshot.
type Engine struct {
	mu        sync.RWMutex
	clock     Clock
	settings  Settings
	media     map[window.Identity]struct{}
	processes map[window.Identity]*process
	active    *session
	playback  map[window.Identity]playbackStatus

	events  chan Event
	dropped atomic.Int64

	hookMu    sync.RWMutex
	onFlush   []func(Flush)
	onSuspend []func()

	logger zerolog.Logger
}

// NewEngine creates an engine with an event queue of queueSize entries
func NewEngine(settings Settings, clock Clock, queueSize int, logger zerolog.Logger) *Engine {
	if clock == nil {
		clock = SystemClock
	}
	if queueSize < 1 {
		queueSize = 64
	}
	return &Engine{
		clock:     clock,
		settings:  settings,
		media:     settings.mediaSet(),
		processes: make(map[window.Identity]*process),
		playback:  make(map[window.Identity]playbackStatus),
		events:    make(chan Event, queueSize),
		logger:    logger.With().Str("component", "engine").Logger(),
	}
}

// OnFlush registers a hook called after every flush, outside the lock
func (e *Engine) OnFlush(fn func(Flush)) {
	e.hookMu.Lock()
	e.onFlush = append(e.onFlush, fn)
	e.hookMu.Unlock()
}

// OnSuspend registers a hook called when the active session stops accruing
func (e *Engine) OnSuspend(fn func()) {
	e.hookMu.Lock()
	e.onSuspend = append(e.onSuspend, fn)
	e.hookMu.Unlock()
}

// Post queues ev without blocking. It returns false when the queue is full.
func (e *Engine) Post(ev Event) bool {
	select {
	case e.events <- ev:
		return true
	default:
		e.dropped.Add(1)
		metrics.DroppedEvents.Inc()
		return false
	}
}

// Dropped returns how many events were discarded by Post
func (e *Engine) Dropped() int64 {
	return e.dropped.Load()
}

// Run applies queued events until ctx is cancelled
func (e *Engine) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-e.events:
			e.Apply(ev)
		}
	}
}

// Drain applies the events already queued without waiting for more. It
// returns how many were applied.
func (e *Engine) Drain() int {
	n := 0
	for {
		select {
		case ev := <-e.events:
			e.Apply(ev)
			n++
		default:
			return n
		}
	}
}

// Apply applies one event synchronously
func (e *Engine) Apply(ev Event) {
	e.mu.Lock()
	out := ev.apply(e)
	e.mu.Unlock()

	e.runHooks(out)
}

func (e *Engine) runHooks(out outcome) {
	if len(out.flushes) == 0 && !out.suspended {
		return
	}
	e.hookMu.RLock()
	defer e.hookMu.RUnlock()
	for _, f := range out.flushes {
		for _, fn := range e.onFlush {
			fn(f)
		}
	}
	if out.suspended {
		for _, fn := range e.onSuspend {
			fn()
		}
	}
}

func (e *Engine) tick(t Tick) outcome {
	now := t.At
	metrics.PollTicks.Inc()

	if s := e.active; s != nil {
		if d := now.Sub(s.lastTick); d > 0 {
			if s.state == Accruing {
				s.accrued += d
				s.span += d
			}
			s.lastTick = now
		}
	}

	// Focus is decided before gating, so a switch always flushes the
	// outgoing identity with everything credited up to now.
	var flushes []Flush
	next := window.Identity("")
	if e.active != nil {
		next = e.active.identity
	}
	if !t.ForegroundFailed {
		next = window.Normalize(string(t.Foreground))
	}
	if e.active != nil && next != e.active.identity {
		flushes = append(flushes, e.flush(now))
	}
	if e.active == nil && !next.IsZero() && e.ensureTracked(next) {
		e.active = &session{identity: next, state: Inactive, started: now, lastTick: now}
		e.logger.Debug().Str("identity", next.String()).Msg("Session started")
	}

	out := outcome{flushes: flushes}
	if s := e.active; s != nil {
		out.suspended = e.evaluate(s, t, now)
	}
	e.updateStateGauge()
	return out
}

// evaluate gates the active session and reports whether it just stopped
// accruing.
func (e *Engine) evaluate(s *session, t Tick, now time.Time) bool {
	open, reason := e.gate(s.identity, t, now)
	prev := s.state

	if open {
		if prev != Accruing {
			s.span = 0
			if prev == Suspended {
				e.logger.Debug().Str("identity", s.identity.String()).Str("was", s.reason).Msg("Session resumed")
			}
		}
		s.state = Accruing
		s.reason = ""
		return false
	}

	if prev == Accruing {
		if reason == ReasonIdle {
			// The user stopped giving input IdleFor ago; that part of the
			// span was credited before the threshold was crossed.
			trim := t.IdleFor
			if trim > s.span {
				trim = s.span
			}
			if trim > 0 {
				s.accrued -= trim
			}
		}
		e.logger.Debug().Str("identity", s.identity.String()).Str("reason", reason).Dur("accrued", s.accrued).Msg("Session suspended")
	}
	s.state = Suspended
	s.reason = reason
	s.span = 0
	return prev == Accruing
}

func (e *Engine) gate(id window.Identity, t Tick, now time.Time) (bool, string) {
	media := e.gatedAsMedia(id)
	if !media || e.settings.MediaIdleGate {
		if t.IdleOK && t.Idle {
			return false, ReasonIdle
		}
	}
	if media && e.settings.RequirePlayback {
		if e.effectivePlayback(id, now) != common.PlaybackPlaying {
			return false, ReasonPlayback
		}
	}
	return true, ""
}

func (e *Engine) gatedAsMedia(id window.Identity) bool {
	if !e.settings.MediaEnabled {
		return false
	}
	_, ok := e.media[id]
	return ok
}

func (e *Engine) isMedia(id window.Identity) bool {
	_, ok := e.media[id]
	return ok
}

func (e *Engine) effectivePlayback(id window.Identity, now time.Time) common.PlaybackState {
	st, ok := e.playback[id]
	if !ok || now.Sub(st.at) > e.settings.Staleness {
		return common.PlaybackUnknown
	}
	return st.state
}

func (e *Engine) applyPlayback(p PlaybackResult) {
	if !p.OK {
		return
	}
	id := window.Normalize(string(p.Identity))
	if prev, ok := e.playback[id]; ok && p.At.Before(prev.at) {
		return
	}
	e.playback[id] = playbackStatus{state: p.State, at: p.At}
}

func (e *Engine) ensureTracked(id window.Identity) bool {
	if _, ok := e.processes[id]; ok {
		return true
	}
	if !e.settings.AutoTrack {
		return false
	}
	if max := e.settings.MaxProcesses; max > 0 && len(e.processes) >= max {
		e.logger.Debug().Str("identity", id.String()).Int("max", max).Msg("Process limit reached, not tracking")
		return false
	}
	e.processes[id] = &process{}
	e.logger.Info().Str("identity", id.String()).Msg("Tracking new process")
	return true
}

func (e *Engine) flush(now time.Time) Flush {
	s := e.active
	e.active = nil

	if p, ok := e.processes[s.identity]; ok {
		p.accumulated += s.accrued
	}
	end := now
	if end.Before(s.started) {
		end = s.started
	}
	f := Flush{
		Identity:  s.identity,
		Duration:  s.accrued,
		StartedAt: s.started,
		EndedAt:   end,
		IsMedia:   e.isMedia(s.identity),
	}

	metrics.Flushes.Inc()
	metrics.AccruedSeconds.WithLabelValues(s.identity.String()).Add(s.accrued.Seconds())
	e.logger.Debug().Str("identity", s.identity.String()).Dur("duration", s.accrued).Msg("Session flushed")
	return f
}

func (e *Engine) updateStateGauge() {
	state := Inactive
	if e.active != nil {
		state = e.active.state
	}
	for _, s := range []State{Inactive, Accruing, Suspended} {
		v := 0.0
		if s == state {
			v = 1
		}
		metrics.SessionState.WithLabelValues(s.String()).Set(v)
	}
}

// FinalFlush credits the active session up to now and folds it into its
// total. It is called on shutdown before the last save.
func (e *Engine) FinalFlush() (Flush, bool) {
	e.mu.Lock()
	s := e.active
	if s == nil {
		e.mu.Unlock()
		return Flush{}, false
	}
	now := e.clock.Now()
	if d := now.Sub(s.lastTick); d > 0 && s.state == Accruing {
		s.accrued += d
		s.span += d
		s.lastTick = now
	}
	f := e.flush(now)
	e.updateStateGauge()
	e.mu.Unlock()

	e.runHooks(outcome{flushes: []Flush{f}})
	return f, true
}

// NeedsPlayback reports whether id is only credited while playing
func (e *Engine) NeedsPlayback(id window.Identity) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.settings.RequirePlayback && e.gatedAsMedia(id)
}

// Playback returns the effective playback state of id
func (e *Engine) Playback(id window.Identity) common.PlaybackState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.effectivePlayback(id, e.clock.Now())
}

// Settings returns the current settings
func (e *Engine) Settings() Settings {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.settings
}

// UpdateSettings replaces the settings. The active session is re-gated on
// the next tick.
func (e *Engine) UpdateSettings(s Settings) {
	e.mu.Lock()
	e.settings = s
	e.media = s.mediaSet()
	e.mu.Unlock()
	e.logger.Info().
		Dur("idle_threshold", s.IdleThreshold).
		Bool("media_enabled", s.MediaEnabled).
		Bool("require_playback", s.RequirePlayback).
		Int("media_identities", len(s.Media)).
		Msg("Settings updated")
}

// Snapshot returns every tracked process, largest total first. Totals
// include the part of the active session that has not been flushed yet.
func (e *Engine) Snapshot() []ProcessView {
	e.mu.RLock()
	defer e.mu.RUnlock()

	views := make([]ProcessView, 0, len(e.processes))
	for id, p := range e.processes {
		v := ProcessView{
			Identity:    id,
			DisplayName: p.displayName,
			Accumulated: p.accumulated,
			IsMedia:     e.isMedia(id),
		}
		if s := e.active; s != nil && s.identity == id {
			v.Accumulated += s.accrued
			v.State = s.state
			v.Reason = s.reason
		}
		views = append(views, v)
	}
	sort.Slice(views, func(i, j int) bool {
		if views[i].Accumulated != views[j].Accumulated {
			return views[i].Accumulated > views[j].Accumulated
		}
		return views[i].Identity < views[j].Identity
	})
	return views
}

// Status describes the active session
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()

	st := Status{Tracked: len(e.processes), Playback: common.PlaybackUnknown}
	if s := e.active; s != nil {
		st.Active = s.identity
		st.State = s.state
		st.Reason = s.reason
		st.SessionStarted = s.started
		st.SessionAccrued = s.accrued
		st.IsMedia = e.isMedia(s.identity)
		if st.IsMedia {
			st.Playback = e.effectivePlayback(s.identity, e.clock.Now())
		}
	}
	return st
}

// Records returns the persistent form of every tracked process
func (e *Engine) Records() []storage.Record {
	views := e.Snapshot()
	records := make([]storage.Record, 0, len(views))
	for _, v := range views {
		records = append(records, storage.NewRecord(v.Identity.String(), v.Accumulated, v.DisplayName, v.IsMedia))
	}
	return records
}

// Load replaces all tracked processes with records. Identities are
// normalized and duplicates summed. Any active session is discarded.
func (e *Engine) Load(records []storage.Record) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.processes = make(map[window.Identity]*process, len(records))
	e.active = nil
	e.mergeLocked(records)
	return len(e.processes)
}

// Merge adds record durations to existing totals, creating missing entries
func (e *Engine) Merge(records []storage.Record) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mergeLocked(records)
}

func (e *Engine) mergeLocked(records []storage.Record) int {
	n := 0
	for _, r := range records {
		id := window.Normalize(r.Identity)
		if id.IsZero() {
			e.logger.Warn().Str("identity", r.Identity).Msg("Skipping record with empty identity")
			continue
		}
		p, ok := e.processes[id]
		if !ok {
			p = &process{}
			e.processes[id] = p
		}
		p.accumulated += r.Accumulated()
		if p.displayName == "" {
			p.displayName = r.DisplayName
		}
		n++
	}
	return n
}

// Add starts tracking an identity explicitly. Explicit adds ignore the
// auto-track limit.
func (e *Engine) Add(name, displayName string) (window.Identity, error) {
	id := window.Normalize(name)
	if id.IsZero() {
		return "", config.ErrEmptyIdentity
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.processes[id]; ok {
		return id, ErrAlreadyTracked
	}
	e.processes[id] = &process{displayName: displayName}
	e.logger.Info().Str("identity", id.String()).Msg("Process added")
	return id, nil
}

// Rename sets the display name of a tracked identity
func (e *Engine) Rename(name, displayName string) error {
	id := window.Normalize(name)

	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.processes[id]
	if !ok {
		return ErrUnknownProcess
	}
	p.displayName = displayName
	return nil
}

// Reset zeroes the total of one identity. A running session for it starts
// over.
func (e *Engine) Reset(name string) error {
	id := window.Normalize(name)

	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.processes[id]
	if !ok {
		return ErrUnknownProcess
	}
	p.accumulated = 0
	if s := e.active; s != nil && s.identity == id {
		e.restartLocked(s)
	}
	e.logger.Info().Str("identity", id.String()).Msg("Process reset")
	return nil
}

// ResetAll zeroes every total
func (e *Engine) ResetAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, p := range e.processes {
		p.accumulated = 0
	}
	if s := e.active; s != nil {
		e.restartLocked(s)
	}
	e.logger.Info().Int("processes", len(e.processes)).Msg("All processes reset")
}

func (e *Engine) restartLocked(s *session) {
	s.accrued = 0
	s.span = 0
	s.started = e.clock.Now()
}

// Remove stops tracking one identity. Its running session is discarded.
func (e *Engine) Remove(name string) error {
	id := window.Normalize(name)

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.processes[id]; !ok {
		return ErrUnknownProcess
	}
	delete(e.processes, id)
	delete(e.playback, id)
	if s := e.active; s != nil && s.identity == id {
		e.active = nil
	}
	e.logger.Info().Str("identity", id.String()).Msg("Process removed")
	return nil
}

// RemoveAll stops tracking every identity
func (e *Engine) RemoveAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.processes = make(map[window.Identity]*process)
	e.playback = make(map[window.Identity]playbackStatus)
	e.active = nil
	e.logger.Info().Msg("All processes removed")
}

package tracker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/tokikanri/tokikanri/internal/config"
	"github.com/tokikanri/tokikanri/internal/metrics"
	"github.com/tokikanri/tokikanri/internal/models"
	"github.com/tokikanri/tokikanri/internal/storage"
	"github.com/tokikanri/tokikanri/pkg/window"
)

// HistoryRecorder keeps the flush history and error log
type HistoryRecorder interface {
	CreateFlushEvent(ctx context.Context, event *models.FlushEvent) error
	CreateErrorLog(ctx context.Context, errorLog *models.ErrorLog) error
	DeleteOldEvents(ctx context.Context, before time.Time) (int64, error)
}

// PlaybackSubmitter queues playback queries without blocking. Stop drains
// queries in flight; the service calls it before the final flush.
type PlaybackSubmitter interface {
	Submit(id window.Identity) bool
	Stop() error
}

// Deps are the collaborators of a Service. Oracle and History may be nil.
type Deps struct {
	Engine   *Engine
	Detector window.Detector
	Store    storage.Store
	Oracle   PlaybackSubmitter
	History  HistoryRecorder
	Clock    Clock
}

// Service runs the poll loop, the engine consumer and the periodic saver
type Service struct {
	config   *config.Config
	engine   *Engine
	idle     *window.IdleDetector
	resolver *window.Resolver
	store    storage.Store
	oracle   PlaybackSubmitter
	history  HistoryRecorder
	clock    Clock
	logger   zerolog.Logger

	intervals chan time.Duration
	saveNow   chan struct{}
	flushes   chan Flush
	running   atomic.Bool
	fgFailing atomic.Bool
}

const shutdownTimeout = 5 * time.Second

func NewService(cfg *config.Config, deps Deps, logger zerolog.Logger) *Service {
	clock := deps.Clock
	if clock == nil {
		clock = SystemClock
	}
	s := &Service{
		config:    cfg,
		engine:    deps.Engine,
		idle:      window.NewIdleDetector(deps.Detector, cfg.Tracker.QueryTimeout, logger),
		resolver:  window.NewResolver(deps.Detector, cfg.Tracker.QueryTimeout, logger),
		store:     deps.Store,
		oracle:    deps.Oracle,
		history:   deps.History,
		clock:     clock,
		logger:    logger.With().Str("component", "tracker").Logger(),
		intervals: make(chan time.Duration, 1),
		saveNow:   make(chan struct{}, 1),
		flushes:   make(chan Flush, 256),
	}
	s.engine.OnFlush(s.enqueueFlush)
	s.engine.OnSuspend(s.RequestSave)
	return s
}

// Engine returns the engine driven by this service
func (s *Service) Engine() *Engine {
	return s.engine
}

func (s *Service) IsRunning() bool {
	return s.running.Load()
}

// Run polls until ctx is cancelled. It then stops the oracle, applies the
// results it delivered, flushes the active session and saves one last time.
func (s *Service) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("tracker is already running")
	}
	defer s.running.Store(false)

	s.logger.Info().
		Dur("poll_interval", s.config.Tracker.PollInterval).
		Dur("idle_threshold", s.engine.Settings().IdleThreshold).
		Str("store", s.store.Name()).
		Msg("Starting tracker")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.engine.Run(gctx) })
	g.Go(func() error { return s.pollLoop(gctx) })
	g.Go(func() error { return s.saveLoop(gctx) })
	if s.history != nil {
		g.Go(func() error { return s.historyLoop(gctx) })
	}
	err := g.Wait()

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if s.oracle != nil {
		if stopErr := s.oracle.Stop(); stopErr != nil {
			s.logger.Warn().Err(stopErr).Msg("Playback oracle did not drain")
		}
	}
	if n := s.engine.Drain(); n > 0 {
		s.logger.Debug().Int("events", n).Msg("Applied queued events before final flush")
	}

	if f, ok := s.engine.FinalFlush(); ok {
		s.logger.Info().Str("identity", f.Identity.String()).Dur("duration", f.Duration).Msg("Flushed active session")
	}
	s.drainHistory(sctx)
	if saveErr := s.save(sctx); saveErr != nil && err == nil {
		err = saveErr
	}

	s.logger.Info().Msg("Tracker stopped")
	return err
}

// UpdateConfig applies a reloaded configuration
func (s *Service) UpdateConfig(cfg *config.Config) {
	s.engine.UpdateSettings(SettingsFromConfig(cfg))

	select {
	case <-s.intervals:
	default:
	}
	s.intervals <- cfg.Tracker.PollInterval
}

// RequestSave asks the saver for an immediate save without blocking
func (s *Service) RequestSave() {
	select {
	case s.saveNow <- struct{}{}:
	default:
	}
}

func (s *Service) pollLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.config.Tracker.PollInterval)
	defer ticker.Stop()

	s.pollOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil

		case d := <-s.intervals:
			ticker.Reset(d)
			s.logger.Info().Dur("poll_interval", d).Msg("Poll interval changed")

		case <-ticker.C:
			s.pollOnce(ctx)
		}
	}
}

// pollOnce samples both signals and posts a tick. Neither query can block
// longer than its timeout.
func (s *Service) pollOnce(ctx context.Context) {
	threshold := s.engine.Settings().IdleThreshold
	idle, idleFor, idleOK := s.idle.Probe(ctx, threshold)
	if !idleOK {
		metrics.CollectorFailures.WithLabelValues("idle").Inc()
	}

	id, ok, err := s.resolver.Current(ctx)

	tick := Tick{
		At:      s.clock.Now(),
		Idle:    idle,
		IdleFor: idleFor,
		IdleOK:  idleOK,
	}
	if err != nil {
		tick.ForegroundFailed = true
		metrics.CollectorFailures.WithLabelValues("foreground").Inc()
		s.foregroundFailed(err)
	} else {
		s.foregroundRecovered()
		if ok {
			tick.Foreground = id
		}
	}

	if ok && s.oracle != nil && s.engine.NeedsPlayback(id) {
		s.oracle.Submit(id)
	}

	if !s.engine.Post(tick) {
		s.logger.Warn().Msg("Engine queue full, dropped tick")
	}
}

func (s *Service) foregroundFailed(err error) {
	if s.fgFailing.CompareAndSwap(false, true) {
		s.logger.Warn().Err(err).Msg("Foreground query failed, skipping focus signal")
		go s.storeError("foreground", err)
		return
	}
	s.logger.Debug().Err(err).Msg("Foreground query failed")
}

func (s *Service) foregroundRecovered() {
	if s.fgFailing.CompareAndSwap(true, false) {
		s.logger.Info().Msg("Foreground queries recovered")
	}
}

func (s *Service) saveLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.config.Tracker.SaveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.save(ctx)
		case <-s.saveNow:
			s.save(ctx)
		}
	}
}

// save writes the current snapshot. Failures are logged and recorded; the
// next save retries with fresh data.
func (s *Service) save(ctx context.Context) error {
	records := s.engine.Records()
	err := s.store.Save(ctx, records)
	metrics.SaveResult(s.store.Name(), err)
	if err != nil {
		s.logger.Error().Err(err).Str("store", s.store.Name()).Msg("Failed to save tracked processes")
		s.storeError("save", err)
		return err
	}
	s.logger.Debug().Int("processes", len(records)).Msg("Saved tracked processes")
	return nil
}

// Save writes the current snapshot immediately
func (s *Service) Save(ctx context.Context) error {
	return s.save(ctx)
}

func (s *Service) enqueueFlush(f Flush) {
	if s.history == nil || f.Duration <= 0 {
		return
	}
	select {
	case s.flushes <- f:
	default:
		s.logger.Warn().Str("identity", f.Identity.String()).Msg("History queue full, dropping flush")
	}
}

func (s *Service) historyLoop(ctx context.Context) error {
	prune := time.NewTicker(24 * time.Hour)
	defer prune.Stop()

	s.prune(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case f := <-s.flushes:
			s.recordFlush(ctx, f)
		case <-prune.C:
			s.prune(ctx)
		}
	}
}

func (s *Service) drainHistory(ctx context.Context) {
	if s.history == nil {
		return
	}
	for {
		select {
		case f := <-s.flushes:
			s.recordFlush(ctx, f)
		default:
			return
		}
	}
}

func (s *Service) recordFlush(ctx context.Context, f Flush) {
	event := &models.FlushEvent{
		Identity:   f.Identity.String(),
		StartedAt:  f.StartedAt,
		EndedAt:    f.EndedAt,
		DurationMS: f.Duration.Milliseconds(),
		IsMedia:    f.IsMedia,
	}
	if err := s.history.CreateFlushEvent(ctx, event); err != nil {
		s.logger.Error().Err(err).Str("identity", f.Identity.String()).Msg("Failed to record flush")
	}
}

func (s *Service) prune(ctx context.Context) {
	days := s.config.History.RetentionDays
	if days <= 0 {
		return
	}
	n, err := s.history.DeleteOldEvents(ctx, s.clock.Now().AddDate(0, 0, -days))
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to prune history")
		return
	}
	if n > 0 {
		s.logger.Info().Int64("deleted", n).Int("retention_days", days).Msg("Pruned history")
	}
}

func (s *Service) storeError(component string, err error) {
	if s.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	errorLog := &models.ErrorLog{
		Timestamp: time.Now(),
		Component: component,
		ErrorMsg:  err.Error(),
	}
	if dbErr := s.history.CreateErrorLog(ctx, errorLog); dbErr != nil {
		s.logger.Error().Err(dbErr).AnErr("original", err).Msg("Failed to store error in database")
	}
}

// Package oracle answers playback-state questions for media identities off
// the poll loop. Queries run on a fixed pool of workers, each bounded by a
// timeout, and their results are handed back through a callback.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tokikanri/tokikanri/internal/config"
	"github.com/tokikanri/tokikanri/internal/metrics"
	"github.com/tokikanri/tokikanri/internal/notify"
	"github.com/tokikanri/tokikanri/pkg/integrations/common"
	"github.com/tokikanri/tokikanri/pkg/window"
)

var (
	// ErrStopped is returned by Query once Stop has been called
	ErrStopped = errors.New("playback oracle stopped")

	// ErrTooManyHung is returned when abandoned queries have not returned yet
	ErrTooManyHung = errors.New("too many playback queries still running")
)

// Status is the outcome of one playback query. OK is false when the query
// failed or timed out, and State is then always PlaybackUnknown.
type Status struct {
	Identity window.Identity
	State    common.PlaybackState
	OK       bool
	Err      error
	At       time.Time
}

// Settings configures the worker pool
type Settings struct {
	Workers          int
	QueueSize        int
	QueryTimeout     time.Duration
	FailureThreshold int
	DrainTimeout     time.Duration
}

// SettingsFromConfig extracts pool settings from the application config
func SettingsFromConfig(c config.OracleConfig) Settings {
	return Settings{
		Workers:          c.Workers,
		QueueSize:        c.QueueSize,
		QueryTimeout:     c.QueryTimeout,
		FailureThreshold: c.FailureThreshold,
		DrainTimeout:     c.DrainTimeout,
	}
}

// Oracle is a fixed pool of playback query workers
type Oracle struct {
	querier  common.PlaybackQuerier
	settings Settings
	deliver  func(Status)
	sink     notify.Sink
	logger   zerolog.Logger
	now      func() time.Time

	jobs    chan window.Identity
	hung    chan struct{}
	baseCtx context.Context
	abort   context.CancelFunc
	wg      sync.WaitGroup

	mu       sync.Mutex
	inflight map[window.Identity]struct{}
	started  bool
	stopped  bool
	failures int
	failing  bool
}

// New creates an oracle. deliver receives every finished query and must not
// block; sink receives health notifications and may be nil.
func New(querier common.PlaybackQuerier, settings Settings, deliver func(Status), sink notify.Sink, logger zerolog.Logger) *Oracle {
	if settings.Workers < 1 {
		settings.Workers = 1
	}
	if settings.QueueSize < 1 {
		settings.QueueSize = settings.Workers
	}
	if settings.FailureThreshold < 1 {
		settings.FailureThreshold = 1
	}
	if deliver == nil {
		deliver = func(Status) {}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Oracle{
		querier:  querier,
		settings: settings,
		deliver:  deliver,
		sink:     sink,
		logger:   logger.With().Str("component", "playback-oracle").Logger(),
		now:      time.Now,
		jobs:     make(chan window.Identity, settings.QueueSize),
		hung:     make(chan struct{}, 2*settings.Workers),
		baseCtx:  ctx,
		abort:    cancel,
		inflight: make(map[window.Identity]struct{}),
	}
}

// Start launches the workers. Calling it twice is a no-op.
func (o *Oracle) Start() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started || o.stopped {
		return
	}
	o.started = true
	for i := 0; i < o.settings.Workers; i++ {
		o.wg.Add(1)
		go o.worker()
	}
	o.logger.Debug().Int("workers", o.settings.Workers).Msg("Playback oracle started")
}

// Submit queues a query for id without blocking. It returns false when a
// query for id is already queued or running, when the queue is full, or
// after Stop.
func (o *Oracle) Submit(id window.Identity) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopped || id.IsZero() {
		return false
	}
	if _, ok := o.inflight[id]; ok {
		return false
	}
	select {
	case o.jobs <- id:
		o.inflight[id] = struct{}{}
		return true
	default:
		metrics.OracleQueries.WithLabelValues("dropped").Inc()
		return false
	}
}

func (o *Oracle) worker() {
	defer o.wg.Done()
	for id := range o.jobs {
		st := o.Query(o.baseCtx, id)

		o.mu.Lock()
		delete(o.inflight, id)
		o.mu.Unlock()

		o.deliver(st)
	}
}

// Query runs one bounded playback query synchronously. It never returns an
// error directly; failures are reported in the Status.
func (o *Oracle) Query(ctx context.Context, id window.Identity) Status {
	start := o.now()
	st := Status{Identity: id, State: common.PlaybackUnknown}

	state, err := o.bounded(ctx, id)
	metrics.OracleQueryDuration.Observe(time.Since(start).Seconds())

	st.At = o.now()
	switch {
	case err == nil:
		st.State = state
		st.OK = true
		metrics.OracleQueries.WithLabelValues("ok").Inc()
	case errors.Is(err, context.DeadlineExceeded):
		st.Err = err
		metrics.OracleQueries.WithLabelValues("timeout").Inc()
	default:
		st.Err = err
		metrics.OracleQueries.WithLabelValues("error").Inc()
	}

	if !errors.Is(err, ErrStopped) {
		o.record(id, err)
	}
	return st
}

// bounded runs the querier in its own goroutine so a call that ignores ctx
// cannot hold a worker past the timeout. Abandoned calls hold a hung slot
// until they return.
func (o *Oracle) bounded(ctx context.Context, id window.Identity) (common.PlaybackState, error) {
	if err := o.baseCtx.Err(); err != nil {
		return common.PlaybackUnknown, ErrStopped
	}
	select {
	case o.hung <- struct{}{}:
	default:
		return common.PlaybackUnknown, ErrTooManyHung
	}

	ctx, cancel := context.WithTimeout(ctx, o.settings.QueryTimeout)
	defer cancel()

	type result struct {
		state common.PlaybackState
		err   error
	}
	done := make(chan result, 1)
	go func() {
		defer func() { <-o.hung }()
		s, err := o.querier.QueryPlayback(ctx, id)
		done <- result{s, err}
	}()

	select {
	case r := <-done:
		return r.state, r.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return common.PlaybackUnknown, fmt.Errorf("playback query for %s timed out after %v: %w", id, o.settings.QueryTimeout, ctx.Err())
		}
		return common.PlaybackUnknown, ErrStopped
	}
}

func (o *Oracle) record(id window.Identity, err error) {
	o.mu.Lock()
	var n *notify.Notification
	if err != nil {
		o.failures++
		if o.failures >= o.settings.FailureThreshold && !o.failing {
			o.failing = true
			n = &notify.Notification{
				Title: "Playback detection failing",
				Body:  fmt.Sprintf("%d playback queries in a row failed, media time is paused: %v", o.failures, err),
				Level: notify.LevelWarning,
			}
		}
	} else {
		if o.failing {
			n = &notify.Notification{
				Title: "Playback detection recovered",
				Body:  "Playback queries succeed again",
				Level: notify.LevelInfo,
			}
		}
		o.failures = 0
		o.failing = false
	}
	failures := o.failures
	o.mu.Unlock()

	metrics.OracleConsecutiveFailures.Set(float64(failures))
	if err != nil {
		o.logger.Debug().Err(err).Str("identity", id.String()).Int("consecutive", failures).Msg("Playback query failed")
	}
	if n != nil {
		if n.Level == notify.LevelWarning {
			o.logger.Warn().Int("consecutive", failures).Msg(n.Body)
		} else {
			o.logger.Info().Msg(n.Body)
		}
		if o.sink != nil {
			o.sink.Notify(*n)
		}
	}
}

// ConsecutiveFailures returns the current run of failed queries
func (o *Oracle) ConsecutiveFailures() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.failures
}

// Healthy reports whether the failure run is below the threshold
func (o *Oracle) Healthy() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return !o.failing
}

// Stop refuses new work and waits up to the drain timeout for running
// queries to finish. Queries still running after that are abandoned. It
// returns an error when the drain timed out.
func (o *Oracle) Stop() error {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return nil
	}
	o.stopped = true
	close(o.jobs)
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(o.settings.DrainTimeout)
	defer timer.Stop()

	select {
	case <-done:
		o.abort()
		return nil
	case <-timer.C:
		o.abort()
		<-done
		return fmt.Errorf("playback oracle drain exceeded %v", o.settings.DrainTimeout)
	}
}

// Package notify delivers user-facing notifications without blocking the
// caller.
package notify

import (
	"context"
	"fmt"
	"os/exec"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Level is the urgency of a notification
type Level int

const (
	LevelInfo Level = iota
	LevelWarning
)

func (l Level) String() string {
	if l == LevelWarning {
		return "warning"
	}
	return "info"
}

// Notification is one message for the user
type Notification struct {
	Title string
	Body  string
	Level Level
	At    time.Time
}

// Sink accepts notifications. Notify must not block.
type Sink interface {
	Notify(n Notification)
}

// Backend delivers a notification somewhere
type Backend interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

// Dispatcher queues notifications and hands them to its backends from a
// single goroutine. When the queue is full new notifications are dropped.
type Dispatcher struct {
	queue    chan Notification
	backends []Backend
	logger   zerolog.Logger
	timeout  time.Duration
	dropped  atomic.Int64
}

// NewDispatcher creates a dispatcher with a queue of size entries
func NewDispatcher(size int, logger zerolog.Logger, backends ...Backend) *Dispatcher {
	if size < 1 {
		size = 16
	}
	return &Dispatcher{
		queue:    make(chan Notification, size),
		backends: backends,
		logger:   logger.With().Str("component", "notify").Logger(),
		timeout:  5 * time.Second,
	}
}

// Notify queues n, dropping it if the queue is full
func (d *Dispatcher) Notify(n Notification) {
	if n.At.IsZero() {
		n.At = time.Now()
	}
	select {
	case d.queue <- n:
	default:
		d.dropped.Add(1)
	}
}

// Dropped returns how many notifications were discarded
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Run delivers queued notifications until ctx is cancelled
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-d.queue:
			d.deliver(ctx, n)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, n Notification) {
	for _, b := range d.backends {
		sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
		if err := b.Send(sendCtx, n); err != nil {
			d.logger.Debug().Err(err).Str("backend", b.Name()).Msg("Notification not delivered")
		}
		cancel()
	}
}

// LogBackend writes notifications to the log
type LogBackend struct {
	Logger zerolog.Logger
}

func (l LogBackend) Name() string { return "log" }

func (l LogBackend) Send(ctx context.Context, n Notification) error {
	ev := l.Logger.Info()
	if n.Level == LevelWarning {
		ev = l.Logger.Warn()
	}
	ev.Str("title", n.Title).Time("at", n.At).Msg(n.Body)
	return nil
}

// DesktopBackend shows notifications through notify-send
type DesktopBackend struct {
	AppName string
}

func (b DesktopBackend) Name() string { return "desktop" }

func (b DesktopBackend) Send(ctx context.Context, n Notification) error {
	urgency := "normal"
	if n.Level == LevelWarning {
		urgency = "critical"
	}
	cmd := exec.CommandContext(ctx, "notify-send", "--app-name", b.AppName, "--urgency", urgency, n.Title, n.Body)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("notify-send failed: %w (%s)", err, out)
	}
	return nil
}

// DesktopAvailable reports whether notify-send is installed
func DesktopAvailable() bool {
	_, err := exec.LookPath("notify-send")
	return err == nil
}

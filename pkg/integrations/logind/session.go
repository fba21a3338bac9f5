// Package logind reads lock and idle hints for the caller's login session
// from systemd-logind over the system bus.
package logind

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
)

const (
	dest         = "org.freedesktop.login1"
	sessionPath  = dbus.ObjectPath("/org/freedesktop/login1/session/auto")
	sessionIface = "org.freedesktop.login1.Session"
)

// Hints is a snapshot of the session's lock and idle state
type Hints struct {
	Locked bool
	Idle   bool
	// IdleSince is zero when the session is not idle
	IdleSince time.Time
}

// IdleFor returns how long the session has been idle as of now
func (h Hints) IdleFor(now time.Time) time.Duration {
	if !h.Idle || h.IdleSince.IsZero() || now.Before(h.IdleSince) {
		return 0
	}
	return now.Sub(h.IdleSince)
}

// Session queries logind lazily, reconnecting after bus errors
type Session struct {
	mu   sync.Mutex
	conn *dbus.Conn
}

// NewSession returns a Session. No connection is made until the first query.
func NewSession() *Session {
	return &Session{}
}

func (s *Session) object() (dbus.BusObject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil || !s.conn.Connected() {
		conn, err := dbus.ConnectSystemBus()
		if err != nil {
			return nil, fmt.Errorf("failed to connect to system bus: %w", err)
		}
		s.conn = conn
	}
	return s.conn.Object(dest, sessionPath), nil
}

func (s *Session) property(ctx context.Context, obj dbus.BusObject, name string) (dbus.Variant, error) {
	var v dbus.Variant
	err := obj.CallWithContext(ctx, "org.freedesktop.DBus.Properties.Get", 0, sessionIface, name).Store(&v)
	if err != nil {
		return v, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return v, nil
}

// Hints reads LockedHint, IdleHint and IdleSinceHint
func (s *Session) Hints(ctx context.Context) (Hints, error) {
	var h Hints

	obj, err := s.object()
	if err != nil {
		return h, err
	}

	locked, err := s.property(ctx, obj, "LockedHint")
	if err != nil {
		return h, err
	}
	h.Locked, _ = locked.Value().(bool)

	idle, err := s.property(ctx, obj, "IdleHint")
	if err != nil {
		return h, err
	}
	h.Idle, _ = idle.Value().(bool)

	if h.Idle {
		since, err := s.property(ctx, obj, "IdleSinceHint")
		if err != nil {
			return h, err
		}
		// Microseconds since the epoch.
		if usec, ok := since.Value().(uint64); ok && usec > 0 {
			h.IdleSince = time.UnixMicro(int64(usec))
		}
	}

	return h, nil
}

// Close drops the bus connection
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

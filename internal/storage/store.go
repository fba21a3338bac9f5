// Package storage defines the snapshot format for tracked durations and the
// backends that persist it.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// Record is one tracked process as persisted
type Record struct {
	Identity      string `json:"identity"`
	AccumulatedMS int64  `json:"accumulated_ms"`
	DisplayName   string `json:"display_name,omitempty"`
	IsMedia       bool   `json:"is_media"`
}

// Accumulated returns the stored duration, never negative
func (r Record) Accumulated() time.Duration {
	if r.AccumulatedMS < 0 {
		return 0
	}
	return time.Duration(r.AccumulatedMS) * time.Millisecond
}

// NewRecord builds a record from a duration, truncating to milliseconds
func NewRecord(identity string, accumulated time.Duration, displayName string, isMedia bool) Record {
	if accumulated < 0 {
		accumulated = 0
	}
	return Record{
		Identity:      identity,
		AccumulatedMS: accumulated.Milliseconds(),
		DisplayName:   displayName,
		IsMedia:       isMedia,
	}
}

// Store persists full snapshots of tracked processes. Save replaces the
// previous snapshot atomically.
type Store interface {
	Load(ctx context.Context) ([]Record, error)
	Save(ctx context.Context, records []Record) error
	Name() string
	Close() error
}

// RetryPolicy bounds LoadWithRetry
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
}

// DefaultRetry is used by the daemon at startup
var DefaultRetry = RetryPolicy{Attempts: 3, Delay: 500 * time.Millisecond}

// LoadWithRetry loads from s, retrying transient failures. The last error is
// returned when every attempt fails.
func LoadWithRetry(ctx context.Context, s Store, policy RetryPolicy, logger zerolog.Logger) ([]Record, error) {
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= policy.Attempts; attempt++ {
		records, err := s.Load(ctx)
		if err == nil {
			return records, nil
		}
		lastErr = err
		logger.Warn().Err(err).Str("backend", s.Name()).Int("attempt", attempt).Msg("Failed to load tracked processes")

		if attempt == policy.Attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(policy.Delay):
		}
	}
	return nil, fmt.Errorf("load from %s failed after %d attempts: %w", s.Name(), policy.Attempts, lastErr)
}

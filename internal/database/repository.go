package database

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/tokikanri/tokikanri/internal/models"
)

// Repository handles the flush history and error log tables
type Repository struct {
	db *DB
}

// NewRepository creates a new repository instance
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// CreateFlushEvent records one finished session
func (r *Repository) CreateFlushEvent(ctx context.Context, event *models.FlushEvent) error {
	event.Identity = strings.ToLower(event.Identity)
	if event.DurationMS < 0 {
		event.DurationMS = 0
	}
	// SQLite compares timestamps as text, so every stored time is UTC.
	event.StartedAt = event.StartedAt.UTC()
	event.EndedAt = event.EndedAt.UTC()
	result := r.db.WithContext(ctx).Create(event)
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to insert flush event")
	}
	return nil
}

// GetEventsBetween returns flush events that ended in [since, until)
func (r *Repository) GetEventsBetween(ctx context.Context, since, until time.Time) ([]*models.FlushEvent, error) {
	var events []*models.FlushEvent
	result := r.db.WithContext(ctx).
		Where("ended_at >= ? AND ended_at < ?", since.UTC(), until.UTC()).
		Order("ended_at ASC").
		Find(&events)

	if result.Error != nil {
		return nil, errors.Wrap(result.Error, "failed to query flush events")
	}

	return events, nil
}

// GetProcessSummaryBetween returns accrued time per identity for flushes that
// ended in [since, until), largest first
func (r *Repository) GetProcessSummaryBetween(ctx context.Context, since, until time.Time) ([]models.ProcessSummary, error) {
	var summaries []models.ProcessSummary

	result := r.db.WithContext(ctx).Model(&models.FlushEvent{}).
		Select("identity, SUM(duration_ms) as total_ms, COUNT(*) as session_count, MAX(is_media) as is_media").
		Where("ended_at >= ? AND ended_at < ?", since.UTC(), until.UTC()).
		Group("identity").
		Order("total_ms DESC").
		Scan(&summaries)

	if result.Error != nil {
		return nil, errors.Wrap(result.Error, "failed to query process summary")
	}

	return summaries, nil
}

// GetLatest retrieves the most recent flush event
func (r *Repository) GetLatest(ctx context.Context) (*models.FlushEvent, error) {
	var event models.FlushEvent
	result := r.db.WithContext(ctx).Order("ended_at DESC").First(&event)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errors.Wrap(result.Error, "failed to get latest event")
	}
	return &event, nil
}

// DeleteOldEvents deletes flush events that ended before a date (soft delete)
func (r *Repository) DeleteOldEvents(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Where("ended_at < ?", before.UTC()).Delete(&models.FlushEvent{})
	if result.Error != nil {
		return 0, errors.Wrap(result.Error, "failed to delete old events")
	}
	return result.RowsAffected, nil
}

// DeleteIdentity removes the history of one identity
func (r *Repository) DeleteIdentity(ctx context.Context, identity string) (int64, error) {
	result := r.db.WithContext(ctx).Where("identity = ?", strings.ToLower(identity)).Delete(&models.FlushEvent{})
	if result.Error != nil {
		return 0, errors.Wrap(result.Error, "failed to delete identity history")
	}
	return result.RowsAffected, nil
}

// CreateErrorLog inserts a new error log into the database
func (r *Repository) CreateErrorLog(ctx context.Context, errorLog *models.ErrorLog) error {
	result := r.db.WithContext(ctx).Create(errorLog)
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to insert error log")
	}
	return nil
}

// GetRecentErrors returns the newest error logs, newest first
func (r *Repository) GetRecentErrors(ctx context.Context, limit int) ([]models.ErrorLog, error) {
	var logs []models.ErrorLog
	result := r.db.WithContext(ctx).Order("timestamp DESC").Limit(limit).Find(&logs)
	if result.Error != nil {
		return nil, errors.Wrap(result.Error, "failed to query error logs")
	}
	return logs, nil
}

// Clear removes all flush events from the database
func (r *Repository) Clear(ctx context.Context) error {
	result := r.db.WithContext(ctx).Exec("DELETE FROM flush_events")
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to clear flush events")
	}
	return nil
}

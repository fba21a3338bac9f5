package models

import (
	"time"

	"gorm.io/gorm"
)

// FlushEvent is one finished focus session, written when the session's time
// is folded into its process total.
type FlushEvent struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	Identity   string         `gorm:"not null;index" json:"identity"`
	StartedAt  time.Time      `gorm:"not null;index" json:"started_at"`
	EndedAt    time.Time      `gorm:"not null" json:"ended_at"`
	DurationMS int64          `gorm:"not null;default:0" json:"duration_ms"` // accrued time, excludes suspended spans
	IsMedia    bool           `gorm:"not null;default:false" json:"is_media"`
	CreatedAt  time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"-"`
}

// ProcessSummary is the aggregated accrued time of one identity in a period
type ProcessSummary struct {
	Identity     string  `json:"identity"`
	DisplayName  string  `json:"display_name,omitempty"`
	TotalMS      int64   `json:"total_ms"`
	TotalSeconds int64   `json:"total_seconds"`
	TotalMinutes float64 `json:"total_minutes"`
	TotalHours   float64 `json:"total_hours"`
	SessionCount int     `json:"session_count"`
	IsMedia      bool    `json:"is_media"`
	Percentage   float64 `json:"percentage,omitempty"`
}

type ReportPeriod struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Type  string    `json:"type"` // "day", "week", "month"
}

type Report struct {
	Period       ReportPeriod     `json:"period"`
	Processes    []ProcessSummary `json:"processes"`
	TotalSeconds int64            `json:"total_seconds"`
	TotalMinutes float64          `json:"total_minutes"`
	TotalHours   float64          `json:"total_hours"`
	GeneratedAt  time.Time        `json:"generated_at"`
}

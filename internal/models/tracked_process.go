package models

import "time"

// TrackedProcess is a row of the sqlite snapshot backend
type TrackedProcess struct {
	Identity      string    `gorm:"primaryKey" json:"identity"`
	AccumulatedMS int64     `gorm:"not null;default:0" json:"accumulated_ms"`
	DisplayName   string    `gorm:"not null;default:''" json:"display_name"`
	IsMedia       bool      `gorm:"not null;default:false" json:"is_media"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

package model

import "time"

// Occupant is a person who can scan to enter or leave the space.
//
// CooperativenessScore is an exponentially smoothed history of compliant
// exits in [0, 1]; FrequencyUsed is the rolling 30-day entry count and is
// recomputed on every admission.
type Occupant struct {
	ID                   int64   `gorm:"primaryKey"`
	Token                string  `gorm:"uniqueIndex;size:64;not null"`
	DisplayName          string  `gorm:"size:256;not null"`
	Privileged           bool    `gorm:"not null"`
	Age                  *int
	Demographic          *string `gorm:"size:64"`
	CooperativenessScore float64 `gorm:"not null;default:0.5"`
	FrequencyUsed        int     `gorm:"not null"`
	LastVisit            *time.Time
	CreatedAt            time.Time `gorm:"not null"`
	UpdatedAt            time.Time `gorm:"not null"`
}

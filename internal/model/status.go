package model

import "time"

// StatusKind enumerates the operating states of the space.
type StatusKind string

const (
	StatusOpen        StatusKind = "OPEN"
	StatusClosed      StatusKind = "CLOSED"
	StatusMaintenance StatusKind = "MAINTENANCE"
)

// ValidStatus reports whether s is one of the known status kinds.
func ValidStatus(s StatusKind) bool {
	switch s {
	case StatusOpen, StatusClosed, StatusMaintenance:
		return true
	}
	return false
}

// SpaceStatus is one row in the append-only status history. The row with
// the highest ID is the current status. AutoOpen and AutoClose hold wall
// clock times in "HH:MM" form and apply on weekdays when
// AutoScheduleEnabled is set.
type SpaceStatus struct {
	ID                  int64      `gorm:"autoIncrement;primaryKey"`
	Status              StatusKind `gorm:"size:16;not null"`
	Message             string     `gorm:"size:512"`
	AutoOpen            string     `gorm:"size:8"`
	AutoClose           string     `gorm:"size:8"`
	AutoScheduleEnabled bool       `gorm:"not null"`
	UpdatedBy           string     `gorm:"size:128"`
	CreatedAt           time.Time  `gorm:"not null"`
}

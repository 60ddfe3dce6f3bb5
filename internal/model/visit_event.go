package model

import "time"

// EventKind distinguishes the two directions of a visit event.
type EventKind string

const (
	EventEntry EventKind = "ENTRY"
	EventExit  EventKind = "EXIT"
)

// VisitEvent is one immutable record in the append-only visit log.
// Deadline is set on ENTRY events only.
type VisitEvent struct {
	ID         int64     `gorm:"autoIncrement;primaryKey"`
	OccupantID int64     `gorm:"index;not null"`
	Kind       EventKind `gorm:"size:8;not null"`
	OccurredAt time.Time `gorm:"index;not null"`
	Deadline   *time.Time
}

package model

import "time"

// CapacityConfigID is the primary key of the one and only capacity row.
const CapacityConfigID int64 = 1

// CapacityConfig is the singleton capacity row. CurrentOccupancy is the
// authoritative counter; it moves inside the same transaction as a
// visit-event append, through a full rebuild over the log, or through an
// operator occupancy adjustment.
type CapacityConfig struct {
	ID               int64     `gorm:"primaryKey"`
	MaxCapacity      int       `gorm:"not null"`
	CurrentOccupancy int       `gorm:"not null"`
	UpdatedAt        time.Time `gorm:"not null;autoUpdateTime:false"`
}

// Percent returns the occupancy ratio in [0, 1].
func (c CapacityConfig) Percent() float64 {
	if c.MaxCapacity <= 0 {
		return 1
	}
	return float64(c.CurrentOccupancy) / float64(c.MaxCapacity)
}

// IsFull reports whether the counter has reached the cap.
func (c CapacityConfig) IsFull() bool {
	return c.CurrentOccupancy >= c.MaxCapacity
}

// IsNear reports whether occupancy is at or above 90% of the cap.
func (c CapacityConfig) IsNear() bool {
	return c.Percent() >= 0.9
}

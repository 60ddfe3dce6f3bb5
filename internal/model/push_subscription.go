package model

import "time"

// PushSubscription holds a browser push subscription registered by an
// occupant. Removal and expiry notices are mirrored to these endpoints so
// occupants hear about forced exits even without a live connection.
type PushSubscription struct {
	Endpoint   string    `gorm:"primaryKey"`
	P256DH     string    `gorm:"column:p256dh;not null"`
	Auth       string    `gorm:"not null"`
	OccupantID int64     `gorm:"index;not null"`
	CreatedAt  time.Time `gorm:"not null"`
}

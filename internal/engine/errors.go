package engine

import (
	"errors"
	"fmt"

	"library-occupancy-backend/internal/model"
)

var (
	// ErrInvalidToken means the scan token resolves to no occupant.
	ErrInvalidToken = errors.New("unknown occupant token")
	// ErrFullAndUnremovable means the space is at capacity and the ranker
	// has nothing to evict.
	ErrFullAndUnremovable = errors.New("space is full and no occupant can be removed")
	// ErrRejectedClosed is the match target for ClosedError.
	ErrRejectedClosed = errors.New("space is not open")
	// ErrPersistenceUnavailable means the store has been failing for longer
	// than the configured threshold; scans fail fast until it recovers.
	ErrPersistenceUnavailable = errors.New("persistence unavailable")
	// ErrOutOfRange rejects configuration values outside documented bounds.
	ErrOutOfRange = errors.New("value out of range")
	// ErrInvalidStatus rejects unknown status kinds.
	ErrInvalidStatus = errors.New("invalid status")
	// ErrInvalidTimeFormat rejects auto-schedule times that are not HH:MM.
	ErrInvalidTimeFormat = errors.New("invalid time format, want HH:MM")
	// ErrNoSession means the occupant is not currently inside.
	ErrNoSession = errors.New("occupant has no open session")
)

// ClosedError carries the current status so rejections can quote the
// operator's message.
type ClosedError struct {
	Status  model.StatusKind
	Message string
}

func (e *ClosedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("space is %s", e.Status)
	}
	return fmt.Sprintf("space is %s: %s", e.Status, e.Message)
}

// Is lets errors.Is(err, ErrRejectedClosed) match any ClosedError.
func (e *ClosedError) Is(target error) bool {
	return target == ErrRejectedClosed
}

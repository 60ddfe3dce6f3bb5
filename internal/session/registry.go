package session

import (
	"errors"
	"sort"
	"time"
)

var (
	// ErrAlreadyInside is returned when opening a session for an occupant
	// that already has one.
	ErrAlreadyInside = errors.New("occupant already has an open session")
	// ErrNotInside is returned when closing a session for an occupant that
	// has none.
	ErrNotInside = errors.New("occupant has no open session")
)

// Session is one open visit. Sessions refer to their occupant by ID only.
type Session struct {
	OccupantID int64
	EntryTime  time.Time
	Deadline   time.Time
	Seq        uint64
}

// Remaining returns the time left until the deadline, never negative.
func (s Session) Remaining(now time.Time) time.Duration {
	if !now.Before(s.Deadline) {
		return 0
	}
	return s.Deadline.Sub(now)
}

// Registry indexes the currently open sessions. It performs no locking of
// its own; the engine's space lock serializes all access.
type Registry struct {
	byOccupant map[int64]*Session
	nextSeq    uint64
}

// NewRegistry returns an empty session registry.
func NewRegistry() *Registry {
	return &Registry{byOccupant: make(map[int64]*Session)}
}

// Open creates a session and assigns it the next sequence number.
func (r *Registry) Open(occupantID int64, entry, deadline time.Time) (*Session, error) {
	if _, ok := r.byOccupant[occupantID]; ok {
		return nil, ErrAlreadyInside
	}
	r.nextSeq++
	s := &Session{
		OccupantID: occupantID,
		EntryTime:  entry,
		Deadline:   deadline,
		Seq:        r.nextSeq,
	}
	r.byOccupant[occupantID] = s
	return s, nil
}

// Close removes and returns the occupant's open session.
func (r *Registry) Close(occupantID int64) (*Session, error) {
	s, ok := r.byOccupant[occupantID]
	if !ok {
		return nil, ErrNotInside
	}
	delete(r.byOccupant, occupantID)
	return s, nil
}

// Lookup returns the occupant's open session, or nil.
func (r *Registry) Lookup(occupantID int64) *Session {
	return r.byOccupant[occupantID]
}

// Len returns the number of open sessions.
func (r *Registry) Len() int {
	return len(r.byOccupant)
}

// List returns the open sessions ordered by entry time, then sequence
// number (stable FIFO).
func (r *Registry) List() []*Session {
	sessions := make([]*Session, 0, len(r.byOccupant))
	for _, s := range r.byOccupant {
		sessions = append(sessions, s)
	}
	sort.Slice(sessions, func(i, j int) bool {
		if !sessions[i].EntryTime.Equal(sessions[j].EntryTime) {
			return sessions[i].EntryTime.Before(sessions[j].EntryTime)
		}
		return sessions[i].Seq < sessions[j].Seq
	})
	return sessions
}

// ExpiredAsOf returns the sessions whose deadline is at or before t,
// ordered by ascending deadline so forced exits land in the log in
// chronological order.
func (r *Registry) ExpiredAsOf(t time.Time) []*Session {
	var expired []*Session
	for _, s := range r.byOccupant {
		if !s.Deadline.After(t) {
			expired = append(expired, s)
		}
	}
	sort.Slice(expired, func(i, j int) bool {
		if !expired[i].Deadline.Equal(expired[j].Deadline) {
			return expired[i].Deadline.Before(expired[j].Deadline)
		}
		return expired[i].Seq < expired[j].Seq
	})
	return expired
}

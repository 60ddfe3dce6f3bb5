package engine

import (
	"context"
	"errors"
	"log"
	"time"

	"gorm.io/gorm"

	"library-occupancy-backend/internal/hub"
	"library-occupancy-backend/internal/model"
	"library-occupancy-backend/internal/ranker"
	"library-occupancy-backend/internal/session"
)

// Scan outcomes.
const (
	OutcomeAdmitted = "ADMITTED"
	OutcomeExited   = "EXITED"
)

// SessionInfo describes one open (or just closed) session.
type SessionInfo struct {
	OccupantID       int64     `json:"occupant_id"`
	DisplayName      string    `json:"display_name"`
	EntryTime        time.Time `json:"entry_time"`
	Deadline         time.Time `json:"deadline"`
	RemainingSeconds int64     `json:"remaining_seconds"`
}

// RemovedOccupant describes one eviction.
type RemovedOccupant struct {
	OccupantID  int64     `json:"occupant_id"`
	DisplayName string    `json:"display_name"`
	Score       float64   `json:"score"`
	EntryTime   time.Time `json:"entry_time"`
	RemovedAt   time.Time `json:"removed_at"`
}

// ScanResult is the successful outcome of a scan.
type ScanResult struct {
	Outcome string           `json:"outcome"`
	Session SessionInfo      `json:"session"`
	Evicted *RemovedOccupant `json:"evicted,omitempty"`
	Count   int              `json:"count"`
	Max     int              `json:"max"`
}

func sessionInfo(s *session.Session, name string, now time.Time) SessionInfo {
	return SessionInfo{
		OccupantID:       s.OccupantID,
		DisplayName:      name,
		EntryTime:        s.EntryTime,
		Deadline:         s.Deadline,
		RemainingSeconds: int64(s.Remaining(now) / time.Second),
	}
}

// HandleScan resolves a token and either admits the occupant or closes
// their open session. All notifications and forecaster updates run after
// the space lock is released.
func (e *Engine) HandleScan(ctx context.Context, token string) (*ScanResult, error) {
	e.mu.Lock()
	res, emits, err := e.scanLocked(ctx, token)
	e.mu.Unlock()
	for _, fn := range emits {
		fn()
	}
	return res, err
}

func (e *Engine) scanLocked(ctx context.Context, token string) (*ScanResult, []emitFn, error) {
	now := e.clock.Now()
	if err := e.failFastLocked(now); err != nil {
		return nil, nil, err
	}

	occ, err := e.store.OccupantByToken(ctx, token)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrInvalidToken
		}
		e.noteStoreLocked(err, now)
		return nil, nil, err
	}

	if s := e.reg.Lookup(occ.ID); s != nil {
		return e.exitLocked(ctx, s, *occ, now)
	}
	return e.entryLocked(ctx, *occ, now)
}

// closeLocked is the shared exit primitive behind voluntary exits,
// evictions and sweeps: cooperativeness update, EXIT append with counter
// decrement, registry close. The registry mutates only after the store
// commit succeeds.
func (e *Engine) closeLocked(ctx context.Context, s *session.Session, occ model.Occupant, eventAt, now time.Time) error {
	if now.Before(s.Deadline) {
		occ.CooperativenessScore = clampScore(0.8*occ.CooperativenessScore + 0.2*1.0)
	} else {
		occ.CooperativenessScore = clampScore(0.95*occ.CooperativenessScore + 0.05*0.3)
	}
	visit := eventAt
	occ.LastVisit = &visit
	occ.UpdatedAt = now

	ev := model.VisitEvent{OccupantID: occ.ID, Kind: model.EventExit, OccurredAt: eventAt}
	cfg, err := e.store.CommitExit(ctx, &ev, &occ)
	if err != nil {
		e.noteStoreLocked(err, now)
		return err
	}
	e.noteStoreLocked(nil, now)
	e.cap = cfg
	e.exitTimes = append(e.exitTimes, eventAt)

	if _, err := e.reg.Close(s.OccupantID); err != nil {
		log.Printf("Registry close for occupant %d after commit: %v", s.OccupantID, err)
	}
	return nil
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func (e *Engine) exitLocked(ctx context.Context, s *session.Session, occ model.Occupant, now time.Time) (*ScanResult, []emitFn, error) {
	closed := *s
	if err := e.closeLocked(ctx, s, occ, now, now); err != nil {
		return nil, nil, err
	}

	res := &ScanResult{
		Outcome: OutcomeExited,
		Session: sessionInfo(&closed, occ.DisplayName, now),
		Count:   e.cap.CurrentOccupancy,
		Max:     e.cap.MaxCapacity,
	}
	emits := []emitFn{
		e.occupancyEmitsLocked(now),
		e.unicastEmit(occ.ID, hub.TopicUserAction, res),
	}
	return res, emits, nil
}

func (e *Engine) entryLocked(ctx context.Context, occ model.Occupant, now time.Time) (*ScanResult, []emitFn, error) {
	if e.status.Status != model.StatusOpen {
		return nil, nil, &ClosedError{Status: e.status.Status, Message: e.status.Message}
	}

	var emits []emitFn
	var evicted *RemovedOccupant
	if e.cap.IsFull() {
		ranked, profiles, err := e.rankLocked(ctx, now)
		if err != nil {
			return nil, nil, err
		}
		if len(ranked) == 0 {
			return nil, nil, ErrFullAndUnremovable
		}
		top := ranked[0]
		victim := e.reg.Lookup(top.OccupantID)
		if victim == nil {
			return nil, nil, ErrFullAndUnremovable
		}
		if err := e.closeLocked(ctx, victim, profiles[top.OccupantID], now, now); err != nil {
			return nil, nil, err
		}
		evicted = &RemovedOccupant{
			OccupantID:  top.OccupantID,
			DisplayName: top.DisplayName,
			Score:       top.Score,
			EntryTime:   top.EntryTime,
			RemovedAt:   now,
		}
		emits = append(emits,
			e.occupancyEmitsLocked(now),
			e.unicastEmit(top.OccupantID, hub.TopicUserRemoved, evicted),
		)
		log.Printf("Evicted occupant %d (score %.3f) to admit occupant %d", top.OccupantID, top.Score, occ.ID)

		if e.cap.IsFull() {
			return nil, emits, ErrFullAndUnremovable
		}
	}

	freq, err := e.store.CountEntries(ctx, occ.ID, now.Add(-30*24*time.Hour), now)
	if err != nil {
		e.noteStoreLocked(err, now)
		return nil, emits, err
	}
	occ.FrequencyUsed = freq
	occ.UpdatedAt = now

	deadline := now.Add(e.space.SessionLength)
	ev := model.VisitEvent{OccupantID: occ.ID, Kind: model.EventEntry, OccurredAt: now, Deadline: &deadline}
	cfg, err := e.store.CommitEntry(ctx, &ev, &occ)
	if err != nil {
		e.noteStoreLocked(err, now)
		return nil, emits, err
	}
	e.noteStoreLocked(nil, now)
	e.cap = cfg
	e.entryTimes = append(e.entryTimes, now)

	s, err := e.reg.Open(occ.ID, now, deadline)
	if err != nil {
		return nil, emits, err
	}

	res := &ScanResult{
		Outcome: OutcomeAdmitted,
		Session: sessionInfo(s, occ.DisplayName, now),
		Evicted: evicted,
		Count:   e.cap.CurrentOccupancy,
		Max:     e.cap.MaxCapacity,
	}
	emits = append(emits,
		e.occupancyEmitsLocked(now),
		e.unicastEmit(occ.ID, hub.TopicUserAction, res),
	)
	return res, emits, nil
}

// rankLocked ranks the open sessions and returns the occupant profiles it
// joined against.
func (e *Engine) rankLocked(ctx context.Context, now time.Time) ([]ranker.Scored, map[int64]model.Occupant, error) {
	sessions := e.reg.List()
	if len(sessions) == 0 {
		return nil, nil, nil
	}
	ids := make([]int64, 0, len(sessions))
	for _, s := range sessions {
		ids = append(ids, s.OccupantID)
	}
	profiles, err := e.store.OccupantsByIDs(ctx, ids)
	if err != nil {
		e.noteStoreLocked(err, now)
		return nil, nil, err
	}

	cands := make([]ranker.Candidate, 0, len(sessions))
	for _, s := range sessions {
		p := profiles[s.OccupantID]
		cands = append(cands, ranker.Candidate{
			OccupantID:      s.OccupantID,
			DisplayName:     p.DisplayName,
			EntryTime:       s.EntryTime,
			Deadline:        s.Deadline,
			Seq:             s.Seq,
			Privileged:      p.Privileged,
			Age:             p.Age,
			LastVisit:       p.LastVisit,
			MonthlyVisits:   p.FrequencyUsed,
			Cooperativeness: p.CooperativenessScore,
		})
	}
	return ranker.Rank(cands, now, e.bound), profiles, nil
}

func (e *Engine) unicastEmit(occupantID int64, topic string, data interface{}) emitFn {
	return func() {
		e.hub.Unicast(occupantID, hub.Message{Topic: topic, Data: data})
	}
}

// SweepExpired closes every session whose deadline passed, oldest deadline
// first, synthesizing EXIT events at the deadline itself. Running it twice
// at the same instant is a no-op the second time.
func (e *Engine) SweepExpired(ctx context.Context) (int, error) {
	e.mu.Lock()
	removed, emits, err := e.sweepLocked(ctx)
	e.mu.Unlock()
	for _, fn := range emits {
		fn()
	}
	return removed, err
}

func (e *Engine) sweepLocked(ctx context.Context) (int, []emitFn, error) {
	now := e.clock.Now()
	if err := e.failFastLocked(now); err != nil {
		return 0, nil, err
	}

	expired := e.reg.ExpiredAsOf(now)
	if len(expired) == 0 {
		return 0, nil, nil
	}

	ids := make([]int64, 0, len(expired))
	for _, s := range expired {
		ids = append(ids, s.OccupantID)
	}
	profiles, err := e.store.OccupantsByIDs(ctx, ids)
	if err != nil {
		e.noteStoreLocked(err, now)
		return 0, nil, err
	}

	var emits []emitFn
	removed := 0
	for _, s := range expired {
		if e.reg.Lookup(s.OccupantID) != s {
			continue
		}
		closed := *s
		eventAt := s.Deadline
		if now.Before(eventAt) {
			eventAt = now
		}
		if err := e.closeLocked(ctx, s, profiles[s.OccupantID], eventAt, now); err != nil {
			return removed, emits, err
		}
		removed++
		emits = append(emits,
			e.occupancyEmitsLocked(now),
			e.unicastEmit(closed.OccupantID, hub.TopicSessionExpired, sessionInfo(&closed, profiles[closed.OccupantID].DisplayName, now)),
		)
	}
	log.Printf("Sweep closed %d expired sessions, occupancy %d/%d", removed, e.cap.CurrentOccupancy, e.cap.MaxCapacity)
	return removed, emits, nil
}

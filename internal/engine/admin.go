package engine

import (
	"context"
	"log"
	"time"

	"library-occupancy-backend/internal/forecast"
	"library-occupancy-backend/internal/hub"
	"library-occupancy-backend/internal/model"
	"library-occupancy-backend/internal/ranker"
)

// Adjustment modes for AdjustOccupancy.
const (
	AdjustIncrement = "+"
	AdjustDecrement = "-"
	AdjustSet       = "="
)

// SetMaxCapacity changes the cap. A cap below the current occupancy keeps
// everyone inside but refuses new entries; the counter is rebuilt from the
// log so the two cannot drift.
func (e *Engine) SetMaxCapacity(ctx context.Context, max int) (State, error) {
	if max < 1 || max > 10000 {
		return State{}, ErrOutOfRange
	}

	e.mu.Lock()
	now := e.clock.Now()
	cfg, err := e.store.SetMaxCapacity(ctx, max, now)
	if err != nil {
		e.noteStoreLocked(err, now)
		e.mu.Unlock()
		return State{}, err
	}
	e.cap = cfg
	if cfg.CurrentOccupancy > max {
		if cfg, err = e.store.RebuildCounter(ctx, now); err != nil {
			e.noteStoreLocked(err, now)
			e.mu.Unlock()
			return State{}, err
		}
		e.cap = cfg
	}
	e.noteStoreLocked(nil, now)
	st := e.stateLocked()
	emit := e.occupancyEmitsLocked(now)
	e.mu.Unlock()

	log.Printf("Max capacity set to %d (occupancy %d)", max, st.Count)
	emit()
	return st, nil
}

// AdjustOccupancy applies an operator correction to the counter. The event
// log is untouched, so the next rebuild restores the derived value.
func (e *Engine) AdjustOccupancy(ctx context.Context, mode string, amount int) (State, error) {
	if amount < 0 {
		return State{}, ErrOutOfRange
	}

	e.mu.Lock()
	now := e.clock.Now()
	target := e.cap.CurrentOccupancy
	switch mode {
	case AdjustIncrement:
		target += amount
	case AdjustDecrement:
		target -= amount
	case AdjustSet:
		target = amount
	default:
		e.mu.Unlock()
		return State{}, ErrOutOfRange
	}
	if target < 0 || target > e.cap.MaxCapacity {
		e.mu.Unlock()
		return State{}, ErrOutOfRange
	}

	cfg, err := e.store.SetOccupancy(ctx, target, now)
	if err != nil {
		e.noteStoreLocked(err, now)
		e.mu.Unlock()
		return State{}, err
	}
	e.noteStoreLocked(nil, now)
	e.cap = cfg
	st := e.stateLocked()
	emit := e.occupancyEmitsLocked(now)
	e.mu.Unlock()

	log.Printf("Occupancy adjusted (%s%d) to %d", mode, amount, st.Count)
	emit()
	return st, nil
}

// StatusChange is the operator input for SetStatus.
type StatusChange struct {
	Status              model.StatusKind
	Message             string
	AutoOpen            string
	AutoClose           string
	AutoScheduleEnabled bool
	UpdatedBy           string
}

// SetStatus appends a status record and broadcasts the change. CLOSED and
// MAINTENANCE block new entries only; occupants can always scan out.
func (e *Engine) SetStatus(ctx context.Context, ch StatusChange) (model.SpaceStatus, error) {
	if !model.ValidStatus(ch.Status) {
		return model.SpaceStatus{}, ErrInvalidStatus
	}
	for _, v := range []string{ch.AutoOpen, ch.AutoClose} {
		if v == "" {
			continue
		}
		if _, err := time.Parse("15:04", v); err != nil {
			return model.SpaceStatus{}, ErrInvalidTimeFormat
		}
	}

	e.mu.Lock()
	now := e.clock.Now()
	st := model.SpaceStatus{
		Status:              ch.Status,
		Message:             ch.Message,
		AutoOpen:            ch.AutoOpen,
		AutoClose:           ch.AutoClose,
		AutoScheduleEnabled: ch.AutoScheduleEnabled,
		UpdatedBy:           ch.UpdatedBy,
		CreatedAt:           now,
	}
	if err := e.store.AppendStatus(ctx, &st); err != nil {
		e.noteStoreLocked(err, now)
		e.mu.Unlock()
		return model.SpaceStatus{}, err
	}
	e.noteStoreLocked(nil, now)
	e.status = st
	e.mu.Unlock()

	log.Printf("Status set to %s by %s", st.Status, st.UpdatedBy)
	e.hub.Broadcast(hub.Message{Topic: hub.TopicStatusUpdate, Data: st})
	return st, nil
}

// ListScored returns the open sessions in removal order with their factor
// breakdown.
func (e *Engine) ListScored(ctx context.Context) ([]ranker.Scored, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ranked, _, err := e.rankLocked(ctx, e.clock.Now())
	return ranked, err
}

// ForceRemoveTop evicts the n highest-ranked sessions, capped at the
// number of open sessions.
func (e *Engine) ForceRemoveTop(ctx context.Context, n int) ([]RemovedOccupant, error) {
	if n < 1 {
		return nil, ErrOutOfRange
	}

	e.mu.Lock()
	removed, emits, err := e.forceRemoveLocked(ctx, n)
	e.mu.Unlock()
	for _, fn := range emits {
		fn()
	}
	return removed, err
}

func (e *Engine) forceRemoveLocked(ctx context.Context, n int) ([]RemovedOccupant, []emitFn, error) {
	now := e.clock.Now()
	if err := e.failFastLocked(now); err != nil {
		return nil, nil, err
	}
	ranked, profiles, err := e.rankLocked(ctx, now)
	if err != nil {
		return nil, nil, err
	}
	if n > len(ranked) {
		n = len(ranked)
	}

	var removed []RemovedOccupant
	var emits []emitFn
	for _, top := range ranked[:n] {
		victim := e.reg.Lookup(top.OccupantID)
		if victim == nil {
			continue
		}
		if err := e.closeLocked(ctx, victim, profiles[top.OccupantID], now, now); err != nil {
			return removed, emits, err
		}
		r := RemovedOccupant{
			OccupantID:  top.OccupantID,
			DisplayName: top.DisplayName,
			Score:       top.Score,
			EntryTime:   top.EntryTime,
			RemovedAt:   now,
		}
		removed = append(removed, r)
		emits = append(emits,
			e.occupancyEmitsLocked(now),
			e.unicastEmit(top.OccupantID, hub.TopicUserRemoved, r),
		)
	}
	log.Printf("Force-removed %d occupants, occupancy %d/%d", len(removed), e.cap.CurrentOccupancy, e.cap.MaxCapacity)
	return removed, emits, nil
}

// SessionFor returns the open session of one occupant.
func (e *Engine) SessionFor(ctx context.Context, occupantID int64) (SessionInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.reg.Lookup(occupantID)
	if s == nil {
		return SessionInfo{}, ErrNoSession
	}
	profiles, err := e.store.OccupantsByIDs(ctx, []int64{occupantID})
	if err != nil {
		return SessionInfo{}, err
	}
	return sessionInfo(s, profiles[occupantID].DisplayName, e.clock.Now()), nil
}

// ForecastResult is the payload of a forecast query.
type ForecastResult struct {
	Current     int              `json:"current"`
	NetRate     float64          `json:"net_rate"`
	Forecasts   []forecast.Point `json:"forecasts"`
	CrowdStatus string           `json:"crowd_status"`
	ModelState  forecast.State   `json:"model_state"`
}

// Forecast returns k minutes of predicted occupancy, k clamped to [10, 60].
// The forecaster is queried after the space lock is released.
func (e *Engine) Forecast(k int) ForecastResult {
	if k < 10 {
		k = 10
	}
	if k > 60 {
		k = 60
	}

	e.mu.Lock()
	now := e.clock.Now()
	st := e.stateLocked()
	entryRate, exitRate := e.ratesLocked(now)
	e.mu.Unlock()

	points := e.model.Forecast(now, k, float64(st.Max))
	return ForecastResult{
		Current:     st.Count,
		NetRate:     entryRate - exitRate,
		Forecasts:   points,
		CrowdStatus: crowdStatus(st.Percent),
		ModelState:  e.model.State(),
	}
}

func crowdStatus(percent float64) string {
	switch {
	case percent >= 1:
		return "FULL"
	case percent >= 0.9:
		return "HIGH"
	case percent >= 0.5:
		return "MODERATE"
	default:
		return "LOW"
	}
}

// HistoryPoint is one row of an ingested history batch.
type HistoryPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Occupancy float64   `json:"occupancy"`
	EntryRate float64   `json:"entry_rate"`
	ExitRate  float64   `json:"exit_rate"`
}

// IngestHistory cold-starts the forecaster from an external history batch
// and returns the number of observations loaded.
func (e *Engine) IngestHistory(points []HistoryPoint) int {
	e.mu.Lock()
	capacity := float64(e.cap.MaxCapacity)
	e.mu.Unlock()

	batch := make([]forecast.Observation, 0, len(points))
	for _, p := range points {
		batch = append(batch, forecast.Observation{
			At:        p.Timestamp,
			Occupancy: p.Occupancy,
			EntryRate: p.EntryRate,
			ExitRate:  p.ExitRate,
			Capacity:  capacity,
		})
	}
	e.model.Warmup(batch)
	log.Printf("Ingested %d history observations", len(batch))
	return len(batch)
}

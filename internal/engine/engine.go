// Package engine is the single-writer facade over the occupancy state: the
// admission path, the operator surface and the boot sequence. Every
// state-mutating operation runs under one space-wide mutex; notifications
// and forecaster updates happen strictly after the lock is released.
package engine

import (
	"context"
	"log"
	"sync"
	"time"

	"library-occupancy-backend/config"
	"library-occupancy-backend/internal/clock"
	"library-occupancy-backend/internal/forecast"
	"library-occupancy-backend/internal/hub"
	"library-occupancy-backend/internal/model"
	"library-occupancy-backend/internal/ranker"
	"library-occupancy-backend/internal/session"
	"library-occupancy-backend/internal/store"
)

// emitFn is deferred work (hub sends, forecaster observations) collected
// inside the critical section and run after the space lock is released.
type emitFn func()

// Engine owns the space lock and all in-memory occupancy state.
type Engine struct {
	mu    sync.Mutex
	space config.SpaceConfig
	bound ranker.Bounds

	store store.Store
	clock clock.Clock
	reg   *session.Registry
	hub   *hub.Hub
	model *forecast.Model

	cap    model.CapacityConfig
	status model.SpaceStatus

	// Event timestamps within the rate window, for the forecaster's
	// entry/exit rates.
	entryTimes []time.Time
	exitTimes  []time.Time

	// Persistence breaker: zero while the store is healthy.
	downSince time.Time
}

// New wires the engine. The hub and forecaster may not be nil.
func New(cfg *config.Config, st store.Store, clk clock.Clock, h *hub.Hub, m *forecast.Model) *Engine {
	return &Engine{
		space: cfg.Space,
		bound: ranker.Bounds{
			TimeInsideCapMinutes: cfg.Ranker.TimeInsideCapMinutes,
			RemainingCapMinutes:  cfg.Ranker.RemainingCapMinutes,
			AgeCap:               cfg.Ranker.AgeCap,
		},
		store: st,
		clock: clk,
		reg:   session.NewRegistry(),
		hub:   h,
		model: m,
	}
}

// Bootstrap brings the engine to a consistent state from the persisted log:
// ensure the capacity row, rebuild the counter, load the current status,
// reopen sessions whose last event is an ENTRY, and warm the forecaster
// from the last 24 hours of events.
func (e *Engine) Bootstrap(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	if _, err := e.store.EnsureCapacityRow(ctx, e.space.MaxCapacity, now); err != nil {
		return err
	}
	cap, err := e.store.RebuildCounter(ctx, now)
	if err != nil {
		return err
	}
	e.cap = cap

	status, err := e.store.LatestStatus(ctx)
	if err != nil {
		return err
	}
	e.status = status

	open, err := e.store.OpenEntries(ctx)
	if err != nil {
		return err
	}
	for _, ev := range open {
		deadline := ev.OccurredAt.Add(e.space.SessionLength)
		if ev.Deadline != nil {
			deadline = *ev.Deadline
		}
		if _, err := e.reg.Open(ev.OccupantID, ev.OccurredAt, deadline); err != nil {
			log.Printf("Skipping duplicate open entry for occupant %d: %v", ev.OccupantID, err)
		}
	}
	log.Printf("Bootstrap: occupancy %d/%d, %d open sessions, status %s",
		e.cap.CurrentOccupancy, e.cap.MaxCapacity, e.reg.Len(), e.status.Status)

	events, err := e.store.EventsSince(ctx, now.Add(-24*time.Hour))
	if err != nil {
		return err
	}
	batch := replayObservations(events, e.cap.CurrentOccupancy, float64(e.cap.MaxCapacity))
	if len(batch) > 0 {
		// The forecaster is never touched under the space lock.
		e.mu.Unlock()
		e.model.Warmup(batch)
		e.mu.Lock()
		log.Printf("Bootstrap: forecaster warmed from %d observations", len(batch))
	}
	return nil
}

// replayObservations folds a window of visit events into per-minute
// occupancy observations ending at endCount.
func replayObservations(events []model.VisitEvent, endCount int, capacity float64) []forecast.Observation {
	if len(events) == 0 {
		return nil
	}
	net := 0
	for _, ev := range events {
		if ev.Kind == model.EventEntry {
			net++
		} else {
			net--
		}
	}
	count := endCount - net
	if count < 0 {
		count = 0
	}

	var batch []forecast.Observation
	var cur *forecast.Observation
	for _, ev := range events {
		bucket := ev.OccurredAt.Truncate(time.Minute)
		if cur == nil || bucket.After(cur.At) {
			if cur != nil {
				batch = append(batch, *cur)
			}
			cur = &forecast.Observation{At: bucket, Capacity: capacity}
		}
		switch ev.Kind {
		case model.EventEntry:
			count++
			cur.EntryRate++
		case model.EventExit:
			if count > 0 {
				count--
			}
			cur.ExitRate++
		}
		cur.Occupancy = float64(count)
	}
	batch = append(batch, *cur)
	return batch
}

// State is a consistent snapshot of the space.
type State struct {
	Count         int              `json:"count"`
	Max           int              `json:"max"`
	Percent       float64          `json:"percent"`
	IsFull        bool             `json:"is_full"`
	IsNear        bool             `json:"is_near"`
	Status        model.StatusKind `json:"status"`
	StatusMessage string           `json:"status_message,omitempty"`
	LastUpdate    time.Time        `json:"last_update"`
}

// GetState returns the cached capacity and status snapshot.
func (e *Engine) GetState() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stateLocked()
}

func (e *Engine) stateLocked() State {
	return State{
		Count:         e.cap.CurrentOccupancy,
		Max:           e.cap.MaxCapacity,
		Percent:       e.cap.Percent(),
		IsFull:        e.cap.IsFull(),
		IsNear:        e.cap.IsNear(),
		Status:        e.status.Status,
		StatusMessage: e.status.Message,
		LastUpdate:    e.cap.UpdatedAt,
	}
}

// Status returns the current status row.
func (e *Engine) Status() model.SpaceStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Healthy reports the persistence breaker state: ok and, when not ok, how
// long the store has been failing.
func (e *Engine) Healthy() (bool, time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.downSince.IsZero() {
		return true, 0
	}
	return false, e.clock.Now().Sub(e.downSince)
}

// failFastLocked rejects work while the breaker is open.
func (e *Engine) failFastLocked(now time.Time) error {
	if !e.downSince.IsZero() && now.Sub(e.downSince) >= e.space.PersistenceDownAfter {
		return ErrPersistenceUnavailable
	}
	return nil
}

// noteStoreLocked tracks store health for the breaker: a failure arms it,
// a successful write clears it. Reads never clear it, so a store that
// serves queries but cannot commit still trips the breaker.
func (e *Engine) noteStoreLocked(err error, now time.Time) {
	if err != nil {
		if e.downSince.IsZero() {
			e.downSince = now
		}
		return
	}
	e.downSince = time.Time{}
}

// ratesLocked prunes and counts recent entries/exits, yielding per-minute
// rates for the forecaster.
func (e *Engine) ratesLocked(now time.Time) (entryRate, exitRate float64) {
	window := time.Duration(e.space.RateWindowMinutes) * time.Minute
	cutoff := now.Add(-window)
	e.entryTimes = pruneTimes(e.entryTimes, cutoff)
	e.exitTimes = pruneTimes(e.exitTimes, cutoff)
	minutes := float64(e.space.RateWindowMinutes)
	return float64(len(e.entryTimes)) / minutes, float64(len(e.exitTimes)) / minutes
}

func pruneTimes(ts []time.Time, cutoff time.Time) []time.Time {
	kept := ts[:0]
	for _, t := range ts {
		if !t.Before(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}

// occupancyEmitsLocked builds the deferred broadcast and forecaster
// observation for a committed counter change.
func (e *Engine) occupancyEmitsLocked(now time.Time) emitFn {
	st := e.stateLocked()
	entryRate, exitRate := e.ratesLocked(now)
	update := hub.OccupancyUpdate{
		Count:      st.Count,
		Max:        st.Max,
		Percent:    st.Percent,
		IsFull:     st.IsFull,
		IsNear:     st.IsNear,
		LastUpdate: st.LastUpdate.UTC().Format(time.RFC3339),
	}
	obs := forecast.Observation{
		At:        now,
		Occupancy: float64(st.Count),
		EntryRate: entryRate,
		ExitRate:  exitRate,
		Capacity:  float64(st.Max),
	}
	return func() {
		e.hub.PublishOccupancy(update)
		e.model.Observe(obs)
	}
}

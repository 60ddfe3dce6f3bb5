// Package schedule flips the space status at the configured auto-open and
// auto-close times on weekdays.
package schedule

import (
	"context"
	"log"

	"github.com/robfig/cron/v3"

	"library-occupancy-backend/internal/clock"
	"library-occupancy-backend/internal/engine"
	"library-occupancy-backend/internal/model"
)

// Engine is the slice of the occupancy engine the scheduler drives.
type Engine interface {
	Status() model.SpaceStatus
	SetStatus(ctx context.Context, ch engine.StatusChange) (model.SpaceStatus, error)
}

// Scheduler evaluates the auto-schedule once a minute.
type Scheduler struct {
	engine Engine
	clock  clock.Clock
	cron   *cron.Cron
}

// New creates a scheduler; Start registers the minutely cron entry.
func New(engine Engine, clk clock.Clock) *Scheduler {
	return &Scheduler{engine: engine, clock: clk, cron: cron.New()}
}

// Start begins ticking in the background.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc("* * * * *", func() {
		s.Tick(context.Background())
	}); err != nil {
		return err
	}
	s.cron.Start()
	log.Println("Status scheduler started.")
	return nil
}

// Stop halts the cron runner and waits for an in-flight tick to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	log.Println("Status scheduler stopped.")
}

// Tick applies the auto-schedule for the current minute. The schedule only
// acts on weekdays and only when enabled on the current status row.
func (s *Scheduler) Tick(ctx context.Context) {
	st := s.engine.Status()
	if !st.AutoScheduleEnabled {
		return
	}
	now := s.clock.Now()
	if wd := now.Weekday(); wd == 0 || wd == 6 {
		return
	}

	var next model.StatusKind
	switch now.Format("15:04") {
	case st.AutoOpen:
		if st.Status == model.StatusOpen {
			return
		}
		next = model.StatusOpen
	case st.AutoClose:
		if st.Status != model.StatusOpen {
			return
		}
		next = model.StatusClosed
	default:
		return
	}

	_, err := s.engine.SetStatus(ctx, engine.StatusChange{
		Status:              next,
		Message:             "scheduled status change",
		AutoOpen:            st.AutoOpen,
		AutoClose:           st.AutoClose,
		AutoScheduleEnabled: true,
		UpdatedBy:           "scheduler",
	})
	if err != nil {
		log.Printf("Scheduled status change to %s failed: %v", next, err)
		return
	}
	log.Printf("Scheduled status change: %s at %s", next, now.Format("15:04"))
}

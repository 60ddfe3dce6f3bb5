// Package sweeper runs the periodic auto-exit pass over expired sessions.
package sweeper

import (
	"context"
	"log"
	"time"
)

// Engine is the slice of the occupancy engine the sweeper drives.
type Engine interface {
	SweepExpired(ctx context.Context) (int, error)
}

// Sweeper periodically closes sessions whose deadline has passed.
type Sweeper struct {
	engine   Engine
	interval time.Duration
}

// New creates a sweeper with the given tick interval.
func New(engine Engine, interval time.Duration) *Sweeper {
	return &Sweeper{engine: engine, interval: interval}
}

// Run ticks until the context is cancelled. An in-flight sweep completes
// before shutdown returns.
func (s *Sweeper) Run(ctx context.Context) {
	log.Printf("Starting sweeper, interval %s", s.interval)

	timer := time.NewTimer(s.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Sweeper shutting down.")
			return
		case <-timer.C:
			s.SweepOnce(ctx)
			timer.Reset(s.interval)
		}
	}
}

// SweepOnce performs a single sweep pass.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	n, err := s.engine.SweepExpired(ctx)
	if err != nil {
		log.Printf("Sweep failed: %v", err)
		return
	}
	if n > 0 {
		log.Printf("Sweep closed %d expired sessions", n)
	}
}

package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"library-occupancy-backend/internal/model"
)

// Store defines the persistence operations the occupancy engine needs.
//
// CommitEntry and CommitExit are the only paths that move the occupancy
// counter together with the event log; each runs the event append, the
// counter change and the occupant profile update in one transaction so a
// failed append changes neither the counter nor the profile. Outside of
// them, RebuildCounter recomputes the counter from the log and SetOccupancy
// writes an operator-supplied value.
type Store interface {
	DB() *gorm.DB

	CommitEntry(ctx context.Context, ev *model.VisitEvent, occ *model.Occupant) (model.CapacityConfig, error)
	CommitExit(ctx context.Context, ev *model.VisitEvent, occ *model.Occupant) (model.CapacityConfig, error)
	Snapshot(ctx context.Context) (model.CapacityConfig, error)
	RebuildCounter(ctx context.Context, at time.Time) (model.CapacityConfig, error)
	EnsureCapacityRow(ctx context.Context, defaultMax int, at time.Time) (model.CapacityConfig, error)
	SetMaxCapacity(ctx context.Context, max int, at time.Time) (model.CapacityConfig, error)
	SetOccupancy(ctx context.Context, count int, at time.Time) (model.CapacityConfig, error)

	OccupantByToken(ctx context.Context, token string) (*model.Occupant, error)
	OccupantsByIDs(ctx context.Context, ids []int64) (map[int64]model.Occupant, error)
	EnsureOccupant(ctx context.Context, occ *model.Occupant) error
	CountEntries(ctx context.Context, occupantID int64, from, to time.Time) (int, error)

	OpenEntries(ctx context.Context) ([]model.VisitEvent, error)
	EventsSince(ctx context.Context, since time.Time) ([]model.VisitEvent, error)

	AppendStatus(ctx context.Context, st *model.SpaceStatus) error
	LatestStatus(ctx context.Context) (model.SpaceStatus, error)

	UpsertSubscription(ctx context.Context, sub *model.PushSubscription) error
	DeleteSubscription(ctx context.Context, endpoint string) error
	SubscriptionsForOccupant(ctx context.Context, occupantID int64) ([]model.PushSubscription, error)
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) DB() *gorm.DB {
	return s.db
}

// CommitEntry appends an ENTRY event, increments the counter and saves the
// occupant profile, all in one transaction.
func (s *gormStore) CommitEntry(ctx context.Context, ev *model.VisitEvent, occ *model.Occupant) (model.CapacityConfig, error) {
	return s.commitEvent(ctx, ev, occ)
}

// CommitExit appends an EXIT event, decrements the counter (clamped at
// zero) and saves the occupant profile, all in one transaction.
func (s *gormStore) CommitExit(ctx context.Context, ev *model.VisitEvent, occ *model.Occupant) (model.CapacityConfig, error) {
	return s.commitEvent(ctx, ev, occ)
}

func (s *gormStore) commitEvent(ctx context.Context, ev *model.VisitEvent, occ *model.Occupant) (model.CapacityConfig, error) {
	var cfg model.CapacityConfig
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(ev).Error; err != nil {
			return fmt.Errorf("failed to append %s event for occupant %d: %w", ev.Kind, ev.OccupantID, err)
		}
		if err := tx.First(&cfg, model.CapacityConfigID).Error; err != nil {
			return fmt.Errorf("failed to load capacity row: %w", err)
		}
		switch ev.Kind {
		case model.EventEntry:
			cfg.CurrentOccupancy++
		case model.EventExit:
			if cfg.CurrentOccupancy > 0 {
				cfg.CurrentOccupancy--
			}
		default:
			return fmt.Errorf("unknown event kind %q", ev.Kind)
		}
		cfg.UpdatedAt = ev.OccurredAt
		if err := tx.Save(&cfg).Error; err != nil {
			return fmt.Errorf("failed to update capacity row: %w", err)
		}
		if occ != nil {
			if err := tx.Save(occ).Error; err != nil {
				return fmt.Errorf("failed to save occupant %d: %w", occ.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return model.CapacityConfig{}, err
	}
	return cfg, nil
}

// Snapshot returns the current capacity row.
func (s *gormStore) Snapshot(ctx context.Context) (model.CapacityConfig, error) {
	var cfg model.CapacityConfig
	if err := s.db.WithContext(ctx).First(&cfg, model.CapacityConfigID).Error; err != nil {
		return model.CapacityConfig{}, fmt.Errorf("failed to load capacity row: %w", err)
	}
	return cfg, nil
}

// RebuildCounter recomputes the counter as ENTRY count minus EXIT count
// over the full log, clamped at zero, and writes it back. Used at boot and
// after capacity reductions.
func (s *gormStore) RebuildCounter(ctx context.Context, at time.Time) (model.CapacityConfig, error) {
	var cfg model.CapacityConfig
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var entries, exits int64
		if err := tx.Model(&model.VisitEvent{}).Where("kind = ?", model.EventEntry).Count(&entries).Error; err != nil {
			return fmt.Errorf("failed to count entries: %w", err)
		}
		if err := tx.Model(&model.VisitEvent{}).Where("kind = ?", model.EventExit).Count(&exits).Error; err != nil {
			return fmt.Errorf("failed to count exits: %w", err)
		}
		count := int(entries - exits)
		if count < 0 {
			count = 0
		}
		if err := tx.First(&cfg, model.CapacityConfigID).Error; err != nil {
			return fmt.Errorf("failed to load capacity row: %w", err)
		}
		cfg.CurrentOccupancy = count
		cfg.UpdatedAt = at
		return tx.Save(&cfg).Error
	})
	if err != nil {
		return model.CapacityConfig{}, err
	}
	return cfg, nil
}

// EnsureCapacityRow creates the singleton capacity row if it does not
// exist yet and returns it.
func (s *gormStore) EnsureCapacityRow(ctx context.Context, defaultMax int, at time.Time) (model.CapacityConfig, error) {
	cfg := model.CapacityConfig{ID: model.CapacityConfigID, MaxCapacity: defaultMax, UpdatedAt: at}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&cfg).Error
	if err != nil {
		return model.CapacityConfig{}, fmt.Errorf("failed to ensure capacity row: %w", err)
	}
	return s.Snapshot(ctx)
}

// SetMaxCapacity updates the cap without touching the counter. A cap below
// the current occupancy is allowed; admission refuses new entries until
// exits bring the counter down.
func (s *gormStore) SetMaxCapacity(ctx context.Context, max int, at time.Time) (model.CapacityConfig, error) {
	var cfg model.CapacityConfig
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&cfg, model.CapacityConfigID).Error; err != nil {
			return err
		}
		cfg.MaxCapacity = max
		cfg.UpdatedAt = at
		return tx.Save(&cfg).Error
	})
	if err != nil {
		return model.CapacityConfig{}, fmt.Errorf("failed to set max capacity: %w", err)
	}
	return cfg, nil
}

// SetOccupancy writes an operator-supplied counter value. The event log is
// not touched; the next RebuildCounter restores the derived value.
func (s *gormStore) SetOccupancy(ctx context.Context, count int, at time.Time) (model.CapacityConfig, error) {
	var cfg model.CapacityConfig
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&cfg, model.CapacityConfigID).Error; err != nil {
			return err
		}
		cfg.CurrentOccupancy = count
		cfg.UpdatedAt = at
		return tx.Save(&cfg).Error
	})
	if err != nil {
		return model.CapacityConfig{}, fmt.Errorf("failed to set occupancy: %w", err)
	}
	return cfg, nil
}

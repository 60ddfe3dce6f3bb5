package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm/clause"

	"library-occupancy-backend/internal/model"
)

// OccupantByToken resolves a scan token to an occupant. Returns
// gorm.ErrRecordNotFound (wrapped) for unknown tokens.
func (s *gormStore) OccupantByToken(ctx context.Context, token string) (*model.Occupant, error) {
	var occ model.Occupant
	if err := s.db.WithContext(ctx).First(&occ, "token = ?", token).Error; err != nil {
		return nil, fmt.Errorf("failed to resolve token: %w", err)
	}
	return &occ, nil
}

// OccupantsByIDs loads a batch of occupant profiles keyed by ID.
func (s *gormStore) OccupantsByIDs(ctx context.Context, ids []int64) (map[int64]model.Occupant, error) {
	result := make(map[int64]model.Occupant, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	var occupants []model.Occupant
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&occupants).Error; err != nil {
		return nil, fmt.Errorf("failed to load occupants: %w", err)
	}
	for _, o := range occupants {
		result[o.ID] = o
	}
	return result, nil
}

// EnsureOccupant creates the occupant if the token is new; an existing row
// keeps its learned profile (cooperativeness, frequency, last visit).
func (s *gormStore) EnsureOccupant(ctx context.Context, occ *model.Occupant) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "token"}},
		DoUpdates: clause.AssignmentColumns([]string{"display_name", "privileged", "age", "demographic", "updated_at"}),
	}).Create(occ).Error
	if err != nil {
		return fmt.Errorf("failed to ensure occupant %q: %w", occ.DisplayName, err)
	}
	return nil
}

// CountEntries counts ENTRY events for one occupant in [from, to).
func (s *gormStore) CountEntries(ctx context.Context, occupantID int64, from, to time.Time) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&model.VisitEvent{}).
		Where("occupant_id = ? AND kind = ? AND occurred_at >= ? AND occurred_at < ?",
			occupantID, model.EventEntry, from, to).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count entries for occupant %d: %w", occupantID, err)
	}
	return int(n), nil
}

// OpenEntries returns, for every occupant whose latest event is an ENTRY,
// that ENTRY event. These are the sessions to rebuild at boot.
func (s *gormStore) OpenEntries(ctx context.Context) ([]model.VisitEvent, error) {
	latest := s.db.Model(&model.VisitEvent{}).Select("MAX(id)").Group("occupant_id")

	var events []model.VisitEvent
	err := s.db.WithContext(ctx).
		Where("id IN (?)", latest).
		Where("kind = ?", model.EventEntry).
		Order("occurred_at, id").
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load open entries: %w", err)
	}
	return events, nil
}

// EventsSince returns all visit events at or after since, in log order.
func (s *gormStore) EventsSince(ctx context.Context, since time.Time) ([]model.VisitEvent, error) {
	var events []model.VisitEvent
	err := s.db.WithContext(ctx).
		Where("occurred_at >= ?", since).
		Order("occurred_at, id").
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load events since %s: %w", since, err)
	}
	return events, nil
}

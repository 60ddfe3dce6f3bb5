package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"library-occupancy-backend/internal/model"
)

// AppendStatus appends a row to the status history.
func (s *gormStore) AppendStatus(ctx context.Context, st *model.SpaceStatus) error {
	if err := s.db.WithContext(ctx).Create(st).Error; err != nil {
		return fmt.Errorf("failed to append status record: %w", err)
	}
	return nil
}

// LatestStatus returns the newest status row. An empty history reads as
// OPEN so a fresh deployment admits scans.
func (s *gormStore) LatestStatus(ctx context.Context) (model.SpaceStatus, error) {
	var st model.SpaceStatus
	err := s.db.WithContext(ctx).Order("id DESC").First(&st).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.SpaceStatus{Status: model.StatusOpen}, nil
	}
	if err != nil {
		return model.SpaceStatus{}, fmt.Errorf("failed to load latest status: %w", err)
	}
	return st, nil
}

// UpsertSubscription creates or refreshes a push subscription.
func (s *gormStore) UpsertSubscription(ctx context.Context, sub *model.PushSubscription) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "endpoint"}},
		DoUpdates: clause.AssignmentColumns([]string{"p256dh", "auth", "occupant_id"}),
	}).Create(sub).Error
	if err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}
	return nil
}

// DeleteSubscription removes a push subscription by endpoint.
func (s *gormStore) DeleteSubscription(ctx context.Context, endpoint string) error {
	if err := s.db.WithContext(ctx).Delete(&model.PushSubscription{Endpoint: endpoint}).Error; err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	return nil
}

// SubscriptionsForOccupant lists the push subscriptions of one occupant.
func (s *gormStore) SubscriptionsForOccupant(ctx context.Context, occupantID int64) ([]model.PushSubscription, error) {
	var subs []model.PushSubscription
	err := s.db.WithContext(ctx).Where("occupant_id = ?", occupantID).Find(&subs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load subscriptions for occupant %d: %w", occupantID, err)
	}
	return subs, nil
}

package services

import (
	"context"
	"fmt"
	"log"

	"advisorcrm/internal/database"
	"advisorcrm/internal/events"
	"advisorcrm/internal/models"
)

// ActivityService writes the audit trail and publishes collection changes to
// live subscribers.
type ActivityService struct {
	db  *database.DB
	bus events.Publisher
}

func NewActivityService(db *database.DB, bus events.Publisher) *ActivityService {
	return &ActivityService{db: db, bus: bus}
}

// Record stores an activity entry. Failures are logged, never returned: the
// change it describes has already been committed.
func (s *ActivityService) Record(ctx context.Context, userID, action, entityType, entityID, details string) {
	activity := &models.Activity{
		UserID:     userID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Details:    details,
	}
	if err := s.db.WithContext(ctx).Create(activity).Error; err != nil {
		log.Printf("[ACTIVITY] failed to record %s on %s %s: %v", action, entityType, entityID, err)
		return
	}
	s.Publish(ctx, events.CollectionActivities, events.Added, activity.ID, userID, activity)
}

// Publish sends a change event for a committed write.
func (s *ActivityService) Publish(ctx context.Context, collection string, change events.ChangeType, id, userID string, doc any) {
	if s.bus == nil {
		return
	}
	ev := events.NewEvent(collection, change, id, userID, doc)
	if err := s.bus.Publish(ctx, ev); err != nil {
		log.Printf("[EVENTS] failed to publish %s %s: %v", collection, change, err)
	}
}

// List returns the most recent activities for an advisor
func (s *ActivityService) List(ctx context.Context, userID string, limit int) ([]models.Activity, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var activities []models.Activity
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&activities).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch activities: %w", err)
	}
	return activities, nil
}

// Count returns how many activities an advisor has
func (s *ActivityService) Count(ctx context.Context, userID string) (int64, error) {
	var total int64
	if err := s.db.WithContext(ctx).Model(&models.Activity{}).Where("user_id = ?", userID).Count(&total).Error; err != nil {
		return 0, fmt.Errorf("failed to count activities: %w", err)
	}
	return total, nil
}

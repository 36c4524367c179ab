package repository

import (
	"context"
	"fmt"
	"time"

	"competency-service/internal/models"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// EventRepository is insert-only: performance events are immutable facts.
type EventRepository struct {
	collection *mongo.Collection
}

func NewEventRepository(db *mongo.Database) *EventRepository {
	return &EventRepository{
		collection: db.Collection("performance_events"),
	}
}

func (r *EventRepository) SavePerformanceEvent(ctx context.Context, event *models.PerformanceEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	_, err := r.collection.InsertOne(ctx, event)
	if err != nil {
		return fmt.Errorf("failed to save performance event for %s/%s: %w", event.UserID, event.SkillID, err)
	}
	return nil
}

// ListBySkill returns the event history for one (user, skill) pair in
// timestamp order.
func (r *EventRepository) ListBySkill(ctx context.Context, userID, skillID string, limit int64) ([]*models.PerformanceEvent, error) {
	filter := bson.M{"user_id": userID, "skill_id": skillID}
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}})
	if limit > 0 {
		opts = opts.SetLimit(limit)
	}

	cur, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list performance events for %s/%s: %w", userID, skillID, err)
	}
	defer cur.Close(ctx)

	var events []*models.PerformanceEvent
	for cur.Next(ctx) {
		var event models.PerformanceEvent
		if err := cur.Decode(&event); err != nil {
			return nil, fmt.Errorf("failed to decode performance event: %w", err)
		}
		events = append(events, &event)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("cursor error listing performance events: %w", err)
	}
	return events, nil
}

package repository

import (
	"context"
	"fmt"

	"competency-service/internal/models"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// ActivityRepository serves the candidate-activity catalog.
type ActivityRepository struct {
	collection *mongo.Collection
}

func NewActivityRepository(db *mongo.Database) *ActivityRepository {
	return &ActivityRepository{
		collection: db.Collection("activities"),
	}
}

func (r *ActivityRepository) GetActivities(ctx context.Context, filter models.ActivityFilter) ([]models.Activity, error) {
	query := bson.M{}
	if filter.ActiveOnly {
		query["is_active"] = true
	}
	if len(filter.SkillIDs) > 0 {
		query["target_skill_ids"] = bson.M{"$in": filter.SkillIDs}
	}
	if filter.Category != "" {
		query["category"] = filter.Category
	}
	if filter.MaxMinutes > 0 {
		query["estimated_minutes"] = bson.M{"$lte": filter.MaxMinutes}
	}

	cur, err := r.collection.Find(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity catalog: %w", err)
	}
	defer cur.Close(ctx)

	var activities []models.Activity
	for cur.Next(ctx) {
		var activity models.Activity
		if err := cur.Decode(&activity); err != nil {
			return nil, fmt.Errorf("failed to decode activity: %w", err)
		}
		activities = append(activities, activity)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("cursor error querying activity catalog: %w", err)
	}
	return activities, nil
}
